package xlog

// Region is one raw log-operation payload attached to an item. The first
// region of an item is its format region: its first four bytes (encoded
// big-endian, like every other on-disk field here) give the total number
// of regions the item will eventually carry, mirroring how a real format
// struct's leading size field lets the recovering side know how many
// more xlog_add_to_trans calls to expect before the item is complete.
type Region struct {
	Data []byte
}

// Item is one log item's worth of regions, reassembled in arrival order.
type Item struct {
	Regions []Region
	total   uint32 // 0 until the format region has arrived
}

func (it *Item) complete() bool {
	return it.total != 0 && uint32(len(it.Regions)) == it.total
}

// addRegion appends data as a new region of it, treating data's leading
// word as the region-count declaration exactly when it is the first
// region added.
func (it *Item) addRegion(data []byte) {
	if len(it.Regions) == 0 && len(data) >= 4 {
		it.total = decodeRegionCount(data)
	}
	it.Regions = append(it.Regions, Region{Data: cloneBytes(data)})
}

// growLastRegion extends the most recently added region's data, for a
// WAS_CONT_TRANS operation that continues a region split across BBs.
func (it *Item) growLastRegion(data []byte) {
	last := len(it.Regions) - 1
	it.Regions[last].Data = append(it.Regions[last].Data, data...)
}

func decodeRegionCount(data []byte) uint32 {
	return uint32(data[0])<<24 | uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
}

func cloneBytes(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

// Transaction accumulates the items belonging to one in-flight (tid,
// started-but-not-yet-committed) transaction as the log is scanned.
type Transaction struct {
	Tid    uint32
	LSN    uint64
	Header []byte
	Items  []*Item
	next   *Transaction // intrusive bucket-chain link, see Table
}

// hasOpenItem reports whether the most recently started item is still
// waiting on more regions: either it hasn't received its first region
// yet (the empty sentinel pushed alongside the trans header), or it has
// a declared region count it hasn't reached yet.
func (t *Transaction) hasOpenItem() bool {
	if len(t.Items) == 0 {
		return false
	}
	last := t.Items[len(t.Items)-1]
	return len(last.Regions) == 0 || (last.total != 0 && !last.complete())
}

// addToTrans implements xlog_recover_add_to_trans: the trans header (the
// very first blob a transaction ever receives) is captured separately
// and an empty item sentinel is opened alongside it; everything after
// that fills the open sentinel's first region or continues/starts an
// item as hasOpenItem dictates.
func (t *Transaction) addToTrans(data []byte) {
	if len(data) == 0 {
		return
	}
	if t.Header == nil {
		t.Header = cloneBytes(data)
		t.Items = append(t.Items, &Item{})
		return
	}
	if !t.hasOpenItem() {
		t.Items = append(t.Items, &Item{})
	}
	t.Items[len(t.Items)-1].addRegion(data)
}

// addToContTrans implements xlog_recover_add_to_cont_trans: a
// WAS_CONT_TRANS operation always extends whatever region was most
// recently added, never starts a new one.
func (t *Transaction) addToContTrans(data []byte) {
	if len(t.Items) == 0 {
		t.Items = append(t.Items, &Item{})
	}
	last := t.Items[len(t.Items)-1]
	if len(last.Regions) == 0 {
		last.addRegion(data)
		return
	}
	last.growLastRegion(data)
}

// tableBuckets is a fixed, small hash table size, mirroring
// XLOG_RHASH_SIZE in the original scanner: transactions rarely overlap
// more than a handful deep, so a short open-chained array is enough.
const tableBuckets = 64

// Table is the in-flight transaction hash table keyed by tid, open
// chained per bucket exactly as buf/addrmap.go chains same-block
// entries, but over a fixed-size bucket array instead of a Go map since
// the key space (tids currently open in one recovery pass) is bounded
// and small.
type Table struct {
	buckets [tableBuckets]*Transaction
}

func NewTable() *Table {
	return &Table{}
}

func hashTid(tid uint32) uint32 {
	return tid % tableBuckets
}

// Find returns the open transaction for tid, or nil.
func (tb *Table) Find(tid uint32) *Transaction {
	for t := tb.buckets[hashTid(tid)]; t != nil; t = t.next {
		if t.Tid == tid {
			return t
		}
	}
	return nil
}

// Start begins tracking a new transaction, mirroring
// xlog_recover_new_tid/xlog_recover_put_hashq (insert at head of bucket).
func (tb *Table) Start(tid uint32, lsn uint64) *Transaction {
	h := hashTid(tid)
	t := &Transaction{Tid: tid, LSN: lsn, next: tb.buckets[h]}
	tb.buckets[h] = t
	return t
}

// Unlink removes t from its bucket, mirroring xlog_recover_unlink_tid.
func (tb *Table) Unlink(t *Transaction) {
	h := hashTid(t.Tid)
	if tb.buckets[h] == t {
		tb.buckets[h] = t.next
		return
	}
	for p := tb.buckets[h]; p != nil; p = p.next {
		if p.next == t {
			p.next = t.next
			return
		}
	}
}

// Stray reports every transaction still open when the log has been
// fully scanned: a START_TRANS with no matching COMMIT, which recovery
// treats as if it never happened (§4.C4's atomicity invariant).
func (tb *Table) Stray() []*Transaction {
	var out []*Transaction
	for _, head := range tb.buckets {
		for t := head; t != nil; t = t.next {
			out = append(out, t)
		}
	}
	return out
}
