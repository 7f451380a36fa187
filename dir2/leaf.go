package dir2

import (
	"encoding/binary"

	"github.com/golang/glog"
)

// NullDataptr marks a stale leaf entry (its data has been removed but
// the slot hasn't been compacted out of the leaf block yet).
const NullDataptr uint32 = 0xFFFFFFFF

// leafHeaderSize is the fixed portion of a leaf block: magic, count,
// stale count, and the two sibling block pointers.
const leafHeaderSize = 4 + 2 + 2 + 4 + 4

// LeafHeader is the decoded fixed portion of a leaf (node-format) dir
// block.
type LeafHeader struct {
	Magic uint32
	Count uint16
	Stale uint16
	Forw  uint32 // sibling block number, 0 if none
	Back  uint32
}

// LeafEntry is one (hash, data-pointer) pair in a leaf block's entry
// array, sorted ascending by Hashval across the whole leaf chain.
type LeafEntry struct {
	Hashval uint32
	Address uint32
}

func DecodeLeafHeader(buf []byte) *LeafHeader {
	return &LeafHeader{
		Magic: binary.BigEndian.Uint32(buf[0:4]),
		Count: binary.BigEndian.Uint16(buf[4:6]),
		Stale: binary.BigEndian.Uint16(buf[6:8]),
		Forw:  binary.BigEndian.Uint32(buf[8:12]),
		Back:  binary.BigEndian.Uint32(buf[12:16]),
	}
}

func EncodeLeafHeader(h *LeafHeader, buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Count)
	binary.BigEndian.PutUint16(buf[6:8], h.Stale)
	binary.BigEndian.PutUint32(buf[8:12], h.Forw)
	binary.BigEndian.PutUint32(buf[12:16], h.Back)
}

func DecodeLeafEntries(buf []byte, count uint16) []LeafEntry {
	ents := make([]LeafEntry, count)
	off := leafHeaderSize
	for i := range ents {
		ents[i].Hashval = binary.BigEndian.Uint32(buf[off : off+4])
		ents[i].Address = binary.BigEndian.Uint32(buf[off+4 : off+8])
		off += 8
	}
	return ents
}

func EncodeLeafEntries(ents []LeafEntry, buf []byte) {
	off := leafHeaderSize
	for _, e := range ents {
		binary.BigEndian.PutUint32(buf[off:off+4], e.Hashval)
		binary.BigEndian.PutUint32(buf[off+4:off+8], e.Address)
		off += 8
	}
}

// ValidateLeafBlock checks one leaf block's entries for ascending hash
// order (ignoring stale slots) and a consistent stale count, returning
// the greatest hashval seen so the caller can feed it back in as
// lastHashval for the next block in the sibling chain. Grounded on
// process_leaf_block_dir2.
func ValidateLeafBlock(h *LeafHeader, ents []LeafEntry, daBno uint32, lastHashval uint32) (nextHashval uint32, ok bool) {
	stale := uint16(0)
	current := lastHashval
	for _, e := range ents {
		if e.Address == NullDataptr {
			stale++
			continue
		}
		if e.Hashval < current {
			glog.V(1).Infof("dir2: bad hash ordering in leaf block %d", daBno)
			return 0, false
		}
		current = e.Hashval
	}
	if stale != h.Stale {
		glog.V(1).Infof("dir2: bad stale count in leaf block %d: header says %d, counted %d", daBno, h.Stale, stale)
		return 0, false
	}
	return current, true
}

// LeafChainResult is the outcome of walking a full leaf sibling chain
// left to right.
type LeafChainResult struct {
	// GreatestHashval is the maximum hashval seen across every block in
	// the chain.
	GreatestHashval uint32
	NeedsRebuild    bool
}

// BlockReader reads and writes directory blocks addressed by their
// filesystem block number (fsblk), decoupling dir2's traversal logic
// from whatever extent map and disk the caller uses underneath.
type BlockReader interface {
	ReadDirBlock(fsblk uint32) ([]byte, error)
	WriteDirBlock(fsblk uint32, data []byte) error
}

// WalkLeafChain walks a node-format directory's leaf level left to
// right starting at startBno, validating hash order within each block
// and sibling-pointer continuity between blocks. Grounded on
// process_leaf_level_dir2's per-block loop (the interior-node side of
// that function lives in node.go's Cursor).
func WalkLeafChain(br BlockReader, startBno uint32, blockSize int) (*LeafChainResult, []uint32, error) {
	res := &LeafChainResult{}
	var bnos []uint32
	prevBno := uint32(0)
	bno := startBno
	current := uint32(0)

	for bno != 0 {
		buf, err := br.ReadDirBlock(bno)
		if err != nil {
			res.NeedsRebuild = true
			return res, bnos, err
		}
		h := DecodeLeafHeader(buf)
		if h.Magic != uint32(MagicLeafV2) && h.Magic != uint32(MagicLeafV3) {
			glog.V(1).Infof("dir2: bad leaf magic %#x at block %d", h.Magic, bno)
			res.NeedsRebuild = true
			return res, bnos, nil
		}
		ents := DecodeLeafEntries(buf, h.Count)
		next, ok := ValidateLeafBlock(h, ents, bno, current)
		if !ok {
			res.NeedsRebuild = true
			return res, bnos, nil
		}
		if h.Back != prevBno {
			glog.V(1).Infof("dir2: bad sibling back pointer at block %d: have %d, want %d", bno, h.Back, prevBno)
			res.NeedsRebuild = true
			return res, bnos, nil
		}
		bnos = append(bnos, bno)
		current = next
		prevBno = bno
		bno = h.Forw
	}
	res.GreatestHashval = current
	return res, bnos, nil
}
