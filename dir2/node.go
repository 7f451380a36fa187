package dir2

import (
	"encoding/binary"

	"github.com/golang/glog"
)

// nodeHeaderSize is the fixed portion of an interior btree node block:
// magic, entry count, level, and sibling pointers.
const nodeHeaderSize = 4 + 2 + 2 + 4 + 4

// NodeHeader is the decoded fixed portion of an interior (node-format)
// directory btree block.
type NodeHeader struct {
	Magic uint32
	Count uint16
	Level uint16
	Forw  uint32
	Back  uint32
}

// NodeEntry is one (hashval, child-block) pair in an interior node.
// Hashval must equal the greatest hashval reachable through Before.
type NodeEntry struct {
	Hashval uint32
	Before  uint32
}

func DecodeNodeHeader(buf []byte) *NodeHeader {
	return &NodeHeader{
		Magic: binary.BigEndian.Uint32(buf[0:4]),
		Count: binary.BigEndian.Uint16(buf[4:6]),
		Level: binary.BigEndian.Uint16(buf[6:8]),
		Forw:  binary.BigEndian.Uint32(buf[8:12]),
		Back:  binary.BigEndian.Uint32(buf[12:16]),
	}
}

func EncodeNodeHeader(h *NodeHeader, buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Count)
	binary.BigEndian.PutUint16(buf[6:8], h.Level)
	binary.BigEndian.PutUint32(buf[8:12], h.Forw)
	binary.BigEndian.PutUint32(buf[12:16], h.Back)
}

func DecodeNodeEntries(buf []byte, count uint16) []NodeEntry {
	ents := make([]NodeEntry, count)
	off := nodeHeaderSize
	for i := range ents {
		ents[i].Hashval = binary.BigEndian.Uint32(buf[off : off+4])
		ents[i].Before = binary.BigEndian.Uint32(buf[off+4 : off+8])
		off += 8
	}
	return ents
}

func EncodeNodeEntries(ents []NodeEntry, buf []byte) {
	off := nodeHeaderSize
	for _, e := range ents {
		binary.BigEndian.PutUint32(buf[off:off+4], e.Hashval)
		binary.BigEndian.PutUint32(buf[off+4:off+8], e.Before)
		off += 8
	}
}

// CursorLevel tracks, for one level of the interior btree, the block
// currently being visited, the index of the entry within it that
// points down to the level below, and the greatest hashval that level
// has reported seeing so far.
type CursorLevel struct {
	Bno     uint32
	Index   int
	Hashval uint32
	Dirty   bool
}

// Cursor walks a directory's interior btree top-down to find the
// leftmost leaf block, recording each level's state so the caller can
// re-visit a level's current entry after validating the level below it
// — mirroring the real repair tool's dir2_bt_cursor_t.
type Cursor struct {
	Levels []CursorLevel
}

// TraverseLeftmost descends from root, following Before==0 (the first
// entry) at every level, until it reaches level 0 (the leaf level),
// returning the leaf chain's starting block. Returns ok=false if any
// node block along the way is corrupt.
func TraverseLeftmost(br BlockReader, rootBno uint32) (cursor *Cursor, leafStart uint32, ok bool) {
	cursor = &Cursor{}
	bno := rootBno
	for {
		buf, err := br.ReadDirBlock(bno)
		if err != nil {
			return cursor, 0, false
		}
		h := DecodeNodeHeader(buf)
		if h.Magic == uint32(MagicLeafV2) || h.Magic == uint32(MagicLeafV3) {
			// This is a leaf block, not an interior node; the caller
			// walks the leaf chain itself starting here. Distinguished
			// by magic number, not the level/stale field, since the two
			// block kinds share the same fixed header layout.
			return cursor, bno, true
		}
		if h.Count == 0 {
			glog.V(1).Infof("dir2: empty interior node at block %d", bno)
			return cursor, 0, false
		}
		ents := DecodeNodeEntries(buf, h.Count)
		cursor.Levels = append(cursor.Levels, CursorLevel{Bno: bno, Index: 0})
		bno = ents[0].Before
		if bno == 0 {
			return cursor, 0, false
		}
	}
}

// VerifyPath checks that the current entry at every level above
// childLevel records a hashval equal to childHashval and a Before
// pointer equal to childBno, then advances that level's index to the
// next entry (so a later sibling traversal continues from the right
// place), recursing upward. Grounded on verify_dir2_path /
// verify_dir2_path's single-level helper (the "before" and "hashval"
// checks against the level above).
func VerifyPath(br BlockReader, cursor *Cursor, level int, childBno uint32, childHashval uint32, noModify bool) bool {
	if level >= len(cursor.Levels) {
		return true
	}
	buf, err := br.ReadDirBlock(cursor.Levels[level].Bno)
	if err != nil {
		return false
	}
	h := DecodeNodeHeader(buf)
	ents := DecodeNodeEntries(buf, h.Count)
	idx := cursor.Levels[level].Index
	if idx >= len(ents) {
		// This block's entries are exhausted; move to its sibling before
		// checking the current child against it.
		if h.Forw == 0 {
			return false
		}
		cursor.Levels[level].Bno = h.Forw
		cursor.Levels[level].Index = 0
		buf, err = br.ReadDirBlock(h.Forw)
		if err != nil {
			return false
		}
		h = DecodeNodeHeader(buf)
		ents = DecodeNodeEntries(buf, h.Count)
		idx = 0
		if idx >= len(ents) {
			return false
		}
	}
	if ents[idx].Before != childBno {
		glog.V(1).Infof("dir2: bad block number in interior dir block level %d", level)
		return false
	}
	if ents[idx].Hashval != childHashval {
		if noModify {
			glog.V(1).Infof("dir2: would correct bad hashval in interior dir block level %d", level)
		} else {
			ents[idx].Hashval = childHashval
			EncodeNodeEntries(ents, buf)
			br.WriteDirBlock(cursor.Levels[level].Bno, buf)
			cursor.Levels[level].Dirty = true
		}
	}
	cursor.Levels[level].Index++
	cursor.Levels[level].Hashval = childHashval
	return true
}

// VerifyFinalPath checks that, once the leaf chain is exhausted, every
// interior level has fully accounted for it: VerifyPath has advanced
// the level's index past every entry the block holds (index == Count;
// no trailing entries above the last real leaf went unvisited), the
// block is the last in its sibling chain (Forw == 0; no further
// sibling blocks were left unconsumed), and the last entry the level
// verified carried the tree's true greatest hashval (Hashval ==
// finalHashval; a dangling entry with a stale, smaller hashval sitting
// past what was actually verified would mean junk was left above the
// last real leaf). Grounded on verify_final_dir2_path, translated from
// its pre-increment "entry == count - 1" convention to VerifyPath's
// own post-increment index.
func VerifyFinalPath(br BlockReader, cursor *Cursor, finalHashval uint32) bool {
	for lvl, cl := range cursor.Levels {
		buf, err := br.ReadDirBlock(cl.Bno)
		if err != nil {
			return false
		}
		h := DecodeNodeHeader(buf)
		if cl.Index != int(h.Count) {
			glog.V(1).Infof("dir2: interior dir block level %d has trailing entries past the last leaf", lvl)
			return false
		}
		if h.Forw != 0 {
			glog.V(1).Infof("dir2: interior dir block level %d has a sibling past the last leaf", lvl)
			return false
		}
		if cl.Hashval != finalHashval {
			glog.V(1).Infof("dir2: interior dir block level %d's last verified hashval does not match the directory's final hashval", lvl)
			return false
		}
	}
	return true
}
