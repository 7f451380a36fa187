// Package dir2 implements the directory-repair core (C5/C6): decoding
// and re-validating the four on-disk directory encodings (shortform,
// block, leaf, node), rebuilding the bestfree free-space table, and
// enforcing hash-ordering invariants across leaf and interior-node
// blocks.
//
// Grounded on original_source/repair/dir2.c's process_dir2_data /
// process_block_dir2 / process_leaf_level_dir2 / process_node_dir2
// family, reworked around Go structs and a caller-supplied InodeOracle
// instead of the original's global ag/inode-tree state.
package dir2

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/melor/xfsprogs/common"
)

// Version distinguishes the v2 (no CRC) and v3 (checksummed,
// self-describing) directory block headers.
type Version int

const (
	V2 Version = iota
	V3
)

// On-disk magic numbers. Distinct from, but analogous in role to, the
// real filesystem's block-kind tags.
const (
	MagicDataV2 uint32 = 0x58443244
	MagicDataV3 uint32 = 0x58444233
	MagicBlockV2 uint32 = 0x58443242
	MagicBlockV3 uint32 = 0x58444232
	MagicLeafV2  uint16 = 0x3df1
	MagicLeafV3  uint16 = 0x3dff
	MagicNodeV2  uint16 = 0xfebe
	MagicNodeV3  uint16 = 0xfeff
)

// FreeTag marks an unused region's length field, distinguishing it from
// an entry's namelen+inumber prefix.
const FreeTag uint16 = 0xFFFF

// DataAlign is the required alignment of every entry and unused region.
const DataAlign = 8

// NullIno mirrors common.NullIno, repeated here so dir2 doesn't need to
// import common just for this.
const NullIno = common.NullIno

// FreeEntry is one slot of the 3-entry bestfree table: the largest
// three free regions in a data block, sorted descending by length with
// ties broken by the earliest offset.
type FreeEntry struct {
	Offset uint16
	Length uint16
}

const bestfreeCount = 3

// v2DataHeaderSize/v3DataHeaderSize are the fixed header sizes (magic +
// bestfree table, plus the v3 CRC/UUID/blkno/lsn/owner fields) before
// the entry stream begins.
const (
	v2DataHeaderSize = 4 + bestfreeCount*4
	v3DataHeaderSize = 4 + 4 + 16 + 8 + 8 + 8 + bestfreeCount*4
)

func HeaderSize(v Version) int {
	if v == V3 {
		return v3DataHeaderSize
	}
	return v2DataHeaderSize
}

func bestfreeOffset(v Version) int {
	if v == V3 {
		return 4 + 4 + 16 + 8 + 8 + 8
	}
	return 4
}

// DataHeader is the decoded fixed portion of a data/block-format
// directory block.
type DataHeader struct {
	Version  Version
	Magic    uint32
	Bestfree [bestfreeCount]FreeEntry
	// v3 only
	CRC   uint32
	Blkno uint64
	LSN   uint64
	UUID  [16]byte
	Owner uint64
}

func DecodeDataHeader(buf []byte, v Version) *DataHeader {
	h := &DataHeader{Version: v}
	h.Magic = binary.BigEndian.Uint32(buf[0:4])
	if v == V3 {
		h.CRC = binary.BigEndian.Uint32(buf[4:8])
		copy(h.UUID[:], buf[8:24])
		h.Blkno = binary.BigEndian.Uint64(buf[24:32])
		h.LSN = binary.BigEndian.Uint64(buf[32:40])
		h.Owner = binary.BigEndian.Uint64(buf[40:48])
	}
	off := bestfreeOffset(v)
	for i := 0; i < bestfreeCount; i++ {
		h.Bestfree[i].Offset = binary.BigEndian.Uint16(buf[off : off+2])
		h.Bestfree[i].Length = binary.BigEndian.Uint16(buf[off+2 : off+4])
		off += 4
	}
	return h
}

func EncodeDataHeader(h *DataHeader, buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	if h.Version == V3 {
		copy(buf[8:24], h.UUID[:])
		binary.BigEndian.PutUint64(buf[24:32], h.Blkno)
		binary.BigEndian.PutUint64(buf[32:40], h.LSN)
		binary.BigEndian.PutUint64(buf[40:48], h.Owner)
	}
	off := bestfreeOffset(h.Version)
	for i := 0; i < bestfreeCount; i++ {
		binary.BigEndian.PutUint16(buf[off:off+2], h.Bestfree[i].Offset)
		binary.BigEndian.PutUint16(buf[off+2:off+4], h.Bestfree[i].Length)
		off += 4
	}
	if h.Version == V3 {
		binary.BigEndian.PutUint32(buf[4:8], 0)
		crc := crc32.Checksum(buf, crc32.MakeTable(crc32.Castagnoli))
		binary.BigEndian.PutUint32(buf[4:8], crc)
	}
}

// VerifyChecksum reports whether buf's stored CRC matches its content.
// v2 blocks carry no checksum and always verify.
func VerifyChecksum(buf []byte, v Version) bool {
	if v == V2 {
		return true
	}
	stored := binary.BigEndian.Uint32(buf[4:8])
	scratch := append([]byte(nil), buf...)
	binary.BigEndian.PutUint32(scratch[4:8], 0)
	got := crc32.Checksum(scratch, crc32.MakeTable(crc32.Castagnoli))
	return got == stored
}

// Unused is a free region within a data block's entry stream.
type Unused struct {
	Offset int // byte offset within the block
	Length uint16
	Tag    uint16 // must equal Offset
}

// Entry is a directory entry within a data block's entry stream.
type Entry struct {
	Offset  int // byte offset within the block
	Inumber common.Ino
	NameLen uint8
	Name    []byte
	Tag     uint16 // must equal Offset
}

func entsize(namelen uint8) int {
	// inumber(8) + namelen(1) + name + tag(2), rounded up to DataAlign.
	n := 8 + 1 + int(namelen) + 2
	return (n + DataAlign - 1) &^ (DataAlign - 1)
}

func decodeEntry(buf []byte, off int) *Entry {
	e := &Entry{Offset: off}
	e.Inumber = common.Ino(binary.BigEndian.Uint64(buf[off : off+8]))
	e.NameLen = buf[off+8]
	e.Name = buf[off+9 : off+9+int(e.NameLen)]
	tagOff := off + 9 + int(e.NameLen)
	e.Tag = binary.BigEndian.Uint16(buf[tagOff : tagOff+2])
	return e
}

func decodeUnused(buf []byte, off int) *Unused {
	u := &Unused{Offset: off}
	u.Length = binary.BigEndian.Uint16(buf[off+2 : off+4])
	tagOff := off + int(u.Length) - 2
	if tagOff >= off && tagOff+2 <= len(buf) {
		u.Tag = binary.BigEndian.Uint16(buf[tagOff : tagOff+2])
	}
	return u
}

func isUnused(buf []byte, off int) bool {
	return binary.BigEndian.Uint16(buf[off:off+2]) == FreeTag
}

// freefind returns the index of the bestfree slot whose offset equals
// offset, or -1 if no slot matches or the region's length is too small
// to appear in the table.
func freefind(bf [bestfreeCount]FreeEntry, offset int, length uint16) int {
	if length < bf[bestfreeCount-1].Length {
		return -1
	}
	for i, f := range bf {
		if f.Offset == uint16(offset) {
			return i
		}
	}
	return -1
}

// Freescan rebuilds the bestfree table from scratch by walking buf's
// entry stream, mirroring libxfs_dir2_data_freescan. start is the byte
// offset the entry stream begins at (the end of the fixed header).
func Freescan(buf []byte, v Version, start, end int) [bestfreeCount]FreeEntry {
	var bf [bestfreeCount]FreeEntry
	ptr := start
	for ptr < end {
		if isUnused(buf, ptr) {
			u := decodeUnused(buf, ptr)
			insertBestfree(&bf, uint16(ptr), u.Length)
			ptr += int(u.Length)
			continue
		}
		e := decodeEntry(buf, ptr)
		ptr += entsize(e.NameLen)
	}
	return bf
}

// insertBestfree inserts (offset,length) into bf if it's among the
// three largest free regions seen so far, keeping the table sorted
// descending by length with ties broken by the earliest (lowest)
// offset — matching the real libxfs_dir2_data_freeinsert ordering.
func insertBestfree(bf *[bestfreeCount]FreeEntry, offset uint16, length uint16) {
	for i := 0; i < bestfreeCount; i++ {
		if length > bf[i].Length || (length == bf[i].Length && bf[i].Length != 0 && offset < bf[i].Offset) {
			copy(bf[i+1:], bf[i:bestfreeCount-1])
			bf[i] = FreeEntry{Offset: offset, Length: length}
			return
		}
	}
}

// VerifyBestfree reports whether h.Bestfree is internally consistent:
// monotonically non-increasing by length, and any zero-length slot has
// a zero offset. It does not check the slots against the actual free
// regions in the block — callers cross-check that by walking the
// entry stream (see ValidateData).
func VerifyBestfree(h *DataHeader) bool {
	bf := h.Bestfree
	if bf[0].Length == 0 && bf[0].Offset != 0 {
		return false
	}
	if bf[1].Length == 0 && bf[1].Offset != 0 {
		return false
	}
	if bf[2].Length == 0 && bf[2].Offset != 0 {
		return false
	}
	if bf[0].Length < bf[1].Length {
		return false
	}
	if bf[1].Length < bf[2].Length {
		return false
	}
	return true
}
