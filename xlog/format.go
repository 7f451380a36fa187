// Package xlog implements the circular physical log scanner (C3) and
// two-pass replayer (C4), plus the on-disk geometry/endian codec (C2)
// for log records and log operations.
//
// Field access is big-endian throughout, and at arbitrary sub-word
// offsets that vary by header kind — encoding/binary's BigEndian
// accessors are used directly rather than a sequential encode/decode
// cursor (see SPEC_FULL.md's Ambient Stack / C2 note for why neither of
// the teacher's binary-codec dependencies fits this shape).
package xlog

import (
	"encoding/binary"

	"github.com/melor/xfsprogs/common"
)

// RecordMagic identifies the start of a log record header.
const RecordMagic uint32 = 0xFEEDCAFE

// Op flags. A log operation's flags field is a small bitset; COMMIT and
// UNMOUNT records carry no payload interpretation beyond their flags.
const (
	OpStart    uint8 = 0x01
	OpCommit   uint8 = 0x02
	OpContinue uint8 = 0x04
	OpWasCont  uint8 = 0x08
	OpEnd      uint8 = 0x10
	OpUnmount  uint8 = 0x20
)

const (
	ClientTransaction uint8 = 1
	ClientLog         uint8 = 2
)

// TransHeaderMagic marks the first region of a transaction (I2 in the
// data model).
const TransHeaderMagic uint32 = 0x5452414E // "TRAN"

// recHeaderFixedSize is the size, in bytes, of a RecordHeader up to (but
// not including) the variable-length cycle-data table.
const recHeaderFixedSize = 42

// MaxCycleData is the largest number of cycle-data words a single BB
// header can carry (the remainder of one basic block after the fixed
// fields and the trailing 16-byte UUID).
func MaxCycleData(bbsize uint64) int {
	return int((bbsize - recHeaderFixedSize - 16) / 4)
}

// RecordHeader is the on-disk log record header (§6).
//
// The very first word of the block is the cycle stamp, not the magic
// number: every basic block in the log, header or data, carries its
// cycle number in that position so the scanner can read cycles
// uniformly without first knowing whether a block is a header. The
// magic number that identifies a header block occupies the second
// word instead.
type RecordHeader struct {
	Cycle      uint32
	Magic      uint32
	Version    uint16
	Len        uint32 // h_len: byte length of the data area that follows
	LSN        uint64
	TailLSN    uint64
	Checksum   uint32
	PrevBlock  uint32
	NumLogOps  uint32
	CycleData  []uint32 // one word per data BB, reinjected by Unpack
	UUID       [16]byte
}

// DecodeRecordHeader parses one basic block's worth of bytes into a
// RecordHeader. bbsize is the geometry's basic block size; the UUID is
// stored in the final 16 bytes of the block, after the cycle-data table
// (kept out of the fixed-size prefix so cycle-data capacity scales with
// bbsize without disturbing the UUID's fixed position from the end).
func DecodeRecordHeader(buf []byte, bbsize uint64) *RecordHeader {
	h := &RecordHeader{}
	h.Cycle = binary.BigEndian.Uint32(buf[0:4])
	h.Magic = binary.BigEndian.Uint32(buf[4:8])
	h.Version = binary.BigEndian.Uint16(buf[8:10])
	h.Len = binary.BigEndian.Uint32(buf[10:14])
	h.LSN = binary.BigEndian.Uint64(buf[14:22])
	h.TailLSN = binary.BigEndian.Uint64(buf[22:30])
	h.Checksum = binary.BigEndian.Uint32(buf[30:34])
	h.PrevBlock = binary.BigEndian.Uint32(buf[34:38])
	h.NumLogOps = binary.BigEndian.Uint32(buf[38:42])

	ncycle := common.RoundUpBB(uint64(h.Len))
	max := uint64(MaxCycleData(bbsize))
	if ncycle > max {
		ncycle = max
	}
	h.CycleData = make([]uint32, ncycle)
	off := recHeaderFixedSize
	for i := range h.CycleData {
		h.CycleData[i] = binary.BigEndian.Uint32(buf[off : off+4])
		off += 4
	}
	copy(h.UUID[:], buf[bbsize-16:bbsize])
	return h
}

// EncodeRecordHeader writes h into a freshly allocated bbsize-byte
// buffer. Used only by tests to build synthetic log images.
func EncodeRecordHeader(h *RecordHeader, bbsize uint64) []byte {
	buf := make([]byte, bbsize)
	binary.BigEndian.PutUint32(buf[0:4], h.Cycle)
	binary.BigEndian.PutUint32(buf[4:8], h.Magic)
	binary.BigEndian.PutUint16(buf[8:10], h.Version)
	binary.BigEndian.PutUint32(buf[10:14], h.Len)
	binary.BigEndian.PutUint64(buf[14:22], h.LSN)
	binary.BigEndian.PutUint64(buf[22:30], h.TailLSN)
	binary.BigEndian.PutUint32(buf[30:34], h.Checksum)
	binary.BigEndian.PutUint32(buf[34:38], h.PrevBlock)
	binary.BigEndian.PutUint32(buf[38:42], h.NumLogOps)
	off := recHeaderFixedSize
	for _, w := range h.CycleData {
		binary.BigEndian.PutUint32(buf[off:off+4], w)
		off += 4
	}
	copy(buf[bbsize-16:bbsize], h.UUID[:])
	return buf
}

// BlockLSN extracts the block component of an LSN (the low 32 bits).
func BlockLSN(lsn uint64) common.Bnum { return common.Bnum(uint32(lsn)) }

// CycleLSN extracts the cycle component of an LSN (the high 32 bits).
func CycleLSN(lsn uint64) uint32 { return uint32(lsn >> 32) }

// MakeLSN packs a cycle and block into one LSN.
func MakeLSN(cycle uint32, blk common.Bnum) uint64 {
	return uint64(cycle)<<32 | uint64(uint32(blk))
}

// OpHeader is the on-disk log operation header (§6).
type OpHeader struct {
	Tid      uint32
	Len      uint32
	ClientID uint8
	Flags    uint8
}

const opHeaderSize = 12

func DecodeOpHeader(buf []byte) *OpHeader {
	return &OpHeader{
		Tid:      binary.BigEndian.Uint32(buf[0:4]),
		Len:      binary.BigEndian.Uint32(buf[4:8]),
		ClientID: buf[8],
		Flags:    buf[9],
	}
}

func EncodeOpHeader(h *OpHeader) []byte {
	buf := make([]byte, opHeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Tid)
	binary.BigEndian.PutUint32(buf[4:8], h.Len)
	buf[8] = h.ClientID
	buf[9] = h.Flags
	return buf
}

// Unpack reinjects the header's cycle-data words into the first 4 bytes
// of every BB of data (§4.C2's unpack_record), undoing the substitution
// performed at write time. data is mutated in place and also returned.
func Unpack(h *RecordHeader, data []byte, bbsize uint64) []byte {
	n := uint64(len(data)) / bbsize
	for i := uint64(0); i < n && i < uint64(len(h.CycleData)); i++ {
		binary.BigEndian.PutUint32(data[i*bbsize:i*bbsize+4], h.CycleData[i])
	}
	return data
}

// Pack is the inverse of Unpack: it overwrites the first word of every
// BB in data with a fixed marker (as a real writer would with the
// current cycle number) and records the words it displaced into the
// header's cycle-data table. Used by tests to build round-trip fixtures
// (P4).
func Pack(data []byte, bbsize uint64, marker uint32) (*RecordHeader, []byte) {
	n := uint64(len(data)) / bbsize
	h := &RecordHeader{CycleData: make([]uint32, n)}
	packed := make([]byte, len(data))
	copy(packed, data)
	for i := uint64(0); i < n; i++ {
		h.CycleData[i] = binary.BigEndian.Uint32(packed[i*bbsize : i*bbsize+4])
		binary.BigEndian.PutUint32(packed[i*bbsize:i*bbsize+4], marker)
	}
	return h, packed
}
