package dir2

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/melor/xfsprogs/common"
)

func writeSfLikeEntry(buf []byte, off int, ino common.Ino, name string) {
	var tmp [8]byte
	putIno64Test(tmp[:], ino)
	copy(buf[off:off+8], tmp[:])
	buf[off+8] = byte(len(name))
	copy(buf[off+9:off+9+len(name)], name)
	tagOff := off + 9 + len(name)
	buf[tagOff] = byte(off >> 8)
	buf[tagOff+1] = byte(off)
}

func putIno64Test(buf []byte, ino common.Ino) {
	v := uint64(ino)
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> uint(56-8*i))
	}
}

func writeUnusedRegion(buf []byte, off int, length uint16) {
	buf[off] = 0xFF
	buf[off+1] = 0xFF
	buf[off+2] = byte(length >> 8)
	buf[off+3] = byte(length)
	tagOff := off + int(length) - 2
	buf[tagOff] = byte(off >> 8)
	buf[tagOff+1] = byte(off)
}

func newV2Block(size int) ([]byte, *DataHeader) {
	buf := make([]byte, size)
	h := &DataHeader{Version: V2, Magic: MagicDataV2}
	EncodeDataHeader(h, buf)
	return buf, h
}

func TestProcessDataValidBlock(t *testing.T) {
	assert := assert.New(t)

	buf, h := newV2Block(64)
	start := HeaderSize(V2)
	writeSfLikeEntry(buf, start, 100, ".")
	writeSfLikeEntry(buf, start+16, 1, "..")
	writeSfLikeEntry(buf, start+32, 200, "foo")

	ok, badBest := ValidateData(buf, h, start, start+48)
	assert.True(ok)
	assert.False(badBest)

	oracle := newStubOracle()
	res := ProcessData(buf, h, start, start+48, 100, 1, false, false, oracle)

	assert.True(res.Dot)
	assert.True(res.Dotdot)
	assert.Equal(common.Ino(1), res.Parent)
	assert.False(res.Dirty)
}

func TestProcessDataJunksInvalidReference(t *testing.T) {
	assert := assert.New(t)

	buf, h := newV2Block(48)
	start := HeaderSize(V2)
	writeSfLikeEntry(buf, start, 999, "foo")

	oracle := newStubOracle()
	oracle.unallocated[999] = true

	res := ProcessData(buf, h, start, start+16, 100, 1, false, false, oracle)
	assert.True(res.Dirty)
	assert.Equal(byte(JunkSentinel), buf[start+9])
}

func TestProcessDataRootDotdotSelfCorrects(t *testing.T) {
	assert := assert.New(t)

	buf, h := newV2Block(48)
	start := HeaderSize(V2)
	writeSfLikeEntry(buf, start, 7, "..")

	oracle := newStubOracle()
	res := ProcessData(buf, h, start, start+16, 100, 100, false, false, oracle)

	assert.True(res.Dotdot)
	assert.Equal(common.Ino(100), res.Parent)
	assert.True(res.Dirty)
}

func TestProcessDataBestfreeRebuild(t *testing.T) {
	assert := assert.New(t)

	buf, h := newV2Block(64)
	start := HeaderSize(V2)
	writeSfLikeEntry(buf, start, 100, ".")
	writeUnusedRegion(buf, start+16, 32)
	h.Bestfree[0] = FreeEntry{Offset: 0, Length: 5}
	h.Bestfree[1] = FreeEntry{Offset: 0, Length: 10}
	EncodeDataHeader(h, buf)

	ok, badBest := ValidateData(buf, h, start, start+48)
	assert.True(ok)
	assert.True(badBest)

	oracle := newStubOracle()
	res := ProcessData(buf, h, start, start+48, 100, 1, false, false, oracle)
	assert.True(res.Dirty)
	assert.Equal(uint16(32), h.Bestfree[0].Length)
	assert.Equal(uint16(start+16), h.Bestfree[0].Offset)
}
