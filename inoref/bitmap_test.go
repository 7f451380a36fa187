package inoref

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/melor/xfsprogs/common"
)

func TestVerifyInumRange(t *testing.T) {
	assert := assert.New(t)
	o := NewBitmapOracle(1000, common.RootIno, common.NullIno, common.NullIno, common.NullIno, common.NullIno, common.NullIno)

	assert.True(o.VerifyInum(0), "inode 0 is never valid")
	assert.True(o.VerifyInum(1000), "at maxIno is out of range")
	assert.True(o.VerifyInum(5000), "well beyond maxIno is out of range")
	assert.False(o.VerifyInum(128))
}

func TestReservedReason(t *testing.T) {
	assert := assert.New(t)
	o := NewBitmapOracle(1000, 128, 129, 130, 131, 132, 133)

	reason, ok := o.ReservedReason(131)
	assert.True(ok)
	assert.Equal("user quota", reason)

	_, ok = o.ReservedReason(128)
	assert.False(ok, "the root inode itself isn't one of the reserved-reason inodes")
}

func TestChunkFreeAndConfirmed(t *testing.T) {
	assert := assert.New(t)
	o := NewBitmapOracle(1000, common.RootIno, common.NullIno, common.NullIno, common.NullIno, common.NullIno, common.NullIno)

	assert.False(o.FindInodeRec(200))

	o.AddChunk(&Chunk{StartIno: 192, Free: 1 << 8}) // 192+8 = 200 is free
	assert.True(o.FindInodeRec(200))
	assert.True(o.IsInodeFree(200))
	assert.False(o.IsInodeFree(193))
	assert.False(o.IsInodeConfirmed(200))

	o.ConfirmInode(193)
	assert.True(o.IsInodeConfirmed(193))
}

func TestConfirmInodeResolvesUncertainty(t *testing.T) {
	assert := assert.New(t)
	o := NewBitmapOracle(1000, common.RootIno, common.NullIno, common.NullIno, common.NullIno, common.NullIno, common.NullIno)

	o.AddChunk(&Chunk{StartIno: 192})
	o.AddInodeUncertain(200)
	assert.Contains(o.Uncertain(), common.Ino(200))

	o.ConfirmInode(200)
	assert.NotContains(o.Uncertain(), common.Ino(200))
	assert.True(o.IsInodeConfirmed(200))
}

func TestChunkBaseAlignment(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(common.Ino(192), chunkBase(200))
	assert.Equal(common.Ino(192), chunkBase(192))
	assert.Equal(common.Ino(128), chunkBase(191))
}
