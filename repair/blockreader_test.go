package repair

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/melor/xfsprogs/block"
	"github.com/melor/xfsprogs/common"
)

func newTestFacade(nblocks uint64) *block.Facade {
	d := block.NewMemDisk(nblocks, common.BBSize)
	return block.New(d, common.BBSize)
}

func TestBlockReaderRoundTrip(t *testing.T) {
	assert := assert.New(t)
	f := newTestFacade(64)
	br := newBlockReader(f, 4096) // 8 BBs per filesystem block

	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i)
	}
	assert.NoError(br.WriteDirBlock(2, data))

	got, err := br.ReadDirBlock(2)
	assert.NoError(err)
	assert.Equal(data, got)

	// A different fsblk doesn't alias the one just written.
	other, err := br.ReadDirBlock(3)
	assert.NoError(err)
	assert.NotEqual(data, other)
}
