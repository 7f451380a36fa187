package dir2

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// memBlockReader is a trivial in-memory BlockReader keyed by fsblk, for
// exercising leaf/node traversal without any real extent map.
type memBlockReader map[uint32][]byte

func (m memBlockReader) ReadDirBlock(fsblk uint32) ([]byte, error) {
	return m[fsblk], nil
}

func (m memBlockReader) WriteDirBlock(fsblk uint32, data []byte) error {
	m[fsblk] = data
	return nil
}

func makeLeafBlock(magic uint32, forw, back uint32, ents []LeafEntry) []byte {
	buf := make([]byte, leafHeaderSize+len(ents)*8)
	h := &LeafHeader{Magic: magic, Count: uint16(len(ents)), Forw: forw, Back: back}
	for _, e := range ents {
		if e.Address == NullDataptr {
			h.Stale++
		}
	}
	EncodeLeafHeader(h, buf)
	EncodeLeafEntries(ents, buf)
	return buf
}

// P7: walking a leaf chain left to right yields a non-decreasing
// sequence of hashvals across block boundaries.
func TestWalkLeafChainMonotonic(t *testing.T) {
	assert := assert.New(t)

	br := memBlockReader{}
	br[1] = makeLeafBlock(uint32(MagicLeafV2), 2, 0, []LeafEntry{
		{Hashval: 10, Address: 100}, {Hashval: 20, Address: 101},
	})
	br[2] = makeLeafBlock(uint32(MagicLeafV2), 0, 1, []LeafEntry{
		{Hashval: 30, Address: 102}, {Hashval: 40, Address: 103},
	})

	res, bnos, err := WalkLeafChain(br, 1, 4096)
	assert.NoError(err)
	assert.False(res.NeedsRebuild)
	assert.Equal(uint32(40), res.GreatestHashval)
	assert.Equal([]uint32{1, 2}, bnos)
}

// Out-of-order hashvals within or across leaf blocks are detected.
func TestWalkLeafChainOutOfOrder(t *testing.T) {
	assert := assert.New(t)

	br := memBlockReader{}
	br[1] = makeLeafBlock(uint32(MagicLeafV2), 2, 0, []LeafEntry{
		{Hashval: 10, Address: 100}, {Hashval: 20, Address: 101},
	})
	br[2] = makeLeafBlock(uint32(MagicLeafV2), 0, 1, []LeafEntry{
		{Hashval: 5, Address: 102},
	})

	res, _, err := WalkLeafChain(br, 1, 4096)
	assert.NoError(err)
	assert.True(res.NeedsRebuild)
}

// A bad sibling back-pointer is detected even when hash order is fine.
func TestWalkLeafChainBadSibling(t *testing.T) {
	assert := assert.New(t)

	br := memBlockReader{}
	br[1] = makeLeafBlock(uint32(MagicLeafV2), 2, 0, []LeafEntry{
		{Hashval: 10, Address: 100},
	})
	br[2] = makeLeafBlock(uint32(MagicLeafV2), 0, 99, []LeafEntry{
		{Hashval: 20, Address: 101},
	})

	res, _, err := WalkLeafChain(br, 1, 4096)
	assert.NoError(err)
	assert.True(res.NeedsRebuild)
}

// Stale entries (NullDataptr) don't participate in the hash-order check
// but must match the header's declared stale count.
func TestValidateLeafBlockStaleCount(t *testing.T) {
	assert := assert.New(t)

	h := &LeafHeader{Stale: 1}
	ents := []LeafEntry{{Hashval: 10, Address: NullDataptr}, {Hashval: 20, Address: 101}}
	next, ok := ValidateLeafBlock(h, ents, 1, 0)
	assert.True(ok)
	assert.Equal(uint32(20), next)

	h2 := &LeafHeader{Stale: 0}
	_, ok2 := ValidateLeafBlock(h2, ents, 1, 0)
	assert.False(ok2)
}
