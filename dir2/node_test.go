package dir2

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func makeNodeBlock(magic uint32, level uint16, forw, back uint32, ents []NodeEntry) []byte {
	buf := make([]byte, nodeHeaderSize+len(ents)*8)
	h := &NodeHeader{Magic: magic, Count: uint16(len(ents)), Level: level, Forw: forw, Back: back}
	EncodeNodeHeader(h, buf)
	EncodeNodeEntries(ents, buf)
	return buf
}

// S6: a node directory with two leaves (L1 hash range [10,20], L2
// [30,40]) whose root records the second leaf's hashval as 34 instead
// of 40 gets that entry corrected to 40.
func TestVerifyPathCorrectsWrongHashval(t *testing.T) {
	assert := assert.New(t)

	const rootBno, l1Bno, l2Bno = 1, 2, 3
	br := memBlockReader{}
	br[rootBno] = makeNodeBlock(uint32(MagicNodeV2), 1, 0, 0, []NodeEntry{
		{Hashval: 20, Before: l1Bno},
		{Hashval: 34, Before: l2Bno}, // wrong: should be 40
	})
	br[l1Bno] = makeLeafBlock(uint32(MagicLeafV2), l2Bno, 0, []LeafEntry{
		{Hashval: 10, Address: 100}, {Hashval: 20, Address: 101},
	})
	br[l2Bno] = makeLeafBlock(uint32(MagicLeafV2), 0, l1Bno, []LeafEntry{
		{Hashval: 30, Address: 102}, {Hashval: 40, Address: 103},
	})

	cursor, leafStart, ok := TraverseLeftmost(br, rootBno)
	assert.True(ok)
	assert.Equal(uint32(l1Bno), leafStart)
	assert.Len(cursor.Levels, 1)

	// First leaf in the chain: its recorded hashval (20) is correct.
	l1Buf, err := br.ReadDirBlock(l1Bno)
	assert.NoError(err)
	h1 := DecodeLeafHeader(l1Buf)
	max1, ok1 := ValidateLeafBlock(h1, DecodeLeafEntries(l1Buf, h1.Count), l1Bno, 0)
	assert.True(ok1)
	assert.Equal(uint32(20), max1)
	assert.True(VerifyPath(br, cursor, 0, l1Bno, max1, false))

	// Advance to the second leaf (the leaf chain's own Forw pointer,
	// exactly how validateNodeTree walks it) and verify its path
	// corrects the root.
	nextBno := h1.Forw
	assert.Equal(uint32(l2Bno), nextBno)

	l2Buf, err := br.ReadDirBlock(nextBno)
	assert.NoError(err)
	h2 := DecodeLeafHeader(l2Buf)
	max2, ok2 := ValidateLeafBlock(h2, DecodeLeafEntries(l2Buf, h2.Count), nextBno, max1)
	assert.True(ok2)
	assert.Equal(uint32(40), max2)
	assert.True(VerifyPath(br, cursor, 0, nextBno, max2, false))

	rootBuf, _ := br.ReadDirBlock(rootBno)
	rootH := DecodeNodeHeader(rootBuf)
	rootEnts := DecodeNodeEntries(rootBuf, rootH.Count)
	assert.Equal(uint32(40), rootEnts[1].Hashval)
}

// With noModify set, VerifyPath reports a wrong interior hashval (99
// where the leaf's maximum is 10) but leaves the node block unchanged.
func TestVerifyPathNoModifyReportsWithoutWriting(t *testing.T) {
	assert := assert.New(t)

	br := memBlockReader{}
	br[1] = makeNodeBlock(uint32(MagicNodeV2), 1, 0, 0, []NodeEntry{
		{Hashval: 99, Before: 2},
	})
	br[2] = makeLeafBlock(uint32(MagicLeafV2), 0, 0, []LeafEntry{
		{Hashval: 10, Address: 100},
	})

	cursor, leafStart, ok := TraverseLeftmost(br, 1)
	assert.True(ok)
	assert.Equal(uint32(2), leafStart)

	before := append([]byte(nil), br[1]...)
	chain, bnos, err := WalkLeafChain(br, 2, 0)
	assert.NoError(err)
	assert.True(VerifyPath(br, cursor, 0, bnos[0], chain.GreatestHashval, true))
	assert.Equal(before, br[1])
}

// A root entry past the one actually reached by the leaf chain (junk
// left dangling above the last real leaf) fails the final-path check
// even though every leaf block itself is perfectly well formed.
func TestValidateNodeTreeTrailingJunkFails(t *testing.T) {
	assert := assert.New(t)

	const rootBno, leafBno = 1, 2
	br := memBlockReader{}
	br[rootBno] = makeNodeBlock(uint32(MagicNodeV2), 1, 0, 0, []NodeEntry{
		{Hashval: 20, Before: leafBno},
		{Hashval: 99, Before: 0}, // trailing junk: no second leaf exists
	})
	br[leafBno] = makeLeafBlock(uint32(MagicLeafV2), 0, 0, []LeafEntry{
		{Hashval: 10, Address: 100}, {Hashval: 20, Address: 101},
	})

	err := validateNodeTree(br, 7, rootBno, true)
	assert.Error(err)
}

// A mismatched Before pointer (not just a wrong hashval) is a hard
// failure — the tree needs rebuilding, not a one-field patch.
func TestVerifyPathBadBlockNumber(t *testing.T) {
	assert := assert.New(t)

	br := memBlockReader{}
	br[1] = makeNodeBlock(uint32(MagicNodeV2), 1, 0, 0, []NodeEntry{
		{Hashval: 20, Before: 2},
	})
	cursor := &Cursor{Levels: []CursorLevel{{Bno: 1, Index: 0}}}

	assert.False(VerifyPath(br, cursor, 0, 999, 20, false))
}
