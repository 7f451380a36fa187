package dir2

import (
	"encoding/binary"

	"github.com/golang/glog"

	"github.com/melor/xfsprogs/common"
)

// DirKind selects which of the four on-disk directory encodings a
// given inode uses.
type DirKind int

const (
	KindShortform DirKind = iota
	KindBlock
	KindLeaf
	KindNode
)

// DataBlock addresses one directory data block by its directory-block
// number (DirBlk; nothing in this package reads it) and its filesystem
// block number (what BlockReader reads/writes).
type DataBlock struct {
	DirBlk uint32
	FsBlk  uint32
}

// DirLayout names the fixed geometry ProcessDir needs beyond the raw
// block bytes: the directory block size, the format version, and the
// node tree's root and leaf block numbers.
type DirLayout struct {
	BlockSize  int
	Version    Version
	RootBno    uint32 // node format only
	LeafBno    uint32 // leaf format only: the lone leaf block's da_bno
}

// DirResult summarizes everything ProcessDir found and fixed across a
// directory's blocks.
type DirResult struct {
	Dot, Dotdot bool
	Parent      common.Ino
	Dirty       bool
	Repair      bool
	Junk        bool // directory is unsalvageable; caller should blow it away
}

// ProcessDir dispatches to the encoding-specific repair routine, then
// (for leaf and node directories) validates the hash btree above the
// data blocks. Grounded on process_dir2's encoding dispatch together
// with process_block_dir2/process_leaf_node_dir2/process_node_dir2.
func ProcessDir(kind DirKind, ino, rootIno common.Ino, layout DirLayout, sf *Shortform, dataBlocks []DataBlock, br BlockReader, noModify, inoDiscovery bool, oracle InodeOracle) (*DirResult, error) {
	switch kind {
	case KindShortform:
		r := ProcessShortform(sf, ino, rootIno, layout.BlockSize, noModify, inoDiscovery, oracle)
		return &DirResult{Parent: r.Parent, Dirty: r.Dirty, Repair: r.Repair}, nil
	case KindBlock:
		return processBlockDir(ino, rootIno, layout, dataBlocks, br, noModify, inoDiscovery, oracle)
	case KindLeaf:
		return processLeafNodeDir(ino, rootIno, layout, dataBlocks, br, noModify, inoDiscovery, oracle, false)
	case KindNode:
		return processLeafNodeDir(ino, rootIno, layout, dataBlocks, br, noModify, inoDiscovery, oracle, true)
	}
	return nil, nil
}

// processBlockDir handles the single-block format: one block holds
// both the data entries and, packed at its tail, the leaf lookup
// table. Grounded on process_block_dir2.
func processBlockDir(ino, rootIno common.Ino, layout DirLayout, dataBlocks []DataBlock, br BlockReader, noModify, inoDiscovery bool, oracle InodeOracle) (*DirResult, error) {
	if len(dataBlocks) != 1 {
		glog.V(1).Infof("dir2: block-format inode %d does not have exactly one data block", ino)
		return &DirResult{Junk: true}, nil
	}
	buf, err := br.ReadDirBlock(dataBlocks[0].FsBlk)
	if err != nil {
		return &DirResult{Junk: true}, err
	}
	h := DecodeDataHeader(buf, layout.Version)
	if h.Magic != MagicBlockV2 && h.Magic != MagicBlockV3 {
		glog.V(1).Infof("dir2: bad directory block magic %#x for inode %d", h.Magic, ino)
	}

	start := HeaderSize(layout.Version)
	end := blockTailStart(buf, layout)

	ok, badBest := ValidateData(buf, h, start, end)
	if !ok {
		return &DirResult{Junk: true}, nil
	}
	res := ProcessData(buf, h, start, end, ino, rootIno, noModify, inoDiscovery, oracle)
	dirty := res.Dirty || badBest

	if layout.Version == V3 && !VerifyChecksum(buf, V3) {
		dirty = true
	}
	if dirty && !noModify {
		EncodeDataHeader(h, buf)
		if err := br.WriteDirBlock(dataBlocks[0].FsBlk, buf); err != nil {
			return nil, err
		}
	}
	return &DirResult{Dot: res.Dot, Dotdot: res.Dotdot, Parent: res.Parent, Dirty: dirty, Repair: dirty}, nil
}

// blockTailSize is the fixed xfs_dir2_block_tail_t trailer at the very
// end of a block-format directory block: a leaf-entry count and a
// stale count, each 4 bytes.
const blockTailSize = 8

// blockLeafEntSize is the size of one xfs_dir2_leaf_entry_t (hashval,
// address) in the inline leaf lookup array packed just before the
// block tail.
const blockLeafEntSize = 8

// blockTailStart locates where the leaf lookup table begins in a
// block-format directory block (xfs_dir2_block_leaf_p), so the
// data-entry scan never walks into it. The tail sits at the fixed
// offset blksize-blockTailSize; the leaf array immediately precedes it,
// sized by the tail's own count field. Grounded on process_block_dir2
// (original_source/repair/dir2.c:1577-1583): blp is clamped to btp when
// the decoded count would push it past the tail.
func blockTailStart(buf []byte, layout DirLayout) int {
	tailOff := len(buf) - blockTailSize
	if tailOff < 0 {
		return len(buf)
	}
	count := binary.BigEndian.Uint32(buf[tailOff : tailOff+4])
	blp := tailOff - int(count)*blockLeafEntSize
	if blp > tailOff || blp < 0 {
		blp = tailOff
	}
	return blp
}

// processLeafNodeDir handles both leaf-format (a single separate leaf
// block) and node-format (a leaf btree with interior nodes above it)
// directories: process every data block, then validate the hash
// structure above them. Grounded on process_leaf_node_dir2 /
// process_node_dir2 / process_leaf_level_dir2.
func processLeafNodeDir(ino, rootIno common.Ino, layout DirLayout, dataBlocks []DataBlock, br BlockReader, noModify, inoDiscovery bool, oracle InodeOracle, isNode bool) (*DirResult, error) {
	res := &DirResult{Parent: NullIno}
	good := 0

	for _, db := range dataBlocks {
		buf, err := br.ReadDirBlock(db.FsBlk)
		if err != nil {
			glog.V(1).Infof("dir2: can't read block %d for directory inode %d", db.FsBlk, ino)
			continue
		}
		h := DecodeDataHeader(buf, layout.Version)
		if h.Magic != MagicDataV2 && h.Magic != MagicDataV3 {
			glog.V(1).Infof("dir2: bad directory block magic %#x for inode %d", h.Magic, ino)
		}
		start := HeaderSize(layout.Version)
		end := len(buf)

		ok, badBest := ValidateData(buf, h, start, end)
		if !ok {
			continue
		}
		entRes := ProcessData(buf, h, start, end, ino, rootIno, noModify, inoDiscovery, oracle)
		good++
		if entRes.Dot {
			res.Dot = true
		}
		if entRes.Dotdot {
			res.Dotdot = true
			res.Parent = entRes.Parent
		}
		dirty := entRes.Dirty || badBest
		if layout.Version == V3 && !VerifyChecksum(buf, V3) {
			dirty = true
		}
		if dirty && !noModify {
			res.Repair = true
			res.Dirty = true
			EncodeDataHeader(h, buf)
			if err := br.WriteDirBlock(db.FsBlk, buf); err != nil {
				return nil, err
			}
		}
	}
	if good == 0 {
		return &DirResult{Junk: true}, nil
	}
	if !isNode {
		chain, _, err := WalkLeafChain(br, layout.LeafBno, layout.BlockSize)
		if err != nil {
			return nil, err
		}
		if chain.NeedsRebuild {
			res.Junk = true
		}
		return res, nil
	}

	if layout.RootBno != 0 && validateNodeTree(br, ino, layout.RootBno, noModify) != nil {
		glog.V(1).Infof("dir2: bad hash path in directory %d", ino)
		res.Junk = true
	}
	return res, nil
}

// validateNodeTree descends to the leftmost leaf, walks the leaf chain
// left to right validating hash order and sibling continuity, and
// checks each interior level's recorded hashval/child-pointer against
// what the level below it actually produced — the parent-hashval-
// equals-max-descendant-hashval invariant — all the way back up to the
// root. Grounded on process_node_dir2 + process_leaf_level_dir2 +
// verify_dir2_path/verify_final_dir2_path.
func validateNodeTree(br BlockReader, ino common.Ino, rootBno uint32, noModify bool) error {
	cursor, leafStart, ok := TraverseLeftmost(br, rootBno)
	if !ok {
		return errBadNodeTree
	}
	if leafStart == 0 {
		return nil
	}

	bno := leafStart
	prevBno := uint32(0)
	current := uint32(0)
	for bno != 0 {
		buf, err := br.ReadDirBlock(bno)
		if err != nil {
			return err
		}
		h := DecodeLeafHeader(buf)
		if h.Magic != uint32(MagicLeafV2) && h.Magic != uint32(MagicLeafV3) {
			glog.V(1).Infof("dir2: bad directory leaf magic %#x for directory inode %d block %d", h.Magic, ino, bno)
			return errBadNodeTree
		}
		ents := DecodeLeafEntries(buf, h.Count)
		next, ok := ValidateLeafBlock(h, ents, bno, current)
		if !ok {
			return errBadNodeTree
		}
		if h.Back != prevBno {
			glog.V(1).Infof("dir2: bad sibling back pointer for block %d in directory inode %d", bno, ino)
			return errBadNodeTree
		}
		current = next
		prevBno = bno

		// Every level above the leaf must record this leaf's own block
		// number and the running max hashval as its current entry —
		// the entry-count invariant means each level-0 entry corresponds
		// to exactly one leaf sibling block.
		for lvl := 0; lvl < len(cursor.Levels); lvl++ {
			if !VerifyPath(br, cursor, lvl, bno, current, noModify) {
				return errBadNodeTree
			}
		}
		bno = h.Forw
	}

	// The leaf chain is exhausted; every interior level must have
	// consumed its entire entry list up through the one describing the
	// last leaf, with no sibling blocks left unvisited. Without this,
	// trailing junk entries above the last real leaf pass unnoticed.
	if !VerifyFinalPath(br, cursor, current) {
		glog.V(1).Infof("dir2: trailing junk above the last leaf in directory %d", ino)
		return errBadNodeTree
	}
	return nil
}

var errBadNodeTree = nodeTreeError("dir2: bad hash path in directory")

type nodeTreeError string

func (e nodeTreeError) Error() string { return string(e) }
