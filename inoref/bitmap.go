// Package inoref provides the concrete dir2.InodeOracle a repair pass
// wires in: a bitmap-backed record of which inodes are allocated, and a
// sharded set of inodes seen but not yet confirmed during inode
// discovery. Grounded on alloc.Alloc's per-number bitmap (rewritten
// around fixed-size inode chunks instead of a single flat bitmap
// region, since a repair pass discovers chunks as it walks the AGI
// trees rather than owning a contiguous allocation range) and
// addr.Addr's bit-addressing scheme.
package inoref

import (
	"sync"

	"github.com/melor/xfsprogs/common"
)

// ChunkSize is the number of consecutive inode numbers tracked by one
// inode chunk record, mirroring the real filesystem's fixed inodes-
// per-chunk allocation granularity.
const ChunkSize = 64

// Chunk records which of ChunkSize consecutive inodes starting at
// StartIno are free (bit i set) versus allocated (bit i clear), and
// which have been positively confirmed in use by a scan pass reaching
// them.
type Chunk struct {
	StartIno  common.Ino
	Free      uint64
	Confirmed uint64
}

func chunkBase(ino common.Ino) common.Ino {
	return (ino / ChunkSize) * ChunkSize
}

// BitmapOracle answers dir2.InodeOracle's questions from a set of
// known inode chunks plus the filesystem's fixed reserved-inode
// numbers. A repair pass populates chunks via AddChunk as it walks the
// inode btree, then hands BitmapOracle to dir2.ProcessDir /
// dir2.ProcessShortform.
type BitmapOracle struct {
	mu     sync.RWMutex
	chunks map[common.Ino]*Chunk
	maxIno common.Ino

	rootIno                                         common.Ino
	rbmIno, rsumIno, uquotaIno, gquotaIno, pquotaIno common.Ino

	uncertain *UncertainSet
}

// NewBitmapOracle builds an oracle over a filesystem whose valid inode
// numbers run [1, maxIno), with the given fixed reserved inodes
// (pass common.NullIno for any that aren't present).
func NewBitmapOracle(maxIno common.Ino, rootIno, rbmIno, rsumIno, uquotaIno, gquotaIno, pquotaIno common.Ino) *BitmapOracle {
	return &BitmapOracle{
		chunks:    make(map[common.Ino]*Chunk),
		maxIno:    maxIno,
		rootIno:   rootIno,
		rbmIno:    rbmIno,
		rsumIno:   rsumIno,
		uquotaIno: uquotaIno,
		gquotaIno: gquotaIno,
		pquotaIno: pquotaIno,
		uncertain: NewUncertainSet(),
	}
}

// AddChunk records a newly-discovered inode chunk, replacing any
// earlier record for the same chunk base.
func (o *BitmapOracle) AddChunk(c *Chunk) {
	o.mu.Lock()
	o.chunks[chunkBase(c.StartIno)] = c
	o.mu.Unlock()
}

// ConfirmInode marks ino as positively in use, resolving any prior
// uncertainty recorded for it.
func (o *BitmapOracle) ConfirmInode(ino common.Ino) {
	o.mu.Lock()
	if c, ok := o.chunks[chunkBase(ino)]; ok {
		c.Confirmed |= 1 << uint(ino%ChunkSize)
	}
	o.mu.Unlock()
	o.uncertain.Remove(ino)
}

// VerifyInum reports whether ino is out of range for this filesystem:
// zero, or at or beyond maxIno. No alignment check is made; inodes are
// tracked at 1-inode granularity.
func (o *BitmapOracle) VerifyInum(ino common.Ino) bool {
	return ino == 0 || ino >= o.maxIno
}

// ReservedReason reports whether ino names one of the filesystem's
// fixed metadata inodes.
func (o *BitmapOracle) ReservedReason(ino common.Ino) (string, bool) {
	switch ino {
	case o.rbmIno:
		return "realtime bitmap", true
	case o.rsumIno:
		return "realtime summary", true
	case o.uquotaIno:
		return "user quota", true
	case o.gquotaIno:
		return "group quota", true
	case o.pquotaIno:
		return "project quota", true
	}
	return "", false
}

// FindInodeRec reports whether ino falls within a chunk this oracle
// has already recorded.
func (o *BitmapOracle) FindInodeRec(ino common.Ino) bool {
	o.mu.RLock()
	_, ok := o.chunks[chunkBase(ino)]
	o.mu.RUnlock()
	return ok
}

// IsInodeConfirmed reports whether ino has been positively identified
// as in use.
func (o *BitmapOracle) IsInodeConfirmed(ino common.Ino) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	c, ok := o.chunks[chunkBase(ino)]
	if !ok {
		return false
	}
	return c.Confirmed&(1<<uint(ino%ChunkSize)) != 0
}

// IsInodeFree reports whether ino's chunk marks it free.
func (o *BitmapOracle) IsInodeFree(ino common.Ino) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	c, ok := o.chunks[chunkBase(ino)]
	if !ok {
		return false
	}
	return c.Free&(1<<uint(ino%ChunkSize)) != 0
}

// AddInodeUncertain records ino as referenced but not yet confirmed.
func (o *BitmapOracle) AddInodeUncertain(ino common.Ino) {
	o.uncertain.Add(ino)
}

// Uncertain returns every inode number currently recorded as
// referenced-but-unconfirmed, for a discovery pass to resolve.
func (o *BitmapOracle) Uncertain() []common.Ino {
	return o.uncertain.Snapshot()
}
