package repair

import (
	"sync"

	"github.com/melor/xfsprogs/common"
)

// NSHARD mirrors shardmap.BlockMap's sharding constant, scaled down
// from its 65537-way split (sized for a cache keyed by every disk
// block address in the filesystem) since a set of known-bad
// directories is orders of magnitude smaller — one entry per corrupt
// directory inode, not per block.
const NSHARD uint64 = 1031

type badDirShard struct {
	mu   sync.RWMutex
	inos map[common.Ino]struct{}
}

// BadDirSet is the append-only set of directory inodes ProcessDir
// found unsalvageable, populated concurrently by one goroutine per
// directory during the repair phase. Grounded on shardmap.BlockMap's
// sharded-by-modulus sync.RWMutex map, repurposed here from a
// disk-block cache to an inode-number set.
type BadDirSet struct {
	shards []*badDirShard
}

// NewBadDirSet builds an empty set.
func NewBadDirSet() *BadDirSet {
	shards := make([]*badDirShard, NSHARD)
	for i := range shards {
		shards[i] = &badDirShard{inos: make(map[common.Ino]struct{})}
	}
	return &BadDirSet{shards: shards}
}

func (s *BadDirSet) shardFor(ino common.Ino) *badDirShard {
	return s.shards[uint64(ino)%NSHARD]
}

// Add records ino as a known-bad directory.
func (s *BadDirSet) Add(ino common.Ino) {
	sh := s.shardFor(ino)
	sh.mu.Lock()
	sh.inos[ino] = struct{}{}
	sh.mu.Unlock()
}

// Contains reports whether ino was previously recorded as bad.
func (s *BadDirSet) Contains(ino common.Ino) bool {
	sh := s.shardFor(ino)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	_, ok := sh.inos[ino]
	return ok
}

// Len reports the total number of directories recorded as bad.
func (s *BadDirSet) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.inos)
		sh.mu.RUnlock()
	}
	return n
}

// Snapshot returns every inode number currently recorded, in no
// particular order.
func (s *BadDirSet) Snapshot() []common.Ino {
	var out []common.Ino
	for _, sh := range s.shards {
		sh.mu.RLock()
		for ino := range sh.inos {
			out = append(out, ino)
		}
		sh.mu.RUnlock()
	}
	return out
}
