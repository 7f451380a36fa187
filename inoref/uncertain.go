package inoref

import (
	"sync"

	"github.com/melor/xfsprogs/common"
)

// NSHARD is the number of shards the uncertain set splits its
// membership across; shard i owns every inode a such that a%NSHARD==i.
// Grounded on lockmap.LockMap's sharded-by-modulus design, with the
// same shard count as lockmap (43).
const NSHARD uint64 = 43

type uncertainShard struct {
	mu   sync.Mutex
	inos map[common.Ino]struct{}
}

// UncertainSet records inode numbers an entry referenced during
// inode-discovery mode before the inode btree scan reached them,
// mirroring the repair tool's runtime "uncertain inodes" list. Adds
// and removals happen concurrently from per-directory repair workers;
// Snapshot copies the members out, without removing them, for the
// discovery pass that resolves them.
type UncertainSet struct {
	shards []*uncertainShard
}

// NewUncertainSet builds an empty uncertain set.
func NewUncertainSet() *UncertainSet {
	shards := make([]*uncertainShard, NSHARD)
	for i := range shards {
		shards[i] = &uncertainShard{inos: make(map[common.Ino]struct{})}
	}
	return &UncertainSet{shards: shards}
}

func (s *UncertainSet) shardFor(ino common.Ino) *uncertainShard {
	return s.shards[uint64(ino)%NSHARD]
}

// Add records ino as uncertain.
func (s *UncertainSet) Add(ino common.Ino) {
	sh := s.shardFor(ino)
	sh.mu.Lock()
	sh.inos[ino] = struct{}{}
	sh.mu.Unlock()
}

// Remove clears ino's uncertain status, e.g. once the inode btree scan
// confirms it one way or the other.
func (s *UncertainSet) Remove(ino common.Ino) {
	sh := s.shardFor(ino)
	sh.mu.Lock()
	delete(sh.inos, ino)
	sh.mu.Unlock()
}

// Contains reports whether ino is currently recorded as uncertain.
func (s *UncertainSet) Contains(ino common.Ino) bool {
	sh := s.shardFor(ino)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	_, ok := sh.inos[ino]
	return ok
}

// Snapshot returns every inode number currently recorded, in no
// particular order.
func (s *UncertainSet) Snapshot() []common.Ino {
	var out []common.Ino
	for _, sh := range s.shards {
		sh.mu.Lock()
		for ino := range sh.inos {
			out = append(out, ino)
		}
		sh.mu.Unlock()
	}
	return out
}

// Len reports how many inodes are currently recorded as uncertain.
func (s *UncertainSet) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.inos)
		sh.mu.Unlock()
	}
	return n
}
