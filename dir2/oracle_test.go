package dir2

import "github.com/melor/xfsprogs/common"

// stubOracle treats every inode as valid, allocated, and in use unless
// explicitly listed as free or reserved — enough to drive the junk/keep
// decisions in ProcessData/ProcessShortform without a real inode tree.
type stubOracle struct {
	free        map[common.Ino]bool
	reserved    map[common.Ino]string
	unallocated map[common.Ino]bool
	uncertain   []common.Ino
}

func newStubOracle() *stubOracle {
	return &stubOracle{
		free:        map[common.Ino]bool{},
		reserved:    map[common.Ino]string{},
		unallocated: map[common.Ino]bool{},
	}
}

func (o *stubOracle) VerifyInum(ino common.Ino) bool { return false }

func (o *stubOracle) ReservedReason(ino common.Ino) (string, bool) {
	r, ok := o.reserved[ino]
	return r, ok
}

func (o *stubOracle) FindInodeRec(ino common.Ino) bool { return !o.unallocated[ino] }

func (o *stubOracle) IsInodeConfirmed(ino common.Ino) bool { return true }

func (o *stubOracle) IsInodeFree(ino common.Ino) bool { return o.free[ino] }

func (o *stubOracle) AddInodeUncertain(ino common.Ino) { o.uncertain = append(o.uncertain, ino) }
