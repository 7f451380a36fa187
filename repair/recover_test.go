package repair

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/melor/xfsprogs/common"
	"github.com/melor/xfsprogs/dir2"
	"github.com/melor/xfsprogs/inoref"
	"github.com/melor/xfsprogs/xlog"
)

type noopDispatcher struct{}

func (noopDispatcher) CommitPass1(*xlog.Transaction) error { return nil }
func (noopDispatcher) CommitPass2(*xlog.Transaction) error { return nil }

func sfTask(ino, parent common.Ino, childIno common.Ino) DirTask {
	return DirTask{
		Ino:  ino,
		Kind: dir2.KindShortform,
		Shortform: &dir2.Shortform{
			Parent: parent,
			Count:  1,
			Entries: []dir2.SfEntry{
				{NameLen: 3, Name: []byte("foo"), Ino: childIno, Offset: uint16(dir2.HeaderSize(dir2.V2))},
			},
		},
	}
}

func TestRecoverRunsReplayThenDirectories(t *testing.T) {
	assert := assert.New(t)

	f := newTestFacade(8)
	scanner := &xlog.Scanner{F: f, Len: common.Bnum(8)}
	ctx := NewContext()
	oracle := inoref.NewBitmapOracle(10000, common.RootIno, common.NullIno, common.NullIno, common.NullIno, common.NullIno, common.NullIno)
	oracle.AddChunk(&inoref.Chunk{StartIno: 192, Confirmed: 1 << 8}) // ino 200 in use

	tasks := []DirTask{
		sfTask(common.RootIno, common.RootIno, 200),
	}

	bad, err := Recover(ctx, scanner, 0, 0, noopDispatcher{}, f, 4096, common.RootIno, tasks, oracle, 2)
	assert.NoError(err)
	assert.Equal(0, bad.Len())
}

func TestRecoverMarksUnsalvageableDirectoriesBad(t *testing.T) {
	assert := assert.New(t)

	f := newTestFacade(8)
	scanner := &xlog.Scanner{F: f, Len: common.Bnum(8)}
	ctx := NewContext()
	oracle := inoref.NewBitmapOracle(10000, common.RootIno, common.NullIno, common.NullIno, common.NullIno, common.NullIno, common.NullIno)

	// A block-format task with no data blocks at all is unsalvageable
	// per processBlockDir's exactly-one-block requirement.
	tasks := []DirTask{
		{Ino: 300, Kind: dir2.KindBlock, DataBlocks: nil},
	}

	bad, err := Recover(ctx, scanner, 0, 0, noopDispatcher{}, f, 4096, common.RootIno, tasks, oracle, 2)
	assert.NoError(err)
	assert.True(bad.Contains(300))
}
