package repair

import (
	"sync"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/melor/xfsprogs/block"
	"github.com/melor/xfsprogs/common"
	"github.com/melor/xfsprogs/dir2"
	"github.com/melor/xfsprogs/xlog"
)

// DirTask names one directory inode's on-disk layout and pre-read
// shortform body, everything ProcessDir needs beyond the block reader
// and shared oracle/context.
type DirTask struct {
	Ino        common.Ino
	Kind       dir2.DirKind
	Layout     dir2.DirLayout
	Shortform  *dir2.Shortform
	DataBlocks []dir2.DataBlock
}

// Recover runs the two ordered recovery phases: log replay to
// completion (both xlog passes, buffer items before everything else),
// then directory repair across every directory task, fanned out over a
// small fixed worker pool. Grounded on wal.Walog's startBackgroundThreads
// (go func per worker) generalized from two fixed background threads to
// a caller-sized pool, and on process_dir2's per-inode dispatch loop.
// The ordering itself is not optional: directory repair must never race
// ahead of log replay, since replay can rewrite the very blocks
// ProcessDir is about to read.
func Recover(ctx *Context, scanner *xlog.Scanner, tail, head common.Bnum, disp xlog.Dispatcher, f *block.Facade, fsBlockSize int, rootIno common.Ino, dirs []DirTask, oracle dir2.InodeOracle, workers int) (*BadDirSet, error) {
	if err := scanner.Replay(tail, head, 1, disp); err != nil {
		return nil, errors.Wrap(err, "repair: log replay pass 1 failed")
	}
	if err := scanner.Replay(tail, head, 2, disp); err != nil {
		return nil, errors.Wrap(err, "repair: log replay pass 2 failed")
	}

	bad := NewBadDirSet()
	br := newBlockReader(f, fsBlockSize)

	if workers < 1 {
		workers = 1
	}
	tasks := make(chan DirTask)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				processOne(ctx, br, rootIno, oracle, bad, t)
			}
		}()
	}
	for _, t := range dirs {
		tasks <- t
	}
	close(tasks)
	wg.Wait()

	return bad, nil
}

func processOne(ctx *Context, br dir2.BlockReader, rootIno common.Ino, oracle dir2.InodeOracle, bad *BadDirSet, t DirTask) {
	res, err := dir2.ProcessDir(t.Kind, t.Ino, rootIno, t.Layout, t.Shortform, t.DataBlocks, br, ctx.NoModify, ctx.InoDiscovery, oracle)
	if err != nil {
		glog.V(1).Infof("repair: directory inode %d failed to process: %v", t.Ino, err)
		bad.Add(t.Ino)
		return
	}
	if res == nil || res.Junk {
		bad.Add(t.Ino)
		return
	}
	if t.Ino == rootIno && !res.Dotdot {
		ctx.SetNeedRootDotdot()
	}
}
