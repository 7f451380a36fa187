package xlog

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/melor/xfsprogs/block"
	"github.com/melor/xfsprogs/common"
	"github.com/melor/xfsprogs/util"
)

// Scanner discovers the head and tail of a circular physical log that
// may have been abruptly truncated mid-write (C3).
//
// Grounded directly on original_source/libxlog/xfs_log_recover.c's
// xlog_find_head/xlog_find_tail/xlog_find_zeroed family; NotFound is
// modeled as a (value, bool) pair rather than the original's
// overloaded -1 return, per spec.md §9's open question on that hazard.
type Scanner struct {
	F        *block.Facade
	Len      common.Bnum // L, the log length in basic blocks
	MountUUID [16]byte
}

// maxScanBBs bounds how far FindHead/FindZeroed will scan to validate a
// candidate boundary, mirroring MAX_ICLOGS<<MAX_RECORD_BSHIFT.
const (
	maxIclogs       = 8
	maxRecordBSize  = 256 * 1024 // bytes
)

func maxScanBBs(bbsize uint64) uint64 {
	return common.RoundUpBB(maxIclogs * maxRecordBSize)
}

func maxRecordBBs(bbsize uint64) uint64 {
	return common.RoundUpBB(maxRecordBSize)
}

func cycleOf(buf []byte) uint32 {
	return binary.BigEndian.Uint32(buf[0:4])
}

func (s *Scanner) readCycle(blk common.Bnum) (uint32, error) {
	b, err := s.F.Read(blk, 1)
	if err != nil {
		return 0, err
	}
	return cycleOf(b.Data), nil
}

// FindCycleStart performs a binary search for the lowest block in
// [first, last] whose cycle equals cycle, narrowing last on a hit and
// first on a miss. Precondition: the range straddles a transition from
// some other cycle into cycle. Postcondition: mid==first && mid+1==last
// (or the symmetric case), i.e. last is returned as the first occurrence.
func (s *Scanner) FindCycleStart(first, last common.Bnum, cycle uint32) (common.Bnum, error) {
	for {
		mid := (first + last) / 2
		if mid == first || mid == last {
			break
		}
		c, err := s.readCycle(mid)
		if err != nil {
			return 0, err
		}
		if c == cycle {
			last = mid
		} else {
			first = mid
		}
	}
	return last, nil
}

// FindVerifyCycle scans forward from start for n blocks looking for the
// first occurrence of stopCycle. Returns (blk, true, nil) on a hit, or
// (_, false, nil) if the whole range was scanned with no match.
func (s *Scanner) FindVerifyCycle(start common.Bnum, n uint64, stopCycle uint32) (common.Bnum, bool, error) {
	bufblks := n
	for bufblks > 0 {
		buf, err := s.F.GetBuf(bufblks)
		if err == nil {
			defer func() { _ = s.F.PutBuf(buf, true) }()
			for i := common.Bnum(0); i < common.Bnum(n); i += common.Bnum(bufblks) {
				bcount := util.Min(bufblks, n-uint64(i))
				if err := s.readRange(start+i, bcount, buf.Data); err != nil {
					return 0, false, err
				}
				for j := uint64(0); j < bcount; j++ {
					c := cycleOf(buf.Data[j*s.F.BBSize():])
					if c == stopCycle {
						return start + i + common.Bnum(j), true, nil
					}
				}
			}
			return 0, false, nil
		}
		bufblks >>= 1
	}
	return 0, false, block.ErrOutOfMemory
}

func (s *Scanner) readRange(start common.Bnum, nbbs uint64, into []byte) error {
	b, err := s.F.Read(start, nbbs)
	if err != nil {
		return err
	}
	copy(into, b.Data[:nbbs*s.F.BBSize()])
	return nil
}

var errHeaderCheckMount = errors.New("xlog: record header UUID does not match mount UUID")

// FindVerifyLogRecord scans backwards from last-1 toward start looking
// for a log-record-header magic. On finding one it verifies the mount
// UUID, then updates *last only if the distance implies we stopped
// mid-record (last-found+extra != BBs(h_len)+1). Returns found=false if
// the scan reached start without a hit.
func (s *Scanner) FindVerifyLogRecord(start common.Bnum, last *common.Bnum, extra uint64) (bool, error) {
	for i := int64(*last) - 1; i >= int64(start); i-- {
		b, err := s.F.Read(common.Bnum(i), 1)
		if err != nil {
			return false, err
		}
		if binary.BigEndian.Uint32(b.Data[4:8]) != RecordMagic {
			continue
		}
		h := DecodeRecordHeader(b.Data, s.F.BBSize())
		if h.UUID != s.MountUUID {
			return false, errHeaderCheckMount
		}
		if uint64(*last-common.Bnum(i))+extra != common.RoundUpBB(uint64(h.Len))+1 {
			*last = common.Bnum(i)
		}
		return true, nil
	}
	return false, nil
}

// ZeroState classifies how much of the log is still all-zero.
type ZeroState int

const (
	Written ZeroState = iota
	Zeroed
	Partial
)

// FindZeroed reports whether the log is fully written, fully zeroed, or
// partially zeroed. For Partial, the returned block is the first
// zero-cycle BB (cycle[0] must be 1 and cycle[L-1] must be 0, else the
// log is corrupt).
func (s *Scanner) FindZeroed() (ZeroState, common.Bnum, error) {
	firstCycle, err := s.readCycle(0)
	if err != nil {
		return Written, 0, err
	}
	if firstCycle == 0 {
		return Zeroed, 0, nil
	}
	lastCycle, err := s.readCycle(s.Len - 1)
	if err != nil {
		return Written, 0, err
	}
	if lastCycle != 0 {
		return Written, 0, nil
	}
	if firstCycle != 1 {
		return Written, 0, errors.New("xlog: inconsistent log (last cycle 0, first != 1)")
	}

	last := s.Len - 1
	last, err = s.FindCycleStart(0, last, 0)
	if err != nil {
		return Written, 0, err
	}

	scan := util.Min(maxScanBBs(s.F.BBSize()), uint64(last))
	start := last - common.Bnum(scan)
	newBlk, found, err := s.FindVerifyCycle(start, scan, 0)
	if err != nil {
		return Written, 0, err
	}
	if found {
		last = newBlk
	}
	return Partial, last, nil
}

// FindHead locates the true head of the log: the point where the next
// write would go, i.e. just past the last complete, uncorrupted record.
func (s *Scanner) FindHead() (common.Bnum, error) {
	state, blk, err := s.FindZeroed()
	if err != nil {
		return 0, err
	}
	if state == Zeroed {
		return 0, nil
	}
	if state == Partial {
		return blk, nil
	}

	firstCycle, err := s.readCycle(0)
	if err != nil {
		return 0, err
	}
	lastCycle, err := s.readCycle(s.Len - 1)
	if err != nil {
		return 0, err
	}

	var headBlk common.Bnum
	var stopCycle uint32
	if firstCycle == lastCycle {
		headBlk = s.Len
		stopCycle = lastCycle - 1
	} else {
		stopCycle = lastCycle
		headBlk, err = s.FindCycleStart(0, s.Len-1, lastCycle)
		if err != nil {
			return 0, err
		}
	}

	headBlk, err = s.validateHead(headBlk, stopCycle)
	if err != nil {
		return 0, err
	}

	headBlk, err = s.alignToRecordBoundary(headBlk)
	if err != nil {
		return 0, err
	}
	if headBlk == s.Len {
		return 0, nil
	}
	return headBlk, nil
}

func (s *Scanner) validateHead(headBlk common.Bnum, stopCycle uint32) (common.Bnum, error) {
	// Clamped to s.Len: a real log is always sized well above the
	// MAX_ICLOGS<<MAX_RECORD_BSHIFT window this bounds the scan to, but
	// a tiny log (as in tests) is not, and the two-part branch below
	// would otherwise underflow s.Len-numScan.
	numScan := util.Min(maxScanBBs(s.F.BBSize()), uint64(s.Len))
	if uint64(headBlk) >= numScan {
		start := headBlk - common.Bnum(numScan)
		newBlk, found, err := s.FindVerifyCycle(start, numScan, stopCycle)
		if err != nil {
			return 0, err
		}
		if found {
			headBlk = newBlk
		}
		return headBlk, nil
	}

	// Two-part scan: the end of the log, then the start.
	start := s.Len - common.Bnum(numScan) + headBlk
	newBlk, found, err := s.FindVerifyCycle(start, numScan-uint64(headBlk), stopCycle-1)
	if err != nil {
		return 0, err
	}
	if found {
		return newBlk, nil
	}
	newBlk, found, err = s.FindVerifyCycle(0, uint64(headBlk), stopCycle)
	if err != nil {
		return 0, err
	}
	if found {
		headBlk = newBlk
	}
	return headBlk, nil
}

func (s *Scanner) alignToRecordBoundary(headBlk common.Bnum) (common.Bnum, error) {
	numScan := util.Min(maxRecordBBs(s.F.BBSize()), uint64(s.Len))
	if uint64(headBlk) >= numScan {
		start := headBlk - common.Bnum(numScan)
		found, err := s.FindVerifyLogRecord(start, &headBlk, 0)
		if err != nil {
			return 0, err
		}
		if !found {
			return 0, errors.New("xlog: could not align head to a record boundary")
		}
		return headBlk, nil
	}

	found, err := s.FindVerifyLogRecord(0, &headBlk, 0)
	if err != nil {
		return 0, err
	}
	if found {
		return headBlk, nil
	}
	// Wrapped off the start: retry from the end of the log.
	start := s.Len - common.Bnum(numScan) + headBlk
	newBlk := s.Len
	found, err = s.FindVerifyLogRecord(start, &newBlk, uint64(headBlk))
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, errors.New("xlog: could not align head to a record boundary (wrapped)")
	}
	if newBlk != s.Len {
		headBlk = newBlk
	}
	return headBlk, nil
}

// FindTail locates the tail of the log given its head: the oldest block
// still needed for replay. If the record found there is a clean unmount
// record, the tail advances past it.
func (s *Scanner) FindTail(headBlk common.Bnum) (common.Bnum, error) {
	if headBlk == 0 {
		c, err := s.readCycle(0)
		if err != nil {
			return 0, err
		}
		if c == 0 {
			return 0, nil
		}
	}

	var i int64
	var found bool
	var h *RecordHeader
	for i = int64(headBlk) - 1; i >= 0; i-- {
		b, err := s.F.Read(common.Bnum(i), 1)
		if err != nil {
			return 0, err
		}
		if binary.BigEndian.Uint32(b.Data[4:8]) == RecordMagic {
			h = DecodeRecordHeader(b.Data, s.F.BBSize())
			found = true
			break
		}
	}
	if !found {
		for i = int64(s.Len) - 1; i >= int64(headBlk); i-- {
			b, err := s.F.Read(common.Bnum(i), 1)
			if err != nil {
				return 0, err
			}
			if binary.BigEndian.Uint32(b.Data[4:8]) == RecordMagic {
				h = DecodeRecordHeader(b.Data, s.F.BBSize())
				found = true
				break
			}
		}
	}
	if !found {
		return 0, errors.New("xlog: could not find sync record while searching for tail")
	}

	tailBlk := BlockLSN(h.TailLSN)

	// Unmount-record heuristic: only trust (i+2)%L as "the block after
	// the unmount record" once h_num_logops confirms the record really
	// was exactly one header + one data BB (spec.md §9's open question).
	afterUmount := common.Bnum((i + 2) % int64(s.Len))
	if headBlk == afterUmount && h.NumLogOps == 1 {
		umountDataBlk := common.Bnum((i + 1) % int64(s.Len))
		b, err := s.F.Read(umountDataBlk, 1)
		if err != nil {
			return 0, err
		}
		op := DecodeOpHeader(b.Data)
		if op.Flags&OpUnmount != 0 {
			tailBlk = afterUmount
		}
	}
	return tailBlk, nil
}
