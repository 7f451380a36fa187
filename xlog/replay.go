package xlog

import (
	"github.com/pkg/errors"

	"github.com/melor/xfsprogs/block"
	"github.com/melor/xfsprogs/common"
	"github.com/melor/xfsprogs/util"
)

// Dispatcher receives completed transactions during a replay pass.
// CommitPass1 sees every transaction during the first pass (buffer
// items only, per §4.C4's ordering rule); CommitPass2 sees every
// transaction during the second (everything else). Callers that don't
// care about the pass distinction can implement both with the same
// underlying logic.
type Dispatcher interface {
	CommitPass1(trans *Transaction) error
	CommitPass2(trans *Transaction) error
}

// Replay walks the log from tail to head, exactly once, reconstructing
// transactions and handing each COMMIT to disp. Grounded on
// xlog_do_recovery_pass: the tail<=head case reads records sequentially;
// the wrapped case (tail>head) walks the end of the log, then the start,
// splicing any record whose data area straddles the physical end via
// block.ReadScattered.
func (s *Scanner) Replay(tail, head common.Bnum, pass int, disp Dispatcher) error {
	table := NewTable()

	if tail <= head {
		if err := s.replayRange(tail, head, table, pass, disp); err != nil {
			return err
		}
	} else {
		if err := s.replayWrapped(tail, head, table, pass, disp); err != nil {
			return err
		}
	}

	for _, t := range table.Stray() {
		util.DPrintf(1, "xlog: discarding transaction tid=%d with no commit\n", t.Tid)
	}
	return nil
}

// replayRange handles the common case: the live region of the log does
// not straddle the physical end.
func (s *Scanner) replayRange(start, end common.Bnum, table *Table, pass int, disp Dispatcher) error {
	blk := start
	for blk < end {
		h, data, err := s.readRecord(blk)
		if err != nil {
			return err
		}
		if err := s.processRecord(h, data, table, pass, disp); err != nil {
			return err
		}
		blk += common.Bnum(common.RoundUpBB(uint64(h.Len))) + 1
	}
	return nil
}

// replayWrapped handles a log whose live region wraps: tail..Len-1, then
// 0..head. A record whose data area crosses the physical end is spliced
// back together via block.ReadScattered before it is unpacked.
func (s *Scanner) replayWrapped(tail, head common.Bnum, table *Table, pass int, disp Dispatcher) error {
	blk := tail
	for blk < s.Len {
		hb, err := s.F.Read(blk, 1)
		if err != nil {
			return err
		}
		h := DecodeRecordHeader(hb.Data, s.F.BBSize())
		if h.Magic != RecordMagic {
			return errors.New("xlog: expected record header, found garbage while replaying wrapped log")
		}
		bblks := common.RoundUpBB(uint64(h.Len))
		var buf *block.Buf
		dataStart := blk + 1
		if uint64(dataStart)+bblks <= uint64(s.Len) {
			buf, err = s.F.Read(dataStart, bblks)
		} else {
			splitBblks := uint64(s.Len) - uint64(dataStart)
			var exts []block.Extent
			if splitBblks > 0 {
				exts = append(exts, block.Extent{Off: dataStart, Nbbs: splitBblks})
			}
			exts = append(exts, block.Extent{Off: 0, Nbbs: bblks - splitBblks})
			buf, err = s.F.ReadScattered(exts)
		}
		if err != nil {
			return err
		}
		data := Unpack(h, buf.Data, s.F.BBSize())[:h.Len]
		if err := s.processRecord(h, data, table, pass, disp); err != nil {
			return err
		}
		blk += common.Bnum(bblks) + 1
	}

	// blk has overshot s.Len by however much of the last (possibly
	// split) record's data landed past the physical end; that's exactly
	// where the first part of the log resumes.
	blk -= s.Len
	for blk < head {
		h, data, err := s.readRecord(blk)
		if err != nil {
			return err
		}
		if err := s.processRecord(h, data, table, pass, disp); err != nil {
			return err
		}
		blk += common.Bnum(common.RoundUpBB(uint64(h.Len))) + 1
	}
	return nil
}

func (s *Scanner) readRecord(blk common.Bnum) (*RecordHeader, []byte, error) {
	hb, err := s.F.Read(blk, 1)
	if err != nil {
		return nil, nil, err
	}
	h := DecodeRecordHeader(hb.Data, s.F.BBSize())
	if h.Magic != RecordMagic {
		return nil, nil, errors.New("xlog: expected record header, found garbage while replaying log")
	}
	bblks := common.RoundUpBB(uint64(h.Len))
	if bblks == 0 {
		return h, nil, nil
	}
	db, err := s.F.Read(blk+1, bblks)
	if err != nil {
		return nil, nil, err
	}
	return h, Unpack(h, db.Data, s.F.BBSize())[:h.Len], nil
}

// processRecord implements xlog_recover_process_data: it walks a
// record's data area op by op, feeding each op to its transaction, and
// dispatches transactions that reach COMMIT_TRANS.
func (s *Scanner) processRecord(h *RecordHeader, data []byte, table *Table, pass int, disp Dispatcher) error {
	if data == nil {
		return nil
	}
	pos := uint64(0)
	for pos < uint64(len(data)) {
		if pos+opHeaderSize > uint64(len(data)) {
			return errors.New("xlog: truncated op header")
		}
		op := DecodeOpHeader(data[pos : pos+opHeaderSize])
		pos += opHeaderSize
		if op.ClientID != ClientTransaction && op.ClientID != ClientLog {
			return errors.New("xlog: bad client id in log operation")
		}
		if pos+uint64(op.Len) > uint64(len(data)) {
			return errors.New("xlog: log operation overruns its record")
		}
		body := data[pos : pos+uint64(op.Len)]
		pos += uint64(op.Len)

		trans := table.Find(op.Tid)
		if trans == nil {
			if op.Flags&OpStart != 0 {
				table.Start(op.Tid, h.LSN)
			}
			continue
		}

		flags := op.Flags &^ OpEnd
		if flags&OpWasCont != 0 {
			flags &^= OpContinue
		}
		switch {
		case flags&OpCommit != 0:
			table.Unlink(trans)
			if err := dispatch(disp, trans, pass); err != nil {
				return err
			}
		case flags&OpUnmount != 0:
			util.DPrintf(2, "xlog: unmount record for tid=%d\n", trans.Tid)
			table.Unlink(trans)
		case flags&OpWasCont != 0:
			trans.addToContTrans(body)
		case flags == 0 || flags&OpContinue != 0:
			trans.addToTrans(body)
		default:
			return errors.New("xlog: bad operation flags in log record")
		}
	}
	return nil
}

func dispatch(disp Dispatcher, trans *Transaction, pass int) error {
	if pass == 1 {
		return disp.CommitPass1(trans)
	}
	return disp.CommitPass2(trans)
}
