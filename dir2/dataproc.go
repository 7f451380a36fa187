package dir2

import (
	"github.com/golang/glog"

	"github.com/melor/xfsprogs/common"
)

// JunkSentinel replaces an entry's first name byte to mark it deleted
// without having to compact the block (process_dir2_data's "clear the
// inode number" trick): a later pass treats any entry whose name starts
// with '/' as already-handled and skips it.
const JunkSentinel = '/'

// DataResult reports what ProcessData found/fixed in one data block's
// entry stream.
type DataResult struct {
	Dirty   bool
	Dot     bool
	Dotdot  bool
	Parent  common.Ino // NullIno if no (valid) dotdot entry was found
	Corrupt bool       // never set by ProcessData; ValidateData's ok reports a malformed entry stream
}

// ValidateData walks buf[start:end] once, checking that every unused
// region and entry is well-formed (in bounds, tag matches its own
// offset, aligned) and that the bestfree table agrees with what's
// actually free. It does not mutate buf. Grounded on process_dir2_data's
// first loop.
func ValidateData(buf []byte, h *DataHeader, start, end int) (ok bool, badBestfree bool) {
	badbest := !VerifyBestfree(h)
	var freeseen uint8
	for i := 0; i < bestfreeCount; i++ {
		if h.Bestfree[i].Length == 0 {
			badbest = badbest || h.Bestfree[i].Offset != 0
			freeseen |= 1 << uint(i)
		}
	}

	lastfree := false
	ptr := start
	for ptr < end {
		if isUnused(buf, ptr) {
			u := decodeUnused(buf, ptr)
			if ptr+int(u.Length) > end || u.Length == 0 || int(u.Length)%DataAlign != 0 {
				return false, badbest
			}
			if int(u.Tag) != ptr {
				return false, badbest
			}
			badbest = badbest || lastfree
			if idx := freefind(h.Bestfree, ptr, u.Length); idx >= 0 {
				badbest = badbest || freeseen&(1<<uint(idx)) != 0
				freeseen |= 1 << uint(idx)
			} else {
				badbest = badbest || u.Length > h.Bestfree[2].Length
			}
			ptr += int(u.Length)
			lastfree = true
			continue
		}
		e := decodeEntry(buf, ptr)
		sz := entsize(e.NameLen)
		if ptr+sz > end {
			return false, badbest
		}
		if int(e.Tag) != ptr {
			return false, badbest
		}
		ptr += sz
		lastfree = false
	}
	if ptr != end {
		return false, badbest
	}
	return true, badbest || freeseen != 0x7
}

// ProcessData walks buf[start:end] a second time, resolving every
// entry's inode-number reference through oracle and repairing dot/
// dotdot, self-references, and illegally-named entries. noModify runs
// read-only (as if every "clearing"/"repairing" action were only
// reported). Grounded on process_dir2_data's second loop.
func ProcessData(buf []byte, h *DataHeader, start, end int, ino, rootIno common.Ino, noModify, inoDiscovery bool, oracle InodeOracle) *DataResult {
	res := &DataResult{Parent: NullIno}

	ptr := start
	for ptr < end {
		if isUnused(buf, ptr) {
			u := decodeUnused(buf, ptr)
			ptr += int(u.Length)
			continue
		}
		e := decodeEntry(buf, ptr)
		sz := entsize(e.NameLen)

		if e.NameLen > 0 && e.Name[0] == JunkSentinel && !inoDiscovery {
			ptr += sz
			continue
		}

		clearIno, reason := classifyEntry(e, inoDiscovery, oracle)
		isDot := e.NameLen == 1 && e.Name[0] == '.'
		isDotdot := e.NameLen == 2 && e.Name[0] == '.' && e.Name[1] == '.'
		if isDot || isDotdot {
			clearIno = false
		}

		if clearIno {
			glog.V(1).Infof("dir2: entry %q in inode %d references %s inode %d", e.Name, ino, reason, e.Inumber)
		}
		junk := clearIno

		switch {
		case isDotdot:
			if !res.Dotdot {
				res.Dotdot = true
				res.Parent = e.Inumber
				if ino == e.Inumber && ino != rootIno {
					res.Parent = NullIno
					junk = true
				} else if ino != e.Inumber && ino == rootIno {
					if !noModify {
						putIno64(buf, e.Offset, ino)
						res.Dirty = true
					}
					res.Parent = ino
				}
			} else {
				junk = true
			}
		case isDot:
			if !res.Dot {
				res.Dot = true
				if e.Inumber != ino && !noModify {
					putIno64(buf, e.Offset, ino)
					res.Dirty = true
				}
			} else {
				junk = true
			}
		case e.Inumber == ino:
			junk = true
		}

		if junk && !noModify {
			e.Name[0] = JunkSentinel
			res.Dirty = true
		}

		ptr += sz
	}

	if newBf := Freescan(buf, h.Version, start, end); newBf != h.Bestfree {
		if !noModify {
			h.Bestfree = newBf
			res.Dirty = true
		}
	}
	return res
}

// classifyEntry decides whether an entry's inode reference must be
// cleared, mirroring process_dir2_data's cascading if/else on ent_ino.
func classifyEntry(e *Entry, inoDiscovery bool, oracle InodeOracle) (clear bool, reason string) {
	if oracle.VerifyInum(e.Inumber) {
		return true, "invalid"
	}
	if reason, ok := oracle.ReservedReason(e.Inumber); ok {
		return true, reason
	}
	if !oracle.FindInodeRec(e.Inumber) {
		if inoDiscovery {
			oracle.AddInodeUncertain(e.Inumber)
			return false, ""
		}
		return true, "non-existent"
	}
	if !inoDiscovery && oracle.IsInodeFree(e.Inumber) {
		return true, "free"
	}
	return false, ""
}

func putIno64(buf []byte, off int, ino common.Ino) {
	v := uint64(ino)
	buf[off+0] = byte(v >> 56)
	buf[off+1] = byte(v >> 48)
	buf[off+2] = byte(v >> 40)
	buf[off+3] = byte(v >> 32)
	buf[off+4] = byte(v >> 24)
	buf[off+5] = byte(v >> 16)
	buf[off+6] = byte(v >> 8)
	buf[off+7] = byte(v)
}
