package dir2

import "github.com/melor/xfsprogs/common"

// InodeOracle answers the questions process_dir2_data needs about a
// referenced inode number without dir2 itself owning any inode-tree
// state. A concrete implementation (a bitmap-backed allocator walk, or
// a stub for tests) is supplied by the caller.
type InodeOracle interface {
	// VerifyInum reports whether ino is out of the valid range for this
	// filesystem (too large, misaligned, or in an unallocated AG).
	VerifyInum(ino common.Ino) bool
	// ReservedReason reports a human-readable reason if ino names one
	// of the filesystem's fixed metadata inodes (realtime bitmap,
	// summary, quota inodes), and ok=true in that case.
	ReservedReason(ino common.Ino) (reason string, ok bool)
	// FindInodeRec reports whether ino falls within a known allocated
	// inode chunk.
	FindInodeRec(ino common.Ino) bool
	// IsInodeConfirmed reports whether ino has been positively
	// identified as in use by this point in the scan.
	IsInodeConfirmed(ino common.Ino) bool
	// IsInodeFree reports whether ino is marked free in its chunk.
	IsInodeFree(ino common.Ino) bool
	// AddInodeUncertain records ino as referenced but not yet
	// confirmed, for ino_discovery mode to resolve later.
	AddInodeUncertain(ino common.Ino)
}
