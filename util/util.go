// Package util collects the small helpers shared by the scanner, replayer,
// and directory repair code: leveled diagnostics and basic arithmetic/byte
// helpers.
package util

import (
	"github.com/golang/glog"
)

// DPrintf emits a leveled diagnostic, in the style of the teacher's own
// level-gated logging helper, but backed by glog's leveled logging instead
// of a hand-rolled constant comparison, so that -v can be used to dial
// verbosity without recompiling.
func DPrintf(level int32, format string, a ...interface{}) {
	glog.V(glog.Level(level)).Infof(format, a...)
}

func RoundUp(n uint64, sz uint64) uint64 {
	return (n + sz - 1) / sz
}

func Min(n uint64, m uint64) uint64 {
	if n < m {
		return n
	}
	return m
}

func Max(n uint64, m uint64) uint64 {
	if n > m {
		return n
	}
	return m
}

// SumOverflows reports whether n+m overflows uint64.
func SumOverflows(n uint64, m uint64) bool {
	return n+m < n
}

// CloneByteSlice returns a fresh copy of b, so that callers can hand out
// buffer contents without aliasing the underlying cache entry.
func CloneByteSlice(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
