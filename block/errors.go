package block

import "github.com/pkg/errors"

var (
	// ErrOutOfMemory is returned by GetBuf when even a 1-BB allocation
	// fails.
	ErrOutOfMemory = errors.New("block: out of memory")
	// ErrIO names a failed device read or write. No function in this
	// package returns it: disk.Disk's Read and Write have no error result.
	ErrIO = errors.New("block: io error")

	errOOB = errors.New("block: address out of bounds")
)
