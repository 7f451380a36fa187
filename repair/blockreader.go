package repair

import (
	"github.com/melor/xfsprogs/block"
	"github.com/melor/xfsprogs/common"
	"github.com/melor/xfsprogs/dir2"
)

// facadeBlockReader adapts block.Facade's basic-block-addressed
// Read/WriteBuf onto dir2.BlockReader's filesystem-block addressing:
// a directory block is blocksPerFsb basic blocks starting at
// fsblk*blocksPerFsb.
type facadeBlockReader struct {
	f            *block.Facade
	blocksPerFsb uint64
}

// newBlockReader builds a dir2.BlockReader backed by f, for a
// filesystem whose block size is fsBlockSize bytes.
func newBlockReader(f *block.Facade, fsBlockSize int) dir2.BlockReader {
	return &facadeBlockReader{f: f, blocksPerFsb: uint64(fsBlockSize) / f.BBSize()}
}

func (r *facadeBlockReader) ReadDirBlock(fsblk uint32) ([]byte, error) {
	buf, err := r.f.Read(common.Bnum(uint64(fsblk)*r.blocksPerFsb), r.blocksPerFsb)
	if err != nil {
		return nil, err
	}
	return buf.Data, nil
}

func (r *facadeBlockReader) WriteDirBlock(fsblk uint32, data []byte) error {
	buf, err := r.f.Read(common.Bnum(uint64(fsblk)*r.blocksPerFsb), r.blocksPerFsb)
	if err != nil {
		return err
	}
	copy(buf.Data, data)
	return r.f.WriteBuf(buf)
}
