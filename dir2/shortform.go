package dir2

import (
	"encoding/binary"
	"errors"

	"github.com/golang/glog"

	"github.com/melor/xfsprogs/common"
)

// MaxShortInum is the largest inode number that fits in a shortform
// entry's narrow (4-byte) inode field; anything larger forces the
// 8-byte (i8count) encoding. Grounded on XFS_DIR2_MAX_SHORT_INUM.
const MaxShortInum = 0xFFFFFFFF

// SfEntry is one decoded shortform entry.
type SfEntry struct {
	Offset  uint16
	NameLen uint8
	Name    []byte
	Ino     common.Ino
}

// Shortform is the fully decoded in-fork shortform directory: a few
// dozen entries packed directly into the inode's data fork, below the
// size at which the directory gets promoted to block format.
type Shortform struct {
	Count   uint8
	I8Count uint8
	Parent  common.Ino
	Entries []SfEntry
}

func parentInoSize(i8count uint8) int {
	if i8count != 0 {
		return 8
	}
	return 4
}

func sfEntsize(namelen uint8, i8count uint8) int {
	return 1 + 2 + int(namelen) + parentInoSize(i8count)
}

// DecodeShortform parses a shortform directory out of an inode's data
// fork contents.
func DecodeShortform(buf []byte) (*Shortform, error) {
	if len(buf) < 2 {
		return nil, errors.New("dir2: shortform fork too small for header")
	}
	sf := &Shortform{Count: buf[0], I8Count: buf[1]}
	off := 2
	psz := parentInoSize(sf.I8Count)
	if off+psz > len(buf) {
		return nil, errors.New("dir2: shortform fork truncated in header")
	}
	sf.Parent = decodeSfIno(buf[off:off+psz], sf.I8Count)
	off += psz

	n := int(sf.Count)
	if n == 0 {
		return sf, nil
	}
	for i := 0; i < n; i++ {
		if off+3 > len(buf) {
			break
		}
		namelen := buf[off]
		entOff := binary.BigEndian.Uint16(buf[off+1 : off+3])
		nameStart := off + 3
		nameEnd := nameStart + int(namelen)
		if nameEnd > len(buf) {
			break
		}
		inoStart := nameEnd
		inoEnd := inoStart + psz
		if inoEnd > len(buf) {
			break
		}
		sf.Entries = append(sf.Entries, SfEntry{
			Offset:  entOff,
			NameLen: namelen,
			Name:    buf[nameStart:nameEnd],
			Ino:     decodeSfIno(buf[inoStart:inoEnd], sf.I8Count),
		})
		off = inoEnd
	}
	return sf, nil
}

func decodeSfIno(buf []byte, i8count uint8) common.Ino {
	if i8count != 0 {
		return common.Ino(binary.BigEndian.Uint64(buf[0:8]))
	}
	return common.Ino(binary.BigEndian.Uint32(buf[0:4]))
}

func encodeSfIno(buf []byte, ino common.Ino, i8count uint8) {
	if i8count != 0 {
		binary.BigEndian.PutUint64(buf[0:8], uint64(ino))
		return
	}
	binary.BigEndian.PutUint32(buf[0:4], uint32(ino))
}

// Encode serializes sf back into fork bytes.
func (sf *Shortform) Encode() []byte {
	psz := parentInoSize(sf.I8Count)
	size := 2 + psz
	for _, e := range sf.Entries {
		size += 3 + len(e.Name) + psz
	}
	buf := make([]byte, size)
	buf[0] = sf.Count
	buf[1] = sf.I8Count
	off := 2
	encodeSfIno(buf[off:off+psz], sf.Parent, sf.I8Count)
	off += psz
	for _, e := range sf.Entries {
		buf[off] = e.NameLen
		binary.BigEndian.PutUint16(buf[off+1:off+3], e.Offset)
		copy(buf[off+3:off+3+len(e.Name)], e.Name)
		inoStart := off + 3 + len(e.Name)
		encodeSfIno(buf[inoStart:inoStart+psz], e.Ino, sf.I8Count)
		off = inoStart + psz
	}
	return buf
}

// namecheck reports whether name contains a byte that's illegal in a
// directory entry name: '/' (the path separator) or NUL.
func namecheck(name []byte) bool {
	for _, b := range name {
		if b == '/' || b == 0 {
			return true
		}
	}
	return false
}

// SfResult reports what ProcessShortform found/fixed.
type SfResult struct {
	Dirty  bool
	Repair bool
	Parent common.Ino
}

// ProcessShortform walks sf's entries, junking any that reference an
// invalid, reserved, free, or self-referential inode (shortform
// directories carry no '.'/'..' entries of their own — the parent is a
// header field), or that carry an illegal or zero-length name. It then
// reconciles Count/I8Count and entry offsets, and validates/repairs the
// '..' parent field. blksize is the filesystem's directory block size,
// needed only to detect entries whose data-block-format projection
// would overflow it. Grounded on process_sf_dir2.
func ProcessShortform(sf *Shortform, ino, rootIno common.Ino, blksize int, noModify, inoDiscovery bool, oracle InodeOracle) *SfResult {
	res := &SfResult{}
	kept := sf.Entries[:0:0]
	offset := uint16(0)
	nextOffset := uint16(HeaderSize(V2))
	badOffset := false
	i8 := sf.Parent > MaxShortInum

	for _, e := range sf.Entries {
		junk, reason := classifySfEntry(e.Ino, ino, inoDiscovery, oracle)

		if e.NameLen == 0 {
			glog.V(1).Infof("dir2: entry #%d in shortform inode %d has zero-length name, truncating directory", len(kept), ino)
			break
		}
		if namecheck(e.Name) {
			glog.V(1).Infof("dir2: entry %q in shortform inode %d contains an illegal character", e.Name, ino)
			junk = true
		}
		if junk {
			glog.V(1).Infof("dir2: entry %q in shortform inode %d references %s inode %d", e.Name, ino, reason, e.Ino)
			res.Dirty = true
			res.Repair = true
			if noModify {
				kept = append(kept, e)
				if e.Ino > MaxShortInum {
					i8 = true
				}
			}
			continue
		}
		if e.Offset < offset {
			badOffset = true
		}
		offset = e.Offset
		nextOffset = e.Offset + uint16(entsize(e.NameLen))
		if e.Ino > MaxShortInum {
			i8 = true
		}
		kept = append(kept, e)
	}

	// If this directory were promoted to block format, its data area
	// would need to fit the trailing leaf-entry lookup array (one per
	// surviving entry, plus room for the '.'/'..' entries not carried
	// in shortform) and the block tail after the last real entry.
	// Grounded on process_sf_dir2's post-loop offset check
	// (original_source/repair/dir2.c:1053-1058).
	if int(nextOffset)+(len(kept)+2)*blockLeafEntSize+blockTailSize > blksize {
		glog.V(1).Infof("dir2: shortform inode %d offsets too high for block format", ino)
		badOffset = true
	}

	if !noModify {
		sf.Entries = kept
	}
	if uint8(len(kept)) != sf.Count {
		res.Dirty = true
		res.Repair = true
		if !noModify {
			sf.Count = uint8(len(kept))
		}
	}

	wantI8 := uint8(0)
	if i8 {
		wantI8 = 1
	}
	if wantI8 != sf.I8Count {
		res.Dirty = true
		res.Repair = true
		if !noModify {
			sf.I8Count = wantI8
		}
	}

	if badOffset {
		res.Dirty = true
		res.Repair = true
		if !noModify {
			fixSfOffsets(sf)
		}
	}

	res.Parent = sf.Parent
	switch {
	case oracle.VerifyInum(sf.Parent):
		res.Parent = NullIno
		res.Dirty = true
		res.Repair = true
		if !noModify {
			sf.Parent = NullIno
		}
	case ino == rootIno && ino != sf.Parent:
		res.Parent = ino
		res.Dirty = true
		res.Repair = true
		if !noModify {
			sf.Parent = ino
		}
	case ino == sf.Parent && ino != rootIno:
		res.Parent = NullIno
		res.Dirty = true
		res.Repair = true
		if !noModify {
			sf.Parent = NullIno
		}
	}
	return res
}

func classifySfEntry(lino, ino common.Ino, inoDiscovery bool, oracle InodeOracle) (junk bool, reason string) {
	switch {
	case lino == ino:
		return true, "current"
	case oracle.VerifyInum(lino):
		return true, "invalid"
	}
	if reason, ok := oracle.ReservedReason(lino); ok {
		return true, reason
	}
	if oracle.FindInodeRec(lino) {
		if oracle.IsInodeFree(lino) && !inoDiscovery {
			return true, "free"
		}
		return false, ""
	}
	if inoDiscovery {
		oracle.AddInodeUncertain(lino)
		return false, ""
	}
	return true, "non-existent"
}

// fixSfOffsets regenerates the minimal legal offset for every entry, in
// order, mirroring process_sf_dir2_fixoff.
func fixSfOffsets(sf *Shortform) {
	offset := uint16(HeaderSize(V2))
	for i := range sf.Entries {
		sf.Entries[i].Offset = offset
		offset += uint16(entsize(sf.Entries[i].NameLen))
	}
}
