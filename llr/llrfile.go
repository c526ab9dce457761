package llr

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/fabio-d/rawcompr"
	"github.com/fabio-d/rawcompr/av"
	"github.com/golang/glog"
)

// MagicSignature is the sidecar's leading 32-bit tag, "LLR\0" read as a
// big-endian integer.
const MagicSignature uint32 = 0x4C4C5200

// copyBufferSize bounds every bulk copy between the sidecar and the original
// or reconstructed file.
const copyBufferSize = 4096

// Info is the sidecar header: the original file's size plus the stored hash.
type Info struct {
	OriginalSize int64
	HashName     string
	Hash         []byte
}

// Write builds a complete sidecar on dest: header, reference table, then the
// slices of source that no reference covers. The whole of source is streamed
// through the named hash exactly once; the resulting digest is patched over
// the zeroed placeholder written earlier.
func Write(source av.ByteStream, refs *PacketReferences, dest av.ByteStream, hashName string) error {
	glog.V(1).Info("Writing LLR file:")

	if err := writeU32(dest, MagicSignature); err != nil {
		return err
	}

	sourceSize, err := source.Size()
	if err != nil {
		return err
	}
	if err := writeU64(dest, uint64(sourceSize)); err != nil {
		return err
	}

	hasher, err := av.NewHash(hashName)
	if err != nil {
		return err
	}

	// Store the hash name and size, and reserve zeroed space for the final
	// digest.
	if err := writeString(dest, hashName); err != nil {
		return err
	}
	if err := writeU16(dest, uint16(hasher.Size())); err != nil {
		return err
	}
	hashPos, err := av.Tell(dest)
	if err != nil {
		return err
	}
	if err := av.WriteInChunks(dest, make([]byte, hasher.Size())); err != nil {
		return err
	}

	if err := refs.serialize(dest); err != nil {
		return err
	}

	if err := av.SeekTo(source, 0); err != nil {
		return err
	}

	buffer := make([]byte, copyBufferSize)

	// copyChunk streams source bytes [start, end) into the hash, forwarding
	// them to dest as well unless hashOnly is set. The source must already
	// be positioned at start: a mismatch means the walk skipped bytes.
	copyChunk := func(start, end int64, hashOnly bool) error {
		pos, err := av.Tell(source)
		if err != nil {
			return err
		}
		if pos != start {
			return rawcompr.ErrInternalBug.WithMessage(fmt.Sprintf(
				"copyChunk: unexpected file offset %d, want %d", pos, start))
		}

		for start != end {
			want := end - start
			if want > copyBufferSize {
				want = copyBufferSize
			}

			r, err := source.Read(buffer[:want])
			if r == 0 {
				if err == nil || err == io.EOF {
					return rawcompr.ErrExternal.WithMessage("premature end of file")
				}
				return rawcompr.ErrExternal.Wrap(err)
			}

			if !hashOnly {
				glog.V(1).Infof("   -> %d-%d: size %d", start, start+int64(r), r)
				if err := av.WriteInChunks(dest, buffer[:r]); err != nil {
					return err
				}
			}
			hasher.Write(buffer[:r])

			start += int64(r)
		}
		return nil
	}

	cursor := int64(0)
	for _, e := range refs.Table() {
		if cursor < e.OrigPos {
			glog.V(1).Infof("  %d-%d: Embedding - size %d", cursor, e.OrigPos, e.OrigPos-cursor)
			if err := copyChunk(cursor, e.OrigPos, false); err != nil {
				return err
			}
			cursor = e.OrigPos
		}

		glog.V(1).Infof("  %d-%d: Referencing stream #0:%d (index %d) - pts %d size %d",
			e.OrigPos, e.End(), e.StreamIndex, e.PacketIndex, e.Pts, e.OrigSize)
		if err := copyChunk(e.OrigPos, e.End(), true); err != nil {
			return err
		}
		cursor = e.End()
	}

	if cursor < sourceSize {
		glog.V(1).Infof("  %d-%d: Embedding - size %d", cursor, sourceSize, sourceSize-cursor)
		if err := copyChunk(cursor, sourceSize, false); err != nil {
			return err
		}
	}

	digest := hasher.Sum(nil)
	glog.V(1).Infof("Storing input file hash (%s): %s", hashName, hex.EncodeToString(digest))

	if err := av.SeekTo(dest, hashPos); err != nil {
		return err
	}
	return av.WriteInChunks(dest, digest)
}

// ReadInfo reads and validates the sidecar header, leaving the stream
// positioned at the stream descriptors.
func ReadInfo(src av.ByteStream) (Info, error) {
	magic, err := readU32(src)
	if err != nil {
		return Info{}, err
	}
	if magic != MagicSignature {
		return Info{}, rawcompr.ErrInvalidInput.WithMessage("invalid LLR file signature")
	}

	glog.V(1).Info("Reading LLR file:")

	originalSize, err := readU64(src)
	if err != nil {
		return Info{}, err
	}
	glog.V(1).Infof("  Original file size: %d", originalSize)

	hashName, err := readString(src, maxStringLen)
	if err != nil {
		return Info{}, err
	}
	hashSize, err := readU16(src)
	if err != nil {
		return Info{}, err
	}

	hash := make([]byte, hashSize)
	if _, err := io.ReadFull(src, hash); err != nil {
		return Info{}, readFailed(err)
	}
	glog.V(1).Infof("  Hash: %s (size %d) %s", hashName, hashSize, hex.EncodeToString(hash))

	return Info{
		OriginalSize: int64(originalSize),
		HashName:     hashName,
		Hash:         hash,
	}, nil
}

// ReadTable reads the header, the stream descriptors and the reference
// table, leaving the stream positioned at the first embedded slice.
func ReadTable(src av.ByteStream) (*PacketReferences, Info, error) {
	info, err := ReadInfo(src)
	if err != nil {
		return nil, Info{}, err
	}

	refs := NewPacketReferences()
	if err := refs.deserialize(src); err != nil {
		return nil, Info{}, err
	}

	if n := refs.Len(); n != 0 && refs.Table()[n-1].End() > info.OriginalSize {
		return nil, Info{}, rawcompr.ErrCorruptSidecar.WithMessage(
			"packet reference extends past the original file size")
	}

	return refs, info, nil
}

// Read deserializes the whole sidecar and writes its embedded slices into
// output at their original offsets. The byte ranges covered by reference
// entries are left untouched; the reconstruction engine fills them from the
// remuxed container's packets.
func Read(src av.ByteStream, output av.ByteStream) (*PacketReferences, Info, error) {
	refs, info, err := ReadTable(src)
	if err != nil {
		return nil, Info{}, err
	}

	buffer := make([]byte, copyBufferSize)

	loadChunk := func(start, end int64) error {
		glog.V(1).Infof("  %d-%d: Loading - size %d", start, end, end-start)
		if err := av.SeekTo(output, start); err != nil {
			return err
		}

		for start != end {
			want := end - start
			if want > copyBufferSize {
				want = copyBufferSize
			}

			r, err := src.Read(buffer[:want])
			if r == 0 {
				if err == nil || err == io.EOF {
					return rawcompr.ErrCorruptSidecar.WithMessage("truncated LLR file")
				}
				return rawcompr.ErrExternal.Wrap(err)
			}

			if err := av.WriteInChunks(output, buffer[:r]); err != nil {
				return err
			}
			start += int64(r)
		}
		return nil
	}

	cursor := int64(0)
	for _, e := range refs.Table() {
		if cursor < e.OrigPos {
			if err := loadChunk(cursor, e.OrigPos); err != nil {
				return nil, Info{}, err
			}
		}
		cursor = e.End()
	}

	if cursor < info.OriginalSize {
		if err := loadChunk(cursor, info.OriginalSize); err != nil {
			return nil, Info{}, err
		}
	}

	return refs, info, nil
}
