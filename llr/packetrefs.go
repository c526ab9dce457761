// Package llr implements the LLR sidecar: the packet reference table that
// maps original container byte ranges to re-encoded packets, and the on-disk
// codec that interleaves the table with embedded slices of the original file.
package llr

import (
	"fmt"
	"io"
	"sort"

	"github.com/fabio-d/rawcompr"
)

// CodecType is the wire tag of a stream descriptor.
type CodecType uint8

const (
	// CopyCodec marks a stream whose packets are stored verbatim in the
	// remuxed container.
	CopyCodec CodecType = 1

	// VideoCodec marks a raw video stream that has been re-encoded with a
	// lossless codec.
	VideoCodec CodecType = 2
)

// StreamInfo describes how one stream was processed during compression.
// PixelFormat is only meaningful for VideoCodec streams; it names the pixel
// format the original raw packets must be regenerated in.
type StreamInfo struct {
	Type        CodecType
	PixelFormat string
}

// ReferenceInfo identifies the re-encoded packet that replaces one byte
// range of the original container.
type ReferenceInfo struct {
	// OrigSize is the length of the covered range in the original file.
	OrigSize uint32

	// Reference to the encoded packet in the compressed file.
	StreamIndex int
	PacketIndex uint64
	Pts         int64
}

// Entry is one reference table row: the covered range's start offset plus
// the packet reference.
type Entry struct {
	OrigPos int64
	ReferenceInfo
}

// End returns the first offset past the covered range.
func (e Entry) End() int64 {
	return e.OrigPos + int64(e.OrigSize)
}

// PacketReferences is the in-memory reference table: the ordered stream
// descriptors plus the entries sorted by original position. Ranges never
// overlap; AddPacketReference enforces this.
type PacketReferences struct {
	streams []StreamInfo
	entries []Entry
}

func NewPacketReferences() *PacketReferences {
	return &PacketReferences{}
}

// AddVideoStream appends a re-encoded video stream descriptor.
func (p *PacketReferences) AddVideoStream(pixelFormat string) {
	p.streams = append(p.streams, StreamInfo{Type: VideoCodec, PixelFormat: pixelFormat})
}

// AddCopyStream appends a passthrough stream descriptor.
func (p *PacketReferences) AddCopyStream() {
	p.streams = append(p.streams, StreamInfo{Type: CopyCodec})
}

// Streams returns the stream descriptors in index order. The returned slice
// must not be modified.
func (p *PacketReferences) Streams() []StreamInfo {
	return p.streams
}

// Table returns the entries in ascending OrigPos order. The returned slice
// must not be modified.
func (p *PacketReferences) Table() []Entry {
	return p.entries
}

// Len returns the number of entries.
func (p *PacketReferences) Len() int {
	return len(p.entries)
}

// AddPacketReference records that bytes [origPos, origPos+origSize) of the
// original file are replaced by the identified packet. Overlapping or
// duplicate ranges can only be produced by a bug in the caller, never by bad
// input, so any violation is reported as ErrInternalBug.
func (p *PacketReferences) AddPacketReference(streamIndex int, packetIndex uint64, pts int64, origPos int64, origSize uint32) error {
	if origSize == 0 {
		return rawcompr.ErrInternalBug.WithMessage("addPacketReference: zero-sized range")
	}
	if streamIndex < 0 || streamIndex >= len(p.streams) {
		return rawcompr.ErrInternalBug.WithMessage(fmt.Sprintf(
			"addPacketReference: stream %d has no descriptor", streamIndex))
	}

	i := sort.Search(len(p.entries), func(i int) bool {
		return p.entries[i].OrigPos >= origPos
	})

	if i < len(p.entries) && p.entries[i].OrigPos < origPos+int64(origSize) {
		return rawcompr.ErrInternalBug.WithMessage("addPacketReference: overlapping range")
	}
	if i > 0 && p.entries[i-1].End() > origPos {
		return rawcompr.ErrInternalBug.WithMessage("addPacketReference: overlapping range")
	}

	entry := Entry{
		OrigPos: origPos,
		ReferenceInfo: ReferenceInfo{
			OrigSize:    origSize,
			StreamIndex: streamIndex,
			PacketIndex: packetIndex,
			Pts:         pts,
		},
	}
	p.entries = append(p.entries, Entry{})
	copy(p.entries[i+1:], p.entries[i:])
	p.entries[i] = entry
	return nil
}

// ReverseKey identifies a packet of the remuxed container: its stream, its
// ordinal within that stream and its presentation timestamp. Distinct
// original positions always produce distinct (stream, ordinal) pairs, so the
// key is unique.
type ReverseKey struct {
	StreamIndex int
	PacketIndex uint64
	Pts         int64
}

// ReverseTarget is where a packet's decoded payload belongs in the original
// file. EntryIndex is the entry's ordinal in Table order.
type ReverseTarget struct {
	OrigPos    int64
	OrigSize   uint32
	EntryIndex int
}

// ReverseIndex builds the packet -> original range mapping used during
// reconstruction.
func (p *PacketReferences) ReverseIndex() map[ReverseKey]ReverseTarget {
	index := make(map[ReverseKey]ReverseTarget, len(p.entries))
	for i, e := range p.entries {
		key := ReverseKey{
			StreamIndex: e.StreamIndex,
			PacketIndex: e.PacketIndex,
			Pts:         e.Pts,
		}
		index[key] = ReverseTarget{
			OrigPos:    e.OrigPos,
			OrigSize:   e.OrigSize,
			EntryIndex: i,
		}
	}
	return index
}

// Dump writes a human-readable rendition of the table, for the inspect
// command and debugging.
func (p *PacketReferences) Dump(w io.Writer) {
	fmt.Fprintf(w, "Streams (total %d):\n", len(p.streams))
	for i, info := range p.streams {
		switch info.Type {
		case VideoCodec:
			fmt.Fprintf(w, "  Stream #0:%d: video %s\n", i, info.PixelFormat)
		case CopyCodec:
			fmt.Fprintf(w, "  Stream #0:%d: copy\n", i)
		}
	}

	fmt.Fprintf(w, "Packet references (total %d):\n", len(p.entries))
	for _, e := range p.entries {
		fmt.Fprintf(w, "  %d-%d: Stream #0:%d (index %d) - pts %d size %d\n",
			e.OrigPos, e.End(), e.StreamIndex, e.PacketIndex, e.Pts, e.OrigSize)
	}
}

// serialize writes the descriptors and the table in wire format: a u32
// stream count, then per stream a u8 tag (plus a NUL-terminated pixel format
// for VideoCodec); a u64 entry count, then per entry u64 origPos, u32
// origSize, u32 streamIndex, u64 packetIndex and i64 pts. All integers are
// big-endian.
func (p *PacketReferences) serialize(w io.Writer) error {
	if err := writeU32(w, uint32(len(p.streams))); err != nil {
		return err
	}
	for _, info := range p.streams {
		if err := writeU8(w, uint8(info.Type)); err != nil {
			return err
		}
		if info.Type == VideoCodec {
			if err := writeString(w, info.PixelFormat); err != nil {
				return err
			}
		}
	}

	if err := writeU64(w, uint64(len(p.entries))); err != nil {
		return err
	}
	for _, e := range p.entries {
		if err := writeU64(w, uint64(e.OrigPos)); err != nil {
			return err
		}
		if err := writeU32(w, e.OrigSize); err != nil {
			return err
		}
		if err := writeU32(w, uint32(e.StreamIndex)); err != nil {
			return err
		}
		if err := writeU64(w, e.PacketIndex); err != nil {
			return err
		}
		if err := writeU64(w, uint64(e.Pts)); err != nil {
			return err
		}
	}
	return nil
}

// deserialize is the inverse of serialize. Unlike AddPacketReference, which
// treats violations as internal bugs, anything malformed here comes from the
// file and is reported as ErrCorruptSidecar.
func (p *PacketReferences) deserialize(r io.Reader) error {
	p.streams = nil
	p.entries = nil

	streamCount, err := readU32(r)
	if err != nil {
		return err
	}
	for i := uint32(0); i < streamCount; i++ {
		tag, err := readU8(r)
		if err != nil {
			return err
		}

		switch CodecType(tag) {
		case VideoCodec:
			pixelFormat, err := readString(r, maxStringLen)
			if err != nil {
				return err
			}
			p.streams = append(p.streams, StreamInfo{Type: VideoCodec, PixelFormat: pixelFormat})
		case CopyCodec:
			p.streams = append(p.streams, StreamInfo{Type: CopyCodec})
		default:
			return rawcompr.ErrCorruptSidecar.WithMessage(fmt.Sprintf(
				"unknown stream type tag %d", tag))
		}
	}

	entryCount, err := readU64(r)
	if err != nil {
		return err
	}
	for i := uint64(0); i < entryCount; i++ {
		origPos, err := readU64(r)
		if err != nil {
			return err
		}
		origSize, err := readU32(r)
		if err != nil {
			return err
		}
		streamIndex, err := readU32(r)
		if err != nil {
			return err
		}
		packetIndex, err := readU64(r)
		if err != nil {
			return err
		}
		pts, err := readU64(r)
		if err != nil {
			return err
		}

		entry := Entry{
			OrigPos: int64(origPos),
			ReferenceInfo: ReferenceInfo{
				OrigSize:    origSize,
				StreamIndex: int(streamIndex),
				PacketIndex: packetIndex,
				Pts:         int64(pts),
			},
		}

		if entry.OrigSize == 0 || entry.StreamIndex >= len(p.streams) {
			return rawcompr.ErrCorruptSidecar.WithMessage("invalid packet reference")
		}
		if n := len(p.entries); n != 0 && p.entries[n-1].End() > entry.OrigPos {
			return rawcompr.ErrCorruptSidecar.WithMessage("packet references overlap or are unsorted")
		}
		p.entries = append(p.entries, entry)
	}
	return nil
}
