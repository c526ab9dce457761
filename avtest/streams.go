// Package avtest provides an in-memory implementation of the av contract
// for tests: seekable byte streams, a trivial container format, and fake
// video codecs whose encode/decode round-trip is bit-exact.
package avtest

import (
	"io"

	"github.com/fabio-d/rawcompr/av"
	"github.com/xaionaro-go/bytesextra"
)

// MemStream wraps a fixed-size byte slice as an av.ByteStream. Writes past
// the end of the slice fail, which makes it a good stand-in for files whose
// size is known up front.
func MemStream(storage []byte) av.ByteStream {
	return av.NewStream(bytesextra.NewReadWriteSeeker(storage), 0)
}

// BufferStream is a growable in-memory av.ByteStream, for capturing files
// whose final size is not known up front (e.g. a sidecar under
// construction). Seeking past the end and writing pads the gap with zeros.
type BufferStream struct {
	data         []byte
	pos          int64
	maxWriteUnit int
}

func NewBufferStream() *BufferStream {
	return &BufferStream{}
}

// NewBoundedBufferStream returns a BufferStream whose writes are capped at
// maxWriteUnit bytes each.
func NewBoundedBufferStream(maxWriteUnit int) *BufferStream {
	return &BufferStream{maxWriteUnit: maxWriteUnit}
}

// Bytes returns the accumulated contents.
func (s *BufferStream) Bytes() []byte {
	return s.data
}

func (s *BufferStream) Read(p []byte) (int, error) {
	if s.pos >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[s.pos:])
	s.pos += int64(n)
	return n, nil
}

func (s *BufferStream) Write(p []byte) (int, error) {
	if s.maxWriteUnit > 0 && len(p) > s.maxWriteUnit {
		return 0, io.ErrShortWrite
	}
	end := s.pos + int64(len(p))
	if end > int64(len(s.data)) {
		grown := make([]byte, end)
		copy(grown, s.data)
		s.data = grown
	}
	copy(s.data[s.pos:end], p)
	s.pos = end
	return len(p), nil
}

func (s *BufferStream) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = s.pos
	case io.SeekEnd:
		base = int64(len(s.data))
	}
	s.pos = base + offset
	return s.pos, nil
}

func (s *BufferStream) Close() error {
	return nil
}

func (s *BufferStream) Size() (int64, error) {
	return int64(len(s.data)), nil
}

func (s *BufferStream) MaxWriteUnit() int {
	return s.maxWriteUnit
}
