package av

import (
	"io"
	"os"

	"github.com/fabio-d/rawcompr"
)

// ByteStream is the byte I/O surface the rest of the module works against.
// It is an abstraction layer around a seekable stream, narrowed to the
// operations the LLR codec and the reconstruction engine actually perform.
//
// Implementations may bound the size of a single write; callers that copy
// bulk data must go through WriteInChunks.
type ByteStream interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer

	// Size returns the total size of the stream in bytes, without moving
	// the current position.
	Size() (int64, error)

	// MaxWriteUnit returns the largest number of bytes a single Write call
	// may carry, or 0 if there is no bound.
	MaxWriteUnit() int
}

// OpenFile opens the file at the given path as a ByteStream. The flag values
// are the ones accepted by os.OpenFile (os.O_RDONLY, os.O_CREATE|os.O_WRONLY,
// and so on).
func OpenFile(path string, flag int) (ByteStream, error) {
	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, rawcompr.ErrExternal.Wrap(err)
	}
	return &fileStream{file: f}, nil
}

type fileStream struct {
	file *os.File
}

func (s *fileStream) Read(p []byte) (int, error) {
	return s.file.Read(p)
}

func (s *fileStream) Write(p []byte) (int, error) {
	return s.file.Write(p)
}

func (s *fileStream) Seek(offset int64, whence int) (int64, error) {
	return s.file.Seek(offset, whence)
}

func (s *fileStream) Close() error {
	return s.file.Close()
}

func (s *fileStream) Size() (int64, error) {
	info, err := s.file.Stat()
	if err != nil {
		return 0, rawcompr.ErrExternal.Wrap(err)
	}
	return info.Size(), nil
}

func (s *fileStream) MaxWriteUnit() int {
	return 0
}

// NewStream adapts an arbitrary io.ReadWriteSeeker into a ByteStream. The
// size is determined by seeking to the end and back. maxWriteUnit may be 0
// for unbounded writes.
func NewStream(rws io.ReadWriteSeeker, maxWriteUnit int) ByteStream {
	return &seekerStream{rws: rws, maxWriteUnit: maxWriteUnit}
}

type seekerStream struct {
	rws          io.ReadWriteSeeker
	maxWriteUnit int
}

func (s *seekerStream) Read(p []byte) (int, error) {
	return s.rws.Read(p)
}

func (s *seekerStream) Write(p []byte) (int, error) {
	return s.rws.Write(p)
}

func (s *seekerStream) Seek(offset int64, whence int) (int64, error) {
	return s.rws.Seek(offset, whence)
}

func (s *seekerStream) Close() error {
	if closer, ok := s.rws.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (s *seekerStream) Size() (int64, error) {
	current, err := s.rws.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, rawcompr.ErrExternal.Wrap(err)
	}
	end, err := s.rws.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, rawcompr.ErrExternal.Wrap(err)
	}
	_, err = s.rws.Seek(current, io.SeekStart)
	if err != nil {
		return 0, rawcompr.ErrExternal.Wrap(err)
	}
	return end, nil
}

func (s *seekerStream) MaxWriteUnit() int {
	return s.maxWriteUnit
}

// WriteInChunks writes buf to s, splitting it into writes no larger than the
// stream's maximum write unit.
func WriteInChunks(s ByteStream, buf []byte) error {
	chunkSize := s.MaxWriteUnit()
	if chunkSize <= 0 {
		chunkSize = len(buf)
	}

	for len(buf) > 0 {
		n := chunkSize
		if n > len(buf) {
			n = len(buf)
		}
		if _, err := s.Write(buf[:n]); err != nil {
			return rawcompr.ErrExternal.Wrap(err)
		}
		buf = buf[n:]
	}
	return nil
}

// SeekTo positions s at the given absolute offset.
func SeekTo(s ByteStream, offset int64) error {
	pos, err := s.Seek(offset, io.SeekStart)
	if err != nil {
		return rawcompr.ErrExternal.Wrap(err)
	}
	if pos != offset {
		return rawcompr.ErrExternal.WithMessage("seek landed at the wrong offset")
	}
	return nil
}

// Tell returns the current absolute offset of s.
func Tell(s ByteStream) (int64, error) {
	pos, err := s.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, rawcompr.ErrExternal.Wrap(err)
	}
	return pos, nil
}
