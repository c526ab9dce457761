package llr

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/fabio-d/rawcompr"
)

// maxStringLen bounds NUL-terminated strings read from a sidecar, so a
// corrupt file cannot make the reader scan forever.
const maxStringLen = 127

func readFailed(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return rawcompr.ErrCorruptSidecar.WithMessage("truncated LLR file")
	}
	return rawcompr.ErrExternal.Wrap(err)
}

func writeFailed(err error) error {
	return rawcompr.ErrExternal.Wrap(err)
}

func writeU8(w io.Writer, v uint8) error {
	if _, err := w.Write([]byte{v}); err != nil {
		return writeFailed(err)
	}
	return nil
}

func writeU16(w io.Writer, v uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	if _, err := w.Write(buf[:]); err != nil {
		return writeFailed(err)
	}
	return nil
}

func writeU32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	if _, err := w.Write(buf[:]); err != nil {
		return writeFailed(err)
	}
	return nil
}

func writeU64(w io.Writer, v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	if _, err := w.Write(buf[:]); err != nil {
		return writeFailed(err)
	}
	return nil
}

// writeString emits a NUL-terminated string.
func writeString(w io.Writer, s string) error {
	if _, err := io.WriteString(w, s); err != nil {
		return writeFailed(err)
	}
	return writeU8(w, 0)
}

func readU8(r io.Reader) (uint8, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, readFailed(err)
	}
	return buf[0], nil
}

func readU16(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, readFailed(err)
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

func readU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, readFailed(err)
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func readU64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, readFailed(err)
	}
	return binary.BigEndian.Uint64(buf[:]), nil
}

// readString consumes bytes up to and including a NUL terminator. Strings
// longer than maxLen mean the file is corrupt.
func readString(r io.Reader, maxLen int) (string, error) {
	result := make([]byte, 0, 16)
	for {
		b, err := readU8(r)
		if err != nil {
			return "", err
		}
		if b == 0 {
			return string(result), nil
		}
		if len(result) == maxLen {
			return "", rawcompr.ErrCorruptSidecar.WithMessage("unterminated string")
		}
		result = append(result, b)
	}
}
