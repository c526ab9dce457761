// Package rle implements a byte-oriented run-length scheme: a run of two or
// more equal bytes is stored as the byte twice, followed by a count of the
// additional repeats (0-255). Lone bytes are stored verbatim. Decoding is
// the exact inverse for every input, which is what the fake lossless video
// codec in avtest needs.
package rle

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// A run group covers at most 2+255 input bytes.
const maxRunPerGroup = 257

// Compress reads bytes from input and writes the encoded form to output
// until the input is exhausted. It returns the number of bytes written.
func Compress(input io.Reader, output io.Writer) (int64, error) {
	source := bufio.NewReader(input)
	totalBytesWritten := int64(0)

	runByte := -1
	runLength := 0

	flushRun := func() error {
		for runLength >= 2 {
			repeats := runLength - 2
			if repeats > 255 {
				repeats = 255
			}

			n, err := output.Write([]byte{byte(runByte), byte(runByte), byte(repeats)})
			if err != nil {
				return err
			}
			totalBytesWritten += int64(n)
			runLength -= repeats + 2
		}

		if runLength == 1 {
			n, err := output.Write([]byte{byte(runByte)})
			if err != nil {
				return err
			}
			totalBytesWritten += int64(n)
		}

		runLength = 0
		return nil
	}

	for {
		current, err := source.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if flushErr := flushRun(); flushErr != nil {
					return totalBytesWritten, flushErr
				}
				return totalBytesWritten, nil
			}
			return totalBytesWritten, err
		}

		if int(current) == runByte {
			runLength++
			continue
		}

		if err := flushRun(); err != nil {
			return totalBytesWritten, err
		}
		runByte = int(current)
		runLength = 1
	}
}

// Decompress reads the encoded form from input and writes the original bytes
// to output. It returns the number of bytes written.
func Decompress(input io.Reader, output io.Writer) (int64, error) {
	source := bufio.NewReader(input)
	lastByteRead := -1
	totalBytesWritten := int64(0)

	for {
		currentByte, err := source.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return totalBytesWritten, nil
			}
			return totalBytesWritten, fmt.Errorf("error reading input: %w", err)
		}

		var currentOutput []byte
		if int(currentByte) == lastByteRead {
			// Two equal bytes in a row, so the next byte is a repeat
			// count.
			repeatCountByte, err := source.ReadByte()
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = fmt.Errorf(
						"%w: missing repeat count after two %02x bytes",
						io.ErrUnexpectedEOF,
						uint(lastByteRead),
					)
				}
				return totalBytesWritten, err
			}

			// The first byte of the pair was already emitted on the
			// previous iteration, hence +1 rather than +2.
			currentOutput = bytes.Repeat([]byte{currentByte}, int(repeatCountByte)+1)

			// Reset the state so runs longer than one group don't absorb
			// the next literal byte as a false pair.
			lastByteRead = -1
		} else {
			lastByteRead = int(currentByte)
			currentOutput = []byte{currentByte}
		}

		n, err := output.Write(currentOutput)
		if err != nil {
			return totalBytesWritten, fmt.Errorf("failed to write to output: %w", err)
		}
		totalBytesWritten += int64(n)
	}
}

// CompressBytes is a convenience wrapper over Compress.
func CompressBytes(data []byte) []byte {
	var buf bytes.Buffer
	// Writing to a bytes.Buffer cannot fail.
	Compress(bytes.NewReader(data), &buf)
	return buf.Bytes()
}

// DecompressBytes is a convenience wrapper over Decompress.
func DecompressBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := Decompress(bytes.NewReader(data), &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
