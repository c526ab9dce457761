package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/boljen/go-bitmap"
	"github.com/fabio-d/rawcompr"
	"github.com/fabio-d/rawcompr/av"
	"github.com/fabio-d/rawcompr/llr"
	"github.com/golang/glog"
)

// Decompress rebuilds the original container at outputPath from the remuxed
// container at inputPath and the sidecar at llrPath, then verifies the
// result against the hash stored in the sidecar.
func Decompress(lib av.Library, inputPath, outputPath, llrPath string) error {
	demuxer, err := lib.OpenDemuxer(inputPath)
	if err != nil {
		return err
	}
	defer demuxer.Close()

	llrFile, err := av.OpenFile(llrPath, os.O_RDONLY)
	if err != nil {
		return err
	}
	defer llrFile.Close()

	outputFile, err := av.OpenFile(outputPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC)
	if err != nil {
		return err
	}
	defer outputFile.Close()

	// This lays the embedded slices into the output file; the byte ranges
	// covered by reference entries are still holes at this point.
	refs, info, err := llr.Read(llrFile, outputFile)
	if err != nil {
		return err
	}

	if len(refs.Streams()) != len(demuxer.Streams()) {
		return rawcompr.ErrCorruptSidecar.WithMessage("stream count mismatch")
	}

	glog.V(1).Info("Decoders:")
	var decoders []Decoder
	defer func() {
		for _, decoder := range decoders {
			decoder.Close()
		}
	}()
	for _, inputStream := range demuxer.Streams() {
		decoder, err := newDecoderForStream(lib, inputStream, refs.Streams()[inputStream.Index])
		if err != nil {
			return err
		}
		decoders = append(decoders, decoder)
	}

	// Reverse packet mapping (streamIndex, packetIndex, pts) -> original
	// range, plus a bitmap tracking which table entries have been written
	// back.
	reverseRefs := refs.ReverseIndex()
	written := bitmap.New(refs.Len())

	packetIndexPerStream := make(map[int]uint64)
	var packet av.Packet
	for {
		err := demuxer.ReadPacket(&packet)
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return err
		}

		packetIndex := packetIndexPerStream[packet.StreamIndex]
		packetIndexPerStream[packet.StreamIndex]++

		glog.V(1).Infof("Input packet: Stream #0:%d (index %d) - pts %d dts %d duration %d",
			packet.StreamIndex, packetIndex, packet.Pts, packet.Dts, packet.Duration)

		key := llr.ReverseKey{
			StreamIndex: packet.StreamIndex,
			PacketIndex: packetIndex,
			Pts:         packet.Pts,
		}
		target, ok := reverseRefs[key]
		if !ok {
			return rawcompr.ErrMissingPacket.WithMessage("failed to find destination block")
		}

		uncompressedData, err := decoders[packet.StreamIndex].DecodePacket(&packet)
		if err != nil {
			return err
		}
		if uint32(len(uncompressedData)) != target.OrigSize {
			return rawcompr.ErrSizeMismatch.WithMessage(fmt.Sprintf(
				"decoded to %d bytes (actual) instead of %d bytes (expected)",
				len(uncompressedData), target.OrigSize))
		}

		glog.V(1).Infof(" -> %d-%d: writing %d bytes",
			target.OrigPos, target.OrigPos+int64(target.OrigSize), len(uncompressedData))

		if err := av.SeekTo(outputFile, target.OrigPos); err != nil {
			return err
		}
		// Write back in pieces of at most 4 KiB; WriteInChunks further
		// splits each piece at the stream's maximum write unit.
		for chunk := uncompressedData; len(chunk) > 0; {
			n := len(chunk)
			if n > 4096 {
				n = 4096
			}
			if err := av.WriteInChunks(outputFile, chunk[:n]); err != nil {
				return err
			}
			chunk = chunk[n:]
		}

		written.Set(target.EntryIndex, true)
		delete(reverseRefs, key)
	}

	if len(reverseRefs) != 0 {
		missing := 0
		for i := 0; i < refs.Len(); i++ {
			if !written.Get(i) {
				missing++
			}
		}
		return rawcompr.ErrMissingPacket.WithMessage(fmt.Sprintf(
			"one or more source packets are missing (%d unfilled ranges)", missing))
	}

	return verifyHash(outputFile, info)
}

// verifyHash re-reads the reconstructed file and compares its digest with
// the one stored in the sidecar. The sidecar's algorithm is authoritative;
// whatever was configured on the command line plays no role here.
func verifyHash(outputFile av.ByteStream, info llr.Info) error {
	hasher, err := av.NewHash(info.HashName)
	if err != nil {
		return rawcompr.ErrCorruptSidecar.Wrap(err)
	}

	if err := av.SeekTo(outputFile, 0); err != nil {
		return err
	}
	if _, err := io.CopyN(hasher, outputFile, info.OriginalSize); err != nil {
		return rawcompr.ErrExternal.Wrap(err)
	}

	if !bytes.Equal(hasher.Sum(nil), info.Hash) {
		return rawcompr.ErrHashMismatch
	}

	glog.V(1).Infof("Output file hash matches (%s)", info.HashName)
	return nil
}
