package pipeline

import (
	"errors"
	"io"
	"os"

	"github.com/fabio-d/rawcompr/av"
	"github.com/fabio-d/rawcompr/llr"
	"github.com/golang/glog"
)

// CompressConfig carries the user-selectable compression parameters.
type CompressConfig struct {
	// VideoCodec is the lossless codec raw video streams are re-encoded
	// with (e.g. "ffv1").
	VideoCodec string

	// VideoCodecOptions is passed verbatim to the codec.
	VideoCodecOptions map[string]string

	// HashName selects the algorithm the original file is hashed with.
	HashName string
}

// Compress remuxes the container at inputPath into outputPath, re-encoding
// raw video streams with the configured lossless codec, and writes the
// sidecar at llrPath. Together the two outputs allow Decompress to rebuild
// the input byte for byte.
func Compress(lib av.Library, inputPath, outputPath, llrPath string, cfg CompressConfig) error {
	demuxer, err := lib.OpenDemuxer(inputPath)
	if err != nil {
		return err
	}
	defer demuxer.Close()

	muxer, err := lib.CreateMuxer(outputPath)
	if err != nil {
		return err
	}
	defer muxer.Close()

	refs := llr.NewPacketReferences()

	glog.V(1).Info("Encoders:")
	var encoders []Encoder
	defer func() {
		for _, encoder := range encoders {
			encoder.Close()
		}
	}()
	for _, inputStream := range demuxer.Streams() {
		encoder, err := newEncoderForStream(lib, muxer, inputStream, refs, cfg)
		if err != nil {
			return err
		}
		encoders = append(encoders, encoder)
	}

	if err := muxer.WriteHeader(); err != nil {
		return err
	}

	var packet av.Packet
	for {
		err := demuxer.ReadPacket(&packet)
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return err
		}

		glog.V(1).Infof("Input packet: Stream #0:%d (pos %d size %d) - pts %d dts %d duration %d",
			packet.StreamIndex, packet.Pos, len(packet.Data), packet.Pts, packet.Dts, packet.Duration)

		if err := encoders[packet.StreamIndex].ProcessPacket(&packet); err != nil {
			return err
		}
	}

	// Second pass over the input: embed the bytes no reference covers and
	// hash the whole file.
	source, err := av.OpenFile(inputPath, os.O_RDONLY)
	if err != nil {
		return err
	}
	defer source.Close()

	llrFile, err := av.OpenFile(llrPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC)
	if err != nil {
		return err
	}
	defer llrFile.Close()

	if err := llr.Write(source, refs, llrFile, cfg.HashName); err != nil {
		return err
	}

	return muxer.WriteTrailer()
}
