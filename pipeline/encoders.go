// Package pipeline contains the per-stream packet processors and the two
// top-level drivers, Compress and Decompress. Encoders run during
// compression and turn input packets into output packets plus reference
// table entries; decoders run during decompression and turn remuxed packets
// back into the original raw bytes.
package pipeline

import (
	"github.com/fabio-d/rawcompr/av"
	"github.com/fabio-d/rawcompr/llr"
	"github.com/golang/glog"
)

// Encoder processes one input stream during compression.
type Encoder interface {
	ProcessPacket(pkt *av.Packet) error
	Close() error
}

// encoderBase carries what every encoder variant needs to hand finished
// packets to the muxer and record them in the reference table.
type encoderBase struct {
	inputStream  av.StreamInfo
	outputStream av.StreamInfo
	muxer        av.Muxer
	refs         *llr.PacketReferences

	outPacketIndex uint64
}

// finalizeAndWritePacket rescales the output packet's timestamps into the
// output stream's time base, records the packet in the reference table and
// hands it to the muxer. Packets leave in exactly the order they arrived
// from the demuxer, which is what makes (stream, ordinal, pts) a stable
// reverse key.
func (b *encoderBase) finalizeAndWritePacket(inputPacket, outputPacket *av.Packet) error {
	outputPacket.Pts = av.RescaleRnd(inputPacket.Pts, b.inputStream.TimeBase, b.outputStream.TimeBase, av.RoundNearInf)
	outputPacket.Dts = av.RescaleRnd(inputPacket.Dts, b.inputStream.TimeBase, b.outputStream.TimeBase, av.RoundNearInf)
	outputPacket.Duration = av.RescaleRnd(inputPacket.Duration, b.inputStream.TimeBase, b.outputStream.TimeBase, av.RoundNearInf)
	outputPacket.StreamIndex = b.outputStream.Index

	glog.V(1).Infof(" -> Output packet: Stream #0:%d (index %d size %d) - pts %d dts %d duration %d",
		outputPacket.StreamIndex, b.outPacketIndex, len(outputPacket.Data),
		outputPacket.Pts, outputPacket.Dts, outputPacket.Duration)

	err := b.refs.AddPacketReference(
		b.outputStream.Index, b.outPacketIndex, outputPacket.Pts,
		inputPacket.Pos, uint32(len(inputPacket.Data)))
	if err != nil {
		return err
	}

	if err := b.muxer.WritePacket(outputPacket); err != nil {
		return err
	}

	b.outPacketIndex++
	return nil
}

// VideoEncoder re-encodes a raw video stream with a lossless codec.
type VideoEncoder struct {
	encoderBase

	decoder   av.FrameDecoder
	converter av.FrameConverter
	encoder   av.FrameEncoder
}

// NewVideoEncoder sets up the decode -> convert -> encode chain for one raw
// video input stream and registers its descriptor. The target pixel format
// is the first one the output codec accepts that is bit-exact in both
// directions with respect to the source format.
func NewVideoEncoder(lib av.Library, muxer av.Muxer, inputStream av.StreamInfo, refs *llr.PacketReferences, codecName string, options map[string]string) (*VideoEncoder, error) {
	decoder, err := lib.NewFrameDecoder(inputStream)
	if err != nil {
		return nil, err
	}

	refs.AddVideoStream(inputStream.PixelFormat)

	candidates, err := lib.CodecPixelFormats(codecName)
	if err != nil {
		decoder.Close()
		return nil, err
	}
	targetFormat, err := av.SelectCompatibleLosslessPixelFormat(lib, candidates, inputStream.PixelFormat)
	if err != nil {
		decoder.Close()
		return nil, err
	}

	encoder, err := lib.NewVideoEncoder(av.VideoEncoderConfig{
		CodecName:    codecName,
		Options:      options,
		Width:        inputStream.Width,
		Height:       inputStream.Height,
		PixelFormat:  targetFormat,
		TimeBase:     inputStream.TimeBase,
		FrameRate:    inputStream.AvgFrameRate,
		GlobalHeader: true,
	})
	if err != nil {
		decoder.Close()
		return nil, err
	}

	converter, err := lib.NewFrameConverter(inputStream.Width, inputStream.Height, inputStream.PixelFormat, targetFormat)
	if err != nil {
		decoder.Close()
		encoder.Close()
		return nil, err
	}

	outputStream, err := muxer.AddStreamEncoded(inputStream, encoder)
	if err != nil {
		decoder.Close()
		encoder.Close()
		converter.Close()
		return nil, err
	}

	return &VideoEncoder{
		encoderBase: encoderBase{
			inputStream:  inputStream,
			outputStream: outputStream,
			muxer:        muxer,
			refs:         refs,
		},
		decoder:   decoder,
		converter: converter,
		encoder:   encoder,
	}, nil
}

func (e *VideoEncoder) ProcessPacket(inputPacket *av.Packet) error {
	inputFrame, err := e.decoder.DecodePacket(inputPacket)
	if err != nil {
		return err
	}

	glog.V(1).Infof(" -> Decoded %dx%d %s pts %d",
		inputFrame.Width(), inputFrame.Height(), inputFrame.PixelFormat(), inputFrame.Pts())
	glog.V(1).Infof(" -> Converting from %s to %s",
		inputFrame.PixelFormat(), e.encoder.PixelFormat())

	outputFrame, err := e.converter.Convert(inputFrame)
	if err != nil {
		return err
	}
	outputFrame.SetPts(inputFrame.Pts())

	outputPacket, err := e.encoder.EncodeFrame(outputFrame)
	if err != nil {
		return err
	}

	glog.V(1).Infof(" -> Encoded %dx%d %s pts %d",
		outputFrame.Width(), outputFrame.Height(), outputFrame.PixelFormat(), outputFrame.Pts())

	return e.finalizeAndWritePacket(inputPacket, outputPacket)
}

func (e *VideoEncoder) Close() error {
	e.decoder.Close()
	e.converter.Close()
	return e.encoder.Close()
}

// CopyEncoder forwards a stream's packets untouched.
type CopyEncoder struct {
	encoderBase
}

func NewCopyEncoder(muxer av.Muxer, inputStream av.StreamInfo, refs *llr.PacketReferences) (*CopyEncoder, error) {
	refs.AddCopyStream()

	outputStream, err := muxer.AddStreamCopy(inputStream)
	if err != nil {
		return nil, err
	}

	return &CopyEncoder{
		encoderBase: encoderBase{
			inputStream:  inputStream,
			outputStream: outputStream,
			muxer:        muxer,
			refs:         refs,
		},
	}, nil
}

func (e *CopyEncoder) ProcessPacket(inputPacket *av.Packet) error {
	return e.finalizeAndWritePacket(inputPacket, inputPacket.Clone())
}

func (e *CopyEncoder) Close() error {
	return nil
}

// newEncoderForStream selects the processing variant for one input stream:
// raw video is re-encoded, everything else passes through.
func newEncoderForStream(lib av.Library, muxer av.Muxer, inputStream av.StreamInfo, refs *llr.PacketReferences, cfg CompressConfig) (Encoder, error) {
	if inputStream.CodecName == "rawvideo" {
		glog.V(1).Infof("  Stream #0:%d: input_codec=%s output_codec=%s",
			inputStream.Index, inputStream.CodecName, cfg.VideoCodec)
		return NewVideoEncoder(lib, muxer, inputStream, refs, cfg.VideoCodec, cfg.VideoCodecOptions)
	}

	glog.V(1).Infof("  Stream #0:%d: input_codec=%s output_codec=copy",
		inputStream.Index, inputStream.CodecName)
	return NewCopyEncoder(muxer, inputStream, refs)
}

// ensure the variants satisfy the interface
var _ Encoder = (*VideoEncoder)(nil)
var _ Encoder = (*CopyEncoder)(nil)
