package pipeline

import (
	"fmt"

	"github.com/fabio-d/rawcompr"
	"github.com/fabio-d/rawcompr/av"
	"github.com/fabio-d/rawcompr/llr"
	"github.com/golang/glog"
)

// Decoder regenerates the original payload bytes of one stream's packets
// during decompression.
type Decoder interface {
	DecodePacket(pkt *av.Packet) ([]byte, error)
	Close() error
}

// VideoDecoder inverts a lossless re-encode: it decodes the packet to a
// frame, converts it back to the pixel format recorded in the stream
// descriptor and re-encodes it as raw video.
type VideoDecoder struct {
	decoder    av.FrameDecoder
	converter  av.FrameConverter
	rawEncoder av.FrameEncoder
}

func NewVideoDecoder(lib av.Library, inputStream av.StreamInfo, outputPixelFormat string) (*VideoDecoder, error) {
	decoder, err := lib.NewFrameDecoder(inputStream)
	if err != nil {
		return nil, err
	}

	rawEncoder, err := lib.NewVideoEncoder(av.VideoEncoderConfig{
		CodecName:   "rawvideo",
		Width:       inputStream.Width,
		Height:      inputStream.Height,
		PixelFormat: outputPixelFormat,
		TimeBase:    inputStream.TimeBase,
		FrameRate:   inputStream.AvgFrameRate,
	})
	if err != nil {
		decoder.Close()
		return nil, err
	}

	converter, err := lib.NewFrameConverter(inputStream.Width, inputStream.Height, inputStream.PixelFormat, outputPixelFormat)
	if err != nil {
		decoder.Close()
		rawEncoder.Close()
		return nil, err
	}

	return &VideoDecoder{
		decoder:    decoder,
		converter:  converter,
		rawEncoder: rawEncoder,
	}, nil
}

func (d *VideoDecoder) DecodePacket(inputPacket *av.Packet) ([]byte, error) {
	inputFrame, err := d.decoder.DecodePacket(inputPacket)
	if err != nil {
		return nil, err
	}

	glog.V(1).Infof(" -> Decoded %dx%d %s pts %d",
		inputFrame.Width(), inputFrame.Height(), inputFrame.PixelFormat(), inputFrame.Pts())

	outputFrame, err := d.converter.Convert(inputFrame)
	if err != nil {
		return nil, err
	}
	outputFrame.SetPts(inputFrame.Pts())

	outputPacket, err := d.rawEncoder.EncodeFrame(outputFrame)
	if err != nil {
		return nil, err
	}
	return outputPacket.Data, nil
}

func (d *VideoDecoder) Close() error {
	d.decoder.Close()
	d.converter.Close()
	return d.rawEncoder.Close()
}

// CopyDecoder returns a passthrough packet's payload as-is.
type CopyDecoder struct{}

func (d *CopyDecoder) DecodePacket(inputPacket *av.Packet) ([]byte, error) {
	return append([]byte(nil), inputPacket.Data...), nil
}

func (d *CopyDecoder) Close() error {
	return nil
}

// newDecoderForStream builds the decoding variant matching one stream
// descriptor from the sidecar.
func newDecoderForStream(lib av.Library, inputStream av.StreamInfo, info llr.StreamInfo) (Decoder, error) {
	switch info.Type {
	case llr.VideoCodec:
		glog.V(1).Infof("  Stream #0:%d: input_codec=%s output_codec=rawvideo %s",
			inputStream.Index, inputStream.CodecName, info.PixelFormat)

		if !lib.HasPixelFormat(info.PixelFormat) {
			return nil, rawcompr.ErrCorruptSidecar.WithMessage(
				"invalid pixel format string: " + info.PixelFormat)
		}
		return NewVideoDecoder(lib, inputStream, info.PixelFormat)
	case llr.CopyCodec:
		glog.V(1).Infof("  Stream #0:%d: input_codec=%s output_codec=copy",
			inputStream.Index, inputStream.CodecName)
		return &CopyDecoder{}, nil
	default:
		return nil, rawcompr.ErrCorruptSidecar.WithMessage(fmt.Sprintf(
			"unknown stream type tag %d", info.Type))
	}
}

var _ Decoder = (*VideoDecoder)(nil)
var _ Decoder = (*CopyDecoder)(nil)
