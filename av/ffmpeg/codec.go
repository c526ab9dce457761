package ffmpeg

import (
	"errors"

	"github.com/asticode/go-astiav"
	"github.com/fabio-d/rawcompr/av"
)

// frame wraps an FFmpeg frame as an av.Frame.
type frame struct {
	f *astiav.Frame
}

func (f *frame) Width() int          { return f.f.Width() }
func (f *frame) Height() int         { return f.f.Height() }
func (f *frame) PixelFormat() string { return f.f.PixelFormat().Name() }
func (f *frame) Pts() int64          { return f.f.Pts() }
func (f *frame) SetPts(pts int64)    { f.f.SetPts(pts) }

type frameDecoder struct {
	codecContext *astiav.CodecContext
	packet       *astiav.Packet
	frame        frame
}

func (l *Library) NewFrameDecoder(src av.StreamInfo) (av.FrameDecoder, error) {
	inputStream, err := sourceStream(src)
	if err != nil {
		return nil, err
	}

	codec := astiav.FindDecoder(inputStream.CodecParameters().CodecID())
	if codec == nil {
		return nil, averr("avcodec_find_decoder", errors.New("no decoder for "+src.CodecName))
	}

	codecContext := astiav.AllocCodecContext(codec)
	if codecContext == nil {
		return nil, averr("avcodec_alloc_context3", errors.New("allocation failed"))
	}
	if err := codecContext.FromCodecParameters(inputStream.CodecParameters()); err != nil {
		codecContext.Free()
		return nil, averr("avcodec_parameters_to_context", err)
	}
	if err := codecContext.Open(codec, nil); err != nil {
		codecContext.Free()
		return nil, averr("avcodec_open2", err)
	}

	return &frameDecoder{
		codecContext: codecContext,
		packet:       astiav.AllocPacket(),
		frame:        frame{f: astiav.AllocFrame()},
	}, nil
}

func (d *frameDecoder) DecodePacket(pkt *av.Packet) (av.Frame, error) {
	d.packet.Unref()
	if err := d.packet.FromData(pkt.Data); err != nil {
		return nil, averr("av_packet_from_data", err)
	}
	d.packet.SetPts(pkt.Pts)
	d.packet.SetDts(pkt.Dts)
	d.packet.SetDuration(pkt.Duration)

	if err := d.codecContext.SendPacket(d.packet); err != nil {
		return nil, averr("avcodec_send_packet", err)
	}

	d.frame.f.Unref()
	if err := d.codecContext.ReceiveFrame(d.frame.f); err != nil {
		return nil, averr("avcodec_receive_frame", err)
	}
	return &d.frame, nil
}

func (d *frameDecoder) Close() error {
	d.frame.f.Free()
	d.packet.Free()
	d.codecContext.Free()
	return nil
}

type frameEncoder struct {
	codecContext *astiav.CodecContext
	packet       *astiav.Packet
	pixelFormat  string
}

func (l *Library) NewVideoEncoder(cfg av.VideoEncoderConfig) (av.FrameEncoder, error) {
	codec := astiav.FindEncoderByName(cfg.CodecName)
	if codec == nil {
		return nil, averr("avcodec_find_encoder", errors.New("no encoder named "+cfg.CodecName))
	}

	pixelFormat, err := pixelFormatByName(cfg.PixelFormat)
	if err != nil {
		return nil, err
	}

	codecContext := astiav.AllocCodecContext(codec)
	if codecContext == nil {
		return nil, averr("avcodec_alloc_context3", errors.New("allocation failed"))
	}
	codecContext.SetWidth(cfg.Width)
	codecContext.SetHeight(cfg.Height)
	codecContext.SetPixelFormat(pixelFormat)
	codecContext.SetTimeBase(toRational(cfg.TimeBase))
	if cfg.FrameRate.Num != 0 && cfg.FrameRate.Den != 0 {
		codecContext.SetFramerate(toRational(cfg.FrameRate))
	}
	if cfg.GlobalHeader {
		codecContext.SetFlags(codecContext.Flags().Add(astiav.CodecContextFlagGlobalHeader))
	}

	options, err := newDictionary(cfg.Options)
	if err != nil {
		codecContext.Free()
		return nil, err
	}
	err = codecContext.Open(codec, options)
	if options != nil {
		options.Free()
	}
	if err != nil {
		codecContext.Free()
		return nil, averr("avcodec_open2", err)
	}

	return &frameEncoder{
		codecContext: codecContext,
		packet:       astiav.AllocPacket(),
		pixelFormat:  cfg.PixelFormat,
	}, nil
}

func (e *frameEncoder) PixelFormat() string {
	return e.pixelFormat
}

func (e *frameEncoder) EncodeFrame(f av.Frame) (*av.Packet, error) {
	src, ok := f.(*frame)
	if !ok {
		return nil, averr("avcodec_send_frame", errors.New("frame does not originate from this library"))
	}

	if err := e.codecContext.SendFrame(src.f); err != nil {
		return nil, averr("avcodec_send_frame", err)
	}

	e.packet.Unref()
	if err := e.codecContext.ReceivePacket(e.packet); err != nil {
		return nil, averr("avcodec_receive_packet", err)
	}

	return &av.Packet{
		Pos:      -1,
		Pts:      e.packet.Pts(),
		Dts:      e.packet.Dts(),
		Duration: e.packet.Duration(),
		Data:     append([]byte(nil), e.packet.Data()...),
		Keyframe: e.packet.Flags().Has(astiav.PacketFlagKey),
	}, nil
}

func (e *frameEncoder) Close() error {
	e.packet.Free()
	e.codecContext.Free()
	return nil
}

type frameConverter struct {
	scaleContext *astiav.SoftwareScaleContext
	out          frame
}

func (l *Library) NewFrameConverter(width, height int, srcFormat, dstFormat string) (av.FrameConverter, error) {
	srcPixelFormat, err := pixelFormatByName(srcFormat)
	if err != nil {
		return nil, err
	}
	dstPixelFormat, err := pixelFormatByName(dstFormat)
	if err != nil {
		return nil, err
	}

	scaleContext, err := astiav.CreateSoftwareScaleContext(
		width, height, srcPixelFormat,
		width, height, dstPixelFormat,
		astiav.NewSoftwareScaleContextFlags())
	if err != nil {
		return nil, averr("sws_getContext", err)
	}

	out := astiav.AllocFrame()
	out.SetWidth(width)
	out.SetHeight(height)
	out.SetPixelFormat(dstPixelFormat)
	if err := out.AllocBuffer(0); err != nil {
		out.Free()
		scaleContext.Free()
		return nil, averr("av_frame_get_buffer", err)
	}

	return &frameConverter{
		scaleContext: scaleContext,
		out:          frame{f: out},
	}, nil
}

func (c *frameConverter) Convert(f av.Frame) (av.Frame, error) {
	src, ok := f.(*frame)
	if !ok {
		return nil, averr("sws_scale", errors.New("frame does not originate from this library"))
	}

	if err := c.out.f.MakeWritable(); err != nil {
		return nil, averr("av_frame_make_writable", err)
	}
	if err := c.scaleContext.ScaleFrame(src.f, c.out.f); err != nil {
		return nil, averr("sws_scale", err)
	}
	return &c.out, nil
}

func (c *frameConverter) Close() error {
	c.out.f.Free()
	c.scaleContext.Free()
	return nil
}
