package avtest

import (
	"fmt"

	"github.com/fabio-d/rawcompr"
	"github.com/fabio-d/rawcompr/av"
	"github.com/fabio-d/rawcompr/internal/rle"
)

// Library is the in-memory av implementation. It understands the trivial
// container format in container.go, two video codecs ("rawvideo" and the
// RLE-based lossless codec "rlevideo") and three pixel formats.
type Library struct{}

func NewLibrary() *Library {
	return &Library{}
}

var pixelFormatSizes = map[string]int{
	"gray8": 1,
	"rgb24": 3,
	"bgr24": 3,
}

func frameSize(width, height int, format string) (int, error) {
	bpp, ok := pixelFormatSizes[format]
	if !ok {
		return 0, rawcompr.ErrExternal.WithMessage("unknown pixel format: " + format)
	}
	return width * height * bpp, nil
}

func (l *Library) OpenDemuxer(path string) (av.Demuxer, error) {
	return openDemuxer(path)
}

func (l *Library) CreateMuxer(path string) (av.Muxer, error) {
	return createMuxer(path)
}

func (l *Library) HasPixelFormat(name string) bool {
	_, ok := pixelFormatSizes[name]
	return ok
}

func (l *Library) CodecPixelFormats(codecName string) ([]string, error) {
	switch codecName {
	case "rlevideo":
		// gray8 first, so format selection has a candidate to reject
		// whenever the source carries color.
		return []string{"gray8", "rgb24", "bgr24"}, nil
	case "rawvideo":
		return []string{"gray8", "rgb24", "bgr24"}, nil
	default:
		return nil, rawcompr.ErrExternal.WithMessage("unknown encoder: " + codecName)
	}
}

func (l *Library) PixelFormatLoss(dst, src string, hasAlpha bool) (av.Loss, error) {
	if !l.HasPixelFormat(dst) {
		return 0, rawcompr.ErrExternal.WithMessage("unknown pixel format: " + dst)
	}
	if !l.HasPixelFormat(src) {
		return 0, rawcompr.ErrExternal.WithMessage("unknown pixel format: " + src)
	}

	if dst == src {
		return 0, nil
	}
	if (dst == "rgb24" || dst == "bgr24") && (src == "rgb24" || src == "bgr24") {
		return 0, nil // channel permutation only
	}
	if (dst == "rgb24" || dst == "bgr24") && src == "gray8" {
		return 0, nil // gray is representable in any color format
	}
	return av.LossColorspace | av.LossChroma, nil
}

// frame implements av.Frame.
type frame struct {
	width  int
	height int
	format string
	pts    int64
	data   []byte
}

func (f *frame) Width() int          { return f.width }
func (f *frame) Height() int         { return f.height }
func (f *frame) PixelFormat() string { return f.format }
func (f *frame) Pts() int64          { return f.pts }
func (f *frame) SetPts(pts int64)    { f.pts = pts }

// encodePayload/decodePayload implement the two fake codecs over raw frame
// bytes.
func encodePayload(codecName string, data []byte) ([]byte, error) {
	switch codecName {
	case "rawvideo":
		return append([]byte(nil), data...), nil
	case "rlevideo":
		return rle.CompressBytes(data), nil
	default:
		return nil, rawcompr.ErrExternal.WithMessage("unknown encoder: " + codecName)
	}
}

func decodePayload(codecName string, data []byte) ([]byte, error) {
	switch codecName {
	case "rawvideo":
		return append([]byte(nil), data...), nil
	case "rlevideo":
		decoded, err := rle.DecompressBytes(data)
		if err != nil {
			return nil, rawcompr.ErrExternal.Wrap(err)
		}
		return decoded, nil
	default:
		return nil, rawcompr.ErrExternal.WithMessage("unknown decoder: " + codecName)
	}
}

type frameDecoder struct {
	src   av.StreamInfo
	frame frame
}

func (l *Library) NewFrameDecoder(src av.StreamInfo) (av.FrameDecoder, error) {
	if src.PixelFormat == "" {
		return nil, rawcompr.ErrExternal.WithMessage("stream is not video: " + src.CodecName)
	}
	expected, err := frameSize(src.Width, src.Height, src.PixelFormat)
	if err != nil {
		return nil, err
	}

	d := &frameDecoder{src: src}
	d.frame = frame{
		width:  src.Width,
		height: src.Height,
		format: src.PixelFormat,
		data:   make([]byte, expected),
	}
	return d, nil
}

func (d *frameDecoder) DecodePacket(pkt *av.Packet) (av.Frame, error) {
	data, err := decodePayload(d.src.CodecName, pkt.Data)
	if err != nil {
		return nil, err
	}
	if len(data) != len(d.frame.data) {
		return nil, rawcompr.ErrExternal.WithMessage(fmt.Sprintf(
			"decoded frame has %d bytes, want %d", len(data), len(d.frame.data)))
	}

	copy(d.frame.data, data)
	d.frame.pts = pkt.Pts
	return &d.frame, nil
}

func (d *frameDecoder) Close() error {
	return nil
}

type frameEncoder struct {
	cfg av.VideoEncoderConfig
}

func (l *Library) NewVideoEncoder(cfg av.VideoEncoderConfig) (av.FrameEncoder, error) {
	accepted, err := l.CodecPixelFormats(cfg.CodecName)
	if err != nil {
		return nil, err
	}

	supported := false
	for _, format := range accepted {
		if format == cfg.PixelFormat {
			supported = true
		}
	}
	if !supported {
		return nil, rawcompr.ErrExternal.WithMessage(fmt.Sprintf(
			"encoder %s does not accept %s", cfg.CodecName, cfg.PixelFormat))
	}
	return &frameEncoder{cfg: cfg}, nil
}

func (e *frameEncoder) PixelFormat() string {
	return e.cfg.PixelFormat
}

func (e *frameEncoder) EncodeFrame(f av.Frame) (*av.Packet, error) {
	src, ok := f.(*frame)
	if !ok {
		return nil, rawcompr.ErrExternal.WithMessage("frame is not an avtest frame")
	}
	if src.format != e.cfg.PixelFormat {
		return nil, rawcompr.ErrExternal.WithMessage(fmt.Sprintf(
			"frame is %s, encoder wants %s", src.format, e.cfg.PixelFormat))
	}

	payload, err := encodePayload(e.cfg.CodecName, src.data)
	if err != nil {
		return nil, err
	}
	return &av.Packet{
		Pos:      -1,
		Pts:      src.pts,
		Dts:      src.pts,
		Data:     payload,
		Keyframe: true,
	}, nil
}

func (e *frameEncoder) Close() error {
	return nil
}

type frameConverter struct {
	srcFormat string
	out       frame
}

func (l *Library) NewFrameConverter(width, height int, srcFormat, dstFormat string) (av.FrameConverter, error) {
	size, err := frameSize(width, height, dstFormat)
	if err != nil {
		return nil, err
	}
	if !l.HasPixelFormat(srcFormat) {
		return nil, rawcompr.ErrExternal.WithMessage("unknown pixel format: " + srcFormat)
	}

	return &frameConverter{
		srcFormat: srcFormat,
		out: frame{
			width:  width,
			height: height,
			format: dstFormat,
			data:   make([]byte, size),
		},
	}, nil
}

func (c *frameConverter) Convert(f av.Frame) (av.Frame, error) {
	src, ok := f.(*frame)
	if !ok {
		return nil, rawcompr.ErrExternal.WithMessage("frame is not an avtest frame")
	}
	if src.format != c.srcFormat || src.width != c.out.width || src.height != c.out.height {
		return nil, rawcompr.ErrExternal.WithMessage("frame does not match converter geometry")
	}

	if err := convertPixels(c.out.data, c.out.format, src.data, src.format); err != nil {
		return nil, err
	}
	return &c.out, nil
}

func (c *frameConverter) Close() error {
	return nil
}

func convertPixels(dst []byte, dstFormat string, src []byte, srcFormat string) error {
	switch {
	case dstFormat == srcFormat:
		copy(dst, src)
	case (dstFormat == "rgb24" && srcFormat == "bgr24") ||
		(dstFormat == "bgr24" && srcFormat == "rgb24"):
		for i := 0; i < len(src); i += 3 {
			dst[i] = src[i+2]
			dst[i+1] = src[i+1]
			dst[i+2] = src[i]
		}
	case (dstFormat == "rgb24" || dstFormat == "bgr24") && srcFormat == "gray8":
		for i, v := range src {
			dst[i*3] = v
			dst[i*3+1] = v
			dst[i*3+2] = v
		}
	default:
		return rawcompr.ErrExternal.WithMessage(fmt.Sprintf(
			"unsupported conversion %s -> %s", srcFormat, dstFormat))
	}
	return nil
}
