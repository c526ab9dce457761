// Package ffmpeg implements the av contract over the FFmpeg libraries,
// through the github.com/asticode/go-astiav bindings. It needs cgo and the
// FFmpeg shared libraries at build time; everything above it is pure Go.
package ffmpeg

import (
	"github.com/asticode/go-astiav"
	"github.com/fabio-d/rawcompr"
	"github.com/fabio-d/rawcompr/av"
)

// Library is the FFmpeg-backed implementation of av.Library.
type Library struct{}

func New() *Library {
	return &Library{}
}

// averr decorates an FFmpeg error with the name of the failed call, so the
// reported message reads like "multimedia library error: avcodec_open2:
// Invalid argument".
func averr(op string, err error) error {
	return rawcompr.ErrExternal.WithMessage(op + ": " + err.Error())
}

func fromRational(r astiav.Rational) av.Rational {
	return av.Rational{Num: r.Num(), Den: r.Den()}
}

func toRational(r av.Rational) astiav.Rational {
	return astiav.NewRational(r.Num, r.Den)
}

func (l *Library) HasPixelFormat(name string) bool {
	return astiav.FindPixelFormatByName(name) != astiav.PixelFormatNone
}

func pixelFormatByName(name string) (astiav.PixelFormat, error) {
	pf := astiav.FindPixelFormatByName(name)
	if pf == astiav.PixelFormatNone {
		return pf, rawcompr.ErrExternal.WithMessage("unknown pixel format: " + name)
	}
	return pf, nil
}

func (l *Library) CodecPixelFormats(codecName string) ([]string, error) {
	codec := astiav.FindEncoderByName(codecName)
	if codec == nil {
		return nil, rawcompr.ErrExternal.WithMessage("unknown encoder: " + codecName)
	}

	var names []string
	for _, pf := range codec.PixelFormats() {
		names = append(names, pf.Name())
	}
	return names, nil
}

func (l *Library) PixelFormatLoss(dst, src string, hasAlpha bool) (av.Loss, error) {
	dstFormat, err := pixelFormatByName(dst)
	if err != nil {
		return 0, err
	}
	srcFormat, err := pixelFormatByName(src)
	if err != nil {
		return 0, err
	}

	// The binding exposes FFmpeg's loss classification verbatim, and the
	// av.Loss bits use the same values.
	return av.Loss(astiav.GetPixelFormatLoss(dstFormat, srcFormat, hasAlpha)), nil
}

// streamInfo projects an FFmpeg stream onto the contract's stream
// description. The stream handle rides along in Opaque so the muxer and the
// codecs can get back at the full codec parameters.
func streamInfo(st *astiav.Stream) av.StreamInfo {
	cp := st.CodecParameters()

	info := av.StreamInfo{
		Index:        st.Index(),
		CodecName:    cp.CodecID().Name(),
		TimeBase:     fromRational(st.TimeBase()),
		AvgFrameRate: fromRational(st.AvgFrameRate()),
		Duration:     st.Duration(),
		Opaque:       st,
	}

	if cp.MediaType() == astiav.MediaTypeVideo {
		info.Width = cp.Width()
		info.Height = cp.Height()
		if pf := cp.PixelFormat(); pf != astiav.PixelFormatNone {
			info.PixelFormat = pf.Name()
		}
	}
	return info
}

// sourceStream recovers the FFmpeg stream handle stashed by streamInfo.
func sourceStream(info av.StreamInfo) (*astiav.Stream, error) {
	st, ok := info.Opaque.(*astiav.Stream)
	if !ok {
		return nil, rawcompr.ErrExternal.WithMessage("stream does not originate from this library")
	}
	return st, nil
}

func newDictionary(options map[string]string) (*astiav.Dictionary, error) {
	if len(options) == 0 {
		return nil, nil
	}

	d := astiav.NewDictionary()
	for key, value := range options {
		if err := d.Set(key, value, astiav.NewDictionaryFlags()); err != nil {
			d.Free()
			return nil, averr("av_dict_set", err)
		}
	}
	return d, nil
}
