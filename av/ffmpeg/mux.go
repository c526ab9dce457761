package ffmpeg

import (
	"errors"

	"github.com/asticode/go-astiav"
	"github.com/fabio-d/rawcompr"
	"github.com/fabio-d/rawcompr/av"
)

type muxer struct {
	formatContext *astiav.FormatContext
	ioContext     *astiav.IOContext
	packet        *astiav.Packet
}

func (l *Library) CreateMuxer(path string) (av.Muxer, error) {
	formatContext, err := astiav.AllocOutputFormatContext(nil, "matroska", path)
	if err != nil {
		return nil, averr("avformat_alloc_output_context2: "+path, err)
	}
	if formatContext == nil {
		return nil, averr("avformat_alloc_output_context2", errors.New("allocation failed"))
	}

	ioContext, err := astiav.OpenIOContext(path, astiav.NewIOContextFlags(astiav.IOContextFlagWrite))
	if err != nil {
		formatContext.Free()
		return nil, averr("avio_open: "+path, err)
	}
	formatContext.SetPb(ioContext)

	return &muxer{
		formatContext: formatContext,
		ioContext:     ioContext,
		packet:        astiav.AllocPacket(),
	}, nil
}

// newOutputStream mirrors the source stream's metadata into a new output
// stream: time base, frame rate and duration are preserved so that packet
// timestamps survive the round trip.
func (m *muxer) newOutputStream(src av.StreamInfo) (*astiav.Stream, error) {
	outputStream := m.formatContext.NewStream(nil)
	if outputStream == nil {
		return nil, averr("avformat_new_stream", errors.New("allocation failed"))
	}

	outputStream.SetTimeBase(toRational(src.TimeBase))
	outputStream.SetAvgFrameRate(toRational(src.AvgFrameRate))
	outputStream.SetDuration(src.Duration)
	return outputStream, nil
}

func (m *muxer) AddStreamCopy(src av.StreamInfo) (av.StreamInfo, error) {
	inputStream, err := sourceStream(src)
	if err != nil {
		return av.StreamInfo{}, err
	}

	outputStream, err := m.newOutputStream(src)
	if err != nil {
		return av.StreamInfo{}, err
	}

	if err := inputStream.CodecParameters().Copy(outputStream.CodecParameters()); err != nil {
		return av.StreamInfo{}, averr("avcodec_parameters_copy", err)
	}
	outputStream.CodecParameters().SetCodecTag(0)

	info := src
	info.Index = outputStream.Index()
	info.TimeBase = fromRational(outputStream.TimeBase())
	info.Opaque = outputStream
	return info, nil
}

func (m *muxer) AddStreamEncoded(src av.StreamInfo, enc av.FrameEncoder) (av.StreamInfo, error) {
	encoder, ok := enc.(*frameEncoder)
	if !ok {
		return av.StreamInfo{}, rawcompr.ErrExternal.WithMessage("encoder does not originate from this library")
	}

	outputStream, err := m.newOutputStream(src)
	if err != nil {
		return av.StreamInfo{}, err
	}

	if err := encoder.codecContext.ToCodecParameters(outputStream.CodecParameters()); err != nil {
		return av.StreamInfo{}, averr("avcodec_parameters_from_context", err)
	}
	outputStream.CodecParameters().SetCodecTag(0)

	info := src
	info.Index = outputStream.Index()
	info.CodecName = outputStream.CodecParameters().CodecID().Name()
	info.PixelFormat = encoder.PixelFormat()
	info.TimeBase = fromRational(outputStream.TimeBase())
	info.Opaque = outputStream
	return info, nil
}

func (m *muxer) WriteHeader() error {
	if err := m.formatContext.WriteHeader(nil); err != nil {
		return averr("avformat_write_header", err)
	}
	return nil
}

func (m *muxer) WritePacket(pkt *av.Packet) error {
	m.packet.Unref()

	if err := m.packet.FromData(pkt.Data); err != nil {
		return averr("av_packet_from_data", err)
	}
	m.packet.SetStreamIndex(pkt.StreamIndex)
	m.packet.SetPts(pkt.Pts)
	m.packet.SetDts(pkt.Dts)
	m.packet.SetDuration(pkt.Duration)
	if pkt.Keyframe {
		m.packet.SetFlags(m.packet.Flags().Add(astiav.PacketFlagKey))
	}

	if err := m.formatContext.WriteInterleavedFrame(m.packet); err != nil {
		return averr("av_interleaved_write_frame", err)
	}
	return nil
}

func (m *muxer) WriteTrailer() error {
	if err := m.formatContext.WriteTrailer(); err != nil {
		return averr("av_write_trailer", err)
	}
	return nil
}

func (m *muxer) Close() error {
	m.packet.Free()
	err := m.ioContext.Close()
	m.formatContext.Free()
	if err != nil {
		return averr("avio_closep", err)
	}
	return nil
}
