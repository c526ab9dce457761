package ffmpeg

import (
	"errors"
	"io"

	"github.com/asticode/go-astiav"
	"github.com/fabio-d/rawcompr/av"
)

type demuxer struct {
	formatContext *astiav.FormatContext
	packet        *astiav.Packet
	streams       []av.StreamInfo
}

func (l *Library) OpenDemuxer(path string) (av.Demuxer, error) {
	formatContext := astiav.AllocFormatContext()
	if formatContext == nil {
		return nil, averr("avformat_alloc_context", errors.New("allocation failed"))
	}

	if err := formatContext.OpenInput(path, nil, nil); err != nil {
		formatContext.Free()
		return nil, averr("avformat_open_input: "+path, err)
	}
	if err := formatContext.FindStreamInfo(nil); err != nil {
		formatContext.CloseInput()
		formatContext.Free()
		return nil, averr("avformat_find_stream_info", err)
	}

	d := &demuxer{
		formatContext: formatContext,
		packet:        astiav.AllocPacket(),
	}
	for _, st := range formatContext.Streams() {
		d.streams = append(d.streams, streamInfo(st))
	}
	return d, nil
}

func (d *demuxer) Streams() []av.StreamInfo {
	return d.streams
}

func (d *demuxer) ReadPacket(pkt *av.Packet) error {
	d.packet.Unref()

	err := d.formatContext.ReadFrame(d.packet)
	if errors.Is(err, astiav.ErrEof) {
		return io.EOF
	} else if err != nil {
		return averr("av_read_frame", err)
	}

	pkt.StreamIndex = d.packet.StreamIndex()
	pkt.Pos = d.packet.Pos()
	pkt.Pts = d.packet.Pts()
	pkt.Dts = d.packet.Dts()
	pkt.Duration = d.packet.Duration()
	pkt.Data = append(pkt.Data[:0], d.packet.Data()...)
	pkt.Keyframe = d.packet.Flags().Has(astiav.PacketFlagKey)
	return nil
}

func (d *demuxer) Close() error {
	d.packet.Free()
	d.formatContext.CloseInput()
	d.formatContext.Free()
	return nil
}
