package avtest

import (
	"encoding/binary"
	"errors"
	"io"
	"os"

	"github.com/fabio-d/rawcompr"
	"github.com/fabio-d/rawcompr/av"
)

// The fake container format is deliberately trivial: a header describing the
// streams, then packet records in interleaved order until EOF.
//
//	magic "FCON"
//	u32 streamCount
//	repeat streamCount:
//	  asciiz codecName; asciiz pixelFormat ("" if not video)
//	  u32 width; u32 height
//	  u32 tbNum; u32 tbDen; u32 frNum; u32 frDen
//	  u64 duration
//	repeat until EOF:
//	  u32 streamIndex; u64 pts; u64 dts; u64 duration; u8 keyframe
//	  u32 size; payload
//
// All integers big-endian. Packet.Pos is the payload's file offset, so the
// packet pipeline sees the same positional semantics a real demuxer gives
// it.

var containerMagic = [4]byte{'F', 'C', 'O', 'N'}

// packetRecordHeaderSize is the fixed number of bytes preceding a packet's
// payload.
const packetRecordHeaderSize = 4 + 8 + 8 + 8 + 1 + 4

func writeAsciiz(w io.Writer, s string) error {
	if _, err := io.WriteString(w, s); err != nil {
		return err
	}
	_, err := w.Write([]byte{0})
	return err
}

func readAsciiz(r io.Reader) (string, error) {
	var result []byte
	var buf [1]byte
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return "", err
		}
		if buf[0] == 0 {
			return string(result), nil
		}
		if len(result) > 255 {
			return "", errors.New("unterminated string")
		}
		result = append(result, buf[0])
	}
}

func writeStreamHeader(w io.Writer, info av.StreamInfo) error {
	if err := writeAsciiz(w, info.CodecName); err != nil {
		return err
	}
	if err := writeAsciiz(w, info.PixelFormat); err != nil {
		return err
	}
	fields := []uint32{
		uint32(info.Width), uint32(info.Height),
		uint32(info.TimeBase.Num), uint32(info.TimeBase.Den),
		uint32(info.AvgFrameRate.Num), uint32(info.AvgFrameRate.Den),
	}
	for _, v := range fields {
		if err := binary.Write(w, binary.BigEndian, v); err != nil {
			return err
		}
	}
	return binary.Write(w, binary.BigEndian, uint64(info.Duration))
}

func readStreamHeader(r io.Reader, index int) (av.StreamInfo, error) {
	var info av.StreamInfo
	var err error

	info.Index = index
	if info.CodecName, err = readAsciiz(r); err != nil {
		return info, err
	}
	if info.PixelFormat, err = readAsciiz(r); err != nil {
		return info, err
	}

	var fields [6]uint32
	for i := range fields {
		if err := binary.Read(r, binary.BigEndian, &fields[i]); err != nil {
			return info, err
		}
	}
	info.Width = int(fields[0])
	info.Height = int(fields[1])
	info.TimeBase = av.Rational{Num: int(fields[2]), Den: int(fields[3])}
	info.AvgFrameRate = av.Rational{Num: int(fields[4]), Den: int(fields[5])}

	var duration uint64
	if err := binary.Read(r, binary.BigEndian, &duration); err != nil {
		return info, err
	}
	info.Duration = int64(duration)
	return info, nil
}

type demuxer struct {
	stream  av.ByteStream
	streams []av.StreamInfo
}

func openDemuxer(path string) (*demuxer, error) {
	stream, err := av.OpenFile(path, os.O_RDONLY)
	if err != nil {
		return nil, err
	}

	var magic [4]byte
	if _, err := io.ReadFull(stream, magic[:]); err != nil || magic != containerMagic {
		stream.Close()
		return nil, rawcompr.ErrExternal.WithMessage("not a test container: " + path)
	}

	var streamCount uint32
	if err := binary.Read(stream, binary.BigEndian, &streamCount); err != nil {
		stream.Close()
		return nil, rawcompr.ErrExternal.Wrap(err)
	}

	d := &demuxer{stream: stream}
	for i := uint32(0); i < streamCount; i++ {
		info, err := readStreamHeader(stream, int(i))
		if err != nil {
			stream.Close()
			return nil, rawcompr.ErrExternal.Wrap(err)
		}
		d.streams = append(d.streams, info)
	}
	return d, nil
}

func (d *demuxer) Streams() []av.StreamInfo {
	return d.streams
}

func (d *demuxer) ReadPacket(pkt *av.Packet) error {
	var streamIndex uint32
	err := binary.Read(d.stream, binary.BigEndian, &streamIndex)
	if errors.Is(err, io.EOF) {
		return io.EOF
	} else if err != nil {
		return rawcompr.ErrExternal.Wrap(err)
	}

	var pts, dts, duration uint64
	var keyframe uint8
	var size uint32
	for _, field := range []interface{}{&pts, &dts, &duration, &keyframe, &size} {
		if err := binary.Read(d.stream, binary.BigEndian, field); err != nil {
			return rawcompr.ErrExternal.WithMessage("truncated packet record")
		}
	}

	pos, err := av.Tell(d.stream)
	if err != nil {
		return err
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(d.stream, data); err != nil {
		return rawcompr.ErrExternal.WithMessage("truncated packet payload")
	}

	pkt.StreamIndex = int(streamIndex)
	pkt.Pos = pos
	pkt.Pts = int64(pts)
	pkt.Dts = int64(dts)
	pkt.Duration = int64(duration)
	pkt.Data = data
	pkt.Keyframe = keyframe != 0
	return nil
}

func (d *demuxer) Close() error {
	return d.stream.Close()
}

type muxer struct {
	stream        av.ByteStream
	streams       []av.StreamInfo
	headerWritten bool
}

func createMuxer(path string) (*muxer, error) {
	stream, err := av.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC)
	if err != nil {
		return nil, err
	}
	return &muxer{stream: stream}, nil
}

func (m *muxer) addStream(info av.StreamInfo) (av.StreamInfo, error) {
	if m.headerWritten {
		return av.StreamInfo{}, rawcompr.ErrExternal.WithMessage("header already written")
	}
	info.Index = len(m.streams)
	m.streams = append(m.streams, info)
	return info, nil
}

func (m *muxer) AddStreamCopy(src av.StreamInfo) (av.StreamInfo, error) {
	return m.addStream(src)
}

func (m *muxer) AddStreamEncoded(src av.StreamInfo, enc av.FrameEncoder) (av.StreamInfo, error) {
	encoder, ok := enc.(*frameEncoder)
	if !ok {
		return av.StreamInfo{}, rawcompr.ErrExternal.WithMessage("encoder is not an avtest encoder")
	}

	info := src
	info.CodecName = encoder.cfg.CodecName
	info.PixelFormat = encoder.cfg.PixelFormat
	info.Width = encoder.cfg.Width
	info.Height = encoder.cfg.Height
	return m.addStream(info)
}

func (m *muxer) WriteHeader() error {
	if _, err := m.stream.Write(containerMagic[:]); err != nil {
		return rawcompr.ErrExternal.Wrap(err)
	}
	if err := binary.Write(m.stream, binary.BigEndian, uint32(len(m.streams))); err != nil {
		return rawcompr.ErrExternal.Wrap(err)
	}
	for _, info := range m.streams {
		if err := writeStreamHeader(m.stream, info); err != nil {
			return rawcompr.ErrExternal.Wrap(err)
		}
	}
	m.headerWritten = true
	return nil
}

func (m *muxer) WritePacket(pkt *av.Packet) error {
	if !m.headerWritten {
		return rawcompr.ErrExternal.WithMessage("header not written yet")
	}

	fields := []interface{}{
		uint32(pkt.StreamIndex),
		uint64(pkt.Pts), uint64(pkt.Dts), uint64(pkt.Duration),
		boolToU8(pkt.Keyframe),
		uint32(len(pkt.Data)),
	}
	for _, field := range fields {
		if err := binary.Write(m.stream, binary.BigEndian, field); err != nil {
			return rawcompr.ErrExternal.Wrap(err)
		}
	}
	if _, err := m.stream.Write(pkt.Data); err != nil {
		return rawcompr.ErrExternal.Wrap(err)
	}
	return nil
}

func (m *muxer) WriteTrailer() error {
	return nil
}

func (m *muxer) Close() error {
	return m.stream.Close()
}

func boolToU8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// WriteContainer builds a container file from the given streams and packets,
// in the order given. It is the fixture generator for tests.
func WriteContainer(path string, streams []av.StreamInfo, packets []*av.Packet) error {
	m, err := createMuxer(path)
	if err != nil {
		return err
	}
	defer m.Close()

	for _, info := range streams {
		if _, err := m.AddStreamCopy(info); err != nil {
			return err
		}
	}
	if err := m.WriteHeader(); err != nil {
		return err
	}
	for _, pkt := range packets {
		if err := m.WritePacket(pkt); err != nil {
			return err
		}
	}
	return nil
}

// TruncateLastPacket removes the final packet record from a container file
// in place, simulating a remuxed file that lost a packet.
func TruncateLastPacket(path string) error {
	lib := NewLibrary()
	d, err := lib.OpenDemuxer(path)
	if err != nil {
		return err
	}
	defer d.Close()

	lastRecordStart := int64(-1)
	var pkt av.Packet
	for {
		err := d.ReadPacket(&pkt)
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return err
		}
		lastRecordStart = pkt.Pos - packetRecordHeaderSize
	}

	if lastRecordStart < 0 {
		return errors.New("container has no packets")
	}
	return os.Truncate(path, lastRecordStart)
}
