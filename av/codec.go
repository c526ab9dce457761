// The interfaces in this file are the contract the core requires from the
// underlying multimedia library: demux/mux, frame codecs, pixel-format
// conversion and the loss query. The production implementation over FFmpeg
// lives in av/ffmpeg; avtest carries an in-memory implementation for tests.

package av

// StreamInfo describes one stream of a container.
type StreamInfo struct {
	Index        int
	CodecName    string
	TimeBase     Rational
	AvgFrameRate Rational
	Duration     int64

	// Video-only fields. PixelFormat is empty for non-video streams.
	Width       int
	Height      int
	PixelFormat string

	// Opaque carries implementation-private state (e.g. the underlying
	// stream handle). Callers must pass it back unmodified.
	Opaque any
}

// Frame is one decoded video frame. Frames are opaque handles owned by the
// implementation that produced them; they must only be passed to codecs and
// converters obtained from the same Library.
type Frame interface {
	Width() int
	Height() int
	PixelFormat() string
	Pts() int64
	SetPts(pts int64)
}

// FrameDecoder turns one packet into one frame. The returned frame is owned
// by the decoder and only valid until the next DecodePacket call.
type FrameDecoder interface {
	DecodePacket(pkt *Packet) (Frame, error)
	Close() error
}

// FrameEncoder turns one frame into one packet.
type FrameEncoder interface {
	// PixelFormat returns the pixel format the encoder consumes.
	PixelFormat() string

	EncodeFrame(frame Frame) (*Packet, error)
	Close() error
}

// FrameConverter converts frames between two pixel formats of identical
// dimensions. The returned frame is owned by the converter and only valid
// until the next Convert call.
type FrameConverter interface {
	Convert(src Frame) (Frame, error)
	Close() error
}

// VideoEncoderConfig parameterizes NewVideoEncoder.
type VideoEncoderConfig struct {
	CodecName string
	Options   map[string]string

	Width       int
	Height      int
	PixelFormat string
	TimeBase    Rational
	FrameRate   Rational

	// GlobalHeader requests out-of-band codec configuration, as required
	// by Matroska-family containers.
	GlobalHeader bool
}

// Demuxer reads packets from an open container.
type Demuxer interface {
	// Streams returns the container's stream layout, in index order.
	Streams() []StreamInfo

	// ReadPacket fills pkt with the next packet in interleaved order. It
	// returns io.EOF when the container is exhausted.
	ReadPacket(pkt *Packet) error

	Close() error
}

// Muxer writes packets to a container under construction. All streams must
// be added before WriteHeader; packets are interleaved by the
// implementation.
type Muxer interface {
	// AddStreamCopy creates an output stream with codec parameters copied
	// verbatim from src, and returns its description.
	AddStreamCopy(src StreamInfo) (StreamInfo, error)

	// AddStreamEncoded creates an output stream fed by enc, which must
	// have been obtained from the same Library. Stream metadata (time
	// base, frame rate, duration) is carried over from src.
	AddStreamEncoded(src StreamInfo, enc FrameEncoder) (StreamInfo, error)

	WriteHeader() error
	WritePacket(pkt *Packet) error
	WriteTrailer() error
	Close() error
}

// Library is the factory side of the contract.
type Library interface {
	OpenDemuxer(path string) (Demuxer, error)

	// CreateMuxer opens a Matroska-family output container at path.
	CreateMuxer(path string) (Muxer, error)

	NewFrameDecoder(src StreamInfo) (FrameDecoder, error)
	NewVideoEncoder(cfg VideoEncoderConfig) (FrameEncoder, error)
	NewFrameConverter(width, height int, srcFormat, dstFormat string) (FrameConverter, error)

	// CodecPixelFormats returns the pixel formats the named encoder
	// accepts, in the encoder's preference order.
	CodecPixelFormats(codecName string) ([]string, error)

	// PixelFormatLoss classifies what converting src into dst discards.
	PixelFormatLoss(dst, src string, hasAlpha bool) (Loss, error)

	// HasPixelFormat reports whether name resolves to a known pixel
	// format.
	HasPixelFormat(name string) bool
}
