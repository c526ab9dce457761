package pipeline_test

import (
	"bytes"
	"crypto/md5"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/fabio-d/rawcompr"
	"github.com/fabio-d/rawcompr/av"
	"github.com/fabio-d/rawcompr/avtest"
	"github.com/fabio-d/rawcompr/llr"
	"github.com/fabio-d/rawcompr/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConfig = pipeline.CompressConfig{
	VideoCodec: "rlevideo",
	HashName:   "MD5",
}

func audioStream(index int) av.StreamInfo {
	return av.StreamInfo{
		Index:     index,
		CodecName: "aac",
		TimeBase:  av.Rational{Num: 1, Den: 48000},
	}
}

func videoStream(index int) av.StreamInfo {
	return av.StreamInfo{
		Index:        index,
		CodecName:    "rawvideo",
		PixelFormat:  "bgr24",
		Width:        320,
		Height:       240,
		TimeBase:     av.Rational{Num: 1, Den: 25},
		AvgFrameRate: av.Rational{Num: 25, Den: 1},
	}
}

// videoFrame builds one 320x240 bgr24 frame: a short channel-distinct
// prefix (so a swapped conversion cannot go unnoticed) followed by long
// runs that compress well.
func videoFrame(seed byte) []byte {
	data := make([]byte, 320*240*3)
	for i := 0; i < 300; i += 3 {
		data[i] = seed + 1
		data[i+1] = seed + 2
		data[i+2] = seed + 3
	}
	for i := 300; i < len(data); i++ {
		data[i] = seed
	}
	return data
}

func audioPacket(index int, pts int64, size int) *av.Packet {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(int(pts) + i*3)
	}
	return &av.Packet{
		StreamIndex: index,
		Pts:         pts,
		Dts:         pts,
		Duration:    1024,
		Data:        data,
	}
}

func videoPacket(index int, pts int64, seed byte) *av.Packet {
	return &av.Packet{
		StreamIndex: index,
		Pts:         pts,
		Dts:         pts,
		Duration:    1,
		Keyframe:    true,
		Data:        videoFrame(seed),
	}
}

// compressFixture writes a container from the given streams and packets,
// compresses it, and returns the involved paths.
func compressFixture(t *testing.T, streams []av.StreamInfo, packets []*av.Packet) (inputPath, outputPath, llrPath string) {
	t.Helper()
	dir := t.TempDir()
	inputPath = filepath.Join(dir, "input.fcon")
	outputPath = filepath.Join(dir, "output.fcon")
	llrPath = filepath.Join(dir, "output.llr")

	require.NoError(t, avtest.WriteContainer(inputPath, streams, packets))
	require.NoError(t, pipeline.Compress(avtest.NewLibrary(), inputPath, outputPath, llrPath, testConfig))
	return
}

func decompressTo(t *testing.T, outputPath, llrPath string) (string, error) {
	t.Helper()
	restoredPath := filepath.Join(filepath.Dir(outputPath), "restored.fcon")
	err := pipeline.Decompress(avtest.NewLibrary(), outputPath, restoredPath, llrPath)
	return restoredPath, err
}

func readSidecarTable(t *testing.T, llrPath string) (*llr.PacketReferences, llr.Info) {
	t.Helper()
	llrFile, err := av.OpenFile(llrPath, os.O_RDONLY)
	require.NoError(t, err)
	defer llrFile.Close()

	refs, info, err := llr.ReadTable(llrFile)
	require.NoError(t, err)
	return refs, info
}

func TestRoundTripAllPassthrough(t *testing.T) {
	streams := []av.StreamInfo{audioStream(0)}
	packets := []*av.Packet{
		audioPacket(0, 0, 170),
		audioPacket(0, 1024, 183),
	}
	inputPath, outputPath, llrPath := compressFixture(t, streams, packets)

	refs, info := readSidecarTable(t, llrPath)
	require.Len(t, refs.Streams(), 1)
	assert.Equal(t, llr.CopyCodec, refs.Streams()[0].Type)
	require.Equal(t, 2, refs.Len())
	assert.EqualValues(t, 170, refs.Table()[0].OrigSize)
	assert.EqualValues(t, 183, refs.Table()[1].OrigSize)

	// The hash section witnesses the original bytes.
	inputBytes, err := os.ReadFile(inputPath)
	require.NoError(t, err)
	expectedHash := md5.Sum(inputBytes)
	assert.Equal(t, "MD5", info.HashName)
	assert.Equal(t, expectedHash[:], info.Hash)
	assert.EqualValues(t, len(inputBytes), info.OriginalSize)

	// The sidecar embeds exactly the bytes outside the two payloads.
	llrBytes, err := os.ReadFile(llrPath)
	require.NoError(t, err)
	headerSize := 4 + 8 + len("MD5") + 1 + 2 + md5.Size
	tableSize := 4 + 1 + 8 + 2*(8+4+4+8+8)
	assert.EqualValues(t, headerSize+tableSize+len(inputBytes)-170-183, len(llrBytes))

	restoredPath, err := decompressTo(t, outputPath, llrPath)
	require.NoError(t, err)

	restoredBytes, err := os.ReadFile(restoredPath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(inputBytes, restoredBytes), "round trip is not bit-exact")
}

func TestRoundTripSingleRawVideo(t *testing.T) {
	streams := []av.StreamInfo{videoStream(0)}
	packets := []*av.Packet{
		videoPacket(0, 0, 10),
		videoPacket(0, 1, 20),
		videoPacket(0, 2, 30),
	}
	inputPath, outputPath, llrPath := compressFixture(t, streams, packets)

	refs, _ := readSidecarTable(t, llrPath)
	require.Len(t, refs.Streams(), 1)
	assert.Equal(t, llr.VideoCodec, refs.Streams()[0].Type)
	assert.Equal(t, "bgr24", refs.Streams()[0].PixelFormat)
	require.Equal(t, 3, refs.Len())
	for _, e := range refs.Table() {
		assert.EqualValues(t, 320*240*3, e.OrigSize)
	}

	// Re-encoding must actually shrink the container.
	inputInfo, err := os.Stat(inputPath)
	require.NoError(t, err)
	outputInfo, err := os.Stat(outputPath)
	require.NoError(t, err)
	assert.Less(t, outputInfo.Size(), inputInfo.Size()/5,
		"remuxed container is not substantially smaller")

	restoredPath, err := decompressTo(t, outputPath, llrPath)
	require.NoError(t, err)

	inputBytes, err := os.ReadFile(inputPath)
	require.NoError(t, err)
	restoredBytes, err := os.ReadFile(restoredPath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(inputBytes, restoredBytes), "round trip is not bit-exact")
}

func TestRoundTripMixedStreams(t *testing.T) {
	streams := []av.StreamInfo{videoStream(0), audioStream(1)}
	packets := []*av.Packet{
		videoPacket(0, 0, 50),
		audioPacket(1, 0, 170),
		videoPacket(0, 1, 60),
		audioPacket(1, 1024, 183),
		audioPacket(1, 2048, 175),
	}
	inputPath, outputPath, llrPath := compressFixture(t, streams, packets)

	refs, _ := readSidecarTable(t, llrPath)
	require.Len(t, refs.Streams(), 2)
	assert.Equal(t, llr.VideoCodec, refs.Streams()[0].Type)
	assert.Equal(t, llr.CopyCodec, refs.Streams()[1].Type)
	assert.Equal(t, 5, refs.Len())

	perStream := map[int]int{}
	for _, e := range refs.Table() {
		perStream[e.StreamIndex]++
	}
	assert.Equal(t, map[int]int{0: 2, 1: 3}, perStream)

	restoredPath, err := decompressTo(t, outputPath, llrPath)
	require.NoError(t, err)

	inputBytes, err := os.ReadFile(inputPath)
	require.NoError(t, err)
	restoredBytes, err := os.ReadFile(restoredPath)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(inputBytes, restoredBytes), "round trip is not bit-exact")
}

func TestRoundTripEmptyContainer(t *testing.T) {
	inputPath, outputPath, llrPath := compressFixture(t, nil, nil)

	restoredPath, err := decompressTo(t, outputPath, llrPath)
	require.NoError(t, err)

	inputBytes, err := os.ReadFile(inputPath)
	require.NoError(t, err)
	restoredBytes, err := os.ReadFile(restoredPath)
	require.NoError(t, err)
	assert.Equal(t, inputBytes, restoredBytes)
}

// findPacketPos returns the payload position of the n-th packet of the given
// stream in the container at path.
func findPacketPos(t *testing.T, path string, streamIndex, ordinal int) int64 {
	t.Helper()
	demuxer, err := avtest.NewLibrary().OpenDemuxer(path)
	require.NoError(t, err)
	defer demuxer.Close()

	seen := 0
	var pkt av.Packet
	for {
		err := demuxer.ReadPacket(&pkt)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		if pkt.StreamIndex == streamIndex {
			if seen == ordinal {
				return pkt.Pos
			}
			seen++
		}
	}
	t.Fatalf("packet %d of stream %d not found in %s", ordinal, streamIndex, path)
	return -1
}

func TestDecompressDetectsCorruptedPayload(t *testing.T) {
	streams := []av.StreamInfo{videoStream(0), audioStream(1)}
	packets := []*av.Packet{
		videoPacket(0, 0, 50),
		audioPacket(1, 0, 170),
		audioPacket(1, 1024, 183),
	}
	_, outputPath, llrPath := compressFixture(t, streams, packets)

	// Corrupt one byte of a passthrough payload: every decode step still
	// succeeds, so only the final hash check can catch it.
	pos := findPacketPos(t, outputPath, 1, 0)
	outputBytes, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	outputBytes[pos] ^= 0x01
	require.NoError(t, os.WriteFile(outputPath, outputBytes, 0o644))

	_, err = decompressTo(t, outputPath, llrPath)
	assert.ErrorIs(t, err, rawcompr.ErrHashMismatch)
	assert.EqualError(t, err, "corrupt file")
}

func TestDecompressDetectsMissingPacket(t *testing.T) {
	streams := []av.StreamInfo{audioStream(0)}
	packets := []*av.Packet{
		audioPacket(0, 0, 170),
		audioPacket(0, 1024, 183),
	}
	_, outputPath, llrPath := compressFixture(t, streams, packets)

	require.NoError(t, avtest.TruncateLastPacket(outputPath))

	_, err := decompressTo(t, outputPath, llrPath)
	assert.ErrorIs(t, err, rawcompr.ErrMissingPacket)
}

func TestDecompressDetectsUnknownPacket(t *testing.T) {
	streams := []av.StreamInfo{audioStream(0)}
	packets := []*av.Packet{
		audioPacket(0, 0, 170),
		audioPacket(0, 1024, 183),
	}
	_, outputPath, llrPath := compressFixture(t, streams, packets)

	// Append an extra packet the reference table knows nothing about.
	appendExtraPacket(t, outputPath, audioPacket(0, 4096, 100))

	_, err := decompressTo(t, outputPath, llrPath)
	assert.ErrorIs(t, err, rawcompr.ErrMissingPacket)
}

func TestDecompressDetectsSizeMismatch(t *testing.T) {
	streams := []av.StreamInfo{audioStream(0)}
	packets := []*av.Packet{
		audioPacket(0, 0, 170),
		audioPacket(0, 1024, 183),
	}
	_, outputPath, llrPath := compressFixture(t, streams, packets)

	// Rewrite the remuxed container with one payload shortened by a byte.
	// The reverse key still matches, so the failure must come from the
	// size check.
	rewriteWithShortenedPacket(t, outputPath, 1)

	_, err := decompressTo(t, outputPath, llrPath)
	assert.ErrorIs(t, err, rawcompr.ErrSizeMismatch)
}

func TestDecompressRejectsBadMagic(t *testing.T) {
	streams := []av.StreamInfo{audioStream(0)}
	packets := []*av.Packet{audioPacket(0, 0, 170)}
	_, outputPath, llrPath := compressFixture(t, streams, packets)

	llrBytes, err := os.ReadFile(llrPath)
	require.NoError(t, err)
	llrBytes[0] ^= 0xff
	require.NoError(t, os.WriteFile(llrPath, llrBytes, 0o644))

	_, err = decompressTo(t, outputPath, llrPath)
	assert.ErrorIs(t, err, rawcompr.ErrInvalidInput)
}

func TestDecompressRejectsStreamCountMismatch(t *testing.T) {
	streams := []av.StreamInfo{audioStream(0)}
	packets := []*av.Packet{audioPacket(0, 0, 170)}
	_, outputPath, llrPath := compressFixture(t, streams, packets)

	// Pair the sidecar with a remuxed container that has an extra stream.
	demuxer, err := avtest.NewLibrary().OpenDemuxer(outputPath)
	require.NoError(t, err)
	existing := demuxer.Streams()
	var remuxedPackets []*av.Packet
	var pkt av.Packet
	for {
		err := demuxer.ReadPacket(&pkt)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		remuxedPackets = append(remuxedPackets, pkt.Clone())
	}
	demuxer.Close()

	twoStreams := append(append([]av.StreamInfo(nil), existing...), audioStream(1))
	require.NoError(t, avtest.WriteContainer(outputPath, twoStreams, remuxedPackets))

	_, err = decompressTo(t, outputPath, llrPath)
	assert.ErrorIs(t, err, rawcompr.ErrCorruptSidecar)
}

////////////////////////////////////////////////////////////////////////////////
// Helper functions

// appendExtraPacket re-muxes the container with one extra packet at the end.
func appendExtraPacket(t *testing.T, path string, extra *av.Packet) {
	t.Helper()
	rewriteContainer(t, path, func(packets []*av.Packet) []*av.Packet {
		return append(packets, extra)
	})
}

// rewriteWithShortenedPacket re-muxes the container with the n-th packet's
// payload truncated by one byte.
func rewriteWithShortenedPacket(t *testing.T, path string, n int) {
	t.Helper()
	rewriteContainer(t, path, func(packets []*av.Packet) []*av.Packet {
		require.Less(t, n, len(packets))
		packets[n].Data = packets[n].Data[:len(packets[n].Data)-1]
		return packets
	})
}

func rewriteContainer(t *testing.T, path string, edit func([]*av.Packet) []*av.Packet) {
	t.Helper()
	demuxer, err := avtest.NewLibrary().OpenDemuxer(path)
	require.NoError(t, err)

	streams := append([]av.StreamInfo(nil), demuxer.Streams()...)
	var packets []*av.Packet
	var pkt av.Packet
	for {
		err := demuxer.ReadPacket(&pkt)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		packets = append(packets, pkt.Clone())
	}
	demuxer.Close()

	require.NoError(t, avtest.WriteContainer(path, streams, edit(packets)))
}
