package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/fabio-d/rawcompr"
	"github.com/fabio-d/rawcompr/av"
	"github.com/fabio-d/rawcompr/av/ffmpeg"
	"github.com/fabio-d/rawcompr/llr"
	"github.com/fabio-d/rawcompr/pipeline"
	"github.com/gocarina/gocsv"
	"github.com/golang/glog"
	"github.com/urfave/cli/v2"
)

// The stock ffv1 configuration: version 3 bitstream, range coder, large
// context model, four slices and a keyframe every 600 frames; per-slice CRCs
// are off, as they only duplicate the LLR hash.
var defaultVideoCodecOptions = map[string]string{
	"level":    "3",
	"slicecrc": "0",
	"context":  "1",
	"coder":    "range_def",
	"g":        "600",
	"slices":   "4",
}

var knownVideoCodecs = map[string]bool{
	"ffv1":    true,
	"huffyuv": true,
}

func main() {
	app := cli.App{
		Name:  "rawcompr",
		Usage: "Losslessly compress raw streams in multimedia files",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "print per-packet processing traces",
			},
		},
		Before: func(c *cli.Context) error {
			// glog registers its flags on the standard flag set; wire
			// the relevant ones up manually.
			flag.CommandLine.Parse(nil)
			flag.Set("logtostderr", "true")
			if c.Bool("debug") {
				flag.Set("v", "1")
			}
			return nil
		},
		After: func(c *cli.Context) error {
			glog.Flush()
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "compress",
				Usage:     "Re-encode raw streams and emit the LLR sidecar",
				Action:    compressCommand,
				ArgsUsage: "INPUT_FILE  OUTPUT_FILE.mkv",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "llr",
						Usage: "sidecar path (defaults to OUTPUT_FILE with .llr extension)",
					},
					&cli.StringFlag{
						Name:  "video-codec",
						Usage: "lossless codec for raw video streams (ffv1, huffyuv)",
						Value: "ffv1",
					},
					&cli.StringSliceFlag{
						Name:  "codec-option",
						Usage: "codec option as key=value (repeatable, replaces the defaults)",
					},
					&cli.StringFlag{
						Name:  "hash",
						Usage: "hash algorithm (" + strings.Join(av.HashNames(), ", ") + ")",
						Value: "MD5",
					},
				},
			},
			{
				Name:      "decompress",
				Usage:     "Rebuild the original file from a compressed file and its LLR sidecar",
				Action:    decompressCommand,
				ArgsUsage: "INPUT_FILE.mkv  OUTPUT_FILE",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "llr",
						Usage: "sidecar path (defaults to INPUT_FILE with .llr extension)",
					},
				},
			},
			{
				Name:      "inspect",
				Usage:     "Print the contents of an LLR sidecar",
				Action:    inspectCommand,
				ArgsUsage: "LLR_FILE",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "csv",
						Usage: "dump the packet reference table as CSV",
					},
				},
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatalf("rawcompr: %s", err.Error())
	}
}

// llrPathFor derives the sidecar path from a .mkv path, keeping the
// original's convention of storing them side by side.
func llrPathFor(argName, mkvPath string) (string, error) {
	if !strings.HasSuffix(mkvPath, ".mkv") {
		return "", rawcompr.ErrInvalidInput.WithMessage(
			argName + " must end with .mkv unless --llr is given")
	}
	return strings.TrimSuffix(mkvPath, ".mkv") + ".llr", nil
}

func parseCodecOptions(args []string) (map[string]string, error) {
	if len(args) == 0 {
		return defaultVideoCodecOptions, nil
	}

	result := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, found := strings.Cut(arg, "=")
		if !found || key == "" || value == "" {
			return nil, rawcompr.ErrInvalidInput.WithMessage(
				"invalid codec option format (expected key=value): " + arg)
		}
		if _, dup := result[key]; dup {
			return nil, rawcompr.ErrInvalidInput.WithMessage(
				"codec option set more than once: " + key)
		}
		result[key] = value
	}
	return result, nil
}

func compressCommand(c *cli.Context) error {
	if c.NArg() != 2 {
		return rawcompr.ErrInvalidInput.WithMessage("expected INPUT_FILE and OUTPUT_FILE.mkv")
	}
	inputPath := c.Args().Get(0)
	outputPath := c.Args().Get(1)

	llrPath := c.String("llr")
	if llrPath == "" {
		var err error
		if llrPath, err = llrPathFor("OUTPUT_FILE", outputPath); err != nil {
			return err
		}
	}

	videoCodec := c.String("video-codec")
	if !knownVideoCodecs[videoCodec] {
		return rawcompr.ErrInvalidInput.WithMessage(
			"invalid or unsupported video codec: " + videoCodec)
	}

	options, err := parseCodecOptions(c.StringSlice("codec-option"))
	if err != nil {
		return err
	}

	hashName := c.String("hash")
	if _, err := av.NewHash(hashName); err != nil {
		return err
	}

	return pipeline.Compress(ffmpeg.New(), inputPath, outputPath, llrPath, pipeline.CompressConfig{
		VideoCodec:        videoCodec,
		VideoCodecOptions: options,
		HashName:          hashName,
	})
}

func decompressCommand(c *cli.Context) error {
	if c.NArg() != 2 {
		return rawcompr.ErrInvalidInput.WithMessage("expected INPUT_FILE.mkv and OUTPUT_FILE")
	}
	inputPath := c.Args().Get(0)
	outputPath := c.Args().Get(1)

	llrPath := c.String("llr")
	if llrPath == "" {
		var err error
		if llrPath, err = llrPathFor("INPUT_FILE", inputPath); err != nil {
			return err
		}
	}

	return pipeline.Decompress(ffmpeg.New(), inputPath, outputPath, llrPath)
}

// csvReference is the CSV projection of one reference table entry.
type csvReference struct {
	OrigPos     int64  `csv:"orig_pos"`
	OrigSize    uint32 `csv:"orig_size"`
	StreamIndex int    `csv:"stream_index"`
	PacketIndex uint64 `csv:"packet_index"`
	Pts         int64  `csv:"pts"`
}

func inspectCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return rawcompr.ErrInvalidInput.WithMessage("expected LLR_FILE")
	}

	llrFile, err := av.OpenFile(c.Args().Get(0), os.O_RDONLY)
	if err != nil {
		return err
	}
	defer llrFile.Close()

	refs, info, err := llr.ReadTable(llrFile)
	if err != nil {
		return err
	}

	if c.Bool("csv") {
		rows := make([]csvReference, 0, refs.Len())
		for _, e := range refs.Table() {
			rows = append(rows, csvReference{
				OrigPos:     e.OrigPos,
				OrigSize:    e.OrigSize,
				StreamIndex: e.StreamIndex,
				PacketIndex: e.PacketIndex,
				Pts:         e.Pts,
			})
		}
		return gocsv.Marshal(&rows, os.Stdout)
	}

	fmt.Printf("Original file size: %d\n", info.OriginalSize)
	fmt.Printf("Hash: %s %x\n", info.HashName, info.Hash)
	refs.Dump(os.Stdout)
	return nil
}
