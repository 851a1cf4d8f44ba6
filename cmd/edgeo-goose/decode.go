package main

import (
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/spf13/cobra"

	"github.com/edgeo/drivers/goose/goose"
	"github.com/edgeo/drivers/goose/internal/capture"
)

var (
	decodeFile   string
	decodeLayers bool
	decodeAll    bool
)

var decodeCmd = &cobra.Command{
	Use:   "decode [hex]",
	Short: "Decode GOOSE frames from hex or a capture file",
	Long: `Decode parses IEC 61850 frames and prints every field of the GOOSE PDU
and its dataset.

The frame may be given as hex on the command line (spaces and colons are
ignored) or read from a capture with -r. 802.1Q tags are stripped before
decoding. Frames with a non-conformant ASDU length header are decoded and
flagged.

Examples:
  # Decode a frame given as hex
  edgeo-goose decode 010ccd0101ff 001122334455 88b8 0000 003c 0000 0000 6181...

  # Decode every GOOSE frame of a capture as JSON
  edgeo-goose decode -r substation.pcapng -o json

  # Include GSE management and sampled values frames
  edgeo-goose decode -r substation.pcap --all

  # Show the gopacket layer dump
  edgeo-goose decode --layers 010ccd0101ff...`,

	RunE: runDecode,
}

func init() {
	addReadFlag(decodeCmd.Flags(), &decodeFile)
	decodeCmd.Flags().BoolVar(&decodeLayers, "layers", false, "Print the gopacket layer dump")
	decodeCmd.Flags().BoolVar(&decodeAll, "all", false, "Include GSE management and sampled values frames")
}

func runDecode(cmd *cobra.Command, args []string) error {
	if decodeFile == "" && len(args) == 0 {
		return fmt.Errorf("a hex frame or a capture file (-r) is required")
	}

	codec, err := createCodec()
	if err != nil {
		return err
	}
	out := newFormatter(cmd)

	if decodeFile == "" {
		data, err := parseHexFrame(args)
		if err != nil {
			return err
		}
		return decodeOne(out, codec, data)
	}

	r, err := capture.Open(decodeFile)
	if err != nil {
		return err
	}
	defer r.Close()

	var views []frameView
	err = eachFrame(r, codec, func(cf capturedFrame) error {
		if !cf.IEC || cf.Filtered {
			return nil
		}
		if cf.Err != nil {
			logger.Warn("skipping frame", slog.Int("index", cf.Index), slog.String("error", cf.Err.Error()))
			return nil
		}
		if cf.Frame.PDU() == nil && !decodeAll {
			return nil
		}
		v := capturedView(cf)
		switch {
		case out.Structured():
			views = append(views, v)
		case out.Format() == FormatRaw:
			out.Println(hex.EncodeToString(cf.Class.Frame))
		default:
			out.Printf("=== Frame %d ===\n", cf.Index)
			printFrame(out, v)
			out.Println()
		}
		if decodeLayers {
			printLayers(out, cf.Data)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if out.Structured() {
		return out.Encode(views)
	}
	return nil
}

func decodeOne(out *Formatter, codec *goose.Codec, data []byte) error {
	frame := data
	if cl, ok := capture.NewClassifier().Classify(data); ok {
		frame = cl.Frame
	}
	f, err := codec.DecodeFrame(frame)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}

	v := newFrameView(0, f)
	switch {
	case out.Structured():
		return out.Encode(v)
	case out.Format() == FormatCSV:
		return out.PrintCSV([]string{"src", "dst", "appid", "gocb_ref", "st_num", "sq_num", "values"},
			[][]string{frameRow(v)})
	case out.Format() == FormatRaw:
		out.Println(formatValues(v.Values))
	default:
		printFrame(out, v)
	}
	if decodeLayers {
		printLayers(out, data)
	}
	return nil
}

func frameRow(v frameView) []string {
	row := []string{v.Src, v.Dst, fmt.Sprintf("0x%04x", v.AppID), "", "", "", formatValues(v.Values)}
	if p := v.GOOSE; p != nil {
		row[3] = p.GocbRef
		row[4] = fmt.Sprint(p.StNum)
		row[5] = fmt.Sprint(p.SqNum)
	}
	return row
}

func printLayers(out *Formatter, data []byte) {
	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
	out.Println()
	out.Printf("%s", pkt.Dump())
}
