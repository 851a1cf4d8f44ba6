package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgeo/drivers/goose/goose"
	"github.com/edgeo/drivers/goose/internal/capture"
)

var infoRead string

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Display capture statistics",
	Long: `Info summarizes a capture: its format, the IEC 61850 frames it carries
by message type, the GOOSE publishers in it and the codec metrics gathered
while decoding.

Examples:
  # Summarize a capture
  edgeo-goose info -r substation.pcapng

  # Get the summary as YAML
  edgeo-goose info -r substation.pcapng -o yaml`,

	RunE: runInfo,
}

func init() {
	addReadFlag(infoCmd.Flags(), &infoRead)
	infoCmd.MarkFlagRequired("read")
}

// CaptureInfo is the structured form of info output
type CaptureInfo struct {
	File          string                `json:"file" yaml:"file"`
	Format        string                `json:"format" yaml:"format"`
	Compression   string                `json:"compression" yaml:"compression"`
	Packets       int                   `json:"packets" yaml:"packets"`
	First         *time.Time            `json:"first,omitempty" yaml:"first,omitempty"`
	Last          *time.Time            `json:"last,omitempty" yaml:"last,omitempty"`
	Tagged        int                   `json:"tagged" yaml:"tagged"`
	ByType        map[string]int        `json:"by_type" yaml:"by_type"`
	Publishers    int                   `json:"publishers" yaml:"publishers"`
	DecodeErrors  int                   `json:"decode_errors" yaml:"decode_errors"`
	LegacyHeaders int64                 `json:"legacy_headers" yaml:"legacy_headers"`
	Metrics       goose.MetricsSnapshot `json:"metrics" yaml:"metrics"`
}

func runInfo(cmd *cobra.Command, args []string) error {
	codec, err := createCodec()
	if err != nil {
		return err
	}

	r, err := capture.Open(infoRead)
	if err != nil {
		return err
	}
	defer r.Close()

	info := CaptureInfo{
		File:        infoRead,
		Format:      r.Format().String(),
		Compression: r.Compression().String(),
		ByType:      make(map[string]int),
	}
	tracker := goose.NewTracker()

	err = eachFrame(r, codec, func(cf capturedFrame) error {
		ts := cf.Timestamp
		if info.First == nil {
			info.First = &ts
		}
		info.Last = &ts

		if !cf.IEC {
			return nil
		}
		if cf.Class.Tagged {
			info.Tagged++
		}
		info.ByType[cf.Class.MessageType.String()]++
		if cf.Err != nil {
			info.DecodeErrors++
			return nil
		}
		if cf.Frame.PDU() != nil && !cf.Filtered {
			_, err := tracker.Observe(cf.Frame, cf.Timestamp)
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	info.Packets = r.Count()
	info.Publishers = len(tracker.Streams())
	info.Metrics = codec.Metrics().Snapshot()
	info.LegacyHeaders = info.Metrics.LegacyHeaders

	out := newFormatter(cmd)
	if out.Structured() {
		return out.Encode(info)
	}
	return outputInfoTable(out, info)
}

func outputInfoTable(out *Formatter, info CaptureInfo) error {
	out.Printf("\n=== %s ===\n\n", info.File)

	pairs := map[string]interface{}{
		"Format":          fmt.Sprintf("%s (%s)", info.Format, info.Compression),
		"Packets":         info.Packets,
		"GOOSE":           info.ByType[goose.MessageGOOSE.String()],
		"GSE Management":  info.ByType[goose.MessageGSEManagement.String()],
		"Sampled Values":  info.ByType[goose.MessageSampledValues.String()],
		"802.1Q Tagged":   info.Tagged,
		"Publishers":      info.Publishers,
		"Decode Errors":   info.DecodeErrors,
		"Legacy Headers":  info.LegacyHeaders,
		"Frames Filtered": info.Metrics.FramesFiltered,
		"Bytes Decoded":   info.Metrics.BytesDecoded,
	}
	order := []string{
		"Format",
		"Packets",
		"First Packet",
		"Last Packet",
		"Duration",
		"GOOSE",
		"GSE Management",
		"Sampled Values",
		"802.1Q Tagged",
		"Publishers",
		"Decode Errors",
		"Legacy Headers",
		"Frames Filtered",
		"Bytes Decoded",
		"Avg Decode",
		"Max Decode",
	}
	if info.First != nil {
		pairs["First Packet"] = info.First.Format(time.RFC3339Nano)
		pairs["Last Packet"] = info.Last.Format(time.RFC3339Nano)
		pairs["Duration"] = info.Last.Sub(*info.First)
	}
	if lat := info.Metrics.DecodeLatency; lat.Count > 0 {
		pairs["Avg Decode"] = lat.Avg.Round(time.Microsecond)
		pairs["Max Decode"] = lat.Max.Round(time.Microsecond)
	}

	out.PrintKeyValue(pairs, order)
	out.Println()
	return nil
}
