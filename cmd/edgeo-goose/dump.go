// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgeo/drivers/goose/internal/capture"
)

var (
	dumpRead string
	dumpFile string
	dumpAll  bool
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump every frame of a capture",
	Long: `Dump decodes a whole capture and writes one record per IEC 61850 frame,
together with the capture's format and frame counts.

This is useful for archiving the GOOSE traffic of a capture in a readable
form, or for comparing two captures.

Examples:
  # Dump to stdout as a table
  edgeo-goose dump -r substation.pcapng

  # Dump to a JSON file
  edgeo-goose dump -r substation.pcapng -f frames.json -o json

  # Include GSE management and sampled values frames
  edgeo-goose dump -r substation.pcap --all -o yaml`,

	RunE: runDump,
}

func init() {
	addReadFlag(dumpCmd.Flags(), &dumpRead)
	dumpCmd.Flags().StringVarP(&dumpFile, "file", "f", "", "Output file (default: stdout)")
	dumpCmd.Flags().BoolVar(&dumpAll, "all", false, "Include GSE management and sampled values frames")

	dumpCmd.MarkFlagRequired("read")
}

// DumpResult is the structured form of a dumped capture
type DumpResult struct {
	File        string      `json:"file" yaml:"file"`
	Format      string      `json:"format" yaml:"format"`
	Compression string      `json:"compression" yaml:"compression"`
	Timestamp   time.Time   `json:"timestamp" yaml:"timestamp"`
	Packets     int         `json:"packets" yaml:"packets"`
	Skipped     int         `json:"skipped" yaml:"skipped"`
	Frames      []frameView `json:"frames" yaml:"frames"`
}

func runDump(cmd *cobra.Command, args []string) error {
	codec, err := createCodec()
	if err != nil {
		return err
	}

	r, err := capture.Open(dumpRead)
	if err != nil {
		return err
	}
	defer r.Close()

	result := DumpResult{
		File:        dumpRead,
		Format:      r.Format().String(),
		Compression: r.Compression().String(),
		Timestamp:   time.Now(),
		Frames:      make([]frameView, 0),
	}

	err = eachFrame(r, codec, func(cf capturedFrame) error {
		if !cf.IEC || cf.Filtered {
			return nil
		}
		if cf.Err != nil {
			result.Skipped++
			return nil
		}
		if cf.Frame.PDU() == nil && !dumpAll {
			return nil
		}
		result.Frames = append(result.Frames, capturedView(cf))
		return nil
	})
	if err != nil {
		return err
	}
	result.Packets = r.Count()

	fmt.Fprintf(cmd.ErrOrStderr(), "Read %d packets, dumped %d frames\n", result.Packets, len(result.Frames))

	out := newFormatter(cmd)
	if dumpFile != "" {
		f, err := os.Create(dumpFile)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		out.SetWriter(f)
	}

	switch {
	case out.Structured():
		return out.Encode(result)
	case out.Format() == FormatCSV:
		rows := make([][]string, len(result.Frames))
		for i, v := range result.Frames {
			rows[i] = append([]string{strconv.Itoa(v.Index), v.Time.Format(time.RFC3339Nano)}, frameRow(v)...)
		}
		return out.PrintCSV([]string{"index", "time", "src", "dst", "appid", "gocb_ref", "st_num", "sq_num", "values"}, rows)
	default:
		return outputDumpTable(out, result)
	}
}

func outputDumpTable(out *Formatter, result DumpResult) error {
	out.Printf("%s (%s, %s) - %d frames\n", result.File, result.Format, result.Compression, len(result.Frames))
	out.Printf("Timestamp: %s\n\n", result.Timestamp.Format(time.RFC3339))

	for _, v := range result.Frames {
		out.Printf("=== Frame %d ===\n", v.Index)
		printFrame(out, v)
		out.Println()
	}
	if result.Skipped > 0 {
		out.Printf("%d frame(s) could not be decoded\n", result.Skipped)
	}
	return nil
}
