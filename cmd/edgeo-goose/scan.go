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
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgeo/drivers/goose/goose"
	"github.com/edgeo/drivers/goose/internal/capture"
)

var scanRead string

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List the GOOSE publishers seen in a capture",
	Long: `Scan reads a capture and lists every GOOSE publication in it, keyed by
source MAC and control block reference, with its last stNum/sqNum and the
number of state changes and sequence anomalies observed.

Examples:
  # List publishers
  edgeo-goose scan -r substation.pcapng

  # Only publishers from one IED
  edgeo-goose scan -r substation.pcapng --src 00:11:22:33:44:55`,

	RunE: runScan,
}

func init() {
	addReadFlag(scanCmd.Flags(), &scanRead)
	scanCmd.MarkFlagRequired("read")
}

type streamView struct {
	Src          string `json:"src" yaml:"src"`
	GocbRef      string `json:"gocb_ref" yaml:"gocb_ref"`
	AppID        uint16 `json:"appid" yaml:"appid"`
	GoID         string `json:"go_id,omitempty" yaml:"go_id,omitempty"`
	DatSet       string `json:"dat_set" yaml:"dat_set"`
	StNum        uint32 `json:"st_num" yaml:"st_num"`
	SqNum        uint32 `json:"sq_num" yaml:"sq_num"`
	ConfRev      uint32 `json:"conf_rev" yaml:"conf_rev"`
	TTL          string `json:"ttl" yaml:"ttl"`
	Frames       int64  `json:"frames" yaml:"frames"`
	StateChanges int64  `json:"state_changes" yaml:"state_changes"`
	Anomalies    int64  `json:"anomalies" yaml:"anomalies"`
}

func newStreamView(s goose.Stream) streamView {
	return streamView{
		Src:          s.Key.Src,
		GocbRef:      s.Key.GocbRef,
		AppID:        s.AppID,
		GoID:         s.GoID,
		DatSet:       s.DatSet,
		StNum:        s.StNum,
		SqNum:        s.SqNum,
		ConfRev:      s.ConfRev,
		TTL:          s.TTL.String(),
		Frames:       s.Frames,
		StateChanges: s.StateChanges,
		Anomalies:    s.Anomalies,
	}
}

func runScan(cmd *cobra.Command, args []string) error {
	codec, err := createCodec()
	if err != nil {
		return err
	}

	r, err := capture.Open(scanRead)
	if err != nil {
		return err
	}
	defer r.Close()

	tracker := goose.NewTracker()
	err = eachFrame(r, codec, func(cf capturedFrame) error {
		if !cf.IEC || cf.Filtered || cf.Err != nil || cf.Frame.PDU() == nil {
			return nil
		}
		_, err := tracker.Observe(cf.Frame, cf.Timestamp)
		return err
	})
	if err != nil {
		return err
	}

	streams := tracker.Streams()
	out := newFormatter(cmd)
	if len(streams) == 0 && !out.Structured() {
		out.Println("No publishers found")
		return nil
	}

	views := make([]streamView, len(streams))
	rows := make([][]string, len(streams))
	for i, s := range streams {
		v := newStreamView(s)
		views[i] = v
		rows[i] = []string{
			v.Src,
			fmt.Sprintf("0x%04x", v.AppID),
			v.GocbRef,
			strconv.FormatUint(uint64(v.StNum), 10),
			strconv.FormatUint(uint64(v.SqNum), 10),
			strconv.FormatUint(uint64(v.ConfRev), 10),
			s.TTL.Round(time.Millisecond).String(),
			strconv.FormatInt(v.Frames, 10),
			strconv.FormatInt(v.StateChanges, 10),
			strconv.FormatInt(v.Anomalies, 10),
		}
	}

	err = out.PrintRows(views,
		[]string{"SOURCE", "APPID", "GOCB REF", "STNUM", "SQNUM", "CONFREV", "TTL", "FRAMES", "CHANGES", "ANOMALIES"},
		rows)
	if err != nil {
		return err
	}
	if out.Format() == FormatTable {
		out.Printf("\nFound %d publisher(s)\n", len(streams))
	}
	return nil
}
