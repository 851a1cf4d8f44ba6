package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/edgeo/drivers/goose/goose"
	"github.com/edgeo/drivers/goose/internal/capture"
)

// addReadFlag registers the -r/--read capture file flag
func addReadFlag(fs *pflag.FlagSet, target *string) {
	fs.StringVarP(target, "read", "r", "", "Capture file to read (pcap or pcapng, optionally .zst or .lz4)")
}

// capturedFrame is one packet of a capture after classification and decode
type capturedFrame struct {
	capture.Packet
	Class capture.Classification
	// IEC is set when the ethertype is GOOSE, GSE management or sampled values
	IEC   bool
	Frame *goose.Frame
	Err   error
	// Filtered is set when the source MAC is not subscribed
	Filtered bool
}

// eachFrame walks a capture, decoding every IEC 61850 frame with codec
func eachFrame(r *capture.Reader, codec *goose.Codec, fn func(capturedFrame) error) error {
	classifier := capture.NewClassifier()
	for {
		p, err := r.Next()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read capture: %w", err)
		}

		cf := capturedFrame{Packet: p}
		cf.Class, cf.IEC = classifier.Classify(p.Data)
		if cf.IEC {
			cf.Frame, cf.Err = codec.DecodeFrame(cf.Class.Frame)
			if cf.Frame != nil && !codec.Accepts(cf.Frame) {
				cf.Filtered = true
			}
		}
		if err := fn(cf); err != nil {
			return err
		}
	}
}

// parseHexFrame accepts hex with optional whitespace, colons or a 0x prefix
func parseHexFrame(args []string) ([]byte, error) {
	s := strings.Join(args, "")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	s = strings.NewReplacer(" ", "", ":", "", "\n", "", "\t", "").Replace(s)
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return data, nil
}

// valueView is the output form of a dataset entry
type valueView struct {
	Kind  string `json:"kind" yaml:"kind"`
	Value string `json:"value" yaml:"value"`
}

// frameView is the output form of a decoded frame
type frameView struct {
	Index    int         `json:"index" yaml:"index"`
	Time     *time.Time  `json:"time,omitempty" yaml:"time,omitempty"`
	Src      string      `json:"src" yaml:"src"`
	Dst      string      `json:"dst" yaml:"dst"`
	Type     string      `json:"type" yaml:"type"`
	VLAN     uint16      `json:"vlan,omitempty" yaml:"vlan,omitempty"`
	Priority uint8       `json:"priority,omitempty" yaml:"priority,omitempty"`
	AppID    uint16      `json:"appid" yaml:"appid"`
	Length   int         `json:"length" yaml:"length"`
	Payload  string      `json:"payload,omitempty" yaml:"payload,omitempty"`
	GOOSE    *pduView    `json:"goose,omitempty" yaml:"goose,omitempty"`
	Values   []valueView `json:"values,omitempty" yaml:"values,omitempty"`
}

type pduView struct {
	GocbRef           string `json:"gocb_ref" yaml:"gocb_ref"`
	TimeAllowedToLive uint32 `json:"time_allowed_to_live" yaml:"time_allowed_to_live"`
	DatSet            string `json:"dat_set" yaml:"dat_set"`
	GoID              string `json:"go_id,omitempty" yaml:"go_id,omitempty"`
	T                 string `json:"t" yaml:"t"`
	StNum             uint32 `json:"st_num" yaml:"st_num"`
	SqNum             uint32 `json:"sq_num" yaml:"sq_num"`
	Test              bool   `json:"test" yaml:"test"`
	ConfRev           uint32 `json:"conf_rev" yaml:"conf_rev"`
	NdsCom            bool   `json:"nds_com" yaml:"nds_com"`
	NumDatSetEntries  int    `json:"num_dat_set_entries" yaml:"num_dat_set_entries"`
	Security          string `json:"security,omitempty" yaml:"security,omitempty"`
	LegacyHeader      bool   `json:"legacy_header,omitempty" yaml:"legacy_header,omitempty"`
}

func newFrameView(index int, f *goose.Frame) frameView {
	v := frameView{
		Index: index,
		Src:   f.Src().String(),
		Dst:   f.Dst().String(),
		Type:  f.MessageType().String(),
		AppID: f.AppIDValue(),
	}
	if n, err := f.Length(); err == nil {
		v.Length = n
	}
	p := f.PDU()
	if p == nil {
		v.Payload = hex.EncodeToString(f.Payload())
		return v
	}
	v.GOOSE = &pduView{
		GocbRef:           p.GocbRef(),
		TimeAllowedToLive: p.TimeAllowedToLive(),
		DatSet:            p.DatSet(),
		GoID:              p.GoID(),
		T:                 p.T().String(),
		StNum:             p.StNum(),
		SqNum:             p.SqNum(),
		Test:              p.Test(),
		ConfRev:           p.ConfRev(),
		NdsCom:            p.NdsCom(),
		NumDatSetEntries:  p.NumDatSetEntries(),
		Security:          hex.EncodeToString(p.Security()),
		LegacyHeader:      p.LegacyHeader(),
	}
	if ds := p.DataSet(); ds != nil {
		for _, val := range ds.Values() {
			v.Values = append(v.Values, valueView{Kind: val.Kind().String(), Value: val.String()})
		}
	}
	return v
}

func capturedView(cf capturedFrame) frameView {
	v := newFrameView(cf.Index, cf.Frame)
	ts := cf.Timestamp
	v.Time = &ts
	v.VLAN = cf.Class.VLAN
	v.Priority = cf.Class.Priority
	return v
}

// formatValues renders dataset values on one line
func formatValues(values []valueView) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = v.Value
	}
	return strings.Join(parts, " ")
}

// printFrame prints one decoded frame as key-value pairs and a value table
func printFrame(out *Formatter, v frameView) {
	info := map[string]interface{}{
		"Source":      v.Src,
		"Destination": v.Dst,
		"Type":        v.Type,
		"APPID":       fmt.Sprintf("0x%04x", v.AppID),
		"Length":      v.Length,
	}
	order := []string{"Time", "Source", "Destination", "VLAN", "Type", "APPID", "Length"}
	if v.Time != nil {
		info["Time"] = v.Time.Format(time.RFC3339Nano)
	}
	if v.VLAN != 0 || v.Priority != 0 {
		info["VLAN"] = fmt.Sprintf("%d (priority %d)", v.VLAN, v.Priority)
	}

	if p := v.GOOSE; p != nil {
		info["gocbRef"] = p.GocbRef
		info["timeAllowedToLive"] = fmt.Sprintf("%d ms", p.TimeAllowedToLive)
		info["datSet"] = p.DatSet
		info["goID"] = p.GoID
		info["t"] = p.T
		info["stNum"] = p.StNum
		info["sqNum"] = p.SqNum
		info["test"] = p.Test
		info["confRev"] = p.ConfRev
		info["ndsCom"] = p.NdsCom
		info["numDatSetEntries"] = p.NumDatSetEntries
		order = append(order, "gocbRef", "timeAllowedToLive", "datSet", "goID", "t",
			"stNum", "sqNum", "test", "confRev", "ndsCom", "numDatSetEntries")
		if p.Security != "" {
			info["security"] = p.Security
			order = append(order, "security")
		}
		if p.LegacyHeader {
			info["header"] = "non-conformant ASDU length"
			order = append(order, "header")
		}
	} else {
		info["Payload"] = v.Payload
		order = append(order, "Payload")
	}
	out.PrintKeyValue(info, order)

	if len(v.Values) > 0 {
		out.Println()
		rows := make([][]string, len(v.Values))
		for i, val := range v.Values {
			rows[i] = []string{strconv.Itoa(i), val.Kind, val.Value}
		}
		out.PrintTable([]string{"#", "KIND", "VALUE"}, rows)
	}
}
