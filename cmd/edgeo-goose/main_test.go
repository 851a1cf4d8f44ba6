package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/edgeo/drivers/goose/goose"
	"github.com/edgeo/drivers/goose/internal/capture"
)

const testMessage = `
src: 00:11:22:33:44:55
appid: 0x3001
gocbRef: IED1LD0/LLN0$GO$gcb1
datSet: IED1LD0/LLN0$DS1
goID: gcb1
timeAllowedToLive: 2000
confRev: 1
t: 2024-01-02T03:04:05.5Z
values:
  - true
  - -5
  - 42
  - 49.98
  - [0, 3]
  - {type: float64, value: 1.5}
  - {type: unsigned, value: 7, width: 8}
`

// resetFlags restores flag defaults so commands can be executed repeatedly
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if !f.Changed {
			return
		}
		// slice values append on Set; execute clears their variables instead
		if !strings.HasSuffix(f.Value.Type(), "Slice") {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.PersistentFlags().VisitAll(reset)
	cmd.Flags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	srcFilter = nil
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, version) {
		t.Fatalf("output = %q", out)
	}
}

func TestParseMessage(t *testing.T) {
	m, err := parseMessage([]byte(testMessage))
	if err != nil {
		t.Fatalf("parseMessage: %v", err)
	}
	f, err := m.frame(time.Now())
	if err != nil {
		t.Fatalf("frame: %v", err)
	}

	if f.AppIDValue() != 0x3001 || f.MessageType() != goose.MessageGOOSE {
		t.Fatalf("appid = %#x, type = %s", f.AppIDValue(), f.MessageType())
	}
	p := f.PDU()
	if p.GocbRef() != "IED1LD0/LLN0$GO$gcb1" || p.GoID() != "gcb1" || p.TimeAllowedToLive() != 2000 {
		t.Fatalf("pdu = %q %q %d", p.GocbRef(), p.GoID(), p.TimeAllowedToLive())
	}
	if p.StNum() != 1 || p.SqNum() != 0 {
		t.Fatalf("st/sq = %d/%d", p.StNum(), p.SqNum())
	}
	if want := time.Date(2024, 1, 2, 3, 4, 5, 500e6, time.UTC); !p.T().Time().Equal(want) {
		t.Fatalf("t = %v", p.T().Time())
	}

	want := []goose.Value{
		goose.Boolean(true),
		goose.Int32(-5),
		goose.UInt32(42),
		goose.Float32(49.98),
		goose.NewBitString(0, 3),
		goose.Float64(1.5),
		goose.UInt32(7),
	}
	got := p.DataSet().Values()
	if len(got) != len(want) {
		t.Fatalf("got %d values, want %d", len(got), len(want))
	}
	for i := range want {
		if !goose.ValuesEqual(got[i], want[i]) {
			t.Errorf("values[%d] = %s (%s), want %s (%s)", i, got[i], got[i].Kind(), want[i], want[i].Kind())
		}
	}
}

func TestParseMessageErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad src", "src: nope\ngocbRef: a\ndatSet: b"},
		{"missing gocbRef", "src: 00:11:22:33:44:55\ndatSet: b"},
		{"unknown type", "src: 00:11:22:33:44:55\ntype: mms"},
		{"unknown value type", "src: 00:11:22:33:44:55\ngocbRef: a\ndatSet: b\nvalues: [{type: tuple, value: 1}]"},
		{"unsupported value type", "src: 00:11:22:33:44:55\ngocbRef: a\ndatSet: b\nvalues: [{type: string, value: x}]"},
		{"uninferable value", "src: 00:11:22:33:44:55\ngocbRef: a\ndatSet: b\nvalues: [hello]"},
		{"bad integer width", "src: 00:11:22:33:44:55\ngocbRef: a\ndatSet: b\nvalues: [{type: integer, value: 3, width: 12}]"},
		{"bad time", "src: 00:11:22:33:44:55\ngocbRef: a\ndatSet: b\nt: yesterday"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := parseMessage([]byte(tt.yaml))
			if err != nil {
				t.Fatalf("parseMessage: %v", err)
			}
			if _, err := m.frame(time.Now()); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestParseMessageOpaque(t *testing.T) {
	m, err := parseMessage([]byte("src: 00:11:22:33:44:55\ntype: sv\npayload: 60 03 80 01 01\n"))
	if err != nil {
		t.Fatalf("parseMessage: %v", err)
	}
	f, err := m.frame(time.Now())
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	if f.PDU() != nil || f.MessageType() != goose.MessageSampledValues {
		t.Fatalf("frame = pdu %v, type %s", f.PDU(), f.MessageType())
	}
	if !bytes.Equal(f.Payload(), []byte{0x60, 0x03, 0x80, 0x01, 0x01}) {
		t.Fatalf("payload = % x", f.Payload())
	}
}

func TestParseValueString(t *testing.T) {
	tests := []struct {
		in   string
		kind string
		want goose.Value
	}{
		{"true", "", goose.Boolean(true)},
		{"-5", "", goose.Int32(-5)},
		{"5", "", goose.UInt32(5)},
		{"5", "integer", goose.Int32(5)},
		{"1.25", "", goose.Float32(1.25)},
		{"1.25", "float64", goose.Float64(1.25)},
		{"[1,4]", "", goose.NewBitString(1, 4)},
	}
	for _, tt := range tests {
		got, err := parseValueString(tt.in, tt.kind)
		if err != nil {
			t.Errorf("parseValueString(%q, %q): %v", tt.in, tt.kind, err)
			continue
		}
		if !goose.ValuesEqual(got, tt.want) {
			t.Errorf("parseValueString(%q, %q) = %s, want %s", tt.in, tt.kind, got, tt.want)
		}
	}

	if _, err := parseValueString("", ""); err == nil {
		t.Error("empty value accepted")
	}
	if _, err := parseValueString("-1", "unsigned"); err == nil {
		t.Error("negative unsigned accepted")
	}
}

func TestParseHexFrame(t *testing.T) {
	want := []byte{0x01, 0x0c, 0xcd, 0x01}
	for _, args := range [][]string{
		{"010ccd01"},
		{"0x010ccd01"},
		{"01:0c:cd:01"},
		{"010c", "cd01"},
	} {
		got, err := parseHexFrame(args)
		if err != nil || !bytes.Equal(got, want) {
			t.Errorf("parseHexFrame(%q) = % x, %v", args, got, err)
		}
	}
	if _, err := parseHexFrame([]string{"zz"}); err == nil {
		t.Error("invalid hex accepted")
	}
}

func TestFormatterEncode(t *testing.T) {
	v := streamView{Src: "00:11:22:33:44:55", GocbRef: "gcb", StNum: 3, SqNum: 9}

	var buf bytes.Buffer
	f := NewFormatter("json")
	f.SetWriter(&buf)
	if err := f.Encode(v); err != nil {
		t.Fatalf("json: %v", err)
	}
	var fromJSON streamView
	if err := json.Unmarshal(buf.Bytes(), &fromJSON); err != nil || fromJSON != v {
		t.Fatalf("json = %+v, %v", fromJSON, err)
	}

	buf.Reset()
	f = NewFormatter("yaml")
	f.SetWriter(&buf)
	if err := f.Encode(v); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	var fromYAML streamView
	if err := yaml.Unmarshal(buf.Bytes(), &fromYAML); err != nil || fromYAML != v {
		t.Fatalf("yaml = %+v, %v", fromYAML, err)
	}

	buf.Reset()
	f = NewFormatter("cbor")
	f.SetWriter(&buf)
	if err := f.Encode(v); err != nil {
		t.Fatalf("cbor: %v", err)
	}
	var fromCBOR map[string]interface{}
	if err := cbor.Unmarshal(buf.Bytes(), &fromCBOR); err != nil {
		t.Fatalf("cbor decode: %v", err)
	}
	if fromCBOR["gocb_ref"] != "gcb" || fromCBOR["st_num"] != uint64(3) {
		t.Fatalf("cbor = %v", fromCBOR)
	}

	if err := NewFormatter("table").Encode(v); err == nil {
		t.Fatal("table format encoded a value")
	}
	if _, err := parseOutputFormat("xml"); err == nil {
		t.Fatal("unknown format accepted")
	}
}

func TestFormatterStream(t *testing.T) {
	var buf bytes.Buffer
	f := NewFormatter("yaml")
	f.SetWriter(&buf)
	for i := 0; i < 3; i++ {
		if err := f.Stream(watchRecord{Event: "first", StNum: uint32(i)}); err != nil {
			t.Fatalf("Stream: %v", err)
		}
	}
	if err := f.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	dec := yaml.NewDecoder(&buf)
	n := 0
	for {
		var rec watchRecord
		if err := dec.Decode(&rec); errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if rec.StNum != uint32(n) {
			t.Fatalf("document %d has stNum %d", n, rec.StNum)
		}
		n++
	}
	if n != 3 {
		t.Fatalf("decoded %d documents", n)
	}
}

func TestEncodeDecodeHex(t *testing.T) {
	msg := writeFile(t, "message.yaml", testMessage)

	out, err := execute(t, "", "encode", "-f", msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	frameHex := strings.TrimSpace(out)
	if !strings.HasPrefix(frameHex, "010ccd0101ff00112233445588b83001") {
		t.Fatalf("frame = %s", frameHex)
	}

	out, err = execute(t, "", "decode", "-o", "json", frameHex)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	var v frameView
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("unmarshal %q: %v", out, err)
	}
	if v.Src != "00:11:22:33:44:55" || v.AppID != 0x3001 || v.GOOSE == nil {
		t.Fatalf("view = %+v", v)
	}
	if v.GOOSE.GocbRef != "IED1LD0/LLN0$GO$gcb1" || v.GOOSE.NumDatSetEntries != 7 {
		t.Fatalf("goose = %+v", v.GOOSE)
	}
	if got := formatValues(v.Values); got != "true -5 42 49.98 {0,3} 1.5 7" {
		t.Fatalf("values = %q", got)
	}

	if _, err := execute(t, "", "decode", "0102"); err == nil {
		t.Fatal("runt frame decoded")
	}
}

func TestEncodeCaptureWorkflow(t *testing.T) {
	msg := writeFile(t, "message.yaml", testMessage)
	path := filepath.Join(t.TempDir(), "out.pcapng.zst")

	if _, err := execute(t, "", "encode", "-f", msg, "-w", path, "--repeat", "3"); err != nil {
		t.Fatalf("encode: %v", err)
	}

	out, err := execute(t, "", "scan", "-r", path, "-o", "json")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	var streams []streamView
	if err := json.Unmarshal([]byte(out), &streams); err != nil {
		t.Fatalf("unmarshal scan: %v", err)
	}
	if len(streams) != 1 {
		t.Fatalf("streams = %+v", streams)
	}
	if s := streams[0]; s.StNum != 1 || s.SqNum != 3 || s.Frames != 4 || s.Anomalies != 0 {
		t.Fatalf("stream = %+v", s)
	}

	out, err = execute(t, "", "dump", "-r", path, "-o", "yaml")
	if err != nil {
		t.Fatalf("dump: %v", err)
	}
	var dump DumpResult
	if err := yaml.Unmarshal([]byte(out), &dump); err != nil {
		t.Fatalf("unmarshal dump: %v", err)
	}
	if dump.Packets != 4 || len(dump.Frames) != 4 || dump.Compression != "zstd" {
		t.Fatalf("dump = %d packets, %d frames, %s", dump.Packets, len(dump.Frames), dump.Compression)
	}
	for i, f := range dump.Frames {
		if f.GOOSE == nil || f.GOOSE.SqNum != uint32(i) {
			t.Fatalf("frame %d = %+v", i, f.GOOSE)
		}
	}

	out, err = execute(t, "", "info", "-r", path, "-o", "json")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	var info CaptureInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("unmarshal info: %v", err)
	}
	if info.Packets != 4 || info.ByType["goose"] != 4 || info.Publishers != 1 || info.Metrics.FramesDecoded != 4 {
		t.Fatalf("info = %+v", info)
	}

	out, err = execute(t, "", "scan", "-r", path, "--src", "00:00:00:00:00:01")
	if err != nil {
		t.Fatalf("filtered scan: %v", err)
	}
	if !strings.Contains(out, "No publishers found") {
		t.Fatalf("filtered scan output = %q", out)
	}
}

func testPublication(t *testing.T, stNum, sqNum int64) []byte {
	t.Helper()
	pdu := goose.NewPDU()
	pdu.SetGocbRef("IED1LD0/LLN0$GO$gcb1")
	pdu.SetDatSet("IED1LD0/LLN0$DS1")
	pdu.SetTimeAllowedToLive(2000)
	pdu.SetConfRev(1)
	pdu.SetStNum(stNum)
	pdu.SetSqNum(sqNum)
	pdu.SetDataSet(goose.NewDataSet(goose.Boolean(stNum%2 == 0)))
	f, err := goose.NewFrame(net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}, pdu)
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	data, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return data
}

func TestWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watch.pcap")
	w, err := capture.Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	base := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	frames := []struct {
		at     time.Duration
		st, sq int64
	}{
		{0, 1, 0},
		{time.Millisecond, 1, 1},
		{10 * time.Millisecond, 2, 0},
		{20 * time.Millisecond, 4, 0},
		{5 * time.Second, 4, 1},
	}
	for _, f := range frames {
		if err := w.WritePacket(base.Add(f.at), testPublication(t, f.st, f.sq)); err != nil {
			t.Fatalf("WritePacket: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	out, err := execute(t, "", "watch", "-r", path, "-o", "json")
	if err != nil {
		t.Fatalf("watch: %v", err)
	}

	var events []string
	dec := json.NewDecoder(strings.NewReader(out))
	for dec.More() {
		var rec watchRecord
		if err := dec.Decode(&rec); err != nil {
			t.Fatalf("decode %q: %v", out, err)
		}
		events = append(events, rec.Event)
		if rec.Event == "out-of-order" && (rec.PrevStNum != 2 || rec.StNum != 4) {
			t.Fatalf("out-of-order record = %+v", rec)
		}
	}
	want := []string{"first", "state-change", "out-of-order", "expired"}
	if strings.Join(events, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", events, want)
	}
}

func TestInteractive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.pcap")
	script := strings.Join([]string{
		"show",
		"new 00:11:22:33:44:55 IED1LD0/LLN0$GO$gcb1 IED1LD0/LLN0$DS1",
		"add true",
		"add 5 integer",
		"set goID gcb1",
		"update 0 false",
		"update 9 true",
		"retransmit",
		"bogus",
		"save " + path,
		"exit",
	}, "\n")

	out, err := execute(t, script, "interactive")
	if err != nil {
		t.Fatalf("interactive: %v", err)
	}
	for _, want := range []string{
		"No publication.",
		"OK: [0] = true (boolean)",
		"OK: [1] = 5 (integer)",
		"OK: goID = gcb1",
		"State change: stNum=2 sqNum=0",
		"Error: index 9 out of range",
		"Retransmission: stNum=2 sqNum=1",
		"Unknown command: bogus",
		"Saved 2 frame(s)",
		"Goodbye!",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	r, err := capture.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	codec := goose.NewCodec()
	for sq := uint32(0); sq < 2; sq++ {
		p, err := r.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		f, err := codec.DecodeFrame(p.Data)
		if err != nil {
			t.Fatalf("DecodeFrame: %v", err)
		}
		if f.PDU().SqNum() != sq || f.PDU().GoID() != "gcb1" {
			t.Fatalf("frame %d = sq %d goID %q", sq, f.PDU().SqNum(), f.PDU().GoID())
		}
		if v, _ := f.PDU().DataSet().At(0); !goose.ValuesEqual(v, goose.Boolean(false)) {
			t.Fatalf("frame %d value = %v", sq, v)
		}
	}
}
