package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/edgeo/drivers/goose/goose"
)

func testFrame(t *testing.T, stNum int64) []byte {
	t.Helper()
	pdu := goose.NewPDU()
	pdu.SetGocbRef("IED1LD0/LLN0$GO$gcb1")
	pdu.SetDatSet("IED1LD0/LLN0$DS1")
	pdu.SetGoID("gcb1")
	pdu.SetTimeAllowedToLive(2000)
	pdu.SetConfRev(1)
	pdu.SetStNum(stNum)
	pdu.SetDataSet(goose.NewDataSet(goose.Boolean(true), goose.Int32(-7)))

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

func TestWriteReadRoundTrip(t *testing.T) {
	base := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	names := []string{"plain.pcap", "plain.pcapng", "packed.pcap.zst", "packed.pcapng.lz4"}
	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			w, err := Create(path)
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			var frames [][]byte
			for i := 0; i < 3; i++ {
				frame := testFrame(t, int64(i+1))
				frames = append(frames, frame)
				if err := w.WritePacket(base.Add(time.Duration(i)*time.Millisecond), frame); err != nil {
					t.Fatalf("WritePacket: %v", err)
				}
			}
			if err := w.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}
			if err := w.WritePacket(base, frames[0]); !errors.Is(err, ErrClosed) {
				t.Fatalf("write after close: err = %v", err)
			}

			r, err := Open(path)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer r.Close()

			wantFormat, wantCompression := FormatFor(path)
			if r.Format() != wantFormat || r.Compression() != wantCompression {
				t.Fatalf("detected %s/%s, want %s/%s", r.Format(), r.Compression(), wantFormat, wantCompression)
			}
			if r.LinkType() != layers.LinkTypeEthernet {
				t.Fatalf("link type = %v", r.LinkType())
			}
			for i, want := range frames {
				p, err := r.Next()
				if err != nil {
					t.Fatalf("Next %d: %v", i, err)
				}
				if !bytes.Equal(p.Data, want) || p.Index != i {
					t.Fatalf("packet %d mismatch", i)
				}
				if !p.Timestamp.Equal(base.Add(time.Duration(i) * time.Millisecond)) {
					t.Fatalf("packet %d timestamp = %v", i, p.Timestamp)
				}
			}
			if _, err := r.Next(); err != io.EOF {
				t.Fatalf("after last packet: err = %v, want io.EOF", err)
			}
			if r.Count() != len(frames) {
				t.Fatalf("Count = %d", r.Count())
			}
		})
	}
}

func TestOpenUnknownFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.pcap")
	if err := os.WriteFile(path, []byte("not a capture file"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("err = %v, want ErrUnknownFormat", err)
	}
}

func TestFormatFor(t *testing.T) {
	tests := []struct {
		path        string
		format      Format
		compression Compression
	}{
		{"a.pcap", FormatPcap, CompressionNone},
		{"a.pcapng", FormatPcapNG, CompressionNone},
		{"a.pcap.zst", FormatPcap, CompressionZstd},
		{"a.pcapng.lz4", FormatPcapNG, CompressionLZ4},
		{"a.cap", FormatPcap, CompressionNone},
	}
	for _, tt := range tests {
		f, c := FormatFor(tt.path)
		if f != tt.format || c != tt.compression {
			t.Errorf("FormatFor(%q) = %s/%s", tt.path, f, c)
		}
	}
}

func TestFollow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "live.pcap")
	w, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r, err := Follow(ctx, path, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("Follow: %v", err)
	}
	defer r.Close()

	frame := testFrame(t, 1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		w.WritePacket(time.Now(), frame)
	}()

	p, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !bytes.Equal(p.Data, frame) {
		t.Fatal("followed packet mismatch")
	}

	cancel()
	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("after cancel: err = %v, want io.EOF", err)
	}
}

func TestClassify(t *testing.T) {
	frame := testFrame(t, 1)

	tagged := make([]byte, 0, len(frame)+4)
	tagged = append(tagged, frame[:12]...)
	tagged = append(tagged, 0x81, 0x00, 0x80, 0x05) // priority 4, VLAN 5
	tagged = append(tagged, frame[12:]...)

	ipv4 := bytes.Clone(frame)
	ipv4[12], ipv4[13] = 0x08, 0x00

	sv := bytes.Clone(frame)
	sv[13] = 0xBA

	c := NewClassifier()

	cl, ok := c.Classify(frame)
	if !ok || cl.Tagged || cl.MessageType != goose.MessageGOOSE || !bytes.Equal(cl.Frame, frame) {
		t.Fatalf("untagged = %+v, %v", cl, ok)
	}

	cl, ok = c.Classify(tagged)
	if !ok || !cl.Tagged || cl.VLAN != 5 || cl.Priority != 4 {
		t.Fatalf("tagged = %+v, %v", cl, ok)
	}
	if !bytes.Equal(cl.Frame, frame) {
		t.Fatal("tag was not stripped")
	}
	if _, err := goose.DecodeFrame(cl.Frame); err != nil {
		t.Fatalf("DecodeFrame of untagged frame: %v", err)
	}

	if cl, ok := c.Classify(sv); !ok || cl.MessageType != goose.MessageSampledValues {
		t.Fatalf("sv = %+v, %v", cl, ok)
	}
	if _, ok := c.Classify(ipv4); ok {
		t.Fatal("IPv4 classified as IEC 61850")
	}
	if _, ok := c.Classify(frame[:10]); ok {
		t.Fatal("runt frame classified")
	}
}

func TestLayerDecode(t *testing.T) {
	frame := append(testFrame(t, 9), make([]byte, 4)...) // padding

	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	if el := pkt.ErrorLayer(); el != nil {
		t.Fatalf("decode error: %v", el.Error())
	}
	gl, ok := pkt.Layer(LayerTypeGOOSE).(*Layer)
	if !ok {
		t.Fatalf("no GOOSE layer in %v", pkt.Layers())
	}
	if gl.PDU.StNum() != 9 || gl.PDU.GoID() != "gcb1" {
		t.Fatalf("PDU = st %d goID %q", gl.PDU.StNum(), gl.PDU.GoID())
	}
	if int(gl.Length) != len(frame)-4-14 || len(gl.LayerContents()) != int(gl.Length) {
		t.Fatalf("length = %d, contents = %d", gl.Length, len(gl.LayerContents()))
	}
	if gl.Dump() == "" {
		t.Fatal("empty dump")
	}
}

func TestLayerDecodingParser(t *testing.T) {
	var (
		eth     layers.Ethernet
		gl      Layer
		decoded []gopacket.LayerType
	)
	parser := gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &eth, &gl)
	if err := parser.DecodeLayers(testFrame(t, 3), &decoded); err != nil {
		t.Fatalf("DecodeLayers: %v", err)
	}
	if len(decoded) != 2 || decoded[1] != LayerTypeGOOSE {
		t.Fatalf("decoded = %v", decoded)
	}
	if gl.PDU.StNum() != 3 || gl.AppID != 0 {
		t.Fatalf("layer = appid %d st %d", gl.AppID, gl.PDU.StNum())
	}
}

func TestLayerDecodeErrors(t *testing.T) {
	payload := testFrame(t, 1)[14:]
	var l Layer
	if err := l.DecodeFromBytes(payload[:5], gopacket.NilDecodeFeedback); !errors.Is(err, goose.ErrTruncated) {
		t.Fatalf("short header: err = %v", err)
	}
	if err := l.DecodeFromBytes(payload[:len(payload)-1], gopacket.NilDecodeFeedback); !errors.Is(err, goose.ErrTruncated) {
		t.Fatalf("short APDU: err = %v", err)
	}
	bad := bytes.Clone(payload)
	bad[2], bad[3] = 0x00, 0x02
	if err := l.DecodeFromBytes(bad, gopacket.NilDecodeFeedback); !errors.Is(err, goose.ErrInvalidLength) {
		t.Fatalf("bad length: err = %v", err)
	}
}
