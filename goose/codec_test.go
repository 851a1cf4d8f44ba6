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

package goose

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCodecMetrics(t *testing.T) {
	c := NewCodec(WithLogger(quietLogger()))
	data, err := c.EncodeFrame(scenarioFrame(t))
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	if _, err := c.DecodeFrame(data); err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if _, err := c.DecodeFrame(data[:10]); !errors.Is(err, ErrTruncated) {
		t.Fatalf("short frame: err = %v", err)
	}
	ipv4 := bytes.Clone(data)
	ipv4[12], ipv4[13] = 0x08, 0x00
	if _, err := c.DecodeFrame(ipv4); !errors.Is(err, ErrNotGOOSE) {
		t.Fatalf("ipv4: err = %v", err)
	}

	s := c.Metrics().Snapshot()
	if s.FramesEncoded != 1 || s.BytesEncoded != int64(len(data)) {
		t.Errorf("encode metrics = %d frames, %d bytes", s.FramesEncoded, s.BytesEncoded)
	}
	if s.FramesDecoded != 1 || s.DecodeFailures != 1 || s.NotGOOSE != 1 {
		t.Errorf("decode metrics = %+v", s)
	}
	if s.BytesDecoded != int64(2*len(data)+10) {
		t.Errorf("BytesDecoded = %d", s.BytesDecoded)
	}
	if s.EncodeLatency.Count != 1 || s.DecodeLatency.Count != 1 {
		t.Errorf("latency counts = %d / %d", s.EncodeLatency.Count, s.DecodeLatency.Count)
	}

	c.Metrics().Reset()
	if c.Metrics().FramesDecoded.Value() != 0 {
		t.Error("Reset did not clear counters")
	}
}

func TestCodecMaxAPDULength(t *testing.T) {
	c := NewCodec(WithMaxAPDULength(40), WithLogger(quietLogger()))
	if _, err := c.EncodeFrame(scenarioFrame(t)); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("EncodeFrame: err = %v, want ErrInvalidLength", err)
	}
	if c.Metrics().EncodeFailures.Value() != 1 {
		t.Fatalf("EncodeFailures = %d", c.Metrics().EncodeFailures.Value())
	}

	data, err := scenarioFrame(t).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := c.DecodeFrame(data); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("DecodeFrame: err = %v, want ErrInvalidLength", err)
	}
}

func TestCodecLegacyHeader(t *testing.T) {
	conformant, err := scenarioFrame(t).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	apdu := conformant[HeaderLength:]
	legacy := append([]byte{0x61, apdu[2]}, apdu[3:]...)

	frame := bytes.Clone(conformant[:HeaderLength])
	binary.BigEndian.PutUint16(frame[16:18], uint16(8+len(legacy)))
	frame = append(frame, legacy...)

	c := NewCodec(WithLogger(quietLogger()))
	f, err := c.DecodeFrame(frame)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if !f.PDU().LegacyHeader() {
		t.Fatal("LegacyHeader = false")
	}
	if f.PDU().GocbRef() != "ctrl1" {
		t.Fatalf("gocbRef = %q", f.PDU().GocbRef())
	}
	if c.Metrics().LegacyHeaders.Value() != 1 {
		t.Fatalf("LegacyHeaders = %d", c.Metrics().LegacyHeaders.Value())
	}
}

func TestCodecSubscriptions(t *testing.T) {
	other := net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x66}
	c := NewCodec(WithSubscriptions(testSrc, testSrc, net.HardwareAddr{1, 2}))
	if n := len(c.Subscriptions()); n != 1 {
		t.Fatalf("subscriptions = %d, want 1", n)
	}

	f := scenarioFrame(t)
	if !c.Accepts(f) {
		t.Fatal("subscribed source rejected")
	}
	if err := f.SetSrc(other); err != nil {
		t.Fatalf("SetSrc: %v", err)
	}
	if c.Accepts(f) {
		t.Fatal("unsubscribed source accepted")
	}
	if c.Metrics().FramesFiltered.Value() != 1 {
		t.Fatalf("FramesFiltered = %d", c.Metrics().FramesFiltered.Value())
	}

	c.Subscribe(other)
	if c.Metrics().Subscriptions.Value() != 2 || !c.Accepts(f) {
		t.Fatal("Subscribe did not add the source")
	}
	c.Unsubscribe(testSrc)
	c.Unsubscribe(other)
	if len(c.Subscriptions()) != 0 || !c.Accepts(f) {
		t.Fatal("empty filter must accept everything")
	}
}
