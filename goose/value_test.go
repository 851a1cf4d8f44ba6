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
	"encoding/hex"
	"errors"
	"testing"
)

func TestEncodeValue(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		want string
	}{
		{"true", Boolean(true), "830101"},
		{"false", Boolean(false), "830100"},
		{"bitstring", NewBitString(0, 9), "84020201"},
		{"empty bitstring", NewBitString(), "8400"},
		{"int32", Int32(-2), "8504fffffffe"},
		{"small int", Int32(1), "850400000001"},
		{"uint32", UInt32(0x01020304), "860401020304"},
		{"float32", Float32(1.5), "8705083fc00000"},
		{"float64 narrowed", Float64(1.5), "8705083fc00000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeValue(tt.v)
			if err != nil {
				t.Fatalf("EncodeValue: %v", err)
			}
			if hex.EncodeToString(got) != tt.want {
				t.Fatalf("EncodeValue = %x, want %s", got, tt.want)
			}
			n, err := encodedValueLen(tt.v)
			if err != nil || n != len(got) {
				t.Fatalf("encodedValueLen = %d, %v; want %d", n, err, len(got))
			}
		})
	}
}

func TestEncodeValueUnsupported(t *testing.T) {
	for _, k := range []Kind{KindArray, KindStructure, KindOctetString, KindVisibleString, KindUTCTime, KindBCD} {
		_, err := EncodeValue(Unsupported{Type: k})
		if !errors.Is(err, ErrUnsupportedType) {
			t.Errorf("%s: err = %v, want ErrUnsupportedType", k, err)
		}
	}
	if _, err := EncodeValue(nil); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("nil: err = %v, want ErrInvalidValue", err)
	}
}

func TestDecodeValueRoundTrip(t *testing.T) {
	values := []Value{
		Boolean(true),
		Boolean(false),
		NewBitString(1, 4, 15),
		Int32(-123456),
		Int32(42),
		UInt32(4000000000),
		Float32(-0.25),
		Float64(1.5),
	}
	for _, v := range values {
		enc, err := EncodeValue(v)
		if err != nil {
			t.Fatalf("EncodeValue(%v): %v", v, err)
		}
		got, err := DecodeValue(enc[0], enc[2:])
		if err != nil {
			t.Fatalf("DecodeValue(%x): %v", enc, err)
		}
		if !ValuesEqual(got, v) {
			t.Errorf("round trip %v (%T) = %v (%T)", v, v, got, got)
		}
	}
}

func TestValuesEqualNarrowsFloat64(t *testing.T) {
	tests := []struct {
		a, b Value
		want bool
	}{
		{Float64(1.5), Float32(1.5), true},
		{Float32(0.1), Float64(0.1), true},
		{Float64(1.5), Float32(2), false},
		{Float64(0.1), Float64(float64(float32(0.1))), false},
		{Float64(1), Int32(1), false},
		{Float32(1), UInt32(1), false},
	}
	for _, tt := range tests {
		if got := ValuesEqual(tt.a, tt.b); got != tt.want {
			t.Errorf("ValuesEqual(%T(%v), %T(%v)) = %v, want %v", tt.a, tt.a, tt.b, tt.b, got, tt.want)
		}
	}
}

func TestDecodeValueWidths(t *testing.T) {
	got, err := DecodeValue(0x85, []byte{0xFE})
	if err != nil || got != Int32(-2) {
		t.Fatalf("1-byte integer = %v, %v", got, err)
	}
	got, err = DecodeValue(0x86, nil)
	if err != nil || got != UInt32(0) {
		t.Fatalf("empty unsigned = %v, %v", got, err)
	}
	got, err = DecodeValue(0x86, []byte{0x01, 0x00})
	if err != nil || got != UInt32(256) {
		t.Fatalf("2-byte unsigned = %v, %v", got, err)
	}
	got, err = DecodeValue(0x86, []byte{0x00, 0xFF, 0xFF, 0xFF, 0xFF})
	if err != nil || got != UInt32(0xFFFFFFFF) {
		t.Fatalf("5-byte unsigned = %v, %v", got, err)
	}
	double, _ := hex.DecodeString("0b3ff8000000000000")
	got, err = DecodeValue(0x87, double)
	if err != nil || got != Float64(1.5) {
		t.Fatalf("double = %v, %v", got, err)
	}
	if _, err := DecodeValue(0x87, []byte{0x08, 0x00}); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("short float: err = %v", err)
	}
	if _, err := DecodeValue(0x85, []byte{1, 2, 3, 4, 5}); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("long integer: err = %v", err)
	}
	if _, err := DecodeValue(0x83, nil); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("empty boolean: err = %v", err)
	}
}

func TestDecodeValueTags(t *testing.T) {
	tests := []struct {
		tag  byte
		want error
	}{
		{0x81, ErrUnsupportedType},
		{0xA1, ErrUnsupportedType},
		{0xA2, ErrUnsupportedType},
		{0x89, ErrUnsupportedType},
		{0x8A, ErrUnsupportedType},
		{0x91, ErrUnsupportedType},
		{0x80, ErrUnknownTag},
		{0x92, ErrUnknownTag},
		{0x30, ErrUnknownTag},
	}
	for _, tt := range tests {
		_, err := DecodeValue(tt.tag, []byte{0x00})
		if !errors.Is(err, tt.want) {
			t.Errorf("tag 0x%02x: err = %v, want %v", tt.tag, err, tt.want)
		}
	}
}

func TestNewIntegerWidths(t *testing.T) {
	for _, w := range []int{8, 16, 32, 128} {
		v, err := NewInteger(-5, w)
		if err != nil || v != Int32(-5) {
			t.Fatalf("NewInteger(-5, %d) = %v, %v", w, v, err)
		}
		enc, _ := EncodeValue(v)
		if len(enc) != 6 {
			t.Fatalf("width %d encodes to %d bytes, want 6", w, len(enc))
		}
	}
	if _, err := NewInteger(1<<40, 32); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("overflow: err = %v", err)
	}
	if _, err := NewInteger(1, 12); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("bad width: err = %v", err)
	}
	if _, err := NewUnsigned(1<<33, 32); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("unsigned overflow: err = %v", err)
	}
	if _, err := NewUnsigned(1, 128); !errors.Is(err, ErrInvalidValue) {
		t.Fatalf("unsigned width 128: err = %v", err)
	}
}

func TestBitStringAccessors(t *testing.T) {
	b := NewBitString(9, -1, 2, 9)
	if !b.Test(2) || !b.Test(9) || b.Test(3) {
		t.Fatalf("Test mismatch for %v", b)
	}
	if b.Len() != 10 {
		t.Fatalf("Len = %d, want 10", b.Len())
	}
	bits := b.Bits()
	bits[0] = 100
	if !b.Test(2) {
		t.Fatal("Bits must return a copy")
	}
	if b.String() != "{2,9}" {
		t.Fatalf("String = %q", b.String())
	}
}

func TestKindNames(t *testing.T) {
	for k := KindArray; k <= KindUTCTime; k++ {
		got, ok := ParseKind(k.String())
		if !ok || got != k {
			t.Errorf("ParseKind(%q) = %v, %v", k.String(), got, ok)
		}
	}
	if k, ok := ParseKind("float64"); !ok || k != KindFloatingPoint {
		t.Fatalf("alias float64 = %v, %v", k, ok)
	}
	if !bytes.Equal([]byte{KindBoolean.Tag()}, []byte{0x83}) {
		t.Fatal("boolean tag should be 0x83")
	}
}
