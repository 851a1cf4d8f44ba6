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
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// floatExponentWidth is the exponent-width octet preceding a FloatingPoint value
const floatExponentWidth = 0x08

// maxValueLength is the largest value a single dataset element may carry
const maxValueLength = 0x7F

// Value is one element of a GOOSE dataset. The concrete types are Boolean,
// BitString, Int32, UInt32, Float32, Float64 and Unsupported.
type Value interface {
	Kind() Kind
	String() string
	encodeValue() ([]byte, error)
}

// Boolean is an MMS boolean
type Boolean bool

// Int32 is an MMS integer. All widths are carried in four bytes.
type Int32 int32

// UInt32 is an MMS unsigned integer. All widths are carried in four bytes.
type UInt32 uint32

// Float32 is an MMS single precision floating-point value
type Float32 float32

// Float64 is an MMS double precision value. It is narrowed to single
// precision on the wire.
type Float64 float64

// Unsupported stands in for a CHOICE alternative this codec cannot encode
type Unsupported struct {
	Type Kind
}

// BitString is a sparse set of bit positions
type BitString struct {
	bits []int // sorted, unique, non-negative
}

// NewBitString returns a bit string with the given positions set.
// Negative positions are ignored.
func NewBitString(positions ...int) BitString {
	seen := make(map[int]struct{}, len(positions))
	var bits []int
	for _, p := range positions {
		if p < 0 {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		bits = append(bits, p)
	}
	sort.Ints(bits)
	return BitString{bits: bits}
}

// Test reports whether bit i is set
func (b BitString) Test(i int) bool {
	n := sort.SearchInts(b.bits, i)
	return n < len(b.bits) && b.bits[n] == i
}

// Bits returns the set positions in ascending order
func (b BitString) Bits() []int {
	out := make([]int, len(b.bits))
	copy(out, b.bits)
	return out
}

// Len returns one past the highest set position
func (b BitString) Len() int {
	if len(b.bits) == 0 {
		return 0
	}
	return b.bits[len(b.bits)-1] + 1
}

// Equal reports whether both bit strings have the same positions set
func (b BitString) Equal(o BitString) bool {
	if len(b.bits) != len(o.bits) {
		return false
	}
	for i := range b.bits {
		if b.bits[i] != o.bits[i] {
			return false
		}
	}
	return true
}

func (Boolean) Kind() Kind     { return KindBoolean }
func (BitString) Kind() Kind   { return KindBitString }
func (Int32) Kind() Kind       { return KindInteger }
func (UInt32) Kind() Kind      { return KindUnsigned }
func (Float32) Kind() Kind     { return KindFloatingPoint }
func (Float64) Kind() Kind     { return KindFloatingPoint }
func (u Unsupported) Kind() Kind { return u.Type }

func (v Boolean) String() string { return strconv.FormatBool(bool(v)) }
func (v Int32) String() string   { return strconv.FormatInt(int64(v), 10) }
func (v UInt32) String() string  { return strconv.FormatUint(uint64(v), 10) }
func (v Float32) String() string { return strconv.FormatFloat(float64(v), 'g', -1, 32) }
func (v Float64) String() string { return strconv.FormatFloat(float64(v), 'g', -1, 64) }
func (u Unsupported) String() string {
	return fmt.Sprintf("<%s>", u.Type)
}

func (b BitString) String() string {
	if len(b.bits) == 0 {
		return "{}"
	}
	parts := make([]string, len(b.bits))
	for i, p := range b.bits {
		parts[i] = strconv.Itoa(p)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func (v Boolean) encodeValue() ([]byte, error) {
	if v {
		return []byte{0x01}, nil
	}
	return []byte{0x00}, nil
}

func (b BitString) encodeValue() ([]byte, error) {
	return BitsetToBytes(b), nil
}

func (v Int32) encodeValue() ([]byte, error) {
	return EncodeSigned32(int32(v)), nil
}

func (v UInt32) encodeValue() ([]byte, error) {
	return EncodeBE(uint64(v), 4), nil
}

func (v Float32) encodeValue() ([]byte, error) {
	return encodeFloat(float32(v)), nil
}

func (v Float64) encodeValue() ([]byte, error) {
	return encodeFloat(float32(v)), nil
}

func (u Unsupported) encodeValue() ([]byte, error) {
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, u.Type)
}

func encodeFloat(f float32) []byte {
	out := make([]byte, 0, 5)
	out = append(out, floatExponentWidth)
	return append(out, EncodeBE(uint64(math.Float32bits(f)), 4)...)
}

// NewInteger returns an integer value of the given nominal width (8, 16, 32
// or 128 bits). The value must fit in 32 bits.
func NewInteger(v int64, width int) (Int32, error) {
	switch width {
	case 8, 16, 32, 128:
	default:
		return 0, fmt.Errorf("%w: integer width %d", ErrInvalidValue, width)
	}
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, fmt.Errorf("%w: %d does not fit in 32 bits", ErrInvalidValue, v)
	}
	return Int32(v), nil
}

// NewUnsigned returns an unsigned value of the given nominal width (8, 16 or
// 32 bits)
func NewUnsigned(v uint64, width int) (UInt32, error) {
	switch width {
	case 8, 16, 32:
	default:
		return 0, fmt.Errorf("%w: unsigned width %d", ErrInvalidValue, width)
	}
	if v > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d does not fit in 32 bits", ErrInvalidValue, v)
	}
	return UInt32(v), nil
}

// EncodeValue encodes v as a single TLV element
func EncodeValue(v Value) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: nil value", ErrInvalidValue)
	}
	data, err := v.encodeValue()
	if err != nil {
		return nil, err
	}
	if len(data) > maxValueLength {
		return nil, fmt.Errorf("%w: %s value of %d bytes", ErrInvalidLength, v.Kind(), len(data))
	}
	return appendTLV(make([]byte, 0, 2+len(data)), v.Kind().Tag(), data), nil
}

// encodedValueLen returns len(EncodeValue(v))
func encodedValueLen(v Value) (int, error) {
	switch t := v.(type) {
	case Boolean:
		return 3, nil
	case Int32, UInt32:
		return 6, nil
	case Float32, Float64:
		return 7, nil
	case BitString:
		return 2 + len(BitsetToBytes(t)), nil
	}
	b, err := EncodeValue(v)
	return len(b), err
}

// DecodeValue decodes the value bytes of one dataset element given its tag
func DecodeValue(tag byte, data []byte) (Value, error) {
	switch tag {
	case KindBoolean.Tag():
		if len(data) == 0 {
			return nil, fmt.Errorf("%w: empty boolean", ErrInvalidLength)
		}
		return Boolean(data[0] != 0), nil

	case KindBitString.Tag():
		return BytesToBitset(data), nil

	case KindInteger.Tag():
		if len(data) > 4 {
			return nil, fmt.Errorf("%w: integer of %d bytes", ErrInvalidLength, len(data))
		}
		v, err := DecodeSigned(data)
		if err != nil {
			return nil, err
		}
		return Int32(v), nil

	case KindUnsigned.Tag():
		// a fifth leading zero octet keeps the top bit of a 32-bit value positive;
		// an empty value is zero
		if len(data) > 5 || (len(data) == 5 && data[0] != 0) {
			return nil, fmt.Errorf("%w: unsigned of %d bytes", ErrInvalidLength, len(data))
		}
		return UInt32(DecodeBE(data)), nil

	case KindFloatingPoint.Tag():
		switch len(data) {
		case 5:
			return Float32(math.Float32frombits(uint32(DecodeBE(data[1:])))), nil
		case 9:
			return Float64(math.Float64frombits(DecodeBE(data[1:]))), nil
		}
		return nil, fmt.Errorf("%w: floating-point of %d bytes", ErrInvalidLength, len(data))

	// constructed array and structure
	case 0xA1, 0xA2:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, Kind(tag&0x1F))
	}

	if tag&0xE0 == 0x80 {
		if k := Kind(tag & 0x1F); k >= KindArray && k <= KindUTCTime {
			return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, k)
		}
	}
	return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownTag, tag)
}
