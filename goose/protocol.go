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
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeBE encodes the low width bytes of v in big-endian order
func EncodeBE(v uint64, width int) []byte {
	if width <= 0 {
		return nil
	}
	if width > 8 {
		width = 8
	}
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	out := make([]byte, width)
	copy(out, tmp[8-width:])
	return out
}

// DecodeBE decodes big-endian bytes as an unsigned integer. Bytes beyond the
// eighth shift earlier ones out. An empty slice decodes to 0.
func DecodeBE(data []byte) uint64 {
	var v uint64
	for _, b := range data {
		v = v<<8 | uint64(b)
	}
	return v
}

// MinimalWidth returns the number of bytes MinimalBE uses for v.
// The bucket boundaries sit one below each power of 256; deployed publishers
// encode counters this way and decoders expect it.
func MinimalWidth(v uint64) int {
	if v <= math.MaxInt32 {
		switch {
		case v < 0xFF:
			return 1
		case v < 0xFFFF:
			return 2
		case v < 0xFFFFFF:
			return 3
		default:
			return 4
		}
	}
	switch {
	case v < 1<<32:
		return 4
	case v < 1<<40:
		return 5
	case v < 1<<48:
		return 6
	case v < 1<<56:
		return 7
	default:
		return 8
	}
}

// MinimalBE encodes v using MinimalWidth bytes
func MinimalBE(v uint64) []byte {
	return EncodeBE(v, MinimalWidth(v))
}

// EncodeSigned32 encodes v as 4-byte two's complement
func EncodeSigned32(v int32) []byte {
	return EncodeBE(uint64(uint32(v)), 4)
}

// DecodeSigned decodes a big-endian two's complement integer of 1 to 8 bytes
func DecodeSigned(data []byte) (int64, error) {
	if len(data) == 0 || len(data) > 8 {
		return 0, fmt.Errorf("%w: signed integer of %d bytes", ErrInvalidLength, len(data))
	}
	v := DecodeBE(data)
	shift := uint(64 - 8*len(data))
	return int64(v<<shift) >> shift, nil
}

// BitsetToBytes packs a bit string into the fewest bytes holding its highest
// set bit. Bit i lands in byte n-1-i/8 at position i%8, so bit 0 is the least
// significant bit of the last byte. An empty set yields nil.
func BitsetToBytes(b BitString) []byte {
	if len(b.bits) == 0 {
		return nil
	}
	n := b.bits[len(b.bits)-1]/8 + 1
	out := make([]byte, n)
	for _, i := range b.bits {
		out[n-1-i/8] |= 1 << (i % 8)
	}
	return out
}

// BytesToBitset is the inverse of BitsetToBytes
func BytesToBitset(data []byte) BitString {
	n := len(data)
	var bits []int
	for i := 0; i < n*8; i++ {
		if data[n-1-i/8]&(1<<(i%8)) != 0 {
			bits = append(bits, i)
		}
	}
	return BitString{bits: bits}
}

// appendTLV appends a tag, a single length byte and the value
func appendTLV(dst []byte, tag byte, value []byte) []byte {
	dst = append(dst, tag, byte(len(value)))
	return append(dst, value...)
}

// blockHeaderLen returns the size of a constructed block's tag and length
func blockHeaderLen(length int) int {
	switch {
	case length < 0x80:
		return 2
	case length <= 0xFF:
		return 3
	default:
		return 4
	}
}

func appendBlockHeader(dst []byte, tag byte, length int) []byte {
	switch {
	case length < 0x80:
		return append(dst, tag, byte(length))
	case length <= 0xFF:
		return append(dst, tag, 0x81, byte(length))
	default:
		return append(dst, tag, 0x82, byte(length>>8), byte(length))
	}
}

// readTag returns the tag byte at pos
func readTag(buf []byte, pos int) (byte, error) {
	if pos < 0 || pos >= len(buf) {
		return 0, ErrTruncated
	}
	return buf[pos], nil
}

// readValue reads a single-byte length at pos and the value after it. It
// returns the value and the offset just past it.
func readValue(buf []byte, pos int) ([]byte, int, error) {
	if pos < 0 || pos >= len(buf) {
		return nil, pos, ErrTruncated
	}
	n := int(buf[pos])
	start := pos + 1
	end := start + n
	if end > len(buf) {
		return nil, pos, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncated, n, start, len(buf)-start)
	}
	return buf[start:end], end, nil
}

// readBlockLength reads a block length in short form or in the 0x81/0x82
// long forms. It returns the length and the offset of the block content.
func readBlockLength(buf []byte, pos int) (int, int, error) {
	if pos < 0 || pos >= len(buf) {
		return 0, pos, ErrTruncated
	}
	switch b := buf[pos]; b {
	case 0x81:
		if pos+1 >= len(buf) {
			return 0, pos, ErrTruncated
		}
		return int(buf[pos+1]), pos + 2, nil
	case 0x82:
		if pos+2 >= len(buf) {
			return 0, pos, ErrTruncated
		}
		return int(binary.BigEndian.Uint16(buf[pos+1:])), pos + 3, nil
	default:
		return int(b), pos + 1, nil
	}
}
