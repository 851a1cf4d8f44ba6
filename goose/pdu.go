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
	"fmt"
	"math"
)

// PDU is a GOOSE APDU (IECGoosePdu).
//
// A PDU is not safe for concurrent mutation. Publisher serialises the
// mutate-then-encode sequence for publishers that share one.
type PDU struct {
	gocbRef           string
	timeAllowedToLive uint32 // milliseconds
	datSet            string
	goID              string
	t                 Timestamp
	stNum             uint32
	sqNum             uint32
	test              bool
	confRev           uint32
	ndsCom            bool
	data              *DataSet
	security          []byte

	legacyHeader bool

	// memo of the last encoding, valid while dataVersion matches data
	encoded     []byte
	dataVersion uint64
}

// NewPDU returns a PDU with stNum 1, sqNum 0 and no dataset
func NewPDU() *PDU {
	return &PDU{stNum: 1}
}

func (p *PDU) invalidate() {
	p.encoded = nil
}

func truncate(s string) string {
	if len(s) > MaxVisibleStringLength {
		return s[:MaxVisibleStringLength]
	}
	return s
}

// GocbRef returns the GOOSE control block reference
func (p *PDU) GocbRef() string { return p.gocbRef }

// SetGocbRef sets the control block reference, truncated to 65 octets
func (p *PDU) SetGocbRef(s string) {
	p.gocbRef = truncate(s)
	p.invalidate()
}

// TimeAllowedToLive returns the TTL in milliseconds
func (p *PDU) TimeAllowedToLive() uint32 { return p.timeAllowedToLive }

// SetTimeAllowedToLive sets the TTL in milliseconds
func (p *PDU) SetTimeAllowedToLive(ms uint32) {
	p.timeAllowedToLive = ms
	p.invalidate()
}

// DatSet returns the dataset reference
func (p *PDU) DatSet() string { return p.datSet }

// SetDatSet sets the dataset reference, truncated to 65 octets
func (p *PDU) SetDatSet(s string) {
	p.datSet = truncate(s)
	p.invalidate()
}

// GoID returns the GOOSE identifier
func (p *PDU) GoID() string { return p.goID }

// SetGoID sets the GOOSE identifier, truncated to 65 octets. An empty goID
// is left out of the encoding.
func (p *PDU) SetGoID(s string) {
	p.goID = truncate(s)
	p.invalidate()
}

// T returns the event timestamp
func (p *PDU) T() Timestamp { return p.t }

// SetT sets the event timestamp
func (p *PDU) SetT(ts Timestamp) {
	p.t = ts
	p.invalidate()
}

// StNum returns the status number
func (p *PDU) StNum() uint32 { return p.stNum }

// SetStNum sets the status number. Values below 1 or beyond 32 bits become 1.
func (p *PDU) SetStNum(n int64) {
	if n <= 0 || n > math.MaxUint32 {
		n = 1
	}
	p.stNum = uint32(n)
	p.invalidate()
}

// SqNum returns the sequence number
func (p *PDU) SqNum() uint32 { return p.sqNum }

// SetSqNum sets the sequence number. Negative values become 0 and values
// beyond 32 bits roll over to 1.
func (p *PDU) SetSqNum(n int64) {
	switch {
	case n < 0:
		n = 0
	case n > math.MaxUint32:
		n = 1
	}
	p.sqNum = uint32(n)
	p.invalidate()
}

// Test returns the test flag
func (p *PDU) Test() bool { return p.test }

// SetTest sets the test flag
func (p *PDU) SetTest(b bool) {
	p.test = b
	p.invalidate()
}

// ConfRev returns the configuration revision
func (p *PDU) ConfRev() uint32 { return p.confRev }

// SetConfRev sets the configuration revision
func (p *PDU) SetConfRev(n uint32) {
	p.confRev = n
	p.invalidate()
}

// NdsCom reports whether the control block needs commissioning. It is always
// true while no dataset has been supplied.
func (p *PDU) NdsCom() bool { return p.ndsCom || p.data == nil }

// SetNdsCom sets the needs-commissioning flag
func (p *PDU) SetNdsCom(b bool) {
	p.ndsCom = b
	p.invalidate()
}

// DataSet returns the dataset, or nil if none was supplied
func (p *PDU) DataSet() *DataSet { return p.data }

// SetDataSet supplies the dataset carried in allData
func (p *PDU) SetDataSet(ds *DataSet) {
	p.data = ds
	p.invalidate()
}

// NumDatSetEntries returns the number of dataset elements
func (p *PDU) NumDatSetEntries() int {
	if p.data == nil {
		return 0
	}
	return p.data.Len()
}

// Security returns the opaque security extension, if any
func (p *PDU) Security() []byte { return p.security }

// SetSecurity sets the security extension. It is carried as is.
func (p *PDU) SetSecurity(b []byte) {
	p.security = bytes.Clone(b)
	p.invalidate()
}

// LegacyHeader reports whether a decoded PDU used the short ASDU header
// without the inner context tag.
func (p *PDU) LegacyHeader() bool { return p.legacyHeader }

// pduFields is the flattened field list shared by Length and Encode
type pduFields struct {
	t       []byte
	allData []byte
	count   int
	version uint64
}

func (p *PDU) prepare() (*pduFields, error) {
	if p.gocbRef == "" {
		return nil, fmt.Errorf("%w: gocbRef not set", ErrIncompleteAPDU)
	}
	if p.datSet == "" {
		return nil, fmt.Errorf("%w: datSet not set", ErrIncompleteAPDU)
	}
	t, err := p.t.Encode()
	if err != nil {
		return nil, err
	}
	f := &pduFields{t: t, allData: []byte{tagAllData, 0x00}}
	if p.data != nil {
		f.allData, f.count, f.version, err = p.data.snapshot()
		if err != nil {
			return nil, err
		}
	}
	return f, nil
}

// contentLength sums every field after the ASDU header
func (p *PDU) contentLength(f *pduFields) int {
	n := 2 + len(p.gocbRef)
	n += 2 + MinimalWidth(uint64(p.timeAllowedToLive))
	n += 2 + len(p.datSet)
	if p.goID != "" {
		n += 2 + len(p.goID)
	}
	n += 2 + len(f.t)
	n += 2 + MinimalWidth(uint64(p.stNum))
	n += 2 + MinimalWidth(uint64(p.sqNum))
	n += 3 // test
	n += 2 + MinimalWidth(uint64(p.confRev))
	n += 3 // ndsCom
	n += 2 + MinimalWidth(uint64(f.count))
	n += len(f.allData)
	if len(p.security) > 0 {
		n += blockHeaderLen(len(p.security)) + len(p.security)
	}
	return n
}

// Length returns the size of the encoded APDU including the 3-byte header
func (p *PDU) Length() (int, error) {
	f, err := p.prepare()
	if err != nil {
		return 0, err
	}
	return 3 + p.contentLength(f), nil
}

// Encode returns the APDU bytes
func (p *PDU) Encode() ([]byte, error) {
	if p.encoded != nil && (p.data == nil || p.data.Version() == p.dataVersion) {
		return bytes.Clone(p.encoded), nil
	}

	f, err := p.prepare()
	if err != nil {
		return nil, err
	}
	content := p.contentLength(f)
	if content > 0xFF {
		return nil, fmt.Errorf("%w: APDU content of %d bytes", ErrInvalidLength, content)
	}

	buf := make([]byte, 0, 3+content)
	buf = append(buf, tagASDU, 0x81, byte(content))
	buf = appendTLV(buf, tagGocbRef, []byte(p.gocbRef))
	buf = appendTLV(buf, tagTimeAllowedToLive, MinimalBE(uint64(p.timeAllowedToLive)))
	buf = appendTLV(buf, tagDatSet, []byte(p.datSet))
	if p.goID != "" {
		buf = appendTLV(buf, tagGoID, []byte(p.goID))
	}
	buf = appendTLV(buf, tagT, f.t)
	buf = appendTLV(buf, tagStNum, MinimalBE(uint64(p.stNum)))
	buf = appendTLV(buf, tagSqNum, MinimalBE(uint64(p.sqNum)))
	buf = appendTLV(buf, tagTest, boolByte(p.test))
	buf = appendTLV(buf, tagConfRev, MinimalBE(uint64(p.confRev)))
	buf = appendTLV(buf, tagNdsCom, boolByte(p.NdsCom()))
	buf = appendTLV(buf, tagNumDatSetEntries, MinimalBE(uint64(f.count)))
	buf = append(buf, f.allData...)
	if len(p.security) > 0 {
		buf = appendBlockHeader(buf, tagSecurity, len(p.security))
		buf = append(buf, p.security...)
	}

	p.encoded = buf
	p.dataVersion = f.version
	return bytes.Clone(buf), nil
}

func boolByte(b bool) []byte {
	if b {
		return []byte{0x01}
	}
	return []byte{0x00}
}

// detectInnerTagPresent reports whether the byte after the ASDU tag at offset
// is 0x80 or 0x81. Conformant encoders write "61 81 <len> 80 <len> gocbRef";
// some deployed publishers write "61 <len> 80 <len> gocbRef". The result
// decides whether the first field's length byte is 4 or 3 bytes past offset.
func detectInnerTagPresent(buf []byte, offset int) bool {
	b := buf[offset+1]
	return b == 0x80 || b == 0x81
}

// DecodePDU decodes an APDU whose ASDU tag (0x61) is at buf[offset]
func DecodePDU(buf []byte, offset int) (*PDU, error) {
	if offset < 0 || offset+3 > len(buf) {
		return nil, decodeErr(offset, "", ErrTruncated)
	}
	if buf[offset] != tagASDU {
		return nil, decodeErr(offset, "", fmt.Errorf("%w: 0x%02x, want 0x61", ErrUnknownTag, buf[offset]))
	}

	p := NewPDU()
	pos := offset + 3
	if detectInnerTagPresent(buf, offset) {
		pos = offset + 4
	} else {
		p.legacyHeader = true
	}
	if pos > len(buf) || buf[pos-1] != tagGocbRef {
		if pos > len(buf) {
			return nil, decodeErr(pos-1, "gocbRef", ErrTruncated)
		}
		return nil, decodeErr(pos-1, "gocbRef", fmt.Errorf("%w: 0x%02x", ErrUnknownTag, buf[pos-1]))
	}

	d := &fieldReader{buf: buf, pos: pos - 1}
	p.gocbRef = truncate(string(d.field(tagGocbRef)))
	ttl := d.uint(tagTimeAllowedToLive, 4)
	p.datSet = truncate(string(d.field(tagDatSet)))
	if d.peek() == tagGoID {
		p.goID = truncate(string(d.field(tagGoID)))
	}
	tRaw := d.field(tagT)
	st := d.uint(tagStNum, 8)
	sq := d.uint(tagSqNum, 8)
	test := d.boolean(tagTest)
	confRev := d.uint(tagConfRev, 4)
	ndsCom := d.boolean(tagNdsCom)
	count := d.uint(tagNumDatSetEntries, 4)
	if d.err != nil {
		return nil, d.err
	}

	ts, err := DecodeTimestamp(tRaw)
	if err != nil {
		return nil, decodeErr(d.pos, "t", err)
	}
	p.t = ts
	p.timeAllowedToLive = uint32(ttl)
	p.SetStNum(int64(min(st, math.MaxInt64)))
	p.SetSqNum(int64(min(sq, math.MaxInt64)))
	p.test = test
	p.confRev = uint32(confRev)
	p.ndsCom = ndsCom

	pos = d.pos
	if count > 0 || (pos < len(buf) && buf[pos] == tagAllData) {
		ds, next, err := DecodeDataSet(buf, pos, int(count))
		if err != nil {
			return nil, err
		}
		p.data = ds
		pos = next
	} else {
		p.data = NewDataSet()
	}

	if pos < len(buf) && buf[pos] == tagSecurity {
		n, start, err := readBlockLength(buf, pos+1)
		if err != nil {
			return nil, decodeErr(pos, "security", err)
		}
		if start+n > len(buf) {
			return nil, decodeErr(pos, "security", ErrTruncated)
		}
		p.security = bytes.Clone(buf[start : start+n])
	}
	return p, nil
}

// fieldReader walks the context-tagged PDU fields. The first error sticks
// and turns later reads into no-ops.
type fieldReader struct {
	buf []byte
	pos int
	err error
}

func (d *fieldReader) peek() byte {
	if d.err != nil || d.pos >= len(d.buf) {
		return 0
	}
	return d.buf[d.pos]
}

func (d *fieldReader) field(tag byte) []byte {
	if d.err != nil {
		return nil
	}
	got, err := readTag(d.buf, d.pos)
	if err != nil {
		d.err = decodeErr(d.pos, fieldName(tag), err)
		return nil
	}
	if got != tag {
		d.err = decodeErr(d.pos, fieldName(tag), fmt.Errorf("%w: 0x%02x, want 0x%02x", ErrUnknownTag, got, tag))
		return nil
	}
	value, next, err := readValue(d.buf, d.pos+1)
	if err != nil {
		d.err = decodeErr(d.pos, fieldName(tag), err)
		return nil
	}
	d.pos = next
	return value
}

func (d *fieldReader) uint(tag byte, maxWidth int) uint64 {
	start := d.pos
	v := d.field(tag)
	if d.err != nil {
		return 0
	}
	// tolerate one leading zero octet from encoders that keep the sign bit clear
	if len(v) > maxWidth && !(len(v) == maxWidth+1 && v[0] == 0) {
		d.err = decodeErr(start, fieldName(tag), fmt.Errorf("%w: %d bytes", ErrInvalidLength, len(v)))
		return 0
	}
	return DecodeBE(v)
}

func (d *fieldReader) boolean(tag byte) bool {
	start := d.pos
	v := d.field(tag)
	if d.err != nil {
		return false
	}
	if len(v) == 0 {
		d.err = decodeErr(start, fieldName(tag), fmt.Errorf("%w: empty boolean", ErrInvalidLength))
		return false
	}
	return v[0] != 0
}

// Equal reports whether two PDUs carry the same fields and dataset values
func (p *PDU) Equal(o *PDU) bool {
	if p == nil || o == nil {
		return p == o
	}
	if p.gocbRef != o.gocbRef || p.timeAllowedToLive != o.timeAllowedToLive ||
		p.datSet != o.datSet || p.goID != o.goID || p.t != o.t ||
		p.stNum != o.stNum || p.sqNum != o.sqNum || p.test != o.test ||
		p.confRev != o.confRev || p.NdsCom() != o.NdsCom() ||
		!bytes.Equal(p.security, o.security) {
		return false
	}
	pv, ov := valuesOf(p.data), valuesOf(o.data)
	if len(pv) != len(ov) {
		return false
	}
	for i := range pv {
		if !ValuesEqual(pv[i], ov[i]) {
			return false
		}
	}
	return true
}

func valuesOf(ds *DataSet) []Value {
	if ds == nil {
		return nil
	}
	return ds.Values()
}

// ValuesEqual compares two dataset values. A Float64 is narrowed when it
// meets a Float32, as Encode narrows it on the wire.
func ValuesEqual(a, b Value) bool {
	if ab, ok := a.(BitString); ok {
		bb, ok := b.(BitString)
		return ok && ab.Equal(bb)
	}
	_, a64 := a.(Float64)
	_, b64 := b.(Float64)
	if a64 != b64 {
		af, aok := narrowedFloat(a)
		bf, bok := narrowedFloat(b)
		return aok && bok && math.Float32bits(af) == math.Float32bits(bf)
	}
	return a == b
}

func narrowedFloat(v Value) (float32, bool) {
	switch f := v.(type) {
	case Float32:
		return float32(f), true
	case Float64:
		return float32(f), true
	}
	return 0, false
}
