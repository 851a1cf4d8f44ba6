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
	"sync"
)

// DataSet is the ordered list of values carried in the allData field.
// It is safe for concurrent use; each mutation or encode holds the lock for
// its whole duration.
type DataSet struct {
	mu      sync.Mutex
	values  []Value
	encoded []byte // nil when stale
	version uint64
}

// NewDataSet creates a dataset holding values in order
func NewDataSet(values ...Value) *DataSet {
	ds := &DataSet{}
	ds.values = append(ds.values, values...)
	return ds
}

// invalidate must be called with mu held
func (ds *DataSet) invalidate() {
	ds.encoded = nil
	ds.version++
}

// Add appends a value
func (ds *DataSet) Add(v Value) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.values = append(ds.values, v)
	ds.invalidate()
}

// Set replaces the value at index i. An index outside the current range
// appends instead, so the dataset never has gaps.
func (ds *DataSet) Set(i int, v Value) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if i < 0 || i >= len(ds.values) {
		ds.values = append(ds.values, v)
	} else {
		ds.values[i] = v
	}
	ds.invalidate()
}

// At returns the value at index i
func (ds *DataSet) At(i int) (Value, bool) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if i < 0 || i >= len(ds.values) {
		return nil, false
	}
	return ds.values[i], true
}

// Len returns the number of values
func (ds *DataSet) Len() int {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return len(ds.values)
}

// Values returns a copy of the values
func (ds *DataSet) Values() []Value {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	out := make([]Value, len(ds.values))
	copy(out, ds.values)
	return out
}

// Version changes every time the dataset is mutated
func (ds *DataSet) Version() uint64 {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.version
}

// Encode returns the allData block: tag 0xAB, a single content length byte
// and each element's TLV. The result is cached until the next mutation and must not be
// modified by the caller.
func (ds *DataSet) Encode() ([]byte, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	return ds.encodeLocked()
}

func (ds *DataSet) encodeLocked() ([]byte, error) {
	if ds.encoded != nil {
		return ds.encoded, nil
	}

	content := 0
	for i, v := range ds.values {
		n, err := encodedValueLen(v)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		content += n
	}
	if content > 0xFF {
		return nil, fmt.Errorf("%w: allData content of %d bytes", ErrInvalidLength, content)
	}

	buf := make([]byte, 0, 2+content)
	buf = append(buf, tagAllData, byte(content))
	for i, v := range ds.values {
		elem, err := EncodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		buf = append(buf, elem...)
	}
	ds.encoded = buf
	return buf, nil
}

// EncodedLen returns the length of Encode's output
func (ds *DataSet) EncodedLen() (int, error) {
	b, err := ds.Encode()
	return len(b), err
}

// snapshot returns the encoding, element count and version under one lock
func (ds *DataSet) snapshot() ([]byte, int, uint64, error) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	b, err := ds.encodeLocked()
	return b, len(ds.values), ds.version, err
}

// DecodeDataSet decodes an allData block starting at offset. count is the
// numDatSetEntries value read from the PDU; exactly that many elements are
// read. It returns the dataset and the offset just past the last element.
func DecodeDataSet(buf []byte, offset, count int) (*DataSet, int, error) {
	if count < 0 {
		return nil, offset, decodeErr(offset, "allData", fmt.Errorf("%w: negative element count", ErrInvalidValue))
	}
	tag, err := readTag(buf, offset)
	if err != nil {
		return nil, offset, decodeErr(offset, "allData", err)
	}
	if tag != tagAllData {
		return nil, offset, decodeErr(offset, "allData", fmt.Errorf("%w: 0x%02x", ErrUnknownTag, tag))
	}
	// the length byte is skipped; count bounds the element walk
	if _, err := readTag(buf, offset+1); err != nil {
		return nil, offset, decodeErr(offset+1, "allData", err)
	}
	pos := offset + 2

	ds := &DataSet{values: make([]Value, 0, count)}
	for i := 0; i < count; i++ {
		start := pos
		tag, err := readTag(buf, pos)
		if err != nil {
			return nil, offset, decodeErr(start, fmt.Sprintf("allData[%d]", i), err)
		}
		data, next, err := readValue(buf, pos+1)
		if err != nil {
			return nil, offset, decodeErr(start, fmt.Sprintf("allData[%d]", i), err)
		}
		v, err := DecodeValue(tag, data)
		if err != nil {
			return nil, offset, decodeErr(start, fmt.Sprintf("allData[%d]", i), err)
		}
		ds.values = append(ds.values, v)
		pos = next
	}
	return ds, pos, nil
}
