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
	"math/bits"
	"strings"
	"time"
)

// Time quality bits
const (
	QualityLeapSecondKnown byte = 0x80
	QualityClockFailure    byte = 0x40
	QualityClockNotSynced  byte = 0x20
	qualityAccuracyMask    byte = 0x1F
)

// AccuracyUnspecified is the accuracy value for an unknown clock accuracy
const AccuracyUnspecified uint8 = 31

// TimestampLength is the encoded size of a Timestamp
const TimestampLength = 8

// Timestamp is a UTC instant with millisecond resolution and its time quality
type Timestamp struct {
	Millis         int64 // since the Unix epoch
	LeapSecond     bool
	ClockFailure   bool
	ClockNotSynced bool
	Accuracy       uint8 // number of significant fraction bits, 0-31
}

// NewTimestamp returns a timestamp for t with an unsynchronised clock of
// unspecified accuracy
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{
		Millis:         t.UnixMilli(),
		ClockNotSynced: true,
		Accuracy:       AccuracyUnspecified,
	}
}

// Time returns the instant in UTC
func (ts Timestamp) Time() time.Time {
	return time.UnixMilli(ts.Millis).UTC()
}

// Quality returns the quality octet
func (ts Timestamp) Quality() byte {
	q := ts.Accuracy & qualityAccuracyMask
	if ts.LeapSecond {
		q |= QualityLeapSecondKnown
	}
	if ts.ClockFailure {
		q |= QualityClockFailure
	}
	if ts.ClockNotSynced {
		q |= QualityClockNotSynced
	}
	return q
}

// SetQuality sets the flags and accuracy from a quality octet
func (ts *Timestamp) SetQuality(q byte) {
	ts.LeapSecond = q&QualityLeapSecondKnown != 0
	ts.ClockFailure = q&QualityClockFailure != 0
	ts.ClockNotSynced = q&QualityClockNotSynced != 0
	ts.Accuracy = q & qualityAccuracyMask
}

// Encode returns the 8-byte wire form: the whole seconds, then the
// millisecond remainder bit-reversed as a 32-bit value with its low octet
// replaced by the quality octet.
func (ts Timestamp) Encode() ([]byte, error) {
	if ts.Millis < 0 {
		return nil, fmt.Errorf("%w: timestamp before the epoch", ErrInvalidValue)
	}
	if ts.Accuracy > AccuracyUnspecified {
		return nil, fmt.Errorf("%w: time accuracy %d", ErrInvalidValue, ts.Accuracy)
	}
	quotient := ts.Millis / 1000
	if quotient > math.MaxUint32 {
		return nil, fmt.Errorf("%w: timestamp seconds overflow", ErrInvalidValue)
	}
	remainder := uint32(ts.Millis % 1000)

	buf := make([]byte, TimestampLength)
	binary.BigEndian.PutUint32(buf[0:4], uint32(quotient))
	binary.BigEndian.PutUint32(buf[4:8], bits.Reverse32(remainder))
	buf[7] = ts.Quality()
	return buf, nil
}

// DecodeTimestamp decodes the 8-byte wire form
func DecodeTimestamp(data []byte) (Timestamp, error) {
	if len(data) != TimestampLength {
		return Timestamp{}, fmt.Errorf("%w: timestamp of %d bytes", ErrInvalidLength, len(data))
	}
	quotient := int64(binary.BigEndian.Uint32(data[0:4]))
	fraction := binary.BigEndian.Uint32(data[4:8]) &^ 0xFF
	remainder := int64(bits.Reverse32(fraction))

	ts := Timestamp{Millis: quotient*1000 + remainder}
	ts.SetQuality(data[7])
	return ts, nil
}

func (ts Timestamp) String() string {
	var flags []string
	if ts.LeapSecond {
		flags = append(flags, "leap-second")
	}
	if ts.ClockFailure {
		flags = append(flags, "clock-failure")
	}
	if ts.ClockNotSynced {
		flags = append(flags, "not-synced")
	}
	s := ts.Time().Format("2006-01-02T15:04:05.000Z07:00")
	if len(flags) > 0 {
		s += " [" + strings.Join(flags, ",") + "]"
	}
	return s
}
