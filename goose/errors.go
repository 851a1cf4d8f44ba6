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
	"errors"
	"fmt"
)

// Sentinel errors
var (
	ErrInvalidMacAddress = errors.New("goose: invalid MAC address")
	ErrInvalidAppID      = errors.New("goose: invalid APPID")
	ErrInvalidLength     = errors.New("goose: invalid length")
	ErrInvalidValue      = errors.New("goose: invalid value")
	ErrIncompleteFrame   = errors.New("goose: incomplete frame")
	ErrIncompleteAPDU    = errors.New("goose: incomplete APDU")
	ErrUnsupportedType   = errors.New("goose: unsupported data type")
	ErrUnknownTag        = errors.New("goose: unknown tag")
	ErrTruncated         = errors.New("goose: truncated buffer")
	ErrNotGOOSE          = errors.New("goose: not an IEC 61850 frame")
)

// DecodeError records where in the buffer a decode failed
type DecodeError struct {
	Offset int
	Field  string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%v (offset %d)", e.Err, e.Offset)
	}
	return fmt.Sprintf("%v (field %s, offset %d)", e.Err, e.Field, e.Offset)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeErr(offset int, field string, err error) error {
	var de *DecodeError
	if errors.As(err, &de) {
		return err
	}
	return &DecodeError{Offset: offset, Field: field, Err: err}
}

// IsDecodeError returns true if err came from decoding a malformed buffer
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// IsUnsupported returns true if the error reports an unimplemented data type
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupportedType)
}

// IsTruncated returns true if the buffer ended before the TLV walk did
func IsTruncated(err error) bool {
	return errors.Is(err, ErrTruncated)
}
