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
	"fmt"
	"net"
)

// Frame is an IEC 61850 link-layer frame: Ethernet addressing, the
// ethertype/APPID pair, the length and reserved fields and the APDU.
// GSE-management and sampled-values frames carry their APDU as an opaque
// payload.
type Frame struct {
	dst         net.HardwareAddr
	src         net.HardwareAddr
	messageType MessageType
	appID       []byte // nil: derived from messageType
	reserved1   [2]byte
	reserved2   [2]byte
	pdu         *PDU
	payload     []byte
}

// NewFrame returns a GOOSE frame addressed to the GOOSE broadcast MAC
func NewFrame(src net.HardwareAddr, pdu *PDU) (*Frame, error) {
	f := &Frame{messageType: MessageGOOSE, pdu: pdu}
	if err := f.SetDst(BroadcastMAC); err != nil {
		return nil, err
	}
	if err := f.SetSrc(src); err != nil {
		return nil, err
	}
	return f, nil
}

func checkMAC(mac []byte) error {
	if len(mac) != 6 {
		return fmt.Errorf("%w: %d bytes", ErrInvalidMacAddress, len(mac))
	}
	return nil
}

// Dst returns the destination MAC
func (f *Frame) Dst() net.HardwareAddr { return f.dst }

// SetDst sets the destination MAC, which must be 6 bytes
func (f *Frame) SetDst(mac []byte) error {
	if err := checkMAC(mac); err != nil {
		return err
	}
	f.dst = net.HardwareAddr(bytes.Clone(mac))
	return nil
}

// Src returns the source MAC
func (f *Frame) Src() net.HardwareAddr { return f.src }

// SetSrc sets the source MAC, which must be 6 bytes
func (f *Frame) SetSrc(mac []byte) error {
	if err := checkMAC(mac); err != nil {
		return err
	}
	f.src = net.HardwareAddr(bytes.Clone(mac))
	return nil
}

// MessageType returns the message type flags
func (f *Frame) MessageType() MessageType { return f.messageType }

// SetMessageType sets the message type flags
func (f *Frame) SetMessageType(m MessageType) { f.messageType = m }

// selectType picks the ethertype low byte and the derived APPID from the
// message type flags, testing GOOSE, then GSE management, then sampled values.
func (f *Frame) selectType() (etherLow byte, appID [2]byte) {
	switch {
	case f.messageType&MessageGOOSE != 0:
		return etherLowGOOSE, [2]byte{0x00, 0x00}
	case f.messageType&MessageGSEManagement != 0:
		return etherLowGSEManagement, [2]byte{0x00, 0x00}
	case f.messageType&MessageSampledValues != 0:
		return etherLowSampledValues, [2]byte{0x00, 0x01}
	}
	return 0x00, [2]byte{etherTypeHigh, 0x00}
}

// EtherType returns the ethertype selected by the message type
func (f *Frame) EtherType() EtherType {
	low, _ := f.selectType()
	return EtherType(uint16(etherTypeHigh)<<8 | uint16(low))
}

// AppID returns the explicit APPID if one was set, otherwise the APPID
// derived from the message type
func (f *Frame) AppID() []byte {
	if f.appID != nil {
		return bytes.Clone(f.appID)
	}
	_, derived := f.selectType()
	return derived[:]
}

// AppIDValue returns AppID as an integer
func (f *Frame) AppIDValue() uint16 {
	return binary.BigEndian.Uint16(f.AppID())
}

// SetAppID overrides the derived APPID. It must be 2 bytes; nil restores the
// derived value.
func (f *Frame) SetAppID(appID []byte) error {
	if appID == nil {
		f.appID = nil
		return nil
	}
	if len(appID) != 2 {
		return fmt.Errorf("%w: %d bytes", ErrInvalidAppID, len(appID))
	}
	f.appID = bytes.Clone(appID)
	return nil
}

// Reserved1 returns the first reserved field
func (f *Frame) Reserved1() []byte { return bytes.Clone(f.reserved1[:]) }

// SetReserved1 sets the first reserved field, which must be 2 bytes
func (f *Frame) SetReserved1(b []byte) error {
	if len(b) != 2 {
		return fmt.Errorf("%w: reserved1 of %d bytes", ErrInvalidValue, len(b))
	}
	copy(f.reserved1[:], b)
	return nil
}

// Reserved2 returns the second reserved field
func (f *Frame) Reserved2() []byte { return bytes.Clone(f.reserved2[:]) }

// SetReserved2 sets the second reserved field, which must be 2 bytes
func (f *Frame) SetReserved2(b []byte) error {
	if len(b) != 2 {
		return fmt.Errorf("%w: reserved2 of %d bytes", ErrInvalidValue, len(b))
	}
	copy(f.reserved2[:], b)
	return nil
}

// PDU returns the GOOSE APDU
func (f *Frame) PDU() *PDU { return f.pdu }

// SetPDU sets the GOOSE APDU
func (f *Frame) SetPDU(p *PDU) { f.pdu = p }

// Payload returns the opaque APDU of a non-GOOSE frame
func (f *Frame) Payload() []byte { return f.payload }

// SetPayload sets an opaque APDU, used when no PDU is set
func (f *Frame) SetPayload(b []byte) { f.payload = bytes.Clone(b) }

func (f *Frame) apdu() ([]byte, error) {
	if f.pdu != nil {
		return f.pdu.Encode()
	}
	if low, _ := f.selectType(); low == etherLowGOOSE {
		return nil, fmt.Errorf("%w: GOOSE frame without PDU", ErrIncompleteAPDU)
	}
	return f.payload, nil
}

// Length returns the value of the length field: 8 plus the APDU length
func (f *Frame) Length() (int, error) {
	var n int
	if f.pdu != nil {
		pl, err := f.pdu.Length()
		if err != nil {
			return 0, err
		}
		n = pl
	} else {
		n = len(f.payload)
	}
	if n > MaxAPDULength {
		return 0, fmt.Errorf("%w: APDU of %d bytes exceeds %d", ErrInvalidLength, n, MaxAPDULength)
	}
	return 8 + n, nil
}

// Encode returns the frame bytes, without Ethernet padding or FCS
func (f *Frame) Encode() ([]byte, error) {
	return f.encode(MaxAPDULength)
}

func (f *Frame) encode(maxAPDU int) ([]byte, error) {
	if f.dst == nil {
		return nil, fmt.Errorf("%w: destination MAC not set", ErrIncompleteFrame)
	}
	if f.src == nil {
		return nil, fmt.Errorf("%w: source MAC not set", ErrIncompleteFrame)
	}
	if f.messageType == 0 {
		return nil, fmt.Errorf("%w: message type not set", ErrIncompleteFrame)
	}

	apdu, err := f.apdu()
	if err != nil {
		return nil, err
	}
	if len(apdu) > maxAPDU {
		return nil, fmt.Errorf("%w: APDU of %d bytes exceeds %d", ErrInvalidLength, len(apdu), maxAPDU)
	}

	low, derived := f.selectType()
	appID := derived[:]
	if f.appID != nil {
		appID = f.appID
	}

	buf := make([]byte, 0, HeaderLength+len(apdu))
	buf = append(buf, f.dst...)
	buf = append(buf, f.src...)
	buf = append(buf, etherTypeHigh, low)
	buf = append(buf, appID...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(8+len(apdu)))
	buf = append(buf, f.reserved1[:]...)
	buf = append(buf, f.reserved2[:]...)
	return append(buf, apdu...), nil
}

// DecodeFrame decodes a captured frame. Trailing Ethernet padding beyond the
// length field is ignored.
func DecodeFrame(data []byte) (*Frame, error) {
	return decodeFrame(data, MaxAPDULength)
}

func decodeFrame(data []byte, maxAPDU int) (*Frame, error) {
	if len(data) < HeaderLength {
		return nil, decodeErr(len(data), "header", ErrTruncated)
	}
	et := EtherType(binary.BigEndian.Uint16(data[12:14]))
	mt, ok := MessageTypeOf(et)
	if !ok {
		return nil, fmt.Errorf("%w: ethertype 0x%04x", ErrNotGOOSE, uint16(et))
	}

	length := int(binary.BigEndian.Uint16(data[16:18]))
	if length < 8 || length-8 > maxAPDU {
		return nil, decodeErr(16, "length", fmt.Errorf("%w: %d", ErrInvalidLength, length))
	}
	end := 14 + length
	if end > len(data) {
		return nil, decodeErr(16, "length", fmt.Errorf("%w: length field %d, frame has %d bytes", ErrTruncated, length, len(data)-14))
	}

	f := &Frame{
		dst:         net.HardwareAddr(bytes.Clone(data[0:6])),
		src:         net.HardwareAddr(bytes.Clone(data[6:12])),
		messageType: mt,
		appID:       bytes.Clone(data[14:16]),
	}
	copy(f.reserved1[:], data[18:20])
	copy(f.reserved2[:], data[20:22])

	apdu := data[HeaderLength:end]
	if mt != MessageGOOSE {
		f.payload = bytes.Clone(apdu)
		return f, nil
	}
	pdu, err := DecodePDU(apdu, 0)
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			de.Offset += HeaderLength
		}
		return nil, err
	}
	f.pdu = pdu
	return f, nil
}
