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

// Package goose provides an IEC 61850-8-1 GOOSE codec: the GOOSE APDU with its
// typed dataset and the Ethernet frame that carries it.
package goose

import (
	"fmt"
	"net"
	"strings"
)

// MaxAPDULength is the maximum APDU length carried in a single frame
const MaxAPDULength = 1480

// HeaderLength is the number of frame bytes preceding the APDU
const HeaderLength = 22

// MaxFrameLength is the maximum value of the frame length field
const MaxFrameLength = MaxAPDULength + 8

// MaxVisibleStringLength bounds gocbRef, datSet and goID
const MaxVisibleStringLength = 65

// BroadcastMAC is the default GOOSE multicast destination
var BroadcastMAC = net.HardwareAddr{0x01, 0x0C, 0xCD, 0x01, 0x01, 0xFF}

// EtherType values used by IEC 61850 link-layer traffic
type EtherType uint16

const (
	EtherTypeGOOSE          EtherType = 0x88B8
	EtherTypeGSEManagement  EtherType = 0x88B9
	EtherTypeSampledValues  EtherType = 0x88BA
	etherTypeHigh                     = 0x88

	// low bytes of the ethertypes above
	etherLowGOOSE         byte = 0xB8
	etherLowGSEManagement byte = 0xB9
	etherLowSampledValues byte = 0xBA
)

func (e EtherType) String() string {
	switch e {
	case EtherTypeGOOSE:
		return "goose"
	case EtherTypeGSEManagement:
		return "gse-management"
	case EtherTypeSampledValues:
		return "sampled-values"
	}
	return fmt.Sprintf("ethertype(0x%04x)", uint16(e))
}

// MessageType is a bit-flag set selecting the frame's ethertype and APPID
type MessageType uint8

const (
	MessageGOOSE         MessageType = 1 << 0
	MessageGSEManagement MessageType = 1 << 1
	MessageSampledValues MessageType = 1 << 2
)

func (m MessageType) String() string {
	if m == 0 {
		return "none"
	}
	var parts []string
	if m&MessageGOOSE != 0 {
		parts = append(parts, "goose")
	}
	if m&MessageGSEManagement != 0 {
		parts = append(parts, "gse-management")
	}
	if m&MessageSampledValues != 0 {
		parts = append(parts, "sampled-values")
	}
	if rest := m &^ (MessageGOOSE | MessageGSEManagement | MessageSampledValues); rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%02x", uint8(rest)))
	}
	return strings.Join(parts, "|")
}

// ParseMessageType parses a message type name
func ParseMessageType(s string) (MessageType, bool) {
	types := map[string]MessageType{
		"goose":          MessageGOOSE,
		"gse-management": MessageGSEManagement,
		"gse":            MessageGSEManagement,
		"sampled-values": MessageSampledValues,
		"sv":             MessageSampledValues,
	}
	if t, ok := types[strings.ToLower(s)]; ok {
		return t, true
	}
	return 0, false
}

// MessageTypeOf maps an ethertype back to its message type
func MessageTypeOf(e EtherType) (MessageType, bool) {
	switch e {
	case EtherTypeGOOSE:
		return MessageGOOSE, true
	case EtherTypeGSEManagement:
		return MessageGSEManagement, true
	case EtherTypeSampledValues:
		return MessageSampledValues, true
	}
	return 0, false
}

// Kind identifies an MMS Data CHOICE alternative. The context tag of an encoded
// value is 0x80 | Kind.
type Kind uint8

const (
	KindArray           Kind = 0x01
	KindStructure       Kind = 0x02
	KindBoolean         Kind = 0x03
	KindBitString       Kind = 0x04
	KindInteger         Kind = 0x05
	KindUnsigned        Kind = 0x06
	KindFloatingPoint   Kind = 0x07
	KindReal            Kind = 0x08
	KindOctetString     Kind = 0x09
	KindVisibleString   Kind = 0x0A
	KindGeneralizedTime Kind = 0x0B
	KindBinaryTime      Kind = 0x0C
	KindBCD             Kind = 0x0D
	KindBooleanArray    Kind = 0x0E
	KindObjectName      Kind = 0x0F
	KindMMSString       Kind = 0x10
	KindUTCTime         Kind = 0x11
)

var kindNames = map[Kind]string{
	KindArray:           "array",
	KindStructure:       "structure",
	KindBoolean:         "boolean",
	KindBitString:       "bit-string",
	KindInteger:         "integer",
	KindUnsigned:        "unsigned",
	KindFloatingPoint:   "floating-point",
	KindReal:            "real",
	KindOctetString:     "octet-string",
	KindVisibleString:   "visible-string",
	KindGeneralizedTime: "generalized-time",
	KindBinaryTime:      "binary-time",
	KindBCD:             "bcd",
	KindBooleanArray:    "boolean-array",
	KindObjectName:      "object-name",
	KindMMSString:       "mms-string",
	KindUTCTime:         "utc-time",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(0x%02x)", uint8(k))
}

// Tag returns the context-class tag byte for the kind
func (k Kind) Tag() byte {
	return 0x80 | byte(k)
}

// Implemented reports whether values of this kind can be encoded
func (k Kind) Implemented() bool {
	switch k {
	case KindBoolean, KindBitString, KindInteger, KindUnsigned, KindFloatingPoint:
		return true
	}
	return false
}

// ParseKind parses a kind name such as "boolean" or "bit-string"
func ParseKind(s string) (Kind, bool) {
	s = strings.ToLower(s)
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	aliases := map[string]Kind{
		"bool":      KindBoolean,
		"bits":      KindBitString,
		"int":       KindInteger,
		"int32":     KindInteger,
		"uint":      KindUnsigned,
		"uint32":    KindUnsigned,
		"float":     KindFloatingPoint,
		"float32":   KindFloatingPoint,
		"float64":   KindFloatingPoint,
		"struct":    KindStructure,
		"octets":    KindOctetString,
		"string":    KindVisibleString,
		"timestamp": KindUTCTime,
	}
	if k, ok := aliases[s]; ok {
		return k, true
	}
	return 0, false
}

// PDU field tags, in wire order
const (
	tagASDU             byte = 0x61
	tagGocbRef          byte = 0x80
	tagTimeAllowedToLive byte = 0x81
	tagDatSet           byte = 0x82
	tagGoID             byte = 0x83
	tagT                byte = 0x84
	tagStNum            byte = 0x85
	tagSqNum            byte = 0x86
	tagTest             byte = 0x87
	tagConfRev          byte = 0x88
	tagNdsCom           byte = 0x89
	tagNumDatSetEntries byte = 0x8A
	tagAllData          byte = 0xAB
	tagSecurity         byte = 0x8C
)

var fieldNames = map[byte]string{
	tagGocbRef:           "gocbRef",
	tagTimeAllowedToLive: "timeAllowedToLive",
	tagDatSet:            "datSet",
	tagGoID:              "goID",
	tagT:                 "t",
	tagStNum:             "stNum",
	tagSqNum:             "sqNum",
	tagTest:              "test",
	tagConfRev:           "confRev",
	tagNdsCom:            "ndsCom",
	tagNumDatSetEntries:  "numDatSetEntries",
	tagAllData:           "allData",
	tagSecurity:          "security",
}

func fieldName(tag byte) string {
	if name, ok := fieldNames[tag]; ok {
		return name
	}
	return fmt.Sprintf("tag(0x%02x)", tag)
}
