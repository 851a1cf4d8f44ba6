package main

import (
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/edgeo/drivers/goose/goose"
)

// message is a frame description read from YAML or JSON:
//
//	src: 00:11:22:33:44:55
//	appid: 0x3001
//	gocbRef: IED1LD0/LLN0$GO$gcb1
//	datSet: IED1LD0/LLN0$DS1
//	timeAllowedToLive: 2000
//	confRev: 1
//	values:
//	  - true
//	  - {type: integer, value: -5}
//	  - {type: bit-string, bits: [0, 3]}
type message struct {
	Src       string  `yaml:"src"`
	Dst       string  `yaml:"dst"`
	Type      string  `yaml:"type"`
	AppID     *uint16 `yaml:"appid"`
	Reserved1 uint16  `yaml:"reserved1"`
	Reserved2 uint16  `yaml:"reserved2"`
	// Payload is the hex APDU of a GSE management or sampled values frame
	Payload string `yaml:"payload"`

	GocbRef           string         `yaml:"gocbRef"`
	TimeAllowedToLive uint32         `yaml:"timeAllowedToLive"`
	DatSet            string         `yaml:"datSet"`
	GoID              string         `yaml:"goID"`
	T                 string         `yaml:"t"`
	Quality           *qualitySpec   `yaml:"quality"`
	StNum             int64          `yaml:"stNum"`
	SqNum             int64          `yaml:"sqNum"`
	Test              bool           `yaml:"test"`
	ConfRev           uint32         `yaml:"confRev"`
	NdsCom            bool           `yaml:"ndsCom"`
	Security          string         `yaml:"security"`
	Values            []messageValue `yaml:"values"`
}

type qualitySpec struct {
	LeapSecondKnown bool  `yaml:"leapSecondKnown"`
	ClockFailure    bool  `yaml:"clockFailure"`
	ClockNotSynced  bool  `yaml:"clockNotSynced"`
	Accuracy        uint8 `yaml:"accuracy"`
}

// messageValue is one dataset entry. A bare scalar is accepted in place of
// the mapping; its kind is then inferred from the YAML tag.
type messageValue struct {
	Type  string    `yaml:"type"`
	Value yaml.Node `yaml:"value"`
	Width int       `yaml:"width"`
	Bits  []int     `yaml:"bits"`
}

func (mv *messageValue) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		*mv = messageValue{Value: *node}
		return nil
	}
	type plain messageValue
	return node.Decode((*plain)(mv))
}

func loadMessage(path string) (*message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read message: %w", err)
	}
	return parseMessage(data)
}

func parseMessage(data []byte) (*message, error) {
	var m message
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	return &m, nil
}

// frame builds the described frame. now stamps the event time when t is
// empty or "now".
func (m *message) frame(now time.Time) (*goose.Frame, error) {
	src, err := net.ParseMAC(m.Src)
	if err != nil {
		return nil, fmt.Errorf("src: %w", err)
	}

	mt := goose.MessageGOOSE
	if m.Type != "" {
		var ok bool
		if mt, ok = goose.ParseMessageType(m.Type); !ok {
			return nil, fmt.Errorf("unknown message type %q", m.Type)
		}
	}

	var pdu *goose.PDU
	if mt == goose.MessageGOOSE {
		if pdu, err = m.pdu(now); err != nil {
			return nil, err
		}
	}
	f, err := goose.NewFrame(src, pdu)
	if err != nil {
		return nil, err
	}
	f.SetMessageType(mt)

	if m.Dst != "" {
		dst, err := net.ParseMAC(m.Dst)
		if err != nil {
			return nil, fmt.Errorf("dst: %w", err)
		}
		if err := f.SetDst(dst); err != nil {
			return nil, err
		}
	}
	if m.AppID != nil {
		if err := f.SetAppID([]byte{byte(*m.AppID >> 8), byte(*m.AppID)}); err != nil {
			return nil, err
		}
	}
	if err := f.SetReserved1([]byte{byte(m.Reserved1 >> 8), byte(m.Reserved1)}); err != nil {
		return nil, err
	}
	if err := f.SetReserved2([]byte{byte(m.Reserved2 >> 8), byte(m.Reserved2)}); err != nil {
		return nil, err
	}
	if pdu == nil {
		payload, err := hex.DecodeString(strings.ReplaceAll(m.Payload, " ", ""))
		if err != nil {
			return nil, fmt.Errorf("payload: %w", err)
		}
		f.SetPayload(payload)
	}
	return f, nil
}

func (m *message) pdu(now time.Time) (*goose.PDU, error) {
	if m.GocbRef == "" || m.DatSet == "" {
		return nil, fmt.Errorf("%w: gocbRef and datSet are required", goose.ErrIncompleteAPDU)
	}

	p := goose.NewPDU()
	p.SetGocbRef(m.GocbRef)
	p.SetTimeAllowedToLive(m.TimeAllowedToLive)
	p.SetDatSet(m.DatSet)
	p.SetGoID(m.GoID)
	p.SetStNum(m.StNum)
	p.SetSqNum(m.SqNum)
	p.SetTest(m.Test)
	p.SetConfRev(m.ConfRev)
	p.SetNdsCom(m.NdsCom)

	ts := goose.NewTimestamp(now)
	if m.T != "" && m.T != "now" {
		at, err := time.Parse(time.RFC3339Nano, m.T)
		if err != nil {
			return nil, fmt.Errorf("t: %w", err)
		}
		ts = goose.NewTimestamp(at)
	}
	if q := m.Quality; q != nil {
		ts.LeapSecond = q.LeapSecondKnown
		ts.ClockFailure = q.ClockFailure
		ts.ClockNotSynced = q.ClockNotSynced
		ts.Accuracy = q.Accuracy
	}
	p.SetT(ts)

	if m.Security != "" {
		sec, err := hex.DecodeString(m.Security)
		if err != nil {
			return nil, fmt.Errorf("security: %w", err)
		}
		p.SetSecurity(sec)
	}

	ds := goose.NewDataSet()
	for i, mv := range m.Values {
		v, err := mv.value()
		if err != nil {
			return nil, fmt.Errorf("values[%d]: %w", i, err)
		}
		ds.Add(v)
	}
	p.SetDataSet(ds)
	return p, nil
}

// value converts the entry to a goose.Value
func (mv messageValue) value() (goose.Value, error) {
	kind, err := mv.kind()
	if err != nil {
		return nil, err
	}

	switch kind {
	case goose.KindBoolean:
		var b bool
		if err := mv.Value.Decode(&b); err != nil {
			return nil, err
		}
		return goose.Boolean(b), nil

	case goose.KindBitString:
		bits := mv.Bits
		if bits == nil && mv.Value.Kind == yaml.SequenceNode {
			if err := mv.Value.Decode(&bits); err != nil {
				return nil, err
			}
		}
		return goose.NewBitString(bits...), nil

	case goose.KindInteger:
		var i int64
		if err := mv.Value.Decode(&i); err != nil {
			return nil, err
		}
		return goose.NewInteger(i, mv.widthOr(32))

	case goose.KindUnsigned:
		var u uint64
		if err := mv.Value.Decode(&u); err != nil {
			return nil, err
		}
		return goose.NewUnsigned(u, mv.widthOr(32))

	case goose.KindFloatingPoint:
		var f float64
		if err := mv.Value.Decode(&f); err != nil {
			return nil, err
		}
		if mv.Width == 64 || strings.EqualFold(mv.Type, "float64") {
			return goose.Float64(f), nil
		}
		return goose.Float32(f), nil
	}
	return nil, fmt.Errorf("%w: %s", goose.ErrUnsupportedType, kind)
}

func (mv messageValue) widthOr(def int) int {
	if mv.Width == 0 {
		return def
	}
	return mv.Width
}

func (mv messageValue) kind() (goose.Kind, error) {
	if mv.Type != "" {
		k, ok := goose.ParseKind(mv.Type)
		if !ok {
			return 0, fmt.Errorf("unknown value type %q", mv.Type)
		}
		return k, nil
	}
	if mv.Bits != nil || mv.Value.Kind == yaml.SequenceNode {
		return goose.KindBitString, nil
	}
	switch mv.Value.ShortTag() {
	case "!!bool":
		return goose.KindBoolean, nil
	case "!!float":
		return goose.KindFloatingPoint, nil
	case "!!int":
		var i int64
		if err := mv.Value.Decode(&i); err == nil && i < 0 {
			return goose.KindInteger, nil
		}
		return goose.KindUnsigned, nil
	}
	return 0, fmt.Errorf("cannot infer the type of %q", mv.Value.Value)
}

// parseValueString parses a value typed at the prompt, such as "true", "-5",
// "1.5" or "[0,3]", with an optional kind name
func parseValueString(s, kind string) (goose.Value, error) {
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(s), &node); err != nil {
		return nil, fmt.Errorf("parse value: %w", err)
	}
	if node.Kind != yaml.DocumentNode || len(node.Content) != 1 {
		return nil, fmt.Errorf("parse value: %q", s)
	}
	return messageValue{Type: kind, Value: *node.Content[0]}.value()
}
