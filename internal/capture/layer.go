package capture

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/edgeo/drivers/goose/goose"
)

// LayerTypeGOOSE is the gopacket layer for the GOOSE header and APDU that
// follow the Ethernet header
var LayerTypeGOOSE = gopacket.RegisterLayerType(61850, gopacket.LayerTypeMetadata{
	Name:    "GOOSE",
	Decoder: gopacket.DecodeFunc(decodeGOOSE),
})

func init() {
	layers.EthernetTypeMetadata[goose.EtherTypeGOOSE] = layers.EnumMetadata{
		DecodeWith: gopacket.DecodeFunc(decodeGOOSE),
		Name:       "GOOSE",
		LayerType:  LayerTypeGOOSE,
	}
}

// Layer is a decoded GOOSE layer: APPID, length, reserved fields and PDU
type Layer struct {
	layers.BaseLayer
	AppID     uint16
	Length    uint16
	Reserved1 uint16
	Reserved2 uint16
	PDU       *goose.PDU
}

var (
	_ gopacket.Layer         = &Layer{}
	_ gopacket.DecodingLayer = &Layer{}
)

func (l *Layer) LayerType() gopacket.LayerType { return LayerTypeGOOSE }

func (l *Layer) CanDecode() gopacket.LayerClass { return LayerTypeGOOSE }

func (l *Layer) NextLayerType() gopacket.LayerType { return gopacket.LayerTypeZero }

// DecodeFromBytes decodes the bytes after the Ethernet header. Padding past
// the length field is left out of the layer contents.
func (l *Layer) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < 8 {
		df.SetTruncated()
		return fmt.Errorf("%w: GOOSE header needs 8 bytes, have %d", goose.ErrTruncated, len(data))
	}
	length := int(binary.BigEndian.Uint16(data[2:4]))
	if length < 8 || length-8 > goose.MaxAPDULength {
		return fmt.Errorf("%w: length field %d", goose.ErrInvalidLength, length)
	}
	if length > len(data) {
		df.SetTruncated()
		return fmt.Errorf("%w: length field %d, have %d bytes", goose.ErrTruncated, length, len(data))
	}
	pdu, err := goose.DecodePDU(data[:length], 8)
	if err != nil {
		return err
	}
	*l = Layer{
		BaseLayer: layers.BaseLayer{Contents: data[:length], Payload: data[length:length]},
		AppID:     binary.BigEndian.Uint16(data[0:2]),
		Length:    uint16(length),
		Reserved1: binary.BigEndian.Uint16(data[4:6]),
		Reserved2: binary.BigEndian.Uint16(data[6:8]),
		PDU:       pdu,
	}
	return nil
}

// Dump implements gopacket.Dumper
func (l *Layer) Dump() string {
	if l.PDU == nil {
		return ""
	}
	p := l.PDU
	var b strings.Builder
	fmt.Fprintf(&b, "gocbRef=%s datSet=%s goID=%s\n", p.GocbRef(), p.DatSet(), p.GoID())
	fmt.Fprintf(&b, "stNum=%d sqNum=%d confRev=%d test=%v ndsCom=%v ttl=%dms t=%s\n",
		p.StNum(), p.SqNum(), p.ConfRev(), p.Test(), p.NdsCom(), p.TimeAllowedToLive(), p.T())
	if ds := p.DataSet(); ds != nil {
		for i, v := range ds.Values() {
			fmt.Fprintf(&b, "  [%d] %s %s\n", i, v.Kind(), v)
		}
	}
	return b.String()
}

func decodeGOOSE(data []byte, p gopacket.PacketBuilder) error {
	l := &Layer{}
	if err := l.DecodeFromBytes(data, p); err != nil {
		return err
	}
	p.AddLayer(l)
	return nil
}
