package capture

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/edgeo/drivers/goose/goose"
)

// Classification is the link-layer view of a captured Ethernet frame
type Classification struct {
	EtherType   goose.EtherType
	MessageType goose.MessageType
	Tagged      bool
	VLAN        uint16
	Priority    uint8
	// Frame is the frame with any 802.1Q tags removed, as goose.DecodeFrame
	// expects it. It aliases the input when the frame is untagged.
	Frame []byte
}

// Classifier sorts captured frames by IEC 61850 ethertype before the full
// codec decode. It is not safe for concurrent use.
type Classifier struct {
	eth     layers.Ethernet
	dot1q   layers.Dot1Q
	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType
}

// NewClassifier creates a classifier
func NewClassifier() *Classifier {
	c := &Classifier{}
	c.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet, &c.eth, &c.dot1q)
	c.parser.IgnoreUnsupported = true
	return c
}

// Classify reports whether data is a GOOSE, GSE management or sampled values
// frame, looking through 802.1Q tags
func (c *Classifier) Classify(data []byte) (Classification, bool) {
	if err := c.parser.DecodeLayers(data, &c.decoded); err != nil {
		return Classification{}, false
	}
	if len(c.decoded) == 0 {
		return Classification{}, false
	}

	cl := Classification{EtherType: goose.EtherType(c.eth.EthernetType), Frame: data}
	tags := 0
	for _, lt := range c.decoded {
		if lt != layers.LayerTypeDot1Q {
			continue
		}
		tags++
		cl.Tagged = true
		cl.VLAN = c.dot1q.VLANIdentifier
		cl.Priority = c.dot1q.Priority
		cl.EtherType = goose.EtherType(c.dot1q.Type)
	}

	mt, ok := goose.MessageTypeOf(cl.EtherType)
	if !ok {
		return cl, false
	}
	cl.MessageType = mt
	if tags > 0 {
		frame := make([]byte, 0, len(data)-4*tags)
		frame = append(frame, data[:12]...)
		cl.Frame = append(frame, data[12+4*tags:]...)
	}
	return cl, true
}
