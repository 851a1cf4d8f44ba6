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
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"
)

// Codec encodes and decodes frames for a capture or injection layer. It adds
// metrics, logging, an APDU size limit and a source MAC subscription filter on
// top of Frame.Encode and DecodeFrame. A Codec is safe for concurrent use.
type Codec struct {
	opts *codecOptions

	subsMu sync.RWMutex
	subs   []net.HardwareAddr

	metrics *Metrics
	logger  *slog.Logger
}

// NewCodec creates a new codec
func NewCodec(opts ...Option) *Codec {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	c := &Codec{
		opts:    options,
		metrics: options.metrics,
		logger:  options.logger,
	}
	if c.metrics == nil {
		c.metrics = NewMetrics()
	}
	c.Subscribe(options.subscriptions...)
	return c
}

// EncodeFrame encodes f for transmission
func (c *Codec) EncodeFrame(f *Frame) ([]byte, error) {
	start := time.Now()
	data, err := f.encode(c.opts.maxAPDULength)
	if err != nil {
		c.metrics.EncodeFailures.Inc()
		c.logger.Debug("encode failed", slog.String("error", err.Error()))
		return nil, err
	}
	c.metrics.EncodeLatency.Record(time.Since(start))
	c.metrics.FramesEncoded.Inc()
	c.metrics.BytesEncoded.Add(int64(len(data)))
	c.metrics.RecordActivity()
	return data, nil
}

// DecodeFrame decodes a captured frame
func (c *Codec) DecodeFrame(data []byte) (*Frame, error) {
	start := time.Now()
	c.metrics.BytesDecoded.Add(int64(len(data)))
	c.metrics.RecordActivity()

	f, err := decodeFrame(data, c.opts.maxAPDULength)
	if err != nil {
		if errors.Is(err, ErrNotGOOSE) {
			c.metrics.NotGOOSE.Inc()
		} else {
			c.metrics.DecodeFailures.Inc()
			c.logger.Debug("invalid frame",
				slog.Int("length", len(data)),
				slog.String("error", err.Error()),
			)
		}
		return nil, err
	}
	c.metrics.DecodeLatency.Record(time.Since(start))
	c.metrics.FramesDecoded.Inc()

	if p := f.PDU(); p != nil && p.LegacyHeader() {
		c.metrics.LegacyHeaders.Inc()
		c.logger.Debug("non-conformant ASDU header",
			slog.String("src", f.Src().String()),
			slog.String("gocb_ref", p.GocbRef()),
		)
	}
	return f, nil
}

// Subscribe adds source MACs to the subscription filter
func (c *Codec) Subscribe(macs ...net.HardwareAddr) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, mac := range macs {
		if len(mac) != 6 || c.subscribedLocked(mac) {
			continue
		}
		c.subs = append(c.subs, bytes.Clone(mac))
	}
	c.metrics.Subscriptions.Set(int64(len(c.subs)))
}

// Unsubscribe removes a source MAC from the subscription filter
func (c *Codec) Unsubscribe(mac net.HardwareAddr) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for i, s := range c.subs {
		if bytes.Equal(s, mac) {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			break
		}
	}
	c.metrics.Subscriptions.Set(int64(len(c.subs)))
}

// Subscriptions returns the subscribed source MACs
func (c *Codec) Subscriptions() []net.HardwareAddr {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	out := make([]net.HardwareAddr, len(c.subs))
	copy(out, c.subs)
	return out
}

func (c *Codec) subscribedLocked(mac net.HardwareAddr) bool {
	for _, s := range c.subs {
		if bytes.Equal(s, mac) {
			return true
		}
	}
	return false
}

// Accepts reports whether f passes the subscription filter. With no
// subscriptions every frame is accepted.
func (c *Codec) Accepts(f *Frame) bool {
	c.subsMu.RLock()
	defer c.subsMu.RUnlock()
	if len(c.subs) == 0 || c.subscribedLocked(f.Src()) {
		return true
	}
	c.metrics.FramesFiltered.Inc()
	return false
}

// Metrics returns the codec metrics
func (c *Codec) Metrics() *Metrics {
	return c.metrics
}
