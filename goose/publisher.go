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
	"log/slog"
	"math"
	"sync"
	"time"
)

// Publisher drives the stNum/sqNum counters of one GOOSE control block and
// returns the frame bytes to send. Sending and retransmission timing are left
// to the caller.
type Publisher struct {
	mu    sync.Mutex
	frame *Frame
	codec *Codec
	clock func() time.Time
}

// NewPublisher creates a publisher for frame, which must carry a PDU
func NewPublisher(frame *Frame, opts ...Option) (*Publisher, error) {
	if frame == nil || frame.PDU() == nil {
		return nil, fmt.Errorf("%w: publisher needs a GOOSE PDU", ErrIncompleteAPDU)
	}
	codec := NewCodec(opts...)
	if frame.PDU().DataSet() == nil {
		frame.PDU().SetDataSet(NewDataSet())
	}
	return &Publisher{
		frame: frame,
		codec: codec,
		clock: codec.opts.clock,
	}, nil
}

// Update applies a data change: fn mutates the dataset, then stNum advances,
// sqNum restarts at 0 and the timestamp is refreshed. It returns the new
// frame. If fn fails the counters are left unchanged.
func (p *Publisher) Update(fn func(ds *DataSet) error) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pdu := p.frame.PDU()
	if fn != nil {
		if err := fn(pdu.DataSet()); err != nil {
			return nil, err
		}
	}

	pdu.SetStNum(int64(pdu.StNum()) + 1)
	pdu.SetSqNum(0)
	ts := pdu.T()
	ts.Millis = p.clock().UnixMilli()
	pdu.SetT(ts)

	data, err := p.codec.EncodeFrame(p.frame)
	if err != nil {
		return nil, err
	}
	p.codec.metrics.StateChanges.Inc()
	p.codec.logger.Info("state change",
		slog.String("gocb_ref", pdu.GocbRef()),
		slog.Uint64("st_num", uint64(pdu.StNum())),
	)
	return data, nil
}

// Retransmit advances sqNum for a repetition of the current state and
// returns the frame. sqNum wraps to 1 after its 32-bit maximum.
func (p *Publisher) Retransmit() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pdu := p.frame.PDU()
	next := int64(pdu.SqNum()) + 1
	if next > math.MaxUint32 {
		next = 1
	}
	pdu.SetSqNum(next)

	data, err := p.codec.EncodeFrame(p.frame)
	if err != nil {
		return nil, err
	}
	p.codec.metrics.Retransmissions.Inc()
	return data, nil
}

// Current returns the frame for the current state without touching counters
func (p *Publisher) Current() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.codec.EncodeFrame(p.frame)
}

// StNum returns the current status number
func (p *Publisher) StNum() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frame.PDU().StNum()
}

// SqNum returns the current sequence number
func (p *Publisher) SqNum() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frame.PDU().SqNum()
}

// Metrics returns the publisher's codec metrics
func (p *Publisher) Metrics() *Metrics {
	return p.codec.Metrics()
}
