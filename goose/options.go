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
	"log/slog"
	"net"
	"time"
)

// codecOptions holds configuration for a Codec and the Publishers built on it
type codecOptions struct {
	// APDU limits
	maxAPDULength int

	// Source MAC filter applied by Codec.Accepts
	subscriptions []net.HardwareAddr

	// Publisher clock
	clock func() time.Time

	// Metrics
	metrics *Metrics

	// Logging
	logger *slog.Logger
}

// defaultOptions returns the default codec options
func defaultOptions() *codecOptions {
	return &codecOptions{
		maxAPDULength: MaxAPDULength,
		clock:         time.Now,
		logger:        slog.Default(),
	}
}

// Option is a functional option for configuring a Codec or Publisher
type Option func(*codecOptions)

// WithMaxAPDULength lowers the largest APDU accepted for encode and decode.
// Values outside 1..MaxAPDULength are ignored.
func WithMaxAPDULength(length int) Option {
	return func(o *codecOptions) {
		if length > 0 && length <= MaxAPDULength {
			o.maxAPDULength = length
		}
	}
}

// WithSubscriptions restricts Accepts to frames from the given source MACs
func WithSubscriptions(macs ...net.HardwareAddr) Option {
	return func(o *codecOptions) {
		o.subscriptions = append(o.subscriptions, macs...)
	}
}

// WithClock sets the clock used to timestamp state changes
func WithClock(now func() time.Time) Option {
	return func(o *codecOptions) {
		if now != nil {
			o.clock = now
		}
	}
}

// WithMetrics shares a Metrics instance instead of allocating one
func WithMetrics(m *Metrics) Option {
	return func(o *codecOptions) {
		o.metrics = m
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *codecOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
