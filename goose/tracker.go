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
	"math"
	"sort"
	"sync"
	"time"
)

// EventType classifies a received frame relative to its stream's history
type EventType int

const (
	EventFirst EventType = iota
	EventStateChange
	EventRetransmission
	EventDuplicate
	EventOutOfOrder
	EventConfRevChange
)

func (e EventType) String() string {
	switch e {
	case EventFirst:
		return "first"
	case EventStateChange:
		return "state-change"
	case EventRetransmission:
		return "retransmission"
	case EventDuplicate:
		return "duplicate"
	case EventOutOfOrder:
		return "out-of-order"
	case EventConfRevChange:
		return "confrev-change"
	default:
		return "unknown"
	}
}

// StreamKey identifies one publication: a source MAC and a control block
type StreamKey struct {
	Src     string
	GocbRef string
}

func (k StreamKey) String() string {
	return k.Src + " " + k.GocbRef
}

// Stream is the tracked state of one publication
type Stream struct {
	Key          StreamKey
	AppID        uint16
	GoID         string
	DatSet       string
	StNum        uint32
	SqNum        uint32
	ConfRev      uint32
	TTL          time.Duration
	FirstSeen    time.Time
	LastSeen     time.Time
	Frames       int64
	StateChanges int64
	Anomalies    int64
}

// Event describes how a frame advanced its stream
type Event struct {
	Type      EventType
	Key       StreamKey
	Time      time.Time
	StNum     uint32
	SqNum     uint32
	PrevStNum uint32
	PrevSqNum uint32
}

// Tracker supervises stNum/sqNum sequences per publication, the way a
// subscriber checks that it has not missed a state change
type Tracker struct {
	mu      sync.Mutex
	streams map[StreamKey]*Stream
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{streams: make(map[StreamKey]*Stream)}
}

func next32(v uint32) uint32 {
	if v == math.MaxUint32 {
		return 1
	}
	return v + 1
}

// Observe records a decoded GOOSE frame received at the given time
func (t *Tracker) Observe(f *Frame, at time.Time) (Event, error) {
	p := f.PDU()
	if p == nil {
		return Event{}, fmt.Errorf("%w: frame carries no GOOSE PDU", ErrIncompleteAPDU)
	}
	key := StreamKey{Src: f.Src().String(), GocbRef: p.GocbRef()}
	ev := Event{Key: key, Time: at, StNum: p.StNum(), SqNum: p.SqNum()}

	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.streams[key]
	if !ok {
		s = &Stream{Key: key, FirstSeen: at}
		t.streams[key] = s
		ev.Type = EventFirst
	} else {
		ev.PrevStNum, ev.PrevSqNum = s.StNum, s.SqNum
		switch {
		case p.ConfRev() != s.ConfRev:
			ev.Type = EventConfRevChange
		case p.StNum() == s.StNum && p.SqNum() == s.SqNum:
			ev.Type = EventDuplicate
		case p.StNum() == s.StNum && (p.SqNum() > s.SqNum || (s.SqNum == math.MaxUint32 && p.SqNum() == 1)):
			ev.Type = EventRetransmission
		case p.StNum() == next32(s.StNum) && p.SqNum() == 0:
			ev.Type = EventStateChange
		default:
			ev.Type = EventOutOfOrder
		}
	}

	switch ev.Type {
	case EventStateChange, EventConfRevChange:
		s.StateChanges++
	case EventOutOfOrder:
		s.Anomalies++
	}
	s.AppID = f.AppIDValue()
	s.GoID = p.GoID()
	s.DatSet = p.DatSet()
	s.StNum = p.StNum()
	s.SqNum = p.SqNum()
	s.ConfRev = p.ConfRev()
	s.TTL = time.Duration(p.TimeAllowedToLive()) * time.Millisecond
	s.LastSeen = at
	s.Frames++
	return ev, nil
}

// Expired returns the streams whose time-allowed-to-live has elapsed since
// their last frame
func (t *Tracker) Expired(now time.Time) []Stream {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Stream
	for _, s := range t.streams {
		if s.TTL > 0 && now.Sub(s.LastSeen) > s.TTL {
			out = append(out, *s)
		}
	}
	sortStreams(out)
	return out
}

// Streams returns a snapshot of every tracked stream
func (t *Tracker) Streams() []Stream {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Stream, 0, len(t.streams))
	for _, s := range t.streams {
		out = append(out, *s)
	}
	sortStreams(out)
	return out
}

func sortStreams(s []Stream) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Key.Src != s[j].Key.Src {
			return s[i].Key.Src < s[j].Key.Src
		}
		return s[i].Key.GocbRef < s[j].Key.GocbRef
	})
}
