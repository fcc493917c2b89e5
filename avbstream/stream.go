/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package avbstream implements the common AVB stream lifecycle shared
// by the audio and CRF stream types: direction, state, TSpec/StreamID
// ownership, packet pool, diagnostics counters, and the clock-domain
// back reference (spec §3 "AVB stream (base)", §4 "AVB stream base").
package avbstream

import (
	"net"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/avbsh/streamhandler/avberr"
	"github.com/avbsh/streamhandler/clockdomain"
	"github.com/avbsh/streamhandler/tspec"
)

// Direction is transmit or receive (spec §3).
type Direction int

const (
	DirectionTransmit Direction = iota
	DirectionReceive
)

// State is the stream's lifecycle state (spec §3).
type State int

const (
	StateInactive State = iota
	StateInvalidData
	StateNoData
	StateValid
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateInvalidData:
		return "invalid-data"
	case StateNoData:
		return "no-data"
	case StateValid:
		return "valid"
	default:
		return "unknown"
	}
}

// Diagnostics holds the per-stream counters (spec §3).
type Diagnostics struct {
	FramesRx           uint64
	FramesTx           uint64
	SeqNumMismatch     uint64
	LateTimestamp      uint64
	EarlyTimestamp     uint64
	TimestampValid     uint64
	TimestampNotValid  uint64
	TimestampUncertain uint64
	UnsupportedFormat  uint64
	MediaLocked        uint64
	MediaUnlocked      uint64
	MediaReset         uint64
	StreamInterrupted  uint64
}

// Packet is one reusable element of a stream's packet pool: a
// fixed-capacity byte buffer sized for this stream's 1722 PDU.
type Packet struct {
	Buf []byte
}

// PacketPool is the transmit-only pool of reusable Packets a stream
// owns exclusively (spec §3 "Ownership", §5 "packet pool is owned by
// its stream; packets returned to the pool ... reusable by any
// producer on the stream's sequencer").
type PacketPool struct {
	mu    sync.Mutex
	free  []*Packet
	pduSize int
}

// NewPacketPool constructs a pool of count packets, each pduSize bytes.
func NewPacketPool(count, pduSize int) *PacketPool {
	p := &PacketPool{pduSize: pduSize}
	for i := 0; i < count; i++ {
		p.free = append(p.free, &Packet{Buf: make([]byte, pduSize)})
	}
	return p
}

// Get removes a packet from the pool, or nil if exhausted.
func (p *PacketPool) Get() *Packet {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return nil
	}
	last := len(p.free) - 1
	pkt := p.free[last]
	p.free = p.free[:last]
	return pkt
}

// Put returns a packet to the pool for reuse.
func (p *PacketPool) Put(pkt *Packet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, pkt)
}

// PDUSize returns the fixed packet size this pool was built for.
func (p *PacketPool) PDUSize() int { return p.pduSize }

// Base is the common stream state embedded by audio and CRF streams.
// It is protected by its own mutex (spec §5: "writeToAvbPacket,
// readFromAvbPacket, and activationChanged are serialized by the
// stream's own mutex").
type Base struct {
	Mu sync.Mutex

	Direction Direction
	active    bool
	state     State

	TSpec    tspec.TSpec
	StreamID tspec.StreamID

	Pool *PacketPool // nil for receive streams

	Domain *clockdomain.Domain // non-owning back reference; may be nil until connected

	DstMAC, SrcMAC net.HardwareAddr
	VlanID         uint16
	VlanPriority   uint8

	// PresentationTimeOffsetNs may be adjusted to a multiple of the
	// sample interval during init (spec §3, IasAvbStream::
	// adjustPresentationTimeOffset).
	PresentationTimeOffsetNs uint32

	Diag Diagnostics
}

// Init populates the fields owned by every stream regardless of
// direction; callers run it before the variant's TransmitInit or
// ReceiveInit.
func (b *Base) Init(dir Direction, ts tspec.TSpec, id tspec.StreamID, domain *clockdomain.Domain) error {
	if ts.MaxIntervalFrames() == 0 {
		return avberr.ErrInvalidParam
	}
	b.Direction = dir
	b.TSpec = ts
	b.StreamID = id
	b.Domain = domain
	b.state = StateInactive
	b.PresentationTimeOffsetNs = ts.PresentationTimeOffsetNs()
	return nil
}

// AdjustPresentationTimeOffset rounds PresentationTimeOffsetNs up to
// the next multiple of stepWidth (0 is left unchanged), grounded on
// IasAvbStream::adjustPresentationTimeOffset: "(offset + step - 1) /
// step" integer round-up, never down, so the actual presentation time
// never moves earlier than configured.
func (b *Base) AdjustPresentationTimeOffset(stepWidth uint32) {
	if stepWidth == 0 {
		return
	}
	b.PresentationTimeOffsetNs = ((b.PresentationTimeOffsetNs + stepWidth - 1) / stepWidth) * stepWidth
}

// Active reports whether the stream is currently active.
func (b *Base) Active() bool {
	b.Mu.Lock()
	defer b.Mu.Unlock()
	return b.active
}

// SetActive transitions the stream's active flag, logging the
// transition the way the teacher's stream types log activation
// changes (activationChanged, spec §5).
func (b *Base) SetActive(active bool) {
	b.Mu.Lock()
	changed := b.active != active
	b.active = active
	if !active {
		b.state = StateInactive
	}
	b.Mu.Unlock()
	if changed {
		log.WithFields(log.Fields{
			"stream_id": b.StreamID,
			"active":    active,
		}).Info("avbstream: activation changed")
	}
}

// State returns the stream's current lifecycle state.
func (b *Base) State() State {
	b.Mu.Lock()
	defer b.Mu.Unlock()
	return b.state
}

// SetState transitions the stream's lifecycle state under lock.
func (b *Base) SetState(s State) {
	b.Mu.Lock()
	b.state = s
	b.Mu.Unlock()
}
