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

// Package crf implements the clock-reference stream transmit/receive
// state machine: multi-timestamp PDUs, the media-clock-restart toggle,
// and the two wire compatibility modes (spec §4.7).
package crf

import (
	"time"

	"github.com/avbsh/streamhandler/avberr"
	"github.com/avbsh/streamhandler/avbstream"
	"github.com/avbsh/streamhandler/avtp"
	"github.com/avbsh/streamhandler/clockdomain"
)

const (
	minTogglePDUSpacing = 8 // toggles must be spaced >= 8 PDUs apart (spec P6)
)

// Stream is a clock-reference AVB stream, transmit or receive.
type Stream struct {
	avbstream.Base

	Mode             avtp.CRFCompatMode
	Type             avtp.CRSType
	BaseFrequency    uint32
	TimestampsPerPDU uint16
	TimestampIntervalEvents uint16

	RxDomain *clockdomain.Rx

	// reference-plane state, mirrors the audio stream (spec §4.7)
	refPlaneEventCount uint64
	refPlaneEventTime  uint64 // ns
	masterCount        uint64
	masterTime         uint64
	eventDurationNs    float64

	mrBit      uint8
	pdusSinceToggle int
	lastLockState   clockdomain.LockState

	// receive-only
	rxInitialized bool
	lastMRField   uint8
	holdoffNs     uint64
	lastUpdateNs  uint64

	lastLaunchTimeNs uint64
}

// TransmitConfig carries parameters for TransmitInit.
type TransmitConfig struct {
	Mode             avtp.CRFCompatMode
	BaseFrequency    uint32
	TimestampsPerPDU uint16
	PoolSize         int
}

// TransmitInit validates and builds the stream's packet pool. Only
// pull=flat is wire-supported for transmit (spec Non-goals).
func (s *Stream) TransmitInit(cfg TransmitConfig) error {
	if cfg.BaseFrequency == 0 || cfg.TimestampsPerPDU == 0 || s.Base.Domain == nil {
		return avberr.ErrInvalidParam
	}
	s.Mode = cfg.Mode
	s.Type = avtp.CRSTypeAudio
	s.BaseFrequency = cfg.BaseFrequency
	s.TimestampsPerPDU = cfg.TimestampsPerPDU
	s.TimestampIntervalEvents = 1
	s.lastLockState = clockdomain.LockInit
	s.pdusSinceToggle = minTogglePDUSpacing // the very first lock transition may toggle immediately

	h := &avtp.CRFHeader{Mode: cfg.Mode}
	pduSize := h.HeaderLen() + int(cfg.TimestampsPerPDU)*8
	poolSize := cfg.PoolSize
	if poolSize == 0 {
		poolSize = 4
	}
	s.Base.Pool = avbstream.NewPacketPool(poolSize, pduSize)
	return nil
}

// resetReferencePlane mirrors the audio stream's algorithm but with
// eventDuration = 1e9*rateRatio/baseFreq on first packet (spec §4.7).
func (s *Stream) resetReferencePlane() (dummy bool) {
	count, t := s.Base.Domain.GetEventCount()
	if t == 0 {
		return true
	}
	ratio := s.Base.Domain.GetRateRatio()
	s.masterCount = count
	s.masterTime = t
	s.refPlaneEventCount = count
	s.refPlaneEventTime = t
	s.eventDurationNs = 1e9 * ratio / float64(s.BaseFrequency)
	return false
}

// PrepareTransmitPacket builds the next CRF PDU into pkt, returning the
// launch time (equal to the first stamp, spec §4.7). While the clock
// domain has not yet reported a nonzero time, it returns a retry time
// 10ms out and leaves pkt untouched, mirroring the audio stream's
// dummy-packet path.
func (s *Stream) PrepareTransmitPacket(pkt *avbstream.Packet) (launchTimeNs uint64, err error) {
	if s.refPlaneEventTime == 0 && s.refPlaneEventCount == 0 {
		if s.resetReferencePlane() {
			s.lastLaunchTimeNs += 10_000_000
			return s.lastLaunchTimeNs, nil
		}
	}

	s.advanceMRBit()

	h := &avtp.CRFHeader{
		Mode:              s.Mode,
		MediaClockRestart: s.mrBit,
		Type:              s.Type,
		StreamID:          uint64(s.Base.StreamID),
		Pull:              0,
		BaseFrequency:     s.BaseFrequency,
		TimestampsPerPdu:  s.TimestampsPerPDU,
		TimestampInterval: s.TimestampIntervalEvents,
	}
	n, err := avtp.MarshalCRFHeaderTo(h, pkt.Buf)
	if err != nil {
		return 0, err
	}

	timestamps := make([]uint64, s.TimestampsPerPDU)
	for i := range timestamps {
		eventTime := s.refPlaneEventTime + uint64(i)*uint64(s.eventDurationNs*float64(s.TimestampIntervalEvents))
		timestamps[i] = eventTime + uint64(s.Base.PresentationTimeOffsetNs)
	}
	if _, err := avtp.PackTimestamps(pkt.Buf[n:], timestamps); err != nil {
		return 0, err
	}
	launchTimeNs = timestamps[0]
	s.lastLaunchTimeNs = launchTimeNs

	s.refPlaneEventCount += uint64(s.TimestampsPerPDU) * uint64(s.TimestampIntervalEvents)
	s.refPlaneEventTime += uint64(float64(s.TimestampsPerPDU) * float64(s.TimestampIntervalEvents) * s.eventDurationNs)

	s.Base.Diag.FramesTx++
	s.pdusSinceToggle++
	return launchTimeNs, nil
}

// advanceMRBit flips the media-clock-restart toggle exactly once per
// unlock->lock transition, spaced >= minTogglePDUSpacing PDUs apart
// (spec §4.7, P6).
func (s *Stream) advanceMRBit() {
	state := s.Base.Domain.GetLockState()
	transitioned := s.lastLockState != clockdomain.LockLocked && state == clockdomain.LockLocked
	s.lastLockState = state
	if transitioned && s.pdusSinceToggle >= minTogglePDUSpacing {
		s.mrBit ^= 0x1
		s.pdusSinceToggle = 0
	}
}

// ReceiveConfig carries parameters for ReceiveInit.
type ReceiveConfig struct {
	HoldoffMs uint64
}

// ReceiveInit sets receive-side defaults.
func (s *Stream) ReceiveInit(cfg ReceiveConfig) error {
	s.holdoffNs = cfg.HoldoffMs * uint64(time.Millisecond)
	s.Base.SetState(avbstream.StateNoData)
	return nil
}

// ReceivePacket validates and dispatches an inbound CRF PDU (spec
// §4.7 "Receive").
func (s *Stream) ReceivePacket(buf []byte) error {
	h, n, err := avtp.UnmarshalCRFHeader(buf)
	if err != nil {
		s.Base.Diag.UnsupportedFormat++
		return err
	}
	if h.Subtype() != avtp.SubtypeCRFLatest && h.Subtype() != avtp.SubtypeCRFd6 {
		s.Base.Diag.UnsupportedFormat++
		return avberr.ErrUnsupportedFormat
	}
	if h.Type != avtp.CRSTypeAudio || h.BaseFrequency == 0 || h.Pull != 0 {
		s.Base.Diag.UnsupportedFormat++
		return avberr.ErrUnsupportedFormat
	}
	payload := buf[n:]
	if len(payload)%8 != 0 {
		s.Base.Diag.UnsupportedFormat++
		return avberr.ErrInvalidParam
	}
	numStamps := len(payload) / 8
	timestamps, err := avtp.UnpackTimestamps(payload, numStamps)
	if err != nil {
		return err
	}

	s.Base.Diag.FramesRx++
	s.BaseFrequency = h.BaseFrequency
	s.TimestampsPerPDU = h.TimestampsPerPdu
	s.TimestampIntervalEvents = h.TimestampInterval

	resetNeeded := !s.rxInitialized || h.MediaClockRestart != s.lastMRField
	if s.RxDomain != nil && s.RxDomain.GetResetRequest() {
		resetNeeded = true
	}
	s.lastMRField = h.MediaClockRestart

	if len(timestamps) == 0 {
		return nil
	}
	last := timestamps[len(timestamps)-1]

	if s.RxDomain != nil {
		if resetNeeded {
			s.RxDomain.Reset(uint32(s.Base.TSpec.Class()), uint32(timestamps[0]), float64(h.BaseFrequency))
			s.rxInitialized = true
			s.lastUpdateNs = last
		} else if last > s.lastUpdateNs+s.holdoffNs {
			events := uint64(h.TimestampInterval) * uint64(numStamps)
			deltaWall := last - s.lastUpdateNs
			s.RxDomain.Update(events, uint32(last), events, deltaWall)
			s.lastUpdateNs = last
		}
	}
	s.Base.SetState(avbstream.StateValid)
	return nil
}
