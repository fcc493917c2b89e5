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

// Package audio implements the SAF16 audio stream transmit/receive
// state machine: reference-plane projection, underrun handling,
// sequence numbering, sparse timestamping, and receive validation with
// clock-domain feedback (spec §4.6).
package audio

import (
	"encoding/binary"
	"math"

	log "github.com/sirupsen/logrus"

	"github.com/avbsh/streamhandler/avberr"
	"github.com/avbsh/streamhandler/avbstream"
	"github.com/avbsh/streamhandler/avtp"
	"github.com/avbsh/streamhandler/buffer"
	"github.com/avbsh/streamhandler/clockdomain"
)

// CompatMode names the wire compatibility convention (spec §3
// "compatibility mode"). It is recorded on the stream only: transmit
// and receive use the same channel layout and stream_data_length in
// every mode.
type CompatMode int

const (
	CompatLatest CompatMode = iota
	CompatSAF
	CompatD6
)

// ValidationMode governs how aggressively a receive stream requires
// consecutive good packets before trusting the stream (spec §4.6).
type ValidationMode int

// ValidationOnce is the zero value and the documented default (spec
// §4.6 "sets validation mode (default once)").
const (
	ValidationOnce ValidationMode = iota
	ValidationNever
	ValidationAlways
)

const (
	defaultValidationThreshold = 100
	defaultMasterTimeoutNs     = 2_000_000_000
	dummyPacketRetryNs         = 10_000_000
	maxDumpIterations          = 10
	maxQueuedDummySamples      = 1000
)

// Stream is a SAF16 audio AVB stream, transmit or receive.
type Stream struct {
	avbstream.Base

	Compat         CompatMode
	Format         avtp.FormatCode
	SampleFreqCode avtp.SampleFreqCode
	Fs             float64
	Channels       uint8
	Sparse         bool

	SamplesPerChannelPerPacket uint32
	SampleIntervalNs           uint64

	// reference-plane state (spec §4.6 "Transmit scheduling")
	refPlaneSampleCount uint64
	refPlaneSampleTime  uint64 // ns

	masterCount     uint64
	masterTime      uint64
	lastMasterTime  uint64
	masterTimeoutNs uint64
	sampleDurationNs float64

	seqNum           uint8
	packetIndex      uint64
	dummySamplesSent uint64
	dumpIterations   int
	lastLaunchTimeNs uint64

	// receive-only state
	ValidationMode      ValidationMode
	ValidationThreshold int
	validationCount     int
	NumPacketsToSkip    int
	packetsSincePrev    int
	rxInitialized       bool
	lastUpdateTimestamp uint32
	tempBuf             []int16

	Ring     *buffer.Ring
	DescFIFO *buffer.DescFIFO

	// RxDomain is the receive-stream-derived clock domain this stream
	// feeds on receive (spec §4.3 "Receive-stream domain"); nil for
	// transmit streams and for receive streams that don't drive one.
	RxDomain *clockdomain.Rx

	bend *bendFilter
}

// TransmitConfig carries the parameters for TransmitInit.
type TransmitConfig struct {
	Format           avtp.FormatCode
	Fs               float64
	Channels         uint8
	Compat           CompatMode
	Sparse           bool
	PoolSize         int
	BendRatePPM      float64 // 0 disables bend feedback
	BendLimitPPM     float64
	BendFIFODepth    int
}

// validateFormat rejects anything but SAF16 at {48000, 24000} Hz
// (spec §4.6: "other combinations return UnsupportedFormat").
func validateFormat(format avtp.FormatCode, fs float64) error {
	if format != avtp.FormatSAF16 {
		return avberr.ErrUnsupportedFormat
	}
	if fs != 48000 && fs != 24000 {
		return avberr.ErrUnsupportedFormat
	}
	return nil
}

// TransmitInit validates parameters, computes the per-packet sample
// count, and builds the stream's packet pool (spec §4.6 "Transmit
// init").
func (s *Stream) TransmitInit(cfg TransmitConfig) error {
	if cfg.Channels == 0 || cfg.Fs <= 0 || s.Base.Domain == nil {
		return avberr.ErrInvalidParam
	}
	if err := validateFormat(cfg.Format, cfg.Fs); err != nil {
		return err
	}
	s.Format = cfg.Format
	s.Fs = cfg.Fs
	s.Channels = cfg.Channels
	s.Compat = cfg.Compat
	s.Sparse = cfg.Sparse
	s.SampleFreqCode = sampleFreqCode(cfg.Fs)
	s.masterTimeoutNs = defaultMasterTimeoutNs

	pps := s.Base.TSpec.PacketsPerSecond()
	if pps <= 0 {
		return avberr.ErrInvalidParam
	}
	s.SamplesPerChannelPerPacket = uint32(math.Ceil(cfg.Fs / pps))
	s.SampleIntervalNs = uint64(1e9 / cfg.Fs)

	pduSize := avtp.AudioHeaderLen + int(s.SamplesPerChannelPerPacket)*int(cfg.Channels)*2
	poolSize := cfg.PoolSize
	if poolSize == 0 {
		poolSize = 4
	}
	s.Base.Pool = avbstream.NewPacketPool(poolSize, pduSize)

	s.Base.AdjustPresentationTimeOffset(uint32(s.SampleIntervalNs))

	if cfg.BendRatePPM != 0 {
		depth := cfg.BendFIFODepth
		if depth == 0 {
			depth = 8
		}
		s.bend = newBendFilter(depth, cfg.BendRatePPM, cfg.BendLimitPPM)
	}
	return nil
}

// ReceiveConfig carries the parameters for ReceiveInit.
type ReceiveConfig struct {
	Format              avtp.FormatCode
	Fs                  float64
	Channels            uint8
	Compat              CompatMode
	ExcessSamples       uint32
	ValidationMode       ValidationMode
	ValidationThreshold int
	UpdateIntervalUs    uint64
}

func sampleFreqCode(fs float64) avtp.SampleFreqCode {
	if fs == 24000 {
		return avtp.SampleFreq24000
	}
	return avtp.SampleFreq48000
}

// ReceiveInit validates parameters, allocates the temporary conversion
// buffer, and sets validation defaults (spec §4.6 "Receive init").
func (s *Stream) ReceiveInit(cfg ReceiveConfig) error {
	if cfg.Channels == 0 || cfg.Fs <= 0 {
		return avberr.ErrInvalidParam
	}
	if err := validateFormat(cfg.Format, cfg.Fs); err != nil {
		return err
	}
	s.Format = cfg.Format
	s.Fs = cfg.Fs
	s.Channels = cfg.Channels
	s.Compat = cfg.Compat
	s.SampleFreqCode = sampleFreqCode(cfg.Fs)

	pps := s.Base.TSpec.PacketsPerSecond()
	if pps <= 0 {
		return avberr.ErrInvalidParam
	}
	s.SamplesPerChannelPerPacket = uint32(math.Ceil(cfg.Fs / pps))
	s.SampleIntervalNs = uint64(1e9 / cfg.Fs)

	s.tempBuf = make([]int16, (s.SamplesPerChannelPerPacket+cfg.ExcessSamples)*uint32(cfg.Channels))

	s.ValidationMode = cfg.ValidationMode
	s.ValidationThreshold = cfg.ValidationThreshold
	if s.ValidationThreshold == 0 {
		s.ValidationThreshold = defaultValidationThreshold
	}

	if cfg.UpdateIntervalUs > 0 && s.SampleIntervalNs > 0 {
		perPacketUs := s.SampleIntervalNs * uint64(s.SamplesPerChannelPerPacket) / 1000
		if perPacketUs > 0 {
			s.NumPacketsToSkip = int(cfg.UpdateIntervalUs / perPacketUs)
		}
	}
	if s.NumPacketsToSkip == 0 {
		s.NumPacketsToSkip = 1
	}

	s.Base.SetState(avbstream.StateNoData)
	return nil
}

// resetReferencePlane implements step 1 of the transmit algorithm
// (spec §4.6): rebase the reference plane from the clock domain's
// current event count/time, scaled to this stream's sample rate.
func (s *Stream) resetReferencePlane(launchTimeNs uint64) (dummy bool) {
	count, t := s.Base.Domain.GetEventCount()
	rate := s.Base.Domain.EventRate()
	if rate <= 0 {
		rate = s.Fs
	}
	scaledCount := uint64(float64(count) * s.Fs / rate)

	if t == 0 {
		return true
	}

	samplesToSkip := uint64(0)
	if launchTimeNs > t {
		samplesToSkip = (launchTimeNs - t + s.SampleIntervalNs - 1) / s.SampleIntervalNs
	}
	if s.refPlaneSampleTime > t {
		// previous reference plane is further ahead: take the larger skip
		prevSkip := (s.refPlaneSampleTime - t + s.SampleIntervalNs - 1) / s.SampleIntervalNs
		if prevSkip > samplesToSkip {
			samplesToSkip = prevSkip
		}
	}

	ratio := s.Base.Domain.GetRateRatio()
	s.masterCount = scaledCount
	s.masterTime = t
	s.refPlaneSampleCount = scaledCount + samplesToSkip
	s.refPlaneSampleTime = t + uint64(float64(samplesToSkip)*float64(s.SampleIntervalNs)*ratio)
	s.sampleDurationNs = float64(s.SampleIntervalNs) * ratio
	return false
}

// PrepareTransmitPacket builds the next outgoing audio PDU into pkt,
// returning the launch time to schedule it at (spec §4.6 "Transmit
// scheduling"). readFn supplies up to want samples per channel from
// the local ring; it returns the number of samples actually read.
func (s *Stream) PrepareTransmitPacket(pkt *avbstream.Packet, launchTimeNs uint64, readFn func(channel int, want int, out []int16) int) (nextLaunchTimeNs uint64, err error) {
	if s.refPlaneSampleTime == 0 && s.refPlaneSampleCount == 0 {
		if s.resetReferencePlane(launchTimeNs) {
			s.lastLaunchTimeNs = launchTimeNs + dummyPacketRetryNs
			return s.lastLaunchTimeNs, nil
		}
	}

	h := &avtp.AudioHeader{
		CommonHeader: avtp.CommonHeader{
			Subtype:     avtp.SubtypeAudio,
			StreamValid: true,
			StreamID:    uint64(s.Base.StreamID),
		},
		FormatCode:       s.Format,
		SampleFreqCode:   s.SampleFreqCode,
		ChannelsPerFrame: s.Channels,
		BitDepth:         16,
		Sparse:           s.Sparse,
	}

	presentationNs := s.refPlaneSampleTime + uint64(s.Base.PresentationTimeOffsetNs)
	h.Timestamp = uint32(presentationNs)

	tvSet := true
	if s.Sparse {
		tvSet = s.packetIndex%8 == 0
	}
	h.TimestampValid = tvSet
	h.SequenceNum = s.seqNum
	s.seqNum++

	h.TimestampUncertain = s.Base.Domain.GetLockState() != clockdomain.LockLocked

	written := 0
	samplesOut := make([]int16, s.SamplesPerChannelPerPacket)
	payload := pkt.Buf[avtp.AudioHeaderLen:]
	underrun := false
	for ch := 0; ch < int(s.Channels); ch++ {
		n := 0
		if readFn != nil {
			n = readFn(ch, int(s.SamplesPerChannelPerPacket), samplesOut)
		}
		if n < int(s.SamplesPerChannelPerPacket) {
			underrun = true
			for i := n; i < len(samplesOut); i++ {
				samplesOut[i] = 0
			}
		}
		for i, v := range samplesOut {
			off := (i*int(s.Channels) + ch) * 2
			binary.BigEndian.PutUint16(payload[off:off+2], uint16(v))
		}
		if n > written {
			written = n
		}
	}

	if underrun {
		s.Base.Diag.StreamInterrupted++
		s.dummySamplesSent += uint64(int(s.SamplesPerChannelPerPacket) - written)
		s.dumpIterations++
		if s.dumpIterations > maxDumpIterations || s.dummySamplesSent > maxQueuedDummySamples {
			log.WithField("stream_id", s.Base.StreamID).Warn("audio: forcing full reference-plane reset after sustained underrun")
			s.refPlaneSampleTime = 0
			s.refPlaneSampleCount = 0
			s.lastLaunchTimeNs = 0
			s.dumpIterations = 0
			s.dummySamplesSent = 0
		}
	} else {
		s.dumpIterations = 0
	}

	h.StreamDataLength = uint16(int(s.SamplesPerChannelPerPacket) * int(s.Channels) * 2)

	n, err := h.MarshalBinaryTo(pkt.Buf)
	if err != nil {
		return 0, err
	}
	_ = n

	s.updateMasterTime()

	s.refPlaneSampleCount += uint64(s.SamplesPerChannelPerPacket)
	if s.sampleDurationNs > 0 {
		s.refPlaneSampleTime = s.masterTime + uint64(s.sampleDurationNs*float64(s.refPlaneSampleCount-s.masterCount))
	}

	s.packetIndex++
	s.Base.Diag.FramesTx++
	s.lastLaunchTimeNs = launchTimeNs
	return launchTimeNs + s.SampleIntervalNs*uint64(s.SamplesPerChannelPerPacket), nil
}

// updateMasterTime refreshes the reference-plane anchor from the
// clock domain, forcing a reset when the master clock jumps more than
// masterTimeoutNs ahead or the event count goes non-monotonic (spec
// §4.6 step 7).
func (s *Stream) updateMasterTime() {
	count, t := s.Base.Domain.GetEventCount()
	rate := s.Base.Domain.EventRate()
	if rate <= 0 {
		rate = s.Fs
	}
	scaledCount := uint64(float64(count) * s.Fs / rate)

	if t < s.lastMasterTime || (t > s.masterTime+s.masterTimeoutNs) || scaledCount < s.masterCount {
		s.refPlaneSampleTime = 0
		s.refPlaneSampleCount = 0
		return
	}
	s.lastMasterTime = t
	s.masterCount = scaledCount
	s.masterTime = t
}

// ReceivePacket validates and dispatches an inbound audio AVTPDU,
// writing decoded samples via writeFn(channel, samples) (spec §4.6
// "Receive dispatch").
func (s *Stream) ReceivePacket(buf []byte, writeFn func(channel int, samples []int16)) error {
	h, _, err := avtp.UnmarshalAudioHeader(buf)
	if err != nil {
		s.Base.Diag.UnsupportedFormat++
		s.invalidate()
		return err
	}
	if h.Subtype != avtp.SubtypeAudio || h.FormatCode != s.Format || h.SampleFreqCode != s.SampleFreqCode {
		s.Base.Diag.UnsupportedFormat++
		s.invalidate()
		return avberr.ErrUnsupportedFormat
	}
	payloadLen := len(buf) - avtp.AudioHeaderLen
	if payloadLen < 0 || uint16(payloadLen) > h.StreamDataLength {
		s.Base.Diag.UnsupportedFormat++
		s.invalidate()
		return avberr.ErrInvalidParam
	}

	s.Base.Diag.FramesRx++
	if h.TimestampValid {
		s.Base.Diag.TimestampValid++
	} else {
		s.Base.Diag.TimestampNotValid++
	}
	if h.TimestampUncertain {
		s.Base.Diag.TimestampUncertain++
	}

	wasValid := s.Base.State() == avbstream.StateValid
	if wasValid {
		expected := s.seqNum
		if h.SequenceNum != expected {
			s.Base.Diag.SeqNumMismatch++
			s.invalidate()
		}
	}
	s.seqNum = h.SequenceNum + 1

	switch s.ValidationMode {
	case ValidationNever:
		s.Base.SetState(avbstream.StateValid)
	case ValidationOnce:
		if wasValid {
			break // once validated, only a failure that calls invalidate() drops the stream back out
		}
		s.validationCount++
		if s.validationCount >= s.ValidationThreshold {
			s.Base.SetState(avbstream.StateValid)
		} else {
			s.Base.SetState(avbstream.StateInvalidData)
		}
	default: // ValidationAlways
		s.validationCount++
		if s.validationCount >= s.ValidationThreshold {
			s.Base.SetState(avbstream.StateValid)
		} else if s.Base.State() != avbstream.StateValid {
			s.Base.SetState(avbstream.StateInvalidData)
		}
	}

	samplesPerChannel := payloadLen / (2 * int(s.Channels))
	if samplesPerChannel > int(s.SamplesPerChannelPerPacket) {
		samplesPerChannel = int(s.SamplesPerChannelPerPacket)
	}
	out := make([]int16, samplesPerChannel)
	payload := buf[avtp.AudioHeaderLen:]
	for ch := 0; ch < int(s.Channels); ch++ {
		for i := 0; i < samplesPerChannel; i++ {
			off := (i*int(s.Channels) + ch) * 2
			if off+2 > len(payload) {
				break
			}
			out[i] = int16(binary.BigEndian.Uint16(payload[off : off+2]))
		}
		if writeFn != nil {
			writeFn(ch, out)
		}
	}

	s.packetsSincePrev++
	if h.TimestampValid && s.packetsSincePrev >= s.NumPacketsToSkip {
		s.packetsSincePrev = 0
		if s.RxDomain != nil {
			if !s.rxInitialized {
				s.RxDomain.Reset(uint32(s.Base.TSpec.Class()), h.Timestamp, s.Fs)
				s.rxInitialized = true
				s.lastUpdateTimestamp = h.Timestamp
			} else {
				events := uint64(s.SamplesPerChannelPerPacket) * uint64(s.NumPacketsToSkip)
				// h.Timestamp is a 32-bit gPTP nanosecond field that wraps
				// every ~4.3s; uint32 subtraction tolerates that wrap the
				// same way sequence-number comparisons do.
				deltaWallClockNs := uint64(h.Timestamp - s.lastUpdateTimestamp)
				s.RxDomain.Update(events, h.Timestamp, events, deltaWallClockNs)
				s.lastUpdateTimestamp = h.Timestamp
			}
		}
	}

	if s.Base.Domain.GetLockState() == clockdomain.LockLocked {
		s.Base.Diag.MediaLocked++
	} else {
		s.Base.Diag.MediaUnlocked++
	}

	return nil
}

// invalidate drops the stream back to invalid-data, resets the
// consecutive-good-packet streak, and marks the receive clock domain
// as needing resync — any validation failure takes this path (spec
// §4.6: "any failure drops the stream back to invalid-data and resets
// the validation counter").
func (s *Stream) invalidate() {
	s.Base.SetState(avbstream.StateInvalidData)
	s.validationCount = 0
	if s.Base.Domain != nil {
		s.Base.Domain.SetResetRequest()
	}
	if s.RxDomain != nil {
		s.RxDomain.Invalidate()
	}
}

// Connect attaches a local ring buffer and descriptor FIFO, allowed
// only when channel counts and sample frequency match (spec §4.6
// "Connect / disconnect"). Direction is not checked.
func (s *Stream) Connect(ring *buffer.Ring, desc *buffer.DescFIFO, peerChannels uint8, peerFs float64) error {
	if peerChannels != s.Channels || peerFs != s.Fs {
		return avberr.ErrInvalidParam
	}
	s.Ring = ring
	s.DescFIFO = desc
	return nil
}

// NextTransmitDescriptor runs step 3 of the transmit algorithm (spec
// §4.6 "time-aware buffer interlock"): under the descriptor FIFO's
// lock, it discards every descriptor whose span has already fallen
// behind the current reference plane and snaps onto the oldest live
// one, reporting how many samples into it the reference plane has
// already consumed. ok is false when connected to no FIFO, or when
// the FIFO holds nothing reaching the reference plane yet.
func (s *Stream) NextTransmitDescriptor() (d buffer.Descriptor, sampleOffset int, ok bool) {
	if s.DescFIFO == nil {
		return buffer.Descriptor{}, 0, false
	}
	return s.DescFIFO.AdvanceTo(s.refPlaneSampleCount)
}

// Disconnect releases the local buffer, resetting bend-feedback state.
func (s *Stream) Disconnect() {
	s.Ring = nil
	s.DescFIFO = nil
	if s.bend != nil {
		s.bend.reset()
	}
}

// ReportFillLevel feeds a relative fill-level sample (in [-1,1])
// through the bend filter and, if configured, applies the result as
// drift compensation on the stream's clock domain (spec §4.6 "Fill-
// level bend").
func (s *Stream) ReportFillLevel(relative float64) {
	if s.bend == nil || s.Base.Domain == nil {
		return
	}
	ppm := s.bend.update(relative)
	_ = s.Base.Domain.SetDriftCompensation(ppm)
}
