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

package avtp

import (
	"encoding/binary"

	"github.com/avbsh/streamhandler/avberr"
)

// CRSType identifies the CRF timestamp source; audio is the only
// wire-supported transmit type (spec §4.5/§4.7).
type CRSType uint8

const CRSTypeAudio CRSType = 0x00

// CRFCompatMode selects the wire layout (spec §4.7).
type CRFCompatMode int

const (
	CRFModeLatest CRFCompatMode = iota // subtype 0x04, 20-byte header, 0-byte payload header
	CRFModeD6                          // subtype 0x05, 24-byte header, 4-byte payload header
)

// CRFHeaderLenLatest/CRFHeaderLenD6 are the total header lengths
// (CRF-specific layout, distinct from CommonHeader/AudioHeader).
const (
	CRFHeaderLenLatest = 20
	CRFHeaderLenD6     = 24
	crfPayloadHeaderD6 = 4
)

// CRFHeader is the full wire header for a CRF AVTPDU.
type CRFHeader struct {
	Mode             CRFCompatMode
	MediaClockRestart uint8 // the 2-bit "mr" toggle field
	Type             CRSType
	StreamID         uint64
	Pull             uint8 // 3-bit pull field; only "flat" (0) is wire-supported for transmit
	BaseFrequency    uint32 // 29 bits
	TimestampsPerPdu uint16
	TimestampInterval uint16
}

// HeaderLen returns the total header length for h.Mode, including the
// d6 payload header where applicable.
func (h *CRFHeader) HeaderLen() int {
	if h.Mode == CRFModeD6 {
		return CRFHeaderLenD6
	}
	return CRFHeaderLenLatest
}

// Subtype returns the AVTP subtype byte for h.Mode.
func (h *CRFHeader) Subtype() Subtype {
	if h.Mode == CRFModeD6 {
		return SubtypeCRFd6
	}
	return SubtypeCRFLatest
}

// crfHeaderMarshalBinaryTo writes h into b; a free function, matching
// the audio/common header convention, so CRFHeader never inherits a
// half-applicable MarshalBinaryTo from an embedded type it doesn't
// actually embed (CRF's layout diverges from CommonHeader enough that
// it is its own independent encoding).
func crfHeaderMarshalBinaryTo(h *CRFHeader, b []byte) (int, error) {
	need := h.HeaderLen()
	if len(b) < need {
		return 0, avberr.ErrInvalidParam
	}
	b[0] = byte(h.Subtype())
	b[1] = (h.MediaClockRestart & 0x3) << 4
	b[2] = 0 // sequence number is written by the stream per-packet
	b[3] = byte(h.Type)
	binary.BigEndian.PutUint64(b[4:12], h.StreamID)
	pullAndFreq := (uint32(h.Pull&0x7) << 29) | (h.BaseFrequency & 0x1FFFFFFF)
	binary.BigEndian.PutUint32(b[12:16], pullAndFreq)
	binary.BigEndian.PutUint16(b[16:18], h.TimestampsPerPdu*8) // crf_data_length in bytes
	binary.BigEndian.PutUint16(b[18:20], h.TimestampInterval)
	if h.Mode == CRFModeD6 {
		for i := 20; i < 24; i++ {
			b[i] = 0
		}
	}
	return need, nil
}

// unmarshalCRFHeader parses b (given the already-known subtype) into h.
func unmarshalCRFHeader(b []byte, subtype Subtype) (*CRFHeader, int, error) {
	mode := CRFModeLatest
	need := CRFHeaderLenLatest
	if subtype == SubtypeCRFd6 {
		mode = CRFModeD6
		need = CRFHeaderLenD6
	}
	if len(b) < need {
		return nil, 0, avberr.ErrInvalidParam
	}
	h := &CRFHeader{Mode: mode}
	h.MediaClockRestart = (b[1] >> 4) & 0x3
	h.Type = CRSType(b[3])
	h.StreamID = binary.BigEndian.Uint64(b[4:12])
	pullAndFreq := binary.BigEndian.Uint32(b[12:16])
	h.Pull = uint8(pullAndFreq >> 29)
	h.BaseFrequency = pullAndFreq & 0x1FFFFFFF
	crfDataLength := binary.BigEndian.Uint16(b[16:18])
	h.TimestampsPerPdu = crfDataLength / 8
	h.TimestampInterval = binary.BigEndian.Uint16(b[18:20])
	return h, need, nil
}

// SetSequenceNumber writes the AVTP sequence number byte into an
// already-marshaled CRF header buffer.
func SetSequenceNumber(b []byte, seq uint8) {
	if len(b) > 2 {
		b[2] = seq
	}
}

// MarshalCRFHeaderTo is the exported entry point used by package crf.
func MarshalCRFHeaderTo(h *CRFHeader, b []byte) (int, error) {
	return crfHeaderMarshalBinaryTo(h, b)
}

// UnmarshalCRFHeader is the exported entry point used by package crf.
func UnmarshalCRFHeader(b []byte) (*CRFHeader, int, error) {
	if len(b) < 1 {
		return nil, 0, avberr.ErrInvalidParam
	}
	return unmarshalCRFHeader(b, Subtype(b[0]))
}

// PackTimestamps writes n big-endian 64-bit PTP timestamps into b.
func PackTimestamps(b []byte, timestamps []uint64) (int, error) {
	need := len(timestamps) * 8
	if len(b) < need {
		return 0, avberr.ErrInvalidParam
	}
	for i, ts := range timestamps {
		binary.BigEndian.PutUint64(b[i*8:i*8+8], ts)
	}
	return need, nil
}

// UnpackTimestamps reads n big-endian 64-bit PTP timestamps from b.
func UnpackTimestamps(b []byte, n int) ([]uint64, error) {
	if len(b) < n*8 {
		return nil, avberr.ErrInvalidParam
	}
	out := make([]uint64, n)
	for i := range out {
		out[i] = binary.BigEndian.Uint64(b[i*8 : i*8+8])
	}
	return out, nil
}
