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

// Package avtp implements the IEEE 1722 AVTP wire header layout for
// audio and CRF PDUs (spec §6). Marshal/unmarshal follows the
// teacher's ptp/protocol style: free functions rather than methods on
// an embeddable header type, explicit buffer-length checks, and
// encoding/binary.BigEndian throughout, so composed packet types never
// inherit an incomplete MarshalBinaryTo.
package avtp

import (
	"encoding/binary"

	"github.com/avbsh/streamhandler/avberr"
)

// EtherType is the 1722 AVTP EtherType.
const EtherType = 0x22F0

// Subtype identifies the AVTPDU payload kind.
type Subtype uint8

const (
	SubtypeAudio     Subtype = 0x02
	SubtypeCRFLatest Subtype = 0x04
	SubtypeCRFd6     Subtype = 0x05
)

// CommonHeaderLen is the length of the fields common to every AVTPDU
// before the subtype-specific payload: subtype(1) svVer(1) seq(1)
// reservedTu(1) streamID(8) timestamp(4) = 16 bytes.
const CommonHeaderLen = 16

// CommonHeader is the subtype-independent prefix of every AVTPDU.
type CommonHeader struct {
	Subtype        Subtype
	StreamValid    bool // sv bit
	Version        uint8
	SequenceNum    uint8
	TimestampValid bool // tv bit
	StreamID       uint64
	Timestamp      uint32 // ns, 32-bit wrapped presentation time
}

// unmarshalCommonHeader reads the first CommonHeaderLen bytes of b
// into h. A free function, not a method on CommonHeader, so composed
// packet types (AudioHeader, CRFHeader) don't inherit a
// half-applicable UnmarshalBinary.
func unmarshalCommonHeader(b []byte, h *CommonHeader) (int, error) {
	if len(b) < CommonHeaderLen {
		return 0, avberr.ErrInvalidParam
	}
	h.Subtype = Subtype(b[0])
	h.StreamValid = b[1]&0x80 != 0
	h.Version = (b[1] >> 4) & 0x7
	h.TimestampValid = b[1]&0x01 != 0
	h.SequenceNum = b[2]
	h.StreamID = binary.BigEndian.Uint64(b[4:12])
	h.Timestamp = binary.BigEndian.Uint32(b[12:16])
	return CommonHeaderLen, nil
}

// PeekStreamID reads the stream ID out of an AVTPDU's common header
// prefix without decoding the subtype-specific payload, so a
// dispatcher can route a packet to its owning stream before knowing
// which concrete header type applies.
func PeekStreamID(b []byte) (uint64, error) {
	if len(b) < CommonHeaderLen {
		return 0, avberr.ErrInvalidParam
	}
	return binary.BigEndian.Uint64(b[4:12]), nil
}

// commonHeaderMarshalBinaryTo writes h's CommonHeaderLen bytes into b.
func commonHeaderMarshalBinaryTo(h *CommonHeader, b []byte) (int, error) {
	if len(b) < CommonHeaderLen {
		return 0, avberr.ErrInvalidParam
	}
	b[0] = byte(h.Subtype)
	b[1] = (h.Version & 0x7) << 4
	if h.StreamValid {
		b[1] |= 0x80
	}
	if h.TimestampValid {
		b[1] |= 0x01
	}
	b[2] = h.SequenceNum
	b[3] = 0 // reserved/tu lives in the subtype-specific byte 3 for audio; CRF leaves it reserved
	binary.BigEndian.PutUint64(b[4:12], h.StreamID)
	binary.BigEndian.PutUint32(b[12:16], h.Timestamp)
	return CommonHeaderLen, nil
}
