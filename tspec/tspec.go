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

// Package tspec holds the per-class stream-reservation traffic
// specification tables and the 64-bit stream identifier value type.
package tspec

import (
	"encoding/binary"

	"github.com/avbsh/streamhandler/avberr"
)

// Class is the stream-reservation class.
type Class int

const (
	// ClassHigh is SR class A.
	ClassHigh Class = iota
	// ClassLow is SR class B.
	ClassLow
	numClasses
)

const (
	ethernetMinPayloadSize    = 42
	ethernetPerPacketOverhead = 42
	srpOverhead               = 1
)

// classTable holds the four per-class defaults, overridable from a
// configuration registry at startup via InitTables. Mirrors
// IasAvbTSpec's static mPrioTable/mIdTable/mClassMeasurementTimeTable/
// mPresentationTimeOffsetTable arrays.
type classTable struct {
	priority                 [numClasses]uint8
	vlanID                   [numClasses]uint16
	observationIntervalNs    [numClasses]uint32
	presentationTimeOffsetNs [numClasses]uint32
}

var defaultTable = classTable{
	priority: [numClasses]uint8{ClassHigh: 3, ClassLow: 2},
	vlanID:   [numClasses]uint16{ClassHigh: 2, ClassLow: 3},
	observationIntervalNs: [numClasses]uint32{
		ClassHigh: 125000,
		ClassLow:  250000,
	},
	presentationTimeOffsetNs: [numClasses]uint32{
		ClassHigh: 2000000 - 125000,
		ClassLow:  10000000 - 250000,
	},
}

// table is the live, possibly-overridden class table used by every
// TSpec constructed after the last call to InitTables.
var table = defaultTable

// Registry is the minimal subset of config.Registry that InitTables
// needs; satisfied by *config.Registry.
type Registry interface {
	GetUint64(key string, def uint64) uint64
}

// InitTables reloads the class table from a configuration registry,
// the way IasAvbTSpec::initTables pulls tspec.* keys at startup. Class
// tables are otherwise immutable for the lifetime of the process.
func InitTables(reg Registry) {
	t := defaultTable
	t.vlanID[ClassHigh] = uint16(reg.GetUint64("tspec.vlanid.high", uint64(t.vlanID[ClassHigh])))
	t.vlanID[ClassLow] = uint16(reg.GetUint64("tspec.vlanid.low", uint64(t.vlanID[ClassLow])))
	t.priority[ClassHigh] = uint8(reg.GetUint64("tspec.vlanprio.high", uint64(t.priority[ClassHigh])))
	t.priority[ClassLow] = uint8(reg.GetUint64("tspec.vlanprio.low", uint64(t.priority[ClassLow])))
	t.presentationTimeOffsetNs[ClassHigh] = uint32(reg.GetUint64("tspec.presenttime.high", uint64(t.presentationTimeOffsetNs[ClassHigh])))
	t.presentationTimeOffsetNs[ClassLow] = uint32(reg.GetUint64("tspec.presenttime.low", uint64(t.presentationTimeOffsetNs[ClassLow])))
	t.observationIntervalNs[ClassHigh] = uint32(reg.GetUint64("tspec.interval.high", uint64(t.observationIntervalNs[ClassHigh])))
	t.observationIntervalNs[ClassLow] = uint32(reg.GetUint64("tspec.interval.low", uint64(t.observationIntervalNs[ClassLow])))
	table = t
}

// ResetTables restores the compiled-in defaults; exported for tests
// that call InitTables and need a clean slate afterwards.
func ResetTables() {
	table = defaultTable
}

// TSpec is an immutable per-stream traffic specification.
type TSpec struct {
	class             Class
	maxFrameSize      uint16
	maxIntervalFrames uint16
}

// New validates and constructs a TSpec. maxIntervalFrames must be >= 1.
func New(class Class, maxFrameSize, maxIntervalFrames uint16) (TSpec, error) {
	if class != ClassHigh && class != ClassLow {
		return TSpec{}, avberr.ErrInvalidParam
	}
	if maxIntervalFrames == 0 {
		return TSpec{}, avberr.ErrInvalidParam
	}
	return TSpec{class: class, maxFrameSize: maxFrameSize, maxIntervalFrames: maxIntervalFrames}, nil
}

// Class returns the stream-reservation class.
func (t TSpec) Class() Class { return t.class }

// MaxFrameSize returns the configured maximum frame size in bytes.
func (t TSpec) MaxFrameSize() uint16 { return t.maxFrameSize }

// MaxIntervalFrames returns the configured maximum frames per observation interval.
func (t TSpec) MaxIntervalFrames() uint16 { return t.maxIntervalFrames }

// VlanPriority returns the class's VLAN priority code point.
func (t TSpec) VlanPriority() uint8 { return table.priority[t.class] }

// VlanID returns the class's VLAN id.
func (t TSpec) VlanID() uint16 { return table.vlanID[t.class] }

// ObservationIntervalNs returns the class observation interval in ns.
func (t TSpec) ObservationIntervalNs() uint32 { return table.observationIntervalNs[t.class] }

// PresentationTimeOffsetNs returns the class presentation-time offset in ns.
func (t TSpec) PresentationTimeOffsetNs() uint32 { return table.presentationTimeOffsetNs[t.class] }

// PacketsPerSecond returns 1e9 / observation_interval[class], or 0 if
// the interval is 0.
func (t TSpec) PacketsPerSecond() float64 {
	iv := table.observationIntervalNs[t.class]
	if iv == 0 {
		return 0
	}
	return 1e9 / float64(iv)
}

// RequiredBandwidthKbps computes (max(maxFrameSize,42)+42+1) * pps * 8 / 1000,
// verified against spec scenarios S1/S8 (5824 kbit/s and 5440 kbit/s).
func (t TSpec) RequiredBandwidthKbps() float64 {
	frame := float64(t.maxFrameSize)
	if frame < ethernetMinPayloadSize {
		frame = ethernetMinPayloadSize
	}
	perPacket := frame + ethernetPerPacketOverhead + srpOverhead
	return perPacket * t.PacketsPerSecond() * 8 / 1000
}

// StreamID is a 64-bit stream identifier, network-order-convertible and
// suitable as a map key (spec "Stream identifier").
type StreamID uint64

// StreamIDFromBytes decodes an 8-byte big-endian buffer into a StreamID.
func StreamIDFromBytes(b []byte) (StreamID, error) {
	if len(b) < 8 {
		return 0, avberr.ErrInvalidParam
	}
	return StreamID(binary.BigEndian.Uint64(b)), nil
}

// Bytes encodes the StreamID as an 8-byte big-endian buffer.
func (s StreamID) Bytes() [8]byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(s))
	return b
}
