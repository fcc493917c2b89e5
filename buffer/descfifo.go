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

// Package buffer implements the local audio buffer (a plain sample
// ring) and its bounded timestamp-descriptor FIFO, grounded on
// IasLocalAudioBufferDesc (spec §4.8).
package buffer

import (
	"sync"

	"github.com/avbsh/streamhandler/avberr"
)

// Descriptor anchors a run of samples to PTP time (spec "Local-audio
// buffer descriptor FIFO"): {timestamp, bufIndex, sampleCount}.
type Descriptor struct {
	TimestampNs uint64 // PTP ns
	BufIndex    uint64 // virtual ring position
	SampleCount uint32
}

// DescFIFO is a bounded ring of Descriptors with enqueue-at-head,
// dequeue-from-tail, and peek-from-tail semantics, behind a
// non-re-entrant sync.Mutex (the original uses a recursive_mutex; see
// Lock).
type DescFIFO struct {
	mu sync.Mutex

	q            []Descriptor // q[0] is the most recently enqueued (head); back is oldest
	maxSize      int
	resetRequest bool
}

// NewDescFIFO constructs a FIFO bounded to maxSize entries.
func NewDescFIFO(maxSize int) *DescFIFO {
	return &DescFIFO{maxSize: maxSize}
}

// Lock acquires the FIFO's critical section (the original guards its
// FIFO with a recursive_mutex; Go's sync.Mutex has no re-entrant
// variant, so callers here simply never nest Lock/Unlock pairs).
func (f *DescFIFO) Lock() {
	f.mu.Lock()
}

// Unlock releases the critical section acquired by Lock.
func (f *DescFIFO) Unlock() {
	f.mu.Unlock()
}

// Enqueue inserts desc at the head; if the FIFO is at capacity the
// tail (oldest) entry is evicted first (spec §4.8).
func (f *DescFIFO) Enqueue(desc Descriptor) {
	f.Lock()
	defer f.Unlock()
	if len(f.q) >= f.maxSize {
		f.q = f.q[:len(f.q)-1] // drop tail
	}
	f.q = append([]Descriptor{desc}, f.q...)
}

// Dequeue removes and returns the tail (oldest) entry.
func (f *DescFIFO) Dequeue() (Descriptor, error) {
	f.Lock()
	defer f.Unlock()
	if len(f.q) == 0 {
		return Descriptor{}, avberr.ErrInvalidParam
	}
	last := len(f.q) - 1
	d := f.q[last]
	f.q = f.q[:last]
	return d, nil
}

// PeekX returns a copy of the element offset positions newer than the
// tail (oldest) without removing it; offset 0 is the oldest live
// element (spec S4).
func (f *DescFIFO) PeekX(offset uint32) (Descriptor, error) {
	f.Lock()
	defer f.Unlock()
	size := len(f.q)
	if int(offset) >= size {
		return Descriptor{}, avberr.ErrInvalidParam
	}
	return f.q[(size-1)-int(offset)], nil
}

// Len returns the current number of queued descriptors.
func (f *DescFIFO) Len() int {
	f.Lock()
	defer f.Unlock()
	return len(f.q)
}

// Reset clears the FIFO and raises the reset-request flag.
func (f *DescFIFO) Reset() {
	f.Lock()
	defer f.Unlock()
	f.q = nil
	f.resetRequest = true
}

// AdvanceTo implements the FIFO side of the transmit algorithm's step
// 3 (spec §4.6 "time-aware buffer interlock"): under one held lock, it
// discards every descriptor whose span has already fallen entirely
// behind refPlaneSampleCount, then reports the oldest live descriptor
// together with the sample offset into it the reference plane has
// already consumed. ok is false if the FIFO is empty or the reference
// plane hasn't yet reached the oldest live descriptor.
func (f *DescFIFO) AdvanceTo(refPlaneSampleCount uint64) (d Descriptor, sampleOffset int, ok bool) {
	f.Lock()
	defer f.Unlock()
	for len(f.q) > 0 {
		tail := f.q[len(f.q)-1]
		end := tail.BufIndex + uint64(tail.SampleCount)
		if end <= refPlaneSampleCount {
			f.q = f.q[:len(f.q)-1] // fully behind the reference plane
			continue
		}
		if refPlaneSampleCount < tail.BufIndex {
			return Descriptor{}, 0, false
		}
		return tail, int(refPlaneSampleCount - tail.BufIndex), true
	}
	return Descriptor{}, 0, false
}

// GetResetRequest reads and clears the one-shot reset-request flag.
func (f *DescFIFO) GetResetRequest() bool {
	f.Lock()
	defer f.Unlock()
	r := f.resetRequest
	f.resetRequest = false
	return r
}
