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

package buffer

import (
	"sync"

	"github.com/avbsh/streamhandler/avberr"
)

// Ring is the plain sample storage backing a local audio stream: a
// fixed-size circular buffer of int16 samples (channel-interleaved by
// the tone source and engine that use it), written by
// the tone/application side and read by the AVTP transmit side (or the
// reverse on receive). It carries no timing information of its own;
// DescFIFO supplies the timestamp anchors.
type Ring struct {
	mu     sync.Mutex
	data   []int16
	head   uint64 // next write position, monotonic virtual index
	tail   uint64 // next read position, monotonic virtual index
	period uint64 // len(data) as uint64, cached
}

// NewRing constructs a Ring holding size int16 samples.
func NewRing(size int) *Ring {
	return &Ring{data: make([]int16, size), period: uint64(size)}
}

// Write copies samples into the ring starting at the current head,
// advancing head and returning the virtual bufIndex the caller should
// hand to DescFIFO.Enqueue for this run.
func (r *Ring) Write(samples []int16) (bufIndex uint64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if uint64(len(samples)) > r.period {
		return 0, avberr.ErrInvalidParam
	}
	start := r.head
	for i, s := range samples {
		r.data[(r.head+uint64(i))%r.period] = s
	}
	r.head += uint64(len(samples))
	return start, nil
}

// ReadAt copies count samples starting at virtual position bufIndex
// into out. Positions older than what the ring currently holds return
// ErrInvalidParam (the data has been overwritten).
func (r *Ring) ReadAt(bufIndex uint64, out []int16) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := uint64(len(out))
	if count > r.period {
		return avberr.ErrInvalidParam
	}
	if bufIndex+count > r.head || r.head-bufIndex > r.period {
		return avberr.ErrInvalidParam
	}
	for i := range out {
		out[i] = r.data[(bufIndex+uint64(i))%r.period]
	}
	return nil
}

// Period returns the ring's capacity in samples.
func (r *Ring) Period() uint64 {
	return r.period
}

// Head returns the current write position (virtual, never wraps).
func (r *Ring) Head() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.head
}
