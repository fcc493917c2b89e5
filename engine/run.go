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

package engine

import (
	"context"
	"time"

	"github.com/google/gopacket/pcap"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/avbsh/streamhandler/audio"
	"github.com/avbsh/streamhandler/avbstream"
	"github.com/avbsh/streamhandler/buffer"
	"github.com/avbsh/streamhandler/crf"
	"github.com/avbsh/streamhandler/tonestream"
)

// Run starts packet I/O for every configured stream plus the link
// watcher, and blocks until ctx is canceled or any worker fails (spec
// §7 "one of the engine's goroutines finishing stops the engine").
func (e *Engine) Run(ctx context.Context) error {
	if err := e.StartLinkWatch(); err != nil {
		log.WithError(err).Warn("engine: starting link watcher failed, continuing without it")
	}
	defer e.Close()

	txHandle, err := e.openHandle()
	if err != nil {
		return err
	}
	defer txHandle.Close()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.ReceiveLoop(gctx)
	})

	for _, c := range e.controllers {
		c := c
		g.Go(func() error {
			return c.Run(gctx)
		})
	}

	for name, s := range e.audioStreams {
		if s.Base.Direction != avbstream.DirectionTransmit {
			continue
		}
		name, s := name, s
		g.Go(func() error {
			return e.transmitAudioLoop(gctx, txHandle, name, s)
		})
	}
	for name, s := range e.crfStreams {
		if s.Base.Direction != avbstream.DirectionTransmit {
			continue
		}
		name, s := name, s
		g.Go(func() error {
			return e.transmitCRFLoop(gctx, txHandle, name, s)
		})
	}

	return g.Wait()
}

// transmitAudioLoop feeds a test tone into the stream's local ring at
// its own packet cadence, then keeps preparing and sending AVTPDUs;
// production use replaces the generator with a real ALSA capture
// source wired the same way (spec Non-goals excludes an ALSA driver).
func (e *Engine) transmitAudioLoop(ctx context.Context, handle *pcap.Handle, name string, s *audio.Stream) error {
	gen, err := tonestream.NewGenerator(s.Fs, 1000, 8192, int(s.Channels))
	if err != nil {
		return err
	}

	interval := time.Duration(s.SampleIntervalNs) * time.Duration(s.SamplesPerChannelPerPacket)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	launch := uint64(time.Now().UnixNano())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if s.Ring != nil && s.DescFIFO != nil {
				if err := gen.FillPeriod(s.Ring, s.DescFIFO, uint64(now.UnixNano()), int(s.SamplesPerChannelPerPacket)); err != nil {
					log.WithError(err).WithField("stream", name).Warn("engine: tone generator write failed")
				}
			}

			pkt := s.Base.Pool.Get()
			if pkt == nil {
				log.WithField("stream", name).Warn("engine: audio packet pool exhausted, dropping cycle")
				continue
			}
			// One descriptor covers every channel's samples for this
			// period; PrepareTransmitPacket calls readFn once per
			// channel against the same ring position. The descriptor
			// is resolved under the FIFO's lock against the stream's
			// own reference plane rather than dequeued blind, so a
			// period that already fell behind gets discarded instead
			// of read from stale.
			var period *buffer.Descriptor
			sampleOffset := 0
			if d, off, ok := s.NextTransmitDescriptor(); ok {
				period = &d
				sampleOffset = off
			}
			next, err := s.PrepareTransmitPacket(pkt, launch, func(ch int, want int, out []int16) int {
				if period == nil || s.Ring == nil {
					return 0
				}
				got := make([]int16, want*int(s.Channels))
				if rerr := s.Ring.ReadAt(period.BufIndex+uint64(sampleOffset), got); rerr != nil {
					return 0
				}
				for i := 0; i < want; i++ {
					out[i] = got[i*int(s.Channels)+ch]
				}
				return want
			})
			if err != nil {
				log.WithError(err).WithField("stream", name).Debug("engine: audio transmit prepare failed")
				s.Base.Pool.Put(pkt)
				continue
			}
			launch = next

			data, ferr := frame(&s.Base, pkt.Buf)
			s.Base.Pool.Put(pkt)
			if ferr != nil {
				log.WithError(ferr).WithField("stream", name).Warn("engine: audio frame build failed")
				continue
			}
			if werr := handle.WritePacketData(data); werr != nil {
				log.WithError(werr).WithField("stream", name).Warn("engine: audio frame send failed")
				continue
			}
			e.metrics.packetsSent.Inc()
		}
	}
}

// transmitCRFLoop prepares and sends CRF PDUs at the stream's own
// cadence.
func (e *Engine) transmitCRFLoop(ctx context.Context, handle *pcap.Handle, name string, s *crf.Stream) error {
	interval := time.Duration(float64(s.TimestampsPerPDU) * float64(time.Second) / float64(s.BaseFrequency))
	if interval <= 0 {
		interval = 5 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			pkt := s.Base.Pool.Get()
			if pkt == nil {
				log.WithField("stream", name).Warn("engine: crf packet pool exhausted, dropping cycle")
				continue
			}
			_, err := s.PrepareTransmitPacket(pkt)
			if err != nil {
				log.WithError(err).WithField("stream", name).Debug("engine: crf transmit prepare failed")
				s.Base.Pool.Put(pkt)
				continue
			}

			data, ferr := frame(&s.Base, pkt.Buf)
			s.Base.Pool.Put(pkt)
			if ferr != nil {
				log.WithError(ferr).WithField("stream", name).Warn("engine: crf frame build failed")
				continue
			}
			if werr := handle.WritePacketData(data); werr != nil {
				log.WithError(werr).WithField("stream", name).Warn("engine: crf frame send failed")
				continue
			}
			e.metrics.packetsSent.Inc()
		}
	}
}
