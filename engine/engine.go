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

// Package engine wires the clock-domain framework, the AVB stream
// state machines, and the wire transport together into a running
// daemon: one Engine owns every clock domain and stream named in a
// config.EngineConfig topology, and drives their packet I/O over a
// single NIC (spec §7 "Engine / orchestration").
package engine

import (
	"fmt"
	"net"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/avbsh/streamhandler/audio"
	"github.com/avbsh/streamhandler/avberr"
	"github.com/avbsh/streamhandler/avbstream"
	"github.com/avbsh/streamhandler/avtp"
	"github.com/avbsh/streamhandler/buffer"
	"github.com/avbsh/streamhandler/clockdomain"
	"github.com/avbsh/streamhandler/clockdomain/controller"
	"github.com/avbsh/streamhandler/config"
	"github.com/avbsh/streamhandler/crf"
	"github.com/avbsh/streamhandler/netlink"
	"github.com/avbsh/streamhandler/pll"
	"github.com/avbsh/streamhandler/ptpproxy"
	"github.com/avbsh/streamhandler/tspec"
)

// namedDomain pairs a clock domain's registry name with the concrete
// variant handle needed to drive it (Rx domains need Reset/Update
// calls a generic *clockdomain.Domain can't make).
type namedDomain struct {
	domain *clockdomain.Domain
	rx     *clockdomain.Rx
}

// Engine owns every clock domain and stream built from one topology
// document and the packet transport that serves them.
type Engine struct {
	Interface string
	srcMAC    net.HardwareAddr

	proxy *ptpproxy.Proxy

	domains     map[string]namedDomain
	controllers []*controller.Controller

	audioStreams map[string]*audio.Stream
	crfStreams   map[string]*crf.Stream

	link    *netlink.Watcher
	metrics *Metrics
}

// New builds an Engine from a decoded topology document and registry,
// constructing every clock domain and stream but not yet starting
// packet I/O (spec §7: construction and transport start are separate
// so a caller can inspect stream state before going live).
func New(cfg *config.EngineConfig, reg *config.Registry, proxy *ptpproxy.Proxy) (*Engine, error) {
	if cfg.Interface == "" {
		return nil, fmt.Errorf("%w: no interface configured", avberr.ErrInvalidParam)
	}
	iface, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", avberr.ErrInitializationFailed, err)
	}

	e := &Engine{
		Interface:    cfg.Interface,
		srcMAC:       iface.HardwareAddr,
		proxy:        proxy,
		domains:      map[string]namedDomain{},
		audioStreams: map[string]*audio.Stream{},
		crfStreams:   map[string]*crf.Stream{},
		metrics:      newMetrics(),
	}

	tspec.InitTables(reg)

	for _, dc := range cfg.ClockDomains {
		if err := e.addDomain(dc); err != nil {
			return nil, fmt.Errorf("clock domain %q: %w", dc.Name, err)
		}
	}
	for _, dc := range cfg.ClockDomains {
		if dc.Master == "" {
			continue
		}
		if err := e.addController(dc); err != nil {
			return nil, fmt.Errorf("clock domain %q controller: %w", dc.Name, err)
		}
	}
	for _, sc := range cfg.Streams {
		if err := e.addStream(sc, reg); err != nil {
			return nil, fmt.Errorf("stream %q: %w", sc.Name, err)
		}
	}

	return e, nil
}

func (e *Engine) addDomain(dc config.ClockDomainConfig) error {
	switch strings.ToLower(dc.Type) {
	case "ptp":
		e.domains[dc.Name] = namedDomain{domain: clockdomain.NewPTP(dc.ID, e.proxy).Domain}
	case "raw":
		e.domains[dc.Name] = namedDomain{domain: clockdomain.NewRaw(dc.ID, e.proxy).Domain}
	case "sw":
		sw := clockdomain.NewSW(dc.ID, clockdomain.DefaultSWConfig(48000))
		e.domains[dc.Name] = namedDomain{domain: sw.Domain}
	case "alsa":
		a := clockdomain.NewALSA(dc.ID, e.proxy, 0)
		e.domains[dc.Name] = namedDomain{domain: a.Domain}
	case "rx":
		rx := clockdomain.NewRx(dc.ID, clockdomain.DefaultRxConfig(), 48000, e.proxy.GetPtpTime, e.proxy.GetEpochCounter)
		e.domains[dc.Name] = namedDomain{domain: rx.Domain, rx: rx}
	default:
		return fmt.Errorf("%w: unknown clock domain type %q", avberr.ErrInvalidParam, dc.Type)
	}
	return nil
}

// addController binds dc's domain as a slave to its named master
// domain, steering the slave's local PLL to track the master (spec
// §4.4). The default Linux PLL driver is used for every controller;
// a deployment with per-domain hardware would select drivers by name
// via pll.LoadByName instead.
func (e *Engine) addController(dc config.ClockDomainConfig) error {
	slave, ok := e.domains[dc.Name]
	if !ok {
		return fmt.Errorf("%w: clock domain %q not defined", avberr.ErrInvalidParam, dc.Name)
	}
	master, ok := e.domains[dc.Master]
	if !ok {
		return fmt.Errorf("%w: master clock domain %q not defined", avberr.ErrInvalidParam, dc.Master)
	}

	driver := pll.NewLinuxPLL()
	if err := driver.Init(pll.Environment{ClockID: int32(dc.ID)}); err != nil {
		return err
	}

	c, err := controller.New(controller.DefaultConfig(), master.domain, slave.domain, driver)
	if err != nil {
		return err
	}
	e.controllers = append(e.controllers, c)
	return nil
}

func classFromString(s string) (tspec.Class, error) {
	switch strings.ToLower(s) {
	case "high", "a", "":
		return tspec.ClassHigh, nil
	case "low", "b":
		return tspec.ClassLow, nil
	default:
		return 0, fmt.Errorf("%w: unknown SR class %q", avberr.ErrInvalidParam, s)
	}
}

func directionFromString(s string) (avbstream.Direction, error) {
	switch strings.ToLower(s) {
	case "transmit", "tx":
		return avbstream.DirectionTransmit, nil
	case "receive", "rx":
		return avbstream.DirectionReceive, nil
	default:
		return 0, fmt.Errorf("%w: unknown direction %q", avberr.ErrInvalidParam, s)
	}
}

const (
	defaultMaxFrameSize      = 1500
	defaultMaxIntervalFrames = 1
)

func (e *Engine) addStream(sc config.StreamConfig, reg *config.Registry) error {
	class, err := classFromString(sc.Class)
	if err != nil {
		return err
	}
	dir, err := directionFromString(sc.Direction)
	if err != nil {
		return err
	}
	nd, ok := e.domains[sc.ClockDomain]
	if !ok {
		return fmt.Errorf("%w: clock domain %q not defined", avberr.ErrInvalidParam, sc.ClockDomain)
	}

	ts, err := tspec.New(class, defaultMaxFrameSize, defaultMaxIntervalFrames)
	if err != nil {
		return err
	}

	var dst net.HardwareAddr
	if sc.DstMAC != "" {
		dst, err = net.ParseMAC(sc.DstMAC)
		if err != nil {
			return fmt.Errorf("%w: dst_mac %q: %v", avberr.ErrInvalidParam, sc.DstMAC, err)
		}
	}

	switch strings.ToLower(sc.Kind) {
	case "audio":
		s := &audio.Stream{}
		if err := s.Base.Init(dir, ts, tspec.StreamID(sc.StreamID), nd.domain); err != nil {
			return err
		}
		s.Base.DstMAC = dst
		s.Base.SrcMAC = e.srcMAC
		s.RxDomain = nd.rx

		fs := float64(sc.SampleRate)
		if fs == 0 {
			fs = 48000
		}
		if dir == avbstream.DirectionTransmit {
			if err := s.TransmitInit(audio.TransmitConfig{
				Format:   avtp.FormatSAF16,
				Fs:       fs,
				Channels: sc.Channels,
				Sparse:   true,
			}); err != nil {
				return err
			}
			periods := reg.GetUint64("audio.ring.period.count", 4)
			ring := buffer.NewRing(int(periods) * int(s.SamplesPerChannelPerPacket) * int(s.Channels))
			desc := buffer.NewDescFIFO(8)
			if err := s.Connect(ring, desc, sc.Channels, fs); err != nil {
				return err
			}
		} else {
			if err := s.ReceiveInit(audio.ReceiveConfig{
				Format:           avtp.FormatSAF16,
				Fs:               fs,
				Channels:         sc.Channels,
				ValidationMode:   audio.ValidationOnce,
				UpdateIntervalUs: reg.GetUint64("audio.clock.rx.updateinterval.us", 20000),
			}); err != nil {
				return err
			}
		}
		e.audioStreams[sc.Name] = s

	case "crf":
		s := &crf.Stream{}
		if err := s.Base.Init(dir, ts, tspec.StreamID(sc.StreamID), nd.domain); err != nil {
			return err
		}
		s.Base.DstMAC = dst
		s.Base.SrcMAC = e.srcMAC
		s.RxDomain = nd.rx

		baseFreq := sc.SampleRate
		if baseFreq == 0 {
			baseFreq = 48000
		}
		if dir == avbstream.DirectionTransmit {
			if err := s.TransmitInit(crf.TransmitConfig{
				BaseFrequency:    baseFreq,
				TimestampsPerPDU: 6,
			}); err != nil {
				return err
			}
		} else {
			if err := s.ReceiveInit(crf.ReceiveConfig{HoldoffMs: 100}); err != nil {
				return err
			}
		}
		e.crfStreams[sc.Name] = s

	default:
		return fmt.Errorf("%w: unknown stream kind %q", avberr.ErrInvalidParam, sc.Kind)
	}
	return nil
}

// StartLinkWatch begins watching the engine's interface for link-state
// transitions, logging them without tearing down any stream (spec §7).
func (e *Engine) StartLinkWatch() error {
	w, err := netlink.New(e.Interface)
	if err != nil {
		return err
	}
	e.link = w
	go func() {
		for ev := range w.Events() {
			log.WithFields(log.Fields{"interface": ev.Interface, "up": ev.Up}).
				Warn("engine: NIC link state changed, streams left running")
			e.metrics.linkFlaps.Inc()
		}
	}()
	return nil
}

// AudioStream returns the named audio stream built from the topology
// document, for callers that need to inspect its state without
// reaching into the engine's internals.
func (e *Engine) AudioStream(name string) (*audio.Stream, bool) {
	s, ok := e.audioStreams[name]
	return s, ok
}

// CRFStream returns the named CRF stream built from the topology
// document.
func (e *Engine) CRFStream(name string) (*crf.Stream, bool) {
	s, ok := e.crfStreams[name]
	return s, ok
}

// ServeMetrics starts the prometheus HTTP exporter for this engine's
// counters. It blocks; callers typically run it in its own goroutine.
func (e *Engine) ServeMetrics(addr string) error {
	return e.metrics.Serve(addr)
}

// Close stops the link watcher, unbinds every clock controller, and
// releases engine resources.
func (e *Engine) Close() error {
	for _, c := range e.controllers {
		c.Close()
	}
	if e.link != nil {
		return e.link.Close()
	}
	return nil
}
