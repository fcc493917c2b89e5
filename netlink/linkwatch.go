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

// Package netlink watches a NIC's link-state over an rtnetlink
// multicast group and surfaces transitions through a channel of
// Events (spec §7: "NIC loss of link is reported through the event
// interface but does not tear down streams" — the engine is expected
// to log and keep running, not act on it here).
package netlink

import (
	"fmt"
	"sync"

	"github.com/jsimonetti/rtnetlink"
	"github.com/mdlayher/netlink"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/avbsh/streamhandler/avberr"
)

// Event reports a link-state transition for one watched interface.
type Event struct {
	Interface string
	Up        bool
}

// Watcher follows RTM_NEWLINK/RTM_DELLINK notifications for a single
// named interface and republishes them as Events.
type Watcher struct {
	conn *rtnetlink.Conn
	name string
	ch   chan Event

	mu      sync.Mutex
	lastUp  bool
	known   bool
	closing chan struct{}
	wg      sync.WaitGroup
}

// New opens an rtnetlink connection subscribed to the link multicast
// group and starts watching iface. The returned Watcher's Events
// channel is closed once Close is called or the connection fails.
func New(iface string) (*Watcher, error) {
	conn, err := rtnetlink.Dial(&netlink.Config{Groups: unix.RTNLGRP_LINK})
	if err != nil {
		return nil, fmt.Errorf("%w: rtnetlink dial: %v", avberr.ErrInitializationFailed, err)
	}

	w := &Watcher{
		conn:    conn,
		name:    iface,
		ch:      make(chan Event, 16),
		closing: make(chan struct{}),
	}

	if err := w.seed(); err != nil {
		conn.Close()
		return nil, err
	}

	w.wg.Add(1)
	go w.run()
	return w, nil
}

// seed reads the interface's current operational state so the first
// Event only fires on an actual transition, not on startup.
func (w *Watcher) seed() error {
	links, err := w.conn.Link.List()
	if err != nil {
		return fmt.Errorf("%w: rtnetlink link list: %v", avberr.ErrInitializationFailed, err)
	}
	for _, l := range links {
		if l.Attributes == nil || l.Attributes.Name != w.name {
			continue
		}
		w.mu.Lock()
		w.lastUp = isUp(l.Flags)
		w.known = true
		w.mu.Unlock()
		return nil
	}
	log.WithField("interface", w.name).Warn("netlink: watched interface not found at startup")
	return nil
}

func (w *Watcher) run() {
	defer w.wg.Done()
	defer close(w.ch)

	for {
		msgs, _, err := w.conn.Receive()
		select {
		case <-w.closing:
			return
		default:
		}
		if err != nil {
			log.WithError(err).Warn("netlink: link watch receive failed, stopping")
			return
		}
		for _, m := range msgs {
			lm, ok := m.(*rtnetlink.LinkMessage)
			if !ok || lm.Attributes == nil || lm.Attributes.Name != w.name {
				continue
			}
			w.handle(lm)
		}
	}
}

func (w *Watcher) handle(lm *rtnetlink.LinkMessage) {
	up := isUp(lm.Flags)

	w.mu.Lock()
	changed := !w.known || up != w.lastUp
	w.lastUp = up
	w.known = true
	w.mu.Unlock()

	if !changed {
		return
	}
	log.WithFields(log.Fields{"interface": w.name, "up": up}).Info("netlink: link state changed")
	select {
	case w.ch <- Event{Interface: w.name, Up: up}:
	case <-w.closing:
	}
}

func isUp(flags uint32) bool {
	return flags&unix.IFF_UP != 0 && flags&unix.IFF_RUNNING != 0
}

// Events returns the channel Events are published on. It is closed
// when the watcher stops, whether via Close or a connection error.
func (w *Watcher) Events() <-chan Event {
	return w.ch
}

// Close stops the watcher and releases the rtnetlink connection.
func (w *Watcher) Close() error {
	close(w.closing)
	err := w.conn.Close()
	w.wg.Wait()
	return err
}
