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

package netlink

import (
	"testing"

	"github.com/jsimonetti/rtnetlink"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func linkMessage(name string, flags uint32) *rtnetlink.LinkMessage {
	return &rtnetlink.LinkMessage{
		Flags:      flags,
		Attributes: &rtnetlink.LinkAttributes{Name: name},
	}
}

func TestIsUpRequiresUpAndRunning(t *testing.T) {
	require.True(t, isUp(unix.IFF_UP|unix.IFF_RUNNING))
	require.False(t, isUp(unix.IFF_UP))
	require.False(t, isUp(unix.IFF_RUNNING))
	require.False(t, isUp(0))
}

func TestWatcherHandleEmitsOnlyOnTransition(t *testing.T) {
	w := &Watcher{name: "eth0", ch: make(chan Event, 4), closing: make(chan struct{})}

	w.handle(linkMessage("eth0", unix.IFF_UP|unix.IFF_RUNNING))
	w.handle(linkMessage("eth0", unix.IFF_UP|unix.IFF_RUNNING))
	w.handle(linkMessage("eth0", unix.IFF_UP))
	close(w.ch)

	var events []Event
	for ev := range w.ch {
		events = append(events, ev)
	}
	require.Len(t, events, 2)
	require.True(t, events[0].Up)
	require.False(t, events[1].Up)
}
