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
	"fmt"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	log "github.com/sirupsen/logrus"

	"github.com/avbsh/streamhandler/avbstream"
	"github.com/avbsh/streamhandler/avtp"
)

const (
	snapshotLen = 1600
	recvTimeout = 1 * time.Millisecond
	promiscuous = false
)

// openHandle opens a live capture/injection handle on the engine's
// interface, filtered to the 1722 EtherType (spec §7 "Transport").
func (e *Engine) openHandle() (*pcap.Handle, error) {
	handle, err := pcap.OpenLive(e.Interface, snapshotLen, promiscuous, recvTimeout)
	if err != nil {
		return nil, fmt.Errorf("unable to open %s: %w", e.Interface, err)
	}
	if err := handle.SetBPFFilter(fmt.Sprintf("ether proto 0x%x", avtp.EtherType)); err != nil {
		handle.Close()
		return nil, fmt.Errorf("unable to set BPF filter: %w", err)
	}
	return handle, nil
}

// frame builds an Ethernet(+802.1Q) frame around payload for base's
// configured destination and VLAN tagging.
func frame(base *avbstream.Base, payload []byte) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       base.SrcMAC,
		DstMAC:       base.DstMAC,
		EthernetType: layers.EthernetType(avtp.EtherType),
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{}

	if base.VlanID != 0 {
		eth.EthernetType = layers.EthernetTypeDot1Q
		dot1q := &layers.Dot1Q{
			VLANIdentifier: base.VlanID,
			Priority:       base.VlanPriority,
			Type:           layers.EthernetType(avtp.EtherType),
		}
		if err := gopacket.SerializeLayers(buf, opts, eth, dot1q, gopacket.Payload(payload)); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	if err := gopacket.SerializeLayers(buf, opts, eth, gopacket.Payload(payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// dispatchReceived decodes an Ethernet(+802.1Q) frame and hands the
// 1722 payload to the matching stream by StreamID, or counts it as
// dropped if no stream claims it.
func (e *Engine) dispatchReceived(data []byte) {
	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.NoCopy)
	appLayer := pkt.ApplicationLayer()
	if appLayer == nil {
		e.metrics.packetsDropped.WithLabelValues("no-payload").Inc()
		return
	}
	payload := appLayer.Payload()
	id, err := avtp.PeekStreamID(payload)
	if err != nil {
		e.metrics.packetsDropped.WithLabelValues("short-header").Inc()
		return
	}

	for _, s := range e.audioStreams {
		if s.Base.Direction == avbstream.DirectionReceive && uint64(s.Base.StreamID) == id {
			if err := s.ReceivePacket(payload, func(ch int, samples []int16) {
				if s.Ring != nil {
					_, _ = s.Ring.Write(samples)
				}
			}); err != nil {
				log.WithError(err).Debug("engine: audio receive rejected")
				e.metrics.packetsDropped.WithLabelValues("audio-invalid").Inc()
				return
			}
			e.metrics.packetsReceived.Inc()
			return
		}
	}
	for _, s := range e.crfStreams {
		if s.Base.Direction == avbstream.DirectionReceive && uint64(s.Base.StreamID) == id {
			if err := s.ReceivePacket(payload); err != nil {
				log.WithError(err).Debug("engine: crf receive rejected")
				e.metrics.packetsDropped.WithLabelValues("crf-invalid").Inc()
				return
			}
			e.metrics.packetsReceived.Inc()
			return
		}
	}
	e.metrics.packetsDropped.WithLabelValues("unclaimed-stream-id").Inc()
}

// ReceiveLoop runs the engine's single capture loop until ctx is
// canceled or the handle fails.
func (e *Engine) ReceiveLoop(ctx context.Context) error {
	handle, err := e.openHandle()
	if err != nil {
		return err
	}
	defer handle.Close()

	src := gopacket.NewPacketSource(handle, handle.LinkType())
	packets := src.Packets()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case pkt, ok := <-packets:
			if !ok {
				return fmt.Errorf("engine: capture source on %s closed", e.Interface)
			}
			e.dispatchReceived(pkt.Data())
		}
	}
}
