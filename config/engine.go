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

package config

import (
	"os"

	"gopkg.in/yaml.v2"
)

// StreamConfig describes one stream entry in the engine's topology
// document: enough to drive avbstream.Base.Init plus the audio/crf
// TransmitInit/ReceiveInit calls.
type StreamConfig struct {
	Name        string `yaml:"name"`
	Kind        string `yaml:"kind"` // "audio" or "crf"
	Direction   string `yaml:"direction"`
	StreamID    uint64 `yaml:"stream_id"`
	Class       string `yaml:"class"` // "high" or "low"
	Channels    uint8  `yaml:"channels,omitempty"`
	SampleRate  uint32 `yaml:"sample_rate,omitempty"`
	ClockDomain string `yaml:"clock_domain"`
	DstMAC      string `yaml:"dst_mac"`
}

// ClockDomainConfig describes one clock-domain entry. Master, when
// set, names another clock-domain entry this one should be steered
// towards by a clock controller driving a PLL (spec §4.4).
type ClockDomainConfig struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"` // "ptp", "raw", "sw", "rx", "alsa"
	ID     uint32 `yaml:"id"`
	Master string `yaml:"master,omitempty"`
}

// EngineConfig is the engine's top-level topology document.
type EngineConfig struct {
	Interface    string              `yaml:"interface"`
	ClockDomains []ClockDomainConfig `yaml:"clock_domains"`
	Streams      []StreamConfig      `yaml:"streams"`
}

// LoadEngineConfig decodes a yaml topology document from path.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg EngineConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
