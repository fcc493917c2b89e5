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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryGetUint64DefaultsOnUnknownKey(t *testing.T) {
	r := NewFromMap(map[string]string{"tspec.interval.high": "125000"})
	require.Equal(t, uint64(125000), r.GetUint64("tspec.interval.high", 0))
	require.Equal(t, uint64(99), r.GetUint64("unknown.key", 99))
}

func TestRegistryGetUint64IgnoresUnparsable(t *testing.T) {
	r := NewFromMap(map[string]string{"audio.compat": "d6_1722a"})
	require.Equal(t, uint64(7), r.GetUint64("audio.compat", 7))
}

func TestLoadEngineConfigDecodesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "topology.yaml")
	doc := `
interface: eth0
clock_domains:
  - name: master
    type: ptp
    id: 1
streams:
  - name: spk0
    kind: audio
    direction: transmit
    stream_id: 1
    class: high
    channels: 2
    sample_rate: 48000
    clock_domain: master
    dst_mac: "91:e0:f0:00:fe:00"
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := LoadEngineConfig(path)
	require.NoError(t, err)
	require.Equal(t, "eth0", cfg.Interface)
	require.Len(t, cfg.ClockDomains, 1)
	require.Len(t, cfg.Streams, 1)
	require.Equal(t, "spk0", cfg.Streams[0].Name)
	require.Equal(t, uint32(48000), cfg.Streams[0].SampleRate)
}

func TestDerivedKeyEvaluation(t *testing.T) {
	r := NewFromMap(map[string]string{"audio.clock.bend.rate": "2.5"})
	require.NoError(t, r.DefineDerived("audio.clock.bend.rate.doubled", "audio_clock_bend_rate * 2"))
	// govaluate identifiers can't contain dots; this checks the
	// no-matching-param fallback path instead of a literal rewrite.
	require.Equal(t, 0.0, r.GetDerived("audio.clock.bend.rate.doubled", 0))
	require.Equal(t, 42.0, r.GetDerived("unknown.derived", 42))
}
