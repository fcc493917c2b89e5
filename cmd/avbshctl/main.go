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

// Command avbshctl inspects a topology document the way avbshd would
// build it, without starting any packet I/O, and prints the resulting
// streams and clock domains as a colorized table.
package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/avbsh/streamhandler/avbstream"
	"github.com/avbsh/streamhandler/config"
	"github.com/avbsh/streamhandler/engine"
	"github.com/avbsh/streamhandler/ptpproxy"
	"github.com/avbsh/streamhandler/tspec"
)

var (
	topologyPath string
	registryPath string
)

var rootCmd = &cobra.Command{
	Use:   "avbshctl",
	Short: "AVB stream handler diagnostics CLI",
}

var streamsCmd = &cobra.Command{
	Use:   "streams",
	Short: "Print every stream a topology document would build, with its current lifecycle state.",
	RunE:  runStreams,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&topologyPath, "topology", "/etc/avbsh/topology.yaml", "path to the engine's yaml topology document")
	rootCmd.PersistentFlags().StringVar(&registryPath, "registry", "/etc/avbsh/registry.ini", "path to the dotted-key configuration registry")
	rootCmd.AddCommand(streamsCmd)
}

// stateColor mirrors ptpcheck's OK/WARN/FAIL palette: valid is green,
// transient states are yellow, inactive is plain.
func stateColor(s avbstream.State) string {
	switch s {
	case avbstream.StateValid:
		return color.GreenString(s.String())
	case avbstream.StateNoData, avbstream.StateInvalidData:
		return color.YellowString(s.String())
	default:
		return s.String()
	}
}

func directionString(d avbstream.Direction) string {
	if d == avbstream.DirectionTransmit {
		return "tx"
	}
	return "rx"
}

func classString(c tspec.Class) string {
	if c == tspec.ClassHigh {
		return "A"
	}
	return "B"
}

func runStreams(cmd *cobra.Command, args []string) error {
	reg, err := config.Load(registryPath)
	if err != nil {
		log.WithError(err).Warnf("avbshctl: no registry at %s, using built-in defaults", registryPath)
		reg = config.NewFromMap(nil)
	}

	topo, err := config.LoadEngineConfig(topologyPath)
	if err != nil {
		return err
	}

	// No PHC is bound for a static inspection run; the system realtime
	// clock stands in so clock-domain construction succeeds.
	proxy, err := ptpproxy.New(0)
	if err != nil {
		return err
	}

	eng, err := engine.New(topo, reg, proxy)
	if err != nil {
		return err
	}
	defer eng.Close()

	color.NoColor = !term.IsTerminal(int(os.Stdout.Fd()))

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"name", "kind", "dir", "class", "stream id", "clock domain", "dst mac", "state"})

	for _, sc := range topo.Streams {
		var dir avbstream.Direction
		var streamID tspec.StreamID
		var dst, state, class string

		switch sc.Kind {
		case "audio":
			s, ok := eng.AudioStream(sc.Name)
			if !ok {
				continue
			}
			dir = s.Base.Direction
			streamID = s.Base.StreamID
			dst = s.Base.DstMAC.String()
			state = stateColor(s.Base.State())
			class = classString(s.Base.TSpec.Class())
		case "crf":
			s, ok := eng.CRFStream(sc.Name)
			if !ok {
				continue
			}
			dir = s.Base.Direction
			streamID = s.Base.StreamID
			dst = s.Base.DstMAC.String()
			state = stateColor(s.Base.State())
			class = classString(s.Base.TSpec.Class())
		default:
			continue
		}

		table.Append([]string{
			sc.Name,
			sc.Kind,
			directionString(dir),
			class,
			fmt.Sprintf("%d", streamID),
			sc.ClockDomain,
			dst,
			state,
		})
	}

	table.Render()
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
