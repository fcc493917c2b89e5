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

// Command avbshd runs the AVB stream handler daemon: it loads a
// topology document and registry, builds the clock domains and
// streams it describes, and drives their packet I/O until signaled to
// stop.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/daemon"
	"github.com/shirou/gopsutil/host"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/avbsh/streamhandler/config"
	"github.com/avbsh/streamhandler/engine"
	"github.com/avbsh/streamhandler/ptpproxy"
)

var (
	topologyPath string
	registryPath string
	metricsAddr  string
	verbose      bool
	ptpDevice    int
)

var rootCmd = &cobra.Command{
	Use:   "avbshd",
	Short: "AVB stream handler daemon",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&topologyPath, "topology", "/etc/avbsh/topology.yaml", "path to the engine's yaml topology document")
	rootCmd.Flags().StringVar(&registryPath, "registry", "/etc/avbsh/registry.ini", "path to the dotted-key configuration registry")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics", ":9464", "address to serve prometheus metrics on")
	rootCmd.Flags().BoolVar(&verbose, "verbose", false, "enable debug logging")
	rootCmd.Flags().IntVar(&ptpDevice, "ptp-clock-id", int(unix.CLOCK_REALTIME), "PHC clock id backing the PTP proxy; defaults to the system realtime clock when no PHC is bound")
}

func run(cmd *cobra.Command, args []string) error {
	if verbose {
		log.SetLevel(log.DebugLevel)
	}

	reg, err := config.Load(registryPath)
	if err != nil {
		log.WithError(err).Warnf("avbshd: no registry at %s, using built-in defaults", registryPath)
		reg = config.NewFromMap(nil)
	}

	topo, err := config.LoadEngineConfig(topologyPath)
	if err != nil {
		return err
	}

	proxy, err := ptpproxy.New(int32(ptpDevice))
	if err != nil {
		return err
	}

	eng, err := engine.New(topo, reg, proxy)
	if err != nil {
		return err
	}
	defer eng.Close()

	if hi, err := host.Info(); err == nil {
		log.WithFields(log.Fields{
			"hostname": hi.Hostname,
			"kernel":   hi.KernelVersion,
			"uptime_s": hi.Uptime,
		}).Info("avbshd: starting")
	}

	go func() {
		if err := eng.ServeMetrics(metricsAddr); err != nil {
			log.WithError(err).Warn("avbshd: metrics server stopped")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if supported, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.WithError(err).Warn("avbshd: sd_notify failed")
	} else if !supported {
		log.Debug("avbshd: sd_notify not supported, skipping")
	}

	return eng.Run(ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
