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

// Package pll implements the clock-driver plugin contract (spec §6)
// and a default Linux implementation that steers the frequency of the
// clock id bound at Init via clock_adjtime, adapted from clock/clock.go's
// Adjtime/AdjFreqPPB.
package pll

import (
	"fmt"
	"path/filepath"
	"strings"
	"unsafe"

	"github.com/hashicorp/go-version"
	"golang.org/x/sys/unix"

	"github.com/avbsh/streamhandler/avberr"
)

// ppbToTimexPPM converts PPB to the 16-bit-fractional PPM units
// struct timex uses (clock_adjtime(2)).
const ppbToTimexPPM = 65.536

// adjFrequency is the clock_adjtime mode bit for a frequency
// adjustment (linux/timex.h ADJ_FREQUENCY), named locally the way
// clock/clock.go does rather than assuming the unix package exports it.
const adjFrequency uint32 = 0x0002

// Driver is the clock-driver plugin contract (spec §6): a single entry
// point returning a singleton whose operations are Init, Cleanup, and
// UpdateRelative, called at most once per holdOff by the clock
// controller.
type Driver interface {
	Init(env Environment) error
	Cleanup()
	UpdateRelative(param string, correctionPPM float64) error
	APIVersion() string
}

// Environment is the subset of engine state a clock-driver plugin may
// need at Init (spec §9 "Global state": "an explicit value created at
// init and passed by reference").
type Environment struct {
	ClockID int32
}

// MinAPIVersion is the lowest plugin API version this build accepts.
var MinAPIVersion = version.Must(version.NewVersion("1.0.0"))

// LoadByName resolves a plugin name to a Driver. Per spec §6 ("Loader
// rejects paths containing '/'") this never opens an arbitrary path —
// only a fixed in-process registry of known drivers, keyed by name,
// is consulted. This sidesteps dlopen/plugin.Open's lack of a
// meaningful "reject path traversal" hook while preserving the
// contract's no-path-escape guarantee.
func LoadByName(name string, registry map[string]Driver) (Driver, error) {
	if strings.ContainsRune(name, filepath.Separator) || strings.Contains(name, "/") {
		return nil, avberr.ErrInvalidParam
	}
	d, ok := registry[name]
	if !ok {
		return nil, avberr.ErrInvalidParam
	}
	v, err := version.NewVersion(d.APIVersion())
	if err != nil || v.LessThan(MinAPIVersion) {
		return nil, fmt.Errorf("%w: plugin %q reports incompatible API version %q", avberr.ErrInitializationFailed, name, d.APIVersion())
	}
	return d, nil
}

// LinuxPLL is the default ClockDriverInterface implementation: it
// steers the given clock id's frequency via CLOCK_ADJTIME, the same
// syscall clock.AdjFreqPPB uses.
type LinuxPLL struct {
	clockID int32
}

// NewLinuxPLL constructs an unbound driver; Init binds it to a clock id
// before first use.
func NewLinuxPLL() *LinuxPLL { return &LinuxPLL{} }

// APIVersion reports this driver's plugin API version.
func (l *LinuxPLL) APIVersion() string { return "1.0.0" }

// Init binds the driver to the environment's clock id.
func (l *LinuxPLL) Init(env Environment) error {
	l.clockID = env.ClockID
	return nil
}

// Cleanup is a no-op for the Linux PLL driver; no resources are held
// beyond the clock id.
func (l *LinuxPLL) Cleanup() {}

// UpdateRelative applies correctionPPM as a frequency adjustment on
// the bound clock id. param is accepted for contract compatibility but
// unused by this single-clock driver.
func (l *LinuxPLL) UpdateRelative(param string, correctionPPM float64) error {
	_ = param
	tx := &unix.Timex{
		Modes: adjFrequency,
		Freq:  int64(correctionPPM * ppbToTimexPPM * 1000), // ppm -> ppb -> timex units
	}
	_, _, errno := unix.Syscall(unix.SYS_CLOCK_ADJTIME, uintptr(l.clockID), uintptr(unsafe.Pointer(tx)), 0)
	if errno != 0 {
		return errno
	}
	return nil
}
