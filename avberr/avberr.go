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

// Package avberr defines the sentinel error taxonomy shared by every
// component of the stream handler, so that callers can test for a
// specific failure mode with errors.Is instead of string matching.
package avberr

import "errors"

// Sentinel errors, see spec §7.
var (
	ErrInvalidParam        = errors.New("invalid parameter")
	ErrUnsupportedFormat   = errors.New("unsupported format")
	ErrNotImplemented      = errors.New("not implemented")
	ErrNotInitialized      = errors.New("not initialized")
	ErrInitializationFailed = errors.New("initialization failed")
	ErrNotEnoughMemory     = errors.New("not enough memory")
	ErrAlreadyInUse        = errors.New("already in use")
	ErrNoSpaceLeft         = errors.New("no space left")
	ErrTimeout             = errors.New("timeout")
	ErrThreadStartFailed   = errors.New("thread start failed")
	ErrThreadStopFailed    = errors.New("thread stop failed")
	ErrCallbackError       = errors.New("callback error")
	ErrNullPointerAccess   = errors.New("null pointer access")
)

// Result is the public three-valued API result that packet engines
// translate internal errors into (spec §7 "Propagation"): transient
// receive errors never reach this far, they are absorbed into
// diagnostics counters instead.
type Result int

const (
	// ResultOK indicates success.
	ResultOK Result = iota
	// ResultErr indicates a generic failure; inspect the wrapped error for detail.
	ResultErr
	// ResultNotSupported indicates the requested format or mode is not wire-supported.
	ResultNotSupported
	// ResultNotImplemented indicates a recognized but unwired feature.
	ResultNotImplemented
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultErr:
		return "Err"
	case ResultNotSupported:
		return "NotSupported"
	case ResultNotImplemented:
		return "NotImplemented"
	default:
		return "Unknown"
	}
}

// ToResult classifies err into the public three-valued result, the way
// the packet engines are required to before returning to API callers.
func ToResult(err error) Result {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, ErrUnsupportedFormat):
		return ResultNotSupported
	case errors.Is(err, ErrNotImplemented):
		return ResultNotImplemented
	default:
		return ResultErr
	}
}
