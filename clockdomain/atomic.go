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

package clockdomain

import "sync/atomic"

// loadFloat64/storeFloat64 back the lock-free rate-ratio read path
// (spec §5: "the rate-ratio read path is lock-free and may return a
// value from an in-flight update, acceptable by design").
func loadFloat64(bits *uint64) uint64 {
	return atomic.LoadUint64(bits)
}

func storeFloat64(bits *uint64, v uint64) {
	atomic.StoreUint64(bits, v)
}
