// Copyright 2021 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package runtimefilter

import "sync"

// BloomPool is the per-query byte budget bloom-backed filters draw from
//. An allocation that would exceed the
// cap is refused; the caller degrades the filter to ignored rather than
// retrying or blocking.
type BloomPool struct {
	mu       sync.Mutex
	capBytes int64
	used     int64
}

func NewBloomPool(capBytes int64) *BloomPool {
	return &BloomPool{capBytes: capBytes}
}

// TryCharge attempts to reserve n bytes, returning false if doing so
// would exceed the pool's cap.
func (p *BloomPool) TryCharge(n int64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.used+n > p.capBytes {
		return false
	}
	p.used += n
	return true
}

// Release returns n previously-charged bytes to the pool. Safe to call
// with n larger than what is currently charged (clamped at zero).
func (p *BloomPool) Release(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.used -= n
	if p.used < 0 {
		p.used = 0
	}
}

func (p *BloomPool) Used() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used
}

// bloomByteSize reports the number of bytes a wrapper's current payload
// charges against a BloomPool: the bit-array size for a bloom value, the
// active bloom's size for a promoted in-or-bloom, and zero for every
// other kind (in-set/min-max/bitmap are not pool-governed).
func (w *FilterWrapper) bloomByteSize() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch v := w.value.(type) {
	case *BloomValue:
		return int64(len(v.words)) * 8
	case *InOrBloomValue:
		if v.promoted {
			return int64(len(v.bloom.words)) * 8
		}
	}
	return 0
}
