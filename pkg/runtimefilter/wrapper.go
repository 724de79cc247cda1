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

import (
	"sync"

	"github.com/jtp38938/doris/pkg/runtimefilter/rferr"
)

// WrapperOptions configures the FilterValue a FilterWrapper constructs for
// its bound kind.
type WrapperOptions struct {
	Capacity           int     // K, for in-set / in-or-bloom
	ExpectedInsertions int64   // bloom / in-or-bloom sizing input
	TargetFPRate       float64 // bloom / in-or-bloom sizing input
	Polarity           Polarity
	NullSkip           bool
}

// FilterWrapper is the thin container around one FilterValue: kind, bound
// column type, capacity/bloom-sizing policy, polarity, null-skip policy,
// and the two sticky flags (always-true, ignored) plus a best-effort
// ignored reason.
type FilterWrapper struct {
	mu sync.Mutex

	kind    Kind
	colType ColumnType
	opts    WrapperOptions

	value FilterValue

	// alwaysTrue is sticky: once set, Probe never returns DefinitelyNo
	// again (invariant 4).
	alwaysTrue bool

	// constantFalse is the "empty producer relation" edge case: every
	// probe returns DefinitelyNo and the consumer's scan short-circuits
	// to EOF. It is a separate, narrower state than always-true (which
	// means the opposite: never reject).
	constantFalse bool

	// ignored is sticky; consumers must treat an ignored filter as
	// always-true.
	ignored bool

	// ignoredReason is read and written without the mutex: it is a
	// best-effort diagnostic, never load-bearing for correctness, so
	// callers must not rely on seeing the latest write.
	ignoredReason string
}

func newValueForKind(kind Kind, colType ColumnType, opts WrapperOptions) (FilterValue, error) {
	switch kind {
	case KindInSet:
		if opts.Capacity <= 0 {
			return nil, rferr.InvalidConfigf("in-set requires capacity > 0")
		}
		return NewInSetValue(colType, opts.Capacity, opts.NullSkip), nil
	case KindMinMax:
		return NewMinMaxValue(colType, opts.NullSkip), nil
	case KindBloom:
		return NewBloomValue(colType, opts.ExpectedInsertions, opts.TargetFPRate, opts.NullSkip), nil
	case KindInOrBloom:
		if opts.Capacity <= 0 {
			return nil, rferr.InvalidConfigf("in-or-bloom requires capacity > 0")
		}
		return NewInOrBloomValue(colType, opts.Capacity, opts.ExpectedInsertions, opts.TargetFPRate, opts.NullSkip), nil
	case KindBitmap:
		return NewBitmapValue(colType, opts.Polarity)
	default:
		return nil, rferr.InvalidConfigf("unknown filter kind %v", kind)
	}
}

func NewFilterWrapper(kind Kind, colType ColumnType, opts WrapperOptions) (*FilterWrapper, error) {
	val, err := newValueForKind(kind, colType, opts)
	if err != nil {
		return nil, err
	}
	return &FilterWrapper{kind: kind, colType: colType, opts: opts, value: val}, nil
}

func (w *FilterWrapper) Kind() Kind {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.kind
}

func (w *FilterWrapper) ColumnType() ColumnType { return w.colType }

// Value returns the live FilterValue. Callers that read it concurrently
// with Insert/Merge must do so only after publish, when the wrapper is
// read-only.
func (w *FilterWrapper) Value() FilterValue {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.value
}

func (w *FilterWrapper) IsAlwaysTrue() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.alwaysTrue
}

func (w *FilterWrapper) IsConstantFalse() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.constantFalse
}

func (w *FilterWrapper) IsIgnored() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ignored
}

// IgnoredReason is a best-effort diagnostic string, intentionally read
// without the wrapper's mutex (see the ignoredReason field comment).
func (w *FilterWrapper) IgnoredReason() string { return w.ignoredReason }

// MarkIgnored sets the sticky ignored flag. Safe to call more than once;
// the first reason wins.
func (w *FilterWrapper) MarkIgnored(reason string) {
	w.mu.Lock()
	already := w.ignored
	w.ignored = true
	w.mu.Unlock()
	if !already {
		w.ignoredReason = reason
	}
}

// MarkEmptyBuild records the "zero rows inserted" edge case: every
// subsequent probe returns DefinitelyNo.
func (w *FilterWrapper) MarkEmptyBuild() {
	w.mu.Lock()
	w.constantFalse = true
	w.mu.Unlock()
}

// MarkAlwaysTrue sets the sticky always-true flag (invariant 4).
func (w *FilterWrapper) MarkAlwaysTrue() {
	w.mu.Lock()
	w.alwaysTrue = true
	w.mu.Unlock()
}

// applyFlags folds a decoded wire header's sticky bits into the
// wrapper, used on the consumer side after LoadSerialized so a
// producer's empty-build/ignored/always-true state survives the trip
// across the wire rather than being silently dropped with the body.
func (w *FilterWrapper) applyFlags(flags Flags) {
	if flags&FlagIgnored != 0 {
		w.MarkIgnored("producer reported ignored")
	}
	if flags&FlagAlwaysTrue != 0 {
		w.MarkAlwaysTrue()
	}
	if flags&FlagConstantFalse != 0 {
		w.MarkEmptyBuild()
	}
}

func (w *FilterWrapper) Insert(v Scalar) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	// A plain in-set has no promotion path of its own; a producer that
	// wants automatic degrade binds in-or-bloom instead. ErrCapacityExceeded
	// is surfaced to the caller either way, which decides between dropping
	// the value and calling ChangeToBloom.
	return w.value.Insert(v)
}

func (w *FilterWrapper) InsertBatch(col Column, rows []int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.value.InsertBatch(col, rows)
}

// Merge folds other's FilterValue into the receiver's. other must carry
// the same Kind and ColumnType.
func (w *FilterWrapper) Merge(other *FilterWrapper) error {
	if other.colType != w.colType {
		return rferr.InvalidConfigf("merge column type mismatch: %v vs %v", w.colType, other.colType)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	other.mu.Lock()
	defer other.mu.Unlock()
	if other.ignored {
		w.ignored = true
		if w.ignoredReason == "" {
			w.ignoredReason = other.ignoredReason
		}
	}
	// constant-false only sticks when every contributor's build was
	// empty; merging a non-empty partial payload must not make the
	// union reject everything.
	w.constantFalse = w.constantFalse && other.constantFalse
	if err := w.value.Merge(other.value); err != nil {
		return err
	}
	w.kind = w.value.Kind()
	return nil
}

// Probe applies the sticky flags before delegating to the payload
// (invariant 4: ignored degrades to always-true, never the reverse).
func (w *FilterWrapper) Probe(v Scalar) Probe {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ignored || w.alwaysTrue {
		return ProbeMaybe
	}
	if w.constantFalse {
		return ProbeDefinitelyNo
	}
	return w.value.Probe(v)
}

// ChangeToBloom converts the wrapper's payload to its bloom
// representation in place. For in-or-bloom this drives
// the same one-way promotion Insert/Merge trigger automatically; for a
// bare in-set it is the only way to degrade, used by scan-side
// heuristics that decide the set representation is no longer worth
// keeping.
func (w *FilterWrapper) ChangeToBloom() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch cur := w.value.(type) {
	case *BloomValue:
		return nil
	case *InOrBloomValue:
		if !cur.IsPromoted() {
			cur.promote()
		}
		return nil
	case *InSetValue:
		n := int64(cur.Len())
		if n < w.opts.ExpectedInsertions {
			n = w.opts.ExpectedInsertions
		}
		bloom := NewBloomValue(w.colType, n, w.opts.TargetFPRate, w.opts.NullSkip)
		for _, v := range cur.Values() {
			if err := bloom.Insert(v); err != nil {
				return err
			}
		}
		if cur.ContainsNull() {
			bloom.containsNull = true
		}
		w.value = bloom
		w.kind = KindBloom
		return nil
	default:
		return rferr.InvalidConfigf("change_to_bloom not supported for kind %v", w.kind)
	}
}

// Serialize encodes the payload's kind-specific body only; EncodeMessage
// assembles the shared header (filter id, kind tag, column-type tag,
// flags) around it.
func (w *FilterWrapper) Serialize() ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.value.Serialize()
}

// LoadSerialized replaces the payload from a decoded wire body, used by
// FilterInstance.update on the consumer side.
func (w *FilterWrapper) LoadSerialized(payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	val, err := deserializeForKind(w.kind, w.colType, w.opts, payload)
	if err != nil {
		return err
	}
	w.value = val
	return nil
}

func deserializeForKind(kind Kind, colType ColumnType, opts WrapperOptions, payload []byte) (FilterValue, error) {
	switch kind {
	case KindInSet:
		return DeserializeInSet(colType, opts.Capacity, opts.NullSkip, payload)
	case KindMinMax:
		return DeserializeMinMax(colType, opts.NullSkip, payload)
	case KindBloom:
		return DeserializeBloom(colType, opts.NullSkip, payload)
	case KindInOrBloom:
		return DeserializeInOrBloom(colType, opts.Capacity, opts.ExpectedInsertions, opts.TargetFPRate, opts.NullSkip, payload)
	case KindBitmap:
		return DeserializeBitmap(colType, payload)
	default:
		return nil, rferr.InvalidConfigf("unknown filter kind %v", kind)
	}
}
