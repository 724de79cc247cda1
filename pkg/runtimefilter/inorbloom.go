// Copyright 2021 - 2023 Matrix Origin
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
	"errors"

	"github.com/jtp38938/doris/pkg/runtimefilter/rferr"
)

// discriminator bytes for the "one of the above preceded by a u8
// discriminator" in-or-bloom wire shape.
const (
	inOrBloomTagSet   = 0
	inOrBloomTagBloom = 1
)

// InOrBloomValue starts as an InSetValue and promotes in place, at most
// once, to a BloomValue upon inserting the (K+1)th distinct value or
// merging past capacity.
type InOrBloomValue struct {
	colType            ColumnType
	capacity           int
	expectedInsertions int64
	targetFPRate       float64
	nullSkip           bool

	promoted bool
	set      *InSetValue
	bloom    *BloomValue
}

func NewInOrBloomValue(colType ColumnType, capacity int, expectedInsertions int64, targetFPRate float64, nullSkip bool) *InOrBloomValue {
	return &InOrBloomValue{
		colType:            colType,
		capacity:           capacity,
		expectedInsertions: expectedInsertions,
		targetFPRate:       targetFPRate,
		nullSkip:           nullSkip,
		set:                NewInSetValue(colType, capacity, nullSkip),
	}
}

func (v *InOrBloomValue) Kind() Kind { return KindInOrBloom }

// IsPromoted reports whether the value has converted to its bloom
// representation yet.
func (v *InOrBloomValue) IsPromoted() bool { return v.promoted }

// promote performs the one-way, at-most-once conversion: build a bloom
// sized for the retained set (or the configured expectation, whichever
// is larger) and load every retained value into it before discarding
// the set.
func (v *InOrBloomValue) promote() {
	if v.promoted {
		return
	}
	n := v.expectedInsertions
	if int64(v.set.Len()) > n {
		n = int64(v.set.Len())
	}
	if n < int64(v.capacity) {
		n = int64(v.capacity)
	}
	v.bloom = NewBloomValue(v.colType, n, v.targetFPRate, v.nullSkip)
	for _, val := range v.set.Values() {
		_ = v.bloom.Insert(val)
	}
	if v.set.ContainsNull() {
		v.bloom.containsNull = true
	}
	v.set = nil
	v.promoted = true
}

func (v *InOrBloomValue) Insert(val Scalar) error {
	if v.promoted {
		return v.bloom.Insert(val)
	}
	err := v.set.Insert(val)
	if errors.Is(err, ErrCapacityExceeded) {
		v.promote()
		return v.bloom.Insert(val)
	}
	return err
}

func (v *InOrBloomValue) InsertBatch(col Column, rows []int) error {
	for _, i := range rows {
		if err := v.Insert(col.At(i)); err != nil {
			return err
		}
	}
	return nil
}

// Merge follows the promotion rule: if either operand is already
// bloom, or the union of two sets would exceed capacity, the receiver
// promotes before absorbing other's values.
func (v *InOrBloomValue) Merge(other FilterValue) error {
	o, ok := other.(*InOrBloomValue)
	if !ok {
		return rferr.InvalidConfigf("in-or-bloom merge expects *InOrBloomValue, got %T", other)
	}

	if o.promoted {
		v.promote()
	}
	if !v.promoted && !o.promoted {
		// Would the union fit? Try it speculatively against a clone so a
		// capacity overflow mid-merge doesn't leave v half-merged.
		trial := v.set.Clone().(*InSetValue)
		if err := trial.Merge(o.set); err != nil {
			if !errors.Is(err, ErrCapacityExceeded) {
				return err
			}
			v.promote()
		} else {
			v.set = trial
			return nil
		}
	}
	if !v.promoted {
		v.promote()
	}
	if o.promoted {
		return v.bloom.Merge(o.bloom)
	}
	for _, val := range o.set.Values() {
		if err := v.bloom.Insert(val); err != nil {
			return err
		}
	}
	if o.set.ContainsNull() {
		v.bloom.containsNull = true
	}
	return nil
}

func (v *InOrBloomValue) Probe(val Scalar) Probe {
	if v.promoted {
		return v.bloom.Probe(val)
	}
	return v.set.Probe(val)
}

func (v *InOrBloomValue) Clone() FilterValue {
	c := &InOrBloomValue{
		colType:            v.colType,
		capacity:           v.capacity,
		expectedInsertions: v.expectedInsertions,
		targetFPRate:       v.targetFPRate,
		nullSkip:           v.nullSkip,
		promoted:           v.promoted,
	}
	if v.promoted {
		c.bloom = v.bloom.Clone().(*BloomValue)
	} else {
		c.set = v.set.Clone().(*InSetValue)
	}
	return c
}

func (v *InOrBloomValue) Serialize() ([]byte, error) {
	if v.promoted {
		body, err := v.bloom.Serialize()
		if err != nil {
			return nil, err
		}
		return append([]byte{inOrBloomTagBloom}, body...), nil
	}
	body, err := v.set.Serialize()
	if err != nil {
		return nil, err
	}
	return append([]byte{inOrBloomTagSet}, body...), nil
}

func DeserializeInOrBloom(colType ColumnType, capacity int, expectedInsertions int64, targetFPRate float64, nullSkip bool, payload []byte) (*InOrBloomValue, error) {
	if len(payload) < 1 {
		return nil, rferr.SerializationErrorf("in-or-bloom payload truncated")
	}
	tag, body := payload[0], payload[1:]
	out := &InOrBloomValue{
		colType:            colType,
		capacity:           capacity,
		expectedInsertions: expectedInsertions,
		targetFPRate:       targetFPRate,
		nullSkip:           nullSkip,
	}
	switch tag {
	case inOrBloomTagSet:
		set, err := DeserializeInSet(colType, capacity, nullSkip, body)
		if err != nil {
			return nil, err
		}
		out.set = set
	case inOrBloomTagBloom:
		bloom, err := DeserializeBloom(colType, nullSkip, body)
		if err != nil {
			return nil, err
		}
		out.bloom = bloom
		out.promoted = true
	default:
		return nil, rferr.SerializationErrorf("unknown in-or-bloom discriminator %d", tag)
	}
	return out, nil
}
