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
	"encoding/binary"

	"github.com/jtp38938/doris/pkg/runtimefilter/rferr"
)

// InSetValue is a finite, insertion-ordered set of up to Capacity
// distinct values. It never auto-promotes to
// bloom; a caller that wants that behavior uses InOrBloomValue instead,
// or drives FilterWrapper.ChangeToBloom() explicitly.
type InSetValue struct {
	colType    ColumnType
	capacity   int
	order      [][]byte // insertion order, canonical keys
	values     map[string]Scalar
	containsNull bool
	nullSkip   bool
}

// ErrCapacityExceeded is returned by Insert/Merge when adding a value
// would grow the set past its capacity. Callers that want silent
// promotion should use InOrBloomValue.
var ErrCapacityExceeded = rferr.ResourceExhaustedf("in-set capacity exceeded")

func NewInSetValue(colType ColumnType, capacity int, nullSkip bool) *InSetValue {
	return &InSetValue{
		colType:  colType,
		capacity: capacity,
		values:   make(map[string]Scalar),
		nullSkip: nullSkip,
	}
}

func (s *InSetValue) Kind() Kind { return KindInSet }

func (s *InSetValue) Len() int { return len(s.order) }

func (s *InSetValue) Capacity() int { return s.capacity }

// ContainsNull reports the set's null flag: "set contains null" when
// the producer inserted a null probe key and null-skip is off.
func (s *InSetValue) ContainsNull() bool { return s.containsNull }

func (s *InSetValue) Values() []Scalar {
	out := make([]Scalar, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, s.values[string(k)])
	}
	return out
}

func (s *InSetValue) Insert(v Scalar) error {
	if v.Null {
		if !s.nullSkip {
			s.containsNull = true
		}
		return nil
	}
	if v.IsNaN() {
		return nil
	}
	key := EncodeKey(v)
	if _, ok := s.values[string(key)]; ok {
		return nil
	}
	if len(s.order) >= s.capacity {
		return ErrCapacityExceeded
	}
	s.values[string(key)] = v
	s.order = append(s.order, key)
	return nil
}

func (s *InSetValue) InsertBatch(col Column, rows []int) error {
	for _, i := range rows {
		if err := s.Insert(col.At(i)); err != nil {
			return err
		}
	}
	return nil
}

func (s *InSetValue) Merge(other FilterValue) error {
	o, ok := other.(*InSetValue)
	if !ok {
		return rferr.InvalidConfigf("in-set merge expects *InSetValue, got %T", other)
	}
	if o.containsNull && !s.nullSkip {
		s.containsNull = true
	}
	for _, k := range o.order {
		v := o.values[string(k)]
		if err := s.Insert(v); err != nil {
			return err
		}
	}
	return nil
}

func (s *InSetValue) Probe(v Scalar) Probe {
	if v.Null {
		return ProbeDefinitelyNo
	}
	if _, ok := s.values[string(EncodeKey(v))]; ok {
		return ProbeMaybe
	}
	return ProbeDefinitelyNo
}

func (s *InSetValue) Clone() FilterValue {
	c := &InSetValue{
		colType:      s.colType,
		capacity:     s.capacity,
		values:       make(map[string]Scalar, len(s.values)),
		containsNull: s.containsNull,
		nullSkip:     s.nullSkip,
	}
	c.order = append(c.order, s.order...)
	for k, v := range s.values {
		c.values[k] = v
	}
	return c
}

// Serialize encodes the in-set wire shape: a u32 count followed by
// count length-prefixed values in insertion order.
func (s *InSetValue) Serialize() ([]byte, error) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(len(s.order)))
	for _, k := range s.order {
		v := s.values[string(k)]
		enc := encodeScalarValue(v)
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(enc)))
		buf = append(buf, lenBuf[:]...)
		buf = append(buf, enc...)
	}
	return buf, nil
}

func DeserializeInSet(colType ColumnType, capacity int, nullSkip bool, payload []byte) (*InSetValue, error) {
	if len(payload) < 4 {
		return nil, rferr.SerializationErrorf("in-set payload truncated")
	}
	count := int(binary.BigEndian.Uint32(payload[:4]))
	payload = payload[4:]
	out := NewInSetValue(colType, maxInt(capacity, count), nullSkip)
	for i := 0; i < count; i++ {
		if len(payload) < 4 {
			return nil, rferr.SerializationErrorf("in-set payload truncated at value %d", i)
		}
		n := int(binary.BigEndian.Uint32(payload[:4]))
		payload = payload[4:]
		if len(payload) < n {
			return nil, rferr.SerializationErrorf("in-set payload truncated at value %d body", i)
		}
		v, err := decodeScalarValue(colType, payload[:n])
		if err != nil {
			return nil, err
		}
		payload = payload[n:]
		key := EncodeKey(v)
		out.values[string(key)] = v
		out.order = append(out.order, key)
	}
	return out, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
