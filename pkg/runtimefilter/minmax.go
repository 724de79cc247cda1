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

// MinMaxValue is a closed interval [lo, hi] with both endpoints
// optional. A fresh value has neither endpoint
// set, which Probe treats as [-inf, +inf] (always Maybe).
type MinMaxValue struct {
	colType  ColumnType
	hasLo    bool
	hasHi    bool
	lo, hi   Scalar
	nullSkip bool
}

func NewMinMaxValue(colType ColumnType, nullSkip bool) *MinMaxValue {
	return &MinMaxValue{colType: colType, nullSkip: nullSkip}
}

func (m *MinMaxValue) Kind() Kind { return KindMinMax }

func (m *MinMaxValue) HasLo() bool  { return m.hasLo }
func (m *MinMaxValue) HasHi() bool  { return m.hasHi }
func (m *MinMaxValue) Lo() Scalar   { return m.lo }
func (m *MinMaxValue) Hi() Scalar   { return m.hi }

func (m *MinMaxValue) Insert(v Scalar) error {
	if v.Null || v.IsNaN() {
		return nil
	}
	if !m.hasLo || Compare(v, m.lo) < 0 {
		m.lo = v
		m.hasLo = true
	}
	if !m.hasHi || Compare(v, m.hi) > 0 {
		m.hi = v
		m.hasHi = true
	}
	return nil
}

func (m *MinMaxValue) InsertBatch(col Column, rows []int) error {
	for _, i := range rows {
		_ = m.Insert(col.At(i))
	}
	return nil
}

// Merge computes the interval hull of the two operands.
func (m *MinMaxValue) Merge(other FilterValue) error {
	o, ok := other.(*MinMaxValue)
	if !ok {
		return rferr.InvalidConfigf("min-max merge expects *MinMaxValue, got %T", other)
	}
	if o.hasLo {
		_ = m.Insert(o.lo)
	}
	if o.hasHi {
		_ = m.Insert(o.hi)
	}
	return nil
}

func (m *MinMaxValue) Probe(v Scalar) Probe {
	if v.Null {
		return ProbeDefinitelyNo
	}
	if m.hasLo && Compare(v, m.lo) < 0 {
		return ProbeDefinitelyNo
	}
	if m.hasHi && Compare(v, m.hi) > 0 {
		return ProbeDefinitelyNo
	}
	return ProbeMaybe
}

func (m *MinMaxValue) Clone() FilterValue {
	c := *m
	return &c
}

// Serialize encodes the min-max shape: two length-prefixed values,
// each optionally null (encoded as a present/absent flag byte ahead of
// the usual encodeScalarValue envelope).
func (m *MinMaxValue) Serialize() ([]byte, error) {
	var out []byte
	out = appendOptionalScalar(out, m.hasLo, m.lo)
	out = appendOptionalScalar(out, m.hasHi, m.hi)
	return out, nil
}

func appendOptionalScalar(buf []byte, present bool, v Scalar) []byte {
	if !present {
		return append(buf, 0)
	}
	enc := encodeScalarValue(v)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(enc)))
	buf = append(buf, 1)
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, enc...)
	return buf
}

func readOptionalScalar(colType ColumnType, data []byte) (has bool, v Scalar, rest []byte, err error) {
	if len(data) < 1 {
		return false, Scalar{}, nil, rferr.SerializationErrorf("min-max payload truncated")
	}
	present := data[0]
	data = data[1:]
	if present == 0 {
		return false, Scalar{}, data, nil
	}
	if len(data) < 4 {
		return false, Scalar{}, nil, rferr.SerializationErrorf("min-max payload truncated (len)")
	}
	n := int(binary.BigEndian.Uint32(data[:4]))
	data = data[4:]
	if len(data) < n {
		return false, Scalar{}, nil, rferr.SerializationErrorf("min-max payload truncated (body)")
	}
	sv, err := decodeScalarValue(colType, data[:n])
	if err != nil {
		return false, Scalar{}, nil, err
	}
	return true, sv, data[n:], nil
}

func DeserializeMinMax(colType ColumnType, nullSkip bool, payload []byte) (*MinMaxValue, error) {
	out := NewMinMaxValue(colType, nullSkip)
	hasLo, lo, rest, err := readOptionalScalar(colType, payload)
	if err != nil {
		return nil, err
	}
	hasHi, hi, _, err := readOptionalScalar(colType, rest)
	if err != nil {
		return nil, err
	}
	out.hasLo, out.lo = hasLo, lo
	out.hasHi, out.hi = hasHi, hi
	return out, nil
}
