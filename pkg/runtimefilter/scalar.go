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
	"bytes"
	"encoding/binary"
	"math"
	"math/big"
)

// Int128 is a signed 128-bit integer split into a high/low pair.
type Int128 struct {
	Hi int64
	Lo uint64
}

func (v Int128) cmp(o Int128) int {
	if v.Hi != o.Hi {
		if v.Hi < o.Hi {
			return -1
		}
		return 1
	}
	if v.Lo == o.Lo {
		return 0
	}
	if v.Lo < o.Lo {
		return -1
	}
	return 1
}

// Decimal is a fixed-point decimal bound to a (precision, scale) pair,
// carried as a big.Int mantissa. Decimal comparisons use the bound
// column's (precision, scale) and rescale the inserted value first;
// Rescale does that.
type Decimal struct {
	Mantissa *big.Int
	Scale    int32
}

// Rescale returns a Decimal equal in value to d but expressed at the
// target scale, matching the bound column before comparison/insertion.
func (d Decimal) Rescale(targetScale int32) Decimal {
	if d.Mantissa == nil {
		return Decimal{Mantissa: big.NewInt(0), Scale: targetScale}
	}
	diff := targetScale - d.Scale
	m := new(big.Int).Set(d.Mantissa)
	if diff > 0 {
		m.Mul(m, pow10(diff))
	} else if diff < 0 {
		m.Quo(m, pow10(-diff))
	}
	return Decimal{Mantissa: m, Scale: targetScale}
}

func pow10(n int32) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

func (d Decimal) cmp(o Decimal) int {
	a, b := d, o
	if a.Scale != b.Scale {
		if a.Scale < b.Scale {
			a = a.Rescale(b.Scale)
		} else {
			b = b.Rescale(a.Scale)
		}
	}
	if a.Mantissa == nil {
		a.Mantissa = big.NewInt(0)
	}
	if b.Mantissa == nil {
		b.Mantissa = big.NewInt(0)
	}
	return a.Mantissa.Cmp(b.Mantissa)
}

// Scalar is one value bound to a ColumnType: the common currency
// FilterValue implementations insert and probe. Exactly one of the
// payload fields is meaningful for a given Type; Null overrides all of
// them. NaN floats are never constructed into a Scalar by the
// producer-facing API.
type Scalar struct {
	Type    ColumnType
	Null    bool
	I64     int64
	I128    Int128
	F64     float64
	Decimal Decimal
	Bytes   []byte // string/char/varchar raw bytes, or an hll opaque blob
}

func NullScalar(t ColumnType) Scalar { return Scalar{Type: t, Null: true} }

func BoolScalar(v bool) Scalar {
	var i int64
	if v {
		i = 1
	}
	return Scalar{Type: ColBool, I64: i}
}

func IntScalar(t ColumnType, v int64) Scalar { return Scalar{Type: t, I64: v} }

func Int128Scalar(v Int128) Scalar { return Scalar{Type: ColInt128, I128: v} }

func FloatScalar(v float32) Scalar { return Scalar{Type: ColFloat, F64: float64(v)} }

func DoubleScalar(v float64) Scalar { return Scalar{Type: ColDouble, F64: v} }

func DecimalScalar(t ColumnType, v Decimal) Scalar { return Scalar{Type: t, Decimal: v} }

// DateTimeScalar stores the canonical integer representation of a
// date/datetime value (micros since epoch, or whatever canonicalization
// the caller uses consistently -- the filter never interprets the
// integer itself, only compares it).
func DateTimeScalar(t ColumnType, canonical int64) Scalar { return Scalar{Type: t, I64: canonical} }

func BytesScalar(t ColumnType, v []byte) Scalar { return Scalar{Type: t, Bytes: v} }

// IsNaN reports whether a float/double scalar carries a NaN payload.
// Producers must never insert such a value; this is used
// defensively at the insert boundary.
func (s Scalar) IsNaN() bool {
	return (s.Type == ColFloat || s.Type == ColDouble) && math.IsNaN(s.F64)
}

// Compare returns -1, 0, or 1 for a<b, a==b, a>b under the column
// type's numerical semantics: lexicographic raw bytes for strings,
// canonical integer for datetimes, rescaled mantissa for decimals, IEEE-754
// ordering for floats. Comparing across different Null-ness or
// incompatible types is the caller's responsibility to avoid; Compare
// assumes both scalars share a.Type == b.Type.
func Compare(a, b Scalar) int {
	switch {
	case a.Type.IsString():
		return bytes.Compare(a.Bytes, b.Bytes)
	case a.Type.IsDecimal():
		return a.Decimal.cmp(b.Decimal)
	case a.Type == ColFloat || a.Type == ColDouble:
		switch {
		case a.F64 < b.F64:
			return -1
		case a.F64 > b.F64:
			return 1
		default:
			return 0
		}
	case a.Type == ColInt128:
		return a.I128.cmp(b.I128)
	default:
		switch {
		case a.I64 < b.I64:
			return -1
		case a.I64 > b.I64:
			return 1
		default:
			return 0
		}
	}
}

// EncodeKey produces a canonical, comparable byte encoding of a scalar,
// used both as the hash-map dedup key for in-set storage and as the
// input to the bloom filter's hash functions. Two scalars that Compare
// equal and share a type always encode identically.
func EncodeKey(s Scalar) []byte {
	if s.Null {
		return []byte{0xFF}
	}
	var buf bytes.Buffer
	switch {
	case s.Type.IsString():
		buf.Write(s.Bytes)
	case s.Type.IsDecimal():
		// Encode the reduced fraction mantissa/10^scale so values that
		// Compare equal at different scales (1.0 vs 1.00) share one key.
		m := s.Decimal.Mantissa
		if m == nil {
			m = new(big.Int)
		}
		buf.WriteString(new(big.Rat).SetFrac(m, pow10(s.Decimal.Scale)).String())
	case s.Type == ColFloat || s.Type == ColDouble:
		f := s.F64
		if f == 0 {
			f = 0 // -0 and +0 Compare equal; encode both as +0
		}
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(f))
		buf.Write(b[:])
	case s.Type == ColInt128:
		var b [16]byte
		binary.BigEndian.PutUint64(b[0:8], uint64(s.I128.Hi))
		binary.BigEndian.PutUint64(b[8:16], s.I128.Lo)
		buf.Write(b[:])
	default:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(s.I64))
		buf.Write(b[:])
	}
	return buf.Bytes()
}
