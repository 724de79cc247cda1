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

package predicate

import (
	"fmt"
	"math/big"

	rf "github.com/jtp38938/doris/pkg/runtimefilter"
	"github.com/jtp38938/doris/pkg/runtimefilter/rferr"
)

// Literal is a concrete literal predicate node: the
// scalar value plus its bound column type, ready to feed either a sink
// or the expression evaluator when pushdown is not possible.
type Literal struct {
	Scalar rf.Scalar
}

// literalSupported is the closed set of literal-constructible types:
// bool, int{8,16,32,64,128}, float, double, decimal{v2,32,64,128},
// date, datetime, date-v2, datetime-v2, time, char, varchar, string.
// "time" and decimal-v2 have no distinct ColumnType of their own in
// this module (they fold into ColDecimalLegacy/ColInt64-canonical the
// way every other canonicalized temporal/decimal type does), so the
// check below accepts the full rf.ColumnType enum except hll, which
// is not a literal-constructible type.
func literalSupported(t rf.ColumnType) bool {
	return t != rf.ColHLL
}

// NewLiteral constructs a literal predicate node for v bound to
// colType, failing with invalid-argument (rferr.InvalidConfig) for
// unsupported types.
func NewLiteral(colType rf.ColumnType, v rf.Scalar) (Literal, error) {
	if !literalSupported(colType) {
		return Literal{}, rferr.InvalidConfigf("literal construction unsupported for column type %v", colType)
	}
	v.Type = colType
	return Literal{Scalar: v}, nil
}

// BoolLiteral, IntLiteral, etc. are typed convenience constructors over
// NewLiteral for the call sites that already know their value's shape.
func BoolLiteral(v bool) Literal {
	lit, _ := NewLiteral(rf.ColBool, rf.BoolScalar(v))
	return lit
}

func IntLiteral(colType rf.ColumnType, v int64) (Literal, error) {
	return NewLiteral(colType, rf.IntScalar(colType, v))
}

func Int128Literal(v rf.Int128) (Literal, error) {
	return NewLiteral(rf.ColInt128, rf.Int128Scalar(v))
}

func FloatLiteral(v float32) (Literal, error) {
	return NewLiteral(rf.ColFloat, rf.FloatScalar(v))
}

func DoubleLiteral(v float64) (Literal, error) {
	return NewLiteral(rf.ColDouble, rf.DoubleScalar(v))
}

// DecimalLiteral carries a string encoding of the decimal value to
// avoid double-rounding, parsed into a mantissa/scale
// pair at the given scale.
func DecimalLiteral(colType rf.ColumnType, decimalString string, scale int32) (Literal, error) {
	m, err := parseDecimalString(decimalString, scale)
	if err != nil {
		return Literal{}, rferr.DataQualityf("decimal literal %q: %v", decimalString, err)
	}
	return NewLiteral(colType, rf.DecimalScalar(colType, m))
}

func DateTimeLiteral(colType rf.ColumnType, canonical int64) (Literal, error) {
	return NewLiteral(colType, rf.DateTimeScalar(colType, canonical))
}

func StringLiteral(colType rf.ColumnType, raw []byte) (Literal, error) {
	return NewLiteral(colType, rf.BytesScalar(colType, raw))
}

func NullLiteral(colType rf.ColumnType) Literal {
	return Literal{Scalar: rf.NullScalar(colType)}
}

// parseDecimalString parses a plain decimal string ("-123.4500") into a
// big.Int mantissa at the requested scale, without going through a
// float64 intermediate, which would introduce double-rounding error.
func parseDecimalString(s string, scale int32) (rf.Decimal, error) {
	neg := false
	if len(s) > 0 && (s[0] == '+' || s[0] == '-') {
		neg = s[0] == '-'
		s = s[1:]
	}
	intPart, fracPart := s, ""
	for i, c := range s {
		if c == '.' {
			intPart, fracPart = s[:i], s[i+1:]
			break
		}
	}
	if len(fracPart) > int(scale) {
		return rf.Decimal{}, fmt.Errorf("more fractional digits than scale %d", scale)
	}
	for len(fracPart) < int(scale) {
		fracPart += "0"
	}
	digits := intPart + fracPart
	if digits == "" {
		digits = "0"
	}
	m, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return rf.Decimal{}, fmt.Errorf("invalid decimal digits %q", digits)
	}
	if neg {
		m.Neg(m)
	}
	return rf.Decimal{Mantissa: m, Scale: scale}, nil
}
