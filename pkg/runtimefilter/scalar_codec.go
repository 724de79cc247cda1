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
	"math"
	"math/big"

	"github.com/jtp38938/doris/pkg/runtimefilter/rferr"
)

// encodeScalarValue/decodeScalarValue implement the per-value encoding
// the in-set and min-max wire payloads are built from: a
// single leading null byte, then a type-specific, self-delimiting body
// so a value decodes correctly regardless of what length prefix the
// caller wraps it in.
func encodeScalarValue(v Scalar) []byte {
	if v.Null {
		return []byte{1}
	}
	out := []byte{0}
	switch {
	case v.Type.IsString():
		out = append(out, v.Bytes...)
	case v.Type.IsDecimal():
		var scaleBuf [4]byte
		binary.BigEndian.PutUint32(scaleBuf[:], uint32(v.Decimal.Scale))
		out = append(out, scaleBuf[:]...)
		sign := byte(0)
		var mbytes []byte
		if v.Decimal.Mantissa != nil {
			if v.Decimal.Mantissa.Sign() < 0 {
				sign = 1
			}
			mbytes = v.Decimal.Mantissa.Bytes()
		}
		out = append(out, sign)
		var mlenBuf [4]byte
		binary.BigEndian.PutUint32(mlenBuf[:], uint32(len(mbytes)))
		out = append(out, mlenBuf[:]...)
		out = append(out, mbytes...)
	case v.Type == ColFloat || v.Type == ColDouble:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], math.Float64bits(v.F64))
		out = append(out, b[:]...)
	case v.Type == ColInt128:
		var b [16]byte
		binary.BigEndian.PutUint64(b[0:8], uint64(v.I128.Hi))
		binary.BigEndian.PutUint64(b[8:16], v.I128.Lo)
		out = append(out, b[:]...)
	default:
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(v.I64))
		out = append(out, b[:]...)
	}
	return out
}

func decodeScalarValue(colType ColumnType, data []byte) (Scalar, error) {
	if len(data) == 0 {
		return Scalar{}, rferr.SerializationErrorf("empty scalar payload")
	}
	if data[0] == 1 {
		return NullScalar(colType), nil
	}
	body := data[1:]
	switch {
	case colType.IsString():
		return BytesScalar(colType, append([]byte(nil), body...)), nil
	case colType.IsDecimal():
		if len(body) < 9 {
			return Scalar{}, rferr.SerializationErrorf("decimal scalar payload truncated")
		}
		scale := int32(binary.BigEndian.Uint32(body[:4]))
		sign := body[4]
		mlen := int(binary.BigEndian.Uint32(body[5:9]))
		body = body[9:]
		if len(body) < mlen {
			return Scalar{}, rferr.SerializationErrorf("decimal mantissa truncated")
		}
		m := new(big.Int).SetBytes(body[:mlen])
		if sign == 1 {
			m.Neg(m)
		}
		return DecimalScalar(colType, Decimal{Mantissa: m, Scale: scale}), nil
	case colType == ColFloat || colType == ColDouble:
		if len(body) < 8 {
			return Scalar{}, rferr.SerializationErrorf("float scalar payload truncated")
		}
		return DoubleScalar(math.Float64frombits(binary.BigEndian.Uint64(body[:8]))).withType(colType), nil
	case colType == ColInt128:
		if len(body) < 16 {
			return Scalar{}, rferr.SerializationErrorf("int128 scalar payload truncated")
		}
		hi := int64(binary.BigEndian.Uint64(body[0:8]))
		lo := binary.BigEndian.Uint64(body[8:16])
		return Int128Scalar(Int128{Hi: hi, Lo: lo}), nil
	default:
		if len(body) < 8 {
			return Scalar{}, rferr.SerializationErrorf("scalar payload truncated")
		}
		return IntScalar(colType, int64(binary.BigEndian.Uint64(body[:8]))), nil
	}
}

func (s Scalar) withType(t ColumnType) Scalar {
	s.Type = t
	return s
}
