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
	"io"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/pierrec/lz4/v4"

	"github.com/jtp38938/doris/pkg/runtimefilter/rferr"
)

// Polarity says whether a bitmap filter's compressed set lists the
// values that are IN the build relation, or the ones that are NOT IN it.
type Polarity uint8

const (
	PolarityIn Polarity = iota
	PolarityNotIn
)

// BitmapValue is a sorted, run-length-compressed set of 64-bit integers
// with a polarity flag. It operates only on
// integer columns. Backed by roaring64.Bitmap, the same roaring family
// the pack's vecgo example wraps for row-id filtering.
type BitmapValue struct {
	colType  ColumnType
	polarity Polarity
	bits     *roaring64.Bitmap
}

func NewBitmapValue(colType ColumnType, polarity Polarity) (*BitmapValue, error) {
	if !colType.IsInteger() {
		return nil, rferr.InvalidConfigf("bitmap filter requires an integer column, got %v", colType)
	}
	return &BitmapValue{colType: colType, polarity: polarity, bits: roaring64.New()}, nil
}

func (b *BitmapValue) Kind() Kind { return KindBitmap }

func (b *BitmapValue) Polarity() Polarity { return b.polarity }

func (b *BitmapValue) Cardinality() uint64 { return b.bits.GetCardinality() }

func scalarToU64(v Scalar) uint64 {
	if v.Type == ColInt128 {
		return v.I128.Lo
	}
	return uint64(v.I64)
}

func (b *BitmapValue) Insert(v Scalar) error {
	if v.Null {
		return nil
	}
	b.bits.Add(scalarToU64(v))
	return nil
}

func (b *BitmapValue) InsertBatch(col Column, rows []int) error {
	vals := make([]uint64, 0, len(rows))
	for _, i := range rows {
		v := col.At(i)
		if v.Null {
			continue
		}
		vals = append(vals, scalarToU64(v))
	}
	b.bits.AddMany(vals)
	return nil
}

// Merge unions the two bitmaps, preserving polarity.
// Merging filters with different polarity is a configuration error:
// the query compiler is responsible for never shuffling together
// in-polarity and not-in-polarity fragments of the same logical filter.
func (b *BitmapValue) Merge(other FilterValue) error {
	o, ok := other.(*BitmapValue)
	if !ok {
		return rferr.InvalidConfigf("bitmap merge expects *BitmapValue, got %T", other)
	}
	if o.polarity != b.polarity {
		return rferr.InvalidConfigf("bitmap merge polarity mismatch")
	}
	b.bits.Or(o.bits)
	return nil
}

func (b *BitmapValue) Probe(v Scalar) Probe {
	if v.Null {
		return ProbeDefinitelyNo
	}
	in := b.bits.Contains(scalarToU64(v))
	present := in
	if b.polarity == PolarityNotIn {
		present = !in
	}
	if present {
		return ProbeMaybe
	}
	return ProbeDefinitelyNo
}

func (b *BitmapValue) Clone() FilterValue {
	return &BitmapValue{colType: b.colType, polarity: b.polarity, bits: b.bits.Clone()}
}

// Serialize encodes the bitmap shape: polarity flag then the
// roaring64-compressed set, LZ4-framed like the bloom payload.
func (b *BitmapValue) Serialize() ([]byte, error) {
	var raw bytes.Buffer
	if _, err := b.bits.WriteTo(&raw); err != nil {
		return nil, rferr.SerializationErrorf("bitmap encode: %v", err)
	}
	var compressed bytes.Buffer
	zw := lz4.NewWriter(&compressed)
	if _, err := zw.Write(raw.Bytes()); err != nil {
		return nil, rferr.SerializationErrorf("bitmap compress: %v", err)
	}
	if err := zw.Close(); err != nil {
		return nil, rferr.SerializationErrorf("bitmap compress close: %v", err)
	}
	out := make([]byte, 0, 5+compressed.Len())
	out = append(out, byte(b.polarity))
	out = appendUint32(out, uint32(raw.Len()))
	out = append(out, compressed.Bytes()...)
	return out, nil
}

func appendUint32(buf []byte, v uint32) []byte {
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func readUint32(buf []byte) uint32 {
	return uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
}

func DeserializeBitmap(colType ColumnType, payload []byte) (*BitmapValue, error) {
	if len(payload) < 5 {
		return nil, rferr.SerializationErrorf("bitmap payload truncated")
	}
	polarity := Polarity(payload[0])
	rawLen := readUint32(payload[1:5])
	compressed := payload[5:]

	zr := lz4.NewReader(bytes.NewReader(compressed))
	raw := make([]byte, rawLen)
	if _, err := io.ReadFull(zr, raw); err != nil {
		return nil, rferr.SerializationErrorf("bitmap decompress: %v", err)
	}
	bits := roaring64.New()
	if _, err := bits.ReadFrom(bytes.NewReader(raw)); err != nil {
		return nil, rferr.SerializationErrorf("bitmap decode: %v", err)
	}
	return &BitmapValue{colType: colType, polarity: polarity, bits: bits}, nil
}
