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
	"bytes"
	"encoding/binary"
	"io"
	"math"

	hll "github.com/axiomhq/hyperloglog"
	"github.com/cespare/xxhash/v2"
	"github.com/pierrec/lz4/v4"

	"github.com/jtp38938/doris/pkg/runtimefilter/rferr"
)

// BloomValue is a fixed-size bit array with k hash functions. Insertion
// is additive, merge is bitwise OR, probe never produces a false
// negative. Size is fixed at construction and never reallocated.
type BloomValue struct {
	colType      ColumnType
	nbits        uint64
	k            int
	words        []uint64
	containsNull bool
	nullSkip     bool

	// sketch estimates the number of distinct values actually inserted,
	// independent of nbits/k, purely for the next query's sizing policy
	//. It never
	// affects this instance's fixed size.
	sketch *hll.Sketch
}

// BloomSize computes the bit-array size m and hash-function count k for
// an expected insertion count n and target false-positive rate p, the
// standard bloom filter sizing formulas.
func BloomSize(n int64, p float64) (m uint64, k int) {
	if n <= 0 {
		n = 1
	}
	if p <= 0 || p >= 1 {
		p = 0.01
	}
	mf := math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2))
	if mf < 64 {
		mf = 64
	}
	m = uint64(mf)
	kf := math.Round(mf / float64(n) * math.Ln2)
	if kf < 1 {
		kf = 1
	}
	if kf > 16 {
		kf = 16
	}
	return m, int(kf)
}

func NewBloomValue(colType ColumnType, expectedInsertions int64, targetFPRate float64, nullSkip bool) *BloomValue {
	m, k := BloomSize(expectedInsertions, targetFPRate)
	return newBloomValueSized(colType, m, k, nullSkip)
}

func newBloomValueSized(colType ColumnType, nbits uint64, k int, nullSkip bool) *BloomValue {
	words := (nbits + 63) / 64
	return &BloomValue{
		colType:  colType,
		nbits:    nbits,
		k:        k,
		words:    make([]uint64, words),
		nullSkip: nullSkip,
		sketch:   hll.New(),
	}
}

func (b *BloomValue) Kind() Kind { return KindBloom }

func (b *BloomValue) BitSize() uint64 { return b.nbits }
func (b *BloomValue) HashCount() int  { return b.k }

// EstimatedNDV reports the hyperloglog estimate of distinct values
// inserted so far, used only as a sizing hint for future filters of the
// same query shape (never to resize this instance).
func (b *BloomValue) EstimatedNDV() uint64 {
	return b.sketch.Estimate()
}

func (b *BloomValue) hashPositions(key []byte) []uint64 {
	h := xxhash.Sum64(key)
	h1 := h
	h2 := (h >> 32) | (h << 32)
	positions := make([]uint64, b.k)
	for i := 0; i < b.k; i++ {
		pos := h1 + uint64(i)*h2
		positions[i] = pos % b.nbits
	}
	return positions
}

func (b *BloomValue) setBit(pos uint64) {
	b.words[pos/64] |= 1 << (pos % 64)
}

func (b *BloomValue) testBit(pos uint64) bool {
	return b.words[pos/64]&(1<<(pos%64)) != 0
}

func (b *BloomValue) Insert(v Scalar) error {
	if v.Null {
		if !b.nullSkip {
			b.containsNull = true
		}
		return nil
	}
	if v.IsNaN() {
		return nil
	}
	key := EncodeKey(v)
	b.sketch.Insert(key)
	for _, pos := range b.hashPositions(key) {
		b.setBit(pos)
	}
	return nil
}

func (b *BloomValue) InsertBatch(col Column, rows []int) error {
	for _, i := range rows {
		if err := b.Insert(col.At(i)); err != nil {
			return err
		}
	}
	return nil
}

// Merge ORs the bit arrays and null flags. Both operands
// must share bit-size and hash-function count; a shuffle build's
// producers are sized identically by construction, so a mismatch here
// indicates a configuration bug upstream.
func (b *BloomValue) Merge(other FilterValue) error {
	o, ok := other.(*BloomValue)
	if !ok {
		return rferr.InvalidConfigf("bloom merge expects *BloomValue, got %T", other)
	}
	if o.nbits != b.nbits || o.k != b.k {
		return rferr.InvalidConfigf("bloom merge size mismatch: %d/%d vs %d/%d", b.nbits, b.k, o.nbits, o.k)
	}
	for i := range b.words {
		b.words[i] |= o.words[i]
	}
	if o.containsNull && !b.nullSkip {
		b.containsNull = true
	}
	b.sketch.Merge(o.sketch) //nolint:errcheck // sketch precisions match by construction
	return nil
}

func (b *BloomValue) Probe(v Scalar) Probe {
	if v.Null {
		return ProbeDefinitelyNo
	}
	key := EncodeKey(v)
	for _, pos := range b.hashPositions(key) {
		if !b.testBit(pos) {
			return ProbeDefinitelyNo
		}
	}
	return ProbeMaybe
}

func (b *BloomValue) Clone() FilterValue {
	c := &BloomValue{
		colType:      b.colType,
		nbits:        b.nbits,
		k:            b.k,
		words:        append([]uint64(nil), b.words...),
		containsNull: b.containsNull,
		nullSkip:     b.nullSkip,
		sketch:       hll.New(),
	}
	c.sketch.Merge(b.sketch) //nolint:errcheck
	return c
}

// Serialize encodes the bloom shape (bit-size, hash-fn count, raw
// bits), LZ4-compressing the bit array.
func (b *BloomValue) Serialize() ([]byte, error) {
	raw := make([]byte, len(b.words)*8)
	for i, w := range b.words {
		binary.BigEndian.PutUint64(raw[i*8:], w)
	}
	var compressed bytes.Buffer
	zw := lz4.NewWriter(&compressed)
	if _, err := zw.Write(raw); err != nil {
		return nil, rferr.SerializationErrorf("bloom compress: %v", err)
	}
	if err := zw.Close(); err != nil {
		return nil, rferr.SerializationErrorf("bloom compress close: %v", err)
	}

	out := make([]byte, 0, 13+compressed.Len())
	var sizeBuf [8]byte
	binary.BigEndian.PutUint64(sizeBuf[:], b.nbits)
	out = append(out, sizeBuf[:]...)
	out = append(out, byte(b.k))
	var rawLenBuf [4]byte
	binary.BigEndian.PutUint32(rawLenBuf[:], uint32(len(raw)))
	out = append(out, rawLenBuf[:]...)
	out = append(out, compressed.Bytes()...)
	return out, nil
}

func DeserializeBloom(colType ColumnType, nullSkip bool, payload []byte) (*BloomValue, error) {
	if len(payload) < 13 {
		return nil, rferr.SerializationErrorf("bloom payload truncated")
	}
	nbits := binary.BigEndian.Uint64(payload[:8])
	k := int(payload[8])
	rawLen := int(binary.BigEndian.Uint32(payload[9:13]))
	compressed := payload[13:]

	zr := lz4.NewReader(bytes.NewReader(compressed))
	raw := make([]byte, rawLen)
	if _, err := io.ReadFull(zr, raw); err != nil {
		return nil, rferr.SerializationErrorf("bloom decompress: %v", err)
	}

	b := newBloomValueSized(colType, nbits, k, nullSkip)
	for i := range b.words {
		b.words[i] = binary.BigEndian.Uint64(raw[i*8:])
	}
	return b, nil
}
