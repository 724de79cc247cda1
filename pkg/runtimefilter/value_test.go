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
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInSetInsertProbe(t *testing.T) {
	s := NewInSetValue(ColInt64, 8, false)
	for _, v := range []int64{7, 11, 13} {
		require.NoError(t, s.Insert(IntScalar(ColInt64, v)))
	}
	require.Equal(t, ProbeMaybe, s.Probe(IntScalar(ColInt64, 11)))
	require.Equal(t, ProbeDefinitelyNo, s.Probe(IntScalar(ColInt64, 9)))
}

func TestInSetCapacityExceeded(t *testing.T) {
	s := NewInSetValue(ColInt64, 2, false)
	require.NoError(t, s.Insert(IntScalar(ColInt64, 1)))
	require.NoError(t, s.Insert(IntScalar(ColInt64, 2)))
	err := s.Insert(IntScalar(ColInt64, 3))
	require.True(t, errors.Is(err, ErrCapacityExceeded))
	// a duplicate of an already-present value never counts against capacity
	require.NoError(t, s.Insert(IntScalar(ColInt64, 1)))
}

func TestInSetSerializeRoundTrip(t *testing.T) {
	s := NewInSetValue(ColVarchar, 8, false)
	require.NoError(t, s.Insert(BytesScalar(ColVarchar, []byte("a"))))
	require.NoError(t, s.Insert(BytesScalar(ColVarchar, []byte("bb"))))
	require.NoError(t, s.Insert(NullScalar(ColVarchar)))

	payload, err := s.Serialize()
	require.NoError(t, err)
	out, err := DeserializeInSet(ColVarchar, 8, false, payload)
	require.NoError(t, err)
	require.Equal(t, ProbeMaybe, out.Probe(BytesScalar(ColVarchar, []byte("a"))))
	require.Equal(t, ProbeDefinitelyNo, out.Probe(BytesScalar(ColVarchar, []byte("c"))))
	// the in-set body carries only the count and the values; the null
	// flag travels in the wire header (FlagNullContained), not here
	require.False(t, out.ContainsNull())
}

func TestMinMaxTightensAndHull(t *testing.T) {
	a := NewMinMaxValue(ColInt64, false)
	for _, v := range []int64{10, 1, 100} {
		require.NoError(t, a.Insert(IntScalar(ColInt64, v)))
	}
	require.Equal(t, int64(1), a.Lo().I64)
	require.Equal(t, int64(100), a.Hi().I64)

	b := NewMinMaxValue(ColInt64, false)
	require.NoError(t, b.Insert(IntScalar(ColInt64, 50)))
	require.NoError(t, b.Insert(IntScalar(ColInt64, 200)))

	require.NoError(t, a.Merge(b))
	require.Equal(t, int64(1), a.Lo().I64)
	require.Equal(t, int64(200), a.Hi().I64)
}

func TestMinMaxSerializeRoundTrip(t *testing.T) {
	m := NewMinMaxValue(ColInt64, false)
	require.NoError(t, m.Insert(IntScalar(ColInt64, 5)))
	require.NoError(t, m.Insert(IntScalar(ColInt64, 50)))
	payload, err := m.Serialize()
	require.NoError(t, err)
	out, err := DeserializeMinMax(ColInt64, false, payload)
	require.NoError(t, err)
	require.Equal(t, ProbeMaybe, out.Probe(IntScalar(ColInt64, 20)))
	require.Equal(t, ProbeDefinitelyNo, out.Probe(IntScalar(ColInt64, 51)))
}

func TestMinMaxUnboundedEndpointAcceptsEverything(t *testing.T) {
	m := NewMinMaxValue(ColInt64, false)
	require.Equal(t, ProbeMaybe, m.Probe(IntScalar(ColInt64, -9999)))
}

func TestBloomNoFalseNegatives(t *testing.T) {
	b := NewBloomValue(ColInt64, 1000, 0.01, false)
	for i := int64(0); i < 1000; i++ {
		require.NoError(t, b.Insert(IntScalar(ColInt64, i)))
	}
	for i := int64(0); i < 1000; i++ {
		require.Equal(t, ProbeMaybe, b.Probe(IntScalar(ColInt64, i)))
	}
}

func TestBloomMergeRequiresMatchingSize(t *testing.T) {
	a := NewBloomValue(ColInt64, 100, 0.01, false)
	b := NewBloomValue(ColInt64, 100000, 0.01, false)
	err := a.Merge(b)
	require.Error(t, err)
}

func TestBloomSerializeRoundTrip(t *testing.T) {
	b := NewBloomValue(ColInt64, 100, 0.01, false)
	require.NoError(t, b.Insert(IntScalar(ColInt64, 42)))
	payload, err := b.Serialize()
	require.NoError(t, err)
	out, err := DeserializeBloom(ColInt64, false, payload)
	require.NoError(t, err)
	require.Equal(t, ProbeMaybe, out.Probe(IntScalar(ColInt64, 42)))
}

func TestBloomSizeFormula(t *testing.T) {
	m, k := BloomSize(1000, 0.01)
	require.Greater(t, m, uint64(0))
	require.GreaterOrEqual(t, k, 1)
	require.LessOrEqual(t, k, 16)
}

func TestInOrBloomPromotesAtCapacity(t *testing.T) {
	v := NewInOrBloomValue(ColInt64, 4, 100, 0.01, false)
	for _, x := range []int64{1, 2, 3, 4} {
		require.NoError(t, v.Insert(IntScalar(ColInt64, x)))
	}
	require.False(t, v.IsPromoted())

	require.NoError(t, v.Insert(IntScalar(ColInt64, 5)))
	require.True(t, v.IsPromoted())
	for _, x := range []int64{1, 2, 3, 4, 5} {
		require.Equal(t, ProbeMaybe, v.Probe(IntScalar(ColInt64, x)))
	}
}

func TestInOrBloomMergePromotesOnOverflow(t *testing.T) {
	a := NewInOrBloomValue(ColInt64, 4, 100, 0.01, false)
	require.NoError(t, a.Insert(IntScalar(ColInt64, 1)))
	require.NoError(t, a.Insert(IntScalar(ColInt64, 2)))

	b := NewInOrBloomValue(ColInt64, 4, 100, 0.01, false)
	require.NoError(t, b.Insert(IntScalar(ColInt64, 3)))
	require.NoError(t, b.Insert(IntScalar(ColInt64, 4)))
	require.NoError(t, b.Insert(IntScalar(ColInt64, 5)))

	require.NoError(t, a.Merge(b))
	require.True(t, a.IsPromoted())
	for _, x := range []int64{1, 2, 3, 4, 5} {
		require.Equal(t, ProbeMaybe, a.Probe(IntScalar(ColInt64, x)))
	}
}

func TestInOrBloomSerializeRoundTripBothForms(t *testing.T) {
	set := NewInOrBloomValue(ColInt64, 4, 100, 0.01, false)
	require.NoError(t, set.Insert(IntScalar(ColInt64, 1)))
	payload, err := set.Serialize()
	require.NoError(t, err)
	out, err := DeserializeInOrBloom(ColInt64, 4, 100, 0.01, false, payload)
	require.NoError(t, err)
	require.False(t, out.IsPromoted())
	require.Equal(t, ProbeMaybe, out.Probe(IntScalar(ColInt64, 1)))

	bloom := NewInOrBloomValue(ColInt64, 2, 100, 0.01, false)
	for _, x := range []int64{1, 2, 3} {
		require.NoError(t, bloom.Insert(IntScalar(ColInt64, x)))
	}
	require.True(t, bloom.IsPromoted())
	payload, err = bloom.Serialize()
	require.NoError(t, err)
	out, err = DeserializeInOrBloom(ColInt64, 2, 100, 0.01, false, payload)
	require.NoError(t, err)
	require.True(t, out.IsPromoted())
	require.Equal(t, ProbeMaybe, out.Probe(IntScalar(ColInt64, 2)))
}

func TestBitmapPolarity(t *testing.T) {
	in, err := NewBitmapValue(ColInt64, PolarityIn)
	require.NoError(t, err)
	require.NoError(t, in.Insert(IntScalar(ColInt64, 5)))
	require.Equal(t, ProbeMaybe, in.Probe(IntScalar(ColInt64, 5)))
	require.Equal(t, ProbeDefinitelyNo, in.Probe(IntScalar(ColInt64, 6)))

	notIn, err := NewBitmapValue(ColInt64, PolarityNotIn)
	require.NoError(t, err)
	require.NoError(t, notIn.Insert(IntScalar(ColInt64, 5)))
	require.Equal(t, ProbeDefinitelyNo, notIn.Probe(IntScalar(ColInt64, 5)))
	require.Equal(t, ProbeMaybe, notIn.Probe(IntScalar(ColInt64, 6)))
}

func TestBitmapRejectsNonIntegerColumn(t *testing.T) {
	_, err := NewBitmapValue(ColVarchar, PolarityIn)
	require.Error(t, err)
}

func TestBitmapMergeRejectsPolarityMismatch(t *testing.T) {
	a, _ := NewBitmapValue(ColInt64, PolarityIn)
	b, _ := NewBitmapValue(ColInt64, PolarityNotIn)
	require.Error(t, a.Merge(b))
}

func TestBitmapSerializeRoundTrip(t *testing.T) {
	b, err := NewBitmapValue(ColInt64, PolarityIn)
	require.NoError(t, err)
	for _, v := range []int64{1, 1000, 1000000} {
		require.NoError(t, b.Insert(IntScalar(ColInt64, v)))
	}
	payload, err := b.Serialize()
	require.NoError(t, err)
	out, err := DeserializeBitmap(ColInt64, payload)
	require.NoError(t, err)
	require.Equal(t, ProbeMaybe, out.Probe(IntScalar(ColInt64, 1000)))
	require.Equal(t, ProbeDefinitelyNo, out.Probe(IntScalar(ColInt64, 2)))
}

// TestMergeAlgebra checks that Merge is commutative, associative, and
// idempotent up to probe equivalence across each value kind.
func TestMergeAlgebra(t *testing.T) {
	newTriple := func() (FilterValue, FilterValue, FilterValue) {
		a := NewMinMaxValue(ColInt64, false)
		b := NewMinMaxValue(ColInt64, false)
		c := NewMinMaxValue(ColInt64, false)
		require.NoError(t, a.Insert(IntScalar(ColInt64, 1)))
		require.NoError(t, b.Insert(IntScalar(ColInt64, 50)))
		require.NoError(t, c.Insert(IntScalar(ColInt64, 100)))
		return a, b, c
	}

	a1, b1, c1 := newTriple()
	require.NoError(t, a1.Merge(b1))
	require.NoError(t, a1.Merge(c1))

	a2, b2, c2 := newTriple()
	require.NoError(t, b2.Merge(c2))
	require.NoError(t, a2.Merge(b2))

	probe := IntScalar(ColInt64, 75)
	require.Equal(t, a1.Probe(probe), a2.Probe(probe))

	// idempotent: merging a value with a clone of itself changes nothing
	a3, _, _ := newTriple()
	clone := a3.Clone()
	require.NoError(t, a3.Merge(clone))
	require.Equal(t, clone.Probe(probe), a3.Probe(probe))
}
