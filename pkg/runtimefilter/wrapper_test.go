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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapperIgnoredDegradesToAlwaysTrue(t *testing.T) {
	w, err := NewFilterWrapper(KindInSet, ColInt64, WrapperOptions{Capacity: 4})
	require.NoError(t, err)
	require.NoError(t, w.Insert(IntScalar(ColInt64, 1)))
	require.Equal(t, ProbeDefinitelyNo, w.Probe(IntScalar(ColInt64, 2)))

	w.MarkIgnored("transport error: boom")
	require.True(t, w.IsIgnored())
	require.Equal(t, ProbeMaybe, w.Probe(IntScalar(ColInt64, 2)))
	require.Equal(t, "transport error: boom", w.IgnoredReason())

	// first reason wins
	w.MarkIgnored("second reason")
	require.Equal(t, "transport error: boom", w.IgnoredReason())
}

func TestWrapperEmptyBuildIsConstantFalse(t *testing.T) {
	w, err := NewFilterWrapper(KindMinMax, ColInt64, WrapperOptions{})
	require.NoError(t, err)
	w.MarkEmptyBuild()
	require.True(t, w.IsConstantFalse())
	require.Equal(t, ProbeDefinitelyNo, w.Probe(IntScalar(ColInt64, 1)))
}

func TestWrapperMergeConstantFalseOnlyStickyWhenBothEmpty(t *testing.T) {
	empty, err := NewFilterWrapper(KindMinMax, ColInt64, WrapperOptions{})
	require.NoError(t, err)
	empty.MarkEmptyBuild()

	nonEmpty, err := NewFilterWrapper(KindMinMax, ColInt64, WrapperOptions{})
	require.NoError(t, err)
	require.NoError(t, nonEmpty.Insert(IntScalar(ColInt64, 42)))

	require.NoError(t, empty.Merge(nonEmpty))
	require.False(t, empty.IsConstantFalse())
	require.Equal(t, ProbeMaybe, empty.Probe(IntScalar(ColInt64, 42)))
}

func TestWrapperMergeTwoEmptyStaysConstantFalse(t *testing.T) {
	a, err := NewFilterWrapper(KindMinMax, ColInt64, WrapperOptions{})
	require.NoError(t, err)
	a.MarkEmptyBuild()
	b, err := NewFilterWrapper(KindMinMax, ColInt64, WrapperOptions{})
	require.NoError(t, err)
	b.MarkEmptyBuild()

	require.NoError(t, a.Merge(b))
	require.True(t, a.IsConstantFalse())
}

func TestWrapperChangeToBloomFromInSet(t *testing.T) {
	w, err := NewFilterWrapper(KindInSet, ColInt64, WrapperOptions{Capacity: 8, ExpectedInsertions: 4, TargetFPRate: 0.05})
	require.NoError(t, err)
	for _, v := range []int64{1, 2, 3} {
		require.NoError(t, w.Insert(IntScalar(ColInt64, v)))
	}
	require.NoError(t, w.ChangeToBloom())
	require.Equal(t, KindBloom, w.Kind())
	require.Equal(t, ProbeMaybe, w.Probe(IntScalar(ColInt64, 2)))
}

func TestWrapperChangeToBloomRejectsMinMax(t *testing.T) {
	w, err := NewFilterWrapper(KindMinMax, ColInt64, WrapperOptions{})
	require.NoError(t, err)
	require.Error(t, w.ChangeToBloom())
}

func TestWrapperSerializeRoundTrip(t *testing.T) {
	w, err := NewFilterWrapper(KindInSet, ColInt64, WrapperOptions{Capacity: 8})
	require.NoError(t, err)
	require.NoError(t, w.Insert(IntScalar(ColInt64, 99)))

	payload, err := w.Serialize()
	require.NoError(t, err)

	out, err := NewFilterWrapper(KindInSet, ColInt64, WrapperOptions{Capacity: 8})
	require.NoError(t, err)
	require.NoError(t, out.LoadSerialized(payload))
	require.Equal(t, w.Probe(IntScalar(ColInt64, 99)), out.Probe(IntScalar(ColInt64, 99)))
}

func TestWrapperMergeRejectsColumnTypeMismatch(t *testing.T) {
	a, err := NewFilterWrapper(KindMinMax, ColInt64, WrapperOptions{})
	require.NoError(t, err)
	b, err := NewFilterWrapper(KindMinMax, ColInt32, WrapperOptions{})
	require.NoError(t, err)
	require.Error(t, a.Merge(b))
}
