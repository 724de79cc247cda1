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
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeDistributor is a minimal in-memory Distributor for tests that don't
// need the full rftransport.Board.
type fakeDistributor struct {
	local     map[FilterID][]byte
	remoteErr error
	remoteN   int
}

func newFakeDistributor() *fakeDistributor {
	return &fakeDistributor{local: make(map[FilterID][]byte)}
}

func (f *fakeDistributor) SignalLocal(fragID FragmentInstanceID, filterID FilterID, payload []byte) {
	f.local[filterID] = payload
}

func (f *fakeDistributor) SendRemote(ctx context.Context, fragID FragmentInstanceID, filterID FilterID, payload []byte) error {
	f.remoteN++
	return f.remoteErr
}

func TestInstanceProducerLifecycle(t *testing.T) {
	wrapper, err := NewFilterWrapper(KindInSet, ColInt64, WrapperOptions{Capacity: 8})
	require.NoError(t, err)
	frag := NewFragmentInstanceID()
	producer := NewFilterInstance(1, frag, RoleProducer, wrapper, InstanceOptions{TargetClass: TargetLocal, BuildClass: BuildBroadcast})

	require.NoError(t, producer.Insert(IntScalar(ColInt64, 7)))
	require.NoError(t, producer.ReadyForPublish())
	require.Error(t, producer.Insert(IntScalar(ColInt64, 8))) // insert after ready_for_publish is rejected

	dist := newFakeDistributor()
	require.NoError(t, producer.Publish(context.Background(), dist))
	require.NotNil(t, dist.local[1])
}

func TestInstanceConsumerUpdateSignalsReady(t *testing.T) {
	wrapper, err := NewFilterWrapper(KindInSet, ColInt64, WrapperOptions{Capacity: 8})
	require.NoError(t, err)
	frag := NewFragmentInstanceID()
	consumer := NewFilterInstance(1, frag, RoleConsumer, wrapper, InstanceOptions{TargetClass: TargetLocal})

	producerWrapper, err := NewFilterWrapper(KindInSet, ColInt64, WrapperOptions{Capacity: 8})
	require.NoError(t, err)
	require.NoError(t, producerWrapper.Insert(IntScalar(ColInt64, 11)))
	payload, err := EncodeMessage(1, producerWrapper)
	require.NoError(t, err)

	require.False(t, consumer.IsReady())
	require.NoError(t, consumer.Update(payload))
	require.True(t, consumer.IsReady())
	require.Equal(t, ProbeMaybe, consumer.Wrapper().Probe(IntScalar(ColInt64, 11)))
}

func TestInstanceAwaitMonotonicity(t *testing.T) {
	wrapper, err := NewFilterWrapper(KindMinMax, ColInt64, WrapperOptions{})
	require.NoError(t, err)
	frag := NewFragmentInstanceID()
	consumer := NewFilterInstance(1, frag, RoleConsumer, wrapper, InstanceOptions{TargetClass: TargetLocal})

	state, timedOut := consumer.Await(time.Now().Add(10 * time.Millisecond))
	require.Equal(t, StateTimedOut, state)
	require.True(t, timedOut)

	// a publish arriving after the deadline must not retroactively change
	// the observed state
	producerWrapper, err := NewFilterWrapper(KindMinMax, ColInt64, WrapperOptions{})
	require.NoError(t, err)
	payload, err := EncodeMessage(1, producerWrapper)
	require.NoError(t, err)
	require.NoError(t, consumer.Update(payload))

	state2, _ := consumer.Await(time.Now())
	require.Equal(t, StateTimedOut, state2)
}

func TestInstanceCancelMarksIgnoredAndWakes(t *testing.T) {
	wrapper, err := NewFilterWrapper(KindMinMax, ColInt64, WrapperOptions{})
	require.NoError(t, err)
	frag := NewFragmentInstanceID()
	consumer := NewFilterInstance(1, frag, RoleConsumer, wrapper, InstanceOptions{TargetClass: TargetLocal})

	consumer.Cancel()
	require.True(t, consumer.IsReadyOrTimedOut())
	require.True(t, wrapper.IsIgnored())
}

func TestInstancePublishFinallyMarksEmptyBuild(t *testing.T) {
	wrapper, err := NewFilterWrapper(KindMinMax, ColInt64, WrapperOptions{})
	require.NoError(t, err)
	frag := NewFragmentInstanceID()
	producer := NewFilterInstance(1, frag, RoleProducer, wrapper, InstanceOptions{TargetClass: TargetLocal})

	dist := newFakeDistributor()
	require.NoError(t, producer.PublishFinally(context.Background(), dist))
	require.True(t, wrapper.IsConstantFalse())
	require.NotNil(t, dist.local[1])
}

// TestInstancePublishFinallyShortCircuitsConsumerAcrossKinds checks that
// an empty build on the producer side reaches the consumer over the
// wire and makes every subsequent probe definitely-no, for kinds whose
// empty payload would otherwise decode to an always-maybe value
// (min-max: no lo/hi bounds; bitmap not-in: nothing excluded).
func TestInstancePublishFinallyShortCircuitsConsumerAcrossKinds(t *testing.T) {
	cases := []struct {
		name    string
		kind    Kind
		colType ColumnType
		opts    WrapperOptions
	}{
		{"min-max", KindMinMax, ColInt64, WrapperOptions{}},
		{"bitmap not-in", KindBitmap, ColInt64, WrapperOptions{Polarity: PolarityNotIn}},
		{"in-set", KindInSet, ColInt64, WrapperOptions{Capacity: 8}},
		{"bloom", KindBloom, ColInt64, WrapperOptions{ExpectedInsertions: 100, TargetFPRate: 0.05}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			producerWrapper, err := NewFilterWrapper(tc.kind, tc.colType, tc.opts)
			require.NoError(t, err)
			frag := NewFragmentInstanceID()
			producer := NewFilterInstance(1, frag, RoleProducer, producerWrapper, InstanceOptions{TargetClass: TargetLocal})

			consumerWrapper, err := NewFilterWrapper(tc.kind, tc.colType, tc.opts)
			require.NoError(t, err)
			consumer := NewFilterInstance(1, frag, RoleConsumer, consumerWrapper, InstanceOptions{TargetClass: TargetLocal})

			dist := newFakeDistributor()
			require.NoError(t, producer.PublishFinally(context.Background(), dist))
			require.NoError(t, consumer.Update(dist.local[1]))

			require.True(t, consumer.Wrapper().IsConstantFalse())
			require.Equal(t, ProbeDefinitelyNo, consumer.Wrapper().Probe(IntScalar(ColInt64, 1)))
			require.Equal(t, ProbeDefinitelyNo, consumer.Wrapper().Probe(IntScalar(ColInt64, 999)))
		})
	}
}

func TestInstancePublishWithoutRetryLimiterMarksIgnoredAfterOneAttempt(t *testing.T) {
	wrapper, err := NewFilterWrapper(KindMinMax, ColInt64, WrapperOptions{})
	require.NoError(t, err)
	frag := NewFragmentInstanceID()
	producer := NewFilterInstance(1, frag, RoleProducer, wrapper, InstanceOptions{TargetClass: TargetRemote, MaxRetries: 2})

	dist := newFakeDistributor()
	dist.remoteErr = errUnreachable
	require.NoError(t, producer.ReadyForPublish())
	err = producer.Publish(context.Background(), dist)
	require.Error(t, err)
	require.True(t, wrapper.IsIgnored())
	require.Equal(t, 1, dist.remoteN) // no retry limiter configured: single attempt
}

func TestInstanceBloomAllocationDeniedMarksIgnored(t *testing.T) {
	pool := NewBloomPool(1) // far too small for any real bloom payload
	wrapper, err := NewFilterWrapper(KindBloom, ColInt64, WrapperOptions{ExpectedInsertions: 10000, TargetFPRate: 0.01})
	require.NoError(t, err)
	frag := NewFragmentInstanceID()
	producer := NewFilterInstance(1, frag, RoleProducer, wrapper, InstanceOptions{TargetClass: TargetLocal, Pool: pool})

	require.NoError(t, producer.ReadyForPublish())
	require.True(t, wrapper.IsIgnored())
}

var errUnreachable = &testError{"simulated unreachable endpoint"}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
