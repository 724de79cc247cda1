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

func newTestWrapper(t *testing.T) *FilterWrapper {
	w, err := NewFilterWrapper(KindMinMax, ColInt64, WrapperOptions{})
	require.NoError(t, err)
	return w
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewFilterRegistry()
	frag := NewFragmentInstanceID()

	producer := r.Register(frag, 1, RoleProducer, newTestWrapper(t), InstanceOptions{})
	again := r.Register(frag, 1, RoleProducer, newTestWrapper(t), InstanceOptions{})
	require.Same(t, producer, again) // second registration for the same key is a no-op

	got, ok := r.Get(frag, 1, RoleProducer)
	require.True(t, ok)
	require.Same(t, producer, got)

	_, ok = r.Get(frag, 1, RoleConsumer)
	require.False(t, ok)

	_, err := r.GetOrErr(frag, 2, RoleProducer)
	require.Error(t, err)
}

func TestRegistryProducerAndConsumerCoexistSameFilter(t *testing.T) {
	r := NewFilterRegistry()
	frag := NewFragmentInstanceID()

	r.Register(frag, 1, RoleProducer, newTestWrapper(t), InstanceOptions{})
	r.Register(frag, 1, RoleConsumer, newTestWrapper(t), InstanceOptions{})
	require.Equal(t, 2, r.Len())
}

func TestRegistryForEachRole(t *testing.T) {
	r := NewFilterRegistry()
	frag1, frag2 := NewFragmentInstanceID(), NewFragmentInstanceID()
	r.Register(frag1, 1, RoleProducer, newTestWrapper(t), InstanceOptions{})
	r.Register(frag2, 1, RoleProducer, newTestWrapper(t), InstanceOptions{})
	r.Register(frag1, 1, RoleConsumer, newTestWrapper(t), InstanceOptions{})

	var producers, consumers int
	r.ForEachProducer(func(*FilterInstance) { producers++ })
	r.ForEachConsumer(func(*FilterInstance) { consumers++ })
	require.Equal(t, 2, producers)
	require.Equal(t, 1, consumers)
}

func TestRegistryCancelAllMarksEveryInstanceIgnored(t *testing.T) {
	r := NewFilterRegistry()
	frag := NewFragmentInstanceID()
	w1, w2 := newTestWrapper(t), newTestWrapper(t)
	r.Register(frag, 1, RoleProducer, w1, InstanceOptions{})
	r.Register(frag, 2, RoleConsumer, w2, InstanceOptions{})

	r.CancelAll()
	require.True(t, w1.IsIgnored())
	require.True(t, w2.IsIgnored())
}
