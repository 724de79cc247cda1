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

package rftransport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	rf "github.com/jtp38938/doris/pkg/runtimefilter"
)

func shardPayload(t *testing.T, v int64) []byte {
	w, err := rf.NewFilterWrapper(rf.KindMinMax, rf.ColInt64, rf.WrapperOptions{})
	require.NoError(t, err)
	require.NoError(t, w.Insert(rf.IntScalar(rf.ColInt64, v)))
	payload, err := rf.EncodeMessage(1, w)
	require.NoError(t, err)
	return payload
}

func TestMergerAcceptWithoutRegisteredCoordinatorErrors(t *testing.T) {
	merger := NewMerger()
	frag := rf.NewFragmentInstanceID()
	err := merger.Accept(context.Background(), frag, 99, shardPayload(t, 1))
	require.Error(t, err)
}

func TestMergerAcceptRoutesToRegisteredCoordinatorAndBroadcastsOnMerge(t *testing.T) {
	coordinator, err := rf.NewMergeCoordinator(1, 2, rf.KindMinMax, rf.ColInt64, rf.WrapperOptions{}, 1000, 1)
	require.NoError(t, err)

	board := NewBoard(nil)
	consumerFrag := rf.NewFragmentInstanceID()
	recv := &recordingReceiver{}
	board.Subscribe(consumerFrag, 1, recv)
	coordinator.RegisterEndpoint(NewBoardEndpoint("local", board, consumerFrag))

	merger := NewMerger()
	merger.RegisterCoordinator(1, coordinator)

	frag1, frag2 := rf.NewFragmentInstanceID(), rf.NewFragmentInstanceID()
	require.NoError(t, merger.Accept(context.Background(), frag1, 1, shardPayload(t, 5)))
	require.Empty(t, recv.delivered) // only one of two producers has reported so far

	require.NoError(t, merger.Accept(context.Background(), frag2, 1, shardPayload(t, 50)))
	require.Len(t, recv.delivered, 1) // second contribution completes the merge and triggers broadcast
}

func TestBoardSendRemoteRoutesThroughMerger(t *testing.T) {
	coordinator, err := rf.NewMergeCoordinator(1, 1, rf.KindMinMax, rf.ColInt64, rf.WrapperOptions{}, 1000, 1)
	require.NoError(t, err)
	merger := NewMerger()
	merger.RegisterCoordinator(1, coordinator)

	board := NewBoard(merger)
	frag := rf.NewFragmentInstanceID()
	require.NoError(t, board.SendRemote(context.Background(), frag, 1, shardPayload(t, 9)))

	require.Equal(t, rf.ProbeMaybe, coordinator.MergedWrapper().Probe(rf.IntScalar(rf.ColInt64, 9)))
}
