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

type recordingReceiver struct {
	delivered [][]byte
	err       error
}

func (r *recordingReceiver) Deliver(payload []byte) error {
	r.delivered = append(r.delivered, payload)
	return r.err
}

func TestBoardSignalLocalDeliversToSubscribers(t *testing.T) {
	board := NewBoard(nil)
	frag := rf.NewFragmentInstanceID()
	recv := &recordingReceiver{}
	board.Subscribe(frag, 1, recv)

	board.SignalLocal(frag, 1, []byte("payload"))
	require.Len(t, recv.delivered, 1)
	require.Equal(t, []byte("payload"), recv.delivered[0])
}

func TestBoardSignalLocalIgnoresUnsubscribedKey(t *testing.T) {
	board := NewBoard(nil)
	frag := rf.NewFragmentInstanceID()
	recv := &recordingReceiver{}
	board.Subscribe(frag, 1, recv)

	board.SignalLocal(frag, 2, []byte("other filter"))
	require.Empty(t, recv.delivered)
}

func TestBoardSendRemoteWithoutMergerErrors(t *testing.T) {
	board := NewBoard(nil)
	frag := rf.NewFragmentInstanceID()
	err := board.SendRemote(context.Background(), frag, 1, []byte("x"))
	require.Error(t, err)
}

func TestBoardEndpointSendSignalsLocalSubscribers(t *testing.T) {
	board := NewBoard(nil)
	frag := rf.NewFragmentInstanceID()
	recv := &recordingReceiver{}
	board.Subscribe(frag, 1, recv)

	ep := NewBoardEndpoint("local", board, frag)
	require.Equal(t, "local", ep.Name())
	require.NoError(t, ep.Send(context.Background(), 1, []byte("merged")))
	require.Len(t, recv.delivered, 1)
}
