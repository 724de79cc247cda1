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

// Package rftransport implements the transport this subsystem assumes
// but does not itself ship: best-effort datagram delivery with ack. It
// provides an in-process message board (a registry of receivers keyed
// by a routing id, fed by senders and drained by whoever subscribed)
// plus a merge router that feeds producer contributions into the right
// MergeCoordinator. A real cluster deployment replaces Board's
// SendRemote with an actual RPC client; the shape of the interface is
// unchanged.
package rftransport

import (
	"context"
	"sync"

	"github.com/jtp38938/doris/pkg/rflog"
	rf "github.com/jtp38938/doris/pkg/runtimefilter"
	"github.com/jtp38938/doris/pkg/runtimefilter/rferr"
)

// Receiver is the consumer-side hook a Board delivers payloads to,
// satisfied by *rf.FilterInstance.Update.
type Receiver interface {
	Deliver(payload []byte) error
}

type receiverFunc func(payload []byte) error

func (f receiverFunc) Deliver(payload []byte) error { return f(payload) }

// ReceiverFromInstance adapts a consumer FilterInstance to Receiver.
func ReceiverFromInstance(instance *rf.FilterInstance) Receiver {
	return receiverFunc(instance.Update)
}

type localKey struct {
	frag rf.FragmentInstanceID
	id   rf.FilterID
}

// Board is the in-process message board: local signalling is direct
// delivery to subscribed receivers; remote sends are routed through an
// attached Merger.
type Board struct {
	mu        sync.Mutex
	receivers map[localKey][]Receiver
	merger    *Merger
}

func NewBoard(merger *Merger) *Board {
	return &Board{receivers: make(map[localKey][]Receiver), merger: merger}
}

// Subscribe registers a receiver for (frag, filterID); SignalLocal and
// the merger's post-merge broadcast both deliver through here.
func (b *Board) Subscribe(frag rf.FragmentInstanceID, filterID rf.FilterID, r Receiver) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := localKey{frag, filterID}
	b.receivers[key] = append(b.receivers[key], r)
}

// SignalLocal implements rf.Distributor: deliver payload synchronously
// to every receiver subscribed for (frag, filterID).
func (b *Board) SignalLocal(frag rf.FragmentInstanceID, filterID rf.FilterID, payload []byte) {
	b.mu.Lock()
	rs := append([]Receiver(nil), b.receivers[localKey{frag, filterID}]...)
	b.mu.Unlock()
	for _, r := range rs {
		if err := r.Deliver(payload); err != nil {
			rflog.Warnf("board: local delivery for filter %d fragment %s failed: %v", filterID, frag, err)
		}
	}
}

// SendRemote implements rf.Distributor by routing to the attached
// Merger. Never blocks on back-pressure: Merger.Accept runs inline but
// does no network I/O of its own in this in-process implementation.
func (b *Board) SendRemote(ctx context.Context, frag rf.FragmentInstanceID, filterID rf.FilterID, payload []byte) error {
	if b.merger == nil {
		return rferr.TransportErrorf(nil, "no merger attached to board")
	}
	return b.merger.Accept(ctx, frag, filterID, payload)
}

// BoardEndpoint adapts a Board into an rf.Endpoint so a MergeCoordinator
// can broadcast its merged payload back out to local subscribers (the
// in-process stand-in for shipping to a remote consumer's registry).
type BoardEndpoint struct {
	Board *Board
	Frag  rf.FragmentInstanceID
	name  string
}

func NewBoardEndpoint(name string, board *Board, frag rf.FragmentInstanceID) *BoardEndpoint {
	return &BoardEndpoint{Board: board, Frag: frag, name: name}
}

func (e *BoardEndpoint) Name() string { return e.name }

func (e *BoardEndpoint) Send(ctx context.Context, filterID rf.FilterID, payload []byte) error {
	e.Board.SignalLocal(e.Frag, filterID, payload)
	return nil
}
