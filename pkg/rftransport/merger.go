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
	"sync"

	rf "github.com/jtp38938/doris/pkg/runtimefilter"
	"github.com/jtp38938/doris/pkg/runtimefilter/rferr"
)

// Merger routes a producer's remote send to the MergeCoordinator
// registered for its filter id, then broadcasts as soon as that call
// completes the merge. One Merger serves an entire query; a shuffled filter's N
// producers all route through it by filter id.
type Merger struct {
	mu           sync.Mutex
	coordinators map[rf.FilterID]*rf.MergeCoordinator
}

func NewMerger() *Merger {
	return &Merger{coordinators: make(map[rf.FilterID]*rf.MergeCoordinator)}
}

// RegisterCoordinator attaches the coordinator for filterID. Must be
// called before any producer's SendRemote for that filter id arrives.
func (m *Merger) RegisterCoordinator(filterID rf.FilterID, c *rf.MergeCoordinator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coordinators[filterID] = c
}

// Accept feeds one producer's payload into the filter's coordinator,
// using the producer's fragment instance id as its producer identity
// (each build fragment contributes at most one partial payload per
// filter). It broadcasts inline the instant the contribution completes
// the merge.
func (m *Merger) Accept(ctx context.Context, frag rf.FragmentInstanceID, filterID rf.FilterID, payload []byte) error {
	m.mu.Lock()
	c := m.coordinators[filterID]
	m.mu.Unlock()
	if c == nil {
		return rferr.InvalidConfigf("no merge coordinator registered for filter %d", filterID)
	}

	justMerged, err := c.Accept(frag.String(), payload)
	if err != nil {
		return err
	}
	if justMerged {
		return c.Broadcast(ctx)
	}
	return nil
}
