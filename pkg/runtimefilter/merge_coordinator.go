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
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jtp38938/doris/pkg/rflog"
	"github.com/jtp38938/doris/pkg/runtimefilter/rferr"
)

// Endpoint is one registered consumer target a MergeCoordinator
// broadcasts to after merging.
type Endpoint interface {
	// Send delivers payload for (filterID) to this endpoint. Returning
	// an error triggers the coordinator's bounded per-endpoint retry.
	Send(ctx context.Context, filterID FilterID, payload []byte) error
	Name() string
}

// MergeCoordinator aggregates partial payloads from N producers for one
// filter id. accept is idempotent on (producer_id,
// bytes) pairs; once distinct contributions reach N, the coordinator
// merges and broadcasts once.
type MergeCoordinator struct {
	filterID  FilterID
	expectedN int
	colType   ColumnType
	opts      WrapperOptions
	kind      Kind

	retryLimiter *rate.Limiter
	maxRetries   int

	mu           sync.Mutex
	accepted     map[string]struct{} // dedup on (producer_id, payload bytes)
	producers    map[string]struct{} // distinct producer_id count
	merged       *FilterWrapper
	mergedReady  bool
	endpoints    []Endpoint

	// ignoredAny and constantFalseAll accumulate the per-producer sticky
	// flags across Accept calls; they are folded into merged once every
	// expected producer has reported, mirroring FilterWrapper.Merge's
	// own ignored-is-sticky / constant-false-only-if-unanimous rules.
	ignoredAny       bool
	constantFalseAll bool
}

// NewMergeCoordinator constructs a coordinator for filterID, expecting
// contributions from expectedN distinct producers, merging into a fresh
// wrapper of the given kind/column-type/policy.
func NewMergeCoordinator(filterID FilterID, expectedN int, kind Kind, colType ColumnType, opts WrapperOptions, retryRatePerSec float64, maxRetries int) (*MergeCoordinator, error) {
	if expectedN <= 0 {
		return nil, rferr.InvalidConfigf("merge coordinator expects N > 0, got %d", expectedN)
	}
	wrapper, err := NewFilterWrapper(kind, colType, opts)
	if err != nil {
		return nil, err
	}
	return &MergeCoordinator{
		filterID:         filterID,
		expectedN:        expectedN,
		colType:          colType,
		opts:             opts,
		kind:             kind,
		retryLimiter:     rate.NewLimiter(rate.Limit(retryRatePerSec), 1),
		maxRetries:       maxRetries,
		accepted:         make(map[string]struct{}),
		producers:        make(map[string]struct{}),
		merged:           wrapper,
		constantFalseAll: true, // vacuously true until a non-constant-false contribution arrives
	}, nil
}

// RegisterEndpoint adds a consumer endpoint to broadcast to once merged.
func (c *MergeCoordinator) RegisterEndpoint(ep Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoints = append(c.endpoints, ep)
}

// Accept decodes one producer's wire message, merges its payload and
// sticky flags, idempotent on (producerID, bytes) pairs. Returns true
// when this call caused the transition to merged.
func (c *MergeCoordinator) Accept(producerID string, payload []byte) (justMerged bool, err error) {
	dedupKey := producerID + "\x00" + string(payload)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.mergedReady {
		return false, nil
	}
	if _, dup := c.accepted[dedupKey]; dup {
		return false, nil
	}

	msg, err := DecodeHeader(payload)
	if err != nil {
		rflog.Warnf("merge coordinator filter %d: discarding malformed contribution from %s: %v", c.filterID, producerID, err)
		return false, rferr.SerializationErrorf("merge coordinator filter %d: %v", c.filterID, err)
	}

	val, err := deserializeForKind(c.kind, c.colType, c.opts, msg.Payload)
	if err != nil {
		rflog.Warnf("merge coordinator filter %d: discarding malformed contribution from %s: %v", c.filterID, producerID, err)
		return false, rferr.SerializationErrorf("merge coordinator filter %d: %v", c.filterID, err)
	}
	if err := c.merged.value.Merge(val); err != nil {
		return false, err
	}
	c.merged.kind = c.merged.value.Kind()

	if msg.Flags&FlagIgnored != 0 {
		c.ignoredAny = true
	}
	if msg.Flags&FlagConstantFalse == 0 {
		c.constantFalseAll = false
	}

	c.accepted[dedupKey] = struct{}{}
	c.producers[producerID] = struct{}{}

	if len(c.producers) >= c.expectedN {
		c.mergedReady = true
		if c.ignoredAny {
			c.merged.MarkIgnored("a shuffle producer reported ignored")
		}
		if c.constantFalseAll {
			c.merged.MarkEmptyBuild()
		}
		return true, nil
	}
	return false, nil
}

// MergedWrapper returns the coordinator-local merged wrapper. Only
// meaningful after Broadcast (or an Accept call that returned
// justMerged=true); callers should not mutate it.
func (c *MergeCoordinator) MergedWrapper() *FilterWrapper {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.merged
}

// Broadcast serializes the merged payload once and fans it out to every
// registered endpoint concurrently via errgroup, retrying each
// unreachable endpoint up to maxRetries times at the coordinator's
// shared rate limit so one slow endpoint cannot starve the others.
func (c *MergeCoordinator) Broadcast(ctx context.Context) error {
	c.mu.Lock()
	payload, err := EncodeMessage(c.filterID, c.merged)
	endpoints := append([]Endpoint(nil), c.endpoints...)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, ep := range endpoints {
		ep := ep
		g.Go(func() error {
			return c.sendWithRetry(gctx, ep, payload)
		})
	}
	return g.Wait()
}

func (c *MergeCoordinator) sendWithRetry(ctx context.Context, ep Endpoint, payload []byte) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.retryLimiter.Wait(ctx); err != nil {
				return rferr.TransportErrorf(err, "retry limiter for endpoint %s", ep.Name())
			}
		}
		if err := ep.Send(ctx, c.filterID, payload); err != nil {
			lastErr = err
			rflog.Warnf("merge coordinator filter %d: send to %s failed (attempt %d): %v", c.filterID, ep.Name(), attempt, err)
			continue
		}
		return nil
	}
	return rferr.TransportErrorf(lastErr, "filter %d: endpoint %s exhausted %d retries", c.filterID, ep.Name(), c.maxRetries)
}
