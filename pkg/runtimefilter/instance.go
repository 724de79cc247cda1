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
	"time"

	"golang.org/x/time/rate"

	"github.com/jtp38938/doris/pkg/rflog"
	"github.com/jtp38938/doris/pkg/runtimefilter/rferr"
)

// Distributor is the interface FilterInstance.Publish consumes from the
// transport layer. pkg/rftransport provides the production implementation.
type Distributor interface {
	// SignalLocal delivers payload to every local consumer registered
	// for (fragID, filterID) synchronously on the caller's goroutine.
	SignalLocal(fragID FragmentInstanceID, filterID FilterID, payload []byte)
	// SendRemote enqueues an asynchronous, best-effort send to the
	// merge coordinator for (fragID, filterID); it must not block the
	// caller on back-pressure.
	SendRemote(ctx context.Context, fragID FragmentInstanceID, filterID FilterID, payload []byte) error
}

// FilterInstance is the per-query, per-endpoint filter object: role,
// state machine, merge/publish orchestration, and waiting discipline.
type FilterInstance struct {
	FilterID           FilterID
	FragmentInstanceID FragmentInstanceID
	Role               Role
	TargetClass        TargetClass
	BuildClass         BuildClass

	wrapper *FilterWrapper
	wait    awaiter
	pool    *BloomPool

	registeredAt time.Time
	maxRetries   int
	retryLimiter *rate.Limiter

	mu              sync.Mutex
	readyForPublish bool
	published       bool
	closed          bool
	charged         int64
}

// InstanceOptions groups the construction-time choices that do not come
// from the wrapper itself.
type InstanceOptions struct {
	TargetClass TargetClass
	BuildClass  BuildClass
	Pool        *BloomPool
	// Resume is non-nil for pipelined/cooperative callers, selecting the
	// atomic awaiter; nil selects the condition-variable awaiter.
	Resume Resumer
	// Cooperative selects the atomic awaiter even with a nil Resume
	// (useful for tests that poll current() rather than block).
	Cooperative bool
	// MaxRetries and RetryLimiter bound the publish-time retries
	// attempted before a transport error marks the producer-side filter
	// ignored. A nil RetryLimiter disables retries (a single attempt).
	MaxRetries   int
	RetryLimiter *rate.Limiter
}

func NewFilterInstance(filterID FilterID, fragID FragmentInstanceID, role Role, wrapper *FilterWrapper, opts InstanceOptions) *FilterInstance {
	var a awaiter
	if opts.Cooperative || opts.Resume != nil {
		a = newAtomicAwaiter(opts.Resume)
	} else {
		a = newCondAwaiter()
	}
	return &FilterInstance{
		FilterID:           filterID,
		FragmentInstanceID: fragID,
		Role:               role,
		TargetClass:        opts.TargetClass,
		BuildClass:         opts.BuildClass,
		wrapper:            wrapper,
		wait:               a,
		pool:               opts.Pool,
		registeredAt:       time.Now(),
		maxRetries:         opts.MaxRetries,
		retryLimiter:       opts.RetryLimiter,
	}
}

// RegisteredAt is the registration timestamp, used only for diagnostics.
func (f *FilterInstance) RegisteredAt() time.Time { return f.registeredAt }

func (f *FilterInstance) Wrapper() *FilterWrapper { return f.wrapper }

// CurrentState is a non-blocking query with acquire semantics.
func (f *FilterInstance) CurrentState() State { return f.wait.current() }

func (f *FilterInstance) IsReady() bool { return f.wait.current() == StateReady }

func (f *FilterInstance) IsReadyOrTimedOut() bool {
	s := f.wait.current()
	return s == StateReady || s == StateTimedOut
}

// Await blocks until ready or deadline, per the await-monotonicity
// property: once a terminal state is observed,
// every later call returns it immediately.
func (f *FilterInstance) Await(deadline time.Time) (State, bool) {
	return f.wait.wait(deadline)
}

// --- Producer operations ---

// Insert is valid only while the instance has not yet called
// ReadyForPublish.
func (f *FilterInstance) Insert(v Scalar) error {
	if err := f.requireProducerNotFinal(); err != nil {
		return err
	}
	return f.wrapper.Insert(v)
}

func (f *FilterInstance) InsertBatch(col Column, rows []int) error {
	if err := f.requireProducerNotFinal(); err != nil {
		return err
	}
	return f.wrapper.InsertBatch(col, rows)
}

func (f *FilterInstance) requireProducerNotFinal() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Role != RoleProducer {
		return rferr.InvalidConfigf("insert on a non-producer filter instance")
	}
	if f.readyForPublish {
		return rferr.InvalidConfigf("insert after ready_for_publish")
	}
	return nil
}

// ReadyForPublish marks the filter final on this producer. It is a
// distinct step from Publish, matching ready_for_publish() and
// publish() being separate methods. It also charges the bloom pool if
// the payload is bloom-backed, degrading to ignored on denial.
func (f *FilterInstance) ReadyForPublish() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Role != RoleProducer {
		return rferr.InvalidConfigf("ready_for_publish on a non-producer filter instance")
	}
	if f.readyForPublish {
		return nil
	}
	f.readyForPublish = true
	f.chargeBloomLocked()
	return nil
}

func (f *FilterInstance) chargeBloomLocked() {
	if f.pool == nil {
		return
	}
	want := f.wrapper.bloomByteSize()
	if want == 0 {
		return
	}
	if !f.pool.TryCharge(want) {
		f.wrapper.MarkIgnored("bloom allocation denied")
		rflog.Warnf("runtime filter %d: bloom allocation of %d bytes denied, marking ignored", f.FilterID, want)
		return
	}
	f.charged = want
}

// Publish serializes the wrapper and hands the bytes to the
// distribution layer. Must follow ReadyForPublish in
// program order.
func (f *FilterInstance) Publish(ctx context.Context, dist Distributor) error {
	f.mu.Lock()
	if f.Role != RoleProducer {
		f.mu.Unlock()
		return rferr.InvalidConfigf("publish on a non-producer filter instance")
	}
	if !f.readyForPublish {
		f.mu.Unlock()
		return rferr.InvalidConfigf("publish before ready_for_publish")
	}
	f.published = true
	f.mu.Unlock()

	payload, err := EncodeMessage(f.FilterID, f.wrapper)
	if err != nil {
		f.wrapper.MarkIgnored("serialization failed: " + err.Error())
		return err
	}

	if f.TargetClass.HasLocal() {
		dist.SignalLocal(f.FragmentInstanceID, f.FilterID, payload)
	}
	if f.TargetClass.HasRemote() {
		if err := f.sendRemoteWithRetry(ctx, dist, payload); err != nil {
			// Permanent failure: mark ignored. Waking any remote-only
			// consumer is the registry's job (FilterRegistry.CancelAll
			// or a targeted signal), not this instance's.
			f.wrapper.MarkIgnored("transport error: " + err.Error())
			return err
		}
	}
	return nil
}

// sendRemoteWithRetry retries a bounded number of times, paced by the
// instance's rate limiter, before giving up.
func (f *FilterInstance) sendRemoteWithRetry(ctx context.Context, dist Distributor, payload []byte) error {
	var lastErr error
	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			if f.retryLimiter == nil {
				break
			}
			if err := f.retryLimiter.Wait(ctx); err != nil {
				return rferr.TransportErrorf(err, "retry limiter wait for filter %d", f.FilterID)
			}
		}
		if err := dist.SendRemote(ctx, f.FragmentInstanceID, f.FilterID, payload); err != nil {
			lastErr = err
			rflog.Warnf("filter %d: send to merger failed (attempt %d): %v", f.FilterID, attempt, err)
			continue
		}
		return nil
	}
	return rferr.TransportErrorf(lastErr, "filter %d: exhausted retries", f.FilterID)
}

// PublishFinally is the best-effort empty-publish used when the build
// side finished with zero rows: mark the filter
// constant-false, then publish as usual so consumers learn to
// short-circuit to EOF rather than waiting out the deadline.
func (f *FilterInstance) PublishFinally(ctx context.Context, dist Distributor) error {
	f.wrapper.MarkEmptyBuild()
	if err := f.ReadyForPublish(); err != nil {
		return err
	}
	return f.Publish(ctx, dist)
}

// --- Consumer operations ---

// Update is called by the transport on arrival: decode the shared wire
// header, deserialize the body into the wrapper, apply the header's
// sticky flags, transition to ready, and signal all waiters. An update
// after a terminal state is discarded.
func (f *FilterInstance) Update(payload []byte) error {
	if f.wait.current() != StateNotReady {
		return nil
	}
	msg, err := DecodeHeader(payload)
	if err != nil {
		f.wrapper.MarkIgnored("decode failed: " + err.Error())
		rflog.Warnf("runtime filter %d: discarding malformed update: %v", f.FilterID, err)
		return rferr.SerializationErrorf("update for filter %d: %v", f.FilterID, err)
	}
	if err := f.wrapper.LoadSerialized(msg.Payload); err != nil {
		f.wrapper.MarkIgnored("deserialize failed: " + err.Error())
		rflog.Warnf("runtime filter %d: discarding malformed update: %v", f.FilterID, err)
		return rferr.SerializationErrorf("update for filter %d: %v", f.FilterID, err)
	}
	f.wrapper.applyFlags(msg.Flags)
	f.mu.Lock()
	f.chargeBloomLocked()
	f.mu.Unlock()
	f.wait.signal(StateReady)
	return nil
}

// ConsumerClose is idempotent and releases any bloom-pool allocation
// charged to this filter).
func (f *FilterInstance) ConsumerClose() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	if f.pool != nil && f.charged > 0 {
		f.pool.Release(f.charged)
		f.charged = 0
	}
	return nil
}

// Cancel marks the filter ignored and wakes any waiter, used for query
// cancellation.
func (f *FilterInstance) Cancel() {
	f.wrapper.MarkIgnored("query cancelled")
	f.wait.signal(StateTimedOut)
}
