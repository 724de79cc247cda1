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

	"golang.org/x/time/rate"

	"github.com/jtp38938/doris/pkg/rflog"
	"github.com/jtp38938/doris/pkg/runtimefilter/rferr"
)

// RetryPolicy bounds retries per endpoint at a shared rate, the same
// shape rf.FilterInstance and rf.MergeCoordinator each use internally,
// factored out here for a real out-of-process transport client that
// wraps an RPC call rather than an in-memory Board delivery.
type RetryPolicy struct {
	MaxRetries int
	Limiter    *rate.Limiter
}

// NewRetryPolicy builds a policy retrying up to maxRetries times, paced
// at ratePerSec attempts per second across all callers sharing it.
func NewRetryPolicy(maxRetries int, ratePerSec float64) RetryPolicy {
	return RetryPolicy{MaxRetries: maxRetries, Limiter: rate.NewLimiter(rate.Limit(ratePerSec), 1)}
}

// Do runs fn, retrying on error up to MaxRetries additional times,
// waiting on Limiter between attempts. Returns a transport-error kind
// wrapping the last failure once retries are exhausted.
func (p RetryPolicy) Do(ctx context.Context, endpoint string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			if p.Limiter == nil {
				break
			}
			if err := p.Limiter.Wait(ctx); err != nil {
				return rferr.TransportErrorf(err, "retry limiter wait for %s", endpoint)
			}
		}
		if err := fn(ctx); err != nil {
			lastErr = err
			rflog.Warnf("transport: %s attempt %d failed: %v", endpoint, attempt, err)
			continue
		}
		return nil
	}
	return rferr.TransportErrorf(lastErr, "%s: exhausted retries", endpoint)
}
