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

// Package rfconfig holds the per-query option defaults the runtime
// filter subsystem needs, loaded from a TOML file via toml.DecodeFile.
package rfconfig

import (
	"time"

	"github.com/BurntSushi/toml"
)

// Options are the tunables a query prepares its filters with. Every
// field has a sane default via Defaults(); callers only need to load a
// file when they want to override them.
type Options struct {
	// AwaitWaitMs is the default time a consumer blocks in await()
	// before timing out. Overridable per query; floored at AwaitFloorMs.
	AwaitWaitMs int64 `toml:"await_wait_ms"`
	// AwaitFloorMs is the hard floor enforced regardless of what the
	// query option requests.
	AwaitFloorMs int64 `toml:"await_floor_ms"`
	// InSetCapacity is K, the max-in-capacity. An in-or-bloom filter
	// promotes to bloom past K; a plain in-set filter rejects values
	// past K with ErrCapacityExceeded and does not convert to bloom.
	InSetCapacity int `toml:"in_set_capacity"`
	// BloomTargetFPRate is the default target false-positive rate used
	// when a caller does not request one explicitly.
	BloomTargetFPRate float64 `toml:"bloom_target_fp_rate"`
	// BloomPoolCapBytes bounds the per-query bloom allocation pool;
	// requests that would exceed it degrade the filter to ignored.
	BloomPoolCapBytes int64 `toml:"bloom_pool_cap_bytes"`
	// TransportMaxRetries bounds per-endpoint retries on publish/merge
	// broadcast before the producer-side filter is marked ignored.
	TransportMaxRetries int `toml:"transport_max_retries"`
	// TransportRetryRatePerSec throttles retry attempts per endpoint.
	TransportRetryRatePerSec float64 `toml:"transport_retry_rate_per_sec"`
}

// Defaults returns the baseline options a query uses absent any file
// or per-query override.
func Defaults() Options {
	return Options{
		AwaitWaitMs:              1000,
		AwaitFloorMs:             10,
		InSetCapacity:            1024,
		BloomTargetFPRate:        0.05,
		BloomPoolCapBytes:        256 << 20,
		TransportMaxRetries:      3,
		TransportRetryRatePerSec: 50,
	}
}

// AwaitWait returns the configured await duration, floored at
// AwaitFloorMs.
func (o Options) AwaitWait() time.Duration {
	ms := o.AwaitWaitMs
	if ms < o.AwaitFloorMs {
		ms = o.AwaitFloorMs
	}
	return time.Duration(ms) * time.Millisecond
}

// Load decodes a TOML file on top of Defaults().
func Load(path string) (Options, error) {
	opts := Defaults()
	_, err := toml.DecodeFile(path, &opts)
	if err != nil {
		return Options{}, err
	}
	return opts, nil
}
