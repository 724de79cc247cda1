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

// Command rf-demo exercises the runtime filter subsystem end to end:
// a broadcast build, a shuffle build merged across two producers, and
// the scan-side predicate normalizer consuming the result, wired
// against canned input rather than a real cluster.
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/jtp38938/doris/pkg/predicate"
	"github.com/jtp38938/doris/pkg/rfconfig"
	"github.com/jtp38938/doris/pkg/rflog"
	"github.com/jtp38938/doris/pkg/rftransport"
	rf "github.com/jtp38938/doris/pkg/runtimefilter"
)

func main() {
	configPath := flag.String("config", "", "path to a TOML options file overriding defaults")
	flag.Parse()

	opts := rfconfig.Defaults()
	if *configPath != "" {
		loaded, err := rfconfig.Load(*configPath)
		if err != nil {
			rflog.Errorf("loading config %s: %v", *configPath, err)
			return
		}
		opts = loaded
	}

	runBroadcastDemo(opts)
	runShuffleDemo(opts)
	runNormalizerDemo(opts)
}

// runBroadcastDemo builds an in-set filter on one producer and
// delivers it to a local consumer through a Board, the single-producer
// broadcast path.
func runBroadcastDemo(opts rfconfig.Options) {
	ctx := context.Background()
	frag := rf.NewFragmentInstanceID()

	wrapperOpts := rf.WrapperOptions{Capacity: opts.InSetCapacity}
	producerWrapper, err := rf.NewFilterWrapper(rf.KindInSet, rf.ColInt64, wrapperOpts)
	if err != nil {
		rflog.Errorf("broadcast demo: %v", err)
		return
	}

	pool := rf.NewBloomPool(opts.BloomPoolCapBytes)
	instOpts := rf.InstanceOptions{
		TargetClass:  rf.TargetLocal,
		BuildClass:   rf.BuildBroadcast,
		Pool:         pool,
		MaxRetries:   opts.TransportMaxRetries,
		RetryLimiter: rate.NewLimiter(rate.Limit(opts.TransportRetryRatePerSec), 1),
	}

	registry := rf.NewFilterRegistry()
	const filterID rf.FilterID = 1
	producer := registry.Register(frag, filterID, rf.RoleProducer, producerWrapper, instOpts)
	consumer := registry.Register(frag, filterID, rf.RoleConsumer, mustWrapper(rf.KindInSet, rf.ColInt64, wrapperOpts), instOpts)

	board := rftransport.NewBoard(nil)
	board.Subscribe(frag, filterID, rftransport.ReceiverFromInstance(consumer))

	for _, v := range []int64{10, 20, 30} {
		if err := producer.Insert(rf.IntScalar(rf.ColInt64, v)); err != nil {
			rflog.Errorf("broadcast demo insert: %v", err)
			return
		}
	}
	if err := producer.ReadyForPublish(); err != nil {
		rflog.Errorf("broadcast demo ready: %v", err)
		return
	}
	if err := producer.Publish(ctx, board); err != nil {
		rflog.Errorf("broadcast demo publish: %v", err)
		return
	}

	deadline := time.Now().Add(opts.AwaitWait())
	state, _ := consumer.Await(deadline)
	fmt.Printf("broadcast demo: consumer state after publish = %v\n", state)
	for _, v := range []int64{10, 25} {
		probe := consumer.Wrapper().Probe(rf.IntScalar(rf.ColInt64, v))
		fmt.Printf("broadcast demo: probe(%d) = %v\n", v, probe)
	}
}

// runShuffleDemo builds a bloom filter across two producers that each
// contribute a disjoint shard, merges them through a MergeCoordinator,
// and broadcasts the merged payload to a local consumer endpoint.
func runShuffleDemo(opts rfconfig.Options) {
	ctx := context.Background()
	frag := rf.NewFragmentInstanceID()
	const filterID rf.FilterID = 2

	wrapperOpts := rf.WrapperOptions{
		ExpectedInsertions: 1000,
		TargetFPRate:       opts.BloomTargetFPRate,
	}

	coordinator, err := rf.NewMergeCoordinator(filterID, 2, rf.KindBloom, rf.ColInt64, wrapperOpts, opts.TransportRetryRatePerSec, opts.TransportMaxRetries)
	if err != nil {
		rflog.Errorf("shuffle demo: %v", err)
		return
	}

	registry := rf.NewFilterRegistry()
	pool := rf.NewBloomPool(opts.BloomPoolCapBytes)
	instOpts := rf.InstanceOptions{TargetClass: rf.TargetRemote, BuildClass: rf.BuildShuffle, Pool: pool, MaxRetries: opts.TransportMaxRetries}
	consumer := registry.Register(frag, filterID, rf.RoleConsumer, mustWrapper(rf.KindBloom, rf.ColInt64, wrapperOpts), instOpts)

	board := rftransport.NewBoard(nil)
	board.Subscribe(frag, filterID, rftransport.ReceiverFromInstance(consumer))
	coordinator.RegisterEndpoint(rftransport.NewBoardEndpoint("local", board, frag))

	merger := rftransport.NewMerger()
	merger.RegisterCoordinator(filterID, coordinator)
	remoteBoard := rftransport.NewBoard(merger)

	shards := [][]int64{{1, 2, 3}, {4, 5, 6}}
	for i, shard := range shards {
		shardFrag := rf.NewFragmentInstanceID()
		producerWrapper, err := rf.NewFilterWrapper(rf.KindBloom, rf.ColInt64, wrapperOpts)
		if err != nil {
			rflog.Errorf("shuffle demo producer %d: %v", i, err)
			return
		}
		producer := rf.NewFilterInstance(filterID, shardFrag, rf.RoleProducer, producerWrapper, instOpts)
		for _, v := range shard {
			if err := producer.Insert(rf.IntScalar(rf.ColInt64, v)); err != nil {
				rflog.Errorf("shuffle demo insert: %v", err)
				return
			}
		}
		if err := producer.ReadyForPublish(); err != nil {
			rflog.Errorf("shuffle demo ready: %v", err)
			return
		}
		if err := producer.Publish(ctx, remoteBoard); err != nil {
			rflog.Errorf("shuffle demo publish: %v", err)
			return
		}
	}

	deadline := time.Now().Add(opts.AwaitWait())
	state, _ := consumer.Await(deadline)
	fmt.Printf("shuffle demo: consumer state after merge broadcast = %v\n", state)
	for _, v := range []int64{3, 999} {
		probe := consumer.Wrapper().Probe(rf.IntScalar(rf.ColInt64, v))
		fmt.Printf("shuffle demo: probe(%d) = %v\n", v, probe)
	}
}

// runNormalizerDemo folds a small conjunct tree into per-column sinks
// plus a residual, the scan-side pass normalization produces.
func runNormalizerDemo(opts rfconfig.Options) {
	lo, _ := predicate.IntLiteral(rf.ColInt64, 100)
	hi, _ := predicate.IntLiteral(rf.ColInt64, 200)
	name, _ := predicate.StringLiteral(rf.ColVarchar, []byte("widget"))

	tree := predicate.And(
		predicate.Leaf("price", rf.ColInt64, predicate.OpGe, lo),
		predicate.Leaf("price", rf.ColInt64, predicate.OpLe, hi),
		predicate.Leaf("category", rf.ColVarchar, predicate.OpEq, name),
	)

	normalizer := predicate.NewNormalizer(opts.InSetCapacity)
	result := normalizer.Normalize(tree)

	fmt.Printf("normalizer demo: constant_false=%v residual=%v sinks=%d\n",
		result.ConstantFalse, result.Residual != nil, len(result.Sinks.ByColumn))
	if priceSink, ok := result.Sinks.ByColumn["price"]; ok {
		fmt.Printf("normalizer demo: price range has_lo=%v has_hi=%v\n", priceSink.Range.HasLo, priceSink.Range.HasHi)
	}
}

func mustWrapper(kind rf.Kind, colType rf.ColumnType, opts rf.WrapperOptions) *rf.FilterWrapper {
	w, err := rf.NewFilterWrapper(kind, colType, opts)
	if err != nil {
		panic(err)
	}
	return w
}
