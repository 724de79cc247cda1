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

// Package runtimefilter implements the build-to-probe runtime filter
// subsystem of a hash-join execution engine: value containers and their
// merge algebra, the producer/consumer state machine, the three-phase
// distribution protocol (local build -> merger -> broadcast publish),
// and the registry that ties filter ids to live instances for a query.
package runtimefilter

import (
	"fmt"

	"github.com/google/uuid"
)

// FilterID identifies a runtime filter within a single query. Ids are
// assigned by the planner and are stable across producers and consumers
// of the same logical filter.
type FilterID uint32

// FragmentInstanceID names one running copy of a query fragment. Producers
// and consumers that live in different fragment instances route wire
// messages by this id.
type FragmentInstanceID uuid.UUID

func (f FragmentInstanceID) String() string {
	return uuid.UUID(f).String()
}

// NewFragmentInstanceID returns a fresh, randomly generated fragment
// instance id.
func NewFragmentInstanceID() FragmentInstanceID {
	return FragmentInstanceID(uuid.New())
}

// Role is the relationship an endpoint has to a filter: it either
// produces values into the filter (the hash-join build side) or
// consumes values out of it (the scan feeding the probe side).
type Role int8

const (
	RoleProducer Role = iota
	RoleConsumer
)

func (r Role) String() string {
	switch r {
	case RoleProducer:
		return "producer"
	case RoleConsumer:
		return "consumer"
	default:
		return "unknown"
	}
}

// TargetClass says where a filter's consumers live relative to its
// producer(s).
type TargetClass int8

const (
	TargetLocal TargetClass = iota
	TargetRemote
	TargetBoth
)

func (t TargetClass) HasLocal() bool  { return t == TargetLocal || t == TargetBoth }
func (t TargetClass) HasRemote() bool { return t == TargetRemote || t == TargetBoth }

// BuildClass says whether a filter has a single producer (broadcast) or
// many producers whose partial payloads must be merged (shuffle).
type BuildClass int8

const (
	BuildBroadcast BuildClass = iota
	BuildShuffle
)

// Kind is the value-container discriminant ("tagged variant" in the
// design notes): each kind has its own insert/merge/probe/serialize
// semantics but shares the FilterValue contract.
type Kind uint8

const (
	KindInSet Kind = iota
	KindMinMax
	KindBloom
	KindInOrBloom
	KindBitmap
)

func (k Kind) String() string {
	switch k {
	case KindInSet:
		return "in-set"
	case KindMinMax:
		return "min-max"
	case KindBloom:
		return "bloom"
	case KindInOrBloom:
		return "in-or-bloom"
	case KindBitmap:
		return "bitmap"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ColumnType enumerates the closed set of primitive column types a
// filter may be bound to. The binding is immutable after creation
// (invariant 1 of the data model) and drives hashing, comparison, and
// literal construction.
type ColumnType uint8

const (
	ColBool ColumnType = iota
	ColInt8
	ColInt16
	ColInt32
	ColInt64
	ColInt128
	ColFloat
	ColDouble
	ColDecimal32
	ColDecimal64
	ColDecimal128
	ColDecimalLegacy
	ColDate
	ColDateTime
	ColDateV2
	ColDateTimeV2
	ColChar
	ColVarchar
	ColString
	ColHLL
)

// IsInteger reports whether the column type is bound to one of the
// fixed-width integer kinds bitmap filters are restricted to.
func (c ColumnType) IsInteger() bool {
	switch c {
	case ColInt8, ColInt16, ColInt32, ColInt64, ColInt128:
		return true
	default:
		return false
	}
}

func (c ColumnType) IsString() bool {
	switch c {
	case ColChar, ColVarchar, ColString:
		return true
	default:
		return false
	}
}

func (c ColumnType) IsDecimal() bool {
	switch c {
	case ColDecimal32, ColDecimal64, ColDecimal128, ColDecimalLegacy:
		return true
	default:
		return false
	}
}

func (c ColumnType) IsDate() bool {
	return c == ColDate || c == ColDateTime || c == ColDateV2 || c == ColDateTimeV2
}

// Probe is the ternary result of testing a value against a filter's
// payload: an exact-kind filter (in-set, min-max, bitmap) only ever
// returns DefinitelyNo when the value genuinely cannot be in the build
// relation; an approximate kind (bloom) may also return Maybe for a
// value that is not actually present (a false positive), but never
// returns DefinitelyNo for one that is (no false negatives, invariant
// 1 of the testable properties).
type Probe uint8

const (
	ProbeMaybe Probe = iota
	ProbeDefinitelyNo
)

func (p Probe) String() string {
	if p == ProbeDefinitelyNo {
		return "definitely-no"
	}
	return "maybe"
}
