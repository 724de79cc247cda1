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

// Column is the vectorized source InsertBatch reads from. Column block
// storage itself is an external collaborator; this is the narrow slice
// of it the filter subsystem consumes. A plain slice-backed
// ScalarColumn is provided for tests and simple callers.
type Column interface {
	At(i int) Scalar
}

// ScalarColumn is the trivial in-memory Column used by tests and by
// callers that have already materialized a batch as scalars.
type ScalarColumn []Scalar

func (c ScalarColumn) At(i int) Scalar { return c[i] }

// FilterValue is the polymorphic payload shared by all five filter
// kinds: a tagged
// variant with one operation set rather than a deep inheritance
// hierarchy. in-or-bloom changes its own tag in place when it
// promotes to bloom.
type FilterValue interface {
	// Kind reports the value's current tag. For in-or-bloom this
	// changes exactly once, in place, on promotion (invariant 6).
	Kind() Kind

	// Insert adds one value. NaN floats and values that cannot be
	// represented are the caller's responsibility to exclude; Insert
	// itself never errors except for resource exhaustion.
	Insert(v Scalar) error

	// InsertBatch must be equivalent to calling Insert for col.At(i)
	// for every i in rows, in any order.
	InsertBatch(col Column, rows []int) error

	// Merge folds other's contents into the receiver in place. other
	// must be the same Kind (or, for in-or-bloom, compatible per the
	// promotion rule) and bound to the same ColumnType. Merge is
	// commutative, associative, and idempotent up to probe
	// equivalence (invariant 2).
	Merge(other FilterValue) error

	// Probe tests one value. in-set and bitmap never return ProbeMaybe
	// for a value absent from the build relation; min-max returns it for
	// any value inside [lo, hi], and bloom may (a false positive). No
	// kind returns ProbeDefinitelyNo for a present value (no false
	// negatives).
	Probe(v Scalar) Probe

	// Serialize encodes the value's per-kind payload shape (excluding
	// the shared filter-id/kind/flags header, which FilterWrapper owns).
	Serialize() ([]byte, error)

	// Clone returns a deep, independently mutable copy.
	Clone() FilterValue
}

// Deserializer decodes a Kind-specific payload (the part after the
// shared header) produced by Serialize.
type Deserializer func(colType ColumnType, payload []byte) (FilterValue, error)
