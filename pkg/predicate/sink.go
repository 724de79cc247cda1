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

package predicate

import rf "github.com/jtp38938/doris/pkg/runtimefilter"

// ValueRangeSink is the per-column range/set/null sink: value-range
// (lo/hi/ne-set/contains-null), folded from `=`, comparison, and (NOT)
// IN leaves of small cardinality.
type ValueRangeSink struct {
	ColType rf.ColumnType

	HasLo, HasHi bool
	Lo, Hi       rf.Scalar
	LoInclusive  bool
	HiInclusive  bool

	NotEqual     []rf.Scalar
	ContainsNull bool
	ExcludesNull bool

	// FixedSet is the small-cardinality positive membership list added
	// to the value-range for an IN (or single-value EQ) leaf within the
	// cardinality guard K.
	FixedSetActive bool
	FixedSet       []rf.Scalar
}

// NewValueRangeSink starts at (-inf, +inf), null allowed.
func NewValueRangeSink(colType rf.ColumnType) *ValueRangeSink {
	return &ValueRangeSink{ColType: colType}
}

// TightenLow narrows the sink's lower bound to the tighter of the
// current bound and (v, inclusive).
func (s *ValueRangeSink) TightenLow(v rf.Scalar, inclusive bool) {
	if !s.HasLo || rf.Compare(v, s.Lo) > 0 || (rf.Compare(v, s.Lo) == 0 && !inclusive) {
		s.Lo, s.LoInclusive, s.HasLo = v, inclusive, true
	}
}

// TightenHigh narrows the sink's upper bound to the tighter of the
// current bound and (v, inclusive).
func (s *ValueRangeSink) TightenHigh(v rf.Scalar, inclusive bool) {
	if !s.HasHi || rf.Compare(v, s.Hi) < 0 || (rf.Compare(v, s.Hi) == 0 && !inclusive) {
		s.Hi, s.HiInclusive, s.HasHi = v, inclusive, true
	}
}

// AddNotEqual records a `<>` literal; ne never narrows the range itself.
func (s *ValueRangeSink) AddNotEqual(v rf.Scalar) { s.NotEqual = append(s.NotEqual, v) }

// IntersectFixedSet narrows the range's positive membership list to its
// intersection with values, the semantics an IN (or single-value EQ)
// leaf within the cardinality guard needs under AND-combination.
func (s *ValueRangeSink) IntersectFixedSet(values []rf.Scalar) {
	if !s.FixedSetActive {
		s.FixedSetActive = true
		s.FixedSet = append([]rf.Scalar(nil), values...)
		return
	}
	kept := s.FixedSet[:0]
	for _, existing := range s.FixedSet {
		for _, v := range values {
			if rf.Compare(existing, v) == 0 {
				kept = append(kept, existing)
				break
			}
		}
	}
	s.FixedSet = kept
}

// IsEmpty reports whether the accumulated bounds make the range
// unsatisfiable (lo > hi, lo == hi with either bound exclusive, or an
// exhausted fixed-set), feeding the normalizer's constant-false
// folding.
func (s *ValueRangeSink) IsEmpty() bool {
	if s.FixedSetActive && len(s.FixedSet) == 0 {
		return true
	}
	if !s.HasLo || !s.HasHi {
		return false
	}
	c := rf.Compare(s.Lo, s.Hi)
	if c > 0 {
		return true
	}
	if c == 0 && !(s.LoInclusive && s.HiInclusive) {
		return true
	}
	return false
}

// InSetSink holds the `IN (...)` values that exceeded the value-range
// sink's cardinality guard.
type InSetSink struct {
	ColType rf.ColumnType
	Values  []rf.Scalar
	NotIn   bool
}

// BloomSink is one `bloom(c, filter)` leaf folded into a sink.
type BloomSink struct {
	ColType rf.ColumnType
	Filter  *rf.FilterWrapper
}

// BitmapSink is one `bitmap(c, filter)` leaf folded into a sink.
type BitmapSink struct {
	ColType rf.ColumnType
	Filter  *rf.FilterWrapper
}

// FunctionPushdownSink is one approved `f(c, lit...)` leaf folded into a
// sink for storage-level evaluation.
type FunctionPushdownSink struct {
	ColType rf.ColumnType
	Func    string
	Args    []Literal
}

// ColumnSinks aggregates every sink kind for one column, the unit the
// normalizer accumulates per column name during its walk.
type ColumnSinks struct {
	Range     *ValueRangeSink
	InSets    []InSetSink
	Blooms    []BloomSink
	Bitmaps   []BitmapSink
	Functions []FunctionPushdownSink
}

// CompoundRangeHint is a compound value range the engine may evaluate
// against column statistics for an OR subtree, but never treat as a
// hard constraint: the union of each disjunct's range on a single
// column.
type CompoundRangeHint struct {
	Column  string
	ColType rf.ColumnType
	Lo, Hi  rf.Scalar
	HasLo   bool
	HasHi   bool
}

// Sinks is the normalizer's full output alongside the residual tree:
// one ColumnSinks per column name that received at least one pushdown.
type Sinks struct {
	ByColumn       map[string]*ColumnSinks
	CompoundRanges []CompoundRangeHint
}

func NewSinks() *Sinks { return &Sinks{ByColumn: make(map[string]*ColumnSinks)} }

func (s *Sinks) forColumn(name string, colType rf.ColumnType) *ColumnSinks {
	cs, ok := s.ByColumn[name]
	if !ok {
		cs = &ColumnSinks{Range: NewValueRangeSink(colType)}
		s.ByColumn[name] = cs
	}
	return cs
}
