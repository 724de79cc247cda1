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

// Package predicate implements the scan-side predicate-normalization
// pass: folding a boolean conjunct tree, including
// late-arriving runtime filters, into per-column sinks plus a residual
// tree, and the literal construction it feeds.
package predicate

import rf "github.com/jtp38938/doris/pkg/runtimefilter"

// Op is a leaf predicate's comparison operator.
type Op uint8

const (
	OpEq Op = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpIn
	OpNotIn
	OpIsNull
	OpIsNotNull
	OpBloom
	OpBitmap
	OpFunc
)

// Invert returns the operator for NOT(this), used by the NOT-folding
// rule.
// Only operators NOT can legally invert into a single leaf are handled;
// ok is false for the others (bloom/bitmap/func leaves, which NOT must
// wrap rather than invert).
func (o Op) Invert() (Op, bool) {
	switch o {
	case OpEq:
		return OpNe, true
	case OpNe:
		return OpEq, true
	case OpLt:
		return OpGe, true
	case OpLe:
		return OpGt, true
	case OpGt:
		return OpLe, true
	case OpGe:
		return OpLt, true
	case OpIn:
		return OpNotIn, true
	case OpNotIn:
		return OpIn, true
	case OpIsNull:
		return OpIsNotNull, true
	case OpIsNotNull:
		return OpIsNull, true
	default:
		return o, false
	}
}

// NodeKind discriminates the conjunct tree's node shapes.
type NodeKind uint8

const (
	NodeLeaf NodeKind = iota
	NodeAnd
	NodeOr
	NodeNot
	NodeConstTrue
	NodeConstFalse
)

// Node is one node of the scan's boolean conjunct tree. Leaves carry a
// column reference, operator, and literal operands; compound nodes
// carry children.
type Node struct {
	Kind NodeKind

	// Leaf fields.
	Column   string
	ColType  rf.ColumnType
	Op       Op
	Literals []Literal
	// Filter is set when Op is OpBloom/OpBitmap: the runtime filter
	// payload this leaf probes.
	Filter *rf.FilterWrapper
	// Func is set when Op is OpFunc: the approved pushdown function
	// name where f is an approved pushdown
	// function").
	Func string
	// DateTruncationCast marks a leaf shaped like cast(col as date) <op>
	// datetime-literal: the cast truncates the column's time-of-day
	// before comparison, so folding the literal straight into the
	// column's own range sink would silently change the comparison's
	// meaning. The normalizer refuses to push these down at all.
	DateTruncationCast bool

	// Compound fields.
	Children []*Node
}

func Leaf(column string, colType rf.ColumnType, op Op, literals ...Literal) *Node {
	return &Node{Kind: NodeLeaf, Column: column, ColType: colType, Op: op, Literals: literals}
}

func BloomLeaf(column string, colType rf.ColumnType, filter *rf.FilterWrapper) *Node {
	return &Node{Kind: NodeLeaf, Column: column, ColType: colType, Op: OpBloom, Filter: filter}
}

func BitmapLeaf(column string, colType rf.ColumnType, filter *rf.FilterWrapper) *Node {
	return &Node{Kind: NodeLeaf, Column: column, ColType: colType, Op: OpBitmap, Filter: filter}
}

func FuncLeaf(column string, colType rf.ColumnType, fn string, literals ...Literal) *Node {
	return &Node{Kind: NodeLeaf, Column: column, ColType: colType, Op: OpFunc, Func: fn, Literals: literals}
}

// DateCastLeaf builds a cast(col as date) <op> literal leaf: the
// normalizer always leaves this in the residual tree rather than
// pushing it into the column's own range sink (see DateTruncationCast).
func DateCastLeaf(column string, colType rf.ColumnType, op Op, literals ...Literal) *Node {
	return &Node{Kind: NodeLeaf, Column: column, ColType: colType, Op: op, Literals: literals, DateTruncationCast: true}
}

func And(children ...*Node) *Node { return &Node{Kind: NodeAnd, Children: children} }
func Or(children ...*Node) *Node  { return &Node{Kind: NodeOr, Children: children} }
func Not(child *Node) *Node       { return &Node{Kind: NodeNot, Children: []*Node{child}} }

var (
	ConstTrue  = &Node{Kind: NodeConstTrue}
	ConstFalse = &Node{Kind: NodeConstFalse}
)

// IsLeafOnColumn reports whether n is a leaf predicate on the given
// column, the shape the NOT-over-leaf folding rule requires.
func (n *Node) IsLeafOnColumn(column string) bool {
	return n.Kind == NodeLeaf && n.Column == column
}
