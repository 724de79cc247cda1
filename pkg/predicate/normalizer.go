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

// Normalizer performs a single post-order walk: leaf recognition,
// AND/OR/NOT compound handling, type compatibility and date-truncation
// refusal, and constant folding.
type Normalizer struct {
	// Capacity is K, the cardinality guard an IN/NOT IN leaf's literal
	// list must stay within to be absorbed into the fixed-set range
	// sink rather than spilling to the in-set sink with a residual leaf.
	Capacity int
}

func NewNormalizer(capacity int) *Normalizer {
	return &Normalizer{Capacity: capacity}
}

// Result is Normalize's output: the per-column sinks plus whatever
// residual tree is left (nil if the whole conjunct folded to constant
// true), and the constant-false short-circuit.
type Result struct {
	Sinks         *Sinks
	Residual      *Node
	ConstantFalse bool
}

// Normalize runs the walk over root, producing sinks plus a residual
// tree whose evaluation equals the original's conjunction with the
// sinks.
func (n *Normalizer) Normalize(root *Node) Result {
	sinks := NewSinks()
	residual, _ := n.fold(root, sinks)
	if residual == ConstFalse {
		return Result{Sinks: sinks, ConstantFalse: true}
	}
	return Result{Sinks: sinks, Residual: residual}
}

// FoldLateArrival folds a newly-ready filter's leaf predicate into
// existingResidual, producing a fresh conjunct context. It never mutates existingResidual; the caller keeps
// the prior reference alive until its in-flight batch drains.
func (n *Normalizer) FoldLateArrival(existingResidual *Node, newLeaf *Node, sinks *Sinks) *Node {
	folded, absorbed := n.fold(newLeaf, sinks)
	if absorbed {
		return existingResidual
	}
	if existingResidual == nil {
		return folded
	}
	return And(existingResidual, folded)
}

// fold returns the residual node for n (nil if n contributed nothing
// that must remain, ConstFalse if n makes the whole conjunct
// unsatisfiable) and whether n was fully absorbed into sinks.
func (n *Normalizer) fold(node *Node, sinks *Sinks) (*Node, bool) {
	switch node.Kind {
	case NodeConstTrue:
		return nil, true
	case NodeConstFalse:
		return ConstFalse, false
	case NodeLeaf:
		return n.foldLeaf(node, sinks)
	case NodeAnd:
		return n.foldAnd(node, sinks)
	case NodeOr:
		return n.foldOr(node, sinks)
	case NodeNot:
		return n.foldNot(node, sinks)
	default:
		return node, false
	}
}

func (n *Normalizer) foldLeaf(leaf *Node, sinks *Sinks) (*Node, bool) {
	if leaf.Op == OpBloom {
		cs := sinks.forColumn(leaf.Column, leaf.ColType)
		cs.Blooms = append(cs.Blooms, BloomSink{ColType: leaf.ColType, Filter: leaf.Filter})
		// Never absorbed: a bloom probe can false-positive, and pushing
		// the prune into storage is an external collaborator this
		// module does not implement.
		return leaf, false
	}
	if leaf.Op == OpBitmap {
		cs := sinks.forColumn(leaf.Column, leaf.ColType)
		cs.Bitmaps = append(cs.Bitmaps, BitmapSink{ColType: leaf.ColType, Filter: leaf.Filter})
		return leaf, false
	}
	if !literalsCompatible(leaf) {
		return leaf, false
	}

	cs := sinks.forColumn(leaf.Column, leaf.ColType)

	switch leaf.Op {
	case OpFunc:
		cs.Functions = append(cs.Functions, FunctionPushdownSink{ColType: leaf.ColType, Func: leaf.Func, Args: leaf.Literals})
		return nil, true

	case OpEq:
		cs.Range.IntersectFixedSet([]rf.Scalar{leaf.Literals[0].Scalar})
		return emptyCheck(cs.Range)

	case OpIn:
		if len(leaf.Literals) > n.Capacity {
			values := make([]rf.Scalar, len(leaf.Literals))
			for i, l := range leaf.Literals {
				values[i] = l.Scalar
			}
			cs.InSets = append(cs.InSets, InSetSink{ColType: leaf.ColType, Values: values})
			return leaf, false
		}
		values := make([]rf.Scalar, len(leaf.Literals))
		for i, l := range leaf.Literals {
			values[i] = l.Scalar
		}
		cs.Range.IntersectFixedSet(values)
		return emptyCheck(cs.Range)

	case OpNotIn:
		if len(leaf.Literals) > n.Capacity {
			values := make([]rf.Scalar, len(leaf.Literals))
			for i, l := range leaf.Literals {
				values[i] = l.Scalar
			}
			cs.InSets = append(cs.InSets, InSetSink{ColType: leaf.ColType, Values: values, NotIn: true})
			return leaf, false
		}
		for _, l := range leaf.Literals {
			cs.Range.AddNotEqual(l.Scalar)
		}
		return nil, true

	case OpNe:
		cs.Range.AddNotEqual(leaf.Literals[0].Scalar)
		return nil, true

	case OpLt:
		cs.Range.TightenHigh(leaf.Literals[0].Scalar, false)
		return emptyCheck(cs.Range)
	case OpLe:
		cs.Range.TightenHigh(leaf.Literals[0].Scalar, true)
		return emptyCheck(cs.Range)
	case OpGt:
		cs.Range.TightenLow(leaf.Literals[0].Scalar, false)
		return emptyCheck(cs.Range)
	case OpGe:
		cs.Range.TightenLow(leaf.Literals[0].Scalar, true)
		return emptyCheck(cs.Range)

	case OpIsNull:
		cs.Range.ContainsNull = true
		if cs.Range.ExcludesNull {
			return ConstFalse, false
		}
		return nil, true
	case OpIsNotNull:
		cs.Range.ExcludesNull = true
		if cs.Range.ContainsNull {
			return ConstFalse, false
		}
		return nil, true

	default:
		return leaf, false
	}
}

func emptyCheck(r *ValueRangeSink) (*Node, bool) {
	if r.IsEmpty() {
		return ConstFalse, false
	}
	return nil, true
}

// literalsCompatible implements the type-compatibility and
// date-truncation rules: push down only a lossless conversion between
// the literal's type and the column's declared type, and refuse
// outright when the leaf is a cast(col as date) compared against a
// datetime literal (DateTruncationCast).
func literalsCompatible(leaf *Node) bool {
	if leaf.DateTruncationCast {
		return false
	}
	for _, lit := range leaf.Literals {
		if lit.Scalar.Null {
			continue
		}
		if !losslessConversion(lit.Scalar.Type, leaf.ColType) {
			return false
		}
	}
	return true
}

func losslessConversion(litType, colType rf.ColumnType) bool {
	if litType == colType {
		return true
	}
	if litType.IsInteger() && colType.IsInteger() {
		return intWidth(litType) <= intWidth(colType)
	}
	if litType.IsString() && colType.IsString() {
		return true
	}
	if litType.IsDecimal() && colType.IsDecimal() {
		return true
	}
	if litType.IsDate() && colType.IsDate() {
		// Widening a date literal up to a datetime column is lossless
		// (date promoted to midnight); narrowing datetime down to a
		// date column loses the time-of-day component and is refused
		// here (the explicit date-truncation-cast leaf shape above
		// covers the cast(col as date) variant of the same hazard).
		litIsDateTime := litType == rf.ColDateTime || litType == rf.ColDateTimeV2
		colIsDateTime := colType == rf.ColDateTime || colType == rf.ColDateTimeV2
		return !litIsDateTime || colIsDateTime
	}
	return false
}

func intWidth(t rf.ColumnType) int {
	switch t {
	case rf.ColInt8:
		return 8
	case rf.ColInt16:
		return 16
	case rf.ColInt32:
		return 32
	case rf.ColInt64:
		return 64
	case rf.ColInt128:
		return 128
	default:
		return 0
	}
}

func (n *Normalizer) foldAnd(node *Node, sinks *Sinks) (*Node, bool) {
	var residuals []*Node
	for _, child := range node.Children {
		residual, absorbed := n.fold(child, sinks)
		if residual == ConstFalse {
			return ConstFalse, false
		}
		if !absorbed {
			residuals = append(residuals, residual)
		}
	}
	switch len(residuals) {
	case 0:
		return nil, true
	case 1:
		return residuals[0], false
	default:
		return And(residuals...), false
	}
}

// foldOr never pushes its children into hard per-column sinks: OR
// predicates must not become hard constraints. It only records a
// best-effort compound-range hint when every child is a
// comparison leaf on the same column, and always keeps the OR subtree
// in the residual tree.
func (n *Normalizer) foldOr(node *Node, sinks *Sinks) (*Node, bool) {
	recordCompoundRangeHint(node, sinks)
	return node, false
}

func recordCompoundRangeHint(node *Node, sinks *Sinks) {
	if len(node.Children) == 0 {
		return
	}
	column := ""
	colType := rf.ColBool
	hint := CompoundRangeHint{}
	// A disjunct with no upper (lower) bound makes the union unbounded
	// on that side.
	loOpen, hiOpen := false, false
	for i, child := range node.Children {
		if child.Kind != NodeLeaf || len(child.Literals) == 0 {
			return
		}
		if i == 0 {
			column, colType = child.Column, child.ColType
			hint.Column, hint.ColType = column, colType
		} else if child.Column != column {
			return
		}
		switch child.Op {
		case OpLt, OpLe, OpEq:
			v := child.Literals[len(child.Literals)-1].Scalar
			if !hint.HasHi || rf.Compare(v, hint.Hi) > 0 {
				hint.Hi, hint.HasHi = v, true
			}
		default:
			hiOpen = true
		}
		switch child.Op {
		case OpGt, OpGe, OpEq:
			v := child.Literals[0].Scalar
			if !hint.HasLo || rf.Compare(v, hint.Lo) < 0 {
				hint.Lo, hint.HasLo = v, true
			}
		default:
			loOpen = true
		}
	}
	if loOpen {
		hint.Lo, hint.HasLo = rf.Scalar{}, false
	}
	if hiOpen {
		hint.Hi, hint.HasHi = rf.Scalar{}, false
	}
	if hint.HasLo || hint.HasHi {
		sinks.CompoundRanges = append(sinks.CompoundRanges, hint)
	}
}

// foldNot implements the NOT rule: fold into a leaf by inverting the
// operator, or apply De Morgan's law when both children
// of an AND/OR are leaves on the same column; otherwise keep the NOT
// node verbatim in the residual (never recursing into the child, so it
// is never wrongly pushed into sinks as a positive constraint).
func (n *Normalizer) foldNot(node *Node, sinks *Sinks) (*Node, bool) {
	child := node.Children[0]

	if child.Kind == NodeLeaf {
		if inverted, ok := child.Op.Invert(); ok {
			leaf := *child
			leaf.Op = inverted
			return n.fold(&leaf, sinks)
		}
		return node, false
	}

	if (child.Kind == NodeAnd || child.Kind == NodeOr) && len(child.Children) > 0 {
		col := ""
		invertedChildren := make([]*Node, 0, len(child.Children))
		for i, gc := range child.Children {
			if gc.Kind != NodeLeaf {
				return node, false
			}
			if i == 0 {
				col = gc.Column
			} else if gc.Column != col {
				return node, false
			}
			inverted, ok := gc.Op.Invert()
			if !ok {
				return node, false
			}
			leaf := *gc
			leaf.Op = inverted
			invertedChildren = append(invertedChildren, &leaf)
		}
		newKind := NodeOr
		if child.Kind == NodeOr {
			newKind = NodeAnd
		}
		return n.fold(&Node{Kind: newKind, Children: invertedChildren}, sinks)
	}

	return node, false
}
