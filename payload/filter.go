package payload

import (
	"fmt"
	"strings"
)

// Operator identifies a leaf condition's comparison.
type Operator string

const (
	OpEqual        Operator = "eq"
	OpNotEqual     Operator = "ne"
	OpGreaterThan  Operator = "gt"
	OpGreaterEqual Operator = "gte"
	OpLessThan     Operator = "lt"
	OpLessEqual    Operator = "lte"
	OpContainedIn  Operator = "contained_in"
	OpContains     Operator = "contains"
	OpExists       Operator = "exists"
)

// Filter is a boolean predicate tree evaluated against a Document. Leaf
// nodes are Condition{field, op, operand}; internal nodes are And/Or/Not.
// The tree is built through the constructor functions below, which
// validate eagerly — a malformed filter is a construction-time error,
// never a match-time one.
type Filter struct {
	// leaf fields; valid when kind == NodeCondition
	field      string
	op         Operator
	operand    Value
	hasOperand bool

	// internal-node fields
	kind     NodeKind
	children []*Filter
}

// NodeKind tags which variant of the filter tree a *Filter node is,
// exposed so external structures (the bitmap pre-filter) can walk the
// tree without depending on its unexported representation.
type NodeKind uint8

const (
	NodeCondition NodeKind = iota
	NodeAnd
	NodeOr
	NodeNot
)

// NodeKind reports which tree variant f is.
func (f *Filter) NodeKind() NodeKind { return f.kind }

// Children returns f's child nodes; empty for a leaf Condition.
func (f *Filter) Children() []*Filter { return f.children }

// Field returns the leaf's field name; meaningful only when NodeKind() == NodeCondition.
func (f *Filter) Field() string { return f.field }

// Op returns the leaf's operator; meaningful only when NodeKind() == NodeCondition.
func (f *Filter) Op() Operator { return f.op }

// Operand returns the leaf's operand and whether it carries one (exists does not).
func (f *Filter) Operand() (Value, bool) { return f.operand, f.hasOperand }

// Condition builds a single leaf node. It validates the operator/operand
// combination at construction time:
//   - exists carries no operand.
//   - contained_in requires a KindArray operand.
//   - every other operator requires an operand.
func Condition(field string, op Operator, operand ...Value) (*Filter, error) {
	f := &Filter{kind: NodeCondition, field: field, op: op}

	switch op {
	case OpExists:
		if len(operand) != 0 {
			return nil, fmt.Errorf("payload: exists takes no operand")
		}
	case OpContainedIn:
		if len(operand) != 1 {
			return nil, fmt.Errorf("payload: contained_in requires exactly one operand")
		}
		if operand[0].Kind() != KindArray {
			return nil, fmt.Errorf("payload: contained_in operand must be a list")
		}
		f.operand = operand[0]
		f.hasOperand = true
	case OpEqual, OpNotEqual, OpGreaterThan, OpGreaterEqual, OpLessThan, OpLessEqual, OpContains:
		if len(operand) != 1 {
			return nil, fmt.Errorf("payload: %s requires exactly one operand", op)
		}
		f.operand = operand[0]
		f.hasOperand = true
	default:
		return nil, fmt.Errorf("payload: unknown operator %q", op)
	}

	return f, nil
}

// MustCondition is Condition but panics on error, for building filters
// from literal, known-good arguments (table-driven tests, fixtures).
func MustCondition(field string, op Operator, operand ...Value) *Filter {
	f, err := Condition(field, op, operand...)
	if err != nil {
		panic(err)
	}
	return f
}

// And returns the conjunction of children. An empty child list is the
// identity element for conjunction and always matches — a decision this
// repository makes explicit since the combinator's arity was left
// unconstrained.
func And(children ...*Filter) *Filter {
	return &Filter{kind: NodeAnd, children: children}
}

// Or returns the disjunction of children. An empty child list is the
// identity element for disjunction and never matches.
func Or(children ...*Filter) *Filter {
	return &Filter{kind: NodeOr, children: children}
}

// Not negates child.
func Not(child *Filter) *Filter {
	return &Filter{kind: NodeNot, children: []*Filter{child}}
}

// Matches evaluates the filter tree against doc. Matching is infallible —
// all validation happened at construction time.
func (f *Filter) Matches(doc Document) bool {
	switch f.kind {
	case NodeAnd:
		for _, c := range f.children {
			if !c.Matches(doc) {
				return false
			}
		}
		return true
	case NodeOr:
		for _, c := range f.children {
			if c.Matches(doc) {
				return true
			}
		}
		return false
	case NodeNot:
		return !f.children[0].Matches(doc)
	default:
		return f.matchLeaf(doc)
	}
}

func (f *Filter) matchLeaf(doc Document) bool {
	value, exists := doc[f.field]

	switch f.op {
	case OpExists:
		return exists
	case OpNotEqual:
		if !exists {
			// Missing = bottom; not-equal to anything by total-order convention.
			return true
		}
		return !value.Equal(f.operand)
	}

	if !exists {
		return false
	}

	switch f.op {
	case OpEqual:
		return value.Equal(f.operand)
	case OpGreaterThan:
		return compareNumeric(value, f.operand, func(a, b float64) bool { return a > b })
	case OpGreaterEqual:
		return compareNumeric(value, f.operand, func(a, b float64) bool { return a >= b })
	case OpLessThan:
		return compareNumeric(value, f.operand, func(a, b float64) bool { return a < b })
	case OpLessEqual:
		return compareNumeric(value, f.operand, func(a, b float64) bool { return a <= b })
	case OpContainedIn:
		items, _ := f.operand.AsArray()
		for _, item := range items {
			if value.Equal(item) {
				return true
			}
		}
		return false
	case OpContains:
		return containsMatch(value, f.operand)
	default:
		return false
	}
}

func compareNumeric(a, b Value, cmp func(a, b float64) bool) bool {
	av, ok := a.numeric()
	if !ok {
		return false
	}
	bv, ok := b.numeric()
	if !ok {
		return false
	}
	return cmp(av, bv)
}

// containsMatch implements "contains": substring on strings, element-of on
// arrays.
func containsMatch(field, operand Value) bool {
	if s, ok := field.AsString(); ok {
		sub, ok := operand.AsString()
		if !ok {
			return false
		}
		return strings.Contains(s, sub)
	}
	if items, ok := field.AsArray(); ok {
		for _, item := range items {
			if item.Equal(operand) {
				return true
			}
		}
		return false
	}
	return false
}
