// Package condition evaluates rule condition trees against a metrics snapshot.
//
// A condition is either a Leaf threshold comparison or a Composite AND/OR over
// child conditions. A Leaf whose field is absent from the snapshot evaluates
// to false. A Composite with no children evaluates to true for AND and OR.
package condition

import (
	"fmt"
	"sort"

	snapshotdomain "github.com/smallbiznis/creatorops/internal/snapshot/domain"
)

// Operator is a leaf comparison operator.
type Operator string

const (
	OpLT  Operator = "lt"
	OpLTE Operator = "lte"
	OpGT  Operator = "gt"
	OpGTE Operator = "gte"
	OpEQ  Operator = "eq"
	OpNE  Operator = "ne"
)

func (o Operator) Valid() bool {
	switch o {
	case OpLT, OpLTE, OpGT, OpGTE, OpEQ, OpNE:
		return true
	default:
		return false
	}
}

// Logic is a composite operator.
type Logic string

const (
	And Logic = "AND"
	Or  Logic = "OR"
)

func (l Logic) Valid() bool {
	return l == And || l == Or
}

// Condition is implemented only by Leaf and Composite.
type Condition interface {
	condition()
}

// Leaf compares one snapshot field against a constant.
type Leaf struct {
	Field    string
	Operator Operator
	Value    snapshotdomain.Value
}

// Composite combines child conditions with AND or OR.
type Composite struct {
	Operator Logic
	Children []Condition
}

func (Leaf) condition()      {}
func (Composite) condition() {}

// NumberLeaf builds a numeric leaf.
func NumberLeaf(field string, op Operator, value float64) Leaf {
	return Leaf{Field: field, Operator: op, Value: snapshotdomain.Number(value)}
}

// TextLeaf builds a categorical leaf.
func TextLeaf(field string, op Operator, value string) Leaf {
	return Leaf{Field: field, Operator: op, Value: snapshotdomain.Text(value)}
}

func AllOf(children ...Condition) Composite {
	return Composite{Operator: And, Children: children}
}

func AnyOf(children ...Condition) Composite {
	return Composite{Operator: Or, Children: children}
}

// Evaluate reports whether c holds for snap. It has no side effects.
func Evaluate(c Condition, snap snapshotdomain.Snapshot) bool {
	switch node := c.(type) {
	case Leaf:
		return evaluateLeaf(node, snap)
	case *Leaf:
		if node == nil {
			return false
		}
		return evaluateLeaf(*node, snap)
	case Composite:
		return evaluateComposite(node, snap)
	case *Composite:
		if node == nil {
			return true
		}
		return evaluateComposite(*node, snap)
	default:
		return false
	}
}

func evaluateComposite(node Composite, snap snapshotdomain.Snapshot) bool {
	// Empty children pass vacuously for both operators.
	if len(node.Children) == 0 {
		return true
	}
	switch node.Operator {
	case And:
		for _, child := range node.Children {
			if !Evaluate(child, snap) {
				return false
			}
		}
		return true
	case Or:
		for _, child := range node.Children {
			if Evaluate(child, snap) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func evaluateLeaf(leaf Leaf, snap snapshotdomain.Snapshot) bool {
	actual, ok := snap.Get(leaf.Field)
	if !ok {
		return false
	}

	if actual.Kind == snapshotdomain.KindText || leaf.Value.Kind == snapshotdomain.KindText {
		if actual.Kind != leaf.Value.Kind {
			return false
		}
		switch leaf.Operator {
		case OpEQ:
			return actual.Text == leaf.Value.Text
		case OpNE:
			return actual.Text != leaf.Value.Text
		default:
			return false
		}
	}

	a, b := actual.Number, leaf.Value.Number
	switch leaf.Operator {
	case OpLT:
		return a < b
	case OpLTE:
		return a <= b
	case OpGT:
		return a > b
	case OpGTE:
		return a >= b
	case OpEQ:
		return a == b
	case OpNE:
		return a != b
	default:
		return false
	}
}

// Fields returns the distinct snapshot fields referenced by c, sorted.
func Fields(c Condition) []string {
	seen := map[string]struct{}{}
	collectFields(c, seen)
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func collectFields(c Condition, seen map[string]struct{}) {
	switch node := c.(type) {
	case Leaf:
		seen[node.Field] = struct{}{}
	case *Leaf:
		if node != nil {
			seen[node.Field] = struct{}{}
		}
	case Composite:
		for _, child := range node.Children {
			collectFields(child, seen)
		}
	case *Composite:
		if node != nil {
			for _, child := range node.Children {
				collectFields(child, seen)
			}
		}
	}
}

// String renders c for logs, e.g. "(approval_rate lt 50 AND total_proposals gte 5)".
func String(c Condition) string {
	switch node := c.(type) {
	case Leaf:
		return leafString(node)
	case *Leaf:
		if node == nil {
			return "<nil>"
		}
		return leafString(*node)
	case Composite:
		return compositeString(node)
	case *Composite:
		if node == nil {
			return "<nil>"
		}
		return compositeString(*node)
	default:
		return "<nil>"
	}
}

func leafString(l Leaf) string {
	if l.Value.Kind == snapshotdomain.KindText {
		return fmt.Sprintf("%s %s %q", l.Field, l.Operator, l.Value.Text)
	}
	return fmt.Sprintf("%s %s %g", l.Field, l.Operator, l.Value.Number)
}

func compositeString(c Composite) string {
	if len(c.Children) == 0 {
		return fmt.Sprintf("%s()", c.Operator)
	}
	out := "("
	for i, child := range c.Children {
		if i > 0 {
			out += " " + string(c.Operator) + " "
		}
		out += String(child)
	}
	return out + ")"
}
