package condition

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	snapshotdomain "github.com/smallbiznis/creatorops/internal/snapshot/domain"
)

const maxDepth = 16

// DecodeError describes a malformed condition document.
type DecodeError struct {
	Path   string
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Path == "" {
		return "invalid condition: " + e.Reason
	}
	return fmt.Sprintf("invalid condition at %s: %s", e.Path, e.Reason)
}

// node is the persisted shape of a condition. Leaves carry field/op/value,
// composites carry operator/children.
type node struct {
	Field    string          `json:"field,omitempty"`
	Op       string          `json:"op,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
	Operator string          `json:"operator,omitempty"`
	Children []node          `json:"children,omitempty"`
}

// Decode parses a persisted condition document.
func Decode(raw []byte) (Condition, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, &DecodeError{Reason: "condition is required"}
	}
	var n node
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&n); err != nil {
		return nil, &DecodeError{Reason: err.Error()}
	}
	return fromNode(n, "$", 0)
}

func fromNode(n node, path string, depth int) (Condition, error) {
	if depth > maxDepth {
		return nil, &DecodeError{Path: path, Reason: "condition nested too deeply"}
	}

	isLeaf := n.Field != "" || n.Op != "" || len(n.Value) > 0
	isComposite := n.Operator != "" || n.Children != nil
	switch {
	case isLeaf && isComposite:
		return nil, &DecodeError{Path: path, Reason: "node mixes leaf and composite keys"}
	case isLeaf:
		return leafFromNode(n, path)
	case isComposite:
		logic := Logic(strings.ToUpper(strings.TrimSpace(n.Operator)))
		if !logic.Valid() {
			return nil, &DecodeError{Path: path, Reason: fmt.Sprintf("unknown composite operator %q", n.Operator)}
		}
		children := make([]Condition, 0, len(n.Children))
		for i, child := range n.Children {
			c, err := fromNode(child, fmt.Sprintf("%s.children[%d]", path, i), depth+1)
			if err != nil {
				return nil, err
			}
			children = append(children, c)
		}
		return Composite{Operator: logic, Children: children}, nil
	default:
		return nil, &DecodeError{Path: path, Reason: "empty condition node"}
	}
}

func leafFromNode(n node, path string) (Condition, error) {
	field := strings.TrimSpace(n.Field)
	if field == "" {
		return nil, &DecodeError{Path: path, Reason: "leaf field is required"}
	}
	op := Operator(strings.ToLower(strings.TrimSpace(n.Op)))
	if !op.Valid() {
		return nil, &DecodeError{Path: path, Reason: fmt.Sprintf("unknown operator %q", n.Op)}
	}
	if len(n.Value) == 0 {
		return nil, &DecodeError{Path: path, Reason: "leaf value is required"}
	}

	var num float64
	if err := json.Unmarshal(n.Value, &num); err == nil {
		return Leaf{Field: field, Operator: op, Value: snapshotdomain.Number(num)}, nil
	}
	var text string
	if err := json.Unmarshal(n.Value, &text); err == nil {
		if op != OpEQ && op != OpNE {
			return nil, &DecodeError{Path: path, Reason: fmt.Sprintf("operator %q requires a numeric value", op)}
		}
		return Leaf{Field: field, Operator: op, Value: snapshotdomain.Text(text)}, nil
	}
	return nil, &DecodeError{Path: path, Reason: "leaf value must be a number or string"}
}

// Encode renders c into its persisted document form.
func Encode(c Condition) (json.RawMessage, error) {
	n, err := toNode(c)
	if err != nil {
		return nil, err
	}
	return json.Marshal(n)
}

func toNode(c Condition) (node, error) {
	switch v := c.(type) {
	case Leaf:
		return leafNode(v)
	case *Leaf:
		if v == nil {
			return node{}, errors.New("nil leaf")
		}
		return leafNode(*v)
	case Composite:
		return compositeNode(v)
	case *Composite:
		if v == nil {
			return node{}, errors.New("nil composite")
		}
		return compositeNode(*v)
	default:
		return node{}, fmt.Errorf("unsupported condition type %T", c)
	}
}

func leafNode(l Leaf) (node, error) {
	var (
		value []byte
		err   error
	)
	if l.Value.Kind == snapshotdomain.KindText {
		value, err = json.Marshal(l.Value.Text)
	} else {
		value, err = json.Marshal(l.Value.Number)
	}
	if err != nil {
		return node{}, err
	}
	return node{Field: l.Field, Op: string(l.Operator), Value: value}, nil
}

func compositeNode(c Composite) (node, error) {
	children := make([]node, 0, len(c.Children))
	for _, child := range c.Children {
		n, err := toNode(child)
		if err != nil {
			return node{}, err
		}
		children = append(children, n)
	}
	return node{Operator: string(c.Operator), Children: children}, nil
}
