package rules

import "fmt"

// Operator is one of the closed set of filter comparisons. Adding an
// operator is a schema change, not a plugin point.
type Operator string

const (
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
	OpContains     Operator = "contains"
	OpNotContains  Operator = "not_contains"
	OpStartsWith   Operator = "starts_with"
	OpEndsWith     Operator = "ends_with"
	OpIn           Operator = "in"
	OpNotIn        Operator = "not_in"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpRange        Operator = "range"
)

var operators = map[Operator]bool{
	OpEqual:        true,
	OpNotEqual:     true,
	OpContains:     true,
	OpNotContains:  true,
	OpStartsWith:   true,
	OpEndsWith:     true,
	OpIn:           true,
	OpNotIn:        true,
	OpGreaterEqual: true,
	OpLessEqual:    true,
	OpGreater:      true,
	OpLess:         true,
	OpRange:        true,
}

// ParseOperator validates an operator string.
func ParseOperator(s string) (Operator, error) {
	op := Operator(s)
	if !operators[op] {
		return "", fmt.Errorf("unknown operator %q", s)
	}
	return op, nil
}

// Valid reports whether op is a member of the operator set.
func (op Operator) Valid() bool {
	return operators[op]
}

// relational operators and range require numeric operands on both sides.
func (op Operator) relational() bool {
	switch op {
	case OpGreaterEqual, OpLessEqual, OpGreater, OpLess, OpRange:
		return true
	}
	return false
}

// membership operators take a list operand.
func (op Operator) membership() bool {
	return op == OpIn || op == OpNotIn
}
