package rules

import "fmt"

// Type discriminates the rule variants.
type Type string

const (
	TypeFilter         Type = "filter"
	TypeRanking        Type = "ranking"
	TypeTransformation Type = "transformation"
)

// Order is a ranking sort direction.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// Rule is a single declarative instruction: a filter test, a ranking
// key, or a transformation. Which fields are meaningful depends on Type:
//
//	filter:         Field, Operator, Value (or Min/Max for range)
//	ranking:        Field, Order, Weight
//	transformation: Field, Operation
type Rule struct {
	Name     string   `json:"name" yaml:"name"`
	Type     Type     `json:"type" yaml:"type"`
	Field    string   `json:"field" yaml:"field"`
	Operator Operator `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value    any      `json:"value,omitempty" yaml:"value,omitempty"`
	Min      *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max      *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Order    Order    `json:"order,omitempty" yaml:"order,omitempty"`
	Weight   float64  `json:"weight,omitempty" yaml:"weight,omitempty"`

	// Operation names the reshaping applied by a transformation rule.
	Operation string `json:"operation,omitempty" yaml:"operation,omitempty"`
}

// ValidationError reports a malformed rule at load time, before any
// record is evaluated.
type ValidationError struct {
	Rule   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid rule %q (field %q): %s", e.Rule, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid rule %q: %s", e.Rule, e.Reason)
}

// Validate checks the rule's shape and normalizes defaults: an empty
// ranking order becomes desc, a zero ranking weight becomes 1.0, and an
// unnamed rule is named after its field and operator. Returns a
// *ValidationError on the first problem found.
func (r *Rule) Validate() error {
	if r.Field == "" {
		return &ValidationError{Rule: r.Name, Reason: "missing field"}
	}

	switch r.Type {
	case TypeFilter:
		return r.validateFilter()
	case TypeRanking:
		return r.validateRanking()
	case TypeTransformation:
		if r.Operation == "" {
			return &ValidationError{Rule: r.Name, Field: r.Field, Reason: "missing operation"}
		}
	case "":
		return &ValidationError{Rule: r.Name, Field: r.Field, Reason: "missing rule type"}
	default:
		return &ValidationError{Rule: r.Name, Field: r.Field, Reason: fmt.Sprintf("unknown rule type %q", r.Type)}
	}

	r.normalizeName()
	return nil
}

func (r *Rule) validateFilter() error {
	if !r.Operator.Valid() {
		return &ValidationError{Rule: r.Name, Field: r.Field, Reason: fmt.Sprintf("unknown operator %q", string(r.Operator))}
	}

	switch {
	case r.Operator == OpRange:
		if r.Min == nil || r.Max == nil {
			return &ValidationError{Rule: r.Name, Field: r.Field, Reason: "range requires min and max"}
		}
		if *r.Min > *r.Max {
			return &ValidationError{Rule: r.Name, Field: r.Field, Reason: fmt.Sprintf("range min %v exceeds max %v", *r.Min, *r.Max)}
		}
	case r.Operator.membership():
		if _, ok := asList(r.Value); !ok {
			return &ValidationError{Rule: r.Name, Field: r.Field, Reason: fmt.Sprintf("%s requires a list operand", r.Operator)}
		}
	default:
		if r.Value == nil {
			return &ValidationError{Rule: r.Name, Field: r.Field, Reason: "missing operand"}
		}
	}

	r.normalizeName()
	return nil
}

func (r *Rule) validateRanking() error {
	switch r.Order {
	case OrderAsc, OrderDesc:
	case "":
		r.Order = OrderDesc
	default:
		return &ValidationError{Rule: r.Name, Field: r.Field, Reason: fmt.Sprintf("unknown order %q", string(r.Order))}
	}

	if r.Weight < 0 {
		return &ValidationError{Rule: r.Name, Field: r.Field, Reason: "negative weight"}
	}
	if r.Weight == 0 {
		r.Weight = 1.0
	}

	r.normalizeName()
	return nil
}

func (r *Rule) normalizeName() {
	if r.Name != "" {
		return
	}
	switch r.Type {
	case TypeFilter:
		r.Name = fmt.Sprintf("%s %s", r.Field, r.Operator)
	case TypeRanking:
		r.Name = fmt.Sprintf("%s %s", r.Field, r.Order)
	case TypeTransformation:
		r.Name = fmt.Sprintf("%s %s", r.Operation, r.Field)
	}
}

// ValidateAll validates a rule list in place, failing fast on the first
// malformed rule.
func ValidateAll(list []Rule) error {
	for i := range list {
		if err := list[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}
