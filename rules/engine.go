package rules

import (
	"fmt"
	"strings"

	"github.com/xraygo/xray/dataset"
)

// Reasons for the two soft-failure cases. Type mismatches and absent
// fields are data, not control flow: they fail the Check, they never
// fail the evaluation.
const (
	ReasonFieldMissing     = "field missing"
	ReasonNonNumeric       = "non-numeric comparison"
	ReasonPassed           = "passed"
	ReasonMalformedOperand = "malformed operand"
)

// Engine evaluates filter rules against records. Evaluation is total:
// every call returns a Check, malformed data fails the Check instead of
// raising. The engine is stateless and safe for concurrent use.
type Engine struct{}

// NewEngine creates a rule evaluation engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Evaluate applies one filter rule to one record. The rule is assumed to
// have passed Validate; unknown operators at this point still produce a
// failed Check rather than a panic.
func (en *Engine) Evaluate(rec dataset.Record, r Rule) Check {
	check := Check{
		Rule:     r.Name,
		Field:    r.Field,
		Operator: r.Operator,
		Expected: expectedOperand(r),
	}

	actual, present := rec[r.Field]
	if !present {
		check.Passed = false
		check.Actual = nil
		check.Reason = ReasonFieldMissing
		return check
	}
	check.Actual = actual

	if r.Operator.relational() {
		return en.evaluateRelational(check, actual, r)
	}

	switch r.Operator {
	case OpEqual:
		check.Passed = valuesEqual(actual, r.Value)
	case OpNotEqual:
		check.Passed = !valuesEqual(actual, r.Value)
	case OpContains:
		check.Passed = strings.Contains(ToText(actual), ToText(r.Value))
	case OpNotContains:
		check.Passed = !strings.Contains(ToText(actual), ToText(r.Value))
	case OpStartsWith:
		check.Passed = strings.HasPrefix(ToText(actual), ToText(r.Value))
	case OpEndsWith:
		check.Passed = strings.HasSuffix(ToText(actual), ToText(r.Value))
	case OpIn, OpNotIn:
		list, ok := asList(r.Value)
		if !ok {
			check.Passed = false
			check.Reason = ReasonMalformedOperand
			return check
		}
		member := false
		for _, item := range list {
			if valuesEqual(actual, item) {
				member = true
				break
			}
		}
		check.Passed = member == (r.Operator == OpIn)
	default:
		check.Passed = false
		check.Reason = fmt.Sprintf("unknown operator %q", string(r.Operator))
		return check
	}

	check.Reason = describeOutcome(check.Passed, actual, r)
	return check
}

func (en *Engine) evaluateRelational(check Check, actual any, r Rule) Check {
	value, ok := ToNumber(actual)
	if !ok {
		check.Passed = false
		check.Reason = ReasonNonNumeric
		return check
	}

	if r.Operator == OpRange {
		check.Passed = value >= *r.Min && value <= *r.Max
		check.Reason = describeOutcome(check.Passed, actual, r)
		return check
	}

	operand, ok := ToNumber(r.Value)
	if !ok {
		check.Passed = false
		check.Reason = ReasonNonNumeric
		return check
	}

	switch r.Operator {
	case OpGreaterEqual:
		check.Passed = value >= operand
	case OpLessEqual:
		check.Passed = value <= operand
	case OpGreater:
		check.Passed = value > operand
	case OpLess:
		check.Passed = value < operand
	}

	check.Reason = describeOutcome(check.Passed, actual, r)
	return check
}

// expectedOperand renders the rule's operand for the Check. Range rules
// expose both bounds.
func expectedOperand(r Rule) any {
	if r.Operator == OpRange && r.Min != nil && r.Max != nil {
		return []float64{*r.Min, *r.Max}
	}
	return r.Value
}

func describeOutcome(passed bool, actual any, r Rule) string {
	if passed {
		return ReasonPassed
	}
	if r.Operator == OpRange {
		return fmt.Sprintf("value %v is outside range [%v, %v]", actual, *r.Min, *r.Max)
	}
	return fmt.Sprintf("value %v does not satisfy %s %v", actual, r.Operator, r.Value)
}
