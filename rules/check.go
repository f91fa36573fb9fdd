package rules

// Check is the outcome of one filter rule against one record. Checks are
// created fresh per (record, rule) pair and never mutated afterwards.
type Check struct {
	Rule     string   `json:"rule"`
	Field    string   `json:"field"`
	Operator Operator `json:"operator,omitempty"`
	Expected any      `json:"expected"`
	Actual   any      `json:"actual"`
	Passed   bool     `json:"passed"`
	Reason   string   `json:"reason"`
}
