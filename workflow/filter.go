package workflow

import (
	"github.com/xraygo/xray/dataset"
	"github.com/xraygo/xray/rules"
	"github.com/xraygo/xray/trace"
)

// FilterStage applies filter rules to every record. A record is accepted
// only when every rule's Check passes; all checks run even after a
// failure so the trace shows every reason a record was rejected.
type FilterStage struct {
	Engine *rules.Engine

	// Parallelism above one fans per-record evaluation out to that many
	// workers. Output ordering always matches input ordering.
	Parallelism int
}

// Apply evaluates all rules against all records, returning one
// Evaluation per input record (input order) and the accepted records
// (input order). An empty rule list accepts everything with an empty
// checks array per evaluation.
func (f *FilterStage) Apply(records []dataset.Record, ruleList []rules.Rule) ([]trace.Evaluation, []dataset.Record) {
	evaluations := make([]trace.Evaluation, len(records))

	forEachRecord(records, f.Parallelism, func(i int, rec dataset.Record) {
		checks := make([]rules.Check, 0, len(ruleList))
		accepted := true
		for _, r := range ruleList {
			check := f.Engine.Evaluate(rec, r)
			if !check.Passed {
				accepted = false
			}
			checks = append(checks, check)
		}

		decision := trace.DecisionAccepted
		if !accepted {
			decision = trace.DecisionRejected
		}
		evaluations[i] = trace.Evaluation{
			EntityID:      rec.EntityID(),
			Attributes:    rec.Attributes(),
			Checks:        checks,
			FinalDecision: decision,
		}
	})

	passed := make([]dataset.Record, 0, len(records))
	for i, ev := range evaluations {
		if ev.FinalDecision == trace.DecisionAccepted {
			passed = append(passed, records[i])
		}
	}
	return evaluations, passed
}
