package workflow

import (
	"github.com/xraygo/xray/dataset"
	"github.com/xraygo/xray/rules"
	"github.com/xraygo/xray/trace"
)

// Transformer is the pass-through stage: records flow on unchanged, and
// every evaluation is accepted with the step's transformation rules
// recorded on the Step for the trace. Actual reshaping lives with the
// dataset producers, not here.
type Transformer struct{}

// Apply returns one accepted Evaluation per record, input order, records
// unchanged.
func (t *Transformer) Apply(records []dataset.Record, ruleList []rules.Rule) ([]trace.Evaluation, []dataset.Record) {
	evaluations := make([]trace.Evaluation, len(records))
	for i, rec := range records {
		evaluations[i] = trace.Evaluation{
			EntityID:      rec.EntityID(),
			Attributes:    rec.Attributes(),
			Checks:        make([]rules.Check, 0),
			FinalDecision: trace.DecisionAccepted,
		}
	}
	return evaluations, records
}
