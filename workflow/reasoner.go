package workflow

import (
	"fmt"
	"strings"

	"github.com/xraygo/xray/trace"
)

// Reasoner produces the human-readable reasoning text attached to each
// Step. Callers can substitute their own provider; the Recorder defaults
// to CountReasoner.
type Reasoner interface {
	Explain(spec StepSpec, evaluations []trace.Evaluation, input, output map[string]any) string
}

// CountReasoner summarizes each step from its counts: what was applied,
// what survived, what was selected.
type CountReasoner struct{}

func (CountReasoner) Explain(spec StepSpec, evaluations []trace.Evaluation, input, output map[string]any) string {
	switch spec.Type {
	case trace.StepFilter:
		if len(spec.Rules) == 0 {
			return fmt.Sprintf("no filter rules configured; all %d records passed through", len(evaluations))
		}
		return fmt.Sprintf("applied %d filter rule(s) to %d record(s): %v accepted, %v rejected",
			len(spec.Rules), len(evaluations), output["accepted"], output["rejected"])

	case trace.StepRanking:
		keys := make([]string, 0, len(spec.Rules))
		for _, r := range spec.Rules {
			keys = append(keys, fmt.Sprintf("%s (%s)", r.Field, r.Order))
		}
		reason := fmt.Sprintf("ranked %d record(s) by %s", len(evaluations), strings.Join(keys, ", "))
		if selected, ok := output["selected"]; ok {
			reason += fmt.Sprintf("; selected %v", selected)
		}
		return reason

	case trace.StepTransformation:
		return fmt.Sprintf("passed %d record(s) through transformation step", len(evaluations))
	}
	return ""
}
