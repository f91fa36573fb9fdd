package workflow

import (
	"sort"
	"strings"

	"github.com/xraygo/xray/dataset"
	"github.com/xraygo/xray/rules"
	"github.com/xraygo/xray/trace"
)

// Ranker orders records by a composite, priority-ordered sort key: the
// ranking rules in declaration order. The sort is stable, so records
// comparing equal on every key keep their pre-ranking relative order.
// The top-ranked record is marked selected; the rest stay accepted.
type Ranker struct {
	// Parallelism above one computes per-record scores across that many
	// workers. Sorting is always serial.
	Parallelism int
}

// Apply ranks the records, returning evaluations in ranked order (each
// carrying rank, total_score, and score_breakdown attributes) and the
// records in the same order.
func (rk *Ranker) Apply(records []dataset.Record, ruleList []rules.Rule) ([]trace.Evaluation, []dataset.Record) {
	maxima := fieldMaxima(records, ruleList)

	// Scores are informational (explainability); ordering comes from the
	// raw field values, so scoring can run in parallel independently.
	breakdowns := make([]map[string]float64, len(records))
	totals := make([]float64, len(records))
	forEachRecord(records, rk.Parallelism, func(i int, rec dataset.Record) {
		breakdown := make(map[string]float64, len(ruleList))
		total := 0.0
		for _, r := range ruleList {
			contribution := scoreContribution(rec, r, maxima[r.Field])
			breakdown[r.Field] = contribution
			total += contribution
		}
		breakdowns[i] = breakdown
		totals[i] = total
	})

	order := make([]int, len(records))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return compareRecords(records[order[a]], records[order[b]], ruleList) < 0
	})

	evaluations := make([]trace.Evaluation, len(records))
	ranked := make([]dataset.Record, len(records))
	for rank, idx := range order {
		rec := records[idx]
		attrs := rec.Attributes()
		attrs["rank"] = rank + 1
		attrs["total_score"] = totals[idx]
		attrs["score_breakdown"] = breakdowns[idx]

		decision := trace.DecisionAccepted
		if rank == 0 {
			decision = trace.DecisionSelected
		}
		evaluations[rank] = trace.Evaluation{
			EntityID:      rec.EntityID(),
			Attributes:    attrs,
			Checks:        rankingChecks(rec, ruleList),
			FinalDecision: decision,
		}
		ranked[rank] = rec
	}
	return evaluations, ranked
}

// rankingChecks documents each sort key's observed value. Ranking never
// rejects, so every check passes; a missing field is noted in the reason
// and the record simply sorts last.
func rankingChecks(rec dataset.Record, ruleList []rules.Rule) []rules.Check {
	checks := make([]rules.Check, 0, len(ruleList))
	for _, r := range ruleList {
		check := rules.Check{
			Rule:     r.Name,
			Field:    r.Field,
			Expected: string(r.Order),
			Passed:   true,
			Reason:   rules.ReasonPassed,
		}
		if v, ok := rec[r.Field]; ok && v != nil {
			check.Actual = v
		} else {
			check.Reason = rules.ReasonFieldMissing
		}
		checks = append(checks, check)
	}
	return checks
}

// fieldMaxima finds the largest numeric value per ranked field, used to
// normalize score contributions into [0, weight].
func fieldMaxima(records []dataset.Record, ruleList []rules.Rule) map[string]float64 {
	maxima := make(map[string]float64, len(ruleList))
	for _, r := range ruleList {
		if _, seen := maxima[r.Field]; seen {
			continue
		}
		max := 0.0
		for _, rec := range records {
			if v, ok := rules.ToNumber(rec[r.Field]); ok && v > max {
				max = v
			}
		}
		maxima[r.Field] = max
	}
	return maxima
}

// scoreContribution is weight * value/max for descending keys and
// weight * (1 - value/max) for ascending ones. Missing or non-numeric
// values contribute zero.
func scoreContribution(rec dataset.Record, r rules.Rule, max float64) float64 {
	v, ok := rec[r.Field]
	if !ok || v == nil {
		return 0
	}
	value, ok := rules.ToNumber(v)
	if !ok || max == 0 {
		return 0
	}
	normalized := value / max
	if r.Order == rules.OrderAsc {
		return r.Weight * (1 - normalized)
	}
	return r.Weight * normalized
}

// compareRecords orders two records by the composite key. A record
// missing a key field sorts after one that has it, regardless of the
// key's direction.
func compareRecords(a, b dataset.Record, ruleList []rules.Rule) int {
	for _, r := range ruleList {
		va, aok := a[r.Field]
		vb, bok := b[r.Field]
		aok = aok && va != nil
		bok = bok && vb != nil
		if aok != bok {
			if aok {
				return -1
			}
			return 1
		}
		if !aok {
			continue
		}

		cmp := compareValues(va, vb)
		if cmp == 0 {
			continue
		}
		if r.Order == rules.OrderAsc {
			return cmp
		}
		return -cmp
	}
	return 0
}

// compareValues compares numerically when both sides are numeric, else
// by text.
func compareValues(a, b any) int {
	na, aok := rules.ToNumber(a)
	nb, bok := rules.ToNumber(b)
	if aok && bok {
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		}
		return 0
	}
	return strings.Compare(rules.ToText(a), rules.ToText(b))
}
