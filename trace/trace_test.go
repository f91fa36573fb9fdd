package trace

import (
	"errors"
	"testing"

	"github.com/xraygo/xray/rules"
)

func TestNewExecutionStartsRunning(t *testing.T) {
	exec := NewExecution("demo")

	if exec.ID == "" {
		t.Fatal("execution should get an id at creation")
	}
	if exec.StartedAt.IsZero() {
		t.Error("StartedAt should be set")
	}
	if exec.EndedAt != nil {
		t.Error("EndedAt should be nil before sealing")
	}
	if exec.Status() != StatusRunning {
		t.Errorf("Status() = %s, want running", exec.Status())
	}
}

func TestAppendStepAfterSeal(t *testing.T) {
	exec := NewExecution("demo")

	if err := exec.AppendStep(NewStep("filter prices", StepFilter)); err != nil {
		t.Fatalf("AppendStep() on running execution failed: %v", err)
	}

	exec.Seal(nil)

	if err := exec.AppendStep(NewStep("rank", StepRanking)); err == nil {
		t.Fatal("AppendStep() on sealed execution should fail")
	}
	if len(exec.Steps) != 1 {
		t.Errorf("Steps = %d, want 1", len(exec.Steps))
	}
}

func TestSealIdempotent(t *testing.T) {
	exec := NewExecution("demo")
	exec.Seal(errors.New("stage blew up"))

	first := *exec.EndedAt
	if exec.Status() != StatusFailed {
		t.Errorf("Status() = %s, want failed", exec.Status())
	}

	// A later seal must not move the end time or clear the error.
	exec.Seal(nil)
	if !exec.EndedAt.Equal(first) {
		t.Error("second Seal() should not change EndedAt")
	}
	if exec.Status() != StatusFailed {
		t.Error("second Seal() should not change status")
	}
	if exec.Metadata["error"] != "stage blew up" {
		t.Errorf("Metadata[error] = %v, want original error text", exec.Metadata["error"])
	}
}

func TestSummary(t *testing.T) {
	exec := NewExecution("demo")
	exec.AppendStep(NewStep("a", StepFilter))
	exec.AppendStep(NewStep("b", StepRanking))
	exec.Seal(nil)

	sum := exec.Summary()
	if sum.ID != exec.ID || sum.Name != "demo" {
		t.Errorf("summary identity mismatch: %+v", sum)
	}
	if sum.StepCount != 2 {
		t.Errorf("StepCount = %d, want 2", sum.StepCount)
	}
	if sum.Status != StatusCompleted {
		t.Errorf("Status = %s, want completed", sum.Status)
	}
	if sum.EndedAt == nil {
		t.Error("EndedAt should be set after sealing")
	}
}

func TestCloneIsolation(t *testing.T) {
	exec := NewExecution("demo")
	step := NewStep("filter", StepFilter)
	step.Output = map[string]any{"accepted": 2}
	step.Evaluations = []Evaluation{
		{
			EntityID:      "p1",
			Attributes:    map[string]any{"price": 10.0, "breakdown": map[string]float64{"price": 0.5}},
			Checks:        []rules.Check{{Rule: "price >=", Passed: true, Reason: "passed"}},
			FinalDecision: DecisionAccepted,
		},
	}
	exec.AppendStep(step)

	clone := exec.Clone()

	// Mutate the original; the clone must not see it.
	exec.Steps[0].Output["accepted"] = 99
	exec.Steps[0].Evaluations[0].Attributes["price"] = 0.0
	exec.Steps[0].Evaluations[0].Checks[0].Passed = false
	exec.Metadata["late"] = true

	got := clone.Steps[0]
	if got.Output["accepted"] != 2 {
		t.Errorf("clone output mutated: %v", got.Output["accepted"])
	}
	if got.Evaluations[0].Attributes["price"] != 10.0 {
		t.Errorf("clone attributes mutated: %v", got.Evaluations[0].Attributes["price"])
	}
	if !got.Evaluations[0].Checks[0].Passed {
		t.Error("clone checks mutated")
	}
	if _, ok := clone.Metadata["late"]; ok {
		t.Error("clone metadata mutated")
	}
}

func TestCloneKeepsEmptyChecksArray(t *testing.T) {
	exec := NewExecution("demo")
	step := NewStep("pass-through", StepFilter)
	step.Evaluations = []Evaluation{{EntityID: "p1", Checks: []rules.Check{}, FinalDecision: DecisionAccepted}}
	exec.AppendStep(step)

	clone := exec.Clone()
	if clone.Steps[0].Evaluations[0].Checks == nil {
		t.Error("empty checks should stay an empty array, not nil")
	}
}
