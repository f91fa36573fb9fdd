// Package trace holds the execution trace model: the replayable record of
// every decision a workflow run made. Executions are append-only while
// running and immutable once sealed.
package trace

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xraygo/xray/rules"
)

// Decision is the per-record outcome of a step.
type Decision string

const (
	DecisionAccepted Decision = "accepted"
	DecisionRejected Decision = "rejected"
	DecisionSelected Decision = "selected"
)

// StepType mirrors the rule types a step can run.
type StepType string

const (
	StepFilter         StepType = "filter"
	StepRanking        StepType = "ranking"
	StepTransformation StepType = "transformation"
)

// Status is the lifecycle state of an execution.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Evaluation is one record's outcome for one step. Checks hold every
// rule result in declaration order; the slice is empty, never nil, so
// consumers always see an array.
type Evaluation struct {
	EntityID      string         `json:"entity_id"`
	Attributes    map[string]any `json:"attributes"`
	Checks        []rules.Check  `json:"checks"`
	FinalDecision Decision       `json:"final_decision"`
}

// Step is one stage of a run. Steps are immutable once appended to an
// execution.
type Step struct {
	ID          string         `json:"id"`
	Type        StepType       `json:"type"`
	Name        string         `json:"name"`
	Reasoning   string         `json:"reasoning"`
	Input       map[string]any `json:"input"`
	Output      map[string]any `json:"output"`
	Rules       []rules.Rule   `json:"rules"`
	Evaluations []Evaluation   `json:"evaluations"`
}

// Execution is the full trace of one workflow run. EndedAt is nil while
// the run is in flight and set exactly once when the execution seals.
type Execution struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
	Metadata  map[string]any `json:"metadata"`
	Steps     []Step         `json:"steps"`
}

// ExecutionSummary is the listing view: identity and shape, no
// evaluation or check bodies.
type ExecutionSummary struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Status    Status     `json:"status"`
	StepCount int        `json:"step_count"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// NewExecution starts a new execution trace with a fresh identifier.
func NewExecution(name string) *Execution {
	return &Execution{
		ID:        uuid.New().String(),
		Name:      name,
		StartedAt: time.Now().UTC(),
		Metadata:  make(map[string]any),
		Steps:     make([]Step, 0),
	}
}

// NewStep builds a step with a fresh identifier.
func NewStep(name string, stepType StepType) Step {
	return Step{
		ID:   uuid.New().String(),
		Type: stepType,
		Name: name,
	}
}

// AppendStep adds a step to an in-flight execution. Sealed executions
// reject appends.
func (e *Execution) AppendStep(s Step) error {
	if e.Sealed() {
		return fmt.Errorf("execution %s is sealed", e.ID)
	}
	e.Steps = append(e.Steps, s)
	return nil
}

// Seal ends the execution. A nil error seals it completed; a non-nil
// error seals it failed and records the error in metadata. Sealing is
// idempotent: the first call wins.
func (e *Execution) Seal(err error) {
	if e.Sealed() {
		return
	}
	now := time.Now().UTC()
	e.EndedAt = &now
	if err != nil {
		e.Metadata["error"] = err.Error()
	}
}

// Sealed reports whether the execution has ended.
func (e *Execution) Sealed() bool {
	return e.EndedAt != nil
}

// Status derives the lifecycle state.
func (e *Execution) Status() Status {
	if e.EndedAt == nil {
		return StatusRunning
	}
	if _, failed := e.Metadata["error"]; failed {
		return StatusFailed
	}
	return StatusCompleted
}

// Summary builds the listing view of the execution.
func (e *Execution) Summary() ExecutionSummary {
	return ExecutionSummary{
		ID:        e.ID,
		Name:      e.Name,
		Status:    e.Status(),
		StepCount: len(e.Steps),
		StartedAt: e.StartedAt,
		EndedAt:   e.EndedAt,
	}
}

// Clone deep-copies the execution so stored traces cannot alias caller
// state.
func (e *Execution) Clone() *Execution {
	out := &Execution{
		ID:        e.ID,
		Name:      e.Name,
		StartedAt: e.StartedAt,
		Metadata:  copyMap(e.Metadata),
		Steps:     make([]Step, len(e.Steps)),
	}
	if e.EndedAt != nil {
		ended := *e.EndedAt
		out.EndedAt = &ended
	}
	for i, s := range e.Steps {
		out.Steps[i] = s.clone()
	}
	return out
}

func (s Step) clone() Step {
	out := s
	out.Input = copyMap(s.Input)
	out.Output = copyMap(s.Output)
	out.Rules = append([]rules.Rule(nil), s.Rules...)
	out.Evaluations = make([]Evaluation, len(s.Evaluations))
	for i, ev := range s.Evaluations {
		out.Evaluations[i] = ev.clone()
	}
	return out
}

func (ev Evaluation) clone() Evaluation {
	out := ev
	out.Attributes = copyMap(ev.Attributes)
	out.Checks = append([]rules.Check(nil), ev.Checks...)
	if out.Checks == nil {
		out.Checks = make([]rules.Check, 0)
	}
	return out
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

// copyValue recurses into the container shapes that appear in attributes
// and metadata (score breakdowns, operand lists); scalars copy by value.
func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	case map[string]float64:
		out := make(map[string]float64, len(t))
		for k, f := range t {
			out[k] = f
		}
		return out
	default:
		return v
	}
}
