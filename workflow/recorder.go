package workflow

import (
	"fmt"

	"github.com/xraygo/xray/dataset"
	"github.com/xraygo/xray/internal/logger"
	"github.com/xraygo/xray/rules"
	"github.com/xraygo/xray/storage"
	"github.com/xraygo/xray/trace"
)

// Recorder runs workflow definitions and records every decision into an
// execution trace. Steps run strictly in order, each consuming the
// records the previous step passed on. On a stage failure the trace is
// sealed failed with the steps appended so far and saved; partial traces
// are a feature, not something to roll back.
type Recorder struct {
	store  storage.Store
	engine *rules.Engine

	// Reasoner produces each step's reasoning text; defaults to
	// CountReasoner.
	Reasoner Reasoner

	// Parallelism above one fans per-record evaluation and scoring out
	// to that many workers per step.
	Parallelism int
}

// NewRecorder builds a Recorder persisting traces to store.
func NewRecorder(store storage.Store) *Recorder {
	return &Recorder{
		store:    store,
		engine:   rules.NewEngine(),
		Reasoner: CountReasoner{},
	}
}

// Run validates the definition, executes its steps over the dataset, and
// saves the sealed trace. Validation failures surface before any
// execution exists. A stage failure returns the partial execution
// alongside the error; a save failure returns the still-valid in-memory
// execution with a *storage.WriteError (retrying Save is safe).
func (r *Recorder) Run(ds dataset.Dataset, def Definition) (*trace.Execution, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	execution := trace.NewExecution(def.Name)
	execution.Metadata["workflow_name"] = def.Name
	execution.Metadata["dataset_size"] = ds.Len()

	current := ds.Records
	for _, spec := range def.Steps {
		step, next, err := r.runStep(spec, current)
		if err != nil {
			logger.Error("workflow step failed", "execution_id", execution.ID, "step", spec.Name, "error", err)
			execution.Seal(err)
			if saveErr := r.store.Save(execution); saveErr != nil {
				logger.Error("failed to save partial execution", "execution_id", execution.ID, "error", saveErr)
			}
			return execution, err
		}

		execution.AppendStep(step)
		logger.Info("workflow step completed",
			"execution_id", execution.ID,
			"step", spec.Name,
			"type", string(spec.Type),
			"in", len(current),
			"out", len(next))
		current = next
	}

	execution.Seal(nil)
	if err := r.store.Save(execution); err != nil {
		return execution, err
	}

	logger.Info("workflow completed",
		"execution_id", execution.ID,
		"workflow", def.Name,
		"steps", len(execution.Steps))
	return execution, nil
}

// runStep dispatches one step spec to its stage. Panics inside a stage
// (or the reasoner) become errors so the caller can seal the trace.
func (r *Recorder) runStep(spec StepSpec, records []dataset.Record) (step trace.Step, next []dataset.Record, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("step %q: %v", spec.Name, p)
		}
	}()

	input := map[string]any{"records": len(records), "rules": len(spec.Rules)}
	var (
		evaluations []trace.Evaluation
		output      map[string]any
	)

	switch spec.Type {
	case trace.StepFilter:
		stage := &FilterStage{Engine: r.engine, Parallelism: r.Parallelism}
		evaluations, next = stage.Apply(records, spec.Rules)
		output = map[string]any{"accepted": len(next), "rejected": len(records) - len(next)}

	case trace.StepRanking:
		ranker := &Ranker{Parallelism: r.Parallelism}
		evaluations, next = ranker.Apply(records, spec.Rules)
		output = map[string]any{"ranked": len(next)}
		if len(evaluations) > 0 {
			output["selected"] = evaluations[0].EntityID
		}

	case trace.StepTransformation:
		evaluations, next = (&Transformer{}).Apply(records, spec.Rules)
		output = map[string]any{"records": len(next)}

	default:
		return step, nil, fmt.Errorf("step %q: unknown step type %q", spec.Name, string(spec.Type))
	}

	step = trace.NewStep(spec.Name, spec.Type)
	step.Input = input
	step.Output = output
	step.Rules = append([]rules.Rule(nil), spec.Rules...)
	step.Evaluations = evaluations
	step.Reasoning = r.Reasoner.Explain(spec, evaluations, input, output)
	return step, next, nil
}
