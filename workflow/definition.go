// Package workflow runs rule-driven pipelines over datasets and records
// every decision into an execution trace.
package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xraygo/xray/rules"
	"github.com/xraygo/xray/trace"
)

// StepSpec declares one stage of a workflow: its type and the rules it
// applies. Rules may omit their own type; it defaults to the step's.
type StepSpec struct {
	Name  string         `json:"name" yaml:"name"`
	Type  trace.StepType `json:"type" yaml:"type"`
	Rules []rules.Rule   `json:"rules" yaml:"rules"`
}

// Definition is a full workflow: named, with steps in execution order.
type Definition struct {
	Name  string     `json:"name" yaml:"name"`
	Steps []StepSpec `json:"steps" yaml:"steps"`
}

// Validate checks every step and rule, normalizing defaults in place.
// It fails fast with a *rules.ValidationError before any record is
// evaluated.
func (d *Definition) Validate() error {
	if d.Name == "" {
		d.Name = "workflow"
	}
	for i := range d.Steps {
		if err := d.Steps[i].validate(); err != nil {
			return err
		}
	}
	return nil
}

func (s *StepSpec) validate() error {
	var ruleType rules.Type
	switch s.Type {
	case trace.StepFilter:
		ruleType = rules.TypeFilter
	case trace.StepRanking:
		ruleType = rules.TypeRanking
	case trace.StepTransformation:
		ruleType = rules.TypeTransformation
	case "":
		return &rules.ValidationError{Rule: s.Name, Reason: "missing step type"}
	default:
		return &rules.ValidationError{Rule: s.Name, Reason: fmt.Sprintf("unknown step type %q", string(s.Type))}
	}

	if s.Name == "" {
		s.Name = fmt.Sprintf("%s step", s.Type)
	}

	for i := range s.Rules {
		r := &s.Rules[i]
		if r.Type == "" {
			r.Type = ruleType
		}
		if r.Type != ruleType {
			return &rules.ValidationError{
				Rule:   r.Name,
				Field:  r.Field,
				Reason: fmt.Sprintf("%s rule in %s step", r.Type, s.Type),
			}
		}
		if err := r.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// LoadDefinition reads a workflow definition from a JSON or YAML file
// and validates it.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow definition: %w", err)
	}

	var def Definition
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported definition format %q (want .json, .yaml, or .yml)", filepath.Ext(path))
	}

	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}
