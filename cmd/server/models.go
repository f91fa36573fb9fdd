package main

import (
	"github.com/xraygo/xray/dataset"
	"github.com/xraygo/xray/trace"
	"github.com/xraygo/xray/workflow"
)

// API request and response models.

// RunWorkflowRequest is the body of POST /api/v1/workflows/run.
type RunWorkflowRequest struct {
	Name    string              `json:"name"`
	Dataset []dataset.Record    `json:"dataset"`
	Steps   []workflow.StepSpec `json:"steps"`
}

// ValidateRulesRequest is the body of POST /api/v1/rules/validate.
type ValidateRulesRequest struct {
	Steps []workflow.StepSpec `json:"steps"`
}

// ValidateRulesResponse reports load-time validation of a step list.
type ValidateRulesResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// ExecutionsListResponse wraps execution summaries.
type ExecutionsListResponse struct {
	Executions []trace.ExecutionSummary `json:"executions"`
}

// HealthResponse is the health check body.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the error body shared by every endpoint.
type ErrorResponse struct {
	Error string `json:"error"`
	// ExecutionID is set when a workflow failed after its trace was
	// created; the partial trace remains retrievable under this id.
	ExecutionID string `json:"execution_id,omitempty"`
	Details     string `json:"details,omitempty"`
}
