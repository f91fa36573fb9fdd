package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/xraygo/xray/storage"
	"github.com/xraygo/xray/trace"
)

func newTestServer() (*Server, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	return NewServer(store), store
}

func doJSON(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func runRequest() RunWorkflowRequest {
	var req RunWorkflowRequest
	payload := `{
		"name": "pick best affordable",
		"dataset": [
			{"id": "p1", "price": 10, "rating": 3.5},
			{"id": "p2", "price": 50, "rating": 4.0},
			{"id": "p3", "price": 90, "rating": 4.5}
		],
		"steps": [
			{
				"name": "price band",
				"type": "filter",
				"rules": [
					{"field": "price", "operator": ">=", "value": 25},
					{"field": "price", "operator": "<=", "value": 100}
				]
			},
			{
				"name": "best rating",
				"type": "ranking",
				"rules": [{"field": "rating", "order": "desc"}]
			}
		]
	}`
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		panic(err)
	}
	return req
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer()

	rec := doJSON(t, server, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "healthy" {
		t.Errorf("status = %s, want healthy", resp.Status)
	}
}

func TestRunWorkflowEndpoint(t *testing.T) {
	server, store := newTestServer()

	rec := doJSON(t, server, http.MethodPost, "/api/v1/workflows/run", runRequest())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	var execution trace.Execution
	if err := json.Unmarshal(rec.Body.Bytes(), &execution); err != nil {
		t.Fatalf("failed to decode execution: %v", err)
	}
	if len(execution.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(execution.Steps))
	}
	if execution.Steps[1].Output["selected"] != "p3" {
		t.Errorf("selected = %v, want p3", execution.Steps[1].Output["selected"])
	}
	if execution.EndedAt == nil {
		t.Error("returned execution should be sealed")
	}

	// The trace is also persisted and retrievable.
	if _, err := store.Get(execution.ID); err != nil {
		t.Errorf("execution not persisted: %v", err)
	}
}

func TestRunWorkflowValidationError(t *testing.T) {
	server, store := newTestServer()

	req := runRequest()
	req.Steps[0].Rules[0].Operator = "between"

	rec := doJSON(t, server, http.MethodPost, "/api/v1/workflows/run", req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error: %v", err)
	}
	if resp.Details == "" {
		t.Error("validation failure should carry the rule error detail")
	}

	// Validation failures never create executions.
	summaries, _ := store.List(10)
	if len(summaries) != 0 {
		t.Errorf("store has %d executions, want 0", len(summaries))
	}
}

func TestRunWorkflowRequiresDataset(t *testing.T) {
	server, _ := newTestServer()

	req := runRequest()
	req.Dataset = nil

	rec := doJSON(t, server, http.MethodPost, "/api/v1/workflows/run", req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestValidateRulesEndpoint(t *testing.T) {
	server, _ := newTestServer()

	valid := ValidateRulesRequest{Steps: runRequest().Steps}
	rec := doJSON(t, server, http.MethodPost, "/api/v1/rules/validate", valid)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp ValidateRulesResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.Valid {
		t.Errorf("valid steps reported invalid: %s", resp.Error)
	}

	invalid := valid
	invalid.Steps[0].Rules[0].Operator = "~="
	rec = doJSON(t, server, http.MethodPost, "/api/v1/rules/validate", invalid)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Valid {
		t.Error("invalid operator reported valid")
	}
	if resp.Error == "" {
		t.Error("invalid rules should carry the error detail")
	}
}

func TestListExecutionsEndpoint(t *testing.T) {
	server, _ := newTestServer()

	for i := 0; i < 3; i++ {
		req := runRequest()
		req.Name = fmt.Sprintf("run-%d", i)
		if rec := doJSON(t, server, http.MethodPost, "/api/v1/workflows/run", req); rec.Code != http.StatusOK {
			t.Fatalf("setup run failed: %d", rec.Code)
		}
	}

	rec := doJSON(t, server, http.MethodGet, "/api/v1/executions?limit=2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp ExecutionsListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Executions) != 2 {
		t.Fatalf("executions = %d, want 2", len(resp.Executions))
	}
	// Summaries only: step counts without bodies.
	if resp.Executions[0].StepCount != 2 {
		t.Errorf("step_count = %d, want 2", resp.Executions[0].StepCount)
	}
}

func TestGetExecutionNotFound(t *testing.T) {
	server, _ := newTestServer()

	rec := doJSON(t, server, http.MethodGet, "/api/v1/executions/no-such-id", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestDeleteExecutionEndpoint(t *testing.T) {
	server, _ := newTestServer()

	rec := doJSON(t, server, http.MethodPost, "/api/v1/workflows/run", runRequest())
	if rec.Code != http.StatusOK {
		t.Fatalf("setup run failed: %d", rec.Code)
	}
	var execution trace.Execution
	json.Unmarshal(rec.Body.Bytes(), &execution)

	rec = doJSON(t, server, http.MethodDelete, "/api/v1/executions/"+execution.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", rec.Code)
	}

	rec = doJSON(t, server, http.MethodGet, "/api/v1/executions/"+execution.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status after delete = %d, want 404", rec.Code)
	}

	rec = doJSON(t, server, http.MethodDelete, "/api/v1/executions/"+execution.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rec.Code)
	}
}
