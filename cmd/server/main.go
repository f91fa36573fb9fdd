package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"

	"github.com/xraygo/xray/dataset"
	"github.com/xraygo/xray/internal/logger"
	"github.com/xraygo/xray/rules"
	"github.com/xraygo/xray/storage"
	"github.com/xraygo/xray/workflow"
)

type Server struct {
	store    storage.Store
	recorder *workflow.Recorder
	router   *chi.Mux
}

// NewServer wires the trace API around a store.
func NewServer(store storage.Store) *Server {
	s := &Server{
		store:    store,
		recorder: workflow.NewRecorder(store),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)

	r.Post("/api/v1/workflows/run", s.handleRunWorkflow)
	r.Post("/api/v1/rules/validate", s.handleValidateRules)

	r.Route("/api/v1/executions", func(r chi.Router) {
		r.Get("/", s.handleListExecutions)
		r.Get("/{executionId}", s.handleGetExecution)
		r.Delete("/{executionId}", s.handleDeleteExecution)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

// handleRunWorkflow validates the step specs, runs the workflow, and
// returns the full execution trace. Validation failures are a 400 with
// no execution created; stage failures after that are a 500 carrying
// the partial execution's id.
func (s *Server) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	var req RunWorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if len(req.Dataset) == 0 {
		respondError(w, http.StatusBadRequest, "dataset is required", nil)
		return
	}
	if len(req.Steps) == 0 {
		respondError(w, http.StatusBadRequest, "steps are required", nil)
		return
	}

	def := workflow.Definition{Name: req.Name, Steps: req.Steps}
	if err := def.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid workflow definition", err)
		return
	}

	ds := dataset.New(req.Dataset)
	execution, err := s.recorder.Run(ds, def)
	if err != nil {
		response := ErrorResponse{Error: "workflow execution failed", Details: err.Error()}
		if execution != nil {
			response.ExecutionID = execution.ID
		}
		respondJSON(w, http.StatusInternalServerError, response)
		return
	}

	respondJSON(w, http.StatusOK, execution)
}

func (s *Server) handleValidateRules(w http.ResponseWriter, r *http.Request) {
	var req ValidateRulesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	def := workflow.Definition{Steps: req.Steps}
	if err := def.Validate(); err != nil {
		respondJSON(w, http.StatusOK, ValidateRulesResponse{Valid: false, Error: err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, ValidateRulesResponse{Valid: true})
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid limit", err)
			return
		}
		limit = parsed
	}

	summaries, err := s.store.List(limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list executions", err)
		return
	}
	respondJSON(w, http.StatusOK, ExecutionsListResponse{Executions: summaries})
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "executionId")

	execution, err := s.store.Get(id)
	if err != nil {
		if storage.IsNotFound(err) {
			respondError(w, http.StatusNotFound, "execution not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to get execution", err)
		return
	}
	respondJSON(w, http.StatusOK, execution)
}

func (s *Server) handleDeleteExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "executionId")

	if err := s.store.Delete(id); err != nil {
		if storage.IsNotFound(err) {
			respondError(w, http.StatusNotFound, "execution not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to delete execution", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		var vErr *rules.ValidationError
		if errors.As(err, &vErr) {
			response.Details = vErr.Error()
		} else {
			response.Details = err.Error()
		}
	}
	respondJSON(w, status, response)
}

// openStore picks the trace backend: Postgres when DATABASE_URL is set,
// SQLite otherwise (XRAY_DB path, default xray.db).
func openStore() (storage.Store, func() error, error) {
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		db, err := sql.Open("postgres", databaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to ping database: %w", err)
		}
		logger.Info("using postgres trace store")
		return storage.NewPostgresStore(db), db.Close, nil
	}

	path := os.Getenv("XRAY_DB")
	if path == "" {
		path = "xray.db"
	}
	store, err := storage.NewSQLiteStore(path)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using sqlite trace store", "path", path)
	return store, store.Close, nil
}

func main() {
	logger.SetLevelFromEnv("LOG_LEVEL", logger.LevelInfo)

	store, closeStore, err := openStore()
	if err != nil {
		logger.Fatal("failed to open trace store", "error", err)
	}
	defer closeStore()

	server := NewServer(store)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := logger.Shutdown(ctx); err != nil {
		logger.Error("logger shutdown error", "error", err)
	}
}
