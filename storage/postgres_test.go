//go:build integration
// +build integration

package storage_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xraygo/xray/rules"
	"github.com/xraygo/xray/storage"
	"github.com/xraygo/xray/trace"

	_ "github.com/lib/pq"
)

// setupTestDB starts a PostgreSQL container, applies the migrations, and
// returns a connection plus its cleanup.
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "xray_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithStartupTimeout(60 * time.Second),
	}

	postgresContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	host, err := postgresContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgresContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	connStr := fmt.Sprintf("host=%s port=%s user=test password=test dbname=xray_test sslmode=disable", host, port.Port())

	var db *sql.DB
	for i := 0; i < 30; i++ {
		db, err = sql.Open("postgres", connStr)
		if err == nil {
			err = db.Ping()
			if err == nil {
				break
			}
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	migrationSQL, err := os.ReadFile(filepath.Join("..", "migrations", "000001_create_executions.up.sql"))
	if err != nil {
		migrationSQL, err = os.ReadFile(filepath.Join("migrations", "000001_create_executions.up.sql"))
		if err != nil {
			t.Fatalf("Failed to read migration file: %v", err)
		}
	}

	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		db.Close()
		postgresContainer.Terminate(ctx)
	}

	return db, cleanup
}

func sampleExecution(name string) *trace.Execution {
	exec := trace.NewExecution(name)
	exec.Metadata["dataset_size"] = 2

	step := trace.NewStep("filter cheap products", trace.StepFilter)
	step.Input = map[string]any{"records": 2, "rules": 1}
	step.Output = map[string]any{"accepted": 1, "rejected": 1}
	step.Rules = []rules.Rule{{Name: "price cap", Type: rules.TypeFilter, Field: "price", Operator: rules.OpLessEqual, Value: 100.0, Weight: 1.0}}
	step.Evaluations = []trace.Evaluation{
		{
			EntityID:   "p1",
			Attributes: map[string]any{"price": 40.0},
			Checks: []rules.Check{
				{Rule: "price cap", Field: "price", Operator: "<=", Expected: 100.0, Actual: 40.0, Passed: true, Reason: "passed"},
			},
			FinalDecision: trace.DecisionAccepted,
		},
		{
			EntityID:   "p2",
			Attributes: map[string]any{"price": 250.0},
			Checks: []rules.Check{
				{Rule: "price cap", Field: "price", Operator: "<=", Expected: 100.0, Actual: 250.0, Passed: false, Reason: "value 250 does not satisfy <= 100"},
			},
			FinalDecision: trace.DecisionRejected,
		},
	}
	exec.AppendStep(step)
	exec.Seal(nil)
	return exec
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := storage.NewPostgresStore(db)
	exec := sampleExecution("pg-round-trip")

	if err := store.Save(exec); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	got, err := store.Get(exec.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Name != exec.Name {
		t.Errorf("Name = %s, want %s", got.Name, exec.Name)
	}
	if len(got.Steps) != 1 {
		t.Fatalf("Steps = %d, want 1", len(got.Steps))
	}
	evals := got.Steps[0].Evaluations
	if len(evals) != 2 {
		t.Fatalf("Evaluations = %d, want 2", len(evals))
	}
	if evals[1].FinalDecision != trace.DecisionRejected {
		t.Errorf("FinalDecision = %s, want rejected", evals[1].FinalDecision)
	}
	if got.Status() != trace.StatusCompleted {
		t.Errorf("Status() = %s, want completed", got.Status())
	}
}

func TestPostgresStore_SaveOverwrites(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := storage.NewPostgresStore(db)

	exec := trace.NewExecution("pg-overwrite")
	exec.AppendStep(trace.NewStep("only step", trace.StepFilter))
	if err := store.Save(exec); err != nil {
		t.Fatalf("first Save() failed: %v", err)
	}

	exec.Steps = exec.Steps[:0]
	exec.AppendStep(trace.NewStep("replacement", trace.StepRanking))
	exec.Seal(nil)
	if err := store.Save(exec); err != nil {
		t.Fatalf("second Save() failed: %v", err)
	}

	got, err := store.Get(exec.ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if len(got.Steps) != 1 || got.Steps[0].Name != "replacement" {
		t.Errorf("stale steps survived overwrite: %+v", got.Steps)
	}
}

func TestPostgresStore_GetNotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := storage.NewPostgresStore(db)

	_, err := store.Get("no-such-id")
	if !storage.IsNotFound(err) {
		t.Errorf("Get() on empty store should be NotFoundError, got %v", err)
	}
}

func TestPostgresStore_ListNewestFirst(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := storage.NewPostgresStore(db)

	var last string
	for i := 0; i < 3; i++ {
		exec := sampleExecution(fmt.Sprintf("pg-list-%d", i))
		exec.StartedAt = exec.StartedAt.Add(time.Duration(i) * time.Minute)
		if err := store.Save(exec); err != nil {
			t.Fatalf("Save() failed: %v", err)
		}
		last = exec.ID
	}

	summaries, err := store.List(2)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("List(2) = %d entries, want 2", len(summaries))
	}
	if summaries[0].ID != last {
		t.Errorf("List() not newest-first: got %s first, want %s", summaries[0].ID, last)
	}
	if summaries[0].StepCount != 1 {
		t.Errorf("StepCount = %d, want 1", summaries[0].StepCount)
	}
}

func TestPostgresStore_Delete(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	store := storage.NewPostgresStore(db)
	exec := sampleExecution("pg-delete")
	if err := store.Save(exec); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	if err := store.Delete(exec.ID); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := store.Get(exec.ID); !storage.IsNotFound(err) {
		t.Errorf("Get() after Delete() should be NotFoundError, got %v", err)
	}
	if err := store.Delete(exec.ID); !storage.IsNotFound(err) {
		t.Errorf("second Delete() should be NotFoundError, got %v", err)
	}
}
