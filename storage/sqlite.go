package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xraygo/xray/trace"
)

// SQLiteStore persists traces in a local SQLite file. Executions and
// steps live in separate tables so listings never load step bodies.
type SQLiteStore struct {
	db    *sql.DB
	locks idLocks
}

// NewSQLiteStore opens (creating if needed) the database at path.
// ":memory:" gives an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The sqlite driver serializes writes per connection; one connection
	// avoids SQLITE_BUSY under concurrent saves.
	db.SetMaxOpenConns(1)

	schema := []string{
		`CREATE TABLE IF NOT EXISTS executions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			metadata TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS steps (
			execution_id TEXT NOT NULL,
			step_order INTEGER NOT NULL,
			step_data TEXT NOT NULL,
			PRIMARY KEY (execution_id, step_order)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_started ON executions(started_at DESC)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Save upserts the execution row and rewrites its steps in one
// transaction. Re-saving an id overwrites the previous trace.
func (s *SQLiteStore) Save(execution *trace.Execution) error {
	unlock := s.locks.lock(execution.ID)
	defer unlock()

	metadata, err := json.Marshal(execution.Metadata)
	if err != nil {
		return &WriteError{ID: execution.ID, Err: err}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return &WriteError{ID: execution.ID, Err: err}
	}
	defer tx.Rollback()

	var endedAt any
	if execution.EndedAt != nil {
		endedAt = execution.EndedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = tx.Exec(`
		INSERT INTO executions (id, name, status, started_at, ended_at, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			metadata = excluded.metadata
	`, execution.ID, execution.Name, string(execution.Status()),
		execution.StartedAt.UTC().Format(time.RFC3339Nano), endedAt, string(metadata))
	if err != nil {
		return &WriteError{ID: execution.ID, Err: err}
	}

	if _, err := tx.Exec(`DELETE FROM steps WHERE execution_id = ?`, execution.ID); err != nil {
		return &WriteError{ID: execution.ID, Err: err}
	}

	for order, step := range execution.Steps {
		stepData, err := json.Marshal(step)
		if err != nil {
			return &WriteError{ID: execution.ID, Err: err}
		}
		_, err = tx.Exec(`
			INSERT INTO steps (execution_id, step_order, step_data)
			VALUES (?, ?, ?)
		`, execution.ID, order, string(stepData))
		if err != nil {
			return &WriteError{ID: execution.ID, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return &WriteError{ID: execution.ID, Err: err}
	}
	return nil
}

// Get loads the full trace for an execution id.
func (s *SQLiteStore) Get(id string) (*trace.Execution, error) {
	var (
		name, status, startedAt, metadata string
		endedAt                           sql.NullString
	)
	err := s.db.QueryRow(`
		SELECT name, status, started_at, ended_at, metadata
		FROM executions WHERE id = ?
	`, id).Scan(&name, &status, &startedAt, &endedAt, &metadata)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution %s: %w", id, err)
	}

	execution := &trace.Execution{ID: id, Name: name, Steps: make([]trace.Step, 0)}
	if execution.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return nil, fmt.Errorf("failed to parse started_at for %s: %w", id, err)
	}
	if endedAt.Valid {
		ended, err := time.Parse(time.RFC3339Nano, endedAt.String)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ended_at for %s: %w", id, err)
		}
		execution.EndedAt = &ended
	}
	if err := json.Unmarshal([]byte(metadata), &execution.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata for %s: %w", id, err)
	}

	rows, err := s.db.Query(`
		SELECT step_data FROM steps
		WHERE execution_id = ?
		ORDER BY step_order
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps for %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var stepData string
		if err := rows.Scan(&stepData); err != nil {
			return nil, fmt.Errorf("failed to scan step for %s: %w", id, err)
		}
		var step trace.Step
		if err := json.Unmarshal([]byte(stepData), &step); err != nil {
			return nil, fmt.Errorf("failed to decode step for %s: %w", id, err)
		}
		execution.Steps = append(execution.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating steps for %s: %w", id, err)
	}

	return execution, nil
}

// List returns summaries newest-first without touching step bodies.
func (s *SQLiteStore) List(limit int) ([]trace.ExecutionSummary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.Query(`
		SELECT e.id, e.name, e.status, e.started_at, e.ended_at,
			(SELECT COUNT(*) FROM steps st WHERE st.execution_id = e.id)
		FROM executions e
		ORDER BY e.started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	summaries := make([]trace.ExecutionSummary, 0, limit)
	for rows.Next() {
		var (
			sum       trace.ExecutionSummary
			status    string
			startedAt string
			endedAt   sql.NullString
		)
		if err := rows.Scan(&sum.ID, &sum.Name, &status, &startedAt, &endedAt, &sum.StepCount); err != nil {
			return nil, fmt.Errorf("failed to scan execution summary: %w", err)
		}
		sum.Status = trace.Status(status)
		if sum.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
			return nil, fmt.Errorf("failed to parse started_at: %w", err)
		}
		if endedAt.Valid {
			ended, err := time.Parse(time.RFC3339Nano, endedAt.String)
			if err != nil {
				return nil, fmt.Errorf("failed to parse ended_at: %w", err)
			}
			sum.EndedAt = &ended
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return summaries, nil
}

// Delete removes an execution and its steps.
func (s *SQLiteStore) Delete(id string) error {
	unlock := s.locks.lock(id)
	defer unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to delete execution %s: %w", id, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM steps WHERE execution_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete steps for %s: %w", id, err)
	}
	result, err := tx.Exec(`DELETE FROM executions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete execution %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete execution %s: %w", id, err)
	}
	if affected == 0 {
		return &NotFoundError{ID: id}
	}

	return tx.Commit()
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
