package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/xraygo/xray/trace"
)

// PostgresStore persists traces in PostgreSQL. The schema is managed by
// the migrations under migrations/; steps are stored as jsonb rows keyed
// by (execution_id, step_order).
type PostgresStore struct {
	db    *sql.DB
	locks idLocks
}

// NewPostgresStore wraps an open database handle. The caller owns the
// handle and its lifecycle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Save upserts the execution row and rewrites its steps in one
// transaction. Re-saving an id overwrites the previous trace.
func (s *PostgresStore) Save(execution *trace.Execution) error {
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
		endedAt = *execution.EndedAt
	}

	_, err = tx.Exec(`
		INSERT INTO executions (id, name, status, started_at, ended_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			started_at = EXCLUDED.started_at,
			ended_at = EXCLUDED.ended_at,
			metadata = EXCLUDED.metadata
	`, execution.ID, execution.Name, string(execution.Status()),
		execution.StartedAt, endedAt, metadata)
	if err != nil {
		return &WriteError{ID: execution.ID, Err: err}
	}

	if _, err := tx.Exec(`DELETE FROM steps WHERE execution_id = $1`, execution.ID); err != nil {
		return &WriteError{ID: execution.ID, Err: err}
	}

	for order, step := range execution.Steps {
		stepData, err := json.Marshal(step)
		if err != nil {
			return &WriteError{ID: execution.ID, Err: err}
		}
		_, err = tx.Exec(`
			INSERT INTO steps (execution_id, step_order, step_data)
			VALUES ($1, $2, $3)
		`, execution.ID, order, stepData)
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
func (s *PostgresStore) Get(id string) (*trace.Execution, error) {
	execution := &trace.Execution{ID: id, Steps: make([]trace.Step, 0)}
	var (
		status   string
		endedAt  sql.NullTime
		metadata []byte
	)
	err := s.db.QueryRow(`
		SELECT name, status, started_at, ended_at, metadata
		FROM executions WHERE id = $1
	`, id).Scan(&execution.Name, &status, &execution.StartedAt, &endedAt, &metadata)
	if err == sql.ErrNoRows {
		return nil, &NotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution %s: %w", id, err)
	}

	if endedAt.Valid {
		ended := endedAt.Time
		execution.EndedAt = &ended
	}
	if err := json.Unmarshal(metadata, &execution.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata for %s: %w", id, err)
	}

	rows, err := s.db.Query(`
		SELECT step_data FROM steps
		WHERE execution_id = $1
		ORDER BY step_order
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps for %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var stepData []byte
		if err := rows.Scan(&stepData); err != nil {
			return nil, fmt.Errorf("failed to scan step for %s: %w", id, err)
		}
		var step trace.Step
		if err := json.Unmarshal(stepData, &step); err != nil {
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
func (s *PostgresStore) List(limit int) ([]trace.ExecutionSummary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := s.db.Query(`
		SELECT e.id, e.name, e.status, e.started_at, e.ended_at,
			(SELECT COUNT(*) FROM steps st WHERE st.execution_id = e.id)
		FROM executions e
		ORDER BY e.started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	summaries := make([]trace.ExecutionSummary, 0, limit)
	for rows.Next() {
		var (
			sum     trace.ExecutionSummary
			status  string
			endedAt sql.NullTime
		)
		if err := rows.Scan(&sum.ID, &sum.Name, &status, &sum.StartedAt, &endedAt, &sum.StepCount); err != nil {
			return nil, fmt.Errorf("failed to scan execution summary: %w", err)
		}
		sum.Status = trace.Status(status)
		if endedAt.Valid {
			ended := endedAt.Time
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
func (s *PostgresStore) Delete(id string) error {
	unlock := s.locks.lock(id)
	defer unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to delete execution %s: %w", id, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM steps WHERE execution_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete steps for %s: %w", id, err)
	}
	result, err := tx.Exec(`DELETE FROM executions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete execution %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return &NotFoundError{ID: id}
	}

	return tx.Commit()
}
