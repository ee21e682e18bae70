package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aristath/taskpilot/internal/scheduler"
	"github.com/aristath/taskpilot/internal/task"
)

// Run is a recorded scheduler run.
type Run struct {
	ID         string
	Plan       string
	StartedAt  time.Time
	EndedAt    time.Time
	Total      int
	Succeeded  int
	Failed     int
	Remaining  int
	Stopped    bool
	Incomplete bool
	Error      string
}

// Duration is the run's wall time.
func (r Run) Duration() time.Duration { return r.EndedAt.Sub(r.StartedAt) }

// TaskOutcome is one task's final state within a run.
type TaskOutcome struct {
	RunID       string
	TaskID      string
	Name        string
	Kind        string
	Status      string
	Message     string
	Error       string
	Retries     int
	Parameters  map[string]any
	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
}

// RecordRun stores a finished run and the snapshots of its tasks in one
// transaction. Snapshots carry masked parameters, so secrets never reach the
// database.
func (s *Store) RecordRun(ctx context.Context, runID, plan string, sum scheduler.Summary, tasks []task.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	errStr := ""
	if sum.Err != nil {
		errStr = sum.Err.Error()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, plan, started_at, ended_at, total, succeeded, failed, remaining, stopped, incomplete, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, plan, formatTime(sum.StartedAt), formatTime(sum.EndedAt),
		sum.TotalTasks, sum.SuccessCount, sum.FailedCount, sum.Remaining,
		sum.Stopped, sum.Incomplete, errStr)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, snap := range tasks {
		params, err := json.Marshal(snap.Parameters)
		if err != nil {
			return fmt.Errorf("failed to encode parameters of task %s: %w", snap.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO task_outcomes (run_id, task_id, name, kind, status, message, error, retries, parameters, started_at, completed_at, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, runID, snap.ID, snap.Name, snap.Kind, snap.Status.String(), snap.Message, snap.Error,
			snap.RetryCount, string(params), formatTime(snap.StartedAt), formatTime(snap.CompletedAt),
			snap.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("failed to insert outcome of task %s: %w", snap.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs first. A limit of 0 or less returns
// every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plan, started_at, ended_at, total, succeeded, failed, remaining, stopped, incomplete, COALESCE(error, '')
		FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r              Run
			started, ended string
		)
		if err := rows.Scan(&r.ID, &r.Plan, &started, &ended, &r.Total, &r.Succeeded, &r.Failed,
			&r.Remaining, &r.Stopped, &r.Incomplete, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = parseTime(started)
		r.EndedAt = parseTime(ended)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// TaskOutcomes returns the outcomes of a run ordered by start time.
func (s *Store) TaskOutcomes(ctx context.Context, runID string) ([]TaskOutcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, task_id, name, kind, status, COALESCE(message, ''), COALESCE(error, ''), retries,
			COALESCE(parameters, ''), COALESCE(started_at, ''), COALESCE(completed_at, ''), duration_ms
		FROM task_outcomes
		WHERE run_id = ?
		ORDER BY started_at = '', started_at, task_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query task outcomes: %w", err)
	}
	defer rows.Close()

	var out []TaskOutcome
	for rows.Next() {
		var (
			o                         TaskOutcome
			params, started, finished string
			durationMS                int64
		)
		if err := rows.Scan(&o.RunID, &o.TaskID, &o.Name, &o.Kind, &o.Status, &o.Message, &o.Error,
			&o.Retries, &params, &started, &finished, &durationMS); err != nil {
			return nil, fmt.Errorf("failed to scan task outcome: %w", err)
		}
		if params != "" {
			if err := json.Unmarshal([]byte(params), &o.Parameters); err != nil {
				return nil, fmt.Errorf("failed to decode parameters of task %s: %w", o.TaskID, err)
			}
		}
		o.StartedAt = parseTime(started)
		o.CompletedAt = parseTime(finished)
		o.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, o)
	}
	return out, rows.Err()
}
