// Package checklist tracks the per-instance task list surfaced by the
// tool.activity TASK_CREATE:/TASK_UPDATE: prefixes and closed out by
// task.completed, so "what's left on the agent's plan" survives a pipeline
// restart.
package checklist

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

// Status values a Task can hold.
const (
	StatusOpen       = "open"
	StatusInProgress = "in_progress"
	StatusDone       = "done"
)

// Task is one checklist row, scoped to a (projectName, instanceID) pair.
type Task struct {
	ID           string    `json:"id"`
	ProjectName  string    `json:"project_name"`
	InstanceID   string    `json:"instance_id"`
	TaskID       string    `json:"task_id"`
	Subject      string    `json:"subject"`
	Status       string    `json:"status"`
	TeammateName string    `json:"teammate_name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store is the checklist's CRUD surface over sql.DB, grounded on the
// platform-admin service's upsert-then-log idiom, narrowed to one table and
// one tenant key (projectName, instanceID) instead of an org hierarchy.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore wraps an already-open *sql.DB and creates the checklist table.
func NewStore(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("checklist: init schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS checklist_tasks (
		id TEXT PRIMARY KEY,
		project_name TEXT NOT NULL,
		instance_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		subject TEXT NOT NULL,
		status TEXT NOT NULL,
		teammate_name TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE(project_name, instance_id, task_id)
	);
	CREATE INDEX IF NOT EXISTS idx_checklist_instance ON checklist_tasks(project_name, instance_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Create inserts a new task from a TASK_CREATE: activity line, or refreshes
// its subject/teammate if the same taskID is seen again (agents sometimes
// re-announce a task when it's picked up by a different subagent).
func (s *Store) Create(ctx context.Context, projectName, instanceID, taskID, subject, teammateName string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checklist_tasks (id, project_name, instance_id, task_id, subject, status, teammate_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_name, instance_id, task_id) DO UPDATE SET
			subject = excluded.subject,
			teammate_name = excluded.teammate_name,
			updated_at = excluded.updated_at
	`, recordID(projectName, instanceID, taskID), projectName, instanceID, taskID, subject, StatusOpen, teammateName, now, now)
	if err != nil {
		return fmt.Errorf("checklist: create task %s: %w", taskID, err)
	}
	s.logger.Debug("checklist task created", "project", projectName, "instance", instanceID, "task_id", taskID)
	return nil
}

// Update applies a TASK_UPDATE: activity line's status transition.
func (s *Store) Update(ctx context.Context, projectName, instanceID, taskID, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE checklist_tasks SET status = ?, updated_at = ?
		WHERE project_name = ? AND instance_id = ? AND task_id = ?
	`, status, time.Now().UTC(), projectName, instanceID, taskID)
	if err != nil {
		return fmt.Errorf("checklist: update task %s: %w", taskID, err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		// The agent updated a task we never saw TASK_CREATE: for; record it
		// anyway so task.completed has somewhere to land.
		return s.Create(ctx, projectName, instanceID, taskID, status, "")
	}
	return nil
}

// Complete marks taskID done, matching the task.completed handler's "mark
// task in the per-instance checklist" responsibility. If the task is
// unknown it is inserted directly as done, since a completion can arrive
// without a prior TASK_CREATE: activity line.
func (s *Store) Complete(ctx context.Context, projectName, instanceID, taskID, subject, teammateName string) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checklist_tasks (id, project_name, instance_id, task_id, subject, status, teammate_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_name, instance_id, task_id) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at
	`, recordID(projectName, instanceID, taskID), projectName, instanceID, taskID, subject, StatusDone, teammateName, now, now)
	if err != nil {
		return fmt.Errorf("checklist: complete task %s: %w", taskID, err)
	}
	return nil
}

// List returns every task tracked for (projectName, instanceID), open ones
// first, most recently updated within each status first.
func (s *Store) List(ctx context.Context, projectName, instanceID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_name, instance_id, task_id, subject, status, teammate_name, created_at, updated_at
		FROM checklist_tasks
		WHERE project_name = ? AND instance_id = ?
		ORDER BY (status = 'done'), updated_at DESC
	`, projectName, instanceID)
	if err != nil {
		return nil, fmt.Errorf("checklist: list: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		var teammate sql.NullString
		if err := rows.Scan(&t.ID, &t.ProjectName, &t.InstanceID, &t.TaskID, &t.Subject, &t.Status, &teammate, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("checklist: scan: %w", err)
		}
		t.TeammateName = teammate.String
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func recordID(projectName, instanceID, taskID string) string {
	return projectName + "/" + instanceID + "/" + taskID
}
