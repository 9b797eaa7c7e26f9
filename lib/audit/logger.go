// Package audit records hook-lifecycle events (what happened, not what was
// said) to a durable store, so operators can answer "why did channel X get
// a fallback snapshot at 14:02" after the fact. It deliberately never stores
// prompt or agent output text, only event metadata, so no conversation
// history is ever persisted.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidEventType = errors.New("audit: invalid event type")
	ErrDatabaseWrite    = errors.New("audit: database write failed")
	ErrContextCanceled  = errors.New("audit: context canceled")
	ErrNilDatabase      = errors.New("audit: database connection is nil")
)

// EventType names the hook-lifecycle occurrences worth auditing. These
// mirror the hook event names handled by lib/handlers, plus a few
// pipeline-internal occurrences (fallback delivery, dispatch failure) that
// have no single hook event of their own.
const (
	EventSessionStart      = "session.start"
	EventSessionEnd        = "session.end"
	EventSessionError      = "session.error"
	EventSessionIdle       = "session.idle"
	EventPromptSubmit      = "prompt.submit"
	EventPermissionRequest = "permission.request"
	EventToolFailure       = "tool.failure"
	EventTaskCompleted     = "task.completed"
	EventTeammateIdle      = "teammate.idle"
	EventFallbackDelivered = "fallback.delivered"
	EventDispatchError     = "dispatch.error"
)

// Outcome is a coarse result classification, kept separate from EventType
// so a query can answer "show me every errored event" across types.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

type contextKey int

const (
	requestIDKey contextKey = iota
	channelIDKey
)

// HookEvent is a single immutable audit record. Detail carries event-specific
// metadata (e.g. the tool name for tool.failure, the task id for
// task.completed) but never message bodies or agent output.
type HookEvent struct {
	ID          string         `json:"id" db:"id"`
	Timestamp   time.Time      `json:"timestamp" db:"timestamp"`
	ProjectName string         `json:"project_name" db:"project_name"`
	InstanceID  string         `json:"instance_id" db:"instance_id"`
	AgentType   string         `json:"agent_type" db:"agent_type"`
	EventType   string         `json:"event_type" db:"event_type"`
	ChannelID   string         `json:"channel_id" db:"channel_id"`
	Outcome     string         `json:"outcome" db:"outcome"`
	Detail      map[string]any `json:"detail" db:"detail"`
	RequestID   string         `json:"request_id,omitempty" db:"request_id"`
}

// Filter narrows a Query call. Zero values are "don't filter on this field".
type Filter struct {
	ProjectName string
	InstanceID  string
	EventType   string
	Outcome     string
	StartTime   *time.Time
	EndTime     *time.Time
	Limit       int
	Offset      int
}

// Sink is what lib/handlers and lib/pipeline depend on, so tests can swap in
// a no-op or in-memory double without touching a real database.
type Sink interface {
	Record(ctx context.Context, eventType string, projectName, instanceID, agentType, channelID, outcome string, detail map[string]any) error
	Close() error
}

// Logger is a Sink backed by database/sql, buffering writes and flushing
// them on a timer so a burst of hook events doesn't serialize on disk IO.
// bufferSize 0 means every Record call writes immediately.
type Logger struct {
	db         *sql.DB
	mu         sync.Mutex
	buffer     []*HookEvent
	bufferSize int
	flushTimer *time.Timer
	flushDone  chan struct{}
	closed     bool
}

var _ Sink = (*Logger)(nil)

// NewLogger wraps an already-open *sql.DB (see Open for driver selection).
func NewLogger(db *sql.DB, bufferSize int) (*Logger, error) {
	if db == nil {
		return nil, ErrNilDatabase
	}

	logger := &Logger{
		db:         db,
		bufferSize: bufferSize,
		buffer:     make([]*HookEvent, 0, bufferSize),
		flushDone:  make(chan struct{}),
	}

	if err := logger.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize audit schema: %w", err)
	}

	if bufferSize > 0 {
		logger.startPeriodicFlush(10 * time.Second)
	}

	return logger, nil
}

func (l *Logger) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS hook_events (
		id TEXT PRIMARY KEY,
		timestamp TIMESTAMP NOT NULL,
		project_name TEXT NOT NULL,
		instance_id TEXT NOT NULL,
		agent_type TEXT NOT NULL,
		event_type TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		outcome TEXT NOT NULL,
		detail TEXT,
		request_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_hook_events_project ON hook_events(project_name, instance_id);
	CREATE INDEX IF NOT EXISTS idx_hook_events_timestamp ON hook_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_hook_events_type ON hook_events(event_type);
	CREATE INDEX IF NOT EXISTS idx_hook_events_outcome ON hook_events(outcome);
	`

	_, err := l.db.Exec(schema)
	return err
}

// Record writes one hook event, respecting ctx cancellation and the
// configured buffering mode.
func (l *Logger) Record(ctx context.Context, eventType string, projectName, instanceID, agentType, channelID, outcome string, detail map[string]any) error {
	select {
	case <-ctx.Done():
		return ErrContextCanceled
	default:
	}

	if err := validateEventType(eventType); err != nil {
		return err
	}

	entry := &HookEvent{
		ID:          uuid.New().String(),
		Timestamp:   time.Now().UTC(),
		ProjectName: projectName,
		InstanceID:  instanceID,
		AgentType:   agentType,
		EventType:   eventType,
		ChannelID:   channelIDFromContext(ctx, channelID),
		Outcome:     outcome,
		Detail:      detail,
		RequestID:   requestIDFromContext(ctx),
	}

	if l.bufferSize > 0 {
		return l.addToBuffer(entry)
	}
	return l.writeEntry(entry)
}

func (l *Logger) addToBuffer(entry *HookEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return errors.New("audit: logger is closed")
	}

	l.buffer = append(l.buffer, entry)
	if len(l.buffer) >= l.bufferSize {
		return l.flushBuffer()
	}
	return nil
}

// flushBuffer writes all buffered entries. Must be called with l.mu held;
// it releases the lock for the duration of the database write so a slow
// disk doesn't block concurrent Record calls from buffering further.
func (l *Logger) flushBuffer() error {
	if len(l.buffer) == 0 {
		return nil
	}

	entries := l.buffer
	l.buffer = make([]*HookEvent, 0, l.bufferSize)

	l.mu.Unlock()
	defer l.mu.Lock()

	return l.writeBatch(entries)
}

func (l *Logger) writeEntry(entry *HookEvent) error {
	detailJSON, err := json.Marshal(entry.Detail)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal detail: %v", ErrDatabaseWrite, err)
	}

	_, err = l.db.Exec(`
		INSERT INTO hook_events (
			id, timestamp, project_name, instance_id, agent_type,
			event_type, channel_id, outcome, detail, request_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID, entry.Timestamp, entry.ProjectName, entry.InstanceID, entry.AgentType,
		entry.EventType, entry.ChannelID, entry.Outcome, detailJSON, entry.RequestID,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseWrite, err)
	}
	return nil
}

func (l *Logger) writeBatch(entries []*HookEvent) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", ErrDatabaseWrite, err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO hook_events (
			id, timestamp, project_name, instance_id, agent_type,
			event_type, channel_id, outcome, detail, request_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("%w: failed to prepare statement: %v", ErrDatabaseWrite, err)
	}
	defer stmt.Close()

	for _, entry := range entries {
		detailJSON, err := json.Marshal(entry.Detail)
		if err != nil {
			return fmt.Errorf("%w: failed to marshal detail: %v", ErrDatabaseWrite, err)
		}
		if _, err := stmt.Exec(
			entry.ID, entry.Timestamp, entry.ProjectName, entry.InstanceID, entry.AgentType,
			entry.EventType, entry.ChannelID, entry.Outcome, detailJSON, entry.RequestID,
		); err != nil {
			return fmt.Errorf("%w: %v", ErrDatabaseWrite, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit transaction: %v", ErrDatabaseWrite, err)
	}
	return nil
}

// Query retrieves hook events matching filter, most recent first.
func (l *Logger) Query(filter Filter) ([]*HookEvent, error) {
	query := `SELECT id, timestamp, project_name, instance_id, agent_type,
	          event_type, channel_id, outcome, detail, request_id
	          FROM hook_events WHERE 1=1`

	var args []any

	if filter.ProjectName != "" {
		query += " AND project_name = ?"
		args = append(args, filter.ProjectName)
	}
	if filter.InstanceID != "" {
		query += " AND instance_id = ?"
		args = append(args, filter.InstanceID)
	}
	if filter.EventType != "" {
		query += " AND event_type = ?"
		args = append(args, filter.EventType)
	}
	if filter.Outcome != "" {
		query += " AND outcome = ?"
		args = append(args, filter.Outcome)
	}
	if filter.StartTime != nil {
		query += " AND timestamp >= ?"
		args = append(args, *filter.StartTime)
	}
	if filter.EndTime != nil {
		query += " AND timestamp <= ?"
		args = append(args, *filter.EndTime)
	}

	query += " ORDER BY timestamp DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	} else {
		query += " LIMIT 1000"
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query hook events: %w", err)
	}
	defer rows.Close()

	var entries []*HookEvent
	for rows.Next() {
		var entry HookEvent
		var detailJSON []byte
		if err := rows.Scan(
			&entry.ID, &entry.Timestamp, &entry.ProjectName, &entry.InstanceID, &entry.AgentType,
			&entry.EventType, &entry.ChannelID, &entry.Outcome, &detailJSON, &entry.RequestID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan hook event: %w", err)
		}
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &entry.Detail); err != nil {
				return nil, fmt.Errorf("failed to unmarshal detail: %w", err)
			}
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating hook events: %w", err)
	}
	return entries, nil
}

// Cleanup deletes events older than olderThan (retention policy).
func (l *Logger) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	result, err := l.db.Exec("DELETE FROM hook_events WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup hook events: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	_ = l.Record(ctx, EventDispatchError, "", "", "", "", OutcomeOK, map[string]any{
		"cleanup_cutoff": cutoff,
		"rows_deleted":   rowsAffected,
	})

	return rowsAffected, nil
}

// Flush writes any buffered entries immediately.
func (l *Logger) Flush() error {
	if l.bufferSize == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.flushBuffer()
}

// Close flushes remaining entries and stops the periodic-flush goroutine.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	if l.flushTimer != nil {
		l.flushTimer.Stop()
		close(l.flushDone)
	}

	return l.Flush()
}

func (l *Logger) startPeriodicFlush(interval time.Duration) {
	l.flushTimer = time.NewTimer(interval)

	go func() {
		for {
			select {
			case <-l.flushTimer.C:
				l.mu.Lock()
				if !l.closed {
					_ = l.flushBuffer()
					l.flushTimer.Reset(interval)
				}
				l.mu.Unlock()
			case <-l.flushDone:
				return
			}
		}
	}()
}

// WithRequestID attaches the inbound hook POST's request id to ctx, so
// Record can stitch an audit row back to a specific webhook delivery.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithChannelID attaches a channel id ctx carries alongside a Record call
// when the caller doesn't have it handy as a direct argument.
func WithChannelID(ctx context.Context, channelID string) context.Context {
	return context.WithValue(ctx, channelIDKey, channelID)
}

func requestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

func channelIDFromContext(ctx context.Context, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if v, ok := ctx.Value(channelIDKey).(string); ok {
		return v
	}
	return ""
}

var validEventTypes = map[string]bool{
	EventSessionStart:      true,
	EventSessionEnd:        true,
	EventSessionError:      true,
	EventSessionIdle:       true,
	EventPromptSubmit:      true,
	EventPermissionRequest: true,
	EventToolFailure:       true,
	EventTaskCompleted:     true,
	EventTeammateIdle:      true,
	EventFallbackDelivered: true,
	EventDispatchError:     true,
}

func validateEventType(eventType string) error {
	if eventType == "" {
		return fmt.Errorf("%w: event type cannot be empty", ErrInvalidEventType)
	}
	if !validEventTypes[eventType] {
		return fmt.Errorf("%w: %s", ErrInvalidEventType, eventType)
	}
	return nil
}
