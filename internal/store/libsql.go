package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/weave/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage (e.g. event log).
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Workflows ---

func (s *LibSQLStore) CreateWorkflow(ctx context.Context, wf *Workflow) error {
	def, err := json.Marshal(wf.Definition)
	if err != nil {
		return fmt.Errorf("marshal definition: %w", err)
	}
	vars, err := marshalMapOrDefault(wf.Variables)
	if err != nil {
		return fmt.Errorf("marshal variables: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (id, name, deployment_version_id, definition, variables, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, deployment_version_id=excluded.deployment_version_id,
		   definition=excluded.definition, variables=excluded.variables,
		   metadata=excluded.metadata, updated_at=excluded.updated_at`,
		wf.ID, nullStr(wf.Name), nullStr(wf.DeploymentVersionID),
		string(def), string(vars), nullRaw(wf.Metadata),
		timeOrNow(wf.CreatedAt), timeOrNow(wf.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	wf := &Workflow{}
	var (
		name, deployVer    sql.NullString
		defJSON, varsJSON  string
		metadata           sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, deployment_version_id, definition, variables, metadata, created_at, updated_at
		 FROM workflows WHERE id = ?`, id,
	).Scan(&wf.ID, &name, &deployVer, &defJSON, &varsJSON, &metadata, &wf.CreatedAt, &wf.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	if err != nil {
		return nil, err
	}
	wf.Name = name.String
	wf.DeploymentVersionID = deployVer.String
	if err := json.Unmarshal([]byte(defJSON), &wf.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal definition: %w", err)
	}
	if varsJSON != "" {
		_ = json.Unmarshal([]byte(varsJSON), &wf.Variables)
	}
	wf.Metadata = rawOrNil(metadata)
	return wf, nil
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, limit int) ([]*Workflow, error) {
	query := `SELECT id, name, deployment_version_id, definition, variables, metadata, created_at, updated_at
	 FROM workflows ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var workflows []*Workflow
	for rows.Next() {
		wf := &Workflow{}
		var (
			name, deployVer   sql.NullString
			defJSON, varsJSON string
			metadata          sql.NullString
		)
		if err := rows.Scan(&wf.ID, &name, &deployVer, &defJSON, &varsJSON, &metadata, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
			return nil, err
		}
		wf.Name = name.String
		wf.DeploymentVersionID = deployVer.String
		if err := json.Unmarshal([]byte(defJSON), &wf.Definition); err != nil {
			return nil, fmt.Errorf("unmarshal definition: %w", err)
		}
		if varsJSON != "" {
			_ = json.Unmarshal([]byte(varsJSON), &wf.Variables)
		}
		wf.Metadata = rawOrNil(metadata)
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

// --- Execution logs ---

func (s *LibSQLStore) CreateExecutionLog(ctx context.Context, log *ExecutionLog) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO execution_logs (execution_id, workflow_id, deployment_version_id, level, status, trigger_type, started_at, ended_at, total_duration_ms, cost, execution_data, state_snapshot_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ExecutionID, log.WorkflowID, nullStr(log.DeploymentVersionID),
		string(log.Level), string(log.Status), log.Trigger,
		timeOrNow(log.StartedAt), nullTime(log.EndedAt), log.TotalDurationMs,
		nullRaw(log.Cost), nullRaw(log.ExecutionData), nullStr(log.StateSnapshotID),
	)
	return err
}

func (s *LibSQLStore) UpdateExecutionLog(ctx context.Context, executionID string, update ExecutionLogUpdate) error {
	var sets []string
	var args []any

	if update.Level != nil {
		sets = append(sets, "level = ?")
		args = append(args, string(*update.Level))
	}
	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.EndedAt != nil {
		sets = append(sets, "ended_at = ?")
		args = append(args, *update.EndedAt)
	}
	if update.TotalDurationMs != nil {
		sets = append(sets, "total_duration_ms = ?")
		args = append(args, *update.TotalDurationMs)
	}
	if update.Cost != nil {
		sets = append(sets, "cost = ?")
		args = append(args, string(update.Cost))
	}
	if update.ExecutionData != nil {
		sets = append(sets, "execution_data = ?")
		args = append(args, string(update.ExecutionData))
	}
	if update.StateSnapshotID != "" {
		sets = append(sets, "state_snapshot_id = ?")
		args = append(args, update.StateSnapshotID)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, executionID)

	query := fmt.Sprintf("UPDATE execution_logs SET %s WHERE execution_id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "execution log", executionID)
}

func (s *LibSQLStore) GetExecutionLog(ctx context.Context, executionID string) (*ExecutionLog, error) {
	rows, err := s.db.QueryContext(ctx,
		executionLogSelect+` WHERE execution_id = ?`, executionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs, err := scanExecutionLogs(rows)
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 {
		return nil, storeNotFound("execution log", executionID)
	}
	return logs[0], nil
}

func (s *LibSQLStore) ListExecutionLogs(ctx context.Context, filter ExecutionLogFilter) ([]*ExecutionLog, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Level != nil {
		where = append(where, "level = ?")
		args = append(args, string(*filter.Level))
	}
	if filter.Trigger != "" {
		where = append(where, "trigger_type = ?")
		args = append(args, filter.Trigger)
	}
	if filter.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, *filter.Since)
	}

	query := executionLogSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanExecutionLogs(rows)
}

const executionLogSelect = `SELECT execution_id, workflow_id, deployment_version_id, level, status, trigger_type, started_at, ended_at, total_duration_ms, cost, execution_data, state_snapshot_id FROM execution_logs`

func scanExecutionLogs(rows *sql.Rows) ([]*ExecutionLog, error) {
	var logs []*ExecutionLog
	for rows.Next() {
		l := &ExecutionLog{}
		var (
			deployVer, snapshotID     sql.NullString
			level, status             string
			endedAt                   sql.NullTime
			durationMs                sql.NullInt64
			cost, executionData       sql.NullString
		)
		if err := rows.Scan(&l.ExecutionID, &l.WorkflowID, &deployVer, &level, &status, &l.Trigger,
			&l.StartedAt, &endedAt, &durationMs, &cost, &executionData, &snapshotID); err != nil {
			return nil, err
		}
		l.DeploymentVersionID = deployVer.String
		l.Level = schema.LogLevel(level)
		l.Status = schema.RunStatus(status)
		if endedAt.Valid {
			l.EndedAt = &endedAt.Time
		}
		l.TotalDurationMs = durationMs.Int64
		l.Cost = rawOrNil(cost)
		l.ExecutionData = rawOrNil(executionData)
		l.StateSnapshotID = snapshotID.String
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// --- Snapshots ---

func (s *LibSQLStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	if len(snap.State) == 0 {
		return schema.NewError(schema.ErrCodeValidation, "snapshot state is empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, execution_id, state, created_at) VALUES (?, ?, ?, ?)`,
		snap.ID, snap.ExecutionID, string(snap.State), timeOrNow(snap.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	snap := &Snapshot{}
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, execution_id, state, created_at FROM snapshots WHERE id = ?`, id,
	).Scan(&snap.ID, &snap.ExecutionID, &state, &snap.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, snapshotNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	snap.State = json.RawMessage(state)
	return snap, nil
}

func (s *LibSQLStore) GetLatestSnapshot(ctx context.Context, executionID string) (*Snapshot, error) {
	snap := &Snapshot{}
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, execution_id, state, created_at FROM snapshots
		 WHERE execution_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`, executionID,
	).Scan(&snap.ID, &snap.ExecutionID, &state, &snap.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, snapshotNotFound(executionID)
	}
	if err != nil {
		return nil, err
	}
	snap.State = json.RawMessage(state)
	return snap, nil
}

// --- Paused executions ---

func (s *LibSQLStore) UpsertPausedExecution(ctx context.Context, p *PausedExecution) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO paused_executions (execution_id, workflow_id, status, total_pause_count, resumed_count, latest_snapshot_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(execution_id) DO UPDATE SET
		   status=excluded.status, total_pause_count=excluded.total_pause_count,
		   resumed_count=excluded.resumed_count, latest_snapshot_id=excluded.latest_snapshot_id,
		   updated_at=excluded.updated_at`,
		p.ExecutionID, p.WorkflowID, string(p.Status), p.TotalPauseCount, p.ResumedCount,
		nullStr(p.LatestSnapshotID), timeOrNow(p.CreatedAt), timeOrNow(p.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetPausedExecution(ctx context.Context, executionID string) (*PausedExecution, error) {
	p := &PausedExecution{}
	var status string
	var snapshotID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT execution_id, workflow_id, status, total_pause_count, resumed_count, latest_snapshot_id, created_at, updated_at
		 FROM paused_executions WHERE execution_id = ?`, executionID,
	).Scan(&p.ExecutionID, &p.WorkflowID, &status, &p.TotalPauseCount, &p.ResumedCount, &snapshotID, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("paused execution", executionID)
	}
	if err != nil {
		return nil, err
	}
	p.Status = schema.PauseStatus(status)
	p.LatestSnapshotID = snapshotID.String
	return p, nil
}

func (s *LibSQLStore) ListPausedExecutions(ctx context.Context, limit int) ([]*PausedExecution, error) {
	query := `SELECT execution_id, workflow_id, status, total_pause_count, resumed_count, latest_snapshot_id, created_at, updated_at
	 FROM paused_executions ORDER BY updated_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paused []*PausedExecution
	for rows.Next() {
		p := &PausedExecution{}
		var status string
		var snapshotID sql.NullString
		if err := rows.Scan(&p.ExecutionID, &p.WorkflowID, &status, &p.TotalPauseCount, &p.ResumedCount, &snapshotID, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.Status = schema.PauseStatus(status)
		p.LatestSnapshotID = snapshotID.String
		paused = append(paused, p)
	}
	return paused, rows.Err()
}

// --- Events ---

func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Get next sequence number for this execution
	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE execution_id = ?`, event.ExecutionID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	payload := nullRaw(event.Payload)
	ts := timeOrNow(event.Timestamp)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (execution_id, workflow_id, block_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ExecutionID, nullStr(event.WorkflowID), nullStr(event.BlockID), event.Type, payload, ts, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetEvents(ctx context.Context, executionID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, execution_id, workflow_id, block_id, event_type, payload, timestamp, sequence
		 FROM events WHERE execution_id = ? AND sequence > ? ORDER BY sequence ASC`,
		executionID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *LibSQLStore) GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error) {
	var where []string
	var args []any

	where = append(where, "event_type = ?")
	args = append(args, eventType)

	if filter.ExecutionID != "" {
		where = append(where, "execution_id = ?")
		args = append(args, filter.ExecutionID)
	}
	if filter.BlockID != "" {
		where = append(where, "block_id = ?")
		args = append(args, filter.BlockID)
	}
	if filter.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, execution_id, workflow_id, block_id, event_type, payload, timestamp, sequence FROM events`
	query += " WHERE " + strings.Join(where, " AND ")
	query += " ORDER BY timestamp DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		e := &Event{}
		var workflowID, blockID sql.NullString
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.ExecutionID, &workflowID, &blockID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.WorkflowID = workflowID.String
		e.BlockID = blockID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Scheduled triggers ---

func (s *LibSQLStore) CreateTrigger(ctx context.Context, t *ScheduledTrigger) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_triggers (id, workflow_id, cron_expression, variables, enabled, last_run_at, next_run_at, last_run_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.WorkflowID, t.CronExpression, nullRaw(t.Variables), t.Enabled,
		nullTime(t.LastRunAt), nullTime(t.NextRunAt), nullStr(t.LastRunStatus), timeOrNow(t.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetTrigger(ctx context.Context, id string) (*ScheduledTrigger, error) {
	t := &ScheduledTrigger{}
	var variables, lastStatus sql.NullString
	var lastRun, nextRun sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, cron_expression, variables, enabled, last_run_at, next_run_at, last_run_status, created_at
		 FROM scheduled_triggers WHERE id = ?`, id,
	).Scan(&t.ID, &t.WorkflowID, &t.CronExpression, &variables, &t.Enabled, &lastRun, &nextRun, &lastStatus, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("scheduled trigger", id)
	}
	if err != nil {
		return nil, err
	}
	t.Variables = rawOrNil(variables)
	t.LastRunStatus = lastStatus.String
	if lastRun.Valid {
		t.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		t.NextRunAt = &nextRun.Time
	}
	return t, nil
}

func (s *LibSQLStore) UpdateTrigger(ctx context.Context, id string, update TriggerUpdate) error {
	var sets []string
	var args []any

	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, *update.Enabled)
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE scheduled_triggers SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled trigger", id)
}

func (s *LibSQLStore) ListTriggers(ctx context.Context, filter TriggerFilter) ([]*ScheduledTrigger, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, *filter.Enabled)
	}

	query := `SELECT id, workflow_id, cron_expression, variables, enabled, last_run_at, next_run_at, last_run_status, created_at FROM scheduled_triggers`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var triggers []*ScheduledTrigger
	for rows.Next() {
		t := &ScheduledTrigger{}
		var variables, lastStatus sql.NullString
		var lastRun, nextRun sql.NullTime
		if err := rows.Scan(&t.ID, &t.WorkflowID, &t.CronExpression, &variables, &t.Enabled, &lastRun, &nextRun, &lastStatus, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Variables = rawOrNil(variables)
		t.LastRunStatus = lastStatus.String
		if lastRun.Valid {
			t.LastRunAt = &lastRun.Time
		}
		if nextRun.Valid {
			t.NextRunAt = &nextRun.Time
		}
		triggers = append(triggers, t)
	}
	return triggers, rows.Err()
}

func (s *LibSQLStore) DeleteTrigger(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_triggers WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled trigger", id)
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.WeaveError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func snapshotNotFound(id string) *schema.WeaveError {
	return schema.NewErrorf(schema.ErrCodeSnapshotNotFound, "snapshot for %q not found", id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func marshalMapOrDefault(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.Marshal(m)
}

var _ Store = (*LibSQLStore)(nil)
