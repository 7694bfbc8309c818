// Package sqlite provides SQLite-backed persistence for tracker state.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cutdesk/cutdesk/internal/platform/storage/sqlitemigrate"
	"github.com/cutdesk/cutdesk/internal/services/tracker/storage"
	"github.com/cutdesk/cutdesk/internal/services/tracker/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for tracker state.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func nullableMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func millisPtr(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	at := fromMillis(value.Int64)
	return &at
}

// Open opens a tracker SQLite store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_pragma=foreign_keys(ON)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := store.runMigrations(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) runMigrations() error {
	return sqlitemigrate.ApplyMigrations(s.sqlDB, migrations.FS, "")
}

// CreateProject inserts one project row and returns it with the assigned ID.
func (s *Store) CreateProject(ctx context.Context, record storage.ProjectRecord) (storage.ProjectRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.ProjectRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.ProjectRecord{}, fmt.Errorf("storage is not configured")
	}
	normalized, err := normalizeProjectRecord(record)
	if err != nil {
		return storage.ProjectRecord{}, err
	}

	result, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO projects (
	name, editor_user_id, editor_display_name, manager_role_id, rate, deadline,
	status, thread_channel_id, submission_link, submission_attachment_url,
	submission_notes, submitted_at, rejection_reason, paid, archived_at,
	created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		normalized.Name,
		normalized.EditorUserID,
		normalized.EditorDisplayName,
		normalized.ManagerRoleID,
		normalized.Rate,
		nullableMillis(normalized.Deadline),
		normalized.Status,
		normalized.ThreadChannelID,
		normalized.SubmissionLink,
		normalized.SubmissionAttachmentURL,
		normalized.SubmissionNotes,
		nullableMillis(normalized.SubmittedAt),
		normalized.RejectionReason,
		boolToInt(normalized.Paid),
		nullableMillis(normalized.ArchivedAt),
		toMillis(normalized.CreatedAt),
		toMillis(normalized.UpdatedAt),
	)
	if err != nil {
		return storage.ProjectRecord{}, fmt.Errorf("insert project: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return storage.ProjectRecord{}, fmt.Errorf("project insert id: %w", err)
	}
	normalized.ID = id
	return normalized, nil
}

// GetProject loads one project row by ID.
func (s *Store) GetProject(ctx context.Context, id int64) (storage.ProjectRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.ProjectRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.ProjectRecord{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(ctx, projectSelect+` WHERE id = ?`, id)
	record, err := scanProject(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ProjectRecord{}, storage.ErrNotFound
		}
		return storage.ProjectRecord{}, fmt.Errorf("get project: %w", err)
	}
	return record, nil
}

// ListProjects lists projects matching the filter, newest-first.
func (s *Store) ListProjects(ctx context.Context, filter storage.ProjectFilter) ([]storage.ProjectRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	query := projectSelect + ` WHERE 1=1`
	args := []any{}
	if !filter.IncludeArchived {
		query += ` AND archived_at IS NULL`
	}
	if status := strings.TrimSpace(filter.Status); status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	if editorID := strings.TrimSpace(filter.EditorUserID); editorID != "" {
		query += ` AND editor_user_id = ?`
		args = append(args, editorID)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var results []storage.ProjectRecord
	for rows.Next() {
		record, scanErr := scanProject(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan project row: %w", scanErr)
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate project rows: %w", err)
	}
	return results, nil
}

// SaveTransition atomically writes one transition outcome: the mutated
// project, its audit row and the produced outbox rows.
func (s *Store) SaveTransition(ctx context.Context, record storage.ProjectRecord, history *storage.HistoryRecord, outbox []storage.OutboxRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	normalized, err := normalizeProjectRecord(record)
	if err != nil {
		return err
	}
	if normalized.ID == 0 {
		return fmt.Errorf("project id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition write: %w", err)
	}
	rollbackWith := func(cause error) error {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("%w: rollback transition write: %v", cause, rollbackErr)
		}
		return cause
	}

	result, err := tx.ExecContext(ctx, `
UPDATE projects
SET name = ?, editor_user_id = ?, editor_display_name = ?, manager_role_id = ?,
    rate = ?, deadline = ?, status = ?, thread_channel_id = ?,
    submission_link = ?, submission_attachment_url = ?, submission_notes = ?,
    submitted_at = ?, rejection_reason = ?, paid = ?, archived_at = ?,
    updated_at = ?
WHERE id = ?
`,
		normalized.Name,
		normalized.EditorUserID,
		normalized.EditorDisplayName,
		normalized.ManagerRoleID,
		normalized.Rate,
		nullableMillis(normalized.Deadline),
		normalized.Status,
		normalized.ThreadChannelID,
		normalized.SubmissionLink,
		normalized.SubmissionAttachmentURL,
		normalized.SubmissionNotes,
		nullableMillis(normalized.SubmittedAt),
		normalized.RejectionReason,
		boolToInt(normalized.Paid),
		nullableMillis(normalized.ArchivedAt),
		toMillis(normalized.UpdatedAt),
		normalized.ID,
	)
	if err != nil {
		return rollbackWith(fmt.Errorf("update project: %w", err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return rollbackWith(fmt.Errorf("update project rows affected: %w", err))
	}
	if affected == 0 {
		return rollbackWith(storage.ErrNotFound)
	}

	if history != nil {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO project_history (project_id, event, status, actor_user_id, created_at)
VALUES (?, ?, ?, ?, ?)
`, history.ProjectID, history.Event, history.Status, history.ActorUserID, toMillis(history.CreatedAt)); err != nil {
			return rollbackWith(fmt.Errorf("insert history: %w", err))
		}
	}

	for _, item := range outbox {
		normalizedItem, normalizeErr := normalizeOutboxRecord(item)
		if normalizeErr != nil {
			return rollbackWith(normalizeErr)
		}
		if err := enqueueOutboxExec(ctx, tx, normalizedItem); err != nil {
			return rollbackWith(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transition write: %w", err)
	}
	return nil
}

// ListHistory lists a project's audit trail oldest-first.
func (s *Store) ListHistory(ctx context.Context, projectID int64) ([]storage.HistoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, project_id, event, status, actor_user_id, created_at
FROM project_history
WHERE project_id = ?
ORDER BY created_at ASC, id ASC
`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var results []storage.HistoryRecord
	for rows.Next() {
		var record storage.HistoryRecord
		var createdAt int64
		if err := rows.Scan(&record.ID, &record.ProjectID, &record.Event, &record.Status, &record.ActorUserID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		record.CreatedAt = fromMillis(createdAt)
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history rows: %w", err)
	}
	return results, nil
}

// CountActiveProjectsByEditor counts an editor's in-flight assignments.
func (s *Store) CountActiveProjectsByEditor(ctx context.Context, editorUserID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	editorUserID = strings.TrimSpace(editorUserID)
	if editorUserID == "" {
		return 0, fmt.Errorf("editor user id is required")
	}

	var count int
	if err := s.sqlDB.QueryRowContext(ctx, `
SELECT COUNT(1)
FROM projects
WHERE editor_user_id = ?
  AND archived_at IS NULL
  AND status IN ('assigned', 'agreed', 'in_progress', 'changes_requested', 'submitted')
`, editorUserID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count active projects: %w", err)
	}
	return count, nil
}

// ListDeadlineCandidates lists active projects eligible for deadline checks.
func (s *Store) ListDeadlineCandidates(ctx context.Context, now time.Time) ([]storage.ProjectRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if now.IsZero() {
		return nil, fmt.Errorf("now is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, projectSelect+`
WHERE deadline IS NOT NULL
  AND archived_at IS NULL
  AND status IN ('assigned', 'agreed', 'in_progress')
ORDER BY deadline ASC, id ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list deadline candidates: %w", err)
	}
	defer rows.Close()

	var results []storage.ProjectRecord
	for rows.Next() {
		record, scanErr := scanProject(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan deadline candidate row: %w", scanErr)
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deadline candidate rows: %w", err)
	}
	return results, nil
}

// ArchiveTerminalBefore stamps archived_at on stale terminal projects.
func (s *Store) ArchiveTerminalBefore(ctx context.Context, cutoff time.Time, archivedAt time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	if cutoff.IsZero() || archivedAt.IsZero() {
		return 0, fmt.Errorf("cutoff and archived_at are required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE projects
SET archived_at = ?, updated_at = ?
WHERE archived_at IS NULL
  AND status = 'approved'
  AND updated_at < ?
`, toMillis(archivedAt), toMillis(archivedAt), toMillis(cutoff))
	if err != nil {
		return 0, fmt.Errorf("archive terminal projects: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("archive terminal rows affected: %w", err)
	}
	return affected, nil
}

// PutEditor upserts one editor roster row.
func (s *Store) PutEditor(ctx context.Context, record storage.EditorRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	normalized, err := normalizeEditorRecord(record)
	if err != nil {
		return err
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO editors (
	user_id, name, position, gcash, email, availability_status,
	max_concurrent_projects, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
	name = excluded.name,
	position = excluded.position,
	gcash = excluded.gcash,
	email = excluded.email,
	availability_status = excluded.availability_status,
	max_concurrent_projects = excluded.max_concurrent_projects,
	updated_at = excluded.updated_at
`,
		normalized.UserID,
		normalized.Name,
		normalized.Position,
		normalized.GCash,
		normalized.Email,
		normalized.AvailabilityStatus,
		normalized.MaxConcurrentProjects,
		toMillis(normalized.CreatedAt),
		toMillis(normalized.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put editor: %w", err)
	}
	return nil
}

// GetEditor loads one editor roster row.
func (s *Store) GetEditor(ctx context.Context, userID string) (storage.EditorRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.EditorRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.EditorRecord{}, fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return storage.EditorRecord{}, fmt.Errorf("editor user id is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT user_id, name, position, gcash, email, availability_status, max_concurrent_projects, created_at, updated_at
FROM editors
WHERE user_id = ?
`, userID)
	var record storage.EditorRecord
	var createdAt int64
	var updatedAt int64
	if err := row.Scan(
		&record.UserID,
		&record.Name,
		&record.Position,
		&record.GCash,
		&record.Email,
		&record.AvailabilityStatus,
		&record.MaxConcurrentProjects,
		&createdAt,
		&updatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.EditorRecord{}, storage.ErrNotFound
		}
		return storage.EditorRecord{}, fmt.Errorf("get editor: %w", err)
	}
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}

// SetEditorAvailability updates one editor's availability state.
func (s *Store) SetEditorAvailability(ctx context.Context, userID string, status storage.AvailabilityStatus, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("editor user id is required")
	}
	if status == "" {
		return fmt.Errorf("availability status is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE editors
SET availability_status = ?, updated_at = ?
WHERE user_id = ?
`, status, toMillis(at.UTC()), userID)
	if err != nil {
		return fmt.Errorf("set editor availability: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set editor availability rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// EnqueueOutbox inserts pending outbox rows, skipping deduped duplicates.
func (s *Store) EnqueueOutbox(ctx context.Context, records []storage.OutboxRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin outbox write: %w", err)
	}
	for _, record := range records {
		normalized, normalizeErr := normalizeOutboxRecord(record)
		if normalizeErr != nil {
			_ = tx.Rollback()
			return normalizeErr
		}
		if err := enqueueOutboxExec(ctx, tx, normalized); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit outbox write: %w", err)
	}
	return nil
}

// ListDueOutbox lists due pending or failed outbox rows oldest-first.
func (s *Store) ListDueOutbox(ctx context.Context, limit int, now time.Time) ([]storage.OutboxRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	if now.IsZero() {
		return nil, fmt.Errorf("now is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, project_id, kind, recipient_kind, recipient_id, channel_id, payload_json,
       dedupe_key, status, attempt_count, next_attempt_at, last_error,
       created_at, updated_at, delivered_at
FROM notification_outbox
WHERE status IN (?, ?)
  AND next_attempt_at <= ?
ORDER BY next_attempt_at ASC, id ASC
LIMIT ?
`, storage.OutboxStatusPending, storage.OutboxStatusFailed, toMillis(now.UTC()), limit)
	if err != nil {
		return nil, fmt.Errorf("list due outbox: %w", err)
	}
	defer rows.Close()

	results := make([]storage.OutboxRecord, 0, limit)
	for rows.Next() {
		record, scanErr := scanOutbox(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan outbox row: %w", scanErr)
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}
	return results, nil
}

// MarkOutboxRetry records one failed attempt and schedules the next retry.
func (s *Store) MarkOutboxRetry(ctx context.Context, id string, attemptCount int, nextAttemptAt time.Time, lastError string, at time.Time) error {
	return s.markOutbox(ctx, id, `
UPDATE notification_outbox
SET status = ?, attempt_count = ?, next_attempt_at = ?, last_error = ?, updated_at = ?
WHERE id = ?
`, storage.OutboxStatusFailed, attemptCount, toMillis(nextAttemptAt.UTC()), strings.TrimSpace(lastError), toMillis(at.UTC()), strings.TrimSpace(id))
}

// MarkOutboxDelivered records successful delivery.
func (s *Store) MarkOutboxDelivered(ctx context.Context, id string, deliveredAt time.Time) error {
	at := toMillis(deliveredAt.UTC())
	return s.markOutbox(ctx, id, `
UPDATE notification_outbox
SET status = ?, delivered_at = ?, last_error = '', updated_at = ?
WHERE id = ?
`, storage.OutboxStatusDelivered, at, at, strings.TrimSpace(id))
}

// MarkOutboxDead parks one outbox row after retries are exhausted.
func (s *Store) MarkOutboxDead(ctx context.Context, id string, lastError string, at time.Time) error {
	return s.markOutbox(ctx, id, `
UPDATE notification_outbox
SET status = ?, last_error = ?, updated_at = ?
WHERE id = ?
`, storage.OutboxStatusDead, strings.TrimSpace(lastError), toMillis(at.UTC()), strings.TrimSpace(id))
}

func (s *Store) markOutbox(ctx context.Context, id string, query string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("outbox id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("mark outbox: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark outbox rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

const projectSelect = `
SELECT id, name, editor_user_id, editor_display_name, manager_role_id, rate,
       deadline, status, thread_channel_id, submission_link,
       submission_attachment_url, submission_notes, submitted_at,
       rejection_reason, paid, archived_at, created_at, updated_at
FROM projects`

type scanner func(dest ...any) error

type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func normalizeProjectRecord(record storage.ProjectRecord) (storage.ProjectRecord, error) {
	record.Name = strings.TrimSpace(record.Name)
	record.Status = strings.TrimSpace(record.Status)
	if record.Name == "" {
		return storage.ProjectRecord{}, fmt.Errorf("project name is required")
	}
	if record.Status == "" {
		return storage.ProjectRecord{}, fmt.Errorf("project status is required")
	}
	if record.CreatedAt.IsZero() {
		return storage.ProjectRecord{}, fmt.Errorf("created_at is required")
	}
	if record.UpdatedAt.IsZero() {
		return storage.ProjectRecord{}, fmt.Errorf("updated_at is required")
	}
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return record, nil
}

func normalizeEditorRecord(record storage.EditorRecord) (storage.EditorRecord, error) {
	record.UserID = strings.TrimSpace(record.UserID)
	record.Name = strings.TrimSpace(record.Name)
	if record.UserID == "" {
		return storage.EditorRecord{}, fmt.Errorf("editor user id is required")
	}
	if record.Name == "" {
		return storage.EditorRecord{}, fmt.Errorf("editor name is required")
	}
	if record.AvailabilityStatus == "" {
		record.AvailabilityStatus = storage.AvailabilityAvailable
	}
	if record.CreatedAt.IsZero() {
		return storage.EditorRecord{}, fmt.Errorf("created_at is required")
	}
	if record.UpdatedAt.IsZero() {
		return storage.EditorRecord{}, fmt.Errorf("updated_at is required")
	}
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return record, nil
}

func normalizeOutboxRecord(record storage.OutboxRecord) (storage.OutboxRecord, error) {
	record.ID = strings.TrimSpace(record.ID)
	record.Kind = strings.TrimSpace(record.Kind)
	record.RecipientID = strings.TrimSpace(record.RecipientID)
	record.PayloadJSON = strings.TrimSpace(record.PayloadJSON)
	record.DedupeKey = strings.TrimSpace(record.DedupeKey)
	if record.PayloadJSON == "" {
		record.PayloadJSON = "{}"
	}
	if record.ID == "" {
		return storage.OutboxRecord{}, fmt.Errorf("outbox id is required")
	}
	if record.Kind == "" {
		return storage.OutboxRecord{}, fmt.Errorf("outbox kind is required")
	}
	if record.RecipientKind == "" {
		return storage.OutboxRecord{}, fmt.Errorf("recipient kind is required")
	}
	if record.RecipientID == "" {
		return storage.OutboxRecord{}, fmt.Errorf("recipient id is required")
	}
	if record.Status == "" {
		record.Status = storage.OutboxStatusPending
	}
	if record.NextAttemptAt.IsZero() {
		return storage.OutboxRecord{}, fmt.Errorf("next attempt at is required")
	}
	if record.CreatedAt.IsZero() {
		return storage.OutboxRecord{}, fmt.Errorf("created_at is required")
	}
	if record.UpdatedAt.IsZero() {
		return storage.OutboxRecord{}, fmt.Errorf("updated_at is required")
	}
	record.NextAttemptAt = record.NextAttemptAt.UTC()
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return record, nil
}

func enqueueOutboxExec(ctx context.Context, execer sqlExecer, record storage.OutboxRecord) error {
	var dedupeKey sql.NullString
	if record.DedupeKey != "" {
		dedupeKey = sql.NullString{String: record.DedupeKey, Valid: true}
	}

	_, err := execer.ExecContext(ctx, `
INSERT OR IGNORE INTO notification_outbox (
	id, project_id, kind, recipient_kind, recipient_id, channel_id,
	payload_json, dedupe_key, status, attempt_count, next_attempt_at,
	last_error, created_at, updated_at, delivered_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		record.ID,
		record.ProjectID,
		record.Kind,
		record.RecipientKind,
		record.RecipientID,
		record.ChannelID,
		record.PayloadJSON,
		dedupeKey,
		record.Status,
		record.AttemptCount,
		toMillis(record.NextAttemptAt),
		record.LastError,
		toMillis(record.CreatedAt),
		toMillis(record.UpdatedAt),
		nullableMillis(record.DeliveredAt),
	)
	if err != nil {
		return fmt.Errorf("enqueue outbox: %w", err)
	}
	return nil
}

func scanProject(scan scanner) (storage.ProjectRecord, error) {
	var record storage.ProjectRecord
	var deadline sql.NullInt64
	var submittedAt sql.NullInt64
	var paid int
	var archivedAt sql.NullInt64
	var createdAt int64
	var updatedAt int64
	if err := scan(
		&record.ID,
		&record.Name,
		&record.EditorUserID,
		&record.EditorDisplayName,
		&record.ManagerRoleID,
		&record.Rate,
		&deadline,
		&record.Status,
		&record.ThreadChannelID,
		&record.SubmissionLink,
		&record.SubmissionAttachmentURL,
		&record.SubmissionNotes,
		&submittedAt,
		&record.RejectionReason,
		&paid,
		&archivedAt,
		&createdAt,
		&updatedAt,
	); err != nil {
		return storage.ProjectRecord{}, err
	}
	record.Deadline = millisPtr(deadline)
	record.SubmittedAt = millisPtr(submittedAt)
	record.Paid = paid != 0
	record.ArchivedAt = millisPtr(archivedAt)
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}

func scanOutbox(scan scanner) (storage.OutboxRecord, error) {
	var record storage.OutboxRecord
	var dedupeKey sql.NullString
	var nextAttemptAt int64
	var createdAt int64
	var updatedAt int64
	var deliveredAt sql.NullInt64
	if err := scan(
		&record.ID,
		&record.ProjectID,
		&record.Kind,
		&record.RecipientKind,
		&record.RecipientID,
		&record.ChannelID,
		&record.PayloadJSON,
		&dedupeKey,
		&record.Status,
		&record.AttemptCount,
		&nextAttemptAt,
		&record.LastError,
		&createdAt,
		&updatedAt,
		&deliveredAt,
	); err != nil {
		return storage.OutboxRecord{}, err
	}
	if dedupeKey.Valid {
		record.DedupeKey = dedupeKey.String
	}
	record.NextAttemptAt = fromMillis(nextAttemptAt)
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	record.DeliveredAt = millisPtr(deliveredAt)
	return record, nil
}
