// Package storage defines the persistence contracts for the tracker service.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/cutdesk/cutdesk/internal/project"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates a requested write conflicts with uniqueness constraints.
	ErrConflict = errors.New("record conflict")
)

// RecipientKind identifies how a notification reaches its recipient.
type RecipientKind string

const (
	// RecipientKindUserDM targets a direct message to one user.
	RecipientKindUserDM RecipientKind = "user_dm"
	// RecipientKindChannel targets a post in a channel.
	RecipientKindChannel RecipientKind = "channel"
	// RecipientKindRoleMention targets a role mention inside a channel.
	RecipientKindRoleMention RecipientKind = "role_mention"
)

// OutboxStatus identifies one outbox delivery lifecycle state.
type OutboxStatus string

const (
	// OutboxStatusPending means the notification is queued for delivery.
	OutboxStatusPending OutboxStatus = "pending"
	// OutboxStatusFailed means the last attempt failed and a retry is scheduled.
	OutboxStatusFailed OutboxStatus = "failed"
	// OutboxStatusDelivered means the notification reached the gateway.
	OutboxStatusDelivered OutboxStatus = "delivered"
	// OutboxStatusDead means retries were exhausted.
	OutboxStatusDead OutboxStatus = "dead"
)

// AvailabilityStatus identifies an editor's roster availability.
type AvailabilityStatus string

const (
	// AvailabilityAvailable means the editor can take new projects.
	AvailabilityAvailable AvailabilityStatus = "available"
	// AvailabilityBusy means the editor is at capacity by their own report.
	AvailabilityBusy AvailabilityStatus = "busy"
	// AvailabilityUnavailable means the editor is away.
	AvailabilityUnavailable AvailabilityStatus = "unavailable"
)

// ProjectRecord stores one project row.
type ProjectRecord struct {
	ID                      int64
	Name                    string
	EditorUserID            string
	EditorDisplayName       string
	ManagerRoleID           string
	Rate                    string
	Deadline                *time.Time
	Status                  string
	ThreadChannelID         string
	SubmissionLink          string
	SubmissionAttachmentURL string
	SubmissionNotes         string
	SubmittedAt             *time.Time
	RejectionReason         string
	Paid                    bool
	ArchivedAt              *time.Time
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// HistoryRecord stores one append-only project audit row.
type HistoryRecord struct {
	ID          int64
	ProjectID   int64
	Event       string
	Status      string
	ActorUserID string
	CreatedAt   time.Time
}

// EditorRecord stores one editor roster row.
type EditorRecord struct {
	UserID                string
	Name                  string
	Position              string
	GCash                 string
	Email                 string
	AvailabilityStatus    AvailabilityStatus
	MaxConcurrentProjects int
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// OutboxRecord stores one queued notification delivery.
type OutboxRecord struct {
	ID            string
	ProjectID     int64
	Kind          string
	RecipientKind RecipientKind
	RecipientID   string
	// ChannelID is the channel a channel or role_mention intent posts into.
	ChannelID   string
	PayloadJSON string
	// DedupeKey suppresses duplicate enqueues when non-empty.
	DedupeKey     string
	Status        OutboxStatus
	AttemptCount  int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeliveredAt   *time.Time
}

// ProjectFilter narrows an active-project listing.
type ProjectFilter struct {
	Status          string
	EditorUserID    string
	IncludeArchived bool
}

// ProjectStore persists project and audit state.
type ProjectStore interface {
	// CreateProject inserts a new project row and returns it with the
	// store-assigned ID.
	CreateProject(ctx context.Context, record ProjectRecord) (ProjectRecord, error)
	GetProject(ctx context.Context, id int64) (ProjectRecord, error)
	ListProjects(ctx context.Context, filter ProjectFilter) ([]ProjectRecord, error)
	// SaveTransition atomically writes the mutated project, its history row
	// and the notification outbox rows produced by one transition.
	SaveTransition(ctx context.Context, record ProjectRecord, history *HistoryRecord, outbox []OutboxRecord) error
	ListHistory(ctx context.Context, projectID int64) ([]HistoryRecord, error)
	CountActiveProjectsByEditor(ctx context.Context, editorUserID string) (int, error)
	// ListDeadlineCandidates lists active projects with a deadline in a
	// reminder-relevant status.
	ListDeadlineCandidates(ctx context.Context, now time.Time) ([]ProjectRecord, error)
	// ArchiveTerminalBefore stamps archived_at on terminal projects whose
	// updated_at is older than cutoff and returns the number archived.
	ArchiveTerminalBefore(ctx context.Context, cutoff time.Time, archivedAt time.Time) (int64, error)
}

// EditorStore persists the editor roster.
type EditorStore interface {
	PutEditor(ctx context.Context, record EditorRecord) error
	GetEditor(ctx context.Context, userID string) (EditorRecord, error)
	SetEditorAvailability(ctx context.Context, userID string, status AvailabilityStatus, at time.Time) error
}

// OutboxStore persists queued notification deliveries.
type OutboxStore interface {
	// EnqueueOutbox inserts pending rows; rows whose dedupe key already
	// exists are silently skipped.
	EnqueueOutbox(ctx context.Context, records []OutboxRecord) error
	ListDueOutbox(ctx context.Context, limit int, now time.Time) ([]OutboxRecord, error)
	MarkOutboxRetry(ctx context.Context, id string, attemptCount int, nextAttemptAt time.Time, lastError string, at time.Time) error
	MarkOutboxDelivered(ctx context.Context, id string, deliveredAt time.Time) error
	MarkOutboxDead(ctx context.Context, id string, lastError string, at time.Time) error
}

// ProjectRecordFromEntity flattens a project entity into its stored row.
func ProjectRecordFromEntity(p project.Project) ProjectRecord {
	record := ProjectRecord{
		ID:                p.ID,
		Name:              p.Name,
		EditorUserID:      p.Editor.UserID,
		EditorDisplayName: p.Editor.DisplayName,
		ManagerRoleID:     p.ManagerRoleID,
		Rate:              p.Rate,
		Deadline:          p.Deadline,
		Status:            project.StatusLabel(p.Status),
		ThreadChannelID:   p.ThreadChannelID,
		RejectionReason:   p.RejectionReason,
		Paid:              p.Paid,
		ArchivedAt:        p.ArchivedAt,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
	}
	if p.Submission != nil {
		record.SubmissionLink = p.Submission.Link
		record.SubmissionAttachmentURL = p.Submission.AttachmentURL
		record.SubmissionNotes = p.Submission.Notes
		submittedAt := p.Submission.SubmittedAt
		record.SubmittedAt = &submittedAt
	}
	return record
}

// ToEntity rebuilds the project entity from its stored row.
func (r ProjectRecord) ToEntity() project.Project {
	p := project.Project{
		ID:   r.ID,
		Name: r.Name,
		Editor: project.EditorRef{
			UserID:      r.EditorUserID,
			DisplayName: r.EditorDisplayName,
		},
		ManagerRoleID:   r.ManagerRoleID,
		Rate:            r.Rate,
		Deadline:        r.Deadline,
		Status:          project.StatusFromLabel(r.Status),
		ThreadChannelID: r.ThreadChannelID,
		RejectionReason: r.RejectionReason,
		Paid:            r.Paid,
		ArchivedAt:      r.ArchivedAt,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if r.SubmissionLink != "" || r.SubmissionAttachmentURL != "" || r.SubmissionNotes != "" || r.SubmittedAt != nil {
		submission := project.Submission{
			Link:          r.SubmissionLink,
			AttachmentURL: r.SubmissionAttachmentURL,
			Notes:         r.SubmissionNotes,
		}
		if r.SubmittedAt != nil {
			submission.SubmittedAt = *r.SubmittedAt
		}
		p.Submission = &submission
	}
	return p
}

// HistoryRecordFromEntry flattens a history entry into its stored row.
func HistoryRecordFromEntry(entry project.HistoryEntry) HistoryRecord {
	return HistoryRecord{
		ProjectID:   entry.ProjectID,
		Event:       project.EventLabel(entry.Event),
		Status:      project.StatusLabel(entry.Status),
		ActorUserID: entry.ActorID,
		CreatedAt:   entry.CreatedAt,
	}
}
