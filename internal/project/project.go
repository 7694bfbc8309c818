// Package project holds the project entity and the lifecycle state machine
// that governs every status change.
package project

import (
	"strings"
	"time"

	apperrors "github.com/cutdesk/cutdesk/internal/platform/errors"
)

var (
	// ErrEmptyName indicates a missing project name.
	ErrEmptyName = apperrors.New(apperrors.CodeProjectNameEmpty, "project name is required")
	// ErrEmptyRate indicates a missing project rate.
	ErrEmptyRate = apperrors.New(apperrors.CodeProjectRateEmpty, "project rate is required")
)

// EditorRef identifies a platform user acting as an editor.
type EditorRef struct {
	UserID      string
	DisplayName string
}

// Submission carries the deliverable handed in for review.
type Submission struct {
	Link          string
	AttachmentURL string
	Notes         string
	SubmittedAt   time.Time
}

// Empty reports whether the submission carries no deliverable.
func (s Submission) Empty() bool {
	return strings.TrimSpace(s.Link) == "" && strings.TrimSpace(s.AttachmentURL) == ""
}

// Project represents a tracked video-editing project.
type Project struct {
	// ID is assigned by the store on first save and immutable afterwards.
	ID   int64
	Name string
	// Editor is the assigned editor; zero while the project is unassigned.
	Editor EditorRef
	// ManagerRoleID is the role empowered to review this project.
	ManagerRoleID string
	// Rate is the agreed amount, kept as decimal text.
	Rate     string
	Deadline *time.Time
	Status   Status
	// ThreadChannelID is the discussion channel, immutable once set.
	ThreadChannelID string
	// Submission holds the latest deliverable; replaced on resubmission.
	Submission *Submission
	// RejectionReason is the reason attached to the latest reject.
	RejectionReason string
	// Paid records payment; settable only while approved, never reset.
	Paid bool
	// ArchivedAt is set by the archival sweep; archived projects leave the
	// active query scope but are never deleted.
	ArchivedAt *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// HistoryEntry is one append-only audit record for a project.
type HistoryEntry struct {
	ProjectID int64
	Event     Event
	Status    Status
	ActorID   string
	CreatedAt time.Time
}

// CreateProjectInput describes the metadata needed to create a project.
type CreateProjectInput struct {
	Name            string
	ManagerRoleID   string
	Rate            string
	Deadline        *time.Time
	ThreadChannelID string
}

// CreateProject builds a new unassigned project. The store assigns the ID on
// first save.
func CreateProject(input CreateProjectInput, now func() time.Time) (Project, error) {
	if now == nil {
		now = time.Now
	}

	normalized, err := NormalizeCreateProjectInput(input)
	if err != nil {
		return Project{}, err
	}

	createdAt := now().UTC()
	return Project{
		Name:            normalized.Name,
		ManagerRoleID:   normalized.ManagerRoleID,
		Rate:            normalized.Rate,
		Deadline:        normalized.Deadline,
		Status:          StatusUnassigned,
		ThreadChannelID: normalized.ThreadChannelID,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}, nil
}

// NormalizeCreateProjectInput trims and validates project input metadata.
func NormalizeCreateProjectInput(input CreateProjectInput) (CreateProjectInput, error) {
	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		return CreateProjectInput{}, ErrEmptyName
	}
	input.Rate = strings.TrimSpace(input.Rate)
	if input.Rate == "" {
		return CreateProjectInput{}, ErrEmptyRate
	}
	input.ManagerRoleID = strings.TrimSpace(input.ManagerRoleID)
	input.ThreadChannelID = strings.TrimSpace(input.ThreadChannelID)
	return input, nil
}
