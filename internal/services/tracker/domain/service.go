// Package domain implements the tracker service: it routes lifecycle intents
// through the state machine, persists outcomes and queues notifications.
package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	apperrors "github.com/cutdesk/cutdesk/internal/platform/errors"
	"github.com/cutdesk/cutdesk/internal/platform/id"
	"github.com/cutdesk/cutdesk/internal/project"
	"github.com/cutdesk/cutdesk/internal/services/tracker/dispatch"
	"github.com/cutdesk/cutdesk/internal/services/tracker/storage"
)

// Config wires the tracker service dependencies.
type Config struct {
	Projects storage.ProjectStore
	Editors  storage.EditorStore
	// ManagerRoleID is the role empowered to review projects; actors
	// carrying it satisfy the manager predicate.
	ManagerRoleID string
	// ManagerUserIDs receive manager DM fan-out. NotifyUserID is used as a
	// fallback when the list is empty.
	ManagerUserIDs []string
	NotifyUserID   string
	// IsManager overrides the default role-membership predicate.
	IsManager func(actorID string, roles []string) bool
	Clock     func() time.Time
	NewID     func() (string, error)
}

// Service coordinates project lifecycle transitions.
type Service struct {
	projects       storage.ProjectStore
	editors        storage.EditorStore
	managerRoleID  string
	managerUserIDs []string
	notifyUserID   string
	isManager      func(actorID string, roles []string) bool
	clock          func() time.Time
	newID          func() (string, error)

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

// NewService builds a tracker service from config.
func NewService(cfg Config) (*Service, error) {
	if cfg.Projects == nil {
		return nil, fmt.Errorf("project store is required")
	}
	if cfg.Editors == nil {
		return nil, fmt.Errorf("editor store is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = id.NewID
	}
	isManager := cfg.IsManager
	if isManager == nil {
		managerRoleID := strings.TrimSpace(cfg.ManagerRoleID)
		isManager = func(_ string, roles []string) bool {
			if managerRoleID == "" {
				return false
			}
			for _, role := range roles {
				if role == managerRoleID {
					return true
				}
			}
			return false
		}
	}
	return &Service{
		projects:       cfg.Projects,
		editors:        cfg.Editors,
		managerRoleID:  strings.TrimSpace(cfg.ManagerRoleID),
		managerUserIDs: cfg.ManagerUserIDs,
		notifyUserID:   strings.TrimSpace(cfg.NotifyUserID),
		isManager:      isManager,
		clock:          clock,
		newID:          newID,
		locks:          make(map[int64]*sync.Mutex),
	}, nil
}

// projectLock returns the mutex guarding one project's transition+persist
// scope. Cross-project operations proceed independently.
func (s *Service) projectLock(projectID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[projectID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[projectID] = lock
	}
	return lock
}

func (s *Service) managerDMRecipients() []string {
	if len(s.managerUserIDs) > 0 {
		return s.managerUserIDs
	}
	if s.notifyUserID != "" {
		return []string{s.notifyUserID}
	}
	return nil
}

// CreateProjectInput describes a manager request to create a project.
type CreateProjectInput struct {
	ActorID    string
	ActorRoles []string

	Name            string
	Rate            string
	Deadline        *time.Time
	ThreadChannelID string
	// ManagerRoleID overrides the configured reviewing role when set.
	ManagerRoleID string

	// EditorUserID assigns the project immediately when set.
	EditorUserID      string
	EditorDisplayName string
}

// TransitionOutcome reports a committed transition along with the queued
// notification intents.
type TransitionOutcome struct {
	Project project.Project
	Prior   project.Status
	Next    project.Status
	Intents []dispatch.Intent
}

// CreateProject creates an unassigned project, and applies the initial
// assignment in the same locked scope when an editor is supplied. If that
// assignment fails the unassigned project survives: the outcome carries it
// and the error metadata names its ProjectID.
func (s *Service) CreateProject(ctx context.Context, input CreateProjectInput) (TransitionOutcome, error) {
	if !s.isManager(input.ActorID, input.ActorRoles) {
		return TransitionOutcome{}, apperrors.New(apperrors.CodeProjectUnauthorized, "creating projects requires the manager role")
	}

	managerRoleID := strings.TrimSpace(input.ManagerRoleID)
	if managerRoleID == "" {
		managerRoleID = s.managerRoleID
	}

	created, err := project.CreateProject(project.CreateProjectInput{
		Name:            input.Name,
		ManagerRoleID:   managerRoleID,
		Rate:            input.Rate,
		Deadline:        input.Deadline,
		ThreadChannelID: input.ThreadChannelID,
	}, s.clock)
	if err != nil {
		return TransitionOutcome{}, err
	}

	record, err := s.projects.CreateProject(ctx, storage.ProjectRecordFromEntity(created))
	if err != nil {
		return TransitionOutcome{}, apperrors.Wrap(err, apperrors.CodePersistenceFailure, "create project")
	}
	created.ID = record.ID

	if strings.TrimSpace(input.EditorUserID) == "" {
		return TransitionOutcome{
			Project: created,
			Prior:   project.StatusUnassigned,
			Next:    project.StatusUnassigned,
		}, nil
	}

	outcome, err := s.SubmitIntent(ctx, SubmitIntentInput{
		ProjectID:         created.ID,
		Event:             project.EventLabel(project.EventAssign),
		ActorID:           input.ActorID,
		ActorRoles:        input.ActorRoles,
		EditorUserID:      input.EditorUserID,
		EditorDisplayName: input.EditorDisplayName,
	})
	if err != nil {
		// The unassigned row is already committed; surface it so callers can
		// retry the assignment instead of recreating the project.
		var domainErr *apperrors.Error
		if errors.As(err, &domainErr) {
			if domainErr.Metadata == nil {
				domainErr.Metadata = make(map[string]string)
			}
			domainErr.Metadata["ProjectID"] = fmt.Sprintf("%d", created.ID)
		}
		return TransitionOutcome{
			Project: created,
			Prior:   project.StatusUnassigned,
			Next:    project.StatusUnassigned,
		}, err
	}
	return outcome, nil
}

// SubmitIntentInput describes one lifecycle intent from the command layer.
type SubmitIntentInput struct {
	ProjectID  int64
	Event      string
	ActorID    string
	ActorRoles []string

	EditorUserID      string
	EditorDisplayName string
	Rate              string
	ThreadChannelID   string

	SubmissionLink          string
	SubmissionAttachmentURL string
	SubmissionNotes         string
	Reason                  string
}

// SubmitIntent validates and applies one lifecycle event.
//
// The load-transition-persist sequence runs under a per-project lock so no
// two transitions for the same project interleave. Notification intents are
// computed under the lock and written to the outbox in the same transaction
// as the project mutation; actual delivery happens outside the lock, from
// the outbox worker.
func (s *Service) SubmitIntent(ctx context.Context, input SubmitIntentInput) (TransitionOutcome, error) {
	event := project.EventFromLabel(strings.TrimSpace(input.Event))
	if event == project.EventUnspecified {
		return TransitionOutcome{}, apperrors.WithMetadata(
			apperrors.CodeProjectInvalidTransition,
			fmt.Sprintf("unknown project event %q", input.Event),
			map[string]string{"Event": input.Event},
		)
	}

	lock := s.projectLock(input.ProjectID)
	lock.Lock()
	defer lock.Unlock()

	record, err := s.projects.GetProject(ctx, input.ProjectID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return TransitionOutcome{}, apperrors.WithMetadata(
				apperrors.CodeNotFound,
				fmt.Sprintf("project %d not found", input.ProjectID),
				map[string]string{"ProjectID": fmt.Sprintf("%d", input.ProjectID)},
			)
		}
		return TransitionOutcome{}, apperrors.Wrap(err, apperrors.CodePersistenceFailure, "load project")
	}
	current := record.ToEntity()

	transitionInput := project.TransitionInput{
		Event:           event,
		ActorID:         input.ActorID,
		Rate:            input.Rate,
		ThreadChannelID: input.ThreadChannelID,
		Reason:          input.Reason,
	}
	if strings.TrimSpace(input.EditorUserID) != "" {
		transitionInput.Editor = &project.EditorRef{
			UserID:      strings.TrimSpace(input.EditorUserID),
			DisplayName: strings.TrimSpace(input.EditorDisplayName),
		}
	}
	if input.SubmissionLink != "" || input.SubmissionAttachmentURL != "" || input.SubmissionNotes != "" {
		transitionInput.Submission = &project.Submission{
			Link:          input.SubmissionLink,
			AttachmentURL: input.SubmissionAttachmentURL,
			Notes:         input.SubmissionNotes,
		}
	}

	isManager := func(actorID string) bool {
		return s.isManager(actorID, input.ActorRoles)
	}
	result, err := project.Apply(current, transitionInput, isManager, s.clock)
	if err != nil {
		return TransitionOutcome{}, err
	}

	// Availability is checked after the state machine so transition and
	// authorization errors take precedence. Nothing is persisted yet.
	if event == project.EventAssign && transitionInput.Editor != nil {
		if err := s.checkEditorAvailability(ctx, transitionInput.Editor.UserID); err != nil {
			return TransitionOutcome{}, err
		}
	}

	if !result.Changed {
		return TransitionOutcome{
			Project: result.Project,
			Prior:   result.Prior,
			Next:    result.Next,
		}, nil
	}

	intents := dispatch.BuildIntents(current, result.Project, event, input.ActorID, s.managerDMRecipients())
	outbox, err := s.outboxRecords(result.Project.ID, intents, result.Project.UpdatedAt)
	if err != nil {
		return TransitionOutcome{}, err
	}

	history := storage.HistoryRecordFromEntry(result.History)
	if err := s.projects.SaveTransition(ctx, storage.ProjectRecordFromEntity(result.Project), &history, outbox); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return TransitionOutcome{}, apperrors.Wrap(err, apperrors.CodeNotFound, "save transition")
		}
		return TransitionOutcome{}, apperrors.Wrap(err, apperrors.CodePersistenceFailure, "save transition")
	}

	return TransitionOutcome{
		Project: result.Project,
		Prior:   result.Prior,
		Next:    result.Next,
		Intents: intents,
	}, nil
}

func (s *Service) checkEditorAvailability(ctx context.Context, editorUserID string) error {
	editor, err := s.editors.GetEditor(ctx, editorUserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// No roster entry means no availability constraints.
			return nil
		}
		return apperrors.Wrap(err, apperrors.CodePersistenceFailure, "load editor")
	}

	if editor.AvailabilityStatus != storage.AvailabilityAvailable {
		return apperrors.WithMetadata(
			apperrors.CodeEditorUnavailable,
			fmt.Sprintf("editor %s is %s", editorUserID, editor.AvailabilityStatus),
			map[string]string{"EditorUserID": editorUserID, "Availability": string(editor.AvailabilityStatus)},
		)
	}
	if editor.MaxConcurrentProjects > 0 {
		active, err := s.projects.CountActiveProjectsByEditor(ctx, editorUserID)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodePersistenceFailure, "count active projects")
		}
		if active >= editor.MaxConcurrentProjects {
			return apperrors.WithMetadata(
				apperrors.CodeEditorUnavailable,
				fmt.Sprintf("editor %s is at capacity (%d active)", editorUserID, active),
				map[string]string{"EditorUserID": editorUserID},
			)
		}
	}
	return nil
}

func (s *Service) outboxRecords(projectID int64, intents []dispatch.Intent, at time.Time) ([]storage.OutboxRecord, error) {
	records := make([]storage.OutboxRecord, 0, len(intents))
	for _, intent := range intents {
		outboxID, err := s.newID()
		if err != nil {
			return nil, fmt.Errorf("generate outbox id: %w", err)
		}
		payloadJSON, err := intent.Payload.JSON()
		if err != nil {
			return nil, err
		}
		records = append(records, storage.OutboxRecord{
			ID:            outboxID,
			ProjectID:     projectID,
			Kind:          intent.Kind,
			RecipientKind: intent.RecipientKind,
			RecipientID:   intent.RecipientID,
			ChannelID:     intent.ChannelID,
			PayloadJSON:   payloadJSON,
			Status:        storage.OutboxStatusPending,
			NextAttemptAt: at,
			CreatedAt:     at,
			UpdatedAt:     at,
		})
	}
	return records, nil
}

// GetProject loads one project.
func (s *Service) GetProject(ctx context.Context, projectID int64) (project.Project, error) {
	record, err := s.projects.GetProject(ctx, projectID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return project.Project{}, apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("project %d not found", projectID))
		}
		return project.Project{}, apperrors.Wrap(err, apperrors.CodePersistenceFailure, "load project")
	}
	return record.ToEntity(), nil
}

// ListProjects lists active projects with optional status and editor filters.
func (s *Service) ListProjects(ctx context.Context, statusLabel string, editorUserID string) ([]project.Project, error) {
	statusLabel = strings.TrimSpace(statusLabel)
	if statusLabel != "" && project.StatusFromLabel(statusLabel) == project.StatusUnspecified {
		return nil, apperrors.New(apperrors.CodeProjectMissingData, fmt.Sprintf("unknown status filter %q", statusLabel))
	}
	records, err := s.projects.ListProjects(ctx, storage.ProjectFilter{
		Status:       statusLabel,
		EditorUserID: strings.TrimSpace(editorUserID),
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodePersistenceFailure, "list projects")
	}
	projects := make([]project.Project, 0, len(records))
	for _, record := range records {
		projects = append(projects, record.ToEntity())
	}
	return projects, nil
}

// ListHistory lists a project's audit trail oldest-first.
func (s *Service) ListHistory(ctx context.Context, projectID int64) ([]project.HistoryEntry, error) {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	records, err := s.projects.ListHistory(ctx, projectID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodePersistenceFailure, "list history")
	}
	entries := make([]project.HistoryEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, project.HistoryEntry{
			ProjectID: record.ProjectID,
			Event:     project.EventFromLabel(record.Event),
			Status:    project.StatusFromLabel(record.Status),
			ActorID:   record.ActorUserID,
			CreatedAt: record.CreatedAt,
		})
	}
	return entries, nil
}

// RegisterEditorInput describes one editor roster registration.
type RegisterEditorInput struct {
	UserID                string
	Name                  string
	Position              string
	GCash                 string
	Email                 string
	MaxConcurrentProjects int
}

// RegisterEditor upserts one editor roster entry.
func (s *Service) RegisterEditor(ctx context.Context, input RegisterEditorInput) (storage.EditorRecord, error) {
	input.UserID = strings.TrimSpace(input.UserID)
	input.Name = strings.TrimSpace(input.Name)
	if input.UserID == "" {
		return storage.EditorRecord{}, apperrors.New(apperrors.CodeEditorEmptyUserID, "editor user id is required")
	}
	if input.Name == "" {
		return storage.EditorRecord{}, apperrors.New(apperrors.CodeEditorEmptyName, "editor name is required")
	}
	if input.MaxConcurrentProjects < 0 {
		return storage.EditorRecord{}, apperrors.New(apperrors.CodeEditorInvalidMaxActive, "max concurrent projects must be non-negative")
	}

	now := s.clock().UTC()
	record := storage.EditorRecord{
		UserID:                input.UserID,
		Name:                  input.Name,
		Position:              strings.TrimSpace(input.Position),
		GCash:                 strings.TrimSpace(input.GCash),
		Email:                 strings.TrimSpace(input.Email),
		AvailabilityStatus:    storage.AvailabilityAvailable,
		MaxConcurrentProjects: input.MaxConcurrentProjects,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if existing, err := s.editors.GetEditor(ctx, input.UserID); err == nil {
		record.AvailabilityStatus = existing.AvailabilityStatus
		record.CreatedAt = existing.CreatedAt
	}
	if err := s.editors.PutEditor(ctx, record); err != nil {
		return storage.EditorRecord{}, apperrors.Wrap(err, apperrors.CodePersistenceFailure, "put editor")
	}
	return record, nil
}

// SetEditorAvailability updates one editor's availability state.
func (s *Service) SetEditorAvailability(ctx context.Context, userID string, statusLabel string) error {
	status := storage.AvailabilityStatus(strings.TrimSpace(statusLabel))
	switch status {
	case storage.AvailabilityAvailable, storage.AvailabilityBusy, storage.AvailabilityUnavailable:
	default:
		return apperrors.New(apperrors.CodeEditorInvalidStatus, fmt.Sprintf("unknown availability status %q", statusLabel))
	}
	if err := s.editors.SetEditorAvailability(ctx, userID, status, s.clock().UTC()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("editor %s not found", userID))
		}
		return apperrors.Wrap(err, apperrors.CodePersistenceFailure, "set editor availability")
	}
	return nil
}

// EditorStatus pairs a roster entry with its active assignment count.
type EditorStatus struct {
	Editor         storage.EditorRecord
	ActiveProjects int
}

// GetEditorStatus loads one editor's roster entry and workload.
func (s *Service) GetEditorStatus(ctx context.Context, userID string) (EditorStatus, error) {
	editor, err := s.editors.GetEditor(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return EditorStatus{}, apperrors.New(apperrors.CodeNotFound, fmt.Sprintf("editor %s not found", userID))
		}
		return EditorStatus{}, apperrors.Wrap(err, apperrors.CodePersistenceFailure, "load editor")
	}
	active, err := s.projects.CountActiveProjectsByEditor(ctx, userID)
	if err != nil {
		return EditorStatus{}, apperrors.Wrap(err, apperrors.CodePersistenceFailure, "count active projects")
	}
	return EditorStatus{Editor: editor, ActiveProjects: active}, nil
}
