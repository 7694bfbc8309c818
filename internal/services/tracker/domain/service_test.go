package domain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	apperrors "github.com/cutdesk/cutdesk/internal/platform/errors"
	"github.com/cutdesk/cutdesk/internal/project"
	"github.com/cutdesk/cutdesk/internal/services/tracker/dispatch"
	"github.com/cutdesk/cutdesk/internal/services/tracker/storage"
)

type fakeProjectStore struct {
	mu       sync.Mutex
	nextID   int64
	projects map[int64]storage.ProjectRecord
	history  []storage.HistoryRecord
	outbox   []storage.OutboxRecord
	failSave bool
}

func newFakeProjectStore() *fakeProjectStore {
	return &fakeProjectStore{projects: make(map[int64]storage.ProjectRecord)}
}

func (f *fakeProjectStore) CreateProject(_ context.Context, record storage.ProjectRecord) (storage.ProjectRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	record.ID = f.nextID
	f.projects[record.ID] = record
	return record, nil
}

func (f *fakeProjectStore) GetProject(_ context.Context, id int64) (storage.ProjectRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.projects[id]
	if !ok {
		return storage.ProjectRecord{}, storage.ErrNotFound
	}
	return record, nil
}

func (f *fakeProjectStore) ListProjects(_ context.Context, filter storage.ProjectFilter) ([]storage.ProjectRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var results []storage.ProjectRecord
	for _, record := range f.projects {
		if !filter.IncludeArchived && record.ArchivedAt != nil {
			continue
		}
		if filter.Status != "" && record.Status != filter.Status {
			continue
		}
		if filter.EditorUserID != "" && record.EditorUserID != filter.EditorUserID {
			continue
		}
		results = append(results, record)
	}
	return results, nil
}

func (f *fakeProjectStore) SaveTransition(_ context.Context, record storage.ProjectRecord, history *storage.HistoryRecord, outbox []storage.OutboxRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSave {
		return fmt.Errorf("disk full")
	}
	if _, ok := f.projects[record.ID]; !ok {
		return storage.ErrNotFound
	}
	f.projects[record.ID] = record
	if history != nil {
		f.history = append(f.history, *history)
	}
	f.outbox = append(f.outbox, outbox...)
	return nil
}

func (f *fakeProjectStore) ListHistory(_ context.Context, projectID int64) ([]storage.HistoryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var results []storage.HistoryRecord
	for _, record := range f.history {
		if record.ProjectID == projectID {
			results = append(results, record)
		}
	}
	return results, nil
}

func (f *fakeProjectStore) CountActiveProjectsByEditor(_ context.Context, editorUserID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, record := range f.projects {
		if record.EditorUserID == editorUserID && record.ArchivedAt == nil && record.Status != "approved" && record.Status != "unassigned" {
			count++
		}
	}
	return count, nil
}

func (f *fakeProjectStore) ListDeadlineCandidates(_ context.Context, _ time.Time) ([]storage.ProjectRecord, error) {
	return nil, nil
}

func (f *fakeProjectStore) ArchiveTerminalBefore(_ context.Context, _ time.Time, _ time.Time) (int64, error) {
	return 0, nil
}

type fakeEditorStore struct {
	mu      sync.Mutex
	editors map[string]storage.EditorRecord
}

func newFakeEditorStore() *fakeEditorStore {
	return &fakeEditorStore{editors: make(map[string]storage.EditorRecord)}
}

func (f *fakeEditorStore) PutEditor(_ context.Context, record storage.EditorRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.editors[record.UserID] = record
	return nil
}

func (f *fakeEditorStore) GetEditor(_ context.Context, userID string) (storage.EditorRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.editors[userID]
	if !ok {
		return storage.EditorRecord{}, storage.ErrNotFound
	}
	return record, nil
}

func (f *fakeEditorStore) SetEditorAvailability(_ context.Context, userID string, status storage.AvailabilityStatus, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.editors[userID]
	if !ok {
		return storage.ErrNotFound
	}
	record.AvailabilityStatus = status
	record.UpdatedAt = at
	f.editors[userID] = record
	return nil
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func sequentialIDGenerator() func() (string, error) {
	counter := 0
	var mu sync.Mutex
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		counter++
		return fmt.Sprintf("id-%03d", counter), nil
	}
}

const managerRole = "role-managers"

var managerRoles = []string{managerRole}

func newTestService(t *testing.T, projects *fakeProjectStore, editors *fakeEditorStore) *Service {
	t.Helper()
	service, err := NewService(Config{
		Projects:       projects,
		Editors:        editors,
		ManagerRoleID:  managerRole,
		ManagerUserIDs: []string{"manager-1", "manager-2"},
		NotifyUserID:   "ops-1",
		Clock:          fixedClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)),
		NewID:          sequentialIDGenerator(),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return service
}

func createAssignedProject(t *testing.T, service *Service) TransitionOutcome {
	t.Helper()
	outcome, err := service.CreateProject(context.Background(), CreateProjectInput{
		ActorID:           "manager-1",
		ActorRoles:        managerRoles,
		Name:              "Launch teaser",
		Rate:              "150.00",
		ThreadChannelID:   "thread-1",
		EditorUserID:      "editor-1",
		EditorDisplayName: "Sam",
	})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	return outcome
}

func advanceTo(t *testing.T, service *Service, projectID int64, target project.Status) project.Project {
	t.Helper()
	ctx := context.Background()
	steps := []SubmitIntentInput{
		{ProjectID: projectID, Event: "accept", ActorID: "editor-1"},
		{ProjectID: projectID, Event: "start", ActorID: "editor-1"},
		{ProjectID: projectID, Event: "submit", ActorID: "editor-1", SubmissionLink: "https://cdn.example/v1.mp4"},
		{ProjectID: projectID, Event: "approve", ActorID: "manager-1", ActorRoles: managerRoles},
	}
	var last project.Project
	for _, step := range steps {
		outcome, err := service.SubmitIntent(ctx, step)
		if err != nil {
			t.Fatalf("%s: %v", step.Event, err)
		}
		last = outcome.Project
		if outcome.Next == target {
			return last
		}
	}
	if last.Status != target {
		t.Fatalf("could not reach %v, stopped at %v", target, last.Status)
	}
	return last
}

func TestCreateProjectRequiresManager(t *testing.T) {
	t.Parallel()

	service := newTestService(t, newFakeProjectStore(), newFakeEditorStore())
	_, err := service.CreateProject(context.Background(), CreateProjectInput{
		ActorID: "editor-1",
		Name:    "Launch teaser",
		Rate:    "150.00",
	})
	if apperrors.CodeOf(err) != apperrors.CodeProjectUnauthorized {
		t.Fatalf("code = %v, want %v", apperrors.CodeOf(err), apperrors.CodeProjectUnauthorized)
	}
}

func TestCreateProjectWithEditorAssignsImmediately(t *testing.T) {
	t.Parallel()

	projects := newFakeProjectStore()
	service := newTestService(t, projects, newFakeEditorStore())

	outcome := createAssignedProject(t, service)
	if outcome.Next != project.StatusAssigned {
		t.Fatalf("Next = %v, want %v", outcome.Next, project.StatusAssigned)
	}
	if outcome.Project.Editor.UserID != "editor-1" {
		t.Fatalf("Editor = %+v, want editor-1", outcome.Project.Editor)
	}
	if len(projects.history) != 1 || projects.history[0].Event != "assign" {
		t.Fatalf("history = %+v, want one assign entry", projects.history)
	}
	if len(outcome.Intents) == 0 {
		t.Fatal("assign produced no notification intents")
	}
	if len(projects.outbox) != len(outcome.Intents) {
		t.Fatalf("outbox rows = %d, want %d", len(projects.outbox), len(outcome.Intents))
	}
}

func TestSubmitIntentUnknownProject(t *testing.T) {
	t.Parallel()

	service := newTestService(t, newFakeProjectStore(), newFakeEditorStore())
	_, err := service.SubmitIntent(context.Background(), SubmitIntentInput{
		ProjectID: 99,
		Event:     "accept",
		ActorID:   "editor-1",
	})
	if apperrors.CodeOf(err) != apperrors.CodeNotFound {
		t.Fatalf("code = %v, want %v", apperrors.CodeOf(err), apperrors.CodeNotFound)
	}
}

func TestSubmitIntentSubmitFansOutToManagers(t *testing.T) {
	t.Parallel()

	projects := newFakeProjectStore()
	service := newTestService(t, projects, newFakeEditorStore())
	created := createAssignedProject(t, service)
	ctx := context.Background()

	for _, step := range []SubmitIntentInput{
		{ProjectID: created.Project.ID, Event: "accept", ActorID: "editor-1"},
		{ProjectID: created.Project.ID, Event: "start", ActorID: "editor-1"},
	} {
		if _, err := service.SubmitIntent(ctx, step); err != nil {
			t.Fatalf("%s: %v", step.Event, err)
		}
	}

	outcome, err := service.SubmitIntent(ctx, SubmitIntentInput{
		ProjectID:       created.Project.ID,
		Event:           "submit",
		ActorID:         "editor-1",
		SubmissionLink:  "https://cdn.example/v1.mp4",
		SubmissionNotes: "first cut",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if outcome.Next != project.StatusSubmitted {
		t.Fatalf("Next = %v, want %v", outcome.Next, project.StatusSubmitted)
	}

	mentions, dms := 0, 0
	for _, intent := range outcome.Intents {
		switch intent.RecipientKind {
		case storage.RecipientKindRoleMention:
			mentions++
		case storage.RecipientKindUserDM:
			dms++
		}
		if intent.Kind != dispatch.KindProjectSubmitted {
			t.Fatalf("Kind = %q, want %q", intent.Kind, dispatch.KindProjectSubmitted)
		}
		if intent.Payload.SubmissionLink != "https://cdn.example/v1.mp4" {
			t.Fatalf("payload = %+v, want submission link", intent.Payload)
		}
	}
	if mentions != 1 || dms != 2 {
		t.Fatalf("mentions = %d dms = %d, want 1 mention and 2 manager DMs", mentions, dms)
	}
}

func TestSubmitIntentMarkPaidIdempotent(t *testing.T) {
	t.Parallel()

	projects := newFakeProjectStore()
	service := newTestService(t, projects, newFakeEditorStore())
	created := createAssignedProject(t, service)
	advanceTo(t, service, created.Project.ID, project.StatusApproved)
	ctx := context.Background()

	historyBefore := len(projects.history)
	first, err := service.SubmitIntent(ctx, SubmitIntentInput{
		ProjectID:  created.Project.ID,
		Event:      "mark_paid",
		ActorID:    "manager-1",
		ActorRoles: managerRoles,
	})
	if err != nil {
		t.Fatalf("mark_paid: %v", err)
	}
	if !first.Project.Paid {
		t.Fatal("Paid = false after mark_paid")
	}
	if len(first.Intents) != 1 || first.Intents[0].RecipientID != "editor-1" {
		t.Fatalf("intents = %+v, want one editor DM", first.Intents)
	}
	if len(projects.history) != historyBefore+1 {
		t.Fatalf("history = %d entries, want %d", len(projects.history), historyBefore+1)
	}

	outboxBefore := len(projects.outbox)
	second, err := service.SubmitIntent(ctx, SubmitIntentInput{
		ProjectID:  created.Project.ID,
		Event:      "mark_paid",
		ActorID:    "manager-1",
		ActorRoles: managerRoles,
	})
	if err != nil {
		t.Fatalf("second mark_paid: %v", err)
	}
	if !second.Project.Paid {
		t.Fatal("Paid reset on repeated mark_paid")
	}
	if len(second.Intents) != 0 {
		t.Fatalf("repeated mark_paid intents = %+v, want none", second.Intents)
	}
	if len(projects.history) != historyBefore+1 {
		t.Fatal("repeated mark_paid appended history")
	}
	if len(projects.outbox) != outboxBefore {
		t.Fatal("repeated mark_paid enqueued notifications")
	}
}

func TestSubmitIntentPersistenceFailureLeavesStateUnchanged(t *testing.T) {
	t.Parallel()

	projects := newFakeProjectStore()
	service := newTestService(t, projects, newFakeEditorStore())
	created := createAssignedProject(t, service)
	ctx := context.Background()

	projects.failSave = true
	_, err := service.SubmitIntent(ctx, SubmitIntentInput{
		ProjectID: created.Project.ID,
		Event:     "accept",
		ActorID:   "editor-1",
	})
	if apperrors.CodeOf(err) != apperrors.CodePersistenceFailure {
		t.Fatalf("code = %v, want %v", apperrors.CodeOf(err), apperrors.CodePersistenceFailure)
	}

	projects.failSave = false
	loaded, err := service.GetProject(ctx, created.Project.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if loaded.Status != project.StatusAssigned {
		t.Fatalf("Status = %v, want unchanged %v", loaded.Status, project.StatusAssigned)
	}
}

func TestSubmitIntentAssignChecksAvailability(t *testing.T) {
	t.Parallel()

	projects := newFakeProjectStore()
	editors := newFakeEditorStore()
	service := newTestService(t, projects, editors)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := editors.PutEditor(ctx, storage.EditorRecord{
		UserID:             "editor-busy",
		Name:               "Alex",
		AvailabilityStatus: storage.AvailabilityBusy,
		CreatedAt:          now,
		UpdatedAt:          now,
	}); err != nil {
		t.Fatalf("PutEditor: %v", err)
	}

	outcome, err := service.CreateProject(ctx, CreateProjectInput{
		ActorID:    "manager-1",
		ActorRoles: managerRoles,
		Name:       "Podcast intro",
		Rate:       "90.00",
	})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	_, err = service.SubmitIntent(ctx, SubmitIntentInput{
		ProjectID:    outcome.Project.ID,
		Event:        "assign",
		ActorID:      "manager-1",
		ActorRoles:   managerRoles,
		EditorUserID: "editor-busy",
	})
	if apperrors.CodeOf(err) != apperrors.CodeEditorUnavailable {
		t.Fatalf("code = %v, want %v", apperrors.CodeOf(err), apperrors.CodeEditorUnavailable)
	}
}

func TestCreateProjectSurfacesProjectWhenAssignFails(t *testing.T) {
	t.Parallel()

	projects := newFakeProjectStore()
	editors := newFakeEditorStore()
	service := newTestService(t, projects, editors)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := editors.PutEditor(ctx, storage.EditorRecord{
		UserID:             "editor-busy",
		Name:               "Alex",
		AvailabilityStatus: storage.AvailabilityUnavailable,
		CreatedAt:          now,
		UpdatedAt:          now,
	}); err != nil {
		t.Fatalf("PutEditor: %v", err)
	}

	outcome, err := service.CreateProject(ctx, CreateProjectInput{
		ActorID:      "manager-1",
		ActorRoles:   managerRoles,
		Name:         "Podcast intro",
		Rate:         "90.00",
		EditorUserID: "editor-busy",
	})
	if apperrors.CodeOf(err) != apperrors.CodeEditorUnavailable {
		t.Fatalf("code = %v, want %v", apperrors.CodeOf(err), apperrors.CodeEditorUnavailable)
	}
	if outcome.Project.ID == 0 {
		t.Fatal("outcome does not carry the committed project")
	}
	var domainErr *apperrors.Error
	if !errors.As(err, &domainErr) || domainErr.Metadata["ProjectID"] == "" {
		t.Fatalf("error metadata = %v, want ProjectID", err)
	}
	record, getErr := projects.GetProject(ctx, outcome.Project.ID)
	if getErr != nil {
		t.Fatalf("GetProject: %v", getErr)
	}
	if record.Status != "unassigned" {
		t.Fatalf("status = %q, want unassigned after failed assign", record.Status)
	}
}

func TestSubmitIntentAssignRequiresEditorRef(t *testing.T) {
	t.Parallel()

	service := newTestService(t, newFakeProjectStore(), newFakeEditorStore())
	ctx := context.Background()

	outcome, err := service.CreateProject(ctx, CreateProjectInput{
		ActorID:    "manager-1",
		ActorRoles: managerRoles,
		Name:       "Podcast intro",
		Rate:       "90.00",
	})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	_, err = service.SubmitIntent(ctx, SubmitIntentInput{
		ProjectID:  outcome.Project.ID,
		Event:      "assign",
		ActorID:    "manager-1",
		ActorRoles: managerRoles,
	})
	if apperrors.CodeOf(err) != apperrors.CodeProjectEditorRequired {
		t.Fatalf("code = %v, want %v", apperrors.CodeOf(err), apperrors.CodeProjectEditorRequired)
	}
}

func TestSubmitIntentAssignChecksCapacity(t *testing.T) {
	t.Parallel()

	projects := newFakeProjectStore()
	editors := newFakeEditorStore()
	service := newTestService(t, projects, editors)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := editors.PutEditor(ctx, storage.EditorRecord{
		UserID:                "editor-1",
		Name:                  "Sam",
		AvailabilityStatus:    storage.AvailabilityAvailable,
		MaxConcurrentProjects: 1,
		CreatedAt:             now,
		UpdatedAt:             now,
	}); err != nil {
		t.Fatalf("PutEditor: %v", err)
	}

	createAssignedProject(t, service)

	second, err := service.CreateProject(ctx, CreateProjectInput{
		ActorID:    "manager-1",
		ActorRoles: managerRoles,
		Name:       "Podcast intro",
		Rate:       "90.00",
	})
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	_, err = service.SubmitIntent(ctx, SubmitIntentInput{
		ProjectID:    second.Project.ID,
		Event:        "assign",
		ActorID:      "manager-1",
		ActorRoles:   managerRoles,
		EditorUserID: "editor-1",
	})
	if apperrors.CodeOf(err) != apperrors.CodeEditorUnavailable {
		t.Fatalf("code = %v, want %v", apperrors.CodeOf(err), apperrors.CodeEditorUnavailable)
	}
}

func TestSubmitIntentSerializesPerProject(t *testing.T) {
	t.Parallel()

	projects := newFakeProjectStore()
	service := newTestService(t, projects, newFakeEditorStore())
	created := createAssignedProject(t, service)
	ctx := context.Background()

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = service.SubmitIntent(ctx, SubmitIntentInput{
				ProjectID: created.Project.ID,
				Event:     "accept",
				ActorID:   "editor-1",
			})
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		if apperrors.CodeOf(err) != apperrors.CodeProjectInvalidTransition {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("accept succeeded %d times, want exactly 1", succeeded)
	}

	acceptEntries := 0
	for _, entry := range projects.history {
		if entry.Event == "accept" {
			acceptEntries++
		}
	}
	if acceptEntries != 1 {
		t.Fatalf("accept history entries = %d, want 1", acceptEntries)
	}
}

func TestEditorRosterOperations(t *testing.T) {
	t.Parallel()

	projects := newFakeProjectStore()
	editors := newFakeEditorStore()
	service := newTestService(t, projects, editors)
	ctx := context.Background()

	if _, err := service.RegisterEditor(ctx, RegisterEditorInput{UserID: "", Name: "Sam"}); apperrors.CodeOf(err) != apperrors.CodeEditorEmptyUserID {
		t.Fatalf("empty user id code = %v", apperrors.CodeOf(err))
	}

	registered, err := service.RegisterEditor(ctx, RegisterEditorInput{
		UserID:                "editor-1",
		Name:                  "Sam",
		Position:              "Senior Editor",
		MaxConcurrentProjects: 2,
	})
	if err != nil {
		t.Fatalf("RegisterEditor: %v", err)
	}
	if registered.AvailabilityStatus != storage.AvailabilityAvailable {
		t.Fatalf("AvailabilityStatus = %q, want available by default", registered.AvailabilityStatus)
	}

	if err := service.SetEditorAvailability(ctx, "editor-1", "busy"); err != nil {
		t.Fatalf("SetEditorAvailability: %v", err)
	}
	if err := service.SetEditorAvailability(ctx, "editor-1", "away"); apperrors.CodeOf(err) != apperrors.CodeEditorInvalidStatus {
		t.Fatalf("invalid status code = %v", apperrors.CodeOf(err))
	}

	createAssignedProject(t, service)
	status, err := service.GetEditorStatus(ctx, "editor-1")
	if err != nil {
		t.Fatalf("GetEditorStatus: %v", err)
	}
	if status.ActiveProjects != 1 {
		t.Fatalf("ActiveProjects = %d, want 1", status.ActiveProjects)
	}
	if status.Editor.AvailabilityStatus != storage.AvailabilityBusy {
		t.Fatalf("AvailabilityStatus = %q, want busy", status.Editor.AvailabilityStatus)
	}
}

func TestListProjectsRejectsUnknownStatusFilter(t *testing.T) {
	t.Parallel()

	service := newTestService(t, newFakeProjectStore(), newFakeEditorStore())
	_, err := service.ListProjects(context.Background(), "bogus", "")
	if apperrors.CodeOf(err) != apperrors.CodeProjectMissingData {
		t.Fatalf("code = %v, want %v", apperrors.CodeOf(err), apperrors.CodeProjectMissingData)
	}
}
