package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cutdesk/cutdesk/internal/services/tracker/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "tracker.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testProjectRecord(at time.Time) storage.ProjectRecord {
	return storage.ProjectRecord{
		Name:            "Launch teaser",
		ManagerRoleID:   "role-managers",
		Rate:            "150.00",
		Status:          "unassigned",
		ThreadChannelID: "thread-1",
		CreatedAt:       at,
		UpdatedAt:       at,
	}
}

func TestCreateAndGetProject(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	created, err := store.CreateProject(ctx, testProjectRecord(at))
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("CreateProject did not assign an ID")
	}

	loaded, err := store.GetProject(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if loaded.Name != "Launch teaser" || loaded.Status != "unassigned" {
		t.Fatalf("loaded = %+v, want created record", loaded)
	}
	if !loaded.CreatedAt.Equal(at) {
		t.Fatalf("CreatedAt = %v, want %v", loaded.CreatedAt, at)
	}

	if _, err := store.GetProject(ctx, created.ID+100); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("missing project error = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestSaveTransitionWritesAtomically(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	created, err := store.CreateProject(ctx, testProjectRecord(at))
	if err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	later := at.Add(time.Hour)
	created.Status = "assigned"
	created.EditorUserID = "editor-1"
	created.EditorDisplayName = "Sam"
	created.UpdatedAt = later

	history := storage.HistoryRecord{
		ProjectID:   created.ID,
		Event:       "assign",
		Status:      "assigned",
		ActorUserID: "manager-1",
		CreatedAt:   later,
	}
	outbox := []storage.OutboxRecord{{
		ID:            "outbox-1",
		ProjectID:     created.ID,
		Kind:          "project.assigned",
		RecipientKind: storage.RecipientKindUserDM,
		RecipientID:   "editor-1",
		NextAttemptAt: later,
		CreatedAt:     later,
		UpdatedAt:     later,
	}}

	if err := store.SaveTransition(ctx, created, &history, outbox); err != nil {
		t.Fatalf("SaveTransition: %v", err)
	}

	loaded, err := store.GetProject(ctx, created.ID)
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if loaded.Status != "assigned" || loaded.EditorUserID != "editor-1" {
		t.Fatalf("loaded = %+v, want assigned to editor-1", loaded)
	}

	entries, err := store.ListHistory(ctx, created.ID)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(entries) != 1 || entries[0].Event != "assign" {
		t.Fatalf("history = %+v, want one assign entry", entries)
	}

	due, err := store.ListDueOutbox(ctx, 10, later)
	if err != nil {
		t.Fatalf("ListDueOutbox: %v", err)
	}
	if len(due) != 1 || due[0].Kind != "project.assigned" {
		t.Fatalf("due = %+v, want one project.assigned row", due)
	}
}

func TestSaveTransitionUnknownProject(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	record := testProjectRecord(at)
	record.ID = 999

	err := store.SaveTransition(context.Background(), record, nil, nil)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("SaveTransition error = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestListProjectsFilters(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	first := testProjectRecord(at)
	first.Status = "in_progress"
	first.EditorUserID = "editor-1"
	if _, err := store.CreateProject(ctx, first); err != nil {
		t.Fatalf("create first: %v", err)
	}

	second := testProjectRecord(at.Add(time.Minute))
	second.Name = "Podcast intro"
	if _, err := store.CreateProject(ctx, second); err != nil {
		t.Fatalf("create second: %v", err)
	}

	archived := testProjectRecord(at)
	archived.Name = "Old promo"
	archived.Status = "approved"
	archivedAt := at.Add(time.Hour)
	archived.ArchivedAt = &archivedAt
	if _, err := store.CreateProject(ctx, archived); err != nil {
		t.Fatalf("create archived: %v", err)
	}

	active, err := store.ListProjects(ctx, storage.ProjectFilter{})
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("active projects = %d, want 2 (archived excluded)", len(active))
	}

	byStatus, err := store.ListProjects(ctx, storage.ProjectFilter{Status: "in_progress"})
	if err != nil {
		t.Fatalf("ListProjects by status: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].Name != "Launch teaser" {
		t.Fatalf("byStatus = %+v, want the in_progress project", byStatus)
	}

	byEditor, err := store.ListProjects(ctx, storage.ProjectFilter{EditorUserID: "editor-1"})
	if err != nil {
		t.Fatalf("ListProjects by editor: %v", err)
	}
	if len(byEditor) != 1 {
		t.Fatalf("byEditor = %d rows, want 1", len(byEditor))
	}

	all, err := store.ListProjects(ctx, storage.ProjectFilter{IncludeArchived: true})
	if err != nil {
		t.Fatalf("ListProjects include archived: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all projects = %d, want 3", len(all))
	}
}

func TestCountActiveProjectsByEditor(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for _, status := range []string{"assigned", "in_progress", "approved", "unassigned"} {
		record := testProjectRecord(at)
		record.Status = status
		if status != "unassigned" {
			record.EditorUserID = "editor-1"
		}
		if _, err := store.CreateProject(ctx, record); err != nil {
			t.Fatalf("create %s: %v", status, err)
		}
	}

	count, err := store.CountActiveProjectsByEditor(ctx, "editor-1")
	if err != nil {
		t.Fatalf("CountActiveProjectsByEditor: %v", err)
	}
	if count != 2 {
		t.Fatalf("active count = %d, want 2 (approved excluded)", count)
	}
}

func TestArchiveTerminalBefore(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	stale := testProjectRecord(at)
	stale.Status = "approved"
	if _, err := store.CreateProject(ctx, stale); err != nil {
		t.Fatalf("create stale: %v", err)
	}

	fresh := testProjectRecord(at.Add(48 * time.Hour))
	fresh.Name = "Fresh approved"
	fresh.Status = "approved"
	if _, err := store.CreateProject(ctx, fresh); err != nil {
		t.Fatalf("create fresh: %v", err)
	}

	inFlight := testProjectRecord(at)
	inFlight.Name = "Still editing"
	inFlight.Status = "in_progress"
	if _, err := store.CreateProject(ctx, inFlight); err != nil {
		t.Fatalf("create in flight: %v", err)
	}

	cutoff := at.Add(24 * time.Hour)
	archived, err := store.ArchiveTerminalBefore(ctx, cutoff, cutoff.Add(time.Hour))
	if err != nil {
		t.Fatalf("ArchiveTerminalBefore: %v", err)
	}
	if archived != 1 {
		t.Fatalf("archived = %d, want 1", archived)
	}

	active, err := store.ListProjects(ctx, storage.ProjectFilter{})
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("active = %d, want 2 after sweep", len(active))
	}
}

func TestEditorRoundTripAndAvailability(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	record := storage.EditorRecord{
		UserID:                "editor-1",
		Name:                  "Sam",
		Position:              "Senior Editor",
		GCash:                 "09170000000",
		Email:                 "sam@example.com",
		AvailabilityStatus:    storage.AvailabilityAvailable,
		MaxConcurrentProjects: 3,
		CreatedAt:             at,
		UpdatedAt:             at,
	}
	if err := store.PutEditor(ctx, record); err != nil {
		t.Fatalf("PutEditor: %v", err)
	}

	loaded, err := store.GetEditor(ctx, "editor-1")
	if err != nil {
		t.Fatalf("GetEditor: %v", err)
	}
	if loaded.Name != "Sam" || loaded.MaxConcurrentProjects != 3 {
		t.Fatalf("loaded = %+v, want stored roster entry", loaded)
	}

	if err := store.SetEditorAvailability(ctx, "editor-1", storage.AvailabilityBusy, at.Add(time.Hour)); err != nil {
		t.Fatalf("SetEditorAvailability: %v", err)
	}
	loaded, err = store.GetEditor(ctx, "editor-1")
	if err != nil {
		t.Fatalf("GetEditor after update: %v", err)
	}
	if loaded.AvailabilityStatus != storage.AvailabilityBusy {
		t.Fatalf("AvailabilityStatus = %q, want busy", loaded.AvailabilityStatus)
	}

	if err := store.SetEditorAvailability(ctx, "ghost", storage.AvailabilityBusy, at); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("unknown editor error = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestOutboxLifecycle(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	record := storage.OutboxRecord{
		ID:            "outbox-1",
		ProjectID:     1,
		Kind:          "project.submitted",
		RecipientKind: storage.RecipientKindRoleMention,
		RecipientID:   "role-managers",
		ChannelID:     "thread-1",
		NextAttemptAt: at,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
	if err := store.EnqueueOutbox(ctx, []storage.OutboxRecord{record}); err != nil {
		t.Fatalf("EnqueueOutbox: %v", err)
	}

	due, err := store.ListDueOutbox(ctx, 10, at)
	if err != nil {
		t.Fatalf("ListDueOutbox: %v", err)
	}
	if len(due) != 1 || due[0].Status != storage.OutboxStatusPending {
		t.Fatalf("due = %+v, want one pending row", due)
	}

	retryAt := at.Add(time.Minute)
	failedAt := at.Add(time.Second)
	if err := store.MarkOutboxRetry(ctx, "outbox-1", 1, retryAt, "gateway timeout", failedAt); err != nil {
		t.Fatalf("MarkOutboxRetry: %v", err)
	}
	due, err = store.ListDueOutbox(ctx, 10, at)
	if err != nil {
		t.Fatalf("ListDueOutbox after retry: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("due before retry time = %d rows, want 0", len(due))
	}
	due, err = store.ListDueOutbox(ctx, 10, retryAt)
	if err != nil {
		t.Fatalf("ListDueOutbox at retry time: %v", err)
	}
	if len(due) != 1 || due[0].AttemptCount != 1 || due[0].LastError != "gateway timeout" {
		t.Fatalf("due = %+v, want retried row", due)
	}
	if !due[0].UpdatedAt.Equal(failedAt) {
		t.Fatalf("UpdatedAt = %v, want caller-supplied %v", due[0].UpdatedAt, failedAt)
	}

	if err := store.MarkOutboxDelivered(ctx, "outbox-1", retryAt.Add(time.Second)); err != nil {
		t.Fatalf("MarkOutboxDelivered: %v", err)
	}
	due, err = store.ListDueOutbox(ctx, 10, retryAt.Add(time.Hour))
	if err != nil {
		t.Fatalf("ListDueOutbox after delivery: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("delivered row still due: %+v", due)
	}
}

func TestOutboxDedupeKeySkipsDuplicates(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	first := storage.OutboxRecord{
		ID:            "outbox-1",
		Kind:          "project.deadline_reminder",
		RecipientKind: storage.RecipientKindUserDM,
		RecipientID:   "editor-1",
		DedupeKey:     "reminder:42:2026-03-01",
		NextAttemptAt: at,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
	second := first
	second.ID = "outbox-2"

	if err := store.EnqueueOutbox(ctx, []storage.OutboxRecord{first}); err != nil {
		t.Fatalf("enqueue first: %v", err)
	}
	if err := store.EnqueueOutbox(ctx, []storage.OutboxRecord{second}); err != nil {
		t.Fatalf("enqueue duplicate: %v", err)
	}

	due, err := store.ListDueOutbox(ctx, 10, at)
	if err != nil {
		t.Fatalf("ListDueOutbox: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("due = %d rows, want 1 (dedupe key suppressed the second)", len(due))
	}
}

func TestMarkOutboxDead(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	record := storage.OutboxRecord{
		ID:            "outbox-1",
		Kind:          "project.approved",
		RecipientKind: storage.RecipientKindUserDM,
		RecipientID:   "editor-1",
		NextAttemptAt: at,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
	if err := store.EnqueueOutbox(ctx, []storage.OutboxRecord{record}); err != nil {
		t.Fatalf("EnqueueOutbox: %v", err)
	}
	if err := store.MarkOutboxDead(ctx, "outbox-1", "retries exhausted", at.Add(time.Hour)); err != nil {
		t.Fatalf("MarkOutboxDead: %v", err)
	}

	due, err := store.ListDueOutbox(ctx, 10, at.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("ListDueOutbox: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("dead row still due: %+v", due)
	}
}
