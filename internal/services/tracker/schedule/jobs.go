// Package schedule runs the tracker's recurring jobs: deadline reminders and
// archival of stale terminal projects.
package schedule

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cutdesk/cutdesk/internal/platform/id"
	"github.com/cutdesk/cutdesk/internal/services/tracker/dispatch"
	"github.com/cutdesk/cutdesk/internal/services/tracker/storage"
)

const (
	reminderSpec = "@every 10m"
	archivalSpec = "@hourly"

	// reminderWindow is how far ahead of a deadline the reminder DM goes out.
	reminderWindow = 24 * time.Hour
)

// Config wires the scheduled jobs.
type Config struct {
	Projects storage.ProjectStore
	Outbox   storage.OutboxStore
	// ArchiveAfterDays controls the archival sweep; zero archives terminal
	// projects immediately on the next sweep.
	ArchiveAfterDays int
	Clock            func() time.Time
	NewID            func() (string, error)
}

// Jobs owns the cron scheduler for recurring tracker work.
type Jobs struct {
	projects         storage.ProjectStore
	outbox           storage.OutboxStore
	archiveAfterDays int
	clock            func() time.Time
	newID            func() (string, error)
	cron             *cron.Cron
}

// NewJobs builds the recurring job runner from config.
func NewJobs(cfg Config) (*Jobs, error) {
	if cfg.Projects == nil {
		return nil, fmt.Errorf("project store is required")
	}
	if cfg.Outbox == nil {
		return nil, fmt.Errorf("outbox store is required")
	}
	if cfg.ArchiveAfterDays < 0 {
		return nil, fmt.Errorf("archive-after days must be non-negative")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = id.NewID
	}
	return &Jobs{
		projects:         cfg.Projects,
		outbox:           cfg.Outbox,
		archiveAfterDays: cfg.ArchiveAfterDays,
		clock:            clock,
		newID:            newID,
	}, nil
}

// Start registers and starts the cron entries.
func (j *Jobs) Start(ctx context.Context) error {
	j.cron = cron.New()
	if _, err := j.cron.AddFunc(reminderSpec, func() {
		if err := j.RunReminders(ctx); err != nil {
			log.Printf("deadline reminders: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule reminders: %w", err)
	}
	if _, err := j.cron.AddFunc(archivalSpec, func() {
		if err := j.RunArchival(ctx); err != nil {
			log.Printf("archival sweep: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule archival: %w", err)
	}
	j.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for running jobs.
func (j *Jobs) Stop() {
	if j.cron == nil {
		return
	}
	<-j.cron.Stop().Done()
}

// RunReminders queues deadline reminder and overdue notifications. Dedupe
// keys keep each project to at most one reminder and one overdue notice per
// day even though the job runs every ten minutes.
func (j *Jobs) RunReminders(ctx context.Context) error {
	now := j.clock().UTC()
	candidates, err := j.projects.ListDeadlineCandidates(ctx, now)
	if err != nil {
		return fmt.Errorf("list deadline candidates: %w", err)
	}

	var queue []storage.OutboxRecord
	for _, record := range candidates {
		if record.Deadline == nil || record.EditorUserID == "" {
			continue
		}
		entity := record.ToEntity()
		deadline := record.Deadline.UTC()
		day := now.Format("2006-01-02")

		switch {
		case deadline.Before(now):
			for _, intent := range dispatch.BuildOverdueIntents(entity) {
				row, buildErr := j.outboxRecord(record.ID, intent, now, fmt.Sprintf("overdue:%d:%s:%s", record.ID, intent.RecipientKind, day))
				if buildErr != nil {
					return buildErr
				}
				queue = append(queue, row)
			}
		case deadline.Sub(now) <= reminderWindow:
			intent := dispatch.BuildDeadlineReminder(entity)
			row, buildErr := j.outboxRecord(record.ID, intent, now, fmt.Sprintf("reminder:%d:%s", record.ID, day))
			if buildErr != nil {
				return buildErr
			}
			queue = append(queue, row)
		}
	}

	if len(queue) == 0 {
		return nil
	}
	if err := j.outbox.EnqueueOutbox(ctx, queue); err != nil {
		return fmt.Errorf("enqueue reminders: %w", err)
	}
	return nil
}

// RunArchival stamps archived_at on terminal projects past the configured
// age. Archived projects drop out of active queries but are never deleted.
func (j *Jobs) RunArchival(ctx context.Context) error {
	now := j.clock().UTC()
	cutoff := now.Add(-time.Duration(j.archiveAfterDays) * 24 * time.Hour)
	archived, err := j.projects.ArchiveTerminalBefore(ctx, cutoff, now)
	if err != nil {
		return fmt.Errorf("archive terminal projects: %w", err)
	}
	if archived > 0 {
		log.Printf("archived %d terminal projects older than %d days", archived, j.archiveAfterDays)
	}
	return nil
}

func (j *Jobs) outboxRecord(projectID int64, intent dispatch.Intent, now time.Time, dedupeKey string) (storage.OutboxRecord, error) {
	outboxID, err := j.newID()
	if err != nil {
		return storage.OutboxRecord{}, fmt.Errorf("generate outbox id: %w", err)
	}
	payloadJSON, err := intent.Payload.JSON()
	if err != nil {
		return storage.OutboxRecord{}, err
	}
	return storage.OutboxRecord{
		ID:            outboxID,
		ProjectID:     projectID,
		Kind:          intent.Kind,
		RecipientKind: intent.RecipientKind,
		RecipientID:   intent.RecipientID,
		ChannelID:     intent.ChannelID,
		PayloadJSON:   payloadJSON,
		DedupeKey:     dedupeKey,
		Status:        storage.OutboxStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}
