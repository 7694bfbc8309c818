// Package delivery drains the notification outbox and hands rendered
// messages to the chat gateway. Delivery failures never affect committed
// project transitions.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	apperrors "github.com/cutdesk/cutdesk/internal/platform/errors"
	"github.com/cutdesk/cutdesk/internal/platform/id"
	"github.com/cutdesk/cutdesk/internal/platform/timeouts"
	"github.com/cutdesk/cutdesk/internal/services/tracker/dispatch"
	"github.com/cutdesk/cutdesk/internal/services/tracker/render"
	"github.com/cutdesk/cutdesk/internal/services/tracker/storage"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultBatchSize    = 25
	defaultMaxAttempts  = 5
	baseRetryDelay      = 30 * time.Second
	maxRetryDelay       = time.Hour
)

// Notification is one rendered message ready for the gateway.
type Notification struct {
	ID            string
	Kind          string
	RecipientKind storage.RecipientKind
	RecipientID   string
	ChannelID     string
	Title         string
	Body          string
}

// Deliverer sends one rendered notification to the chat gateway.
type Deliverer interface {
	Deliver(ctx context.Context, notification Notification) error
}

// LogDeliverer writes notifications to the process log. It stands in when no
// gateway is wired, which keeps the worker loop exercisable everywhere.
type LogDeliverer struct{}

// Deliver logs one notification.
func (LogDeliverer) Deliver(_ context.Context, notification Notification) error {
	log.Printf("deliver %s to %s %s: %s", notification.Kind, notification.RecipientKind, notification.RecipientID, notification.Title)
	return nil
}

// Config wires the delivery worker dependencies.
type Config struct {
	Outbox    storage.OutboxStore
	Deliverer Deliverer
	Localizer render.Localizer
	// NotifyUserID receives a fallback alert when a notification goes dead.
	NotifyUserID string
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	Clock        func() time.Time
	NewID        func() (string, error)
}

// Worker polls the outbox and delivers due notifications.
type Worker struct {
	outbox       storage.OutboxStore
	deliverer    Deliverer
	localizer    render.Localizer
	notifyUserID string
	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	clock        func() time.Time
	newID        func() (string, error)
}

// NewWorker builds a delivery worker from config.
func NewWorker(cfg Config) (*Worker, error) {
	if cfg.Outbox == nil {
		return nil, fmt.Errorf("outbox store is required")
	}
	if cfg.Deliverer == nil {
		return nil, fmt.Errorf("deliverer is required")
	}
	worker := &Worker{
		outbox:       cfg.Outbox,
		deliverer:    cfg.Deliverer,
		localizer:    cfg.Localizer,
		notifyUserID: cfg.NotifyUserID,
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
		maxAttempts:  cfg.MaxAttempts,
		clock:        cfg.Clock,
	}
	if worker.pollInterval <= 0 {
		worker.pollInterval = defaultPollInterval
	}
	if worker.batchSize <= 0 {
		worker.batchSize = defaultBatchSize
	}
	if worker.maxAttempts <= 0 {
		worker.maxAttempts = defaultMaxAttempts
	}
	if worker.clock == nil {
		worker.clock = time.Now
	}
	worker.newID = cfg.NewID
	if worker.newID == nil {
		worker.newID = id.NewID
	}
	return worker, nil
}

// Run polls the outbox until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.ProcessOnce(ctx); err != nil {
				log.Printf("delivery batch: %v", err)
			}
		}
	}
}

// ProcessOnce drains one batch of due notifications.
func (w *Worker) ProcessOnce(ctx context.Context) error {
	now := w.clock().UTC()
	due, err := w.outbox.ListDueOutbox(ctx, w.batchSize, now)
	if err != nil {
		return fmt.Errorf("list due outbox: %w", err)
	}
	for _, record := range due {
		w.processRecord(ctx, record)
	}
	return nil
}

func (w *Worker) processRecord(ctx context.Context, record storage.OutboxRecord) {
	rendered := render.Render(w.localizer, render.Input{
		Kind:        record.Kind,
		PayloadJSON: record.PayloadJSON,
	})

	deliverCtx, cancel := context.WithTimeout(ctx, timeouts.Delivery)
	err := w.deliverer.Deliver(deliverCtx, Notification{
		ID:            record.ID,
		Kind:          record.Kind,
		RecipientKind: record.RecipientKind,
		RecipientID:   record.RecipientID,
		ChannelID:     record.ChannelID,
		Title:         rendered.Title,
		Body:          rendered.BodyText,
	})
	cancel()

	now := w.clock().UTC()
	if err == nil {
		if markErr := w.outbox.MarkOutboxDelivered(ctx, record.ID, now); markErr != nil {
			log.Printf("mark outbox delivered %s: %v", record.ID, markErr)
		}
		return
	}

	attempt := record.AttemptCount + 1
	failure := apperrors.Wrap(err, apperrors.CodeDeliveryFailure,
		fmt.Sprintf("deliver %s: %v", record.Kind, err))
	if attempt >= w.maxAttempts {
		if markErr := w.outbox.MarkOutboxDead(ctx, record.ID, failure.Error(), now); markErr != nil {
			log.Printf("mark outbox dead %s: %v", record.ID, markErr)
			return
		}
		log.Printf("notification %s exhausted %d delivery attempts: %v", record.ID, attempt, failure)
		w.raiseDeadLetterAlert(ctx, record, now)
		return
	}

	nextAttemptAt := now.Add(retryDelay(attempt))
	if markErr := w.outbox.MarkOutboxRetry(ctx, record.ID, attempt, nextAttemptAt, failure.Error(), now); markErr != nil {
		log.Printf("mark outbox retry %s: %v", record.ID, markErr)
	}
}

// raiseDeadLetterAlert queues a fallback DM so an operator hears about a
// notification nobody received. Dead alerts themselves never re-alert.
func (w *Worker) raiseDeadLetterAlert(ctx context.Context, record storage.OutboxRecord, now time.Time) {
	if w.notifyUserID == "" || record.Kind == dispatch.KindDeliveryDead {
		return
	}

	var payload dispatch.Payload
	_ = json.Unmarshal([]byte(record.PayloadJSON), &payload)

	alert := dispatch.BuildDeadLetterAlert(w.notifyUserID, payload)
	alertID, err := w.newID()
	if err != nil {
		log.Printf("generate dead letter id: %v", err)
		return
	}
	payloadJSON, err := alert.Payload.JSON()
	if err != nil {
		log.Printf("encode dead letter payload: %v", err)
		return
	}
	if err := w.outbox.EnqueueOutbox(ctx, []storage.OutboxRecord{{
		ID:            alertID,
		ProjectID:     record.ProjectID,
		Kind:          alert.Kind,
		RecipientKind: alert.RecipientKind,
		RecipientID:   alert.RecipientID,
		PayloadJSON:   payloadJSON,
		DedupeKey:     "dead:" + record.ID,
		Status:        storage.OutboxStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}}); err != nil {
		log.Printf("enqueue dead letter alert for %s: %v", record.ID, err)
	}
}

func retryDelay(attempt int) time.Duration {
	delay := baseRetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}
