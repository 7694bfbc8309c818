// Package server wires the tracker process: SQLite storage, the lifecycle
// service, the HTTP API, the delivery worker and the recurring jobs.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/cutdesk/cutdesk/internal/platform/timeouts"
	trackerhttp "github.com/cutdesk/cutdesk/internal/services/tracker/api/http"
	"github.com/cutdesk/cutdesk/internal/services/tracker/delivery"
	"github.com/cutdesk/cutdesk/internal/services/tracker/domain"
	"github.com/cutdesk/cutdesk/internal/services/tracker/schedule"
	"github.com/cutdesk/cutdesk/internal/services/tracker/storage/sqlite"
)

// Config defines the inputs for the tracker process.
type Config struct {
	HTTPAddr string
	DBPath   string

	ManagerRoleID  string
	ManagerUserIDs []string
	NotifyUserID   string

	ArchiveAfterDays     int
	DeliveryPollInterval time.Duration
	DeliveryMaxAttempts  int

	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration

	// Deliverer overrides the log-only deliverer when a chat gateway client
	// is available.
	Deliverer delivery.Deliverer
}

// Server hosts the tracker HTTP process and its background workers.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	store           *sqlite.Store
	worker          *delivery.Worker
	jobs            *schedule.Jobs
}

// NewServer builds a configured tracker server.
func NewServer(config Config) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	dbPath := strings.TrimSpace(config.DBPath)
	if dbPath == "" {
		return nil, errors.New("database path is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}
	if config.Deliverer == nil {
		config.Deliverer = delivery.LogDeliverer{}
	}

	store, err := sqlite.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open tracker store: %w", err)
	}

	service, err := domain.NewService(domain.Config{
		Projects:       store,
		Editors:        store,
		ManagerRoleID:  config.ManagerRoleID,
		ManagerUserIDs: config.ManagerUserIDs,
		NotifyUserID:   config.NotifyUserID,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init tracker service: %w", err)
	}

	handler, err := trackerhttp.NewHandler(service)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init tracker routes: %w", err)
	}

	worker, err := delivery.NewWorker(delivery.Config{
		Outbox:       store,
		Deliverer:    config.Deliverer,
		Localizer:    message.NewPrinter(language.English),
		NotifyUserID: config.NotifyUserID,
		PollInterval: config.DeliveryPollInterval,
		MaxAttempts:  config.DeliveryMaxAttempts,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init delivery worker: %w", err)
	}

	jobs, err := schedule.NewJobs(schedule.Config{
		Projects:         store,
		Outbox:           store,
		ArchiveAfterDays: config.ArchiveAfterDays,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("init scheduled jobs: %w", err)
	}

	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer: &http.Server{
			Addr:              httpAddr,
			Handler:           handler,
			ReadHeaderTimeout: config.ReadHeaderTimeout,
		},
		store:  store,
		worker: worker,
		jobs:   jobs,
	}, nil
}

// Run creates and serves a tracker server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServer(config)
	if err != nil {
		return fmt.Errorf("init tracker server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve tracker: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server and background workers until the
// context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("tracker server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := s.worker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("delivery worker stopped: %v", err)
		}
	}()

	if err := s.jobs.Start(workerCtx); err != nil {
		stopWorker()
		<-workerDone
		return fmt.Errorf("start scheduled jobs: %w", err)
	}

	serveErr := make(chan error, 1)
	log.Printf("tracker server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	stopBackground := func() {
		stopWorker()
		<-workerDone
		s.jobs.Stop()
	}

	select {
	case <-ctx.Done():
		stopBackground()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		stopBackground()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases server resources.
func (s *Server) Close() {
	if s == nil || s.store == nil {
		return
	}
	if err := s.store.Close(); err != nil {
		log.Printf("close tracker store: %v", err)
	}
}
