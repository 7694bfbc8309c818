// Package tracker parses tracker command flags and composes the service
// entrypoint.
package tracker

import (
	"context"
	"flag"
	"fmt"
	"strings"
	"time"

	entrypoint "github.com/cutdesk/cutdesk/internal/platform/cmd"
	server "github.com/cutdesk/cutdesk/internal/services/tracker/app"
)

// Config holds tracker command configuration.
type Config struct {
	HTTPAddr string `env:"CUTDESK_TRACKER_HTTP_ADDR" envDefault:":8086"`
	DBPath   string `env:"CUTDESK_TRACKER_DB_PATH"   envDefault:"data/tracker.db"`

	ManagerRoleID  string `env:"CUTDESK_MANAGER_ROLE_ID"`
	ManagerUserIDs string `env:"CUTDESK_MANAGER_USER_IDS"`
	NotifyUserID   string `env:"CUTDESK_NOTIFY_USER_ID"`

	ArchiveAfterDays     int           `env:"CUTDESK_ARCHIVE_AFTER_DAYS"      envDefault:"30"`
	DeliveryPollInterval time.Duration `env:"CUTDESK_DELIVERY_POLL_INTERVAL"  envDefault:"5s"`
	DeliveryMaxAttempts  int           `env:"CUTDESK_DELIVERY_MAX_ATTEMPTS"   envDefault:"5"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "tracker HTTP listen address")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "tracker SQLite database path")
	fs.StringVar(&cfg.ManagerRoleID, "manager-role-id", cfg.ManagerRoleID, "role id empowered to review projects")
	fs.StringVar(&cfg.ManagerUserIDs, "manager-user-ids", cfg.ManagerUserIDs, "comma-separated manager user ids for DM fan-out")
	fs.StringVar(&cfg.NotifyUserID, "notify-user-id", cfg.NotifyUserID, "fallback user id for operational alerts")
	fs.IntVar(&cfg.ArchiveAfterDays, "archive-after-days", cfg.ArchiveAfterDays, "days before terminal projects are archived")
	fs.DurationVar(&cfg.DeliveryPollInterval, "delivery-poll-interval", cfg.DeliveryPollInterval, "outbox polling interval")
	fs.IntVar(&cfg.DeliveryMaxAttempts, "delivery-max-attempts", cfg.DeliveryMaxAttempts, "delivery attempts before a notification goes dead")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}

	if cfg.ArchiveAfterDays < 0 {
		return Config{}, fmt.Errorf("archive-after-days must be non-negative, got %d", cfg.ArchiveAfterDays)
	}
	return cfg, nil
}

// ManagerUserIDList splits the configured manager ids.
func (c Config) ManagerUserIDList() []string {
	parts := strings.Split(c.ManagerUserIDs, ",")
	ids := make([]string, 0, len(parts))
	for _, part := range parts {
		if id := strings.TrimSpace(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// Run builds the tracker app and serves it until the context ends.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceTracker, func(context.Context) error {
		if err := server.Run(ctx, server.Config{
			HTTPAddr:             cfg.HTTPAddr,
			DBPath:               cfg.DBPath,
			ManagerRoleID:        cfg.ManagerRoleID,
			ManagerUserIDs:       cfg.ManagerUserIDList(),
			NotifyUserID:         cfg.NotifyUserID,
			ArchiveAfterDays:     cfg.ArchiveAfterDays,
			DeliveryPollInterval: cfg.DeliveryPollInterval,
			DeliveryMaxAttempts:  cfg.DeliveryMaxAttempts,
		}); err != nil {
			return fmt.Errorf("serve tracker: %w", err)
		}
		return nil
	})
}
