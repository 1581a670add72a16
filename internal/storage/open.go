package storage

import (
	"context"
	"fmt"
	"strings"

	logx "multiposter/pkg/logx"
)

// Store is the persistence API used by the dispatcher's audit observer and
// the HTTP API.
type Store interface {
	AppendPublish(ctx context.Context, r PublishRecord) error
	// RecentPublishes returns up to n records, newest first.
	RecentPublishes(ctx context.Context, n int) ([]PublishRecord, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Keep <= 0 {
		cfg.Keep = DefaultKeep
	}
	log = log.With(logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}
