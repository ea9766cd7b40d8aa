package storage

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	logx "idlesched/pkg/logx"
)

// Store is the run journal.
type Store interface {
	// AppendRun stores r, assigning an ID when it has none.
	AppendRun(ctx context.Context, r RunRecord) error
	// RecentRuns returns up to limit records, newest first. An empty handler
	// matches every handler.
	RecentRuns(ctx context.Context, handler string, limit int) ([]RunRecord, error)
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
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

func withID(r RunRecord) RunRecord {
	if strings.TrimSpace(r.ID) == "" {
		r.ID = uuid.NewString()
	}
	return r
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return limit
}
