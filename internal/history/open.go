package history

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "tickwork/pkg/logx"
)

// Store is the persistence API used by the recorder and the admin server.
type Store interface {
	Append(ctx context.Context, r Record) error
	// List returns up to limit records of task, newest first. An empty task
	// lists every task.
	List(ctx context.Context, task string, limit int) ([]Record, error)
	// Prune deletes records older than before and reports how many went.
	Prune(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if history is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown history driver: " + driver)
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}
