package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "tickwork/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history migrate: %w", err)
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Append(ctx context.Context, r Record) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(at_ms, run_id, task, kind, mode, scheduled_at, started_at, took_ms, reason, missed, inline, err)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.At.UnixMilli(), nullStr(r.RunID), r.Task, r.Kind, nullStr(r.Mode),
		nullTime(r.ScheduledAt), nullTime(r.StartedAt), r.TookMS, nullStr(r.Reason),
		r.Missed, boolInt(r.Inline), nullStr(r.Error),
	)
	return err
}

func (s *sqliteStore) List(ctx context.Context, task string, limit int) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	limit = normalizeLimit(limit)

	const cols = `at_ms, run_id, task, kind, mode, scheduled_at, started_at, took_ms, reason, missed, inline, err`
	var (
		rows *sql.Rows
		err  error
	)
	if task == "" {
		rows, err = s.db.QueryContext(ctx, `SELECT `+cols+` FROM runs ORDER BY id DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `SELECT `+cols+` FROM runs WHERE task = ? ORDER BY id DESC LIMIT ?`, task, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0, limit)
	for rows.Next() {
		var r Record
		var atMS int64
		var inline int
		var runID, mode, sched, started, rsn, msg sql.NullString
		if err := rows.Scan(&atMS, &runID, &r.Task, &r.Kind, &mode, &sched, &started, &r.TookMS, &rsn, &r.Missed, &inline, &msg); err != nil {
			return nil, err
		}
		r.At = time.UnixMilli(atMS)
		r.RunID = runID.String
		r.Mode = mode.String
		r.ScheduledAt = parseTime(sched)
		r.StartedAt = parseTime(started)
		r.Reason = rsn.String
		r.Inline = inline != 0
		r.Error = msg.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE at_ms < ?`, before.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func parseTime(v sql.NullString) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
