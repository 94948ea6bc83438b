package history

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "tickwork/pkg/logx"
)

// fileStore appends one JSON object per line to a single file.
//
// List scans the whole file; Prune rewrites it through a temp file and rename.
// Fine for the small, local logs tickwork produces. Use sqlite for anything
// larger.
type fileStore struct {
	log  logx.Logger
	path string

	mu sync.Mutex
	f  *os.File
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("history.path is required for file driver")
	}
	if filepath.Ext(path) == "" {
		path += ".jsonl"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{log: log, path: path, f: f}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) Append(ctx context.Context, r Record) error {
	_ = ctx
	if r.At.IsZero() {
		r.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.f).Encode(r)
}

func (s *fileStore) List(ctx context.Context, task string, limit int) ([]Record, error) {
	limit = normalizeLimit(limit)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil, ErrClosed
	}

	// Keep the last limit matches in a ring, then emit newest first.
	ring := make([]Record, 0, limit)
	next := 0
	err := s.scanLocked(ctx, func(r Record) {
		if task != "" && r.Task != task {
			return
		}
		if len(ring) < limit {
			ring = append(ring, r)
			return
		}
		ring[next] = r
		next = (next + 1) % limit
	})
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(ring))
	for i := len(ring) - 1; i >= 0; i-- {
		out = append(out, ring[(next+i)%len(ring)])
	}
	return out, nil
}

func (s *fileStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return 0, ErrClosed
	}

	tmp := s.path + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	w := bufio.NewWriter(out)
	enc := json.NewEncoder(w)

	var dropped int64
	var encErr error
	err = s.scanLocked(ctx, func(r Record) {
		if encErr != nil {
			return
		}
		if r.At.Before(before) {
			dropped++
			return
		}
		encErr = enc.Encode(r)
	})
	if err == nil {
		err = encErr
	}
	if err == nil {
		err = w.Flush()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	if dropped == 0 {
		_ = os.Remove(tmp)
		return 0, nil
	}

	if err := s.f.Close(); err != nil {
		s.log.Debug("history close before rename failed", logx.Err(err))
	}
	s.f = nil
	if err := os.Rename(tmp, s.path); err != nil {
		return 0, s.reopenLocked(err)
	}
	return dropped, s.reopenLocked(nil)
}

func (s *fileStore) reopenLocked(prev error) error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return errors.Join(prev, err)
	}
	s.f = f
	return prev
}

// scanLocked decodes every line of the file. Lines that fail to decode are
// skipped so a torn final write does not poison the log.
func (s *fileStore) scanLocked(ctx context.Context, fn func(Record)) error {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for n := 0; sc.Scan(); n++ {
		if n%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.Task == "" {
			continue
		}
		fn(r)
	}
	return sc.Err()
}
