package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tickwork/internal/history"
	rtsup "tickwork/internal/runtime/supervisor"
	"tickwork/internal/task/scheduler"
	logx "tickwork/pkg/logx"
)

type fakeScheduler struct {
	mu    sync.Mutex
	state scheduler.State
	tasks map[string]scheduler.TaskStatus
}

func (f *fakeScheduler) State() scheduler.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeScheduler) Snapshot() scheduler.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := scheduler.Snapshot{State: f.state.String()}
	for _, t := range f.tasks {
		snap.Tasks = append(snap.Tasks, t)
	}
	return snap
}

func (f *fakeScheduler) Status(name string) (scheduler.TaskStatus, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[name]
	return t, ok
}

func (f *fakeScheduler) Cancel(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[name]; !ok {
		return false
	}
	delete(f.tasks, name)
	return true
}

func newFake() *fakeScheduler {
	return &fakeScheduler{
		state: scheduler.StateRunning,
		tasks: map[string]scheduler.TaskStatus{
			"fixed-rate": {Name: "fixed-rate", Policy: "rate:5s", Mode: "serialized", Runs: 3},
		},
	}
}

func do(t *testing.T, h http.Handler, method, target string, hdr map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	body, _ := io.ReadAll(rec.Body)
	return rec.Code, string(body)
}

func TestHealth(t *testing.T) {
	fs := newFake()
	h := New(Config{}, Deps{Scheduler: fs}, logx.Nop()).Handler()

	code, body := do(t, h, http.MethodGet, "/healthz", nil)
	if code != http.StatusOK || !strings.Contains(body, "running") {
		t.Fatalf("healthz: %d %s", code, body)
	}

	if strings.Contains(body, "goroutines") {
		t.Fatalf("goroutine counters without a runtime: %s", body)
	}

	fs.mu.Lock()
	fs.state = scheduler.StateStopping
	fs.mu.Unlock()
	if code, _ := do(t, h, http.MethodGet, "/healthz", nil); code != http.StatusServiceUnavailable {
		t.Fatalf("healthz while stopping: %d", code)
	}
}

func TestHealthReportsGoroutines(t *testing.T) {
	sup := rtsup.New(context.Background())
	release := make(chan struct{})
	sup.Go0("idle", func(context.Context) { <-release })
	defer func() {
		close(release)
		sup.Cancel()
		<-sup.Done()
	}()

	h := New(Config{}, Deps{Scheduler: newFake(), Runtime: sup.Counters}, logx.Nop()).Handler()
	code, body := do(t, h, http.MethodGet, "/healthz", nil)
	if code != http.StatusOK {
		t.Fatalf("healthz: %d %s", code, body)
	}
	var got healthBody
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Goroutines == nil || got.Goroutines.Started != 1 || got.Goroutines.Active != 1 {
		t.Fatalf("health=%s", body)
	}
}

func TestTasksRoutes(t *testing.T) {
	h := New(Config{}, Deps{Scheduler: newFake()}, logx.Nop()).Handler()

	code, body := do(t, h, http.MethodGet, "/tasks", nil)
	if code != http.StatusOK {
		t.Fatalf("list: %d", code)
	}
	var snap scheduler.Snapshot
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snap.Tasks) != 1 || snap.Tasks[0].Name != "fixed-rate" {
		t.Fatalf("snapshot: %+v", snap)
	}

	code, body = do(t, h, http.MethodGet, "/tasks/fixed-rate", nil)
	if code != http.StatusOK || !strings.Contains(body, `"policy": "rate:5s"`) {
		t.Fatalf("get: %d %s", code, body)
	}
	if code, _ := do(t, h, http.MethodGet, "/tasks/nope", nil); code != http.StatusNotFound {
		t.Fatalf("get unknown: %d", code)
	}

	if code, _ := do(t, h, http.MethodDelete, "/tasks/fixed-rate", nil); code != http.StatusNoContent {
		t.Fatalf("cancel: %d", code)
	}
	if code, _ := do(t, h, http.MethodDelete, "/tasks/fixed-rate", nil); code != http.StatusNotFound {
		t.Fatalf("second cancel: %d", code)
	}
	if code, _ := do(t, h, http.MethodPost, "/tasks", nil); code != http.StatusMethodNotAllowed {
		t.Fatalf("post: %d", code)
	}
}

func TestHistoryRoute(t *testing.T) {
	fs := newFake()
	h := New(Config{}, Deps{Scheduler: fs}, logx.Nop()).Handler()
	if code, _ := do(t, h, http.MethodGet, "/tasks/fixed-rate/history", nil); code != http.StatusServiceUnavailable {
		t.Fatalf("disabled history: %d", code)
	}

	st, err := history.Open(history.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "runs.jsonl")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_ = st.Append(ctx, history.Record{Task: "fixed-rate", Kind: history.KindRan, RunID: string(rune('a' + i))})
	}

	h = New(Config{}, Deps{Scheduler: fs, History: st}, logx.Nop()).Handler()
	code, body := do(t, h, http.MethodGet, "/tasks/fixed-rate/history?limit=2", nil)
	if code != http.StatusOK {
		t.Fatalf("history: %d %s", code, body)
	}
	var recs []history.Record
	if err := json.Unmarshal([]byte(body), &recs); err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].RunID != "c" {
		t.Fatalf("records: %+v", recs)
	}

	for _, bad := range []string{"0", "-1", "abc", "5000"} {
		if code, _ := do(t, h, http.MethodGet, "/tasks/fixed-rate/history?limit="+bad, nil); code != http.StatusBadRequest {
			t.Fatalf("limit=%s: %d", bad, code)
		}
	}
}

func TestAuth(t *testing.T) {
	h := New(Config{Token: "s3cret"}, Deps{Scheduler: newFake()}, logx.Nop()).Handler()

	cases := []struct {
		name   string
		target string
		hdr    map[string]string
		want   int
	}{
		{"missing", "/tasks", nil, http.StatusUnauthorized},
		{"wrong bearer", "/tasks", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"bearer", "/tasks", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK},
		{"bearer padded", "/tasks", map[string]string{"Authorization": "Bearer  s3cret "}, http.StatusOK},
		{"prefix of token", "/tasks", map[string]string{"Authorization": "Bearer s3c"}, http.StatusUnauthorized},
		{"basic scheme", "/tasks", map[string]string{"Authorization": "Basic s3cret"}, http.StatusUnauthorized},
		{"query token ignored", "/tasks?token=s3cret", nil, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if code, _ := do(t, h, http.MethodGet, tc.target, tc.hdr); code != tc.want {
				t.Fatalf("got %d want %d", code, tc.want)
			}
		})
	}
}

func TestMetricsAndPprofRoutes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "tickwork_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	h := New(Config{Pprof: true}, Deps{Scheduler: newFake(), Metrics: reg}, logx.Nop()).Handler()
	code, body := do(t, h, http.MethodGet, "/metrics", nil)
	if code != http.StatusOK || !strings.Contains(body, "tickwork_test_total 1") {
		t.Fatalf("metrics: %d %s", code, body)
	}
	if code, _ := do(t, h, http.MethodGet, "/debug/pprof/", nil); code != http.StatusOK {
		t.Fatalf("pprof index: %d", code)
	}

	h = New(Config{}, Deps{Scheduler: newFake()}, logx.Nop()).Handler()
	if code, _ := do(t, h, http.MethodGet, "/metrics", nil); code != http.StatusNotFound {
		t.Fatalf("metrics without registry: %d", code)
	}
	if code, _ := do(t, h, http.MethodGet, "/debug/pprof/", nil); code != http.StatusNotFound {
		t.Fatalf("pprof disabled: %d", code)
	}
}

func TestStartRefusesInsecureBind(t *testing.T) {
	s := New(Config{Addr: "0.0.0.0:0"}, Deps{Scheduler: newFake()}, logx.Nop())
	if err := s.Start(context.Background()); !errors.Is(err, ErrInsecureBind) {
		t.Fatalf("err=%v want ErrInsecureBind", err)
	}
}

func TestStartStop(t *testing.T) {
	s := New(Config{Addr: "127.0.0.1:0"}, Deps{Scheduler: newFake()}, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}

	var addr string
	deadline := time.Now().Add(2 * time.Second)
	for addr == "" {
		if time.Now().After(deadline) {
			t.Fatalf("server never bound")
		}
		time.Sleep(5 * time.Millisecond)
		addr = s.Addr()
	}

	resp, err := http.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if s.Addr() != "" {
		t.Fatalf("addr still set after stop")
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:8089": true,
		"localhost:1":    true,
		"[::1]:80":       true,
		":8089":          false,
		"0.0.0.0:80":     false,
		"10.0.0.1:80":    false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Errorf("%s: got %v want %v", addr, got, want)
		}
	}
}
