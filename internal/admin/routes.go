package admin

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	rtsup "tickwork/internal/runtime/supervisor"
	"tickwork/internal/task/scheduler"
	logx "tickwork/pkg/logx"
)

const maxHistoryLimit = 1000

// Handler builds the router. It is safe to call before Start, e.g. from tests.
func (s *Service) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(s.withAuth)

	r.Get("/healthz", s.health)
	r.Get("/tasks", s.listTasks)
	r.Get("/tasks/{name}", s.getTask)
	r.Delete("/tasks/{name}", s.cancelTask)
	r.Get("/tasks/{name}/history", s.taskHistory)

	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.deps.Metrics, promhttp.HandlerOpts{}))
	}
	if s.cfg.Pprof {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

type healthBody struct {
	State      string               `json:"state"`
	Goroutines *rtsup.Counters `json:"goroutines,omitempty"`
}

func (s *Service) health(w http.ResponseWriter, r *http.Request) {
	st := s.deps.Scheduler.State()
	code := http.StatusOK
	if st != scheduler.StateRunning {
		code = http.StatusServiceUnavailable
	}
	body := healthBody{State: st.String()}
	if s.deps.Runtime != nil {
		c := s.deps.Runtime()
		body.Goroutines = &c
	}
	writeJSON(w, code, body)
}

func (s *Service) listTasks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Scheduler.Snapshot())
}

func (s *Service) getTask(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	st, ok := s.deps.Scheduler.Status(name)
	if !ok {
		writeError(w, http.StatusNotFound, "task not found: "+name)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Service) cancelTask(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !s.deps.Scheduler.Cancel(name) {
		writeError(w, http.StatusNotFound, "task not found: "+name)
		return
	}
	s.log.Info("task cancelled via admin", logx.String("task", name), logx.String("remote", r.RemoteAddr))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) taskHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusServiceUnavailable, "history disabled")
		return
	}
	limit := 50
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	recs, err := s.deps.History.List(r.Context(), chi.URLParam(r, "name"), limit)
	if err != nil {
		s.log.Warn("history list failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Service) withAuth(next http.Handler) http.Handler {
	tok := strings.TrimSpace(s.cfg.Token)
	if tok == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Header only: a query token ends up in access logs and proxies.
		const p = "Bearer "
		ah := r.Header.Get("Authorization")
		if strings.HasPrefix(ah, p) {
			got := strings.TrimSpace(strings.TrimPrefix(ah, p))
			if subtle.ConstantTimeCompare([]byte(got), []byte(tok)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
		}
		unauthorized(w)
	})
}

func (s *Service) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("dur", time.Since(start)),
		)
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, "unauthorized")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
