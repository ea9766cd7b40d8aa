package debugsrv

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	rtsup "idlesched/internal/runtime/supervisor"
	"idlesched/internal/storage"
	"idlesched/internal/task/scheduler"
	logx "idlesched/pkg/logx"
)

// RunLister reads the run journal.
type RunLister interface {
	RecentRuns(ctx context.Context, handler string, limit int) ([]storage.RunRecord, error)
}

// Sources are the read-only views the server exposes. Nil fields turn their
// routes into 404s.
type Sources struct {
	Timers      func() scheduler.Snapshot
	Runs        RunLister
	Supervisors func() map[string]rtsup.SupervisorSnapshot
	Metrics     http.Handler
	Idle        func() time.Duration
	// TouchIdle resets the manual idle tracker; nil for other idle sources.
	TouchIdle func()
}

const maxRunsLimit = 1000

// Handler returns the router for cfg without starting a listener.
func (s *Service) Handler(cfg Config) http.Handler { return s.router(cfg) }

func (s *Service) router(cfg Config) http.Handler {
	s.mu.Lock()
	src := s.src
	log := s.log
	s.mu.Unlock()

	r := chi.NewRouter()
	r.Use(authMiddleware(cfg.Token))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if src.Metrics != nil {
		r.Handle("/metrics", src.Metrics)
	}

	prefix := normalizePrefix(cfg.PprofPrefix)
	base := strings.TrimSuffix(prefix, "/")
	r.Get(base, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, prefix, http.StatusPermanentRedirect)
	})
	r.HandleFunc(base+"/cmdline", hpprof.Cmdline)
	r.HandleFunc(base+"/profile", hpprof.Profile)
	r.HandleFunc(base+"/symbol", hpprof.Symbol)
	r.HandleFunc(base+"/trace", hpprof.Trace)
	r.HandleFunc(prefix+"*", pprofIndexAt(prefix))

	r.Route("/api", func(r chi.Router) {
		if src.Timers != nil {
			r.Get("/timers", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, src.Timers())
			})
		}
		if src.Runs != nil {
			r.Get("/runs", handleRuns(src.Runs, log))
		}
		if src.Supervisors != nil {
			r.Get("/supervisors", func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusOK, src.Supervisors())
			})
		}
		if src.Idle != nil {
			r.Get("/idle", func(w http.ResponseWriter, _ *http.Request) {
				d := src.Idle()
				writeJSON(w, http.StatusOK, map[string]any{"idle": d.String(), "idle_seconds": d.Seconds()})
			})
		}
		if src.TouchIdle != nil {
			r.Post("/idle/touch", func(w http.ResponseWriter, _ *http.Request) {
				src.TouchIdle()
				w.WriteHeader(http.StatusNoContent)
			})
		}
	})
	return r
}

func handleRuns(runs RunLister, log logx.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := 0
		if v := strings.TrimSpace(q.Get("limit")); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = min(n, maxRunsLimit)
		}
		recs, err := runs.RecentRuns(r.Context(), strings.TrimSpace(q.Get("handler")), limit)
		if err != nil {
			log.Warn("read run journal failed", logx.Err(err))
			http.Error(w, "journal unavailable", http.StatusServiceUnavailable)
			return
		}
		if recs == nil {
			recs = []storage.RunRecord{}
		}
		writeJSON(w, http.StatusOK, recs)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// authMiddleware accepts either "Authorization: Bearer <token>" or ?token=<token>.
// An empty token disables auth.
func authMiddleware(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("token"); got != "" {
				if tokenMatches(got, tok) {
					next.ServeHTTP(w, r)
					return
				}
				unauthorized(w)
				return
			}
			const p = "Bearer "
			if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && tokenMatches(strings.TrimSpace(strings.TrimPrefix(ah, p)), tok) {
				next.ServeHTTP(w, r)
				return
			}
			unauthorized(w)
		})
	}
}

func tokenMatches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func normalizePrefix(prefix string) string {
	p := strings.TrimSpace(prefix)
	if p == "" {
		p = "/debug/pprof/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// pprof.Index assumes requests are rooted at /debug/pprof/, so custom
// prefixes are rewritten before delegating.
func pprofIndexAt(prefix string) http.HandlerFunc {
	canon := normalizePrefix(prefix)
	return func(w http.ResponseWriter, r *http.Request) {
		suffix := strings.TrimPrefix(r.URL.Path, canon)
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/debug/pprof/" + suffix
		hpprof.Index(w, r2)
	}
}
