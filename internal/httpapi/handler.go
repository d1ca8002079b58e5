// Package httpapi serves health, metrics and poll control over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pollkit/internal/poll"
	"pollkit/internal/probe"
	logx "pollkit/pkg/logx"
)

// PollView is one named poll as served by GET /polls.
type PollView struct {
	Name string        `json:"name"`
	URL  string        `json:"url"`
	Info poll.Info     `json:"info"`
	Last *probe.Result `json:"last,omitempty"`
}

// Controller is what the API reads and drives.
type Controller interface {
	Snapshot() poll.Snapshot
	Polls(ctx context.Context) []PollView
	Poll(ctx context.Context, name string) (PollView, bool)
	SetEnabled(name string, enabled bool) bool
	Remove(name string) bool
	StartPolling()
	StopPolling()
}

type handler struct {
	ctl Controller
	log logx.Logger
}

type routerOptions struct {
	profiler bool
}

type RouterOption func(*routerOptions)

// WithProfiler mounts net/http/pprof under /debug. The routes expose
// process internals; keep the listener on localhost.
func WithProfiler() RouterOption { return func(o *routerOptions) { o.profiler = true } }

// NewRouter wires all routes. gatherer may be nil to omit /metrics.
func NewRouter(ctl Controller, gatherer prometheus.Gatherer, log logx.Logger, opts ...RouterOption) *chi.Mux {
	if log.IsZero() {
		log = logx.Nop()
	}
	var o routerOptions
	for _, opt := range opts {
		opt(&o)
	}
	h := &handler{ctl: ctl, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/healthz", h.health)
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/debug/snapshot", h.snapshot)
	if o.profiler {
		r.Mount("/debug", middleware.Profiler())
	}

	r.Get("/polls", h.list)
	r.Get("/polls/{name}", h.get)
	r.Post("/polls/{name}/enable", h.enable(true))
	r.Post("/polls/{name}/disable", h.enable(false))
	r.Delete("/polls/{name}", h.remove)

	r.Post("/polling/start", h.start)
	r.Post("/polling/stop", h.stop)
	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	s := h.ctl.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"polling": s.Polling,
		"polls":   len(s.Polls),
	})
}

func (h *handler) snapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.Snapshot())
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"polls": h.ctl.Polls(r.Context())})
}

func (h *handler) get(w http.ResponseWriter, r *http.Request) {
	v, ok := h.ctl.Poll(r.Context(), chi.URLParam(r, "name"))
	if !ok {
		writeError(w, http.StatusNotFound, "poll not found")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *handler) enable(on bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if !h.ctl.SetEnabled(name, on) {
			writeError(w, http.StatusNotFound, "poll not found")
			return
		}
		h.log.Info("poll toggled via api", logx.String("poll", name), logx.Bool("enabled", on))
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *handler) remove(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !h.ctl.Remove(name) {
		writeError(w, http.StatusNotFound, "poll not found")
		return
	}
	h.log.Info("poll removed via api", logx.String("poll", name))
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) start(w http.ResponseWriter, r *http.Request) {
	h.ctl.StartPolling()
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) stop(w http.ResponseWriter, r *http.Request) {
	h.ctl.StopPolling()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", ww.Status()),
				logx.Duration("took", time.Since(start)),
				logx.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
