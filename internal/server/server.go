// Package server exposes find-with-include reads over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"relq/internal/include"
	"relq/internal/loader"
	"relq/internal/logging"
	"relq/internal/middleware"
	"relq/internal/observability"
	"relq/internal/schema"
	"relq/internal/store"
)

const maxBodyBytes = 1 << 20

// Pinger reports database reachability for health checks.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Options configures the HTTP handler.
type Options struct {
	Source             include.Source
	Pinger             Pinger
	Logger             *logging.Logger
	Metrics            *observability.LoaderMetrics
	MetricsHandler     http.Handler // serves /metrics when set
	DefaultLimit       int
	MaxLimit           int
	MaxIncludeDepth    int
	HealthCheckTimeout time.Duration
	LoaderOptions      []loader.Option
}

type handler struct {
	opts   Options
	driver *include.Driver
}

// New returns the router serving /query, /entities, /healthz and optionally /metrics.
func New(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = logging.FromContext(context.Background())
	}
	if opts.HealthCheckTimeout <= 0 {
		opts.HealthCheckTimeout = 2 * time.Second
	}
	h := &handler{
		opts:   opts,
		driver: include.NewDriver(opts.Source, opts.MaxIncludeDepth, opts.LoaderOptions...),
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.LoggingMiddleware(opts.Logger))

	r.Post("/query", h.query)
	r.Get("/entities", h.entities)
	r.Get("/healthz", h.health)
	if opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
	}
	return r
}

func (h *handler) query(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := observability.ContextWithLoaderMetrics(r.Context(), h.opts.Metrics)

	var req queryRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.fail(ctx, w, req.Entity, start, http.StatusBadRequest, "malformed request body: "+err.Error())
		return
	}
	if req.Entity == "" {
		h.fail(ctx, w, req.Entity, start, http.StatusBadRequest, "entity is required")
		return
	}

	opts, err := req.findOptions(h.opts.DefaultLimit, h.opts.MaxLimit)
	if err == nil {
		err = normalizeTree(req.Include)
	}
	if err != nil {
		h.fail(ctx, w, req.Entity, start, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := h.driver.Find(ctx, req.Entity, opts, req.Include)
	if err != nil {
		status, msg := classify(err)
		if status >= http.StatusInternalServerError {
			logging.FromContext(ctx).Error("query failed",
				slog.String("entity", req.Entity),
				slog.String("error", err.Error()),
			)
		}
		h.fail(ctx, w, req.Entity, start, status, msg)
		return
	}

	h.opts.Metrics.RecordRequest(ctx, time.Since(start), req.Entity, false)
	writeJSON(ctx, w, http.StatusOK, map[string]interface{}{"data": rows})
}

// classify maps find errors to a status and a client-safe message.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, schema.ErrUnknownEntity),
		errors.Is(err, schema.ErrUnknownRelation),
		errors.Is(err, schema.ErrUnknownField),
		errors.Is(err, store.ErrInvalidOptions),
		errors.Is(err, include.ErrTooDeep):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, store.ErrAccessDenied):
		return http.StatusForbidden, "access denied"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request cancelled"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (h *handler) fail(ctx context.Context, w http.ResponseWriter, entity string, start time.Time, status int, msg string) {
	h.opts.Metrics.RecordRequest(ctx, time.Since(start), entity, true)
	writeJSON(ctx, w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message":    msg,
			"request_id": logging.GetRequestID(ctx),
		},
	})
}

type entityDoc struct {
	Name       string        `json:"name"`
	Table      string        `json:"table"`
	PrimaryKey string        `json:"primaryKey"`
	Columns    []string      `json:"columns"`
	Relations  []relationDoc `json:"relations"`
}

type relationDoc struct {
	Name         string `json:"name"`
	Kind         string `json:"kind"`
	Target       string `json:"target"`
	LocalField   string `json:"localField"`
	ForeignField string `json:"foreignField"`
}

func (h *handler) entities(w http.ResponseWriter, r *http.Request) {
	var docs []entityDoc
	for _, e := range h.opts.Source.Schema().Entities() {
		doc := entityDoc{Name: e.Name, Table: e.Table, PrimaryKey: e.PrimaryKey, Columns: e.Columns, Relations: []relationDoc{}}
		for _, rel := range e.Relations() {
			doc.Relations = append(doc.Relations, relationDoc{
				Name:         rel.Name,
				Kind:         rel.Kind.String(),
				Target:       rel.Target,
				LocalField:   rel.LocalField,
				ForeignField: rel.ForeignField,
			})
		}
		docs = append(docs, doc)
	}
	writeJSON(r.Context(), w, http.StatusOK, map[string]interface{}{"entities": docs})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	reqLogger := logging.FromContext(r.Context())
	if h.opts.Pinger == nil {
		writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "healthy"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.opts.HealthCheckTimeout)
	defer cancel()
	if err := h.opts.Pinger.PingContext(ctx); err != nil {
		reqLogger.Error("health check failed",
			slog.String("error", err.Error()),
			slog.String("check", "database"),
		)
		writeJSON(r.Context(), w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "failed"})
		return
	}
	reqLogger.Debug("health check passed")
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "healthy", "database": "ok"})
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.FromContext(ctx).Warn("failed to write response", slog.String("error", err.Error()))
	}
}
