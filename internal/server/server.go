// Package server exposes the vendor callback endpoint and the operations
// API over HTTP.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/dialer-cli/internal/dialer"
	"github.com/sells-group/dialer-cli/internal/model"
	"github.com/sells-group/dialer-cli/internal/resilience"
	"github.com/sells-group/dialer-cli/internal/store"
	"github.com/sells-group/dialer-cli/pkg/airudder"
)

const (
	callbackTokenHeader = "X-Callback-Token"
	maxCallbackBytes    = 1 << 20
	dateLayout          = "2006-01-02"
)

// TaskReader is the read side of the store used by the operations API.
type TaskReader interface {
	ListDialerTasks(ctx context.Context, filter store.TaskFilter) ([]model.DialerTask, error)
	GetDialerTaskByID(ctx context.Context, id string) (*model.DialerTask, error)
	ListTaskEvents(ctx context.Context, taskID string) ([]model.DialerTaskEvent, error)
	ListVendorTasks(ctx context.Context, dialerTaskID string) ([]model.VendorTask, error)
	Ping(ctx context.Context) error
}

// Reconciler handles callbacks and on-demand sweeps.
type Reconciler interface {
	HandleCallback(ctx context.Context, ev *airudder.CallbackEvent) error
	Sweep(ctx context.Context, start, end time.Time) (*dialer.SweepReport, error)
}

// Config configures a Server.
type Config struct {
	CallbackToken string
	// APIToken is the bearer token required on /api. The API is not
	// mounted when it is empty.
	APIToken string
	// CORSOrigins enables CORS for the listed origins only.
	CORSOrigins []string
	Location    *time.Location
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Breakers reports vendor circuit states on /health when set.
	Breakers *resilience.EndpointBreakers
}

// Server holds the HTTP handlers.
type Server struct {
	tasks TaskReader
	rec   Reconciler
	cfg   Config
}

// New creates a Server.
func New(tasks TaskReader, rec Reconciler, cfg Config) *Server {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Server{tasks: tasks, rec: rec, cfg: cfg}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", callbackTokenHeader},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.health)
	r.Post("/callbacks/airudder", s.callback)
	if s.cfg.Metrics != nil {
		r.Handle("/metrics", s.cfg.Metrics)
	}

	if s.cfg.APIToken == "" {
		zap.L().Warn("server: api token not set, /api disabled")
		return r
	}
	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireBearer)
		r.Get("/tasks", s.listTasks)
		r.Get("/tasks/{id}", s.getTask)
		r.Get("/tasks/{id}/events", s.taskEvents)
		r.Get("/tasks/{id}/vendor-tasks", s.vendorTasks)
		r.Post("/sweep", s.sweep)
	})
	return r
}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.APIToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.tasks.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	resp := map[string]any{"status": "ok"}
	if s.cfg.Breakers != nil {
		circuits := make(map[string]string)
		for name, state := range s.cfg.Breakers.States() {
			circuits[name] = state.String()
		}
		resp["circuits"] = circuits
	}
	writeJSON(w, http.StatusOK, resp)
}

// callback acknowledges every well-formed, authenticated delivery with
// 200 so the vendor does not redeliver, including calls for tasks this
// system does not know.
func (s *Server) callback(w http.ResponseWriter, r *http.Request) {
	if s.cfg.CallbackToken != "" {
		got := r.Header.Get(callbackTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.CallbackToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid callback token")
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	ev, err := airudder.ParseCallback(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = s.rec.HandleCallback(r.Context(), ev)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, dialer.ErrUnknownTask):
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	case errors.Is(err, dialer.ErrInvalidCallback):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		zap.L().Error("server: callback failed", zap.String("type", ev.Type), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "callback not stored")
	}
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.TaskFilter{Status: model.TaskStatus(q.Get("status"))}

	dateStr := q.Get("date")
	if dateStr == "" {
		dateStr = time.Now().In(s.cfg.Location).Format(dateLayout)
	}
	date, err := time.ParseInLocation(dateLayout, dateStr, s.cfg.Location)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	filter.Date = &date

	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}

	tasks, err := s.tasks.ListDialerTasks(r.Context(), filter)
	if err != nil {
		s.internalError(w, "list tasks", err)
		return
	}
	if tasks == nil {
		tasks = []model.DialerTask{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.tasks.GetDialerTaskByID(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrTaskNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.internalError(w, "get task", err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) taskEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.tasks.ListTaskEvents(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.internalError(w, "list events", err)
		return
	}
	if events == nil {
		events = []model.DialerTaskEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) vendorTasks(w http.ResponseWriter, r *http.Request) {
	vts, err := s.tasks.ListVendorTasks(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.internalError(w, "list vendor tasks", err)
		return
	}
	if vts == nil {
		vts = []model.VendorTask{}
	}
	writeJSON(w, http.StatusOK, vts)
}

type sweepRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (s *Server) sweep(w http.ResponseWriter, r *http.Request) {
	var req sweepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !req.End.After(req.Start) {
		writeError(w, http.StatusBadRequest, "end must be after start")
		return
	}
	if req.End.Sub(req.Start) > 24*time.Hour {
		writeError(w, http.StatusBadRequest, "sweep window is limited to 24h")
		return
	}

	report, err := s.rec.Sweep(r.Context(), req.Start, req.End)
	if err != nil && report == nil {
		s.internalError(w, "sweep", err)
		return
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, report)
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	zap.L().Error("server: "+op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, op+" failed")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
