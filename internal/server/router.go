package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/tsangwailam/mcclaw/internal/activity"
	"github.com/tsangwailam/mcclaw/internal/core"
	"github.com/tsangwailam/mcclaw/internal/health"
	"github.com/tsangwailam/mcclaw/internal/hub"
)

// maxBodyBytes bounds activity reports.
const maxBodyBytes = 1 << 20

type handlers struct {
	ingestor *activity.Ingestor
	service  *activity.Service
	logger   *slog.Logger
}

// NewRouter wires the HTTP API. h may be nil when no live stream is served.
func NewRouter(ingestor *activity.Ingestor, service *activity.Service, h *hub.Hub, logger *slog.Logger) *chi.Mux {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))
	r.Use(CORS)

	hs := &handlers{ingestor: ingestor, service: service, logger: logger}

	r.Get(health.Path, hs.handleHealth)
	r.Route("/api/activity", func(r chi.Router) {
		r.Get("/", hs.handleList)
		r.Post("/", hs.handleCreate)
		r.Get("/stats", hs.handleStats)
	})
	if h != nil {
		r.Get(hub.Path, h.ServeHTTP)
	}

	return r
}

// CORS allows any origin and answers preflight requests directly.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start))
		})
	}
}

func (hs *handlers) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, health.Response{
		Status:  "ok",
		Version: core.FormatVersion(core.Version),
		PID:     os.Getpid(),
	})
}

func (hs *handlers) handleList(w http.ResponseWriter, r *http.Request) {
	f, err := activity.ParseFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := hs.service.List(r.Context(), f)
	if err != nil {
		hs.logger.Error("Failed to list activities", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch activities")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (hs *handlers) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req activity.Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body: "+err.Error())
		return
	}

	res, err := hs.ingestor.Ingest(r.Context(), req)
	switch {
	case errors.Is(err, activity.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		hs.logger.Error("Failed to log activity", "action", req.Action, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to log activity")
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res.Record)
}

func (hs *handlers) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := hs.service.Stats(r.Context())
	if err != nil {
		hs.logger.Error("Failed to compute stats", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch stats")
		return
	}
	writeJSON(w, http.StatusOK, st)
}
