package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	"research-assistant/internal/jobs"
	"research-assistant/internal/models"
	"research-assistant/internal/registry"
	"research-assistant/internal/telemetry"
)

// Limiter throttles submissions per client.
type Limiter interface {
	Allow(ctx context.Context, client string) (bool, float64, error)
}

// AuditReader serves a job's recorded lifecycle events.
type AuditReader interface {
	AuditTrail(ctx context.Context, jobID string) ([]models.AuditLog, error)
}

// Server wires HTTP handlers for the research API.
type Server struct {
	runner   *jobs.Runner
	registry *registry.Registry
	limiter  Limiter
	audit    AuditReader
	log      logrus.FieldLogger
}

// Option customises a Server.
type Option func(*Server)

// WithLimiter throttles POST /research per client.
func WithLimiter(l Limiter) Option {
	return func(s *Server) { s.limiter = l }
}

// WithAudit enables GET /research/{job_id}/audit.
func WithAudit(a AuditReader) Option {
	return func(s *Server) { s.audit = a }
}

// WithLogger sets the request logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(s *Server) { s.log = log }
}

// New constructs the API server.
func New(runner *jobs.Runner, reg *registry.Registry, opts ...Option) *Server {
	s := &Server{
		runner:   runner,
		registry: reg,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc:  func(*http.Request, string) bool { return true },
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           600,
	}))
	r.Use(middleware.Recoverer)
	r.Use(s.requestLog)

	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "online", "system": "Cloud-Ready"})
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/research", s.handleStartResearch)
	r.Get("/research/{job_id}", s.handleGetResearch)
	r.Get("/research/{job_id}/audit", s.handleAudit)
	return r
}

const maxBodyBytes = 1 << 20

type researchRequest struct {
	Topic string `json:"topic"`
}

type researchResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type detailResponse struct {
	Detail string `json:"detail"`
}

func (s *Server) handleStartResearch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req researchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Topic) == "" {
		http.Error(w, "topic is required", http.StatusBadRequest)
		return
	}

	if s.limiter != nil {
		allowed, _, err := s.limiter.Allow(r.Context(), clientFromRequest(r))
		if err != nil {
			s.log.WithError(err).Error("rate limit check")
			http.Error(w, "rate limit error", http.StatusInternalServerError)
			return
		}
		if !allowed {
			telemetry.SubmitRejects.Inc()
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
	}

	job, err := s.runner.Submit(req.Topic)
	if err != nil {
		if errors.Is(err, jobs.ErrShuttingDown) {
			http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.log.WithFields(logrus.Fields{"job_id": job.ID, "topic": job.Topic}).Info("research started")

	writeJSON(w, http.StatusOK, researchResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Message: "Research started. Poll /research/{job_id} for updates.",
	})
}

func (s *Server) handleGetResearch(w http.ResponseWriter, r *http.Request) {
	job, err := s.registry.Get(chi.URLParam(r, "job_id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, detailResponse{Detail: "Job not found"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeJSON(w, http.StatusNotFound, detailResponse{Detail: "Audit trail not enabled"})
		return
	}
	id := chi.URLParam(r, "job_id")
	if _, err := s.registry.Get(id); err != nil {
		writeJSON(w, http.StatusNotFound, detailResponse{Detail: "Job not found"})
		return
	}
	events, err := s.audit.AuditTrail(r.Context(), id)
	if err != nil {
		s.log.WithError(err).WithField("job_id", id).Error("read audit trail")
		http.Error(w, "failed to read audit trail", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": id, "events": events})
}

// clientFromRequest keys the submission limiter: an explicit client id when the
// caller sends one, otherwise the remote address.
func clientFromRequest(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-Client-ID")); v != "" {
		return v
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.WithFields(logrus.Fields{
			"method":  r.Method,
			"path":    r.URL.Path,
			"status":  ww.Status(),
			"elapsed": time.Since(start).Round(time.Millisecond),
		}).Debug("request")
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
