package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lmittmann/tint"

	"github.com/ent0n29/zhenhai/internal/conversation"
	"github.com/ent0n29/zhenhai/internal/memory"
	"github.com/ent0n29/zhenhai/internal/observability"
	"github.com/ent0n29/zhenhai/internal/usage"
)

// Conversations is the read-only view of the conversation manager the
// operator endpoints need.
type Conversations interface {
	UsageToday(ctx context.Context) ([]usage.Counter, error)
	Memory(ctx context.Context, userID string) (memory.UserMemory, error)
}

// ReadyCheck is one dependency checked by /readyz.
type ReadyCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

type Server struct {
	conversations Conversations
	checks        []ReadyCheck
	metrics       *observability.Metrics
	logger        *slog.Logger
	readyTimeout  time.Duration
}

func New(conversations Conversations, metrics *observability.Metrics, logger *slog.Logger, checks ...ReadyCheck) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		conversations: conversations,
		checks:        checks,
		metrics:       metrics,
		logger:        logger,
		readyTimeout:  2 * time.Second,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/usage", s.handleUsage)
	r.Get("/v1/memory/{userID}", s.handleMemory)
	r.Get("/v1/perf/turns", s.handlePerfTurns)
	r.Post("/v1/perf/turns/reset", s.handlePerfTurnsReset)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.readyTimeout)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(s.checks))
	for _, check := range s.checks {
		if err := check.Ping(ctx); err != nil {
			s.logger.WarnContext(ctx, "readiness check failed", "check", check.Name, tint.Err(err))
			results[check.Name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		results[check.Name] = "ok"
	}
	state := "ready"
	if status != http.StatusOK {
		state = "degraded"
	}
	respondJSON(w, status, map[string]any{"status": state, "checks": results})
}

type usageResponse struct {
	Counters []usage.Counter `json:"counters"`
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	counters, err := s.conversations.UsageToday(r.Context())
	if err != nil {
		s.respondConversationError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, usageResponse{Counters: counters})
}

type memoryResponse struct {
	UserID          string    `json:"user_id"`
	Summary         string    `json:"summary"`
	HasContinuation bool      `json:"has_continuation"`
	TurnCount       int       `json:"turn_count"`
	UpdatedAt       time.Time `json:"updated_at,omitempty"`
}

// handleMemory never exposes the continuation handle itself.
func (s *Server) handleMemory(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	mem, err := s.conversations.Memory(r.Context(), userID)
	if err != nil {
		s.respondConversationError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, memoryResponse{
		UserID:          mem.UserID,
		Summary:         mem.Summary,
		HasContinuation: mem.HasHandle(),
		TurnCount:       mem.TurnCount,
		UpdatedAt:       mem.UpdatedAt,
	})
}

func (s *Server) respondConversationError(w http.ResponseWriter, r *http.Request, err error) {
	switch conversation.KindOf(err) {
	case conversation.KindInvalidInput:
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case conversation.KindStorage:
		s.logger.ErrorContext(r.Context(), "storage unavailable", "path", r.URL.Path, tint.Err(err))
		respondError(w, http.StatusServiceUnavailable, "storage_unavailable", "storage is unavailable, retry later")
	default:
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, tint.Err(err))
		respondError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
