package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/matchhub/matchhub/internal/application/matchmaker"
	"github.com/matchhub/matchhub/internal/domain/session"
	"github.com/matchhub/matchhub/internal/infrastructure/sse"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	matchSvc    *matchmaker.Service
	sseHub      *sse.Hub
	logger      zerolog.Logger
	findRPM     int
	metricsPath bool
}

func NewServer(matchSvc *matchmaker.Service, sseHub *sse.Hub, logger zerolog.Logger, findRPM int) *Server {
	if findRPM <= 0 {
		findRPM = 60
	}
	return &Server{
		matchSvc:    matchSvc,
		sseHub:      sseHub,
		logger:      logger.With().Str("component", "http").Logger(),
		findRPM:     findRPM,
		metricsPath: true,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthz)
	if s.metricsPath {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.With(
				middleware.Timeout(10*time.Second),
				httprate.LimitByIP(s.findRPM, time.Minute),
			).Post("/find", s.findOrCreateSession)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(10 * time.Second))
				r.Get("/{sessionId}", s.getSession)
				r.Post("/{sessionId}/join", s.joinSession)
				r.Post("/{sessionId}/leave", s.leaveSession)
				r.Post("/{sessionId}/ready", s.markReady)
				r.Post("/{sessionId}/start", s.startMatch)
				r.Post("/{sessionId}/complete", s.completeSession)
				r.Post("/{sessionId}/cancel", s.cancelSession)
				r.Post("/{sessionId}/revalidate", s.revalidateSession)
			})

			// No timeout on the stream; it lives as long as the client.
			r.Get("/{sessionId}/stream", s.streamSession)
		})

		r.With(middleware.Timeout(10 * time.Second)).Get("/stats", s.getStats)
	})

	return r
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

// Helpers
func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

// respondDomainError maps the session error taxonomy onto HTTP statuses.
// Duplicate requests get 429 with a Retry-After hint.
func respondDomainError(w http.ResponseWriter, err error) {
	var dup *session.DuplicateRequestError
	if errors.As(err, &dup) {
		w.Header().Set("Retry-After", strconv.Itoa(dup.WaitSeconds()))
		respondError(w, http.StatusTooManyRequests, "DUPLICATE_REQUEST", err.Error())
		return
	}
	switch {
	case errors.Is(err, session.ErrValidation):
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
	case errors.Is(err, session.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, session.ErrNotAllowed):
		respondError(w, http.StatusForbidden, "NOT_ALLOWED", err.Error())
	case errors.Is(err, session.ErrSessionExpired):
		respondError(w, http.StatusGone, "SESSION_EXPIRED", err.Error())
	case errors.Is(err, session.ErrSessionFull),
		errors.Is(err, session.ErrAlreadyJoined),
		errors.Is(err, session.ErrAlreadyInSession),
		errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrConflict):
		respondError(w, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, session.ErrStoreUnavailable):
		respondError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
	}
}

func parseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	val := chi.URLParam(r, key)
	return uuid.Parse(val)
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
