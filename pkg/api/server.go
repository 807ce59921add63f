// Package api exposes the public HTTP surface: job submission endpoints that
// answer 202 with a job id before any work happens, and the polling endpoint
// the frontend drives its progress UI from.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fluxfolio/engine/pkg/jobstore"
	"github.com/fluxfolio/engine/pkg/logger"
	"github.com/fluxfolio/engine/pkg/models"
	"github.com/fluxfolio/engine/pkg/orchestrator"
	"github.com/fluxfolio/engine/pkg/sessions"
)

// Submitter persists and queues a job for a payload
type Submitter interface {
	Submit(ctx context.Context, ownerID string, payload models.JobPayload) (string, error)
}

// Server is the public API server
type Server struct {
	router    chi.Router
	submitter Submitter
	store     jobstore.Store
	sessions  sessions.Store
	logger    logger.Logger
}

// NewServer wires the routes and returns a ready-to-serve API server
func NewServer(submitter Submitter, store jobstore.Store, sessionStore sessions.Store, log logger.Logger) *Server {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	s := &Server{
		submitter: submitter,
		store:     store,
		sessions:  sessionStore,
		logger:    log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Post("/user/create-portfolio", s.handleCreatePortfolio)
			r.Post("/user/buy-bundle", s.handleBuyBundle)
			r.Post("/user/rebalance", s.handleRebalance)
			r.Post("/user/withdraw", s.handleWithdraw)
			r.Post("/user/assign-agent", s.handleAssignAgent)
			r.Get("/jobs", s.handleListJobs)
			r.Get("/jobs/{jobID}", s.handleGetJob)
		})
	})
	s.router = r
	return s
}

// Handler returns the http handler for mounting
func (s *Server) Handler() http.Handler {
	return s.router
}

type contextKey string

const sessionKey contextKey = "session"

// authenticate resolves the bearer token to a session before any handler runs
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "missing Authorization header")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeError(w, http.StatusUnauthorized, "invalid Authorization header format")
			return
		}

		session, err := s.sessions.Resolve(r.Context(), parts[1])
		if err != nil {
			if errors.Is(err, sessions.ErrInvalidToken) {
				writeError(w, http.StatusUnauthorized, "invalid session")
				return
			}
			s.logger.Error("Session lookup failed: %v", err)
			writeError(w, http.StatusInternalServerError, "session lookup failed")
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sessionFrom returns the authenticated session placed by the middleware
func sessionFrom(r *http.Request) *sessions.Session {
	session, _ := r.Context().Value(sessionKey).(*sessions.Session)
	return session
}

// submit queues the payload and answers 202 with the job id
func (s *Server) submit(w http.ResponseWriter, r *http.Request, payload models.JobPayload) {
	session := sessionFrom(r)

	jobID, err := s.submitter.Submit(r.Context(), session.UserID, payload)
	if err != nil {
		if errors.Is(err, orchestrator.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, "job queue full, try again")
			return
		}
		s.logger.Error("Failed to submit %s job: %v", payload.JobType(), err)
		writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
