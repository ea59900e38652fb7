package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/wallet/internal/lifecycle"
	"github.com/roach88/wallet/internal/resource"
)

// OwnerHeader carries the authenticated owner id.
const OwnerHeader = "X-Owner-ID"

// Server routes HTTP requests to a lifecycle.Service.
type Server struct {
	svc     *lifecycle.Service
	logger  *slog.Logger
	limiter *ownerLimiters
	mux     *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRateLimit enables a per-owner token bucket. rps <= 0 disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = newOwnerLimiters(rps, burst)
	}
}

// New creates a Server.
func New(svc *lifecycle.Service, opts ...Option) *Server {
	s := &Server{
		svc:    svc,
		logger: slog.Default(),
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	s.mux.Handle("GET /v1/owners/{owner}/kinds/{kind}", s.owned(s.handleList))
	s.mux.Handle("POST /v1/owners/{owner}/kinds/{kind}", s.owned(s.handleCreate))
	s.mux.Handle("GET /v1/owners/{owner}/kinds/{kind}/default", s.owned(s.handleGetDefault))
	s.mux.Handle("POST /v1/owners/{owner}/kinds/{kind}/repair", s.owned(s.handleRepair))
	s.mux.Handle("GET /v1/owners/{owner}/records/{id}", s.owned(s.handleGet))
	s.mux.Handle("PATCH /v1/owners/{owner}/records/{id}", s.owned(s.handleUpdate))
	s.mux.Handle("PUT /v1/owners/{owner}/records/{id}/default", s.owned(s.handleSetDefault))
	s.mux.Handle("DELETE /v1/owners/{owner}/records/{id}", s.owned(s.handleDelete))
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// StartJanitor periodically forgets idle owners' rate limiters until ctx is done.
func (s *Server) StartJanitor(ctx context.Context) {
	if s.limiter != nil {
		s.limiter.janitor(ctx)
	}
}

// owned authenticates the caller against the path owner, applies the rate
// limit and installs the security context.
func (s *Server) owned(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		owner := r.PathValue("owner")
		caller := strings.TrimSpace(r.Header.Get(OwnerHeader))
		if caller == "" || caller != owner {
			s.writeError(w, r, resource.NewUnauthenticatedError(owner))
			return
		}

		if s.limiter != nil {
			if ok, wait := s.limiter.allow(owner); !ok {
				secs := int(wait.Round(time.Second) / time.Second)
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				writeJSON(w, http.StatusTooManyRequests, errorBody{Error: errorDetail{
					Code:    "RATE_LIMITED",
					Message: "too many requests",
				}})
				return
			}
		}

		ctx := lifecycle.WithSecurityContext(r.Context(), lifecycle.SecurityContext{OwnerID: caller})
		next(w, r.WithContext(ctx))
	})
}
