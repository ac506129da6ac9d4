package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"returns-credit-backend/internal/config"
	"returns-credit-backend/internal/domain"
	"returns-credit-backend/internal/logger"
	"returns-credit-backend/internal/security"
)

const requestIDHeader = "X-Request-ID"

type sessionKey struct{}

func withSession(ctx context.Context, s *security.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFromContext returns the caller attached by the auth middleware.
func SessionFromContext(ctx context.Context) *security.Session {
	s, _ := ctx.Value(sessionKey{}).(*security.Session)
	return s
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// requestLogging tags the request with an id and logs its outcome.
func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		ctx := logger.WithRequestID(r.Context(), requestID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r.WithContext(ctx))

		logger.FromContext(ctx).Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				logger.FromContext(r.Context()).Error("Handler panicked", "panic", p, "path", r.URL.Path)
				writeJSON(w, http.StatusInternalServerError, envelope{Success: false, Error: "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// authenticate resolves the bearer token and enforces the route's permission.
// Public routes pass through untouched.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := ""
		if current := mux.CurrentRoute(r); current != nil {
			route = current.GetName()
		}
		if config.PublicRoutes[route] {
			next.ServeHTTP(w, r)
			return
		}

		token := bearerToken(r)
		if token == "" {
			s.writeError(w, r, domain.ErrUnauthorized)
			return
		}
		session, err := s.tokens.ResolveSession(token)
		if err != nil {
			logger.FromContext(r.Context()).Info("Session rejected", "route", route, "error", err)
			s.writeError(w, r, domain.ErrUnauthorized)
			return
		}
		if err := security.Authorize(session, config.GetRequiredPermission(route)); err != nil {
			s.writeError(w, r, err)
			return
		}

		ctx := logger.NewContext(r.Context(), logger.FromContext(r.Context()).With("userID", session.UserID, "role", session.Role))
		next.ServeHTTP(w, r.WithContext(withSession(ctx, session)))
	})
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
