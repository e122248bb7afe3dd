package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"gardenhub/internal/auth"
	"gardenhub/internal/authflow"
)

type ctxKey string

const sessionContextKey ctxKey = "session"

// requireSession resolves the bearer token to a live session.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "Unauthorized")
			return
		}

		sess, err := s.Sessions.Authenticate(r.Context(), token)
		if errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "Session expired")
			return
		}
		if err != nil {
			s.Logger.Error("authenticate session", zap.Error(err))
			writeError(w, http.StatusInternalServerError, string(authflow.CodeInternal), "Failed to read session")
			return
		}

		ctx := context.WithValue(r.Context(), sessionContextKey, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireRoles(roles []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicAccess(roles) {
				next.ServeHTTP(w, r)
				return
			}

			sess := sessionFromContext(r.Context())
			if sess == nil {
				writeError(w, http.StatusUnauthorized, codeUnauthorized, "Unauthorized")
				return
			}

			if !roleAllowed(roles, sess.Role) {
				writeError(w, http.StatusForbidden, codeForbidden, "Forbidden")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func sessionFromContext(ctx context.Context) *auth.Session {
	if val, ok := ctx.Value(sessionContextKey).(*auth.Session); ok {
		return val
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.Logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("latency", time.Since(start)),
				zap.String("requestId", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) limitByIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r, s.trustedProxies)
		if !s.ipLimiter.allow(ip) {
			s.Logger.Warn("rate limit exceeded", zap.String("ip", ip), zap.String("path", r.URL.Path))
			writeRateLimited(w, "Too many requests. Slow down.", time.Second)
			return
		}
		next.ServeHTTP(w, r)
	})
}
