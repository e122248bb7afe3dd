package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gardenhub/internal/auth"
	"gardenhub/internal/authflow"
	"gardenhub/internal/config"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Server struct {
	Flow           *authflow.Flow
	Sessions       *auth.SessionIssuer
	RateLimiter    *auth.RateLimiter
	Audit          *auth.AuditLogger
	Config         config.Config
	Logger         *zap.Logger
	HealthChecks   map[string]HealthCheck
	trustedProxies []net.IPNet
	ipLimiter      *ipRateLimiter
}

func NewServer(cfg config.Config, flow *authflow.Flow, sessions *auth.SessionIssuer, rl *auth.RateLimiter, audit *auth.AuditLogger, logger *zap.Logger) *Server {
	return &Server{
		Flow:           flow,
		Sessions:       sessions,
		RateLimiter:    rl,
		Audit:          audit,
		Config:         cfg,
		Logger:         logger.Named("http"),
		HealthChecks:   map[string]HealthCheck{},
		trustedProxies: parseProxyCIDRs(cfg.TrustedProxies),
		ipLimiter:      newIPRateLimiter(cfg.RateLimitPerMinute),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(secureHeaders)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/auth", func(ar chi.Router) {
		ar.Use(s.limitByIP)

		ar.With(s.requireRoles(accessRoles(http.MethodPost, "/api/auth/register"))).Post("/register", s.handleRegister)
		ar.With(s.requireRoles(accessRoles(http.MethodPost, "/api/auth/login"))).Post("/login", s.handleLogin)
		ar.With(s.requireRoles(accessRoles(http.MethodPost, "/api/auth/verify-email"))).Post("/verify-email", s.handleVerifyEmail)
		ar.With(s.requireRoles(accessRoles(http.MethodPost, "/api/auth/resend-verification"))).Post("/resend-verification", s.handleResendVerification)
		ar.With(s.requireRoles(accessRoles(http.MethodPost, "/api/auth/verify-2fa"))).Post("/verify-2fa", s.handleVerifyTwoFactor)
		ar.With(s.requireRoles(accessRoles(http.MethodPost, "/api/auth/send-2fa"))).Post("/send-2fa", s.handleSendTwoFactor)
		ar.With(s.requireRoles(accessRoles(http.MethodPost, "/api/auth/verify-phone"))).Post("/verify-phone", s.handleVerifyPhone)
		ar.With(s.requireRoles(accessRoles(http.MethodPost, "/api/auth/forgot-password"))).Post("/forgot-password", s.handleForgotPassword)
		ar.With(s.requireRoles(accessRoles(http.MethodPost, "/api/auth/reset-password"))).Post("/reset-password", s.handleResetPassword)

		ar.Group(func(pr chi.Router) {
			pr.Use(s.requireSession)

			pr.With(s.requireRoles(accessRoles(http.MethodGet, "/api/auth/me"))).Get("/me", s.handleMe)
			pr.With(s.requireRoles(accessRoles(http.MethodPost, "/api/auth/logout"))).Post("/logout", s.handleLogout)
			pr.With(s.requireRoles(accessRoles(http.MethodPost, "/api/auth/2fa/setup"))).Post("/2fa/setup", s.handleTwoFactorSetup)
			pr.With(s.requireRoles(accessRoles(http.MethodPost, "/api/auth/2fa/confirm"))).Post("/2fa/confirm", s.handleTwoFactorConfirm)
			pr.With(s.requireRoles(accessRoles(http.MethodPost, "/api/auth/2fa/disable"))).Post("/2fa/disable", s.handleTwoFactorDisable)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.HealthChecks))
	for name, check := range s.HealthChecks {
		if err := check(ctx); err != nil {
			s.Logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
			checks[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	writeJSON(w, status, map[string]interface{}{
		"success": status == http.StatusOK,
		"checks":  checks,
	})
}
