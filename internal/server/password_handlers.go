package server

import (
	"net/http"

	"go.uber.org/zap"

	"gardenhub/internal/auth"
	"gardenhub/internal/authflow"
)

const resetSentMessage = "If an account exists for that address, a reset code has been sent."

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadBody(w)
		return
	}

	ctx := r.Context()
	email := auth.NormalizeEmail(req.Email)
	key := auth.CooldownKey("reset", email)
	if !s.startCooldown(w, r, key) {
		return
	}

	ip := clientIP(r, s.trustedProxies)
	if locked, ttl, err := s.RateLimiter.RegisterResetAttempt(ctx, email, ip); err != nil {
		s.Logger.Error("forgot password: rate limit check failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, string(authflow.CodeInternal), "Internal server error")
		return
	} else if locked {
		writeRateLimited(w, "Too many reset requests. Try again later.", ttl)
		return
	}

	if err := s.Flow.ForgotPassword(ctx, email, s.client(r)); err != nil {
		s.RateLimiter.ClearCooldown(ctx, key)
		s.writeFlowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": resetSentMessage,
	})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var in authflow.ResetPasswordInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeBadBody(w)
		return
	}

	if err := s.Flow.ResetPassword(r.Context(), in); err != nil {
		s.writeFlowError(w, r, err)
		return
	}
	s.audit(r.Context(), r, auth.AuditPasswordReset, "", map[string]interface{}{"email": auth.NormalizeEmail(in.Email)})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Password updated. Sign in with your new password.",
	})
}
