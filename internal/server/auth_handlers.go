package server

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"gardenhub/internal/auth"
	"gardenhub/internal/authflow"
)

type tokenResponse struct {
	Success   bool        `json:"success"`
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expiresAt"`
	User      userSummary `json:"user"`
}

func tokenBody(res *authflow.AuthResult) tokenResponse {
	return tokenResponse{
		Success:   true,
		Token:     res.Token.Token,
		ExpiresAt: res.Token.ExpiresAt,
		User:      summarize(res.User),
	}
}

func (s *Server) audit(ctx context.Context, r *http.Request, eventType, userID string, meta map[string]interface{}) {
	if s.Audit == nil {
		return
	}
	err := s.Audit.Log(ctx, auth.AuditEvent{
		EventType: eventType,
		UserID:    userID,
		IP:        clientIP(r, s.trustedProxies),
		UserAgent: r.UserAgent(),
		Meta:      meta,
	})
	if err != nil {
		s.Logger.Warn("audit log failed", zap.String("event", eventType), zap.Error(err))
	}
}

// startCooldown reports whether the caller may proceed. It writes the 429 or
// 500 response itself when not.
func (s *Server) startCooldown(w http.ResponseWriter, r *http.Request, key string) bool {
	remaining, ok, err := s.RateLimiter.Cooldown(r.Context(), key, auth.SendCooldown)
	if err != nil {
		s.Logger.Error("cooldown check failed", zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, string(authflow.CodeInternal), "Internal server error")
		return false
	}
	if !ok {
		writeRateLimited(w, "Please wait before requesting another code.", remaining)
		return false
	}
	return true
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in authflow.RegisterInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeBadBody(w)
		return
	}

	ctx := r.Context()
	ip := clientIP(r, s.trustedProxies)
	if locked, ttl, err := s.RateLimiter.RegisterRegisterAttempt(ctx, auth.NormalizeEmail(in.Email), ip); err != nil {
		s.Logger.Error("register: rate limit check failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, string(authflow.CodeInternal), "Internal server error")
		return
	} else if locked {
		writeRateLimited(w, "Too many signup attempts. Try again later.", ttl)
		return
	}

	res, err := s.Flow.Register(ctx, in, s.client(r))
	if err != nil {
		s.writeFlowError(w, r, err)
		return
	}
	s.audit(ctx, r, auth.AuditRegister, res.User.ID, nil)

	body := map[string]interface{}{
		"success":              true,
		"user":                 summarize(res.User),
		"verificationRequired": res.VerificationRequired,
	}
	if res.VerificationRequired {
		body["verificationSent"] = res.VerificationSent
		if res.VerificationSent {
			body["expiresIn"] = int64(res.ExpiresIn.Seconds())
		}
	}
	writeJSON(w, http.StatusCreated, body)
}

func (s *Server) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	var in authflow.CodeInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeBadBody(w)
		return
	}

	res, err := s.Flow.VerifyEmail(r.Context(), in, s.client(r))
	if err != nil {
		s.writeFlowError(w, r, err)
		return
	}
	if res.AlreadyVerified {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success":         true,
			"alreadyVerified": true,
			"user":            summarize(res.User),
		})
		return
	}
	s.audit(r.Context(), r, auth.AuditVerifyEmail, res.User.ID, nil)
	writeJSON(w, http.StatusOK, tokenBody(res))
}

func (s *Server) handleResendVerification(w http.ResponseWriter, r *http.Request) {
	var in authflow.ResendInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeBadBody(w)
		return
	}

	ctx := r.Context()
	channel := in.Type
	if channel == "" {
		channel = "email"
	}
	key := auth.CooldownKey("resend:"+channel, auth.NormalizeEmail(in.Email))
	if !s.startCooldown(w, r, key) {
		return
	}

	res, err := s.Flow.ResendVerification(ctx, in, s.client(r))
	if err != nil {
		// Nothing was sent, so the caller may retry straight away.
		s.RateLimiter.ClearCooldown(ctx, key)
		s.writeFlowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"channel":   string(res.Channel),
		"expiresIn": int64(res.ExpiresIn.Seconds()),
	})
}

func (s *Server) handleVerifyPhone(w http.ResponseWriter, r *http.Request) {
	var in authflow.CodeInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeBadBody(w)
		return
	}

	user, err := s.Flow.VerifyPhone(r.Context(), in)
	if err != nil {
		s.writeFlowError(w, r, err)
		return
	}
	s.audit(r.Context(), r, auth.AuditVerifyPhone, user.ID, nil)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user":    summarize(user),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in authflow.LoginInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeBadBody(w)
		return
	}

	ctx := r.Context()
	ip := clientIP(r, s.trustedProxies)
	if s.RateLimiter.IsIPBanned(ctx, ip) {
		writeRateLimited(w, "Too many failed login attempts. Try again later.", time.Hour)
		return
	}

	res, err := s.Flow.Login(ctx, in, s.client(r))
	if err != nil {
		if fe := authflow.AsError(err); fe.Code == authflow.CodeInvalidCredentials {
			if rerr := s.RateLimiter.RegisterLoginFailure(ctx, ip); rerr != nil {
				s.Logger.Warn("login: failure counter", zap.Error(rerr))
			}
			s.audit(ctx, r, auth.AuditLoginFailed, "", map[string]interface{}{"email": auth.NormalizeEmail(in.Email)})
		}
		s.writeFlowError(w, r, err)
		return
	}
	s.RateLimiter.ResetLogin(ctx, ip)

	if res.Requires2FA {
		body := map[string]interface{}{
			"success":     true,
			"requires2FA": true,
			"method":      res.Method,
		}
		if res.ExpiresIn > 0 {
			body["expiresIn"] = int64(res.ExpiresIn.Seconds())
		}
		writeJSON(w, http.StatusOK, body)
		return
	}

	s.audit(ctx, r, auth.AuditLogin, res.User.ID, nil)
	writeJSON(w, http.StatusOK, tokenBody(res))
}

func (s *Server) handleVerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var in authflow.TwoFactorInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeBadBody(w)
		return
	}

	res, err := s.Flow.VerifyTwoFactor(r.Context(), in, s.client(r))
	if err != nil {
		s.writeFlowError(w, r, err)
		return
	}
	s.audit(r.Context(), r, auth.AuditTwoFactor, res.User.ID, nil)
	writeJSON(w, http.StatusOK, tokenBody(res))
}

func (s *Server) handleSendTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadBody(w)
		return
	}

	ctx := r.Context()
	key := auth.CooldownKey("2fa", auth.NormalizeEmail(req.Email))
	if !s.startCooldown(w, r, key) {
		return
	}

	if _, err := s.Flow.SendTwoFactorCode(ctx, auth.NormalizeEmail(req.Email), s.client(r)); err != nil {
		s.RateLimiter.ClearCooldown(ctx, key)
		s.writeFlowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "If two-factor sign-in is enabled, a new code has been sent.",
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	user, err := s.Flow.Me(r.Context(), sess.UserID)
	if err != nil {
		s.writeFlowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user":    summarize(user),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	if err := s.Sessions.Revoke(r.Context(), sess); err != nil {
		s.Logger.Error("logout: revoke session", zap.String("sessionId", sess.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, string(authflow.CodeInternal), "Failed to sign out")
		return
	}
	s.audit(r.Context(), r, auth.AuditLogout, sess.UserID, nil)
	w.WriteHeader(http.StatusNoContent)
}
