package server

import (
	"net/http"

	"gardenhub/internal/auth"
)

type twoFactorRequest struct {
	Method string `json:"method"`
	Code   string `json:"code,omitempty"`
}

func (s *Server) handleTwoFactorSetup(w http.ResponseWriter, r *http.Request) {
	var req twoFactorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadBody(w)
		return
	}

	sess := sessionFromContext(r.Context())
	setup, err := s.Flow.BeginTwoFactorSetup(r.Context(), sess.UserID, req.Method, s.client(r))
	if err != nil {
		s.writeFlowError(w, r, err)
		return
	}

	body := map[string]interface{}{
		"success": true,
		"method":  setup.Method,
	}
	if setup.Method == auth.TwoFactorApp {
		body["secret"] = setup.Secret
		body["otpauthUrl"] = setup.OTPAuthURL
		body["qrCode"] = setup.QRCode
	} else {
		body["expiresIn"] = int64(setup.ExpiresIn.Seconds())
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleTwoFactorConfirm(w http.ResponseWriter, r *http.Request) {
	var req twoFactorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadBody(w)
		return
	}

	sess := sessionFromContext(r.Context())
	user, err := s.Flow.ConfirmTwoFactorSetup(r.Context(), sess.UserID, req.Method, req.Code)
	if err != nil {
		s.writeFlowError(w, r, err)
		return
	}
	s.audit(r.Context(), r, auth.AuditTwoFactorSet, user.ID, map[string]interface{}{"method": user.TwoFactorMethod})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"user":    summarize(user),
	})
}

func (s *Server) handleTwoFactorDisable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeBadBody(w)
		return
	}

	sess := sessionFromContext(r.Context())
	if err := s.Flow.DisableTwoFactor(r.Context(), sess.UserID, req.Password); err != nil {
		s.writeFlowError(w, r, err)
		return
	}
	s.audit(r.Context(), r, auth.AuditTwoFactorOff, sess.UserID, nil)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
