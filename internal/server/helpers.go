package server

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"gardenhub/internal/auth"
	"gardenhub/internal/authflow"
	"gardenhub/internal/i18n"
)

const (
	codeRateLimited  = "RATE_LIMITED"
	codeUnauthorized = "UNAUTHORIZED"
	codeForbidden    = "FORBIDDEN"
)

// statusByCode is the single mapping from flow error codes to HTTP status.
var statusByCode = map[authflow.Code]int{
	authflow.CodeValidation:          http.StatusBadRequest,
	authflow.CodeUserExists:          http.StatusBadRequest,
	authflow.CodeAlreadyVerified:     http.StatusBadRequest,
	authflow.CodePhoneRequired:       http.StatusBadRequest,
	authflow.CodeNotFound:            http.StatusBadRequest,
	authflow.CodeExpired:             http.StatusBadRequest,
	authflow.CodeTooManyAttempts:     http.StatusBadRequest,
	authflow.CodeInvalidCode:         http.StatusBadRequest,
	authflow.CodeInvalidCredentials:  http.StatusUnauthorized,
	authflow.CodeEmailNotVerified:    http.StatusForbidden,
	authflow.CodeTwoFactorNotEnabled: http.StatusForbidden,
	authflow.CodeUserNotFound:        http.StatusNotFound,
	authflow.CodeDeliveryFailed:      http.StatusInternalServerError,
	authflow.CodeInternal:            http.StatusInternalServerError,
}

func statusForCode(code authflow.Code) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

type errorResponse struct {
	Success           bool              `json:"success"`
	Message           string            `json:"message"`
	Code              string            `json:"code"`
	ErrorCode         string            `json:"errorCode"`
	AttemptsRemaining int               `json:"attemptsRemaining,omitempty"`
	RetryAfter        int64             `json:"retryAfter,omitempty"`
	Details           map[string]string `json:"details,omitempty"`
	Detail            string            `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Message: message, Code: code, ErrorCode: code})
}

func writeRateLimited(w http.ResponseWriter, message string, retryAfter time.Duration) {
	secs := int64(retryAfter.Seconds())
	if secs < 1 {
		secs = 1
	}
	writeJSON(w, http.StatusTooManyRequests, errorResponse{
		Message:    message,
		Code:       codeRateLimited,
		ErrorCode:  codeRateLimited,
		RetryAfter: secs,
	})
}

// writeFlowError renders any error returned by the flow. Server-side failures
// are logged with their cause; only delivery failures echo it.
func (s *Server) writeFlowError(w http.ResponseWriter, r *http.Request, err error) {
	fe := authflow.AsError(err)
	status := statusForCode(fe.Code)
	if status >= http.StatusInternalServerError {
		s.Logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("code", string(fe.Code)),
			zap.Error(fe.Cause),
		)
	}
	resp := errorResponse{
		Message:           fe.Message,
		Code:              string(fe.Code),
		ErrorCode:         string(fe.Code),
		AttemptsRemaining: fe.AttemptsRemaining,
		Details:           fe.Details,
	}
	// Delivery failures expose the transport error. Other causes stay in the log.
	if fe.Code == authflow.CodeDeliveryFailed && fe.Cause != nil {
		resp.Detail = fe.Cause.Error()
	}
	writeJSON(w, status, resp)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeBadBody(w http.ResponseWriter) {
	writeError(w, http.StatusBadRequest, string(authflow.CodeValidation), "Invalid request body")
}

func (s *Server) client(r *http.Request) authflow.Client {
	return authflow.Client{
		IP:        clientIP(r, s.trustedProxies),
		UserAgent: r.UserAgent(),
		Locale:    i18n.LocaleFromRequest(r),
	}
}

type userSummary struct {
	ID               string                  `json:"id"`
	Name             string                  `json:"name"`
	Email            string                  `json:"email"`
	Phone            string                  `json:"phone,omitempty"`
	Role             string                  `json:"role"`
	EmailVerified    bool                    `json:"emailVerified"`
	PhoneVerified    bool                    `json:"phoneVerified"`
	TwoFactorEnabled bool                    `json:"twoFactorEnabled"`
	TwoFactorMethod  string                  `json:"twoFactorMethod,omitempty"`
	Gardens          []auth.GardenMembership `json:"gardens"`
	CreatedAt        time.Time               `json:"createdAt"`
}

func summarize(u *auth.User) userSummary {
	gardens := u.Gardens
	if gardens == nil {
		gardens = []auth.GardenMembership{}
	}
	return userSummary{
		ID:               u.ID,
		Name:             u.Name,
		Email:            u.Email,
		Phone:            u.Phone,
		Role:             u.Role,
		EmailVerified:    u.EmailVerified,
		PhoneVerified:    u.PhoneVerified,
		TwoFactorEnabled: u.TwoFactorEnabled,
		TwoFactorMethod:  u.TwoFactorMethod,
		Gardens:          gardens,
		CreatedAt:        u.CreatedAt,
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func clientIP(r *http.Request, trusted []net.IPNet) string {
	remoteHost, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || remoteHost == "" {
		remoteHost = r.RemoteAddr
	}

	// Only trust forwarded headers when the immediate sender is a trusted proxy.
	if remoteHost != "" && isTrustedProxy(remoteHost, trusted) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}
		if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
			return strings.TrimSpace(xrip)
		}
	}

	return remoteHost
}

func parseProxyCIDRs(values []string) []net.IPNet {
	var nets []net.IPNet
	for _, v := range values {
		val := strings.TrimSpace(v)
		if val == "" {
			continue
		}
		if ip := net.ParseIP(val); ip != nil {
			mask := net.CIDRMask(128, 128)
			if ip.To4() != nil {
				mask = net.CIDRMask(32, 32)
			}
			nets = append(nets, net.IPNet{IP: ip, Mask: mask})
			continue
		}
		if _, cidr, err := net.ParseCIDR(val); err == nil {
			nets = append(nets, *cidr)
		}
	}
	return nets
}

func isTrustedProxy(ipStr string, proxies []net.IPNet) bool {
	if len(proxies) == 0 {
		return false
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, n := range proxies {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
