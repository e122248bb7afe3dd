package auth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	AuditRegister      = "register"
	AuditLogin         = "login"
	AuditLoginFailed   = "login_failed"
	AuditVerifyEmail   = "verify_email"
	AuditVerifyPhone   = "verify_phone"
	AuditTwoFactor     = "two_factor"
	AuditTwoFactorSet  = "two_factor_enabled"
	AuditTwoFactorOff  = "two_factor_disabled"
	AuditLogout        = "logout"
	AuditPasswordReset = "password_reset"
)

type AuditEvent struct {
	EventType string                 `json:"eventType"`
	UserID    string                 `json:"userId,omitempty"`
	IP        string                 `json:"ip"`
	UserAgent string                 `json:"userAgent"`
	Timestamp time.Time              `json:"timestamp"`
	Meta      map[string]interface{} `json:"meta,omitempty"`
}

// AuditLogger appends events to a capped Redis list, one list per user plus
// a global one for anonymous events.
type AuditLogger struct {
	Redis  *redis.Client
	MaxLen int64
}

func (a *AuditLogger) Log(ctx context.Context, e AuditEvent) error {
	e.Timestamp = time.Now().UTC()
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	pipe := a.Redis.Pipeline()
	pipe.RPush(ctx, auditKey(e.UserID), data)
	if a.MaxLen > 0 {
		pipe.LTrim(ctx, auditKey(e.UserID), -a.MaxLen, -1)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Recent returns up to n of the newest events for userID, oldest first.
func (a *AuditLogger) Recent(ctx context.Context, userID string, n int64) ([]AuditEvent, error) {
	raw, err := a.Redis.LRange(ctx, auditKey(userID), -n, -1).Result()
	if err != nil {
		return nil, err
	}
	events := make([]AuditEvent, 0, len(raw))
	for _, item := range raw {
		var e AuditEvent
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

func auditKey(userID string) string {
	if userID == "" {
		return "audit"
	}
	return "audit:" + userID
}
