package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Session struct {
	ID                string    `json:"id"`
	UserID            string    `json:"userId"`
	Role              string    `json:"role"`
	IP                string    `json:"ip"`
	UserAgent         string    `json:"userAgent"`
	ExpiresAt         time.Time `json:"expiresAt"`
	LoginTime         time.Time `json:"loginTime"`
	TwoFactorVerified bool      `json:"twoFactorVerified"`
}

// SessionStore records issued tokens in Redis so they can be revoked before
// their JWT expiry. Each user also has a set of their session ids.
type SessionStore struct {
	Redis *redis.Client
}

func sessionKey(id string) string {
	return "session:" + id
}

func userSessionsKey(userID string) string {
	return "user_sessions:" + userID
}

func (s *SessionStore) Create(ctx context.Context, sess Session) error {
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Minute
	}

	pipe := s.Redis.TxPipeline()
	pipe.HSet(ctx, sessionKey(sess.ID), map[string]interface{}{
		"userId":            sess.UserID,
		"role":              sess.Role,
		"ipAddress":         sess.IP,
		"userAgent":         sess.UserAgent,
		"expires":           sess.ExpiresAt.Unix(),
		"loginTime":         sess.LoginTime.Unix(),
		"twoFactorVerified": sess.TwoFactorVerified,
	})
	pipe.Expire(ctx, sessionKey(sess.ID), ttl)
	pipe.SAdd(ctx, userSessionsKey(sess.UserID), sess.ID)
	pipe.Expire(ctx, userSessionsKey(sess.UserID), ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *SessionStore) Get(ctx context.Context, id string) (*Session, error) {
	vals, err := s.Redis.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}

	expUnix, _ := strconv.ParseInt(vals["expires"], 10, 64)
	loginUnix, _ := strconv.ParseInt(vals["loginTime"], 10, 64)

	sess := &Session{
		ID:                id,
		UserID:            vals["userId"],
		Role:              vals["role"],
		IP:                vals["ipAddress"],
		UserAgent:         vals["userAgent"],
		ExpiresAt:         time.Unix(expUnix, 0),
		LoginTime:         time.Unix(loginUnix, 0),
		TwoFactorVerified: vals["twoFactorVerified"] == "1" || strings.ToLower(vals["twoFactorVerified"]) == "true",
	}

	if sess.ExpiresAt.Before(time.Now()) {
		_ = s.Delete(ctx, sess.UserID, id)
		return nil, nil
	}
	return sess, nil
}

func (s *SessionStore) Delete(ctx context.Context, userID, id string) error {
	pipe := s.Redis.TxPipeline()
	pipe.Del(ctx, sessionKey(id))
	if userID != "" {
		pipe.SRem(ctx, userSessionsKey(userID), id)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *SessionStore) DeleteByUser(ctx context.Context, userID string) error {
	ids, err := s.Redis.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil {
		return err
	}
	pipe := s.Redis.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, sessionKey(id))
	}
	pipe.Del(ctx, userSessionsKey(userID))
	_, err = pipe.Exec(ctx)
	return err
}

func (s *SessionStore) ListForUser(ctx context.Context, userID string) ([]Session, error) {
	ids, err := s.Redis.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	var sessions []Session
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if sess != nil {
			sessions = append(sessions, *sess)
		}
	}
	return sessions, nil
}

func NewSessionID() string {
	return uuid.NewString()
}

// ClientInfo describes the caller a session is issued to.
type ClientInfo struct {
	IP        string
	UserAgent string
}

type IssuedToken struct {
	Token     string
	SessionID string
	ExpiresAt time.Time
}

// SessionIssuer ties signed tokens to revocable Redis sessions.
type SessionIssuer struct {
	Tokens   *TokenManager
	Sessions *SessionStore
}

func (i *SessionIssuer) Issue(ctx context.Context, user *User, client ClientInfo, twoFactorVerified bool) (IssuedToken, error) {
	sid := NewSessionID()
	token, exp, err := i.Tokens.Sign(user.ID, user.Role, sid)
	if err != nil {
		return IssuedToken{}, err
	}
	err = i.Sessions.Create(ctx, Session{
		ID:                sid,
		UserID:            user.ID,
		Role:              user.Role,
		IP:                client.IP,
		UserAgent:         client.UserAgent,
		ExpiresAt:         exp,
		LoginTime:         time.Now(),
		TwoFactorVerified: twoFactorVerified,
	})
	if err != nil {
		return IssuedToken{}, fmt.Errorf("create session: %w", err)
	}
	return IssuedToken{Token: token, SessionID: sid, ExpiresAt: exp}, nil
}

// Authenticate resolves a bearer token to its live session.
func (i *SessionIssuer) Authenticate(ctx context.Context, token string) (*Session, error) {
	claims, err := i.Tokens.Parse(token)
	if err != nil {
		return nil, err
	}
	sess, err := i.Sessions.Get(ctx, claims.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil || sess.UserID != claims.Subject {
		return nil, ErrInvalidToken
	}
	return sess, nil
}

func (i *SessionIssuer) Revoke(ctx context.Context, sess *Session) error {
	if sess == nil {
		return errors.New("nil session")
	}
	return i.Sessions.Delete(ctx, sess.UserID, sess.ID)
}

func (i *SessionIssuer) RevokeUser(ctx context.Context, userID string) error {
	return i.Sessions.DeleteByUser(ctx, userID)
}
