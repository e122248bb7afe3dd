package auth

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter holds the Redis counters and cooldowns that throttle abuse of
// the public auth endpoints.
type RateLimiter struct {
	Redis *redis.Client
}

const (
	loginMaxAttempts         = 5
	loginAttemptTTL          = 10 * time.Minute
	loginBanTTL              = 1 * time.Hour
	twoFAMaxAttempts         = 5
	twoFAAttemptTTL          = 10 * time.Minute
	resetMaxAttempts         = 5
	resetAttemptTTL          = 15 * time.Minute
	registerMaxAttemptsIP    = 10
	registerAttemptTTLIP     = 30 * time.Minute
	registerMaxAttemptsEmail = 3
	registerAttemptTTLEmail  = 30 * time.Minute

	// SendCooldown spaces out code sends to the same address.
	SendCooldown = 60 * time.Second
)

func (r *RateLimiter) loginAttemptKey(ip string) string {
	return "login_attempts:" + ip
}

func (r *RateLimiter) loginBanKey(ip string) string {
	return "login_ban:" + ip
}

func (r *RateLimiter) twoFAKey(userID string) string {
	return "2fa_attempts:" + userID
}

func (r *RateLimiter) resetAttemptEmailKey(email string) string {
	if email == "" {
		return ""
	}
	return "reset_attempts:" + strings.ToLower(email)
}

func (r *RateLimiter) resetAttemptIPKey(ip string) string {
	if ip == "" {
		return ""
	}
	return "reset_attempts_ip:" + ip
}

func (r *RateLimiter) registerAttemptIPKey(ip string) string {
	if ip == "" {
		return ""
	}
	return "register_attempts_ip:" + ip
}

func (r *RateLimiter) registerAttemptEmailKey(email string) string {
	if email == "" {
		return ""
	}
	return "register_attempts_email:" + strings.ToLower(email)
}

// CooldownKey names the cooldown for sending kind (resend, 2fa, reset) to
// identifier.
func CooldownKey(kind, identifier string) string {
	return "cooldown:" + kind + ":" + strings.ToLower(strings.TrimSpace(identifier))
}

func (r *RateLimiter) IsIPBanned(ctx context.Context, ip string) bool {
	exists, _ := r.Redis.Exists(ctx, r.loginBanKey(ip)).Result()
	return exists == 1
}

func (r *RateLimiter) RegisterLoginFailure(ctx context.Context, ip string) error {
	key := r.loginAttemptKey(ip)

	attempts, err := r.Redis.Incr(ctx, key).Result()
	if err != nil {
		return err
	}
	if attempts == 1 {
		r.Redis.Expire(ctx, key, loginAttemptTTL)
	}
	if attempts >= loginMaxAttempts {
		r.Redis.Set(ctx, r.loginBanKey(ip), "1", loginBanTTL)
		r.Redis.Expire(ctx, key, loginBanTTL)
	}
	return nil
}

func (r *RateLimiter) ResetLogin(ctx context.Context, ip string) {
	r.Redis.Del(ctx, r.loginAttemptKey(ip))
}

// Register2FAFailure counts failed authenticator-app codes, which have no
// stored code to burn. It reports true once the user is locked out.
func (r *RateLimiter) Register2FAFailure(ctx context.Context, userID string) (bool, error) {
	key := r.twoFAKey(userID)
	attempts, err := r.Redis.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if attempts == 1 {
		r.Redis.Expire(ctx, key, twoFAAttemptTTL)
	}
	return attempts >= twoFAMaxAttempts, nil
}

func (r *RateLimiter) TwoFALocked(ctx context.Context, userID string) (bool, error) {
	n, err := r.Redis.Get(ctx, r.twoFAKey(userID)).Int64()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n >= twoFAMaxAttempts, nil
}

func (r *RateLimiter) Reset2FA(ctx context.Context, userID string) {
	r.Redis.Del(ctx, r.twoFAKey(userID))
}

func (r *RateLimiter) RegisterResetAttempt(ctx context.Context, email, ip string) (bool, time.Duration, error) {
	return r.countAll(ctx, []attemptWindow{
		{r.resetAttemptEmailKey(email), resetMaxAttempts, resetAttemptTTL},
		{r.resetAttemptIPKey(ip), resetMaxAttempts, resetAttemptTTL},
	})
}

func (r *RateLimiter) RegisterRegisterAttempt(ctx context.Context, email, ip string) (bool, time.Duration, error) {
	return r.countAll(ctx, []attemptWindow{
		{r.registerAttemptIPKey(ip), registerMaxAttemptsIP, registerAttemptTTLIP},
		{r.registerAttemptEmailKey(email), registerMaxAttemptsEmail, registerAttemptTTLEmail},
	})
}

// Cooldown starts a cooldown on key unless one is already running. It
// returns the remaining wait and false when the caller must back off.
func (r *RateLimiter) Cooldown(ctx context.Context, key string, ttl time.Duration) (time.Duration, bool, error) {
	ok, err := r.Redis.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return 0, false, err
	}
	if ok {
		return 0, true, nil
	}
	remaining, err := r.Redis.TTL(ctx, key).Result()
	if err != nil {
		return 0, false, err
	}
	return remaining, false, nil
}

func (r *RateLimiter) ClearCooldown(ctx context.Context, key string) {
	r.Redis.Del(ctx, key)
}

type attemptWindow struct {
	key string
	max int64
	ttl time.Duration
}

func (r *RateLimiter) countAll(ctx context.Context, windows []attemptWindow) (bool, time.Duration, error) {
	locked := false
	var ttlMax time.Duration

	for _, w := range windows {
		if w.key == "" {
			continue
		}
		attempts, err := r.Redis.Incr(ctx, w.key).Result()
		if err != nil {
			return false, 0, err
		}
		if attempts == 1 {
			r.Redis.Expire(ctx, w.key, w.ttl)
		}
		if attempts > w.max {
			locked = true
		}
		if ttl, _ := r.Redis.TTL(ctx, w.key).Result(); ttl > ttlMax {
			ttlMax = ttl
		}
	}
	return locked, ttlMax, nil
}
