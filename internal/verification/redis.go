package verification

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// expiredGrace keeps a record in Redis past its logical expiry so a late
// guess is answered with StatusExpired instead of StatusNotFound.
const expiredGrace = 10 * time.Minute

// verifyScript checks and consumes a code atomically.
// KEYS[1] record key, ARGV[1] sha256 of the input, ARGV[2] now in unix ms.
// Returns {status, attemptsRemaining}.
var verifyScript = redis.NewScript(`
local rec = redis.call('HMGET', KEYS[1], 'hash', 'attempts', 'max', 'expires')
if not rec[1] then
  return {'not_found', 0}
end
local attempts = tonumber(rec[2])
local max = tonumber(rec[3])
local expires = tonumber(rec[4])
if tonumber(ARGV[2]) > expires then
  redis.call('DEL', KEYS[1])
  return {'expired', 0}
end
if attempts >= max then
  redis.call('DEL', KEYS[1])
  return {'too_many_attempts', 0}
end
if rec[1] == ARGV[1] then
  redis.call('DEL', KEYS[1])
  return {'ok', 0}
end
attempts = redis.call('HINCRBY', KEYS[1], 'attempts', 1)
if attempts >= max then
  redis.call('DEL', KEYS[1])
  return {'too_many_attempts', 0}
end
return {'mismatch', max - attempts}
`)

// RedisStore shares pending codes between service instances. Only a hash of
// the code is stored.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "vcode"
	}
	return &RedisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisStore) key(k Key) string {
	return s.prefix + ":" + k.String()
}

func (s *RedisStore) Save(ctx context.Context, key Key, code string, lifetime time.Duration) error {
	now := s.now()
	rk := s.key(key)

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, rk)
	pipe.HSet(ctx, rk, map[string]interface{}{
		"hash":     hashCode(code),
		"attempts": 0,
		"max":      key.Purpose.MaxAttempts(),
		"created":  now.UnixMilli(),
		"expires":  now.Add(lifetime).UnixMilli(),
	})
	pipe.PExpire(ctx, rk, lifetime+expiredGrace)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save code %s: %w", key.Purpose, err)
	}
	return nil
}

func (s *RedisStore) Verify(ctx context.Context, key Key, input string) (Outcome, error) {
	res, err := verifyScript.Run(ctx, s.client, []string{s.key(key)}, hashCode(input), s.now().UnixMilli()).Slice()
	if err != nil {
		return Outcome{}, fmt.Errorf("verify code %s: %w", key.Purpose, err)
	}
	if len(res) != 2 {
		return Outcome{}, fmt.Errorf("verify code %s: unexpected reply %v", key.Purpose, res)
	}
	status, _ := res[0].(string)
	remaining, _ := res[1].(int64)

	switch status {
	case "ok":
		return Outcome{Status: StatusOK}, nil
	case "not_found":
		return Outcome{Status: StatusNotFound}, nil
	case "expired":
		return Outcome{Status: StatusExpired}, nil
	case "too_many_attempts":
		return Outcome{Status: StatusTooManyAttempts}, nil
	case "mismatch":
		return Outcome{Status: StatusMismatch, AttemptsRemaining: int(remaining)}, nil
	}
	return Outcome{}, fmt.Errorf("verify code %s: unknown status %q", key.Purpose, status)
}

// SweepExpired is a no-op: Redis evicts records through their TTL.
func (s *RedisStore) SweepExpired(context.Context) (int, error) {
	return 0, nil
}

func hashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}
