package verification

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"
)

// MemoryStore is a process-local Store. One mutex covers the whole
// check-increment-delete sequence so concurrent guesses against the same key
// cannot both pass the attempt limit.
type MemoryStore struct {
	mu    sync.Mutex
	codes map[Key]*PendingCode
	now   func() time.Time
}

type MemoryOption func(*MemoryStore)

func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		codes: make(map[Key]*PendingCode),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Save(_ context.Context, key Key, code string, lifetime time.Duration) error {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[key] = &PendingCode{
		Key:         key,
		Code:        code,
		CreatedAt:   now,
		ExpiresAt:   now.Add(lifetime),
		MaxAttempts: key.Purpose.MaxAttempts(),
	}
	return nil
}

func (s *MemoryStore) Verify(_ context.Context, key Key, input string) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pc, ok := s.codes[key]
	if !ok {
		return Outcome{Status: StatusNotFound}, nil
	}
	if s.now().After(pc.ExpiresAt) {
		delete(s.codes, key)
		return Outcome{Status: StatusExpired}, nil
	}
	if pc.Attempts >= pc.MaxAttempts {
		delete(s.codes, key)
		return Outcome{Status: StatusTooManyAttempts}, nil
	}
	if subtle.ConstantTimeCompare([]byte(pc.Code), []byte(input)) == 1 {
		delete(s.codes, key)
		return Outcome{Status: StatusOK}, nil
	}

	pc.Attempts++
	if pc.Attempts >= pc.MaxAttempts {
		delete(s.codes, key)
		return Outcome{Status: StatusTooManyAttempts}, nil
	}
	return Outcome{Status: StatusMismatch, AttemptsRemaining: pc.MaxAttempts - pc.Attempts}, nil
}

func (s *MemoryStore) SweepExpired(_ context.Context) (int, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, pc := range s.codes {
		if pc.ExpiresAt.Before(now) {
			delete(s.codes, key)
			removed++
		}
	}
	return removed, nil
}

// Pending returns a copy of the live code for key, if any.
func (s *MemoryStore) Pending(key Key) (PendingCode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pc, ok := s.codes[key]
	if !ok {
		return PendingCode{}, false
	}
	return *pc, true
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.codes)
}
