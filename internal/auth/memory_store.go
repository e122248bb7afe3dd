package auth

import (
	"context"
	"sync"
	"time"
)

// MemoryUserStore keeps users in process memory. Used by tests and
// USER_STORE=memory.
type MemoryUserStore struct {
	mu      sync.RWMutex
	byID    map[string]*User
	byEmail map[string]string
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byID:    make(map[string]*User),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryUserStore) Create(_ context.Context, u *User) error {
	email := NormalizeEmail(u.Email)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[email]; ok {
		return ErrEmailTaken
	}
	u.Email = email
	s.byID[u.ID] = cloneUser(u)
	s.byEmail[email] = u.ID
	return nil
}

func (s *MemoryUserStore) FindByEmail(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, nil
	}
	return cloneUser(s.byID[id]), nil
}

func (s *MemoryUserStore) FindByID(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	return cloneUser(u), nil
}

func (s *MemoryUserStore) MarkEmailVerified(_ context.Context, id string, at time.Time) (bool, error) {
	var changed bool
	err := s.update(id, func(u *User) {
		if u.EmailVerified {
			return
		}
		u.EmailVerified = true
		u.EmailVerifiedAt = &at
		u.UpdatedAt = at
		changed = true
	})
	return changed, err
}

func (s *MemoryUserStore) MarkPhoneVerified(_ context.Context, id string, at time.Time) error {
	return s.update(id, func(u *User) {
		u.PhoneVerified = true
		u.PhoneVerifiedAt = &at
		u.UpdatedAt = at
	})
}

func (s *MemoryUserStore) UpdatePassword(_ context.Context, id, hash string) error {
	return s.update(id, func(u *User) {
		u.PasswordHash = hash
		u.UpdatedAt = time.Now().UTC()
	})
}

func (s *MemoryUserStore) SetTwoFactorSecret(_ context.Context, id, method string, secret *string) error {
	return s.update(id, func(u *User) {
		u.TwoFactorMethod = method
		u.TwoFactorSecret = secret
		u.UpdatedAt = time.Now().UTC()
	})
}

func (s *MemoryUserStore) EnableTwoFactor(_ context.Context, id, method string) error {
	return s.update(id, func(u *User) {
		u.TwoFactorEnabled = true
		u.TwoFactorMethod = method
		u.UpdatedAt = time.Now().UTC()
	})
}

func (s *MemoryUserStore) DisableTwoFactor(_ context.Context, id string) error {
	return s.update(id, func(u *User) {
		u.TwoFactorEnabled = false
		u.TwoFactorMethod = ""
		u.TwoFactorSecret = nil
		u.UpdatedAt = time.Now().UTC()
	})
}

func (s *MemoryUserStore) update(id string, fn func(*User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return ErrUserNotFound
	}
	fn(u)
	return nil
}

func cloneUser(u *User) *User {
	c := *u
	if u.Gardens != nil {
		c.Gardens = append([]GardenMembership(nil), u.Gardens...)
	}
	return &c
}
