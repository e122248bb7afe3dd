// Package verification issues, stores and checks one-time numeric codes for
// email verification, SMS verification, two-factor login and password reset.
package verification

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"gardenhub/internal/delivery"
)

type Channel = delivery.Channel

const (
	ChannelEmail = delivery.ChannelEmail
	ChannelSMS   = delivery.ChannelSMS
)

type Purpose string

const (
	PurposeEmailVerification Purpose = "email_verification"
	PurposeTwoFactor         Purpose = "two_factor"
	PurposePasswordReset     Purpose = "password_reset"
)

// Lifetime is how long a freshly issued code stays valid.
func (p Purpose) Lifetime() time.Duration {
	if p == PurposeTwoFactor {
		return 5 * time.Minute
	}
	return 10 * time.Minute
}

// MaxAttempts is the number of wrong guesses that burns a code.
func (p Purpose) MaxAttempts() int {
	if p == PurposeTwoFactor {
		return 3
	}
	return 5
}

// Key identifies the single live code for a subject. Issuing again for the
// same key replaces the previous code.
type Key struct {
	Purpose    Purpose
	Channel    Channel
	Identifier string
}

func NewKey(p Purpose, ch Channel, identifier string) Key {
	identifier = strings.TrimSpace(identifier)
	if ch == ChannelEmail {
		identifier = strings.ToLower(identifier)
	}
	return Key{Purpose: p, Channel: ch, Identifier: identifier}
}

func (k Key) String() string {
	return string(k.Purpose) + ":" + string(k.Channel) + ":" + k.Identifier
}

type PendingCode struct {
	Key         Key
	Code        string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Attempts    int
	MaxAttempts int
}

type Status int

const (
	StatusOK Status = iota
	StatusNotFound
	StatusExpired
	StatusTooManyAttempts
	StatusMismatch
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "not_found"
	case StatusExpired:
		return "expired"
	case StatusTooManyAttempts:
		return "too_many_attempts"
	case StatusMismatch:
		return "mismatch"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Outcome is the result of checking a code. AttemptsRemaining is only
// meaningful for StatusMismatch.
type Outcome struct {
	Status            Status
	AttemptsRemaining int
}

// Store keeps pending codes. The error return is reserved for backend
// failures; expected outcomes are reported through Outcome.
type Store interface {
	Save(ctx context.Context, key Key, code string, lifetime time.Duration) error
	Verify(ctx context.Context, key Key, input string) (Outcome, error)
	SweepExpired(ctx context.Context) (int, error)
}

const codeDigits = 6

var codeSpace = big.NewInt(1_000_000)

// GenerateCode returns a uniformly distributed 6-digit code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, codeSpace)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}
