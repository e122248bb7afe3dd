package verification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"gardenhub/internal/delivery"
	"gardenhub/internal/i18n"
	"gardenhub/internal/metrics"
)

var ErrDeliveryFailed = errors.New("failed to send verification code")

type ErrorKind string

const (
	KindNone            ErrorKind = ""
	KindNotFound        ErrorKind = "CODE_NOT_FOUND"
	KindExpired         ErrorKind = "CODE_EXPIRED"
	KindTooManyAttempts ErrorKind = "TOO_MANY_ATTEMPTS"
	KindInvalid         ErrorKind = "INVALID_CODE"
)

type SendResult struct {
	ExpiresIn time.Duration
}

type VerifyResult struct {
	OK                bool
	Kind              ErrorKind
	AttemptsRemaining int
}

func (r VerifyResult) Message() string {
	switch r.Kind {
	case KindNone:
		return "Code verified"
	case KindNotFound:
		return "No verification code found. Please request a new one."
	case KindExpired:
		return "Verification code has expired. Please request a new one."
	case KindTooManyAttempts:
		return "Too many failed attempts. Please request a new code."
	case KindInvalid:
		if r.AttemptsRemaining == 1 {
			return "Invalid verification code. 1 attempt remaining."
		}
		return fmt.Sprintf("Invalid verification code. %d attempts remaining.", r.AttemptsRemaining)
	}
	return "Verification failed"
}

// Coordinator issues codes through a Store and hands them to a delivery
// Gateway, and translates store outcomes for callers.
type Coordinator struct {
	store    Store
	gateway  delivery.Gateway
	logger   *zap.Logger
	generate func() (string, error)
}

type CoordinatorOption func(*Coordinator)

// WithCodeGenerator replaces the random generator. Used by tests.
func WithCodeGenerator(fn func() (string, error)) CoordinatorOption {
	return func(c *Coordinator) { c.generate = fn }
}

func NewCoordinator(store Store, gateway delivery.Gateway, logger *zap.Logger, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:    store,
		gateway:  gateway,
		logger:   logger.Named("verification"),
		generate: GenerateCode,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) SendEmailVerification(ctx context.Context, email, name, locale string) (SendResult, error) {
	key := NewKey(PurposeEmailVerification, ChannelEmail, email)
	return c.issue(ctx, key, func(code string, minutes int) i18n.Content {
		return i18n.VerificationEmail(locale, name, code, minutes)
	})
}

func (c *Coordinator) SendSMSVerification(ctx context.Context, phone, _, locale string) (SendResult, error) {
	key := NewKey(PurposeEmailVerification, ChannelSMS, phone)
	return c.issue(ctx, key, func(code string, minutes int) i18n.Content {
		return i18n.VerificationSMS(locale, code, minutes)
	})
}

// SendTwoFactorCode sends a login code to identifier, which is an email
// address or phone number depending on ch.
func (c *Coordinator) SendTwoFactorCode(ctx context.Context, identifier string, ch Channel, name, locale string) (SendResult, error) {
	key := NewKey(PurposeTwoFactor, ch, identifier)
	return c.issue(ctx, key, func(code string, minutes int) i18n.Content {
		if ch == ChannelSMS {
			return i18n.TwoFactorSMS(locale, code, minutes)
		}
		return i18n.TwoFactorEmail(locale, name, code, minutes)
	})
}

func (c *Coordinator) SendPasswordReset(ctx context.Context, email, name, locale string) (SendResult, error) {
	key := NewKey(PurposePasswordReset, ChannelEmail, email)
	return c.issue(ctx, key, func(code string, minutes int) i18n.Content {
		return i18n.PasswordResetEmail(locale, name, code, minutes)
	})
}

// SendWelcome delivers the post-verification welcome email. It does not
// touch the code store.
func (c *Coordinator) SendWelcome(ctx context.Context, email, name, locale string) error {
	content := i18n.WelcomeEmail(locale, name)
	err := c.gateway.Send(ctx, delivery.Message{
		Channel: ChannelEmail,
		To:      strings.ToLower(strings.TrimSpace(email)),
		Subject: content.Subject,
		Text:    content.Text,
		HTML:    content.HTML,
	})
	if err != nil {
		metrics.DeliveryFailures.WithLabelValues(string(ChannelEmail)).Inc()
		return fmt.Errorf("send welcome email: %w", err)
	}
	return nil
}

func (c *Coordinator) VerifyEmailCode(ctx context.Context, email, code string) (VerifyResult, error) {
	return c.verify(ctx, NewKey(PurposeEmailVerification, ChannelEmail, email), code)
}

func (c *Coordinator) VerifySMSCode(ctx context.Context, phone, code string) (VerifyResult, error) {
	return c.verify(ctx, NewKey(PurposeEmailVerification, ChannelSMS, phone), code)
}

func (c *Coordinator) VerifyTwoFactorCode(ctx context.Context, identifier, code string, ch Channel) (VerifyResult, error) {
	return c.verify(ctx, NewKey(PurposeTwoFactor, ch, identifier), code)
}

func (c *Coordinator) VerifyPasswordResetCode(ctx context.Context, email, code string) (VerifyResult, error) {
	return c.verify(ctx, NewKey(PurposePasswordReset, ChannelEmail, email), code)
}

func (c *Coordinator) issue(ctx context.Context, key Key, render func(code string, minutes int) i18n.Content) (SendResult, error) {
	code, err := c.generate()
	if err != nil {
		return SendResult{}, err
	}
	lifetime := key.Purpose.Lifetime()
	if err := c.store.Save(ctx, key, code, lifetime); err != nil {
		return SendResult{}, fmt.Errorf("store code: %w", err)
	}
	metrics.CodesIssued.WithLabelValues(string(key.Purpose), string(key.Channel)).Inc()

	content := render(code, int(lifetime/time.Minute))
	msg := delivery.Message{
		Channel: key.Channel,
		To:      key.Identifier,
		Subject: content.Subject,
		Text:    content.Text,
		HTML:    content.HTML,
	}
	if err := c.gateway.Send(ctx, msg); err != nil {
		metrics.DeliveryFailures.WithLabelValues(string(key.Channel)).Inc()
		c.logger.Warn("code delivery failed",
			zap.String("purpose", string(key.Purpose)),
			zap.String("channel", string(key.Channel)),
			zap.Error(err),
		)
		return SendResult{ExpiresIn: lifetime}, fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}
	return SendResult{ExpiresIn: lifetime}, nil
}

func (c *Coordinator) verify(ctx context.Context, key Key, input string) (VerifyResult, error) {
	out, err := c.store.Verify(ctx, key, strings.TrimSpace(input))
	if err != nil {
		return VerifyResult{}, err
	}
	metrics.CodeChecks.WithLabelValues(string(key.Purpose), out.Status.String()).Inc()

	switch out.Status {
	case StatusOK:
		return VerifyResult{OK: true}, nil
	case StatusNotFound:
		return VerifyResult{Kind: KindNotFound}, nil
	case StatusExpired:
		return VerifyResult{Kind: KindExpired}, nil
	case StatusTooManyAttempts:
		return VerifyResult{Kind: KindTooManyAttempts}, nil
	case StatusMismatch:
		return VerifyResult{Kind: KindInvalid, AttemptsRemaining: out.AttemptsRemaining}, nil
	}
	return VerifyResult{}, fmt.Errorf("unexpected code status %s", out.Status)
}
