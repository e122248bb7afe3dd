// Package authflow implements the account lifecycle: registration, email and
// phone verification, login with an optional second factor, and password
// reset. State is re-derived from the stored user on every call.
package authflow

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"gardenhub/internal/auth"
	"gardenhub/internal/metrics"
	"gardenhub/internal/verification"
)

// TokenIssuer creates and revokes session tokens.
type TokenIssuer interface {
	Issue(ctx context.Context, user *auth.User, client auth.ClientInfo, twoFactorVerified bool) (auth.IssuedToken, error)
	RevokeUser(ctx context.Context, userID string) error
}

// TwoFactorLimiter counts failed second-factor codes per account, across
// re-issued codes, and spaces out login code dispatch.
type TwoFactorLimiter interface {
	Register2FAFailure(ctx context.Context, userID string) (bool, error)
	TwoFALocked(ctx context.Context, userID string) (bool, error)
	Reset2FA(ctx context.Context, userID string)
	Cooldown(ctx context.Context, key string, ttl time.Duration) (time.Duration, bool, error)
	ClearCooldown(ctx context.Context, key string)
}

// Client describes who is calling.
type Client struct {
	IP        string
	UserAgent string
	Locale    string
}

func (c Client) info() auth.ClientInfo {
	return auth.ClientInfo{IP: c.IP, UserAgent: c.UserAgent}
}

type Deps struct {
	Users   auth.UserStore
	Codes   *verification.Coordinator
	Hasher  auth.PasswordHasher
	Tokens  TokenIssuer
	TOTP    auth.TOTPVerifier
	Limiter TwoFactorLimiter
	Logger  *zap.Logger
	Now     func() time.Time
}

type Flow struct {
	users    auth.UserStore
	codes    *verification.Coordinator
	hasher   auth.PasswordHasher
	tokens   TokenIssuer
	totp     auth.TOTPVerifier
	limiter  TwoFactorLimiter
	logger   *zap.Logger
	now      func() time.Time
	validate *validator.Validate
	newID    func() string

	requireEmailVerification bool
}

// New builds a Flow. With requireEmailVerification false, accounts are marked
// verified at registration and no code is sent.
func New(deps Deps, requireEmailVerification bool) *Flow {
	f := &Flow{
		users:                    deps.Users,
		codes:                    deps.Codes,
		hasher:                   deps.Hasher,
		tokens:                   deps.Tokens,
		totp:                     deps.TOTP,
		limiter:                  deps.Limiter,
		logger:                   deps.Logger,
		now:                      deps.Now,
		validate:                 newValidator(),
		newID:                    uuid.NewString,
		requireEmailVerification: requireEmailVerification,
	}
	if f.logger == nil {
		f.logger = zap.NewNop()
	}
	f.logger = f.logger.Named("authflow")
	if f.now == nil {
		f.now = time.Now
	}
	return f
}

// AuthResult is returned by every transition that can end authenticated.
// Token is empty when Requires2FA or AlreadyVerified is set. ExpiresIn is
// zero when login kept a code that is still live.
type AuthResult struct {
	User            *auth.User
	Token           auth.IssuedToken
	AlreadyVerified bool
	Requires2FA     bool
	Method          string
	ExpiresIn       time.Duration
}

type SendResult struct {
	Channel   verification.Channel
	ExpiresIn time.Duration
}

func (f *Flow) Me(ctx context.Context, userID string) (*auth.User, error) {
	user, err := f.users.FindByID(ctx, userID)
	if err != nil {
		return nil, internalError(err)
	}
	if user == nil {
		return nil, newError(CodeUserNotFound, "User not found")
	}
	return user, nil
}

func (f *Flow) userByEmail(ctx context.Context, email string) (*auth.User, *Error) {
	user, err := f.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, internalError(err)
	}
	if user == nil {
		return nil, newError(CodeUserNotFound, "User not found")
	}
	return user, nil
}

func (f *Flow) userByID(ctx context.Context, id string) (*auth.User, *Error) {
	user, err := f.users.FindByID(ctx, id)
	if err != nil {
		return nil, internalError(err)
	}
	if user == nil {
		return nil, newError(CodeUserNotFound, "User not found")
	}
	return user, nil
}

func (f *Flow) issue(ctx context.Context, user *auth.User, c Client, twoFactorVerified bool) (*AuthResult, error) {
	token, err := f.tokens.Issue(ctx, user, c.info(), twoFactorVerified)
	if err != nil {
		return nil, internalError(err)
	}
	return &AuthResult{User: user, Token: token}, nil
}

func event(name string) {
	metrics.AuthEvents.WithLabelValues(name).Inc()
}
