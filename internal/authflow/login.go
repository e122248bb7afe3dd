package authflow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"gardenhub/internal/auth"
	"gardenhub/internal/verification"
)

// Login checks credentials. Unknown email and wrong password produce the same
// error after the same amount of bcrypt work. Accounts with a second factor
// get Requires2FA and a dispatched code instead of a token.
func (f *Flow) Login(ctx context.Context, in LoginInput, c Client) (*AuthResult, error) {
	if verr := f.validateInput(&in); verr != nil {
		return nil, invalidCredentials()
	}

	user, err := f.users.FindByEmail(ctx, in.Email)
	if err != nil {
		return nil, internalError(err)
	}
	if user == nil {
		f.hasher.CompareDummy(in.Password)
		event("login_failed")
		return nil, invalidCredentials()
	}
	if !f.hasher.Compare(user.PasswordHash, in.Password) {
		event("login_failed")
		return nil, invalidCredentials()
	}

	if f.requireEmailVerification && !user.EmailVerified {
		return nil, newError(CodeEmailNotVerified, "Please verify your email before signing in")
	}

	if user.TwoFactorEnabled {
		res := &AuthResult{User: user, Requires2FA: true, Method: user.TwoFactorMethod}
		if user.TwoFactorMethod != auth.TwoFactorApp {
			ch, identifier := f.twoFactorTarget(user)
			expiresIn, ferr := f.dispatchLoginCode(ctx, user, ch, identifier, c)
			if ferr != nil {
				return nil, ferr
			}
			res.Method = string(ch)
			res.ExpiresIn = expiresIn
		}
		event("login_2fa_required")
		return res, nil
	}

	event("login")
	return f.issue(ctx, user, c, false)
}

// VerifyTwoFactor completes a login that returned Requires2FA.
func (f *Flow) VerifyTwoFactor(ctx context.Context, in TwoFactorInput, c Client) (*AuthResult, error) {
	if verr := f.validateInput(&in); verr != nil {
		return nil, verr
	}
	user, ferr := f.userByEmail(ctx, in.Email)
	if ferr != nil {
		return nil, ferr
	}
	if !user.EmailVerified || !user.TwoFactorEnabled {
		return nil, newError(CodeTwoFactorNotEnabled, "Two-factor authentication is not enabled for this account")
	}

	if user.TwoFactorMethod == auth.TwoFactorApp {
		if ferr := f.checkTOTP(ctx, user, in.Code); ferr != nil {
			return nil, ferr
		}
	} else {
		if ferr := f.twoFactorLocked(ctx, user); ferr != nil {
			return nil, ferr
		}
		ch, identifier := f.twoFactorTarget(user)
		vr, err := f.codes.VerifyTwoFactorCode(ctx, identifier, in.Code, ch)
		if err != nil {
			return nil, internalError(err)
		}
		if !vr.OK {
			if vr.Kind == verification.KindInvalid || vr.Kind == verification.KindTooManyAttempts {
				if ferr := f.twoFactorFailed(ctx, user); ferr != nil {
					return nil, ferr
				}
			}
			return nil, codeError(vr)
		}
		f.twoFactorPassed(ctx, user)
	}

	event("login")
	return f.issue(ctx, user, c, true)
}

// SendTwoFactorCode re-sends the login code. It reports success for unknown
// accounts and accounts without a code-based second factor.
func (f *Flow) SendTwoFactorCode(ctx context.Context, email string, c Client) (*SendResult, error) {
	user, err := f.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, internalError(err)
	}
	if user == nil || !user.TwoFactorEnabled || user.TwoFactorMethod == auth.TwoFactorApp {
		return &SendResult{}, nil
	}

	ch, identifier := f.twoFactorTarget(user)
	sent, err := f.codes.SendTwoFactorCode(ctx, identifier, ch, user.Name, c.Locale)
	if err != nil {
		return nil, sendError(err)
	}
	return &SendResult{Channel: ch, ExpiresIn: sent.ExpiresIn}, nil
}

// dispatchLoginCode sends a login code unless one already went out within
// the send cooldown. In that case the live code and its attempt count are
// kept and the returned lifetime is zero.
func (f *Flow) dispatchLoginCode(ctx context.Context, user *auth.User, ch verification.Channel, identifier string, c Client) (time.Duration, *Error) {
	key := auth.CooldownKey("2fa", user.Email)
	if f.limiter != nil {
		_, ok, err := f.limiter.Cooldown(ctx, key, auth.SendCooldown)
		if err != nil {
			return 0, internalError(err)
		}
		if !ok {
			return 0, nil
		}
	}
	sent, err := f.codes.SendTwoFactorCode(ctx, identifier, ch, user.Name, c.Locale)
	if err != nil {
		if f.limiter != nil {
			f.limiter.ClearCooldown(ctx, key)
		}
		return 0, sendError(err)
	}
	return sent.ExpiresIn, nil
}

// twoFactorTarget picks the channel and address of the account's configured
// code-based second factor. SMS falls back to email when there is no phone.
func (f *Flow) twoFactorTarget(user *auth.User) (verification.Channel, string) {
	if user.TwoFactorMethod == auth.TwoFactorSMS && user.Phone != "" {
		return verification.ChannelSMS, user.Phone
	}
	return verification.ChannelEmail, user.Email
}

func (f *Flow) checkTOTP(ctx context.Context, user *auth.User, code string) *Error {
	if ferr := f.twoFactorLocked(ctx, user); ferr != nil {
		return ferr
	}

	secret := ""
	if user.TwoFactorSecret != nil {
		secret = *user.TwoFactorSecret
	}
	if f.totp.Verify(secret, code) {
		f.twoFactorPassed(ctx, user)
		return nil
	}

	if ferr := f.twoFactorFailed(ctx, user); ferr != nil {
		return ferr
	}
	return newError(CodeInvalidCode, "Invalid authentication code")
}

func twoFactorLockedError() *Error {
	return newError(CodeTooManyAttempts, "Too many failed attempts. Please try again later.")
}

func (f *Flow) twoFactorLocked(ctx context.Context, user *auth.User) *Error {
	if f.limiter == nil {
		return nil
	}
	locked, err := f.limiter.TwoFALocked(ctx, user.ID)
	if err != nil {
		return internalError(err)
	}
	if locked {
		return twoFactorLockedError()
	}
	return nil
}

// twoFactorFailed counts a wrong code against the account and returns the
// lockout error once the limit is reached.
func (f *Flow) twoFactorFailed(ctx context.Context, user *auth.User) *Error {
	if f.limiter == nil {
		return nil
	}
	locked, err := f.limiter.Register2FAFailure(ctx, user.ID)
	if err != nil {
		f.logger.Warn("count 2fa failure", zap.String("userId", user.ID), zap.Error(err))
	}
	if locked {
		return twoFactorLockedError()
	}
	return nil
}

func (f *Flow) twoFactorPassed(ctx context.Context, user *auth.User) {
	if f.limiter != nil {
		f.limiter.Reset2FA(ctx, user.ID)
	}
}
