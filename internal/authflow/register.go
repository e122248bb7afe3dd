package authflow

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"gardenhub/internal/auth"
	"gardenhub/internal/verification"
)

type RegisterResult struct {
	User                 *auth.User
	VerificationRequired bool
	// VerificationSent is false when the account was created but the code
	// could not be delivered. The client should offer a resend.
	VerificationSent bool
	ExpiresIn        time.Duration
}

func (f *Flow) Register(ctx context.Context, in RegisterInput, c Client) (*RegisterResult, error) {
	if verr := f.validateInput(&in); verr != nil {
		return nil, verr
	}
	email := auth.NormalizeEmail(in.Email)

	existing, err := f.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, internalError(err)
	}
	if existing != nil {
		return nil, newError(CodeUserExists, "A user with this email already exists")
	}

	hash, err := f.hasher.Hash(in.Password)
	if err != nil {
		return nil, internalError(err)
	}

	now := f.now().UTC()
	user := &auth.User{
		ID:           f.newID(),
		Name:         in.Name,
		Email:        email,
		Phone:        in.Phone,
		PasswordHash: hash,
		Role:         auth.RoleUser,
		Gardens:      []auth.GardenMembership{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if !f.requireEmailVerification {
		user.EmailVerified = true
		user.EmailVerifiedAt = &now
	}

	if err := f.users.Create(ctx, user); err != nil {
		if errors.Is(err, auth.ErrEmailTaken) {
			return nil, newError(CodeUserExists, "A user with this email already exists")
		}
		return nil, internalError(err)
	}
	event("register")

	res := &RegisterResult{User: user, VerificationRequired: f.requireEmailVerification}
	if !f.requireEmailVerification {
		return res, nil
	}

	sent, err := f.codes.SendEmailVerification(ctx, user.Email, user.Name, c.Locale)
	if err != nil {
		f.logger.Warn("verification code not delivered at registration",
			zap.String("userId", user.ID), zap.Error(err))
		return res, nil
	}
	res.VerificationSent = true
	res.ExpiresIn = sent.ExpiresIn
	return res, nil
}

// VerifyEmail consumes an email verification code and signs the user in.
// Verifying an already verified account succeeds without a code check.
func (f *Flow) VerifyEmail(ctx context.Context, in CodeInput, c Client) (*AuthResult, error) {
	if verr := f.validateInput(&in); verr != nil {
		return nil, verr
	}
	user, ferr := f.userByEmail(ctx, in.Email)
	if ferr != nil {
		return nil, ferr
	}

	// A verified address proves nothing about the caller, so no token here.
	if user.EmailVerified {
		return &AuthResult{User: user, AlreadyVerified: true}, nil
	}

	vr, err := f.codes.VerifyEmailCode(ctx, user.Email, in.Code)
	if err != nil {
		return nil, internalError(err)
	}
	if !vr.OK {
		return nil, codeError(vr)
	}

	now := f.now().UTC()
	changed, err := f.users.MarkEmailVerified(ctx, user.ID, now)
	if err != nil {
		return nil, internalError(err)
	}
	user.EmailVerified = true
	if changed {
		user.EmailVerifiedAt = &now
		event("verify_email")
		if err := f.codes.SendWelcome(ctx, user.Email, user.Name, c.Locale); err != nil {
			f.logger.Warn("welcome email failed", zap.String("userId", user.ID), zap.Error(err))
		}
	}
	return f.issue(ctx, user, c, false)
}

// ResendVerification issues a fresh verification code, replacing any that is
// still pending.
func (f *Flow) ResendVerification(ctx context.Context, in ResendInput, c Client) (*SendResult, error) {
	if verr := f.validateInput(&in); verr != nil {
		return nil, verr
	}
	user, ferr := f.userByEmail(ctx, in.Email)
	if ferr != nil {
		return nil, ferr
	}

	ch := verification.ChannelEmail
	if in.Type == string(verification.ChannelSMS) {
		ch = verification.ChannelSMS
	}

	var (
		sent verification.SendResult
		err  error
	)
	switch ch {
	case verification.ChannelSMS:
		if user.Phone == "" {
			return nil, newError(CodePhoneRequired, "No phone number on this account")
		}
		if user.PhoneVerified {
			return nil, newError(CodeAlreadyVerified, "Phone number is already verified")
		}
		sent, err = f.codes.SendSMSVerification(ctx, user.Phone, user.Name, c.Locale)
	default:
		if user.EmailVerified {
			return nil, newError(CodeAlreadyVerified, "Email is already verified")
		}
		sent, err = f.codes.SendEmailVerification(ctx, user.Email, user.Name, c.Locale)
	}
	if err != nil {
		return nil, sendError(err)
	}
	return &SendResult{Channel: ch, ExpiresIn: sent.ExpiresIn}, nil
}

// VerifyPhone consumes an SMS verification code sent to the account's phone.
func (f *Flow) VerifyPhone(ctx context.Context, in CodeInput) (*auth.User, error) {
	if verr := f.validateInput(&in); verr != nil {
		return nil, verr
	}
	user, ferr := f.userByEmail(ctx, in.Email)
	if ferr != nil {
		return nil, ferr
	}
	if user.Phone == "" {
		return nil, newError(CodePhoneRequired, "No phone number on this account")
	}
	if user.PhoneVerified {
		return user, nil
	}

	vr, err := f.codes.VerifySMSCode(ctx, user.Phone, in.Code)
	if err != nil {
		return nil, internalError(err)
	}
	if !vr.OK {
		return nil, codeError(vr)
	}

	now := f.now().UTC()
	if err := f.users.MarkPhoneVerified(ctx, user.ID, now); err != nil {
		return nil, internalError(err)
	}
	user.PhoneVerified = true
	user.PhoneVerifiedAt = &now
	event("verify_phone")
	return user, nil
}
