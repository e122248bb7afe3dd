package authflow

import (
	"context"

	"go.uber.org/zap"

	"gardenhub/internal/auth"
)

// ForgotPassword sends a reset code. Unknown addresses get the same silent
// success as known ones.
func (f *Flow) ForgotPassword(ctx context.Context, email string, c Client) error {
	in := struct {
		Email string `json:"email" validate:"required,email"`
	}{Email: email}
	if verr := f.validateInput(&in); verr != nil {
		return verr
	}

	user, err := f.users.FindByEmail(ctx, in.Email)
	if err != nil {
		return internalError(err)
	}
	if user == nil {
		return nil
	}
	if _, err := f.codes.SendPasswordReset(ctx, user.Email, user.Name, c.Locale); err != nil {
		return sendError(err)
	}
	return nil
}

// ResetPassword consumes a reset code, stores the new password and signs out
// every session of the account.
func (f *Flow) ResetPassword(ctx context.Context, in ResetPasswordInput) error {
	if verr := f.validateInput(&in); verr != nil {
		return verr
	}

	vr, err := f.codes.VerifyPasswordResetCode(ctx, in.Email, in.Code)
	if err != nil {
		return internalError(err)
	}
	if !vr.OK {
		return codeError(vr)
	}

	user, ferr := f.userByEmail(ctx, in.Email)
	if ferr != nil {
		return ferr
	}
	hash, err := f.hasher.Hash(in.Password)
	if err != nil {
		return internalError(err)
	}
	if err := f.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return internalError(err)
	}
	if err := f.tokens.RevokeUser(ctx, user.ID); err != nil {
		f.logger.Error("revoke sessions after password reset", zap.String("userId", user.ID), zap.Error(err))
	}
	event(auth.AuditPasswordReset)
	return nil
}
