package authflow

import (
	"context"
	"time"

	"gardenhub/internal/auth"
	"gardenhub/internal/verification"
)

type TwoFactorSetup struct {
	Method     string
	Secret     string
	OTPAuthURL string
	QRCode     string
	ExpiresIn  time.Duration
}

// BeginTwoFactorSetup starts enrolment for method. The app method returns a
// fresh TOTP secret; email and sms send a confirmation code.
func (f *Flow) BeginTwoFactorSetup(ctx context.Context, userID, method string, c Client) (*TwoFactorSetup, error) {
	if !auth.ValidTwoFactorMethod(method) {
		return nil, &Error{
			Code:    CodeValidation,
			Message: "Invalid request data",
			Details: map[string]string{"method": "method must be one of: email sms app"},
		}
	}
	user, ferr := f.userByID(ctx, userID)
	if ferr != nil {
		return nil, ferr
	}

	switch method {
	case auth.TwoFactorApp:
		setup, err := f.totp.Generate(user.Email)
		if err != nil {
			return nil, internalError(err)
		}
		if err := f.users.SetTwoFactorSecret(ctx, user.ID, method, &setup.Secret); err != nil {
			return nil, internalError(err)
		}
		return &TwoFactorSetup{
			Method:     method,
			Secret:     setup.Secret,
			OTPAuthURL: setup.URL,
			QRCode:     setup.QRDataURL,
		}, nil

	case auth.TwoFactorSMS:
		if user.Phone == "" {
			return nil, newError(CodePhoneRequired, "Add a phone number before enabling SMS codes")
		}
		if !user.PhoneVerified {
			return nil, newError(CodePhoneRequired, "Verify your phone number before enabling SMS codes")
		}
		sent, err := f.codes.SendTwoFactorCode(ctx, user.Phone, verification.ChannelSMS, user.Name, c.Locale)
		if err != nil {
			return nil, sendError(err)
		}
		return &TwoFactorSetup{Method: method, ExpiresIn: sent.ExpiresIn}, nil

	default:
		sent, err := f.codes.SendTwoFactorCode(ctx, user.Email, verification.ChannelEmail, user.Name, c.Locale)
		if err != nil {
			return nil, sendError(err)
		}
		return &TwoFactorSetup{Method: method, ExpiresIn: sent.ExpiresIn}, nil
	}
}

// ConfirmTwoFactorSetup turns the second factor on once the user proves they
// can receive or generate codes for method.
func (f *Flow) ConfirmTwoFactorSetup(ctx context.Context, userID, method, code string) (*auth.User, error) {
	if !auth.ValidTwoFactorMethod(method) {
		return nil, &Error{
			Code:    CodeValidation,
			Message: "Invalid request data",
			Details: map[string]string{"method": "method must be one of: email sms app"},
		}
	}
	user, ferr := f.userByID(ctx, userID)
	if ferr != nil {
		return nil, ferr
	}

	switch method {
	case auth.TwoFactorApp:
		if user.TwoFactorMethod != auth.TwoFactorApp || user.TwoFactorSecret == nil {
			return nil, newError(CodeNotFound, "Start authenticator setup first")
		}
		if ferr := f.checkTOTP(ctx, user, code); ferr != nil {
			return nil, ferr
		}
	default:
		ch, identifier := verification.ChannelEmail, user.Email
		if method == auth.TwoFactorSMS {
			if user.Phone == "" || !user.PhoneVerified {
				return nil, newError(CodePhoneRequired, "Verify your phone number before enabling SMS codes")
			}
			ch, identifier = verification.ChannelSMS, user.Phone
		}
		vr, err := f.codes.VerifyTwoFactorCode(ctx, identifier, code, ch)
		if err != nil {
			return nil, internalError(err)
		}
		if !vr.OK {
			return nil, codeError(vr)
		}
	}

	if err := f.users.EnableTwoFactor(ctx, user.ID, method); err != nil {
		return nil, internalError(err)
	}
	user.TwoFactorEnabled = true
	user.TwoFactorMethod = method
	event("two_factor_enabled")
	return user, nil
}

// DisableTwoFactor requires the account password.
func (f *Flow) DisableTwoFactor(ctx context.Context, userID, password string) error {
	user, ferr := f.userByID(ctx, userID)
	if ferr != nil {
		return ferr
	}
	if !f.hasher.Compare(user.PasswordHash, password) {
		return invalidCredentials()
	}
	if !user.TwoFactorEnabled {
		return newError(CodeTwoFactorNotEnabled, "Two-factor authentication is not enabled for this account")
	}
	if err := f.users.DisableTwoFactor(ctx, user.ID); err != nil {
		return internalError(err)
	}
	event("two_factor_disabled")
	return nil
}
