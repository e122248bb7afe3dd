package authflow

import (
	"errors"
	"fmt"

	"gardenhub/internal/verification"
)

type Code string

const (
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeUserExists          Code = "USER_EXISTS"
	CodeUserNotFound        Code = "USER_NOT_FOUND"
	CodeInvalidCredentials  Code = "INVALID_CREDENTIALS"
	CodeEmailNotVerified    Code = "EMAIL_NOT_VERIFIED"
	CodeAlreadyVerified     Code = "ALREADY_VERIFIED"
	CodeTwoFactorNotEnabled Code = "TWO_FACTOR_NOT_ENABLED"
	CodePhoneRequired       Code = "PHONE_REQUIRED"
	CodeNotFound            Code = Code(verification.KindNotFound)
	CodeExpired             Code = Code(verification.KindExpired)
	CodeTooManyAttempts     Code = Code(verification.KindTooManyAttempts)
	CodeInvalidCode         Code = Code(verification.KindInvalid)
	CodeDeliveryFailed      Code = "DELIVERY_FAILED"
	CodeInternal            Code = "INTERNAL_ERROR"
)

// Error is the only error type Flow methods return. Cause carries the
// underlying infrastructure or transport error, if any.
type Error struct {
	Code              Code
	Message           string
	AttemptsRemaining int
	Details           map[string]string
	Cause             error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// AsError extracts a flow error, wrapping anything else as INTERNAL_ERROR.
func AsError(err error) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	return internalError(err)
}

func newError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func internalError(err error) *Error {
	return &Error{Code: CodeInternal, Message: "Internal server error", Cause: err}
}

func deliveryError(err error) *Error {
	return &Error{Code: CodeDeliveryFailed, Message: "Failed to send verification code", Cause: err}
}

func invalidCredentials() *Error {
	return newError(CodeInvalidCredentials, "Invalid email or password")
}

func codeError(res verification.VerifyResult) *Error {
	return &Error{
		Code:              Code(res.Kind),
		Message:           res.Message(),
		AttemptsRemaining: res.AttemptsRemaining,
	}
}

// sendError classifies a coordinator send failure.
func sendError(err error) *Error {
	if errors.Is(err, verification.ErrDeliveryFailed) {
		return deliveryError(err)
	}
	return internalError(err)
}
