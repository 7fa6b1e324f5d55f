package auth

import (
	"errors"

	"github.com/samber/oops"
)

// Error kinds returned by Service. Test with errors.Is; KindOf resolves
// any error to one of them.
var (
	ErrValidationFailed      = errors.New("validation failed")
	ErrMissingFields         = errors.New("all fields are required")
	ErrAlreadyExists         = errors.New("user already exists")
	ErrNotFound              = errors.New("user not found")
	ErrInvalidCredentials    = errors.New("invalid email or password")
	ErrInvalidOrExpiredCode  = errors.New("invalid or expired verification code")
	ErrInvalidOrExpiredToken = errors.New("invalid or expired reset token")
	ErrNoPendingVerification = errors.New("no pending verification")
	ErrNotVerified           = errors.New("email not verified, please check your inbox")
	ErrInternal              = errors.New("internal error")
)

// Machine-readable codes, one per kind.
const (
	CodeValidationFailed      = "VALIDATION_FAILED"
	CodeMissingFields         = "MISSING_FIELDS"
	CodeAlreadyExists         = "ALREADY_EXISTS"
	CodeNotFound              = "NOT_FOUND"
	CodeInvalidCredentials    = "INVALID_CREDENTIALS"
	CodeInvalidOrExpiredCode  = "INVALID_OR_EXPIRED_CODE"
	CodeInvalidOrExpiredToken = "INVALID_OR_EXPIRED_TOKEN"
	CodeNoPendingVerification = "NO_PENDING_VERIFICATION"
	CodeNotVerified           = "NOT_VERIFIED"
	CodeInternalError         = "INTERNAL_ERROR"
)

var kinds = []struct {
	err  error
	code string
}{
	{ErrValidationFailed, CodeValidationFailed},
	{ErrMissingFields, CodeMissingFields},
	{ErrAlreadyExists, CodeAlreadyExists},
	{ErrNotFound, CodeNotFound},
	{ErrInvalidCredentials, CodeInvalidCredentials},
	{ErrInvalidOrExpiredCode, CodeInvalidOrExpiredCode},
	{ErrInvalidOrExpiredToken, CodeInvalidOrExpiredToken},
	{ErrNoPendingVerification, CodeNoPendingVerification},
	{ErrNotVerified, CodeNotVerified},
	{ErrInternal, CodeInternalError},
}

// KindOf returns the kind err belongs to. Unclassified errors are internal.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.err
		}
	}
	return ErrInternal
}

// CodeOf returns the machine-readable code for err.
func CodeOf(err error) string {
	return codeFor(KindOf(err))
}

// kindError gives a kind a caller-facing message and an optional cause.
type kindError struct {
	kind  error
	msg   string
	cause error
}

func (e *kindError) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e *kindError) Unwrap() []error {
	if e.cause != nil {
		return []error{e.kind, e.cause}
	}
	return []error{e.kind}
}

// fail builds a kind error with a specific message and oops context.
func fail(kind error, msg string, kv ...any) error {
	return oops.
		Code(codeFor(kind)).
		With(kv...).
		Wrap(&kindError{kind: kind, msg: msg})
}

// failKind builds a kind error using the kind's own message.
func failKind(kind error, kv ...any) error {
	return fail(kind, kind.Error(), kv...)
}

// internal wraps an unexpected fault from a collaborator.
func internal(operation string, cause error) error {
	return oops.
		Code(CodeInternalError).
		With("operation", operation).
		Wrap(&kindError{kind: ErrInternal, msg: "failed to " + operation, cause: cause})
}

func codeFor(kind error) string {
	for _, k := range kinds {
		if k.err == kind {
			return k.code
		}
	}
	return CodeInternalError
}

// PublicMessage returns the text safe to show a client for err.
func PublicMessage(err error) string {
	kind := KindOf(err)
	if kind == ErrInternal {
		return "something went wrong, please try again later"
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.msg
	}
	return kind.Error()
}
