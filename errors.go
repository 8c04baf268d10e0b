package authsession

import (
	"context"
	"errors"
	"net"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeTransport          = "AUTH_TRANSPORT"
	TextCodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	TextCodeAccountExists      = "AUTH_ACCOUNT_EXISTS"
	TextCodeUnknown            = "AUTH_UNKNOWN"
)

// ErrTransport is the base error for an unreachable identity service.
var ErrTransport = goerrors.New("identity service unreachable", goerrors.CategoryOperation).
	WithTextCode(TextCodeTransport).
	WithCode(http.StatusServiceUnavailable)

// ErrInvalidCredentials is the base error for rejected email/password pairs.
var ErrInvalidCredentials = goerrors.New("invalid credentials", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrAccountExists is the base error for sign-up with a registered email.
var ErrAccountExists = goerrors.New("account already exists", goerrors.CategoryConflict).
	WithTextCode(TextCodeAccountExists).
	WithCode(goerrors.CodeConflict)

// ErrUnknownAuth is the base error for anything else the service raises.
var ErrUnknownAuth = goerrors.New("unexpected identity service error", goerrors.CategoryInternal).
	WithTextCode(TextCodeUnknown).
	WithCode(goerrors.CodeInternal)

// ErrClientClosed is returned by Client operations after Close.
var ErrClientClosed = goerrors.New("auth session client is closed", goerrors.CategoryInternal).
	WithTextCode(TextCodeUnknown).
	WithCode(goerrors.CodeInternal)

// NewTransportError returns a TransportError carrying message and cause.
func NewTransportError(message string, cause error) *goerrors.Error {
	return derive(ErrTransport, message, cause)
}

// NewCredentialError returns a CredentialError with message.
func NewCredentialError(message string) *goerrors.Error {
	return derive(ErrInvalidCredentials, message, nil)
}

// NewConflictError returns a ConflictError with message.
func NewConflictError(message string) *goerrors.Error {
	return derive(ErrAccountExists, message, nil)
}

// NewUnknownAuthError returns an UnknownAuthError carrying message and cause.
func NewUnknownAuthError(message string, cause error) *goerrors.Error {
	return derive(ErrUnknownAuth, message, cause)
}

func derive(base *goerrors.Error, message string, cause error) *goerrors.Error {
	clone := base.Clone()
	if clone == nil {
		clone = base
	}
	if message != "" {
		clone.Message = message
	}
	if cause != nil {
		clone.Source = cause
	}
	return clone
}

// IsTransportError reports whether err is a TransportError.
func IsTransportError(err error) bool { return hasTextCode(err, TextCodeTransport) }

// IsCredentialError reports whether err is a CredentialError.
func IsCredentialError(err error) bool { return hasTextCode(err, TextCodeInvalidCredentials) }

// IsConflictError reports whether err is a ConflictError.
func IsConflictError(err error) bool { return hasTextCode(err, TextCodeAccountExists) }

// IsUnknownAuthError reports whether err is an UnknownAuthError.
func IsUnknownAuthError(err error) bool { return hasTextCode(err, TextCodeUnknown) }

// IsAuthError reports whether err belongs to the auth taxonomy at all.
func IsAuthError(err error) bool {
	return IsTransportError(err) || IsCredentialError(err) || IsConflictError(err) || IsUnknownAuthError(err)
}

func hasTextCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}

// normalizeError maps any backend failure into the taxonomy. Errors already
// in the taxonomy are returned untouched so callers see them verbatim.
func normalizeError(op string, err error) error {
	if err == nil {
		return nil
	}

	if IsAuthError(err) {
		return err
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewTransportError(op+": request interrupted", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return NewTransportError(op+": identity service unreachable", err)
	}

	return NewUnknownAuthError(op+": "+err.Error(), err)
}
