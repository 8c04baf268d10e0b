package httpapi

import (
	"errors"
	"runtime/debug"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-authsession"
	"github.com/goliatone/go-authsession/profiles"
	goerrors "github.com/goliatone/go-errors"
)

// StatusFor maps an error to the HTTP status the API answers with.
func StatusFor(err error) int {
	var fiberErr *fiber.Error
	var validationErrs validation.Errors

	switch {
	case err == nil:
		return fiber.StatusOK
	case errors.As(err, &fiberErr):
		return fiberErr.Code
	case errors.As(err, &validationErrs):
		return fiber.StatusBadRequest
	case authsession.IsCredentialError(err):
		return fiber.StatusUnauthorized
	case authsession.IsConflictError(err):
		return fiber.StatusConflict
	case authsession.IsTransportError(err):
		return fiber.StatusServiceUnavailable
	case profiles.IsNotFound(err):
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}

func errorBody(err error) fiber.Map {
	var richErr *goerrors.Error
	var validationErrs validation.Errors
	var fiberErr *fiber.Error

	switch {
	case errors.As(err, &validationErrs):
		body := envelopeError("validation failed", "VALIDATION_ERROR")
		fields := make(map[string]string, len(validationErrs))
		for field, fieldErr := range validationErrs {
			fields[field] = fieldErr.Error()
		}
		body["errors"] = fields
		return body
	case goerrors.As(err, &richErr):
		return envelopeError(richErr.Message, richErr.TextCode)
	case errors.As(err, &fiberErr):
		return envelopeError(fiberErr.Message, "")
	default:
		return envelopeError("internal server error", authsession.TextCodeUnknown)
	}
}

// errorMiddleware renders handler errors as JSON envelopes.
func errorMiddleware(logger authsession.Logger) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("panic recovered", "panic", r, "stack", string(debug.Stack()))
				err = authsession.NewUnknownAuthError("internal server error", nil)
			}
			if err != nil {
				status := StatusFor(err)
				if status >= fiber.StatusInternalServerError {
					logger.Error("request failed", "path", c.Path(), "method", c.Method(), "error", err)
				}
				c.Status(status)
				_ = c.JSON(errorBody(err))
				err = nil
			}
		}()
		return c.Next()
	}
}
