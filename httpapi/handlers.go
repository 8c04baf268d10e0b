// Package httpapi exposes the auth session over HTTP with fiber.
package httpapi

import (
	"context"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-authsession"
	"github.com/goliatone/go-authsession/profiles"
)

// AuthService is the imperative surface the handlers drive. An
// authsession.Observer satisfies it.
type AuthService interface {
	SignIn(ctx context.Context, email, password string) (*authsession.Identity, error)
	SignUp(ctx context.Context, email, password string) (*authsession.Identity, error)
	SignOut(ctx context.Context) error
	State() authsession.State
}

// SessionSource exposes the current token bundle.
type SessionSource interface {
	Session() *authsession.Session
}

// ProfileReader loads profile rows for a user.
type ProfileReader interface {
	Get(ctx context.Context, accessToken, userID string) (*profiles.Profile, error)
}

// CredentialsRequest is the body of signup and login.
type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate implements validation.Validatable.
func (r CredentialsRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, authsession.EmailRule),
		validation.Field(&r.Password, validation.Required, validation.Length(6, 72)),
	)
}

type sessionPayload struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Handlers implements the auth and profile routes.
type Handlers struct {
	auth       AuthService
	sessions   SessionSource
	profiles   ProfileReader
	contextKey string
}

// Signup POST /auth/signup.
func (h *Handlers) Signup(c *fiber.Ctx) error {
	req, err := parseCredentials(c)
	if err != nil {
		return err
	}

	identity, err := h.auth.SignUp(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}

	return c.JSON(envelope("Signup successful!", identity))
}

// Login POST /auth/login.
func (h *Handlers) Login(c *fiber.Ctx) error {
	req, err := parseCredentials(c)
	if err != nil {
		return err
	}

	identity, err := h.auth.SignIn(c.UserContext(), req.Email, req.Password)
	if err != nil {
		return err
	}

	body := envelope("Login successful!", identity)
	if h.sessions != nil {
		if s := h.sessions.Session(); s.Active() {
			body["session"] = sessionPayload{
				AccessToken:  s.AccessToken,
				RefreshToken: s.RefreshToken,
				TokenType:    s.TokenType,
				ExpiresAt:    s.ExpiresAt,
			}
		}
	}

	return c.JSON(body)
}

// Logout POST /auth/logout.
func (h *Handlers) Logout(c *fiber.Ctx) error {
	if err := h.auth.SignOut(c.UserContext()); err != nil {
		return err
	}
	return c.JSON(envelope("Logout successful!", nil))
}

// Session GET /auth/session reports the mirrored session state.
func (h *Handlers) Session(c *fiber.Ctx) error {
	state := h.auth.State()

	data := fiber.Map{
		"authenticated": state.Authenticated(),
		"loading":       state.Loading,
		"identity":      state.Identity,
	}
	if state.LastError != nil {
		data["last_error"] = errorBody(state.LastError)
	}

	return c.JSON(envelope("", data))
}

// Me GET /auth/me returns the caller's token claims.
func (h *Handlers) Me(c *fiber.Ctx) error {
	claims, ok := ClaimsFromContext(c, h.contextKey)
	if !ok {
		return authsession.NewCredentialError("authentication required")
	}

	return c.JSON(envelope("", fiber.Map{
		"id":            claims.UserID(),
		"email":         claims.Email,
		"role":          claims.Role,
		"app_metadata":  claims.AppMetadata,
		"user_metadata": claims.UserMetadata,
	}))
}

// Profile GET /profiles/me and GET /auth/profile.
func (h *Handlers) Profile(c *fiber.Ctx) error {
	claims, ok := ClaimsFromContext(c, h.contextKey)
	if !ok {
		return authsession.NewCredentialError("authentication required")
	}
	if h.profiles == nil {
		return fiber.ErrNotImplemented
	}

	profile, err := h.profiles.Get(c.UserContext(), TokenFromContext(c), claims.UserID())
	if err != nil {
		return err
	}

	return c.JSON(envelope("", profile))
}

func parseCredentials(c *fiber.Ctx) (CredentialsRequest, error) {
	var req CredentialsRequest
	if err := c.BodyParser(&req); err != nil {
		return req, fiber.NewError(fiber.StatusBadRequest, "invalid payload")
	}
	if err := req.Validate(); err != nil {
		return req, err
	}
	return req, nil
}

func envelope(message string, data any) fiber.Map {
	body := fiber.Map{"status": "success", "data": data}
	if message != "" {
		body["message"] = message
	}
	return body
}

func envelopeError(message, code string) fiber.Map {
	body := fiber.Map{"status": "error", "message": message}
	if code != "" {
		body["code"] = code
	}
	return body
}
