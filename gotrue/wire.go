package gotrue

import (
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-authsession"
)

type userResponse struct {
	ID               string          `json:"id"`
	Email            string          `json:"email"`
	EmailConfirmedAt *time.Time      `json:"email_confirmed_at"`
	Role             string          `json:"role"`
	AppMetadata      map[string]any  `json:"app_metadata"`
	UserMetadata     map[string]any  `json:"user_metadata"`
	Identities       json.RawMessage `json:"identities"`
}

func (u *userResponse) toIdentity() *authsession.Identity {
	if u == nil || u.ID == "" {
		return nil
	}
	identity := &authsession.Identity{
		ID:               u.ID,
		Email:            u.Email,
		EmailConfirmedAt: u.EmailConfirmedAt,
		Role:             u.Role,
		RawAttributes:    map[string]any{},
	}
	if u.AppMetadata != nil {
		identity.RawAttributes["app_metadata"] = u.AppMetadata
	}
	if u.UserMetadata != nil {
		identity.RawAttributes["user_metadata"] = u.UserMetadata
	}
	return identity
}

// sessionResponse covers both token grants and sign-up. Sign-up without a
// session returns the bare user object, so its fields are embedded too.
type sessionResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	RefreshToken string        `json:"refresh_token"`
	User         *userResponse `json:"user"`

	userResponse
}

func (r *sessionResponse) user() *userResponse {
	if r.User != nil {
		return r.User
	}
	if r.ID != "" {
		return &r.userResponse
	}
	return nil
}

// obfuscatedExisting reports the response the service sends when sign-up
// targets a registered email with confirmation enabled: a user with an
// empty identities list.
func (r *sessionResponse) obfuscatedExisting() bool {
	u := r.user()
	if u == nil || len(u.Identities) == 0 {
		return false
	}
	var identities []json.RawMessage
	if err := json.Unmarshal(u.Identities, &identities); err != nil {
		return false
	}
	return len(identities) == 0
}

func (r *sessionResponse) toSession(now time.Time) (*authsession.Session, error) {
	identity := r.user().toIdentity()
	if identity == nil {
		return nil, authsession.NewUnknownAuthError("identity service returned no user", nil)
	}

	session := &authsession.Session{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
		Identity:     identity,
	}

	switch {
	case r.ExpiresAt > 0:
		session.ExpiresAt = time.Unix(r.ExpiresAt, 0)
	case r.ExpiresIn > 0:
		session.ExpiresAt = now.Add(time.Duration(r.ExpiresIn) * time.Second)
	case r.AccessToken != "":
		session.ExpiresAt = tokenExpiry(r.AccessToken)
	}

	return session, nil
}

// tokenExpiry reads exp from the access token without verifying it. The
// zero time is returned when the claim is missing.
func tokenExpiry(token string) time.Time {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
