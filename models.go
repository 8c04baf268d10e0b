package authsession

import (
	"fmt"
	"maps"
	"time"
)

// Identity is an authenticated principal as reported by the identity
// service. Values handed out by Client are copies; mutating one does not
// affect any other holder.
type Identity struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at,omitempty"`
	Role             string         `json:"role,omitempty"`
	RawAttributes    map[string]any `json:"raw_attributes,omitempty"`
}

// Clone returns a deep enough copy for callers to own.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	out := *i
	if i.EmailConfirmedAt != nil {
		ts := *i.EmailConfirmedAt
		out.EmailConfirmedAt = &ts
	}
	if i.RawAttributes != nil {
		out.RawAttributes = maps.Clone(i.RawAttributes)
	}
	return &out
}

// EmailConfirmed reports whether the service has confirmed the email.
func (i *Identity) EmailConfirmed() bool {
	return i != nil && i.EmailConfirmedAt != nil && !i.EmailConfirmedAt.IsZero()
}

// Equal compares the identifying fields of two identities.
func (i *Identity) Equal(other *Identity) bool {
	if i == nil || other == nil {
		return i == other
	}
	return i.ID == other.ID && i.Email == other.Email && i.Role == other.Role
}

func (i Identity) String() string {
	return fmt.Sprintf("id=%s email=%s role=%s confirmed=%t", i.ID, i.Email, i.Role, i.EmailConfirmed())
}

// Session is the token bundle issued by the identity service. A sign-up that
// still needs email confirmation yields a Session with an Identity and no
// tokens.
type Session struct {
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
	Identity     *Identity `json:"user,omitempty"`
}

// Active reports whether the session carries an access token.
func (s *Session) Active() bool {
	return s != nil && s.AccessToken != ""
}

// Expired reports whether the access token expiry is at or before now.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

// Clone copies the session and its identity.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Identity = s.Identity.Clone()
	return &out
}

// String never prints token material.
func (s Session) String() string {
	user := "<nil>"
	if s.Identity != nil {
		user = s.Identity.ID
	}
	return fmt.Sprintf("user=%s type=%s expires=%s active=%t", user, s.TokenType, s.ExpiresAt.Format(time.RFC1123), s.AccessToken != "")
}
