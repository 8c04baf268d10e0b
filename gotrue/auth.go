package gotrue

import (
	"context"
	"net/http"
	"net/url"

	"github.com/goliatone/go-authsession"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignInWithPassword implements authsession.Backend. On success the session
// is persisted and SIGNED_IN is emitted.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*authsession.Session, error) {
	var resp sessionResponse
	err := c.do(ctx, request{
		op:     "sign in",
		method: http.MethodPost,
		path:   "/token",
		query:  url.Values{"grant_type": {"password"}},
		body:   credentials{Email: email, Password: password},
	}, &resp)
	if err != nil {
		return nil, err
	}

	session, err := resp.toSession(c.now())
	if err != nil {
		return nil, err
	}
	if !session.Active() {
		return nil, authsession.NewUnknownAuthError("sign in: response carried no access token", nil)
	}

	c.setSession(ctx, session, true)
	c.emit(authsession.EventSignedIn, session.Identity)

	return session.Clone(), nil
}

// SignUp implements authsession.Backend. When the project requires email
// confirmation the returned session has an identity and no tokens, and no
// event is emitted.
func (c *Client) SignUp(ctx context.Context, email, password string) (*authsession.Session, error) {
	var resp sessionResponse
	err := c.do(ctx, request{
		op:     "sign up",
		method: http.MethodPost,
		path:   "/signup",
		body:   credentials{Email: email, Password: password},
	}, &resp)
	if err != nil {
		return nil, err
	}

	session, err := resp.toSession(c.now())
	if err != nil {
		return nil, err
	}

	if !session.Active() {
		if resp.obfuscatedExisting() {
			return nil, authsession.NewConflictError("User already registered")
		}
		c.logger.Info("sign up pending email confirmation", "user_id", userID(session.Identity))
		return session, nil
	}

	c.setSession(ctx, session, true)
	c.emit(authsession.EventSignedIn, session.Identity)

	return session.Clone(), nil
}

// SignOut implements authsession.Backend. A token the service already
// considers invalid still clears the local session. Transport failures keep
// it.
func (c *Client) SignOut(ctx context.Context) error {
	session, _ := c.currentSession()
	if session.Active() {
		err := c.do(ctx, request{
			op:     "sign out",
			method: http.MethodPost,
			path:   "/logout",
			token:  session.AccessToken,
		}, nil)
		if err != nil && !authsession.IsCredentialError(err) {
			return err
		}
		if err != nil {
			c.logger.Debug("sign out with stale token", "error", err)
		}
	}

	c.clearSession(ctx)
	c.emit(authsession.EventSignedOut, nil)
	return nil
}

// GetUser implements authsession.Backend. It returns (nil, nil) without a
// session, and refreshes an expiring session before asking the service.
func (c *Client) GetUser(ctx context.Context) (*authsession.Identity, error) {
	session, generation := c.currentSession()
	if session == nil {
		return nil, nil
	}

	if c.expiresSoon(session) && session.RefreshToken != "" {
		refreshed, err := c.RefreshSession(ctx)
		if err != nil {
			return nil, err
		}
		session = refreshed
		_, generation = c.currentSession()
	}

	var resp userResponse
	err := c.do(ctx, request{
		op:     "get user",
		method: http.MethodGet,
		path:   "/user",
		token:  session.AccessToken,
	}, &resp)
	if err != nil {
		return nil, err
	}

	identity := resp.toIdentity()

	c.mu.Lock()
	if c.session != nil && c.generation == generation {
		c.session.Identity = identity.Clone()
	}
	c.mu.Unlock()

	return identity, nil
}

// RefreshSession exchanges the refresh token for a new session and emits
// TOKEN_REFRESHED. A rejected refresh token ends the session with SIGNED_OUT.
func (c *Client) RefreshSession(ctx context.Context) (*authsession.Session, error) {
	session, generation := c.currentSession()
	if session == nil || session.RefreshToken == "" {
		return nil, authsession.NewCredentialError("no session to refresh")
	}

	refreshed, err := c.refresh(ctx, session.RefreshToken)
	if err != nil {
		if authsession.IsCredentialError(err) && c.stillCurrent(generation) {
			c.clearSession(ctx)
			c.emit(authsession.EventSignedOut, nil)
		}
		return nil, err
	}

	c.setSession(ctx, refreshed, true)
	c.emit(authsession.EventTokenRefreshed, refreshed.Identity)

	return refreshed.Clone(), nil
}

func (c *Client) refresh(ctx context.Context, refreshToken string) (*authsession.Session, error) {
	var resp sessionResponse
	err := c.do(ctx, request{
		op:     "refresh session",
		method: http.MethodPost,
		path:   "/token",
		query:  url.Values{"grant_type": {"refresh_token"}},
		body:   map[string]string{"refresh_token": refreshToken},
	}, &resp)
	if err != nil {
		return nil, err
	}

	session, err := resp.toSession(c.now())
	if err != nil {
		return nil, err
	}
	if !session.Active() {
		return nil, authsession.NewUnknownAuthError("refresh session: response carried no access token", nil)
	}
	return session, nil
}
