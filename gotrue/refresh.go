package gotrue

import (
	"context"
	"time"

	"github.com/goliatone/go-authsession"
)

func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Client) scheduleRefreshLocked() {
	c.stopTimerLocked()
	if !c.config.AutoRefresh || c.closed || c.session == nil || c.session.RefreshToken == "" {
		return
	}
	if c.session.ExpiresAt.IsZero() {
		return
	}

	delay := c.session.ExpiresAt.Sub(c.now()) - c.config.RefreshMargin
	if delay < minRefreshDelay {
		delay = minRefreshDelay
	}
	c.armLocked(delay)
}

func (c *Client) scheduleRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.config.AutoRefresh || c.closed || c.session == nil {
		return
	}
	c.stopTimerLocked()
	c.armLocked(c.config.RetryInterval)
}

func (c *Client) armLocked(delay time.Duration) {
	generation := c.generation
	c.timer = time.AfterFunc(delay, func() {
		c.autoRefresh(generation)
	})
}

func (c *Client) autoRefresh(generation uint64) {
	session, current := c.currentSession()
	if session == nil || current != generation {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.httpClient.Timeout+5*time.Second)
	defer cancel()

	refreshed, err := c.refresh(ctx, session.RefreshToken)
	if !c.stillCurrent(generation) {
		return
	}

	switch {
	case err == nil:
		c.logger.Debug("session refreshed", "user_id", userID(refreshed.Identity))
		c.setSession(ctx, refreshed, true)
		c.emit(authsession.EventTokenRefreshed, refreshed.Identity)
	case authsession.IsCredentialError(err):
		c.logger.Info("refresh token rejected, signing out", "error", err)
		c.clearSession(ctx)
		c.emit(authsession.EventSignedOut, nil)
	default:
		c.logger.Warn("session refresh failed, retrying", "error", err, "retry_in", c.config.RetryInterval)
		c.scheduleRetry()
	}
}

func (c *Client) stillCurrent(generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.generation == generation
}

func userID(identity *authsession.Identity) string {
	if identity == nil {
		return ""
	}
	return identity.ID
}
