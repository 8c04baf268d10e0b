// Package store persists authsession.Session values between process runs.
package store

import (
	"context"

	"github.com/goliatone/go-authsession"
)

// DefaultKey is the storage key used when a backend is not configured with
// one.
const DefaultKey = "sb-auth-token"

// Store defines how sessions are saved and restored. Load returns (nil, nil)
// when nothing is stored under key.
type Store interface {
	Load(ctx context.Context, key string) (*authsession.Session, error)
	Save(ctx context.Context, key string, session *authsession.Session) error
	Delete(ctx context.Context, key string) error
}
