package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/goliatone/go-authsession"
	"github.com/redis/go-redis/v9"
)

// Redis stores sessions as JSON values. Entries expire with the refresh
// window: ExpiresAt plus RefreshGrace, since an expired access token can
// still be refreshed.
type Redis struct {
	client       redis.UniversalClient
	prefix       string
	RefreshGrace time.Duration
}

// NewRedis creates a Redis-backed session store.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{
		client:       client,
		prefix:       "authsession:",
		RefreshGrace: 7 * 24 * time.Hour,
	}
}

// WithPrefix overrides the key prefix.
func (r *Redis) WithPrefix(prefix string) *Redis {
	r.prefix = prefix
	return r
}

func (r *Redis) key(key string) string {
	return r.prefix + key
}

func (r *Redis) Load(ctx context.Context, key string) (*authsession.Session, error) {
	val, err := r.client.Get(ctx, r.key(key)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: redis get: %w", err)
	}

	var s authsession.Session
	if err := json.Unmarshal([]byte(val), &s); err != nil {
		return nil, fmt.Errorf("store: failed to unmarshal session: %w", err)
	}

	return &s, nil
}

func (r *Redis) Save(ctx context.Context, key string, session *authsession.Session) error {
	if session == nil {
		return r.Delete(ctx, key)
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("store: failed to marshal session: %w", err)
	}

	var ttl time.Duration
	if !session.ExpiresAt.IsZero() {
		ttl = time.Until(session.ExpiresAt) + r.RefreshGrace
		if ttl <= 0 {
			return r.Delete(ctx, key)
		}
	}

	return r.client.Set(ctx, r.key(key), data, ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

var _ Store = (*Redis)(nil)
