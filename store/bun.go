package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-authsession"
	"github.com/uptrace/bun"
)

// SessionModel is the Bun model for persisted sessions.
type SessionModel struct {
	bun.BaseModel `bun:"table:auth_sessions"`

	Key          string    `bun:"storage_key,pk"`
	UserID       string    `bun:"user_id"`
	AccessToken  string    `bun:"access_token"`
	RefreshToken string    `bun:"refresh_token"`
	TokenType    string    `bun:"token_type"`
	ExpiresAt    time.Time `bun:"expires_at,nullzero"`
	Identity     string    `bun:"identity"`
	UpdatedAt    time.Time `bun:"updated_at,nullzero,default:current_timestamp"`
}

// Bun persists sessions in a SQL table through bun.
type Bun struct {
	db *bun.DB
}

// NewBun creates a bun-backed store. Call CreateSchema once before use.
func NewBun(db *bun.DB) *Bun {
	return &Bun{db: db}
}

// CreateSchema creates the auth_sessions table when missing.
func (b *Bun) CreateSchema(ctx context.Context) error {
	_, err := b.db.NewCreateTable().
		Model((*SessionModel)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store: create auth_sessions: %w", err)
	}
	return nil
}

func (b *Bun) Load(ctx context.Context, key string) (*authsession.Session, error) {
	var model SessionModel
	err := b.db.NewSelect().
		Model(&model).
		Where("storage_key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: load session: %w", err)
	}

	session := &authsession.Session{
		AccessToken:  model.AccessToken,
		RefreshToken: model.RefreshToken,
		TokenType:    model.TokenType,
		ExpiresAt:    model.ExpiresAt,
	}

	if model.Identity != "" {
		var identity authsession.Identity
		if err := json.Unmarshal([]byte(model.Identity), &identity); err != nil {
			return nil, fmt.Errorf("store: decode identity: %w", err)
		}
		session.Identity = &identity
	}

	return session, nil
}

func (b *Bun) Save(ctx context.Context, key string, session *authsession.Session) error {
	if session == nil {
		return b.Delete(ctx, key)
	}

	model := &SessionModel{
		Key:          key,
		AccessToken:  session.AccessToken,
		RefreshToken: session.RefreshToken,
		TokenType:    session.TokenType,
		ExpiresAt:    session.ExpiresAt,
		UpdatedAt:    time.Now(),
	}

	if session.Identity != nil {
		raw, err := json.Marshal(session.Identity)
		if err != nil {
			return fmt.Errorf("store: encode identity: %w", err)
		}
		model.UserID = session.Identity.ID
		model.Identity = string(raw)
	}

	_, err := b.db.NewInsert().
		Model(model).
		On("CONFLICT (storage_key) DO UPDATE").
		Set("user_id = EXCLUDED.user_id").
		Set("access_token = EXCLUDED.access_token").
		Set("refresh_token = EXCLUDED.refresh_token").
		Set("token_type = EXCLUDED.token_type").
		Set("expires_at = EXCLUDED.expires_at").
		Set("identity = EXCLUDED.identity").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store: save session: %w", err)
	}
	return nil
}

func (b *Bun) Delete(ctx context.Context, key string) error {
	_, err := b.db.NewDelete().
		Model((*SessionModel)(nil)).
		Where("storage_key = ?", key).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("store: delete session: %w", err)
	}
	return nil
}

var _ Store = (*Bun)(nil)
