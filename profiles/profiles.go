// Package profiles reads rows of the public profiles table through the
// PostgREST endpoint of a Supabase project.
package profiles

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-authsession"
	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeProfileNotFound = "PROFILE_NOT_FOUND"
	objectMediaType         = "application/vnd.pgrst.object+json"
)

// ErrProfileNotFound is returned when no profile row matches the user.
var ErrProfileNotFound = goerrors.New("profile not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeProfileNotFound).
	WithCode(goerrors.CodeNotFound)

// Profile mirrors a row of the profiles table.
type Profile struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Email     string    `json:"email"`
	FullName  *string   `json:"full_name,omitempty"`
	AvatarURL *string   `json:"avatar_url,omitempty"`
}

// Config holds the PostgREST connection settings.
type Config struct {
	URL        string
	APIKey     string
	Table      string
	HTTPClient *http.Client
}

// Repository queries profiles on behalf of an authenticated user.
type Repository struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewRepository creates a profiles repository.
func NewRepository(cfg Config) *Repository {
	if cfg.Table == "" {
		cfg.Table = "profiles"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Repository{
		endpoint:   strings.TrimRight(cfg.URL, "/") + "/rest/v1/" + cfg.Table,
		apiKey:     cfg.APIKey,
		httpClient: client,
	}
}

// Get returns the profile for userID. accessToken is the user's session
// token so row level security applies.
func (r *Repository) Get(ctx context.Context, accessToken, userID string) (*Profile, error) {
	params := url.Values{
		"id":     {"eq." + userID},
		"select": {"*"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, authsession.NewUnknownAuthError("get profile: failed to build request", err)
	}
	req.Header.Set("apikey", r.apiKey)
	req.Header.Set("Accept", objectMediaType)
	bearer := accessToken
	if bearer == "" {
		bearer = r.apiKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, authsession.NewTransportError("get profile: data service unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, authsession.NewTransportError("get profile: failed to read response", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotAcceptable, resp.StatusCode == http.StatusNotFound:
		// single object requested and zero rows matched
		return nil, ErrProfileNotFound.Clone().WithMetadata(map[string]any{"user_id": userID})
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return nil, authsession.NewCredentialError(apiMessage(body, "profile access denied"))
	case resp.StatusCode >= 500:
		return nil, authsession.NewTransportError("get profile: "+apiMessage(body, http.StatusText(resp.StatusCode)), nil)
	default:
		return nil, authsession.NewUnknownAuthError("get profile: "+apiMessage(body, http.StatusText(resp.StatusCode)), nil)
	}

	var profile Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		return nil, authsession.NewUnknownAuthError("get profile: failed to decode response", err)
	}
	return &profile, nil
}

// IsNotFound reports whether err is ErrProfileNotFound.
func IsNotFound(err error) bool {
	var richErr *goerrors.Error
	return goerrors.As(err, &richErr) && richErr.TextCode == TextCodeProfileNotFound
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
}

func apiMessage(body []byte, fallback string) string {
	var e apiError
	if err := json.Unmarshal(body, &e); err == nil && e.Message != "" {
		return e.Message
	}
	return fallback
}
