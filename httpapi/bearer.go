package httpapi

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-authsession"
)

const (
	defaultTokenLookup = "header:" + fiber.HeaderAuthorization
	tokenLocalsKey     = "access_token"
)

// ErrMissingToken is returned when no configured location carries a token.
var ErrMissingToken = errors.New("missing or malformed JWT")

// TokenConfig is the getter set the bearer middleware can be built from.
type TokenConfig interface {
	GetSigningKey() string
	GetSigningMethod() string
	GetJWKSURL() string
	GetContextKey() string
	GetTokenLookup() string
	GetAuthScheme() string
}

// Claims are the access token claims issued by Supabase Auth.
type Claims struct {
	jwt.RegisteredClaims
	Email        string         `json:"email"`
	Role         string         `json:"role"`
	SessionID    string         `json:"session_id,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// UserID returns the subject claim.
func (c *Claims) UserID() string {
	return c.Subject
}

type SigningKey struct {
	JWTAlg string
	Key    any
}

// BearerConfig configures the bearer middleware.
type BearerConfig struct {
	Filter       func(*fiber.Ctx) bool
	ErrorHandler func(*fiber.Ctx, error) error
	SigningKey   SigningKey
	JWKSetURL    string
	KeyFunc      jwt.Keyfunc
	ContextKey   string
	TokenLookup  string
	AuthScheme   string
	Logger       authsession.Logger
}

// BearerConfigFrom maps getter based configuration to a BearerConfig.
func BearerConfigFrom(cfg TokenConfig) BearerConfig {
	out := BearerConfig{
		JWKSetURL:   cfg.GetJWKSURL(),
		ContextKey:  cfg.GetContextKey(),
		TokenLookup: cfg.GetTokenLookup(),
		AuthScheme:  cfg.GetAuthScheme(),
	}
	if key := cfg.GetSigningKey(); key != "" {
		out.SigningKey = SigningKey{JWTAlg: cfg.GetSigningMethod(), Key: []byte(key)}
	}
	return out
}

// Bearer validates the access token of each request and stores its claims
// under ContextKey.
func Bearer(config ...BearerConfig) fiber.Handler {
	cfg := bearerDefaults(config...)
	sources := TokenSources(cfg.TokenLookup, cfg.AuthScheme)

	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		raw, err := FirstToken(c, sources)
		if err != nil {
			return cfg.ErrorHandler(c, err)
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(raw, claims, cfg.KeyFunc, jwt.WithExpirationRequired())
		if err != nil || !token.Valid {
			if err == nil {
				err = errors.New("invalid token")
			}
			cfg.Logger.Debug("bearer token rejected", "error", err)
			return cfg.ErrorHandler(c, err)
		}

		if claims.Subject == "" {
			return cfg.ErrorHandler(c, errors.New("token has no subject"))
		}

		c.Locals(cfg.ContextKey, claims)
		c.Locals(tokenLocalsKey, raw)
		return c.Next()
	}
}

func bearerDefaults(config ...BearerConfig) (cfg BearerConfig) {
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.Logger == nil {
		cfg.Logger = authsession.NopLogger{}
	}

	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(c *fiber.Ctx, err error) error {
			if errors.Is(err, ErrMissingToken) {
				return c.Status(fiber.StatusBadRequest).JSON(envelopeError(ErrMissingToken.Error(), ""))
			}
			return c.Status(fiber.StatusUnauthorized).JSON(envelopeError("Invalid or expired token", authsession.TextCodeInvalidCredentials))
		}
	}

	if cfg.SigningKey.Key == nil && cfg.JWKSetURL == "" && cfg.KeyFunc == nil {
		panic("AUTHSESSION: bearer middleware configuration: one of KeyFunc, JWKSetURL or SigningKey is required.")
	}

	if cfg.ContextKey == "" {
		cfg.ContextKey = "user"
	}

	if cfg.TokenLookup == "" {
		cfg.TokenLookup = defaultTokenLookup
	}

	if cfg.AuthScheme == "" {
		cfg.AuthScheme = "Bearer"
	}

	if cfg.KeyFunc == nil {
		if cfg.JWKSetURL != "" {
			jwks, err := keyfunc.Get(cfg.JWKSetURL, keyfuncOptions(cfg.Logger))
			if err != nil {
				panic("Failed to create keyfunc from JWK Set URL: " + err.Error())
			}
			cfg.KeyFunc = jwks.Keyfunc
		} else {
			cfg.KeyFunc = signingKeyFunc(cfg.SigningKey)
		}
	}

	return cfg
}

func keyfuncOptions(logger authsession.Logger) keyfunc.Options {
	return keyfunc.Options{
		RefreshErrorHandler: func(err error) {
			logger.Error("failed to do a background refresh of JWT set", "error", err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  time.Minute * 5,
		RefreshTimeout:    time.Second * 10,
		RefreshUnknownKID: true,
	}
}

// TokenSource pulls a raw token from one request location.
type TokenSource func(c *fiber.Ctx) string

// FirstToken returns the first non-empty token found across sources.
func FirstToken(c *fiber.Ctx, sources []TokenSource) (string, error) {
	for _, source := range sources {
		if raw := source(c); raw != "" {
			return raw, nil
		}
	}
	return "", ErrMissingToken
}

// TokenSources parses a comma separated lookup of location:name pairs, for
// example "header:Authorization,cookie:sb-access-token,query:access_token".
// Unknown locations are ignored.
func TokenSources(lookup, scheme string) []TokenSource {
	var sources []TokenSource
	for _, entry := range strings.Split(lookup, ",") {
		location, name, ok := strings.Cut(strings.TrimSpace(entry), ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		switch strings.TrimSpace(location) {
		case "header":
			sources = append(sources, headerSource(name, strings.TrimSpace(scheme)))
		case "query":
			sources = append(sources, func(c *fiber.Ctx) string { return c.Query(name) })
		case "param":
			sources = append(sources, func(c *fiber.Ctx) string { return c.Params(name) })
		case "cookie":
			sources = append(sources, func(c *fiber.Ctx) string { return c.Cookies(name) })
		}
	}
	return sources
}

// headerSource expects "<scheme> <token>"; an empty scheme takes the whole
// header value.
func headerSource(header, scheme string) TokenSource {
	return func(c *fiber.Ctx) string {
		value := strings.TrimSpace(c.Get(header))
		if scheme == "" {
			return value
		}
		prefix, token, ok := strings.Cut(value, " ")
		if !ok || !strings.EqualFold(prefix, scheme) {
			return ""
		}
		return strings.TrimSpace(token)
	}
}

// signingKeyFunc pins the accepted alg when one is configured so a token
// cannot pick its own verification method.
func signingKeyFunc(key SigningKey) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if key.JWTAlg == "" {
			return key.Key, nil
		}
		if alg := token.Method.Alg(); alg != key.JWTAlg {
			return nil, fmt.Errorf("signing method %q not allowed, want %q", alg, key.JWTAlg)
		}
		return key.Key, nil
	}
}

// ClaimsFromContext returns the claims stored by Bearer.
func ClaimsFromContext(c *fiber.Ctx, contextKey ...string) (*Claims, bool) {
	key := "user"
	if len(contextKey) > 0 && contextKey[0] != "" {
		key = contextKey[0]
	}
	claims, ok := c.Locals(key).(*Claims)
	return claims, ok
}

// TokenFromContext returns the raw access token accepted by Bearer.
func TokenFromContext(c *fiber.Ctx) string {
	token, _ := c.Locals(tokenLocalsKey).(string)
	return token
}
