package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultTokenTTL = 5 * time.Minute

	// RelayIssuer identifies the platform relay in webhook tokens.
	RelayIssuer = "pelilauta-relay"
	// SidekickAudience identifies this service as the token audience.
	SidekickAudience = "pelilauta-sidekick"
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingSubjectClaim  = errors.New("subject claim must be provided")
)

// WebhookTokenConfig configures the HS256 tokens the relay presents on the
// events webhook.
type WebhookTokenConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// WebhookTokens mints and validates the bearer tokens protecting the events
// endpoint. Minting exists for the relay side and for tests; the sidekick
// itself only validates.
type WebhookTokens struct {
	config WebhookTokenConfig
	clock  func() time.Time
}

// NewWebhookTokens constructs a WebhookTokens with sane defaults.
func NewWebhookTokens(cfg WebhookTokenConfig) *WebhookTokens {
	if cfg.Issuer == "" {
		cfg.Issuer = RelayIssuer
	}
	if cfg.Audience == "" {
		cfg.Audience = SidekickAudience
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	cfg.Clock = clock
	return &WebhookTokens{config: cfg, clock: clock}
}

// Issue produces a signed token for the given relay identity.
func (t *WebhookTokens) Issue(subject string) (string, error) {
	if len(t.config.SigningSecret) == 0 {
		return "", errMissingSigningSecret
	}
	if subject == "" {
		return "", errMissingSubjectClaim
	}

	now := t.clock().UTC()
	registered := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    t.config.Issuer,
		Audience:  []string{t.config.Audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.config.TokenTTL)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, registered)
	return token.SignedString(t.config.SigningSecret)
}

// Validate ensures the bearer token is well formed and returns its subject.
func (t *WebhookTokens) Validate(tokenString string) (string, error) {
	if len(t.config.SigningSecret) == 0 {
		return "", errMissingSigningSecret
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return t.config.SigningSecret, nil
		},
		jwt.WithAudience(t.config.Audience),
		jwt.WithIssuer(t.config.Issuer),
		jwt.WithTimeFunc(t.clock),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errMissingSubjectClaim
	}
	return claims.Subject, nil
}
