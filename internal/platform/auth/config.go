package auth

import (
	"errors"
	"strings"

	"github.com/droidhub-labs/droidhub-go/internal/platform/env"
)

type Config struct {
	// InternalKey is the shared secret for intra-cluster callers.
	InternalKey string

	// JWKSURL is the federated identity provider's key discovery endpoint.
	JWKSURL string

	// Audience the identity token must be issued for.
	Audience string

	// Issuer, when set, is validated against the token's iss claim.
	Issuer string
}

func ConfigFromEnv() (Config, error) {
	cfg := Config{
		InternalKey: env.String("DROIDHUB_INTERNAL_KEY", ""),
		JWKSURL:     env.String("DROIDHUB_OIDC_JWKS_URL", "https://login.microsoftonline.com/common/discovery/keys"),
		Audience:    env.String("DROIDHUB_OIDC_AUDIENCE", ""),
		Issuer:      env.String("DROIDHUB_OIDC_ISSUER", ""),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.InternalKey) == "" {
		return errors.New("DROIDHUB_INTERNAL_KEY is required")
	}
	if strings.TrimSpace(c.JWKSURL) == "" {
		return errors.New("DROIDHUB_OIDC_JWKS_URL is required")
	}
	if strings.TrimSpace(c.Audience) == "" {
		return errors.New("DROIDHUB_OIDC_AUDIENCE is required")
	}
	return nil
}
