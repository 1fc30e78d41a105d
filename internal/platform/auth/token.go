package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	jose "github.com/go-jose/go-jose/v4"
)

// Authenticator gates a request behind one of the two trust paths.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Identity, error)
}

// TokenAuthenticator accepts either the shared internal communication key or
// a signed identity token verified against the federated key set. The
// internal key path trusts any caller presenting the exact secret and does
// not bind to an identity.
type TokenAuthenticator struct {
	logger      *slog.Logger
	internalKey string
	keys        *KeyCache
	verifier    *oidc.IDTokenVerifier
}

func NewTokenAuthenticator(ctx context.Context, logger *slog.Logger, cfg Config) (*TokenAuthenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	keys := NewKeyCache(logger, cfg.JWKSURL)
	verifier := oidc.NewVerifier(cfg.Issuer, keys, &oidc.Config{
		ClientID:             cfg.Audience,
		SupportedSigningAlgs: []string{oidc.RS256},
		SkipIssuerCheck:      cfg.Issuer == "",
	})

	return &TokenAuthenticator{
		logger:      logger,
		internalKey: cfg.InternalKey,
		keys:        keys,
		verifier:    verifier,
	}, nil
}

func (a *TokenAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return Identity{}, ErrNoCredential
	}

	if subtle.ConstantTimeCompare([]byte(raw), []byte(a.internalKey)) == 1 {
		return Identity{Subject: "internal", Internal: true}, nil
	}

	token := strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
	if _, err := decodeTokenHeader(token); err != nil {
		return Identity{}, err
	}

	idToken, err := a.verifier.Verify(ctx, token)
	if err != nil {
		var expired *oidc.TokenExpiredError
		switch {
		case errors.As(err, &expired):
			return Identity{}, ErrExpiredCredential
		case errors.Is(err, ErrMalformedCredential):
			return Identity{}, err
		case errors.Is(err, ErrKeyNotFound):
			return Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
		default:
			return Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
		}
	}

	var claims struct {
		Email string `json:"email"`
		UPN   string `json:"upn"`
	}
	_ = idToken.Claims(&claims)

	email := claims.Email
	if email == "" {
		email = claims.UPN
	}
	return Identity{Subject: idToken.Subject, Email: email}, nil
}

// VerifySignature lets the KeyCache serve as the oidc.KeySet: the unverified
// token header names the key id, the cache resolves the key, go-jose checks
// the signature. Audience and expiry are the verifier's concern.
func (c *KeyCache) VerifySignature(ctx context.Context, token string) ([]byte, error) {
	header, err := decodeTokenHeader(token)
	if err != nil {
		return nil, err
	}

	jws, err := jose.ParseSigned(token, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	}

	key, err := c.PublicKey(ctx, header.KeyID)
	if err != nil {
		return nil, err
	}

	payload, err := jws.Verify(key)
	if err != nil {
		return nil, fmt.Errorf("%w: signature mismatch", ErrInvalidCredential)
	}
	return payload, nil
}

type tokenHeader struct {
	KeyID     string `json:"kid"`
	Algorithm string `json:"alg"`
}

func decodeTokenHeader(token string) (tokenHeader, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return tokenHeader{}, ErrMalformedCredential
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[0], "="))
	if err != nil {
		return tokenHeader{}, fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	}
	var header tokenHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		return tokenHeader{}, fmt.Errorf("%w: %v", ErrMalformedCredential, err)
	}
	return header, nil
}
