// Package auth verifies bearer tokens and extracts the caller identity the
// pipeline scopes glossaries and translation memory by.
package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/transflow/api/internal/config"
)

// OrgClaim carries the organization a Zitadel user belongs to.
const OrgClaim = "urn:zitadel:iam:user:resourceowner:id"

// Identity is the caller of a request.
type Identity struct {
	UserID   string
	Email    string
	Name     string
	TenantID string
}

// TokenVerifier defines the interface for JWT token verification
type TokenVerifier interface {
	Validate(tokenString string) (*Identity, error)
	Close() error
}

// Claims represents the JWT claims from Zitadel
type Claims struct {
	Email             string `json:"email,omitempty"`
	Name              string `json:"name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	OrgID             string `json:"urn:zitadel:iam:user:resourceowner:id,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the caller described by c.
func (c *Claims) Identity() *Identity {
	name := c.Name
	if name == "" {
		name = c.PreferredUsername
	}
	return &Identity{UserID: c.Subject, Email: c.Email, Name: name, TenantID: c.OrgID}
}

// JWKSVerifier implements TokenVerifier using JWKS
type JWKSVerifier struct {
	jwks     keyfunc.Keyfunc
	cancel   context.CancelFunc
	issuer   string
	audience string
}

// NewJWKSVerifier discovers the issuer's key set and keeps it refreshed
// until Close.
func NewJWKSVerifier(cfg *config.ZitadelConfig) (*JWKSVerifier, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("zitadel issuer is required")
	}

	discoverCtx, cancelDiscover := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelDiscover()

	jwksURL, err := discoverJWKSURL(discoverCtx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to discover JWKS URL: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create JWKS keyfunc: %w", err)
	}

	return &JWKSVerifier{
		jwks:     jwks,
		cancel:   cancel,
		issuer:   cfg.Issuer,
		audience: cfg.ClientID,
	}, nil
}

type discoveryDocument struct {
	JWKSURI string `json:"jwks_uri"`
}

// discoverJWKSURL reads jwks_uri from the OIDC discovery document.
func discoverJWKSURL(ctx context.Context, issuer string) (string, error) {
	var doc discoveryDocument
	resp, err := resty.New().R().
		SetContext(ctx).
		SetResult(&doc).
		Get(strings.TrimRight(issuer, "/") + "/.well-known/openid-configuration")
	if err != nil {
		return "", fmt.Errorf("failed to fetch discovery document: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("discovery endpoint returned status %d", resp.StatusCode())
	}
	if doc.JWKSURI == "" {
		return "", errors.New("jwks_uri not found in discovery document")
	}
	return doc.JWKSURI, nil
}

// Validate validates a JWT token and returns the caller
func (v *JWKSVerifier) Validate(tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, v.jwks.Keyfunc,
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	if v.audience != "" {
		aud, err := claims.GetAudience()
		if err != nil {
			return nil, fmt.Errorf("failed to get audience: %w", err)
		}
		if !slices.Contains(aud, v.audience) {
			return nil, errors.New("invalid audience")
		}
	}

	return claims.Identity(), nil
}

// Close stops the background key refresh.
func (v *JWKSVerifier) Close() error {
	v.cancel()
	return nil
}
