package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const legacyIssuer = "transflow-api"

// LegacyClaims are the claims of HMAC-signed development tokens.
type LegacyClaims struct {
	UserID   string `json:"userId"`
	Email    string `json:"email"`
	TenantID string `json:"tenantId,omitempty"`
	jwt.RegisteredClaims
}

// HMACVerifier validates tokens signed with a shared secret.
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier creates a verifier for secret.
func NewHMACVerifier(secret string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret)}
}

// Validate implements TokenVerifier.
func (v *HMACVerifier) Validate(tokenString string) (*Identity, error) {
	token, err := jwt.ParseWithClaims(tokenString, &LegacyClaims{}, func(token *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*LegacyClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return &Identity{UserID: claims.UserID, Email: claims.Email, TenantID: claims.TenantID}, nil
}

// Close implements TokenVerifier.
func (v *HMACVerifier) Close() error { return nil }

// Sign issues a token for the given identity. Used by tests and local tooling.
func (v *HMACVerifier) Sign(id Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := LegacyClaims{
		UserID:   id.UserID,
		Email:    id.Email,
		TenantID: id.TenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    legacyIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Chain tries each verifier in order and returns the first success.
type Chain []TokenVerifier

// Validate implements TokenVerifier.
func (c Chain) Validate(tokenString string) (*Identity, error) {
	var lastErr error = jwt.ErrTokenUnverifiable
	for _, v := range c {
		id, err := v.Validate(tokenString)
		if err == nil {
			return id, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Close implements TokenVerifier.
func (c Chain) Close() error {
	for _, v := range c {
		_ = v.Close()
	}
	return nil
}
