package license

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenClaims is the claim set carried by a signed license token. The
// licensing endpoint issues these tokens; the orchestrator verifies the
// signature and lifts the claims into a License.
type tokenClaims struct {
	ItemID       string `json:"item_id"`
	ContentURL   string `json:"content_url"`
	ExpectedSize int64  `json:"expected_size"`
	Key          string `json:"key"`
	IV           string `json:"iv"`
	jwt.RegisteredClaims
}

// TokenParser verifies HMAC-signed license tokens.
type TokenParser struct {
	signingKey []byte
	clockSkew  time.Duration
	timeFunc   func() time.Time // Injectable for testing
}

// NewTokenParser creates a TokenParser for the given shared secret.
func NewTokenParser(secret string) (*TokenParser, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("license token secret must be at least 32 characters")
	}
	return &TokenParser{
		signingKey: []byte(secret),
		clockSkew:  2 * time.Minute,
		timeFunc:   time.Now,
	}, nil
}

// Parse validates the token signature and lifetime and returns the license
// it carries.
func (p *TokenParser) Parse(tokenString string) (*License, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithLeeway(p.clockSkew),
		jwt.WithTimeFunc(p.timeFunc),
	}

	token, err := jwt.ParseWithClaims(
		tokenString,
		&tokenClaims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return p.signingKey, nil
		},
		parserOpts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token expired", ErrTokenInvalid)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*tokenClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.ItemID == "" || claims.ContentURL == "" {
		return nil, fmt.Errorf("%w: missing item or content claims", ErrTokenInvalid)
	}

	return &License{
		ItemID:       claims.ItemID,
		ContentURL:   claims.ContentURL,
		ExpectedSize: claims.ExpectedSize,
		Key:          claims.Key,
		IV:           claims.IV,
	}, nil
}

// Sign creates a signed license token for the given license, expiring after
// lifetime. The production issuer lives server-side; this is used by local
// license services and tests.
func (p *TokenParser) Sign(lic *License, lifetime time.Duration) (string, error) {
	now := p.timeFunc()
	claims := tokenClaims{
		ItemID:       lic.ItemID,
		ContentURL:   lic.ContentURL,
		ExpectedSize: lic.ExpectedSize,
		Key:          lic.Key,
		IV:           lic.IV,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   lic.ItemID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign license token: %w", err)
	}
	return signed, nil
}
