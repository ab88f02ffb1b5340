// Package actionlink builds the signed acknowledge links embedded in
// notification bodies. The token carries the item ref and recipient so the
// host application can attribute the acknowledgement without a login flow.
package actionlink

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"vigil/pkg/domain"
	dErrors "vigil/pkg/domain-errors"
)

// Claims is the action-link token payload.
type Claims struct {
	ItemRef     string `json:"item_ref"`
	RecipientID string `json:"recipient_id"`
	jwt.RegisteredClaims
}

// Signer issues and verifies action-link tokens.
type Signer struct {
	signingKey []byte
	baseURL    string
	ttl        time.Duration
}

// NewSigner creates a Signer. baseURL is the host application's acknowledge
// endpoint; the token rides in its query string.
func NewSigner(signingKey []byte, baseURL string, ttl time.Duration) (*Signer, error) {
	if len(signingKey) == 0 {
		return nil, fmt.Errorf("signing key is required")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("ttl must be positive")
	}
	return &Signer{signingKey: signingKey, baseURL: baseURL, ttl: ttl}, nil
}

// Link returns the full acknowledge URL for one (item, recipient) pair.
func (s *Signer) Link(ref domain.ItemRef, recipient domain.UserID, now time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		ItemRef:     ref.String(),
		RecipientID: recipient.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "vigil",
		},
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign action link: %w", err)
	}
	return fmt.Sprintf("%s?token=%s", s.baseURL, url.QueryEscape(signed)), nil
}

// Verify parses and validates a token string.
func (s *Signer) Verify(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "action link has expired")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid action link")
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid action link")
	}
	return claims, nil
}
