package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"quotefeed/pkg/platform/sentinel"
)

// Claims represents the JWT claims for our access tokens.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// TokenService issues and validates bearer tokens so reconnecting clients can
// skip the slow password hash after an initial credential exchange.
type TokenService struct {
	signingKey []byte
	issuer     string
	ttl        time.Duration
}

func NewTokenService(signingKey string, issuer string, ttl time.Duration) *TokenService {
	return &TokenService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		ttl:        ttl,
	}
}

// IssueToken signs a token carrying the principal's identity and roles.
func (s *TokenService) IssueToken(p *Principal) (string, error) {
	if p == nil {
		return "", fmt.Errorf("principal is required")
	}

	now := time.Now()
	newToken := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Roles: p.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Name,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			ID:        uuid.NewString(),
		},
	})

	signedToken, err := newToken.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signedToken, nil
}

// ValidateToken parses and verifies a token, returning the principal it
// names. Expired tokens surface sentinel.ErrExpired so transports can reject
// them distinctly from malformed ones.
func (s *TokenService) ValidateToken(tokenString string) (*Principal, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	}, jwt.WithIssuer(s.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, sentinel.ErrExpired
		}
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("unexpected token claims")
	}

	return &Principal{Name: claims.Subject, Roles: claims.Roles}, nil
}
