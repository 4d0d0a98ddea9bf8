package steps

import (
	"context"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"proxifier-go/internal/model"
)

// BearerTokenStep stamps an HS256-signed JWT into the Authorization header,
// so the upstream can trust requests that came through the proxy.
type BearerTokenStep struct {
	secret  []byte
	issuer  string
	subject string
	ttl     time.Duration
	now     func() time.Time
}

// BearerToken returns a step that signs a fresh token for every request.
func BearerToken(secret, issuer, subject string, ttl time.Duration) *BearerTokenStep {
	return &BearerTokenStep{
		secret:  []byte(secret),
		issuer:  issuer,
		subject: subject,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Process implements chain.Middleware.
func (s *BearerTokenStep) Process(ctx context.Context, req *model.ProxyRequest, next Next) (*model.ProxyRequest, error) {
	token, err := s.sign()
	if err != nil {
		return nil, err
	}
	return next.CallWith(ctx, req.Clone(model.WithHeader("Authorization", "Bearer "+token)))
}

func (s *BearerTokenStep) sign() (string, error) {
	now := s.now()
	claims := gojwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Issuer:    s.issuer,
		Subject:   s.subject,
		IssuedAt:  gojwt.NewNumericDate(now),
		NotBefore: gojwt.NewNumericDate(now),
		ExpiresAt: gojwt.NewNumericDate(now.Add(s.ttl)),
	}
	signed, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("bearer token: sign: %w", err)
	}
	return signed, nil
}
