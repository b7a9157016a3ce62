package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"funnel-server/internal/store"
)

const tokenLifetime = 24 * time.Hour

// BaseClaims is the claim set carried by console session tokens.
type BaseClaims struct {
	Subject        string           `json:"sub"`
	Email          string           `json:"email"`
	Issuer         string           `json:"iss"`
	Audience       jwt.ClaimStrings `json:"aud"`
	ExpirationTime *jwt.NumericDate `json:"exp"`
	IssuedAt       *jwt.NumericDate `json:"iat"`
	NotBefore      *jwt.NumericDate `json:"nbf,omitempty"`
}

func (b *BaseClaims) GetExpirationTime() (*jwt.NumericDate, error) { return b.ExpirationTime, nil }
func (b *BaseClaims) GetIssuedAt() (*jwt.NumericDate, error)       { return b.IssuedAt, nil }
func (b *BaseClaims) GetNotBefore() (*jwt.NumericDate, error)      { return b.NotBefore, nil }
func (b *BaseClaims) GetIssuer() (string, error)                   { return b.Issuer, nil }
func (b *BaseClaims) GetSubject() (string, error)                  { return b.Subject, nil }
func (b *BaseClaims) GetAudience() (jwt.ClaimStrings, error)       { return b.Audience, nil }

func (p *AuthProcessor) generateJWTToken(ctx context.Context, admin store.AdminUser) (string, error) {
	now := time.Now()
	claims := &BaseClaims{
		Subject:        admin.ID.String(),
		Email:          admin.Email,
		Issuer:         "funnel-server",
		Audience:       jwt.ClaimStrings{"funnel-server"},
		ExpirationTime: jwt.NewNumericDate(now.Add(tokenLifetime)),
		IssuedAt:       jwt.NewNumericDate(now),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(p.authConfig.JWTSecret))
	if err != nil {
		p.logger.Error(ctx, "failed to sign token", err)
		return "", ErrFailedSignIn
	}

	return tokenString, nil
}

// ValidateJWTToken parses and verifies a console session token.
func (p *AuthProcessor) ValidateJWTToken(ctx context.Context, token string) (BaseClaims, error) {
	var baseClaims BaseClaims
	t, err := jwt.ParseWithClaims(token, &baseClaims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(p.authConfig.JWTSecret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return BaseClaims{}, ErrExpiredToken
		}
		p.logger.Error(ctx, "failed to parse token", err)
		return BaseClaims{}, ErrParseJWTToken
	}
	if !t.Valid {
		return BaseClaims{}, ErrInvalidJWTToken
	}

	claims, ok := t.Claims.(*BaseClaims)
	if !ok {
		return BaseClaims{}, ErrParseJWTToken
	}

	return *claims, nil
}
