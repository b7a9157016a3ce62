// Package processor authenticates console operators. Access is double-gated:
// the email must be on the configured whitelist AND match an active
// admin_users row. Failures are indistinguishable to the caller so the login
// surface reveals nothing about which gate rejected.
package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"funnel-server/internal/config"
	"funnel-server/internal/observability"
	"funnel-server/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrFailedSignIn       = errors.New("failed to sign in")
	ErrExpiredToken       = errors.New("token expired")
	ErrInvalidJWTToken    = errors.New("invalid token")
	ErrParseJWTToken      = errors.New("failed to parse token")
)

type AuthProcessor struct {
	store      AuthStore
	authConfig config.AuthConfig
	logger     *observability.Logger
}

func New(authStore AuthStore, authConfig config.AuthConfig, logger *observability.Logger) AuthProcessor {
	return AuthProcessor{
		store:      authStore,
		authConfig: authConfig,
		logger:     logger,
	}
}

// IsAdminEmail reports whether the email is whitelisted for console access.
func (p *AuthProcessor) IsAdminEmail(email string) bool {
	return p.authConfig.IsAdminEmail(email)
}

// Login verifies the operator's credentials and returns a signed session
// token. Every rejection maps to ErrInvalidCredentials.
func (p *AuthProcessor) Login(ctx context.Context, email, password string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	ctx = observability.WithFields(ctx, observability.Field{Key: "email", Value: email})

	if !p.authConfig.IsAdminEmail(email) {
		p.logger.Warn(ctx, "login attempt from non-whitelisted email")
		return "", ErrInvalidCredentials
	}

	admin, err := p.store.GetAdminUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrInvalidCredentials
		}
		p.logger.Error(ctx, "failed to load admin user", err)
		return "", fmt.Errorf("failed to load admin user: %w", err)
	}
	if !admin.Active {
		p.logger.Warn(ctx, "login attempt on deactivated admin user")
		return "", ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	if err := p.store.TouchAdminLastLogin(ctx, admin.ID); err != nil {
		p.logger.Error(ctx, "failed to record admin login time", err)
	}

	token, err := p.generateJWTToken(ctx, admin)
	if err != nil {
		return "", err
	}

	p.logger.Info(ctx, "admin logged in")
	return token, nil
}

// HashPassword produces a bcrypt hash for seeding admin_users rows.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}
