package processor

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"funnel-server/internal/config"
	"funnel-server/internal/observability"
	"funnel-server/internal/store"
)

// MockAuthStore is a mock implementation of AuthStore
type MockAuthStore struct {
	mock.Mock
}

func (m *MockAuthStore) GetAdminUserByEmail(ctx context.Context, email string) (store.AdminUser, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(store.AdminUser), args.Error(1)
}

func (m *MockAuthStore) TouchAdminLastLogin(ctx context.Context, adminID uuid.UUID) error {
	args := m.Called(ctx, adminID)
	return args.Error(0)
}

func newTestProcessor(authStore *MockAuthStore) AuthProcessor {
	cfg := config.AuthConfig{
		JWTSecret:   "test-secret",
		AdminEmails: []string{"admin@example.com"},
	}
	return New(authStore, cfg, observability.NewLogger())
}

func adminUser(t *testing.T, email, password string, active bool) store.AdminUser {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return store.AdminUser{
		ID:           uuid.New(),
		Email:        email,
		Name:         "Operator",
		PasswordHash: string(hash),
		Active:       active,
	}
}

func TestLoginSuccess(t *testing.T) {
	ctx := context.Background()
	authStore := new(MockAuthStore)
	p := newTestProcessor(authStore)

	admin := adminUser(t, "admin@example.com", "s3nha-forte", true)
	authStore.On("GetAdminUserByEmail", mock.Anything, "admin@example.com").Return(admin, nil)
	authStore.On("TouchAdminLastLogin", mock.Anything, admin.ID).Return(nil)

	token, err := p.Login(ctx, "Admin@Example.com ", "s3nha-forte")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	claims, err := p.ValidateJWTToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, admin.ID.String(), claims.Subject)
	assert.Equal(t, "admin@example.com", claims.Email)
	authStore.AssertExpectations(t)
}

func TestLoginWrongPassword(t *testing.T) {
	ctx := context.Background()
	authStore := new(MockAuthStore)
	p := newTestProcessor(authStore)

	admin := adminUser(t, "admin@example.com", "s3nha-forte", true)
	authStore.On("GetAdminUserByEmail", mock.Anything, "admin@example.com").Return(admin, nil)

	_, err := p.Login(ctx, "admin@example.com", "errada")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginNotWhitelisted(t *testing.T) {
	ctx := context.Background()
	authStore := new(MockAuthStore)
	p := newTestProcessor(authStore)

	// The store is never consulted for a non-whitelisted email.
	_, err := p.Login(ctx, "intruso@example.com", "whatever1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	authStore.AssertNotCalled(t, "GetAdminUserByEmail", mock.Anything, mock.Anything)
}

func TestLoginUnknownAdmin(t *testing.T) {
	ctx := context.Background()
	authStore := new(MockAuthStore)
	p := newTestProcessor(authStore)

	authStore.On("GetAdminUserByEmail", mock.Anything, "admin@example.com").
		Return(store.AdminUser{}, store.ErrNotFound)

	_, err := p.Login(ctx, "admin@example.com", "s3nha-forte")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLoginDeactivatedAdmin(t *testing.T) {
	ctx := context.Background()
	authStore := new(MockAuthStore)
	p := newTestProcessor(authStore)

	admin := adminUser(t, "admin@example.com", "s3nha-forte", false)
	authStore.On("GetAdminUserByEmail", mock.Anything, "admin@example.com").Return(admin, nil)

	_, err := p.Login(ctx, "admin@example.com", "s3nha-forte")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateJWTTokenRejectsGarbage(t *testing.T) {
	ctx := context.Background()
	p := newTestProcessor(new(MockAuthStore))

	_, err := p.ValidateJWTToken(ctx, "not-a-token")
	assert.ErrorIs(t, err, ErrParseJWTToken)
}

func TestValidateJWTTokenRejectsWrongSecret(t *testing.T) {
	ctx := context.Background()
	authStore := new(MockAuthStore)
	p := newTestProcessor(authStore)

	admin := adminUser(t, "admin@example.com", "s3nha-forte", true)
	authStore.On("GetAdminUserByEmail", mock.Anything, "admin@example.com").Return(admin, nil)
	authStore.On("TouchAdminLastLogin", mock.Anything, admin.ID).Return(nil)

	token, err := p.Login(ctx, "admin@example.com", "s3nha-forte")
	require.NoError(t, err)

	other := New(authStore, config.AuthConfig{JWTSecret: "other-secret"}, observability.NewLogger())
	_, err = other.ValidateJWTToken(ctx, token)
	assert.ErrorIs(t, err, ErrParseJWTToken)
}

func TestHashPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("senha-muito-secreta")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("senha-muito-secreta")))
}
