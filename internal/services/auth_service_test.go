package services

import (
	"buildmysite-backend/internal/auth"
	"buildmysite-backend/internal/models"
	"buildmysite-backend/internal/store/memory"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newAuthService() *AuthService {
	return NewAuthService(memory.NewMemoryStore(), AuthOptions{
		JWTSecret:       "test-secret",
		TokenExpiration: time.Hour,
	}, zap.NewNop())
}

func TestAuthService_SignupAndLogin(t *testing.T) {
	svc := newAuthService()
	ctx := context.Background()

	user, err := svc.Signup(ctx, models.SignupRequest{Email: " Alice@Example.com ", Password: "correct-horse"})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.NotEqual(t, "correct-horse", user.HashedPassword)

	_, err = svc.Signup(ctx, models.SignupRequest{Email: "alice@example.com", Password: "another-pass"})
	assert.ErrorIs(t, err, ErrUserAlreadyExists)

	token, loggedIn, err := svc.Login(ctx, models.LoginRequest{Email: "ALICE@example.com", Password: "correct-horse"})
	require.NoError(t, err)
	assert.Equal(t, user.ID, loggedIn.ID)

	userID, err := auth.ParseAccessToken(token, "test-secret")
	require.NoError(t, err)
	assert.Equal(t, user.ID, userID)
}

func TestAuthService_SignupValidation(t *testing.T) {
	svc := newAuthService()
	ctx := context.Background()

	tests := []struct {
		name string
		req  models.SignupRequest
	}{
		{name: "missing email", req: models.SignupRequest{Password: "long-enough"}},
		{name: "bad email", req: models.SignupRequest{Email: "nope", Password: "long-enough"}},
		{name: "short password", req: models.SignupRequest{Email: "a@b.co", Password: "short"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Signup(ctx, tt.req)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestAuthService_LoginRejectsBadCredentials(t *testing.T) {
	svc := newAuthService()
	ctx := context.Background()
	_, err := svc.Signup(ctx, models.SignupRequest{Email: "bob@example.com", Password: "correct-horse"})
	require.NoError(t, err)

	_, _, err = svc.Login(ctx, models.LoginRequest{Email: "bob@example.com", Password: "wrong-horse"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = svc.Login(ctx, models.LoginRequest{Email: "nobody@example.com", Password: "correct-horse"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, _, err = svc.Login(ctx, models.LoginRequest{})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
