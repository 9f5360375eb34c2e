package services

import (
	"buildmysite-backend/internal/auth"
	"buildmysite-backend/internal/models"
	"buildmysite-backend/internal/store"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Custom errors for auth service
var (
	ErrUserAlreadyExists  = errors.New("user with this email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrHashingPassword    = errors.New("failed to hash password")
	ErrCreatingToken      = errors.New("failed to create access token")
)

// AuthOptions carries the token settings the service signs with.
type AuthOptions struct {
	JWTSecret       string
	TokenExpiration time.Duration
}

type AuthService struct {
	store  store.Store
	opts   AuthOptions
	logger *zap.Logger
}

func NewAuthService(s store.Store, opts AuthOptions, logger *zap.Logger) *AuthService {
	return &AuthService{
		store:  s,
		opts:   opts,
		logger: logger.Named("auth"),
	}
}

// Signup creates a new user account.
func (s *AuthService) Signup(ctx context.Context, req models.SignupRequest) (*models.User, error) {
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		s.logger.Error("Error hashing password", zap.String("email", req.Email), zap.Error(err))
		return nil, ErrHashingPassword
	}

	user := &models.User{
		ID:             uuid.New(),
		Email:          req.Email,
		HashedPassword: hashedPassword,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrUserAlreadyExists
		}
		s.logger.Error("Error creating user", zap.String("email", req.Email), zap.Error(err))
		return nil, fmt.Errorf("creating user failed: %w", err)
	}

	s.logger.Info("Successfully signed up user", zap.String("email", user.Email), zap.Stringer("user_id", user.ID))
	return user, nil
}

// Login verifies user credentials and returns an access token and user info.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (string, *models.User, error) {
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || req.Password == "" {
		return "", nil, ErrInvalidCredentials
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", nil, ErrInvalidCredentials // Don't reveal if user exists or password is wrong
		}
		s.logger.Error("Error retrieving user during login", zap.String("email", email), zap.Error(err))
		return "", nil, fmt.Errorf("failed to retrieve user: %w", err)
	}

	ok, err := auth.CheckPasswordHash(req.Password, user.HashedPassword)
	if err != nil {
		s.logger.Error("Error comparing password hash", zap.Stringer("user_id", user.ID), zap.Error(err))
		return "", nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if !ok {
		return "", nil, ErrInvalidCredentials
	}

	token, err := auth.NewAccessToken(user.ID, s.opts.JWTSecret, s.opts.TokenExpiration)
	if err != nil {
		s.logger.Error("Error generating JWT", zap.Stringer("user_id", user.ID), zap.Error(err))
		return "", nil, ErrCreatingToken
	}

	s.logger.Info("Successfully logged in user", zap.Stringer("user_id", user.ID))
	return token, user, nil
}
