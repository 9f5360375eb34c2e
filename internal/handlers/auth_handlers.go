package handlers

import (
	"buildmysite-backend/internal/models"
	"buildmysite-backend/internal/services"
	"buildmysite-backend/pkg/httputil"
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// AuthService defines the interface expected from the auth service.
type AuthService interface {
	Signup(ctx context.Context, req models.SignupRequest) (*models.User, error)
	Login(ctx context.Context, req models.LoginRequest) (string, *models.User, error)
}

type AuthHandler struct {
	authService AuthService
	logger      *zap.Logger
}

func NewAuthHandler(authSvc AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authSvc,
		logger:      logger.Named("auth_handler"),
	}
}

// HandleSignup handles the POST /v1/auth/signup request.
func (h *AuthHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var req models.SignupRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := h.authService.Signup(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrUserAlreadyExists):
			httputil.RespondError(w, http.StatusConflict, err.Error())
		case errors.Is(err, services.ErrValidation):
			httputil.RespondError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("Signup failed", zap.Error(err))
			httputil.RespondError(w, http.StatusInternalServerError, "Signup failed due to an internal error")
		}
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, models.UserResponse{ID: user.ID, Email: user.Email})
}

// HandleLogin handles the POST /v1/auth/login request.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	token, user, err := h.authService.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			httputil.RespondError(w, http.StatusUnauthorized, err.Error())
			return
		}
		h.logger.Error("Login failed", zap.Error(err))
		httputil.RespondError(w, http.StatusInternalServerError, "Login failed due to an internal error")
		return
	}

	resp := models.AuthResponse{
		AccessToken: token,
		User:        models.UserResponse{ID: user.ID, Email: user.Email},
	}
	httputil.RespondJSON(w, http.StatusOK, resp)
}
