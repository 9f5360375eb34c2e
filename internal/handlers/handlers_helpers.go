package handlers

import (
	"buildmysite-backend/internal/auth"
	"buildmysite-backend/internal/services"
	"buildmysite-backend/pkg/httputil"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// requireUserID extracts the authenticated user, answering 401 when absent.
func requireUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := auth.GetUserIDFromContext(r.Context())
	if !ok || userID == uuid.Nil {
		httputil.RespondError(w, http.StatusUnauthorized, "Unauthorized")
		return uuid.Nil, false
	}
	return userID, true
}

// uuidParam parses a chi URL parameter, answering 400 when malformed.
func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid %s", name))
		return uuid.Nil, false
	}
	return id, true
}

// respondServiceError maps service sentinels to status codes. Unknown errors are logged
// and hidden behind a generic message.
func respondServiceError(w http.ResponseWriter, logger *zap.Logger, op string, err error) {
	switch {
	case errors.Is(err, services.ErrValidation):
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrForbidden):
		httputil.RespondError(w, http.StatusForbidden, "You do not have access to this project")
	case errors.Is(err, services.ErrNotFound):
		httputil.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrConflict):
		httputil.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, services.ErrGeneration):
		httputil.RespondError(w, http.StatusBadGateway, err.Error())
	default:
		logger.Error("Request failed", zap.String("op", op), zap.Error(err))
		httputil.RespondError(w, http.StatusInternalServerError, "Internal server error")
	}
}
