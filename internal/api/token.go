package api

import (
	"encoding/json"
	"net/http"

	"github.com/streamvault/backend/internal/auth"
	apperrors "github.com/streamvault/backend/internal/errors"
)

// AuthHandlers serves the token exchange endpoint.
type AuthHandlers struct {
	service *auth.Service
}

// NewAuthHandlers creates auth handlers.
func NewAuthHandlers(service *auth.Service) *AuthHandlers {
	return &AuthHandlers{service: service}
}

// TokenRequest is the request body for the token exchange
type TokenRequest struct {
	APIKey string `json:"api_key"`
}

// Token handles POST /api/v1/auth/token
func (h *AuthHandlers) Token(w http.ResponseWriter, r *http.Request) {
	requestID := apperrors.GetRequestID(r.Context())

	if !h.service.Enabled() {
		apperrors.WriteError(w, requestID, apperrors.BadRequest("authentication is not enabled"))
		return
	}

	var req TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, requestID, apperrors.BadRequest("invalid JSON body"))
		return
	}
	if req.APIKey == "" {
		apperrors.WriteError(w, requestID, apperrors.ValidationError("api_key is required"))
		return
	}

	token, err := h.service.ExchangeAPIKey(req.APIKey)
	if err != nil {
		apperrors.WriteError(w, requestID, apperrors.InvalidCredentials())
		return
	}

	apperrors.WriteJSON(w, requestID, http.StatusOK, token)
}
