package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/michaelwinser/timesheet-core/internal/store"
)

// APIKeyHandler implements the API key management endpoints
type APIKeyHandler struct {
	apiKeys *store.APIKeyStore
}

// NewAPIKeyHandler creates a new API key handler
func NewAPIKeyHandler(apiKeys *store.APIKeyStore) *APIKeyHandler {
	return &APIKeyHandler{
		apiKeys: apiKeys,
	}
}

type apiKeyDTO struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"user_id"`
	Name       string     `json:"name"`
	KeyPrefix  string     `json:"key_prefix"`
	Key        string     `json:"key,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// ListApiKeys returns all API keys for the authenticated user
func (h *APIKeyHandler) ListApiKeys(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	keys, err := h.apiKeys.List(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	result := make([]apiKeyDTO, len(keys))
	for i, k := range keys {
		result[i] = apiKeyDTO{
			ID:         k.ID,
			UserID:     k.UserID,
			Name:       k.Name,
			KeyPrefix:  k.KeyPrefix,
			CreatedAt:  k.CreatedAt,
			LastUsedAt: k.LastUsedAt,
		}
	}

	writeJSON(w, http.StatusOK, result)
}

type createAPIKeyRequest struct {
	Name string `json:"name"`
}

// CreateApiKey creates a new API key
func (h *APIKeyHandler) CreateApiKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	var body createAPIKeyRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Request body is required")
		return
	}

	name := strings.TrimSpace(body.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "invalid_name", "Name is required")
		return
	}

	if len(name) > 255 {
		writeError(w, http.StatusBadRequest, "invalid_name", "Name must be 255 characters or less")
		return
	}

	key, err := h.apiKeys.Create(r.Context(), userID, name)
	if err != nil {
		if errors.Is(err, store.ErrAPIKeyNameTaken) {
			writeError(w, http.StatusConflict, "name_taken", "An API key with this name already exists")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, apiKeyDTO{
		ID:        key.ID,
		UserID:    key.UserID,
		Name:      key.Name,
		KeyPrefix: key.KeyPrefix,
		Key:       key.Key,
		CreatedAt: key.CreatedAt,
	})
}

// DeleteApiKey revokes an API key
func (h *APIKeyHandler) DeleteApiKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Invalid api key id")
		return
	}

	if err := h.apiKeys.Delete(r.Context(), userID, id); err != nil {
		if errors.Is(err, store.ErrAPIKeyNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "API key not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
