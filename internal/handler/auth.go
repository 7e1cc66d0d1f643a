package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/michaelwinser/timesheet-core/internal/store"
)

// contextKey is used for context values
type contextKey string

const userIDKey contextKey = "userID"

// AuthHandler implements the auth endpoints
type AuthHandler struct {
	users *store.UserStore
	jwt   *JWTService
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(users *store.UserStore, jwt *JWTService) *AuthHandler {
	return &AuthHandler{
		users: users,
		jwt:   jwt,
	}
}

type userDTO struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type authResponse struct {
	Token string  `json:"token"`
	User  userDTO `json:"user"`
}

func toUserDTO(u *store.User) userDTO {
	return userDTO{ID: u.ID, Email: string(u.Email), Name: u.Name, CreatedAt: u.CreatedAt}
}

type signupRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// Signup creates a new user account
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var body signupRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Request body is required")
		return
	}

	email := strings.TrimSpace(body.Email)
	if email == "" {
		writeError(w, http.StatusBadRequest, "invalid_email", "Email is required")
		return
	}

	if len(body.Password) < 8 {
		writeError(w, http.StatusBadRequest, "invalid_password", "Password must be at least 8 characters")
		return
	}

	if strings.TrimSpace(body.Name) == "" {
		writeError(w, http.StatusBadRequest, "invalid_name", "Name is required")
		return
	}

	user, err := h.users.Create(r.Context(), email, body.Name, body.Password)
	if err != nil {
		if errors.Is(err, store.ErrEmailAlreadyTaken) {
			writeError(w, http.StatusConflict, "email_taken", "Email is already registered")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	token, err := h.jwt.GenerateToken(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, authResponse{Token: token, User: toUserDTO(user)})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login authenticates a user
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "Request body is required")
		return
	}

	user, err := h.users.Authenticate(r.Context(), strings.TrimSpace(body.Email), body.Password)
	if err != nil {
		if errors.Is(err, store.ErrInvalidPassword) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials", "Email or password is incorrect")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	token, err := h.jwt.GenerateToken(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, authResponse{Token: token, User: toUserDTO(user)})
}

// Logout ends the current session. For JWT-based auth this is client-side
// (discard the token); there is no server-side session to revoke.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// GetCurrentUser returns the authenticated user's profile
func (h *AuthHandler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeUnauthorized(w)
		return
	}

	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "User not found")
		return
	}

	writeJSON(w, http.StatusOK, toUserDTO(user))
}
