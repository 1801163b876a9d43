package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/eldtechnologies/courier/internal/auth"
	"github.com/eldtechnologies/courier/internal/metrics"
	"github.com/eldtechnologies/courier/internal/store"
)

const minPasswordLen = 8

// RegisterRequest represents the registration request body.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SessionResponse is returned by register and login: a session token plus
// the identity it was minted for.
type SessionResponse struct {
	Token    string `json:"token"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// Register handles user registration.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	username := sanitizeUsername(req.Username)
	if !isValidUsername(username) {
		h.Error(w, http.StatusBadRequest, "username must be 3-32 characters, alphanumeric with dots, hyphens and underscores")
		return
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))
	if !isValidEmail(email) {
		h.Error(w, http.StatusBadRequest, "invalid email format")
		return
	}

	if len(req.Password) < minPasswordLen {
		h.Error(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	user, err := h.db.CreateUser(r.Context(), username, email, string(hash))
	if err != nil {
		if errors.Is(err, store.ErrDuplicateUser) {
			h.Error(w, http.StatusBadRequest, "username or email already taken")
			return
		}
		h.logger.Error().Err(err).Msg("create user failed")
		h.Error(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	token, err := auth.Mint(h.secret, user.ID, user.Username)
	if err != nil {
		h.logger.Error().Err(err).Msg("token mint failed")
		h.Error(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	metrics.UsersRegistered.Inc()

	h.JSON(w, http.StatusCreated, SessionResponse{
		Token:    token,
		UserID:   user.ID.String(),
		Username: user.Username,
	})
}

// LoginRequest represents the login request body.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login authenticates a user by email and password. Unknown emails and wrong
// passwords produce the same response so accounts cannot be enumerated.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))

	user, err := h.db.GetUserByEmail(r.Context(), email)
	if err != nil {
		h.logger.Error().Err(err).Msg("login lookup failed")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if user == nil {
		h.Error(w, http.StatusBadRequest, "invalid email or password")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid email or password")
		return
	}

	token, err := auth.Mint(h.secret, user.ID, user.Username)
	if err != nil {
		h.logger.Error().Err(err).Msg("token mint failed")
		h.Error(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	h.JSON(w, http.StatusOK, SessionResponse{
		Token:    token,
		UserID:   user.ID.String(),
		Username: user.Username,
	})
}
