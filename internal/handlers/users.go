package handlers

import (
	"net/http"

	"github.com/eldtechnologies/courier/internal/api/middleware"
)

// UserInfo represents a user in the directory listing.
type UserInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// ListUsers returns every registered user except the caller.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r.Context())
	if claims == nil {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}
	selfID, err := claims.Subject()
	if err != nil {
		h.Error(w, http.StatusForbidden, "invalid token")
		return
	}

	users, err := h.db.ListUsersExcept(r.Context(), selfID)
	if err != nil {
		h.logger.Error().Err(err).Msg("list users failed")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	out := make([]UserInfo, len(users))
	for i, u := range users {
		out[i] = UserInfo{ID: u.ID.String(), Username: u.Username, Email: u.Email}
	}

	h.JSON(w, http.StatusOK, out)
}
