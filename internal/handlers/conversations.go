package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/eldtechnologies/courier/internal/api/middleware"
	"github.com/eldtechnologies/courier/internal/metrics"
	"github.com/eldtechnologies/courier/internal/store"
)

// CreateConversationRequest represents the conversation create request body.
type CreateConversationRequest struct {
	OtherUserID string `json:"other_user_id"`
}

// CreateConversationResponse reports the canonical conversation for the pair
// and whether it already existed.
type CreateConversationResponse struct {
	ConversationID string `json:"conversation_id"`
	Exists         bool   `json:"exists"`
}

// CreateConversation finds or creates the unique conversation between the
// caller and another user.
func (h *Handler) CreateConversation(w http.ResponseWriter, r *http.Request) {
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

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	otherID, err := uuid.Parse(req.OtherUserID)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid other_user_id format")
		return
	}

	conv, existed, err := h.db.FindOrCreateConversation(r.Context(), selfID, otherID)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrSelfConversation):
			h.Error(w, http.StatusBadRequest, "cannot start a conversation with yourself")
		case errors.Is(err, store.ErrNotFound):
			h.Error(w, http.StatusNotFound, "user not found")
		default:
			h.logger.Error().Err(err).Msg("find-or-create conversation failed")
			h.Error(w, http.StatusInternalServerError, "database error")
		}
		return
	}

	if !existed {
		metrics.ConversationsCreated.Inc()
	}

	h.JSON(w, http.StatusOK, CreateConversationResponse{
		ConversationID: conv.ID.String(),
		Exists:         existed,
	})
}

// ConversationInfo is one entry of the caller's conversation list.
type ConversationInfo struct {
	ID              string  `json:"id"`
	UpdatedAt       string  `json:"updated_at"`
	OtherUserID     string  `json:"other_user_id"`
	OtherUser       string  `json:"other_user"`
	LastMessage     *string `json:"last_message"`
	LastMessageTime *string `json:"last_message_time"`
}

// ListConversations returns the caller's conversations ordered by most
// recent activity.
func (h *Handler) ListConversations(w http.ResponseWriter, r *http.Request) {
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

	summaries, err := h.db.ListConversationsForUser(r.Context(), selfID)
	if err != nil {
		h.logger.Error().Err(err).Msg("list conversations failed")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	out := make([]ConversationInfo, len(summaries))
	for i, s := range summaries {
		info := ConversationInfo{
			ID:          s.ID.String(),
			UpdatedAt:   s.UpdatedAt.UTC().Format(timeFormat),
			OtherUserID: s.OtherUserID.String(),
			OtherUser:   s.OtherUsername,
			LastMessage: s.LastMessage,
		}
		if s.LastMessageAt != nil {
			t := s.LastMessageAt.UTC().Format(timeFormat)
			info.LastMessageTime = &t
		}
		out[i] = info
	}

	h.JSON(w, http.StatusOK, out)
}
