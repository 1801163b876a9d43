package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/eldtechnologies/courier/internal/api/middleware"
	"github.com/eldtechnologies/courier/internal/models"
)

const timeFormat = time.RFC3339

// MessageInfo represents a message in API responses.
type MessageInfo struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	SenderName     string `json:"sender_name"`
	Content        string `json:"content"`
	CreatedAt      string `json:"created_at"`
}

func messageInfo(m *models.Message) MessageInfo {
	return MessageInfo{
		ID:             m.ID,
		ConversationID: m.ConversationID.String(),
		SenderID:       m.SenderID.String(),
		SenderName:     m.SenderName,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt.UTC().Format(timeFormat),
	}
}

// GetMessages returns a conversation's messages in creation order. The
// caller must be a participant.
func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
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

	convID, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid conversation ID format")
		return
	}

	member, err := h.db.IsParticipant(r.Context(), convID, selfID)
	if err != nil {
		h.logger.Error().Err(err).Msg("participant check failed")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if !member {
		conv, err := h.db.GetConversation(r.Context(), convID)
		if err != nil {
			h.logger.Error().Err(err).Msg("conversation lookup failed")
			h.Error(w, http.StatusInternalServerError, "database error")
			return
		}
		if conv == nil {
			h.Error(w, http.StatusNotFound, "conversation not found")
			return
		}
		h.Error(w, http.StatusForbidden, "not a participant of this conversation")
		return
	}

	msgs, err := h.db.ListMessages(r.Context(), convID)
	if err != nil {
		h.logger.Error().Err(err).Msg("list messages failed")
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}

	out := make([]MessageInfo, len(msgs))
	for i := range msgs {
		out[i] = messageInfo(&msgs[i])
	}

	h.JSON(w, http.StatusOK, out)
}
