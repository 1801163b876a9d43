package handlers

import (
	"net/http"
	"strconv"

	"github.com/eldtechnologies/courier/internal/api/middleware"
	"github.com/eldtechnologies/courier/internal/metrics"
	"github.com/eldtechnologies/courier/internal/store"
)

// SearchResponse represents the search response.
type SearchResponse struct {
	Query    string        `json:"query"`
	Messages []MessageInfo `json:"messages"`
}

// Find searches the caller's messages via the Redis word index. Results are
// hydrated from the primary store and filtered to conversations the caller
// participates in, so the index can never leak another user's messages.
func (h *Handler) Find(w http.ResponseWriter, r *http.Request) {
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

	if h.redis == nil {
		h.Error(w, http.StatusServiceUnavailable, "search is not available")
		return
	}

	query := r.URL.Query().Get("q")
	tokens := store.Tokenize(query)
	if len(tokens) == 0 {
		h.Error(w, http.StatusBadRequest, "query must contain at least one word of 3+ characters")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 100 {
		limit = 100
	}

	metrics.SearchQueries.Inc()

	// Over-fetch: membership filtering below may discard candidates.
	ids, err := h.redis.SearchMessages(r.Context(), tokens, limit*3)
	if err != nil {
		h.logger.Error().Err(err).Msg("search index query failed")
		h.Error(w, http.StatusInternalServerError, "search failed")
		return
	}

	results := make([]MessageInfo, 0, limit)
	for _, id := range ids {
		msg, err := h.db.GetMessage(r.Context(), id)
		if err != nil {
			h.logger.Error().Err(err).Str("message_id", id).Msg("search hydration failed")
			continue
		}
		if msg == nil {
			continue // indexed but since removed from the primary store
		}
		member, err := h.db.IsParticipant(r.Context(), msg.ConversationID, selfID)
		if err != nil || !member {
			continue
		}
		results = append(results, messageInfo(msg))
		if len(results) >= limit {
			break
		}
	}

	h.JSON(w, http.StatusOK, SearchResponse{Query: query, Messages: results})
}
