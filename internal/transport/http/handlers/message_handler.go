package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/vedran77/relay/internal/service"
	"github.com/vedran77/relay/internal/transport/http/middleware"
)

type MessageHandler struct {
	history *service.HistoryService
	log     *slog.Logger
}

func NewMessageHandler(history *service.HistoryService, log *slog.Logger) *MessageHandler {
	return &MessageHandler{history: history, log: log}
}

// Direct lists the conversation between the caller and {userId}.
func (h *MessageHandler) Direct(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	otherID, err := uuid.Parse(r.PathValue("userId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid user ID")
		return
	}

	messages, err := h.history.Direct(r.Context(), userID, otherID)
	if err != nil {
		h.log.Error("Listing direct messages failed", "user_id", userID, "other_user_id", otherID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// Channel lists a channel's messages for a member or its admin.
func (h *MessageHandler) Channel(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	channelID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid channel ID")
		return
	}

	messages, err := h.history.Channel(r.Context(), userID, channelID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrChannelNotFound):
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Channel not found")
		case errors.Is(err, service.ErrNotChannelMember):
			writeError(w, http.StatusForbidden, "FORBIDDEN", "You do not have access to this channel")
		default:
			h.log.Error("Listing channel messages failed", "user_id", userID, "channel_id", channelID, "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}
