package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/vedran77/relay/internal/service"
	"github.com/vedran77/relay/internal/transport/http/middleware"
)

type ChannelHandler struct {
	channelService *service.ChannelService
	log            *slog.Logger
}

func NewChannelHandler(channelService *service.ChannelService, log *slog.Logger) *ChannelHandler {
	return &ChannelHandler{channelService: channelService, log: log}
}

func (h *ChannelHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var input service.CreateChannelInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return
	}

	ch, err := h.channelService.Create(r.Context(), userID, input)
	if err != nil {
		var invalid *service.InvalidInputError
		switch {
		case errors.As(err, &invalid):
			writeValidationErrors(w, invalid.Fields)
		case errors.Is(err, service.ErrUnknownMembers):
			writeError(w, http.StatusBadRequest, "UNKNOWN_MEMBERS", "All members must be existing users")
		default:
			h.log.Error("Creating channel failed", "user_id", userID, "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"channel": ch})
}

func (h *ChannelHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	channels, err := h.channelService.ListForUser(r.Context(), userID)
	if err != nil {
		h.log.Error("Listing channels failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"channels": channels})
}
