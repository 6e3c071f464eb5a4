package httpserver

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"pairchat/internal/domain"
	"pairchat/internal/service"
)

type saveChatRequest struct {
	ID   int64 `json:"id"` // other user
	Save bool  `json:"save"`
}

type markAsReadRequest struct {
	ID int64 `json:"id"` // conversation
}

// @Summary      Recent chats
// @Description  Conversations of the current user, most recent activity first
// @Tags         chats
// @Security     BearerAuth
// @Produce      json
// @Success      200  {array}   service.ConversationSummary
// @Router       /chats/recent [get]
func handleListRecent(convSvc *service.ConversationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		res, err := convSvc.ListRecent(r.Context(), currentUser.ID)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// @Summary      Saved chats
// @Tags         chats
// @Security     BearerAuth
// @Produce      json
// @Success      200  {array}   service.ConversationSummary
// @Router       /chats/saved [get]
func handleListSaved(convSvc *service.ConversationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		res, err := convSvc.ListSaved(r.Context(), currentUser.ID)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// @Summary      Save or unsave a chat
// @Description  Pins the conversation with another user for the current user only
// @Tags         chats
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        input body saveChatRequest true "Other user and flag"
// @Success      200  {object}  map[string]any
// @Failure      404  {object}  map[string]string
// @Router       /chats/save [put]
func handleSaveChat(convSvc *service.ConversationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		var req saveChatRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, logger, err)
			return
		}
		if req.ID <= 0 {
			writeError(w, r, logger, fmt.Errorf("%w: id is required", domain.ErrInvalidInput))
			return
		}
		if err := convSvc.SetSaved(r.Context(), currentUser.ID, req.ID, req.Save); err != nil {
			writeError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": req.ID, "saved": req.Save})
	}
}

// @Summary      Mark a chat as read
// @Tags         chats
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        input body markAsReadRequest true "Conversation"
// @Success      200  {object}  map[string]any
// @Failure      404  {object}  map[string]string
// @Router       /chats/mark-as-read [put]
func handleMarkAsRead(convSvc *service.ConversationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		var req markAsReadRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, logger, err)
			return
		}
		if req.ID <= 0 {
			writeError(w, r, logger, fmt.Errorf("%w: id is required", domain.ErrInvalidInput))
			return
		}
		if err := convSvc.MarkRead(r.Context(), req.ID, currentUser.ID); err != nil {
			writeError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": req.ID, "unread": 0})
	}
}

// @Summary      Open a chat
// @Description  Returns the conversation with userID, creating it if needed
// @Tags         chats
// @Security     BearerAuth
// @Produce      json
// @Param        userID path int true "Other user ID"
// @Success      200  {object}  service.ConversationSummary
// @Success      201  {object}  service.ConversationSummary
// @Failure      404  {object}  map[string]string
// @Router       /chats/open/{userID} [get]
func handleOpenChat(convSvc *service.ConversationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		otherID, err := userIDParam(r)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}

		conv, created, err := convSvc.OpenOrCreate(r.Context(), currentUser.ID, otherID)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		sum, err := convSvc.Summarize(r.Context(), conv, currentUser.ID)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, sum)
	}
}
