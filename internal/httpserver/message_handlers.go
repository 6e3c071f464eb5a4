package httpserver

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"pairchat/internal/domain"
	"pairchat/internal/service"
)

type sendMessageRequest struct {
	ReceiverID int64  `json:"receiver_id"`
	Text       string `json:"text"`
}

// @Summary      Send a message
// @Description  Persist a message to another user and push it if they are online
// @Tags         messages
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        input body sendMessageRequest true "Message"
// @Success      201  {object}  domain.Message
// @Failure      400  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /messages [post]
func handleSendMessage(msgSvc *service.MessageService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		var req sendMessageRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, logger, err)
			return
		}
		if req.ReceiverID <= 0 {
			writeError(w, r, logger, fmt.Errorf("%w: receiver_id is required", domain.ErrInvalidInput))
			return
		}

		msg, err := msgSvc.Send(r.Context(), currentUser.ID, req.ReceiverID, req.Text)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}

// @Summary      Messages with a user
// @Description  Full history between the current user and userID, oldest first
// @Tags         messages
// @Security     BearerAuth
// @Produce      json
// @Param        userID path int true "Other user ID"
// @Success      200  {array}   domain.Message
// @Router       /messages/{userID} [get]
func handleMessagesBetween(msgSvc *service.MessageService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		currentUser := CurrentUser(r)
		otherID, err := userIDParam(r)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}

		msgs, err := msgSvc.MessagesBetween(r.Context(), currentUser.ID, otherID)
		if err != nil {
			writeError(w, r, logger, err)
			return
		}
		if msgs == nil {
			msgs = []*domain.Message{}
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}
