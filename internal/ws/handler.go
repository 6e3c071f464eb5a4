package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pairchat/internal/domain"
	"pairchat/internal/presence"
	"pairchat/internal/service"
)

type wsAuthError struct {
	status int
	msg    string
}

func (e wsAuthError) Error() string {
	return e.msg
}

func normalizeAllowedOrigins(origins []string) map[string]struct{} {
	res := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		o := strings.TrimSpace(strings.ToLower(origin))
		if o != "" {
			res[o] = struct{}{}
		}
	}
	return res
}

func makeCheckOrigin(allowedOrigins []string) func(r *http.Request) bool {
	allowed := normalizeAllowedOrigins(allowedOrigins)
	if len(allowed) == 0 {
		return func(r *http.Request) bool {
			return false
		}
	}

	return func(r *http.Request) bool {
		origin := strings.TrimSpace(strings.ToLower(r.Header.Get("Origin")))
		if origin == "" {
			return false
		}
		if _, ok := allowed[origin]; ok {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return false
		}
		normalized := strings.ToLower(fmt.Sprintf("%s://%s", u.Scheme, u.Host))
		_, ok := allowed[normalized]
		return ok
	}
}

func extractTokenFromWSRequest(r *http.Request) (string, error) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		token := strings.TrimSpace(authHeader[len("Bearer "):])
		if token != "" {
			return token, nil
		}
	}

	protocolHeader := r.Header.Get("Sec-WebSocket-Protocol")
	if protocolHeader != "" {
		parts := strings.Split(protocolHeader, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if len(parts) >= 2 && strings.EqualFold(parts[0], "bearer") {
			token := parts[1]
			if token != "" {
				return token, nil
			}
		}
	}

	return "", wsAuthError{status: http.StatusUnauthorized, msg: "missing bearer token"}
}

// Inbound event types.
const (
	inboundMessage  = "message"
	inboundMarkRead = "mark_read"
)

type inboundEvent struct {
	Type           string `json:"type"`
	ReceiverID     int64  `json:"receiver_id"`
	Text           string `json:"text"`
	ConversationID int64  `json:"conversation_id"`
}

// Deps are the collaborators the /ws endpoint needs.
type Deps struct {
	Registry       *presence.Registry
	Auth           *service.AuthService
	Messages       *service.MessageService
	Conversations  *service.ConversationService
	AllowedOrigins []string
	Logger         *zap.Logger
}

// MakeHandler returns an HTTP handler for the /ws endpoint.
// Authenticates via Bearer token (Authorization header or Sec-WebSocket-Protocol),
// registers the connection as the user's live presence, then dispatches events:
//   - message   -> deliver to receiver_id, ack with message_sent
//   - mark_read -> clear the caller's unread counter, ack with marked_read
func MakeHandler(d Deps) http.HandlerFunc {
	checkOrigin := makeCheckOrigin(d.AllowedOrigins)
	upgrader := websocket.Upgrader{
		CheckOrigin: checkOrigin,
		Subprotocols: []string{
			"bearer",
		},
	}
	logger := d.Logger.Named("ws")

	return func(w http.ResponseWriter, r *http.Request) {
		if !checkOrigin(r) {
			http.Error(w, "origin not allowed", http.StatusForbidden)
			return
		}

		tokenStr, err := extractTokenFromWSRequest(r)
		if err != nil {
			var authErr wsAuthError
			if errors.As(err, &authErr) {
				http.Error(w, authErr.msg, authErr.status)
				return
			}
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		user, err := d.Auth.Authenticate(r.Context(), tokenStr)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Debug("upgrade failed", zap.Int64("user_id", user.ID), zap.Error(err))
			return
		}

		ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
		defer cancel()

		client := NewClient(user.ID, conn)
		go client.writeLoop()
		d.Registry.Register(user.ID, client)
		logger.Info("connected", zap.Int64("user_id", user.ID), zap.String("conn_id", client.ID()))

		defer func() {
			d.Registry.Unregister(user.ID, client)
			client.Close(websocket.CloseNormalClosure, "")
			logger.Info("disconnected", zap.Int64("user_id", user.ID), zap.String("conn_id", client.ID()))
		}()

		conn.SetReadLimit(maxInboundSize)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Debug("read failed", zap.Int64("user_id", user.ID), zap.Error(err))
				}
				return
			}
			var ev inboundEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				sendError(client, "malformed event")
				continue
			}
			dispatch(ctx, d, logger, client, user.ID, ev)
		}
	}
}

func dispatch(ctx context.Context, d Deps, logger *zap.Logger, client *Client, userID int64, ev inboundEvent) {
	switch ev.Type {
	case inboundMessage:
		if ev.ReceiverID == 0 {
			sendError(client, "message requires receiver_id")
			return
		}
		msg, err := d.Messages.Send(ctx, userID, ev.ReceiverID, ev.Text)
		if err != nil {
			logger.Info("send message", zap.Int64("user_id", userID), zap.Int64("receiver_id", ev.ReceiverID), zap.Error(err))
			sendError(client, clientErrorDetail(err, "failed to send message"))
			return
		}
		_ = client.Push(presence.Event{Type: presence.EventMessageSent, Message: msg})

	case inboundMarkRead:
		if ev.ConversationID == 0 {
			sendError(client, "mark_read requires conversation_id")
			return
		}
		if err := d.Conversations.MarkRead(ctx, ev.ConversationID, userID); err != nil {
			logger.Info("mark read", zap.Int64("user_id", userID), zap.Int64("conversation_id", ev.ConversationID), zap.Error(err))
			sendError(client, clientErrorDetail(err, "failed to mark conversation as read"))
			return
		}
		_ = client.Push(presence.Event{Type: presence.EventMarkedRead, ConversationID: ev.ConversationID})

	default:
		logger.Debug("unknown event type", zap.String("type", ev.Type), zap.Int64("user_id", userID))
		sendError(client, fmt.Sprintf("unknown event type %q", ev.Type))
	}
}

// clientErrorDetail exposes validation and lookup failures, hides the rest.
func clientErrorDetail(err error, fallback string) string {
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrNotFound):
		return err.Error()
	default:
		return fallback
	}
}

func sendError(client *Client, msg string) {
	_ = client.Push(presence.Event{
		Type:   presence.EventError,
		Detail: msg,
	})
}
