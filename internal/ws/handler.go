package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"chat-realtime/internal/middleware"
	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/registry"
	"chat-realtime/internal/status"
)

// Sessions tracks connect and disconnect of live connections.
type Sessions interface {
	Connect(ctx context.Context, userID uuid.UUID, conn registry.Conn) error
	Disconnect(ctx context.Context, userID uuid.UUID, conn registry.Conn)
}

// ChatService is the set of operations clients can invoke over the socket.
type ChatService interface {
	SendGroupMessage(ctx context.Context, senderID, roomID uuid.UUID, content, messageType string) (models.Message, error)
	SendPrivateMessage(ctx context.Context, senderID, targetID uuid.UUID, content, messageType string) (models.Message, error)
	JoinLive(ctx context.Context, userID, roomID uuid.UUID) error
	LeaveLive(ctx context.Context, userID, roomID uuid.UUID) error
	Typing(ctx context.Context, userID uuid.UUID, roomID, recipientID *uuid.UUID, isTyping bool) error
	MarkDelivered(ctx context.Context, userID uuid.UUID, messageIDs []uuid.UUID) (status.Result, error)
	MarkSeen(ctx context.Context, userID uuid.UUID, messageIDs []uuid.UUID) (status.Result, error)
}

const (
	replyTimeout   = 5 * time.Second
	commandTimeout = 10 * time.Second
)

// Handler upgrades authenticated requests and serves one client per socket.
type Handler struct {
	sessions Sessions
	chat     ChatService
	verifier middleware.TokenVerifier
	logger   zerolog.Logger
}

func NewHandler(sessions Sessions, chat ChatService, verifier middleware.TokenVerifier, logger zerolog.Logger) *Handler {
	return &Handler{sessions: sessions, chat: chat, verifier: verifier, logger: logger}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle serves GET /ws. The token comes from the Authorization header or the token query parameter.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-realtime/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token, ok := middleware.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		token = c.Query("token")
	}
	userID, err := h.verifier.Verify(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	span.SetAttributes(attribute.String("chat.user_id", userID.String()))

	socket, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	conn := newConn(socket)
	info := ConnInfo{
		ConnID:      conn.ID(),
		UserID:      userID,
		Client:      observability.ClientMetaFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	go conn.writePump()

	// the connection outlives the handshake request
	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if err := h.sessions.Connect(connCtx, userID, conn); err != nil {
		h.logger.Warn().Err(err).Str("user_id", userID.String()).Msg("connect failed")
		publishLifecycle(connCtx, info, "ws_error", err.Error())
		h.replyError(connCtx, conn, err, "")
		_ = conn.Close()
		cancel()
		return
	}

	observability.IncWSActive()
	publishLifecycle(connCtx, info, "ws_connect", "")
	h.logger.Info().Str("user_id", userID.String()).Str("conn_id", info.ConnID).Msg("client connected")

	go func() {
		defer cancel()
		reason := h.readLoop(connCtx, conn, info)
		h.sessions.Disconnect(connCtx, userID, conn)
		_ = conn.Close()
		observability.DecWSActive()
		publishLifecycle(connCtx, info, "ws_disconnect", reason)
		h.logger.Info().Str("user_id", userID.String()).Str("conn_id", info.ConnID).Str("reason", reason).Msg("client disconnected")
	}()
}

// readLoop dispatches inbound frames until the socket fails and returns the close reason.
func (h *Handler) readLoop(ctx context.Context, conn *Conn, info ConnInfo) string {
	conn.prepareRead()
	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				select {
				case <-conn.Done():
				default:
					publishLifecycle(ctx, info, "ws_error", err.Error())
				}
			}
			return err.Error()
		}
		h.dispatch(ctx, conn, info.UserID, raw)
	}
}
