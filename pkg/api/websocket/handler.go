package websocket

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/aescanero/evalpipe/pkg/ports"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	bufferSize = 64
	writeWait  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler handles WebSocket connections
type Handler struct {
	subscriber ports.Subscriber
	logger     *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(subscriber ports.Subscriber, logger *zap.Logger) *Handler {
	return &Handler{
		subscriber: subscriber,
		logger:     logger,
	}
}

// HandleEvaluationStream streams bus events to the client. The optional
// types query parameter is a comma-separated list of event types to keep.
func (h *Handler) HandleEvaluationStream(c *gin.Context) {
	var types []ports.EventType
	if param := c.Query("types"); param != "" {
		types = lo.Map(strings.Split(param, ","), func(s string, _ int) ports.EventType {
			return ports.EventType(strings.TrimSpace(s))
		})
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established", zap.String("client", c.ClientIP()))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// the read loop processes control frames and notices the client leaving
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	eventChan := make(chan ports.Event, bufferSize)
	if err := h.subscriber.Subscribe(ctx, h.forward(eventChan)); err != nil {
		h.logger.Error("failed to subscribe to events", zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscription failed"),
			time.Now().Add(writeWait))
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-eventChan:
			if len(types) == 0 || lo.Contains(types, event.Type) {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(event); err != nil {
					h.logger.Warn("failed to write message", zap.Error(err))
					return
				}
			}

			if event.Type == ports.EventEvaluationStopped || event.Type == ports.EventPublicationComplete {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(event.Type)),
					time.Now().Add(writeWait))
				return
			}
		}
	}
}

// forward hands events to the stream without blocking the bus
func (h *Handler) forward(ch chan<- ports.Event) ports.EventHandler {
	return func(ctx context.Context, event ports.Event) error {
		select {
		case ch <- event:
		case <-ctx.Done():
			return ctx.Err()
		default:
			h.logger.Warn("event channel full, dropping event",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)))
		}
		return nil
	}
}
