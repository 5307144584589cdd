// Package websocket streams monitoring events to connected dashboards over
// the same subscription machinery the in-process client exposes.
package websocket

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/payflux/monitor-core/internal/client"
	"github.com/payflux/monitor-core/internal/models"
	"github.com/payflux/monitor-core/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// sendBuffer bounds per-connection backlog; a consumer that cannot keep
	// up is disconnected rather than allowed to stall the subscription.
	sendBuffer = 64
)

// Message is the wire envelope for streamed events.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

type StreamHandler struct {
	client   *client.MonitoringClient
	logger   logger.Logger
	upgrader websocket.Upgrader
}

func NewStreamHandler(mc *client.MonitoringClient, log logger.Logger) *StreamHandler {
	return &StreamHandler{
		client: mc,
		logger: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Cross-origin policy is enforced by the CORS middleware ahead
			// of the upgrade.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleEventsStream upgrades GET /ws/events and forwards matching events
// until the peer disconnects. Filters arrive as query parameters, the same
// shape the events listing accepts.
func (h *StreamHandler) HandleEventsStream(c *gin.Context) {
	var filter models.EventFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid filter: " + err.Error()})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	send := make(chan Message, sendBuffer)
	unsubscribe := h.client.SubscribeToEvents(filter, func(ev models.MonitoringEvent) {
		select {
		case send <- Message{Type: "event", Data: ev, Timestamp: time.Now()}:
		default:
			// Slow consumer; the write loop notices the gap via ping timeout
			// or the peer reconnects. Dropping beats blocking delivery.
		}
	})

	h.logger.Info("event stream connected", "client_ip", c.ClientIP())

	go h.writeLoop(conn, send)
	h.readLoop(conn)

	unsubscribe()
	close(send)
	h.logger.Info("event stream disconnected", "client_ip", c.ClientIP())
}

// readLoop consumes control frames until the peer goes away. Payloads from
// the peer are ignored; the stream is one-way.
func (h *StreamHandler) readLoop(conn *websocket.Conn) {
	defer conn.Close()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *StreamHandler) writeLoop(conn *websocket.Conn, send <-chan Message) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case msg, ok := <-send:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
