package control

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const writeWait = 10 * time.Second

// websocket upgrades the connection and pumps eventbus events to the
// frontend as JSON frames until the client disconnects.
func (h *Handlers) websocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("failed to upgrade websocket connection", zap.Error(err))
		return
	}
	defer conn.Close()

	clientID := uuid.NewString()
	events, unsubscribe := h.bus.Subscribe(clientID)
	defer unsubscribe()

	h.log.Debug("websocket client connected", zap.String("clientId", clientID))

	go h.readUntilClose(conn, clientID)

	for event := range events {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(event); err != nil {
			h.log.Debug("websocket write failed, closing", zap.String("clientId", clientID), zap.Error(err))
			return
		}
	}
}

// readUntilClose discards any frames the frontend sends (this stream is
// broker-to-frontend only) and returns once the connection closes, which
// unblocks the write loop above via a subsequent write error.
func (h *Handlers) readUntilClose(conn *gorillaws.Conn, clientID string) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.log.Debug("websocket client disconnected", zap.String("clientId", clientID), zap.Error(err))
			conn.Close()
			return
		}
	}
}
