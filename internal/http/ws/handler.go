// README: WebSocket upgrade endpoint for driver offer streams.
package ws

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"tram/internal/http/middleware"
	"tram/internal/types"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Serve upgrades the request and keeps the session attached until the driver
// disconnects. Inbound frames are drained and discarded; the stream is
// push-only.
func (h *Hub) Serve(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing driver id"})
		return
	}
	if middleware.CallerUID(c) != id {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden: id does not match authenticated user"})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", "driver_id", id, "err", err)
		return
	}
	driverID := types.ID(id)
	h.Attach(driverID, conn)
	defer h.Detach(driverID, conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
