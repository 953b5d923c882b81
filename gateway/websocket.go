package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ghiac/agentize/log"
)

// upgrader allows all origins, matching the go-memsh gateway's development
// posture; a production deployment fronts this with its own origin check
// at the reverse proxy.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket upgrades the connection and then loops reading
// JSON-RPC requests and writing JSON-RPC responses, one per frame, until
// the client disconnects (spec 4.11's WebSocket transport).
func (g *Gateway) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Log.Warnf("[Gateway] websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		var req JSONRPCRequest
		if err := conn.ReadJSON(&req); err != nil {
			break
		}
		resp := Dispatch(c.Request.Context(), g.Catalog, &req)
		if err := conn.WriteJSON(resp); err != nil {
			break
		}
	}
}
