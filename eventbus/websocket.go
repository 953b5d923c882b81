package eventbus

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ghiac/agentize/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// BridgeHandler upgrades to a WebSocket and forwards every bus event to the
// client as a JSON frame, replaying Recent() first so a dashboard that just
// connected isn't missing the events published before it subscribed (spec
// 4.14's "optionally bridged to a WebSocket namespace for dashboard
// clients").
func (b *Bus) BridgeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Log.Warnf("[EventBus] websocket upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		for _, ev := range b.Recent() {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}

		var (
			closeOnce sync.Once
			done      = make(chan struct{})
		)
		unsubscribe := b.SubscribeAll(func(ev Event) {
			select {
			case <-done:
				return
			default:
			}
			if err := conn.WriteJSON(ev); err != nil {
				closeOnce.Do(func() { close(done) })
			}
		})
		defer unsubscribe()

		// Block until the client disconnects; ReadMessage discards any
		// client-sent frames (this bridge is write-only from the server).
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}
