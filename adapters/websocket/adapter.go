package websocket

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"salkit/realtime"
)

const writeWait = 5 * time.Second

// Handler returns an http.Handler that upgrades to WebSocket and streams
// lifecycle events from the hub. A comma separated ?type= query narrows the
// stream to the named event types.
func Handler(hub *realtime.Hub, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	upgrader := gorillaws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var types []string
		for _, v := range r.URL.Query()["type"] {
			types = append(types, strings.Split(v, ",")...)
		}
		filter := realtime.ParseTypes(types)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()
		id, ch := hub.Subscribe(256, filter...)
		defer hub.Unsubscribe(id)

		// Reader goroutine notices client close.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-closed:
				return
			case <-r.Context().Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(gorillaws.TextMessage, realtime.MarshalJSON(ev)); err != nil {
					log.Debug("websocket write failed", "error", err)
					return
				}
			}
		}
	})
}
