// Package ws provides the websocket transport for player clients.
package ws

import (
	"context"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/lefinal/royale-server/client"
	"go.uber.org/zap"
	"net/http"
)

// HandleWS handles websocket requests. The passed context is used in order to
// stop all remaining read-pumps.
func HandleWS(ctx context.Context, hub *Hub) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			hub.logger.Debug("upgrade connection", zap.Error(err))
			return
		}
		id := uuid.New().String()
		c := &Client{
			Client:     client.New(id, bufferSize),
			logger:     hub.logger.With(zap.String("client_id", id)),
			hub:        hub,
			connection: conn,
		}
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return
		case hub.register <- c:
		}
		go c.writePump()
		go c.readPump(ctx)
	}
}
