package ws

import (
	"context"
	"github.com/lefinal/royale-server/client"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Hub holds all active clients and manages centralized receiving and sending.
type Hub struct {
	logger *zap.Logger
	// clientListener is used for notifying of new clients or unregistered ones.
	clientListener client.Listener
	// clients holds all online clients. Only accessed by Run.
	clients map[*Client]struct{}
	// connected is the number of registered clients.
	connected *atomic.Int32
	// register receives when a Client wants to register itself.
	register chan *Client
	// unregister receives when a Client wants to unregister itself.
	unregister chan *Client
}

// NewHub creates a new Hub. Start it with Hub.Run.
func NewHub(logger *zap.Logger, clientListener client.Listener) *Hub {
	return &Hub{
		logger:         logger,
		clientListener: clientListener,
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		clients:        make(map[*Client]struct{}),
		connected:      atomic.NewInt32(0),
	}
}

// Connected returns the number of connected clients.
func (h *Hub) Connected() int {
	return int(h.connected.Load())
}

// Run starts the Hub. It blocks so you need to start a goroutine.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.clientListener.SayGoodbyeToClient(ctx, c.Client)
				c.Close()
				delete(h.clients, c)
			}
			h.connected.Store(0)
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.connected.Inc()
			h.logger.Info("client connected", zap.String("client_id", c.ID))
			go h.clientListener.AcceptClient(ctx, c.Client)
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.clientListener.SayGoodbyeToClient(ctx, c.Client)
				delete(h.clients, c)
				h.connected.Dec()
				h.logger.Info("client disconnected", zap.String("client_id", c.ID))
				// Close the send-channel which leads to stopping the write-pump.
				c.Close()
			}
		}
	}
}
