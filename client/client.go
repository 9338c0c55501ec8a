// Package client provides the connection abstraction shared by the transport
// and the player gateway.
package client

import (
	"context"
	"sync"
)

// Client is a holds the connection and is used by gatekeeping.Gatekeeper as
// well as ws.Hub.
type Client struct {
	// ID is a temporary id assigned to the Client.
	ID string
	// Send is the channel for outgoing messages are passed to. Do not close it
	// directly but use Close.
	Send chan []byte
	// Receive is the channel for incoming messages.
	Receive chan []byte
	// closedMutex locks closed.
	closedMutex sync.Mutex
	// closed is set when Send was closed.
	closed bool
}

// New creates a Client with the given id and buffer size for Send and
// Receive.
func New(id string, bufferSize int) *Client {
	return &Client{
		ID:      id,
		Send:    make(chan []byte, bufferSize),
		Receive: make(chan []byte, bufferSize),
	}
}

// TrySend passes the given message to Send without blocking. It returns false
// if the buffer is full or the Client was closed.
func (c *Client) TrySend(message []byte) bool {
	c.closedMutex.Lock()
	defer c.closedMutex.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- message:
		return true
	default:
		return false
	}
}

// Close closes Send. Calling it multiple times is a no-op.
func (c *Client) Close() {
	c.closedMutex.Lock()
	defer c.closedMutex.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.Send)
}

// Listener provides methods for accepting new clients and unregister events.
type Listener interface {
	// AcceptClient is called when a new Client connects.
	AcceptClient(ctx context.Context, client *Client)
	// SayGoodbyeToClient is called when a Client's connection has been closed.
	SayGoodbyeToClient(ctx context.Context, client *Client)
}
