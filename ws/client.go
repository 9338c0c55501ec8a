package ws

import (
	"bytes"
	"context"
	"github.com/gorilla/websocket"
	"github.com/lefinal/royale-server/client"
	"github.com/lefinal/royale-server/errors"
	"go.uber.org/zap"
	"time"
)

const (
	// writeTimeout is the timeout for writing a message to the peer.
	writeTimeout = 10 * time.Second
	// pingInterval is the interval in which pings are sent to the peer. Must be
	// less than pongTimeout.
	pingInterval = (pongTimeout * 9) / 10
	// pongTimeout is the timeout for waiting for the next pong message from the
	// peer. Must be greater than pingInterval.
	pongTimeout = 60 * time.Second
	// maxMessageSize is the maximum message size allowed from peer.
	maxMessageSize = 16384
	// bufferSize is the buffer size for Send and Receive of each client.
	bufferSize = 256
)

var (
	newline = []byte{'\n'}
	space   = []byte{' '}
)

// Client is a holds the websocket connection and is being used by Hub.
type Client struct {
	*client.Client
	logger *zap.Logger
	// hub is the actual websocket hub which is used for registering and
	// unregistering.
	hub *Hub
	// connection is the actual websocket connection.
	connection *websocket.Conn
}

// readPump forwards messages from the websocket connection to the hub.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		select {
		case <-ctx.Done():
		case c.hub.unregister <- c:
		}
		err := c.connection.Close()
		if err != nil {
			c.logger.Debug("close connection", zap.Error(err))
		}
	}()
	c.connection.SetReadLimit(maxMessageSize)
	_ = c.connection.SetReadDeadline(time.Now().Add(pongTimeout))
	c.connection.SetPongHandler(func(string) error {
		_ = c.connection.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})
	for {
		_, message, err := c.connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("unexpected close", zap.Error(err))
			}
			break
		}
		message = bytes.TrimSpace(bytes.Replace(message, newline, space, -1))
		select {
		case <-ctx.Done():
			c.logger.Warn("dropping message due to ctx done", zap.ByteString("message", message))
			return
		case c.Receive <- message:
		}
	}
}

// writePump forwards outgoing messages from the hub to the websocket
// connection. We do not pass a context.Context here because the hub will close
// the Send-channel which will lead to termination, anyways.
func (c *Client) writePump() {
	pingTicker := time.NewTicker(pingInterval)
	defer func() {
		pingTicker.Stop()
		err := c.connection.Close()
		if err != nil {
			c.logger.Debug("close connection", zap.Error(err))
		}
	}()
	for {
		select {
		case message, ok := <-c.Send:
			_ = c.connection.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Hub closed the channel.
				err := c.connection.WriteMessage(websocket.CloseMessage, []byte{})
				if err != nil {
					c.logger.Debug("write close message", zap.Error(err))
				}
				return
			}
			err := c.write(message)
			if err != nil {
				// We expect the read pump to fail as well.
				errors.Log(c.logger, err)
				return
			}
		case <-pingTicker.C:
			_ = c.connection.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Warn("write ping", zap.Error(err))
				return
			}
		}
	}
}

// write writes the given message as text message.
func (c *Client) write(message []byte) error {
	nextWriter, err := c.connection.NextWriter(websocket.TextMessage)
	if err != nil {
		return errors.Error{
			Code:    errors.ErrCommunication,
			Err:     err,
			Message: "create writer for text message",
		}
	}
	_, err = nextWriter.Write(message)
	if err != nil {
		c.logger.Warn("write text message", zap.Error(err))
	}
	err = nextWriter.Close()
	if err != nil {
		return errors.Error{
			Code:    errors.ErrCommunication,
			Err:     err,
			Message: "close next writer",
		}
	}
	return nil
}
