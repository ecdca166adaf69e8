/*
Package chat contains the core of the chat server: live sessions, the command gate,
room membership, message routing, history delivery and invitations.

This file defines the Client struct, representing an active WebSocket connection. It manages the
connection lifecycle and the message loops (ReadPump and WritePump) and hands every inbound
frame to the Manager.
*/
package chat

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stanislavb/roleOOC/internal/pkg/logx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a message sent by the client.
	maxMessageSize = 64 * 1024

	// capacity of the outbound queue. History chunks are pulled one at a time, so a delivery holds at most one slot.
	sendQueueSize = 256
)

var (
	errClientClosed    = errors.New("client connection closed")
	errClientQueueFull = errors.New("client send queue full")
)

// Client struct represents an active WebSocket connection. It implements Conn.
type Client struct {
	id string

	// underlying WebSocket connection object.
	conn *websocket.Conn

	manager *Manager
	session *Session

	// a buffered channel used to queue messages waiting to be sent to the client.
	send chan []byte

	// closed is closed once Close was requested. closeFrame is written before the socket goes down.
	closed     chan struct{}
	closeOnce  sync.Once
	closeFrame []byte

	// structured logger with client context.
	logger zerolog.Logger
}

// NewClient constructs a Client for wsConn and registers it with the manager.
func NewClient(manager *Manager, wsConn *websocket.Conn, id string) *Client {
	c := &Client{
		id:      id,
		conn:    wsConn,
		manager: manager,
		send:    make(chan []byte, sendQueueSize),
		closed:  make(chan struct{}),
		logger:  logx.Logger().With().Str("conn_id", id).Logger(),
	}
	c.session = manager.Connect(c)
	return c
}

// ID returns the connection handle.
func (c *Client) ID() string {
	return c.id
}

// Send marshals env and queues it without blocking.
func (c *Client) Send(env Envelope) error {
	messageBytes, err := json.Marshal(env)
	if err != nil {
		c.logger.Error().Err(err).Str("event", env.Event).Msg("Error marshaling envelope for client")
		return err
	}

	select {
	case <-c.closed:
		return errClientClosed
	default:
	}

	select {
	case c.send <- messageBytes:
		return nil
	default:
		c.logger.Warn().Int("queue_len", len(c.send)).Str("event", env.Event).Msg("Client send channel full, dropping message")
		return errClientQueueFull
	}
}

// Close asks WritePump to send a close frame with code and reason and stop.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.logger.Info().Int("close_code", code).Str("reason", reason).Msg("Closing client connection.")
		c.closeFrame = websocket.FormatCloseMessage(code, reason)
		close(c.closed)
	})
}

// ReadPump handles reading messages from the WebSocket connection.
// Frames are dispatched one at a time, in arrival order.
func (c *Client) ReadPump() {
	defer c.cleanupOnDisconnect()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (Client close/going away)")
			}
			break
		}

		c.manager.Handle(c.session, messageBytes)
	}
}

// cleanupOnDisconnect handles the necessary cleanup steps when the client's ReadPump terminates.
func (c *Client) cleanupOnDisconnect() {
	c.logger.Info().Msg("Client connection cleanup starting.")

	c.manager.Disconnect(c.id)
	c.Close(websocket.CloseNormalClosure, "")

	if err := c.conn.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Client connection close error")
	}
}

// WritePump handles writing messages from the Client.send channel to the WebSocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		// ensure the connection is closed on exit
		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case message := <-c.send:
			if !c.write(websocket.TextMessage, message) {
				return
			}

		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}

		case <-c.closed:
			c.drain()
			c.write(websocket.CloseMessage, c.closeFrame)
			return
		}
	}
}

// drain writes whatever is still queued so a final notice reaches the client before the close frame.
func (c *Client) drain() {
	for {
		select {
		case message := <-c.send:
			if !c.write(websocket.TextMessage, message) {
				return
			}
		default:
			return
		}
	}
}

// write writes one frame. Returns false if the WritePump loop should terminate.
func (c *Client) write(messageType int, data []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if err := c.conn.WriteMessage(messageType, data); err != nil {
		if messageType != websocket.CloseMessage {
			c.logger.Error().Err(err).Int("message_type", messageType).Msg("Error writing message")
		}
		return false
	}

	return true
}
