/*
Package terminal is the line-oriented client of the chat server.

A Session is the websocket connection to the server. Requests carry a request id and
wait for the matching reply; every other frame is a push event handed to the App,
which prints it. Input lines go through the command engine.
*/
package terminal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stanislavb/roleOOC/internal/app/chat"
	"github.com/stanislavb/roleOOC/internal/pkg/logx"
)

const (
	writeWait = 10 * time.Second

	// handshakeTimeout bounds the websocket dial.
	handshakeTimeout = 10 * time.Second
)

// ErrConnectionLost is returned for requests on a closed session.
var ErrConnectionLost = errors.New("connection to the server lost")

// RemoteError is a rejection sent by the server.
type RemoteError struct {
	chat.ErrorPayload
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

// frame is an inbound envelope with its data left encoded.
type frame struct {
	Event     string             `json:"event"`
	RequestID string             `json:"requestId,omitempty"`
	Data      json.RawMessage    `json:"data,omitempty"`
	Error     *chat.ErrorPayload `json:"error,omitempty"`
}

// PushHandler receives events not sent in reply to a request.
type PushHandler func(s *Session, event string, data json.RawMessage)

// Session is a websocket connection to the chat server.
type Session struct {
	conn *websocket.Conn

	// writeMu serializes writers, gorilla connections allow one concurrent writer.
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan frame
	nextID  atomic.Uint64

	onPush PushHandler

	done      chan struct{}
	closeOnce sync.Once

	logger zerolog.Logger
}

// Dial connects to the websocket endpoint at url and starts reading.
func Dial(ctx context.Context, url string, onPush PushHandler) (*Session, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}

	s := &Session{
		conn:    conn,
		pending: make(map[string]chan frame),
		onPush:  onPush,
		done:    make(chan struct{}),
		logger:  logx.Component("terminal-session"),
	}
	go s.readLoop()
	return s, nil
}

// Done is closed once the connection is gone.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close closes the connection.
func (s *Session) Close() error {
	s.writeMu.Lock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()

	err := s.conn.Close()
	s.shutdown()
	return err
}

func (s *Session) shutdown() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Session) write(req chat.Request) error {
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

func encodePayload(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	return json.Marshal(payload)
}

// Request sends event and waits for its reply. A rejection is returned as *RemoteError.
func (s *Session) Request(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	raw, err := encodePayload(payload)
	if err != nil {
		return nil, err
	}

	id := strconv.FormatUint(s.nextID.Add(1), 10)
	reply := make(chan frame, 1)

	s.mu.Lock()
	s.pending[id] = reply
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}()

	if err := s.write(chat.Request{Event: event, RequestID: id, Payload: raw}); err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", event, err)
	}

	select {
	case f := <-reply:
		if f.Error != nil {
			return nil, &RemoteError{ErrorPayload: *f.Error}
		}
		return f.Data, nil
	case <-s.done:
		return nil, ErrConnectionLost
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Emit sends event without waiting for the reply.
func (s *Session) Emit(event string, payload any) error {
	raw, err := encodePayload(payload)
	if err != nil {
		return err
	}
	return s.write(chat.Request{Event: event, Payload: raw})
}

func (s *Session) readLoop() {
	defer s.shutdown()

	for {
		_, b, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("Connection closed unexpectedly")
			}
			return
		}

		var f frame
		if err := json.Unmarshal(b, &f); err != nil {
			s.logger.Warn().Err(err).Msg("Server sent invalid JSON")
			continue
		}

		if f.RequestID == "" {
			if s.onPush != nil {
				s.onPush(s, f.Event, f.Data)
			}
			continue
		}

		s.mu.Lock()
		reply, ok := s.pending[f.RequestID]
		s.mu.Unlock()
		if ok {
			reply <- f
		}
	}
}
