package chat

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stanislavb/roleOOC/internal/app/store"
	"github.com/stanislavb/roleOOC/internal/configs"
	"github.com/stanislavb/roleOOC/internal/pkg/metrics"
)

// fakeConn records every envelope queued for the connection.
type fakeConn struct {
	id string

	mu        sync.Mutex
	sent      []Envelope
	closeCode int
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(env Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, env)
	return nil
}

func (c *fakeConn) Close(code int, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCode = code
}

func (c *fakeConn) events(event string) []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Envelope
	for _, env := range c.sent {
		if env.Event == event && env.RequestID == "" {
			out = append(out, env)
		}
	}
	return out
}

func (c *fakeConn) last() Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sent[len(c.sent)-1]
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = nil
}

type testServer struct {
	m     *Manager
	store *store.Memory
}

func newTestServer(t *testing.T, mutate ...func(cfg *configs.AppConfig)) *testServer {
	t.Helper()

	cfg := &configs.AppConfig{
		JWTSecret:        "test-secret",
		HistoryLines:     80,
		ChunkLength:      10,
		AdminAccessLevel: 11,
	}
	for _, fn := range mutate {
		fn(cfg)
	}

	gw := store.NewMemory()
	m, err := NewManager(cfg, gw, nil, metrics.New())
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	t.Cleanup(m.Shutdown)

	return &testServer{m: m, store: gw}
}

func (ts *testServer) connect(id string) (*Session, *fakeConn) {
	conn := &fakeConn{id: id}
	return ts.m.Connect(conn), conn
}

// do dispatches one request and returns its reply.
func (ts *testServer) do(t *testing.T, s *Session, event string, body any) Envelope {
	t.Helper()

	var raw json.RawMessage
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		raw = b
	}

	ts.m.Dispatch(s.Context(), s, Request{Event: event, RequestID: "req", Payload: raw})

	reply := s.conn.(*fakeConn).last()
	require.Equal(t, event, reply.Event)
	require.Equal(t, "req", reply.RequestID)
	return reply
}

func (ts *testServer) mustDo(t *testing.T, s *Session, event string, body any) Envelope {
	t.Helper()
	reply := ts.do(t, s, event, body)
	require.Nil(t, reply.Error, "%s failed: %+v", event, reply.Error)
	return reply
}

func (ts *testServer) register(t *testing.T, name string) {
	t.Helper()
	_, err := ts.m.Accounts().Register(context.Background(), name, "password")
	require.NoError(t, err)
}

func (ts *testServer) login(t *testing.T, s *Session, name string) SessionResult {
	t.Helper()
	reply := ts.mustDo(t, s, "login", credentials(name, "password"))
	return reply.Data.(SessionResult)
}

// online registers name and logs it in on a new connection.
func (ts *testServer) online(t *testing.T, name string) (*Session, *fakeConn) {
	t.Helper()
	ts.register(t, name)
	s, conn := ts.connect(name + "-conn")
	ts.login(t, s, name)
	conn.reset()
	return s, conn
}

func (ts *testServer) promote(t *testing.T, name string, level int) {
	t.Helper()
	require.NoError(t, ts.store.UpdateUserAccess(context.Background(), name, level, 1))
}

func credentials(name, password string) map[string]any {
	return map[string]any{"user": map[string]any{"userName": name, "password": password}}
}

func chatBody(room string, lines ...string) map[string]any {
	return map[string]any{"message": map[string]any{"text": lines, "roomName": room}}
}

func roomBody(name string) map[string]any {
	return map[string]any{"room": map[string]any{"roomName": name}}
}

func errorCode(env Envelope) int {
	if env.Error == nil {
		return 0
	}
	return env.Error.Code
}

// pull requests the rest of a chunked delivery and returns how many chunks it pulled.
func (ts *testServer) pull(t *testing.T, s *Session, event string) int {
	t.Helper()
	for pulled := 1; pulled <= 10000; pulled++ {
		reply := ts.mustDo(t, s, "historyNext", map[string]any{"event": event})
		if reply.Data.(map[string]int)["remaining"] == 0 {
			return pulled
		}
	}
	require.FailNow(t, "delivery never finished", event)
	return 0
}
