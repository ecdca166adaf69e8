package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stanislavb/roleOOC/internal/app/archive"
	"github.com/stanislavb/roleOOC/internal/app/chat"
	"github.com/stanislavb/roleOOC/internal/app/store"
	"github.com/stanislavb/roleOOC/internal/configs"
	"github.com/stanislavb/roleOOC/internal/pkg/errs"
	"github.com/stanislavb/roleOOC/internal/pkg/metrics"
	"github.com/stanislavb/roleOOC/internal/pkg/resp"
)

type testEnv struct {
	router http.Handler
	deps   *AppDeps
	store  *store.Memory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &configs.AppConfig{
		Environment:      "development",
		JWTSecret:        "test-secret",
		HistoryLines:     80,
		ChunkLength:      10,
		AdminAccessLevel: 11,
	}
	gw := store.NewMemory()
	m := metrics.New()
	archives := archive.NewService(gw, archive.NewMemoryStore())

	manager, err := chat.NewManager(cfg, gw, archives, m)
	require.NoError(t, err)
	require.NoError(t, manager.Start(context.Background()))
	t.Cleanup(manager.Shutdown)

	deps := &AppDeps{Manager: manager, Config: cfg, Archives: archives, Metrics: m}
	return &testEnv{router: Router(deps), deps: deps, store: gw}
}

type decoded struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *testEnv) post(t *testing.T, path, token string, body any) (int, decoded) {
	t.Helper()

	b, err := json.Marshal(body)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	r.Header.Set("Content-Type", "application/json")
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)

	var out decoded
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return w.Code, out
}

func (e *testEnv) auth(t *testing.T, path, userName, password string) (int, decoded, AuthResponse) {
	t.Helper()

	status, out := e.post(t, path, "", CredentialsInput{UserName: userName, Password: password})
	var ar AuthResponse
	if out.Code == 0 {
		require.NoError(t, json.Unmarshal(out.Data, &ar))
	}
	return status, out, ar
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var out resp.JSONResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, 0, out.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)

	status, _, reg := env.auth(t, "/api/auth/register", "Alice", "password")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "alice", reg.User.UserName)
	assert.NotEmpty(t, reg.Token)
	assert.ElementsMatch(t, []string{"public", "alice-whisper"}, reg.User.Rooms)

	status, _, login := env.auth(t, "/api/auth/login", "alice", "password")
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, login.Token)
	assert.True(t, env.deps.Manager.Accounts().VerifyToken(login.Token, "alice"))

	status, out, _ := env.auth(t, "/api/auth/login", "alice", "wrong")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, errs.ErrAuthFailed, out.Code)

	status, out, _ = env.auth(t, "/api/auth/register", "alice", "password")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, errs.ErrUserExists, out.Code)
}

func TestRegisterRejectsMalformedBody(t *testing.T) {
	env := newTestEnv(t)

	r := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(`{"userName":"alice","nick":"x"}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestArchiveUploadRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	input := ArchiveInput{ArchiveID: "log1", Title: "Ship log", AccessLevel: 1, Text: []string{"day one", "day two"}}

	status, out := env.post(t, "/api/archives", "", input)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, errs.ErrUnauthorized, out.Code)

	_, _, user := env.auth(t, "/api/auth/register", "bob", "password")
	status, out = env.post(t, "/api/archives", user.Token, input)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, errs.ErrForbidden, out.Code)

	require.NoError(t, env.store.UpdateUserAccess(context.Background(), "bob", 11, 11))
	_, _, admin := env.auth(t, "/api/auth/login", "bob", "password")

	status, out = env.post(t, "/api/archives", admin.Token, input)
	require.Equal(t, http.StatusOK, status, out.Message)

	doc, err := env.deps.Archives.Get(context.Background(), "log1", 1)
	require.NoError(t, err)
	assert.Equal(t, "Ship log", doc.Title)
	assert.Equal(t, []string{"day one", "day two"}, doc.Text)

	status, out = env.post(t, "/api/archives", admin.Token, input)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, errs.ErrConflict, out.Code)
}

func TestArchiveUploadRechecksUserOnEveryRequest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.auth(t, "/api/auth/register", "bob", "password")
	require.NoError(t, env.store.UpdateUserAccess(ctx, "bob", 11, 11))
	_, _, admin := env.auth(t, "/api/auth/login", "bob", "password")

	status, out := env.post(t, "/api/archives", admin.Token, ArchiveInput{ArchiveID: "log1", Title: "One", AccessLevel: 1, Text: []string{"a"}})
	require.Equal(t, http.StatusOK, status, out.Message)

	require.NoError(t, env.store.UpdateUserAccess(ctx, "bob", 1, 1))
	status, out = env.post(t, "/api/archives", admin.Token, ArchiveInput{ArchiveID: "log2", Title: "Two", AccessLevel: 1, Text: []string{"b"}})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, errs.ErrForbidden, out.Code)

	require.NoError(t, env.store.UpdateUserAccess(ctx, "bob", 11, 11))
	require.NoError(t, env.store.SetUserBanned(ctx, "bob", true))
	status, out = env.post(t, "/api/archives", admin.Token, ArchiveInput{ArchiveID: "log3", Title: "Three", AccessLevel: 1, Text: []string{"c"}})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, errs.ErrForbidden, out.Code)

	_, err := env.deps.Archives.Get(ctx, "log2", 11)
	assert.Error(t, err)
	_, err = env.deps.Archives.Get(ctx, "log3", 11)
	assert.Error(t, err)
}

func TestWebSocketRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.WriteJSON(chat.Request{Event: "time", RequestID: "1"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var reply struct {
		Event     string             `json:"event"`
		RequestID string             `json:"requestId"`
		Data      map[string]string  `json:"data"`
		Error     *chat.ErrorPayload `json:"error"`
	}
	require.NoError(t, conn.ReadJSON(&reply))

	assert.Equal(t, "time", reply.Event)
	assert.Equal(t, "1", reply.RequestID)
	assert.Nil(t, reply.Error)
	assert.NotEmpty(t, reply.Data["time"])

	require.NoError(t, conn.WriteJSON(chat.Request{Event: "chatMsg", RequestID: "2"}))
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "2", reply.RequestID)
	require.NotNil(t, reply.Error)
	assert.True(t, reply.Error.Silent)
}
