package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stanislavb/roleOOC/internal/app/model"
	"github.com/stanislavb/roleOOC/internal/configs"
	"github.com/stanislavb/roleOOC/internal/pkg/errs"
)

func TestLoginSupersedesPreviousConnection(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "alice")

	first, firstConn := ts.connect("c1")
	ts.login(t, first, "alice")
	require.True(t, first.InRoom(model.PublicRoom))

	second, _ := ts.connect("c2")
	result := ts.login(t, second, "alice")
	assert.Equal(t, "alice", result.User.UserName)

	assert.Len(t, firstConn.events(EventSessionSuperseded), 1)
	assert.Empty(t, first.UserName())
	assert.Empty(t, first.Rooms())

	connID, ok := ts.m.registry.ActiveConnectionOf("alice")
	require.True(t, ok)
	assert.Equal(t, "c2", connID)
	assert.Equal(t, 1, ts.m.registry.Count())

	reply := ts.do(t, first, "chatMsg", chatBody("", "hello"))
	assert.Equal(t, errs.ErrUnauthenticated, errorCode(reply))

	u, err := ts.store.GetUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, u.Online)
	assert.Equal(t, "c2", u.SocketID)
}

func TestSupersedeKeepsDeviceRoom(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "alice")

	first, _ := ts.connect("c1")
	ts.mustDo(t, first, "login", map[string]any{
		"user":   map[string]any{"userName": "alice", "password": "password"},
		"device": map[string]any{"deviceId": "terminal1"},
	})

	second, _ := ts.connect("c2")
	ts.login(t, second, "alice")

	assert.Equal(t, []string{model.DeviceRoom("terminal1")}, first.Rooms())
}

func TestDisconnectMarksUserOffline(t *testing.T) {
	ts := newTestServer(t)
	s, _ := ts.online(t, "alice")

	ts.m.Disconnect(s.ID())

	u, err := ts.store.GetUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, u.Online)
	assert.Empty(t, u.SocketID)
	assert.Equal(t, 0, ts.m.registry.Count())
	assert.ErrorIs(t, s.Context().Err(), context.Canceled)
}

func TestBindRejectsBannedUser(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "alice")
	require.NoError(t, ts.store.SetUserBanned(context.Background(), "alice", true))

	s, _ := ts.connect("c1")
	reply := ts.do(t, s, "login", credentials("alice", "password"))
	assert.Equal(t, errs.ErrAuthFailed, errorCode(reply))
	assert.True(t, reply.Error.Silent)
	assert.Empty(t, s.UserName())
}

func TestBindRejectsUnverifiedUserWhenVerificationEnforced(t *testing.T) {
	ts := newTestServer(t, func(cfg *configs.AppConfig) { cfg.UserVerify = true })
	ts.register(t, "alice")

	s, _ := ts.connect("c1")
	reply := ts.do(t, s, "login", credentials("alice", "password"))
	assert.Equal(t, errs.ErrAuthFailed, errorCode(reply))

	require.NoError(t, ts.m.Verify(context.Background(), "alice"))
	ts.login(t, s, "alice")
	assert.Equal(t, "alice", s.UserName())
}

func TestUpdateIDRequiresMatchingToken(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "alice")
	ts.register(t, "bob")

	s, _ := ts.connect("c1")
	login := ts.mustDo(t, s, "login", credentials("alice", "password")).Data.(SessionResult)
	require.NotEmpty(t, login.Token)

	other, _ := ts.connect("c2")
	reply := ts.do(t, other, "updateId", map[string]any{
		"user":   map[string]any{"userName": "bob"},
		"device": map[string]any{"deviceId": "terminal2"},
		"token":  login.Token,
	})
	assert.Equal(t, errs.ErrAuthFailed, errorCode(reply))

	ts.mustDo(t, other, "updateId", map[string]any{
		"user":   map[string]any{"userName": "alice"},
		"device": map[string]any{"deviceId": "terminal2"},
		"token":  login.Token,
	})
	assert.Equal(t, "alice", other.UserName())
	assert.True(t, other.InRoom(model.DeviceRoom("terminal2")))
	assert.True(t, other.InRoom(model.WhisperRoom("alice")))
}

func TestAnonymousUpdateIDJoinsPublicAndDevice(t *testing.T) {
	ts := newTestServer(t)
	s, _ := ts.connect("c1")

	ts.mustDo(t, s, "updateId", map[string]any{
		"user":   map[string]any{"userName": nil},
		"device": map[string]any{"deviceId": "terminal1"},
	})

	assert.ElementsMatch(t, []string{model.DeviceRoom("terminal1"), model.PublicRoom}, s.Rooms())
	assert.Equal(t, "terminal1", s.DeviceID())
}
