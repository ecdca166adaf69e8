package chat

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stanislavb/roleOOC/internal/pkg/errs"
)

func TestLoadCommands(t *testing.T) {
	commands, err := LoadCommands("")
	require.NoError(t, err)
	assert.Equal(t, 0, commands["login"])
	assert.Equal(t, 1, commands["chatMsg"])
	assert.Equal(t, 11, commands["broadcastMsg"])

	for event, h := range newTestServer(t).m.handlers {
		_, ok := commands[h.command]
		assert.True(t, ok, "event %s is gated by unknown command %s", event, h.command)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "commands.yaml")
	require.NoError(t, os.WriteFile(path, []byte("commands:\n  login: 0\n  chatMsg: 3\n"), 0o600))
	commands, err = LoadCommands(path)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"login": 0, "chatMsg": 3}, commands)

	require.NoError(t, os.WriteFile(path, []byte("commands:\n  login: -1\n"), 0o600))
	_, err = LoadCommands(path)
	assert.Error(t, err)
}

func TestAuthorize(t *testing.T) {
	ts := newTestServer(t)
	anon, _ := ts.connect("anon")

	reply := ts.mustDo(t, anon, "time", nil)
	assert.NotNil(t, reply.Data)

	reply = ts.do(t, anon, "chatMsg", chatBody("", "hi"))
	assert.Equal(t, errs.ErrUnauthenticated, errorCode(reply))

	reply = ts.do(t, anon, "selfDestruct", nil)
	assert.Equal(t, errs.ErrUnknownCommand, errorCode(reply))
	assert.True(t, reply.Error.Silent)

	alice, _ := ts.online(t, "alice")
	reply = ts.do(t, alice, "broadcastMsg", chatBody("", "hi"))
	assert.Equal(t, errs.ErrForbidden, errorCode(reply))

	// Access level changes apply to the next command.
	ts.promote(t, "alice", 11)
	ts.mustDo(t, alice, "broadcastMsg", chatBody("", "hi"))
}

func TestUnknownCommandInAccessTable(t *testing.T) {
	ts := newTestServer(t)
	alice, _ := ts.online(t, "alice")

	_, err := ts.m.policy.Authorize(context.Background(), alice.ID(), "notACommand")
	assert.Equal(t, errs.ErrUnknownCommand, errs.CodeOf(err))
}

func TestMalformedFrame(t *testing.T) {
	ts := newTestServer(t)
	s, conn := ts.connect("c1")

	ts.m.Handle(s, []byte("{not json"))
	reply := conn.last()
	require.NotNil(t, reply.Error)
	assert.Equal(t, errs.ErrInvalidInput, reply.Error.Code)
}

func TestLogoutKeepsConnectionAnonymous(t *testing.T) {
	ts := newTestServer(t)
	alice, _ := ts.online(t, "alice")

	ts.mustDo(t, alice, "logout", nil)
	assert.Empty(t, alice.UserName())
	assert.Empty(t, alice.Rooms())

	reply := ts.do(t, alice, "whoAmI", nil)
	assert.Equal(t, errs.ErrUnauthenticated, errorCode(reply))
}
