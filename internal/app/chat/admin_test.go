package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stanislavb/roleOOC/internal/configs"
	"github.com/stanislavb/roleOOC/internal/pkg/errs"
)

func TestBanDisconnectsUser(t *testing.T) {
	ts := newTestServer(t)
	admin, _ := ts.online(t, "admin")
	ts.promote(t, "admin", 11)
	bob, bobConn := ts.online(t, "bob")

	ts.mustDo(t, admin, "ban", inviteBody("bob"))

	assert.Len(t, bobConn.events(EventBan), 1)
	assert.Empty(t, bob.UserName())
	assert.Empty(t, bob.Rooms())

	reply := ts.do(t, bob, "login", credentials("bob", "password"))
	assert.Equal(t, errs.ErrAuthFailed, errorCode(reply))

	ts.mustDo(t, admin, "unban", inviteBody("bob"))
	ts.login(t, bob, "bob")
	assert.Equal(t, "bob", bob.UserName())
}

func TestUpdateUserCannotExceedOwnLevel(t *testing.T) {
	ts := newTestServer(t)
	admin, _ := ts.online(t, "admin")
	ts.promote(t, "admin", 11)
	ts.register(t, "bob")

	reply := ts.do(t, admin, "updateUser", map[string]any{"name": "bob", "field": "accessLevel", "value": 12})
	assert.Equal(t, errs.ErrForbidden, errorCode(reply))

	ts.mustDo(t, admin, "updateUser", map[string]any{"name": "bob", "field": "accessLevel", "value": 5})
	u, err := ts.store.GetUser(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, 5, u.AccessLevel)

	reply = ts.do(t, admin, "updateUser", map[string]any{"name": "bob", "field": "color", "value": 1})
	assert.Equal(t, errs.ErrInvalidInput, errorCode(reply))
}

func TestUpdateRoom(t *testing.T) {
	ts := newTestServer(t)
	admin, _ := ts.online(t, "admin")
	ts.promote(t, "admin", 11)
	createRoom(t, ts, admin, "admin", "ops", "")

	ts.mustDo(t, admin, "updateRoom", map[string]any{"name": "ops", "field": "visibility", "value": 9})
	room, err := ts.store.GetRoom(context.Background(), "ops")
	require.NoError(t, err)
	assert.Equal(t, 9, room.Visibility)

	reply := ts.do(t, admin, "updateRoom", map[string]any{"name": "nope", "field": "visibility", "value": 1})
	assert.Equal(t, errs.ErrNotFound, errorCode(reply))
}

func TestArchivesUnavailableWithoutStorage(t *testing.T) {
	ts := newTestServer(t)
	alice, _ := ts.online(t, "alice")

	reply := ts.do(t, alice, "getArchive", map[string]any{"archiveId": "log1"})
	assert.Equal(t, errs.ErrNotFound, errorCode(reply))

	reply = ts.mustDo(t, alice, "getArchivesList", nil)
	assert.Empty(t, reply.Data)
}

func TestVerifyUserAllowsLogin(t *testing.T) {
	ts := newTestServer(t, func(cfg *configs.AppConfig) { cfg.UserVerify = true })
	ts.register(t, "admin")
	require.NoError(t, ts.store.SetUserVerified(context.Background(), "admin", true))
	ts.promote(t, "admin", 11)
	admin, _ := ts.connect("admin-conn")
	ts.login(t, admin, "admin")

	ts.register(t, "bob")
	bob, _ := ts.connect("bob-conn")
	reply := ts.do(t, bob, "login", credentials("bob", "password"))
	assert.Equal(t, errs.ErrAuthFailed, errorCode(reply))

	ts.mustDo(t, admin, "verifyUser", inviteBody("bob"))
	ts.login(t, bob, "bob")
	assert.Equal(t, "bob", bob.UserName())

	reply = ts.do(t, admin, "verifyUser", inviteBody("ghost"))
	assert.Equal(t, errs.ErrNotFound, errorCode(reply))
}

func TestVerifyAllUsers(t *testing.T) {
	ts := newTestServer(t, func(cfg *configs.AppConfig) { cfg.UserVerify = true })
	ts.register(t, "admin")
	require.NoError(t, ts.store.SetUserVerified(context.Background(), "admin", true))
	ts.promote(t, "admin", 11)
	admin, _ := ts.connect("admin-conn")
	ts.login(t, admin, "admin")

	ts.register(t, "carol")
	ts.register(t, "bob")

	reply := ts.mustDo(t, admin, "unverifiedUsers", nil)
	assert.Equal(t, map[string][]string{"users": {"bob", "carol"}}, reply.Data)

	reply = ts.mustDo(t, admin, "verifyAllUsers", nil)
	assert.Equal(t, map[string][]string{"verified": {"bob", "carol"}}, reply.Data)

	reply = ts.mustDo(t, admin, "unverifiedUsers", nil)
	assert.Equal(t, map[string][]string{"users": {}}, reply.Data)

	bob, _ := ts.connect("bob-conn")
	ts.login(t, bob, "bob")
	assert.Equal(t, "bob", bob.UserName())
}

func TestBannedUsers(t *testing.T) {
	ts := newTestServer(t)
	admin, _ := ts.online(t, "admin")
	ts.promote(t, "admin", 11)
	ts.register(t, "bob")
	ts.register(t, "carol")

	reply := ts.mustDo(t, admin, "bannedUsers", nil)
	assert.Equal(t, map[string][]string{"users": {}}, reply.Data)

	ts.mustDo(t, admin, "ban", inviteBody("carol"))
	reply = ts.mustDo(t, admin, "bannedUsers", nil)
	assert.Equal(t, map[string][]string{"users": {"carol"}}, reply.Data)

	dave, _ := ts.online(t, "dave")
	reply = ts.do(t, dave, "bannedUsers", nil)
	assert.Equal(t, errs.ErrForbidden, errorCode(reply))
}
