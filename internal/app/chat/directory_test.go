package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stanislavb/roleOOC/internal/app/model"
	"github.com/stanislavb/roleOOC/internal/app/store"
	"github.com/stanislavb/roleOOC/internal/pkg/errs"
)

func createRoom(t *testing.T, ts *testServer, s *Session, owner, name, password string) {
	t.Helper()
	ts.mustDo(t, s, "createRoom", map[string]any{
		"room": map[string]any{"roomName": name, "owner": owner, "password": password},
	})
}

func TestCreateRoomFollowsOwner(t *testing.T) {
	ts := newTestServer(t)
	alice, _ := ts.online(t, "alice")

	createRoom(t, ts, alice, "alice", "ops", "")
	assert.True(t, alice.InRoom("ops"))

	u, err := ts.store.GetUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, u.HasRoom("ops"))

	reply := ts.do(t, alice, "createRoom", map[string]any{"room": map[string]any{"roomName": "ops", "owner": "alice"}})
	assert.Equal(t, errs.ErrRoomExists, errorCode(reply))

	reply = ts.do(t, alice, "createRoom", map[string]any{"room": map[string]any{"roomName": "other", "owner": "bob"}})
	assert.Equal(t, errs.ErrInvalidInput, errorCode(reply))

	reply = ts.do(t, alice, "createRoom", map[string]any{"room": map[string]any{"roomName": "high", "owner": "alice", "accessLevel": 5}})
	assert.Equal(t, errs.ErrForbidden, errorCode(reply))
}

func TestCreateRoomRejectsAliases(t *testing.T) {
	ts := newTestServer(t)
	alice, _ := ts.online(t, "alice")

	for _, name := range []string{model.WhisperAlias, model.TeamAlias, "Team"} {
		reply := ts.do(t, alice, "createRoom", map[string]any{"room": map[string]any{"roomName": name, "owner": "alice"}})
		assert.Equal(t, errs.ErrInvalidInput, errorCode(reply), name)

		_, err := ts.store.GetRoom(context.Background(), strings.ToLower(name))
		assert.ErrorIs(t, err, store.ErrNotFound, name)
	}
}

func TestFollowWithWrongPasswordChangesNothing(t *testing.T) {
	ts := newTestServer(t)
	alice, aliceConn := ts.online(t, "alice")
	bob, _ := ts.online(t, "bob")
	createRoom(t, ts, alice, "alice", "vault", "secret")
	aliceConn.reset()

	reply := ts.do(t, bob, "follow", map[string]any{"room": map[string]any{"roomName": "vault", "password": "guess"}})
	assert.Equal(t, errs.ErrUnauthorized, errorCode(reply))
	assert.True(t, reply.Error.Silent)
	assert.False(t, bob.InRoom("vault"))

	u, err := ts.store.GetUser(context.Background(), "bob")
	require.NoError(t, err)
	assert.False(t, u.HasRoom("vault"))
	assert.Empty(t, aliceConn.events(EventMessage))

	ts.mustDo(t, bob, "follow", map[string]any{"room": map[string]any{"roomName": "vault", "password": "secret"}})
	assert.True(t, bob.InRoom("vault"))

	announcements := aliceConn.events(EventMessage)
	require.Len(t, announcements, 1)
	assert.Equal(t, []string{"bob is following vault"}, announcements[0].Data.(model.Message).Text)

	// Following again does not announce twice.
	ts.mustDo(t, bob, "follow", map[string]any{"room": map[string]any{"roomName": "vault", "password": "secret"}})
	assert.Len(t, aliceConn.events(EventMessage), 1)
}

func TestFollowRejectsSystemChannels(t *testing.T) {
	ts := newTestServer(t)
	alice, _ := ts.online(t, "alice")

	for _, room := range []string{model.BroadcastRoom, model.ImportantRoom, model.MorseRoom} {
		reply := ts.do(t, alice, "follow", roomBody(room))
		assert.Equal(t, errs.ErrInvalidInput, errorCode(reply), room)
	}
	reply := ts.do(t, alice, "follow", roomBody("missing"))
	assert.Equal(t, errs.ErrNotFound, errorCode(reply))
}

func TestUnfollow(t *testing.T) {
	ts := newTestServer(t)
	alice, _ := ts.online(t, "alice")
	bob, bobConn := ts.online(t, "bob")
	createRoom(t, ts, alice, "alice", "ops", "")
	ts.mustDo(t, bob, "follow", roomBody("ops"))
	ts.mustDo(t, bob, "switchRoom", roomBody("ops"))
	assert.Equal(t, "ops", bob.ActiveRoom())
	bobConn.reset()

	ts.mustDo(t, bob, "unfollow", roomBody("ops"))
	assert.False(t, bob.InRoom("ops"))
	assert.Equal(t, model.PublicRoom, bob.ActiveRoom())
	assert.Len(t, bobConn.events(EventUnfollow), 1)

	reply := ts.do(t, bob, "unfollow", roomBody("ops"))
	assert.Equal(t, errs.ErrNotFollowing, errorCode(reply))

	reply = ts.do(t, bob, "unfollow", roomBody(model.WhisperAlias))
	assert.Equal(t, errs.ErrInvalidOperation, errorCode(reply))
}

func TestRemoveRoomEvictsMembers(t *testing.T) {
	ts := newTestServer(t)
	alice, _ := ts.online(t, "alice")
	bob, bobConn := ts.online(t, "bob")
	createRoom(t, ts, alice, "alice", "ops", "")
	ts.mustDo(t, bob, "follow", roomBody("ops"))

	reply := ts.do(t, bob, "removeRoom", roomBody("ops"))
	assert.Equal(t, errs.ErrForbidden, errorCode(reply))

	ts.mustDo(t, alice, "removeRoom", roomBody("ops"))

	assert.Len(t, bobConn.events(EventRoomRemoved), 1)
	assert.False(t, bob.InRoom("ops"))
	assert.False(t, alice.InRoom("ops"))
	assert.False(t, ts.m.hub.HasMembers("ops"))

	ctx := context.Background()
	u, err := ts.store.GetUser(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, u.HasRoom("ops"))
	_, err = ts.store.GetRoom(ctx, "ops")
	assert.ErrorIs(t, err, store.ErrNotFound)

	reply = ts.do(t, bob, "chatMsg", chatBody("ops", "anyone?"))
	assert.Equal(t, errs.ErrNotFollowing, errorCode(reply))

	reply = ts.do(t, alice, "removeRoom", roomBody(model.PublicRoom))
	assert.Equal(t, errs.ErrInvalidOperation, errorCode(reply))
}

func TestAdminMayRemoveAnyRoom(t *testing.T) {
	ts := newTestServer(t)
	alice, _ := ts.online(t, "alice")
	admin, _ := ts.online(t, "admin")
	ts.promote(t, "admin", 11)
	createRoom(t, ts, alice, "alice", "ops", "")

	ts.mustDo(t, admin, "removeRoom", roomBody("ops"))
	assert.False(t, alice.InRoom("ops"))
}

func TestListRoomsAndUsers(t *testing.T) {
	ts := newTestServer(t)
	alice, _ := ts.online(t, "alice")
	ts.register(t, "bob")
	ts.register(t, "mallory")
	require.NoError(t, ts.store.SetUserBanned(context.Background(), "mallory", true))
	createRoom(t, ts, alice, "alice", "ops", "pw")

	rooms := ts.mustDo(t, alice, "listRooms", nil).Data.([]RoomInfo)
	require.Len(t, rooms, 1)
	assert.Equal(t, RoomInfo{RoomName: "ops", Owner: "alice", AccessLevel: 1, Protected: true}, rooms[0])

	anon, _ := ts.connect("anon")
	assert.Empty(t, ts.mustDo(t, anon, "listRooms", nil).Data)

	users := ts.mustDo(t, alice, "listUsers", nil).Data.(UserList)
	assert.Equal(t, []string{"alice"}, users.Online)
	assert.Equal(t, []string{"bob"}, users.Offline)

	mine := ts.mustDo(t, alice, "myRooms", nil).Data.(MyRooms)
	assert.Equal(t, []string{"ops"}, mine.Following)
	assert.Equal(t, []string{"ops"}, mine.Owned)
}

func TestStoreFailureDuringFollowIsReported(t *testing.T) {
	ts := newTestServer(t)
	alice, _ := ts.online(t, "alice")
	bob, _ := ts.online(t, "bob")
	createRoom(t, ts, alice, "alice", "ops", "")

	ts.store.FailWrites(errors.New("offline"))
	reply := ts.do(t, bob, "follow", roomBody("ops"))
	assert.Equal(t, errs.ErrStorage, errorCode(reply))
	assert.False(t, bob.InRoom("ops"))
}

func TestHackRoomSkipsPassword(t *testing.T) {
	ts := newTestServer(t)
	alice, aliceConn := ts.online(t, "alice")
	bob, bobConn := ts.online(t, "bob")
	createRoom(t, ts, alice, "alice", "vault", "secret")
	aliceConn.reset()

	reply := ts.mustDo(t, bob, "roomHackable", roomBody("Vault"))
	assert.Equal(t, map[string]string{"roomName": "vault"}, reply.Data)

	ts.mustDo(t, bob, "hackRoom", roomBody("vault"))
	assert.True(t, bob.InRoom("vault"))
	assert.Len(t, bobConn.events(EventFollow), 1)
	assert.Len(t, aliceConn.events(EventMessage), 1)

	u, err := ts.store.GetUser(context.Background(), "bob")
	require.NoError(t, err)
	assert.True(t, u.HasRoom("vault"))
}

func TestRoomNotHackable(t *testing.T) {
	ts := newTestServer(t)
	admin, _ := ts.online(t, "admin")
	ts.promote(t, "admin", 11)
	bob, _ := ts.online(t, "bob")
	createRoom(t, ts, admin, "admin", "vault", "secret")
	ts.mustDo(t, admin, "updateRoom", map[string]any{"name": "vault", "field": "visibility", "value": 5})

	for _, room := range []string{"vault", "missing", model.BroadcastRoom} {
		reply := ts.do(t, bob, "roomHackable", roomBody(room))
		assert.Equal(t, errs.ErrUnauthorized, errorCode(reply), room)
		assert.True(t, reply.Error.Silent, room)

		reply = ts.do(t, bob, "hackRoom", roomBody(room))
		assert.Equal(t, errs.ErrUnauthorized, errorCode(reply), room)
	}
	assert.False(t, bob.InRoom("vault"))

	anon, _ := ts.connect("anon")
	reply := ts.do(t, anon, "hackRoom", roomBody("vault"))
	assert.Equal(t, errs.ErrUnauthenticated, errorCode(reply))
}

func TestFollowPublicIsLiveOnly(t *testing.T) {
	ts := newTestServer(t)
	alice, _ := ts.online(t, "alice")
	anon, anonConn := ts.connect("anon")

	reply := ts.mustDo(t, anon, "followPublic", nil)
	assert.Equal(t, map[string]string{"roomName": model.PublicRoom}, reply.Data)
	assert.True(t, anon.InRoom(model.PublicRoom))

	ts.mustDo(t, alice, "chatMsg", chatBody(model.PublicRoom, "hello"))
	require.Len(t, anonConn.events(EventChat), 1)
	assert.Equal(t, []string{"hello"}, anonConn.events(EventChat)[0].Data.(model.Message).Text)

	reply = ts.do(t, anon, "chatMsg", chatBody(model.PublicRoom, "hi"))
	assert.Equal(t, errs.ErrUnauthenticated, errorCode(reply))
}

func TestMatchPartialUser(t *testing.T) {
	ts := newTestServer(t)
	alice, _ := ts.online(t, "alice")
	for _, name := range []string{"albert", "bob", "boris"} {
		ts.register(t, name)
	}
	ts.register(t, "alfred")
	require.NoError(t, ts.store.UpdateUserAccess(context.Background(), "alfred", 1, 9))

	reply := ts.mustDo(t, alice, "matchPartialUser", map[string]any{"partialName": "Al"})
	assert.Equal(t, UserMatch{Names: []string{"albert", "alice"}}, reply.Data, "users above the caller's level stay hidden")

	reply = ts.mustDo(t, alice, "matchPartialUser", map[string]any{"partialName": "bor"})
	assert.Equal(t, UserMatch{Matched: "boris", Names: []string{"boris"}}, reply.Data)

	reply = ts.mustDo(t, alice, "matchPartialUser", map[string]any{"partialName": "zed"})
	assert.Equal(t, UserMatch{Names: []string{}}, reply.Data)
}
