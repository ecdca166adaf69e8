package chat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stanislavb/roleOOC/internal/app/model"
	"github.com/stanislavb/roleOOC/internal/pkg/errs"
)

func teamBody(name string) map[string]any {
	return map[string]any{"team": map[string]any{"teamName": name}}
}

func inviteBody(user string) map[string]any {
	return map[string]any{"user": map[string]any{"userName": user}}
}

func answerBody(item string, accepted bool) map[string]any {
	return map[string]any{"invitation": map[string]any{"itemName": item}, "accepted": accepted}
}

func TestTeamAcceptWithdrawsOtherTeamInvitations(t *testing.T) {
	ts := newTestServer(t)
	alice, aliceConn := ts.online(t, "alice")
	carol, _ := ts.online(t, "carol")
	bob, bobConn := ts.online(t, "bob")

	ts.mustDo(t, alice, "createTeam", teamBody("red"))
	ts.mustDo(t, carol, "createTeam", teamBody("blue"))
	assert.True(t, alice.InRoom(model.TeamRoom("red")))

	ts.mustDo(t, alice, "inviteToTeam", inviteBody("bob"))
	ts.mustDo(t, carol, "inviteToTeam", inviteBody("bob"))
	assert.Len(t, bobConn.events(EventInvitation), 2)

	reply := ts.do(t, alice, "inviteToTeam", inviteBody("bob"))
	assert.Equal(t, errs.ErrAlreadyInvited, errorCode(reply))

	invs := ts.mustDo(t, bob, "getInvitations", nil).Data.([]model.Invitation)
	assert.Len(t, invs, 2)

	ts.mustDo(t, bob, "teamAnswer", answerBody("red", true))
	assert.True(t, bob.InRoom(model.TeamRoom("red")))

	u, err := ts.store.GetUser(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "red", u.Team)
	assert.True(t, u.HasRoom(model.TeamRoom("red")))

	assert.Empty(t, ts.mustDo(t, bob, "getInvitations", nil).Data)

	reply = ts.do(t, bob, "teamAnswer", answerBody("blue", true))
	assert.Equal(t, errs.ErrAlreadyInTeam, errorCode(reply))

	// The team alias addresses the team room.
	aliceConn.reset()
	ts.mustDo(t, bob, "chatMsg", chatBody(model.TeamAlias, "reporting in"))
	assert.Len(t, aliceConn.events(EventChat), 1)

	reply = ts.do(t, bob, "unfollow", roomBody(model.TeamAlias))
	assert.Equal(t, errs.ErrInvalidOperation, errorCode(reply))
}

func TestOnlyTeamOwnerInvites(t *testing.T) {
	ts := newTestServer(t)
	alice, _ := ts.online(t, "alice")
	bob, _ := ts.online(t, "bob")
	ts.register(t, "carol")

	reply := ts.do(t, bob, "inviteToTeam", inviteBody("carol"))
	assert.Equal(t, errs.ErrNotFound, errorCode(reply), "bob has no team")

	ts.mustDo(t, alice, "createTeam", teamBody("red"))
	ts.mustDo(t, alice, "inviteToTeam", inviteBody("bob"))
	ts.mustDo(t, bob, "teamAnswer", answerBody("red", true))

	reply = ts.do(t, bob, "inviteToTeam", inviteBody("carol"))
	assert.Equal(t, errs.ErrForbidden, errorCode(reply))

	reply = ts.do(t, alice, "createTeam", teamBody("green"))
	assert.Equal(t, errs.ErrAlreadyInTeam, errorCode(reply))
}

func TestRoomInvitationBypassesPassword(t *testing.T) {
	ts := newTestServer(t)
	alice, _ := ts.online(t, "alice")
	bob, bobConn := ts.online(t, "bob")
	createRoom(t, ts, alice, "alice", "vault", "secret")

	reply := ts.do(t, alice, "inviteToRoom", map[string]any{"user": map[string]any{"userName": "ghost"}, "room": map[string]any{"roomName": "vault"}})
	assert.Equal(t, errs.ErrNotFound, errorCode(reply))

	ts.mustDo(t, alice, "inviteToRoom", map[string]any{"user": map[string]any{"userName": "bob"}, "room": map[string]any{"roomName": "vault"}})
	require.Len(t, bobConn.events(EventInvitation), 1)

	ts.mustDo(t, bob, "roomAnswer", answerBody("vault", true))
	assert.True(t, bob.InRoom("vault"))
	assert.Empty(t, ts.mustDo(t, bob, "getInvitations", nil).Data)

	reply = ts.do(t, alice, "inviteToRoom", map[string]any{"user": map[string]any{"userName": "bob"}, "room": map[string]any{"roomName": "vault"}})
	assert.Equal(t, errs.ErrInvalidOperation, errorCode(reply), "bob already follows vault")
}

func TestDeclineRemovesOnlyThatInvitation(t *testing.T) {
	ts := newTestServer(t)
	alice, _ := ts.online(t, "alice")
	bob, _ := ts.online(t, "bob")
	createRoom(t, ts, alice, "alice", "ops", "")
	createRoom(t, ts, alice, "alice", "dev", "")
	for _, room := range []string{"ops", "dev"} {
		ts.mustDo(t, alice, "inviteToRoom", map[string]any{"user": map[string]any{"userName": "bob"}, "room": map[string]any{"roomName": room}})
	}

	ts.mustDo(t, bob, "roomAnswer", answerBody("ops", false))
	assert.False(t, bob.InRoom("ops"))

	invs := ts.mustDo(t, bob, "getInvitations", nil).Data.([]model.Invitation)
	require.Len(t, invs, 1)
	assert.Equal(t, "dev", invs[0].ItemName)

	reply := ts.do(t, bob, "roomAnswer", answerBody("ops", true))
	assert.Equal(t, errs.ErrNotFound, errorCode(reply))
}

func TestGetTeam(t *testing.T) {
	ts := newTestServer(t)
	alice, _ := ts.online(t, "alice")

	ts.mustDo(t, alice, "createTeam", teamBody("red"))
	team := ts.mustDo(t, alice, "getTeam", teamBody("red")).Data.(model.Team)
	assert.Equal(t, "alice", team.OwnerUserName)

	reply := ts.do(t, alice, "createTeam", teamBody("red"))
	assert.NotZero(t, errorCode(reply))

	reply = ts.do(t, alice, "getTeam", teamBody("blue"))
	assert.Equal(t, errs.ErrNotFound, errorCode(reply))
}
