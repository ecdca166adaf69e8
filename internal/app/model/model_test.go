package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReservedRooms(t *testing.T) {
	tcases := []struct {
		room     string
		reserved bool
	}{
		{room: PublicRoom, reserved: true},
		{room: BroadcastRoom, reserved: true},
		{room: ImportantRoom, reserved: true},
		{room: MorseRoom, reserved: true},
		{room: WhisperAlias, reserved: true},
		{room: TeamAlias, reserved: true},
		{room: WhisperRoom("alice"), reserved: true},
		{room: TeamRoom("red"), reserved: true},
		{room: DeviceRoom("d3v1c3"), reserved: true},
		{room: "ops", reserved: false},
	}

	for _, tc := range tcases {
		t.Run(tc.room, func(t *testing.T) {
			assert.Equal(t, tc.reserved, IsReservedRoom(tc.room))
		})
	}
}

func TestTeamCanInvite(t *testing.T) {
	team := Team{TeamName: "red", OwnerUserName: "alice", Admins: []string{"bob"}}

	assert.True(t, team.CanInvite("alice"))
	assert.True(t, team.CanInvite("bob"))
	assert.False(t, team.CanInvite("carol"))
}

func TestUserHasRoom(t *testing.T) {
	u := User{UserName: "alice", Rooms: []string{PublicRoom, "alice-whisper"}}

	assert.True(t, u.HasRoom(PublicRoom))
	assert.False(t, u.HasRoom("ops"))
	assert.Equal(t, "alice-whisper", u.WhisperRoom())
}
