/*
Package model contains the data structures shared by the chat core, the persistence
gateways and the terminal client.

JSON tags follow the event payload shapes of the wire protocol.
*/
package model

import (
	"strings"
	"time"
)

// Reserved room names and suffixes of derived rooms.
const (
	PublicRoom    = "public"
	BroadcastRoom = "broadcast"
	ImportantRoom = "important"
	MorseRoom     = "morse"

	WhisperSuffix = "-whisper"
	TeamSuffix    = "-team"
	DeviceSuffix  = "-device"

	// WhisperAlias and TeamAlias are the pseudo names clients use to address their own derived rooms.
	WhisperAlias = "whisper"
	TeamAlias    = "team"

	// SystemSender is the sender name stamped on server-generated messages.
	SystemSender = "SYSTEM"
)

// User is the durable account record.
type User struct {
	UserName     string    `json:"userName"`
	PasswordHash string    `json:"-"`
	AccessLevel  int       `json:"accessLevel"`
	Visibility   int       `json:"visibility"`
	Team         string    `json:"team,omitempty"`
	Rooms        []string  `json:"rooms"`
	SocketID     string    `json:"-"`
	Online       bool      `json:"online"`
	Verified     bool      `json:"verified"`
	Banned       bool      `json:"banned"`
	LastOnline   time.Time `json:"lastOnline"`
}

// HasRoom reports whether roomName is part of the user's durable room set.
func (u User) HasRoom(roomName string) bool {
	for _, r := range u.Rooms {
		if r == roomName {
			return true
		}
	}
	return false
}

// WhisperRoom returns the user's own whisper room.
func (u User) WhisperRoom() string {
	return WhisperRoom(u.UserName)
}

// Room is a named pub/sub channel.
type Room struct {
	RoomName      string    `json:"roomName"`
	PasswordHash  string    `json:"-"`
	OwnerUserName string    `json:"owner"`
	AccessLevel   int       `json:"accessLevel"`
	Visibility    int       `json:"visibility"`
	CreatedAt     time.Time `json:"createdAt"`
}

// HasPassword reports whether following the room requires a password.
func (r Room) HasPassword() bool {
	return r.PasswordHash != ""
}

// Team groups users behind a shared team room.
type Team struct {
	TeamName      string   `json:"teamName"`
	OwnerUserName string   `json:"owner"`
	Admins        []string `json:"admins"`
}

// CanInvite reports whether userName is the owner or an admin of the team.
func (t Team) CanInvite(userName string) bool {
	if t.OwnerUserName == userName {
		return true
	}
	for _, a := range t.Admins {
		if a == userName {
			return true
		}
	}
	return false
}

// InvitationType is the kind of item an invitation grants.
type InvitationType string

const (
	InvitationRoom InvitationType = "room"
	InvitationTeam InvitationType = "team"
)

// Valid reports whether t is a known invitation type.
func (t InvitationType) Valid() bool {
	return t == InvitationRoom || t == InvitationTeam
}

// Invitation is a pending offer to join a room or team.
type Invitation struct {
	TargetUserName string         `json:"userName"`
	ItemName       string         `json:"itemName"`
	InvitationType InvitationType `json:"invitationType"`
	Sender         string         `json:"sender"`
	Time           time.Time      `json:"time"`
}

// MessageKind distinguishes the routing rules of a message.
type MessageKind string

const (
	KindChat      MessageKind = "chat"
	KindWhisper   MessageKind = "whisper"
	KindBroadcast MessageKind = "broadcast"
	KindImportant MessageKind = "important"
	KindMorse     MessageKind = "morse"
	KindSystem    MessageKind = "system"
)

// Message is an immutable history entry.
type Message struct {
	ID       string      `json:"id"`
	RoomName string      `json:"roomName"`
	UserName string      `json:"userName"`
	Text     []string    `json:"text"`
	Kind     MessageKind `json:"kind"`
	Time     time.Time   `json:"time"`
	Extra    string      `json:"extraClass,omitempty"`
}

// Archive describes an archived document. The body lives in object storage.
type Archive struct {
	ArchiveID   string    `json:"archiveId"`
	Title       string    `json:"title"`
	AccessLevel int       `json:"accessLevel"`
	ObjectKey   string    `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}

// WhisperRoom returns the whisper room name of userName.
func WhisperRoom(userName string) string {
	return userName + WhisperSuffix
}

// TeamRoom returns the room name of teamName.
func TeamRoom(teamName string) string {
	return teamName + TeamSuffix
}

// DeviceRoom returns the room name of deviceID.
func DeviceRoom(deviceID string) string {
	return deviceID + DeviceSuffix
}

// IsDerivedRoom reports whether roomName is a whisper, team or device room.
func IsDerivedRoom(roomName string) bool {
	return strings.HasSuffix(roomName, WhisperSuffix) ||
		strings.HasSuffix(roomName, TeamSuffix) ||
		strings.HasSuffix(roomName, DeviceSuffix)
}

// IsReservedRoom reports whether roomName is a system room, a room alias or a derived room.
func IsReservedRoom(roomName string) bool {
	switch roomName {
	case PublicRoom, BroadcastRoom, ImportantRoom, MorseRoom, WhisperAlias, TeamAlias:
		return true
	}
	return IsDerivedRoom(roomName)
}
