/*
Package store defines the Persistence Gateway consumed by the chat core.

Implementations return ErrNotFound for absent records and ErrConflict for
uniqueness violations so the core can map them onto its error taxonomy without
knowing the backing database.
*/
package store

import (
	"context"
	"errors"
	"time"

	"github.com/stanislavb/roleOOC/internal/app/model"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("store: record not found")

	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("store: unique constraint violated")
)

// MessageQuery selects history entries.
type MessageQuery struct {
	// Rooms restricts the query to these room names.
	Rooms []string

	// After, if set, only returns messages strictly newer than it.
	After time.Time

	// Before, if set, only returns messages not newer than it.
	Before time.Time

	// Limit caps the result to the newest Limit messages. Zero means no cap.
	Limit int
}

// UserStore persists users.
type UserStore interface {
	GetUser(ctx context.Context, userName string) (model.User, error)
	AddUser(ctx context.Context, user model.User) (model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	UpdateUserSocket(ctx context.Context, userName, socketID string, online bool) error
	SetUserLastOnline(ctx context.Context, userName string, t time.Time) error
	UpdateUserTeam(ctx context.Context, userName, teamName string) error
	UpdateUserAccess(ctx context.Context, userName string, accessLevel, visibility int) error
	UpdateUserPassword(ctx context.Context, userName, passwordHash string) error
	SetUserBanned(ctx context.Context, userName string, banned bool) error
	SetUserVerified(ctx context.Context, userName string, verified bool) error
	AddRoomToUser(ctx context.Context, userName, roomName string) error
	RemoveRoomFromUser(ctx context.Context, userName, roomName string) error
	RemoveRoomFromAllUsers(ctx context.Context, roomName string) error
}

// RoomStore persists rooms.
type RoomStore interface {
	GetRoom(ctx context.Context, roomName string) (model.Room, error)
	AddRoom(ctx context.Context, room model.Room) (model.Room, error)
	RemoveRoom(ctx context.Context, roomName string) error
	ListRooms(ctx context.Context) ([]model.Room, error)
	UpdateRoomAccess(ctx context.Context, roomName string, accessLevel, visibility int) error
}

// TeamStore persists teams.
type TeamStore interface {
	GetTeam(ctx context.Context, teamName string) (model.Team, error)
	AddTeam(ctx context.Context, team model.Team) (model.Team, error)
}

// InvitationStore persists pending invitations.
type InvitationStore interface {
	AddInvitation(ctx context.Context, inv model.Invitation) error
	GetInvitation(ctx context.Context, target, itemName string, typ model.InvitationType) (model.Invitation, error)
	ListInvitations(ctx context.Context, target string) ([]model.Invitation, error)
	RemoveInvitation(ctx context.Context, target, itemName string, typ model.InvitationType) error
	RemoveInvitationsByType(ctx context.Context, target string, typ model.InvitationType) error
}

// MessageStore persists room history.
type MessageStore interface {
	AppendMessage(ctx context.Context, msg model.Message) error
	QueryMessages(ctx context.Context, q MessageQuery) ([]model.Message, error)
}

// ArchiveStore persists archive metadata.
type ArchiveStore interface {
	GetArchive(ctx context.Context, archiveID string) (model.Archive, error)
	ListArchives(ctx context.Context, maxAccessLevel int) ([]model.Archive, error)
	AddArchive(ctx context.Context, archive model.Archive) error
}

// Gateway is the complete Persistence Gateway.
type Gateway interface {
	UserStore
	RoomStore
	TeamStore
	InvitationStore
	MessageStore
	ArchiveStore
}
