package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/stanislavb/roleOOC/internal/app/model"
	"github.com/stanislavb/roleOOC/internal/app/store"
	"github.com/stanislavb/roleOOC/internal/pkg/errs"
	"github.com/stanislavb/roleOOC/internal/pkg/keylock"
	"github.com/stanislavb/roleOOC/internal/pkg/logx"
	"github.com/stanislavb/roleOOC/internal/pkg/randx"
)

// Access levels of rooms created by the server.
const (
	// DefaultAccessLevel is given to new users and rooms.
	DefaultAccessLevel = 1

	// PrivateAccessLevel hides whisper and team rooms from everyone but administrators.
	PrivateAccessLevel = 12
)

// Directory owns room records and memberships. User.rooms and the live room sets are
// only changed through it.
type Directory struct {
	store      store.Gateway
	hub        *Hub
	policy     *Policy
	roomLocks  *keylock.KeyLock
	adminLevel int
	now        func() time.Time
	logger     zerolog.Logger
}

// NewDirectory returns a Directory. Rooms may be removed by their owner or by users of
// at least adminLevel.
func NewDirectory(gw store.Gateway, hub *Hub, policy *Policy, roomLocks *keylock.KeyLock, adminLevel int) *Directory {
	return &Directory{
		store:      gw,
		hub:        hub,
		policy:     policy,
		roomLocks:  roomLocks,
		adminLevel: adminLevel,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     logx.Component("directory"),
	}
}

// ResolveRoomName rewrites the whisper and team aliases to the caller's concrete rooms.
// Concrete derived names are not addressable.
func ResolveRoomName(user model.User, roomName string) (string, error) {
	roomName = strings.ToLower(roomName)
	switch {
	case roomName == model.WhisperAlias:
		if user.UserName == "" {
			return "", errs.NewError(errs.ErrUnauthenticated)
		}
		return user.WhisperRoom(), nil
	case roomName == model.TeamAlias:
		if user.Team == "" {
			return "", errs.NewError(errs.ErrNotFound, "Team")
		}
		return model.TeamRoom(user.Team), nil
	case model.IsDerivedRoom(roomName):
		return "", errs.NewError(errs.ErrInvalidInput)
	}
	return roomName, nil
}

func (d *Directory) systemMessage(roomName string, lines ...string) model.Message {
	return model.Message{
		ID:       randx.MessageID(),
		RoomName: roomName,
		UserName: model.SystemSender,
		Text:     lines,
		Kind:     model.KindSystem,
		Time:     d.now(),
	}
}

// EnsureSystemRooms creates the reserved rooms if they are missing.
func (d *Directory) EnsureSystemRooms(ctx context.Context) error {
	for _, name := range []string{model.PublicRoom, model.BroadcastRoom, model.ImportantRoom, model.MorseRoom} {
		_, err := d.store.AddRoom(ctx, model.Room{RoomName: name, OwnerUserName: model.SystemSender})
		if err != nil && !errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("failed to create room %s: %w", name, err)
		}
	}
	return nil
}

// RoomSpec describes a room to create.
type RoomSpec struct {
	RoomName    string
	Password    string
	AccessLevel int
	Visibility  int
}

// CreateRoom persists a new room owned by owner and makes the owner follow it.
func (d *Directory) CreateRoom(ctx context.Context, s *Session, owner model.User, params RoomSpec) (model.Room, error) {
	name := strings.ToLower(params.RoomName)
	if !randx.IsValidRoomName(name) || model.IsReservedRoom(name) {
		return model.Room{}, errs.NewError(errs.ErrInvalidInput)
	}
	// A room is never created above the creator's own level.
	if params.AccessLevel > owner.AccessLevel || params.Visibility > owner.AccessLevel {
		return model.Room{}, errs.NewError(errs.ErrForbidden)
	}

	room := model.Room{
		RoomName:      name,
		OwnerUserName: owner.UserName,
		AccessLevel:   max(params.AccessLevel, DefaultAccessLevel),
		Visibility:    max(params.Visibility, DefaultAccessLevel),
	}
	if params.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), bcrypt.DefaultCost)
		if err != nil {
			return model.Room{}, errs.Wrap(errs.ErrUnknown, err)
		}
		room.PasswordHash = string(hash)
	}

	room, err := d.store.AddRoom(ctx, room)
	if errors.Is(err, store.ErrConflict) {
		return model.Room{}, errs.Wrap(errs.ErrRoomExists, err)
	}
	if err != nil {
		return model.Room{}, errs.Wrap(errs.ErrStorage, err)
	}

	d.logger.Info().Str("room_name", room.RoomName).Str("owner", owner.UserName).Msg("Room created")

	if _, err := d.follow(ctx, s, owner, room.RoomName, "", true); err != nil {
		return room, err
	}
	return room, nil
}

// FollowRoom adds roomName to the user's durable and live room sets after the access
// and password checks. Nothing is changed when a check fails.
func (d *Directory) FollowRoom(ctx context.Context, s *Session, user model.User, roomName, password string) (model.Room, error) {
	name, err := ResolveRoomName(user, roomName)
	if err != nil {
		return model.Room{}, err
	}
	switch name {
	case model.BroadcastRoom, model.ImportantRoom, model.MorseRoom:
		return model.Room{}, errs.NewError(errs.ErrInvalidInput)
	}
	return d.follow(ctx, s, user, name, password, false)
}

// FollowInvited follows a room the user was invited to. The password is not checked.
func (d *Directory) FollowInvited(ctx context.Context, s *Session, user model.User, roomName string) (model.Room, error) {
	return d.follow(ctx, s, user, roomName, "", true)
}

func (d *Directory) follow(ctx context.Context, s *Session, user model.User, roomName, password string, bypassPassword bool) (model.Room, error) {
	unlock := d.roomLocks.Lock(roomName)
	defer unlock()

	room, err := d.store.GetRoom(ctx, roomName)
	if errors.Is(err, store.ErrNotFound) {
		return model.Room{}, errs.NewError(errs.ErrNotFound, "Room "+roomName)
	}
	if err != nil {
		return model.Room{}, errs.Wrap(errs.ErrStorage, err)
	}

	if !bypassPassword {
		if user.AccessLevel < room.AccessLevel {
			return model.Room{}, errs.NewError(errs.ErrUnauthorized)
		}
		if room.HasPassword() && bcrypt.CompareHashAndPassword([]byte(room.PasswordHash), []byte(password)) != nil {
			return model.Room{}, errs.NewError(errs.ErrUnauthorized)
		}
	}

	if err := d.store.AddRoomToUser(ctx, user.UserName, room.RoomName); err != nil {
		return model.Room{}, errs.Wrap(errs.ErrStorage, err)
	}

	if s != nil {
		if d.hub.Join(s, room.RoomName) {
			announce := d.systemMessage(room.RoomName, fmt.Sprintf("%s is following %s", user.UserName, room.RoomName))
			d.hub.SendRoom(room.RoomName, Envelope{Event: EventMessage, Data: announce}, s.ID())
		}
		_ = s.Send(Envelope{Event: EventFollow, Data: map[string]any{"room": room}})
	}

	d.logger.Debug().Str("room_name", room.RoomName).Str("user_name", user.UserName).Msg("Room followed")
	return room, nil
}

// UnfollowRoom removes roomName from the user's durable and live room sets. The user's
// own whisper room and team room cannot be unfollowed.
func (d *Directory) UnfollowRoom(ctx context.Context, s *Session, user model.User, roomName string) error {
	name, err := ResolveRoomName(user, roomName)
	if err != nil {
		return err
	}
	if name == user.WhisperRoom() {
		return errs.NewError(errs.ErrInvalidOperation, "You cannot unfollow your whisper room.")
	}
	if user.Team != "" && name == model.TeamRoom(user.Team) {
		return errs.NewError(errs.ErrInvalidOperation, "You cannot unfollow your team room.")
	}
	if !user.HasRoom(name) && (s == nil || !s.InRoom(name)) {
		return errs.NewError(errs.ErrNotFollowing, name)
	}

	unlock := d.roomLocks.Lock(name)
	defer unlock()

	if err := d.store.RemoveRoomFromUser(ctx, user.UserName, name); err != nil {
		return errs.Wrap(errs.ErrStorage, err)
	}

	if s != nil {
		d.hub.Leave(s, name)
		left := d.systemMessage(name, fmt.Sprintf("%s left %s", user.UserName, name))
		d.hub.SendRoom(name, Envelope{Event: EventMessage, Data: left}, s.ID())
		_ = s.Send(Envelope{Event: EventUnfollow, Data: map[string]string{"roomName": name}})
	}
	return nil
}

// RemoveRoom deletes roomName. Only the owner or an administrator may do so. Members are
// notified and evicted before the record is deleted.
func (d *Directory) RemoveRoom(ctx context.Context, requester model.User, roomName string) error {
	name := strings.ToLower(roomName)
	if model.IsReservedRoom(name) {
		return errs.NewError(errs.ErrInvalidOperation, "Reserved rooms cannot be removed.")
	}

	unlock := d.roomLocks.Lock(name)
	defer unlock()

	room, err := d.store.GetRoom(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return errs.NewError(errs.ErrNotFound, "Room "+name)
	}
	if err != nil {
		return errs.Wrap(errs.ErrStorage, err)
	}

	if room.OwnerUserName != requester.UserName && requester.AccessLevel < d.adminLevel {
		return errs.NewError(errs.ErrForbidden)
	}

	notice := d.systemMessage(name, fmt.Sprintf("Room %s has been removed by %s", name, requester.UserName))
	members := d.hub.Members(name)
	d.hub.SendRoom(name, Envelope{Event: EventRoomRemoved, Data: notice}, "")
	for _, m := range members {
		d.hub.Leave(m, name)
	}

	if err := d.store.RemoveRoomFromAllUsers(ctx, name); err != nil {
		return errs.Wrap(errs.ErrStorage, err)
	}
	if err := d.store.RemoveRoom(ctx, name); err != nil && !errors.Is(err, store.ErrNotFound) {
		return errs.Wrap(errs.ErrStorage, err)
	}

	d.logger.Info().Str("room_name", name).Str("requester", requester.UserName).Int("evicted", len(members)).Msg("Room removed")
	return nil
}

// SwitchRoom selects the room chat messages without an explicit room go to.
func (d *Directory) SwitchRoom(s *Session, user model.User, roomName string) (string, error) {
	name, err := ResolveRoomName(user, roomName)
	if err != nil {
		return "", err
	}
	if !s.InRoom(name) {
		return "", errs.NewError(errs.ErrNotFollowing, name)
	}
	s.setActiveRoom(name)
	return name, nil
}

// RoomInfo is a room as listed to users.
type RoomInfo struct {
	RoomName    string `json:"roomName"`
	Owner       string `json:"owner"`
	AccessLevel int    `json:"accessLevel"`
	Protected   bool   `json:"protected"`
}

// ListRooms returns the rooms visible to user, without reserved and derived rooms.
func (d *Directory) ListRooms(ctx context.Context, user model.User) ([]RoomInfo, error) {
	rooms, err := d.store.ListRooms(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.ErrStorage, err)
	}

	infos := []RoomInfo{}
	for _, r := range rooms {
		if model.IsReservedRoom(r.RoomName) || r.Visibility > user.AccessLevel {
			continue
		}
		infos = append(infos, RoomInfo{
			RoomName:    r.RoomName,
			Owner:       r.OwnerUserName,
			AccessLevel: r.AccessLevel,
			Protected:   r.HasPassword(),
		})
	}
	return infos, nil
}

// MyRooms lists the rooms the session follows and the rooms the user owns.
type MyRooms struct {
	Following []string `json:"following"`
	Owned     []string `json:"owned"`
}

// MyRooms returns the caller's live and owned rooms, without reserved and derived rooms.
func (d *Directory) MyRooms(ctx context.Context, s *Session, user model.User) (MyRooms, error) {
	rooms, err := d.store.ListRooms(ctx)
	if err != nil {
		return MyRooms{}, errs.Wrap(errs.ErrStorage, err)
	}

	result := MyRooms{Following: []string{}, Owned: []string{}}
	for _, r := range s.Rooms() {
		if !model.IsReservedRoom(r) {
			result.Following = append(result.Following, r)
		}
	}
	for _, r := range rooms {
		if r.OwnerUserName == user.UserName && !model.IsReservedRoom(r.RoomName) {
			result.Owned = append(result.Owned, r.RoomName)
		}
	}
	return result, nil
}

// UserList splits the listed users by presence.
type UserList struct {
	Online  []string `json:"online"`
	Offline []string `json:"offline"`
}

// ListUsers returns the users visible to user. Banned users, and unverified users when
// verification is enforced, are left out.
func (d *Directory) ListUsers(ctx context.Context, user model.User) (UserList, error) {
	users, err := d.store.ListUsers(ctx)
	if err != nil {
		return UserList{}, errs.Wrap(errs.ErrStorage, err)
	}

	list := UserList{Online: []string{}, Offline: []string{}}
	for _, u := range users {
		if !d.policy.Eligible(u) || u.Visibility > user.AccessLevel {
			continue
		}
		if u.Online {
			list.Online = append(list.Online, u.UserName)
		} else {
			list.Offline = append(list.Offline, u.UserName)
		}
	}
	slices.Sort(list.Online)
	slices.Sort(list.Offline)
	return list, nil
}

// UpdateRoom changes the access level or visibility of a room.
func (d *Directory) UpdateRoom(ctx context.Context, req UpdateRequest) (model.Room, error) {
	unlock := d.roomLocks.Lock(req.Name)
	defer unlock()

	room, err := d.store.GetRoom(ctx, req.Name)
	if errors.Is(err, store.ErrNotFound) {
		return model.Room{}, errs.NewError(errs.ErrNotFound, "Room "+req.Name)
	}
	if err != nil {
		return model.Room{}, errs.Wrap(errs.ErrStorage, err)
	}

	switch req.Field {
	case FieldVisibility:
		room.Visibility = req.Value
	case FieldAccessLevel:
		room.AccessLevel = req.Value
	}

	if err := d.store.UpdateRoomAccess(ctx, room.RoomName, room.AccessLevel, room.Visibility); err != nil {
		return model.Room{}, errs.Wrap(errs.ErrStorage, err)
	}
	return room, nil
}

// RoomHackable returns roomName if user may break into it, which is the case for rooms
// the user can see. System channels and missing rooms are reported like rooms the user
// cannot see.
func (d *Directory) RoomHackable(ctx context.Context, user model.User, roomName string) (model.Room, error) {
	name, err := ResolveRoomName(user, roomName)
	if err != nil {
		return model.Room{}, err
	}
	switch name {
	case model.BroadcastRoom, model.ImportantRoom, model.MorseRoom:
		return model.Room{}, errs.NewError(errs.ErrUnauthorized)
	}

	room, err := d.store.GetRoom(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return model.Room{}, errs.NewError(errs.ErrUnauthorized)
	}
	if err != nil {
		return model.Room{}, errs.Wrap(errs.ErrStorage, err)
	}
	if user.AccessLevel < room.Visibility {
		return model.Room{}, errs.NewError(errs.ErrUnauthorized)
	}
	return room, nil
}

// HackRoom follows a hackable room without its password.
func (d *Directory) HackRoom(ctx context.Context, s *Session, user model.User, roomName string) (model.Room, error) {
	room, err := d.RoomHackable(ctx, user, roomName)
	if err != nil {
		return model.Room{}, err
	}
	d.logger.Info().Str("room_name", room.RoomName).Str("user_name", user.UserName).Msg("Room hacked")
	return d.follow(ctx, s, user, room.RoomName, "", true)
}

// FollowPublic puts s in the live public room without touching any durable state, so
// anonymous terminals can read the public channel.
func (d *Directory) FollowPublic(s *Session) {
	unlock := d.roomLocks.Lock(model.PublicRoom)
	defer unlock()
	d.hub.Join(s, model.PublicRoom)
}

// UserMatch is the answer to a partial user name. Matched is set when exactly one user
// matches, otherwise Names lists the candidates.
type UserMatch struct {
	Matched string   `json:"matchedName,omitempty"`
	Names   []string `json:"names"`
}

// MatchPartialUser completes partial against the names of the users visible to user.
func (d *Directory) MatchPartialUser(ctx context.Context, user model.User, partial string) (UserMatch, error) {
	list, err := d.ListUsers(ctx, user)
	if err != nil {
		return UserMatch{}, err
	}

	match := UserMatch{Names: []string{}}
	for _, name := range append(list.Online, list.Offline...) {
		if strings.HasPrefix(name, partial) {
			match.Names = append(match.Names, name)
		}
	}
	slices.Sort(match.Names)
	if len(match.Names) == 1 {
		match.Matched = match.Names[0]
	}
	return match, nil
}
