package store

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stanislavb/roleOOC/internal/app/model"
)

type invitationKey struct {
	target string
	item   string
	typ    model.InvitationType
}

type storedMessage struct {
	seq int64
	msg model.Message
}

// Memory is an in-process Gateway. It backs STORE_DRIVER=memory and the tests.
type Memory struct {
	mu sync.RWMutex

	users       map[string]model.User
	rooms       map[string]model.Room
	teams       map[string]model.Team
	invitations map[invitationKey]model.Invitation
	messages    []storedMessage
	archives    map[string]model.Archive
	seq         int64

	// failWrites makes every mutating call fail with the given error. Used by tests.
	failWrites error
}

// NewMemory returns an empty in-memory gateway.
func NewMemory() *Memory {
	return &Memory{
		users:       make(map[string]model.User),
		rooms:       make(map[string]model.Room),
		teams:       make(map[string]model.Team),
		invitations: make(map[invitationKey]model.Invitation),
		archives:    make(map[string]model.Archive),
	}
}

// FailWrites makes all subsequent writes return err. Pass nil to restore.
func (m *Memory) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failWrites = err
}

func cloneUser(u model.User) model.User {
	u.Rooms = slices.Clone(u.Rooms)
	return u
}

func (m *Memory) GetUser(_ context.Context, userName string) (model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[strings.ToLower(userName)]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return cloneUser(u), nil
}

func (m *Memory) AddUser(_ context.Context, user model.User) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWrites != nil {
		return model.User{}, m.failWrites
	}

	key := strings.ToLower(user.UserName)
	if _, ok := m.users[key]; ok {
		return model.User{}, ErrConflict
	}
	user.UserName = key
	m.users[key] = cloneUser(user)
	return cloneUser(user), nil
}

func (m *Memory) ListUsers(_ context.Context) ([]model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]model.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, cloneUser(u))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserName < users[j].UserName })
	return users, nil
}

// updateUser applies fn to the stored user under the write lock.
func (m *Memory) updateUser(userName string, fn func(u *model.User)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWrites != nil {
		return m.failWrites
	}

	key := strings.ToLower(userName)
	u, ok := m.users[key]
	if !ok {
		return ErrNotFound
	}
	fn(&u)
	m.users[key] = u
	return nil
}

func (m *Memory) UpdateUserSocket(_ context.Context, userName, socketID string, online bool) error {
	return m.updateUser(userName, func(u *model.User) {
		u.SocketID = socketID
		u.Online = online
	})
}

func (m *Memory) SetUserLastOnline(_ context.Context, userName string, t time.Time) error {
	return m.updateUser(userName, func(u *model.User) { u.LastOnline = t })
}

func (m *Memory) UpdateUserTeam(_ context.Context, userName, teamName string) error {
	return m.updateUser(userName, func(u *model.User) { u.Team = teamName })
}

func (m *Memory) UpdateUserAccess(_ context.Context, userName string, accessLevel, visibility int) error {
	return m.updateUser(userName, func(u *model.User) {
		u.AccessLevel = accessLevel
		u.Visibility = visibility
	})
}

func (m *Memory) UpdateUserPassword(_ context.Context, userName, passwordHash string) error {
	return m.updateUser(userName, func(u *model.User) { u.PasswordHash = passwordHash })
}

func (m *Memory) SetUserBanned(_ context.Context, userName string, banned bool) error {
	return m.updateUser(userName, func(u *model.User) { u.Banned = banned })
}

func (m *Memory) SetUserVerified(_ context.Context, userName string, verified bool) error {
	return m.updateUser(userName, func(u *model.User) { u.Verified = verified })
}

func (m *Memory) AddRoomToUser(_ context.Context, userName, roomName string) error {
	return m.updateUser(userName, func(u *model.User) {
		if !slices.Contains(u.Rooms, roomName) {
			u.Rooms = append(slices.Clone(u.Rooms), roomName)
		}
	})
}

func (m *Memory) RemoveRoomFromUser(_ context.Context, userName, roomName string) error {
	return m.updateUser(userName, func(u *model.User) {
		u.Rooms = slices.DeleteFunc(slices.Clone(u.Rooms), func(r string) bool { return r == roomName })
	})
}

func (m *Memory) RemoveRoomFromAllUsers(_ context.Context, roomName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWrites != nil {
		return m.failWrites
	}

	for key, u := range m.users {
		u.Rooms = slices.DeleteFunc(slices.Clone(u.Rooms), func(r string) bool { return r == roomName })
		m.users[key] = u
	}
	return nil
}

func (m *Memory) GetRoom(_ context.Context, roomName string) (model.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rooms[strings.ToLower(roomName)]
	if !ok {
		return model.Room{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) AddRoom(_ context.Context, room model.Room) (model.Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWrites != nil {
		return model.Room{}, m.failWrites
	}

	room.RoomName = strings.ToLower(room.RoomName)
	if _, ok := m.rooms[room.RoomName]; ok {
		return model.Room{}, ErrConflict
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}
	m.rooms[room.RoomName] = room
	return room, nil
}

func (m *Memory) RemoveRoom(_ context.Context, roomName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWrites != nil {
		return m.failWrites
	}

	key := strings.ToLower(roomName)
	if _, ok := m.rooms[key]; !ok {
		return ErrNotFound
	}
	delete(m.rooms, key)
	return nil
}

func (m *Memory) ListRooms(_ context.Context) ([]model.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rooms := make([]model.Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		rooms = append(rooms, r)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].RoomName < rooms[j].RoomName })
	return rooms, nil
}

func (m *Memory) UpdateRoomAccess(_ context.Context, roomName string, accessLevel, visibility int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWrites != nil {
		return m.failWrites
	}

	key := strings.ToLower(roomName)
	r, ok := m.rooms[key]
	if !ok {
		return ErrNotFound
	}
	r.AccessLevel = accessLevel
	r.Visibility = visibility
	m.rooms[key] = r
	return nil
}

func (m *Memory) GetTeam(_ context.Context, teamName string) (model.Team, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.teams[strings.ToLower(teamName)]
	if !ok {
		return model.Team{}, ErrNotFound
	}
	t.Admins = slices.Clone(t.Admins)
	return t, nil
}

func (m *Memory) AddTeam(_ context.Context, team model.Team) (model.Team, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWrites != nil {
		return model.Team{}, m.failWrites
	}

	team.TeamName = strings.ToLower(team.TeamName)
	if _, ok := m.teams[team.TeamName]; ok {
		return model.Team{}, ErrConflict
	}
	team.Admins = slices.Clone(team.Admins)
	m.teams[team.TeamName] = team
	return team, nil
}

func (m *Memory) AddInvitation(_ context.Context, inv model.Invitation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWrites != nil {
		return m.failWrites
	}

	key := invitationKey{target: inv.TargetUserName, item: inv.ItemName, typ: inv.InvitationType}
	if _, ok := m.invitations[key]; ok {
		return ErrConflict
	}
	m.invitations[key] = inv
	return nil
}

func (m *Memory) GetInvitation(_ context.Context, target, itemName string, typ model.InvitationType) (model.Invitation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inv, ok := m.invitations[invitationKey{target: target, item: itemName, typ: typ}]
	if !ok {
		return model.Invitation{}, ErrNotFound
	}
	return inv, nil
}

func (m *Memory) ListInvitations(_ context.Context, target string) ([]model.Invitation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var invs []model.Invitation
	for key, inv := range m.invitations {
		if key.target == target {
			invs = append(invs, inv)
		}
	}
	sort.Slice(invs, func(i, j int) bool { return invs[i].Time.Before(invs[j].Time) })
	return invs, nil
}

func (m *Memory) RemoveInvitation(_ context.Context, target, itemName string, typ model.InvitationType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWrites != nil {
		return m.failWrites
	}

	key := invitationKey{target: target, item: itemName, typ: typ}
	if _, ok := m.invitations[key]; !ok {
		return ErrNotFound
	}
	delete(m.invitations, key)
	return nil
}

func (m *Memory) RemoveInvitationsByType(_ context.Context, target string, typ model.InvitationType) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWrites != nil {
		return m.failWrites
	}

	for key := range m.invitations {
		if key.target == target && key.typ == typ {
			delete(m.invitations, key)
		}
	}
	return nil
}

func (m *Memory) AppendMessage(_ context.Context, msg model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWrites != nil {
		return m.failWrites
	}

	m.seq++
	msg.Text = slices.Clone(msg.Text)
	m.messages = append(m.messages, storedMessage{seq: m.seq, msg: msg})
	return nil
}

func (m *Memory) QueryMessages(_ context.Context, q MessageQuery) ([]model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []storedMessage
	for _, sm := range m.messages {
		if !slices.Contains(q.Rooms, sm.msg.RoomName) {
			continue
		}
		if !q.After.IsZero() && !sm.msg.Time.After(q.After) {
			continue
		}
		if !q.Before.IsZero() && sm.msg.Time.After(q.Before) {
			continue
		}
		matched = append(matched, sm)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].msg.Time.Equal(matched[j].msg.Time) {
			return matched[i].seq < matched[j].seq
		}
		return matched[i].msg.Time.Before(matched[j].msg.Time)
	})

	if q.Limit > 0 && len(matched) > q.Limit {
		matched = matched[len(matched)-q.Limit:]
	}

	msgs := make([]model.Message, 0, len(matched))
	for _, sm := range matched {
		msg := sm.msg
		msg.Text = slices.Clone(msg.Text)
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (m *Memory) GetArchive(_ context.Context, archiveID string) (model.Archive, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.archives[strings.ToLower(archiveID)]
	if !ok {
		return model.Archive{}, ErrNotFound
	}
	return a, nil
}

func (m *Memory) ListArchives(_ context.Context, maxAccessLevel int) ([]model.Archive, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var archives []model.Archive
	for _, a := range m.archives {
		if a.AccessLevel <= maxAccessLevel {
			archives = append(archives, a)
		}
	}
	sort.Slice(archives, func(i, j int) bool { return archives[i].ArchiveID < archives[j].ArchiveID })
	return archives, nil
}

func (m *Memory) AddArchive(_ context.Context, archive model.Archive) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWrites != nil {
		return m.failWrites
	}

	archive.ArchiveID = strings.ToLower(archive.ArchiveID)
	if _, ok := m.archives[archive.ArchiveID]; ok {
		return ErrConflict
	}
	if archive.CreatedAt.IsZero() {
		archive.CreatedAt = time.Now().UTC()
	}
	m.archives[archive.ArchiveID] = archive
	return nil
}

var _ Gateway = (*Memory)(nil)
