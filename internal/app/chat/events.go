package chat

import (
	"context"
	"encoding/json"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/stanislavb/roleOOC/internal/app/model"
	"github.com/stanislavb/roleOOC/internal/pkg/errs"
)

// eventHandler runs one inbound event after the command gate.
type eventHandler struct {
	// command is the access policy entry the event is gated by.
	command string

	handle func(ctx context.Context, s *Session, user model.User, payload json.RawMessage) (any, error)
}

// on builds an eventHandler that decodes and validates the payload into T before fn runs.
func on[T any, PT interface {
	*T
	validator
}](command string, fn func(ctx context.Context, s *Session, user model.User, req PT) (any, error)) eventHandler {
	return eventHandler{
		command: command,
		handle: func(ctx context.Context, s *Session, user model.User, payload json.RawMessage) (any, error) {
			req := PT(new(T))
			if err := decodePayload(payload, req); err != nil {
				return nil, err
			}
			return fn(ctx, s, user, req)
		},
	}
}

func (m *Manager) registerHandlers() {
	m.handlers = map[string]eventHandler{
		"updateId":   on("updateId", m.onUpdateID),
		"login":      on("login", m.onLogin),
		"register":   on("register", m.onRegister),
		"logout":     on("logout", m.onLogout),
		"whoAmI":     on("whoAmI", m.onWhoAmI),
		"time":       on("time", m.onTime),
		"catchUpAck": on("catchUpAck", m.onCatchUpAck),

		"userExists":     on("userExists", m.onUserExists),
		"checkPassword":  on("checkPassword", m.onCheckPassword),
		"changePassword": on("changePassword", m.onChangePassword),

		"chatMsg":      on(kindCommands[model.KindChat], m.onChat),
		"whisperMsg":   on(kindCommands[model.KindWhisper], m.onWhisper),
		"broadcastMsg": on(kindCommands[model.KindBroadcast], m.onBroadcast),
		"importantMsg": on(kindCommands[model.KindImportant], m.onImportant),
		"morse":        on(kindCommands[model.KindMorse], m.onMorse),

		"createRoom":  on("createRoom", m.onCreateRoom),
		"follow":      on("follow", m.onFollow),
		"unfollow":    on("unfollow", m.onUnfollow),
		"switchRoom":  on("switchRoom", m.onSwitchRoom),
		"removeRoom":  on("removeRoom", m.onRemoveRoom),
		"listRooms":   on("listRooms", m.onListRooms),
		"listUsers":   on("listUsers", m.onListUsers),
		"myRooms":     on("myRooms", m.onMyRooms),
		"history":     on("history", m.onHistory),
		"historyNext": on("historyNext", m.onHistoryNext),

		"followPublic":     on("followPublic", m.onFollowPublic),
		"roomHackable":     on("roomHackable", m.onRoomHackable),
		"hackRoom":         on("hackRoom", m.onHackRoom),
		"matchPartialUser": on("matchPartialUser", m.onMatchPartialUser),

		"inviteToRoom":   on("inviteToRoom", m.onInviteToRoom),
		"inviteToTeam":   on("inviteToTeam", m.onInviteToTeam),
		"roomAnswer":     on("roomAnswer", m.onRoomAnswer),
		"teamAnswer":     on("teamAnswer", m.onTeamAnswer),
		"getInvitations": on("getInvitations", m.onGetInvitations),
		"createTeam":     on("createTeam", m.onCreateTeam),
		"getTeam":        on("getTeam", m.onGetTeam),

		"updateRoom": on("updateRoom", m.onUpdateRoom),
		"updateUser": on("updateUser", m.onUpdateUser),
		"ban":        on("ban", m.onBan),
		"unban":      on("unban", m.onUnban),
		"verifyUser": on("verifyUser", m.onVerifyUser),

		"verifyAllUsers":  on("verifyAllUsers", m.onVerifyAllUsers),
		"unverifiedUsers": on("unverifiedUsers", m.onUnverifiedUsers),
		"bannedUsers":     on("bannedUsers", m.onBannedUsers),

		"getArchive":      on("getArchive", m.onGetArchive),
		"getArchivesList": on("getArchivesList", m.onGetArchivesList),
	}
}

// Dispatch gates, decodes and runs one request and replies on the session.
func (m *Manager) Dispatch(ctx context.Context, s *Session, req Request) {
	h, ok := m.handlers[req.Event]
	if !ok {
		m.reject(s, req, req.Event, errs.NewError(errs.ErrUnknownCommand))
		return
	}

	user, err := m.policy.Authorize(ctx, s.ID(), h.command)
	if err != nil {
		m.reject(s, req, h.command, err)
		return
	}
	if isMessageCommand(h.command) && !m.messages.Allow(user.UserName) {
		m.reject(s, req, h.command, errs.NewError(errs.ErrRateLimitExceeded))
		return
	}

	data, err := h.handle(ctx, s, user, req.Payload)
	if err != nil {
		m.reject(s, req, h.command, err)
		return
	}

	if err := s.Send(Envelope{Event: req.Event, RequestID: req.RequestID, Data: data}); err != nil {
		m.logger.Warn().Err(err).Str("conn_id", s.ID()).Str("event", req.Event).Msg("Failed to queue response")
	}
}

func (m *Manager) reject(s *Session, req Request, command string, err error) {
	customErr := errs.From(err)

	event := m.logger.Debug()
	if customErr.Code >= errs.ErrUnknown {
		event = m.logger.Error()
	}
	event.Err(err).Str("conn_id", s.ID()).Str("event", req.Event).Int("code", customErr.Code).Msg("Request rejected")

	if command == "" {
		command = "unknown"
	}
	m.metrics.Rejections.WithLabelValues(command, strconv.Itoa(customErr.Code)).Inc()

	if sendErr := s.Send(errorEnvelope(req.Event, req.RequestID, customErr)); sendErr != nil {
		m.logger.Warn().Err(sendErr).Str("conn_id", s.ID()).Msg("Failed to queue error response")
	}
}

// SessionResult is returned when a connection is bound to a user.
type SessionResult struct {
	User    model.User    `json:"user"`
	Token   string        `json:"token,omitempty"`
	CatchUp HistoryResult `json:"catchUp"`
}

// bindSession binds s to userName, reconciles its live rooms with the durable room set
// and starts catch-up when the user was offline. All of it happens under the user lock.
func (m *Manager) bindSession(ctx context.Context, s *Session, userName string) (SessionResult, error) {
	var result SessionResult
	_, err := m.registry.Bind(ctx, s, userName, func(res BindResult) error {
		result.User = res.User
		boundAt := m.attachRooms(s, res.User)
		if res.WasOnline {
			return nil
		}

		var err error
		result.CatchUp, err = m.history.CatchUp(ctx, s, res.User, boundAt)
		return err
	})
	if err != nil {
		return SessionResult{}, err
	}
	return result, nil
}

// attachRooms makes the live rooms of s match the durable rooms of user. The rooms stay
// locked while s joins them, so every message of those rooms is either stored before
// the returned time or delivered to s live.
func (m *Manager) attachRooms(s *Session, user model.User) time.Time {
	var stale []string
	for _, room := range s.Rooms() {
		if !user.HasRoom(room) && !strings.HasSuffix(room, model.DeviceSuffix) {
			stale = append(stale, room)
		}
	}

	unlock := m.roomLocks.LockAll(append(slices.Clone(user.Rooms), stale...)...)
	defer unlock()

	for _, room := range stale {
		m.hub.Leave(s, room)
	}
	for _, room := range user.Rooms {
		m.hub.Join(s, room)
	}
	return m.now()
}

func (m *Manager) joinDevice(s *Session, deviceID string) {
	if prev := s.DeviceID(); prev != "" && prev != deviceID {
		m.hub.Leave(s, model.DeviceRoom(prev))
	}
	s.setDeviceID(deviceID)
	m.hub.Join(s, model.DeviceRoom(deviceID))
}

func (m *Manager) onUpdateID(ctx context.Context, s *Session, _ model.User, req *UpdateIDRequest) (any, error) {
	m.joinDevice(s, req.Device.DeviceID)

	if req.User.UserName == nil {
		m.registry.Unbind(ctx, s)
		m.hub.LeaveAll(s, true)
		m.hub.Join(s, model.PublicRoom)
		return map[string]bool{"anonymous": true}, nil
	}

	if !m.accounts.VerifyToken(req.Token, *req.User.UserName) {
		return nil, errs.NewError(errs.ErrAuthFailed)
	}
	return m.bindSession(ctx, s, *req.User.UserName)
}

func (m *Manager) onLogin(ctx context.Context, s *Session, _ model.User, req *CredentialsRequest) (any, error) {
	login, err := m.accounts.Login(ctx, *req.User.UserName, req.User.Password)
	if err != nil {
		return nil, err
	}
	if req.Device != nil && req.Device.DeviceID != "" {
		m.joinDevice(s, req.Device.DeviceID)
	}

	result, err := m.bindSession(ctx, s, login.User.UserName)
	if err != nil {
		return nil, err
	}
	result.Token = login.Token
	return result, nil
}

func (m *Manager) onRegister(ctx context.Context, _ *Session, _ model.User, req *CredentialsRequest) (any, error) {
	return m.accounts.Register(ctx, *req.User.UserName, req.User.Password)
}

func (m *Manager) onLogout(ctx context.Context, s *Session, user model.User, _ *emptyRequest) (any, error) {
	m.registry.Unbind(ctx, s)
	left := m.hub.LeaveAll(s, true)
	m.logger.Info().Str("conn_id", s.ID()).Str("user_name", user.UserName).Int("rooms_left", len(left)).Msg("User logged out")
	return map[string]string{"userName": user.UserName}, nil
}

// WhoAmI describes the caller.
type WhoAmI struct {
	User     model.User `json:"user"`
	DeviceID string     `json:"deviceId"`
	Rooms    []string   `json:"rooms"`
}

func (m *Manager) onWhoAmI(_ context.Context, s *Session, user model.User, _ *emptyRequest) (any, error) {
	return WhoAmI{User: user, DeviceID: s.DeviceID(), Rooms: s.Rooms()}, nil
}

func (m *Manager) onTime(context.Context, *Session, model.User, *emptyRequest) (any, error) {
	return map[string]time.Time{"time": m.now()}, nil
}

func (m *Manager) onCatchUpAck(ctx context.Context, s *Session, user model.User, req *CatchUpAckRequest) (any, error) {
	ok, err := m.history.AckCatchUp(ctx, s, user, req.Watermark)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"acknowledged": ok}, nil
}

func (m *Manager) onUserExists(ctx context.Context, _ *Session, _ model.User, req *UserNameRequest) (any, error) {
	exists, err := m.accounts.Exists(ctx, *req.User.UserName)
	if err != nil {
		return nil, err
	}
	return map[string]bool{"exists": exists}, nil
}

func (m *Manager) onCheckPassword(ctx context.Context, _ *Session, user model.User, req *PasswordRequest) (any, error) {
	if err := m.accounts.CheckPassword(ctx, user.UserName, req.OldPassword); err != nil {
		return nil, err
	}
	return map[string]bool{"valid": true}, nil
}

func (m *Manager) onChangePassword(ctx context.Context, _ *Session, user model.User, req *PasswordRequest) (any, error) {
	if err := m.accounts.ChangePassword(ctx, user.UserName, req.OldPassword, req.NewPassword); err != nil {
		return nil, err
	}
	return map[string]bool{"changed": true}, nil
}

func (m *Manager) onChat(ctx context.Context, s *Session, user model.User, req *ChatRequest) (any, error) {
	return m.router.Chat(ctx, s, user, req.Message)
}

func (m *Manager) onWhisper(ctx context.Context, s *Session, user model.User, req *WhisperRequest) (any, error) {
	return m.router.Whisper(ctx, s, user, req.Message)
}

func (m *Manager) onBroadcast(ctx context.Context, s *Session, user model.User, req *MessageRequest) (any, error) {
	return m.router.Broadcast(ctx, s, user, req.Message)
}

func (m *Manager) onImportant(ctx context.Context, s *Session, user model.User, req *ImportantRequest) (any, error) {
	return m.router.Important(ctx, s, user, *req)
}

func (m *Manager) onMorse(_ context.Context, s *Session, user model.User, req *MorseRequest) (any, error) {
	return m.router.Morse(s, user, req.MorseBody), nil
}

func (m *Manager) onCreateRoom(ctx context.Context, s *Session, user model.User, req *CreateRoomRequest) (any, error) {
	if req.Room.Owner != user.UserName {
		return nil, errs.NewError(errs.ErrInvalidInput)
	}
	return m.directory.CreateRoom(ctx, s, user, RoomSpec{
		RoomName:    req.Room.RoomName,
		Password:    req.Room.Password,
		AccessLevel: req.Room.AccessLevel,
		Visibility:  req.Room.Visibility,
	})
}

func (m *Manager) onFollow(ctx context.Context, s *Session, user model.User, req *RoomRequest) (any, error) {
	return m.directory.FollowRoom(ctx, s, user, req.Room.RoomName, req.Room.Password)
}

func (m *Manager) onUnfollow(ctx context.Context, s *Session, user model.User, req *RoomRequest) (any, error) {
	if err := m.directory.UnfollowRoom(ctx, s, user, req.Room.RoomName); err != nil {
		return nil, err
	}
	return map[string]string{"roomName": req.Room.RoomName}, nil
}

func (m *Manager) onSwitchRoom(_ context.Context, s *Session, user model.User, req *RoomRequest) (any, error) {
	room, err := m.directory.SwitchRoom(s, user, req.Room.RoomName)
	if err != nil {
		return nil, err
	}
	return map[string]string{"roomName": room}, nil
}

func (m *Manager) onRemoveRoom(ctx context.Context, _ *Session, user model.User, req *RoomRequest) (any, error) {
	if err := m.directory.RemoveRoom(ctx, user, req.Room.RoomName); err != nil {
		return nil, err
	}
	return map[string]string{"roomName": req.Room.RoomName}, nil
}

func (m *Manager) onListRooms(ctx context.Context, _ *Session, user model.User, _ *emptyRequest) (any, error) {
	return m.directory.ListRooms(ctx, user)
}

func (m *Manager) onListUsers(ctx context.Context, _ *Session, user model.User, _ *emptyRequest) (any, error) {
	return m.directory.ListUsers(ctx, user)
}

func (m *Manager) onMyRooms(ctx context.Context, s *Session, user model.User, _ *emptyRequest) (any, error) {
	return m.directory.MyRooms(ctx, s, user)
}

func (m *Manager) onHistory(ctx context.Context, s *Session, user model.User, req *HistoryRequest) (any, error) {
	rooms := user.Rooms
	if user.UserName == "" {
		rooms = []string{model.PublicRoom}
	}

	if req.Room != nil {
		name, err := ResolveRoomName(user, req.Room.RoomName)
		if err != nil {
			return nil, err
		}
		if name != model.PublicRoom && !user.HasRoom(name) {
			return nil, errs.NewError(errs.ErrNotFollowing, name)
		}
		rooms = []string{name}
	}

	var since time.Time
	if req.StartDate != nil {
		since = *req.StartDate
	}
	return m.history.Send(ctx, s, rooms, req.Lines, since)
}

func (m *Manager) onHistoryNext(_ context.Context, s *Session, _ model.User, req *HistoryNextRequest) (any, error) {
	remaining, err := m.history.Next(s, req.Event)
	if err != nil {
		return nil, err
	}
	return map[string]int{"remaining": remaining}, nil
}

func (m *Manager) onFollowPublic(_ context.Context, s *Session, _ model.User, _ *emptyRequest) (any, error) {
	m.directory.FollowPublic(s)
	return map[string]string{"roomName": model.PublicRoom}, nil
}

func (m *Manager) onRoomHackable(ctx context.Context, _ *Session, user model.User, req *RoomRequest) (any, error) {
	room, err := m.directory.RoomHackable(ctx, user, req.Room.RoomName)
	if err != nil {
		return nil, err
	}
	return map[string]string{"roomName": room.RoomName}, nil
}

func (m *Manager) onHackRoom(ctx context.Context, s *Session, user model.User, req *RoomRequest) (any, error) {
	return m.directory.HackRoom(ctx, s, user, req.Room.RoomName)
}

func (m *Manager) onMatchPartialUser(ctx context.Context, _ *Session, user model.User, req *PartialNameRequest) (any, error) {
	return m.directory.MatchPartialUser(ctx, user, req.PartialName)
}

func (m *Manager) onInviteToRoom(ctx context.Context, _ *Session, user model.User, req *InviteToRoomRequest) (any, error) {
	return m.invitations.InviteToRoom(ctx, user, *req.User.UserName, req.Room.RoomName)
}

func (m *Manager) onInviteToTeam(ctx context.Context, _ *Session, user model.User, req *InviteToTeamRequest) (any, error) {
	return m.invitations.InviteToTeam(ctx, user, *req.User.UserName)
}

func (m *Manager) answer(ctx context.Context, s *Session, user model.User, typ model.InvitationType, req *AnswerRequest) (any, error) {
	if req.Invitation.InvitationType != "" && req.Invitation.InvitationType != typ {
		return nil, errs.NewError(errs.ErrInvalidInput)
	}
	if err := m.invitations.Answer(ctx, s, user, typ, req.Invitation.ItemName, req.Accepted); err != nil {
		return nil, err
	}
	return map[string]any{"itemName": req.Invitation.ItemName, "accepted": req.Accepted}, nil
}

func (m *Manager) onRoomAnswer(ctx context.Context, s *Session, user model.User, req *AnswerRequest) (any, error) {
	return m.answer(ctx, s, user, model.InvitationRoom, req)
}

func (m *Manager) onTeamAnswer(ctx context.Context, s *Session, user model.User, req *AnswerRequest) (any, error) {
	return m.answer(ctx, s, user, model.InvitationTeam, req)
}

func (m *Manager) onGetInvitations(ctx context.Context, _ *Session, user model.User, _ *emptyRequest) (any, error) {
	return m.invitations.List(ctx, user)
}

func (m *Manager) onCreateTeam(ctx context.Context, s *Session, user model.User, req *TeamRequest) (any, error) {
	return m.directory.CreateTeam(ctx, s, user, req.Team.TeamName)
}

func (m *Manager) onGetTeam(ctx context.Context, _ *Session, _ model.User, req *TeamRequest) (any, error) {
	return m.directory.GetTeam(ctx, req.Team.TeamName)
}

func (m *Manager) onUpdateRoom(ctx context.Context, _ *Session, _ model.User, req *UpdateRequest) (any, error) {
	return m.directory.UpdateRoom(ctx, *req)
}

func (m *Manager) onUpdateUser(ctx context.Context, _ *Session, user model.User, req *UpdateRequest) (any, error) {
	return m.UpdateUser(ctx, user, *req)
}

func (m *Manager) onBan(ctx context.Context, _ *Session, user model.User, req *UserNameRequest) (any, error) {
	return nil, m.SetBanned(ctx, user, *req.User.UserName, true)
}

func (m *Manager) onUnban(ctx context.Context, _ *Session, user model.User, req *UserNameRequest) (any, error) {
	return nil, m.SetBanned(ctx, user, *req.User.UserName, false)
}

func (m *Manager) onVerifyUser(ctx context.Context, _ *Session, _ model.User, req *UserNameRequest) (any, error) {
	return nil, m.Verify(ctx, *req.User.UserName)
}

func (m *Manager) onVerifyAllUsers(ctx context.Context, _ *Session, _ model.User, _ *emptyRequest) (any, error) {
	names, err := m.VerifyAll(ctx)
	if err != nil {
		return nil, err
	}
	return map[string][]string{"verified": names}, nil
}

func (m *Manager) onUnverifiedUsers(ctx context.Context, _ *Session, _ model.User, _ *emptyRequest) (any, error) {
	names, err := m.UnverifiedUsers(ctx)
	if err != nil {
		return nil, err
	}
	return map[string][]string{"users": names}, nil
}

func (m *Manager) onBannedUsers(ctx context.Context, _ *Session, _ model.User, _ *emptyRequest) (any, error) {
	names, err := m.BannedUsers(ctx)
	if err != nil {
		return nil, err
	}
	return map[string][]string{"users": names}, nil
}

func (m *Manager) onGetArchive(ctx context.Context, _ *Session, user model.User, req *ArchiveRequest) (any, error) {
	if m.archives == nil {
		return nil, errs.NewError(errs.ErrNotFound, "Archive")
	}
	return m.archives.Get(ctx, req.ArchiveID, user.AccessLevel)
}

func (m *Manager) onGetArchivesList(ctx context.Context, _ *Session, user model.User, _ *emptyRequest) (any, error) {
	if m.archives == nil {
		return []model.Archive{}, nil
	}
	return m.archives.List(ctx, user.AccessLevel)
}
