package chat

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"github.com/stanislavb/roleOOC/internal/app/model"
	"github.com/stanislavb/roleOOC/internal/app/store"
	"github.com/stanislavb/roleOOC/internal/pkg/errs"
	"github.com/stanislavb/roleOOC/internal/pkg/keylock"
	"github.com/stanislavb/roleOOC/internal/pkg/logx"
	"github.com/stanislavb/roleOOC/internal/pkg/metrics"
	"github.com/stanislavb/roleOOC/internal/pkg/randx"
)

// broadcastExtra marks broadcast messages so clients frame them differently.
const broadcastExtra = "broadcastMsg"

// kindCommands maps each message kind to the command it is gated by.
var kindCommands = map[model.MessageKind]string{
	model.KindChat:      "chatMsg",
	model.KindWhisper:   "whisperMsg",
	model.KindBroadcast: "broadcastMsg",
	model.KindImportant: "importantMsg",
	model.KindMorse:     "morse",
}

// isMessageCommand reports whether command sends a message. Message commands share
// the per-user message rate.
func isMessageCommand(command string) bool {
	for _, c := range kindCommands {
		if c == command {
			return true
		}
	}
	return false
}

// Router validates, persists and fans out messages. Persisting and delivering a
// message to a room happen under that room's lock, so delivery order equals
// persistence order within a room.
type Router struct {
	messages  store.MessageStore
	users     store.UserStore
	hub       *Hub
	roomLocks *keylock.KeyLock
	metrics   *metrics.Metrics
	now       func() time.Time
	logger    zerolog.Logger
}

// NewRouter returns a Router.
func NewRouter(messages store.MessageStore, users store.UserStore, hub *Hub, roomLocks *keylock.KeyLock, m *metrics.Metrics) *Router {
	return &Router{
		messages:  messages,
		users:     users,
		hub:       hub,
		roomLocks: roomLocks,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logx.Component("router"),
	}
}

func (r *Router) newMessage(kind model.MessageKind, sender model.User, roomName string, text []string) model.Message {
	return model.Message{
		ID:       randx.MessageID(),
		RoomName: roomName,
		UserName: sender.UserName,
		Text:     slices.Clone(text),
		Kind:     kind,
		Time:     r.now(),
	}
}

func (r *Router) persist(ctx context.Context, msg model.Message) error {
	if err := r.messages.AppendMessage(ctx, msg); err != nil {
		r.logger.Error().Err(err).Str("room_name", msg.RoomName).Str("kind", string(msg.Kind)).Msg("Failed to persist message")
		return errs.Wrap(errs.ErrStorage, err)
	}
	return nil
}

func (r *Router) accepted(kind model.MessageKind) {
	r.metrics.Messages.WithLabelValues(string(kind)).Inc()
}

// Chat stores a message in a followed room and delivers it to the room. The sender
// gets its copy as a "message" event unless skipSelf is set.
func (r *Router) Chat(ctx context.Context, s *Session, sender model.User, body MessageBody) (model.Message, error) {
	roomName := body.RoomName
	if roomName == "" {
		roomName = s.ActiveRoom()
	}
	roomName, err := ResolveRoomName(sender, roomName)
	if err != nil {
		return model.Message{}, err
	}
	if !s.InRoom(roomName) {
		return model.Message{}, errs.NewError(errs.ErrNotFollowing, roomName)
	}

	unlock := r.roomLocks.Lock(roomName)
	defer unlock()

	msg := r.newMessage(model.KindChat, sender, roomName, body.Text)
	if err := r.persist(ctx, msg); err != nil {
		return model.Message{}, err
	}

	r.hub.SendRoom(roomName, Envelope{Event: EventChat, Data: msg}, s.ID())
	if !body.SkipSelf {
		_ = s.Send(Envelope{Event: EventMessage, Data: msg})
	}
	r.accepted(model.KindChat)
	return msg, nil
}

// Whisper stores a message in the recipient's whisper room and in the sender's own
// whisper room, delivers it to the recipient's room and echoes it to the sender.
// body.RoomName names the recipient user.
func (r *Router) Whisper(ctx context.Context, s *Session, sender model.User, body MessageBody) (model.Message, error) {
	if body.Whisper == nil || !*body.Whisper {
		return model.Message{}, errs.NewError(errs.ErrInvalidInput)
	}

	target, err := r.users.GetUser(ctx, body.RoomName)
	if errors.Is(err, store.ErrNotFound) {
		return model.Message{}, errs.NewError(errs.ErrNotFound, "User "+body.RoomName)
	}
	if err != nil {
		return model.Message{}, errs.Wrap(errs.ErrStorage, err)
	}

	targetRoom := target.WhisperRoom()
	senderRoom := sender.WhisperRoom()

	unlock := r.roomLocks.LockAll(targetRoom, senderRoom)
	defer unlock()

	msg := r.newMessage(model.KindWhisper, sender, targetRoom, body.Text)
	if err := r.persist(ctx, msg); err != nil {
		return model.Message{}, err
	}
	if senderRoom != targetRoom {
		own := msg
		own.RoomName = senderRoom
		if err := r.persist(ctx, own); err != nil {
			return model.Message{}, err
		}
	}

	r.hub.SendRoom(targetRoom, Envelope{Event: EventWhisper, Data: msg}, s.ID())
	_ = s.Send(Envelope{Event: EventMessage, Data: msg})
	r.accepted(model.KindWhisper)
	return msg, nil
}

// Broadcast stores a message in the broadcast room and delivers it to every session.
func (r *Router) Broadcast(ctx context.Context, s *Session, sender model.User, body MessageBody) (model.Message, error) {
	unlock := r.roomLocks.Lock(model.BroadcastRoom)
	defer unlock()

	msg := r.newMessage(model.KindBroadcast, sender, model.BroadcastRoom, body.Text)
	msg.Extra = broadcastExtra
	if err := r.persist(ctx, msg); err != nil {
		return model.Message{}, err
	}

	r.hub.SendAll(Envelope{Event: EventBroadcast, Data: msg}, "")
	r.accepted(model.KindBroadcast)
	return msg, nil
}

// Important stores an alert and delivers it to one device room, or to every session
// when no device is given. An attached morse code is sent through the morse channel.
func (r *Router) Important(ctx context.Context, s *Session, sender model.User, req ImportantRequest) (model.Message, error) {
	deviceRoom := ""
	if req.Device != nil {
		deviceRoom = model.DeviceRoom(req.Device.DeviceID)
		if !r.hub.HasMembers(deviceRoom) {
			return model.Message{}, errs.NewError(errs.ErrNotFound, "Device "+req.Device.DeviceID)
		}
	}

	msg, err := func() (model.Message, error) {
		unlock := r.roomLocks.Lock(model.ImportantRoom)
		defer unlock()

		msg := r.newMessage(model.KindImportant, sender, model.ImportantRoom, req.Message.Text)
		if err := r.persist(ctx, msg); err != nil {
			return model.Message{}, err
		}

		env := Envelope{Event: EventImportant, Data: msg}
		if deviceRoom != "" {
			r.hub.SendRoom(deviceRoom, env, "")
		} else {
			r.hub.SendAll(env, "")
		}
		return msg, nil
	}()
	if err != nil {
		return model.Message{}, err
	}
	r.accepted(model.KindImportant)

	if req.Morse != nil {
		r.Morse(s, sender, *req.Morse)
	}
	return msg, nil
}

// Morse is not persisted. The code is echoed to the sender and, unless local is set,
// sent to every other session.
func (r *Router) Morse(s *Session, sender model.User, body MorseBody) model.Message {
	msg := r.newMessage(model.KindMorse, sender, model.MorseRoom, []string{body.MorseCode})
	env := Envelope{Event: EventMorse, Data: msg}

	_ = s.Send(env)
	if !body.Local {
		r.hub.SendAll(env, s.ID())
	}
	r.accepted(model.KindMorse)
	return msg
}
