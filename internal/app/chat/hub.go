package chat

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stanislavb/roleOOC/internal/app/model"
)

// Conn is a live transport connection as seen by the core.
type Conn interface {
	// ID returns the connection handle.
	ID() string

	// Send queues env for delivery. It must not block.
	Send(env Envelope) error

	// Close asks the transport to terminate the connection with a close code and reason.
	Close(code int, reason string)
}

// Session is the in-memory state of one connection.
type Session struct {
	conn Conn

	// ctx is cancelled when the connection goes away.
	ctx    context.Context
	cancel context.CancelFunc

	mu sync.Mutex

	// userName is empty while the connection is anonymous.
	userName string

	// deviceID is the terminal id announced with updateId.
	deviceID string

	// rooms is the live room set.
	rooms map[string]struct{}

	// activeRoom is the room chat messages without an explicit room go to.
	activeRoom string

	// catchUpWatermark is set while a catch-up delivery awaits acknowledgement.
	catchUpWatermark time.Time

	// deliveries holds the chunks of history deliveries not pulled yet, by event.
	deliveries map[string]*delivery
}

// delivery is a chunked history or catch-up delivery in progress.
type delivery struct {
	chunks    [][]model.Message
	next      int
	watermark *time.Time
}

func newSession(parent context.Context, conn Conn) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		conn:       conn,
		ctx:        ctx,
		cancel:     cancel,
		rooms:      make(map[string]struct{}),
		activeRoom: model.PublicRoom,
		deliveries: make(map[string]*delivery),
	}
}

// ID returns the connection handle of the session.
func (s *Session) ID() string { return s.conn.ID() }

// Context is cancelled when the connection ends.
func (s *Session) Context() context.Context { return s.ctx }

// Send forwards env to the transport.
func (s *Session) Send(env Envelope) error { return s.conn.Send(env) }

// UserName returns the bound user or "" for anonymous sessions.
func (s *Session) UserName() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.userName
}

func (s *Session) setUserName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.userName = name
	if name == "" {
		s.catchUpWatermark = time.Time{}
		delete(s.deliveries, EventCatchUp)
	}
}

// DeviceID returns the announced device id.
func (s *Session) DeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.deviceID
}

func (s *Session) setDeviceID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deviceID = id
}

// InRoom reports whether the session is a live member of room.
func (s *Session) InRoom(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.rooms[room]
	return ok
}

// Rooms returns the live room set, sorted.
func (s *Session) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms := make([]string, 0, len(s.rooms))
	for r := range s.rooms {
		rooms = append(rooms, r)
	}
	sort.Strings(rooms)
	return rooms
}

// ActiveRoom returns the room selected with switchRoom.
func (s *Session) ActiveRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.activeRoom
}

func (s *Session) setActiveRoom(room string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activeRoom = room
}

func (s *Session) setCatchUpPending(watermark time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.catchUpWatermark = watermark
}

// CatchUpPending reports whether a catch-up delivery has not been acknowledged yet.
func (s *Session) CatchUpPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return !s.catchUpWatermark.IsZero()
}

// ackCatchUp clears the pending catch-up if watermark matches it and every chunk was pulled.
func (s *Session) ackCatchUp(watermark time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.catchUpWatermark.IsZero() || !s.catchUpWatermark.Equal(watermark) {
		return false
	}
	if _, inFlight := s.deliveries[EventCatchUp]; inFlight {
		return false
	}
	s.catchUpWatermark = time.Time{}
	return true
}

// startDelivery replaces the delivery under event. Nothing is kept for an empty delivery.
func (s *Session) startDelivery(event string, chunks [][]model.Message, watermark *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(chunks) == 0 {
		delete(s.deliveries, event)
		return
	}
	s.deliveries[event] = &delivery{chunks: chunks, watermark: watermark}
}

// nextChunk takes the following chunk of the delivery under event and reports how many
// chunks remain after it.
func (s *Session) nextChunk(event string) (HistoryChunk, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deliveries[event]
	if !ok {
		return HistoryChunk{}, 0, false
	}

	batch := HistoryChunk{
		Messages: d.chunks[d.next],
		Index:    d.next,
		Total:    len(d.chunks),
		Final:    d.next == len(d.chunks)-1,
	}
	d.next++
	if batch.Final {
		batch.Watermark = d.watermark
		delete(s.deliveries, event)
	}
	return batch, len(d.chunks) - d.next, true
}

func (s *Session) stopDelivery(event string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.deliveries, event)
}

// liveRoom is the set of sessions currently joined to one room.
type liveRoom struct {
	mu      sync.RWMutex
	members map[string]*Session
}

// Hub tracks live sessions and their room memberships and fans envelopes out to them.
// Each room has its own lock; the hub lock only guards the two maps.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	rooms    map[string]*liveRoom
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{
		sessions: make(map[string]*Session),
		rooms:    make(map[string]*liveRoom),
	}
}

// Attach registers a new connection.
func (h *Hub) Attach(parent context.Context, conn Conn) *Session {
	s := newSession(parent, conn)

	h.mu.Lock()
	h.sessions[conn.ID()] = s
	h.mu.Unlock()

	return s
}

// Detach removes the session from the hub and from every room and cancels its context.
func (h *Hub) Detach(connID string) *Session {
	h.mu.Lock()
	s, ok := h.sessions[connID]
	delete(h.sessions, connID)
	h.mu.Unlock()

	if !ok {
		return nil
	}
	h.LeaveAll(s, false)
	s.cancel()
	return s
}

// Session returns the live session of connID.
func (h *Hub) Session(connID string) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.sessions[connID]
	return s, ok
}

// Sessions returns a snapshot of all live sessions.
func (h *Hub) Sessions() []*Session {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

func (h *Hub) room(name string) *liveRoom {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.rooms[name]
}

// dropIfEmpty removes the room entry once its last member left.
func (h *Hub) dropIfEmpty(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[name]
	if !ok {
		return
	}
	r.mu.RLock()
	empty := len(r.members) == 0
	r.mu.RUnlock()
	if empty {
		delete(h.rooms, name)
	}
}

// Join adds s to room. It reports whether s was not a member before.
func (h *Hub) Join(s *Session, room string) bool {
	var already bool
	for {
		// The read lock keeps dropIfEmpty from unlinking the room while the member is added.
		h.mu.RLock()
		r, ok := h.rooms[room]
		if ok {
			r.mu.Lock()
			_, already = r.members[s.ID()]
			r.members[s.ID()] = s
			r.mu.Unlock()
		}
		h.mu.RUnlock()
		if ok {
			break
		}

		h.mu.Lock()
		if _, ok := h.rooms[room]; !ok {
			h.rooms[room] = &liveRoom{members: make(map[string]*Session)}
		}
		h.mu.Unlock()
	}

	s.mu.Lock()
	s.rooms[room] = struct{}{}
	s.mu.Unlock()

	return !already
}

// Leave removes s from room. It reports whether s was a member.
func (h *Hub) Leave(s *Session, room string) bool {
	s.mu.Lock()
	delete(s.rooms, room)
	if s.activeRoom == room {
		s.activeRoom = model.PublicRoom
	}
	s.mu.Unlock()

	r := h.room(room)
	if r == nil {
		return false
	}

	r.mu.Lock()
	_, was := r.members[s.ID()]
	delete(r.members, s.ID())
	r.mu.Unlock()

	h.dropIfEmpty(room)
	return was
}

// LeaveAll removes s from all its rooms. Device rooms are kept if keepDevice is set.
// It returns the rooms left.
func (h *Hub) LeaveAll(s *Session, keepDevice bool) []string {
	var left []string
	for _, room := range s.Rooms() {
		if keepDevice && strings.HasSuffix(room, model.DeviceSuffix) {
			continue
		}
		h.Leave(s, room)
		left = append(left, room)
	}
	return left
}

// Members returns a snapshot of the sessions joined to room.
func (h *Hub) Members(room string) []*Session {
	r := h.room(room)
	if r == nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	members := make([]*Session, 0, len(r.members))
	for _, s := range r.members {
		members = append(members, s)
	}
	return members
}

// HasMembers reports whether anyone is joined to room.
func (h *Hub) HasMembers(room string) bool {
	r := h.room(room)
	if r == nil {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.members) > 0
}

// SendRoom delivers env to every member of room except the connection skip.
// It returns the number of sessions the envelope was queued for.
func (h *Hub) SendRoom(room string, env Envelope, skip string) int {
	sent := 0
	for _, s := range h.Members(room) {
		if s.ID() == skip {
			continue
		}
		if err := s.Send(env); err == nil {
			sent++
		}
	}
	return sent
}

// SendAll delivers env to every live session except the connection skip.
func (h *Hub) SendAll(env Envelope, skip string) int {
	sent := 0
	for _, s := range h.Sessions() {
		if s.ID() == skip {
			continue
		}
		if err := s.Send(env); err == nil {
			sent++
		}
	}
	return sent
}
