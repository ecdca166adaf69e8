package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stanislavb/roleOOC/internal/app/model"
	"github.com/stanislavb/roleOOC/internal/app/store"
	"github.com/stanislavb/roleOOC/internal/pkg/errs"
	"github.com/stanislavb/roleOOC/internal/pkg/keylock"
	"github.com/stanislavb/roleOOC/internal/pkg/logx"
	"github.com/stanislavb/roleOOC/internal/pkg/metrics"
)

// BindResult describes a completed bind.
type BindResult struct {
	// User is the bound user as read before the bind.
	User model.User

	// WasOnline is set when another connection held the user, so nothing was missed.
	WasOnline bool
}

// Registry maps live connections to users and keeps at most one connection per user.
type Registry struct {
	// mu guards byConn and byUser. Binds for one user are serialized by userLocks.
	mu     sync.RWMutex
	byConn map[string]string
	byUser map[string]string

	userLocks *keylock.KeyLock
	users     store.UserStore
	hub       *Hub
	eligible  func(model.User) bool
	now       func() time.Time
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewRegistry returns an empty Registry. eligible decides whether a user may be bound.
func NewRegistry(users store.UserStore, hub *Hub, eligible func(model.User) bool, m *metrics.Metrics) *Registry {
	return &Registry{
		byConn:    make(map[string]string),
		byUser:    make(map[string]string),
		userLocks: keylock.New(),
		users:     users,
		hub:       hub,
		eligible:  eligible,
		now:       func() time.Time { return time.Now().UTC() },
		metrics:   m,
		logger:    logx.Component("registry"),
	}
}

// Resolve returns the user bound to connID.
func (r *Registry) Resolve(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name, ok := r.byConn[connID]
	return name, ok
}

// ActiveConnectionOf returns the connection bound to userName.
func (r *Registry) ActiveConnectionOf(userName string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byUser[userName]
	return id, ok
}

// Bind binds s to userName. A connection already bound to the user is made to leave
// all non-device rooms, told it was superseded and unbound before the new bind completes.
// attach, if set, runs once s is bound and before the user lock is released, so a
// concurrent bind of the same user cannot supersede s while attach is joining rooms.
func (r *Registry) Bind(ctx context.Context, s *Session, userName string, attach func(BindResult) error) (BindResult, error) {
	// A connection switching identity releases the previous one first.
	if prev, ok := r.Resolve(s.ID()); ok && prev != userName {
		r.Unbind(ctx, s)
	}

	unlock := r.userLocks.Lock(userName)
	defer unlock()

	user, err := r.users.GetUser(ctx, userName)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.logger.Error().Err(err).Str("user_name", userName).Msg("Failed to load user for bind")
		}
		return BindResult{}, errs.Wrap(errs.ErrAuthFailed, err)
	}
	if !r.eligible(user) {
		return BindResult{}, errs.NewError(errs.ErrAuthFailed)
	}

	result := BindResult{User: user}

	if prevID, ok := r.ActiveConnectionOf(userName); ok && prevID != s.ID() {
		result.WasOnline = true
		if prev, ok := r.hub.Session(prevID); ok {
			// An unacknowledged catch-up on the old connection is redone on the new one.
			result.WasOnline = !prev.CatchUpPending()
			r.supersede(prev, userName)
		} else {
			r.forget(prevID, userName)
		}
	} else if ok {
		result.WasOnline = true
	}

	if err := r.users.UpdateUserSocket(ctx, userName, s.ID(), true); err != nil {
		return BindResult{}, errs.Wrap(errs.ErrStorage, err)
	}

	r.mu.Lock()
	r.byConn[s.ID()] = userName
	r.byUser[userName] = s.ID()
	r.mu.Unlock()

	s.setUserName(userName)
	r.metrics.Sessions.Inc()

	r.logger.Info().Str("conn_id", s.ID()).Str("user_name", userName).Bool("was_online", result.WasOnline).Msg("Connection bound")

	if attach != nil {
		if err := attach(result); err != nil {
			return result, err
		}
	}
	return result, nil
}

// supersede evicts prev from its rooms and unbinds it. The caller holds the user lock.
func (r *Registry) supersede(prev *Session, userName string) {
	r.hub.LeaveAll(prev, true)

	superseded := errs.NewError(errs.ErrSessionSuperseded)
	if err := prev.Send(Envelope{Event: EventSessionSuperseded, Data: map[string]string{"message": superseded.Message}}); err != nil {
		r.logger.Warn().Err(err).Str("conn_id", prev.ID()).Msg("Failed to notify superseded connection")
	}

	r.forget(prev.ID(), userName)
	prev.setUserName("")

	r.logger.Info().Str("conn_id", prev.ID()).Str("user_name", userName).Msg("Connection superseded")
}

func (r *Registry) forget(connID, userName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byConn[connID] == userName {
		delete(r.byConn, connID)
		r.metrics.Sessions.Dec()
	}
	if r.byUser[userName] == connID {
		delete(r.byUser, userName)
	}
}

// Unbind releases the user bound to s, if any, and marks it offline. lastOnline is
// advanced unless a catch-up delivery is still unacknowledged.
func (r *Registry) Unbind(ctx context.Context, s *Session) {
	userName, ok := r.Resolve(s.ID())
	if !ok {
		return
	}

	unlock := r.userLocks.Lock(userName)
	defer unlock()

	// Re-check under the user lock, a concurrent bind may have superseded s.
	if current, ok := r.Resolve(s.ID()); !ok || current != userName {
		return
	}

	pending := s.CatchUpPending()
	r.forget(s.ID(), userName)
	s.setUserName("")

	if err := r.users.UpdateUserSocket(ctx, userName, "", false); err != nil {
		r.logger.Error().Err(err).Str("user_name", userName).Msg("Failed to mark user offline")
	}
	if !pending {
		if err := r.users.SetUserLastOnline(ctx, userName, r.now()); err != nil {
			r.logger.Error().Err(err).Str("user_name", userName).Msg("Failed to update last online")
		}
	}

	r.logger.Info().Str("conn_id", s.ID()).Str("user_name", userName).Bool("catch_up_pending", pending).Msg("Connection unbound")
}

// Count returns the number of bound connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byUser)
}
