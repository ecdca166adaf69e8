/*
Package chat contains the core of the chat server: live sessions, the command gate,
room membership, message routing, history delivery and invitations.

This file defines the Manager struct, which wires the components together and is the
single entry point the transport layer talks to.
*/
package chat

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/stanislavb/roleOOC/internal/app/archive"
	"github.com/stanislavb/roleOOC/internal/app/model"
	"github.com/stanislavb/roleOOC/internal/app/store"
	"github.com/stanislavb/roleOOC/internal/configs"
	"github.com/stanislavb/roleOOC/internal/pkg/errs"
	"github.com/stanislavb/roleOOC/internal/pkg/keylock"
	"github.com/stanislavb/roleOOC/internal/pkg/limiter"
	"github.com/stanislavb/roleOOC/internal/pkg/logx"
	"github.com/stanislavb/roleOOC/internal/pkg/metrics"
)

const (
	// unbindTimeout bounds the store writes made when a connection goes away.
	unbindTimeout = 5 * time.Second

	// limiterSweepInterval is how often idle message rate buckets are dropped.
	limiterSweepInterval = 3 * time.Minute
)

// Manager coordinates every component of the chat core.
type Manager struct {
	// Config holds the application's read-only configuration settings.
	config *configs.AppConfig

	store    store.Gateway
	archives *archive.Service
	metrics  *metrics.Metrics

	hub         *Hub
	policy      *Policy
	registry    *Registry
	directory   *Directory
	router      *Router
	history     *History
	invitations *Invitations
	accounts    *Accounts

	handlers  map[string]eventHandler
	roomLocks *keylock.KeyLock

	// messages throttles the message commands per user.
	messages *limiter.Limiter

	// ctx is the parent of every session context. It is cancelled by Shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	now func() time.Time

	// structured logger with Manager context.
	logger zerolog.Logger
}

// NewManager constructs the chat core. archives may be nil when no archive storage is configured.
func NewManager(cfg *configs.AppConfig, gw store.Gateway, archives *archive.Service, m *metrics.Metrics) (*Manager, error) {
	commands, err := LoadCommands(cfg.CommandsFile)
	if err != nil {
		return nil, err
	}

	hub := NewHub()
	roomLocks := keylock.New()

	var policy *Policy
	registry := NewRegistry(gw, hub, func(u model.User) bool { return policy.Eligible(u) }, m)
	policy = NewPolicy(commands, cfg.UserVerify, gw, registry)

	directory := NewDirectory(gw, hub, policy, roomLocks, cfg.AdminAccessLevel)

	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		config:      cfg,
		store:       gw,
		archives:    archives,
		metrics:     m,
		hub:         hub,
		policy:      policy,
		registry:    registry,
		directory:   directory,
		router:      NewRouter(gw, gw, hub, roomLocks, m),
		history:     NewHistory(gw, gw, cfg.HistoryLines, cfg.ChunkLength, m),
		invitations: NewInvitations(gw, directory, registry, hub),
		accounts:    NewAccounts(gw, policy, cfg.UserVerify, cfg.JWTSecret),
		roomLocks:   roomLocks,
		messages:    limiter.New(rate.Limit(cfg.MessageRate), cfg.MessageBurst),
		ctx:         ctx,
		cancel:      cancel,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logx.Component("manager"),
	}
	mgr.registerHandlers()

	return mgr, nil
}

// Start prepares the store: the system rooms are created and users left online by a
// previous process are marked offline.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.directory.EnsureSystemRooms(ctx); err != nil {
		return err
	}

	users, err := m.store.ListUsers(ctx)
	if err != nil {
		return errs.Wrap(errs.ErrStorage, err)
	}

	stale := 0
	for _, u := range users {
		if !u.Online && u.SocketID == "" {
			continue
		}
		if err := m.store.UpdateUserSocket(ctx, u.UserName, "", false); err != nil {
			return errs.Wrap(errs.ErrStorage, err)
		}
		stale++
	}

	if m.messages.Enabled() {
		go m.messages.Run(m.ctx, limiterSweepInterval)
	}

	m.logger.Info().Int("users", len(users)).Int("stale_sessions", stale).Msg("Chat core started")
	return nil
}

// Context is cancelled when the chat core shuts down.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Accounts exposes account handling to the REST layer.
func (m *Manager) Accounts() *Accounts {
	return m.accounts
}

// Authorize checks that userName may run command under the access policy. The HTTP
// layer uses it for requests identified by token.
func (m *Manager) Authorize(ctx context.Context, userName, command string) (model.User, error) {
	return m.policy.AuthorizeUser(ctx, userName, command)
}

// Connect registers a new transport connection and returns its session.
func (m *Manager) Connect(conn Conn) *Session {
	s := m.hub.Attach(m.ctx, conn)
	m.metrics.Connections.Inc()

	m.logger.Debug().Str("conn_id", conn.ID()).Msg("Connection attached")
	return s
}

// Handle decodes one inbound frame and dispatches it. Frames are handled one at a time
// per connection by the transport.
func (m *Manager) Handle(s *Session, frame []byte) {
	var req Request
	if err := json.Unmarshal(frame, &req); err != nil || req.Event == "" {
		m.reject(s, req, "", errs.Wrap(errs.ErrInvalidInput, err))
		return
	}
	m.Dispatch(s.Context(), s, req)
}

// Disconnect releases everything held by connID.
func (m *Manager) Disconnect(connID string) {
	s, ok := m.hub.Session(connID)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), unbindTimeout)
	defer cancel()

	m.registry.Unbind(ctx, s)
	m.hub.Detach(connID)
	m.metrics.Connections.Dec()

	m.logger.Debug().Str("conn_id", connID).Msg("Connection detached")
}

// Shutdown unbinds every connection and asks the transport to close them.
func (m *Manager) Shutdown() {
	m.logger.Info().Msg("Shutting down chat core...")

	sessions := m.hub.Sessions()
	for _, s := range sessions {
		m.Disconnect(s.ID())
		s.conn.Close(websocket.CloseGoingAway, "server shutting down")
	}
	m.cancel()

	m.logger.Info().Int("connections", len(sessions)).Msg("Chat core shutdown complete.")
}
