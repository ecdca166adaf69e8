package terminal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/stanislavb/roleOOC/internal/app/chat"
	"github.com/stanislavb/roleOOC/internal/app/command"
	"github.com/stanislavb/roleOOC/internal/app/model"
	"github.com/stanislavb/roleOOC/internal/pkg/errs"
	"github.com/stanislavb/roleOOC/internal/pkg/logx"
	"github.com/stanislavb/roleOOC/internal/pkg/randx"
)

// SecretReader reads one line without echoing it.
type SecretReader func() (string, error)

// App is the terminal client: a session, the command engine and the printer.
type App struct {
	url      string
	deviceID string

	printer *Printer
	engine  *command.Engine
	session *Session

	mu       sync.Mutex
	userName string
	token    string
	room     string

	logger zerolog.Logger
}

// NewApp returns an App for the server at url. An empty deviceID is replaced by a random one.
func NewApp(url, deviceID string, out io.Writer) (*App, error) {
	if deviceID == "" {
		id, err := randx.DeviceID()
		if err != nil {
			return nil, err
		}
		deviceID = id
	}

	a := &App{
		url:      url,
		deviceID: deviceID,
		printer:  NewPrinter(out),
		engine:   command.NewEngine(),
		room:     model.PublicRoom,
		logger:   logx.Component("terminal"),
	}
	if err := a.registerCommands(); err != nil {
		return nil, err
	}
	return a, nil
}

// DeviceID returns the id the terminal registers under.
func (a *App) DeviceID() string {
	return a.deviceID
}

// UserName returns the logged in user, or "" when anonymous.
func (a *App) UserName() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.userName
}

// Room returns the room plain messages are sent to.
func (a *App) Room() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.room
}

func (a *App) setIdentity(userName, token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.userName = userName
	a.token = token
	if userName == "" {
		a.room = model.PublicRoom
	}
}

func (a *App) setRoom(room string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.room = room
}

// Connect dials the server and announces the device. A remembered login is restored
// with its token.
func (a *App) Connect(ctx context.Context) error {
	s, err := Dial(ctx, a.url, a.handlePush)
	if err != nil {
		return err
	}
	a.session = s

	a.mu.Lock()
	userName, token := a.userName, a.token
	a.mu.Unlock()

	req := chat.UpdateIDRequest{Device: chat.DeviceRef{DeviceID: a.deviceID}}
	if userName != "" {
		req.User.UserName = &userName
		req.Token = token
	}

	if _, err := s.Request(ctx, "updateId", req); err != nil {
		var remote *RemoteError
		if userName == "" || !errors.As(err, &remote) {
			_ = s.Close()
			return fmt.Errorf("failed to register device: %w", err)
		}

		// The stored login is no longer valid.
		a.setIdentity("", "")
		if _, err := s.Request(ctx, "updateId", chat.UpdateIDRequest{Device: chat.DeviceRef{DeviceID: a.deviceID}}); err != nil {
			_ = s.Close()
			return fmt.Errorf("failed to register device: %w", err)
		}
	}

	a.logger.Info().Str("url", a.url).Str("device_id", a.deviceID).Msg("Connected")
	return nil
}

// Close closes the session.
func (a *App) Close() error {
	if a.session == nil {
		return nil
	}
	return a.session.Close()
}

func (a *App) request(ctx context.Context, event string, payload any, out any) error {
	if a.session == nil {
		return ErrConnectionLost
	}
	data, err := a.session.Request(ctx, event, payload)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s reply: %w", event, err)
	}
	return nil
}

func (a *App) handlePush(s *Session, event string, data json.RawMessage) {
	switch event {
	case chat.EventSessionSuperseded, chat.EventBan, chat.EventLogout:
		a.setIdentity("", "")
	case chat.EventRoomRemoved:
		var msg model.Message
		if json.Unmarshal(data, &msg) == nil && msg.RoomName == a.Room() {
			a.setRoom(model.PublicRoom)
		}
	case chat.EventHistory, chat.EventCatchUp:
		var chunk chat.HistoryChunk
		if json.Unmarshal(data, &chunk) != nil {
			break
		}
		switch {
		case !chunk.Final:
			if err := s.Emit("historyNext", chat.HistoryNextRequest{Event: event}); err != nil {
				a.logger.Warn().Err(err).Str("event", event).Msg("Failed to request the next chunk")
			}
		case event == chat.EventCatchUp && chunk.Watermark != nil:
			if err := s.Emit("catchUpAck", chat.CatchUpAckRequest{Watermark: *chunk.Watermark}); err != nil {
				a.logger.Warn().Err(err).Msg("Failed to acknowledge catch-up")
			}
		}
	}

	if lines, ok := formatPush(event, data); ok {
		a.printer.Lines(lines...)
	}
}

// Handle runs one input line and prints the outcome.
func (a *App) Handle(ctx context.Context, line string) {
	resp, err := a.engine.Input(ctx, line)
	a.printer.Lines(resp.Output...)
	if err != nil {
		a.printer.Lines(describeError(err))
	}
}

func describeError(err error) string {
	var remote *RemoteError
	switch {
	case errors.As(err, &remote):
		return remote.Message
	case errors.Is(err, command.ErrUnknownCommand):
		return fmt.Sprintf("%s. Type help for a list of commands.", capitalize(err.Error()))
	case errors.Is(err, ErrConnectionLost):
		return "Connection to the server lost."
	}
	return capitalize(err.Error())
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// remoteCode returns the error code of a server rejection, or 0.
func remoteCode(err error) int {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.Code
	}
	return 0
}

func (a *App) prompt() string {
	if name, _, ok := a.engine.Active(); ok {
		return name + "> "
	}
	user := a.UserName()
	if user == "" {
		user = "anonymous"
	}
	return fmt.Sprintf("%s@%s> ", user, a.Room())
}

// Run reads lines from in until it is exhausted, ctx is done or the connection is lost.
// Input of secret steps is read with readSecret when it is set.
func (a *App) Run(ctx context.Context, in io.Reader, readSecret SecretReader) error {
	if a.session == nil {
		return ErrConnectionLost
	}

	go func() {
		select {
		case <-a.session.Done():
			if a.engine.Cancel() {
				a.printer.Lines("Cancelled.")
			}
			a.printer.Lines("Connection to the server lost.")
		case <-ctx.Done():
		}
	}()

	reader := bufio.NewReader(in)
	for {
		a.printer.Prompt(a.prompt())

		var (
			line string
			err  error
		)
		if readSecret != nil && a.engine.SecretInput() {
			line, err = readSecret()
			a.printer.Lines("")
		} else {
			line, err = reader.ReadString('\n')
		}
		if err != nil && (!errors.Is(err, io.EOF) || line == "") {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.session.Done():
			return ErrConnectionLost
		default:
		}

		a.Handle(ctx, line)
	}
}

func isAuthFailure(err error) bool {
	return remoteCode(err) == errs.ErrAuthFailed
}
