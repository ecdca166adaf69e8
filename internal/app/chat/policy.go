package chat

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/stanislavb/roleOOC/internal/app/model"
	"github.com/stanislavb/roleOOC/internal/app/store"
	"github.com/stanislavb/roleOOC/internal/pkg/errs"
)

//go:embed commands.yaml
var defaultCommands []byte

type commandTable struct {
	Commands map[string]int `yaml:"commands"`
}

// LoadCommands parses the access table. An empty path selects the built-in table.
func LoadCommands(path string) (map[string]int, error) {
	raw := defaultCommands
	if path != "" {
		var err error
		if raw, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("failed to read commands file: %w", err)
		}
	}

	var table commandTable
	if err := yaml.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("failed to parse commands file: %w", err)
	}
	if len(table.Commands) == 0 {
		return nil, errors.New("commands file defines no commands")
	}
	for name, level := range table.Commands {
		if level < 0 {
			return nil, fmt.Errorf("command %s has negative access level %d", name, level)
		}
	}
	return table.Commands, nil
}

// Policy is the command gate. Every event passes through Authorize before it reaches
// a component.
type Policy struct {
	commands   map[string]int
	userVerify bool
	users      store.UserStore
	registry   *Registry
}

// NewPolicy returns a Policy over the given access table.
func NewPolicy(commands map[string]int, userVerify bool, users store.UserStore, registry *Registry) *Policy {
	return &Policy{
		commands:   commands,
		userVerify: userVerify,
		users:      users,
		registry:   registry,
	}
}

// Eligible reports whether user may hold a session: not banned and, when verification
// is enforced, verified. The same predicate filters user listings.
func (p *Policy) Eligible(user model.User) bool {
	return !user.Banned && (user.Verified || !p.userVerify)
}

// Level returns the access level required by command.
func (p *Policy) Level(command string) (int, bool) {
	level, ok := p.commands[command]
	return level, ok
}

// Authorize resolves the user bound to connID and checks it may run command.
// The user record is read on every call so access level changes apply immediately.
// Anonymous connections get a zero User for level 0 commands.
func (p *Policy) Authorize(ctx context.Context, connID, command string) (model.User, error) {
	userName, bound := p.registry.Resolve(connID)
	if !bound {
		if level, known := p.commands[command]; known && level == 0 {
			return model.User{}, nil
		}
		return model.User{}, errs.NewError(errs.ErrUnauthenticated)
	}
	return p.AuthorizeUser(ctx, userName, command)
}

// AuthorizeUser checks that userName may run command. It reads the user record like
// Authorize and serves callers that identify users without a connection, e.g. by token.
func (p *Policy) AuthorizeUser(ctx context.Context, userName, command string) (model.User, error) {
	user, err := p.users.GetUser(ctx, userName)
	if errors.Is(err, store.ErrNotFound) {
		return model.User{}, errs.NewError(errs.ErrUnauthenticated)
	}
	if err != nil {
		return model.User{}, errs.Wrap(errs.ErrStorage, err)
	}

	level, known := p.commands[command]
	if !known {
		return model.User{}, errs.NewError(errs.ErrUnknownCommand)
	}
	if !p.Eligible(user) || user.AccessLevel < level {
		return model.User{}, errs.NewError(errs.ErrForbidden)
	}
	return user, nil
}
