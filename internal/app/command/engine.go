/*
Package command implements the interactive command engine of the terminal client.

A command is either one-shot, run once with its arguments, or multi-step. A multi-step
command runs as a Flow: an ordered list of steps, a cursor and a data bag owned by the
flow. Input lines are fed to the active flow until it completes or is cancelled. With no
active flow, a line is parsed as a command name and its arguments.
*/
package command

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Action tells the engine what to do after a step returned.
type Action int

const (
	// Advance moves the cursor to the next step. Advancing past the last step completes the flow.
	Advance Action = iota

	// Hold keeps the cursor so the same step handles the next input.
	Hold

	// Rewind moves the cursor back to the flow's fallback step.
	Rewind

	// Finish completes the flow immediately.
	Finish
)

// State is the engine state after an input was handled.
type State int

const (
	// Idle means no flow is active.
	Idle State = iota

	// Waiting means a flow is active and waiting for the next input.
	Waiting

	// Completed means a flow ran past its last step or finished.
	Completed

	// Cancelled means a flow was aborted by a cancel token, an error or Cancel.
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Waiting:
		return "waiting"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// cancelTokens abort the active flow when given as input.
var cancelTokens = []string{"exit", "cancel", "abort"}

// ErrUnknownCommand is returned for input naming no registered command.
var ErrUnknownCommand = errors.New("command not found")

// Result is returned by a step.
type Result struct {
	Action Action

	// Output is printed to the user, e.g. the prompt of the next step.
	Output []string
}

// Step handles one input of a flow. The first step receives the command arguments
// joined by spaces.
type Step func(ctx context.Context, f *Flow, input string) (Result, error)

// OneShot runs a one-shot command.
type OneShot func(ctx context.Context, args []string) ([]string, error)

// Command is a registered command.
type Command struct {
	Name  string
	Usage string

	// Run is set for one-shot commands.
	Run OneShot

	// Steps is set for multi-step commands.
	Steps []Step

	// Fallback is the step a Rewind returns to.
	Fallback int

	// Secret lists the steps whose input must not be echoed, e.g. passwords.
	Secret []int
}

func (c *Command) multiStep() bool {
	return len(c.Steps) > 0
}

// Response is what the engine reports for one input.
type Response struct {
	Output []string
	State  State
}

// Engine routes input lines to the active flow or to the command table.
type Engine struct {
	// mu is held while a step or command runs, so inputs are handled one at a time.
	mu sync.Mutex

	commands map[string]*Command
	active   *Flow
}

// NewEngine returns an Engine without commands.
func NewEngine() *Engine {
	return &Engine{commands: make(map[string]*Command)}
}

// Register adds cmd to the command table. Names are case-insensitive.
func (e *Engine) Register(cmd Command) error {
	name := strings.ToLower(cmd.Name)
	if name == "" {
		return errors.New("command name is empty")
	}
	if (cmd.Run == nil) == !cmd.multiStep() {
		return fmt.Errorf("command %s must have either a run function or steps", name)
	}
	if cmd.multiStep() && (cmd.Fallback < 0 || cmd.Fallback >= len(cmd.Steps)) {
		return fmt.Errorf("command %s has fallback %d outside its %d steps", name, cmd.Fallback, len(cmd.Steps))
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.commands[name]; ok {
		return fmt.Errorf("command %s is already registered", name)
	}
	cmd.Name = name
	e.commands[name] = &cmd
	return nil
}

// Commands returns the registered commands sorted by name.
func (e *Engine) Commands() []Command {
	e.mu.Lock()
	defer e.mu.Unlock()

	cmds := make([]Command, 0, len(e.commands))
	for _, c := range e.commands {
		cmds = append(cmds, *c)
	}
	slices.SortFunc(cmds, func(a, b Command) int { return strings.Compare(a.Name, b.Name) })
	return cmds
}

// Active reports the name and cursor of the active flow.
func (e *Engine) Active() (name string, cursor int, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active == nil {
		return "", 0, false
	}
	return e.active.cmd.Name, e.active.cursor, true
}

// SecretInput reports whether the next input belongs to a secret step.
func (e *Engine) SecretInput() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.active != nil && slices.Contains(e.active.cmd.Secret, e.active.cursor)
}

// Cancel aborts the active flow and drops its data.
func (e *Engine) Cancel() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active == nil {
		return false
	}
	e.active.close()
	e.active = nil
	return true
}

// Input handles one line of user input.
func (e *Engine) Input(ctx context.Context, line string) (Response, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	line = strings.TrimSpace(line)

	if e.active != nil {
		if isCancelToken(line) {
			e.active.close()
			e.active = nil
			return Response{Output: []string{"Cancelled."}, State: Cancelled}, nil
		}
		return e.step(ctx, line)
	}

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Response{State: Idle}, nil
	}

	cmd, ok := e.commands[strings.ToLower(fields[0])]
	if !ok {
		return Response{State: Idle}, fmt.Errorf("%w: %s", ErrUnknownCommand, fields[0])
	}
	args := fields[1:]

	if !cmd.multiStep() {
		out, err := cmd.Run(ctx, args)
		return Response{Output: out, State: Idle}, err
	}

	e.active = newFlow(cmd)
	return e.step(ctx, strings.Join(args, " "))
}

// step runs the step at the cursor of the active flow. The caller holds e.mu.
func (e *Engine) step(ctx context.Context, input string) (Response, error) {
	f := e.active

	res, err := f.cmd.Steps[f.cursor](ctx, f, input)
	if err != nil {
		f.close()
		e.active = nil
		return Response{Output: res.Output, State: Cancelled}, err
	}

	switch res.Action {
	case Advance:
		f.cursor++
	case Rewind:
		f.cursor = f.cmd.Fallback
	case Finish:
		f.cursor = len(f.cmd.Steps)
	}

	if f.cursor >= len(f.cmd.Steps) {
		f.close()
		e.active = nil
		return Response{Output: res.Output, State: Completed}, nil
	}
	return Response{Output: res.Output, State: Waiting}, nil
}

func isCancelToken(line string) bool {
	return slices.Contains(cancelTokens, strings.ToLower(line))
}
