// Package commands implements the UI's `/name arg1 arg2` slash-command
// dispatch: a word-split command line, a name-keyed registry, and the
// built-in workflow/help commands.
//
// Grounded on original manager/commands/base.py's CommandManager (the
// simpler `register(name, handler)` path, not the declarative
// `@command`/`@option` positional-parameter-index variant — neither survives
// into this port, since Go has no decorator equivalent and the handlers
// below already validate their own argv the way workflows.py's handlers
// do) and manager/commands/workflows.py + help.py for the built-in command
// set. manager/commands/debug.py's `/debug` command is not ported: every
// branch of its USAGE text is a `know` (knowledge-base) tool invocation,
// and Settings.know has no SPEC_FULL component (see DESIGN.md's Settings
// section) — there is nothing left for `/debug` to do once that's gone.
package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pocketomega/pocket-omega/internal/wf/manager"
)

// Host is what a command handler needs from its caller: a way to reply
// with plain text, and the manager driving workflows.
type Host interface {
	SendText(text string) error
	Manager() *manager.Manager
}

// Handler runs one command invocation; args excludes the command name
// itself.
type Handler func(ctx context.Context, host Host, args []string) error

// Error is a command-level failure meant to be shown to the user
// verbatim (as opposed to an internal error), mirroring the original's
// CommandError.
type Error struct{ Message string }

func (e *Error) Error() string { return e.Message }

func usageError(format string, args ...any) error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

type entry struct {
	name        string
	description string
	params      []string
	handler     Handler
}

// Registry is the name-keyed command table.
type Registry struct {
	commands map[string]*entry
}

// NewRegistry builds a registry with the built-in commands already
// registered.
func NewRegistry() *Registry {
	r := &Registry{commands: map[string]*entry{}}
	registerBuiltins(r)
	return r
}

// Register adds a new command; it is an error to register a name twice.
func (r *Registry) Register(name, description string, params []string, h Handler) error {
	if _, exists := r.commands[name]; exists {
		return fmt.Errorf("commands: command %q already registered", name)
	}
	r.commands[name] = &entry{name: name, description: description, params: params, handler: h}
	return nil
}

// Unregister removes a command, reporting whether it existed.
func (r *Registry) Unregister(name string) bool {
	if _, ok := r.commands[name]; !ok {
		return false
	}
	delete(r.commands, name)
	return true
}

// HelpEntry is one row of Registry.HelpEntries, sorted by name.
type HelpEntry struct {
	Name        string
	Description string
	Params      []string
}

// HelpEntries lists every registered command alphabetically.
func (r *Registry) HelpEntries() []HelpEntry {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]HelpEntry, 0, len(names))
	for _, name := range names {
		e := r.commands[name]
		out = append(out, HelpEntry{Name: e.name, Description: e.description, Params: e.params})
	}
	return out
}

// Execute parses text as a command line ("/name arg arg...") and runs it,
// replying to host on usage/unknown-command errors. It returns false if
// text is not a command at all (doesn't start with '/'), so the caller can
// fall through to treating it as ordinary chat input — matching the
// original's CommandManager.execute boolean "was this a command" return.
func Execute(ctx context.Context, r *Registry, host Host, text string) (bool, error) {
	trimmed := strings.TrimLeft(text, " \t")
	if !strings.HasPrefix(trimmed, "/") {
		return false, nil
	}
	trimmed = strings.TrimPrefix(trimmed, "/")

	tokens, err := splitWords(trimmed)
	if err != nil {
		return true, host.SendText(fmt.Sprintf("Command error: invalid command syntax: %v.", err))
	}
	if len(tokens) == 0 {
		return false, nil
	}

	name, args := tokens[0], tokens[1:]
	e, ok := r.commands[name]
	if !ok {
		return true, host.SendText(fmt.Sprintf("Unknown command: /%s", name))
	}

	if err := e.handler(ctx, host, args); err != nil {
		var cmdErr *Error
		if errors.As(err, &cmdErr) {
			return true, host.SendText(fmt.Sprintf("Command error: %s", cmdErr.Message))
		}
		return true, host.SendText(fmt.Sprintf("Command error: %v", err))
	}
	return true, nil
}
