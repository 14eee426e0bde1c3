// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package command

import (
	"log/slog"
	"sort"
	"sync"
)

// Registry maps command names and aliases to commands.
// It is populated at startup and safe for concurrent lookups.
type Registry struct {
	commands map[string]Command
	mu       sync.RWMutex
}

// NewRegistry creates an empty command registry.
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]Command),
	}
}

// Register binds name to cmd. It fails with DUPLICATE_COMMAND, leaving the
// registry unchanged, if name is already bound. Disabled commands are skipped.
func (r *Registry) Register(name string, cmd Command) error {
	if cmd.Disabled() {
		slog.Debug("skipping disabled command", "command", cmd.Name(), "name", name)
		return nil
	}
	if err := ValidateName(name); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.commands[name]; ok {
		return ErrDuplicateCommand(name, existing.Name())
	}
	r.commands[name] = cmd
	return nil
}

// RegisterWithAliases binds the command's name and then each alias.
// The first failure is returned; names bound earlier in the same call stay
// registered.
func (r *Registry) RegisterWithAliases(cmd Command) error {
	if cmd.Disabled() {
		slog.Debug("skipping disabled command", "command", cmd.Name())
		return nil
	}
	if err := r.Register(cmd.Name(), cmd); err != nil {
		return err
	}
	for _, alias := range cmd.Aliases() {
		if err := r.Register(alias, cmd); err != nil {
			return err
		}
	}
	return nil
}

// Get retrieves the command bound to a name or alias.
func (r *Registry) Get(name string) (Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cmd, ok := r.commands[name]
	return cmd, ok
}

// All returns each registered command once, by command name, sorted.
func (r *Registry) All() []Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(r.commands))
	cmds := make([]Command, 0, len(r.commands))
	for _, c := range r.commands {
		if _, dup := seen[c.Name()]; dup {
			continue
		}
		seen[c.Name()] = struct{}{}
		cmds = append(cmds, c)
	}
	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Name() < cmds[j].Name() })
	return cmds
}

// Len returns the number of bound names, aliases included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}
