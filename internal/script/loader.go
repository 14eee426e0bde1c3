// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package script

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/holomush/botcmd/internal/command"
	"github.com/holomush/botcmd/internal/store"
)

// Error codes for script failures.
const (
	CodeLoadFailed = "SCRIPT_LOAD_FAILED"
	CodeInvalid    = "SCRIPT_INVALID"
	CodeRunFailed  = "SCRIPT_FAILED"
)

// DefaultRunTimeout bounds one call into a script.
const DefaultRunTimeout = 5 * time.Second

// Extension is the file extension LoadDir picks up.
const Extension = ".lua"

// Loader compiles scripts into commands.
type Loader struct {
	factory *StateFactory
	store   store.Backend
	logger  *slog.Logger
	timeout time.Duration
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithStore enables bot.kv_get and bot.kv_set, each script getting its own
// table in b.
func WithStore(b store.Backend) LoaderOption {
	return func(l *Loader) {
		l.store = b
	}
}

// WithLogger sets the logger behind bot.log and load warnings.
// Defaults to slog.Default().
func WithLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithRunTimeout bounds each call into a script. Defaults to
// DefaultRunTimeout.
func WithRunTimeout(d time.Duration) LoaderOption {
	return func(l *Loader) {
		l.timeout = d
	}
}

// NewLoader creates a loader.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		factory: NewStateFactory(),
		logger:  slog.Default(),
		timeout: DefaultRunTimeout,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.timeout <= 0 {
		l.timeout = DefaultRunTimeout
	}
	return l
}

// LoadDir loads every *.lua file in dir, in name order. A missing directory
// yields no commands. Scripts that fail to load are logged and skipped.
func (l *Loader) LoadDir(ctx context.Context, dir string) ([]command.Command, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, oops.Code(CodeLoadFailed).In("script").With("dir", dir).Wrapf(err, "read scripts directory")
	}

	var cmds []command.Command
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), Extension) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		cmd, err := l.LoadFile(ctx, path)
		if err != nil {
			l.logger.WarnContext(ctx, "skipping script", "path", path, "error", err)
			continue
		}
		cmds = append(cmds, cmd)
	}
	return cmds, nil
}

// LoadFile loads the script at path.
func (l *Loader) LoadFile(ctx context.Context, path string) (*command.SpecCommand, error) {
	src, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, oops.Code(CodeLoadFailed).In("script").With("path", path).Wrapf(err, "read script")
	}
	return l.Load(ctx, filepath.Base(path), string(src))
}

// Load compiles src and reads its command table. chunk names the source in
// Lua error messages.
func (l *Loader) Load(ctx context.Context, chunk, src string) (*command.SpecCommand, error) {
	stmts, err := parse.Parse(strings.NewReader(src), chunk)
	if err != nil {
		return nil, oops.Code(CodeLoadFailed).In("script").With("script", chunk).Hint("syntax error").Wrap(err)
	}
	proto, err := lua.Compile(stmts, chunk)
	if err != nil {
		return nil, oops.Code(CodeLoadFailed).In("script").With("script", chunk).Wrap(err)
	}

	s := &Script{chunk: chunk, proto: proto, loader: l}

	// Metadata is read from a throwaway state.
	L, err := l.factory.NewState(ctx)
	if err != nil {
		return nil, err
	}
	defer L.Close()
	l.register(L, s, &invocation{ctx: ctx})

	tbl, err := s.exec(L)
	if err != nil {
		return nil, err
	}
	spec, err := s.readSpec(tbl)
	if err != nil {
		return nil, err
	}
	s.name = spec.Name

	if fn, ok := tbl.RawGetString("before").(*lua.LFunction); ok && fn != nil {
		spec.PreHooks = []command.Hook{s.hook("before")}
	}
	if fn, ok := tbl.RawGetString("after").(*lua.LFunction); ok && fn != nil {
		spec.PostHooks = []command.Hook{s.hook("after")}
	}
	return command.New(spec, command.RunFunc(s.hook("run"))), nil
}

// readSpec converts the command table into a command.Spec.
func (s *Script) readSpec(tbl *lua.LTable) (command.Spec, error) {
	invalid := func(field, format string, args ...any) error {
		return oops.Code(CodeInvalid).In("script").
			With("script", s.chunk).
			With("field", field).
			Errorf(format, args...)
	}

	name, ok := tbl.RawGetString("name").(lua.LString)
	if !ok {
		return command.Spec{}, invalid("name", "command.name must be a string")
	}
	if err := command.ValidateName(string(name)); err != nil {
		return command.Spec{}, invalid("name", "command.name: %v", err)
	}
	if _, ok := tbl.RawGetString("run").(*lua.LFunction); !ok {
		return command.Spec{}, invalid("run", "command.run must be a function")
	}

	spec := command.Spec{
		Name:        string(name),
		Description: lua.LVAsString(tbl.RawGetString("description")),
		Disabled:    lua.LVAsBool(tbl.RawGetString("disabled")),
		Exclusive:   lua.LVAsBool(tbl.RawGetString("exclusive")),
	}

	aliases, err := stringList(tbl.RawGetString("aliases"))
	if err != nil {
		return command.Spec{}, invalid("aliases", "command.aliases: %v", err)
	}
	spec.Aliases = aliases

	perms, err := stringList(tbl.RawGetString("permissions"))
	if err != nil {
		return command.Spec{}, invalid("permissions", "command.permissions: %v", err)
	}
	for _, p := range perms {
		spec.Permissions = append(spec.Permissions, command.Permission(p))
	}

	switch v := tbl.RawGetString("cooldown").(type) {
	case *lua.LNilType:
	case lua.LNumber:
		if v < 0 {
			return command.Spec{}, invalid("cooldown", "command.cooldown cannot be negative")
		}
		spec.Cooldown = time.Duration(float64(v) * float64(time.Second))
	default:
		return command.Spec{}, invalid("cooldown", "command.cooldown must be a number of seconds")
	}

	switch v := tbl.RawGetString("usage").(type) {
	case *lua.LNilType:
	case lua.LNumber:
		spec.UsageThreshold = int(v)
	default:
		return command.Spec{}, invalid("usage", "command.usage must be a number")
	}

	return spec, nil
}

// stringList reads nil or an array of strings.
func stringList(v lua.LValue) ([]string, error) {
	if v == lua.LNil {
		return nil, nil
	}
	tbl, ok := v.(*lua.LTable)
	if !ok {
		return nil, oops.Errorf("expected a list, got %s", v.Type())
	}
	out := make([]string, 0, tbl.Len())
	for i := 1; i <= tbl.Len(); i++ {
		s, ok := tbl.RawGetInt(i).(lua.LString)
		if !ok {
			return nil, oops.Errorf("entry %d: expected string, got %s", i, tbl.RawGetInt(i).Type())
		}
		out = append(out, string(s))
	}
	return out, nil
}
