// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package script

import (
	"context"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/botcmd/internal/command"
)

// Script is a compiled Lua command. The compiled chunk is shared; each call
// runs it in its own state.
type Script struct {
	chunk  string
	name   string
	proto  *lua.FunctionProto
	loader *Loader
}

// exec runs the chunk's top level and returns its command table.
func (s *Script) exec(L *lua.LState) (*lua.LTable, error) {
	L.Push(L.NewFunctionFromProto(s.proto))
	if err := L.PCall(0, 0, nil); err != nil {
		return nil, oops.Code(CodeLoadFailed).In("script").With("script", s.chunk).Wrap(err)
	}
	tbl, ok := L.GetGlobal("command").(*lua.LTable)
	if !ok {
		return nil, oops.Code(CodeInvalid).In("script").
			With("script", s.chunk).
			Hint("declare a global table: command = { name = ..., run = function(ctx) ... end }").
			Errorf("script does not define a command table")
	}
	return tbl, nil
}

func (s *Script) hook(fn string) command.Hook {
	return func(ctx context.Context, msg command.Message, args []string) error {
		return s.call(ctx, fn, msg, args)
	}
}

// call runs command[fn](ctx) in a fresh state. A bot.user_error raised by
// the script becomes a command.UserError.
func (s *Script) call(ctx context.Context, fn string, msg command.Message, args []string) error {
	ctx, cancel := context.WithTimeout(ctx, s.loader.timeout)
	defer cancel()

	L, err := s.loader.factory.NewState(ctx)
	if err != nil {
		return err
	}
	defer L.Close()

	inv := &invocation{ctx: ctx, msg: msg}
	s.loader.register(L, s, inv)

	tbl, err := s.exec(L)
	if err != nil {
		return err
	}
	f, ok := tbl.RawGetString(fn).(*lua.LFunction)
	if !ok {
		return nil
	}

	err = L.CallByParam(lua.P{Fn: f, NRet: 0, Protect: true}, s.contextTable(L, msg, args))
	if inv.userErr != "" {
		return command.UserError(inv.userErr)
	}
	if err != nil {
		return oops.Code(CodeRunFailed).In("script").
			With("script", s.chunk).
			With("function", fn).
			Wrap(err)
	}
	return nil
}

// contextTable is the single argument passed to run, before, and after.
func (s *Script) contextTable(L *lua.LState, msg command.Message, args []string) *lua.LTable {
	t := L.NewTable()
	L.SetField(t, "command", lua.LString(s.name))
	L.SetField(t, "content", lua.LString(msg.Content()))

	argTbl := L.NewTable()
	for _, a := range args {
		argTbl.Append(lua.LString(a))
	}
	L.SetField(t, "args", argTbl)

	author := msg.Author()
	user := L.NewTable()
	L.SetField(user, "id", lua.LString(author.ID))
	L.SetField(user, "name", lua.LString(author.Username))
	L.SetField(t, "user", user)
	return t
}
