// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package script

import (
	"context"

	"github.com/oklog/ulid/v2"
	lua "github.com/yuin/gopher-lua"

	"github.com/holomush/botcmd/internal/command"
)

// invocation is the per-call state host functions act on. msg is nil while
// a script is being loaded.
type invocation struct {
	ctx     context.Context
	msg     command.Message
	userErr string
}

// kvTable names the store table backing a script's bot.kv_* calls.
func kvTable(name string) string {
	return "script:" + name
}

// register installs the bot module:
//
//	bot.reply(text)
//	bot.user_error(text)       -- aborts with a message for the user
//	bot.log(level, message)
//	bot.new_request_id()
//	bot.kv_get(key)            -- value|nil, err|nil
//	bot.kv_set(key, value)     -- err|nil
func (l *Loader) register(L *lua.LState, s *Script, inv *invocation) {
	mod := L.NewTable()
	L.SetField(mod, "reply", L.NewFunction(replyFn(inv)))
	L.SetField(mod, "user_error", L.NewFunction(userErrorFn(inv)))
	L.SetField(mod, "log", L.NewFunction(l.logFn(s, inv)))
	L.SetField(mod, "new_request_id", L.NewFunction(newRequestIDFn))
	L.SetField(mod, "kv_get", L.NewFunction(l.kvGetFn(s, inv)))
	L.SetField(mod, "kv_set", L.NewFunction(l.kvSetFn(s, inv)))
	L.SetGlobal("bot", mod)
}

func replyFn(inv *invocation) lua.LGFunction {
	return func(L *lua.LState) int {
		text := L.CheckString(1)
		if inv.msg == nil {
			L.RaiseError("bot.reply is only available while the command runs")
			return 0
		}
		if err := inv.msg.Reply(inv.ctx, text); err != nil {
			L.RaiseError("reply failed: %s", err.Error())
		}
		return 0
	}
}

func userErrorFn(inv *invocation) lua.LGFunction {
	return func(L *lua.LState) int {
		inv.userErr = L.CheckString(1)
		L.RaiseError("%s", inv.userErr)
		return 0
	}
}

func (l *Loader) logFn(s *Script, inv *invocation) lua.LGFunction {
	return func(L *lua.LState) int {
		level := L.CheckString(1)
		message := L.CheckString(2)

		logger := l.logger.With("script", s.chunk)
		switch level {
		case "debug":
			logger.DebugContext(inv.ctx, message)
		case "warn":
			logger.WarnContext(inv.ctx, message)
		case "error":
			logger.ErrorContext(inv.ctx, message)
		default:
			logger.InfoContext(inv.ctx, message)
		}
		return 0
	}
}

func newRequestIDFn(L *lua.LState) int {
	L.Push(lua.LString(ulid.Make().String()))
	return 1
}

func (l *Loader) kvGetFn(s *Script, inv *invocation) lua.LGFunction {
	return func(L *lua.LState) int {
		key := L.CheckString(1)
		if l.store == nil {
			L.Push(lua.LNil)
			L.Push(lua.LString("kv store not available"))
			return 2
		}

		value, ok, err := l.store.Table(kvTable(s.name)).Get(inv.ctx, key)
		switch {
		case err != nil:
			L.Push(lua.LNil)
			L.Push(lua.LString(err.Error()))
		case !ok:
			L.Push(lua.LNil)
			L.Push(lua.LNil)
		default:
			L.Push(lua.LString(string(value)))
			L.Push(lua.LNil)
		}
		return 2
	}
}

func (l *Loader) kvSetFn(s *Script, inv *invocation) lua.LGFunction {
	return func(L *lua.LState) int {
		key := L.CheckString(1)
		value := L.CheckString(2)
		if l.store == nil {
			L.Push(lua.LString("kv store not available"))
			return 1
		}
		if err := l.store.Table(kvTable(s.name)).Set(inv.ctx, key, []byte(value)); err != nil {
			L.Push(lua.LString(err.Error()))
			return 1
		}
		return 0
	}
}
