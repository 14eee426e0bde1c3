// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package script loads chat commands written in Lua.
//
// A script declares a global `command` table with its metadata and a `run`
// function, optionally `before` and `after` hooks:
//
//	command = {
//	    name = "roll",
//	    aliases = {"r"},
//	    description = "Roll a die",
//	    cooldown = 10,   -- seconds
//	    usage = 3,       -- invocations before the cooldown starts
//	    exclusive = false,
//	    permissions = {"SEND_MESSAGES"},
//	}
//
//	function command.run(ctx)
//	    bot.reply(ctx.user.name .. " rolled " .. math.random(6))
//	end
//
// Every invocation runs in a fresh sandboxed state.
package script

import (
	"context"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
)

// safeLibrary is a Lua library that may be loaded into a sandboxed state.
type safeLibrary struct {
	name string
	fn   lua.LGFunction
}

// defaultSafeLibraries returns base, table, string, and math. The os, io,
// debug, and package libraries are never loaded.
func defaultSafeLibraries() []safeLibrary {
	return []safeLibrary{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
}

// unsafeBaseFunctions are base library functions that reach the filesystem
// or compile arbitrary code.
var unsafeBaseFunctions = []string{"dofile", "loadfile", "loadstring", "load"}

// StateFactory creates sandboxed Lua states.
type StateFactory struct {
	libraries []safeLibrary
}

// NewStateFactory creates a factory loading only the safe libraries.
func NewStateFactory() *StateFactory {
	return &StateFactory{libraries: defaultSafeLibraries()}
}

// NewState creates a sandboxed state bound to ctx. The VM stops with an
// error once ctx is done.
func (f *StateFactory) NewState(ctx context.Context) (*lua.LState, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})

	for _, lib := range f.libraries {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, oops.In("script").With("library", lib.name).Wrapf(err, "open library %s", lib.name)
		}
	}
	for _, fn := range unsafeBaseFunctions {
		L.SetGlobal(fn, lua.LNil)
	}

	L.SetContext(ctx)
	return L, nil
}
