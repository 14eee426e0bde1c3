// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package script

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
)

func TestStateFactory_LoadsSafeLibraries(t *testing.T) {
	L, err := NewStateFactory().NewState(context.Background())
	require.NoError(t, err)
	defer L.Close()

	for _, lib := range []string{"table", "string", "math"} {
		assert.NotEqual(t, lua.LTNil, L.GetGlobal(lib).Type(), "library %q not loaded", lib)
	}
	for _, lib := range []string{"os", "io", "debug", "package"} {
		assert.Equal(t, lua.LTNil, L.GetGlobal(lib).Type(), "unsafe library %q loaded", lib)
	}
	for _, fn := range unsafeBaseFunctions {
		assert.Equal(t, lua.LTNil, L.GetGlobal(fn).Type(), "unsafe function %q available", fn)
	}
}

func TestStateFactory_RunsLua(t *testing.T) {
	L, err := NewStateFactory().NewState(context.Background())
	require.NoError(t, err)
	defer L.Close()

	require.NoError(t, L.DoString(`
		local t = {3, 1, 2}
		table.sort(t)
		result = string.upper("d") .. t[1] .. math.abs(-6)
	`))
	assert.Equal(t, "D16", L.GetGlobal("result").String())
}

func TestStateFactory_StatesAreIndependent(t *testing.T) {
	f := NewStateFactory()
	L1, err := f.NewState(context.Background())
	require.NoError(t, err)
	defer L1.Close()
	L2, err := f.NewState(context.Background())
	require.NoError(t, err)
	defer L2.Close()

	require.NoError(t, L1.DoString(`foo = "bar"`))
	assert.Equal(t, lua.LTNil, L2.GetGlobal("foo").Type())
}

func TestStateFactory_LibraryLoadError(t *testing.T) {
	f := &StateFactory{libraries: []safeLibrary{{"failing-lib", func(L *lua.LState) int {
		L.RaiseError("simulated library load failure")
		return 0
	}}}}

	_, err := f.NewState(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open library failing-lib")
}

func TestStateFactory_StopsOnContextDone(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	L, err := NewStateFactory().NewState(ctx)
	require.NoError(t, err)
	defer L.Close()

	err = L.DoString(`while true do end`)
	require.Error(t, err)
}
