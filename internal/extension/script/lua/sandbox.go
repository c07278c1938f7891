package lua

import (
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// safeModules are the only names require accepts.
var safeModules = map[string]bool{
	"string": true,
	"table":  true,
	"math":   true,
}

// installSandbox removes loaders that reach the filesystem and installs a
// require that only hands back the already opened safe libraries. When print
// is non-nil the Lua print function writes to it instead of stdout.
func installSandbox(L *lua.LState, print func(string)) {
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "package"} {
		L.SetGlobal(name, lua.LNil)
	}

	L.SetGlobal("require", L.NewFunction(func(L *lua.LState) int {
		name := L.CheckString(1)
		if !safeModules[name] {
			L.RaiseError("module %q is not available", name)
			return 0
		}
		L.Push(L.GetGlobal(name))
		return 1
	}))

	if print != nil {
		L.SetGlobal("print", L.NewFunction(func(L *lua.LState) int {
			parts := make([]string, L.GetTop())
			for i := range parts {
				parts[i] = L.ToStringMeta(L.Get(i + 1)).String()
			}
			print(strings.Join(parts, "\t"))
			return 0
		}))
	}
}
