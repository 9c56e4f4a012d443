package effects

import (
	lua "github.com/yuin/gopher-lua"

	"ambientd/internal/color"
)

// installHostFunctions mirrors the teacher's setupLuaState, generalized
// from a raw byte pixel buffer to a []color.RGB and from a single
// per-frame call to a long-lived state reused across ticks (elapsed time
// is updated in place via setElapsed rather than re-installed globals).
func installHostFunctions(L *lua.LState, buffer []color.RGB, args map[string]any) {
	led := len(buffer)
	L.SetGlobal("LEDCount", lua.LNumber(led))

	elapsedHolder := L.NewTable()
	L.SetGlobal("__elapsed", elapsedHolder)

	L.SetGlobal("get_time", L.NewFunction(func(L *lua.LState) int {
		L.Push(L.GetGlobal("__elapsed").(*lua.LTable).RawGetString("t"))
		return 1
	}))

	argsTable := L.NewTable()
	for k, v := range args {
		argsTable.RawSetString(k, goValueToLua(L, v))
	}
	L.SetGlobal("get_args", L.NewFunction(func(L *lua.LState) int {
		L.Push(argsTable)
		return 1
	}))

	L.SetGlobal("get_pixel", L.NewFunction(func(L *lua.LState) int {
		index := int(L.CheckNumber(1))
		if index < 0 || index >= led {
			L.Push(lua.LNumber(0))
			L.Push(lua.LNumber(0))
			L.Push(lua.LNumber(0))
			return 3
		}
		c := buffer[index]
		L.Push(lua.LNumber(float64(c.R) / 255.0))
		L.Push(lua.LNumber(float64(c.G) / 255.0))
		L.Push(lua.LNumber(float64(c.B) / 255.0))
		return 3
	}))

	L.SetGlobal("set_pixel", L.NewFunction(func(L *lua.LState) int {
		index := int(L.CheckNumber(1))
		if index < 0 || index >= led {
			return 0
		}
		r := float64(L.CheckNumber(2))
		g := float64(L.CheckNumber(3))
		b := float64(L.CheckNumber(4))
		buffer[index] = color.FromFloat(color.Float{R: r, G: g, B: b})
		return 0
	}))

	L.SetGlobal("set_all", L.NewFunction(func(L *lua.LState) int {
		r := float64(L.CheckNumber(1))
		g := float64(L.CheckNumber(2))
		b := float64(L.CheckNumber(3))
		c := color.FromFloat(color.Float{R: r, G: g, B: b})
		for i := range buffer {
			buffer[i] = c
		}
		return 0
	}))
}

func setElapsed(L *lua.LState, seconds float64) {
	elapsed := L.GetGlobal("__elapsed").(*lua.LTable)
	elapsed.RawSetString("t", lua.LNumber(seconds))
}

func goValueToLua(L *lua.LState, v any) lua.LValue {
	switch t := v.(type) {
	case string:
		return lua.LString(t)
	case float64:
		return lua.LNumber(t)
	case int:
		return lua.LNumber(t)
	case bool:
		return lua.LBool(t)
	default:
		return lua.LNil
	}
}
