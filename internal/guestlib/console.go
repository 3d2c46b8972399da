package guestlib

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

func init() {
	register("console", buildConsole)
}

// buildConsole mirrors Node's console methods; each call appends a
// structured record to the invocation's captured log via the bridge.
func buildConsole(rt *goja.Runtime, b Bridge) goja.Value {
	obj := rt.NewObject()

	logAt := func(level string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, a := range call.Arguments {
				parts[i] = inspectValue(a)
			}
			b.Console(level, strings.Join(parts, " "))
			return goja.Undefined()
		}
	}

	obj.Set("log", logAt("log"))
	obj.Set("info", logAt("info"))
	obj.Set("warn", logAt("warn"))
	obj.Set("error", logAt("error"))
	obj.Set("debug", logAt("debug"))
	obj.Set("trace", logAt("trace"))
	obj.Set("table", logAt("log"))
	obj.Set("group", logAt("log"))
	obj.Set("groupEnd", func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	obj.Set("assert", func(call goja.FunctionCall) goja.Value {
		if !call.Argument(0).ToBoolean() {
			logAt("error")(goja.FunctionCall{Arguments: call.Arguments[1:]})
		}
		return goja.Undefined()
	})

	return obj
}

// inspectValue renders a goja.Value the way console.log would: strings
// bare, everything else via its JSON/Go representation.
func inspectValue(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	if s, ok := v.Export().(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v.Export())
}
