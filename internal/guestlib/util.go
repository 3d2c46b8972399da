package guestlib

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

func init() {
	register("util", buildUtil)
}

// buildUtil emulates the commonly-used surface of Node's "util" module:
// inspect/format, promisify/callbackify, deprecate/debuglog, inherits,
// TextEncoder/TextDecoder, and the types.* predicates. No diff helper and
// no POSIX errno tables are provided.
func buildUtil(rt *goja.Runtime, b Bridge) goja.Value {
	obj := rt.NewObject()

	obj.Set("inspect", func(call goja.FunctionCall) goja.Value {
		return rt.ToValue(inspectDeep(call.Argument(0), 0, map[interface{}]bool{}))
	})

	obj.Set("format", func(call goja.FunctionCall) goja.Value {
		return rt.ToValue(formatArgs(call.Arguments))
	})
	obj.Set("formatWithOptions", func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return rt.ToValue("")
		}
		return rt.ToValue(formatArgs(call.Arguments[1:]))
	})

	obj.Set("promisify", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(rt.ToValue("util.promisify argument must be a function"))
		}
		return rt.ToValue(func(innerCall goja.FunctionCall) goja.Value {
			promise, resolve, reject := rt.NewPromise()
			cb := rt.ToValue(func(cbCall goja.FunctionCall) goja.Value {
				if err := cbCall.Argument(0); !goja.IsUndefined(err) && !goja.IsNull(err) {
					reject(err)
				} else {
					resolve(cbCall.Argument(1))
				}
				return goja.Undefined()
			})
			args := append(append([]goja.Value{}, innerCall.Arguments...), cb)
			if _, err := fn(goja.Undefined(), args...); err != nil {
				reject(rt.ToValue(err.Error()))
			}
			return rt.ToValue(promise)
		})
	})

	obj.Set("callbackify", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(rt.ToValue("util.callbackify argument must be a function"))
		}
		return rt.ToValue(func(innerCall goja.FunctionCall) goja.Value {
			if len(innerCall.Arguments) == 0 {
				return goja.Undefined()
			}
			cb, ok := goja.AssertFunction(innerCall.Arguments[len(innerCall.Arguments)-1])
			if !ok {
				return goja.Undefined()
			}
			result, err := fn(goja.Undefined(), innerCall.Arguments[:len(innerCall.Arguments)-1]...)
			if err != nil {
				cb(goja.Undefined(), rt.ToValue(err.Error()))
				return goja.Undefined()
			}
			cb(goja.Undefined(), goja.Null(), result)
			return goja.Undefined()
		})
	})

	obj.Set("deprecate", func(call goja.FunctionCall) goja.Value {
		return call.Argument(0)
	})
	obj.Set("debuglog", func(call goja.FunctionCall) goja.Value {
		return rt.ToValue(func(goja.FunctionCall) goja.Value { return goja.Undefined() })
	})
	obj.Set("inherits", func(call goja.FunctionCall) goja.Value {
		ctor := call.Argument(0).ToObject(rt)
		super := call.Argument(1).ToObject(rt)
		if ctor != nil && super != nil {
			ctor.Set("super_", super)
		}
		return goja.Undefined()
	})

	types := rt.NewObject()
	types.Set("isPromise", func(call goja.FunctionCall) goja.Value {
		o := call.Argument(0).ToObject(rt)
		if o == nil {
			return rt.ToValue(false)
		}
		_, ok := goja.AssertFunction(o.Get("then"))
		return rt.ToValue(ok)
	})
	obj.Set("types", types)

	obj.Set("TextEncoder", func(call goja.ConstructorCall) *goja.Object {
		enc := rt.NewObject()
		enc.Set("encoding", "utf-8")
		enc.Set("encode", func(innerCall goja.FunctionCall) goja.Value {
			return rt.ToValue(rt.NewArrayBuffer([]byte(innerCall.Argument(0).String())))
		})
		return enc
	})
	obj.Set("TextDecoder", func(call goja.ConstructorCall) *goja.Object {
		dec := rt.NewObject()
		dec.Set("encoding", "utf-8")
		dec.Set("decode", func(innerCall goja.FunctionCall) goja.Value {
			if buf, ok := innerCall.Argument(0).Export().(goja.ArrayBuffer); ok {
				return rt.ToValue(string(buf.Bytes()))
			}
			return rt.ToValue("")
		})
		return dec
	})

	obj.Set("stripVTControlCharacters", func(call goja.FunctionCall) goja.Value {
		s := call.Argument(0).String()
		var b strings.Builder
		inEscape := false
		for _, r := range s {
			if r == 0x1b {
				inEscape = true
				continue
			}
			if inEscape {
				if r == 'm' {
					inEscape = false
				}
				continue
			}
			b.WriteRune(r)
		}
		return rt.ToValue(b.String())
	})

	return obj
}

func formatArgs(args []goja.Value) string {
	if len(args) == 0 {
		return ""
	}
	format, ok := args[0].Export().(string)
	if !ok || !strings.Contains(format, "%") {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = inspectValue(a)
		}
		return strings.Join(parts, " ")
	}
	rest := args[1:]
	var b strings.Builder
	argIdx := 0
	for i := 0; i < len(format); i++ {
		if format[i] == '%' && i+1 < len(format) {
			verb := format[i+1]
			if (verb == 's' || verb == 'd' || verb == 'j' || verb == 'o' || verb == 'O') && argIdx < len(rest) {
				b.WriteString(inspectValue(rest[argIdx]))
				argIdx++
				i++
				continue
			}
			if verb == '%' {
				b.WriteByte('%')
				i++
				continue
			}
		}
		b.WriteByte(format[i])
	}
	return b.String()
}

func inspectDeep(v goja.Value, depth int, seen map[interface{}]bool) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	exported := v.Export()
	switch val := exported.(type) {
	case string:
		return fmt.Sprintf("'%s'", val)
	case map[string]interface{}:
		if seen[exported] {
			return "[Circular]"
		}
		if depth > 6 {
			return "[Object]"
		}
		seen[exported] = true
		parts := make([]string, 0, len(val))
		for k, vv := range val {
			parts = append(parts, fmt.Sprintf("%s: %v", k, vv))
		}
		return "{ " + strings.Join(parts, ", ") + " }"
	default:
		return fmt.Sprintf("%v", exported)
	}
}
