package guestlib

import (
	"time"

	"github.com/dop251/goja"
)

func init() {
	register("process", buildProcess)
}

// buildProcess emulates a read-only "process" shape. Mutating calls throw
// EACCES; event-emitter methods are no-ops; hrtime/uptime/memoryUsage
// return host-derived or mocked values.
func buildProcess(rt *goja.Runtime, b Bridge) goja.Value {
	obj := rt.NewObject()
	start := time.Now()

	env := rt.NewObject()
	for k, v := range b.EnvVars() {
		env.Set(k, v)
	}
	obj.Set("env", env)
	obj.Set("platform", "linux")
	obj.Set("version", "v20.0.0")
	obj.Set("argv", []string{"node", "index.js"})
	obj.Set("pid", 1)

	denied := func(name string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			panic(rt.ToValue(map[string]interface{}{"code": "EACCES", "message": name + "() is not permitted in a sandboxed guest"}))
		}
	}
	for _, name := range []string{"exit", "chdir", "kill", "setuid", "setgid", "umask", "dlopen", "send", "binding", "abort"} {
		obj.Set(name, denied(name))
	}

	noop := func(call goja.FunctionCall) goja.Value { return goja.Undefined() }
	for _, name := range []string{"on", "once", "off", "removeListener", "addListener", "emit"} {
		obj.Set(name, noop)
	}

	obj.Set("hrtime", func(call goja.FunctionCall) goja.Value {
		elapsed := time.Since(start)
		return rt.ToValue([]int64{int64(elapsed / time.Second), int64(elapsed % time.Second)})
	})
	obj.Set("uptime", func(call goja.FunctionCall) goja.Value {
		return rt.ToValue(time.Since(start).Seconds())
	})
	obj.Set("memoryUsage", func(call goja.FunctionCall) goja.Value {
		usage := rt.NewObject()
		usage.Set("rss", 0)
		usage.Set("heapTotal", 0)
		usage.Set("heapUsed", 0)
		usage.Set("external", 0)
		return usage
	})

	obj.Set("nextTick", func(call goja.FunctionCall) goja.Value {
		if fn, ok := goja.AssertFunction(call.Argument(0)); ok {
			b.ScheduleTimer(0, false, func() { fn(goja.Undefined()) })
		}
		return goja.Undefined()
	})

	return obj
}
