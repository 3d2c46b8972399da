package guestlib

import (
	"strings"

	"github.com/dop251/goja"
)

func init() {
	register("path", buildPath)
}

// buildPath emulates Node's "path" module (POSIX join rules; no I/O).
func buildPath(rt *goja.Runtime, b Bridge) goja.Value {
	obj := rt.NewObject()

	obj.Set("sep", "/")
	obj.Set("delimiter", ":")

	obj.Set("join", func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, a := range call.Arguments {
			s := a.String()
			if s != "" {
				parts = append(parts, s)
			}
		}
		return rt.ToValue(normalize(strings.Join(parts, "/")))
	})

	obj.Set("resolve", func(call goja.FunctionCall) goja.Value {
		result := "/"
		for _, a := range call.Arguments {
			s := a.String()
			if strings.HasPrefix(s, "/") {
				result = s
			} else {
				result = result + "/" + s
			}
		}
		return rt.ToValue(normalize(result))
	})

	obj.Set("normalize", func(call goja.FunctionCall) goja.Value {
		return rt.ToValue(normalize(call.Argument(0).String()))
	})

	obj.Set("dirname", func(call goja.FunctionCall) goja.Value {
		p := call.Argument(0).String()
		idx := strings.LastIndex(strings.TrimRight(p, "/"), "/")
		if idx <= 0 {
			if strings.HasPrefix(p, "/") {
				return rt.ToValue("/")
			}
			return rt.ToValue(".")
		}
		return rt.ToValue(p[:idx])
	})

	obj.Set("basename", func(call goja.FunctionCall) goja.Value {
		p := strings.TrimRight(call.Argument(0).String(), "/")
		idx := strings.LastIndex(p, "/")
		base := p
		if idx >= 0 {
			base = p[idx+1:]
		}
		if len(call.Arguments) > 1 {
			ext := call.Argument(1).String()
			base = strings.TrimSuffix(base, ext)
		}
		return rt.ToValue(base)
	})

	obj.Set("extname", func(call goja.FunctionCall) goja.Value {
		p := call.Argument(0).String()
		base := p
		if idx := strings.LastIndex(p, "/"); idx >= 0 {
			base = p[idx+1:]
		}
		idx := strings.LastIndex(base, ".")
		if idx <= 0 {
			return rt.ToValue("")
		}
		return rt.ToValue(base[idx:])
	})

	obj.Set("isAbsolute", func(call goja.FunctionCall) goja.Value {
		return rt.ToValue(strings.HasPrefix(call.Argument(0).String(), "/"))
	})

	obj.Set("relative", func(call goja.FunctionCall) goja.Value {
		from := normalize(call.Argument(0).String())
		to := normalize(call.Argument(1).String())
		fromParts := splitClean(from)
		toParts := splitClean(to)
		i := 0
		for i < len(fromParts) && i < len(toParts) && fromParts[i] == toParts[i] {
			i++
		}
		var out []string
		for j := i; j < len(fromParts); j++ {
			out = append(out, "..")
		}
		out = append(out, toParts[i:]...)
		return rt.ToValue(strings.Join(out, "/"))
	})

	obj.Set("parse", func(call goja.FunctionCall) goja.Value {
		p := call.Argument(0).String()
		dir := ""
		if idx := strings.LastIndex(p, "/"); idx >= 0 {
			dir = p[:idx]
			if dir == "" {
				dir = "/"
			}
		}
		base := p
		if idx := strings.LastIndex(p, "/"); idx >= 0 {
			base = p[idx+1:]
		}
		ext := ""
		if idx := strings.LastIndex(base, "."); idx > 0 {
			ext = base[idx:]
		}
		name := strings.TrimSuffix(base, ext)

		out := rt.NewObject()
		out.Set("root", "/")
		out.Set("dir", dir)
		out.Set("base", base)
		out.Set("ext", ext)
		out.Set("name", name)
		return out
	})

	obj.Set("format", func(call goja.FunctionCall) goja.Value {
		o := call.Argument(0).ToObject(rt)
		dir := o.Get("dir").String()
		base := o.Get("base")
		if base == nil || goja.IsUndefined(base) {
			name := ""
			ext := ""
			if v := o.Get("name"); v != nil {
				name = v.String()
			}
			if v := o.Get("ext"); v != nil {
				ext = v.String()
			}
			return rt.ToValue(dir + "/" + name + ext)
		}
		return rt.ToValue(dir + "/" + base.String())
	})

	return obj
}

func splitClean(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// normalize collapses "." and ".." segments without touching the host
// filesystem. It does not prevent escapes above the root (that is the
// sandbox-rooted resolver's job in fs.go) — a bare ../../x normalizes to
// ../../x, matching Node's path.normalize semantics exactly.
func normalize(p string) (result string) {
	leadingSlash := strings.HasPrefix(p, "/")
	parts := strings.Split(p, "/")
	var stack []string
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			if len(stack) > 0 && stack[len(stack)-1] != ".." {
				stack = stack[:len(stack)-1]
			} else if !leadingSlash {
				stack = append(stack, "..")
			}
		default:
			stack = append(stack, part)
		}
	}
	result = strings.Join(stack, "/")
	if leadingSlash {
		result = "/" + result
	}
	if result == "" {
		result = "."
	}
	return result
}
