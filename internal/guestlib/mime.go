package guestlib

import (
	"mime"
	"strings"

	"github.com/dop251/goja"
)

func init() {
	register("mime-types", buildMimeTypes)
}

// buildMimeTypes emulates the common subset of the "mime-types" npm
// package's API (lookup/contentType/extension/charset) atop Go's mime
// package, which already ships a reasonably complete type table.
func buildMimeTypes(rt *goja.Runtime, b Bridge) goja.Value {
	obj := rt.NewObject()

	obj.Set("lookup", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		ext := name
		if idx := strings.LastIndex(name, "."); idx >= 0 {
			ext = name[idx:]
		} else {
			ext = "." + name
		}
		t := mime.TypeByExtension(ext)
		if t == "" {
			return rt.ToValue(false)
		}
		if idx := strings.Index(t, ";"); idx >= 0 {
			t = t[:idx]
		}
		return rt.ToValue(strings.TrimSpace(t))
	})

	obj.Set("contentType", func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		if !strings.Contains(name, "/") {
			ext := name
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			t := mime.TypeByExtension(ext)
			if t == "" {
				return rt.ToValue(false)
			}
			return rt.ToValue(t)
		}
		if strings.HasPrefix(name, "text/") && !strings.Contains(name, "charset") {
			return rt.ToValue(name + "; charset=utf-8")
		}
		return rt.ToValue(name)
	})

	obj.Set("extension", func(call goja.FunctionCall) goja.Value {
		t := call.Argument(0).String()
		exts, err := mime.ExtensionsByType(t)
		if err != nil || len(exts) == 0 {
			return rt.ToValue(false)
		}
		return rt.ToValue(strings.TrimPrefix(exts[0], "."))
	})

	obj.Set("charset", func(call goja.FunctionCall) goja.Value {
		t := call.Argument(0).String()
		if strings.HasPrefix(t, "text/") || t == "application/json" {
			return rt.ToValue("UTF-8")
		}
		return rt.ToValue(false)
	})

	return obj
}
