package sandbox

import (
	"strings"

	"github.com/dop251/goja"
)

// buildRequestObject renders a RequestMirror as the goja object guest code
// receives as req (spec §4.5's "request mirror" contract).
func buildRequestObject(rt *goja.Runtime, m *RequestMirror) *goja.Object {
	obj := rt.NewObject()
	obj.Set("method", m.Method)
	obj.Set("url", m.URL)
	obj.Set("originalUrl", m.OriginalURL)
	obj.Set("path", m.Path)
	obj.Set("protocol", m.Protocol)
	obj.Set("hostname", m.Hostname)
	obj.Set("secure", m.Secure)
	obj.Set("ip", m.IP)
	obj.Set("ips", m.IPs)
	obj.Set("body", m.Body)

	query := rt.NewObject()
	for k, v := range m.Query {
		query.Set(k, v)
	}
	obj.Set("query", query)

	params := rt.NewObject()
	for k, v := range m.Params {
		params.Set(k, v)
	}
	obj.Set("params", params)

	headers := rt.NewObject()
	for k, v := range m.Headers {
		headers.Set(k, v)
	}
	obj.Set("headers", headers)

	cookies := rt.NewObject()
	for k, v := range m.Cookies {
		cookies.Set(k, v)
	}
	obj.Set("cookies", cookies)

	obj.Set("get", func(call goja.FunctionCall) goja.Value {
		return rt.ToValue(m.Headers[strings.ToLower(call.Argument(0).String())])
	})
	obj.Set("header", obj.Get("get"))
	obj.Set("is", func(call goja.FunctionCall) goja.Value {
		ct := m.Headers["content-type"]
		return rt.ToValue(strings.Contains(ct, call.Argument(0).String()))
	})
	acceptsLike := func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			return rt.ToValue(false)
		}
		return call.Arguments[0]
	}
	obj.Set("accepts", acceptsLike)
	obj.Set("acceptsCharsets", acceptsLike)
	obj.Set("acceptsEncodings", acceptsLike)
	obj.Set("acceptsLanguages", acceptsLike)

	return obj
}

// buildResponseObject wires goja chainable methods against a Go-side
// responseAccumulator, returning the exposed res object.
func buildResponseObject(rt *goja.Runtime, acc *responseAccumulator) *goja.Object {
	res := rt.NewObject()

	res.Set("status", func(call goja.FunctionCall) goja.Value {
		acc.SetStatus(int(call.Argument(0).ToInteger()))
		return res
	})
	res.Set("sendStatus", func(call goja.FunctionCall) goja.Value {
		acc.WriteSendStatus(int(call.Argument(0).ToInteger()))
		return res
	})
	res.Set("json", func(call goja.FunctionCall) goja.Value {
		_ = acc.WriteJSON(call.Argument(0).Export())
		return res
	})
	res.Set("send", func(call goja.FunctionCall) goja.Value {
		_ = acc.WriteSend(exportSendBody(call.Argument(0)))
		return res
	})
	res.Set("end", func(call goja.FunctionCall) goja.Value {
		var body []byte
		if len(call.Arguments) > 0 {
			if s, ok := call.Argument(0).Export().(string); ok {
				body = []byte(s)
			}
		}
		acc.End(body)
		return res
	})
	setHeader := func(call goja.FunctionCall) goja.Value {
		acc.SetHeader(call.Argument(0).String(), call.Argument(1).String())
		return res
	}
	res.Set("setHeader", setHeader)
	res.Set("set", setHeader)
	res.Set("header", setHeader)
	res.Set("get", func(call goja.FunctionCall) goja.Value {
		return rt.ToValue(acc.GetHeader(call.Argument(0).String()))
	})
	res.Set("type", func(call goja.FunctionCall) goja.Value {
		acc.SetHeader("content-type", call.Argument(0).String())
		return res
	})
	res.Set("cookie", func(call goja.FunctionCall) goja.Value {
		maxAge := 0
		if opts := call.Argument(2).ToObject(rt); opts != nil {
			if v := opts.Get("maxAge"); v != nil && !goja.IsUndefined(v) {
				maxAge = int(v.ToInteger())
			}
		}
		acc.Cookie(call.Argument(0).String(), call.Argument(1).String(), maxAge)
		return res
	})
	res.Set("clearCookie", func(call goja.FunctionCall) goja.Value {
		acc.ClearCookie(call.Argument(0).String())
		return res
	})
	res.Set("redirect", func(call goja.FunctionCall) goja.Value {
		code := 302
		location := call.Argument(0).String()
		if len(call.Arguments) > 1 {
			code = int(call.Argument(0).ToInteger())
			location = call.Argument(1).String()
		}
		acc.Redirect(code, location)
		return res
	})
	res.Set("location", func(call goja.FunctionCall) goja.Value {
		acc.SetHeader("location", call.Argument(0).String())
		return res
	})
	res.Set("vary", func(call goja.FunctionCall) goja.Value {
		acc.Vary(call.Argument(0).String())
		return res
	})
	res.Set("append", func(call goja.FunctionCall) goja.Value {
		acc.Append(call.Argument(0).String(), call.Argument(1).String())
		return res
	})
	res.Set("attachment", func(call goja.FunctionCall) goja.Value {
		name := "file"
		if len(call.Arguments) > 0 {
			name = call.Argument(0).String()
		}
		acc.SetHeader("content-disposition", `attachment; filename="`+name+`"`)
		return res
	})
	res.Set("format", func(call goja.FunctionCall) goja.Value {
		if opts := call.Argument(0).ToObject(rt); opts != nil {
			if fn, ok := goja.AssertFunction(opts.Get("default")); ok {
				fn(goja.Undefined())
			}
		}
		return res
	})

	return res
}

func exportSendBody(v goja.Value) interface{} {
	if v == nil || goja.IsUndefined(v) {
		return nil
	}
	if buf, ok := v.Export().(goja.ArrayBuffer); ok {
		return buf.Bytes()
	}
	return v.Export()
}
