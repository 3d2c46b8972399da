package guestlib

import (
	"net/url"
	"strings"

	"github.com/dop251/goja"
)

func init() {
	register("url", buildURL)
}

// buildURL emulates WHATWG URL/URLSearchParams plus legacy parse/format,
// built atop Go's net/url (host implements, guest thins).
func buildURL(rt *goja.Runtime, b Bridge) goja.Value {
	obj := rt.NewObject()

	newURLSearchParams := func(initial string) *goja.Object {
		values, _ := url.ParseQuery(initial)
		sp := rt.NewObject()
		get := func(call goja.FunctionCall) goja.Value {
			v := values.Get(call.Argument(0).String())
			return rt.ToValue(v)
		}
		set := func(call goja.FunctionCall) goja.Value {
			values.Set(call.Argument(0).String(), call.Argument(1).String())
			return goja.Undefined()
		}
		appendFn := func(call goja.FunctionCall) goja.Value {
			values.Add(call.Argument(0).String(), call.Argument(1).String())
			return goja.Undefined()
		}
		deleteFn := func(call goja.FunctionCall) goja.Value {
			values.Del(call.Argument(0).String())
			return goja.Undefined()
		}
		has := func(call goja.FunctionCall) goja.Value {
			return rt.ToValue(values.Has(call.Argument(0).String()))
		}
		toStringFn := func(call goja.FunctionCall) goja.Value {
			return rt.ToValue(values.Encode())
		}
		getAll := func(call goja.FunctionCall) goja.Value {
			return rt.ToValue(values[call.Argument(0).String()])
		}
		sp.Set("get", get)
		sp.Set("set", set)
		sp.Set("append", appendFn)
		sp.Set("delete", deleteFn)
		sp.Set("has", has)
		sp.Set("getAll", getAll)
		sp.Set("toString", toStringFn)
		return sp
	}

	newURL := func(raw, base string) (*goja.Object, error) {
		full := raw
		if base != "" {
			parsedBase, err := url.Parse(base)
			if err != nil {
				return nil, err
			}
			parsedRef, err := url.Parse(raw)
			if err != nil {
				return nil, err
			}
			full = parsedBase.ResolveReference(parsedRef).String()
		}
		u, err := url.Parse(full)
		if err != nil {
			return nil, err
		}
		o := rt.NewObject()
		o.Set("href", u.String())
		o.Set("protocol", u.Scheme+":")
		o.Set("host", u.Host)
		o.Set("hostname", u.Hostname())
		o.Set("port", u.Port())
		o.Set("pathname", u.Path)
		o.Set("search", queryString(u))
		o.Set("hash", fragmentString(u))
		o.Set("origin", u.Scheme+"://"+u.Host)
		o.Set("searchParams", newURLSearchParams(u.RawQuery))
		o.Set("toString", func(goja.FunctionCall) goja.Value { return rt.ToValue(u.String()) })
		return o, nil
	}

	obj.Set("URL", func(call goja.ConstructorCall) *goja.Object {
		base := ""
		if len(call.Arguments) > 1 {
			base = call.Arguments[1].String()
		}
		u, err := newURL(call.Arguments[0].String(), base)
		if err != nil {
			panic(rt.ToValue(map[string]interface{}{"message": "Invalid URL: " + err.Error()}))
		}
		return u
	})

	obj.Set("URLSearchParams", func(call goja.ConstructorCall) *goja.Object {
		initial := ""
		if len(call.Arguments) > 0 {
			initial = call.Arguments[0].String()
		}
		return newURLSearchParams(strings.TrimPrefix(initial, "?"))
	})

	obj.Set("parse", func(call goja.FunctionCall) goja.Value {
		u, err := newURL(call.Argument(0).String(), "")
		if err != nil {
			return goja.Null()
		}
		return u
	})

	obj.Set("format", func(call goja.FunctionCall) goja.Value {
		o := call.Argument(0).ToObject(rt)
		return o.Get("href")
	})

	return obj
}

func queryString(u *url.URL) string {
	if u.RawQuery == "" {
		return ""
	}
	return "?" + u.RawQuery
}

func fragmentString(u *url.URL) string {
	if u.Fragment == "" {
		return ""
	}
	return "#" + u.Fragment
}
