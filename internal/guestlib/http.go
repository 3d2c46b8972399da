package guestlib

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dop251/goja"
)

func init() {
	register("http", buildHTTPModule("http"))
	register("https", buildHTTPModule("https"))
}

var sharedHTTPClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: 8,
		IdleConnTimeout:     90 * time.Second,
	},
}

// buildHTTPModule returns a Module building a client-only http/https
// surface: request/get work against the shared keep-alive pool and respect
// the invocation's wall-clock deadline; createServer is not supported in a
// sandboxed guest and throws ENOTSUP.
func buildHTTPModule(scheme string) Module {
	return func(rt *goja.Runtime, b Bridge) goja.Value {
		obj := rt.NewObject()

		doRequest := func(call goja.FunctionCall) goja.Value {
			urlStr, method, headers, body := parseHTTPArgs(rt, scheme, call)

			ctx, cancel := context.WithDeadline(context.Background(), b.Deadline())
			req, err := http.NewRequestWithContext(ctx, method, urlStr, bytes.NewReader(body))
			if err != nil {
				cancel()
				panic(rt.ToValue(err.Error()))
			}
			for k, v := range headers {
				req.Header.Set(k, v)
			}

			clientReq := rt.NewObject()
			var onResponse, onError, onTimeout goja.Callable
			clientReq.Set("on", func(innerCall goja.FunctionCall) goja.Value {
				event := innerCall.Argument(0).String()
				fn, ok := goja.AssertFunction(innerCall.Argument(1))
				if !ok {
					return clientReq
				}
				switch event {
				case "response":
					onResponse = fn
				case "error":
					onError = fn
				case "timeout":
					onTimeout = fn
				}
				return clientReq
			})
			var written bytes.Buffer
			clientReq.Set("write", func(innerCall goja.FunctionCall) goja.Value {
				written.WriteString(innerCall.Argument(0).String())
				return rt.ToValue(true)
			})
			clientReq.Set("end", func(innerCall goja.FunctionCall) goja.Value {
				if written.Len() > 0 {
					req.Body = io.NopCloser(&written)
					req.ContentLength = int64(written.Len())
				}
				b.ScheduleTimer(0, false, func() {
					defer cancel()
					resp, err := sharedHTTPClient.Do(req)
					if err != nil {
						if ctx.Err() == context.DeadlineExceeded && onTimeout != nil {
							onTimeout(goja.Undefined())
							return
						}
						if onError != nil {
							onError(goja.Undefined(), rt.ToValue(err.Error()))
						}
						return
					}
					defer resp.Body.Close()
					payload, _ := io.ReadAll(resp.Body)
					if onResponse != nil {
						msg, emit := buildIncomingMessage(rt, resp)
						onResponse(goja.Undefined(), msg)
						emit(payload)
					}
				})
				return goja.Undefined()
			})
			clientReq.Set("setHeader", func(innerCall goja.FunctionCall) goja.Value {
				req.Header.Set(innerCall.Argument(0).String(), innerCall.Argument(1).String())
				return goja.Undefined()
			})
			clientReq.Set("abort", func(innerCall goja.FunctionCall) goja.Value {
				cancel()
				return goja.Undefined()
			})
			return clientReq
		}

		obj.Set("request", doRequest)
		obj.Set("get", func(call goja.FunctionCall) goja.Value {
			req := doRequest(call)
			if reqObj := req.ToObject(rt); reqObj != nil {
				if end, ok := goja.AssertFunction(reqObj.Get("end")); ok {
					end(goja.Undefined())
				}
			}
			return req
		})
		obj.Set("createServer", func(call goja.FunctionCall) goja.Value {
			panic(rt.ToValue(map[string]interface{}{"code": "ENOTSUP", "message": scheme + ".createServer is not supported in a sandboxed guest"}))
		})

		agent := rt.NewObject()
		agent.Set("maxSockets", 8)
		obj.Set("Agent", func(call goja.ConstructorCall) *goja.Object { return agent })
		obj.Set("globalAgent", agent)

		return obj
	}
}

func parseHTTPArgs(rt *goja.Runtime, scheme string, call goja.FunctionCall) (urlStr, method string, headers map[string]string, body []byte) {
	method = "GET"
	headers = map[string]string{}
	if len(call.Arguments) == 0 {
		return "", method, headers, nil
	}
	first := call.Arguments[0]
	if s, ok := first.Export().(string); ok {
		urlStr = s
	} else if o := first.ToObject(rt); o != nil {
		host := exportString(o.Get("hostname"))
		if host == "" {
			host = exportString(o.Get("host"))
		}
		path := exportString(o.Get("path"))
		if path == "" {
			path = "/"
		}
		urlStr = scheme + "://" + host + path
		if m := exportString(o.Get("method")); m != "" {
			method = strings.ToUpper(m)
		}
		if hdrs := o.Get("headers"); hdrs != nil {
			if hdrObj := hdrs.ToObject(rt); hdrObj != nil {
				for _, k := range hdrObj.Keys() {
					headers[k] = exportString(hdrObj.Get(k))
				}
			}
		}
	}
	return urlStr, method, headers, body
}

func exportString(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	if s, ok := v.Export().(string); ok {
		return s
	}
	return ""
}

// buildIncomingMessage constructs the response object and returns an emit
// function the caller invokes once the guest's "response" handler has had a
// chance to attach data/end listeners.
func buildIncomingMessage(rt *goja.Runtime, resp *http.Response) (*goja.Object, func(payload []byte)) {
	msg := rt.NewObject()
	msg.Set("statusCode", resp.StatusCode)
	msg.Set("statusMessage", resp.Status)
	headers := rt.NewObject()
	for k := range resp.Header {
		headers.Set(strings.ToLower(k), resp.Header.Get(k))
	}
	msg.Set("headers", headers)

	var onData, onEnd goja.Callable
	msg.Set("on", func(call goja.FunctionCall) goja.Value {
		event := call.Argument(0).String()
		fn, ok := goja.AssertFunction(call.Argument(1))
		if !ok {
			return msg
		}
		switch event {
		case "data":
			onData = fn
		case "end":
			onEnd = fn
		}
		return msg
	})
	msg.Set("setEncoding", func(call goja.FunctionCall) goja.Value { return goja.Undefined() })

	emit := func(payload []byte) {
		if onData != nil {
			onData(goja.Undefined(), rt.ToValue(string(payload)))
		}
		if onEnd != nil {
			onEnd(goja.Undefined())
		}
	}
	return msg, emit
}
