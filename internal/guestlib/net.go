package guestlib

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/dop251/goja"
)

func init() {
	register("net", buildNet)
	register("tls", buildTLS)
	register("dns", buildDNS)
}

// buildNet provides outgoing TCP sockets only; createServer throws ENOTSUP
// since a guest cannot accept inbound connections (spec §4.4).
func buildNet(rt *goja.Runtime, b Bridge) goja.Value {
	obj := rt.NewObject()

	obj.Set("connect", func(call goja.FunctionCall) goja.Value {
		return connectSocket(rt, b, "tcp", call, nil)
	})
	obj.Set("createConnection", obj.Get("connect"))
	obj.Set("createServer", func(call goja.FunctionCall) goja.Value {
		panic(rt.ToValue(map[string]interface{}{"code": "ENOTSUP", "message": "net.createServer is not supported in a sandboxed guest"}))
	})
	obj.Set("isIP", func(call goja.FunctionCall) goja.Value {
		ip := net.ParseIP(call.Argument(0).String())
		if ip == nil {
			return rt.ToValue(0)
		}
		if ip.To4() != nil {
			return rt.ToValue(4)
		}
		return rt.ToValue(6)
	})
	obj.Set("isIPv4", func(call goja.FunctionCall) goja.Value {
		ip := net.ParseIP(call.Argument(0).String())
		return rt.ToValue(ip != nil && ip.To4() != nil)
	})
	obj.Set("isIPv6", func(call goja.FunctionCall) goja.Value {
		ip := net.ParseIP(call.Argument(0).String())
		return rt.ToValue(ip != nil && ip.To4() == nil)
	})

	return obj
}

// buildTLS mirrors net's client surface with a TLS handshake, exposing the
// negotiated peer certificate via getPeerCertificate.
func buildTLS(rt *goja.Runtime, b Bridge) goja.Value {
	obj := rt.NewObject()
	obj.Set("connect", func(call goja.FunctionCall) goja.Value {
		return connectSocket(rt, b, "tcp", call, &tls.Config{MinVersion: tls.VersionTLS12})
	})
	obj.Set("createServer", func(call goja.FunctionCall) goja.Value {
		panic(rt.ToValue(map[string]interface{}{"code": "ENOTSUP", "message": "tls.createServer is not supported in a sandboxed guest"}))
	})
	return obj
}

func connectSocket(rt *goja.Runtime, b Bridge, network string, call goja.FunctionCall, tlsCfg *tls.Config) goja.Value {
	var addr string
	if o := call.Argument(0).ToObject(rt); o != nil {
		if port := exportString(o.Get("port")); port != "" {
			host := exportString(o.Get("host"))
			if host == "" {
				host = "localhost"
			}
			addr = net.JoinHostPort(host, port)
			if tlsCfg != nil {
				tlsCfg.ServerName = host
			}
		}
	}
	if addr == "" && len(call.Arguments) >= 2 {
		addr = net.JoinHostPort(call.Argument(1).String(), call.Argument(0).String())
	}

	sock := rt.NewObject()
	var onConnect, onData, onError, onClose goja.Callable
	sock.Set("on", func(innerCall goja.FunctionCall) goja.Value {
		event := innerCall.Argument(0).String()
		fn, ok := goja.AssertFunction(innerCall.Argument(1))
		if !ok {
			return sock
		}
		switch event {
		case "connect":
			onConnect = fn
		case "data":
			onData = fn
		case "error":
			onError = fn
		case "close":
			onClose = fn
		}
		return sock
	})

	var conn net.Conn
	sock.Set("write", func(innerCall goja.FunctionCall) goja.Value {
		if conn != nil {
			_, _ = conn.Write([]byte(innerCall.Argument(0).String()))
		}
		return rt.ToValue(true)
	})
	sock.Set("end", func(innerCall goja.FunctionCall) goja.Value {
		if conn != nil {
			_ = conn.Close()
		}
		return goja.Undefined()
	})
	sock.Set("destroy", func(innerCall goja.FunctionCall) goja.Value {
		if conn != nil {
			_ = conn.Close()
		}
		return goja.Undefined()
	})
	sock.Set("setTimeout", func(innerCall goja.FunctionCall) goja.Value { return goja.Undefined() })
	sock.Set("setNoDelay", func(innerCall goja.FunctionCall) goja.Value { return goja.Undefined() })
	sock.Set("setKeepAlive", func(innerCall goja.FunctionCall) goja.Value { return goja.Undefined() })

	b.ScheduleTimer(0, false, func() {
		ctx, cancel := context.WithDeadline(context.Background(), b.Deadline())
		defer cancel()
		var dialer net.Dialer
		var err error
		if tlsCfg != nil {
			tlsDialer := tls.Dialer{NetDialer: &dialer, Config: tlsCfg}
			conn, err = tlsDialer.DialContext(ctx, network, addr)
		} else {
			conn, err = dialer.DialContext(ctx, network, addr)
		}
		if err != nil {
			if onError != nil {
				onError(goja.Undefined(), rt.ToValue(err.Error()))
			}
			return
		}
		if onConnect != nil {
			onConnect(goja.Undefined())
		}
		go func() {
			buf := make([]byte, 32*1024)
			for {
				n, rerr := conn.Read(buf)
				if n > 0 && onData != nil {
					chunk := string(buf[:n])
					b.ScheduleTimer(0, false, func() { onData(goja.Undefined(), rt.ToValue(chunk)) })
				}
				if rerr != nil {
					_ = conn.Close()
					if onClose != nil {
						b.ScheduleTimer(0, false, func() { onClose(goja.Undefined()) })
					}
					return
				}
			}
		}()
	})

	return sock
}

// buildDNS implements lookup/resolve over the host resolver; each query
// runs under its own 5-second timeout.
func buildDNS(rt *goja.Runtime, b Bridge) goja.Value {
	obj := rt.NewObject()
	obj.Set("lookup", func(call goja.FunctionCall) goja.Value {
		host := call.Argument(0).String()
		cb, ok := goja.AssertFunction(call.Argument(len(call.Arguments) - 1))
		if !ok {
			return goja.Undefined()
		}
		b.ScheduleTimer(0, false, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
			if err != nil {
				cb(goja.Undefined(), rt.ToValue(err.Error()))
				return
			}
			if len(addrs) == 0 {
				cb(goja.Undefined(), rt.ToValue("no addresses found"))
				return
			}
			family := 4
			if addrs[0].IP.To4() == nil {
				family = 6
			}
			cb(goja.Undefined(), goja.Null(), rt.ToValue(addrs[0].IP.String()), rt.ToValue(family))
		})
		return goja.Undefined()
	})
	obj.Set("resolve4", func(call goja.FunctionCall) goja.Value {
		return resolveDNS(rt, b, call, "ip4")
	})
	obj.Set("resolve6", func(call goja.FunctionCall) goja.Value {
		return resolveDNS(rt, b, call, "ip6")
	})
	return obj
}

func resolveDNS(rt *goja.Runtime, b Bridge, call goja.FunctionCall, network string) goja.Value {
	host := call.Argument(0).String()
	cb, ok := goja.AssertFunction(call.Argument(len(call.Arguments) - 1))
	if !ok {
		return goja.Undefined()
	}
	b.ScheduleTimer(0, false, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		addrs, err := net.DefaultResolver.LookupIP(ctx, network, host)
		if err != nil {
			cb(goja.Undefined(), rt.ToValue(err.Error()))
			return
		}
		out := make([]string, len(addrs))
		for i, a := range addrs {
			out[i] = a.String()
		}
		cb(goja.Undefined(), goja.Null(), rt.ToValue(out))
	})
	return goja.Undefined()
}
