package guestlib

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/dop251/goja"
)

func newBufReader(r io.Reader) *bufio.Reader {
	return bufio.NewReader(r)
}

func init() {
	register("ws", buildWS)
}

const (
	wsOpText   = 0x1
	wsOpBinary = 0x2
	wsOpClose  = 0x8
	wsOpPing   = 0x9
	wsOpPong   = 0xA
)

// buildWS implements a client-only RFC 6455 WebSocket: connect via HTTP
// Upgrade, mask every outgoing frame, reassemble fragmented incoming
// frames, and answer ping with pong. WebSocketServer throws ENOTSUP.
func buildWS(rt *goja.Runtime, b Bridge) goja.Value {
	obj := rt.NewObject()

	obj.Set("WebSocket", func(call goja.ConstructorCall) *goja.Object {
		ws := call.This
		rawURL := call.Arguments[0].String()

		var onOpen, onMessage, onClose, onError goja.Callable
		ws.Set("on", func(innerCall goja.FunctionCall) goja.Value {
			event := innerCall.Argument(0).String()
			fn, ok := goja.AssertFunction(innerCall.Argument(1))
			if !ok {
				return ws
			}
			switch event {
			case "open":
				onOpen = fn
			case "message":
				onMessage = fn
			case "close":
				onClose = fn
			case "error":
				onError = fn
			}
			return ws
		})

		var conn net.Conn
		ws.Set("send", func(innerCall goja.FunctionCall) goja.Value {
			if conn != nil {
				writeWSFrame(conn, wsOpText, []byte(innerCall.Argument(0).String()))
			}
			return goja.Undefined()
		})
		ws.Set("close", func(innerCall goja.FunctionCall) goja.Value {
			if conn != nil {
				writeWSFrame(conn, wsOpClose, nil)
				_ = conn.Close()
			}
			return goja.Undefined()
		})

		b.ScheduleTimer(0, false, func() {
			var err error
			conn, err = dialWS(context.Background(), rawURL)
			if err != nil {
				if onError != nil {
					onError(goja.Undefined(), rt.ToValue(err.Error()))
				}
				return
			}
			if onOpen != nil {
				onOpen(goja.Undefined())
			}
			go pumpWS(conn, func(opcode byte, payload []byte) bool {
				switch opcode {
				case wsOpClose:
					return false
				case wsOpPing:
					writeWSFrame(conn, wsOpPong, payload)
				case wsOpText, wsOpBinary:
					if onMessage != nil {
						msg := string(payload)
						b.ScheduleTimer(0, false, func() { onMessage(goja.Undefined(), rt.ToValue(msg)) })
					}
				}
				return true
			}, func() {
				if onClose != nil {
					b.ScheduleTimer(0, false, func() { onClose(goja.Undefined()) })
				}
			})
		})

		return nil
	})

	obj.Set("WebSocketServer", func(call goja.ConstructorCall) *goja.Object {
		panic(rt.ToValue(map[string]interface{}{"code": "ENOTSUP", "message": "ws.WebSocketServer is not supported in a sandboxed guest"}))
	})

	return obj
}

func dialWS(ctx context.Context, rawURL string) (net.Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	host := u.Host
	if !strings.Contains(host, ":") {
		if u.Scheme == "wss" {
			host += ":443"
		} else {
			host += ":80"
		}
	}
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, err
	}

	key := make([]byte, 16)
	_, _ = rand.Read(key)
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Sec-WebSocket-Key", base64.StdEncoding.EncodeToString(key))
	req.Header.Set("Sec-WebSocket-Version", "13")
	if err := req.Write(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}
	resp, err := http.ReadResponse(newBufReader(conn), req)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		_ = conn.Close()
		return nil, io.ErrUnexpectedEOF
	}
	return conn, nil
}

func writeWSFrame(conn net.Conn, opcode byte, payload []byte) {
	var header []byte
	header = append(header, 0x80|opcode)
	mask := make([]byte, 4)
	_, _ = rand.Read(mask)
	length := len(payload)
	switch {
	case length <= 125:
		header = append(header, 0x80|byte(length))
	case length <= 65535:
		ext := make([]byte, 2)
		binary.BigEndian.PutUint16(ext, uint16(length))
		header = append(header, 0x80|126)
		header = append(header, ext...)
	default:
		ext := make([]byte, 8)
		binary.BigEndian.PutUint64(ext, uint64(length))
		header = append(header, 0x80|127)
		header = append(header, ext...)
	}
	header = append(header, mask...)
	masked := make([]byte, length)
	for i := range payload {
		masked[i] = payload[i] ^ mask[i%4]
	}
	_, _ = conn.Write(append(header, masked...))
}

func pumpWS(conn net.Conn, onFrame func(opcode byte, payload []byte) bool, onClose func()) {
	defer onClose()
	r := newBufReader(conn)
	var fragments []byte
	var fragOpcode byte
	for {
		head := make([]byte, 2)
		if _, err := io.ReadFull(r, head); err != nil {
			return
		}
		fin := head[0]&0x80 != 0
		opcode := head[0] & 0x0f
		masked := head[1]&0x80 != 0
		length := int64(head[1] & 0x7f)
		switch length {
		case 126:
			ext := make([]byte, 2)
			if _, err := io.ReadFull(r, ext); err != nil {
				return
			}
			length = int64(binary.BigEndian.Uint16(ext))
		case 127:
			ext := make([]byte, 8)
			if _, err := io.ReadFull(r, ext); err != nil {
				return
			}
			length = int64(binary.BigEndian.Uint64(ext))
		}
		var mask []byte
		if masked {
			mask = make([]byte, 4)
			if _, err := io.ReadFull(r, mask); err != nil {
				return
			}
		}
		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return
		}
		if masked {
			for i := range payload {
				payload[i] ^= mask[i%4]
			}
		}
		if opcode == 0 {
			fragments = append(fragments, payload...)
		} else if opcode == wsOpText || opcode == wsOpBinary {
			if !fin {
				fragOpcode = opcode
				fragments = append([]byte{}, payload...)
				continue
			}
			if !onFrame(opcode, payload) {
				return
			}
			continue
		} else {
			if !onFrame(opcode, payload) {
				return
			}
			continue
		}
		if fin {
			if !onFrame(fragOpcode, fragments) {
				return
			}
			fragments = nil
		}
	}
}
