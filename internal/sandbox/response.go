package sandbox

import (
	"encoding/json"
	"strconv"
	"strings"
)

// ExecutionResult is the normalized outcome of invoking a guest handler
// (spec §4.5 Collect step). Exactly one of the three outcomes applies:
// an accumulator-written response, a bare return value treated as a JSON
// body, or NoOutput.
type ExecutionResult struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	NoOutput   bool
}

// responseAccumulator is the host-side backing store for the guest's `res`
// object (guestlib builds the JS-facing chainable methods against it).
// Headers are always stored lower-cased.
type responseAccumulator struct {
	status  int
	headers map[string]string
	body    []byte
	written bool
}

func newResponseAccumulator() *responseAccumulator {
	return &responseAccumulator{status: 200, headers: map[string]string{}}
}

func (r *responseAccumulator) SetStatus(code int) {
	r.status = code
}

func (r *responseAccumulator) SetHeader(key, value string) {
	r.headers[strings.ToLower(key)] = value
}

func (r *responseAccumulator) GetHeader(key string) string {
	return r.headers[strings.ToLower(key)]
}

// WriteJSON marks the response as written with a JSON-encoded body and
// content-type application/json, matching `res.json(...)`.
func (r *responseAccumulator) WriteJSON(v interface{}) error {
	encoded, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.body = encoded
	r.written = true
	if r.GetHeader("content-type") == "" {
		r.SetHeader("content-type", "application/json")
	}
	return nil
}

// WriteSend implements `res.send(body)`'s content-type inference (§9 Open
// Question #1, resolved in SPEC_FULL.md's E5 item 1): raw []byte with no
// explicit content-type is written verbatim as application/octet-stream;
// a string defaults to text/plain; anything else is JSON-encoded.
func (r *responseAccumulator) WriteSend(body interface{}) error {
	r.written = true
	switch v := body.(type) {
	case []byte:
		r.body = v
		if r.GetHeader("content-type") == "" {
			r.SetHeader("content-type", "application/octet-stream")
		}
	case string:
		r.body = []byte(v)
		if r.GetHeader("content-type") == "" {
			r.SetHeader("content-type", "text/plain; charset=utf-8")
		}
	case nil:
		r.body = nil
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return err
		}
		r.body = encoded
		if r.GetHeader("content-type") == "" {
			r.SetHeader("content-type", "application/json")
		}
	}
	return nil
}

func (r *responseAccumulator) WriteSendStatus(code int) {
	r.status = code
	r.written = true
	if r.GetHeader("content-type") == "" {
		r.SetHeader("content-type", "text/plain; charset=utf-8")
	}
	r.body = []byte(statusText(code))
}

func (r *responseAccumulator) End(body []byte) {
	r.written = true
	if body != nil {
		r.body = body
	}
}

func (r *responseAccumulator) Cookie(name, value string, maxAgeSeconds int) {
	cookie := name + "=" + value
	if maxAgeSeconds > 0 {
		cookie += "; Max-Age=" + strconv.Itoa(maxAgeSeconds)
	}
	existing := r.headers["set-cookie"]
	if existing != "" {
		existing += ", "
	}
	r.headers["set-cookie"] = existing + cookie
}

func (r *responseAccumulator) ClearCookie(name string) {
	r.Cookie(name, "", -1)
}

func (r *responseAccumulator) Redirect(statusCode int, location string) {
	r.status = statusCode
	r.SetHeader("location", location)
	r.written = true
}

func (r *responseAccumulator) Vary(field string) {
	existing := r.headers["vary"]
	if existing == "" {
		r.headers["vary"] = field
		return
	}
	r.headers["vary"] = existing + ", " + field
}

func (r *responseAccumulator) Append(key, value string) {
	lower := strings.ToLower(key)
	existing := r.headers[lower]
	if existing == "" {
		r.headers[lower] = value
		return
	}
	r.headers[lower] = existing + ", " + value
}

func (r *responseAccumulator) toResult() ExecutionResult {
	return ExecutionResult{StatusCode: r.status, Headers: r.headers, Body: r.body}
}

func statusText(code int) string {
	switch code {
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 204:
		return "No Content"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 500:
		return "Internal Server Error"
	case 503:
		return "Service Unavailable"
	case 504:
		return "Gateway Timeout"
	default:
		return strconv.Itoa(code)
	}
}
