package sandbox

import "strings"

// RequestMirror is the guest-visible view of the inbound HTTP request. It
// is built by the dispatcher from the outer request and handed to the
// guest handler as its first argument; sensitive headers never reach it.
type RequestMirror struct {
	Method      string
	URL         string
	OriginalURL string
	Path        string
	Protocol    string
	Hostname    string
	Secure      bool
	IP          string
	IPs         []string
	Body        interface{}
	Query       map[string]interface{}
	Params      map[string]interface{}
	Headers     map[string]string
	Cookies     map[string]string
}

var strippedHeaders = map[string]bool{
	"x-api-key":     true,
	"authorization": true,
	"cookie":        true,
}

// SanitizeHeaders lower-cases every key and drops entries that must never
// reach the guest (spec §4.5's request mirror contract).
func SanitizeHeaders(raw map[string][]string) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		lower := strings.ToLower(k)
		if strippedHeaders[lower] || len(v) == 0 {
			continue
		}
		out[lower] = strings.Join(v, ", ")
	}
	return out
}

// ScheduledRequestMirror synthesizes the minimal request mirror a cron-
// triggered invocation presents to the guest.
func ScheduledRequestMirror() *RequestMirror {
	return &RequestMirror{
		Method:      "POST",
		URL:         "/scheduled",
		OriginalURL: "/scheduled",
		Path:        "/scheduled",
		Protocol:    "http",
		Hostname:    "localhost",
		Secure:      false,
		IP:          "127.0.0.1",
		IPs:         []string{"127.0.0.1"},
		Body:        nil,
		Query:       map[string]interface{}{},
		Params:      map[string]interface{}{},
		Headers:     map[string]string{"x-scheduled-execution": "true"},
		Cookies:     map[string]string{},
	}
}
