package dispatch

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/novacore/novacore/internal/domain"
	"github.com/novacore/novacore/internal/sandbox"
)

// errorResponseBody is the standard shape for OutOfMemory, BadExport, and
// uncaught-guest-error responses (spec §4.6 step 6).
type errorResponseBody struct {
	Success       bool                  `json:"success"`
	Data          interface{}           `json:"data"`
	Message       string                `json:"message"`
	ExecutionTime int64                 `json:"executionTime"`
	Console       []domain.ConsoleEntry `json:"console"`
}

// errorOutcome shapes a non-2xx guest or sandbox error into the outer HTTP
// response (spec §4.6 step 6's error-mapping contract), always status 500
// per the error-kind table: OutOfMemory, BadExport, NoOutput, and uncaught
// GuestError all surface as 500 with the captured console log attached.
func errorOutcome(err error, result sandbox.Result, executionTimeMs int64) Outcome {
	body, marshalErr := json.Marshal(errorResponseBody{
		Success:       false,
		Data:          nil,
		Message:       err.Error(),
		ExecutionTime: executionTimeMs,
		Console:       result.Console,
	})
	if marshalErr != nil {
		body = []byte(`{"success":false,"message":"` + jsonEscape(err.Error()) + `"}`)
	}
	return Outcome{
		StatusCode: 500,
		Headers:    map[string]string{"content-type": "application/json"},
		Body:       body,
	}
}

func jsonEscape(s string) string {
	b, _ := json.Marshal(s)
	if len(b) < 2 {
		return s
	}
	return string(b[1 : len(b)-1])
}

const maxRequestBodyBytes = 10 * 1024 * 1024

// capturedRequest holds everything read off the outer *http.Request once,
// up front, so the guest-facing mirror and the durable execution log never
// need to read r.Body a second time.
type capturedRequest struct {
	rawBody []byte
}

// buildMirrorFromRequest drains the request body (bounded to
// maxRequestBodyBytes) and builds the guest-visible RequestMirror (spec
// §4.5). The raw body is returned alongside so the caller can still log it
// without re-reading r.Body.
func buildMirrorFromRequest(r *http.Request) (*sandbox.RequestMirror, *capturedRequest) {
	var body []byte
	if r.Body != nil {
		body, _ = io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
		r.Body.Close()
	}

	query := make(map[string]interface{}, len(r.URL.Query()))
	for k, vs := range r.URL.Query() {
		if len(vs) == 1 {
			query[k] = vs[0]
		} else {
			anyVs := make([]interface{}, len(vs))
			for i, v := range vs {
				anyVs[i] = v
			}
			query[k] = anyVs
		}
	}

	cookies := make(map[string]string)
	for _, c := range r.Cookies() {
		cookies[c.Name] = c.Value
	}

	mirror := &sandbox.RequestMirror{
		Method:      r.Method,
		URL:         r.URL.RequestURI(),
		OriginalURL: r.URL.RequestURI(),
		Path:        r.URL.Path,
		Protocol:    "http",
		Hostname:    r.Host,
		Secure:      r.TLS != nil,
		IP:          clientAddr(r),
		IPs:         []string{clientAddr(r)},
		Body:        decodeBody(body, r.Header.Get("Content-Type")),
		Query:       query,
		Params:      map[string]interface{}{},
		Headers:     sandbox.SanitizeHeaders(r.Header),
		Cookies:     cookies,
	}
	return mirror, &capturedRequest{rawBody: body}
}

// decodeBody mirrors Express's body-parser behavior closely enough for the
// guest: JSON content types are parsed into Go values the guest sees as
// plain objects, everything else is handed over as a raw string.
func decodeBody(body []byte, contentType string) interface{} {
	if len(body) == 0 {
		return nil
	}
	if isJSONContentType(contentType) {
		var parsed interface{}
		if err := json.Unmarshal(body, &parsed); err == nil {
			return parsed
		}
	}
	return string(body)
}

func isJSONContentType(contentType string) bool {
	for i := 0; i < len(contentType); i++ {
		if contentType[i] == ';' {
			contentType = contentType[:i]
			break
		}
	}
	return contentType == "application/json" || contentType == "text/json"
}

func clientAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}

// enqueueLog assembles and enqueues the durable execution-log record for
// one invocation. Per C1's contract this never blocks or fails the caller:
// the batcher drops or retries on its own, never here.
func (d *Dispatcher) enqueueLog(
	fn *domain.Function,
	method, url string,
	started time.Time,
	outcome Outcome,
	result sandbox.Result,
	execErr error,
	requestBody *capturedRequest,
	clientAddr string,
	userAgent string,
) {
	loggedReqBody, reqSize := "", int64(0)
	if requestBody != nil {
		loggedReqBody, reqSize = domain.TruncateForLog(requestBody.rawBody)
	}
	loggedRespBody, respSize := domain.TruncateForLog(outcome.Body)

	log := &domain.ExecutionLog{
		ID:            uuid.New().String(),
		FunctionID:    fn.ID,
		StatusCode:    outcome.StatusCode,
		DurationMS:    time.Since(started).Milliseconds(),
		RequestMethod: method,
		RequestURL:    url,
		RequestBody:   loggedReqBody,
		RequestSize:   reqSize,
		ResponseBody:  loggedRespBody,
		ResponseSize:  respSize,
		ConsoleLog:    result.Console,
		ClientAddr:    clientAddr,
		UserAgent:     userAgent,
		ExecutedAt:    started,
	}
	if respHeaders, err := json.Marshal(outcome.Headers); err == nil {
		log.ResponseHeaders = respHeaders
	}
	if execErr != nil {
		log.ErrorMessage = execErr.Error()
	}

	d.logs.Enqueue(log)
}
