package dispatch

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/novacore/novacore/internal/apperr"
	"github.com/novacore/novacore/internal/domain"
	"github.com/novacore/novacore/internal/sandbox"
)

func TestBuildMirrorFromRequest_JSONBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/invoke/fn-1?x=1&y=2", strings.NewReader(`{"hello":"world"}`))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Authorization", "Bearer secret")
	r.Header.Set("X-Custom", "keep-me")
	r.AddCookie(&http.Cookie{Name: "session", Value: "abc"})

	mirror, captured := buildMirrorFromRequest(r)

	if mirror.Method != http.MethodPost {
		t.Fatalf("method = %q", mirror.Method)
	}
	if mirror.Path != "/invoke/fn-1" {
		t.Fatalf("path = %q", mirror.Path)
	}
	if mirror.Query["x"] != "1" || mirror.Query["y"] != "2" {
		t.Fatalf("query = %+v", mirror.Query)
	}
	if _, ok := mirror.Headers["authorization"]; ok {
		t.Fatal("authorization header must be stripped from the guest mirror")
	}
	if mirror.Headers["x-custom"] != "keep-me" {
		t.Fatalf("expected x-custom header preserved, got %+v", mirror.Headers)
	}
	if mirror.Cookies["session"] != "abc" {
		t.Fatalf("cookies = %+v", mirror.Cookies)
	}
	decoded, ok := mirror.Body.(map[string]interface{})
	if !ok || decoded["hello"] != "world" {
		t.Fatalf("expected decoded JSON body, got %#v", mirror.Body)
	}
	if captured == nil || string(captured.rawBody) != `{"hello":"world"}` {
		t.Fatalf("captured raw body mismatch: %+v", captured)
	}
}

func TestBuildMirrorFromRequest_NonJSONBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/invoke/fn-1", strings.NewReader("plain text"))
	r.Header.Set("Content-Type", "text/plain")

	mirror, captured := buildMirrorFromRequest(r)

	if s, ok := mirror.Body.(string); !ok || s != "plain text" {
		t.Fatalf("expected raw string body, got %#v", mirror.Body)
	}
	if string(captured.rawBody) != "plain text" {
		t.Fatalf("captured raw body mismatch: %q", captured.rawBody)
	}
}

func TestBuildMirrorFromRequest_EmptyBody(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/invoke/fn-1", nil)
	mirror, captured := buildMirrorFromRequest(r)
	if mirror.Body != nil {
		t.Fatalf("expected nil body for empty request, got %#v", mirror.Body)
	}
	if len(captured.rawBody) != 0 {
		t.Fatalf("expected empty captured body, got %q", captured.rawBody)
	}
}

func TestClientAddr_PrefersForwardedFor(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("X-Forwarded-For", "203.0.113.5")
	if got := clientAddr(r); got != "203.0.113.5" {
		t.Fatalf("clientAddr = %q", got)
	}
}

func TestErrorOutcome_IncludesConsoleAndExecutionTime(t *testing.T) {
	result := sandbox.Result{Console: []domain.ConsoleEntry{{Level: "log", Message: "boot log"}}}
	outcome := errorOutcome(apperr.New(apperr.KindNoOutput, "handler produced no output"), result, 42)

	if outcome.StatusCode != 500 {
		t.Fatalf("status = %d", outcome.StatusCode)
	}
	if !strings.Contains(string(outcome.Body), `"executionTime":42`) {
		t.Fatalf("body missing executionTime: %s", outcome.Body)
	}
	if !strings.Contains(string(outcome.Body), `"success":false`) {
		t.Fatalf("body missing success:false: %s", outcome.Body)
	}
	if !strings.Contains(string(outcome.Body), "boot log") {
		t.Fatalf("body missing console entry: %s", outcome.Body)
	}
}
