package gateway

import (
	"net/http/httptest"
	"testing"

	"github.com/novacore/novacore/internal/pkgcache"
	"github.com/novacore/novacore/internal/store"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	cache := pkgcache.New(pkgcache.Config{CacheDir: t.TempDir(), HighWaterMarkBytes: 0}, nil)
	st := store.NewStore(store.NewMemStore())
	return New(nil, nil, cache, st)
}

func TestHandleHealth(t *testing.T) {
	g := newTestGateway(t)
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/health", nil)
	g.Routes().ServeHTTP(w, r)
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestHandleHealthDetailed(t *testing.T) {
	g := newTestGateway(t)
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/health/detailed", nil)
	g.Routes().ServeHTTP(w, r)
	if w.Code != 200 {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestHandleCacheStats_Empty(t *testing.T) {
	g := newTestGateway(t)
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/cache/stats", nil)
	g.Routes().ServeHTTP(w, r)
	if w.Code != 200 {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestHandleCacheEvict_UnknownFunctionIsNoop(t *testing.T) {
	g := newTestGateway(t)
	w := httptest.NewRecorder()
	r := httptest.NewRequest("DELETE", "/cache/missing-fn", nil)
	g.Routes().ServeHTTP(w, r)
	if w.Code != 204 {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestHandleTriggerScheduled_NoSchedulerConfigured(t *testing.T) {
	g := newTestGateway(t)
	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/trigger-scheduled", nil)
	g.Routes().ServeHTTP(w, r)
	if w.Code != 503 {
		t.Fatalf("status = %d", w.Code)
	}
}
