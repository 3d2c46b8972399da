// Package gateway is the HTTP surface named in spec §6: it exposes the
// invocation endpoint, the scheduled-trigger endpoint, the cache
// introspection/management endpoints, metrics, and health checks, wiring
// together the dispatcher, scheduler, and package cache built elsewhere.
//
// Grounded on the teacher's dataplane handler package (handlers_invoke.go's
// PathValue routing and http.Error-based error mapping) cut down from its
// multi-tenant domain-routed surface to the spec's single-tenant
// `/invoke/{functionId}` shape.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/novacore/novacore/internal/dispatch"
	"github.com/novacore/novacore/internal/logging"
	"github.com/novacore/novacore/internal/metrics"
	"github.com/novacore/novacore/internal/pkgcache"
	"github.com/novacore/novacore/internal/scheduler"
	"github.com/novacore/novacore/internal/store"
)

// Gateway wires the dispatcher, scheduler, and cache into the HTTP surface.
type Gateway struct {
	dispatcher *dispatch.Dispatcher
	scheduler  *scheduler.Scheduler
	cache      *pkgcache.Cache
	store      *store.Store
}

func New(d *dispatch.Dispatcher, s *scheduler.Scheduler, cache *pkgcache.Cache, st *store.Store) *Gateway {
	return &Gateway{dispatcher: d, scheduler: s, cache: cache, store: st}
}

// Routes builds the HTTP surface described in spec §6.
func (g *Gateway) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/invoke/{functionId}", g.handleInvoke)
	mux.HandleFunc("POST /trigger-scheduled", g.handleTriggerScheduled)
	mux.HandleFunc("GET /cache/stats", g.handleCacheStats)
	mux.HandleFunc("POST /cache/cleanup", g.handleCacheCleanup)
	mux.HandleFunc("DELETE /cache/{functionId}", g.handleCacheEvict)
	mux.HandleFunc("GET /metrics", g.handleMetrics)
	mux.HandleFunc("GET /metrics/prometheus", g.handleMetricsPrometheus)
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/detailed", g.handleHealthDetailed)

	return mux
}

// handleInvoke implements `ANY /invoke/{functionId}` (spec §6): body of any
// type permitted for non-GET, query string always forwarded, response
// mirrors the guest's status/headers/body.
func (g *Gateway) handleInvoke(w http.ResponseWriter, r *http.Request) {
	functionID := r.PathValue("functionId")
	outcome, err := g.dispatcher.Invoke(r.Context(), functionID, r)
	if err != nil {
		logging.Op().Error("invoke failed unexpectedly", "function_id", functionID, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	for k, v := range outcome.Headers {
		w.Header().Set(k, v)
	}
	if outcome.StatusCode == 0 {
		outcome.StatusCode = http.StatusOK
	}
	w.WriteHeader(outcome.StatusCode)
	if len(outcome.Body) > 0 {
		w.Write(outcome.Body)
	}
}

// handleTriggerScheduled implements `POST /trigger-scheduled` (spec §6):
// run every schedule whose next_execution is due.
func (g *Gateway) handleTriggerScheduled(w http.ResponseWriter, r *http.Request) {
	if g.scheduler == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "scheduler not configured")
		return
	}
	results, err := g.scheduler.RunDue(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ran, disabled, failed := 0, 0, 0
	for _, res := range results {
		ran++
		if res.Disabled {
			disabled++
		} else if res.Err != nil {
			failed++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ran":      ran,
		"failed":   failed,
		"disabled": disabled,
	})
}

// handleCacheStats implements `GET /cache/stats` (spec §6): cache size,
// entry count, hit/miss counters.
func (g *Gateway) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats := g.cache.Stats()
	metrics.SetCacheStats(int(stats.EntryCount), stats.TotalSize)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"entry_count": stats.EntryCount,
		"total_size":  stats.TotalSize,
		"hits":        stats.Hits,
		"misses":      stats.Misses,
	})
}

// handleCacheCleanup implements `POST /cache/cleanup` (spec §6): force an
// eviction pass against the configured high-water mark.
func (g *Gateway) handleCacheCleanup(w http.ResponseWriter, r *http.Request) {
	evicted, freed, err := g.cache.Cleanup()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"evicted":     evicted,
		"freed_bytes": freed,
	})
}

// handleCacheEvict implements `DELETE /cache/{functionId}` (spec §6): evict
// one entry, failing with Busy if handles are outstanding.
func (g *Gateway) handleCacheEvict(w http.ResponseWriter, r *http.Request) {
	functionID := r.PathValue("functionId")
	if err := g.cache.Evict(functionID); err != nil {
		writeJSONError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMetrics implements `GET /metrics` (spec §6): per-function counters
// in JSON.
func (g *Gateway) handleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics.Global().JSONHandler().ServeHTTP(w, r)
}

// handleMetricsPrometheus exposes the same counters in Prometheus exposition
// format for external scraping; not named in spec §6 but grounded on the
// teacher's dual JSON/Prometheus metrics surface.
func (g *Gateway) handleMetricsPrometheus(w http.ResponseWriter, r *http.Request) {
	metrics.PrometheusHandler().ServeHTTP(w, r)
}

// handleHealth implements `GET /health` (spec §6): liveness only.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
}

// handleHealthDetailed implements `GET /health/detailed` (spec §6):
// liveness plus dependency status (metadata store reachability).
func (g *Gateway) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	storeStatus := "ok"
	storeErr := g.store.Ping(ctx)
	if storeErr != nil {
		storeStatus = storeErr.Error()
	}

	stats := g.cache.Stats()
	status := http.StatusOK
	if storeErr != nil {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"status": map[string]interface{}{
			"store": storeStatus,
		},
		"cache": map[string]interface{}{
			"entry_count": stats.EntryCount,
			"total_size":  stats.TotalSize,
		},
		"uptime_seconds": int64(time.Since(metrics.StartTime()).Seconds()),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "message": message})
}
