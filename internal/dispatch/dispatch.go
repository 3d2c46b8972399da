// Package dispatch is the Invocation Dispatcher (C6): it resolves a
// function, authenticates the caller, ensures the package is cached,
// invokes the sandbox, shapes the outer HTTP response, and logs the
// execution — all per invocation, grounded on the teacher's executor
// invocation pipeline and dataplane handler error-mapping style.
package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/novacore/novacore/internal/apperr"
	"github.com/novacore/novacore/internal/auth"
	"github.com/novacore/novacore/internal/circuitbreaker"
	"github.com/novacore/novacore/internal/domain"
	"github.com/novacore/novacore/internal/logging"
	"github.com/novacore/novacore/internal/logsink"
	"github.com/novacore/novacore/internal/metrics"
	"github.com/novacore/novacore/internal/pkgcache"
	"github.com/novacore/novacore/internal/sandbox"
	"github.com/novacore/novacore/internal/store"
)

// Config controls per-invocation defaults.
type Config struct {
	DefaultDeadline time.Duration
	Breaker         circuitbreaker.Config
	LogBatcher      LogBatcherConfig
}

func (c Config) withDefaults() Config {
	if c.DefaultDeadline <= 0 {
		c.DefaultDeadline = 30 * time.Second
	}
	return c
}

// Dispatcher wires C1 (store), C3 (package cache), C5 (sandbox host) and
// the auth/circuit-breaker/logging ambient stack into the per-invocation
// pipeline described in spec §4.6.
type Dispatcher struct {
	cfg      Config
	store    *store.Store
	cache    *pkgcache.Cache
	host     *sandbox.Host
	breakers *circuitbreaker.Registry
	logs     *logBatcher
	keyCache *auth.KeyCache
}

func New(s *store.Store, cache *pkgcache.Cache, host *sandbox.Host, sink logsink.LogSink, keyCache *auth.KeyCache, cfg Config) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		cfg:      cfg,
		store:    s,
		cache:    cache,
		host:     host,
		breakers: circuitbreaker.NewRegistry(),
		logs:     newLogBatcher(sink, cfg.LogBatcher),
		keyCache: keyCache,
	}
}

// Outcome is what the dispatcher hands back to the HTTP layer: everything
// it needs to write the outer response.
type Outcome struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// Invoke runs the full per-invocation pipeline for a live HTTP request.
func (d *Dispatcher) Invoke(ctx context.Context, functionID string, r *http.Request) (Outcome, error) {
	started := time.Now()

	fn, err := d.store.FetchActive(ctx, functionID)
	if err != nil {
		return d.notFound(), nil
	}

	if breaker := d.breakers.Get(functionID, d.cfg.Breaker); breaker != nil && !breaker.Allow() {
		return Outcome{StatusCode: 503, Body: []byte(`{"success":false,"message":"function temporarily disabled after repeated failures"}`)}, nil
	}

	if fn.RequiresAPIKey {
		if unauthorized, ok := d.authenticate(ctx, fn, r); !ok {
			return unauthorized, nil
		}
	}

	handle, err := d.cache.Ensure(ctx, fn.ID, fn.ActiveVersion, fn.PackageHash, fn.PackagePath, fn.FileSize)
	if err != nil {
		d.recordFailure(functionID)
		return d.mapCacheError(err), nil
	}
	defer handle.Release()

	mirror, captured := buildMirrorFromRequest(r)
	deadline := started.Add(d.cfg.DefaultDeadline)

	metrics.Global().IncActiveInvocations()
	result, execErr := d.host.Execute(ctx, handle.RootPath, "index.js", mirror, deadline)
	metrics.Global().DecActiveInvocations()

	elapsed := time.Since(started)
	outcome := d.shapeResponse(result, execErr, elapsed)
	if execErr != nil {
		d.recordFailure(functionID)
	} else {
		d.recordSuccess(functionID)
	}
	metrics.Global().RecordInvocation(functionID, elapsed.Milliseconds(), handle.CacheHit, execErr == nil)

	d.enqueueLog(fn, r.Method, r.URL.RequestURI(), started, outcome, result, execErr, captured, clientAddr(r), r.UserAgent())
	return outcome, nil
}

// InvokeScheduled runs the same pipeline with a synthesized request mirror
// for a cron-triggered function (spec §4.6, scheduled invocations).
func (d *Dispatcher) InvokeScheduled(ctx context.Context, functionID string) error {
	started := time.Now()
	fn, err := d.store.FetchActive(ctx, functionID)
	if err != nil {
		return err
	}

	handle, err := d.cache.Ensure(ctx, fn.ID, fn.ActiveVersion, fn.PackageHash, fn.PackagePath, fn.FileSize)
	if err != nil {
		d.recordFailure(functionID)
		return err
	}
	defer handle.Release()

	mirror := sandbox.ScheduledRequestMirror()
	deadline := started.Add(d.cfg.DefaultDeadline)

	metrics.Global().IncActiveInvocations()
	result, execErr := d.host.Execute(ctx, handle.RootPath, "index.js", mirror, deadline)
	metrics.Global().DecActiveInvocations()

	elapsed := time.Since(started)
	outcome := d.shapeResponse(result, execErr, elapsed)
	if execErr != nil {
		d.recordFailure(functionID)
	} else {
		d.recordSuccess(functionID)
	}
	metrics.Global().RecordInvocation(functionID, elapsed.Milliseconds(), handle.CacheHit, execErr == nil)

	d.enqueueLog(fn, "SCHEDULED", "/scheduled", started, outcome, result, execErr, nil, "127.0.0.1", "")
	return execErr
}

func (d *Dispatcher) authenticate(ctx context.Context, fn *domain.Function, r *http.Request) (Outcome, bool) {
	presented := auth.Extract(r)
	if presented == "" {
		return Outcome{StatusCode: 401, Body: []byte(`{"success":false,"message":"missing API key"}`)}, false
	}
	// The cache scope folds in the stored key, so rotating it turns earlier
	// known-good entries into misses.
	scope := fn.ID + "\x00" + fn.APIKey
	if d.keyCache.KnownGood(ctx, scope, presented) {
		return Outcome{}, true
	}
	if !auth.Verify(presented, fn.APIKey) {
		return Outcome{StatusCode: 401, Body: []byte(`{"success":false,"message":"invalid API key"}`)}, false
	}
	d.keyCache.RememberGood(ctx, scope, presented)
	return Outcome{}, true
}

func (d *Dispatcher) recordFailure(functionID string) {
	if b := d.breakers.Get(functionID, d.cfg.Breaker); b != nil {
		before := b.State()
		b.RecordFailure()
		d.publishBreakerState(functionID, before, b.State())
	}
}

func (d *Dispatcher) recordSuccess(functionID string) {
	if b := d.breakers.Get(functionID, d.cfg.Breaker); b != nil {
		before := b.State()
		b.RecordSuccess()
		d.publishBreakerState(functionID, before, b.State())
	}
}

func (d *Dispatcher) publishBreakerState(functionID string, before, after circuitbreaker.State) {
	metrics.SetCircuitBreakerState(functionID, int(after))
	if after != before {
		metrics.RecordCircuitBreakerTrip(functionID, after.String())
	}
}

func (d *Dispatcher) notFound() Outcome {
	return Outcome{StatusCode: 404, Body: []byte(`{"success":false,"message":"Function not found"}`)}
}

func (d *Dispatcher) mapCacheError(err error) Outcome {
	switch apperr.KindOf(err) {
	case apperr.KindBadPackage, apperr.KindUnsafeArchive:
		return Outcome{StatusCode: 500, Body: []byte(`{"success":false,"message":"` + err.Error() + `"}`)}
	case apperr.KindCacheFull:
		return Outcome{StatusCode: 503, Body: []byte(`{"success":false,"message":"cache full, retry after eviction"}`)}
	default:
		logging.Op().Error("package cache ensure failed", "error", err)
		return Outcome{StatusCode: 500, Body: []byte(`{"success":false,"message":"internal error resolving package"}`)}
	}
}

func (d *Dispatcher) shapeResponse(result sandbox.Result, execErr error, elapsed time.Duration) Outcome {
	if execErr != nil {
		switch apperr.KindOf(execErr) {
		case apperr.KindTimeout:
			body, _ := json.Marshal(errorResponseBody{
				Success: false, Message: "execution timed out",
				ExecutionTime: elapsed.Milliseconds(), Console: result.Console,
			})
			return Outcome{StatusCode: 504, Headers: map[string]string{"content-type": "application/json"}, Body: body}
		default:
			return errorOutcome(execErr, result, elapsed.Milliseconds())
		}
	}
	if result.Exec.NoOutput {
		return errorOutcome(apperr.New(apperr.KindNoOutput, "handler produced no output"), result, elapsed.Milliseconds())
	}
	return Outcome{StatusCode: result.Exec.StatusCode, Headers: stripHopByHop(result.Exec.Headers), Body: result.Exec.Body}
}

var hopByHopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

func stripHopByHop(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if hopByHopHeaders[k] {
			continue
		}
		out[k] = v
	}
	return out
}

// RequestID returns a fresh request-scoped correlation ID for logging,
// extending the teacher's 8-hex request ID to a full UUID.
func RequestID() string { return uuid.New().String() }
