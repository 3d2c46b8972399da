// Package sandbox is the Sandbox Host (C5): it wraps a fresh goja.Runtime
// per invocation the same way the teacher wraps a fresh microVM per cold
// start — construct, bootstrap, invoke, collect, destroy. Only the
// isolation substrate differs; the lifecycle shape is carried over from
// the teacher's executor invocation pipeline.
package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/novacore/novacore/internal/apperr"
	"github.com/novacore/novacore/internal/domain"
	"github.com/novacore/novacore/internal/guestlib"
)

// Config controls the resource envelope every invocation runs under.
type Config struct {
	DefaultDeadline    time.Duration
	ModuleLoadDeadline time.Duration
	MemoryCapBytes     int64
}

func (c Config) withDefaults() Config {
	if c.DefaultDeadline <= 0 {
		c.DefaultDeadline = 30 * time.Second
	}
	if c.ModuleLoadDeadline <= 0 {
		c.ModuleLoadDeadline = 5 * time.Second
	}
	if c.MemoryCapBytes <= 0 {
		c.MemoryCapBytes = 256 * 1024 * 1024
	}
	return c
}

// Host executes guest functions. One Host instance is shared across
// invocations; every Execute call spins up and tears down its own Runtime.
type Host struct {
	cfg Config
}

func New(cfg Config) *Host {
	return &Host{cfg: cfg.withDefaults()}
}

// Result is the outcome of one Execute call: the normalized response plus
// the captured console log, always returned even on error so the
// dispatcher can log a partial trace.
type Result struct {
	Exec    ExecutionResult
	Console []domain.ConsoleEntry
}

// Execute implements the C5 contract: execute(package_root, entry_file,
// request_surface, deadline) -> ExecutionResult.
func (h *Host) Execute(ctx context.Context, packageRoot, entryFile string, req *RequestMirror, deadline time.Time) (Result, error) {
	rt := goja.New()
	rt.SetFieldNameMapper(goja.UncapFieldNameMapper())
	rt.SetMemoryLimit(h.cfg.MemoryCapBytes)

	queue := newTimerQueue()
	var console []domain.ConsoleEntry
	bridge := &hostBridge{
		root:     packageRoot,
		deadline: deadline,
		env:      filteredEnv(),
		queue:    queue,
		console: func(level, message string) {
			console = append(console, domain.ConsoleEntry{Level: level, Message: message, Timestamp: time.Now()})
		},
	}

	requirer := guestlib.NewRequirer(rt, bridge)
	rt.Set("require", requirer.Build("/"))
	rt.Set("console", requirer.RequireGlobal("console"))
	rt.Set("process", requirer.RequireGlobal("process"))

	loadDeadline := time.Now().Add(h.cfg.ModuleLoadDeadline)
	timer := time.AfterFunc(time.Until(loadDeadline), func() {
		rt.Interrupt(apperr.New(apperr.KindTimeout, "sub-module load deadline exceeded"))
	})
	handler, err := loadHandler(rt, requirer, entryFile)
	timer.Stop()
	if err != nil {
		return Result{Exec: ExecutionResult{StatusCode: 500}, Console: console}, err
	}

	acc := newResponseAccumulator()
	reqObj := buildRequestObject(rt, req)
	resObj := buildResponseObject(rt, acc)

	deadlineTimer := time.AfterFunc(time.Until(deadline), func() {
		rt.Interrupt(apperr.New(apperr.KindTimeout, "invocation deadline exceeded"))
	})
	defer deadlineTimer.Stop()

	returned, callErr := callHandler(rt, handler, reqObj, resObj)
	if callErr != nil {
		if interrupted, ok := callErr.(*goja.InterruptedError); ok {
			if cause, ok := interrupted.Value().(error); ok && apperr.Is(cause, apperr.KindTimeout) {
				return Result{Exec: ExecutionResult{StatusCode: 504}, Console: console}, cause
			}
		}
		if isMemoryLimitError(callErr) {
			return Result{Exec: ExecutionResult{StatusCode: 500}, Console: console}, apperr.Wrap(apperr.KindOutOfMemory, "guest exceeded its memory cap", callErr)
		}
		return Result{Exec: ExecutionResult{StatusCode: 500}, Console: console}, apperr.Wrap(apperr.KindGuestError, "guest handler threw", callErr)
	}

	settled, settleErr := h.drain(rt, queue, returned, deadline)
	if settleErr != nil {
		if apperr.Is(settleErr, apperr.KindTimeout) {
			return Result{Exec: ExecutionResult{StatusCode: 504}, Console: console}, settleErr
		}
		return Result{Exec: ExecutionResult{StatusCode: 500}, Console: console}, apperr.Wrap(apperr.KindGuestError, "guest promise rejected", settleErr)
	}

	return Result{Exec: normalize(acc, settled), Console: console}, nil
}

// drain awaits a thenable return value (if any) by pumping the invocation's
// timer queue until either the value settles or the deadline passes. Plain
// (non-thenable) return values settle immediately.
func (h *Host) drain(rt *goja.Runtime, queue *timerQueue, returned goja.Value, deadline time.Time) (goja.Value, error) {
	thenFn, isThenable := thenable(rt, returned)
	if !isThenable {
		return returned, nil
	}

	type outcome struct {
		value goja.Value
		err   error
	}
	done := make(chan outcome, 1)
	onFulfilled := rt.ToValue(func(call goja.FunctionCall) goja.Value {
		select {
		case done <- outcome{value: call.Argument(0)}:
		default:
		}
		return goja.Undefined()
	})
	onRejected := rt.ToValue(func(call goja.FunctionCall) goja.Value {
		select {
		case done <- outcome{err: fmt.Errorf("%v", call.Argument(0).Export())}:
		default:
		}
		return goja.Undefined()
	})
	if _, err := thenFn(returned, onFulfilled, onRejected); err != nil {
		return nil, err
	}

	for {
		select {
		case result := <-done:
			return result.value, result.err
		default:
		}
		if !time.Now().Before(deadline) {
			return nil, apperr.New(apperr.KindTimeout, "invocation deadline exceeded while awaiting result")
		}
		job, wait, empty := queue.popDue(time.Now())
		if job != nil {
			job.fn()
			continue
		}
		if empty {
			// Nothing left to drive the promise toward settlement; give the
			// VM's own native microtask queue (native async/await, not a
			// guestlib-issued timer) a moment to settle before giving up.
			select {
			case result := <-done:
				return result.value, result.err
			case <-time.After(5 * time.Millisecond):
				return nil, apperr.New(apperr.KindNoOutput, "guest returned a promise that never settled")
			}
		}
		sleepFor := wait
		if remaining := time.Until(deadline); remaining < sleepFor {
			sleepFor = remaining
		}
		if sleepFor > 0 {
			time.Sleep(sleepFor)
		}
	}
}

func thenable(rt *goja.Runtime, v goja.Value) (goja.Callable, bool) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, false
	}
	obj := v.ToObject(rt)
	if obj == nil {
		return nil, false
	}
	then, ok := goja.AssertFunction(obj.Get("then"))
	return then, ok
}

func normalize(acc *responseAccumulator, returned goja.Value) ExecutionResult {
	if acc.written {
		return acc.toResult()
	}
	if returned != nil && !goja.IsUndefined(returned) {
		_ = acc.WriteJSON(returned.Export())
		return acc.toResult()
	}
	return ExecutionResult{StatusCode: 500, NoOutput: true}
}

func isMemoryLimitError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "memory limit")
}

func filteredEnv() map[string]string {
	return map[string]string{"NODE_ENV": "production"}
}
