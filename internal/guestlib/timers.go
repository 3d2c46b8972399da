package guestlib

import (
	"sync"
	"time"

	"github.com/dop251/goja"
)

func init() {
	register("timers", buildTimers)
	register("timers/promises", buildTimersPromises)
}

// buildTimers emulates setTimeout/setInterval/setImmediate and their
// clear* counterparts. ref/unref/hasRef/refresh are structurally present
// but have no effect on host liveness: the invocation's wall-clock
// deadline is the sole authoritative interrupter (spec §4.4, §5).
func buildTimers(rt *goja.Runtime, b Bridge) goja.Value {
	obj := rt.NewObject()

	handleOf := func(cancel func()) goja.Value {
		h := rt.NewObject()
		h.Set("ref", func(goja.FunctionCall) goja.Value { return h })
		h.Set("unref", func(goja.FunctionCall) goja.Value { return h })
		h.Set("hasRef", func(goja.FunctionCall) goja.Value { return rt.ToValue(true) })
		h.Set("refresh", func(goja.FunctionCall) goja.Value { return h })
		h.Set("_cancel", cancel)
		return h
	}

	obj.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			return goja.Undefined()
		}
		delayMS := call.Argument(1).ToInteger()
		extra := call.Arguments
		if len(extra) > 2 {
			extra = extra[2:]
		} else {
			extra = nil
		}
		cancel := b.ScheduleTimer(time.Duration(delayMS)*time.Millisecond, false, func() {
			fn(goja.Undefined(), extra...)
		})
		return handleOf(cancel)
	})

	obj.Set("setInterval", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			return goja.Undefined()
		}
		delayMS := call.Argument(1).ToInteger()
		cancel := b.ScheduleTimer(time.Duration(delayMS)*time.Millisecond, true, func() {
			fn(goja.Undefined())
		})
		return handleOf(cancel)
	})

	obj.Set("setImmediate", func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			return goja.Undefined()
		}
		cancel := b.ScheduleTimer(0, false, func() { fn(goja.Undefined()) })
		return handleOf(cancel)
	})

	clearFn := func(call goja.FunctionCall) goja.Value {
		handle := call.Argument(0)
		if goja.IsUndefined(handle) || goja.IsNull(handle) {
			return goja.Undefined()
		}
		o := handle.ToObject(rt)
		if o == nil {
			return goja.Undefined()
		}
		if cancelV := o.Get("_cancel"); cancelV != nil {
			if cancel, ok := goja.AssertFunction(cancelV); ok {
				cancel(goja.Undefined())
			}
		}
		return goja.Undefined()
	}
	obj.Set("clearTimeout", clearFn)
	obj.Set("clearInterval", clearFn)
	obj.Set("clearImmediate", clearFn)

	return obj
}

// abortErrorValue builds the Error guest code expects from an AbortSignal-shaped
// options.signal firing: name "AbortError", matching Node's timers/promises.
func abortErrorValue(rt *goja.Runtime) goja.Value {
	errCtor, _ := goja.AssertFunction(rt.GlobalObject().Get("Error"))
	ev, _ := errCtor(goja.Undefined(), rt.ToValue("The operation was aborted"))
	if o := ev.ToObject(rt); o != nil {
		o.Set("name", "AbortError")
	}
	return ev
}

// extractSignal pulls an AbortSignal-shaped value out of an options
// argument ({signal: ...}); returns nil if none was given.
func extractSignal(rt *goja.Runtime, opts goja.Value) goja.Value {
	if opts == nil || goja.IsUndefined(opts) || goja.IsNull(opts) {
		return nil
	}
	o := opts.ToObject(rt)
	if o == nil {
		return nil
	}
	sig := o.Get("signal")
	if sig == nil || goja.IsUndefined(sig) || goja.IsNull(sig) {
		return nil
	}
	return sig
}

func signalAborted(rt *goja.Runtime, signal goja.Value) bool {
	if signal == nil {
		return false
	}
	o := signal.ToObject(rt)
	if o == nil {
		return false
	}
	a := o.Get("aborted")
	return a != nil && a.ToBoolean()
}

// onSignalAbort subscribes fn to the signal's "abort" event, if the value
// exposes an addEventListener method; a no-op otherwise.
func onSignalAbort(rt *goja.Runtime, signal goja.Value, fn func()) {
	if signal == nil {
		return
	}
	o := signal.ToObject(rt)
	if o == nil {
		return
	}
	addListener, ok := goja.AssertFunction(o.Get("addEventListener"))
	if !ok {
		return
	}
	addListener(signal, rt.ToValue("abort"), rt.ToValue(func(goja.FunctionCall) goja.Value {
		fn()
		return goja.Undefined()
	}))
}

// intervalIteratorSrc builds the async iterator setInterval returns. The
// Symbol.asyncIterator protocol is more naturally expressed in JS syntax
// than via goja's Go-side Symbol API, so it is compiled once per runtime
// and invoked with Go-provided scheduling primitives, the same
// compile-once-run-as-a-function approach require.go uses for CommonJS
// module wrapping.
const intervalIteratorSrc = `(function(scheduleTick, cancelTick, signal) {
	return function(value) {
		var closed = false;
		function abortError() {
			var e = new Error('The operation was aborted');
			e.name = 'AbortError';
			return e;
		}
		if (signal && typeof signal.addEventListener === 'function') {
			signal.addEventListener('abort', function() {
				if (!closed) {
					closed = true;
					cancelTick();
				}
			});
		}
		var iterator = {
			next: function() {
				if (closed) {
					return Promise.resolve({ value: undefined, done: true });
				}
				if (signal && signal.aborted) {
					closed = true;
					return Promise.reject(abortError());
				}
				return new Promise(function(resolve) {
					scheduleTick(function() {
						if (closed) {
							resolve({ value: undefined, done: true });
						} else {
							resolve({ value: value, done: false });
						}
					});
				});
			},
			return: function(v) {
				if (!closed) {
					closed = true;
					cancelTick();
				}
				return Promise.resolve({ value: v, done: true });
			}
		};
		iterator[Symbol.asyncIterator] = function() { return iterator; };
		return iterator;
	};
})`

// buildTimersPromises emulates "timers/promises": setTimeout/setImmediate
// returning Promises, and setInterval as an async iterator, all honoring
// an AbortSignal-shaped options.signal.
func buildTimersPromises(rt *goja.Runtime, b Bridge) goja.Value {
	obj := rt.NewObject()

	intervalFactoryVal, err := rt.RunString(intervalIteratorSrc)
	if err != nil {
		panic(err)
	}
	intervalFactory, _ := goja.AssertFunction(intervalFactoryVal)

	obj.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		delayMS := call.Argument(0).ToInteger()
		value := call.Argument(1)
		signal := extractSignal(rt, call.Argument(2))
		promise, resolve, reject := rt.NewPromise()
		if signalAborted(rt, signal) {
			reject(abortErrorValue(rt))
			return rt.ToValue(promise)
		}
		cancel := b.ScheduleTimer(time.Duration(delayMS)*time.Millisecond, false, func() {
			resolve(value)
		})
		onSignalAbort(rt, signal, func() {
			cancel()
			reject(abortErrorValue(rt))
		})
		return rt.ToValue(promise)
	})

	obj.Set("setImmediate", func(call goja.FunctionCall) goja.Value {
		value := call.Argument(0)
		signal := extractSignal(rt, call.Argument(1))
		promise, resolve, reject := rt.NewPromise()
		if signalAborted(rt, signal) {
			reject(abortErrorValue(rt))
			return rt.ToValue(promise)
		}
		cancel := b.ScheduleTimer(0, false, func() { resolve(value) })
		onSignalAbort(rt, signal, func() {
			cancel()
			reject(abortErrorValue(rt))
		})
		return rt.ToValue(promise)
	})

	obj.Set("sleep", func(call goja.FunctionCall) goja.Value {
		delayMS := call.Argument(0).ToInteger()
		value := call.Argument(1)
		signal := extractSignal(rt, call.Argument(2))
		promise, resolve, reject := rt.NewPromise()
		if signalAborted(rt, signal) {
			reject(abortErrorValue(rt))
			return rt.ToValue(promise)
		}
		cancel := b.ScheduleTimer(time.Duration(delayMS)*time.Millisecond, false, func() {
			resolve(value)
		})
		onSignalAbort(rt, signal, func() {
			cancel()
			reject(abortErrorValue(rt))
		})
		return rt.ToValue(promise)
	})

	// setInterval returns an async iterator that yields value on each tick
	// until the signal aborts or the consumer closes the iterator (e.g. via
	// `break` in a for-await-of loop, which calls iterator.return()).
	// Each tick is scheduled lazily by the iterator's own next() call rather
	// than by a free-running host timer, so an iterator nobody is pulling
	// from costs nothing.
	obj.Set("setInterval", func(call goja.FunctionCall) goja.Value {
		delayMS := call.Argument(0).ToInteger()
		value := call.Argument(1)
		signal := extractSignal(rt, call.Argument(2))
		if signal == nil {
			signal = goja.Undefined()
		}

		var mu sync.Mutex
		var pendingCancel func()

		scheduleTick := rt.ToValue(func(inner goja.FunctionCall) goja.Value {
			onTick, ok := goja.AssertFunction(inner.Argument(0))
			if !ok {
				return goja.Undefined()
			}
			mu.Lock()
			pendingCancel = b.ScheduleTimer(time.Duration(delayMS)*time.Millisecond, false, func() {
				mu.Lock()
				pendingCancel = nil
				mu.Unlock()
				onTick(goja.Undefined())
			})
			mu.Unlock()
			return goja.Undefined()
		})
		cancelTick := rt.ToValue(func(goja.FunctionCall) goja.Value {
			mu.Lock()
			c := pendingCancel
			pendingCancel = nil
			mu.Unlock()
			if c != nil {
				c()
			}
			return goja.Undefined()
		})

		makerVal, err := intervalFactory(goja.Undefined(), scheduleTick, cancelTick, signal)
		if err != nil {
			panic(rt.ToValue(err.Error()))
		}
		maker, _ := goja.AssertFunction(makerVal)
		iter, err := maker(goja.Undefined(), value)
		if err != nil {
			panic(rt.ToValue(err.Error()))
		}
		return iter
	})

	return obj
}
