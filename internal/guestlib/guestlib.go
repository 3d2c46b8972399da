// Package guestlib is the guest standard library (C4): a curated set of
// emulated Node.js-shaped modules callable from inside the sandbox over a
// copy-only bridge. Host implements, guest thins — every module here is a
// goja object built from Go closures, never guest-authored JS source, so no
// guest code can reach host memory except through the primitives, byte
// buffers, and structured clones these closures explicitly hand back.
//
// There is no direct teacher analog for this package; the bridging idiom
// (host-implements/guest-thins, denial-by-default module dispatch, sandbox-
// rooted path resolution) is carried over from the removed alternate
// sandbox backends' contract shape and from internal/secrets' filtered
// env-var exposure, rewritten around goja instead of a VM/container boundary.
package guestlib

import (
	"time"

	"github.com/dop251/goja"
)

// Bridge is the host-side facility every emulated module is built against.
// sandbox.Host implements it; guestlib never reaches further into the host
// than this interface permits.
type Bridge interface {
	// Root is the sandbox-rooted package directory fs and the module
	// resolver must never resolve outside of.
	Root() string

	// Deadline is the invocation's wall-clock deadline; timers scheduled
	// past it never fire (the host tears the guest down first).
	Deadline() time.Time

	// ScheduleTimer arranges fn to run after delay on the same goroutine
	// that owns the goja Runtime (timers never run concurrently with guest
	// code). cancel is safe to call multiple times.
	ScheduleTimer(delay time.Duration, repeat bool, fn func()) (cancel func())

	// Console appends one structured record to the invocation's captured
	// console log and mirrors it to the host logger.
	Console(level, message string)

	// EnvVars returns the filtered process.env snapshot: function-scoped
	// vars plus a small whitelist.
	EnvVars() map[string]string
}

// Module builds one emulated module's exports object.
type Module func(rt *goja.Runtime, b Bridge) goja.Value

// registry maps guest-visible module names to their builders. A require of
// any name not present here is denied outright.
var registry = map[string]Module{}

func register(name string, m Module) {
	registry[name] = m
}

// Lookup returns the builder for name, or nil if the module is not
// emulated (the caller should treat that as a denial, not an empty module).
func Lookup(name string) (Module, bool) {
	m, ok := registry[name]
	return m, ok
}

// Names lists every emulated module, for introspection/testing.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
