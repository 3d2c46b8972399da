package guestlib

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/dop251/goja"
)

// Requirer builds the guest-visible require(name) function: registry
// modules resolve by name and are denied outright if unregistered; local
// "./"/"../" specifiers resolve against the package root through
// resolveSandboxed and are loaded as CommonJS source, trying the literal
// path, then "<path>.js", then "<path>/index.js" in that order. Every
// resolved module is cached by its absolute path so repeated requires of
// the same file share one exports object, matching Node's module cache.
type Requirer struct {
	rt      *goja.Runtime
	bridge  Bridge
	cache   map[string]goja.Value
	pending map[string]bool
}

func NewRequirer(rt *goja.Runtime, b Bridge) *Requirer {
	return &Requirer{rt: rt, bridge: b, cache: map[string]goja.Value{}, pending: map[string]bool{}}
}

// Build returns a require function that resolves relative specifiers
// against currentDir, suitable for installation as a global and for re-use
// when loading the entry file itself.
func (r *Requirer) Build(currentDir string) goja.Value {
	return r.rt.ToValue(func(call goja.FunctionCall) goja.Value {
		name := call.Argument(0).String()
		return r.require(name, currentDir)
	})
}

// RequireGlobal loads a registry module by name for installation as a
// bootstrap global (e.g. `console`, `process`), bypassing the relative-path
// resolution local requires go through.
func (r *Requirer) RequireGlobal(name string) goja.Value {
	return r.require(name, "/")
}

func (r *Requirer) require(name, currentDir string) goja.Value {
	if isRelative(name) {
		return r.requireLocal(name, currentDir)
	}
	builder, ok := Lookup(name)
	if !ok {
		panic(r.rt.ToValue(fmt.Sprintf("module '%s' is not available to sandboxed guests", name)))
	}
	if cached, ok := r.cache["module:"+name]; ok {
		return cached
	}
	exports := builder(r.rt, r.bridge)
	r.cache["module:"+name] = exports
	return exports
}

func isRelative(name string) bool {
	return strings.HasPrefix(name, "./") || strings.HasPrefix(name, "../") || strings.HasPrefix(name, "/")
}

// LoadEntry loads the guest's entry file (e.g. "index.js", rooted at the
// package directory) as a CommonJS module and returns its module.exports,
// converting a guest-thrown panic into a Go error instead of propagating
// the panic past the bootstrap boundary.
func (r *Requirer) LoadEntry(entryFile string) (exports goja.Value, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if v, ok := rec.(goja.Value); ok {
				err = fmt.Errorf("%v", v.Export())
				return
			}
			err = fmt.Errorf("%v", rec)
		}
	}()
	name := entryFile
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	return r.requireLocal(name, "/"), nil
}

func (r *Requirer) requireLocal(name, currentDir string) goja.Value {
	joined := name
	if !strings.HasPrefix(name, "/") {
		joined = path.Join(currentDir, name)
	}

	resolved, source, err := r.loadSource(joined)
	if err != nil {
		panic(r.rt.ToValue(fmt.Sprintf("cannot find module '%s': %s", name, err.Error())))
	}
	if cached, ok := r.cache[resolved]; ok {
		return cached
	}
	// mark pending so a circular require returns the (incomplete) exports
	// object instead of recursing forever.
	moduleObj := r.rt.NewObject()
	exportsObj := r.rt.NewObject()
	moduleObj.Set("exports", exportsObj)
	r.cache[resolved] = exportsObj

	childDir := path.Dir(resolved)
	wrapped := "(function(module, exports, require){" + source + "\n})"
	program, err := goja.Compile(resolved, wrapped, false)
	if err != nil {
		delete(r.cache, resolved)
		panic(r.rt.ToValue(fmt.Sprintf("syntax error in %s: %s", name, err.Error())))
	}
	fnVal, err := r.rt.RunProgram(program)
	if err != nil {
		delete(r.cache, resolved)
		panic(r.rt.ToValue(err.Error()))
	}
	fn, ok := goja.AssertFunction(fnVal)
	if !ok {
		delete(r.cache, resolved)
		panic(r.rt.ToValue("module wrapper did not compile to a function: " + name))
	}
	childRequire := r.rt.ToValue(func(call goja.FunctionCall) goja.Value {
		return r.require(call.Argument(0).String(), childDir)
	})
	if _, err := fn(goja.Undefined(), moduleObj, moduleObj.Get("exports"), childRequire); err != nil {
		delete(r.cache, resolved)
		panic(r.rt.ToValue(err.Error()))
	}
	final := moduleObj.Get("exports")
	r.cache[resolved] = final
	return final
}

// loadSource tries joined, joined+".js", then joined+"/index.js", each
// resolved against the sandbox root before reading.
func (r *Requirer) loadSource(joined string) (resolved string, source []byte, err error) {
	candidates := []string{joined, joined + ".js", joined + "/index.js"}
	var lastErr error
	for _, candidate := range candidates {
		abs, rerr := resolveSandboxed(r.bridge.Root(), candidate)
		if rerr != nil {
			lastErr = rerr
			continue
		}
		data, ferr := os.ReadFile(abs)
		if ferr != nil {
			lastErr = ferr
			continue
		}
		return abs, data, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no candidate resolved")
	}
	return "", nil, lastErr
}
