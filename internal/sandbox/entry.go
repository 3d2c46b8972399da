package sandbox

import (
	"github.com/dop251/goja"

	"github.com/novacore/novacore/internal/apperr"
	"github.com/novacore/novacore/internal/guestlib"
)

// loadHandler sources entryFile and recognizes the exported handler across
// conventions: a direct function export, `.handler`, or `.default`. If none
// resolves to a function, the invocation fails with BadExport (spec §4.5).
func loadHandler(rt *goja.Runtime, requirer *guestlib.Requirer, entryFile string) (goja.Callable, error) {
	exports, err := requirer.LoadEntry(entryFile)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindBadExport, "failed to load entry file", err)
	}

	if fn, ok := goja.AssertFunction(exports); ok {
		return fn, nil
	}

	obj := exports.ToObject(rt)
	if obj != nil {
		if fn, ok := goja.AssertFunction(obj.Get("handler")); ok {
			return fn, nil
		}
		if fn, ok := goja.AssertFunction(obj.Get("default")); ok {
			return fn, nil
		}
	}

	return nil, apperr.New(apperr.KindBadExport, "entry file exports no recognizable handler function")
}

// callHandler invokes the handler with (req, res), recovering a guest
// panic into a Go error rather than letting it cross the host boundary.
func callHandler(rt *goja.Runtime, handler goja.Callable, reqObj, resObj *goja.Object) (returned goja.Value, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if interrupted, ok := rec.(*goja.InterruptedError); ok {
				err = interrupted
				return
			}
			if v, ok := rec.(goja.Value); ok {
				err = apperr.Wrap(apperr.KindGuestError, "guest handler panicked", jsValueError(v))
				return
			}
			panic(rec)
		}
	}()
	return handler(goja.Undefined(), reqObj, resObj)
}

type jsValueErr struct{ msg string }

func (e jsValueErr) Error() string { return e.msg }

func jsValueError(v goja.Value) error {
	return jsValueErr{msg: v.String()}
}
