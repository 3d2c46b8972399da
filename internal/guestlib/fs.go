package guestlib

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dop251/goja"
)

func init() {
	register("fs", buildFS)
}

// resolveSandboxed canonicalizes name relative to root and fails with
// EACCES if the result escapes root. This is the sandbox escape proof
// property: every fs.* path input, and every require()'d relative path,
// goes through this function before touching the real filesystem.
func resolveSandboxed(root, name string) (string, error) {
	cleaned := filepath.Clean("/" + name)
	target := filepath.Join(root, cleaned)

	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		resolvedRoot = filepath.Clean(root)
	}
	resolvedTarget := target
	if resolved, err := filepath.EvalSymlinks(target); err == nil {
		resolvedTarget = resolved
	}

	rootWithSep := resolvedRoot + string(filepath.Separator)
	if resolvedTarget != resolvedRoot && !strings.HasPrefix(resolvedTarget, rootWithSep) {
		return "", eacces("path escapes package root: " + name)
	}
	return target, nil
}

type jsError struct{ code, message string }

func (e jsError) Error() string { return e.message }

func eacces(msg string) error { return jsError{code: "EACCES", message: msg} }

func buildFS(rt *goja.Runtime, b Bridge) goja.Value {
	obj := rt.NewObject()
	root := b.Root()

	resolve := func(name string) string {
		p, err := resolveSandboxed(root, name)
		if err != nil {
			panic(rt.ToValue(map[string]interface{}{"code": "EACCES", "message": err.Error()}))
		}
		return p
	}

	statsObject := func(fi os.FileInfo) goja.Value {
		s := rt.NewObject()
		s.Set("size", fi.Size())
		s.Set("mode", uint32(fi.Mode()))
		s.Set("mtimeMs", float64(fi.ModTime().UnixMilli()))
		s.Set("mtime", fi.ModTime())
		s.Set("isDirectory", func(goja.FunctionCall) goja.Value { return rt.ToValue(fi.IsDir()) })
		s.Set("isFile", func(goja.FunctionCall) goja.Value { return rt.ToValue(fi.Mode().IsRegular()) })
		s.Set("isSymbolicLink", func(goja.FunctionCall) goja.Value { return rt.ToValue(fi.Mode()&os.ModeSymlink != 0) })
		return s
	}

	obj.Set("readFileSync", func(call goja.FunctionCall) goja.Value {
		path := resolve(call.Argument(0).String())
		data, err := os.ReadFile(path)
		if err != nil {
			panic(rt.ToValue(map[string]interface{}{"code": "ENOENT", "message": err.Error()}))
		}
		encoding := ""
		if len(call.Arguments) > 1 {
			if s, ok := call.Argument(1).Export().(string); ok {
				encoding = s
			} else if o := call.Argument(1).ToObject(rt); o != nil {
				if e := o.Get("encoding"); e != nil && !goja.IsUndefined(e) {
					encoding = e.String()
				}
			}
		}
		if encoding != "" {
			return rt.ToValue(string(data))
		}
		return rt.ToValue(rt.NewArrayBuffer(data))
	})

	obj.Set("writeFileSync", func(call goja.FunctionCall) goja.Value {
		path := resolve(call.Argument(0).String())
		var data []byte
		switch v := call.Argument(1).Export().(type) {
		case string:
			data = []byte(v)
		case goja.ArrayBuffer:
			data = v.Bytes()
		default:
			data = []byte(call.Argument(1).String())
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			panic(rt.ToValue(map[string]interface{}{"code": "EIO", "message": err.Error()}))
		}
		return goja.Undefined()
	})

	obj.Set("appendFileSync", func(call goja.FunctionCall) goja.Value {
		path := resolve(call.Argument(0).String())
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			panic(rt.ToValue(map[string]interface{}{"code": "EIO", "message": err.Error()}))
		}
		defer f.Close()
		f.WriteString(call.Argument(1).String())
		return goja.Undefined()
	})

	obj.Set("existsSync", func(call goja.FunctionCall) goja.Value {
		path, err := resolveSandboxed(root, call.Argument(0).String())
		if err != nil {
			return rt.ToValue(false)
		}
		_, statErr := os.Stat(path)
		return rt.ToValue(statErr == nil)
	})

	obj.Set("statSync", func(call goja.FunctionCall) goja.Value {
		path := resolve(call.Argument(0).String())
		fi, err := os.Stat(path)
		if err != nil {
			panic(rt.ToValue(map[string]interface{}{"code": "ENOENT", "message": err.Error()}))
		}
		return statsObject(fi)
	})

	obj.Set("mkdirSync", func(call goja.FunctionCall) goja.Value {
		path := resolve(call.Argument(0).String())
		recursive := false
		if len(call.Arguments) > 1 {
			if o := call.Argument(1).ToObject(rt); o != nil {
				if r := o.Get("recursive"); r != nil {
					recursive = r.ToBoolean()
				}
			}
		}
		var err error
		if recursive {
			err = os.MkdirAll(path, 0o755)
		} else {
			err = os.Mkdir(path, 0o755)
		}
		if err != nil {
			panic(rt.ToValue(map[string]interface{}{"code": "EEXIST", "message": err.Error()}))
		}
		return goja.Undefined()
	})

	obj.Set("readdirSync", func(call goja.FunctionCall) goja.Value {
		path := resolve(call.Argument(0).String())
		entries, err := os.ReadDir(path)
		if err != nil {
			panic(rt.ToValue(map[string]interface{}{"code": "ENOENT", "message": err.Error()}))
		}
		names := make([]string, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		return rt.ToValue(names)
	})

	obj.Set("unlinkSync", func(call goja.FunctionCall) goja.Value {
		path := resolve(call.Argument(0).String())
		if err := os.Remove(path); err != nil {
			panic(rt.ToValue(map[string]interface{}{"code": "ENOENT", "message": err.Error()}))
		}
		return goja.Undefined()
	})

	obj.Set("rmdirSync", obj.Get("unlinkSync"))

	obj.Set("renameSync", func(call goja.FunctionCall) goja.Value {
		oldPath := resolve(call.Argument(0).String())
		newPath := resolve(call.Argument(1).String())
		if err := os.Rename(oldPath, newPath); err != nil {
			panic(rt.ToValue(map[string]interface{}{"code": "ENOENT", "message": err.Error()}))
		}
		return goja.Undefined()
	})

	obj.Set("copyFileSync", func(call goja.FunctionCall) goja.Value {
		src := resolve(call.Argument(0).String())
		dst := resolve(call.Argument(1).String())
		data, err := os.ReadFile(src)
		if err == nil {
			err = os.WriteFile(dst, data, 0o644)
		}
		if err != nil {
			panic(rt.ToValue(map[string]interface{}{"code": "EIO", "message": err.Error()}))
		}
		return goja.Undefined()
	})

	obj.Set("chmodSync", func(call goja.FunctionCall) goja.Value {
		path := resolve(call.Argument(0).String())
		mode := int64(call.Argument(1).ToInteger())
		os.Chmod(path, os.FileMode(mode))
		return goja.Undefined()
	})

	obj.Set("accessSync", func(call goja.FunctionCall) goja.Value {
		path, err := resolveSandboxed(root, call.Argument(0).String())
		if err != nil {
			panic(rt.ToValue(map[string]interface{}{"code": "EACCES", "message": err.Error()}))
		}
		if _, statErr := os.Stat(path); statErr != nil {
			panic(rt.ToValue(map[string]interface{}{"code": "ENOENT", "message": statErr.Error()}))
		}
		return goja.Undefined()
	})

	// chownSync validates the path (throwing ENOENT when it is missing) and
	// then delegates to os.Chown with the numeric uid/gid; a failed
	// ownership change throws EPERM.
	obj.Set("chownSync", func(call goja.FunctionCall) goja.Value {
		path := resolve(call.Argument(0).String())
		if _, err := os.Stat(path); err != nil {
			panic(rt.ToValue(map[string]interface{}{"code": "ENOENT", "message": err.Error()}))
		}
		uid := int(call.Argument(1).ToInteger())
		gid := int(call.Argument(2).ToInteger())
		if err := os.Chown(path, uid, gid); err != nil {
			panic(rt.ToValue(map[string]interface{}{"code": "EPERM", "message": err.Error()}))
		}
		return goja.Undefined()
	})

	// fd-based open/close/read/write/truncate family. File descriptors are
	// small positive integers handed out by this table, scoped to the one
	// invocation this Host builds; they never alias real OS fd numbers a
	// guest could use to reach outside resolveSandboxed.
	var fdMu sync.Mutex
	fds := make(map[int64]*os.File)
	var nextFD int64 = 3 // 0-2 are reserved the way they are in Node

	openFlag := func(flag string) int {
		switch flag {
		case "r":
			return os.O_RDONLY
		case "r+":
			return os.O_RDWR
		case "w":
			return os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		case "w+":
			return os.O_RDWR | os.O_CREATE | os.O_TRUNC
		case "a":
			return os.O_WRONLY | os.O_CREATE | os.O_APPEND
		case "a+":
			return os.O_RDWR | os.O_CREATE | os.O_APPEND
		default:
			return os.O_RDONLY
		}
	}

	obj.Set("openSync", func(call goja.FunctionCall) goja.Value {
		path := resolve(call.Argument(0).String())
		flag := "r"
		if len(call.Arguments) > 1 && !goja.IsUndefined(call.Argument(1)) {
			flag = call.Argument(1).String()
		}
		f, err := os.OpenFile(path, openFlag(flag), 0o644)
		if err != nil {
			panic(rt.ToValue(map[string]interface{}{"code": "ENOENT", "message": err.Error()}))
		}
		fdMu.Lock()
		fd := nextFD
		nextFD++
		fds[fd] = f
		fdMu.Unlock()
		return rt.ToValue(fd)
	})

	lookupFD := func(call goja.FunctionCall) *os.File {
		fd := call.Argument(0).ToInteger()
		fdMu.Lock()
		f := fds[fd]
		fdMu.Unlock()
		if f == nil {
			panic(rt.ToValue(map[string]interface{}{"code": "EBADF", "message": "bad file descriptor"}))
		}
		return f
	}

	obj.Set("closeSync", func(call goja.FunctionCall) goja.Value {
		fd := call.Argument(0).ToInteger()
		fdMu.Lock()
		f, ok := fds[fd]
		delete(fds, fd)
		fdMu.Unlock()
		if !ok {
			panic(rt.ToValue(map[string]interface{}{"code": "EBADF", "message": "bad file descriptor"}))
		}
		if err := f.Close(); err != nil {
			panic(rt.ToValue(map[string]interface{}{"code": "EIO", "message": err.Error()}))
		}
		return goja.Undefined()
	})

	// readSync(fd, buffer, offset, length, position) mirrors Node's shape
	// but buffer here is a goja ArrayBuffer; position of -1/undefined reads
	// from the file's current offset, otherwise reads from an absolute
	// position without disturbing it.
	obj.Set("readSync", func(call goja.FunctionCall) goja.Value {
		f := lookupFD(call)
		ab, ok := call.Argument(1).Export().(goja.ArrayBuffer)
		if !ok {
			panic(rt.ToValue(map[string]interface{}{"code": "EINVAL", "message": "buffer must be an ArrayBuffer"}))
		}
		buf := ab.Bytes()
		bufOffset := int(call.Argument(2).ToInteger())
		length := int(call.Argument(3).ToInteger())
		if bufOffset+length > len(buf) {
			length = len(buf) - bufOffset
		}
		var n int
		var err error
		posArg := call.Argument(4)
		if goja.IsUndefined(posArg) || posArg.ToInteger() < 0 {
			n, err = f.Read(buf[bufOffset : bufOffset+length])
		} else {
			n, err = f.ReadAt(buf[bufOffset:bufOffset+length], posArg.ToInteger())
		}
		if err != nil && n == 0 {
			panic(rt.ToValue(map[string]interface{}{"code": "EIO", "message": err.Error()}))
		}
		return rt.ToValue(int64(n))
	})

	obj.Set("writeSync", func(call goja.FunctionCall) goja.Value {
		f := lookupFD(call)
		var data []byte
		switch v := call.Argument(1).Export().(type) {
		case string:
			data = []byte(v)
		case goja.ArrayBuffer:
			buf := v.Bytes()
			bufOffset := 0
			length := len(buf)
			if len(call.Arguments) > 2 && !goja.IsUndefined(call.Argument(2)) {
				bufOffset = int(call.Argument(2).ToInteger())
			}
			if len(call.Arguments) > 3 && !goja.IsUndefined(call.Argument(3)) {
				length = int(call.Argument(3).ToInteger())
			}
			if bufOffset+length > len(buf) {
				length = len(buf) - bufOffset
			}
			data = buf[bufOffset : bufOffset+length]
		default:
			data = []byte(call.Argument(1).String())
		}
		n, err := f.Write(data)
		if err != nil {
			panic(rt.ToValue(map[string]interface{}{"code": "EIO", "message": err.Error()}))
		}
		return rt.ToValue(int64(n))
	})

	obj.Set("ftruncateSync", func(call goja.FunctionCall) goja.Value {
		f := lookupFD(call)
		size := int64(0)
		if len(call.Arguments) > 1 {
			size = call.Argument(1).ToInteger()
		}
		if err := f.Truncate(size); err != nil {
			panic(rt.ToValue(map[string]interface{}{"code": "EIO", "message": err.Error()}))
		}
		return goja.Undefined()
	})

	obj.Set("truncateSync", func(call goja.FunctionCall) goja.Value {
		path := resolve(call.Argument(0).String())
		size := int64(0)
		if len(call.Arguments) > 1 {
			size = call.Argument(1).ToInteger()
		}
		if err := os.Truncate(path, size); err != nil {
			panic(rt.ToValue(map[string]interface{}{"code": "ENOENT", "message": err.Error()}))
		}
		return goja.Undefined()
	})

	// createReadStream/createWriteStream are explicitly unsupported per
	// the guest standard library contract.
	unsupported := func(call goja.FunctionCall) goja.Value {
		panic(rt.ToValue(map[string]interface{}{"code": "ENOTSUP", "message": "fs streams are not supported"}))
	}
	obj.Set("createReadStream", unsupported)
	obj.Set("createWriteStream", unsupported)

	// async (callback) and promise variants wrap the sync ones. Because the
	// guest runtime is single-threaded and cooperative, "async" here means
	// "host schedules the callback on the next tick of the invocation's
	// own loop", not a real background thread; this still lets user code
	// observe ordering relative to other bridged I/O the way Node would.
	wrapAsync := func(syncName string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			args := call.Arguments
			if len(args) == 0 {
				return goja.Undefined()
			}
			cb, ok := goja.AssertFunction(args[len(args)-1])
			syncArgs := args[:len(args)-1]
			if !ok {
				return goja.Undefined()
			}
			syncFn, _ := goja.AssertFunction(obj.Get(syncName))
			b.ScheduleTimer(0, false, func() {
				var result goja.Value
				var callErr error
				func() {
					defer func() {
						if r := recover(); r != nil {
							if v, ok := r.(goja.Value); ok {
								cb(goja.Undefined(), v)
								return
							}
							panic(r)
						}
					}()
					result, callErr = syncFn(goja.Undefined(), syncArgs...)
				}()
				if callErr != nil {
					cb(goja.Undefined(), rt.ToValue(callErr.Error()))
					return
				}
				cb(goja.Undefined(), goja.Null(), result)
			})
			return goja.Undefined()
		}
	}

	obj.Set("readFile", wrapAsync("readFileSync"))
	obj.Set("writeFile", wrapAsync("writeFileSync"))
	obj.Set("appendFile", wrapAsync("appendFileSync"))
	obj.Set("stat", wrapAsync("statSync"))
	obj.Set("readdir", wrapAsync("readdirSync"))
	obj.Set("unlink", wrapAsync("unlinkSync"))
	obj.Set("rmdir", wrapAsync("rmdirSync"))
	obj.Set("mkdir", wrapAsync("mkdirSync"))
	obj.Set("rename", wrapAsync("renameSync"))
	obj.Set("copyFile", wrapAsync("copyFileSync"))
	obj.Set("chmod", wrapAsync("chmodSync"))
	obj.Set("chown", wrapAsync("chownSync"))
	obj.Set("access", wrapAsync("accessSync"))
	obj.Set("open", wrapAsync("openSync"))
	obj.Set("close", wrapAsync("closeSync"))
	obj.Set("read", wrapAsync("readSync"))
	obj.Set("write", wrapAsync("writeSync"))
	obj.Set("truncate", wrapAsync("truncateSync"))
	obj.Set("ftruncate", wrapAsync("ftruncateSync"))

	promises := rt.NewObject()
	wrapPromise := func(syncName string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			syncFn, _ := goja.AssertFunction(obj.Get(syncName))
			promise, resolve, reject := rt.NewPromise()
			func() {
				defer func() {
					if r := recover(); r != nil {
						if v, ok := r.(goja.Value); ok {
							reject(v)
							return
						}
						panic(r)
					}
				}()
				result, err := syncFn(goja.Undefined(), call.Arguments...)
				if err != nil {
					reject(rt.ToValue(err.Error()))
					return
				}
				resolve(result)
			}()
			return rt.ToValue(promise)
		}
	}
	promises.Set("readFile", wrapPromise("readFileSync"))
	promises.Set("writeFile", wrapPromise("writeFileSync"))
	promises.Set("appendFile", wrapPromise("appendFileSync"))
	promises.Set("stat", wrapPromise("statSync"))
	promises.Set("readdir", wrapPromise("readdirSync"))
	promises.Set("unlink", wrapPromise("unlinkSync"))
	promises.Set("rmdir", wrapPromise("rmdirSync"))
	promises.Set("mkdir", wrapPromise("mkdirSync"))
	promises.Set("rename", wrapPromise("renameSync"))
	promises.Set("copyFile", wrapPromise("copyFileSync"))
	promises.Set("chmod", wrapPromise("chmodSync"))
	promises.Set("chown", wrapPromise("chownSync"))
	// access resolves with undefined on success and rejects on failure,
	// same as Node's fs.promises.access.
	promises.Set("access", wrapPromise("accessSync"))
	// promises.open returns the bare numeric fd rather than a FileHandle
	// wrapper; guest code reads/writes/closes it through fs.promises.read,
	// fs.promises.write, and fs.promises.close the same way it would
	// through the callback-based fs.read/write/close.
	promises.Set("open", wrapPromise("openSync"))
	promises.Set("close", wrapPromise("closeSync"))
	promises.Set("read", wrapPromise("readSync"))
	promises.Set("write", wrapPromise("writeSync"))
	promises.Set("truncate", wrapPromise("truncateSync"))
	promises.Set("ftruncate", wrapPromise("ftruncateSync"))
	obj.Set("promises", promises)

	return obj
}
