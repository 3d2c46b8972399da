package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/novacore/novacore/internal/apperr"
)

func writeEntry(t *testing.T, dir, source string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "index.js"), []byte(source), 0o644); err != nil {
		t.Fatalf("write entry: %v", err)
	}
}

func TestExecute_DirectFunctionExportWritesJSONBody(t *testing.T) {
	dir := t.TempDir()
	writeEntry(t, dir, `module.exports = function(req, res) { res.json({ok: true, method: req.method}); };`)

	h := New(Config{})
	req := ScheduledRequestMirror()
	result, err := h.Execute(context.Background(), dir, "index.js", req, time.Now().Add(5*time.Second))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Exec.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", result.Exec.StatusCode)
	}
	if result.Exec.Headers["content-type"] != "application/json" {
		t.Fatalf("expected json content-type, got %q", result.Exec.Headers["content-type"])
	}
}

func TestExecute_HandlerPropertyExport(t *testing.T) {
	dir := t.TempDir()
	writeEntry(t, dir, `exports.handler = function(req, res) { res.send("ok"); };`)

	h := New(Config{})
	result, err := h.Execute(context.Background(), dir, "index.js", ScheduledRequestMirror(), time.Now().Add(5*time.Second))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if string(result.Exec.Body) != "ok" {
		t.Fatalf("expected body 'ok', got %q", result.Exec.Body)
	}
}

func TestExecute_NoHandlerIsBadExport(t *testing.T) {
	dir := t.TempDir()
	writeEntry(t, dir, `module.exports = { notAFunction: 42 };`)

	h := New(Config{})
	_, err := h.Execute(context.Background(), dir, "index.js", ScheduledRequestMirror(), time.Now().Add(5*time.Second))
	if !apperr.Is(err, apperr.KindBadExport) {
		t.Fatalf("expected BadExport, got %v", err)
	}
}

func TestExecute_BareReturnValueBecomesJSONBody(t *testing.T) {
	dir := t.TempDir()
	writeEntry(t, dir, `module.exports = function(req, res) { return {hello: "world"}; };`)

	h := New(Config{})
	result, err := h.Execute(context.Background(), dir, "index.js", ScheduledRequestMirror(), time.Now().Add(5*time.Second))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Exec.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", result.Exec.StatusCode)
	}
}

func TestExecute_NoOutputWhenHandlerReturnsUndefinedAndNeverWrites(t *testing.T) {
	dir := t.TempDir()
	writeEntry(t, dir, `module.exports = function(req, res) {};`)

	h := New(Config{})
	result, err := h.Execute(context.Background(), dir, "index.js", ScheduledRequestMirror(), time.Now().Add(5*time.Second))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Exec.NoOutput || result.Exec.StatusCode != 500 {
		t.Fatalf("expected NoOutput/500, got %+v", result.Exec)
	}
}

func TestExecute_RequireDeniedModuleFails(t *testing.T) {
	dir := t.TempDir()
	writeEntry(t, dir, `var fsnative = require("child_process"); module.exports = function(req, res) { res.send("unreachable"); };`)

	h := New(Config{})
	_, err := h.Execute(context.Background(), dir, "index.js", ScheduledRequestMirror(), time.Now().Add(5*time.Second))
	if err == nil {
		t.Fatalf("expected denied-module error, got nil")
	}
}

func TestExecute_PathEscapeInRequireIsRejected(t *testing.T) {
	dir := t.TempDir()
	writeEntry(t, dir, `require("../../../etc/passwd"); module.exports = function(req, res) { res.send("unreachable"); };`)

	h := New(Config{})
	_, err := h.Execute(context.Background(), dir, "index.js", ScheduledRequestMirror(), time.Now().Add(5*time.Second))
	if err == nil {
		t.Fatalf("expected escape-rejected error, got nil")
	}
}

func TestExecute_FSFileDescriptorFamily(t *testing.T) {
	dir := t.TempDir()
	writeEntry(t, dir, `
const fs = require("fs");
module.exports = function(req, res) {
	fs.writeFileSync("scratch.txt", "hello world");
	const fd = fs.openSync("scratch.txt", "r+");
	const buf = new ArrayBuffer(5);
	fs.readSync(fd, buf, 0, 5, 0);
	const view = new Uint8Array(buf);
	let read = "";
	for (let i = 0; i < view.length; i++) { read += String.fromCharCode(view[i]); }
	fs.writeSync(fd, "HELLO", 0, 5);
	fs.ftruncateSync(fd, 7);
	fs.closeSync(fd);
	const final = fs.readFileSync("scratch.txt", "utf8");
	res.json({ read: read, final: final });
};
`)

	h := New(Config{})
	result, err := h.Execute(context.Background(), dir, "index.js", ScheduledRequestMirror(), time.Now().Add(5*time.Second))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Exec.StatusCode != 200 {
		t.Fatalf("expected 200, got %d body=%s", result.Exec.StatusCode, result.Exec.Body)
	}
	body := string(result.Exec.Body)
	if !strings.Contains(body, `"read":"hello"`) {
		t.Fatalf("expected readSync to recover the first 5 bytes, got %s", body)
	}
	if !strings.Contains(body, `"final":"HELLO w"`) {
		t.Fatalf("expected writeSync+ftruncateSync to produce 'HELLO w', got %s", body)
	}
}

func TestExecute_AssertDeepStrictEqualHonorsTypedCollections(t *testing.T) {
	dir := t.TempDir()
	writeEntry(t, dir, `
const assert = require("assert");
module.exports = function(req, res) {
	assert.deepStrictEqual(new Date(1000), new Date(1000));
	assert.deepStrictEqual(new Map([["a", 1], ["b", 2]]), new Map([["b", 2], ["a", 1]]));
	assert.deepStrictEqual(new Set([1, 2, 3]), new Set([3, 2, 1]));
	assert.deepStrictEqual(new Uint8Array([1, 2, 3]), new Uint8Array([1, 2, 3]));

	let threw = false;
	try {
		assert.deepStrictEqual(new Map([["a", 1]]), new Map([["a", 2]]));
	} catch (e) {
		threw = e.name === "AssertionError" && typeof e.message === "string" && e.message.length > 0;
	}
	res.json({ threw: threw });
};
`)

	h := New(Config{})
	result, err := h.Execute(context.Background(), dir, "index.js", ScheduledRequestMirror(), time.Now().Add(5*time.Second))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(string(result.Exec.Body), `"threw":true`) {
		t.Fatalf("expected a mismatched Map to raise AssertionError with a diff message, got %s", result.Exec.Body)
	}
}

func TestExecute_TimersPromisesIntervalIterator(t *testing.T) {
	dir := t.TempDir()
	writeEntry(t, dir, `
const timers = require("timers/promises");
module.exports = async function(req, res) {
	let count = 0;
	for await (const _ of timers.setInterval(1, "tick")) {
		count++;
		if (count >= 3) break;
	}
	res.json({ count: count });
};
`)

	h := New(Config{})
	result, err := h.Execute(context.Background(), dir, "index.js", ScheduledRequestMirror(), time.Now().Add(5*time.Second))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(string(result.Exec.Body), `"count":3`) {
		t.Fatalf("expected the interval iterator to yield 3 times before break, got %s", result.Exec.Body)
	}
}

func TestExecute_ConsoleLogIsCaptured(t *testing.T) {
	dir := t.TempDir()
	writeEntry(t, dir, `module.exports = function(req, res) { console.log("hello", 42); res.sendStatus(204); };`)

	h := New(Config{})
	result, err := h.Execute(context.Background(), dir, "index.js", ScheduledRequestMirror(), time.Now().Add(5*time.Second))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(result.Console) != 1 || result.Console[0].Level != "log" {
		t.Fatalf("expected one captured console.log entry, got %+v", result.Console)
	}
}
