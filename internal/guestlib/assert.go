package guestlib

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"

	"github.com/dop251/goja"
)

func init() {
	register("assert", buildAssert)
}

var typedArrayClasses = map[string]bool{
	"Int8Array": true, "Uint8Array": true, "Uint8ClampedArray": true,
	"Int16Array": true, "Uint16Array": true,
	"Int32Array": true, "Uint32Array": true,
	"Float32Array": true, "Float64Array": true,
	"BigInt64Array": true, "BigUint64Array": true,
	"ArrayBuffer": true,
}

// describe renders a value for an AssertionError diff message.
func describe(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	return v.String()
}

// deepStrictEqualValues implements spec-shaped deepStrictEqual: dispatch on
// the object's internal class tag (Date, RegExp, Map, Set, Error, boxed
// Number/String/Boolean, typed arrays) rather than assuming every guest
// value exports to a Go type reflect.DeepEqual can compare meaningfully.
// Returns ok plus, on mismatch, a path-qualified diff description.
func deepStrictEqualValues(rt *goja.Runtime, a, e goja.Value, path string) (bool, string) {
	aObj, aIsObj := a.(*goja.Object)
	eObj, eIsObj := e.(*goja.Object)

	if !aIsObj && !eIsObj {
		if a.SameAs(e) {
			return true, ""
		}
		return false, fmt.Sprintf("%s: %s !== %s", rootPath(path), describe(a), describe(e))
	}
	if aIsObj != eIsObj {
		return false, fmt.Sprintf("%s: %s is not the same type as %s", rootPath(path), describe(a), describe(e))
	}

	aClass, eClass := aObj.ClassName(), eObj.ClassName()
	if aClass != eClass {
		return false, fmt.Sprintf("%s: %s is a %s, expected a %s", rootPath(path), describe(a), aClass, eClass)
	}

	switch {
	case aClass == "Date":
		return compareByMethod(aObj, eObj, "getTime", path)
	case aClass == "RegExp":
		if aObj.Get("source").String() != eObj.Get("source").String() || aObj.Get("flags").String() != eObj.Get("flags").String() {
			return false, fmt.Sprintf("%s: /%s/%s !== /%s/%s", rootPath(path), aObj.Get("source"), aObj.Get("flags"), eObj.Get("source"), eObj.Get("flags"))
		}
		return true, ""
	case aClass == "Number" || aClass == "String" || aClass == "Boolean":
		return compareByMethod(aObj, eObj, "valueOf", path)
	case aClass == "Error":
		aName, eName := aObj.Get("name").String(), eObj.Get("name").String()
		aMsg, eMsg := aObj.Get("message").String(), eObj.Get("message").String()
		if aName != eName || aMsg != eMsg {
			return false, fmt.Sprintf("%s: %s(%q) !== %s(%q)", rootPath(path), aName, aMsg, eName, eMsg)
		}
		return true, ""
	case aClass == "Map":
		return compareMaps(rt, aObj, eObj, path)
	case aClass == "Set":
		return compareSets(rt, aObj, eObj, path)
	case aClass == "Array":
		return compareArrays(rt, aObj, eObj, path)
	case typedArrayClasses[aClass]:
		if !reflect.DeepEqual(aObj.Export(), eObj.Export()) {
			return false, fmt.Sprintf("%s: %s contents differ", rootPath(path), aClass)
		}
		return true, ""
	default:
		return compareObjects(rt, aObj, eObj, path)
	}
}

func rootPath(path string) string {
	if path == "" {
		return "value"
	}
	return path
}

func compareByMethod(a, e *goja.Object, method, path string) (bool, string) {
	af, aok := goja.AssertFunction(a.Get(method))
	ef, eok := goja.AssertFunction(e.Get(method))
	if !aok || !eok {
		return false, fmt.Sprintf("%s: missing %s()", rootPath(path), method)
	}
	av, aerr := af(a)
	ev, eerr := ef(e)
	if aerr != nil || eerr != nil {
		return false, fmt.Sprintf("%s: %s() threw", rootPath(path), method)
	}
	if av.SameAs(ev) {
		return true, ""
	}
	return false, fmt.Sprintf("%s: %s() %s !== %s", rootPath(path), method, describe(av), describe(ev))
}

func compareArrays(rt *goja.Runtime, a, e *goja.Object, path string) (bool, string) {
	aLen := int(a.Get("length").ToInteger())
	eLen := int(e.Get("length").ToInteger())
	if aLen != eLen {
		return false, fmt.Sprintf("%s: array length %d !== %d", rootPath(path), aLen, eLen)
	}
	for i := 0; i < aLen; i++ {
		idx := strconv.Itoa(i)
		if ok, diff := deepStrictEqualValues(rt, a.Get(idx), e.Get(idx), fmt.Sprintf("%s[%d]", path, i)); !ok {
			return false, diff
		}
	}
	return true, ""
}

func compareObjects(rt *goja.Runtime, a, e *goja.Object, path string) (bool, string) {
	aKeys, eKeys := a.Keys(), e.Keys()
	if len(aKeys) != len(eKeys) {
		return false, fmt.Sprintf("%s: %d own keys !== %d own keys", rootPath(path), len(aKeys), len(eKeys))
	}
	seen := make(map[string]bool, len(aKeys))
	for _, k := range aKeys {
		seen[k] = true
	}
	for _, k := range eKeys {
		if !seen[k] {
			return false, fmt.Sprintf("%s: key %q missing from actual", rootPath(path), k)
		}
	}
	sort.Strings(aKeys)
	for _, k := range aKeys {
		childPath := path + "." + k
		if path == "" {
			childPath = k
		}
		if ok, diff := deepStrictEqualValues(rt, a.Get(k), e.Get(k), childPath); !ok {
			return false, diff
		}
	}
	return true, ""
}

func collectMapEntries(rt *goja.Runtime, o *goja.Object) ([][2]goja.Value, error) {
	forEach, ok := goja.AssertFunction(o.Get("forEach"))
	if !ok {
		return nil, fmt.Errorf("value is not a Map")
	}
	var entries [][2]goja.Value
	cb := rt.ToValue(func(call goja.FunctionCall) goja.Value {
		// Map.prototype.forEach(value, key, map)
		entries = append(entries, [2]goja.Value{call.Argument(1), call.Argument(0)})
		return goja.Undefined()
	})
	_, err := forEach(o, cb)
	return entries, err
}

// compareMaps treats both sides as unordered bags of entries: Node's
// deepStrictEqual does not require insertion order to match.
func compareMaps(rt *goja.Runtime, a, e *goja.Object, path string) (bool, string) {
	aEntries, aErr := collectMapEntries(rt, a)
	eEntries, eErr := collectMapEntries(rt, e)
	if aErr != nil || eErr != nil {
		return false, fmt.Sprintf("%s: could not iterate Map", rootPath(path))
	}
	if len(aEntries) != len(eEntries) {
		return false, fmt.Sprintf("%s: Map size %d !== %d", rootPath(path), len(aEntries), len(eEntries))
	}
	used := make([]bool, len(eEntries))
	for _, ap := range aEntries {
		matched := false
		for i, ep := range eEntries {
			if used[i] {
				continue
			}
			if keyOK, _ := deepStrictEqualValues(rt, ap[0], ep[0], path+".<key>"); !keyOK {
				continue
			}
			if valOK, _ := deepStrictEqualValues(rt, ap[1], ep[1], path+".<value>"); !valOK {
				continue
			}
			used[i] = true
			matched = true
			break
		}
		if !matched {
			return false, fmt.Sprintf("%s: Map entry %s => %s has no match in expected", rootPath(path), describe(ap[0]), describe(ap[1]))
		}
	}
	return true, ""
}

func collectSetValues(rt *goja.Runtime, o *goja.Object) ([]goja.Value, error) {
	forEach, ok := goja.AssertFunction(o.Get("forEach"))
	if !ok {
		return nil, fmt.Errorf("value is not a Set")
	}
	var values []goja.Value
	cb := rt.ToValue(func(call goja.FunctionCall) goja.Value {
		values = append(values, call.Argument(0))
		return goja.Undefined()
	})
	_, err := forEach(o, cb)
	return values, err
}

func compareSets(rt *goja.Runtime, a, e *goja.Object, path string) (bool, string) {
	aVals, aErr := collectSetValues(rt, a)
	eVals, eErr := collectSetValues(rt, e)
	if aErr != nil || eErr != nil {
		return false, fmt.Sprintf("%s: could not iterate Set", rootPath(path))
	}
	if len(aVals) != len(eVals) {
		return false, fmt.Sprintf("%s: Set size %d !== %d", rootPath(path), len(aVals), len(eVals))
	}
	used := make([]bool, len(eVals))
	for _, av := range aVals {
		matched := false
		for i, ev := range eVals {
			if used[i] {
				continue
			}
			if ok, _ := deepStrictEqualValues(rt, av, ev, path+".<item>"); ok {
				used[i] = true
				matched = true
				break
			}
		}
		if !matched {
			return false, fmt.Sprintf("%s: Set value %s has no match in expected", rootPath(path), describe(av))
		}
	}
	return true, ""
}

// buildAssert provides a pragmatic subset of Node's assert module: ok,
// equal/strictEqual (loose/strict primitive comparison), deepEqual/
// deepStrictEqual (structural comparison honoring Date, RegExp, Map, Set,
// Error, boxed primitives, and typed arrays, per deepStrictEqualValues),
// throws/doesNotThrow, and ifError. Mismatches throw an AssertionError-
// shaped object carrying actual/expected/operator plus a generated diff
// message; deepEqual is not distinguished from deepStrictEqual since guest
// code has no legitimate use for deepEqual's legacy type-coercing variant.
func buildAssert(rt *goja.Runtime, b Bridge) goja.Value {
	fail := func(message, operator string, actual, expected goja.Value) {
		panic(rt.ToValue(map[string]interface{}{
			"name":     "AssertionError",
			"message":  message,
			"operator": operator,
			"actual":   exportOrNil(actual),
			"expected": exportOrNil(expected),
		}))
	}

	assertOk := func(call goja.FunctionCall) goja.Value {
		v := call.Argument(0)
		if !v.ToBoolean() {
			msg := "The expression evaluated to a falsy value"
			if m := call.Argument(1); !goja.IsUndefined(m) {
				msg = m.String()
			}
			fail(msg, "==", v, rt.ToValue(true))
		}
		return goja.Undefined()
	}

	equalLoose := func(call goja.FunctionCall) goja.Value {
		a, e := call.Argument(0), call.Argument(1)
		if fmt.Sprintf("%v", a.Export()) != fmt.Sprintf("%v", e.Export()) {
			fail(msgOr(call, 2, "values are not equal"), "==", a, e)
		}
		return goja.Undefined()
	}
	notEqualLoose := func(call goja.FunctionCall) goja.Value {
		a, e := call.Argument(0), call.Argument(1)
		if fmt.Sprintf("%v", a.Export()) == fmt.Sprintf("%v", e.Export()) {
			fail(msgOr(call, 2, "values are equal"), "!=", a, e)
		}
		return goja.Undefined()
	}

	strictEqual := func(call goja.FunctionCall) goja.Value {
		a, e := call.Argument(0), call.Argument(1)
		if !a.StrictEquals(e) {
			fail(msgOr(call, 2, "values are not strictly equal"), "===", a, e)
		}
		return goja.Undefined()
	}
	notStrictEqual := func(call goja.FunctionCall) goja.Value {
		a, e := call.Argument(0), call.Argument(1)
		if a.StrictEquals(e) {
			fail(msgOr(call, 2, "values are strictly equal"), "!==", a, e)
		}
		return goja.Undefined()
	}

	deepStrictEqualFn := func(call goja.FunctionCall) goja.Value {
		a, e := call.Argument(0), call.Argument(1)
		ok, diff := deepStrictEqualValues(rt, a, e, "")
		if !ok {
			msg := diff
			if custom := call.Argument(2); !goja.IsUndefined(custom) {
				msg = custom.String()
			}
			fail(msg, "deepStrictEqual", a, e)
		}
		return goja.Undefined()
	}
	notDeepStrictEqualFn := func(call goja.FunctionCall) goja.Value {
		a, e := call.Argument(0), call.Argument(1)
		if ok, _ := deepStrictEqualValues(rt, a, e, ""); ok {
			fail(msgOr(call, 2, "values are deeply equal"), "notDeepStrictEqual", a, e)
		}
		return goja.Undefined()
	}

	throws := func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			fail("assert.throws requires a function argument", "throws", goja.Undefined(), goja.Undefined())
			return goja.Undefined()
		}
		threw := func() (threw bool) {
			defer func() {
				if recover() != nil {
					threw = true
				}
			}()
			_, _ = fn(goja.Undefined())
			return false
		}()
		if !threw {
			fail("Missing expected exception", "throws", goja.Undefined(), goja.Undefined())
		}
		return goja.Undefined()
	}
	doesNotThrow := func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			return goja.Undefined()
		}
		_, _ = fn(goja.Undefined())
		return goja.Undefined()
	}

	ifError := func(call goja.FunctionCall) goja.Value {
		v := call.Argument(0)
		if !goja.IsUndefined(v) && !goja.IsNull(v) && v.ToBoolean() {
			fail("ifError got unwanted exception", "ifError", v, goja.Undefined())
		}
		return goja.Undefined()
	}

	obj := rt.ToValue(assertOk).(*goja.Object)
	obj.Set("ok", assertOk)
	obj.Set("equal", equalLoose)
	obj.Set("notEqual", notEqualLoose)
	obj.Set("strictEqual", strictEqual)
	obj.Set("notStrictEqual", notStrictEqual)
	obj.Set("deepEqual", deepStrictEqualFn)
	obj.Set("deepStrictEqual", deepStrictEqualFn)
	obj.Set("notDeepEqual", notDeepStrictEqualFn)
	obj.Set("notDeepStrictEqual", notDeepStrictEqualFn)
	obj.Set("throws", throws)
	obj.Set("doesNotThrow", doesNotThrow)
	obj.Set("ifError", ifError)

	return obj
}

func msgOr(call goja.FunctionCall, idx int, fallback string) string {
	if m := call.Argument(idx); !goja.IsUndefined(m) {
		return m.String()
	}
	return fallback
}

func exportOrNil(v goja.Value) interface{} {
	if v == nil || goja.IsUndefined(v) {
		return nil
	}
	return v.Export()
}
