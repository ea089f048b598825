package failfast

import (
	"strings"
	"testing"
)

func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("%s: expected panic, got none", name)
		}
		if _, ok := r.(error); !ok {
			t.Fatalf("%s: expected error type, got %T", name, r)
		}
	}()
	fn()
}

func mustNotPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("%s: unexpected panic: %v", name, r)
		}
	}()
	fn()
}

func TestIf(t *testing.T) {
	mustNotPanic(t, "true", func() { If(true, "unused") })
	mustPanic(t, "false", func() { If(false, "value %d", 3) })
}

func TestNotNil(t *testing.T) {
	var typedNil *int
	var nilFunc func()
	v := 1

	mustPanic(t, "untyped nil", func() { NotNil(nil, "x") })
	mustPanic(t, "typed nil", func() { NotNil(typedNil, "x") })
	mustPanic(t, "nil func", func() { NotNil(nilFunc, "x") })
	mustNotPanic(t, "value", func() { NotNil(&v, "x") })
}

func TestPositive(t *testing.T) {
	mustNotPanic(t, "one", func() { Positive(1, "size") })
	mustPanic(t, "zero", func() { Positive(0, "size") })
	mustPanic(t, "negative", func() { Positive(-5, "size") })

	defer func() {
		err, _ := recover().(error)
		if err == nil || !strings.Contains(err.Error(), "queue capacity must be positive, got 0") {
			t.Errorf("Positive(0) panic = %v, want message naming the value", err)
		}
	}()
	Positive(0, "queue capacity")
}
