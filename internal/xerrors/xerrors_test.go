package xerrors

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"
)

func TestNew_CapturesStack(t *testing.T) {
	err := New("boom")
	if err == nil {
		t.Fatal("New returned nil")
	}
	if err.Error() != "boom" {
		t.Fatalf("Error() = %q, want %q", err.Error(), "boom")
	}
	pcs := StackOf(err)
	if len(pcs) == 0 {
		t.Fatal("expected captured stack, got none")
	}
}

func TestWithStack_NilPassthrough(t *testing.T) {
	if WithStack(nil) != nil {
		t.Fatal("WithStack(nil) should be nil")
	}
	if Wrap(nil, "x") != nil {
		t.Fatal("Wrap(nil) should be nil")
	}
	if Wrapf(nil, "x %d", 1) != nil {
		t.Fatal("Wrapf(nil) should be nil")
	}
	if EnsureTrace(nil) != nil {
		t.Fatal("EnsureTrace(nil) should be nil")
	}
}

func TestWrap_MessageAndUnwrap(t *testing.T) {
	base := errors.New("base")
	err := Wrap(base, "context")
	if got := err.Error(); got != "context: base" {
		t.Fatalf("Error() = %q", got)
	}
	if !errors.Is(err, base) {
		t.Fatal("wrapped error should unwrap to base")
	}
}

func TestWrapf_Formats(t *testing.T) {
	base := errors.New("base")
	err := Wrapf(base, "op %s failed", "read")
	if !strings.HasPrefix(err.Error(), "op read failed: ") {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestWrap_PreservesSentinels(t *testing.T) {
	err := Wrap(fmt.Errorf("open: %w", fs.ErrNotExist), "emit")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatal("errors.Is through wrap chain failed")
	}
}

func TestEnsureTrace_DoesNotDoubleWrap(t *testing.T) {
	inner := New("already stacked")
	outer := EnsureTrace(inner)
	if outer != inner {
		t.Fatal("EnsureTrace re-wrapped an error that already had a stack")
	}

	plain := errors.New("plain")
	traced := EnsureTrace(plain)
	if traced == plain {
		t.Fatal("EnsureTrace should wrap an error without a stack")
	}
	if len(StackOf(traced)) == 0 {
		t.Fatal("expected stack after EnsureTrace")
	}
}

func TestStackOf_NoStack(t *testing.T) {
	if StackOf(errors.New("plain")) != nil {
		t.Fatal("StackOf on plain error should be nil")
	}
}

func TestWrap_RecordsCallerPC(t *testing.T) {
	err := Wrap(errors.New("x"), "y")
	type hasPC interface{ PC() uintptr }
	hp, ok := err.(hasPC)
	if !ok {
		t.Fatal("wrap should expose PC()")
	}
	if hp.PC() == 0 {
		t.Fatal("PC() should be non-zero")
	}
}
