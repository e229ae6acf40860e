// Package tracefmt renders errors into human-readable text for inclusion
// in diagnostic output, e.g. the placeholder block written when a bundle
// source file has gone missing. The rendering is message chain first, then
// the captured stack (if the error carries one from xerrors).
package tracefmt

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/fcojfernandez/support-core-plugin/internal/xerrors"
)

// Format renders err as a multi-line block: one line per message in the
// unwrap chain, then func/file:line frames from the captured stack.
// A nil error renders as an empty string.
func Format(err error) string {
	if err == nil {
		return ""
	}

	var b strings.Builder
	prev := ""
	depth := 0
	for e := err; e != nil; e = errors.Unwrap(e) {
		msg := e.Error()
		if msg == prev {
			continue
		}
		if depth == 0 {
			fmt.Fprintf(&b, "%s\n", msg)
		} else {
			fmt.Fprintf(&b, "caused by: %s\n", msg)
		}
		prev = msg
		depth++
	}

	if pcs := xerrors.StackOf(err); len(pcs) > 0 {
		b.WriteString(renderFrames(pcs))
	}
	return b.String()
}

// renderFrames renders program counters as indented func + file:line pairs,
// skipping runtime internals and our own error plumbing.
func renderFrames(pcs []uintptr) string {
	frames := runtime.CallersFrames(pcs)
	var b strings.Builder
	for {
		fr, more := frames.Next()
		if strings.HasPrefix(fr.Function, "runtime.") {
			break
		}
		if !strings.Contains(fr.Function, "/internal/xerrors.") {
			fmt.Fprintf(&b, "\tat %s\n\t\t%s:%d\n", fr.Function, fr.File, fr.Line)
		}
		if !more {
			break
		}
	}
	return b.String()
}
