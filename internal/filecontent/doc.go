// Package filecontent emits a single file's bytes into a support bundle
// stream. It enforces an optional hard byte ceiling, applies per-line
// filters to text files only, and substitutes a warning block when the
// source file has gone missing instead of failing the whole bundle.
package filecontent
