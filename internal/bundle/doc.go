// Package bundle assembles support bundles: zip archives of the
// configured diagnostic files, redacted per the active filter set and
// truncated to the per-source byte ceilings.
//
// A Generator produces one bundle per call. The Scheduler runs the
// generator on an interval with exponential backoff on failures. The
// Manager holds the most recent result for the API and readiness probes,
// and the Store answers listing and download requests from disk.
package bundle
