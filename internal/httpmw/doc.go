// Package httpmw provides HTTP middleware for the bundler API server.
//
// Middleware is composed in a specific order in httpserver.NewHandler:
// request ID, rate limiting, OTEL tracing, trace headers, metrics,
// panic recovery, structured logging, and chi router.
//
// Each middleware is an independent function that can be tested, reordered,
// or removed individually. User-supplied data (query params, user-agent,
// headers) is intentionally excluded from logs to prevent PII leaks and
// log injection.
package httpmw
