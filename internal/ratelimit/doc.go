// Package ratelimit provides per-IP rate limiting with background eviction
// of stale entries.
//
// This is a single-instance, in-memory rate limiter intended for basic abuse
// prevention on a single server. It does not protect against distributed
// attacks or application-layer DoS that stays under the rate limit. Bundle
// generation is expensive, so the API endpoints that trigger it get a much
// lower budget than the read-only ones.
package ratelimit
