package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fcojfernandez/support-core-plugin/internal/health"
	"github.com/fcojfernandez/support-core-plugin/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler
	Health       health.Probe
	Readiness    health.Probe

	// APIRoutes registers the bundle API endpoints on the router.
	APIRoutes func(r chi.Router)

	// MaxBodyBytes caps request bodies. Zero uses the default; the API
	// accepts no meaningful bodies, so this stays small.
	MaxBodyBytes int64
}
