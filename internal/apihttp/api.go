// Package apihttp serves the bundler REST API: listing, downloading,
// and triggering support bundles.
package apihttp

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fcojfernandez/support-core-plugin/internal/bundle"
	"github.com/fcojfernandez/support-core-plugin/internal/log"
	"github.com/fcojfernandez/support-core-plugin/internal/version"
)

// LatestProvider exposes the most recent bundle result.
type LatestProvider interface {
	Latest() (*bundle.Result, bool)
}

// Archives answers listing and download-path requests. Satisfied by
// bundle.Store.
type Archives interface {
	List() ([]bundle.Info, error)
	Resolve(name string) (string, error)
}

// GenerateFunc produces one bundle on demand. main wires this to the
// generator plus whatever post-processing (publish, upload) a scheduled
// run would get.
type GenerateFunc func(ctx context.Context) (*bundle.Result, error)

// API implements the bundle API endpoints.
type API struct {
	latest   LatestProvider
	archives Archives
	generate GenerateFunc
	logger   log.Logger

	// one on-demand generation at a time
	busy atomic.Bool
}

// NewAPI creates the bundle API handler. generate may be nil to disable
// on-demand triggering.
func NewAPI(latest LatestProvider, archives Archives, generate GenerateFunc, logger log.Logger) *API {
	if logger == nil {
		logger = log.Nop()
	}
	return &API{
		latest:   latest,
		archives: archives,
		generate: generate,
		logger:   logger,
	}
}

// RegisterRoutes attaches bundle endpoints to the router.
func (api *API) RegisterRoutes(r chi.Router) {
	r.Get("/api/bundles", api.HandleList)
	r.Post("/api/bundles", api.HandleTrigger)
	r.Get("/api/bundles/latest", api.HandleLatest)
	r.Get("/api/bundles/{name}", api.HandleDownload)
	r.Get("/api/status", api.HandleStatus)
}

// ListResponse wraps the archive listing.
type ListResponse struct {
	Bundles []bundle.Info `json:"bundles"`
}

// TriggerResponse acknowledges an accepted generation request.
type TriggerResponse struct {
	Status string `json:"status"`
}

// StatusResponse reports daemon identity and the latest bundle.
type StatusResponse struct {
	Version    version.Info   `json:"version"`
	ServerTime time.Time      `json:"server_time"`
	Generating bool           `json:"generating"`
	Latest     *bundle.Result `json:"latest,omitempty"`
}

// HandleList serves the archives currently on disk, newest first.
func (api *API) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	infos, err := api.archives.List()
	if err != nil {
		api.logger.Error(ctx, err, "list bundles failed")
		http.Error(w, `{"error":"cannot list bundles"}`, http.StatusInternalServerError)
		return
	}
	if infos == nil {
		infos = []bundle.Info{}
	}
	api.writeJSON(ctx, w, http.StatusOK, ListResponse{Bundles: infos})
}

// HandleTrigger starts an on-demand generation. Generation continues in
// the background after the 202 response; only one runs at a time.
func (api *API) HandleTrigger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if api.generate == nil {
		http.Error(w, `{"error":"on-demand generation disabled"}`, http.StatusNotImplemented)
		return
	}
	if !api.busy.CompareAndSwap(false, true) {
		w.Header().Set("Retry-After", "30")
		http.Error(w, `{"error":"generation already in progress"}`, http.StatusConflict)
		return
	}

	api.logger.Info(ctx, "on-demand bundle generation requested")

	// detach from the request context so the bundle survives client
	// disconnects once accepted
	go func() {
		defer api.busy.Store(false)
		bctx := context.Background()
		if _, err := api.generate(bctx); err != nil {
			api.logger.Error(bctx, err, "on-demand bundle generation failed")
		}
	}()

	api.writeJSON(ctx, w, http.StatusAccepted, TriggerResponse{Status: "accepted"})
}

// HandleLatest serves the most recent bundle result.
func (api *API) HandleLatest(w http.ResponseWriter, r *http.Request) {
	res, ok := api.latest.Latest()
	if !ok {
		http.Error(w, `{"error":"no bundle generated yet"}`, http.StatusNotFound)
		return
	}
	api.writeJSON(r.Context(), w, http.StatusOK, res)
}

// HandleDownload streams one archive.
func (api *API) HandleDownload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	path, err := api.archives.Resolve(name)
	if err != nil {
		http.Error(w, `{"error":"no such bundle"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeFile(w, r, path)
}

// HandleStatus serves daemon identity plus the latest bundle summary.
func (api *API) HandleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Version:    version.Get(),
		ServerTime: time.Now().UTC().Truncate(time.Second),
		Generating: api.busy.Load(),
	}
	if res, ok := api.latest.Latest(); ok {
		resp.Latest = res
	}
	api.writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (api *API) writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		api.logger.Warn(ctx, "failed to encode JSON response", "error", err)
	}
}
