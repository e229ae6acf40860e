package opshttp

import (
	"net/http"
	"net/http/pprof"
)

// RegisterPprof wires the standard pprof handlers onto mux.
// Registered explicitly instead of importing net/http/pprof for its side
// effects, which would also mutate http.DefaultServeMux.
func RegisterPprof(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}
