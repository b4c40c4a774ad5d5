/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"net/http/pprof"

	"github.com/julienschmidt/httprouter"
)

func registerProfileHandlers(cfg *Config, mux *httprouter.Router) {
	mux.HandlerFunc("GET", cfg.prefix+"/debug/pprof/", pprof.Index)
	mux.Handler("GET", cfg.prefix+"/debug/pprof/allocs", pprof.Handler("allocs"))
	mux.Handler("GET", cfg.prefix+"/debug/pprof/block", pprof.Handler("block"))
	mux.Handler("GET", cfg.prefix+"/debug/pprof/goroutine", pprof.Handler("goroutine"))
	mux.Handler("GET", cfg.prefix+"/debug/pprof/heap", pprof.Handler("heap"))
	mux.Handler("GET", cfg.prefix+"/debug/pprof/mutex", pprof.Handler("mutex"))
	mux.Handler("GET", cfg.prefix+"/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	mux.HandlerFunc("GET", cfg.prefix+"/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandlerFunc("GET", cfg.prefix+"/debug/pprof/profile", pprof.Profile)
	mux.HandlerFunc("GET", cfg.prefix+"/debug/pprof/symbol", pprof.Symbol)
	mux.HandlerFunc("GET", cfg.prefix+"/debug/pprof/trace", pprof.Trace)
}
