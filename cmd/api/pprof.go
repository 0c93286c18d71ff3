package main

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// debugRoutes serves chi's profiler under /debug/pprof and /debug/vars. A
// configured user puts basic auth in front of it.
func debugRoutes(user, pass string) http.Handler {
	r := chi.NewRouter()
	if user = strings.TrimSpace(user); user != "" {
		r.Use(middleware.BasicAuth("kasir-debug", map[string]string{user: strings.TrimSpace(pass)}))
	}
	r.Mount("/", middleware.Profiler())
	return r
}
