package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestDebugRoutesRequireCredentials(t *testing.T) {
	r := chi.NewRouter()
	r.Mount("/debug", debugRoutes("ops", "s3cret"))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/pprof/cmdline", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credentials, got %d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/debug/pprof/cmdline", nil)
	req.SetBasicAuth("ops", "s3cret")
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with credentials, got %d", rr.Code)
	}
}

func TestDebugRoutesOpenWithoutUser(t *testing.T) {
	r := chi.NewRouter()
	r.Mount("/debug", debugRoutes("", ""))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/pprof/cmdline", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}
