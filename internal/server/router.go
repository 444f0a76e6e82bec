package server

import (
	"net/http"
)

// Handler returns an http.Handler serving the blob browser.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.Index)
	mux.HandleFunc("POST /upload", s.Upload)
	mux.HandleFunc("GET /download/{name}", s.Download)
	mux.HandleFunc("POST /delete/{name}", s.Delete)
	mux.HandleFunc("GET /healthz", s.Healthz)

	// Add middleware
	handler := Recoverer(mux)
	handler = LogRequest(handler)
	return handler
}
