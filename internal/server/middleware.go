package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// RequestIDHeader carries the identifier assigned to each request.
const RequestIDHeader = "X-Request-ID"

// ResponseWriterWrapper is a wrapper around the default http.ResponseWriter.
// It intercepts the WriteHeader call and saves the response status code.
type ResponseWriterWrapper struct {
	http.ResponseWriter
	WrittenResponseCode int
}

// WriteHeader intercepts the status code and stores it, then calls the original WriteHeader.
func (w *ResponseWriterWrapper) WriteHeader(statusCode int) {
	if w.WrittenResponseCode == 0 {
		w.WrittenResponseCode = statusCode
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

// Write calls the underlying ResponseWriter's Write method.
func (w *ResponseWriterWrapper) Write(b []byte) (int, error) {
	if w.WrittenResponseCode == 0 {
		w.WrittenResponseCode = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap exposes the original writer to http.ResponseController.
func (w *ResponseWriterWrapper) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

type LogEntry struct {
	ID         string
	IP         string
	Method     string
	URL        string
	Proto      string
	DurationMS float64
	StatusCode int
}

func (e LogEntry) User() slog.Attr {
	return slog.Group("user", "ip", e.IP)
}

func (e LogEntry) Request() slog.Attr {
	return slog.Group("request",
		"id", e.ID,
		"proto", e.Proto,
		"method", e.Method,
		"url", e.URL,
		"duration_ms", e.DurationMS,
		"status_code", e.StatusCode,
	)
}

// LogRequest is middleware that tags each request with an ID and logs it
// once the handler returns.
func LogRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		entry := LogEntry{
			ID:     r.Header.Get(RequestIDHeader),
			IP:     r.RemoteAddr,
			Method: r.Method,
			URL:    r.URL.String(),
			Proto:  r.Proto,
		}
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, entry.ID)

		writer := ResponseWriterWrapper{ResponseWriter: w}

		start := time.Now()
		next.ServeHTTP(&writer, r)
		elapsed := time.Since(start).Nanoseconds()

		entry.DurationMS = float64(elapsed) / float64(time.Millisecond)
		entry.StatusCode = writer.WrittenResponseCode

		switch {
		case writer.WrittenResponseCode >= 500:
			slog.Error("Request", entry.User(), entry.Request())
		case writer.WrittenResponseCode >= 400:
			slog.Warn("Request", entry.User(), entry.Request())
		default:
			slog.Info("Request", entry.User(), entry.Request())
		}
	})
}

// Recoverer logs a panicking handler and answers 500 instead of dropping
// the connection.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rvr := recover(); rvr != nil {
				if rvr == http.ErrAbortHandler {
					// we don't recover http.ErrAbortHandler so the response
					// to the client is aborted, this should not be logged
					panic(rvr)
				}

				slog.Error("Internal Error in HTTP handler", "error", rvr, "method", r.Method, "url", r.URL.String())

				if r.Header.Get("Connection") != "Upgrade" {
					w.WriteHeader(http.StatusInternalServerError)
				}
			}
		}()

		next.ServeHTTP(w, r)
	})
}
