// Package middleware contains the HTTP middleware chain for the swap cycle
// backend: request logging, panic recovery, and CORS.
package middleware

import (
	"log"
	"net/http"
	"runtime/debug"
	"time"
)

// statusRecorder wraps http.ResponseWriter to capture the status code for
// the request log line.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// RequestLogger logs every request with method, path, status, and latency.
//
// Example output:
//
//	[http] POST /api/v1/cycles/2/confirm → 200 (4.2ms)
//	[http] POST /api/v1/cycles/3/collect → 409 (2.1ms)
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		log.Printf("[http] %s %s → %d (%s)",
			r.Method, r.URL.Path, rec.status, time.Since(start).Round(100*time.Microsecond))
	})
}

// Recoverer converts handler panics into 500 responses and logs the stack,
// so one bad request never takes the server down.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				log.Printf("[http] PANIC: %s %s → %v\n%s", r.Method, r.URL.Path, p, debug.Stack())
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(`{"error":"internal_error","message":"Something went wrong."}`))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// CORS lets browser clients (the web app, the admin console) call the API.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
