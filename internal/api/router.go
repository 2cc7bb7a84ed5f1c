package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"
)

// Router wraps the HTTP mux and provides route configuration.
type Router struct {
	mux        *http.ServeMux
	handlers   *Handlers
	adminToken string
}

// NewRouter creates a new router with all routes configured. adminToken
// guards every /api/v1 route; the liveness endpoint stays open.
func NewRouter(h *Handlers, adminToken string) *Router {
	r := &Router{
		mux:        http.NewServeMux(),
		handlers:   h,
		adminToken: adminToken,
	}
	r.setupRoutes()
	return r
}

func (r *Router) setupRoutes() {
	r.mux.HandleFunc("/api/v1/runs", r.authenticated(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		r.handlers.ListRuns(w, req)
	}))

	r.mux.HandleFunc("/api/v1/runs/detail", r.authenticated(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		r.handlers.RunDetail(w, req)
	}))

	r.mux.HandleFunc("/api/v1/runs/trigger", r.authenticated(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		r.handlers.TriggerRun(w, req)
	}))

	r.mux.HandleFunc("/api/v1/health", r.authenticated(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		r.handlers.Health(w, req)
	}))

	r.mux.HandleFunc("/api/v1/preflight", r.authenticated(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		r.handlers.Preflight(w, req)
	}))

	r.mux.HandleFunc("/api/v1/retry-failed", r.authenticated(func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		r.handlers.RetryFailed(w, req)
	}))

	// Liveness endpoint, unauthenticated
	r.mux.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

// authenticated wraps a handler with bearer-token auth. A deployment
// without a configured token refuses all authenticated routes rather than
// leaving them open.
func (r *Router) authenticated(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if r.adminToken == "" {
			http.Error(w, "Admin API disabled: no token configured", http.StatusForbidden)
			return
		}
		token, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(r.adminToken)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, req)
	}
}

// Handler returns the HTTP handler with CORS middleware applied.
func (r *Router) Handler() http.Handler {
	return corsMiddleware(r.mux)
}

// corsMiddleware applies CORS headers to all requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewServer creates a new HTTP server with the router configured.
func NewServer(port string, h *Handlers, adminToken string) *http.Server {
	router := NewRouter(h, adminToken)
	return &http.Server{
		Addr:         ":" + port,
		Handler:      router.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
