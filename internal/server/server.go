// Package server provides HTTP server initialization and lifecycle
// management for the Hearth gateway API.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/scrypster/hearth/internal/config"
	"github.com/scrypster/hearth/web/handlers"
)

// securityHeadersMiddleware adds security headers to all HTTP responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Start initializes and starts the HTTP server. The caller constructs wsHub
// and wires its event sources before Start; Start runs the hub loop, mounts
// it on /ws and stops it on shutdown. Returns the actual address being
// listened on (useful for testing with port 0).
func Start(ctx context.Context, cfg *config.Config, resolver handlers.Resolver,
	dispatcher handlers.Dispatcher, entities handlers.EntityDirectory,
	knowledge handlers.KnowledgeStore, busStatus func() string,
	wsHub *handlers.WebSocketHub) string {

	mux := http.NewServeMux()
	go wsHub.Run()

	// Rate limiter (10 req/sec, burst of 20)
	rateLimiter := handlers.NewRateLimiter(10.0, 20)

	apiHandlers := handlers.NewAPIHandlers(resolver, dispatcher, entities, knowledge, busStatus)

	// API routes (require auth in production mode)
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/api/resolve", requirePost(apiHandlers.Resolve))
	apiMux.HandleFunc("/api/confirm", requirePost(apiHandlers.Confirm))
	apiMux.HandleFunc("/api/dispatch", requirePost(apiHandlers.Dispatch))
	apiMux.HandleFunc("/api/reset", requirePost(apiHandlers.Reset))
	apiMux.HandleFunc("/api/entities", requireGet(apiHandlers.ListEntities))
	apiMux.HandleFunc("/api/stats", requireGet(apiHandlers.GetStats))

	// Health endpoint — no auth required, used by monitoring
	mux.HandleFunc("/api/health", apiHandlers.Health)

	// Wrap API routes with auth middleware
	mux.Handle("/api/", handlers.RequireAuth(apiMux, cfg))

	// WebSocket endpoint (no auth required - origin validation handles security)
	mux.Handle("/ws", wsHub)

	// Wrap entire server with rate limiting, then security headers
	handler := handlers.RateLimitMiddleware(mux, rateLimiter)
	handler = securityHeadersMiddleware(handler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("Failed to listen on %s: %v", addr, err)
	}

	actualAddr := listener.Addr().String()

	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	// Graceful shutdown on context cancellation
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		wsHub.Stop()
	}()

	return actualAddr
}

func requirePost(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func requireGet(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}
