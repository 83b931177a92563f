// Package server wires HTTP handlers into a gorilla/mux router for the
// SyncChat service.
package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes configures and returns a router with all application routes:
// the WebSocket endpoint, health checks, and Prometheus metrics.
func (s *Server) SetupRoutes() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/ws", s.WebSocketHandler)
	router.HandleFunc("/health", HealthHandler).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	router.HandleFunc("/", HealthHandler).Methods(http.MethodGet)
	return router
}
