package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shampiniony/sightquest-server/internal/middleware"
)

// NewRouter wires the game WebSocket endpoint and the operational routes.
func NewRouter(gs *GameServer, store Pinger) *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.LogMiddleware(gs.Logger))

	r.HandleFunc("/ws/game/{code}", GameWSHandler(gs)).Methods(http.MethodGet)
	r.HandleFunc("/healthz", HealthHandler(store, gs.Logger)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	return r
}
