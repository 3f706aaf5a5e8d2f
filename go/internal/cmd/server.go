package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/mcdev12/bidhouse/go/internal/config"
	"github.com/mcdev12/bidhouse/go/internal/httpapi"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func setupServer(cfg *config.Config, services *Services) *http.Server {
	router := mux.NewRouter()
	router.Use(httpapi.LoggingMiddleware)

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{httpapi.ErrorCodeHeader, "Current-Bid"},
	})

	registerServices(router, services)

	router.Handle("/metrics", services.Metrics.Handler()).Methods(http.MethodGet)

	handler := c.Handler(router)

	// WriteTimeout stays unset: upgraded WebSocket connections outlive any
	// request deadline.
	return &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}

func registerServices(router *mux.Router, services *Services) {
	api := httpapi.NewHandler(
		services.Arbitrator,
		services.Ledger,
		services.Oracle,
		services.Directory,
		services.Gateway.ConnectionCount,
	)
	for name, probe := range services.probes {
		api.AddHealthCheck(name, probe)
	}
	api.RegisterRoutes(router)

	httpapi.NewRPCService(api).RegisterRoutes(router)

	// WebSocket routes (/ws/auction, /ws/stats)
	services.Gateway.RegisterRoutes(router)
}
