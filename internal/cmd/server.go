package main

import (
	"fmt"
	"net/http"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/countrybattle/backend/internal/api"
	"github.com/countrybattle/backend/internal/config"
	"github.com/countrybattle/backend/internal/gateway"
)

func setupServer(cfg *config.Config, apiHandler *api.Handler, wsHandler *gateway.WebSocketHandler) *http.Server {
	mux := http.NewServeMux()

	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
		},
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	apiHandler.RegisterRoutes(mux)
	wsHandler.RegisterRoutes(mux)
	setupHealthCheck(mux)

	handler := c.Handler(mux)

	return &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: h2c.NewHandler(handler, &http2.Server{}),
	}
}

func setupHealthCheck(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte(`{"status":"ok","service":"country-battle-live"}`)); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}
