package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/countrybattle/backend/internal/api"
	"github.com/countrybattle/backend/internal/battle"
	"github.com/countrybattle/backend/internal/config"
	"github.com/countrybattle/backend/internal/database"
	"github.com/countrybattle/backend/internal/gateway"
	"github.com/countrybattle/backend/internal/repository"
	"github.com/countrybattle/backend/internal/stream"
)

const shutdownTimeout = 10 * time.Second

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(os.Stdout)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	db, err := database.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up database")
	}
	defer db.Close()

	nc, err := stream.Connect(cfg.NATSURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to event stream")
	}
	defer nc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	repo := repository.New(db)
	battles := battle.NewManager(registry, repo, battle.Defaults{
		Countries: cfg.DefaultCountries,
		Duration:  cfg.BattleDuration(),
	}, clockwork.NewRealClock())

	creator := cfg.StreamUsername
	if creator == "" {
		creator = "system"
	}
	if _, err := battles.Start(ctx, creator, nil, 0); err != nil {
		log.Fatal().Err(err).Msg("failed to start initial battle")
	}

	points := stream.NewPointsTable()
	if cfg.GiftPointsFile != "" {
		points, err = stream.LoadPointsTable(cfg.GiftPointsFile)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.GiftPointsFile).Msg("failed to load gift points table")
		}
	}

	listener := stream.NewListener(nc, battles, registry, points)
	if err := listener.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start stream listener")
	}

	apiHandler := api.NewHandler(ctx, battles, repo)
	wsHandler := gateway.NewWebSocketHandler(registry, battles)
	server := setupServer(cfg, apiHandler, wsHandler)

	go func() {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	listener.Stop()
	battles.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	log.Info().Msg("shutdown complete")
}
