// Command threatlens runs the threat-intelligence aggregation API server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/threatlens/threatlens/internal/aggregate"
	"github.com/threatlens/threatlens/internal/api"
	"github.com/threatlens/threatlens/internal/bulk"
	"github.com/threatlens/threatlens/internal/cache"
	"github.com/threatlens/threatlens/internal/config"
	"github.com/threatlens/threatlens/internal/database"
	"github.com/threatlens/threatlens/internal/providers"
	"github.com/threatlens/threatlens/internal/scoring"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	generateConfig := flag.String("generate-config", "", "write a sample configuration file and exit")
	flag.Parse()

	if *generateConfig != "" {
		if err := config.GenerateSample(*generateConfig); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write sample config: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Sample configuration written to %s\n", *generateConfig)
		return
	}

	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
			os.Exit(1)
		}
	}

	setupLogging(cfg.Logging)

	// NewSQLiteStore runs migrations as part of opening.
	store, err := database.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("Failed to open database")
	}
	defer store.Close()

	engine := aggregate.New(
		providers.NewRegistry(cfg),
		cache.New(store, cfg.Cache),
		scoring.New(cfg.Scoring),
		store,
	)
	processor := bulk.New(engine, store, cfg.Bulk)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: api.NewRouter(cfg, engine, processor, store),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
