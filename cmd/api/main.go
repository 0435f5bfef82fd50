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

	"github.com/gin-gonic/gin"

	"meter-indicators/internal/api"
	"meter-indicators/internal/api/handlers"
	"meter-indicators/internal/app"
	"meter-indicators/internal/config"
	"meter-indicators/internal/logging"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("CONFIG_FILE"), "Path to YAML config")
	withWorker := flag.Bool("worker", false, "Also consume the job topic in this process")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	log := logging.New(cfg.Log, os.Stderr)

	a, err := app.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire engine")
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var enqueuer handlers.Enqueuer
	if a.QueueEnabled() {
		producer, err := a.Producer()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create job producer")
		}
		defer producer.Close()
		enqueuer = producer

		if *withWorker {
			consumer, err := a.Consumer()
			if err != nil {
				log.Fatal().Err(err).Msg("failed to create job consumer")
			}
			defer consumer.Close()
			go func() {
				if err := consumer.Run(ctx); err != nil {
					log.Error().Err(err).Msg("worker stopped")
				}
			}()
		}
	} else {
		log.Info().Msg("kafka not configured, async jobs disabled")
	}

	// Set up Gin router
	if cfg.API.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(api.Deps{
		Runner:   a.Runner,
		Store:    a.Store,
		Devices:  a.Devices,
		Enqueuer: enqueuer,
		Metrics:  a.Metrics,
		Logger:   log,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.API.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", srv.Addr).Msg("starting API server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("failed to start server")
	}
	log.Info().Msg("server stopped")
}
