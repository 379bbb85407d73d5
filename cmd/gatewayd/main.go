// Command gatewayd is the Custard gateway's production entry point: load
// configuration, construct the wired Gateway, start the HTTP server, and
// run the ordered shutdown sequence on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/custard/gateway/internal/config"
	"github.com/custard/gateway/internal/gateway"
	"github.com/custard/gateway/internal/httpapi"
	"github.com/custard/gateway/internal/logger"
	"github.com/custard/gateway/internal/sweeper"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Initialize(cfg.LogLevel, cfg.LogPretty)
	log := logger.GetLogger()

	ctx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	log.Info().Msg("starting custard gateway")
	gw, err := gateway.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to construct gateway")
	}

	sweep, err := sweeper.New(gw)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to schedule background maintenance jobs")
	}

	router := httpapi.NewRouter(gw, cfg.CORSAllowedOrigins)
	srv := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,

		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	log.Info().Msg("stopping http server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server forced to shutdown")
	}

	sweep.Stop()
	gw.Shutdown(shutdownCtx)
	log.Info().Msg("custard gateway stopped")
}
