package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vyvo/datasheets/backend/pkg/api"
	"github.com/vyvo/datasheets/backend/pkg/app"
	"github.com/vyvo/datasheets/backend/pkg/config"
	"github.com/vyvo/datasheets/backend/pkg/telemetry"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := app.NewLogger(cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer := telemetry.InitTracer(ctx, "datasheet-api", cfg.Tracing)
	defer func() {
		_ = shutdownTracer(context.Background())
	}()

	a, err := app.New(cfg, logger)
	if err != nil {
		log.Fatalf("datasheet api init failed: %v", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("close error", "error", err)
		}
	}()

	srv := api.NewServer(a.Store, a.Store, a.Assembler, a.Service, a.Journal)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	logger.Info("datasheet api listening", "addr", cfg.ListenAddr, "driver", cfg.Database.Driver)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("datasheet api failed", "error", err)
		os.Exit(1)
	}
}
