// Package main runs the donation compliance gateway: the REST API over the
// limit engine, PAC tracker and pledge status machine, plus the session
// watcher and the annual tip-limit reset.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	app "github.com/pledgeworks/celebrate/internal/app"
	"github.com/pledgeworks/celebrate/internal/app/httpapi"
	"github.com/pledgeworks/celebrate/internal/app/storage/postgres"
	"github.com/pledgeworks/celebrate/internal/config"
	"github.com/pledgeworks/celebrate/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to yaml config file")
	flag.Parse()

	// Best effort; the gateway runs on env vars alone in containers.
	_ = godotenv.Load()

	log := logger.NewDefault("gateway")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Error("load configuration")
		os.Exit(1)
	}

	var stores app.Stores
	if cfg.DatabaseURL != "" {
		store, err := postgres.Connect(cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Error("connect to postgres")
			os.Exit(1)
		}
		defer store.Close()
		stores = app.Stores{Donors: store, Pledges: store, Idempotency: store}
		log.Info("using postgres storage")
	} else {
		log.Warn("DATABASE_URL not set; using in-memory storage")
	}

	application, err := app.New(stores, app.Options{
		ElectionDatesPath: cfg.ElectionDatesPath,
		SessionSignalURL:  cfg.SessionSignalURL,
		SessionSignalKey:  cfg.SessionSignalKey,
		SessionPoll:       cfg.SessionPoll.Std(),
	}, log)
	if err != nil {
		log.WithError(err).Error("build application")
		os.Exit(1)
	}

	handler, err := httpapi.NewHandler(application, httpapi.Options{
		JWTSecret:      cfg.JWTSecret,
		AuditLogPath:   cfg.AuditLogPath,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	})
	if err != nil {
		log.WithError(err).Error("build http handler")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Error("start services")
		os.Exit(1)
	}

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Infof("gateway listening on %s", cfg.HTTPAddr)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.WithError(err).Error("http server")
			cancel()
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("service shutdown")
	}
}
