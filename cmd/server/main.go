package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/thereayou/wizard-rooms/internal/config"
)

func main() {
	cfg := config.Load()
	log := config.NewLogger(cfg)
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	if cfg.UsesDevJWTSecret() {
		log.Warn("JWT_SECRET not set, rejoin tokens are signed with the development secret")
	}

	srv, err := NewServer(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize server")
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.WithError(err).Error("server stopped")
		}
	}

	srv.Shutdown()
}
