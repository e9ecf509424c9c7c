package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/distlab/paxoscluster/internal/acceptor"
	"github.com/distlab/paxoscluster/internal/config"
	"github.com/distlab/paxoscluster/internal/httpserver"
	"github.com/distlab/paxoscluster/internal/logging"
	"github.com/distlab/paxoscluster/internal/membership"
	"github.com/distlab/paxoscluster/internal/transport"
)

type appConfig struct {
	Acceptor acceptor.Config
	Logging  logging.Config
}

func main() {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logging.New(cfg.Logging, membership.RoleAcceptor, cfg.Acceptor.NodeID)
	sender := transport.NewSender(transport.DefaultConfig(), logger)
	registry := membership.NewHTTPClient(cfg.Acceptor.RegistryURL, sender)

	id := fmt.Sprintf("acceptor-%d", cfg.Acceptor.NodeID)
	notifier := acceptor.NewNotifier(sender, acceptor.LearnerURLs(registry, logger), cfg.Acceptor.BatchSize, cfg.Acceptor.BatchInterval, logger)
	a := acceptor.New(id, cfg.Acceptor.NodeID, logger, notifier, cfg.Acceptor.ResponseCacheTTL)

	srv := httpserver.New(httpserver.Config{
		Port:         cfg.Acceptor.Port,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}, logger)
	acceptor.RegisterRoutes(srv.Echo(), a, time.Now())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go notifier.Run()
	go a.Run(ctx, cfg.Acceptor, registry)
	go func() {
		<-ctx.Done()
		notifier.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
