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

	"github.com/distlab/paxoscluster/internal/config"
	"github.com/distlab/paxoscluster/internal/httpserver"
	"github.com/distlab/paxoscluster/internal/learner"
	"github.com/distlab/paxoscluster/internal/logging"
	"github.com/distlab/paxoscluster/internal/membership"
	"github.com/distlab/paxoscluster/internal/transport"
)

// fallbackQuorum is used until the registry knows any acceptors, so a
// cold-starting learner never declares a value chosen off a single
// vote.
const fallbackQuorum = 2

type appConfig struct {
	Learner learner.Config
	Logging logging.Config
}

func main() {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logging.New(cfg.Logging, membership.RoleLearner, cfg.Learner.NodeID)
	sender := transport.NewSender(transport.DefaultConfig(), logger)
	registry := membership.NewHTTPClient(cfg.Learner.RegistryURL, sender)

	id := fmt.Sprintf("learner-%d", cfg.Learner.NodeID)
	notifier := learner.NewNotifier(registry, sender, logger)
	quorum := learner.AcceptorQuorum(registry, fallbackQuorum, logger)
	l := learner.New(id, quorum, logger, notifier)

	srv := httpserver.New(httpserver.Config{
		Port:         cfg.Learner.Port,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}, logger)
	learner.RegisterRoutes(srv.Echo(), l, time.Now())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go l.Run(ctx, cfg.Learner, registry)
	go func() {
		<-ctx.Done()
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
