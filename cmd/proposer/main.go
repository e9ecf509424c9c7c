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
	"github.com/distlab/paxoscluster/internal/logging"
	"github.com/distlab/paxoscluster/internal/membership"
	"github.com/distlab/paxoscluster/internal/proposer"
	"github.com/distlab/paxoscluster/internal/transport"
)

type appConfig struct {
	Proposer proposer.Config
	Logging  logging.Config
}

func main() {
	var cfg appConfig
	if err := config.Load(&cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logging.New(cfg.Logging, membership.RoleProposer, cfg.Proposer.NodeID)
	sender := transport.NewSender(transport.DefaultConfig(), logger)
	registry := membership.NewHTTPClient(cfg.Proposer.RegistryURL, sender)

	id := fmt.Sprintf("proposer-%d", cfg.Proposer.NodeID)
	p := proposer.New(id, cfg.Proposer.NodeID, cfg.Proposer, registry, sender, logger)

	srv := httpserver.New(httpserver.Config{
		Port:         cfg.Proposer.Port,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}, logger)
	proposer.RegisterRoutes(srv.Echo(), p, time.Now())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go p.Run(ctx)
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
