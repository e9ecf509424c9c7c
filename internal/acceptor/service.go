package acceptor

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/distlab/paxoscluster/internal/membership"
)

// Config is the Acceptor role's environment surface.
type Config struct {
	NodeID             int           `env:"NODE_ID" validate:"required,min=1"`
	Port               string        `env:"PORT" env-default:"4000"`
	RegistryURL        string        `env:"REGISTRY_URL" validate:"required"`
	BatchInterval      time.Duration `env:"BATCH_INTERVAL" env-default:"1s"`
	BatchSize          int           `env:"BATCH_SIZE" env-default:"50"`
	ResponseCacheTTL   time.Duration `env:"RESPONSE_CACHE_TTL" env-default:"60s"`
	MembershipInterval time.Duration `env:"MEMBERSHIP_HEARTBEAT_INTERVAL" env-default:"5s"`
}

// cacheSweepInterval paces the expired-entry sweep of the response
// cache.
const cacheSweepInterval = 30 * time.Second

// Run keeps this acceptor registered and alive in the discovery
// registry and periodically sweeps the response cache. Blocks until
// ctx is canceled; intended to run in its own goroutine from
// cmd/acceptor.
func (a *Acceptor) Run(ctx context.Context, cfg Config, m membership.Client) {
	port, _ := strconv.Atoi(cfg.Port)
	if err := m.Register(ctx, a.id, membership.RoleAcceptor, "localhost", port); err != nil {
		a.log.Warn("membership register failed", "error", err)
	}

	heartbeat := time.NewTicker(cfg.MembershipInterval)
	defer heartbeat.Stop()
	sweep := time.NewTicker(cacheSweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := m.Heartbeat(ctx, a.id); err != nil {
				a.log.Warn("membership heartbeat failed", "error", err)
			}
		case <-sweep.C:
			a.cache.sweep()
		}
	}
}

// LearnerURLs resolves the current set of Learner /learn endpoints
// from the registry; wired into the Notifier so each drain sees the
// membership view of that moment.
func LearnerURLs(m membership.Client, log *slog.Logger) func() []string {
	return func() []string {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		nodes, err := m.ListNodes(ctx)
		if err != nil {
			log.Warn("list-nodes failed", "error", err)
			return nil
		}
		var urls []string
		for _, n := range membership.NodesByRole(nodes, membership.RoleLearner) {
			urls = append(urls, fmt.Sprintf("http://%s:%d/learn", n.Address, n.Port))
		}
		return urls
	}
}
