package learner

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/distlab/paxoscluster/internal/membership"
)

// Config is the Learner role's environment surface.
type Config struct {
	NodeID             int           `env:"NODE_ID" validate:"required,min=1"`
	Port               string        `env:"PORT" env-default:"5000"`
	RegistryURL        string        `env:"REGISTRY_URL" validate:"required"`
	MembershipInterval time.Duration `env:"MEMBERSHIP_HEARTBEAT_INTERVAL" env-default:"5s"`
}

// Run keeps this learner registered and alive in the discovery
// registry. Blocks until ctx is canceled.
func (l *Learner) Run(ctx context.Context, cfg Config, m membership.Client) {
	port, _ := strconv.Atoi(cfg.Port)
	if err := m.Register(ctx, l.id, membership.RoleLearner, "localhost", port); err != nil {
		l.log.Warn("membership register failed", "error", err)
	}

	ticker := time.NewTicker(cfg.MembershipInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Heartbeat(ctx, l.id); err != nil {
				l.log.Warn("membership heartbeat failed", "error", err)
			}
		}
	}
}

// AcceptorQuorum derives the majority threshold from the registry's
// current acceptor count: floor(|A|/2)+1. Falls back to fallback when
// the registry is unreachable or knows no acceptors yet, so a cold
// start never divides by an empty membership view.
func AcceptorQuorum(m membership.Client, fallback int, log *slog.Logger) func() int {
	return func() int {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		nodes, err := m.ListNodes(ctx)
		if err != nil {
			log.Warn("list-nodes failed, using fallback quorum", "error", err)
			return fallback
		}
		acceptors := membership.NodesByRole(nodes, membership.RoleAcceptor)
		if len(acceptors) == 0 {
			return fallback
		}
		return len(acceptors)/2 + 1
	}
}
