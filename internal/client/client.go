// Package client implements the client gateway: submit values to the
// current leader (following at most one not-leader redirect), collect
// chosen-value notifications from Learners, and serve reads by
// pulling a Learner's chosen log.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/distlab/paxoscluster/internal/membership"
	"github.com/distlab/paxoscluster/internal/paxos"
	"github.com/distlab/paxoscluster/internal/transport"
)

// Config is the client gateway's environment surface.
type Config struct {
	NodeID             int           `env:"NODE_ID" validate:"required,min=1"`
	Port               string        `env:"PORT" env-default:"6000"`
	RegistryURL        string        `env:"REGISTRY_URL" validate:"required"`
	SendRateLimit      float64       `env:"SEND_RATE_LIMIT" env-default:"20"`
	MembershipInterval time.Duration `env:"MEMBERSHIP_HEARTBEAT_INTERVAL" env-default:"5s"`
}

// responsesCap bounds the accumulated notification list served by
// GET /get-responses.
const responsesCap = 1000

// Gateway owns the client-side state: accumulated learner
// notifications deduplicated by (learnerID, proposalNumber).
type Gateway struct {
	mu sync.Mutex

	id     string
	nodeID int

	responses []paxos.ClientNotification
	seen      map[string]struct{}

	membership membership.Client
	sender     *transport.Sender
	limiter    *rate.Limiter
	log        *slog.Logger
}

func New(nodeID int, sendRateLimit float64, m membership.Client, sender *transport.Sender, log *slog.Logger) *Gateway {
	return &Gateway{
		id:         fmt.Sprintf("client-%d", nodeID),
		nodeID:     nodeID,
		seen:       make(map[string]struct{}),
		membership: m,
		sender:     sender,
		limiter:    rate.NewLimiter(rate.Limit(sendRateLimit), int(sendRateLimit)),
		log:        log,
	}
}

// Allow reports whether another /send may proceed under the gateway's
// rate limit.
func (g *Gateway) Allow() bool {
	return g.limiter.Allow()
}

// Send submits value to a Proposer, preferring the registry's current
// leader and following at most one not-leader redirect. Returns the
// HTTP status and body to relay to the caller.
func (g *Gateway) Send(ctx context.Context, value string) (int, interface{}) {
	nodes, err := g.membership.ListNodes(ctx)
	if err != nil {
		return http.StatusServiceUnavailable, map[string]string{"error": "registry unreachable"}
	}
	proposers := membership.NodesByRole(nodes, membership.RoleProposer)
	if len(proposers) == 0 {
		return http.StatusServiceUnavailable, map[string]string{"error": "no proposers known"}
	}

	target := proposers[0]
	if leaderID, ok, err := g.membership.GetLeader(ctx); err == nil && ok {
		if info, found := nodes[leaderID]; found {
			target = info
		}
	}

	req := paxos.ProposeRequest{Value: paxos.Value(value), ClientID: strconv.Itoa(g.nodeID)}
	status, body, ok := g.propose(ctx, target, req)
	if !ok {
		return http.StatusServiceUnavailable, map[string]string{"error": "proposer unreachable"}
	}
	if status != http.StatusConflict {
		return status, body
	}

	// One redirect hop: retry against the leader the follower suggested.
	redirect, isRedirect := body.(paxos.NotLeaderResponse)
	if !isRedirect || redirect.CurrentLeader == nil {
		return status, body
	}
	info, found := nodes[fmt.Sprintf("proposer-%d", *redirect.CurrentLeader)]
	if !found {
		return status, body
	}
	status, body, ok = g.propose(ctx, info, req)
	if !ok {
		return http.StatusServiceUnavailable, map[string]string{"error": "suggested leader unreachable"}
	}
	return status, body
}

func (g *Gateway) propose(ctx context.Context, target membership.NodeInfo, req paxos.ProposeRequest) (int, interface{}, bool) {
	url := fmt.Sprintf("http://%s:%d/propose", target.Address, target.Port)
	status, data, err := g.sender.Post(ctx, url, req)
	if err != nil {
		g.log.Warn("propose failed", "target", target.ID, "error", err)
		return 0, nil, false
	}
	if status == http.StatusConflict {
		var resp paxos.NotLeaderResponse
		if err := json.Unmarshal(data, &resp); err == nil {
			return status, resp, true
		}
	}
	var resp paxos.ProposeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return status, map[string]string{"error": "unreadable proposer response"}, true
	}
	return status, resp, true
}

// HandleNotify records a chosen-value notification from a Learner.
// Each (learnerID, proposalNumber) pair is recorded once, so the same
// choice reported by a retried delivery is not duplicated.
func (g *Gateway) HandleNotify(note paxos.ClientNotification) {
	key := note.LearnerID + "|" + note.ProposalNumber.String()
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, dup := g.seen[key]; dup {
		return
	}
	g.seen[key] = struct{}{}
	g.responses = append(g.responses, note)
	if len(g.responses) > responsesCap {
		g.responses = g.responses[len(g.responses)-responsesCap:]
	}
	g.log.Info("value chosen notification", "learner", note.LearnerID, "proposal_number", note.ProposalNumber.String(), "value", note.Value)
}

// Responses returns the accumulated notifications.
func (g *Gateway) Responses() []paxos.ClientNotification {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]paxos.ClientNotification, len(g.responses))
	copy(out, g.responses)
	return out
}

// Read pulls the chosen application values from an arbitrary Learner.
func (g *Gateway) Read(ctx context.Context, limit int) (paxos.GetValuesResponse, error) {
	nodes, err := g.membership.ListNodes(ctx)
	if err != nil {
		return paxos.GetValuesResponse{}, fmt.Errorf("client: list-nodes: %w", err)
	}
	learners := membership.NodesByRole(nodes, membership.RoleLearner)
	if len(learners) == 0 {
		return paxos.GetValuesResponse{}, fmt.Errorf("client: no learners known")
	}

	url := fmt.Sprintf("http://%s:%d/get-values", learners[0].Address, learners[0].Port)
	if limit > 0 {
		url += "?limit=" + strconv.Itoa(limit)
	}
	var out paxos.GetValuesResponse
	if err := g.sender.GetJSON(ctx, url, &out); err != nil {
		return paxos.GetValuesResponse{}, fmt.Errorf("client: get-values: %w", err)
	}
	return out, nil
}

// Run keeps this gateway registered and alive in the discovery
// registry. Blocks until ctx is canceled.
func (g *Gateway) Run(ctx context.Context, cfg Config, m membership.Client) {
	port, _ := strconv.Atoi(cfg.Port)
	if err := m.Register(ctx, g.id, membership.RoleClient, "localhost", port); err != nil {
		g.log.Warn("membership register failed", "error", err)
	}

	ticker := time.NewTicker(cfg.MembershipInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Heartbeat(ctx, g.id); err != nil {
				g.log.Warn("membership heartbeat failed", "error", err)
			}
		}
	}
}
