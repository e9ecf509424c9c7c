package learner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/distlab/paxoscluster/internal/membership"
	"github.com/distlab/paxoscluster/internal/paxos"
	"github.com/distlab/paxoscluster/internal/transport"
)

// Notifier carries a Learner's outbound side effects: publishing an
// election winner to the registry and telling the originating client
// its value was chosen. Every call is fire-and-forget with the
// sender's bounded retry budget; a client that stays unreachable
// simply never hears, and may resubmit.
type Notifier struct {
	membership membership.Client
	sender     *transport.Sender
	log        *slog.Logger
}

func NewNotifier(m membership.Client, sender *transport.Sender, log *slog.Logger) *Notifier {
	return &Notifier{membership: m, sender: sender, log: log}
}

// PublishLeader records an election outcome in the registry so nodes
// that missed the chosen notification still converge on the winner.
func (n *Notifier) PublishLeader(candidate string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.membership.SetLeader(ctx, "proposer-"+candidate); err != nil {
		n.log.Warn("publish leader failed", "candidate", candidate, "error", err)
	}
}

// NotifyClient delivers a chosen-value notification to the client
// that originated the proposal. The (learnerID, proposalNumber) pair
// inside the body lets the client dedupe deliveries from multiple
// learners.
func (n *Notifier) NotifyClient(clientID string, note paxos.ClientNotification) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	nodes, err := n.membership.ListNodes(ctx)
	if err != nil {
		n.log.Warn("notify client: list-nodes failed", "client_id", clientID, "error", err)
		return
	}
	info, ok := nodes["client-"+clientID]
	if !ok {
		info, ok = nodes[clientID]
	}
	if !ok {
		n.log.Warn("notify client: unknown client", "client_id", clientID)
		return
	}

	url := fmt.Sprintf("http://%s:%d/notify", info.Address, info.Port)
	if err := n.sender.PostJSON(ctx, url, note, nil); err != nil {
		n.log.Warn("notify client failed", "client_id", clientID, "error", err)
	}
}
