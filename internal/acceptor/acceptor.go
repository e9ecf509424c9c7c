// Package acceptor implements the Phase-1 PROMISE / Phase-2 ACCEPT
// state machine: never break a promise, accept only what was promised
// to. It is an HTTP-facing role with asynchronous, batched learner
// fan-out rather than a synchronous in-process send.
package acceptor

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/distlab/paxoscluster/internal/paxos"
)

// HistoryEntry records one PREPARE/ACCEPT decision for GET /view-logs.
// Observability only — not part of the safety state.
type HistoryEntry struct {
	At             time.Time            `json:"at"`
	Kind           string               `json:"kind"` // "prepare" | "accept"
	ProposerID     int                  `json:"proposer_id"`
	ProposalNumber paxos.ProposalNumber `json:"proposal_number"`
	Accepted       bool                 `json:"accepted"`
}

const historyCap = 100

// Acceptor holds the per-node safety state in memory only, so a
// crash forgets every promise and acceptance made before it — see
// DESIGN.md's resolution of the durability open question.
type Acceptor struct {
	mu sync.Mutex

	id     string
	nodeID int

	maxPromised   paxos.ProposalNumber
	maxAccepted   paxos.ProposalNumber
	acceptedValue paxos.Value

	history []HistoryEntry

	cache    *responseCache
	notifier *Notifier

	lastHeartbeatReceived time.Time
	currentLeader         int
	log                   *slog.Logger
}

func New(id string, nodeID int, log *slog.Logger, notifier *Notifier, cacheTTL time.Duration) *Acceptor {
	return &Acceptor{
		id:       id,
		nodeID:   nodeID,
		cache:    newResponseCache(cacheTTL),
		notifier: notifier,
		log:      log,
	}
}

// HandlePrepare implements PREPARE → PROMISE | REJECT. PREPARE uses
// strict ">" — a new round must beat the current promise outright.
func (a *Acceptor) HandlePrepare(req paxos.PrepareRequest) paxos.PrepareResponse {
	key := prepareCacheKey(req.ProposerID, req.ProposalNumber)
	if cached, ok := a.cache.get(key); ok {
		return cached.(paxos.PrepareResponse)
	}

	a.mu.Lock()
	var resp paxos.PrepareResponse
	if req.ProposalNumber.GreaterThan(a.maxPromised) {
		a.maxPromised = req.ProposalNumber
		resp = paxos.PrepareResponse{
			Status:                 "promise",
			AcceptedProposalNumber: a.maxAccepted,
			AcceptedValue:          a.acceptedValue,
		}
	} else {
		resp = paxos.PrepareResponse{
			Status:                 "rejected",
			AcceptedProposalNumber: a.maxPromised,
			Message:                "a higher proposal number has already been promised",
		}
	}
	a.appendHistory(HistoryEntry{
		At: time.Now(), Kind: "prepare", ProposerID: req.ProposerID,
		ProposalNumber: req.ProposalNumber, Accepted: resp.Status == "promise",
	})
	a.mu.Unlock()

	a.cache.set(key, resp)
	return resp
}

// HandleAccept implements ACCEPT → ACCEPTED | REJECT. ACCEPT uses
// ">=" — the phase of the very round we promised to must still
// succeed. A successful ACCEPT queues a batched notification to every
// known Learner instead of notifying synchronously.
func (a *Acceptor) HandleAccept(req paxos.AcceptRequest) paxos.AcceptResponse {
	cacheKey := acceptCacheKey(req.ProposerID, req.ProposalNumber, req.Value)
	if cached, ok := a.cache.get(cacheKey); ok {
		return cached.(paxos.AcceptResponse)
	}

	a.mu.Lock()
	var resp paxos.AcceptResponse
	var queued *paxos.LearnNotification
	if req.ProposalNumber.AtLeast(a.maxPromised) {
		a.maxPromised = req.ProposalNumber
		a.maxAccepted = req.ProposalNumber
		a.acceptedValue = req.Value
		resp = paxos.AcceptResponse{Status: "accepted"}
		queued = &paxos.LearnNotification{
			AcceptorID:       a.id,
			ProposalNumber:   req.ProposalNumber,
			Value:            req.Value,
			TID:              uuid.NewString(),
			IsLeaderElection: req.IsLeaderElection,
			ClientID:         req.ClientID,
		}
	} else {
		resp = paxos.AcceptResponse{Status: "rejected", Message: "a higher proposal number has already been promised"}
	}
	a.appendHistory(HistoryEntry{
		At: time.Now(), Kind: "accept", ProposerID: req.ProposerID,
		ProposalNumber: req.ProposalNumber, Accepted: resp.Status == "accepted",
	})
	a.mu.Unlock()

	a.cache.set(cacheKey, resp)

	if queued != nil {
		a.notifier.enqueue(*queued)
	}
	return resp
}

// HandleHeartbeat records the sender as the current leader. This is
// informational only — it never influences PREPARE/ACCEPT decisions.
func (a *Acceptor) HandleHeartbeat(req paxos.HeartbeatRequest) paxos.HeartbeatResponse {
	a.mu.Lock()
	a.lastHeartbeatReceived = time.Now()
	a.currentLeader = req.LeaderID
	a.mu.Unlock()
	return paxos.HeartbeatResponse{Status: "acknowledged"}
}

// State returns a snapshot of the safety state, used by tests.
func (a *Acceptor) State() (maxPromised, maxAccepted paxos.ProposalNumber, acceptedValue paxos.Value) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.maxPromised, a.maxAccepted, a.acceptedValue
}

func (a *Acceptor) History() []HistoryEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]HistoryEntry, len(a.history))
	copy(out, a.history)
	return out
}

// appendHistory must be called with a.mu held.
func (a *Acceptor) appendHistory(e HistoryEntry) {
	a.history = append(a.history, e)
	if len(a.history) > historyCap {
		a.history = a.history[len(a.history)-historyCap:]
	}
}

func prepareCacheKey(proposerID int, n paxos.ProposalNumber) string {
	return "prepare|" + n.String() + "|" + strconv.Itoa(proposerID)
}

func acceptCacheKey(proposerID int, n paxos.ProposalNumber, v paxos.Value) string {
	return "accept|" + n.String() + "|" + strconv.Itoa(proposerID) + "|" + string(v)
}
