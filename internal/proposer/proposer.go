// Package proposer drives Paxos rounds for client values and runs
// the Multi-Paxos leader-election overlay: phase-1 quorum-of-promises
// with the adopt-the-highest-accepted-value safety rule, phase-2
// quorum-of-accepted, rounds driven against remote Acceptors over
// HTTP, plus leader election, heartbeating and a pending-value queue
// that takes client proposals concurrently but runs one client round
// at a time.
package proposer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/distlab/paxoscluster/internal/membership"
	"github.com/distlab/paxoscluster/internal/paxos"
	"github.com/distlab/paxoscluster/internal/transport"
)

// Role is the Proposer's place in the leader-election state machine.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "follower"
	}
}

type phase int

const (
	phaseIdle phase = iota
	phasePrepare
	phaseAccept
)

// Config tunes the timers this role drives: heartbeat interval,
// leader timeout, per-round timeout, bootstrap stagger and election
// backoff.
type Config struct {
	NodeID              int           `env:"NODE_ID" validate:"required"`
	Port                string        `env:"PORT" env-default:"3000"`
	RegistryURL         string        `env:"REGISTRY_URL" validate:"required"`
	HeartbeatInterval   time.Duration `env:"HEARTBEAT_INTERVAL" env-default:"1s"`
	LeaderTimeout       time.Duration `env:"LEADER_TIMEOUT" env-default:"5s"`
	RoundTimeout        time.Duration `env:"ROUND_TIMEOUT" env-default:"2s"`
	BootstrapDelayUnit  time.Duration `env:"BOOTSTRAP_DELAY_UNIT" env-default:"2500ms"`
	ElectionBackoffBase time.Duration `env:"ELECTION_BACKOFF_BASE" env-default:"500ms"`
	MembershipInterval  time.Duration `env:"MEMBERSHIP_HEARTBEAT_INTERVAL" env-default:"5s"`
	MaxRoundRetries     int           `env:"MAX_ROUND_RETRIES" env-default:"10"`
}

type pendingItem struct {
	value    paxos.Value
	clientID string
}

type activeRound struct {
	number     paxos.ProposalNumber
	value      paxos.Value
	isElection bool
	clientID   string
	phase      phase
}

// Proposer owns every piece of Proposer state, guarded by a single
// mutex per node.
type Proposer struct {
	mu sync.Mutex

	selfID string // registered membership ID, e.g. "proposer-2"
	nodeID int
	cfg    Config

	role                  Role
	currentLeader         *int
	proposalCounter       int64
	active                activeRound
	pendingQueue          []pendingItem
	lastHeartbeatReceived time.Time
	electionBackoffUntil  time.Time
	electionAttempts      int

	membership membership.Client
	sender     *transport.Sender
	log        *slog.Logger

	wake chan struct{}
}

func New(selfID string, nodeID int, cfg Config, m membership.Client, sender *transport.Sender, log *slog.Logger) *Proposer {
	return &Proposer{
		selfID:     selfID,
		nodeID:     nodeID,
		cfg:        cfg,
		membership: m,
		sender:     sender,
		log:        log,
		wake:       make(chan struct{}, 1),
	}
}

// Run starts every background task this role needs and blocks until
// ctx is canceled: membership registration/heartbeat, the bootstrap
// and leader-timeout watcher, the heartbeat emitter, and the pending
// queue driver. Intended to run in its own goroutine from cmd/proposer.
func (p *Proposer) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(4)
	go func() { defer wg.Done(); p.membershipLoop(ctx) }()
	go func() { defer wg.Done(); p.electionWatcher(ctx) }()
	go func() { defer wg.Done(); p.heartbeatEmitter(ctx) }()
	go func() { defer wg.Done(); p.queueDriver(ctx) }()
	wg.Wait()
}

// HandlePropose implements the client request path. A request with
// is_leader_election set does not carry an application value; it
// forces this proposer to run an election.
func (p *Proposer) HandlePropose(ctx context.Context, req paxos.ProposeRequest) (int, interface{}) {
	if req.IsLeaderElection {
		return p.handleForceElection()
	}

	p.mu.Lock()
	role := p.role
	leader := p.currentLeader
	if role == Leader {
		position := len(p.pendingQueue) + 1
		p.pendingQueue = append(p.pendingQueue, pendingItem{value: req.Value, clientID: req.ClientID})
		p.mu.Unlock()
		select {
		case p.wake <- struct{}{}:
		default:
		}
		status := "queued"
		if position == 1 {
			status = "proposal_initiated"
		}
		return 200, paxos.ProposeResponse{Status: status, Position: position}
	}
	p.mu.Unlock()

	if leader != nil {
		if resp, ok := p.forwardToLeader(ctx, *leader, req); ok {
			return 200, resp
		}
	}

	return 409, paxos.NotLeaderResponse{
		Error:          "not the leader",
		CurrentLeader:  leader,
		RetrySuggested: true,
	}
}

// handleForceElection runs an election on request instead of waiting
// for the leader-timeout watcher. At most one election is in flight;
// a second force while one runs reports it rather than stacking
// rounds.
func (p *Proposer) handleForceElection() (int, interface{}) {
	p.mu.Lock()
	if p.role == Candidate {
		p.mu.Unlock()
		return 200, paxos.ProposeResponse{Status: "election_already_in_progress", ProposerID: p.nodeID}
	}
	p.role = Candidate
	p.mu.Unlock()

	// The election outlives this request; don't tie it to the
	// handler's context.
	go p.attemptElection(context.Background())
	return 200, paxos.ProposeResponse{Status: "election_started", ProposerID: p.nodeID}
}

func (p *Proposer) forwardToLeader(ctx context.Context, leaderID int, req paxos.ProposeRequest) (paxos.ProposeResponse, bool) {
	nodes, err := p.membership.ListNodes(ctx)
	if err != nil {
		p.log.Warn("forward to leader: list-nodes failed", "error", err)
		return paxos.ProposeResponse{}, false
	}
	info, ok := nodes[fmt.Sprintf("proposer-%d", leaderID)]
	if !ok {
		return paxos.ProposeResponse{}, false
	}
	url := fmt.Sprintf("http://%s:%d/propose", info.Address, info.Port)
	var resp paxos.ProposeResponse
	if err := p.sender.PostJSON(ctx, url, req, &resp); err != nil {
		p.log.Warn("forward to leader failed", "leader", leaderID, "error", err)
		return paxos.ProposeResponse{}, false
	}
	return resp, true
}

// HandleHeartbeat processes an inbound heartbeat from the current (or
// a newly elected) leader.
func (p *Proposer) HandleHeartbeat(req paxos.HeartbeatRequest) paxos.HeartbeatResponse {
	p.mu.Lock()
	p.lastHeartbeatReceived = time.Now()
	p.currentLeader = &req.LeaderID
	if p.role == Leader && req.LeaderID != p.nodeID {
		p.log.Info("demoting to follower, heartbeat from another leader", "other_leader", req.LeaderID)
		p.role = Follower
	}
	p.mu.Unlock()
	return paxos.HeartbeatResponse{Status: "acknowledged"}
}

// Status reports a snapshot for GET /status.
func (p *Proposer) Status() map[string]interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]interface{}{
		"role":             p.role.String(),
		"current_leader":   p.currentLeader,
		"proposal_counter": p.proposalCounter,
		"queue_depth":      len(p.pendingQueue),
	}
}

// queueDriver pops one pending client value at a time and runs a
// Paxos round for it, only while this node is Leader.
func (p *Proposer) queueDriver(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.wake:
		}

		p.mu.Lock()
		isLeader := p.role == Leader
		var item pendingItem
		hasItem := false
		if isLeader && len(p.pendingQueue) > 0 {
			item = p.pendingQueue[0]
			p.pendingQueue = p.pendingQueue[1:]
			hasItem = true
		}
		p.mu.Unlock()

		if !hasItem {
			continue
		}

		attempts := 0
		for attempts < p.cfg.MaxRoundRetries {
			attempts++
			n := p.nextProposalNumber()
			ok, err := p.runRound(ctx, n, item.value, false, item.clientID)
			if ok {
				break
			}
			if err != nil {
				p.log.Debug("paxos round abandoned, retrying", "attempt", attempts, "error", err)
			}
			p.mu.Lock()
			stillLeader := p.role == Leader
			p.mu.Unlock()
			if !stillLeader {
				break
			}
		}
	}
}

// electionWatcher implements the Proposer state machine: become
// Candidate on cold-start-with-no-leader or on leader timeout,
// subject to a per-proposer bootstrap stagger and backoff.
func (p *Proposer) electionWatcher(ctx context.Context) {
	bootstrapDelay := time.Duration(p.nodeID) * p.cfg.BootstrapDelayUnit
	select {
	case <-ctx.Done():
		return
	case <-time.After(bootstrapDelay):
	}

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		p.mu.Lock()
		now := time.Now()
		role := p.role
		hasLeader := p.currentLeader != nil
		timedOut := hasLeader && now.Sub(p.lastHeartbeatReceived) > p.cfg.LeaderTimeout
		backoffActive := now.Before(p.electionBackoffUntil)
		shouldRun := role != Leader && !backoffActive && (!hasLeader || timedOut)
		if shouldRun {
			p.role = Candidate
		}
		p.mu.Unlock()

		if shouldRun {
			p.attemptElection(ctx)
		}
	}
}

func (p *Proposer) attemptElection(ctx context.Context) {
	n := p.nextElectionProposalNumber()
	value := paxos.LeaderValue(p.nodeID)
	ok, err := p.runRound(ctx, n, value, true, "")

	p.mu.Lock()
	defer p.mu.Unlock()
	if ok {
		p.role = Leader
		p.currentLeader = &p.nodeID
		p.electionAttempts = 0
		p.log.Info("won leader election", "proposal_number", n.String())
		go func() {
			if err := p.membership.SetLeader(context.Background(), p.selfID); err != nil {
				p.log.Warn("publish leader to membership failed", "error", err)
			}
		}()
		return
	}

	p.role = Follower
	p.electionAttempts++
	p.electionBackoffUntil = time.Now().Add(electionBackoff(p.cfg.ElectionBackoffBase, p.electionAttempts, p.nodeID))
	if err != nil {
		p.log.Debug("election attempt failed", "error", err)
	}
}

// electionBackoff implements base * 2^k + jitter*proposerID, capped,
// with k the attempt count modulo a small constant so the exponent
// never grows unbounded across a long run of failed elections.
func electionBackoff(base time.Duration, attempts, proposerID int) time.Duration {
	const maxExp = 5
	k := attempts % (maxExp + 1)
	backoff := base * time.Duration(1<<uint(k))
	jitter := time.Duration(proposerID) * (base / 10)
	total := backoff + jitter
	const cap = 10 * time.Second
	if total > cap {
		return cap
	}
	return total
}

// heartbeatEmitter sends the leader's heartbeat to every Acceptor and
// peer Proposer at a fixed interval.
func (p *Proposer) heartbeatEmitter(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()
	first := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		p.mu.Lock()
		isLeader := p.role == Leader
		p.mu.Unlock()
		if !isLeader {
			first = true
			continue
		}

		urls := p.peerURLs(ctx, membership.RoleAcceptor, "/heartbeat")
		urls = append(urls, p.peerURLs(ctx, membership.RoleProposer, "/heartbeat")...)
		body := paxos.HeartbeatRequest{LeaderID: p.nodeID, Timestamp: time.Now().UnixMilli(), FirstHeartbeat: first}
		first = false

		go func() {
			hbCtx, cancel := context.WithTimeout(context.Background(), p.cfg.HeartbeatInterval)
			defer cancel()
			transport.Broadcast(hbCtx, p.sender, urls, body, nil)
		}()
	}
}

// membershipLoop registers this node and keeps it alive in the
// registry, and checks the registry's leader on each tick so a Leader
// that has been externally deposed steps down. currentLeader is not
// updated from the registry.
func (p *Proposer) membershipLoop(ctx context.Context) {
	address := "localhost"
	port := 0
	fmt.Sscanf(p.cfg.Port, "%d", &port)
	if err := p.membership.Register(ctx, p.selfID, membership.RoleProposer, address, port); err != nil {
		p.log.Warn("membership register failed", "error", err)
	}

	ticker := time.NewTicker(p.cfg.MembershipInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := p.membership.Heartbeat(ctx, p.selfID); err != nil {
			p.log.Warn("membership heartbeat failed", "error", err)
		}

		leaderID, ok, err := p.membership.GetLeader(ctx)
		if err != nil || !ok {
			continue
		}
		p.mu.Lock()
		if p.role == Leader && leaderID != p.selfID {
			p.log.Info("ejected by membership, demoting to follower", "registry_leader", leaderID)
			p.role = Follower
		}
		p.mu.Unlock()
	}
}

// runRound drives one Paxos round end to end: PREPARE to every known
// Acceptor, adopt the highest-numbered prior accepted value if any
// PROMISE carried one (the Paxos safety rule), then ACCEPT. Returns
// true only if a quorum accepted.
func (p *Proposer) runRound(ctx context.Context, n paxos.ProposalNumber, value paxos.Value, isElection bool, clientID string) (bool, error) {
	p.mu.Lock()
	p.active = activeRound{number: n, value: value, isElection: isElection, clientID: clientID, phase: phasePrepare}
	p.mu.Unlock()

	acceptorURLs := p.peerURLs(ctx, membership.RoleAcceptor, "")
	if len(acceptorURLs) == 0 {
		return false, fmt.Errorf("proposer: no acceptors known")
	}
	quorum := quorumSize(len(acceptorURLs))

	roundCtx, cancel := context.WithTimeout(ctx, p.cfg.RoundTimeout)
	defer cancel()

	prepareReq := paxos.PrepareRequest{ProposerID: p.nodeID, ProposalNumber: n, IsLeaderElection: isElection}
	promises, chosenValue, highestSeen := p.collectPrepare(roundCtx, acceptorURLs, prepareReq, value)
	if promises < quorum {
		p.handleRejection(highestSeen)
		return false, paxos.ErrRejected
	}

	p.mu.Lock()
	p.active.phase = phaseAccept
	p.mu.Unlock()

	acceptReq := paxos.AcceptRequest{ProposerID: p.nodeID, ProposalNumber: n, Value: chosenValue, IsLeaderElection: isElection, ClientID: clientID}
	accepted, highestSeen2 := p.collectAccept(roundCtx, acceptorURLs, acceptReq)
	if accepted < quorum {
		p.handleRejection(highestSeen2)
		return false, paxos.ErrRejected
	}

	p.mu.Lock()
	p.active.phase = phaseIdle
	p.mu.Unlock()
	return true, nil
}

func (p *Proposer) collectPrepare(ctx context.Context, acceptorURLs []string, req paxos.PrepareRequest, original paxos.Value) (int, paxos.Value, paxos.ProposalNumber) {
	type result struct {
		resp paxos.PrepareResponse
		err  error
	}
	results := make([]result, len(acceptorURLs))
	var wg sync.WaitGroup
	for i, url := range acceptorURLs {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			var resp paxos.PrepareResponse
			err := p.sender.PostJSON(ctx, url+"/prepare", req, &resp)
			results[i] = result{resp: resp, err: err}
		}(i, url)
	}
	wg.Wait()

	promises := 0
	var highestAccepted paxos.ProposalNumber
	var highestSeen paxos.ProposalNumber
	chosenValue := original
	for _, r := range results {
		if r.err != nil {
			continue
		}
		if r.resp.Status == "promise" {
			promises++
			if !r.resp.AcceptedProposalNumber.Zero() && r.resp.AcceptedProposalNumber.GreaterThan(highestAccepted) {
				highestAccepted = r.resp.AcceptedProposalNumber
				chosenValue = r.resp.AcceptedValue
			}
		} else if r.resp.AcceptedProposalNumber.GreaterThan(highestSeen) {
			highestSeen = r.resp.AcceptedProposalNumber
		}
	}
	return promises, chosenValue, highestSeen
}

func (p *Proposer) collectAccept(ctx context.Context, acceptorURLs []string, req paxos.AcceptRequest) (int, paxos.ProposalNumber) {
	type result struct {
		resp paxos.AcceptResponse
		err  error
	}
	results := make([]result, len(acceptorURLs))
	var wg sync.WaitGroup
	for i, url := range acceptorURLs {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			var resp paxos.AcceptResponse
			err := p.sender.PostJSON(ctx, url+"/accept", req, &resp)
			results[i] = result{resp: resp, err: err}
		}(i, url)
	}
	wg.Wait()

	accepted := 0
	for _, r := range results {
		if r.err == nil && r.resp.Status == "accepted" {
			accepted++
		}
	}
	// ACCEPT rejections carry no blocking number in the wire format,
	// so the only recourse is to bump the local counter by one and
	// retry from Phase 1 with a fresh number.
	return accepted, paxos.ProposalNumber{}
}

func (p *Proposer) nextProposalNumber() paxos.ProposalNumber {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.proposalCounter++
	return paxos.NewClientProposalNumber(p.proposalCounter, p.nodeID)
}

func (p *Proposer) nextElectionProposalNumber() paxos.ProposalNumber {
	return paxos.NewElectionProposalNumber(time.Now().UnixMilli(), p.nodeID)
}

// handleRejection bumps proposalCounter past any higher number a peer
// reported, so the next attempt is guaranteed to dominate it.
func (p *Proposer) handleRejection(highestSeen paxos.ProposalNumber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if highestSeen.Counter > p.proposalCounter {
		p.proposalCounter = highestSeen.Counter
	}
}

// peerURLs resolves known peers of the given membership role into
// base URLs, optionally with a path suffix appended.
func (p *Proposer) peerURLs(ctx context.Context, role, suffix string) []string {
	nodes, err := p.membership.ListNodes(ctx)
	if err != nil {
		p.log.Warn("list-nodes failed", "error", err)
		return nil
	}
	var urls []string
	for _, n := range membership.NodesByRole(nodes, role) {
		urls = append(urls, fmt.Sprintf("http://%s:%d%s", n.Address, n.Port, suffix))
	}
	return urls
}

func quorumSize(n int) int {
	return n/2 + 1
}
