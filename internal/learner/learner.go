// Package learner implements the quorum-watching Learner role: count
// ACCEPTED notifications per proposal number and declare a value
// chosen once a majority of known acceptors agree on it. Notifications
// arrive over HTTP, possibly batched and out of order.
package learner

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/distlab/paxoscluster/internal/paxos"
)

// tidCap bounds the TID dedup set with FIFO trim so a long-running
// Learner doesn't grow it without bound.
const tidCap = 10000

// logCap bounds the externally visible chosen-value log returned by
// GetValues.
const logCap = 1000

// ChosenEntry is one value this Learner has observed a quorum for.
type ChosenEntry struct {
	ProposalNumber paxos.ProposalNumber
	Value          paxos.Value
	IsElection     bool
	ClientID       string
	LearnedAt      time.Time
}

// Learner tracks, per proposal number, which acceptors have reported
// an ACCEPTED value, and declares the value chosen once a majority of
// the known acceptor set agrees on the same (proposalNumber, value)
// pair. quorum is re-read on every tally so the majority threshold
// follows the registry's current acceptor count.
type Learner struct {
	mu sync.Mutex

	id     string
	quorum func() int
	log    *slog.Logger

	// votes[n] maps acceptorID -> value accepted by that acceptor for n.
	votes map[paxos.ProposalNumber]map[string]paxos.Value

	chosen        []ChosenEntry
	chosenByN     map[paxos.ProposalNumber]bool
	currentLeader int

	processedTIDs  map[string]struct{}
	processedOrder []string

	notifier *Notifier
}

// New builds a Learner. notifier may be nil, in which case chosen
// values are recorded but neither the registry nor any client is told.
func New(id string, quorum func() int, log *slog.Logger, notifier *Notifier) *Learner {
	return &Learner{
		id:            id,
		quorum:        quorum,
		log:           log,
		notifier:      notifier,
		votes:         make(map[paxos.ProposalNumber]map[string]paxos.Value),
		chosenByN:     make(map[paxos.ProposalNumber]bool),
		processedTIDs: make(map[string]struct{}),
	}
}

// HandleLearnBatch folds a batch of ACCEPTED notifications;
// duplicates by TID are ignored so a redelivered batch after a retry
// doesn't double-count an acceptor's vote.
func (l *Learner) HandleLearnBatch(batch paxos.LearnBatch) {
	l.mu.Lock()
	var events []ChosenEntry
	for _, n := range batch.Notifications {
		if e, ok := l.applyLocked(n); ok {
			events = append(events, e)
		}
	}
	l.mu.Unlock()
	l.dispatch(events)
}

// HandleLearn folds a single ACCEPTED notification.
func (l *Learner) HandleLearn(n paxos.LearnNotification) {
	l.mu.Lock()
	e, ok := l.applyLocked(n)
	l.mu.Unlock()
	if ok {
		l.dispatch([]ChosenEntry{e})
	}
}

// applyLocked must be called with l.mu held. Returns the chosen entry
// if this notification pushed its proposal across quorum.
func (l *Learner) applyLocked(n paxos.LearnNotification) (ChosenEntry, bool) {
	if n.TID != "" {
		if _, seen := l.processedTIDs[n.TID]; seen {
			return ChosenEntry{}, false
		}
		l.rememberTID(n.TID)
	}

	if l.votes[n.ProposalNumber] == nil {
		l.votes[n.ProposalNumber] = make(map[string]paxos.Value)
	}
	l.votes[n.ProposalNumber][n.AcceptorID] = n.Value

	if l.chosenByN[n.ProposalNumber] {
		return ChosenEntry{}, false
	}

	tally := make(map[paxos.Value]int)
	for _, v := range l.votes[n.ProposalNumber] {
		tally[v]++
	}
	need := l.quorum()
	for v, count := range tally {
		if count >= need {
			l.chosenByN[n.ProposalNumber] = true
			entry := ChosenEntry{
				ProposalNumber: n.ProposalNumber,
				Value:          v,
				IsElection:     n.IsLeaderElection,
				ClientID:       n.ClientID,
				LearnedAt:      time.Now(),
			}
			l.chosen = append(l.chosen, entry)
			if len(l.chosen) > logCap {
				l.chosen = l.chosen[len(l.chosen)-logCap:]
			}
			if n.IsLeaderElection {
				if candidate, ok := v.ElectionCandidate(); ok {
					if id, err := strconv.Atoi(candidate); err == nil {
						l.currentLeader = id
					}
				}
			}
			l.log.Info("value chosen", "proposal_number", n.ProposalNumber.String(), "value", v, "election", n.IsLeaderElection)
			return entry, true
		}
	}
	return ChosenEntry{}, false
}

// dispatch fans chosen entries out to the membership registry (for
// election outcomes) and to originating clients, outside the lock and
// without awaiting delivery.
func (l *Learner) dispatch(events []ChosenEntry) {
	if l.notifier == nil {
		return
	}
	for _, e := range events {
		e := e
		if e.IsElection {
			if candidate, ok := e.Value.ElectionCandidate(); ok {
				go l.notifier.PublishLeader(candidate)
			}
			continue
		}
		if e.ClientID != "" {
			go l.notifier.NotifyClient(e.ClientID, paxos.ClientNotification{
				LearnerID:      l.id,
				ProposalNumber: e.ProposalNumber,
				Value:          e.Value,
				LearnedAt:      e.LearnedAt.UnixMilli(),
			})
		}
	}
}

func (l *Learner) rememberTID(tid string) {
	l.processedTIDs[tid] = struct{}{}
	l.processedOrder = append(l.processedOrder, tid)
	if len(l.processedOrder) > tidCap {
		stale := l.processedOrder[0]
		l.processedOrder = l.processedOrder[1:]
		delete(l.processedTIDs, stale)
	}
}

// GetValues returns the chosen application values (election values
// excluded) in the order they were learned, most recent last. limit<=0
// means no limit.
func (l *Learner) GetValues(limit int) []paxos.Value {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []paxos.Value
	for _, e := range l.chosen {
		if e.IsElection {
			continue
		}
		out = append(out, e.Value)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// CurrentLeader returns the last-known leader learned through the
// leader-election value channel, or 0 if none has been chosen yet.
func (l *Learner) CurrentLeader() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentLeader
}

// ChosenLog returns the full chosen history for observability.
func (l *Learner) ChosenLog() []ChosenEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ChosenEntry, len(l.chosen))
	copy(out, l.chosen)
	return out
}
