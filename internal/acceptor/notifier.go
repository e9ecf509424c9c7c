package acceptor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/distlab/paxoscluster/internal/paxos"
	"github.com/distlab/paxoscluster/internal/transport"
)

// pendingCap bounds the notification queue under sustained Learner
// unavailability: once exceeded, newly queued non-election entries are
// dropped rather than grown without bound. Election notifications are
// never dropped by this cap, and drain requeues them when a delivery
// fails.
const pendingCap = 5000

// Notifier batches ACCEPT notifications and drains them to every
// known Learner on a fixed interval or once a batch threshold is hit:
// batched delivery, at most every ~1s.
type Notifier struct {
	mu      sync.Mutex
	pending []paxos.LearnNotification

	sender      *transport.Sender
	learnerURLs func() []string
	batchSize   int
	batchPeriod time.Duration
	log         *slog.Logger

	stop chan struct{}
	done chan struct{}
}

func NewNotifier(sender *transport.Sender, learnerURLs func() []string, batchSize int, batchPeriod time.Duration, log *slog.Logger) *Notifier {
	return &Notifier{
		sender:      sender,
		learnerURLs: learnerURLs,
		batchSize:   batchSize,
		batchPeriod: batchPeriod,
		log:         log,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

func (n *Notifier) enqueue(msg paxos.LearnNotification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.pending) >= pendingCap && !msg.IsLeaderElection {
		n.log.Warn("dropping application-value learner notification, queue at cap", "tid", msg.TID)
		return
	}
	n.pending = append(n.pending, msg)
}

// Run drains the queue until Stop is called. Intended to run in its
// own goroutine for the acceptor's lifetime.
func (n *Notifier) Run() {
	defer close(n.done)
	ticker := time.NewTicker(n.batchPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-n.stop:
			n.drain()
			return
		case <-ticker.C:
			n.drain()
		default:
			n.mu.Lock()
			full := len(n.pending) >= n.batchSize
			n.mu.Unlock()
			if full {
				n.drain()
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func (n *Notifier) Stop() {
	close(n.stop)
	<-n.done
}

func (n *Notifier) drain() {
	n.mu.Lock()
	if len(n.pending) == 0 {
		n.mu.Unlock()
		return
	}
	batch := n.pending
	n.pending = nil
	n.mu.Unlock()

	urls := n.learnerURLs()
	if len(urls) == 0 {
		// No learners known yet: re-queue everything rather than lose it.
		n.mu.Lock()
		n.pending = append(batch, n.pending...)
		n.mu.Unlock()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	body := paxos.LearnBatch{Notifications: batch}
	results := transport.Broadcast(ctx, n.sender, urls, body, nil)

	var failedURLs []string
	for _, r := range results {
		if r.Err != nil {
			failedURLs = append(failedURLs, r.URL)
		}
	}
	if len(failedURLs) == 0 {
		return
	}

	n.log.Warn("learner notification batch failed for some peers", "failed", failedURLs, "batch_size", len(batch))

	// Only election notifications are requeued on terminal failure;
	// application values are allowed to drop because a future ACCEPT
	// will re-propagate once the Learner reappears.
	var requeue []paxos.LearnNotification
	for _, msg := range batch {
		if msg.IsLeaderElection {
			requeue = append(requeue, msg)
		}
	}
	if len(requeue) > 0 {
		n.mu.Lock()
		n.pending = append(requeue, n.pending...)
		n.mu.Unlock()
	}
}
