package client

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distlab/paxoscluster/internal/membership"
	"github.com/distlab/paxoscluster/internal/paxos"
	"github.com/distlab/paxoscluster/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func registerServer(t *testing.T, fake *membership.Fake, id, role string, srv *httptest.Server) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	require.NoError(t, fake.Register(context.Background(), id, role, host, port))
}

func TestNotifyDeduplicatesByLearnerAndProposal(t *testing.T) {
	g := New(7, 20, membership.NewFake(), transport.NewSender(transport.DefaultConfig(), testLogger()), testLogger())
	n := paxos.NewClientProposalNumber(101, 1)
	note := paxos.ClientNotification{LearnerID: "l1", ProposalNumber: n, Value: "x", LearnedAt: 12345}

	g.HandleNotify(note)
	g.HandleNotify(note)
	assert.Len(t, g.Responses(), 1)

	// A different learner reporting the same choice is a distinct entry.
	note.LearnerID = "l2"
	g.HandleNotify(note)
	assert.Len(t, g.Responses(), 2)
}

func TestSendFollowsOneRedirectHop(t *testing.T) {
	fake := membership.NewFake()

	leaderHits := 0
	leader := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		leaderHits++
		var req paxos.ProposeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, paxos.Value("hello"), req.Value)
		assert.Equal(t, "7", req.ClientID)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(paxos.ProposeResponse{Status: "queued", Position: 1})
	}))
	defer leader.Close()

	follower := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		leaderID := 2
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(paxos.NotLeaderResponse{Error: "not the leader", CurrentLeader: &leaderID, RetrySuggested: true})
	}))
	defer follower.Close()

	registerServer(t, fake, "proposer-1", membership.RoleProposer, follower)
	registerServer(t, fake, "proposer-2", membership.RoleProposer, leader)
	// Registry still names the deposed follower as leader, forcing the
	// gateway through the redirect path.
	require.NoError(t, fake.SetLeader(context.Background(), "proposer-1"))

	g := New(7, 20, fake, transport.NewSender(transport.DefaultConfig(), testLogger()), testLogger())
	status, body := g.Send(context.Background(), "hello")

	require.Equal(t, http.StatusOK, status)
	resp, ok := body.(paxos.ProposeResponse)
	require.True(t, ok)
	assert.Equal(t, "queued", resp.Status)
	assert.Equal(t, 1, leaderHits)
}

func TestSendWithNoProposersIsUnavailable(t *testing.T) {
	g := New(7, 20, membership.NewFake(), transport.NewSender(transport.DefaultConfig(), testLogger()), testLogger())
	status, _ := g.Send(context.Background(), "hello")
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestReadPullsLearnerValues(t *testing.T) {
	fake := membership.NewFake()
	learner := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(paxos.GetValuesResponse{Values: []paxos.Value{"a", "b"}, TotalCount: 5, ReturnedCount: 2})
	}))
	defer learner.Close()
	registerServer(t, fake, "learner-1", membership.RoleLearner, learner)

	g := New(7, 20, fake, transport.NewSender(transport.DefaultConfig(), testLogger()), testLogger())
	out, err := g.Read(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []paxos.Value{"a", "b"}, out.Values)
	assert.Equal(t, 5, out.TotalCount)
}

func TestSendRateLimit(t *testing.T) {
	g := New(7, 1, membership.NewFake(), transport.NewSender(transport.DefaultConfig(), testLogger()), testLogger())
	assert.True(t, g.Allow())
	assert.False(t, g.Allow())
}
