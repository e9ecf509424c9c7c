package membership

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distlab/paxoscluster/internal/transport"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRegistry is an httptest stand-in for the external discovery
// service, implementing just enough of its route surface to exercise
// the adapter.
func fakeRegistry(t *testing.T) (*httptest.Server, *map[string]NodeInfo) {
	t.Helper()
	nodes := map[string]NodeInfo{}
	var leader *string

	mux := http.NewServeMux()
	mux.HandleFunc("/register", func(w http.ResponseWriter, r *http.Request) {
		var req NodeInfo
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		nodes[req.ID] = req
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/list-nodes", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"nodes": nodes})
	})
	mux.HandleFunc("/get-leader", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"leader": leader})
	})
	mux.HandleFunc("/set-leader", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			LeaderID *string `json:"leader_id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		leader = req.LeaderID
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &nodes
}

func TestHTTPClientRoundTrip(t *testing.T) {
	srv, nodes := fakeRegistry(t)
	c := NewHTTPClient(srv.URL, transport.NewSender(transport.DefaultConfig(), testLogger()))
	ctx := context.Background()

	require.NoError(t, c.Register(ctx, "acceptor-1", RoleAcceptor, "localhost", 4001))
	require.NoError(t, c.Heartbeat(ctx, "acceptor-1"))
	assert.Contains(t, *nodes, "acceptor-1")

	listed, err := c.ListNodes(ctx)
	require.NoError(t, err)
	assert.Equal(t, RoleAcceptor, listed["acceptor-1"].Role)

	_, ok, err := c.GetLeader(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetLeader(ctx, "proposer-2"))
	leader, ok, err := c.GetLeader(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "proposer-2", leader)
}

func TestNodesByRole(t *testing.T) {
	nodes := map[string]NodeInfo{
		"acceptor-1": {ID: "acceptor-1", Role: RoleAcceptor},
		"acceptor-2": {ID: "acceptor-2", Role: RoleAcceptor},
		"learner-1":  {ID: "learner-1", Role: RoleLearner},
	}
	assert.Len(t, NodesByRole(nodes, RoleAcceptor), 2)
	assert.Len(t, NodesByRole(nodes, RoleLearner), 1)
	assert.Empty(t, NodesByRole(nodes, RoleClient))
}
