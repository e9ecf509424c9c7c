// Package membership adapts to the external node-discovery registry.
// It is a thin client: register a node, heartbeat it, list peers by
// role, and read/write the current leader. The registry service
// itself is out of scope; only this adapter and its
// list-nodes/get-leader-shaped contract are ours to own.
package membership

import (
	"context"
	"fmt"

	"github.com/distlab/paxoscluster/internal/transport"
)

// Role names used when registering and when filtering ListNodes.
const (
	RoleProposer = "proposer"
	RoleAcceptor = "acceptor"
	RoleLearner  = "learner"
	RoleClient   = "client"
)

// NodeInfo is one entry in the registry's membership table.
type NodeInfo struct {
	ID            string `json:"id"`
	Role          string `json:"role"`
	Address       string `json:"address"`
	Port          int    `json:"port"`
	LastHeartbeat int64  `json:"last_heartbeat"`
}

// Client is the interface every role depends on; the HTTP
// implementation and the in-memory Fake (fake.go) both satisfy it so
// role packages can be unit tested without a live registry process.
type Client interface {
	Register(ctx context.Context, id, role, address string, port int) error
	Heartbeat(ctx context.Context, id string) error
	ListNodes(ctx context.Context) (map[string]NodeInfo, error)
	GetLeader(ctx context.Context) (string, bool, error)
	SetLeader(ctx context.Context, id string) error
}

// HTTPClient talks to the registry over HTTP using the shared
// retryable sender, so a transient registry hiccup is absorbed the
// same way any other peer call is.
type HTTPClient struct {
	baseURL string
	sender  *transport.Sender
}

func NewHTTPClient(baseURL string, sender *transport.Sender) *HTTPClient {
	return &HTTPClient{baseURL: baseURL, sender: sender}
}

type registerRequest struct {
	ID      string `json:"id"`
	Role    string `json:"role"`
	Address string `json:"address"`
	Port    int    `json:"port"`
}

func (c *HTTPClient) Register(ctx context.Context, id, role, address string, port int) error {
	return c.sender.PostJSON(ctx, c.baseURL+"/register", registerRequest{ID: id, Role: role, Address: address, Port: port}, nil)
}

type heartbeatRequest struct {
	ID string `json:"id"`
}

func (c *HTTPClient) Heartbeat(ctx context.Context, id string) error {
	return c.sender.PostJSON(ctx, c.baseURL+"/heartbeat", heartbeatRequest{ID: id}, nil)
}

type listNodesResponse struct {
	Nodes map[string]NodeInfo `json:"nodes"`
}

func (c *HTTPClient) ListNodes(ctx context.Context) (map[string]NodeInfo, error) {
	var out listNodesResponse
	if err := c.sender.PostJSON(ctx, c.baseURL+"/list-nodes", struct{}{}, &out); err != nil {
		return nil, fmt.Errorf("membership: list-nodes: %w", err)
	}
	return out.Nodes, nil
}

type getLeaderResponse struct {
	Leader *string `json:"leader"`
}

func (c *HTTPClient) GetLeader(ctx context.Context) (string, bool, error) {
	var out getLeaderResponse
	if err := c.sender.PostJSON(ctx, c.baseURL+"/get-leader", struct{}{}, &out); err != nil {
		return "", false, fmt.Errorf("membership: get-leader: %w", err)
	}
	if out.Leader == nil {
		return "", false, nil
	}
	return *out.Leader, true, nil
}

type setLeaderRequest struct {
	LeaderID *string `json:"leader_id"`
}

func (c *HTTPClient) SetLeader(ctx context.Context, id string) error {
	req := setLeaderRequest{}
	if id != "" {
		req.LeaderID = &id
	}
	return c.sender.PostJSON(ctx, c.baseURL+"/set-leader", req, nil)
}
