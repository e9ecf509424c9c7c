package proposer

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distlab/paxoscluster/internal/membership"
	"github.com/distlab/paxoscluster/internal/paxos"
)

func newTestRouter(p *Proposer) *echo.Echo {
	e := echo.New()
	RegisterRoutes(e, p, time.Now())
	return e
}

func postJSON(e *echo.Echo, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestProposeEndpointAsLeader(t *testing.T) {
	p := newTestProposer(membership.NewFake())
	p.mu.Lock()
	p.role = Leader
	p.mu.Unlock()
	e := newTestRouter(p)

	rec := postJSON(e, "/propose", `{"value":"x","client_id":"7"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp paxos.ProposeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "proposal_initiated", resp.Status)
	assert.Equal(t, 1, resp.Position)
}

func TestProposeEndpointRejectsMissingValue(t *testing.T) {
	e := newTestRouter(newTestProposer(membership.NewFake()))

	rec := postJSON(e, "/propose", `{"client_id":"7"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProposeEndpointNotLeader(t *testing.T) {
	e := newTestRouter(newTestProposer(membership.NewFake()))

	rec := postJSON(e, "/propose", `{"value":"x","client_id":"7"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp paxos.NotLeaderResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.RetrySuggested)
}

func TestProposeEndpointForceElection(t *testing.T) {
	e := newTestRouter(newTestProposer(membership.NewFake()))

	rec := postJSON(e, "/propose", `{"value":"force_election","is_leader_election":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp paxos.ProposeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "election_started", resp.Status)
	assert.Equal(t, 1, resp.ProposerID)
}

func TestHeartbeatEndpoint(t *testing.T) {
	p := newTestProposer(membership.NewFake())
	e := newTestRouter(p)

	rec := postJSON(e, "/heartbeat", `{"leader_id":2,"timestamp":1000}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "acknowledged")

	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotNil(t, p.currentLeader)
	assert.Equal(t, 2, *p.currentLeader)
}

func TestStatusEndpoint(t *testing.T) {
	e := newTestRouter(newTestProposer(membership.NewFake()))

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "follower")
}
