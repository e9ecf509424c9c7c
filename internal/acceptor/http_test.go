package acceptor

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

	"github.com/distlab/paxoscluster/internal/paxos"
)

func newTestRouter(a *Acceptor) *echo.Echo {
	e := echo.New()
	RegisterRoutes(e, a, time.Now())
	return e
}

func postJSON(e *echo.Echo, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestPrepareEndpoint(t *testing.T) {
	e := newTestRouter(newTestAcceptor("a1", 1))

	rec := postJSON(e, "/prepare", `{"proposer_id":1,"proposal_number":{"counter":5,"proposer_id":1}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp paxos.PrepareResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "promise", resp.Status)
}

func TestPrepareEndpointRejectsMissingProposer(t *testing.T) {
	e := newTestRouter(newTestAcceptor("a1", 1))

	rec := postJSON(e, "/prepare", `{"proposal_number":{"counter":5,"proposer_id":1}}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAcceptEndpoint(t *testing.T) {
	a := newTestAcceptor("a1", 1)
	e := newTestRouter(a)

	postJSON(e, "/prepare", `{"proposer_id":1,"proposal_number":{"counter":5,"proposer_id":1}}`)
	rec := postJSON(e, "/accept", `{"proposer_id":1,"proposal_number":{"counter":5,"proposer_id":1},"value":"x"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp paxos.AcceptResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp.Status)

	_, _, value := a.State()
	assert.Equal(t, paxos.Value("x"), value)
}

func TestHealthAndViewLogs(t *testing.T) {
	a := newTestAcceptor("a1", 1)
	e := newTestRouter(a)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	postJSON(e, "/prepare", `{"proposer_id":1,"proposal_number":{"counter":1,"proposer_id":1}}`)
	req = httptest.NewRequest(http.MethodGet, "/view-logs", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "prepare")
}
