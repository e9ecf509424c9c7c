package learner

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

func newTestRouter(l *Learner) *echo.Echo {
	e := echo.New()
	RegisterRoutes(e, l, time.Now())
	return e
}

func postJSON(e *echo.Echo, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestLearnEndpointAcceptsSingleAndBatch(t *testing.T) {
	l := New("l1", quorumOf(2), testLogger(), nil)
	e := newTestRouter(l)

	single := `{"acceptor_id":"a1","proposal_number":{"counter":1,"proposer_id":1},"value":"x","tid":"t1"}`
	rec := postJSON(e, "/learn", single)
	require.Equal(t, http.StatusOK, rec.Code)

	batch := `{"notifications":[{"acceptor_id":"a2","proposal_number":{"counter":1,"proposer_id":1},"value":"x","tid":"t2"}]}`
	rec = postJSON(e, "/learn", batch)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, []paxos.Value{"x"}, l.GetValues(0))
}

func TestLearnEndpointRejectsMalformedBody(t *testing.T) {
	l := New("l1", quorumOf(2), testLogger(), nil)
	e := newTestRouter(l)

	rec := postJSON(e, "/learn", `{"notifications":"nope"`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetValuesEndpoint(t *testing.T) {
	l := New("l1", quorumOf(1), testLogger(), nil)
	for i := int64(1); i <= 3; i++ {
		l.HandleLearn(paxos.LearnNotification{AcceptorID: "a1", ProposalNumber: paxos.NewClientProposalNumber(i, 1), Value: paxos.Value(string(rune('a' + i)))})
	}
	e := newTestRouter(l)

	req := httptest.NewRequest(http.MethodGet, "/get-values?limit=2", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var out paxos.GetValuesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 3, out.TotalCount)
	assert.Equal(t, 2, out.ReturnedCount)
	assert.Len(t, out.Values, 2)
}
