package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenstack/concierge/capabilities"
	"github.com/lumenstack/concierge/capability"
	"github.com/lumenstack/concierge/core"
	"github.com/lumenstack/concierge/intent"
	"github.com/lumenstack/concierge/provider"
	"github.com/lumenstack/concierge/router"
	"github.com/lumenstack/concierge/session"
	"github.com/lumenstack/concierge/workflow"
)

func newTestServer(t *testing.T) (*httptest.Server, *provider.MockProvider) {
	t.Helper()

	mock := provider.NewMockProvider("mock")
	gw := provider.NewGateway([]provider.Provider{mock}, func(c *provider.Config) {
		c.MaxRetriesPerProvider = 0
	})

	registry := capability.NewRegistry()
	require.NoError(t, capabilities.RegisterDefaults(registry))

	sessions := session.NewInMemoryStore()
	engine := workflow.New(gw, intent.NewClassifier(gw), router.New(registry), func(o *workflow.Options) {
		o.SessionStore = sessions
		o.TurnTimeout = 5 * time.Second
	})

	r := chi.NewRouter()
	NewHandler(engine, sessions, nil).RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, mock
}

func postTurn(t *testing.T, srv *httptest.Server, sessionID string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/v1/sessions/"+sessionID+"/turns", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func TestHandleTurn(t *testing.T) {
	srv, mock := newTestServer(t)
	mock.AddResponse("Classify the user message", "orders.lookup|0.9|orders question")
	mock.AddResponse("Compose a helpful reply", "Order 1001 has shipped.")

	resp := postTurn(t, srv, "s1", turnRequest{Message: "where is order 1001?"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res workflow.TurnResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, core.StateCommitted, res.State)
	assert.Equal(t, "Order 1001 has shipped.", res.Response)
	assert.Equal(t, core.IntentOrdersLookup, res.Intent.Label)
	require.NotNil(t, res.Invocation)
}

func TestHandleTurn_EmptyMessage(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postTurn(t, srv, "s1", turnRequest{Message: ""})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleTurn_DegradedStillOK(t *testing.T) {
	srv, mock := newTestServer(t)
	mock.FailNext(-1)

	resp := postTurn(t, srv, "s1", turnRequest{Message: "zxcvb qwerty"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode, "degraded turns are delivered as normal responses")

	var res workflow.TurnResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	assert.Equal(t, core.StateFailed, res.State)
	assert.Equal(t, "provider_unavailable", res.ErrorKind)
	assert.NotEmpty(t, res.Response)
}

func TestGetSession(t *testing.T) {
	srv, mock := newTestServer(t)
	mock.AddResponse("Classify the user message", "orders.lookup|0.9|orders question")
	mock.AddResponse("Compose a helpful reply", "Order 1001 has shipped.")

	postTurn(t, srv, "s1", turnRequest{Message: "where is order 1001?", UserID: "u-7"}).Body.Close()

	resp, err := http.Get(srv.URL + "/v1/sessions/s1/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var sess sessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sess))
	assert.Equal(t, "s1", sess.SessionID)
	require.Len(t, sess.Turns, 1)
	assert.Equal(t, "where is order 1001?", sess.Turns[0].Content)
}

func TestGetSession_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/sessions/missing/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStream(t *testing.T) {
	srv, mock := newTestServer(t)
	mock.AddResponse("Classify the user message", "orders.lookup|0.9|orders question")
	mock.AddResponse("Compose a helpful reply", "Order 1001 has shipped.")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/sessions/s1/stream"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	payload, err := json.Marshal(turnRequest{Message: "where is order 1001?"})
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, payload))

	var sb strings.Builder
	var done streamEvent
	for {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var ev streamEvent
		require.NoError(t, json.Unmarshal(data, &ev))
		if ev.Type == "fragment" {
			sb.WriteString(ev.Text)
			continue
		}
		done = ev
		break
	}

	assert.Equal(t, "done", done.Type)
	assert.Equal(t, string(core.StateCommitted), done.State)
	assert.NotEmpty(t, done.TurnID)
	assert.Equal(t, "Order 1001 has shipped.", sb.String())
}

func TestStream_BadRequest(t *testing.T) {
	srv, _ := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/sessions/s1/stream"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"message": ""}`)))

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var ev streamEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, "error", ev.Type)
	assert.Equal(t, "bad_request", ev.ErrorKind)
}
