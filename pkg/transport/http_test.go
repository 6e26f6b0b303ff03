package transport_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pierre-mcp/pierre/pkg/auth"
	"github.com/pierre-mcp/pierre/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withPrincipal(r *http.Request) *http.Request {
	return r.WithContext(auth.WithPrincipal(r.Context(), testPrincipal()))
}

func TestHTTPHandler_Post_NoPrincipalIsUnauthorized(t *testing.T) {
	h := transport.NewHTTPHandler(testEngine(t), transport.NewStore())
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHTTPHandler_Post_AssignsAndReturnsSessionID(t *testing.T) {
	h := transport.NewHTTPHandler(testEngine(t), transport.NewStore())
	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	sessionID := rec.Header().Get(transport.SessionIDHeader)
	assert.NotEmpty(t, sessionID)

	var resp struct {
		Result json.RawMessage `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.JSONEq(t, `{}`, string(resp.Result))
}

func TestHTTPHandler_Post_ReusesSessionAcrossRequests(t *testing.T) {
	h := transport.NewHTTPHandler(testEngine(t), transport.NewStore())

	first := withPrincipal(httptest.NewRequest(http.MethodPost, "/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}`)))
	rec1 := httptest.NewRecorder()
	h.ServeHTTP(rec1, first)
	sessionID := rec1.Header().Get(transport.SessionIDHeader)
	require.NotEmpty(t, sessionID)

	second := withPrincipal(httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":2,"method":"ping"}`)))
	second.Header.Set(transport.SessionIDHeader, sessionID)
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, second)

	assert.Equal(t, sessionID, rec2.Header().Get(transport.SessionIDHeader))
	assert.Equal(t, http.StatusOK, rec2.Code)
}

func TestHTTPHandler_Post_NotificationReturns202(t *testing.T) {
	h := transport.NewHTTPHandler(testEngine(t), transport.NewStore())
	req := withPrincipal(httptest.NewRequest(http.MethodPost, "/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"progressToken":"x"}}`)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestHTTPHandler_UnsupportedMethodIs405(t *testing.T) {
	h := transport.NewHTTPHandler(testEngine(t), transport.NewStore())
	req := withPrincipal(httptest.NewRequest(http.MethodDelete, "/mcp", nil))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHTTPHandler_SSE_MissingSessionHeaderIsBadRequest(t *testing.T) {
	h := transport.NewHTTPHandler(testEngine(t), transport.NewStore())
	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTPHandler_SSE_UnknownSessionIsNotFound(t *testing.T) {
	h := transport.NewHTTPHandler(testEngine(t), transport.NewStore())
	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	req.Header.Set(transport.SessionIDHeader, "never-created")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHTTPHandler_SSE_StreamsProgressNotification(t *testing.T) {
	h := transport.NewHTTPHandler(testEngine(t), transport.NewStore())

	init := withPrincipal(httptest.NewRequest(http.MethodPost, "/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}`)))
	recInit := httptest.NewRecorder()
	h.ServeHTTP(recInit, init)
	sessionID := recInit.Header().Get(transport.SessionIDHeader)
	require.NotEmpty(t, sessionID)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(w, r)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sseReq, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	sseReq.Header.Set(transport.SessionIDHeader, sessionID)

	resp, err := http.DefaultClient.Do(sseReq)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	call := withPrincipal(httptest.NewRequest(http.MethodPost, "/mcp",
		strings.NewReader(`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"activities.list","arguments":{"provider":"strava"},"_meta":{"progressToken":"tok-1"}}}`)))
	call.Header.Set(transport.SessionIDHeader, sessionID)
	go h.ServeHTTP(httptest.NewRecorder(), call)

	buf := make([]byte, 4096)
	n, err := resp.Body.Read(buf)
	require.NoError(t, err)
	assert.Contains(t, string(buf[:n]), "data: ")
}
