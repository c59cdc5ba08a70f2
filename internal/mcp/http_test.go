package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docserver-mcp/docserver/internal/session"
	"github.com/docserver-mcp/docserver/internal/storage"
)

type fakePinger struct {
	pingErr    error
	health     storage.PoolHealth
	healthErr  error
}

func (f *fakePinger) Ping(ctx context.Context) error { return f.pingErr }
func (f *fakePinger) HealthCheck(ctx context.Context) (storage.PoolHealth, error) {
	return f.health, f.healthErr
}

func newTestServer() (*HTTPServer, *session.Manager) {
	registry := NewRegistry()
	registry.Register(&stubTool{name: "rust_query", desc: "d", schema: CommonInputSchema(), result: TextResult("ok")})

	sessions := session.NewManager(session.Config{ProtocolVersion: ProtocolVersion})
	dispatcher := NewDispatcher(registry, ServerInfo{Name: "docserver", Version: "test"}, testLogger())
	health := NewHealthChecker(&fakePinger{health: storage.PoolHealth{Healthy: true}})

	srv := NewHTTPServer(dispatcher, sessions, SecurityConfig{CORSOrigin: "*"}, health, testLogger())
	return srv, sessions
}

func doPost(t *testing.T, h http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	req.Header.Set("MCP-Protocol-Version", ProtocolVersion)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestS1InitializeMintsSession(t *testing.T) {
	srv, _ := newTestServer()
	h := srv.Handler()

	rec := doPost(t, h, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","clientInfo":{"name":"c"}}}`, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Mcp-Session-Id"))
	assert.Equal(t, ProtocolVersion, rec.Header().Get("MCP-Protocol-Version"))
}

func TestS2ToolsListWithValidSessionSucceeds(t *testing.T) {
	srv, sessions := newTestServer()
	h := srv.Handler()

	sess, err := sessions.Create(session.ClientInfo{})
	require.NoError(t, err)

	rec := doPost(t, h, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`, map[string]string{"Mcp-Session-Id": sess.ID})

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Error)
	assert.Equal(t, sess.ID, rec.Header().Get("Mcp-Session-Id"))
}

func TestS3ToolsCallInvokesRegisteredTool(t *testing.T) {
	srv, sessions := newTestServer()
	h := srv.Handler()
	sess, err := sessions.Create(session.ClientInfo{})
	require.NoError(t, err)

	rec := doPost(t, h, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"rust_query","arguments":{"query":"ownership"}}}`,
		map[string]string{"Mcp-Session-Id": sess.ID})

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Error)
}

func TestS4InvalidSessionIDMintsFreshSessionInstead(t *testing.T) {
	srv, _ := newTestServer()
	h := srv.Handler()

	rec := doPost(t, h, `{"jsonrpc":"2.0","id":4,"method":"tools/list"}`, map[string]string{"Mcp-Session-Id": "deadbeefdeadbeefdeadbeefdeadbeef"})

	assert.Equal(t, http.StatusOK, rec.Code, "an unknown session id must not error the request")
	assert.NotEmpty(t, rec.Header().Get("Mcp-Session-Id"))
	assert.NotEqual(t, "deadbeefdeadbeefdeadbeefdeadbeef", rec.Header().Get("Mcp-Session-Id"))
}

func TestS5DeleteSessionSucceedsThenSessionIsGone(t *testing.T) {
	srv, sessions := newTestServer()
	h := srv.Handler()
	sess, err := sessions.Create(session.ClientInfo{})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	req.Header.Set("MCP-Protocol-Version", ProtocolVersion)
	req.Header.Set("Mcp-Session-Id", sess.ID)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)

	_, err = sessions.Lookup(sess.ID)
	assert.Error(t, err)
}

func TestS5DeleteWithoutSessionIDFails(t *testing.T) {
	srv, _ := newTestServer()
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodDelete, "/mcp", nil)
	req.Header.Set("MCP-Protocol-Version", ProtocolVersion)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestS6GetMethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer()
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "POST, DELETE, OPTIONS", rec.Header().Get("Allow"))
}

func TestMissingProtocolVersionHeaderRejected(t *testing.T) {
	srv, _ := newTestServer()
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnsupportedProtocolVersionRejected(t *testing.T) {
	srv, _ := newTestServer()
	h := srv.Handler()

	rec := doPost(t, h, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, map[string]string{"MCP-Protocol-Version": "1999-01-01"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWrongContentTypeRejected(t *testing.T) {
	srv, _ := newTestServer()
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	req.Header.Set("MCP-Protocol-Version", ProtocolVersion)
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestIncompatibleAcceptHeaderRejected(t *testing.T) {
	srv, _ := newTestServer()
	h := srv.Handler()

	rec := doPost(t, h, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, map[string]string{"Accept": "text/html"})
	assert.Equal(t, http.StatusNotAcceptable, rec.Code)
}

func TestMissingAcceptHeaderIsPermissive(t *testing.T) {
	srv, sessions := newTestServer()
	h := srv.Handler()
	sess, err := sessions.Create(session.ClientInfo{})
	require.NoError(t, err)

	rec := doPost(t, h, `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`, map[string]string{"Mcp-Session-Id": sess.ID})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMalformedJSONReturnsInvalidRequestError(t *testing.T) {
	srv, _ := newTestServer()
	h := srv.Handler()

	rec := doPost(t, h, `not json at all`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeInvalidRequest, resp.Error.Code)
}

func TestPayloadTooLargeRejected(t *testing.T) {
	srv, _ := newTestServer()
	h := srv.Handler()

	huge := make([]byte, MaxBodyBytes+1)
	for i := range huge {
		huge[i] = 'a'
	}
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(string(huge)))
	req.Header.Set("MCP-Protocol-Version", ProtocolVersion)
	req.Header.Set("Content-Type", "application/json")
	req.ContentLength = int64(len(huge))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestStrictOriginValidationRejectsDisallowedOrigin(t *testing.T) {
	registry := NewRegistry()
	sessions := session.NewManager(session.Config{ProtocolVersion: ProtocolVersion})
	dispatcher := NewDispatcher(registry, ServerInfo{Name: "docserver"}, testLogger())
	health := NewHealthChecker(&fakePinger{health: storage.PoolHealth{Healthy: true}})

	srv := NewHTTPServer(dispatcher, sessions, SecurityConfig{
		StrictOriginValidation: true,
		AllowedOrigins:         []string{"https://trusted.example"},
	}, health, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	req.Header.Set("MCP-Protocol-Version", ProtocolVersion)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestOptionsReturnsNoContent(t *testing.T) {
	srv, _ := newTestServer()
	h := srv.Handler()

	req := httptest.NewRequest(http.MethodOptions, "/mcp", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHealthLiveAlwaysHealthy(t *testing.T) {
	srv, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthUnhealthyWhenPingFails(t *testing.T) {
	registry := NewRegistry()
	sessions := session.NewManager(session.Config{ProtocolVersion: ProtocolVersion})
	dispatcher := NewDispatcher(registry, ServerInfo{Name: "docserver"}, testLogger())
	health := NewHealthChecker(&fakePinger{pingErr: assertErr{"db unreachable"}})
	srv := NewHTTPServer(dispatcher, sessions, SecurityConfig{}, health, testLogger())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
