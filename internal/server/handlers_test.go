package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coderelay/coderelay/internal/approval"
	"github.com/coderelay/coderelay/internal/attachment"
	"github.com/coderelay/coderelay/internal/engine"
	"github.com/coderelay/coderelay/internal/event"
	"github.com/coderelay/coderelay/internal/session"
	"github.com/coderelay/coderelay/pkg/types"
)

type scriptedStream struct {
	mu   sync.Mutex
	msgs []*types.EngineMessage
}

func (s *scriptedStream) Recv() (*types.EngineMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.msgs) == 0 {
		return nil, io.EOF
	}
	msg := s.msgs[0]
	s.msgs = s.msgs[1:]
	return msg, nil
}

func (s *scriptedStream) Interrupt() error { return nil }

type scriptedEngine struct {
	msgs []*types.EngineMessage
}

func (e *scriptedEngine) Query(ctx context.Context, prompt string, opts *engine.Options) (engine.Stream, error) {
	return &scriptedStream{msgs: append([]*types.EngineMessage(nil), e.msgs...)}, nil
}

func newTestServer(t *testing.T, eng engine.Engine) (*Server, *event.Bus) {
	t.Helper()

	bus := event.NewBus()
	t.Cleanup(func() { bus.Close() })

	coordinator := session.NewCoordinator(
		eng,
		session.NewRegistry(),
		approval.NewBroker(),
		attachment.NewStore(),
		session.Limits{ApprovalTimeout: time.Second, TokenBudget: 160000},
		"sonnet",
	)

	return New(DefaultConfig(), coordinator, bus), bus
}

func doRequest(srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedEngine{})

	rec := doRequest(srv, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStartSessionRequiresPromptOrSessionID(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedEngine{})

	rec := doRequest(srv, http.MethodPost, "/session", map[string]any{})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartSessionRejectsMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedEngine{})

	req := httptest.NewRequest(http.MethodPost, "/session", bytes.NewReader([]byte("{nope")))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartSessionStreamsEventsOverBus(t *testing.T) {
	eng := &scriptedEngine{msgs: []*types.EngineMessage{
		{Type: "system", Subtype: "init", SessionID: "sess-1"},
		{Type: "assistant", SessionID: "sess-1"},
	}}
	srv, bus := newTestServer(t, eng)

	var mu sync.Mutex
	var seen []event.EventType
	unsub := bus.SubscribeAll(func(e event.Event) {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
	})
	defer unsub()

	rec := doRequest(srv, http.MethodPost, "/session", map[string]any{"prompt": "hello"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"accepted":true}`, rec.Body.String())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 4
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []event.EventType{
		event.SessionCreated,
		event.ClaudeResponse,
		event.ClaudeResponse,
		event.ClaudeComplete,
	}, seen)
}

func TestStartSessionResumeEchoesSessionID(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedEngine{})

	rec := doRequest(srv, http.MethodPost, "/session", map[string]any{
		"prompt":    "continue",
		"sessionId": "sess-9",
	})

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"accepted":true,"sessionId":"sess-9"}`, rec.Body.String())
}

func TestListSessionsEmpty(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedEngine{})

	rec := doRequest(srv, http.MethodGet, "/session", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sessions":[]}`, rec.Body.String())
}

func TestGetSessionStatusInactive(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedEngine{})

	rec := doRequest(srv, http.MethodGet, "/session/sess-1", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"sessionId":"sess-1","active":false}`, rec.Body.String())
}

func TestAbortUnknownSessionReturns404(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedEngine{})

	rec := doRequest(srv, http.MethodPost, "/session/missing/abort", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
}

func TestRespondPermissionUnknownRequestSucceeds(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedEngine{})

	rec := doRequest(srv, http.MethodPost, "/permission/req-1", types.Decision{Allow: true})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
}

func TestRespondPermissionRejectsMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedEngine{})

	req := httptest.NewRequest(http.MethodPost, "/permission/req-1", bytes.NewReader([]byte("{nope")))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
