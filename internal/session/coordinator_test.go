package session

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coderelay/coderelay/internal/approval"
	"github.com/coderelay/coderelay/internal/attachment"
	"github.com/coderelay/coderelay/internal/engine"
	"github.com/coderelay/coderelay/internal/event"
	"github.com/coderelay/coderelay/pkg/types"
)

// fakeStream feeds prepared messages, then EOF or a terminal error.
// holdOpen keeps the stream open across Interrupt, imitating an engine
// that is slow to wind down after the signal.
type fakeStream struct {
	mu         sync.Mutex
	msgs       chan *types.EngineMessage
	err        error
	interrupts int
	holdOpen   bool
	closeOnce  sync.Once
}

func newFakeStream(msgs ...*types.EngineMessage) *fakeStream {
	s := &fakeStream{msgs: make(chan *types.EngineMessage, len(msgs)+1)}
	for _, m := range msgs {
		s.msgs <- m
	}
	s.closeOnce.Do(func() { close(s.msgs) })
	return s
}

// newOpenFakeStream keeps the stream open so tests can interrupt it.
func newOpenFakeStream(msgs ...*types.EngineMessage) *fakeStream {
	s := &fakeStream{msgs: make(chan *types.EngineMessage, len(msgs)+1)}
	for _, m := range msgs {
		s.msgs <- m
	}
	return s
}

func (s *fakeStream) Recv() (*types.EngineMessage, error) {
	msg, ok := <-s.msgs
	if !ok {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	return msg, nil
}

func (s *fakeStream) Interrupt() error {
	s.mu.Lock()
	s.interrupts++
	holdOpen := s.holdOpen
	s.mu.Unlock()
	if !holdOpen {
		s.closeOnce.Do(func() { close(s.msgs) })
	}
	return nil
}

type fakeEngine struct {
	mu       sync.Mutex
	stream   *fakeStream
	queryErr error

	gotPrompt string
	gotOpts   *engine.Options
}

func (e *fakeEngine) Query(ctx context.Context, prompt string, opts *engine.Options) (engine.Stream, error) {
	e.mu.Lock()
	e.gotPrompt = prompt
	e.gotOpts = opts
	e.mu.Unlock()
	if e.queryErr != nil {
		return nil, e.queryErr
	}
	return e.stream, nil
}

func (e *fakeEngine) opts() *engine.Options {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gotOpts
}

// recordingTransport collects events in arrival order.
type recordingTransport struct {
	mu     sync.Mutex
	events []event.Event
	bound  string
}

func (t *recordingTransport) Send(ev event.Event) {
	t.mu.Lock()
	t.events = append(t.events, ev)
	t.mu.Unlock()
}

func (t *recordingTransport) BindSession(sessionID string) {
	t.mu.Lock()
	t.bound = sessionID
	t.mu.Unlock()
}

func (t *recordingTransport) all() []event.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]event.Event(nil), t.events...)
}

func (t *recordingTransport) typeSequence() []event.EventType {
	var seq []event.EventType
	for _, ev := range t.all() {
		seq = append(seq, ev.Type)
	}
	return seq
}

func (t *recordingTransport) first(eventType event.EventType) (event.Event, bool) {
	for _, ev := range t.all() {
		if ev.Type == eventType {
			return ev, true
		}
	}
	return event.Event{}, false
}

func (t *recordingTransport) count(eventType event.EventType) int {
	n := 0
	for _, ev := range t.all() {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

func newTestCoordinator(eng engine.Engine) *Coordinator {
	return NewCoordinator(
		eng,
		NewRegistry(),
		approval.NewBroker(),
		attachment.NewStore(),
		Limits{ApprovalTimeout: time.Second, TokenBudget: 160000},
		"sonnet",
	)
}

func resultMessage(sessionID string, used int) *types.EngineMessage {
	return &types.EngineMessage{
		Type:      "result",
		SessionID: sessionID,
		ModelUsage: map[string]types.ModelUsage{
			"claude-sonnet": {CumulativeInputTokens: used},
		},
	}
}

func TestRunNewSessionEventOrder(t *testing.T) {
	eng := &fakeEngine{stream: newFakeStream(
		&types.EngineMessage{Type: "system", Subtype: "init", SessionID: "sess-1"},
		&types.EngineMessage{Type: "assistant", SessionID: "sess-1"},
		resultMessage("sess-1", 165),
	)}
	c := newTestCoordinator(eng)
	tr := &recordingTransport{}

	require.NoError(t, c.Run(context.Background(), "hello", &Options{}, tr))

	assert.Equal(t, []event.EventType{
		event.SessionCreated,
		event.ClaudeResponse,
		event.ClaudeResponse,
		event.ClaudeResponse,
		event.TokenBudget,
		event.ClaudeComplete,
	}, tr.typeSequence())

	created, ok := tr.first(event.SessionCreated)
	require.True(t, ok)
	assert.Equal(t, event.SessionCreatedData{SessionID: "sess-1"}, created.Data)
	assert.Equal(t, "sess-1", tr.bound)

	budget, ok := tr.first(event.TokenBudget)
	require.True(t, ok)
	assert.Equal(t, &types.TokenBudget{Used: 165, Total: 160000}, budget.Data.(event.TokenBudgetData).Data)

	complete, ok := tr.first(event.ClaudeComplete)
	require.True(t, ok)
	data := complete.Data.(event.ClaudeCompleteData)
	assert.Equal(t, "sess-1", data.SessionID)
	assert.Equal(t, 0, data.ExitCode)
	assert.True(t, data.IsNewSession)

	assert.Empty(t, c.ActiveSessions())
}

func TestRunSessionCreatedEmittedOnce(t *testing.T) {
	eng := &fakeEngine{stream: newFakeStream(
		&types.EngineMessage{Type: "system", Subtype: "init", SessionID: "sess-1"},
		&types.EngineMessage{Type: "assistant", SessionID: "sess-1"},
		&types.EngineMessage{Type: "assistant", SessionID: "sess-1"},
	)}
	c := newTestCoordinator(eng)
	tr := &recordingTransport{}

	require.NoError(t, c.Run(context.Background(), "hello", &Options{}, tr))

	assert.Equal(t, 1, tr.count(event.SessionCreated))
}

func TestRunResumeSkipsSessionCreated(t *testing.T) {
	eng := &fakeEngine{stream: newFakeStream(
		&types.EngineMessage{Type: "assistant", SessionID: "sess-1"},
		resultMessage("sess-1", 10),
	)}
	c := newTestCoordinator(eng)
	tr := &recordingTransport{}

	require.NoError(t, c.Run(context.Background(), "continue", &Options{SessionID: "sess-1"}, tr))

	assert.Equal(t, 0, tr.count(event.SessionCreated))
	assert.Equal(t, "sess-1", eng.opts().Resume)

	complete, ok := tr.first(event.ClaudeComplete)
	require.True(t, ok)
	assert.False(t, complete.Data.(event.ClaudeCompleteData).IsNewSession)
}

func TestRunStreamError(t *testing.T) {
	stream := newOpenFakeStream(&types.EngineMessage{Type: "assistant", SessionID: "sess-1"})
	stream.mu.Lock()
	stream.err = errors.New("connection reset")
	stream.mu.Unlock()
	stream.closeOnce.Do(func() { close(stream.msgs) })

	eng := &fakeEngine{stream: stream}
	c := newTestCoordinator(eng)
	tr := &recordingTransport{}

	err := c.Run(context.Background(), "hello", &Options{}, tr)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	errEvent, ok := tr.first(event.ClaudeError)
	require.True(t, ok)
	assert.Contains(t, errEvent.Data.(event.ClaudeErrorData).Error, "connection reset")

	assert.Equal(t, 0, tr.count(event.ClaudeComplete))
	assert.Empty(t, c.ActiveSessions())
}

func TestRunQueryError(t *testing.T) {
	eng := &fakeEngine{queryErr: errors.New("engine unavailable")}
	c := newTestCoordinator(eng)
	tr := &recordingTransport{}

	err := c.Run(context.Background(), "hello", &Options{}, tr)

	require.Error(t, err)
	errEvent, ok := tr.first(event.ClaudeError)
	require.True(t, ok)
	assert.Contains(t, errEvent.Data.(event.ClaudeErrorData).Error, "engine unavailable")
	assert.Empty(t, c.ActiveSessions())
}

func TestRunAbortInterruptsStream(t *testing.T) {
	stream := newOpenFakeStream(&types.EngineMessage{Type: "system", Subtype: "init", SessionID: "sess-1"})
	eng := &fakeEngine{stream: stream}
	c := newTestCoordinator(eng)
	tr := &recordingTransport{}

	done := make(chan error, 1)
	go func() {
		done <- c.Run(context.Background(), "hello", &Options{}, tr)
	}()

	require.Eventually(t, func() bool {
		return c.IsSessionActive("sess-1")
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, c.AbortSession("sess-1"))

	require.NoError(t, <-done)

	stream.mu.Lock()
	interrupts := stream.interrupts
	stream.mu.Unlock()
	assert.Equal(t, 1, interrupts)

	assert.False(t, c.IsSessionActive("sess-1"))
	assert.Equal(t, 1, tr.count(event.ClaudeComplete))
}

func TestAbortNewSessionReleasesAttachments(t *testing.T) {
	stream := newOpenFakeStream(&types.EngineMessage{Type: "system", Subtype: "init", SessionID: "sess-1"})
	stream.holdOpen = true
	eng := &fakeEngine{stream: stream}
	c := newTestCoordinator(eng)
	tr := &recordingTransport{}

	workDir := t.TempDir()
	image := types.InlineImage{
		Data: "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte{0x89, 'P', 'N', 'G'}),
	}

	done := make(chan error, 1)
	go func() {
		done <- c.Run(context.Background(), "describe this", &Options{
			Cwd:    workDir,
			Images: []types.InlineImage{image},
		}, tr)
	}()

	require.Eventually(t, func() bool {
		return c.IsSessionActive("sess-1")
	}, time.Second, 5*time.Millisecond)

	tempBase := filepath.Join(workDir, ".tmp", "images")
	entries, err := os.ReadDir(tempBase)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	// The abort must release the temp images even though the stream is
	// still open.
	require.NoError(t, c.AbortSession("sess-1"))

	entries, err = os.ReadDir(tempBase)
	require.NoError(t, err)
	assert.Empty(t, entries)

	stream.closeOnce.Do(func() { close(stream.msgs) })
	require.NoError(t, <-done)
}

func TestAbortUnknownSession(t *testing.T) {
	c := newTestCoordinator(&fakeEngine{})

	assert.ErrorIs(t, c.AbortSession("missing"), ErrSessionNotFound)
}

func TestSetLimits(t *testing.T) {
	c := newTestCoordinator(&fakeEngine{})

	c.SetLimits(Limits{ApprovalTimeout: 5 * time.Second, TokenBudget: 200000})

	limits := c.Limits()
	assert.Equal(t, 5*time.Second, limits.ApprovalTimeout)
	assert.Equal(t, 200000, limits.TokenBudget)
}
