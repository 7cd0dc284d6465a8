package cti

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/95ykf/PhoneBar/internal/domain"
	"github.com/95ykf/PhoneBar/internal/event"
)

// fakeTransport records frames in memory in place of the websocket.
type fakeTransport struct {
	mu     sync.Mutex
	opened bool
	frames []Frame
}

func (t *fakeTransport) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opened = true
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opened = false
	return nil
}

func (t *fakeTransport) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opened
}

func (t *fakeTransport) Send(v any) error {
	frame, ok := v.(Frame)
	if !ok {
		return fmt.Errorf("unexpected frame type %T", v)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frames = append(t.frames, frame)
	return nil
}

func (t *fakeTransport) sent() []Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	frames := make([]Frame, len(t.frames))
	copy(frames, t.frames)
	return frames
}

// requests decodes the inner payload of every request-typed frame.
func (t *fakeTransport) requests(tb testing.TB) []Request {
	tb.Helper()
	var out []Request
	for _, frame := range t.sent() {
		if frame.Type != FrameRequest {
			continue
		}
		var req Request
		require.NoError(tb, json.Unmarshal([]byte(frame.Message), &req))
		out = append(out, req)
	}
	return out
}

type sessionFixture struct {
	session     *Session
	transport   *fakeTransport
	agent       *domain.Agent
	agentConfig *domain.AgentConfig
	pool        *domain.LinePool
	bus         *event.Bus

	mu    sync.Mutex
	notes []string
}

func (f *sessionFixture) notifications() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	notes := make([]string, len(f.notes))
	copy(notes, f.notes)
	return notes
}

func newSessionFixture(t *testing.T, config SessionConfig) *sessionFixture {
	t.Helper()
	f := &sessionFixture{
		transport: &fakeTransport{},
		bus:       event.NewBus(zerolog.Nop()),
	}
	notify := func(msg string) {
		f.mu.Lock()
		f.notes = append(f.notes, msg)
		f.mu.Unlock()
	}
	f.agentConfig = domain.NewAgentConfig(domain.AgentConfigParams{Bus: f.bus})
	f.agent = domain.NewAgent(domain.AgentParams{
		TID:          "5",
		ThisDN:       "100018001",
		AgentID:      "8001",
		ThisQueues:   []string{"100018000"},
		DefaultQueue: "100018000",
		Bus:          f.bus,
		Notify:       notify,
	})
	t.Cleanup(func() { f.agent.StateTimer.Stop() })
	f.pool = domain.NewLinePool(domain.DefaultMaxLines, f.bus)

	config.Agent = f.agent
	config.AgentConfig = f.agentConfig
	config.Pool = f.pool
	config.Bus = f.bus
	config.Logger = zerolog.Nop()
	config.Notify = notify

	f.session = NewSession(config)
	f.session.SetTransport(f.transport)
	require.NoError(t, f.session.Open())
	t.Cleanup(func() { f.session.Close() })
	return f
}

func (f *sessionFixture) event(t *testing.T, ev map[string]any) {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	f.session.HandleMessage(data)
}

func TestSessionWelcomeTriggersLogin(t *testing.T) {
	f := newSessionFixture(t, SessionConfig{})

	f.event(t, map[string]any{"messageId": EventWelcome})

	frames := f.transport.sent()
	require.Len(t, frames, 1)
	assert.Equal(t, FrameLogin, frames[0].Type)
	assert.Equal(t, "100018001", frames[0].ThisDN)

	var req Request
	require.NoError(t, json.Unmarshal([]byte(frames[0].Message), &req))
	assert.Equal(t, MsgAgentLogin, req.MessageID)
	assert.Equal(t, []string{"100018000"}, req.ThisQueues)
	assert.Equal(t, "100018000", req.DefaultQueue)
}

func TestSessionWelcomeAfterLoginSendsPingLogin(t *testing.T) {
	f := newSessionFixture(t, SessionConfig{})

	f.event(t, map[string]any{"messageId": EventAgentLogin, "state": 2, "reasonCode": 3, "deviceState": 1})
	require.True(t, f.session.LoggedIn())

	f.event(t, map[string]any{"messageId": EventWelcome})

	frames := f.transport.sent()
	require.Len(t, frames, 1)
	assert.Equal(t, FrameLogin, frames[0].Type)
	assert.Contains(t, frames[0].Message, `"type":"ping"`)
	assert.NotContains(t, frames[0].Message, "thisQueues")
}

func TestSessionLoginTimeoutWarnsOnce(t *testing.T) {
	f := newSessionFixture(t, SessionConfig{LoginTimeout: 50 * time.Millisecond})

	f.event(t, map[string]any{"messageId": EventWelcome})
	time.Sleep(150 * time.Millisecond)

	warnings := 0
	for _, note := range f.notifications() {
		if strings.Contains(note, "responding slowly") {
			warnings++
		}
	}
	assert.Equal(t, 1, warnings)
}

func TestSessionLoginTimeoutSuppressedByTakeAlong(t *testing.T) {
	f := newSessionFixture(t, SessionConfig{LoginTimeout: 50 * time.Millisecond})
	f.agentConfig.SetPhoneTakeAlong(true)

	f.event(t, map[string]any{"messageId": EventWelcome})
	time.Sleep(150 * time.Millisecond)

	for _, note := range f.notifications() {
		assert.NotContains(t, note, "responding slowly")
	}
}

func TestSessionLoginTimeoutCancelledByLoginEvent(t *testing.T) {
	f := newSessionFixture(t, SessionConfig{LoginTimeout: 80 * time.Millisecond})

	f.event(t, map[string]any{"messageId": EventWelcome})
	f.event(t, map[string]any{"messageId": EventAgentLogin, "state": 2, "reasonCode": 3, "deviceState": 1})
	time.Sleep(150 * time.Millisecond)

	for _, note := range f.notifications() {
		assert.NotContains(t, note, "responding slowly")
	}
}

func TestSessionAgentLoginUpdatesState(t *testing.T) {
	f := newSessionFixture(t, SessionConfig{})

	f.event(t, map[string]any{"messageId": EventAgentLogin, "state": 2, "reasonCode": 3, "deviceState": 1})

	assert.True(t, f.session.LoggedIn())
	assert.Equal(t, domain.AgentBusy, f.agent.State())
	assert.Equal(t, domain.DeviceRegistered, f.agent.DeviceState())
}

func TestSessionAgentStateSkippedDuringCallActivity(t *testing.T) {
	f := newSessionFixture(t, SessionConfig{})
	f.event(t, map[string]any{"messageId": EventAgentLogin, "state": 2, "reasonCode": 3, "deviceState": 1})

	// Reason talking is owned by the line pool; logical state must not move.
	f.event(t, map[string]any{"messageId": EventAgentNotReady, "state": 2, "reasonCode": 1, "deviceState": 1})
	assert.Equal(t, domain.AgentBusy, f.agent.State())

	// A working line blocks state updates too.
	f.event(t, map[string]any{"messageId": EventEstablished, "callID": "c1", "callType": 2, "otherDN": "13800000000"})
	f.event(t, map[string]any{"messageId": EventAgentReady, "state": 1, "deviceState": 1})
	assert.NotEqual(t, domain.AgentReady, f.agent.State())
}

func TestSessionAnomalousReadyForcesLogout(t *testing.T) {
	f := newSessionFixture(t, SessionConfig{})

	republished := false
	f.bus.Subscribe(Topic(EventAgentReady), func(any) { republished = true })

	f.event(t, map[string]any{"messageId": EventAgentReady, "state": 1, "deviceState": 1})

	reqs := f.transport.requests(t)
	require.Len(t, reqs, 1)
	assert.Equal(t, MsgAgentLogout, reqs[0].MessageID)
	assert.Equal(t, domain.AgentOffline, f.agent.State())
	assert.False(t, republished, "the dropped event must not reach the bus")
	assert.Contains(t, strings.Join(f.notifications(), "\n"), "automatic logout")
}

func TestSessionLogoutEventClearsSession(t *testing.T) {
	f := newSessionFixture(t, SessionConfig{})
	f.event(t, map[string]any{"messageId": EventAgentLogin, "state": 2, "reasonCode": 3, "deviceState": 1})

	f.event(t, map[string]any{"messageId": EventAgentLogout, "state": 0, "deviceState": 1})

	assert.False(t, f.session.LoggedIn())
	assert.Equal(t, domain.AgentOffline, f.agent.State())
}

func TestSessionVoiceEventsDriveLinePool(t *testing.T) {
	f := newSessionFixture(t, SessionConfig{})

	f.event(t, map[string]any{"messageId": EventRinging, "callID": "c1", "callType": 2, "otherDN": "13800000000"})
	assert.Equal(t, domain.LineRinging, f.pool.CurrentLine().LineState)

	f.event(t, map[string]any{"messageId": EventEstablished, "callID": "c1", "callType": 2, "otherDN": "13800000000"})
	assert.Equal(t, domain.LineTalking, f.pool.CurrentLine().LineState)

	f.event(t, map[string]any{"messageId": EventReleased, "callID": "c1"})
	assert.Equal(t, domain.LineIdle, f.pool.CurrentLine().LineState)
}

func TestSessionRepublishesEventsByMessageID(t *testing.T) {
	f := newSessionFixture(t, SessionConfig{})

	var got *Event
	f.bus.Subscribe(Topic(EventError), func(payload any) { got = payload.(*Event) })

	f.event(t, map[string]any{"messageId": EventError, "errorMessage": "target busy"})

	require.NotNil(t, got)
	assert.Equal(t, "target busy", got.ErrorMessage)
	assert.Contains(t, f.notifications(), "target busy")
}

func TestSessionKeepAlivePings(t *testing.T) {
	f := newSessionFixture(t, SessionConfig{KeepAliveInterval: 30 * time.Millisecond})

	f.session.HandleOpen()

	require.Eventually(t, func() bool {
		pings := 0
		for _, frame := range f.transport.sent() {
			if frame.Type == FramePing {
				pings++
			}
		}
		return pings >= 2
	}, 2*time.Second, 10*time.Millisecond)

	// The welcome solicitation goes out on open as well.
	assert.Equal(t, FrameWelcome, f.transport.sent()[0].Type)
}

func TestSessionKeepAliveStopsOnClose(t *testing.T) {
	f := newSessionFixture(t, SessionConfig{KeepAliveInterval: 20 * time.Millisecond})
	f.session.HandleOpen()
	require.NoError(t, f.session.Close())

	before := len(f.transport.sent())
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, before, len(f.transport.sent()))
}

func TestSessionSendWhileDisconnected(t *testing.T) {
	f := newSessionFixture(t, SessionConfig{})
	require.NoError(t, f.transport.Close())

	ok := f.session.Send(Request{MessageID: MsgAgentReady})
	assert.False(t, ok)
	assert.Contains(t, strings.Join(f.notifications(), "\n"), "Not connected")
}
