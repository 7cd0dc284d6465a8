package cti

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/95ykf/PhoneBar/internal/domain"
	"github.com/95ykf/PhoneBar/internal/event"
	"github.com/95ykf/PhoneBar/internal/notify"
)

// TopicLinkDisconnected is published when the server forcibly drops the
// session because the agent signed in elsewhere.
const TopicLinkDisconnected = "linkDisconnected"

// Topic names the bus topic an inbound event is re-published under.
func Topic(messageID int) string {
	return strconv.Itoa(messageID)
}

// Transport is the duplex channel a session runs over. Implemented by
// ws.Client; tests substitute an in-memory fake.
type Transport interface {
	Open() error
	Close() error
	Send(v any) error
	IsOpen() bool
}

const (
	DefaultKeepAliveInterval = 20 * time.Second
	DefaultLoginTimeout      = 20 * time.Second
)

// Session drives the CTI signaling dialogue over a durable transport:
// the login handshake with its bounded timeout, the keep-alive ping
// cycle, and the inbound dispatch that updates the agent and line pool
// and re-publishes every event on the bus keyed by its message id.
type Session struct {
	agent       *domain.Agent
	agentConfig *domain.AgentConfig
	pool        *domain.LinePool
	bus         *event.Bus
	logger      zerolog.Logger
	notifyUser  domain.Notifier
	status      *notify.StatusClient

	keepAliveInterval time.Duration
	loginTimeout      time.Duration

	transport Transport

	mutex         sync.Mutex
	loggedIn      bool
	loginTimer    *time.Timer
	keepAliveStop chan struct{}
}

type SessionConfig struct {
	Agent       *domain.Agent
	AgentConfig *domain.AgentConfig
	Pool        *domain.LinePool
	Bus         *event.Bus
	Logger      zerolog.Logger
	Notify      domain.Notifier
	Status      *notify.StatusClient

	KeepAliveInterval time.Duration
	LoginTimeout      time.Duration
}

func NewSession(config SessionConfig) *Session {
	if config.KeepAliveInterval <= 0 {
		config.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if config.LoginTimeout <= 0 {
		config.LoginTimeout = DefaultLoginTimeout
	}
	notifyUser := config.Notify
	if notifyUser == nil {
		notifyUser = func(msg string) {
			config.Logger.Warn().Msg(msg)
		}
	}
	return &Session{
		agent:             config.Agent,
		agentConfig:       config.AgentConfig,
		pool:              config.Pool,
		bus:               config.Bus,
		logger:            config.Logger,
		notifyUser:        notifyUser,
		status:            config.Status,
		keepAliveInterval: config.KeepAliveInterval,
		loginTimeout:      config.LoginTimeout,
	}
}

// SetTransport binds the durable transport the session sends through.
// Must be called before Open.
func (s *Session) SetTransport(t Transport) {
	s.transport = t
}

func (s *Session) Open() error {
	return s.transport.Open()
}

// Close stops the keep-alive cycle and tears the transport down.
func (s *Session) Close() error {
	s.stopKeepAlive()
	if s.transport.IsOpen() {
		return s.transport.Close()
	}
	return nil
}

func (s *Session) LoggedIn() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.loggedIn
}

// HandleOpen runs on every successful transport connect. It starts the
// keep-alive cycle, arms the optional auto-ready-after-login check, and
// solicits the server's welcome event.
func (s *Session) HandleOpen() {
	s.startKeepAlive(false)

	// The server answers a ready request within about five seconds of
	// login, so the auto-ready check waits that long before looking.
	if s.agentConfig.AutoReadyOnLogin() {
		time.AfterFunc(5*time.Second, func() {
			if s.transport.IsOpen() && s.LoggedIn() &&
				s.agent.DeviceState() == domain.DeviceRegistered &&
				s.agent.State() == domain.AgentBusy {
				s.Send(Request{
					MessageID: MsgAgentReady,
					ThisDN:    s.agent.ThisDN,
					AgentID:   s.agent.AgentID,
				})
			}
		})
	}

	if err := s.transport.Send(Frame{Type: FrameWelcome}); err != nil {
		s.logger.Error().Err(err).Msg("Failed to send welcome frame")
	}
}

// HandleClose runs when the transport drops; the transport reconnects on
// its own and HandleOpen restarts the cycle.
func (s *Session) HandleClose() {
	s.stopKeepAlive()
}

// login answers the server's welcome. The first login carries the full
// queue assignment; once logged in a lightweight ping-login refreshes the
// session instead. A timeout warning fires if no login ack arrives.
func (s *Session) login() {
	s.mutex.Lock()
	if s.loginTimer != nil {
		s.loginTimer.Stop()
	}
	s.loginTimer = time.AfterFunc(s.loginTimeout, func() {
		if !s.agentConfig.PhoneTakeAlong() {
			s.notifyUser("The server is responding slowly and the softphone did not finish loading, please refresh and retry")
		}
	})
	loggedIn := s.loggedIn
	s.mutex.Unlock()

	var payload any
	if loggedIn {
		payload = map[string]string{
			"type":      FramePing,
			"thisDN":    s.agent.ThisDN,
			"agentID":   s.agent.AgentID,
			"messageId": "",
		}
	} else {
		payload = Request{
			MessageID:    MsgAgentLogin,
			ThisDN:       s.agent.ThisDN,
			AgentID:      s.agent.AgentID,
			ThisQueues:   s.agent.ThisQueues,
			DefaultQueue: s.agent.DefaultQueue,
		}
	}

	message, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to marshal login payload")
		return
	}
	if err := s.transport.Send(Frame{
		Type:    FrameLogin,
		ThisDN:  s.agent.ThisDN,
		AgentID: s.agent.AgentID,
		Message: string(message),
	}); err != nil {
		s.logger.Error().Err(err).Msg("Failed to send login frame")
	}
}

// Send wraps a request into the outer frame and pushes it through the
// transport. Returns false, with a user warning, when the link is down.
func (s *Session) Send(data Request) bool {
	if !s.transport.IsOpen() {
		s.notifyUser("Not connected to the CTI server")
		return false
	}

	message, err := json.Marshal(data)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to marshal request")
		return false
	}
	frame := Frame{
		Type:    FrameRequest,
		ThisDN:  s.agent.ThisDN,
		AgentID: s.agent.AgentID,
		Message: string(message),
	}

	s.logger.Debug().
		Int("message_id", data.MessageID).
		RawJSON("request", message).
		Msg("Sending CTI request")

	return s.transport.Send(frame) == nil
}

// Ping sends one keep-alive frame if the link is up.
func (s *Session) Ping() {
	if s.transport.IsOpen() {
		if err := s.transport.Send(Frame{
			Type:    FramePing,
			ThisDN:  s.agent.ThisDN,
			AgentID: s.agent.AgentID,
		}); err != nil {
			s.logger.Error().Err(err).Msg("Failed to send ping")
		}
	}
}

// HandleMessage classifies one inbound frame, updates the agent and line
// pool, and re-publishes the event on the bus. Runs on the transport's
// single read goroutine, so frames are processed strictly in order.
func (s *Session) HandleMessage(data []byte) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		s.logger.Error().Err(err).Str("data", string(data)).Msg("Failed to unmarshal event")
		return
	}

	if ev.MessageID != EventWelcome && ev.MessageID != EventPong {
		s.logger.Debug().RawJSON("event", data).Msg("Received CTI event")
	}

	if ev.MessageID == EventWelcome {
		s.login()
	}
	if ev.MessageID == EventAgentLogin {
		s.mutex.Lock()
		if s.loginTimer != nil {
			s.loginTimer.Stop()
			s.loginTimer = nil
		}
		s.loggedIn = true
		s.mutex.Unlock()
	}
	// A ready event before login means the server believes somebody is
	// signed in on this DN; force a logout and drop the event.
	if !s.LoggedIn() && ev.MessageID == EventAgentReady {
		s.Send(Request{
			MessageID: MsgAgentLogout,
			ThisDN:    s.agent.ThisDN,
			AgentID:   s.agent.AgentID,
		})
		s.notifyUser("Unexpected ready event, automatic logout requested")
		return
	}

	s.bus.Publish(Topic(ev.MessageID), &ev)

	switch ev.MessageID {
	case EventAgentLogin, EventAgentNotReady, EventAgentReady:
		// Talking and ringing are tracked by the line pool, and any agent
		// state event during a call is stale; skip those.
		if ev.ReasonCode != domain.ReasonTalking && ev.ReasonCode != domain.ReasonRinging &&
			s.pool.WorkingLineCount() == 0 {
			s.agent.SetState(domain.ConvertToLocalState(ev.State, ev.ReasonCode))
		}
		s.agent.SetDeviceState(ev.DeviceState)

	case EventAgentLogout:
		s.agent.SetState(domain.ConvertToLocalState(ev.State, ev.ReasonCode))
		s.agent.SetDeviceState(ev.DeviceState)
		s.mutex.Lock()
		s.loggedIn = false
		s.mutex.Unlock()
		if s.status != nil {
			go s.status.NotifyTakeAlong(ev.ThisDN)
		}

	case EventDialing, EventRinging, EventEstablished, EventReleased,
		EventHeld, EventRetrieved, EventAbandoned:
		s.pool.UpdateLineData(ev.CallEvent(lineEventKinds[ev.MessageID]))

	case EventError:
		s.notifyUser(ev.ErrorMessage)

	case EventLinkDisconnected:
		if ev.Reason == ReasonLoggedInElsewhere {
			s.notifyUser("This agent has signed in from another location, please exit")
			time.AfterFunc(3*time.Second, func() {
				s.bus.Publish(TopicLinkDisconnected, &ev)
			})
		} else {
			s.notifyUser("The connection to the server was lost")
		}
	}
}

func (s *Session) startKeepAlive(immediate bool) {
	s.mutex.Lock()
	if s.keepAliveStop != nil {
		close(s.keepAliveStop)
		s.keepAliveStop = nil
	}
	if !s.transport.IsOpen() {
		s.mutex.Unlock()
		return
	}
	stop := make(chan struct{})
	s.keepAliveStop = stop
	s.mutex.Unlock()

	if immediate {
		s.Ping()
	}

	go func() {
		ticker := time.NewTicker(s.keepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if !s.transport.IsOpen() {
					s.stopKeepAlive()
					return
				}
				s.Ping()
			}
		}
	}()
}

func (s *Session) stopKeepAlive() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.keepAliveStop != nil {
		close(s.keepAliveStop)
		s.keepAliveStop = nil
	}
}
