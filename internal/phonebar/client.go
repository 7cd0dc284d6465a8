package phonebar

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/95ykf/PhoneBar/internal/config"
	"github.com/95ykf/PhoneBar/internal/cti"
	"github.com/95ykf/PhoneBar/internal/domain"
	"github.com/95ykf/PhoneBar/internal/event"
	"github.com/95ykf/PhoneBar/internal/notify"
	"github.com/95ykf/PhoneBar/internal/softphone"
	"github.com/95ykf/PhoneBar/internal/ws"
)

// Call lifecycle topics published for embedding applications. Payload is
// the domain.LineDataChange that triggered the notification.
const (
	TopicScreenPopup = "screenPopup"
	TopicRinging     = "ringing"
	TopicTalking     = "talking"
	TopicHangup      = "hangup"
)

// ThreeWayParty is one remote participant of a running conference.
type ThreeWayParty struct {
	PhoneNumber string
	CallID      string
}

// Client assembles the whole agent desktop engine: agent and line state,
// the CTI session over its reconnecting transport, the command API, and
// optionally the local softphone bootstrap. Embedders subscribe to the
// bus for call lifecycle and state-change notifications.
type Client struct {
	cfg    *config.Config
	logger zerolog.Logger

	bus         *event.Bus
	agent       *domain.Agent
	agentConfig *domain.AgentConfig
	pool        *domain.LinePool
	session     *cti.Session
	api         *cti.AgentAPI
	softphone   *softphone.Client

	notifyUser domain.Notifier

	mutex           sync.Mutex
	threeWayParties []ThreeWayParty
	transferMenu    json.RawMessage
	conferenceMenu  json.RawMessage
}

// New builds a fully wired client from configuration. Notify carries
// user-facing warnings; nil falls back to warn-level logging.
func New(cfg *config.Config, logger zerolog.Logger, notifyUser domain.Notifier) *Client {
	if notifyUser == nil {
		notifyUser = func(msg string) {
			logger.Warn().Msg(msg)
		}
	}

	bus := event.NewBus(logger)

	agentConfig := domain.NewAgentConfig(domain.AgentConfigParams{
		TipTime:          cfg.Behavior.TipTimeMinutes,
		MaxAfterWorkTime: cfg.Behavior.MaxAfterWorkSeconds,
		AutoReadyOnLogin: cfg.Behavior.AutoReadyOnLogin,
		PhoneTakeAlong:   cfg.Behavior.PhoneTakeAlong,
		WorkPhone:        cfg.Behavior.WorkPhone,
		AutoAnswer:       cfg.Behavior.AutoAnswer,
		Bus:              bus,
	})

	agent := domain.NewAgent(domain.AgentParams{
		TID:          cfg.Agent.TID,
		ThisDN:       cfg.Agent.ThisDN,
		PSTNDN:       cfg.Agent.PSTNDN,
		AgentID:      cfg.Agent.AgentID,
		ThisQueues:   cfg.Agent.ThisQueues,
		DefaultQueue: cfg.Agent.DefaultQueue,
		Bus:          bus,
		Notify:       notifyUser,
	})

	pool := domain.NewLinePool(cfg.CTI.MaxLines, bus)

	session := cti.NewSession(cti.SessionConfig{
		Agent:             agent,
		AgentConfig:       agentConfig,
		Pool:              pool,
		Bus:               bus,
		Logger:            logger,
		Notify:            notifyUser,
		Status:            notify.NewStatusClient(cfg.Status.BaseURL, logger),
		KeepAliveInterval: cfg.CTI.KeepAliveInterval,
		LoginTimeout:      cfg.CTI.LoginTimeout,
	})
	session.SetTransport(ws.NewClient(ws.ClientConfig{
		URL:       cfg.CTI.WSURL,
		Logger:    logger,
		OnOpen:    session.HandleOpen,
		OnMessage: session.HandleMessage,
		OnClose:   session.HandleClose,
	}))

	api := cti.NewAgentAPI(cti.AgentAPIConfig{
		Agent:       agent,
		AgentConfig: agentConfig,
		Pool:        pool,
		Session:     session,
		Notify:      notifyUser,
		Logger:      logger,
	})

	c := &Client{
		cfg:         cfg,
		logger:      logger,
		bus:         bus,
		agent:       agent,
		agentConfig: agentConfig,
		pool:        pool,
		session:     session,
		api:         api,
		notifyUser:  notifyUser,
	}

	if cfg.Softphone.Enabled {
		c.softphone = softphone.NewClient(softphone.ClientConfig{
			Endpoints: cfg.Softphone.Endpoints,
			ServerURL: cfg.Softphone.ServerURL,
			Username:  cfg.Softphone.Username,
			Password:  cfg.Softphone.Password,
			Bus:       bus,
			Logger:    logger,
			Notify:    notifyUser,
		})
	}

	c.registerHandlers()
	return c
}

// Start opens the signaling channel. With the softphone enabled, the CTI
// session waits for the phone's registration before connecting, so the
// agent never signs in without audio.
func (c *Client) Start() error {
	if c.softphone != nil {
		c.bus.Subscribe(softphone.TopicLoginSuccess, func(any) {
			if err := c.session.Open(); err != nil {
				c.logger.Error().Err(err).Msg("Failed to open CTI session")
			}
		})
		return c.softphone.Open()
	}
	return c.session.Open()
}

// Destroy signs the agent out and closes every channel.
func (c *Client) Destroy() {
	c.api.AgentLogout()
	if err := c.session.Close(); err != nil {
		c.logger.Error().Err(err).Msg("Failed to close CTI session")
	}
	if c.softphone != nil {
		c.softphone.Close()
	}
}

func (c *Client) Agent() *domain.Agent             { return c.agent }
func (c *Client) AgentConfig() *domain.AgentConfig { return c.agentConfig }
func (c *Client) Pool() *domain.LinePool           { return c.pool }
func (c *Client) API() *cti.AgentAPI               { return c.api }
func (c *Client) Session() *cti.Session            { return c.session }
func (c *Client) Bus() *event.Bus                  { return c.bus }
func (c *Client) Softphone() *softphone.Client     { return c.softphone }

// ThreeWayParties returns the remote participants of the running
// conference, if any.
func (c *Client) ThreeWayParties() []ThreeWayParty {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	parties := make([]ThreeWayParty, len(c.threeWayParties))
	copy(parties, c.threeWayParties)
	return parties
}

// TransferMenu returns the server-pushed transfer target roster.
func (c *Client) TransferMenu() json.RawMessage {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.transferMenu
}

// ConferenceMenu returns the server-pushed conference target roster.
func (c *Client) ConferenceMenu() json.RawMessage {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.conferenceMenu
}

// changeStateGuard rejects manual state switches while signed out or on a
// live call.
func (c *Client) changeStateGuard() bool {
	if c.agent.State() == domain.AgentOffline {
		c.notifyUser("Not signed in, the state cannot be changed")
		return false
	}
	if c.pool.WorkingLineCount() > 0 {
		c.notifyUser("A call is in progress, the state cannot be changed")
		return false
	}
	return true
}

func (c *Client) Login() bool {
	if c.pool.WorkingLineCount() > 0 {
		c.notifyUser("A call is in progress, the state cannot be changed")
		return false
	}
	return c.api.AgentLogin()
}

func (c *Client) Logout() bool {
	if c.pool.WorkingLineCount() > 0 {
		c.notifyUser("A call is in progress, the state cannot be changed")
		return false
	}
	return c.api.AgentLogout()
}

func (c *Client) Ready() bool {
	return c.changeStateGuard() && c.api.AgentReady()
}

func (c *Client) Busy() bool {
	return c.changeStateGuard() && c.api.AgentNotReady(domain.ReasonBusy)
}

func (c *Client) Rest() bool {
	return c.changeStateGuard() && c.api.AgentNotReady(domain.ReasonResting)
}

// MakeCall dials a number with the default correlation metadata. A bare
// 4-digit extension is qualified with the tenant id; a 9-digit number
// starting with '1' is treated as an internal agent destination.
func (c *Client) MakeCall(phoneNumber string) bool {
	if len(phoneNumber) == 4 && c.agent.TID != "0" {
		phoneNumber = c.agent.TID + phoneNumber
	}
	callType := domain.CallOutbound
	if len(phoneNumber) == 9 && phoneNumber[0] == '1' {
		callType = domain.CallInternal
	}
	return c.api.MakeCall(phoneNumber, cti.MakeCallOptions{
		ID:       -1,
		CallType: callType,
		Queue:    c.agent.DefaultQueue,
	})
}

func (c *Client) registerHandlers() {
	c.bus.Subscribe(cti.Topic(cti.EventThreeWayEstablished), func(payload any) {
		ev, ok := payload.(*cti.Event)
		if !ok {
			return
		}
		c.mutex.Lock()
		c.threeWayParties = append(c.threeWayParties, ThreeWayParty{
			PhoneNumber: ev.OtherDN,
			CallID:      ev.CallID,
		})
		c.mutex.Unlock()
	})

	c.bus.Subscribe(cti.Topic(cti.EventThreeWayReleased), func(payload any) {
		ev, ok := payload.(*cti.Event)
		if !ok {
			return
		}
		c.mutex.Lock()
		parties := c.threeWayParties[:0]
		for _, p := range c.threeWayParties {
			if p.PhoneNumber != ev.OtherDN {
				parties = append(parties, p)
			}
		}
		c.threeWayParties = parties
		c.mutex.Unlock()
		c.notifyUser(fmt.Sprintf("%s has left the conference", ev.OtherDN))
	})

	c.bus.Subscribe(cti.Topic(cti.EventTransferMenuList), func(payload any) {
		if ev, ok := payload.(*cti.Event); ok {
			c.mutex.Lock()
			c.transferMenu = ev.MenuList
			c.mutex.Unlock()
		}
	})

	c.bus.Subscribe(cti.Topic(cti.EventConferenceMenuList), func(payload any) {
		if ev, ok := payload.(*cti.Event); ok {
			c.mutex.Lock()
			c.conferenceMenu = ev.MenuList
			c.mutex.Unlock()
		}
	})

	c.bus.Subscribe(cti.Topic(cti.EventAutoReadyConfig), c.onAutoReadyConfig)
	c.bus.Subscribe(domain.TopicLineDataChange, c.onLineDataChange)

	c.agent.SetTickFunc(c.onStateTimerTick)
}

// onAutoReadyConfig reconciles the tenant's wrap-up auto-ready policy with
// the local preference. The local setting wins when present; a tenant with
// the feature disabled zeroes the wrap-up bound either way.
func (c *Client) onAutoReadyConfig(payload any) {
	ev, ok := payload.(*cti.Event)
	if !ok {
		return
	}
	enabled, configured := c.agentConfig.AutoReadyAfterWork()
	if !configured {
		if ev.AutoSavePopup != nil {
			c.agentConfig.SetAutoReadyAfterWork(*ev.AutoSavePopup)
			enabled = *ev.AutoSavePopup
		}
	}
	if enabled {
		if ev.MaxAfterworkTime == 0 {
			c.notifyUser("Automatic ready is not enabled for this tenant, contact the administrator to turn it on")
		} else {
			c.agentConfig.SetMaxAfterWorkTime(ev.MaxAfterworkTime)
		}
	} else {
		c.agentConfig.SetMaxAfterWorkTime(0)
	}
}

// onStateTimerTick drives the long-state reminder and the bounded wrap-up
// auto-ready off the agent's state timer.
func (c *Client) onStateTimerTick(seconds int, formatted string) {
	tipTime := c.agentConfig.TipTime()
	if tipTime > 0 && seconds > 0 && seconds%(tipTime*60) == 0 && c.agent.State() != domain.AgentBusy {
		c.notifyUser(fmt.Sprintf("You have been in the %q state for %s",
			c.agent.StateName(), c.agent.StateTimer.Format("h ", "m ", "s")))
	}

	maxAfterWork := c.agentConfig.MaxAfterWorkTime()
	if maxAfterWork > 0 && seconds >= maxAfterWork && (seconds-maxAfterWork)%3 == 0 {
		// A fresh outbound call during wrap-up keeps the agent in the
		// neatening state, so only go ready when no line is working.
		if c.agent.State() == domain.AgentNeatening && c.pool.WorkingLineCount() == 0 {
			c.api.AgentReady()
		}
	}
}

// onLineDataChange reacts to line pool transitions: tracks the agent's
// call-following states, publishes the lifecycle topics for the embedding
// application, and handles two-step-transfer party signaling.
func (c *Client) onLineDataChange(payload any) {
	change, ok := payload.(domain.LineDataChange)
	if !ok {
		return
	}
	line, info, raw := change.Line, change.Info, change.Raw

	if c.pool.CurrentLineID() == line.ID {
		switch line.LineState {
		case domain.LineIdle:
			c.api.AgentNotReady(domain.ReasonNeatening)
			c.bus.Publish(TopicHangup, change)
		case domain.LineDialing, domain.LineRinging:
			c.agent.SetState(domain.AgentRinging)
			c.bus.Publish(TopicRinging, change)
		case domain.LineTalking:
			c.agent.SetState(domain.AgentTalking)
			c.bus.Publish(TopicTalking, change)
		}
	}

	// Two-step transfer: the consulted party hung up before the transfer
	// completed.
	if info.CallType == domain.CallConsult &&
		line.LineState == domain.LineIdle && info.PhoneNumber == raw.SendBy && raw.ThirdDN == raw.SendBy {
		if len(raw.SendBy) == 9 {
			c.notifyUser(fmt.Sprintf("Agent %s has hung up", raw.SendBy))
		} else {
			c.notifyUser(fmt.Sprintf("Outside line %s has hung up", raw.SendBy))
		}
	}

	// Two-step transfer: the customer hung up while the consult leg is
	// still alive. Promote the consult line so follow-up actions land on it.
	if line.LineState == domain.LineIdle && c.pool.ExistsByCallType(domain.CallConsult) &&
		(info.CallType == domain.CallInbound || info.CallType == domain.CallOutbound) &&
		info.PhoneNumber == raw.SendBy && raw.ThirdDN != "" {
		if consult := c.pool.ConsultLine(); consult != nil {
			c.pool.SetCurrentLineID(consult.ID)
		}
	}

	// Screen pop: suppressed for silent-monitor legs, internal calls, and
	// third-party transfer legs.
	if raw.ThisRole != 5 && info.CallType != domain.CallInternal &&
		raw.AttachDatas["variable_thirdPartyRole"] == nil {
		c.bus.Publish(TopicScreenPopup, change)
	}
}
