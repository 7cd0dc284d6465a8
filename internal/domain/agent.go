package domain

import (
	"sync"

	"github.com/95ykf/PhoneBar/internal/event"
)

// AgentState is the local, UI-facing agent state, collapsed from the
// server's (rawState, reasonCode) pair.
type AgentState string

const (
	AgentOffline   AgentState = "offline"
	AgentReady     AgentState = "ready"
	AgentBusy      AgentState = "busy"
	AgentResting   AgentState = "resting"
	AgentNeatening AgentState = "neatening"
	AgentTalking   AgentState = "talking"
	AgentRinging   AgentState = "ringing"
)

// RawAgentState is the server-side agent state carried in event payloads.
type RawAgentState int

const (
	RawStateOffline  RawAgentState = 0
	RawStateReady    RawAgentState = 1
	RawStateNotReady RawAgentState = 2
)

// Reason codes an agent attaches to a not-ready request.
const (
	ReasonUnknown           = -1
	ReasonNeatening         = 0
	ReasonTalking           = 1
	ReasonDeviceUnavailable = 2
	ReasonBusy              = 3
	ReasonWalkAway          = 4
	ReasonResting           = 5
	ReasonRinging           = 6
)

// DeviceState tracks whether the agent's SIP endpoint is registered.
type DeviceState int

const (
	DeviceUnregistered DeviceState = 0
	DeviceRegistered   DeviceState = 1
)

// Bus topics published by the domain models.
const (
	TopicAgentStateChange  = "agentStateChange"
	TopicDeviceStateChange = "deviceStateChange"
	TopicLineDataChange    = "lineDataChange"
	TopicAgentConfigChange = "agentConfigChange"
)

// AgentStateChange is the payload of TopicAgentStateChange.
type AgentStateChange struct {
	State    AgentState
	Previous AgentState
}

// Agent holds the agent's identity and logical/device state. State changes
// go through SetState, which restarts the state timer and publishes a
// change event only when the value actually changed.
type Agent struct {
	TID          string
	ThisDN       string
	PSTNDN       string
	AgentID      string
	ThisQueues   []string
	DefaultQueue string

	StateTimer *Timer

	mutex       sync.RWMutex
	state       AgentState
	deviceState DeviceState
	bus         *event.Bus
	notify      Notifier
}

type AgentParams struct {
	TID          string
	ThisDN       string
	PSTNDN       string
	AgentID      string
	ThisQueues   []string
	DefaultQueue string
	Bus          *event.Bus
	Notify       Notifier
}

func NewAgent(p AgentParams) *Agent {
	a := &Agent{
		TID:          p.TID,
		ThisDN:       p.ThisDN,
		PSTNDN:       p.PSTNDN,
		AgentID:      p.AgentID,
		ThisQueues:   p.ThisQueues,
		DefaultQueue: p.DefaultQueue,
		state:        AgentOffline,
		deviceState:  DeviceRegistered,
		bus:          p.Bus,
		notify:       p.Notify,
	}
	if a.notify == nil {
		a.notify = func(string) {}
	}
	a.StateTimer = NewTimer(nil).Start()
	return a
}

// SetTickFunc installs the state-timer tick callback.
func (a *Agent) SetTickFunc(onTick TickFunc) {
	a.StateTimer.SetTickFunc(onTick)
}

func (a *Agent) State() AgentState {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.state
}

func (a *Agent) DeviceState() DeviceState {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.deviceState
}

// SetState updates the logical state. Equal writes are no-ops: no event,
// no timer reset.
func (a *Agent) SetState(state AgentState) {
	a.mutex.Lock()
	if a.state == state {
		a.mutex.Unlock()
		return
	}
	previous := a.state
	a.state = state
	a.mutex.Unlock()

	a.StateTimer.Restart(0)
	if a.bus != nil {
		a.bus.Publish(TopicAgentStateChange, AgentStateChange{State: state, Previous: previous})
	}
}

// SetDeviceState updates the registration flag. An unregistered device
// always warns the user, even without a transition.
func (a *Agent) SetDeviceState(state DeviceState) {
	a.mutex.Lock()
	changed := a.deviceState != state
	a.deviceState = state
	a.mutex.Unlock()

	if state == DeviceUnregistered {
		a.notify("SIP phone is not registered, please sign in to the phone and refresh the agent state")
	} else if changed && state == DeviceRegistered {
		a.notify("SIP phone registered")
	}
	if changed && a.bus != nil {
		a.bus.Publish(TopicDeviceStateChange, state)
	}
}

// StateName returns the display name of the current state.
func (a *Agent) StateName() string {
	return StateName(a.State())
}

var stateNames = map[AgentState]string{
	AgentOffline:   "Offline",
	AgentReady:     "Ready",
	AgentBusy:      "Busy",
	AgentResting:   "Resting",
	AgentNeatening: "Wrap-up",
	AgentTalking:   "Talking",
	AgentRinging:   "Ringing",
}

func StateName(state AgentState) string {
	return stateNames[state]
}

var rawStates = map[AgentState]struct {
	Raw    RawAgentState
	Reason int
}{
	AgentOffline:   {RawStateOffline, ReasonUnknown},
	AgentReady:     {RawStateReady, ReasonUnknown},
	AgentBusy:      {RawStateNotReady, ReasonBusy},
	AgentResting:   {RawStateNotReady, ReasonResting},
	AgentNeatening: {RawStateNotReady, ReasonNeatening},
	AgentTalking:   {RawStateNotReady, ReasonTalking},
	AgentRinging:   {RawStateNotReady, ReasonRinging},
}

// ConvertToRawState maps a local state back to the server's (rawState,
// reasonCode) pair.
func ConvertToRawState(state AgentState) (RawAgentState, int) {
	rs, ok := rawStates[state]
	if !ok {
		return RawStateOffline, ReasonUnknown
	}
	return rs.Raw, rs.Reason
}

// ConvertToLocalState collapses a server (rawState, reasonCode) pair into
// a local state. Unknown not-ready reasons degrade to busy; unknown raw
// states degrade to offline.
func ConvertToLocalState(rawState RawAgentState, reasonCode int) AgentState {
	switch rawState {
	case RawStateNotReady:
		switch reasonCode {
		case ReasonNeatening:
			return AgentNeatening
		case ReasonTalking:
			return AgentTalking
		case ReasonBusy:
			return AgentBusy
		case ReasonResting:
			return AgentResting
		case ReasonRinging:
			return AgentRinging
		default:
			return AgentBusy
		}
	case RawStateReady:
		return AgentReady
	default:
		return AgentOffline
	}
}
