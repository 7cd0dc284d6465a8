package cti

import (
	"encoding/json"

	"github.com/95ykf/PhoneBar/internal/domain"
)

// Outer transport frame types.
const (
	FrameLogin   = "login"
	FrameRequest = "request"
	FramePing    = "ping"
	FrameWelcome = "welcome"
)

// Request message ids.
const (
	MsgAgentLogin         = 100
	MsgAgentReady         = 101
	MsgAgentNotReady      = 102
	MsgAgentLogout        = 103
	MsgMakeCall           = 200
	MsgAnswerCall         = 201
	MsgReleaseCall        = 203
	MsgHoldCall           = 204
	MsgSingleStepTransfer = 215
	MsgRetrieveCall       = 217
	MsgConsult            = 221
	MsgCompleteTransfer   = 223
	MsgThreeWayCall       = 225
	MsgReleaseThreeWay    = 226
	MsgSendDTMF           = 250
	MsgUnsubscribe        = 263
	MsgMonitorCall        = 265
	MsgStartMonitoring    = 266
	MsgStopMonitoring     = 267
	MsgMonitorAgentList   = 268
)

// Inbound event message ids.
const (
	EventWelcome             = 400
	EventPong                = 401
	EventAgentLogin          = 500
	EventAgentLogout         = 502
	EventRinging             = 503
	EventDialing             = 505
	EventEstablished         = 506
	EventAgentReady          = 507
	EventAgentNotReady       = 508
	EventHeld                = 509
	EventRetrieved           = 510
	EventReleased            = 515
	EventAbandoned           = 516
	EventThreeWayEstablished = 520
	EventThreeWayReleased    = 521
	EventError               = 530
	EventLinkDisconnected    = 531
	EventTransferMenuList    = 540
	EventConferenceMenuList  = 541
	EventAutoReadyConfig     = 542
)

// Link-disconnect reason: the agent signed in from another location.
const ReasonLoggedInElsewhere = 1

// Frame is the outer envelope every message crosses the transport in.
// Message is either empty or a JSON-encoded inner payload.
type Frame struct {
	Type    string `json:"type"`
	ThisDN  string `json:"thisDN"`
	AgentID string `json:"agentID"`
	Message string `json:"message"`
}

// Request is the inner payload of an outbound command.
type Request struct {
	MessageID     int               `json:"messageId"`
	ThisDN        string            `json:"thisDN,omitempty"`
	AgentID       string            `json:"agentID,omitempty"`
	CallID        string            `json:"callID,omitempty"`
	OtherDN       string            `json:"otherDN,omitempty"`
	ConsultCallID string            `json:"consultCallID,omitempty"`
	PhoneNumber   string            `json:"phoneNumber,omitempty"`
	ReasonCode    *int              `json:"reasonCode,omitempty"`
	DTMFDigit     string            `json:"dtmfDigit,omitempty"`
	Whisper       string            `json:"whisper,omitempty"`
	AgentDNS      []string          `json:"agentDNS,omitempty"`
	ThisQueues    []string          `json:"thisQueues,omitempty"`
	DefaultQueue  string            `json:"defaultQueue,omitempty"`
	ThisQueue     string            `json:"thisQueue,omitempty"`
	AttachDatas   map[string]any    `json:"attachDatas,omitempty"`
	PBXParams     map[string]string `json:"pbxParams,omitempty"`
}

// Event is the inner payload of an inbound server notification. MessageID
// selects the handling branch; the remaining fields are populated per
// event kind.
type Event struct {
	MessageID   int                  `json:"messageId"`
	State       domain.RawAgentState `json:"state"`
	ReasonCode  int                  `json:"reasonCode"`
	DeviceState domain.DeviceState   `json:"deviceState"`
	ThisDN      string               `json:"thisDN"`
	AgentID     string               `json:"agentID"`

	CallID       string          `json:"callID"`
	CallType     domain.CallType `json:"callType"`
	OtherDN      string          `json:"otherDN"`
	AttachDatas  map[string]any  `json:"attachDatas"`
	CreationTime int64           `json:"creationTime"`
	ThisQueue    string          `json:"thisQueue"`
	DNIS         string          `json:"dnis"`
	AUUID        string          `json:"auuid"`
	CityCode     string          `json:"cityCode"`

	PartyState int    `json:"partyState"`
	ThisRole   int    `json:"thisRole"`
	OtherRole  int    `json:"otherRole"`
	SendBy     string `json:"sendBy"`
	ThirdDN    string `json:"thirdDN"`

	ErrorMessage string          `json:"errorMessage"`
	Reason       int             `json:"reason"`
	MenuList     json.RawMessage `json:"menuList"`

	AutoSavePopup    *bool `json:"autoSavePopup"`
	MaxAfterworkTime int   `json:"maxAfterworkTime"`
}

// lineEventKinds maps voice event ids onto the pool's transition kinds.
var lineEventKinds = map[int]domain.LineEventKind{
	EventDialing:     domain.LineEventDialing,
	EventRinging:     domain.LineEventRinging,
	EventEstablished: domain.LineEventEstablished,
	EventReleased:    domain.LineEventReleased,
	EventHeld:        domain.LineEventHeld,
	EventRetrieved:   domain.LineEventRetrieved,
	EventAbandoned:   domain.LineEventAbandoned,
}

// CallEvent converts a voice event into the pool's input form.
func (e *Event) CallEvent(kind domain.LineEventKind) domain.CallEvent {
	return domain.CallEvent{
		Kind:         kind,
		CallID:       e.CallID,
		CallType:     e.CallType,
		OtherDN:      e.OtherDN,
		AttachDatas:  e.AttachDatas,
		CreationTime: e.CreationTime,
		ThisQueue:    e.ThisQueue,
		DNIS:         e.DNIS,
		AUUID:        e.AUUID,
		CityCode:     e.CityCode,
		PartyState:   e.PartyState,
		ThisRole:     e.ThisRole,
		OtherRole:    e.OtherRole,
		SendBy:       e.SendBy,
		ThirdDN:      e.ThirdDN,
	}
}
