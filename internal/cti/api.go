package cti

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/95ykf/PhoneBar/internal/domain"
)

// CurrentLine selects the pool's current line for operations that accept
// an explicit line id.
const CurrentLine = -1

// AgentAPI exposes one operation per CTI action. Every operation validates
// its preconditions against the agent and line pool, surfaces a user
// message on failure, and otherwise builds the request and sends it
// through the session.
type AgentAPI struct {
	agent       *domain.Agent
	agentConfig *domain.AgentConfig
	pool        *domain.LinePool
	session     *Session
	notifyUser  domain.Notifier
	logger      zerolog.Logger
}

type AgentAPIConfig struct {
	Agent       *domain.Agent
	AgentConfig *domain.AgentConfig
	Pool        *domain.LinePool
	Session     *Session
	Notify      domain.Notifier
	Logger      zerolog.Logger
}

func NewAgentAPI(config AgentAPIConfig) *AgentAPI {
	notifyUser := config.Notify
	if notifyUser == nil {
		notifyUser = func(msg string) {
			config.Logger.Warn().Msg(msg)
		}
	}
	return &AgentAPI{
		agent:       config.Agent,
		agentConfig: config.AgentConfig,
		pool:        config.Pool,
		session:     config.Session,
		notifyUser:  notifyUser,
		logger:      config.Logger,
	}
}

// Unsubscribe drops the event subscription for this directory number.
func (a *AgentAPI) Unsubscribe() bool {
	return a.session.Send(Request{
		MessageID: MsgUnsubscribe,
		ThisDN:    a.agent.ThisDN,
	})
}

// AgentLogin signs the agent in with its full queue assignment. Suppressed
// while phone take-along is active, where the platform owns the session.
func (a *AgentAPI) AgentLogin() bool {
	if a.agentConfig.PhoneTakeAlong() {
		return false
	}
	return a.session.Send(Request{
		MessageID:  MsgAgentLogin,
		ThisDN:     a.agent.ThisDN,
		AgentID:    a.agent.AgentID,
		ThisQueues: a.agent.ThisQueues,
	})
}

func (a *AgentAPI) AgentLogout() bool {
	if a.agentConfig.PhoneTakeAlong() {
		return false
	}
	return a.session.Send(Request{
		MessageID: MsgAgentLogout,
		ThisDN:    a.agent.ThisDN,
		AgentID:   a.agent.AgentID,
	})
}

// AgentNotReady requests a not-ready state with the given reason. The
// call-activity reasons (talking, ringing) are owned by the switch and
// rejected here; any other reason is forwarded opaquely.
func (a *AgentAPI) AgentNotReady(reasonCode int) bool {
	if a.agentConfig.PhoneTakeAlong() ||
		reasonCode == domain.ReasonTalking || reasonCode == domain.ReasonRinging {
		return false
	}
	if a.agent.State() == domain.AgentOffline {
		a.notifyUser("Not signed in, the state cannot be changed")
		return false
	}
	return a.sendNotReady(reasonCode)
}

func (a *AgentAPI) sendNotReady(reasonCode int) bool {
	return a.session.Send(Request{
		MessageID:  MsgAgentNotReady,
		ThisDN:     a.agent.ThisDN,
		AgentID:    a.agent.AgentID,
		ReasonCode: &reasonCode,
	})
}

func (a *AgentAPI) AgentReady() bool {
	if a.agentConfig.PhoneTakeAlong() {
		return false
	}
	if a.agent.State() == domain.AgentOffline {
		a.notifyUser("Not signed in, the state cannot be changed")
		return false
	}
	return a.session.Send(Request{
		MessageID: MsgAgentReady,
		ThisDN:    a.agent.ThisDN,
		AgentID:   a.agent.AgentID,
	})
}

// MakeCallOptions carries the correlation metadata attached to a manual
// dial. Zero values are omitted from the request.
type MakeCallOptions struct {
	ID         int
	CallType   domain.CallType
	Module     string
	MemberUUID string
	Queue      string
	TransPara  string
	TaskID     string
	NumberID   string
}

// MakeCall places a manual outbound call after the full guard chain: the
// destination must be syntactically valid, the device registered, the
// agent signed in with no working line. A ready agent is implicitly moved
// to not-ready first, since call activity claims the agent.
func (a *AgentAPI) MakeCall(dest string, opts MakeCallOptions) bool {
	if dest == "" {
		a.notifyUser("The phone number must not be empty")
		return false
	}
	if len(dest) == 9 && dest[0] == '1' && !strings.HasPrefix(dest, a.agent.TID) {
		a.notifyUser("The phone number is not valid")
		return false
	}
	if a.agent.DeviceState() == domain.DeviceUnregistered {
		a.notifyUser("Please sign in to the SIP phone and refresh the agent state")
		return false
	}
	if a.agentConfig.PhoneTakeAlong() {
		a.notifyUser("Calls cannot be placed from the desktop while phone take-along is active")
		return false
	}
	if a.agent.State() == domain.AgentOffline {
		a.notifyUser("You are signed out, please sign in first")
		return false
	}
	if a.agent.State() == domain.AgentReady {
		a.sendNotReady(domain.ReasonTalking)
	}
	if a.pool.WorkingLineCount() != 0 {
		a.notifyUser("A call is already in progress")
		return false
	}

	dest, ok := a.validPhoneNumber(dest)
	if !ok {
		return false
	}

	attach := map[string]any{
		"id":          opts.ID,
		"type":        int(opts.CallType),
		"cti-agentID": a.agent.AgentID,
	}
	if opts.Module != "" {
		attach["module"] = opts.Module
	}
	if opts.MemberUUID != "" {
		attach["member_uuid"] = opts.MemberUUID
	}
	if opts.Queue != "" {
		attach["ocb_queue"] = opts.Queue
	}
	if opts.TransPara != "" {
		attach["trans_para"] = opts.TransPara
	}
	if opts.TaskID != "" {
		attach["task_id"] = opts.TaskID
	}
	if opts.NumberID != "" {
		attach["numberId"] = opts.NumberID
	}

	data := Request{
		MessageID:   MsgMakeCall,
		ThisDN:      a.agent.ThisDN,
		AgentID:     a.agent.AgentID,
		OtherDN:     dest,
		AttachDatas: attach,
		ThisQueue:   opts.Queue,
	}
	if a.agent.PSTNDN != "" {
		data.PBXParams = map[string]string{"dnis": a.agent.PSTNDN}
	}
	return a.session.Send(data)
}

// AnswerCall picks up the current line's ringing or dialing call.
func (a *AgentAPI) AnswerCall() bool {
	line := a.pool.CurrentLine()
	if line.LineState != domain.LineRinging && line.LineState != domain.LineDialing {
		a.notifyUser("There is no call to answer")
		return false
	}
	return a.session.Send(Request{
		MessageID: MsgAnswerCall,
		ThisDN:    a.agent.ThisDN,
		AgentID:   a.agent.AgentID,
		CallID:    line.CallID,
	})
}

// HoldCall parks the current line's active call.
func (a *AgentAPI) HoldCall() bool {
	line := a.pool.CurrentLine()
	if line.LineState != domain.LineTalking {
		a.notifyUser("The current line is not talking, nothing to hold")
		return false
	}
	return a.session.Send(Request{
		MessageID: MsgHoldCall,
		ThisDN:    a.agent.ThisDN,
		AgentID:   a.agent.AgentID,
		CallID:    line.CallID,
	})
}

// RetrieveCall reconnects the current line's held call. Every other
// working line is released first: retrieving a held call drops any
// competing leg.
func (a *AgentAPI) RetrieveCall() bool {
	line := a.pool.CurrentLine()
	if line.LineState != domain.LineHeld {
		a.notifyUser("The current line is not held, nothing to retrieve")
		return false
	}
	for _, other := range a.pool.Lines() {
		if other.ID != line.ID && other.LineState != domain.LineIdle {
			a.ReleaseCall(other.ID)
		}
	}
	return a.session.Send(Request{
		MessageID: MsgRetrieveCall,
		ThisDN:    a.agent.ThisDN,
		AgentID:   a.agent.AgentID,
		CallID:    line.CallID,
	})
}

// ReleaseCall hangs up the call on the given line; pass CurrentLine for
// the pool's current slot.
func (a *AgentAPI) ReleaseCall(lineID int) bool {
	if lineID < 0 {
		lineID = a.pool.CurrentLineID()
	}
	line := a.pool.Line(lineID)
	if line == nil {
		a.notifyUser("Invalid line id")
		return false
	}
	if line.LineState == domain.LineIdle {
		a.notifyUser("The current line has no call, nothing to release")
		return false
	}
	return a.session.Send(Request{
		MessageID: MsgReleaseCall,
		ThisDN:    a.agent.ThisDN,
		AgentID:   a.agent.AgentID,
		CallID:    line.CallID,
	})
}

// transferableCallTypes are the outward-facing call types a two-step or
// single-step transfer may start from.
var transferableCallTypes = map[domain.CallType]bool{
	domain.CallInbound:        true,
	domain.CallOutbound:       true,
	domain.CallOrderCallback:  true,
	domain.CallManualCallback: true,
	domain.CallPredict:        true,
	domain.CallPreview:        true,
}

// Consult starts a two-step transfer by dialing the target on a second
// line the server allocates; the current call is held by the switch.
func (a *AgentAPI) Consult(targetDN string) bool {
	line := a.pool.CurrentLine()
	if line.LineState == domain.LineTalking && transferableCallTypes[line.CallType] {
		targetDN, ok := a.validPhoneNumber(targetDN)
		if !ok {
			return false
		}
		return a.session.Send(Request{
			MessageID:   MsgConsult,
			ThisDN:      a.agent.ThisDN,
			AgentID:     a.agent.AgentID,
			CallID:      line.CallID,
			OtherDN:     targetDN,
			AttachDatas: map[string]any{"cti-agentID": a.agent.AgentID},
		})
	}
	if line.CallType != domain.CallInbound {
		a.notifyUser("The current line is not an inbound call and cannot be transferred")
	} else {
		a.notifyUser("The current line is not talking and cannot be transferred")
	}
	return false
}

// CompleteTransfer finishes a two-step transfer by joining the held
// current line with the consult leg.
func (a *AgentAPI) CompleteTransfer() bool {
	line := a.pool.CurrentLine()
	if line.LineState != domain.LineHeld {
		return false
	}
	consultLine := a.pool.ConsultLine()
	if consultLine == nil {
		return false
	}
	return a.session.Send(Request{
		MessageID:     MsgCompleteTransfer,
		ThisDN:        a.agent.ThisDN,
		AgentID:       a.agent.AgentID,
		CallID:        consultLine.CallID,
		ConsultCallID: line.CallID,
	})
}

// SingleStepTransfer moves the current call to the target in one step,
// carrying the line's remote number for screen-pop on the far end.
func (a *AgentAPI) SingleStepTransfer(targetDN string) bool {
	line := a.pool.CurrentLine()
	if line.LineState == domain.LineTalking && transferableCallTypes[line.CallType] {
		targetDN, ok := a.validPhoneNumber(targetDN)
		if !ok {
			return false
		}
		return a.session.Send(Request{
			MessageID:   MsgSingleStepTransfer,
			ThisDN:      a.agent.ThisDN,
			AgentID:     a.agent.AgentID,
			CallID:      line.CallID,
			OtherDN:     targetDN,
			PhoneNumber: line.PhoneNumber,
		})
	}
	if line.CallType != domain.CallInbound {
		a.notifyUser("The current line is not an inbound call and cannot be transferred")
	} else {
		a.notifyUser("The current line is not talking and cannot be transferred")
	}
	return false
}

// ThreeWayCall invites a third party into the current call. A bare
// 4-digit extension is qualified with the tenant id first.
func (a *AgentAPI) ThreeWayCall(phoneNumber string) bool {
	line := a.pool.CurrentLine()
	thisExten := a.agent.ThisDN
	if len(thisExten) > 5 {
		thisExten = thisExten[5:]
	}

	if len(phoneNumber) > 12 || len(phoneNumber) < 4 ||
		(len(phoneNumber) == 9 && phoneNumber[0] == '1' && !strings.HasPrefix(phoneNumber, a.agent.TID)) {
		a.notifyUser("The phone number is not valid")
		return false
	}
	if len(phoneNumber) == 4 && a.agent.TID != "0" {
		phoneNumber = a.agent.TID + phoneNumber
	}

	switch {
	case phoneNumber == line.PhoneNumber:
		a.notifyUser(fmt.Sprintf("%s is already in the conference on %s", phoneNumber, thisExten))
	case phoneNumber == thisExten:
		a.notifyUser(fmt.Sprintf("You are already in the conference on %s", thisExten))
	case line.LineState == domain.LineTalking && line.CallType != domain.CallThreeWay:
		phoneNumber, ok := a.validPhoneNumber(phoneNumber)
		if !ok {
			return false
		}
		return a.session.Send(Request{
			MessageID: MsgThreeWayCall,
			ThisDN:    a.agent.ThisDN,
			AgentID:   a.agent.AgentID,
			CallID:    line.CallID,
			OtherDN:   phoneNumber,
		})
	case line.CallType == domain.CallThreeWay:
		a.notifyUser(fmt.Sprintf("You are already in conference %s", line.PhoneNumber))
	default:
		a.notifyUser("The current line is not talking and cannot start a conference")
	}
	return false
}

// ReleaseThreeWayCall ends a conference by its call id.
func (a *AgentAPI) ReleaseThreeWayCall(callID string) bool {
	return a.session.Send(Request{
		MessageID: MsgReleaseThreeWay,
		ThisDN:    a.agent.ThisDN,
		AgentID:   a.agent.AgentID,
		CallID:    callID,
	})
}

// SendDTMF plays a digit into the call on the given line; pass CurrentLine
// for the pool's current slot.
func (a *AgentAPI) SendDTMF(lineID int, digit string) bool {
	if lineID < 0 {
		lineID = a.pool.CurrentLineID()
	}
	line := a.pool.Line(lineID)
	if line == nil {
		a.notifyUser("Invalid line id")
		return false
	}
	if line.LineState == domain.LineIdle {
		a.notifyUser("The current line has no call")
		return false
	}
	return a.session.Send(Request{
		MessageID: MsgSendDTMF,
		ThisDN:    a.agent.ThisDN,
		CallID:    line.CallID,
		DTMFDigit: digit,
	})
}

// StartAgentsMonitoring subscribes to state updates for the given agents.
func (a *AgentAPI) StartAgentsMonitoring(agentDNs []string) bool {
	return a.session.Send(Request{
		MessageID: MsgStartMonitoring,
		ThisDN:    a.agent.ThisDN,
		AgentID:   a.agent.AgentID,
		AgentDNS:  agentDNs,
	})
}

// StopAgentsMonitoring ends the state subscription for the given agents.
func (a *AgentAPI) StopAgentsMonitoring(agentDNs []string) bool {
	return a.session.Send(Request{
		MessageID: MsgStopMonitoring,
		ThisDN:    a.agent.ThisDN,
		AgentID:   a.agent.AgentID,
		AgentDNS:  agentDNs,
	})
}

// AgentReadyFor forces a monitored agent into the ready state.
func (a *AgentAPI) AgentReadyFor(agentID string) bool {
	return a.session.Send(Request{
		MessageID: MsgAgentReady,
		ThisDN:    a.agent.ThisDN,
		AgentID:   agentID,
	})
}

// AgentNotReadyFor forces a monitored agent into a not-ready state.
func (a *AgentAPI) AgentNotReadyFor(agentID string, reasonCode int) bool {
	return a.session.Send(Request{
		MessageID:  MsgAgentNotReady,
		ThisDN:     a.agent.ThisDN,
		AgentID:    agentID,
		ReasonCode: &reasonCode,
	})
}

// AgentLoginFor signs a monitored agent in.
func (a *AgentAPI) AgentLoginFor(agentID string) bool {
	return a.session.Send(Request{
		MessageID: MsgAgentLogin,
		ThisDN:    a.agent.ThisDN,
		AgentID:   agentID,
	})
}

// AgentLogoutFor signs a monitored agent out.
func (a *AgentAPI) AgentLogoutFor(agentID string) bool {
	return a.session.Send(Request{
		MessageID: MsgAgentLogout,
		ThisDN:    a.agent.ThisDN,
		AgentID:   agentID,
	})
}

// MonitorCall listens in on another agent's call.
func (a *AgentAPI) MonitorCall(callID, targetDN string) bool {
	return a.session.Send(Request{
		MessageID: MsgMonitorCall,
		ThisDN:    a.agent.ThisDN,
		AgentID:   a.agent.AgentID,
		CallID:    callID,
		OtherDN:   targetDN,
	})
}

// InterruptCall barges into another agent's call with audio. Requires an
// idle current line, since the bridge lands on it.
func (a *AgentAPI) InterruptCall(callID, targetDN string) bool {
	if !a.pool.CurrentLine().Idle() {
		a.notifyUser("Cannot barge in right now, please hang up first")
		return false
	}
	return a.session.Send(Request{
		MessageID: MsgMonitorCall,
		ThisDN:    a.agent.ThisDN,
		AgentID:   a.agent.AgentID,
		CallID:    callID,
		OtherDN:   targetDN,
		Whisper:   "1",
	})
}

// Substitute intercepts another agent's call, pulling it onto this
// agent's phone. Expressed as a transfer from the monitored DN.
func (a *AgentAPI) Substitute(callID, targetDN, phoneNumber string) bool {
	if !a.pool.CurrentLine().Idle() {
		a.notifyUser("Cannot intercept right now, please hang up first")
		return false
	}
	return a.session.Send(Request{
		MessageID:   MsgSingleStepTransfer,
		ThisDN:      targetDN,
		AgentID:     a.agent.AgentID,
		OtherDN:     a.agent.ThisDN,
		CallID:      callID,
		PhoneNumber: phoneNumber,
	})
}

// ReleaseAgentCall hangs up a monitored agent's call.
func (a *AgentAPI) ReleaseAgentCall(callID, targetDN string) bool {
	return a.session.Send(Request{
		MessageID: MsgReleaseCall,
		ThisDN:    targetDN,
		AgentID:   a.agent.AgentID,
		CallID:    callID,
	})
}

// RequestMonitorMembers asks for the list of agents this one may monitor.
func (a *AgentAPI) RequestMonitorMembers() bool {
	return a.session.Send(Request{
		MessageID: MsgMonitorAgentList,
		ThisDN:    a.agent.ThisDN,
		AgentID:   a.agent.AgentID,
	})
}

// validPhoneNumber trims the number and checks it against the dialable
// alphabet. IVR destinations ("ivr_" prefix) bypass the check.
func (a *AgentAPI) validPhoneNumber(num string) (string, bool) {
	num = strings.TrimSpace(num)
	if num == "" {
		return "", false
	}
	if strings.HasPrefix(num, "ivr_") {
		return num, true
	}
	for _, c := range num {
		if !strings.ContainsRune("*#0123456789", c) {
			a.notifyUser("The phone number contains invalid characters, please check for spaces or non-digit characters")
			return "", false
		}
	}
	return num, true
}
