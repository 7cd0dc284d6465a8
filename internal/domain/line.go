package domain

// LineState is the per-slot call state.
type LineState string

const (
	LineIdle    LineState = "idle"
	LineDialing LineState = "dialing"
	LineRinging LineState = "ringing"
	LineTalking LineState = "talking"
	LineHeld    LineState = "held"
)

// CallType classifies a call's origin and purpose.
type CallType int

const (
	CallUnknown        CallType = 0
	CallInternal       CallType = 1
	CallInbound        CallType = 2
	CallOutbound       CallType = 3
	CallConsult        CallType = 4
	CallThreeWay       CallType = 5
	CallOrderCallback  CallType = 6
	CallManualCallback CallType = 7
	CallPredict        CallType = 8
	CallPreview        CallType = 9
	CallWebCall        CallType = 10
	CallMonitor        CallType = 11
)

var callTypeNames = map[CallType]string{
	CallUnknown:        "unknown",
	CallInternal:       "internal",
	CallInbound:        "inbound",
	CallOutbound:       "outbound",
	CallConsult:        "consult",
	CallThreeWay:       "three-way",
	CallOrderCallback:  "order callback",
	CallManualCallback: "manual callback",
	CallPredict:        "predictive",
	CallPreview:        "preview",
	CallWebCall:        "web call",
	CallMonitor:        "monitor",
}

func (t CallType) String() string {
	if name, ok := callTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// Line is one fixed call slot. The slot index doubles as its stable id.
// Lines are owned by the pool; all mutation happens under the pool's lock
// on the single inbound-dispatch path.
type Line struct {
	ID          int
	LineState   LineState
	PhoneNumber string
	CallType    CallType
	CallID      string
	Parties     []string
}

func newLine(id int) *Line {
	return &Line{ID: id, LineState: LineIdle, CallType: CallUnknown}
}

// Reset restores idle defaults, keeping the invariant
// idle <=> empty call id <=> unknown call type.
func (l *Line) Reset() {
	l.LineState = LineIdle
	l.PhoneNumber = ""
	l.CallType = CallUnknown
	l.CallID = ""
	l.Parties = nil
}

// Idle reports whether the slot carries no call.
func (l *Line) Idle() bool {
	return l.LineState == LineIdle
}
