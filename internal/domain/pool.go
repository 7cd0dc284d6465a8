package domain

import (
	"sync"

	"github.com/95ykf/PhoneBar/internal/event"
)

// LineEventKind names the voice events the pool reacts to.
type LineEventKind int

const (
	LineEventDialing LineEventKind = iota
	LineEventRinging
	LineEventEstablished
	LineEventReleased
	LineEventHeld
	LineEventRetrieved
	LineEventAbandoned
)

// CallEvent is the slice of an inbound voice event the line pool and its
// observers consume. The session converts wire payloads into this form.
type CallEvent struct {
	Kind         LineEventKind
	CallID       string
	CallType     CallType
	OtherDN      string
	AttachDatas  map[string]any
	CreationTime int64
	ThisQueue    string
	DNIS         string
	AUUID        string
	CityCode     string

	// Two-step-transfer role signaling, forwarded verbatim so observers
	// can react to state-preserving events.
	PartyState int
	ThisRole   int
	OtherRole  int
	SendBy     string
	ThirdDN    string
}

// CallInfo is the normalized call descriptor attached to line change
// notifications.
type CallInfo struct {
	CallID       string
	CallType     CallType
	PhoneNumber  string
	AttachDatas  map[string]any
	CreationTime int64
	Queue        string
	DNIS         string
	CallSID      string
	CityCode     string
}

// LineDataChange is the payload of TopicLineDataChange.
type LineDataChange struct {
	Line *Line
	Info CallInfo
	Raw  CallEvent
}

// LinePool owns the fixed array of call slots plus the current-line
// pointer that disambiguates actions without an explicit line.
type LinePool struct {
	mutex    sync.RWMutex
	maxLines int
	current  int
	lines    []*Line
	bus      *event.Bus
}

const DefaultMaxLines = 2

func NewLinePool(maxLines int, bus *event.Bus) *LinePool {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	p := &LinePool{maxLines: maxLines, bus: bus}
	p.lines = make([]*Line, maxLines)
	for i := range p.lines {
		p.lines[i] = newLine(i)
	}
	return p
}

func (p *LinePool) MaxLines() int {
	return p.maxLines
}

// CheckLineID reports whether the id addresses a valid slot.
func (p *LinePool) CheckLineID(id int) bool {
	return id >= 0 && id < p.maxLines
}

// Line returns the slot with the given id, or nil when out of range.
func (p *LinePool) Line(id int) *Line {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	if !p.CheckLineID(id) {
		return nil
	}
	return p.lines[id]
}

// CurrentLineID returns the current-line pointer.
func (p *LinePool) CurrentLineID() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.current
}

// SetCurrentLineID moves the current-line pointer; invalid ids are ignored
// so the pointer always indexes a valid slot.
func (p *LinePool) SetCurrentLineID(id int) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.CheckLineID(id) {
		p.current = id
	}
}

// CurrentLine returns the slot the current-line pointer indexes.
func (p *LinePool) CurrentLine() *Line {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.lines[p.current]
}

// IdleLine returns an idle slot, preferring the current line when it is
// already idle. Nil when every slot is working.
func (p *LinePool) IdleLine() *Line {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.idleLineLocked()
}

func (p *LinePool) idleLineLocked() *Line {
	if p.lines[p.current].Idle() {
		return p.lines[p.current]
	}
	return p.lineByStateLocked(LineIdle)
}

// LineByState returns the first slot in the given state, or nil.
func (p *LinePool) LineByState(state LineState) *Line {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.lineByStateLocked(state)
}

func (p *LinePool) lineByStateLocked(state LineState) *Line {
	for _, line := range p.lines {
		if line.LineState == state {
			return line
		}
	}
	return nil
}

// TalkingLine returns the slot currently talking, or nil.
func (p *LinePool) TalkingLine() *Line {
	return p.LineByState(LineTalking)
}

// LineByCallID returns the slot tracking the given call, or nil.
func (p *LinePool) LineByCallID(callID string) *Line {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	return p.lineByCallIDLocked(callID)
}

func (p *LinePool) lineByCallIDLocked(callID string) *Line {
	for _, line := range p.lines {
		if line.CallID == callID {
			return line
		}
	}
	return nil
}

// LineByCallType returns the first slot with the given call type, or nil.
func (p *LinePool) LineByCallType(callType CallType) *Line {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	for _, line := range p.lines {
		if line.CallType == callType {
			return line
		}
	}
	return nil
}

// ConsultLine returns the slot carrying the consult leg of a two-step
// transfer, or nil.
func (p *LinePool) ConsultLine() *Line {
	return p.LineByCallType(CallConsult)
}

// ExistsByCallType reports whether any slot carries the given call type.
func (p *LinePool) ExistsByCallType(callType CallType) bool {
	return p.LineByCallType(callType) != nil
}

// WorkingLineCount returns the number of non-idle slots.
func (p *LinePool) WorkingLineCount() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	count := 0
	for _, line := range p.lines {
		if !line.Idle() {
			count++
		}
	}
	return count
}

// Lines returns the slots. Callers must treat them as read-only outside
// the dispatch path.
func (p *LinePool) Lines() []*Line {
	p.mutex.RLock()
	defer p.mutex.RUnlock()
	lines := make([]*Line, len(p.lines))
	copy(lines, p.lines)
	return lines
}

// UpdateLineData applies one inbound voice event to the pool and always
// publishes a lineDataChange afterwards, state change or not, so observers
// can react to role signaling carried in otherwise state-preserving events.
func (p *LinePool) UpdateLineData(ev CallEvent) {
	info := parseCallInfo(ev)

	p.mutex.Lock()
	line := p.lineByCallIDLocked(info.CallID)
	if line == nil {
		line = p.lines[p.current]
	}
	// An inbound ring or a consult dial has no prior line association;
	// reserve a fresh slot instead of matching by call id.
	if ev.Kind == LineEventRinging || (ev.Kind == LineEventDialing && info.CallType == CallConsult) {
		if idle := p.idleLineLocked(); idle != nil {
			line = idle
		}
	}

	switch ev.Kind {
	case LineEventReleased, LineEventAbandoned:
		line.Reset()
	case LineEventDialing:
		line.LineState = LineDialing
		line.PhoneNumber = info.PhoneNumber
		line.CallType = info.CallType
		line.CallID = info.CallID
	case LineEventRinging:
		line.LineState = LineRinging
		line.PhoneNumber = info.PhoneNumber
		line.CallType = info.CallType
		line.CallID = info.CallID
	case LineEventEstablished:
		// Guard against partial events with no call identity.
		if info.CallID == "" {
			break
		}
		line.LineState = LineTalking
		line.PhoneNumber = info.PhoneNumber
		line.CallType = info.CallType
		line.CallID = info.CallID
		line.Parties = []string{info.PhoneNumber}
	case LineEventHeld:
		line.LineState = LineHeld
	case LineEventRetrieved:
		line.LineState = LineTalking
	}
	p.mutex.Unlock()

	if p.bus != nil {
		p.bus.Publish(TopicLineDataChange, LineDataChange{Line: line, Info: info, Raw: ev})
	}
}

func parseCallInfo(ev CallEvent) CallInfo {
	phoneNumber := ev.OtherDN
	if phoneNumber == "Unknown" {
		phoneNumber = ""
	}
	return CallInfo{
		CallID:       ev.CallID,
		CallType:     ev.CallType,
		PhoneNumber:  phoneNumber,
		AttachDatas:  ev.AttachDatas,
		CreationTime: ev.CreationTime,
		Queue:        ev.ThisQueue,
		DNIS:         ev.DNIS,
		CallSID:      ev.AUUID,
		CityCode:     ev.CityCode,
	}
}
