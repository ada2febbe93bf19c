package types

import "time"

// CallDirection indicates who initiated the call.
type CallDirection string

const (
	CallDirectionInbound  CallDirection = "inbound"
	CallDirectionOutbound CallDirection = "outbound"
)

// CallState is the lifecycle state of a single call attempt.
type CallState string

const (
	CallStateIdle          CallState = "idle"
	CallStateDialing       CallState = "dialing"
	CallStateRinging       CallState = "ringing" // inbound only
	CallStateConnecting    CallState = "connecting"
	CallStateConnected     CallState = "connected"
	CallStateDisconnecting CallState = "disconnecting"
	CallStateEnded         CallState = "ended"
)

// CallSignal is an input to the call state machine. Signals originate from
// the local API (dial, hangup, accept, reject) and from the provider
// transport (incoming, proceeding, answered, cancel, disconnect, error).
type CallSignal string

const (
	SignalDial       CallSignal = "dial"
	SignalIncoming   CallSignal = "incoming"
	SignalProceeding CallSignal = "proceeding"
	SignalAccept     CallSignal = "accept"
	SignalAnswered   CallSignal = "answered"
	SignalReject     CallSignal = "reject"
	SignalCancel     CallSignal = "cancel"
	SignalHangup     CallSignal = "hangup"
	SignalDisconnect CallSignal = "disconnect"
	SignalError      CallSignal = "error"
)

// CallOutcome is the terminal result recorded for a finished call attempt.
type CallOutcome string

const (
	OutcomeCompleted CallOutcome = "completed" // connected, then hung up
	OutcomeFailed    CallOutcome = "failed"    // provider error before or during the call
	OutcomeMissed    CallOutcome = "missed"    // inbound, remote party canceled first
	OutcomeRejected  CallOutcome = "rejected"  // inbound, explicit user decline
	OutcomeCanceled  CallOutcome = "canceled"  // outbound, hung up before answer
)

// CallEventType classifies engine broadcasts consumed by recent-call
// displays and other collaborators.
type CallEventType string

const (
	EventCallStarted     CallEventType = "call-started"
	EventCallRinging     CallEventType = "call-ringing"
	EventCallConnected   CallEventType = "call-connected"
	EventContextResolved CallEventType = "context-resolved" // identity arrived after the initial notification
	EventDurationTick    CallEventType = "duration-tick"
	EventCallCompleted   CallEventType = "call-completed"
)

// CallEvent is a single engine broadcast. Identity fields carry the context
// snapshot at publish time, never a live reference.
type CallEvent struct {
	Type           CallEventType `json:"type"`
	ID             string        `json:"id"` // engine-assigned call ID (UUID v7)
	ProviderCallID string        `json:"provider_call_id,omitempty"`
	Direction      CallDirection `json:"direction"`
	State          CallState     `json:"state"`
	Number         string        `json:"number"`
	Timestamp      time.Time     `json:"timestamp"`

	ContactID   string `json:"contact_id,omitempty"`
	AccountID   string `json:"account_id,omitempty"`
	ContactName string `json:"contact_name,omitempty"`
	AccountName string `json:"account_name,omitempty"`

	Duration int         `json:"duration,omitempty"` // seconds, tick and terminal events
	Outcome  CallOutcome `json:"outcome,omitempty"`  // terminal events only
}

// CallRecord is a finished call as persisted for recent-call lists.
type CallRecord struct {
	ID          string        `json:"id"`
	Direction   CallDirection `json:"direction"`
	Number      string        `json:"number"`
	ContactID   string        `json:"contact_id,omitempty"`
	AccountID   string        `json:"account_id,omitempty"`
	ContactName string        `json:"contact_name,omitempty"`
	AccountName string        `json:"account_name,omitempty"`
	Outcome     CallOutcome   `json:"outcome"`
	Duration    int           `json:"duration"` // seconds
	StartedAt   time.Time     `json:"started_at"`
	EndedAt     time.Time     `json:"ended_at"`
}

// CallHistory is a bounded, newest-first list of recent calls.
type CallHistory struct {
	Calls     []CallRecord `json:"calls"`
	MaxSize   int          `json:"max_size"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// AddCall adds a record to the history, maintaining the maximum size.
func (ch *CallHistory) AddCall(record CallRecord) {
	ch.Calls = append([]CallRecord{record}, ch.Calls...)
	if len(ch.Calls) > ch.MaxSize {
		ch.Calls = ch.Calls[:ch.MaxSize]
	}
	ch.UpdatedAt = time.Now()
}
