package device

// Frame kinds exchanged with the voice provider over the websocket.
const (
	FrameRegister   = "register"
	FrameRegistered = "registered"
	FrameInvite     = "invite"
	FrameProceeding = "proceeding"
	FrameAnswered   = "answered"
	FrameIncoming   = "incoming"
	FrameAnswer     = "answer"
	FrameReject     = "reject"
	FrameCancel     = "cancel"
	FrameHangup     = "hangup"
	FrameDisconnect = "disconnect"
	FrameError      = "error"
	FrameDTMF       = "dtmf"
)

// Error classes reported by the provider.
const (
	ErrorClassAuth       = "auth"
	ErrorClassMedia      = "media"
	ErrorClassConnection = "connection"
)

// AudioDevice is one input device announced by the provider during
// registration.
type AudioDevice struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// AudioConstraints are applied to the input stream at registration.
type AudioConstraints struct {
	EchoCancellation bool `json:"echo_cancellation"`
	NoiseSuppression bool `json:"noise_suppression"`
	SampleRate       int  `json:"sample_rate"`
}

// Frame is a single JSON message on the provider websocket. Unused fields
// are omitted per frame kind.
type Frame struct {
	Kind   string `json:"kind"`
	CallID string `json:"call_id,omitempty"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	Digit  string `json:"digit,omitempty"`

	// register
	Token       string            `json:"token,omitempty"`
	InputDevice string            `json:"input_device,omitempty"`
	Constraints *AudioConstraints `json:"constraints,omitempty"`
	Bridged     bool              `json:"bridged,omitempty"`

	// registered
	Devices []AudioDevice `json:"devices,omitempty"`

	// call events
	LegIDs []string `json:"leg_ids,omitempty"`

	// error
	Class   string `json:"class,omitempty"`
	Message string `json:"message,omitempty"`
}

// Event is a provider occurrence delivered to the engine.
type Event struct {
	Kind    string
	CallID  string
	From    string
	To      string
	LegIDs  []string
	Class   string
	Message string
}
