package wsbridge

// Frame types exchanged with the gateway.
const (
	// Outbound.
	FrameHello  = "hello"
	FrameSend   = "send"
	FrameLogout = "logout"

	// Inbound.
	FramePairing  = "pairing"
	FrameOpen     = "open"
	FrameClosed   = "closed"
	FrameCreds    = "creds"
	FrameActivity = "activity"
	FrameAck      = "ack"
)

// Frame is one JSON message on the gateway socket. Only the fields of the
// given Type are set.
type Frame struct {
	Type string `json:"type"`
	Ref  string `json:"ref,omitempty"`

	// hello
	Credentials []byte `json:"credentials,omitempty"`

	// send
	To   string `json:"to,omitempty"`
	Body string `json:"body,omitempty"`

	// pairing
	Challenge string `json:"challenge,omitempty"`

	// open
	Identity string `json:"identity,omitempty"`

	// closed
	Reason     string `json:"reason,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`

	// creds
	Data []byte `json:"data,omitempty"`

	// ack
	Error string `json:"error,omitempty"`
}
