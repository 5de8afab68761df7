package wstransport

// Frame types exchanged with the relay.
const (
	frameAuth      = "auth"
	frameAuthOK    = "auth_ok"
	frameAuthError = "auth_error"
	frameMessage   = "message"
)

// frame is the JSON unit on the WebSocket. Body is base64 encoded by
// encoding/json.
type frame struct {
	Type     string `json:"type"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Resource string `json:"resource,omitempty"`
	ID       string `json:"id,omitempty"`
	Error    string `json:"error,omitempty"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
	Subject  string `json:"subject,omitempty"`
	Body     []byte `json:"body,omitempty"`
}
