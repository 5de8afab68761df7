package natstransport

import (
	"encoding/json"

	"github.com/nats-io/nats.go"

	"github.com/c360/chatsession/errors"
	"github.com/c360/chatsession/message"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Resource string `json:"resource"`
}

type loginResponse struct {
	OK    bool   `json:"ok"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error,omitempty"`
}

// CheckFunc decides whether a username and password may log in.
type CheckFunc func(username, password string) bool

// ServeLogin answers login requests for domain on conn. Accepted users get
// the identity "username@domain/resource".
func ServeLogin(conn *nats.Conn, domain string, check CheckFunc) (*nats.Subscription, error) {
	sub, err := conn.Subscribe(LoginSubject(domain), func(msg *nats.Msg) {
		var req loginRequest
		resp := loginResponse{}
		switch {
		case json.Unmarshal(msg.Data, &req) != nil:
			resp.Error = "malformed login request"
		case req.Username == "" || !check(req.Username, req.Password):
			resp.Error = "not authorized"
		default:
			resp.OK = true
			resp.ID = message.SanitizeID(req.Username, domain) + "/" + req.Resource
		}
		data, _ := json.Marshal(resp)
		_ = msg.Respond(data)
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "natstransport", "ServeLogin", "subscribe to login subject")
	}
	return sub, nil
}
