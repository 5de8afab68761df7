package wstransport

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/c360/chatsession/message"
)

// CheckFunc decides whether a username and password may log in.
type CheckFunc func(username, password string) bool

// Relay is a minimal chat server: it authenticates clients and forwards
// message frames to the client logged in under the recipient's bare identity.
type Relay struct {
	domain   string
	check    CheckFunc
	upgrader websocket.Upgrader
	logger   *slog.Logger

	mu      sync.Mutex
	clients map[*relayClient]struct{}
	byID    map[string]*relayClient
}

type relayClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	id      string
}

func (c *relayClient) send(f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(f)
}

// NewRelay creates a relay for domain.
func NewRelay(domain string, check CheckFunc, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		domain: domain,
		check:  check,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logger,
		clients: make(map[*relayClient]struct{}),
		byID:    make(map[string]*relayClient),
	}
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("relay upgrade failed", "error", err)
		return
	}

	client := &relayClient{conn: conn}
	r.mu.Lock()
	r.clients[client] = struct{}{}
	r.mu.Unlock()

	defer r.remove(client)

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		switch f.Type {
		case frameAuth:
			r.handleAuth(client, f)
		case frameMessage:
			r.forward(client, f)
		}
	}
}

func (r *Relay) handleAuth(client *relayClient, f frame) {
	if f.Username == "" || r.check == nil || !r.check(f.Username, f.Password) {
		_ = client.send(frame{Type: frameAuthError, Error: "not authorized"})
		return
	}

	resource := f.Resource
	if resource == "" {
		resource = uuid.NewString()
	}
	id := message.SanitizeID(f.Username, r.domain) + "/" + resource

	r.mu.Lock()
	client.id = id
	r.byID[message.BareID(id)] = client
	r.mu.Unlock()

	_ = client.send(frame{Type: frameAuthOK, ID: id})
}

func (r *Relay) forward(from *relayClient, f frame) {
	r.mu.Lock()
	sender := from.id
	target := r.byID[message.BareID(message.SanitizeID(f.To, r.domain))]
	r.mu.Unlock()

	if sender == "" {
		_ = from.send(frame{Type: frameAuthError, Error: "login required"})
		return
	}
	if target == nil {
		r.logger.Debug("relay dropping message for offline peer", "to", f.To)
		return
	}
	f.From = sender
	if err := target.send(f); err != nil {
		r.logger.Debug("relay forward failed", "to", f.To, "error", err)
	}
}

func (r *Relay) remove(client *relayClient) {
	r.mu.Lock()
	delete(r.clients, client)
	if client.id != "" && r.byID[message.BareID(client.id)] == client {
		delete(r.byID, message.BareID(client.id))
	}
	r.mu.Unlock()
	_ = client.conn.Close()
}

// Online reports whether a client is logged in as id.
func (r *Relay) Online(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byID[message.BareID(id)]
	return ok
}

// DropAll closes every client socket without a close handshake.
func (r *Relay) DropAll() {
	r.mu.Lock()
	clients := make([]*relayClient, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.Unlock()

	for _, c := range clients {
		_ = c.conn.UnderlyingConn().SetDeadline(time.Now())
		_ = c.conn.Close()
	}
}
