//go:build integration

package natstransport

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/c360/chatsession/transport"
)

const testDomain = "example.com"

func startNATS(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping NATS integration test in short mode")
	}

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "nats:2.11.7-alpine",
		ExposedPorts: []string{"4222/tcp", "8222/tcp"},
		Cmd:          []string{"--port", "4222", "--http_port", "8222"},
		WaitingFor: wait.ForAll(
			wait.ForListeningPort("4222/tcp"),
			wait.ForHTTP("/").WithPort("8222/tcp").WithStartupTimeout(30*time.Second),
		),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)

	url := fmt.Sprintf("nats://%s:%s", host, port.Port())

	authConn, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(authConn.Close)

	_, err = ServeLogin(authConn, testDomain, func(user, pass string) bool {
		return pass == "secret"
	})
	require.NoError(t, err)
	require.NoError(t, authConn.Flush())

	return url
}

type recorder struct {
	mu       sync.Mutex
	events   []string
	messages []transport.Message
}

func (r *recorder) listener() transport.Listener {
	add := func(e string) {
		r.mu.Lock()
		r.events = append(r.events, e)
		r.mu.Unlock()
	}
	return transport.ListenerFuncs{
		OnConnected:        func() { add("connected") },
		OnAuthenticated:    func(bool) { add("authenticated") },
		OnConnectionClosed: func() { add("closed") },
	}
}

func (r *recorder) has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

func (r *recorder) received() []transport.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]transport.Message(nil), r.messages...)
}

func login(t *testing.T, url, user string, rec *recorder) *Adapter {
	t.Helper()
	a, err := New(WithMaxReconnects(0))
	require.NoError(t, err)
	a.SetListener(rec.listener())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, a.Connect(ctx, url, testDomain))
	require.NoError(t, a.Login(ctx, user, "secret"))
	t.Cleanup(func() { _ = a.Disconnect() })

	cm := a.ChatManager()
	require.NotNil(t, cm)
	cm.SetIncomingHandler(func(_ transport.Chat, msg transport.Message) {
		rec.mu.Lock()
		rec.messages = append(rec.messages, msg)
		rec.mu.Unlock()
	})
	return a
}

func TestIntegration_ChatRoundTrip(t *testing.T) {
	url := startNATS(t)

	clientRec := &recorder{}
	serviceRec := &recorder{}
	client := login(t, url, "client", clientRec)
	service := login(t, url, "alarms", serviceRec)

	assert.True(t, clientRec.has("connected"))
	assert.True(t, clientRec.has("authenticated"))
	assert.True(t, client.IsAuthenticated())
	assert.Contains(t, client.Identity(), "client@example.com/")

	chat, err := client.ChatManager().ChatWith("alarms@example.com")
	require.NoError(t, err)
	require.NoError(t, chat.Send(context.Background(), transport.Message{
		Subject: transport.EnvelopeSubject,
		Body:    []byte(`{"Type":"PING","Values":{}}`),
	}))

	require.Eventually(t, func() bool { return len(serviceRec.received()) == 1 }, 5*time.Second, 20*time.Millisecond)
	got := serviceRec.received()[0]
	assert.True(t, got.IsEnvelope())
	assert.Equal(t, client.Identity(), got.From)
	assert.Equal(t, `{"Type":"PING","Values":{}}`, string(got.Body))

	require.NoError(t, service.Disconnect())
	require.Eventually(t, func() bool { return serviceRec.has("closed") }, 5*time.Second, 20*time.Millisecond)
}

func TestIntegration_LoginRejected(t *testing.T) {
	url := startNATS(t)

	a, err := New(WithMaxReconnects(0))
	require.NoError(t, err)
	defer a.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, a.Connect(ctx, url, testDomain))
	err = a.Login(ctx, "client", "wrong")
	require.Error(t, err)
	assert.False(t, a.IsAuthenticated())
	assert.Nil(t, a.ChatManager())
}
