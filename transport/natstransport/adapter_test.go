package natstransport

import (
	"context"
	"crypto/tls"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/chatsession/errors"
	"github.com/c360/chatsession/pkg/retry"
)

func TestChatSubject(t *testing.T) {
	tests := []struct {
		id, domain, want string
	}{
		{"alarms@example.com", "other.org", "example.com.chat.alarms"},
		{"alarms@example.com/service", "", "example.com.chat.alarms"},
		{"alarms", "example.com", "example.com.chat.alarms"},
		{"first.last@example.com", "", "example.com.chat.first_last"},
		{"Pilot@example.com", "", "example.com.chat.pilot"},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			assert.Equal(t, tt.want, ChatSubject(tt.id, tt.domain))
		})
	}

	assert.Equal(t, "example.com.auth.login", LoginSubject("example.com"))
}

func TestNew_Options(t *testing.T) {
	a, err := New(WithTimeout(time.Second), WithMaxReconnects(3), WithClientName("test"))
	require.NoError(t, err)
	assert.Equal(t, time.Second, a.timeout)
	assert.Equal(t, 3, a.maxReconnects)
	assert.Equal(t, "test", a.clientName)
	plain := len(a.connectionOptions())

	secured, err := New(WithClientName("test"), WithTLS(&tls.Config{MinVersion: tls.VersionTLS12}))
	require.NoError(t, err)
	assert.NotNil(t, secured.tlsConfig)
	assert.Len(t, secured.connectionOptions(), plain+1)

	_, err = New(WithTimeout(0))
	assert.True(t, errors.IsInvalid(err))

	_, err = New(WithReconnectBackoff(retry.Config{InitialDelay: -time.Second}))
	assert.Error(t, err)
}

func TestAdapter_NotConnected(t *testing.T) {
	a, err := New()
	require.NoError(t, err)

	assert.False(t, a.IsConnected())
	assert.False(t, a.IsAuthenticated())
	assert.Nil(t, a.ChatManager())
	assert.NoError(t, a.Disconnect())

	err = a.Login(context.Background(), "user", "pass")
	assert.ErrorIs(t, err, errors.ErrNotConnected)
}

func TestAdapter_ConnectFailure(t *testing.T) {
	a, err := New(WithTimeout(200 * time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = a.Connect(ctx, "nats://127.0.0.1:1", "example.com")
	require.Error(t, err)
	assert.True(t, errors.IsConnectionError(err))
	assert.False(t, a.IsConnected())
}
