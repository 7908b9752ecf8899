package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookNotifier(t *testing.T) {
	player := testClient(765)
	tests := []struct {
		name     string
		notify   func(ctx context.Context, notifier *WebhookNotifier) error
		expected WebhookNotifierPayload
	}{
		{
			name: "missing backend",
			notify: func(ctx context.Context, notifier *WebhookNotifier) error {
				return notifier.NotifyMissingBackend(ctx, player.RemoteAddr, "nowhere", player.PlayerInfo())
			},
			expected: WebhookNotifierPayload{
				Event:  WebhookEventConnecting,
				Status: WebhookStatusMissingBackend,
				Server: "nowhere",
				Error:  "No server configured with that id",
			},
		},
		{
			name: "failed backend connection",
			notify: func(ctx context.Context, notifier *WebhookNotifier) error {
				return notifier.NotifyFailedBackendConnection(ctx, player.RemoteAddr, "survival", player.PlayerInfo(),
					"10.0.0.6:25566", errors.New("connection refused"))
			},
			expected: WebhookNotifierPayload{
				Event:           WebhookEventConnecting,
				Status:          WebhookStatusFailedBackendConnection,
				Server:          "survival",
				BackendHostPort: "10.0.0.6:25566",
				Error:           "connection refused",
			},
		},
		{
			name: "connected",
			notify: func(ctx context.Context, notifier *WebhookNotifier) error {
				return notifier.NotifyConnected(ctx, player.RemoteAddr, "lobby", player.PlayerInfo(), "10.0.0.5:25565")
			},
			expected: WebhookNotifierPayload{
				Event:           WebhookEventConnecting,
				Status:          WebhookStatusSuccess,
				Server:          "lobby",
				BackendHostPort: "10.0.0.5:25565",
			},
		},
		{
			name: "disconnected",
			notify: func(ctx context.Context, notifier *WebhookNotifier) error {
				return notifier.NotifyDisconnected(ctx, player.RemoteAddr, "lobby", player.PlayerInfo(), "10.0.0.5:25565")
			},
			expected: WebhookNotifierPayload{
				Event:           WebhookEventDisconnecting,
				Status:          WebhookStatusSuccess,
				Server:          "lobby",
				BackendHostPort: "10.0.0.5:25565",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			received := make(chan WebhookNotifierPayload, 1)
			receiver := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
				assert.Equal(t, http.MethodPost, request.Method)
				assert.Equal(t, "application/json", request.Header.Get("Content-Type"))
				var payload WebhookNotifierPayload
				assert.NoError(t, json.NewDecoder(request.Body).Decode(&payload))
				received <- payload
			}))
			defer receiver.Close()

			ctx, cancel := context.WithCancel(context.Background())
			require.NoError(t, tt.notify(ctx, NewWebhookNotifier(receiver.URL)))
			// delivery outlives the session that triggered it
			cancel()

			select {
			case payload := <-received:
				assert.Equal(t, tt.expected.Event, payload.Event)
				assert.Equal(t, tt.expected.Status, payload.Status)
				assert.Equal(t, tt.expected.Server, payload.Server)
				assert.Equal(t, tt.expected.BackendHostPort, payload.BackendHostPort)
				assert.Equal(t, tt.expected.Error, payload.Error)
				assert.Equal(t, &ClientAddress{Host: "203.0.113.7", Port: 51234}, payload.Client)
				assert.Equal(t, player.PlayerInfo(), payload.PlayerInfo)
				assert.WithinDuration(t, time.Now(), payload.Timestamp, time.Minute)
			case <-time.After(5 * time.Second):
				require.FailNow(t, "webhook was not delivered")
			}
		})
	}
}

func TestClientAddressFromAddr(t *testing.T) {
	assert.Nil(t, ClientAddressFromAddr(nil))
	assert.Equal(t, &ClientAddress{Host: "pipe"}, ClientAddressFromAddr(pipeAddr{}))
}
