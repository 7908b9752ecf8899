package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// WebhookNotifier implements ConnectionNotifier by sending a POST request to a webhook URL.
// The payload is a JSON object defined by WebhookNotifierPayload.
type WebhookNotifier struct {
	url string

	client *http.Client
}

const (
	WebhookEventConnecting    = "connect"
	WebhookEventDisconnecting = "disconnect"
)

const (
	WebhookStatusMissingBackend          = "missing-backend"
	WebhookStatusFailedBackendConnection = "failed-backend-connection"
	WebhookStatusSuccess                 = "success"
)

// ClientAddress is the network origin of a player
type ClientAddress struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func ClientAddressFromAddr(addr net.Addr) *ClientAddress {
	if addr == nil {
		return nil
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return &ClientAddress{Host: addr.String()}
	}
	port, _ := strconv.Atoi(portStr)
	return &ClientAddress{Host: host, Port: port}
}

type WebhookNotifierPayload struct {
	Event           string         `json:"event"`
	Timestamp       time.Time      `json:"timestamp"`
	Status          string         `json:"status"`
	Client          *ClientAddress `json:"client"`
	Server          string         `json:"server"`
	PlayerInfo      *PlayerInfo    `json:"player,omitempty"`
	BackendHostPort string         `json:"backend,omitempty"`
	Error           string         `json:"error,omitempty"`
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url: url,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (w *WebhookNotifier) NotifyMissingBackend(ctx context.Context, clientAddr net.Addr, serverId string, playerInfo *PlayerInfo) error {
	payload := &WebhookNotifierPayload{
		Event:      WebhookEventConnecting,
		Timestamp:  time.Now(),
		Status:     WebhookStatusMissingBackend,
		Client:     ClientAddressFromAddr(clientAddr),
		Server:     serverId,
		PlayerInfo: playerInfo,
		Error:      "No server configured with that id",
	}

	return w.send(ctx, payload)
}

func (w *WebhookNotifier) NotifyFailedBackendConnection(ctx context.Context, clientAddr net.Addr, serverId string,
	playerInfo *PlayerInfo, backendHostPort string, err error) error {
	payload := &WebhookNotifierPayload{
		Event:           WebhookEventConnecting,
		Timestamp:       time.Now(),
		Status:          WebhookStatusFailedBackendConnection,
		Client:          ClientAddressFromAddr(clientAddr),
		Server:          serverId,
		PlayerInfo:      playerInfo,
		BackendHostPort: backendHostPort,
		Error:           err.Error(),
	}

	return w.send(ctx, payload)
}

func (w *WebhookNotifier) NotifyConnected(ctx context.Context, clientAddr net.Addr, serverId string, playerInfo *PlayerInfo, backendHostPort string) error {
	payload := &WebhookNotifierPayload{
		Event:           WebhookEventConnecting,
		Timestamp:       time.Now(),
		Status:          WebhookStatusSuccess,
		Client:          ClientAddressFromAddr(clientAddr),
		Server:          serverId,
		PlayerInfo:      playerInfo,
		BackendHostPort: backendHostPort,
	}

	return w.send(ctx, payload)
}

func (w *WebhookNotifier) NotifyDisconnected(ctx context.Context, clientAddr net.Addr, serverId string, playerInfo *PlayerInfo, backendHostPort string) error {
	payload := &WebhookNotifierPayload{
		Event:           WebhookEventDisconnecting,
		Timestamp:       time.Now(),
		Status:          WebhookStatusSuccess,
		Client:          ClientAddressFromAddr(clientAddr),
		Server:          serverId,
		PlayerInfo:      playerInfo,
		BackendHostPort: backendHostPort,
	}

	return w.send(ctx, payload)
}

func (w *WebhookNotifier) send(ctx context.Context, payload *WebhookNotifierPayload) error {
	jsonPayload, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	// the session may end before delivery
	req, err := http.NewRequestWithContext(
		context.WithoutCancel(ctx),
		http.MethodPost,
		w.url,
		bytes.NewBuffer(jsonPayload),
	)
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	go func() {
		resp, err := w.client.Do(req)
		if err != nil {
			logrus.WithError(err).Warn("Failed to send webhook notification")
			return
		}
		_ = resp.Body.Close()

		if resp.StatusCode >= 400 {
			logrus.
				WithField("status", resp.StatusCode).
				Warn("webhook receiver responded with an error")
		}

	}()

	return nil
}
