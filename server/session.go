package server

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

const DefaultPollInterval = 10 * time.Millisecond

// ConnectedPlayer relays a logged-in player between its client and the current backend
type ConnectedPlayer struct {
	state     *ProxyState
	connector *BackendConnector
	notifier  ConnectionNotifier
	metrics   *ProxyMetrics
	allowDeny *AllowDenyConfig

	client  *ClientEndpoint
	backend *BackendEndpoint

	pollInterval time.Duration
	logger       *logrus.Entry
}

func NewConnectedPlayer(state *ProxyState, connector *BackendConnector, client *ClientEndpoint, backend *BackendEndpoint) *ConnectedPlayer {
	info := backend.Context().Client
	backend.UseBytesCounter(connector.metrics.BytesTransmitted)
	return &ConnectedPlayer{
		state:        state,
		connector:    connector,
		metrics:      connector.metrics,
		client:       client,
		backend:      backend,
		pollInterval: DefaultPollInterval,
		logger: logrus.
			WithField("client", info.RemoteAddr).
			WithField("player", info.Profile.Name),
	}
}

func (p *ConnectedPlayer) UseConnectionNotifier(notifier ConnectionNotifier) {
	p.notifier = notifier
}

// UseAllowDenyConfig restricts the servers the player can be switched to
func (p *ConnectedPlayer) UseAllowDenyConfig(config *AllowDenyConfig) {
	p.allowDeny = config
}

// UsePollInterval bounds how long each side is waited on before checking the other
func (p *ConnectedPlayer) UsePollInterval(interval time.Duration) {
	if interval > 0 {
		p.pollInterval = interval
	}
}

// Backend is the endpoint currently serving the player
func (p *ConnectedPlayer) Backend() *BackendEndpoint {
	return p.backend
}

// Run relays packets until either side disconnects, a backend ends the session or ctx is done.
// The current backend connection is closed on return.
func (p *ConnectedPlayer) Run(ctx context.Context) error {
	defer func() {
		if err := p.backend.Close(); err != nil {
			p.logger.WithError(err).Debug("Error closing backend")
		}
	}()

	for {
		if ctx.Err() != nil {
			p.logger.Debug("Observed context cancellation")
			return nil
		}

		read, received, err := p.client.ReadNextWithTimeout(p.pollInterval)
		if err != nil {
			return err
		}
		if received {
			if read.Raw != nil {
				if err := p.backend.ForwardToServer(read.Raw); err != nil {
					return err
				}
				p.metrics.BytesTransmitted.Add(float64(len(read.Raw)))
			} else if done := p.resolve(ctx, read.Resolution); done {
				return nil
			}
		}

		resolution, received, err := p.backend.ReadNextWithTimeout(p.pollInterval)
		if err != nil {
			return err
		}
		if received {
			if done := p.resolve(ctx, resolution); done {
				return nil
			}
		}
	}
}

// resolve acts on a resolution and reports whether the session is over
func (p *ConnectedPlayer) resolve(ctx context.Context, resolution EndpointResolution) bool {
	switch r := resolution.(type) {
	case DisconnectGracefully:
		p.logger.Debug("Backend ended the session")
		return true
	case SwitchServer:
		p.switchServer(ctx, r)
	}
	return false
}

// switchServer connects the target and moves the player to it. On failure the player stays
// on the current backend.
func (p *ConnectedPlayer) switchServer(ctx context.Context, request SwitchServer) {
	client := p.backend.Context().Client
	server := request.Server
	if server == nil {
		var found bool
		server, found = p.state.Config.LookupServer(request.ServerId)
		if !found {
			p.logger.WithField("server", request.ServerId).Warn("Switch requested to unknown server")
			p.metrics.Errors.With("type", "missing_backend").Add(1)
			if p.notifier != nil {
				if err := p.notifier.NotifyMissingBackend(ctx, client.RemoteAddr, request.ServerId, client.PlayerInfo()); err != nil {
					p.logger.WithError(err).Warn("failed to notify missing backend")
				}
			}
			return
		}
	}

	logger := p.logger.
		WithField("from", p.backend.Server().ServerId).
		WithField("server", server.ServerId)

	if !p.allowDeny.ServerAllowsPlayer(server.ServerId, client.PlayerInfo()) {
		logger.Info("Player is not allowed on server, staying on current backend")
		p.metrics.Errors.With("type", "not_allowed").Add(1)
		return
	}

	logger.Info("Switching server")

	next, err := p.connector.Connect(ctx, server, client)
	if err != nil {
		logger.WithError(err).Warn("Unable to switch server, staying on current backend")
		if p.notifier != nil {
			if err := p.notifier.NotifyFailedBackendConnection(ctx, client.RemoteAddr, server.ServerId, client.PlayerInfo(), server.Address(), err); err != nil {
				logger.WithError(err).Warn("failed to notify failed backend connection")
			}
		}
		return
	}

	previous := p.backend.Server()
	p.backend = MergeBackendEndpoint(p.backend, next)
	p.metrics.ServerSwitches.Add(1)
	if p.notifier != nil {
		if err := p.notifier.NotifyDisconnected(ctx, client.RemoteAddr, previous.ServerId, client.PlayerInfo(), previous.Address()); err != nil {
			logger.WithError(err).Warn("failed to notify disconnected")
		}
		if err := p.notifier.NotifyConnected(ctx, client.RemoteAddr, server.ServerId, client.PlayerInfo(), server.Address()); err != nil {
			logger.WithError(err).Warn("failed to notify connected")
		}
	}
}
