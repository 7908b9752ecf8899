package server

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type Server struct {
	ctx         context.Context
	config      *Config
	proxyConfig *ProxyConfig
	state       *ProxyState
	connector   *Connector
}

func NewServer(ctx context.Context, config *Config) (*Server, error) {
	proxyConfig, err := LoadProxyConfig(config.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("could not load proxy config file: %w", err)
	}

	switch {
	case config.Trace:
		logrus.SetLevel(logrus.TraceLevel)
	case config.Debug:
		logrus.SetLevel(logrus.DebugLevel)
	default:
		level, err := ParseLogLevel(proxyConfig.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid log_level in proxy config: %w", err)
		}
		logrus.SetLevel(level)
	}

	metricsBuilder := NewMetricsBuilder(config.MetricsBackend, &config.MetricsBackendConfig)
	metrics := metricsBuilder.BuildProxyMetrics()

	state := NewProxyState(proxyConfig)
	backends := NewBackendConnector(proxyConfig, metrics)
	connector := NewConnector(state, backends, metrics)
	connector.UsePollInterval(config.PollInterval)

	clientFilter, err := NewClientFilter(config.ClientsToAllow, config.ClientsToDeny)
	if err != nil {
		return nil, fmt.Errorf("could not create client filter: %w", err)
	}
	connector.UseClientFilter(clientFilter)

	if config.PlayerAllowDeny != "" {
		allowDenyConfig, err := ParseAllowDenyConfig(config.PlayerAllowDeny)
		if err != nil {
			return nil, fmt.Errorf("could not parse player allow-deny-list: %w", err)
		}
		if err := allowDenyConfig.Validate(proxyConfig); err != nil {
			return nil, fmt.Errorf("invalid player allow-deny-list: %w", err)
		}
		connector.UseAllowDenyConfig(allowDenyConfig)
	}

	if config.Webhook.Url != "" {
		logrus.WithField("url", config.Webhook.Url).
			Info("Using webhook for connection status notifications")
		connector.UseConnectionNotifier(NewWebhookNotifier(config.Webhook.Url))
	}

	if config.Ngrok.Token != "" {
		connector.UseNgrok(config.Ngrok)
	}

	if config.ReceiveProxyProtocol {
		trustedIpNets, err := ParseTrustedProxyNets(config.TrustedProxies)
		if err != nil {
			return nil, fmt.Errorf("could not parse trusted proxy CIDR block: %w", err)
		}
		connector.UseReceiveProxyProto(trustedIpNets)
	}

	switch proxyConfig.Auth.IncomingAuth.Kind {
	case IncomingAuthMojang:
		authenticator, err := NewMojangAuthenticator(proxyConfig.Auth.IncomingAuth.SessionServer())
		if err != nil {
			return nil, fmt.Errorf("could not create mojang authenticator: %w", err)
		}
		connector.UseAuthenticator(authenticator)
		logrus.WithField("sessionServer", proxyConfig.Auth.IncomingAuth.SessionServer()).
			Info("Authenticating players with the session server")
	case IncomingAuthVelocity:
		connector.UseIncomingForwarding(proxyConfig.Auth.IncomingAuth.SecretKey)
		logrus.Info("Accepting players forwarded by an upstream velocity proxy")
	default:
		logrus.Info("Players are not authenticated, running in offline mode")
	}

	if config.Favicon.File != "" {
		favicon := NewFavicon(config.Favicon.File)
		if err := favicon.Load(); err != nil {
			return nil, fmt.Errorf("could not load favicon: %w", err)
		}
		if config.Favicon.Watch {
			if err := favicon.WatchForChanges(ctx); err != nil {
				return nil, fmt.Errorf("could not watch for changes to favicon: %w", err)
			}
		}
		connector.UseFavicon(favicon)
	}

	err = metricsBuilder.Start(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not start metrics reporter: %w", err)
	}

	return &Server{
		ctx:         ctx,
		config:      config,
		proxyConfig: proxyConfig,
		state:       state,
		connector:   connector,
	}, nil
}

// AcceptConnection provides a way to externally supply a connection to consume
// Note that this will skip rate limiting.
func (s *Server) AcceptConnection(conn net.Conn) {
	s.connector.AcceptConnection(s.ctx, conn)
}

// Run will run the server until the context is done or a fatal error occurs. Player sessions
// are waited on before returning.
func (s *Server) Run() error {
	ln, err := s.connector.Listen(s.ctx, s.proxyConfig.Bind)
	if err != nil {
		return fmt.Errorf("could not start accepting connections: %w", err)
	}

	g, ctx := errgroup.WithContext(s.ctx)
	g.Go(func() error {
		return s.connector.AcceptConnections(ctx, ln, s.config.ConnectionRateLimit)
	})
	if s.config.ApiBinding != "" {
		withMetrics := strings.EqualFold(s.config.MetricsBackend, MetricsBackendPrometheus)
		g.Go(func() error {
			return RunApiServer(ctx, s.config.ApiBinding, NewApiRouter(s.state, withMetrics))
		})
	}

	err = g.Wait()
	logrus.Info("Server Stopping. Waiting for connections to complete...")
	s.connector.WaitForConnections()
	logrus.Info("Stopped")
	return err
}
