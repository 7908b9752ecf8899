package server

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/McEntropy/Umbrella/mcproto"
	"github.com/juju/ratelimit"
	"github.com/pires/go-proxyproto"
	"github.com/sirupsen/logrus"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"
)

const (
	handshakeTimeout = 5 * time.Second
	loginTimeout     = 30 * time.Second
)

var noDeadline time.Time

// Connector accepts client connections and takes each one through status or login into a player session
type Connector struct {
	state    *ProxyState
	backends *BackendConnector
	metrics  *ProxyMetrics

	authenticator      *MojangAuthenticator
	incomingSecret     []byte
	favicon            *Favicon
	pollInterval       time.Duration
	clientFilter       *ClientFilter
	allowDenyConfig    *AllowDenyConfig
	connectionNotifier ConnectionNotifier

	receiveProxyProto bool
	trustedProxyNets  []*net.IPNet
	ngrokToken        string
	ngrokRemoteAddr   string

	activeConnections sync.WaitGroup
}

func NewConnector(state *ProxyState, backends *BackendConnector, metrics *ProxyMetrics) *Connector {
	return &Connector{
		state:        state,
		backends:     backends,
		metrics:      metrics,
		pollInterval: DefaultPollInterval,
		clientFilter: NewClientFilterAllowAll(),
	}
}

// UseAuthenticator enables mojang authentication of players, offline mode is used otherwise
func (c *Connector) UseAuthenticator(authenticator *MojangAuthenticator) {
	c.authenticator = authenticator
}

// UseIncomingForwarding trusts the player identity forwarded by an upstream proxy signing with secret.
// It takes precedence over an authenticator.
func (c *Connector) UseIncomingForwarding(secret string) {
	c.incomingSecret = []byte(secret)
}

func (c *Connector) UseFavicon(favicon *Favicon) {
	c.favicon = favicon
}

func (c *Connector) UsePollInterval(interval time.Duration) {
	if interval > 0 {
		c.pollInterval = interval
	}
}

func (c *Connector) UseClientFilter(filter *ClientFilter) {
	c.clientFilter = filter
}

func (c *Connector) UseAllowDenyConfig(config *AllowDenyConfig) {
	c.allowDenyConfig = config
}

func (c *Connector) UseConnectionNotifier(notifier ConnectionNotifier) {
	c.connectionNotifier = notifier
}

// UseReceiveProxyProto accepts PROXY protocol headers from trustedProxyNets, or from anyone when empty
func (c *Connector) UseReceiveProxyProto(trustedProxyNets []*net.IPNet) {
	c.receiveProxyProto = true
	c.trustedProxyNets = trustedProxyNets
}

func (c *Connector) UseNgrok(config NgrokConfig) {
	c.ngrokToken = config.Token
	c.ngrokRemoteAddr = config.RemoteAddr
}

// Listen opens the client facing listener, through ngrok when configured
func (c *Connector) Listen(ctx context.Context, listenAddress string) (net.Listener, error) {
	var ln net.Listener
	var err error
	if c.ngrokToken != "" {
		var options []ngrokConfig.TCPEndpointOption
		if c.ngrokRemoteAddr != "" {
			options = append(options, ngrokConfig.WithRemoteAddr(c.ngrokRemoteAddr))
		}
		tunnel, err := ngrok.Listen(ctx, ngrokConfig.TCPEndpoint(options...), ngrok.WithAuthtoken(c.ngrokToken))
		if err != nil {
			return nil, err
		}
		logrus.WithField("ngrokUrl", tunnel.URL()).Info("Listening for Minecraft client connections via ngrok tunnel")
		ln = tunnel
	} else {
		ln, err = net.Listen("tcp", listenAddress)
		if err != nil {
			return nil, err
		}
		logrus.WithField("listenAddress", listenAddress).Info("Listening for Minecraft client connections")
	}

	if c.receiveProxyProto {
		ln = &proxyproto.Listener{
			Listener: ln,
			Policy:   c.createProxyProtoPolicy(),
		}
		logrus.Info("Using PROXY protocol listener")
	}
	return ln, nil
}

// ParseTrustedProxyNets parses the CIDR blocks allowed to send PROXY protocol headers
func ParseTrustedProxyNets(cidrs []string) ([]*net.IPNet, error) {
	trustedIpNets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, ipNet, err := net.ParseCIDR(strings.TrimSpace(cidr))
		if err != nil {
			return nil, err
		}
		trustedIpNets = append(trustedIpNets, ipNet)
	}
	return trustedIpNets, nil
}

func (c *Connector) createProxyProtoPolicy() proxyproto.PolicyFunc {
	return func(upstream net.Addr) (proxyproto.Policy, error) {
		if len(c.trustedProxyNets) == 0 {
			return proxyproto.USE, nil
		}
		tcpAddr, ok := upstream.(*net.TCPAddr)
		if !ok {
			return proxyproto.IGNORE, nil
		}
		for _, trusted := range c.trustedProxyNets {
			if trusted.Contains(tcpAddr.IP) {
				return proxyproto.USE, nil
			}
		}
		return proxyproto.IGNORE, nil
	}
}

// AcceptConnections serves ln until ctx is done, admitting at most connRateLimit connections per second
func (c *Connector) AcceptConnections(ctx context.Context, ln net.Listener, connRateLimit int) error {
	go func() {
		<-ctx.Done()
		//noinspection GoUnhandledErrorResult
		ln.Close()
	}()

	if connRateLimit < 1 {
		connRateLimit = 1
	}
	bucket := ratelimit.NewBucketWithRate(float64(connRateLimit), int64(connRateLimit*2))

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-time.After(bucket.Take(1)):
			c.metrics.RateLimitAvailable.Set(float64(bucket.Available()))
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logrus.WithError(err).Error("Failed to accept connection")
				c.metrics.Errors.With("type", "accept").Add(1)
			} else {
				c.AcceptConnection(ctx, conn)
			}
		}
	}
}

// AcceptConnection handles an already accepted connection in the background, skipping rate limiting
func (c *Connector) AcceptConnection(ctx context.Context, conn net.Conn) {
	c.activeConnections.Add(1)
	go func() {
		defer c.activeConnections.Done()
		c.HandleConnection(ctx, conn)
	}()
}

// WaitForConnections blocks until every connection handled by this connector has ended
func (c *Connector) WaitForConnections() {
	c.activeConnections.Wait()
}

func (c *Connector) HandleConnection(ctx context.Context, frontendConn net.Conn) {
	c.metrics.ConnectionsFrontend.Add(1)
	//noinspection GoUnhandledErrorResult
	defer frontendConn.Close()

	// Behind a trusted proxy this is the address announced by its PROXY header
	clientAddr := frontendConn.RemoteAddr()
	logger := logrus.WithField("client", clientAddr)

	if !c.clientFilter.AllowAddr(clientAddr) {
		logger.Info("Client filtered")
		c.metrics.Errors.With("type", "client_filtered").Add(1)
		return
	}
	logger.Debug("Got connection")
	defer logger.Debug("Closing frontend connection")

	if err := frontendConn.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		logger.WithError(err).Error("Failed to set read deadline")
		c.metrics.Errors.With("type", "read_deadline").Add(1)
		return
	}

	reader := mcproto.NewPacketReader(frontendConn)
	first, err := reader.Reader().Peek(1)
	if err != nil {
		c.logReadError(logger, err, "Failed to read first byte")
		return
	}
	if first[0] == mcproto.PacketIdLegacyServerListPing {
		c.handleLegacyPing(frontendConn, reader, logger)
		return
	}

	packet, err := reader.ReadPacket()
	if err != nil {
		c.logReadError(logger, err, "Failed to read packet")
		return
	}
	if packet.PacketID != mcproto.PacketIdHandshake {
		logger.
			WithField("packetID", packet.PacketID).
			Error("Unexpected packetID, expected handshake")
		c.metrics.Errors.With("type", "unexpected_content").Add(1)
		return
	}

	handshake, err := mcproto.DecodeHandshake(packet.Data)
	if err != nil {
		logger.WithError(err).Error("Failed to read handshake")
		c.metrics.Errors.With("type", "read").Add(1)
		return
	}
	logger.
		WithField("handshake", handshake).
		Debug("Got handshake")

	switch handshake.NextState {
	case mcproto.StateStatus:
		c.handleStatus(frontendConn, reader, handshake, logger)
	case mcproto.StateLogin:
		if err := frontendConn.SetReadDeadline(time.Now().Add(loginTimeout)); err != nil {
			logger.WithError(err).Error("Failed to set read deadline")
			return
		}
		if err := c.handleLogin(ctx, frontendConn, reader, handshake); err != nil {
			c.logReadError(logger, err, "Player connection ended with an error")
		}
	default:
		logger.
			WithField("nextState", handshake.NextState).
			Warn("Unsupported next state in handshake")
		c.metrics.Errors.With("type", "unexpected_content").Add(1)
	}
}

// logReadError logs ordinary disconnects quietly and everything else as a fault
func (c *Connector) logReadError(logger *logrus.Entry, err error, message string) {
	if IsOrdinaryDisconnect(err) {
		logger.WithError(err).Debug("Client disconnected")
		return
	}
	logger.WithError(err).Warn(message)
	c.metrics.Errors.With("type", "read").Add(1)
}

func (c *Connector) handleStatus(frontendConn net.Conn, reader *mcproto.PacketReader, handshake *mcproto.Handshake, logger *logrus.Entry) {
	c.metrics.StatusRequests.Add(1)
	writer := mcproto.NewPacketWriter(frontendConn, handshake.ProtocolVersion)

	for {
		packet, err := reader.ReadPacket()
		if err != nil {
			c.logReadError(logger, err, "Failed to read status packet")
			return
		}

		switch packet.PacketID {
		case mcproto.PacketIdStatusRequest:
			response := BuildStatusResponse(c.state, handshake.ProtocolVersion, c.favicon.DataUri())
			if err := writer.WritePacket(response); err != nil {
				c.logReadError(logger, err, "Failed to write status response")
				return
			}
		case mcproto.PacketIdStatusPing:
			payload, err := mcproto.DecodeStatusPing(packet.Data)
			if err != nil {
				logger.WithError(err).Warn("Invalid status ping")
				return
			}
			if err := writer.WritePacket(&mcproto.StatusPong{Payload: payload}); err != nil {
				c.logReadError(logger, err, "Failed to write status pong")
			}
			return
		default:
			logger.WithField("packetID", packet.PacketID).Warn("Unexpected status packet")
			c.metrics.Errors.With("type", "unexpected_content").Add(1)
			return
		}
	}
}

func (c *Connector) handleLegacyPing(frontendConn net.Conn, reader *mcproto.PacketReader, logger *logrus.Entry) {
	c.metrics.StatusRequests.Add(1)
	ping, err := mcproto.ReadLegacyServerListPing(reader.Reader(), frontendConn.RemoteAddr())
	if err != nil {
		c.logReadError(logger, err, "Failed to read legacy server list ping")
		return
	}
	logger.WithField("ping", ping).Debug("Got legacy server list ping")

	players := c.state.StatusPlayers()
	err = mcproto.WriteLegacySLPResponse(frontendConn, legacyPingProtocol, legacyPingVersion,
		PlainMotd(c.state.Config.Status.Motd), players.Online, players.Max)
	if err != nil {
		c.logReadError(logger, err, "Failed to write legacy server list response")
	}
}
