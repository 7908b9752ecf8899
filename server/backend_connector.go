package server

import (
	"context"
	"net"
	"time"

	"github.com/McEntropy/Umbrella/mcproto"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const backendDialTimeout = 10 * time.Second

// DialFunc opens the TCP connection to a backend
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// ConnectedBackend is a backend connection that finished login but is not yet attached to a player session
type ConnectedBackend struct {
	Server   *ServerDescriptor
	Conn     net.Conn
	Pipeline *mcproto.Pipeline[*BackendContext, EndpointResolution]
	Writer   *mcproto.PacketWriter
}

// BackendConnector opens backend connections and logs them in on behalf of a client
type BackendConnector struct {
	config  *ProxyConfig
	metrics *ProxyMetrics
	dial    DialFunc
}

func NewBackendConnector(config *ProxyConfig, metrics *ProxyMetrics) *BackendConnector {
	dialer := &net.Dialer{Timeout: backendDialTimeout}
	return &BackendConnector{
		config:  config,
		metrics: metrics,
		dial:    dialer.DialContext,
	}
}

// UseDialer replaces how backend connections are opened
func (c *BackendConnector) UseDialer(dial DialFunc) {
	c.dial = dial
}

// Connect dials server and completes a login for client using the server's forwarding method.
// Configuration problems are reported before any connection is attempted.
func (c *BackendConnector) Connect(ctx context.Context, server *ServerDescriptor, client *ClientInfo) (*ConnectedBackend, error) {
	method := c.config.ForwardingFor(server)
	switch method.Kind {
	case ForwardingModern:
		if method.SecretKey == "" {
			return nil, newConfigError("servers."+server.ServerId+".forwarding", "velocity forwarding requires a secret_key")
		}
	case ForwardingLegacy:
		return nil, &ConfigError{Field: "servers." + server.ServerId + ".forwarding", Err: ErrLegacyForwardingUnsupported}
	default:
		return nil, newConfigError("servers."+server.ServerId+".forwarding", "unknown forwarding method %q", method.Kind)
	}

	// login plugin messages only exist since 1.13
	if client.ProtocolVersion < mcproto.ProtocolVersion1_13 {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "protocol %d cannot use velocity forwarding", client.ProtocolVersion)
	}

	address := server.Address()
	logger := logrus.
		WithField("player", client.Profile.Name).
		WithField("server", server.ServerId).
		WithField("backend", address)

	conn, err := c.dial(ctx, "tcp", address)
	if err != nil {
		c.metrics.Errors.With("type", "backend_failed").Add(1)
		return nil, &ConnectError{ServerId: server.ServerId, Address: address, Err: err}
	}
	c.metrics.ConnectionsBackend.With("server", server.ServerId).Add(1)
	logger.Debug("Connected to backend, logging in")

	connected, err := c.login(conn, server, client, []byte(method.SecretKey))
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	logger.Debug("Backend login complete")
	return connected, nil
}

type backendLoginStep int

const (
	backendLoginContinue backendLoginStep = iota
	backendLoginComplete
)

type backendLogin struct {
	server    *ServerDescriptor
	client    *ClientInfo
	secret    []byte
	reader    *mcproto.PacketReader
	writer    *mcproto.PacketWriter
	forwarded bool
}

func (c *BackendConnector) login(conn net.Conn, server *ServerDescriptor, client *ClientInfo, secret []byte) (*ConnectedBackend, error) {
	version := client.ProtocolVersion
	reader := mcproto.NewPacketReader(conn)
	writer := mcproto.NewPacketWriter(conn, version)

	err := writer.WritePacket(&mcproto.Handshake{
		ProtocolVersion: version,
		ServerAddress:   server.ServerIp,
		ServerPort:      server.ServerPort,
		NextState:       mcproto.StateLogin,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to send handshake to backend")
	}

	if err := writer.WritePacket(backendLoginStart(client)); err != nil {
		return nil, errors.Wrap(err, "failed to send login start to backend")
	}

	pipeline := mcproto.NewPipeline[*backendLogin, backendLoginStep](reader, mcproto.Clientbound, version)
	pipeline.Register(mcproto.PacketSpec{ID: mcproto.PacketIdLoginPluginRequest, Direction: mcproto.Clientbound},
		handleBackendPluginRequest)
	pipeline.Register(mcproto.PacketSpec{ID: mcproto.PacketIdSetCompression, Direction: mcproto.Clientbound},
		handleBackendSetCompression)
	pipeline.Register(mcproto.PacketSpec{ID: mcproto.PacketIdLoginSuccess, Direction: mcproto.Clientbound},
		handleBackendLoginSuccess)
	pipeline.Register(mcproto.PacketSpec{ID: mcproto.PacketIdLoginDisconnect, Direction: mcproto.Clientbound},
		handleBackendLoginDisconnect)
	pipeline.Register(mcproto.PacketSpec{ID: mcproto.PacketIdEncryptionRequest, Direction: mcproto.Clientbound},
		func(*backendLogin, *mcproto.Packet) (backendLoginStep, error) {
			return backendLoginContinue, ErrOnlineModeBackend
		})

	exchange := &backendLogin{
		server: server,
		client: client,
		secret: secret,
		reader: reader,
		writer: writer,
	}
	for {
		step, err := pipeline.ExecuteNext(exchange)
		if err != nil {
			var noHandler *mcproto.NoHandlerError
			if errors.As(err, &noHandler) {
				return nil, errors.Errorf("unexpected packet 0x%02X from backend during login", noHandler.PacketID)
			}
			return nil, err
		}
		if step == backendLoginComplete {
			break
		}
	}

	if version >= mcproto.ProtocolVersion1_20_2 {
		if err := writer.WritePacket(mcproto.LoginAcknowledged{}); err != nil {
			return nil, errors.Wrap(err, "failed to acknowledge backend login")
		}
	}

	steady := mcproto.Rebind[*BackendContext, EndpointResolution](pipeline)
	RegisterBackendHandlers(steady)

	return &ConnectedBackend{
		Server:   server,
		Conn:     conn,
		Pipeline: steady,
		Writer:   writer,
	}, nil
}

func backendLoginStart(client *ClientInfo) *mcproto.LoginStart {
	version := client.ProtocolVersion
	loginStart := &mcproto.LoginStart{Name: client.Profile.Name}
	if version.SupportsIdentifiedKey() {
		loginStart.IdentifiedKey = client.IdentifiedKey
	}
	switch {
	case version >= mcproto.ProtocolVersion1_20_2:
		if client.SigHolder != nil {
			loginStart.PlayerUuid = client.SigHolder
		} else {
			id := client.Profile.Id
			loginStart.PlayerUuid = &id
		}
	case version >= mcproto.ProtocolVersion1_19_2:
		loginStart.PlayerUuid = client.SigHolder
	}
	return loginStart
}

func handleBackendPluginRequest(login *backendLogin, packet *mcproto.Packet) (backendLoginStep, error) {
	request, err := mcproto.DecodeLoginPluginRequest(packet.Data)
	if err != nil {
		return backendLoginContinue, err
	}

	if request.Channel != ForwardingChannel {
		// not understood, as a vanilla client would answer
		return backendLoginContinue, login.writer.WritePacket(&mcproto.LoginPluginResponse{
			MessageId:  request.MessageId,
			Successful: false,
		})
	}
	if login.forwarded {
		return backendLoginContinue, &ForwardingError{Op: "request", Err: errors.New("backend requested forwarding data twice")}
	}

	data, err := ForwardingResponseData(login.secret, login.client, request.Data)
	if err != nil {
		return backendLoginContinue, err
	}
	logrus.
		WithField("player", login.client.Profile.Name).
		WithField("server", login.server.ServerId).
		WithField("version", NegotiateForwardingVersion(request.Data, login.client)).
		Debug("Sending forwarding data")

	login.forwarded = true
	return backendLoginContinue, login.writer.WritePacket(&mcproto.LoginPluginResponse{
		MessageId:  request.MessageId,
		Successful: true,
		Data:       data,
	})
}

func handleBackendSetCompression(login *backendLogin, packet *mcproto.Packet) (backendLoginStep, error) {
	compression, err := mcproto.DecodeSetCompression(packet.Data)
	if err != nil {
		return backendLoginContinue, err
	}
	login.reader.SetCompressionThreshold(compression.Threshold)
	login.writer.SetCompressionThreshold(compression.Threshold)
	return backendLoginContinue, nil
}

func handleBackendLoginSuccess(login *backendLogin, _ *mcproto.Packet) (backendLoginStep, error) {
	if !login.forwarded {
		return backendLoginContinue, ErrForwardingNotAcknowledged
	}
	return backendLoginComplete, nil
}

func handleBackendLoginDisconnect(login *backendLogin, packet *mcproto.Packet) (backendLoginStep, error) {
	disconnect, err := mcproto.DecodeLoginDisconnect(packet.Data)
	if err != nil {
		return backendLoginContinue, err
	}
	return backendLoginContinue, &DisconnectedError{ServerId: login.server.ServerId, Reason: disconnect.Reason}
}
