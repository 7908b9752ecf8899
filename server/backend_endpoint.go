package server

import (
	"bytes"
	"context"
	"time"

	"github.com/McEntropy/Umbrella/mcproto"
	"github.com/go-kit/kit/metrics"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// SwitchChannel is the plugin channel a backend uses to move a player to another server.
// The message data is the target server id as a string.
const SwitchChannel = "umbrella:switch"

// EndpointResolution is the outcome of dispatching one backend packet
type EndpointResolution interface {
	endpointResolution()
}

// NoAction means the packet was dealt with and the session carries on
type NoAction struct{}

// DisconnectGracefully ends the session without an error
type DisconnectGracefully struct{}

// SwitchServer moves the player to another backend. Server, when set, takes precedence over ServerId.
type SwitchServer struct {
	ServerId string
	Server   *ServerDescriptor
}

func (NoAction) endpointResolution()             {}
func (DisconnectGracefully) endpointResolution() {}
func (SwitchServer) endpointResolution()         {}

// BackendContext is the per-session state handed to backend packet handlers.
// It exclusively owns both writers.
type BackendContext struct {
	Client        *ClientInfo
	ClientWriter  *mcproto.PacketWriter
	BackendWriter *mcproto.PacketWriter
	Server        *ServerDescriptor
	// BytesRelayed counts what is relayed from the backend to the client, when set
	BytesRelayed metrics.Counter
}

// relayToClient writes a raw backend packet to the client
func (c *BackendContext) relayToClient(raw []byte) error {
	if err := c.ClientWriter.WriteRaw(raw); err != nil {
		return err
	}
	if c.BytesRelayed != nil {
		c.BytesRelayed.Add(float64(len(raw)))
	}
	return nil
}

// BackendEndpoint is the backend half of a player session. Its pipeline and the BackendWriter of its
// context always belong to the same backend connection.
type BackendEndpoint struct {
	context  *BackendContext
	pipeline *mcproto.Pipeline[*BackendContext, EndpointResolution]
	backend  *ConnectedBackend
}

// CreateInitialBackend connects the first backend of a session
func CreateInitialBackend(ctx context.Context, connector *BackendConnector, server *ServerDescriptor, client *ClientInfo) (*ConnectedBackend, error) {
	return connector.Connect(ctx, server, client)
}

// NewBackendEndpoint attaches a connected backend to a client
func NewBackendEndpoint(client *ClientInfo, clientWriter *mcproto.PacketWriter, backend *ConnectedBackend) *BackendEndpoint {
	return &BackendEndpoint{
		context: &BackendContext{
			Client:        client,
			ClientWriter:  clientWriter,
			BackendWriter: backend.Writer,
			Server:        backend.Server,
		},
		pipeline: backend.Pipeline,
		backend:  backend,
	}
}

// MergeBackendEndpoint replaces the backend half of old with next, keeping the client and its writer.
// The previous backend connection is closed and old must not be used afterward.
func MergeBackendEndpoint(old *BackendEndpoint, next *ConnectedBackend) *BackendEndpoint {
	merged := NewBackendEndpoint(old.context.Client, old.context.ClientWriter, next)
	merged.context.BytesRelayed = old.context.BytesRelayed

	if err := old.Close(); err != nil {
		logrus.
			WithError(err).
			WithField("server", old.context.Server.ServerId).
			Debug("Error closing previous backend")
	}
	old.context = nil
	old.pipeline = nil
	old.backend = nil

	return merged
}

// UseBytesCounter counts bytes relayed to the client with counter
func (e *BackendEndpoint) UseBytesCounter(counter metrics.Counter) {
	e.context.BytesRelayed = counter
}

func (e *BackendEndpoint) Context() *BackendContext {
	return e.context
}

func (e *BackendEndpoint) Server() *ServerDescriptor {
	return e.context.Server
}

// ReadNextWithTimeout reads and dispatches one backend packet. Packets without a handler are relayed
// to the client unchanged and resolve to NoAction. received is false when nothing arrived within timeout.
func (e *BackendEndpoint) ReadNextWithTimeout(timeout time.Duration) (resolution EndpointResolution, received bool, err error) {
	resolution, err = e.pipeline.ExecuteNextTimeout(e.context, timeout)
	if err == nil {
		return resolution, true, nil
	}
	if errors.Is(err, mcproto.ErrNoData) {
		return nil, false, nil
	}

	var noHandler *mcproto.NoHandlerError
	if errors.As(err, &noHandler) {
		if err := e.context.relayToClient(noHandler.Raw); err != nil {
			return nil, true, errors.Wrap(err, "failed to relay packet to client")
		}
		return NoAction{}, true, nil
	}
	return nil, false, err
}

// ForwardToServer relays a raw client packet to the backend
func (e *BackendEndpoint) ForwardToServer(raw []byte) error {
	return e.context.BackendWriter.WriteRaw(raw)
}

func (e *BackendEndpoint) Close() error {
	if e.backend == nil {
		return nil
	}
	return e.backend.Conn.Close()
}

// RegisterBackendHandlers installs the steady state handlers of backend connections
func RegisterBackendHandlers(pipeline *mcproto.Pipeline[*BackendContext, EndpointResolution]) {
	for _, spec := range mcproto.ClientboundPlayDisconnectSpecs() {
		pipeline.Register(spec, handleBackendDisconnect)
	}
	for _, spec := range mcproto.ClientboundPlayPluginMessageSpecs() {
		pipeline.Register(spec, handleBackendPluginMessage)
	}
}

func handleBackendDisconnect(ctx *BackendContext, packet *mcproto.Packet) (EndpointResolution, error) {
	if err := ctx.relayToClient(packet.Raw); err != nil {
		return nil, err
	}
	return DisconnectGracefully{}, nil
}

func handleBackendPluginMessage(ctx *BackendContext, packet *mcproto.Packet) (EndpointResolution, error) {
	message, err := mcproto.DecodePlayPluginMessage(packet.Data)
	if err != nil {
		return nil, err
	}
	if message.Channel != SwitchChannel {
		return NoAction{}, ctx.relayToClient(packet.Raw)
	}

	target, err := mcproto.ReadString(bytes.NewReader(message.Data))
	if err != nil {
		return nil, errors.Wrap(err, "invalid switch request")
	}
	return SwitchServer{ServerId: target}, nil
}
