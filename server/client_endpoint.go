package server

import (
	"time"

	"github.com/McEntropy/Umbrella/mcproto"
	"github.com/pkg/errors"
)

// ClientRead is one packet read from the client: either a handler's resolution, or Raw bytes that
// no handler claimed and that belong to the backend.
type ClientRead struct {
	Resolution EndpointResolution
	Raw        []byte
}

// ClientEndpoint is the client half of a player session
type ClientEndpoint struct {
	client   *ClientInfo
	pipeline *mcproto.Pipeline[*ClientInfo, EndpointResolution]
	writer   *mcproto.PacketWriter
}

// NewClientEndpoint wraps the reader and writer of an authenticated client. No serverbound play
// packets are modelled, so everything the client sends is relayed.
func NewClientEndpoint(client *ClientInfo, reader *mcproto.PacketReader, writer *mcproto.PacketWriter) *ClientEndpoint {
	return &ClientEndpoint{
		client:   client,
		pipeline: mcproto.NewPipeline[*ClientInfo, EndpointResolution](reader, mcproto.Serverbound, client.ProtocolVersion),
		writer:   writer,
	}
}

func (e *ClientEndpoint) Pipeline() *mcproto.Pipeline[*ClientInfo, EndpointResolution] {
	return e.pipeline
}

func (e *ClientEndpoint) Writer() *mcproto.PacketWriter {
	return e.writer
}

// ReadNextWithTimeout reads one client packet. received is false when nothing arrived within timeout.
func (e *ClientEndpoint) ReadNextWithTimeout(timeout time.Duration) (read ClientRead, received bool, err error) {
	resolution, err := e.pipeline.ExecuteNextTimeout(e.client, timeout)
	if err == nil {
		return ClientRead{Resolution: resolution}, true, nil
	}
	if errors.Is(err, mcproto.ErrNoData) {
		return ClientRead{}, false, nil
	}

	var noHandler *mcproto.NoHandlerError
	if errors.As(err, &noHandler) {
		return ClientRead{Raw: noHandler.Raw}, true, nil
	}
	return ClientRead{}, false, err
}
