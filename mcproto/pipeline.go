package mcproto

import (
	"fmt"
	"time"
)

// PacketSpec identifies which packets a handler accepts. A zero MaxVersion means no upper bound.
type PacketSpec struct {
	ID         int
	Direction  Direction
	MinVersion ProtocolVersion
	MaxVersion ProtocolVersion
}

func (s PacketSpec) matches(id int, direction Direction, version ProtocolVersion) bool {
	if s.ID != id || s.Direction != direction {
		return false
	}
	if version < s.MinVersion {
		return false
	}
	return s.MaxVersion == 0 || version <= s.MaxVersion
}

// Handler processes one decoded packet with the pipeline's context and produces a typed result
type Handler[C any, R any] func(ctx C, packet *Packet) (R, error)

// NoHandlerError is returned for packets no handler was registered for. Raw holds the
// undecoded packet so that it can be relayed.
type NoHandlerError struct {
	PacketID int
	Raw      []byte
}

func (e *NoHandlerError) Error() string {
	return fmt.Sprintf("no handler found for packet 0x%02X", e.PacketID)
}

type registeredHandler[C any, R any] struct {
	spec    PacketSpec
	handler Handler[C, R]
}

// Pipeline reads packets arriving in one direction of a connection and dispatches them to
// registered handlers.
type Pipeline[C any, R any] struct {
	reader    *PacketReader
	direction Direction
	version   ProtocolVersion
	handlers  []registeredHandler[C, R]
}

// NewPipeline creates a pipeline without handlers where direction is the direction of the packets read
func NewPipeline[C any, R any](reader *PacketReader, direction Direction, version ProtocolVersion) *Pipeline[C, R] {
	return &Pipeline[C, R]{
		reader:    reader,
		direction: direction,
		version:   version,
	}
}

// Rebind returns an equivalent pipeline over the same stream with no handlers registered.
// The given pipeline must not be used afterward.
func Rebind[C2 any, R2 any, C any, R any](p *Pipeline[C, R]) *Pipeline[C2, R2] {
	return NewPipeline[C2, R2](p.reader, p.direction, p.version)
}

// Register adds a handler. The first registered handler matching a packet wins.
func (p *Pipeline[C, R]) Register(spec PacketSpec, handler Handler[C, R]) {
	p.handlers = append(p.handlers, registeredHandler[C, R]{spec: spec, handler: handler})
}

func (p *Pipeline[C, R]) Reader() *PacketReader {
	return p.reader
}

func (p *Pipeline[C, R]) Version() ProtocolVersion {
	return p.version
}

// ExecuteNext reads exactly one packet and dispatches it. A packet without a handler results in
// a *NoHandlerError and any other error is a transport error.
func (p *Pipeline[C, R]) ExecuteNext(ctx C) (R, error) {
	packet, err := p.reader.ReadPacket()
	if err != nil {
		var zero R
		return zero, err
	}
	return p.dispatch(ctx, packet)
}

// ExecuteNextTimeout is ExecuteNext bounded by timeout while waiting for the packet to start.
// ErrNoData is returned when nothing arrived in time. Once a packet has started, the rest of it is
// bounded by the reader's frame timeout, after which ErrIncompleteFrame is returned.
func (p *Pipeline[C, R]) ExecuteNextTimeout(ctx C, timeout time.Duration) (R, error) {
	var zero R
	if err := p.reader.WaitReadable(timeout); err != nil {
		return zero, err
	}
	packet, err := p.reader.ReadPacketWithin()
	if err != nil {
		return zero, err
	}
	return p.dispatch(ctx, packet)
}

func (p *Pipeline[C, R]) dispatch(ctx C, packet *Packet) (R, error) {
	for _, h := range p.handlers {
		if h.spec.matches(packet.PacketID, p.direction, p.version) {
			return h.handler(ctx, packet)
		}
	}
	var zero R
	return zero, &NoHandlerError{PacketID: packet.PacketID, Raw: packet.Raw}
}
