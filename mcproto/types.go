package mcproto

import (
	"fmt"
	"io"
)

type Frame struct {
	Length  int
	Payload []byte
}

var trimLimit = 64

func trimBytes(data []byte) ([]byte, string) {
	if len(data) < trimLimit {
		return data, ""
	} else {
		return data[:trimLimit], "..."
	}
}

func (f *Frame) String() string {
	trimmed, cont := trimBytes(f.Payload)
	return fmt.Sprintf("Frame:[len=%d, payload=%#X%s]", f.Length, trimmed, cont)
}

// Packet is a single decoded frame. Raw holds the packet ID followed by the data, exactly as
// they appeared after decompression and decryption, so that the packet can be relayed unmodified.
type Packet struct {
	Length   int
	PacketID int
	Data     []byte
	Raw      []byte
}

func (p *Packet) String() string {
	trimmed, cont := trimBytes(p.Data)
	return fmt.Sprintf("Packet:[len=%d, packetId=%d, data=%#X%s]", p.Length, p.PacketID, trimmed, cont)
}

type State int

const (
	StateHandshaking State = 0
	StateStatus      State = 1
	StateLogin       State = 2
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateStatus:
		return "status"
	case StateLogin:
		return "login"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type ProtocolVersion int

const (
	ProtocolVersionUnknown ProtocolVersion = -1
	ProtocolVersion1_8     ProtocolVersion = 47
	ProtocolVersion1_13    ProtocolVersion = 393
	ProtocolVersion1_16    ProtocolVersion = 735
	ProtocolVersion1_19    ProtocolVersion = 759
	ProtocolVersion1_19_2  ProtocolVersion = 760
	ProtocolVersion1_19_3  ProtocolVersion = 761
	ProtocolVersion1_20_2  ProtocolVersion = 764
	ProtocolVersion1_20_5  ProtocolVersion = 766
	ProtocolVersion1_21_2  ProtocolVersion = 768
)

// SupportsIdentifiedKey reports whether login start may carry player key data for this version
func (v ProtocolVersion) SupportsIdentifiedKey() bool {
	return v >= ProtocolVersion1_19 && v <= ProtocolVersion1_19_2
}

// Direction is the direction a packet travels relative to the server
type Direction int

const (
	Serverbound Direction = iota
	Clientbound
)

func (d Direction) String() string {
	if d == Serverbound {
		return "serverbound"
	}
	return "clientbound"
}

const (
	PacketIdHandshake            = 0x00
	PacketIdLegacyServerListPing = 0xFE

	PacketIdStatusRequest  = 0x00
	PacketIdStatusResponse = 0x00
	PacketIdStatusPing     = 0x01
	PacketIdStatusPong     = 0x01

	PacketIdLoginStart          = 0x00
	PacketIdEncryptionResponse  = 0x01
	PacketIdLoginPluginResponse = 0x02
	PacketIdLoginAcknowledged   = 0x03

	PacketIdLoginDisconnect    = 0x00
	PacketIdEncryptionRequest  = 0x01
	PacketIdLoginSuccess       = 0x02
	PacketIdSetCompression     = 0x03
	PacketIdLoginPluginRequest = 0x04
)

const (
	// MaxFrameLength limits frame length to 2^21 - 1
	MaxFrameLength = 2097151
	// MaxUncompressedLength is the largest decompressed packet accepted
	MaxUncompressedLength = 8388608
	// MaxStringLength is the protocol wide upper bound for string lengths
	MaxStringLength = 32767
)

type Handshake struct {
	ProtocolVersion ProtocolVersion
	ServerAddress   string
	ServerPort      uint16
	NextState       State
}

type LegacyServerListPing struct {
	ProtocolVersion int
	ServerAddress   string
	ServerPort      uint16
}

type ByteReader interface {
	ReadByte() (byte, error)
}

// Encoder is implemented by every packet that can be written by a PacketWriter
type Encoder interface {
	PacketID(version ProtocolVersion) int
	Encode(w io.Writer, version ProtocolVersion) error
}
