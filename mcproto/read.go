package mcproto

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

func ReadLegacyServerListPing(reader *bufio.Reader, addr net.Addr) (*LegacyServerListPing, error) {
	logrus.
		WithField("client", addr).
		Debug("Reading legacy server list ping")

	packetId, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if packetId != PacketIdLegacyServerListPing {
		return nil, errors.Errorf("expected legacy server listing ping packet ID, got %x", packetId)
	}

	payload, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if payload != 0x01 {
		return nil, errors.Errorf("expected payload=1 from legacy server listing ping, got %x", payload)
	}

	packetIdForPluginMsg, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if packetIdForPluginMsg != 0xFA {
		return nil, errors.Errorf("expected packetIdForPluginMsg=0xFA from legacy server listing ping, got %x", packetIdForPluginMsg)
	}

	messageNameShortLen, err := ReadUnsignedShort(reader)
	if err != nil {
		return nil, err
	}
	if messageNameShortLen != 11 {
		return nil, errors.Errorf("expected messageNameShortLen=11 from legacy server listing ping, got %d", messageNameShortLen)
	}

	messageName, err := ReadUTF16BEString(reader, messageNameShortLen)
	if err != nil {
		return nil, err
	}
	if messageName != "MC|PingHost" {
		return nil, errors.Errorf("expected messageName=MC|PingHost, got %s", messageName)
	}

	remainingLen, err := ReadUnsignedShort(reader)
	if err != nil {
		return nil, err
	}
	remainingReader := io.LimitReader(reader, int64(remainingLen))

	protocolVersion, err := ReadByte(remainingReader)
	if err != nil {
		return nil, err
	}

	hostnameLen, err := ReadUnsignedShort(remainingReader)
	if err != nil {
		return nil, err
	}
	hostname, err := ReadUTF16BEString(remainingReader, hostnameLen)
	if err != nil {
		return nil, err
	}

	port, err := ReadUnsignedInt(remainingReader)
	if err != nil {
		return nil, err
	}

	return &LegacyServerListPing{
		ProtocolVersion: int(protocolVersion),
		ServerAddress:   hostname,
		ServerPort:      uint16(port),
	}, nil
}

func ReadUTF16BEString(reader io.Reader, symbolLen uint16) (string, error) {
	bsUtf16be := make([]byte, int(symbolLen)*2)

	_, err := io.ReadFull(reader, bsUtf16be)
	if err != nil {
		return "", err
	}

	result, _, err := transform.Bytes(unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder(), bsUtf16be)
	if err != nil {
		return "", err
	}

	return string(result), nil
}

// ReadFrame reads a length prefixed frame. An io.EOF is only returned when the stream ended
// cleanly before the frame started.
func ReadFrame(reader io.Reader) (*Frame, error) {
	var err error
	frame := &Frame{}

	frame.Length, err = ReadVarInt(reader)
	if err != nil {
		return nil, err
	}

	if frame.Length < 0 || frame.Length > MaxFrameLength {
		return nil, errors.Errorf("frame length %d out of range", frame.Length)
	}

	frame.Payload = make([]byte, frame.Length)
	if _, err := io.ReadFull(reader, frame.Payload); err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	return frame, nil
}

// ReadVarInt reads a protocol VarInt, which is at most five bytes and may encode negative values
func ReadVarInt(reader io.Reader) (int, error) {
	b := make([]byte, 1)
	var numRead uint = 0
	var result uint32
	for numRead < 5 {
		n, err := reader.Read(b)
		if n == 0 {
			if err == nil {
				continue
			}
			if err == io.EOF && numRead > 0 {
				return 0, io.ErrUnexpectedEOF
			}
			return 0, err
		}
		value := b[0] & 0x7F
		result |= uint32(value) << (7 * numRead)

		numRead++

		if b[0]&0x80 == 0 {
			return int(int32(result)), nil
		}
	}

	return 0, errors.New("VarInt is too big")
}

// ReadString reads a VarInt length prefixed UTF-8 string of at most MaxStringLength bytes
func ReadString(reader io.Reader) (string, error) {
	return ReadStringMax(reader, MaxStringLength)
}

func ReadStringMax(reader io.Reader, maxLength int) (string, error) {
	length, err := ReadVarInt(reader)
	if err != nil {
		return "", err
	}
	if length < 0 || length > maxLength*3 {
		return "", errors.Errorf("string length %d exceeds maximum of %d", length, maxLength)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return "", err
	}

	return string(buf), nil
}

func ReadByte(reader io.Reader) (byte, error) {
	buf := make([]byte, 1)
	_, err := io.ReadFull(reader, buf)
	if err != nil {
		return 0, err
	} else {
		return buf[0], nil
	}
}

func ReadBoolean(reader io.Reader) (bool, error) {
	b, err := ReadByte(reader)
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func ReadUnsignedShort(reader io.Reader) (uint16, error) {
	var value uint16
	err := binary.Read(reader, binary.BigEndian, &value)
	if err != nil {
		return 0, err
	}
	return value, nil
}

func ReadUnsignedInt(reader io.Reader) (uint32, error) {
	var value uint32
	err := binary.Read(reader, binary.BigEndian, &value)
	if err != nil {
		return 0, err
	}
	return value, nil
}

func ReadLong(reader io.Reader) (int64, error) {
	var value int64
	err := binary.Read(reader, binary.BigEndian, &value)
	if err != nil {
		return 0, err
	}
	return value, nil
}

func ReadUuid(reader io.Reader) (uuid.UUID, error) {
	buf := make([]byte, 16)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return uuid.Nil, err
	}
	return uuid.FromBytes(buf)
}

// ReadByteArray reads exactly length bytes
func ReadByteArray(reader io.Reader, length int) ([]byte, error) {
	if length < 0 {
		return nil, errors.Errorf("negative byte array length %d", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadPrefixedByteArray reads a VarInt length prefixed byte array of at most maxLength bytes
func ReadPrefixedByteArray(reader io.Reader, maxLength int) ([]byte, error) {
	length, err := ReadVarInt(reader)
	if err != nil {
		return nil, err
	}
	if length > maxLength {
		return nil, errors.Errorf("byte array length %d exceeds maximum of %d", length, maxLength)
	}
	return ReadByteArray(reader, length)
}
