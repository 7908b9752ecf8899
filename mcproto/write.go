package mcproto

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"strconv"
	"unicode/utf16"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// WriteVarInt writes a VarInt (Minecraft format) to w
func WriteVarInt(w io.Writer, value int32) error {
	var buf [5]byte
	i := 0
	v := uint32(value)
	for {
		temp := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			temp |= 0x80
		}
		buf[i] = temp
		i++
		if v == 0 {
			break
		}
	}
	_, err := w.Write(buf[:i])
	return err
}

// WriteString writes a Minecraft length-prefixed string
func WriteString(w io.Writer, s string) error {
	return WriteStringMax(w, s, MaxStringLength)
}

// WriteStringMax writes a length-prefixed string, failing rather than truncating when s is longer than maxLength bytes
func WriteStringMax(w io.Writer, s string, maxLength int) error {
	if len(s) > maxLength {
		return errors.Errorf("string length %d exceeds maximum of %d", len(s), maxLength)
	}
	if err := WriteVarInt(w, int32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func WriteBoolean(w io.Writer, value bool) error {
	b := []byte{0}
	if value {
		b[0] = 1
	}
	_, err := w.Write(b)
	return err
}

func WriteUnsignedShort(w io.Writer, value uint16) error {
	return binary.Write(w, binary.BigEndian, value)
}

func WriteLong(w io.Writer, value int64) error {
	return binary.Write(w, binary.BigEndian, value)
}

func WriteUuid(w io.Writer, value uuid.UUID) error {
	_, err := w.Write(value[:])
	return err
}

// WritePrefixedByteArray writes data with a VarInt length prefix
func WritePrefixedByteArray(w io.Writer, data []byte) error {
	if err := WriteVarInt(w, int32(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// EncodePacket serializes the packet ID and body of p as they appear inside a frame
func EncodePacket(p Encoder, version ProtocolVersion) ([]byte, error) {
	var b bytes.Buffer
	if err := WriteVarInt(&b, int32(p.PacketID(version))); err != nil {
		return nil, err
	}
	if err := p.Encode(&b, version); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// WriteLegacySLPResponse writes the 1.6-compatible legacy response packet (0xFF)
// Format: FF, [length short], UTF16BE string beginning with "§1\u0000" then null-delimited fields
// fields: protocol, version, motd, online, max
func WriteLegacySLPResponse(w io.Writer, protocol int, version string, motd string, online int, max int) error {
	// Build the string with null separators
	s := "§1\u0000" +
		strconv.Itoa(protocol) + "\u0000" +
		version + "\u0000" +
		motd + "\u0000" +
		strconv.Itoa(online) + "\u0000" +
		strconv.Itoa(max)

	// Encode UTF-16BE
	runes := []rune(s)
	encoded := utf16.Encode(runes)
	var be bytes.Buffer
	for _, v := range encoded {
		var tmp [2]byte
		binary.BigEndian.PutUint16(tmp[:], v)
		be.Write(tmp[:])
	}

	bw := bufio.NewWriter(w)
	// 0xFF
	if _, err := bw.Write([]byte{0xFF}); err != nil {
		return err
	}
	// length short in code units
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(encoded)))
	if _, err := bw.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := bw.Write(be.Bytes()); err != nil {
		return err
	}
	return bw.Flush()
}
