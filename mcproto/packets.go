package mcproto

import (
	"encoding/json"
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

func (h *Handshake) PacketID(ProtocolVersion) int {
	return PacketIdHandshake
}

func (h *Handshake) Encode(w io.Writer, _ ProtocolVersion) error {
	if err := WriteVarInt(w, int32(h.ProtocolVersion)); err != nil {
		return err
	}
	if err := WriteStringMax(w, h.ServerAddress, 255); err != nil {
		return errors.Wrap(err, "handshake server address")
	}
	if err := WriteUnsignedShort(w, h.ServerPort); err != nil {
		return err
	}
	return WriteVarInt(w, int32(h.NextState))
}

type LoginStart struct {
	Name string
	// IdentifiedKey is only carried by 1.19 - 1.19.2
	IdentifiedKey *IdentifiedKey
	// PlayerUuid is optional for 1.19.1 - 1.20.1, mandatory from 1.20.2 and absent before
	PlayerUuid *uuid.UUID
}

func (l *LoginStart) PacketID(ProtocolVersion) int {
	return PacketIdLoginStart
}

func (l *LoginStart) Encode(w io.Writer, version ProtocolVersion) error {
	if err := WriteStringMax(w, l.Name, 16); err != nil {
		return errors.Wrap(err, "login start name")
	}

	if version.SupportsIdentifiedKey() {
		if err := WriteBoolean(w, l.IdentifiedKey != nil); err != nil {
			return err
		}
		if l.IdentifiedKey != nil {
			if err := l.IdentifiedKey.Write(w); err != nil {
				return errors.Wrap(err, "login start identified key")
			}
		}
	}

	switch {
	case version >= ProtocolVersion1_19_2 && version < ProtocolVersion1_20_2:
		if err := WriteBoolean(w, l.PlayerUuid != nil); err != nil {
			return err
		}
		if l.PlayerUuid != nil {
			return WriteUuid(w, *l.PlayerUuid)
		}
	case version >= ProtocolVersion1_20_2:
		if l.PlayerUuid == nil {
			return errors.Errorf("login start for protocol %d requires a player uuid", version)
		}
		return WriteUuid(w, *l.PlayerUuid)
	}
	return nil
}

type LoginPluginRequest struct {
	MessageId int
	Channel   string
	Data      []byte
}

func (r *LoginPluginRequest) PacketID(ProtocolVersion) int {
	return PacketIdLoginPluginRequest
}

func (r *LoginPluginRequest) Encode(w io.Writer, _ ProtocolVersion) error {
	if err := WriteVarInt(w, int32(r.MessageId)); err != nil {
		return err
	}
	if err := WriteString(w, r.Channel); err != nil {
		return err
	}
	_, err := w.Write(r.Data)
	return err
}

type LoginPluginResponse struct {
	MessageId  int
	Successful bool
	Data       []byte
}

func (r *LoginPluginResponse) PacketID(ProtocolVersion) int {
	return PacketIdLoginPluginResponse
}

func (r *LoginPluginResponse) Encode(w io.Writer, _ ProtocolVersion) error {
	if err := WriteVarInt(w, int32(r.MessageId)); err != nil {
		return err
	}
	if err := WriteBoolean(w, r.Successful); err != nil {
		return err
	}
	_, err := w.Write(r.Data)
	return err
}

type SetCompression struct {
	Threshold int
}

func (s *SetCompression) PacketID(ProtocolVersion) int {
	return PacketIdSetCompression
}

func (s *SetCompression) Encode(w io.Writer, _ ProtocolVersion) error {
	return WriteVarInt(w, int32(s.Threshold))
}

type LoginSuccess struct {
	Profile *GameProfile
}

func (l *LoginSuccess) PacketID(ProtocolVersion) int {
	return PacketIdLoginSuccess
}

// Encode writes the version specific login success layout
func (l *LoginSuccess) Encode(w io.Writer, version ProtocolVersion) error {
	if version < ProtocolVersion1_16 {
		if err := WriteStringMax(w, l.Profile.Id.String(), 36); err != nil {
			return err
		}
	} else {
		if err := WriteUuid(w, l.Profile.Id); err != nil {
			return err
		}
	}
	if err := WriteStringMax(w, l.Profile.Name, 16); err != nil {
		return err
	}
	if version >= ProtocolVersion1_19 {
		if err := writeProperties(w, l.Profile.Properties); err != nil {
			return err
		}
	}
	if version >= ProtocolVersion1_20_5 && version < ProtocolVersion1_21_2 {
		// strict error handling
		return WriteBoolean(w, false)
	}
	return nil
}

type LoginAcknowledged struct{}

func (LoginAcknowledged) PacketID(ProtocolVersion) int {
	return PacketIdLoginAcknowledged
}

func (LoginAcknowledged) Encode(io.Writer, ProtocolVersion) error {
	return nil
}

// LoginDisconnect carries a JSON text component
type LoginDisconnect struct {
	Reason string
}

// NewLoginDisconnect builds a disconnect with a plain text reason
func NewLoginDisconnect(text string) *LoginDisconnect {
	reason, _ := json.Marshal(struct {
		Text string `json:"text"`
	}{Text: text})
	return &LoginDisconnect{Reason: string(reason)}
}

func (d *LoginDisconnect) PacketID(ProtocolVersion) int {
	return PacketIdLoginDisconnect
}

func (d *LoginDisconnect) Encode(w io.Writer, _ ProtocolVersion) error {
	return WriteString(w, d.Reason)
}

type EncryptionRequest struct {
	ServerId           string
	PublicKey          []byte
	VerifyToken        []byte
	ShouldAuthenticate bool
}

func (e *EncryptionRequest) PacketID(ProtocolVersion) int {
	return PacketIdEncryptionRequest
}

func (e *EncryptionRequest) Encode(w io.Writer, version ProtocolVersion) error {
	if err := WriteStringMax(w, e.ServerId, 20); err != nil {
		return err
	}
	if err := WritePrefixedByteArray(w, e.PublicKey); err != nil {
		return err
	}
	if err := WritePrefixedByteArray(w, e.VerifyToken); err != nil {
		return err
	}
	if version >= ProtocolVersion1_20_5 {
		return WriteBoolean(w, e.ShouldAuthenticate)
	}
	return nil
}

type EncryptionResponse struct {
	SharedSecret []byte
	VerifyToken  []byte
	// Salt and Signature replace VerifyToken for keyed 1.19 - 1.19.2 clients
	Salt      int64
	Signature []byte
}

func (e *EncryptionResponse) PacketID(ProtocolVersion) int {
	return PacketIdEncryptionResponse
}

func (e *EncryptionResponse) Encode(w io.Writer, version ProtocolVersion) error {
	if err := WritePrefixedByteArray(w, e.SharedSecret); err != nil {
		return err
	}
	hasVerifyToken := e.VerifyToken != nil
	if version.SupportsIdentifiedKey() {
		if err := WriteBoolean(w, hasVerifyToken); err != nil {
			return err
		}
	} else if !hasVerifyToken {
		return errors.Errorf("protocol %d requires a verify token", version)
	}
	if hasVerifyToken {
		return WritePrefixedByteArray(w, e.VerifyToken)
	}
	if err := WriteLong(w, e.Salt); err != nil {
		return err
	}
	return WritePrefixedByteArray(w, e.Signature)
}

type StatusVersion struct {
	Name     string `json:"name"`
	Protocol int    `json:"protocol"`
}

type PlayerEntry struct {
	Name string `json:"name"`
	ID   string `json:"id"`
}

type StatusPlayers struct {
	Max    int           `json:"max"`
	Online int           `json:"online"`
	Sample []PlayerEntry `json:"sample,omitempty"`
}

// StatusResponse is a minimal structure for the status JSON
type StatusResponse struct {
	Version            StatusVersion   `json:"version"`
	Players            StatusPlayers   `json:"players"`
	Description        json.RawMessage `json:"description"`
	Favicon            string          `json:"favicon,omitempty"`
	EnforcesSecureChat *bool           `json:"enforcesSecureChat,omitempty"`
}

func (s *StatusResponse) PacketID(ProtocolVersion) int {
	return PacketIdStatusResponse
}

func (s *StatusResponse) Encode(w io.Writer, _ ProtocolVersion) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return WriteString(w, string(b))
}

type StatusPong struct {
	Payload int64
}

func (p *StatusPong) PacketID(ProtocolVersion) int {
	return PacketIdStatusPong
}

func (p *StatusPong) Encode(w io.Writer, _ ProtocolVersion) error {
	return WriteLong(w, p.Payload)
}
