package mcproto

import (
	"bytes"
	"strings"

	"github.com/pkg/errors"
)

// DecodeHandshake takes the Packet.Data bytes and decodes a Handshake message from it
func DecodeHandshake(data []byte) (*Handshake, error) {
	handshake := &Handshake{}
	buffer := bytes.NewBuffer(data)
	var err error

	protocolVersion, err := ReadVarInt(buffer)
	if err != nil {
		return nil, err
	}
	handshake.ProtocolVersion = ProtocolVersion(protocolVersion)

	handshake.ServerAddress, err = ReadStringMax(buffer, 255)
	if err != nil {
		return nil, err
	}

	// Forge Mod Loader adds some data after the server address. Truncate it.
	handshake.ServerAddress, _, _ = strings.Cut(handshake.ServerAddress, string(rune(0)))

	handshake.ServerPort, err = ReadUnsignedShort(buffer)
	if err != nil {
		return nil, err
	}

	nextState, err := ReadVarInt(buffer)
	if err != nil {
		return nil, err
	}
	handshake.NextState = State(nextState)
	return handshake, nil
}

// DecodeLoginStart takes the Packet.Data bytes and decodes a LoginStart message from it
func DecodeLoginStart(protocolVersion ProtocolVersion, data []byte) (*LoginStart, error) {
	loginStart := &LoginStart{}
	buffer := bytes.NewBuffer(data)
	var err error

	loginStart.Name, err = ReadStringMax(buffer, 16)
	if err != nil {
		return loginStart, errors.Wrap(err, "failed to read username")
	}

	// References:
	// * https://minecraft.wiki/w/Minecraft_Wiki:Projects/wiki.vg_merge/Protocol?oldid=2772902#Login_Start
	if protocolVersion.SupportsIdentifiedKey() {
		hasSignatureData, err := ReadBoolean(buffer)
		if err != nil {
			return loginStart, errors.Wrap(err, "failed to read has signature data flag")
		}

		if hasSignatureData {
			loginStart.IdentifiedKey, err = ReadIdentifiedKey(buffer)
			if err != nil {
				return loginStart, err
			}
		}
	}

	// References:
	// * https://minecraft.wiki/w/Minecraft_Wiki:Projects/wiki.vg_merge/Protocol?oldid=2772944#Login_Start
	switch {
	case protocolVersion >= ProtocolVersion1_19_2 && protocolVersion < ProtocolVersion1_20_2:
		// Check to see if a UUID was provided at all
		hasUUID, err := ReadBoolean(buffer)
		if err != nil {
			return loginStart, errors.Wrap(err, "failed to read has uuid flag")
		}

		if !hasUUID {
			break
		}
		fallthrough
	case protocolVersion >= ProtocolVersion1_20_2:
		// For 1.20.2 and later, the UUID is always present
		playerUuid, err := ReadUuid(buffer)
		if err != nil {
			return loginStart, errors.Wrap(err, "failed to read player uuid")
		}
		loginStart.PlayerUuid = &playerUuid
	default:
		// For versions before 1.19.2, the UUID is not present
	}

	return loginStart, nil
}

func DecodeLoginPluginRequest(data []byte) (*LoginPluginRequest, error) {
	buffer := bytes.NewBuffer(data)
	request := &LoginPluginRequest{}
	var err error

	request.MessageId, err = ReadVarInt(buffer)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read message id")
	}
	request.Channel, err = ReadString(buffer)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read channel")
	}
	request.Data = buffer.Bytes()
	return request, nil
}

func DecodeLoginPluginResponse(data []byte) (*LoginPluginResponse, error) {
	buffer := bytes.NewBuffer(data)
	response := &LoginPluginResponse{}
	var err error

	response.MessageId, err = ReadVarInt(buffer)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read message id")
	}
	response.Successful, err = ReadBoolean(buffer)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read successful flag")
	}
	response.Data = buffer.Bytes()
	return response, nil
}

func DecodeSetCompression(data []byte) (*SetCompression, error) {
	threshold, err := ReadVarInt(bytes.NewBuffer(data))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read compression threshold")
	}
	return &SetCompression{Threshold: threshold}, nil
}

func DecodeLoginDisconnect(data []byte) (*LoginDisconnect, error) {
	reason, err := ReadString(bytes.NewBuffer(data))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read disconnect reason")
	}
	return &LoginDisconnect{Reason: reason}, nil
}

// DecodeEncryptionResponse decodes the client's answer to an EncryptionRequest. Clients with a
// chat signing key on 1.19 - 1.19.2 may send a salted signature instead of the verify token.
func DecodeEncryptionResponse(protocolVersion ProtocolVersion, data []byte) (*EncryptionResponse, error) {
	buffer := bytes.NewBuffer(data)
	response := &EncryptionResponse{}
	var err error

	response.SharedSecret, err = ReadPrefixedByteArray(buffer, 128)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read shared secret")
	}

	hasVerifyToken := true
	if protocolVersion.SupportsIdentifiedKey() {
		hasVerifyToken, err = ReadBoolean(buffer)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read has verify token flag")
		}
	}

	if hasVerifyToken {
		response.VerifyToken, err = ReadPrefixedByteArray(buffer, 128)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read verify token")
		}
		return response, nil
	}

	response.Salt, err = ReadLong(buffer)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read salt")
	}
	response.Signature, err = ReadPrefixedByteArray(buffer, maxKeySignatureLength)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read salt signature")
	}
	return response, nil
}

func DecodeStatusPing(data []byte) (int64, error) {
	return ReadLong(bytes.NewBuffer(data))
}
