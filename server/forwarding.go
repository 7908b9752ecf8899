package server

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"

	"github.com/McEntropy/Umbrella/mcproto"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// ForwardingChannel is the login plugin channel backends use to request forwarding data
const ForwardingChannel = "velocity:player_info"

// Forwarding data versions, also called the mask. Each adds fields to the previous one.
const (
	ForwardingVersionDefault   = 1
	ForwardingVersionWithKey   = 2
	ForwardingVersionWithKeyV2 = 3
)

const forwardingSignatureLength = sha256.Size

// NegotiateForwardingVersion picks the richest forwarding version that both the backend asked for,
// through the first byte of hint, and the client can fill.
func NegotiateForwardingVersion(hint []byte, client *ClientInfo) int {
	requested := ForwardingVersionDefault
	if len(hint) > 0 {
		requested = min(max(int(hint[0]), ForwardingVersionDefault), ForwardingVersionWithKeyV2)
	}
	return min(requested, maxAvailableForwardingVersion(client))
}

func maxAvailableForwardingVersion(client *ClientInfo) int {
	switch {
	case client.SigHolder != nil && client.IdentifiedKey != nil:
		return ForwardingVersionWithKeyV2
	case client.SigHolder != nil:
		return ForwardingVersionWithKey
	default:
		return ForwardingVersionDefault
	}
}

// BuildSignedIdentity serializes the client's identity for the negotiated version and signs it with secret.
// The payload holds, in order: version, address, profile, then the identified key from version 2
// and the signature holder from version 3.
func BuildSignedIdentity(secret []byte, client *ClientInfo, hint []byte) (signature []byte, payload []byte, err error) {
	version := NegotiateForwardingVersion(hint, client)

	var b bytes.Buffer
	if err := mcproto.WriteVarInt(&b, int32(version)); err != nil {
		return nil, nil, err
	}
	if err := mcproto.WriteStringMax(&b, client.ForwardedAddress(), mcproto.MaxStringLength); err != nil {
		return nil, nil, &ForwardingError{Op: "address", Err: err}
	}
	if err := client.Profile.Write(&b); err != nil {
		return nil, nil, &ForwardingError{Op: "profile", Err: err}
	}
	if version > ForwardingVersionDefault {
		if client.IdentifiedKey == nil {
			return nil, nil, &ForwardingError{Op: "identified key",
				Err: errors.Errorf("forwarding version %d requires an identified key", version)}
		}
		if err := client.IdentifiedKey.Write(&b); err != nil {
			return nil, nil, &ForwardingError{Op: "identified key", Err: err}
		}
	}
	if version > ForwardingVersionWithKey {
		if err := mcproto.WriteUuid(&b, *client.SigHolder); err != nil {
			return nil, nil, &ForwardingError{Op: "signature holder", Err: err}
		}
	}

	payload = b.Bytes()
	return SignForwardingPayload(secret, payload), payload, nil
}

// SignForwardingPayload computes the HMAC-SHA256 of payload keyed by secret
func SignForwardingPayload(secret []byte, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return mac.Sum(nil)
}

// ForwardingResponseData builds the login plugin response data: the signature followed by the payload
func ForwardingResponseData(secret []byte, client *ClientInfo, hint []byte) ([]byte, error) {
	signature, payload, err := BuildSignedIdentity(secret, client, hint)
	if err != nil {
		return nil, err
	}
	data := make([]byte, 0, len(signature)+len(payload))
	data = append(data, signature...)
	return append(data, payload...), nil
}

// VerifyForwardingData checks data the way a backend sharing secret does and returns its payload
func VerifyForwardingData(secret []byte, data []byte) ([]byte, error) {
	if len(data) < forwardingSignatureLength {
		return nil, errors.New("forwarding data is shorter than its signature")
	}
	signature, payload := data[:forwardingSignatureLength], data[forwardingSignatureLength:]
	if !hmac.Equal(signature, SignForwardingPayload(secret, payload)) {
		return nil, errors.New("forwarding data signature does not match")
	}
	return payload, nil
}

// ForwardedIdentity is a decoded forwarding payload
type ForwardedIdentity struct {
	Version       int
	Address       string
	Profile       *mcproto.GameProfile
	IdentifiedKey *mcproto.IdentifiedKey
	SigHolder     *uuid.UUID
}

// ParseForwardedIdentity decodes a payload produced by BuildSignedIdentity, after its signature was verified
func ParseForwardedIdentity(payload []byte) (*ForwardedIdentity, error) {
	r := bytes.NewReader(payload)
	identity := &ForwardedIdentity{}
	var err error

	if identity.Version, err = mcproto.ReadVarInt(r); err != nil {
		return nil, &ForwardingError{Op: "version", Err: err}
	}
	if identity.Version < ForwardingVersionDefault || identity.Version > ForwardingVersionWithKeyV2 {
		return nil, &ForwardingError{Op: "version", Err: errors.Errorf("unsupported forwarding version %d", identity.Version)}
	}
	if identity.Address, err = mcproto.ReadStringMax(r, mcproto.MaxStringLength); err != nil {
		return nil, &ForwardingError{Op: "address", Err: err}
	}
	if identity.Profile, err = mcproto.ReadGameProfile(r); err != nil {
		return nil, &ForwardingError{Op: "profile", Err: err}
	}
	if identity.Version > ForwardingVersionDefault {
		if identity.IdentifiedKey, err = mcproto.ReadIdentifiedKey(r); err != nil {
			return nil, &ForwardingError{Op: "identified key", Err: err}
		}
	}
	if identity.Version > ForwardingVersionWithKey {
		holder, err := mcproto.ReadUuid(r)
		if err != nil {
			return nil, &ForwardingError{Op: "signature holder", Err: err}
		}
		identity.SigHolder = &holder
	}
	if r.Len() > 0 {
		return nil, &ForwardingError{Op: "payload", Err: errors.Errorf("%d trailing bytes", r.Len())}
	}
	return identity, nil
}
