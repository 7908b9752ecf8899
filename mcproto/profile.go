package mcproto

import (
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	maxPublicKeyLength    = 512
	maxKeySignatureLength = 4096
	maxProfileProperties  = 1024
)

type ProfileProperty struct {
	Name      string `json:"name"`
	Value     string `json:"value"`
	Signature string `json:"signature,omitempty"`
}

// GameProfile is the authenticated identity of a player
type GameProfile struct {
	Id         uuid.UUID         `json:"id"`
	Name       string            `json:"name"`
	Properties []ProfileProperty `json:"properties,omitempty"`
}

// Write serializes the profile in its canonical wire form:
// uuid, name, property count, then name/value/optional signature per property.
func (p *GameProfile) Write(w io.Writer) error {
	if err := WriteUuid(w, p.Id); err != nil {
		return err
	}
	if err := WriteStringMax(w, p.Name, 16); err != nil {
		return errors.Wrap(err, "profile name")
	}
	return writeProperties(w, p.Properties)
}

func writeProperties(w io.Writer, properties []ProfileProperty) error {
	if err := WriteVarInt(w, int32(len(properties))); err != nil {
		return err
	}
	for _, property := range properties {
		if err := WriteString(w, property.Name); err != nil {
			return errors.Wrapf(err, "property %s name", property.Name)
		}
		if err := WriteString(w, property.Value); err != nil {
			return errors.Wrapf(err, "property %s value", property.Name)
		}
		signed := property.Signature != ""
		if err := WriteBoolean(w, signed); err != nil {
			return err
		}
		if signed {
			if err := WriteString(w, property.Signature); err != nil {
				return errors.Wrapf(err, "property %s signature", property.Name)
			}
		}
	}
	return nil
}

func ReadGameProfile(r io.Reader) (*GameProfile, error) {
	profile := &GameProfile{}
	var err error

	profile.Id, err = ReadUuid(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read profile id")
	}
	profile.Name, err = ReadStringMax(r, 16)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read profile name")
	}

	count, err := ReadVarInt(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read property count")
	}
	if count < 0 || count > maxProfileProperties {
		return nil, errors.Errorf("invalid property count %d", count)
	}
	for i := 0; i < count; i++ {
		var property ProfileProperty
		if property.Name, err = ReadString(r); err != nil {
			return nil, errors.Wrap(err, "failed to read property name")
		}
		if property.Value, err = ReadString(r); err != nil {
			return nil, errors.Wrap(err, "failed to read property value")
		}
		signed, err := ReadBoolean(r)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read property signed flag")
		}
		if signed {
			if property.Signature, err = ReadString(r); err != nil {
				return nil, errors.Wrap(err, "failed to read property signature")
			}
		}
		profile.Properties = append(profile.Properties, property)
	}

	return profile, nil
}

// IdentifiedKey is the chat signing key a 1.19 - 1.19.2 client presents during login
type IdentifiedKey struct {
	// ExpiresAt is the key expiry in milliseconds since the epoch
	ExpiresAt int64
	// PublicKey is the X.509 encoded RSA public key
	PublicKey []byte
	// Signature is Mojang's signature over the key
	Signature []byte
}

// Write serializes the key in its canonical wire form: expiry, public key, signature
func (k *IdentifiedKey) Write(w io.Writer) error {
	if err := WriteLong(w, k.ExpiresAt); err != nil {
		return err
	}
	if err := WritePrefixedByteArray(w, k.PublicKey); err != nil {
		return err
	}
	return WritePrefixedByteArray(w, k.Signature)
}

func ReadIdentifiedKey(r io.Reader) (*IdentifiedKey, error) {
	key := &IdentifiedKey{}
	var err error

	key.ExpiresAt, err = ReadLong(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read expiration time")
	}
	key.PublicKey, err = ReadPrefixedByteArray(r, maxPublicKeyLength)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read public key")
	}
	key.Signature, err = ReadPrefixedByteArray(r, maxKeySignatureLength)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read key signature")
	}
	return key, nil
}
