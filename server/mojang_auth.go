package server

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/McEntropy/Umbrella/mcproto"
	"github.com/pkg/errors"
)

const (
	verifyTokenLength  = 4
	sharedSecretLength = 16
)

var ErrNotAuthenticated = errors.New("player has not joined through the session server")

// MojangAuthenticator performs the online mode login: key exchange with the client and
// verification of the player with the session server.
type MojangAuthenticator struct {
	sessionServer string
	client        *http.Client
	privateKey    *rsa.PrivateKey
	publicKey     []byte
}

func NewMojangAuthenticator(sessionServer string) (*MojangAuthenticator, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate login key pair")
	}
	publicKey, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode login public key")
	}
	return &MojangAuthenticator{
		sessionServer: strings.TrimSuffix(sessionServer, "/"),
		client:        &http.Client{Timeout: 10 * time.Second},
		privateKey:    privateKey,
		publicKey:     publicKey,
	}, nil
}

// NewEncryptionRequest creates the request sent to the client along with its fresh verify token
func (a *MojangAuthenticator) NewEncryptionRequest() (*mcproto.EncryptionRequest, error) {
	verifyToken := make([]byte, verifyTokenLength)
	if _, err := rand.Read(verifyToken); err != nil {
		return nil, err
	}
	return &mcproto.EncryptionRequest{
		ServerId:           "",
		PublicKey:          a.publicKey,
		VerifyToken:        verifyToken,
		ShouldAuthenticate: true,
	}, nil
}

// SharedSecret checks the client's answer against request and returns the decrypted shared secret.
// Clients that answered with a salted signature are checked against their identified key.
func (a *MojangAuthenticator) SharedSecret(request *mcproto.EncryptionRequest, response *mcproto.EncryptionResponse,
	key *mcproto.IdentifiedKey) ([]byte, error) {

	if response.VerifyToken != nil {
		token, err := rsa.DecryptPKCS1v15(nil, a.privateKey, response.VerifyToken)
		if err != nil {
			return nil, errors.Wrap(err, "failed to decrypt verify token")
		}
		if !bytes.Equal(token, request.VerifyToken) {
			return nil, errors.New("verify token does not match")
		}
	} else {
		if key == nil {
			return nil, errors.New("salted encryption response without an identified key")
		}
		if err := verifySaltSignature(key, request.VerifyToken, response.Salt, response.Signature); err != nil {
			return nil, err
		}
	}

	secret, err := rsa.DecryptPKCS1v15(nil, a.privateKey, response.SharedSecret)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decrypt shared secret")
	}
	if len(secret) != sharedSecretLength {
		return nil, errors.Errorf("shared secret has %d bytes", len(secret))
	}
	return secret, nil
}

func verifySaltSignature(key *mcproto.IdentifiedKey, verifyToken []byte, salt int64, signature []byte) error {
	parsed, err := x509.ParsePKIXPublicKey(key.PublicKey)
	if err != nil {
		return errors.Wrap(err, "invalid identified key")
	}
	publicKey, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return errors.New("identified key is not an RSA key")
	}

	signed := make([]byte, 0, len(verifyToken)+8)
	signed = append(signed, verifyToken...)
	signed = binary.BigEndian.AppendUint64(signed, uint64(salt))
	digest := sha256.Sum256(signed)
	return errors.Wrap(rsa.VerifyPKCS1v15(publicKey, crypto.SHA256, digest[:], signature), "invalid salt signature")
}

// HasJoined asks the session server whether username joined with serverHash and returns the
// authenticated profile.
func (a *MojangAuthenticator) HasJoined(ctx context.Context, username string, serverHash string) (*mcproto.GameProfile, error) {
	query := url.Values{}
	query.Set("username", username)
	query.Set("serverId", serverHash)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		a.sessionServer+"/session/minecraft/hasJoined?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "session server request failed")
	}
	//goland:noinspection GoUnhandledErrorResult
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		return nil, ErrNotAuthenticated
	default:
		return nil, errors.Errorf("session server responded with %s", resp.Status)
	}

	var profile mcproto.GameProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, errors.Wrap(err, "invalid session server profile")
	}
	return &profile, nil
}

func (a *MojangAuthenticator) PublicKey() []byte {
	return a.publicKey
}

// MinecraftServerHash computes the hash clients and the session server agree on: a SHA-1 digest
// printed as a signed two's complement hex number.
func MinecraftServerHash(serverId string, sharedSecret []byte, publicKey []byte) string {
	h := sha1.New()
	h.Write([]byte(serverId))
	h.Write(sharedSecret)
	h.Write(publicKey)
	return signedHexDigest(h.Sum(nil))
}

func signedHexDigest(digest []byte) string {
	negative := digest[0]&0x80 != 0
	if !negative {
		return strings.TrimLeft(hex.EncodeToString(digest), "0")
	}

	value := new(big.Int).SetBytes(digest)
	// two's complement
	value.Sub(value, new(big.Int).Lsh(big.NewInt(1), uint(len(digest)*8)))
	return "-" + new(big.Int).Neg(value).Text(16)
}
