package server

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net"

	"github.com/McEntropy/Umbrella/mcproto"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	outdatedClientMessage    = "Outdated client! Please use 1.13 or newer."
	missingKeyMessage        = "This server requires a secure profile."
	invalidKeyMessage        = "Your secure profile does not belong to you."
	authFailedMessage        = "Failed to verify username!"
	playerLimitMessage       = "Player limit reached."
	notAllowedMessage        = "You are not allowed to join this server."
	backendUnavailableFormat = "Unable to connect you to %s."
)

// handleLogin takes a client from its login handshake through authentication and backend connection
// into a player session that lasts until the client leaves.
func (c *Connector) handleLogin(ctx context.Context, frontendConn net.Conn, reader *mcproto.PacketReader, handshake *mcproto.Handshake) error {
	version := handshake.ProtocolVersion
	writer := mcproto.NewPacketWriter(frontendConn, version)
	logger := logrus.
		WithField("client", frontendConn.RemoteAddr()).
		WithField("protocol", version)

	if version < mcproto.ProtocolVersion1_13 {
		disconnectClient(writer, logger, outdatedClientMessage)
		return nil
	}

	packet, err := reader.ReadPacket()
	if err != nil {
		return err
	}
	if packet.PacketID != mcproto.PacketIdLoginStart {
		return errors.Errorf("expected login start, got packet 0x%02x", packet.PacketID)
	}
	loginStart, err := mcproto.DecodeLoginStart(version, packet.Data)
	if err != nil {
		return errors.Wrap(err, "invalid login start")
	}
	logger = logger.WithField("player", loginStart.Name)
	logger.Debug("Got login start")

	client := &ClientInfo{
		ProtocolVersion: version,
		RemoteAddr:      frontendConn.RemoteAddr(),
	}
	if version.SupportsIdentifiedKey() {
		client.IdentifiedKey = loginStart.IdentifiedKey
		if client.IdentifiedKey == nil && c.state.Config.Auth.ForceKeyAuthentication {
			disconnectClient(writer, logger, missingKeyMessage)
			return nil
		}
		if client.IdentifiedKey != nil && loginStart.PlayerUuid != nil {
			holder := *loginStart.PlayerUuid
			client.SigHolder = &holder
		}
	}

	profile, err := c.authenticate(ctx, reader, writer, loginStart, client)
	if err != nil {
		logger.WithError(err).Warn("Authentication failed")
		c.metrics.Errors.With("type", "authentication").Add(1)
		disconnectClient(writer, logger, authFailedMessage)
		return nil
	}
	if client.SigHolder != nil && *client.SigHolder != profile.Id {
		disconnectClient(writer, logger, invalidKeyMessage)
		return nil
	}
	client.Profile = *profile
	logger = logger.WithField("uuid", profile.Id)

	if !c.state.TryAddPlayer() {
		disconnectClient(writer, logger, playerLimitMessage)
		return nil
	}
	defer c.state.RemovePlayer()
	c.metrics.ActivePlayers.Add(1)
	defer c.metrics.ActivePlayers.Add(-1)

	server, ok := c.state.Config.LookupServer(c.state.Config.Try[0])
	if !ok {
		return errors.Errorf("initial server %s is not configured", c.state.Config.Try[0])
	}
	if !c.allowDenyConfig.ServerAllowsPlayer(server.ServerId, client.PlayerInfo()) {
		logger.WithField("server", server.ServerId).Info("Player is not allowed on server")
		disconnectClient(writer, logger, notAllowedMessage)
		return nil
	}

	connected, err := CreateInitialBackend(ctx, c.backends, server, client)
	if err != nil {
		logger.WithError(err).WithField("server", server.ServerId).Warn("Unable to connect to initial server")
		if c.connectionNotifier != nil {
			if notifyErr := c.connectionNotifier.NotifyFailedBackendConnection(ctx, client.RemoteAddr, server.ServerId,
				client.PlayerInfo(), server.Address(), err); notifyErr != nil {
				logger.WithError(notifyErr).Warn("failed to notify failed backend connection")
			}
		}
		disconnectClient(writer, logger, fmt.Sprintf(backendUnavailableFormat, server.DisplayName()))
		return nil
	}

	if err := c.completeLogin(frontendConn, reader, writer, client); err != nil {
		_ = connected.Conn.Close()
		return err
	}
	c.metrics.PlayerLogins.Add(1)
	logger.WithField("server", server.ServerId).Info("Player logged in")

	player := NewConnectedPlayer(c.state, c.backends,
		NewClientEndpoint(client, reader, writer),
		NewBackendEndpoint(client, writer, connected))
	player.UsePollInterval(c.pollInterval)
	player.UseAllowDenyConfig(c.allowDenyConfig)
	if c.connectionNotifier != nil {
		player.UseConnectionNotifier(c.connectionNotifier)
		if err := c.connectionNotifier.NotifyConnected(ctx, client.RemoteAddr, server.ServerId, client.PlayerInfo(), server.Address()); err != nil {
			logger.WithError(err).Warn("failed to notify connected")
		}
		defer func() {
			last := player.Backend().Server()
			if err := c.connectionNotifier.NotifyDisconnected(ctx, client.RemoteAddr, last.ServerId, client.PlayerInfo(), last.Address()); err != nil {
				logger.WithError(err).Warn("failed to notify disconnected")
			}
		}()
	}

	err = player.Run(ctx)
	logger.Info("Player left")
	return err
}

// authenticate resolves the player's profile, with encryption and a session server check in online mode
func (c *Connector) authenticate(ctx context.Context, reader *mcproto.PacketReader, writer *mcproto.PacketWriter,
	loginStart *mcproto.LoginStart, client *ClientInfo) (*mcproto.GameProfile, error) {

	if c.incomingSecret != nil {
		return c.receiveForwardedIdentity(reader, writer, client)
	}
	if c.authenticator == nil {
		return &mcproto.GameProfile{
			Id:   OfflinePlayerUuid(loginStart.Name),
			Name: loginStart.Name,
		}, nil
	}

	request, err := c.authenticator.NewEncryptionRequest()
	if err != nil {
		return nil, err
	}
	if err := writer.WritePacket(request); err != nil {
		return nil, err
	}

	packet, err := reader.ReadPacket()
	if err != nil {
		return nil, err
	}
	if packet.PacketID != mcproto.PacketIdEncryptionResponse {
		return nil, errors.Errorf("expected encryption response, got packet 0x%02x", packet.PacketID)
	}
	response, err := mcproto.DecodeEncryptionResponse(client.ProtocolVersion, packet.Data)
	if err != nil {
		return nil, err
	}

	secret, err := c.authenticator.SharedSecret(request, response, client.IdentifiedKey)
	if err != nil {
		return nil, err
	}
	encrypt, decrypt, err := mcproto.NewEncryptionStreams(secret)
	if err != nil {
		return nil, err
	}
	reader.EnableDecryption(decrypt)
	writer.EnableEncryption(encrypt)

	serverHash := MinecraftServerHash(request.ServerId, secret, c.authenticator.PublicKey())
	return c.authenticator.HasJoined(ctx, loginStart.Name, serverHash)
}

// receiveForwardedIdentity asks the upstream proxy in front of the client for the player's identity.
// The identity is trusted once its signature matches the shared secret, and replaces the client's
// address and key with the ones the upstream proxy saw.
func (c *Connector) receiveForwardedIdentity(reader *mcproto.PacketReader, writer *mcproto.PacketWriter, client *ClientInfo) (*mcproto.GameProfile, error) {
	messageId := rand.Intn(math.MaxInt32)
	if err := writer.WritePacket(&mcproto.LoginPluginRequest{
		MessageId: messageId,
		Channel:   ForwardingChannel,
		Data:      []byte{ForwardingVersionWithKeyV2},
	}); err != nil {
		return nil, err
	}

	packet, err := reader.ReadPacket()
	if err != nil {
		return nil, err
	}
	if packet.PacketID != mcproto.PacketIdLoginPluginResponse {
		return nil, errors.Errorf("expected login plugin response, got packet 0x%02x", packet.PacketID)
	}
	response, err := mcproto.DecodeLoginPluginResponse(packet.Data)
	if err != nil {
		return nil, err
	}
	if response.MessageId != messageId {
		return nil, errors.Errorf("login plugin response for message %d, expected %d", response.MessageId, messageId)
	}
	if !response.Successful {
		return nil, ErrIdentityNotForwarded
	}

	payload, err := VerifyForwardingData(c.incomingSecret, response.Data)
	if err != nil {
		return nil, &ForwardingError{Op: "signature", Err: err}
	}
	identity, err := ParseForwardedIdentity(payload)
	if err != nil {
		return nil, err
	}

	client.RemoteAddr = forwardedRemoteAddr(identity.Address, client.RemoteAddr)
	if identity.IdentifiedKey != nil {
		client.IdentifiedKey = identity.IdentifiedKey
	}
	if identity.SigHolder != nil {
		client.SigHolder = identity.SigHolder
	}
	return identity.Profile, nil
}

// completeLogin enables compression, sends login success and waits for the acknowledgement newer
// clients send before entering the configuration state.
func (c *Connector) completeLogin(frontendConn net.Conn, reader *mcproto.PacketReader, writer *mcproto.PacketWriter, client *ClientInfo) error {
	if threshold := c.state.Config.CompressionThreshold; threshold >= 0 {
		if err := writer.WritePacket(&mcproto.SetCompression{Threshold: threshold}); err != nil {
			return err
		}
		writer.SetCompressionThreshold(threshold)
		reader.SetCompressionThreshold(threshold)
	}

	if err := writer.WritePacket(&mcproto.LoginSuccess{Profile: &client.Profile}); err != nil {
		return err
	}

	if client.ProtocolVersion >= mcproto.ProtocolVersion1_20_2 {
		packet, err := reader.ReadPacket()
		if err != nil {
			return err
		}
		if packet.PacketID != mcproto.PacketIdLoginAcknowledged {
			return errors.Errorf("expected login acknowledged, got packet 0x%02x", packet.PacketID)
		}
	}

	return frontendConn.SetReadDeadline(noDeadline)
}

func disconnectClient(writer *mcproto.PacketWriter, logger *logrus.Entry, reason string) {
	logger.WithField("reason", reason).Debug("Disconnecting client")
	if err := writer.WritePacket(mcproto.NewLoginDisconnect(reason)); err != nil {
		logger.WithError(err).Debug("Failed to send disconnect")
	}
}
