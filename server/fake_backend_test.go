package server

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/McEntropy/Umbrella/mcproto"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

const testSecret = "6f8f0b5c3a2e4d71"

var (
	testPlayerId = uuid.MustParse("069a79f4-44e9-4726-a5be-fca90e38aaf5")
	testHolderId = uuid.MustParse("853c80ef-3c37-49fd-aa49-938b674adae6")
)

func testProxyConfig(forwarding ForwardingMethod) *ProxyConfig {
	return &ProxyConfig{
		Bind:                 "127.0.0.1:25577",
		CompressionThreshold: -1,
		Servers: map[string]*ServerDescriptor{
			"lobby":    {ServerId: "lobby", ServerName: "Lobby", ServerIp: "10.0.0.5", ServerPort: 25565},
			"survival": {ServerId: "survival", ServerName: "Survival", ServerIp: "10.0.0.6", ServerPort: 25566},
		},
		Auth: AuthConfig{
			DefaultForwarding: forwarding,
			IncomingAuth:      IncomingAuth{Kind: IncomingAuthOffline},
		},
		Try: []string{"lobby"},
	}
}

func velocityForwarding() ForwardingMethod {
	return ForwardingMethod{Kind: ForwardingModern, SecretKey: testSecret}
}

func testIdentifiedKey() *mcproto.IdentifiedKey {
	return &mcproto.IdentifiedKey{
		ExpiresAt: 1700000000000,
		PublicKey: []byte{0x30, 0x81, 0x9f, 0x30, 0x0d},
		Signature: []byte{0x01, 0x02, 0x03, 0x04},
	}
}

func testClient(version mcproto.ProtocolVersion) *ClientInfo {
	return &ClientInfo{
		ProtocolVersion: version,
		RemoteAddr:      &net.TCPAddr{IP: net.ParseIP("203.0.113.7"), Port: 51234},
		Profile: mcproto.GameProfile{
			Id:   testPlayerId,
			Name: "Notch",
			Properties: []mcproto.ProfileProperty{
				{Name: "textures", Value: "e30=", Signature: "c2ln"},
			},
		},
	}
}

func testClientWithKey(version mcproto.ProtocolVersion, withHolder bool) *ClientInfo {
	client := testClient(version)
	client.IdentifiedKey = testIdentifiedKey()
	if withHolder {
		holder := testHolderId
		client.SigHolder = &holder
	}
	return client
}

type fakeBackendOptions struct {
	hint                []byte
	compression         int
	skipForwarding      bool
	disconnectReason    string
	requestEncryption   bool
	unknownChannelFirst bool
}

// fakeBackend is the backend side of a connection after it served a login
type fakeBackend struct {
	conn         net.Conn
	reader       *mcproto.PacketReader
	writer       *mcproto.PacketWriter
	handshake    *mcproto.Handshake
	loginStart   *mcproto.LoginStart
	forwarding   *mcproto.LoginPluginResponse
	unknownReply *mcproto.LoginPluginResponse
}

type fakeBackendResult struct {
	backend *fakeBackend
	err     error
}

// serveFakeBackendLogin plays an offline mode backend expecting velocity forwarding
func serveFakeBackendLogin(conn net.Conn, options fakeBackendOptions) (*fakeBackend, error) {
	reader := mcproto.NewPacketReader(conn)
	packet, err := reader.ReadPacket()
	if err != nil {
		return nil, err
	}
	handshake, err := mcproto.DecodeHandshake(packet.Data)
	if err != nil {
		return nil, err
	}
	version := handshake.ProtocolVersion
	writer := mcproto.NewPacketWriter(conn, version)

	packet, err = reader.ReadPacket()
	if err != nil {
		return nil, err
	}
	loginStart, err := mcproto.DecodeLoginStart(version, packet.Data)
	if err != nil {
		return nil, err
	}

	backend := &fakeBackend{
		conn:       conn,
		reader:     reader,
		writer:     writer,
		handshake:  handshake,
		loginStart: loginStart,
	}

	if options.requestEncryption {
		return backend, writer.WritePacket(&mcproto.EncryptionRequest{
			PublicKey:   []byte{0x01},
			VerifyToken: []byte{0x02},
		})
	}
	if options.disconnectReason != "" {
		return backend, writer.WritePacket(mcproto.NewLoginDisconnect(options.disconnectReason))
	}
	if options.compression > 0 {
		if err := writer.WritePacket(&mcproto.SetCompression{Threshold: options.compression}); err != nil {
			return nil, err
		}
		writer.SetCompressionThreshold(options.compression)
		reader.SetCompressionThreshold(options.compression)
	}

	if options.unknownChannelFirst {
		backend.unknownReply, err = requestPluginMessage(reader, writer, 3, "example:handshake", []byte{0x2a})
		if err != nil {
			return nil, err
		}
	}
	if !options.skipForwarding {
		backend.forwarding, err = requestPluginMessage(reader, writer, 7, ForwardingChannel, options.hint)
		if err != nil {
			return nil, err
		}
	}

	err = writer.WritePacket(&mcproto.LoginSuccess{Profile: &mcproto.GameProfile{
		Id:   uuid.New(),
		Name: loginStart.Name,
	}})
	if err != nil {
		return nil, err
	}

	if version >= mcproto.ProtocolVersion1_20_2 {
		packet, err = reader.ReadPacket()
		if err != nil {
			return nil, err
		}
		if packet.PacketID != mcproto.PacketIdLoginAcknowledged {
			return nil, errors.Errorf("expected login acknowledged, got 0x%02x", packet.PacketID)
		}
	}
	return backend, nil
}

func requestPluginMessage(reader *mcproto.PacketReader, writer *mcproto.PacketWriter, messageId int, channel string, data []byte) (*mcproto.LoginPluginResponse, error) {
	err := writer.WritePacket(&mcproto.LoginPluginRequest{
		MessageId: messageId,
		Channel:   channel,
		Data:      data,
	})
	if err != nil {
		return nil, err
	}
	packet, err := reader.ReadPacket()
	if err != nil {
		return nil, err
	}
	if packet.PacketID != mcproto.PacketIdLoginPluginResponse {
		return nil, errors.Errorf("expected login plugin response, got 0x%02x", packet.PacketID)
	}
	return mcproto.DecodeLoginPluginResponse(packet.Data)
}

// fakeBackendDialer hands out in-memory connections served by serveFakeBackendLogin.
// Dialed addresses are recorded in order.
type fakeBackendDialer struct {
	options fakeBackendOptions
	results chan fakeBackendResult

	sync.Mutex
	dialed []string
}

func newFakeBackendDialer(options fakeBackendOptions) *fakeBackendDialer {
	return &fakeBackendDialer{
		options: options,
		results: make(chan fakeBackendResult, 8),
	}
}

func (d *fakeBackendDialer) Dial(_ context.Context, _, address string) (net.Conn, error) {
	d.Lock()
	d.dialed = append(d.dialed, address)
	d.Unlock()

	proxySide, backendSide := net.Pipe()
	go func() {
		backend, err := serveFakeBackendLogin(backendSide, d.options)
		d.results <- fakeBackendResult{backend: backend, err: err}
	}()
	return proxySide, nil
}

func (d *fakeBackendDialer) Dialed() []string {
	d.Lock()
	defer d.Unlock()
	return append([]string(nil), d.dialed...)
}

func (d *fakeBackendDialer) await(t *testing.T) fakeBackendResult {
	t.Helper()
	select {
	case result := <-d.results:
		return result
	case <-time.After(5 * time.Second):
		require.FailNow(t, "fake backend did not finish its login")
		return fakeBackendResult{}
	}
}

// failingDialer records that it was called and refuses every connection
type failingDialer struct {
	called bool
}

func (d *failingDialer) Dial(context.Context, string, string) (net.Conn, error) {
	d.called = true
	return nil, errors.New("connection refused")
}

// recordingNotifier keeps every notification as "kind:serverId"
type recordingNotifier struct {
	sync.Mutex
	events []string
}

func (n *recordingNotifier) record(event string) error {
	n.Lock()
	defer n.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) Events() []string {
	n.Lock()
	defer n.Unlock()
	return append([]string(nil), n.events...)
}

func (n *recordingNotifier) NotifyMissingBackend(_ context.Context, _ net.Addr, serverId string, _ *PlayerInfo) error {
	return n.record("missing:" + serverId)
}

func (n *recordingNotifier) NotifyFailedBackendConnection(_ context.Context, _ net.Addr, serverId string, _ *PlayerInfo, _ string, _ error) error {
	return n.record("failed:" + serverId)
}

func (n *recordingNotifier) NotifyConnected(_ context.Context, _ net.Addr, serverId string, _ *PlayerInfo, _ string) error {
	return n.record("connected:" + serverId)
}

func (n *recordingNotifier) NotifyDisconnected(_ context.Context, _ net.Addr, serverId string, _ *PlayerInfo, _ string) error {
	return n.record("disconnected:" + serverId)
}

// newTestConnectedBackend builds a backend that already completed login, with peer as the backend's side
func newTestConnectedBackend(t *testing.T, server *ServerDescriptor, version mcproto.ProtocolVersion) (*ConnectedBackend, net.Conn) {
	proxySide, peer := net.Pipe()
	t.Cleanup(func() {
		_ = proxySide.Close()
		_ = peer.Close()
	})

	pipeline := mcproto.NewPipeline[*BackendContext, EndpointResolution](mcproto.NewPacketReader(proxySide), mcproto.Clientbound, version)
	RegisterBackendHandlers(pipeline)
	return &ConnectedBackend{
		Server:   server,
		Conn:     proxySide,
		Pipeline: pipeline,
		Writer:   mcproto.NewPacketWriter(proxySide, version),
	}, peer
}

// rawPacket builds the packet ID and data of a packet as relayed by the proxy
func rawPacket(t *testing.T, id int, data []byte) []byte {
	t.Helper()
	var b bytes.Buffer
	require.NoError(t, mcproto.WriteVarInt(&b, int32(id)))
	b.Write(data)
	return b.Bytes()
}

func playPluginMessage(t *testing.T, id int, channel string, data []byte) []byte {
	t.Helper()
	var b bytes.Buffer
	require.NoError(t, mcproto.WriteString(&b, channel))
	b.Write(data)
	return rawPacket(t, id, b.Bytes())
}

func switchRequest(t *testing.T, id int, serverId string) []byte {
	t.Helper()
	var b bytes.Buffer
	require.NoError(t, mcproto.WriteString(&b, serverId))
	return playPluginMessage(t, id, SwitchChannel, b.Bytes())
}
