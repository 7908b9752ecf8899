package server

import (
	"bytes"
	"testing"
	"time"

	"github.com/McEntropy/Umbrella/mcproto"
	"github.com/go-kit/kit/metrics/generic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackendEndpoint_ReadNextWithTimeout(t *testing.T) {
	tests := []struct {
		name     string
		version  mcproto.ProtocolVersion
		raw      []byte
		expected EndpointResolution
		relayed  bool
	}{
		{
			name:     "unknown packet relayed unchanged",
			version:  765,
			raw:      rawPacket(t, 0x42, []byte{0xde, 0xad, 0x00, 0xbe, 0xef, 0xff}),
			expected: NoAction{},
			relayed:  true,
		},
		{
			name:     "other plugin channel relayed",
			version:  765,
			raw:      playPluginMessage(t, 0x18, "minecraft:brand", []byte{0x06, 'p', 'a', 'p', 'e', 'r', '!'}),
			expected: NoAction{},
			relayed:  true,
		},
		{
			name:     "switch request",
			version:  765,
			raw:      switchRequest(t, 0x18, "survival"),
			expected: SwitchServer{ServerId: "survival"},
		},
		{
			name:     "switch request on 1.19.2",
			version:  mcproto.ProtocolVersion1_19_2,
			raw:      switchRequest(t, 0x16, "survival"),
			expected: SwitchServer{ServerId: "survival"},
		},
		{
			name:     "switch request on 1.21.2",
			version:  mcproto.ProtocolVersion1_21_2,
			raw:      switchRequest(t, 0x19, "survival"),
			expected: SwitchServer{ServerId: "survival"},
		},
		{
			name:     "disconnect relayed and ends session",
			version:  765,
			raw:      rawPacket(t, 0x1B, []byte{0x0a, 0x08, 0x00, 0x04, 't', 'e', 'x', 't'}),
			expected: DisconnectGracefully{},
			relayed:  true,
		},
		{
			name:     "version without play packet ids passes through",
			version:  758,
			raw:      switchRequest(t, 0x18, "survival"),
			expected: NoAction{},
			relayed:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testProxyConfig(velocityForwarding())
			backend, peer := newTestConnectedBackend(t, config.Servers["lobby"], tt.version)
			clientOut := &bytes.Buffer{}
			endpoint := NewBackendEndpoint(testClient(tt.version), mcproto.NewPacketWriter(clientOut, tt.version), backend)
			relayed := generic.NewCounter("relayed")
			endpoint.UseBytesCounter(relayed)

			sent := make(chan error, 1)
			go func() {
				sent <- mcproto.NewPacketWriter(peer, tt.version).WriteRaw(tt.raw)
			}()

			resolution, received, err := endpoint.ReadNextWithTimeout(time.Second)
			require.NoError(t, err)
			require.NoError(t, <-sent)
			assert.True(t, received)
			assert.Equal(t, tt.expected, resolution)

			if tt.relayed {
				assert.Equal(t, float64(len(tt.raw)), relayed.Value())
				packet, err := mcproto.NewPacketReader(clientOut).ReadPacket()
				require.NoError(t, err)
				assert.Equal(t, tt.raw, packet.Raw)
			} else {
				assert.Zero(t, relayed.Value())
			}
			assert.Zero(t, clientOut.Len(), "unexpected bytes written to client")
		})
	}
}

func TestBackendEndpoint_NothingReceived(t *testing.T) {
	config := testProxyConfig(velocityForwarding())
	backend, _ := newTestConnectedBackend(t, config.Servers["lobby"], 765)
	endpoint := NewBackendEndpoint(testClient(765), mcproto.NewPacketWriter(&bytes.Buffer{}, 765), backend)

	resolution, received, err := endpoint.ReadNextWithTimeout(20 * time.Millisecond)
	assert.NoError(t, err)
	assert.False(t, received)
	assert.Nil(t, resolution)
}

func TestBackendEndpoint_BackendClosed(t *testing.T) {
	config := testProxyConfig(velocityForwarding())
	backend, peer := newTestConnectedBackend(t, config.Servers["lobby"], 765)
	endpoint := NewBackendEndpoint(testClient(765), mcproto.NewPacketWriter(&bytes.Buffer{}, 765), backend)

	require.NoError(t, peer.Close())

	_, _, err := endpoint.ReadNextWithTimeout(time.Second)
	require.Error(t, err)
	assert.True(t, IsOrdinaryDisconnect(err), "got %v", err)
}

func TestBackendEndpoint_ForwardToServer(t *testing.T) {
	config := testProxyConfig(velocityForwarding())
	backend, peer := newTestConnectedBackend(t, config.Servers["lobby"], 765)
	endpoint := NewBackendEndpoint(testClient(765), mcproto.NewPacketWriter(&bytes.Buffer{}, 765), backend)

	raw := rawPacket(t, 0x14, []byte{0x00, 0x01, 0x02})
	sent := make(chan error, 1)
	go func() {
		sent <- endpoint.ForwardToServer(raw)
	}()

	packet, err := mcproto.NewPacketReader(peer).ReadPacket()
	require.NoError(t, err)
	require.NoError(t, <-sent)
	assert.Equal(t, raw, packet.Raw)
}

func TestMergeBackendEndpoint(t *testing.T) {
	config := testProxyConfig(velocityForwarding())
	client := testClient(765)
	clientWriter := mcproto.NewPacketWriter(&bytes.Buffer{}, 765)

	lobby, lobbyPeer := newTestConnectedBackend(t, config.Servers["lobby"], 765)
	survival, _ := newTestConnectedBackend(t, config.Servers["survival"], 765)

	old := NewBackendEndpoint(client, clientWriter, lobby)
	relayed := generic.NewCounter("relayed")
	old.UseBytesCounter(relayed)
	merged := MergeBackendEndpoint(old, survival)

	assert.Same(t, client, merged.Context().Client)
	assert.Same(t, clientWriter, merged.Context().ClientWriter)
	assert.Same(t, survival.Writer, merged.Context().BackendWriter)
	assert.Equal(t, "survival", merged.Server().ServerId)
	assert.Same(t, relayed, merged.Context().BytesRelayed, "relayed bytes keep being counted after a switch")

	assert.Nil(t, old.Context(), "previous endpoint must not be usable after merge")
	assert.NoError(t, old.Close())

	_, err := mcproto.NewPacketReader(lobbyPeer).ReadPacket()
	assert.Error(t, err, "previous backend connection should be closed")
}
