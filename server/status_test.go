package server

import (
	"encoding/json"
	"testing"

	"github.com/McEntropy/Umbrella/mcproto"
	"github.com/stretchr/testify/assert"
)

func TestProxyState_StatusPlayers(t *testing.T) {
	tests := []struct {
		name     string
		policy   PlayersPolicy
		expected mcproto.StatusPlayers
	}{
		{
			name:     "incremental",
			policy:   PlayersPolicy{Kind: PlayersIncremental},
			expected: mcproto.StatusPlayers{Max: 4, Online: 3},
		},
		{
			name:     "static",
			policy:   PlayersPolicy{Kind: PlayersStatic, MaxPlayers: 1000, OnlinePlayers: 999},
			expected: mcproto.StatusPlayers{Max: 1000, Online: 999},
		},
		{
			name:     "capped",
			policy:   PlayersPolicy{Kind: PlayersCapped, MaxPlayers: 20},
			expected: mcproto.StatusPlayers{Max: 20, Online: 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testProxyConfig(velocityForwarding())
			config.Status.Players = tt.policy
			state := NewProxyState(config)
			for i := 0; i < 3; i++ {
				state.TryAddPlayer()
			}

			assert.Equal(t, tt.expected, state.StatusPlayers())
		})
	}
}

func TestBuildStatusResponse(t *testing.T) {
	config := testProxyConfig(velocityForwarding())
	config.Status.Motd = json.RawMessage(`{"text":"Welcome"}`)
	state := NewProxyState(config)

	for _, version := range []mcproto.ProtocolVersion{mcproto.ProtocolVersion1_8, 765, 768} {
		response := BuildStatusResponse(state, version, "data:image/png;base64,AA==")
		assert.Equal(t, int(version), response.Version.Protocol)
		assert.Equal(t, statusVersionName, response.Version.Name)
		assert.JSONEq(t, `{"text":"Welcome"}`, string(response.Description))
		assert.Equal(t, "data:image/png;base64,AA==", response.Favicon)
		assert.Equal(t, mcproto.StatusPlayers{Max: 1, Online: 0}, response.Players)
	}
}

func TestBuildStatusResponse_EmptyMotd(t *testing.T) {
	state := NewProxyState(testProxyConfig(velocityForwarding()))

	response := BuildStatusResponse(state, 765, "")
	assert.Equal(t, `""`, string(response.Description))
	assert.Empty(t, response.Favicon)
}

func TestPlainMotd(t *testing.T) {
	tests := []struct {
		name     string
		motd     string
		expected string
	}{
		{name: "string", motd: `"A Minecraft Server"`, expected: "A Minecraft Server"},
		{name: "component", motd: `{"text":"Umbrella","color":"gold"}`, expected: "Umbrella"},
		{name: "nested extra", motd: `{"text":"a","extra":["b",{"text":"c","extra":[{"text":"d"}]}]}`, expected: "abcd"},
		{name: "invalid", motd: `[1,2]`, expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, PlainMotd(json.RawMessage(tt.motd)))
		})
	}
}
