package server

import (
	"encoding/json"
	"strings"

	"github.com/McEntropy/Umbrella/mcproto"
)

const (
	statusVersionName  = "Umbrella"
	legacyPingVersion  = "1.6.4"
	legacyPingProtocol = 78
)

// StatusPlayers computes the player counts shown in the server list for the configured policy
func (s *ProxyState) StatusPlayers() mcproto.StatusPlayers {
	current := s.CurrentPlayers()

	policy := s.Config.Status.Players
	switch policy.Kind {
	case PlayersStatic:
		return mcproto.StatusPlayers{Max: policy.MaxPlayers, Online: policy.OnlinePlayers}
	case PlayersCapped:
		return mcproto.StatusPlayers{Max: policy.MaxPlayers, Online: current}
	default:
		return mcproto.StatusPlayers{Max: current + 1, Online: current}
	}
}

// BuildStatusResponse answers a server list ping. The version echoes the client's protocol so that
// clients never show the proxy as incompatible.
func BuildStatusResponse(state *ProxyState, protocol mcproto.ProtocolVersion, favicon string) *mcproto.StatusResponse {
	description := state.Config.Status.Motd
	if len(description) == 0 {
		description = json.RawMessage(`""`)
	}
	return &mcproto.StatusResponse{
		Version: mcproto.StatusVersion{
			Name:     statusVersionName,
			Protocol: int(protocol),
		},
		Players:     state.StatusPlayers(),
		Description: description,
		Favicon:     favicon,
	}
}

// PlainMotd flattens the configured chat component for the legacy server list
func PlainMotd(motd json.RawMessage) string {
	var text string
	if err := json.Unmarshal(motd, &text); err == nil {
		return text
	}

	var component struct {
		Text  string            `json:"text"`
		Extra []json.RawMessage `json:"extra"`
	}
	if err := json.Unmarshal(motd, &component); err != nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(component.Text)
	for _, extra := range component.Extra {
		b.WriteString(PlainMotd(extra))
	}
	return b.String()
}
