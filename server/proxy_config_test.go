package server

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exampleProxyConfig = `{
  "log_level": "debug",
  "bind": "0.0.0.0:25577",
  "compression_threshold": 512,
  "servers": {
    "lobby": {
      "server_name": "Lobby",
      "server_ip": "10.0.0.5",
      "server_port": 25565
    },
    "survival": {
      "server_id": "survival",
      "server_name": "Survival",
      "server_ip": "10.0.0.6",
      "server_port": 25566,
      "forwarding": {"auth_method": "velocity", "auth_data": {"secret_key": "per-server"}}
    }
  },
  "auth": {
    "force_key_authentication": true,
    "default_forwarding": {"auth_method": "velocity", "auth_data": {"secret_key": "shared"}},
    "incoming_auth": {"auth_method": "mojang", "auth_data": {"override_sessionserver": "http://localhost:8080/"}}
  },
  "status": {
    "motd": {"text": "Umbrella", "extra": [{"text": " network"}]},
    "players": {"max_players": 100}
  },
  "fallback": ["lobby"],
  "try": ["lobby", "survival"]
}`

func TestParseProxyConfig(t *testing.T) {
	config, err := ParseProxyConfig([]byte(exampleProxyConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", config.LogLevel)
	assert.Equal(t, "0.0.0.0:25577", config.Bind)
	assert.Equal(t, 512, config.CompressionThreshold)
	assert.Equal(t, []string{"lobby", "survival"}, config.ServerIds())

	lobby, ok := config.LookupServer("lobby")
	require.True(t, ok)
	assert.Equal(t, "lobby", lobby.ServerId, "server id defaults to the map key")
	assert.Equal(t, "10.0.0.5:25565", lobby.Address())
	assert.Equal(t, ForwardingMethod{Kind: ForwardingModern, SecretKey: "shared"}, config.ForwardingFor(lobby))

	survival, ok := config.LookupServer("survival")
	require.True(t, ok)
	assert.Equal(t, ForwardingMethod{Kind: ForwardingModern, SecretKey: "per-server"}, config.ForwardingFor(survival))

	assert.True(t, config.Auth.ForceKeyAuthentication)
	assert.Equal(t, IncomingAuthMojang, config.Auth.IncomingAuth.Kind)
	assert.Equal(t, "http://localhost:8080", config.Auth.IncomingAuth.SessionServer())

	assert.Equal(t, PlayersPolicy{Kind: PlayersCapped, MaxPlayers: 100}, config.Status.Players)
	assert.Equal(t, "Umbrella network", PlainMotd(config.Status.Motd))
	assert.Equal(t, []string{"lobby"}, config.Fallback)
}

func TestParseProxyConfig_Defaults(t *testing.T) {
	config, err := ParseProxyConfig([]byte(`{
  "bind": "0.0.0.0:25577",
  "servers": {"lobby": {"server_ip": "10.0.0.5", "server_port": 25565}},
  "auth": {
    "default_forwarding": {"auth_method": "velocity", "auth_data": {"secret_key": "shared"}},
    "incoming_auth": {"auth_method": "offline"}
  },
  "try": ["lobby"]
}`))
	require.NoError(t, err)

	assert.Equal(t, DefaultCompressionThreshold, config.CompressionThreshold)
	assert.Equal(t, PlayersIncremental, config.Status.Players.Kind)
	assert.Equal(t, DefaultSessionServer, config.Auth.IncomingAuth.SessionServer())
	assert.Equal(t, "lobby", config.Servers["lobby"].DisplayName())
}

func TestProxyConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(config *ProxyConfig)
		field  string
		is     error
	}{
		{
			name:   "missing bind",
			mutate: func(config *ProxyConfig) { config.Bind = "" },
			field:  "bind",
		},
		{
			name: "legacy default forwarding",
			mutate: func(config *ProxyConfig) {
				config.Auth.DefaultForwarding = ForwardingMethod{Kind: ForwardingLegacy}
			},
			field: "auth.default_forwarding",
			is:    ErrLegacyForwardingUnsupported,
		},
		{
			name: "legacy forwarding on one server",
			mutate: func(config *ProxyConfig) {
				config.Servers["survival"].Forwarding = &ForwardingMethod{Kind: ForwardingLegacy}
			},
			field: "servers.survival.forwarding",
			is:    ErrLegacyForwardingUnsupported,
		},
		{
			name: "velocity without secret",
			mutate: func(config *ProxyConfig) {
				config.Auth.DefaultForwarding = ForwardingMethod{Kind: ForwardingModern}
			},
			field: "auth.default_forwarding",
		},
		{
			name: "incoming velocity auth without secret",
			mutate: func(config *ProxyConfig) {
				config.Auth.IncomingAuth = IncomingAuth{Kind: IncomingAuthVelocity}
			},
			field: "auth.incoming_auth",
		},
		{
			name: "incoming bungee auth",
			mutate: func(config *ProxyConfig) {
				config.Auth.IncomingAuth = IncomingAuth{Kind: IncomingAuthBungee}
			},
			field: "auth.incoming_auth",
		},
		{
			name:   "server without port",
			mutate: func(config *ProxyConfig) { config.Servers["lobby"].ServerPort = 0 },
			field:  "servers.lobby.server_port",
		},
		{
			name:   "server without ip",
			mutate: func(config *ProxyConfig) { config.Servers["lobby"].ServerIp = "" },
			field:  "servers.lobby.server_ip",
		},
		{
			name:   "unknown try entry",
			mutate: func(config *ProxyConfig) { config.Try = []string{"lobby", "creative"} },
			field:  "try",
		},
		{
			name:   "unknown fallback entry",
			mutate: func(config *ProxyConfig) { config.Fallback = []string{"creative"} },
			field:  "fallback",
		},
		{
			name:   "empty try",
			mutate: func(config *ProxyConfig) { config.Try = nil },
			field:  "try",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testProxyConfig(velocityForwarding())
			require.NoError(t, config.Validate())

			tt.mutate(config)
			err := config.Validate()

			var configErr *ConfigError
			require.True(t, errors.As(err, &configErr), "got %v", err)
			assert.Equal(t, tt.field, configErr.Field)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestProxyConfig_Validate_Accepts(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(config *ProxyConfig)
	}{
		{
			name: "incoming velocity auth",
			mutate: func(config *ProxyConfig) {
				config.Auth.IncomingAuth = IncomingAuth{Kind: IncomingAuthVelocity, SecretKey: "upstream"}
			},
		},
		{
			name: "legacy default overridden by every server",
			mutate: func(config *ProxyConfig) {
				config.Auth.DefaultForwarding = ForwardingMethod{Kind: ForwardingLegacy}
				for _, server := range config.Servers {
					server.Forwarding = &ForwardingMethod{Kind: ForwardingModern, SecretKey: "per-server"}
				}
			},
		},
		{
			name: "no default when every server declares forwarding",
			mutate: func(config *ProxyConfig) {
				config.Auth.DefaultForwarding = ForwardingMethod{}
				for _, server := range config.Servers {
					server.Forwarding = &ForwardingMethod{Kind: ForwardingModern, SecretKey: "per-server"}
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testProxyConfig(velocityForwarding())
			tt.mutate(config)
			assert.NoError(t, config.Validate())
		})
	}
}

func TestParseProxyConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "not json", content: `bind = "0.0.0.0"`},
		{name: "unknown forwarding method", content: `{"auth": {"default_forwarding": {"auth_method": "magic"}}}`},
		{name: "bad players policy", content: `{"status": {"players": {"online_players": 3}}}`},
		{name: "empty server entry", content: `{"bind": "0.0.0.0:25577", "servers": {"lobby": null}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseProxyConfig([]byte(tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadProxyConfig(t *testing.T) {
	dir := t.TempDir()
	fileName := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(fileName, []byte(exampleProxyConfig), 0644))

	config, err := LoadProxyConfig(fileName)
	require.NoError(t, err)
	assert.Len(t, config.Servers, 2)

	_, err = LoadProxyConfig(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestForwardingMethod_MarshalJSON(t *testing.T) {
	method := ForwardingMethod{Kind: ForwardingModern, SecretKey: "shared"}
	content, err := json.Marshal(method)
	require.NoError(t, err)
	assert.JSONEq(t, `{"auth_method": "velocity", "auth_data": {"secret_key": "shared"}}`, string(content))

	content, err = json.Marshal(ForwardingMethod{Kind: ForwardingLegacy})
	require.NoError(t, err)
	assert.JSONEq(t, `{"auth_method": "bungee"}`, string(content))
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected logrus.Level
	}{
		{level: "", expected: logrus.InfoLevel},
		{level: "off", expected: logrus.PanicLevel},
		{level: "OFF", expected: logrus.PanicLevel},
		{level: "trace", expected: logrus.TraceLevel},
		{level: "warn", expected: logrus.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			level, err := ParseLogLevel(tt.level)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, level)
		})
	}

	_, err := ParseLogLevel("loud")
	assert.Error(t, err)
}
