package server

import (
	"bytes"
	"encoding/json"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type ForwardingKind string

const (
	// ForwardingLegacy is the bungee method, recognized but never performed
	ForwardingLegacy ForwardingKind = "bungee"
	// ForwardingModern is the velocity method: an HMAC signed identity exchanged during login
	ForwardingModern ForwardingKind = "velocity"
)

// ForwardingMethod declares how the proxy proves a player's identity to a backend.
// In the config file it is written as {"auth_method": "velocity", "auth_data": {"secret_key": "..."}}
type ForwardingMethod struct {
	Kind      ForwardingKind
	SecretKey string
}

type taggedAuthMethod struct {
	AuthMethod string          `json:"auth_method"`
	AuthData   json.RawMessage `json:"auth_data,omitempty"`
}

type secretKeyData struct {
	SecretKey string `json:"secret_key"`
}

func (m *ForwardingMethod) UnmarshalJSON(data []byte) error {
	var tagged taggedAuthMethod
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}
	switch ForwardingKind(tagged.AuthMethod) {
	case ForwardingLegacy:
		*m = ForwardingMethod{Kind: ForwardingLegacy}
	case ForwardingModern:
		var secret secretKeyData
		if len(tagged.AuthData) > 0 {
			if err := json.Unmarshal(tagged.AuthData, &secret); err != nil {
				return errors.Wrap(err, "invalid velocity auth_data")
			}
		}
		*m = ForwardingMethod{Kind: ForwardingModern, SecretKey: secret.SecretKey}
	default:
		return errors.Errorf("unknown forwarding auth_method %q", tagged.AuthMethod)
	}
	return nil
}

func (m ForwardingMethod) MarshalJSON() ([]byte, error) {
	tagged := taggedAuthMethod{AuthMethod: string(m.Kind)}
	if m.Kind == ForwardingModern {
		data, err := json.Marshal(secretKeyData{SecretKey: m.SecretKey})
		if err != nil {
			return nil, err
		}
		tagged.AuthData = data
	}
	return json.Marshal(tagged)
}

type IncomingAuthKind string

const (
	IncomingAuthMojang  IncomingAuthKind = "mojang"
	IncomingAuthOffline IncomingAuthKind = "offline"
	IncomingAuthBungee  IncomingAuthKind = "bungee"
	// IncomingAuthVelocity accepts players forwarded by an upstream proxy sharing SecretKey
	IncomingAuthVelocity IncomingAuthKind = "velocity"
)

const DefaultSessionServer = "https://sessionserver.mojang.com"

// IncomingAuth declares how connecting players are authenticated
type IncomingAuth struct {
	Kind IncomingAuthKind
	// OverrideSessionServer replaces DefaultSessionServer for mojang authentication
	OverrideSessionServer string
	SecretKey             string
}

func (a *IncomingAuth) UnmarshalJSON(data []byte) error {
	var tagged taggedAuthMethod
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}
	*a = IncomingAuth{Kind: IncomingAuthKind(tagged.AuthMethod)}
	switch a.Kind {
	case IncomingAuthMojang:
		var mojang struct {
			OverrideSessionServer string `json:"override_sessionserver"`
		}
		if len(tagged.AuthData) > 0 && !bytes.Equal(tagged.AuthData, []byte("null")) {
			if err := json.Unmarshal(tagged.AuthData, &mojang); err != nil {
				return errors.Wrap(err, "invalid mojang auth_data")
			}
		}
		a.OverrideSessionServer = mojang.OverrideSessionServer
	case IncomingAuthVelocity:
		var secret secretKeyData
		if len(tagged.AuthData) > 0 {
			if err := json.Unmarshal(tagged.AuthData, &secret); err != nil {
				return errors.Wrap(err, "invalid velocity auth_data")
			}
		}
		a.SecretKey = secret.SecretKey
	case IncomingAuthOffline, IncomingAuthBungee:
	default:
		return errors.Errorf("unknown incoming auth_method %q", tagged.AuthMethod)
	}
	return nil
}

// SessionServer is the base URL used to verify mojang logins
func (a *IncomingAuth) SessionServer() string {
	if a.OverrideSessionServer != "" {
		return strings.TrimSuffix(a.OverrideSessionServer, "/")
	}
	return DefaultSessionServer
}

// ServerDescriptor is one backend server declared in the config file
type ServerDescriptor struct {
	// ServerId is the key of the servers map unless set explicitly
	ServerId   string            `json:"server_id,omitempty"`
	ServerName string            `json:"server_name"`
	ServerIp   string            `json:"server_ip"`
	ServerPort uint16            `json:"server_port"`
	Forwarding *ForwardingMethod `json:"forwarding,omitempty"`
}

// DisplayName is the name shown to players, falling back to the server id
func (s *ServerDescriptor) DisplayName() string {
	if s.ServerName != "" {
		return s.ServerName
	}
	return s.ServerId
}

func (s *ServerDescriptor) Address() string {
	return net.JoinHostPort(s.ServerIp, strconv.Itoa(int(s.ServerPort)))
}

type AuthConfig struct {
	ForceKeyAuthentication bool             `json:"force_key_authentication"`
	DefaultForwarding      ForwardingMethod `json:"default_forwarding"`
	IncomingAuth           IncomingAuth     `json:"incoming_auth"`
}

type PlayersPolicyKind int

const (
	// PlayersIncremental reports the current count with room for one more
	PlayersIncremental PlayersPolicyKind = iota
	// PlayersStatic reports fixed numbers
	PlayersStatic
	// PlayersCapped reports the current count and refuses logins at the maximum
	PlayersCapped
)

// PlayersPolicy is written as null, {"max_players", "online_players"} or {"max_players"}
type PlayersPolicy struct {
	Kind          PlayersPolicyKind
	MaxPlayers    int
	OnlinePlayers int
}

func (p *PlayersPolicy) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*p = PlayersPolicy{Kind: PlayersIncremental}
		return nil
	}
	var fields struct {
		MaxPlayers    *int `json:"max_players"`
		OnlinePlayers *int `json:"online_players"`
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	switch {
	case fields.MaxPlayers != nil && fields.OnlinePlayers != nil:
		*p = PlayersPolicy{Kind: PlayersStatic, MaxPlayers: *fields.MaxPlayers, OnlinePlayers: *fields.OnlinePlayers}
	case fields.MaxPlayers != nil:
		*p = PlayersPolicy{Kind: PlayersCapped, MaxPlayers: *fields.MaxPlayers}
	default:
		return errors.New("players must be null, {max_players, online_players} or {max_players}")
	}
	return nil
}

type StatusConfig struct {
	// Motd is a chat component, a plain JSON string is accepted as well
	Motd    json.RawMessage `json:"motd"`
	Players PlayersPolicy   `json:"players"`
}

// ProxyConfig is the schema of the proxy's JSON config file
type ProxyConfig struct {
	LogLevel             string                       `json:"log_level"`
	Bind                 string                       `json:"bind"`
	CompressionThreshold int                          `json:"compression_threshold"`
	Servers              map[string]*ServerDescriptor `json:"servers"`
	Auth                 AuthConfig                   `json:"auth"`
	Status               StatusConfig                 `json:"status"`
	Fallback             []string                     `json:"fallback"`
	Try                  []string                     `json:"try"`
}

// LoadProxyConfig reads and validates the config file
func LoadProxyConfig(fileName string) (*ProxyConfig, error) {
	content, err := os.ReadFile(fileName)
	if err != nil {
		return nil, errors.Wrap(err, "could not read config file")
	}
	logrus.WithField("file", fileName).Debug("Loaded proxy config file")
	return ParseProxyConfig(content)
}

// DefaultCompressionThreshold applies when the config file does not set compression_threshold
const DefaultCompressionThreshold = 256

func ParseProxyConfig(content []byte) (*ProxyConfig, error) {
	config := ProxyConfig{CompressionThreshold: DefaultCompressionThreshold}
	if err := json.Unmarshal(content, &config); err != nil {
		return nil, &ConfigError{Err: errors.Wrap(err, "could not parse config file")}
	}
	for id, server := range config.Servers {
		if server == nil {
			return nil, newConfigError("servers."+id, "server entry is empty")
		}
		if server.ServerId == "" {
			server.ServerId = id
		}
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate reports the first problem that would make the proxy unusable or unsafe
func (c *ProxyConfig) Validate() error {
	if c.Bind == "" {
		return newConfigError("bind", "a bind address is required")
	}
	switch c.Auth.IncomingAuth.Kind {
	case IncomingAuthMojang, IncomingAuthOffline:
	case IncomingAuthVelocity:
		if c.Auth.IncomingAuth.SecretKey == "" {
			return newConfigError("auth.incoming_auth", "velocity incoming auth requires a secret_key")
		}
	case "":
		return newConfigError("auth.incoming_auth", "auth_method is required")
	default:
		return newConfigError("auth.incoming_auth",
			"incoming auth %q is not supported, use mojang, offline or velocity", c.Auth.IncomingAuth.Kind)
	}

	usesDefaultForwarding := false
	for _, id := range c.ServerIds() {
		server := c.Servers[id]
		if server.ServerIp == "" {
			return newConfigError("servers."+id+".server_ip", "a server ip is required")
		}
		if server.ServerPort == 0 {
			return newConfigError("servers."+id+".server_port", "a server port is required")
		}
		if server.Forwarding != nil {
			if err := validateForwarding("servers."+id+".forwarding", server.Forwarding); err != nil {
				return err
			}
		} else {
			usesDefaultForwarding = true
		}
	}
	// the default only matters when some server falls back to it
	if usesDefaultForwarding {
		if err := validateForwarding("auth.default_forwarding", &c.Auth.DefaultForwarding); err != nil {
			return err
		}
	}

	for _, list := range []struct {
		field string
		ids   []string
	}{{"try", c.Try}, {"fallback", c.Fallback}} {
		for _, id := range list.ids {
			if _, exists := c.Servers[id]; !exists {
				return newConfigError(list.field, "unknown server %q", id)
			}
		}
	}
	if len(c.Try) == 0 {
		return newConfigError("try", "at least one server to try is required")
	}
	return nil
}

func validateForwarding(field string, method *ForwardingMethod) error {
	switch method.Kind {
	case ForwardingLegacy:
		return &ConfigError{Field: field, Err: ErrLegacyForwardingUnsupported}
	case ForwardingModern:
		if method.SecretKey == "" {
			return newConfigError(field, "velocity forwarding requires a secret_key")
		}
		return nil
	default:
		return newConfigError(field, "a forwarding method is required")
	}
}

// ServerIds lists the configured servers in a stable order
func (c *ProxyConfig) ServerIds() []string {
	ids := make([]string, 0, len(c.Servers))
	for id := range c.Servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LookupServer finds a server by its map key or by its declared server_id
func (c *ProxyConfig) LookupServer(id string) (*ServerDescriptor, bool) {
	if server, ok := c.Servers[id]; ok {
		return server, true
	}
	for _, server := range c.Servers {
		if server.ServerId == id {
			return server, true
		}
	}
	return nil, false
}

// ForwardingFor resolves the forwarding method of server, falling back to the proxy-wide default
func (c *ProxyConfig) ForwardingFor(server *ServerDescriptor) ForwardingMethod {
	if server.Forwarding != nil {
		return *server.Forwarding
	}
	return c.Auth.DefaultForwarding
}

// ParseLogLevel maps the config file log_level to a logrus level, where "off" only logs panics
func ParseLogLevel(level string) (logrus.Level, error) {
	if strings.EqualFold(level, "off") {
		return logrus.PanicLevel, nil
	}
	if level == "" {
		return logrus.InfoLevel, nil
	}
	return logrus.ParseLevel(level)
}
