package server

import (
	"encoding/json"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// AllowDenyLists name players by name, by UUID or by both. An entry with neither matches nobody.
type AllowDenyLists struct {
	Allowlist []PlayerInfo `json:"allowlist"`
	Denylist  []PlayerInfo `json:"denylist"`
}

// AllowDenyConfig declares which players may join, globally and per server id.
// The lists of a server extend the global ones.
type AllowDenyConfig struct {
	Global  AllowDenyLists            `json:"global"`
	Servers map[string]AllowDenyLists `json:"servers"`
}

func ParseAllowDenyConfig(fileName string) (*AllowDenyConfig, error) {
	content, err := os.ReadFile(fileName)
	if err != nil {
		return nil, errors.Wrap(err, "could not read allow/deny list")
	}
	var config AllowDenyConfig
	if err := json.Unmarshal(content, &config); err != nil {
		return nil, errors.Wrap(err, "could not parse allow/deny list")
	}
	return &config, nil
}

// Validate rejects lists for servers the proxy does not know, which would otherwise never apply
func (c *AllowDenyConfig) Validate(proxyConfig *ProxyConfig) error {
	if c == nil {
		return nil
	}
	ids := make([]string, 0, len(c.Servers))
	for id := range c.Servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if _, ok := proxyConfig.LookupServer(id); !ok {
			return newConfigError("servers."+id, "allow/deny lists given for unknown server %q", id)
		}
	}
	return nil
}

// ServerAllowsPlayer decides whether player may be connected to serverId. When any allowlist
// applies the player must be on it, otherwise the player must not be on an applicable denylist.
func (c *AllowDenyConfig) ServerAllowsPlayer(serverId string, player *PlayerInfo) bool {
	if c == nil {
		return true
	}

	server := c.Servers[serverId]
	if len(c.Global.Allowlist) > 0 || len(server.Allowlist) > 0 {
		return listed(c.Global.Allowlist, player) || listed(server.Allowlist, player)
	}
	return !listed(c.Global.Denylist, player) && !listed(server.Denylist, player)
}

func listed(entries []PlayerInfo, player *PlayerInfo) bool {
	for i := range entries {
		if entries[i].identifies(player) {
			return true
		}
	}
	return false
}

// identifies matches player names case-insensitively, the way Minecraft treats them
func (e *PlayerInfo) identifies(player *PlayerInfo) bool {
	hasName, hasUuid := e.Name != "", e.Uuid != uuid.Nil
	switch {
	case hasName && hasUuid:
		return strings.EqualFold(e.Name, player.Name) && e.Uuid == player.Uuid
	case hasUuid:
		return e.Uuid == player.Uuid
	case hasName:
		return strings.EqualFold(e.Name, player.Name)
	default:
		return false
	}
}
