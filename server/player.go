package server

import (
	"crypto/md5"
	"net"

	"github.com/McEntropy/Umbrella/mcproto"
	"github.com/google/uuid"
)

// PlayerInfo identifies a player in allow/deny lists and notifications
type PlayerInfo struct {
	Name string    `json:"name"`
	Uuid uuid.UUID `json:"uuid"`
}

func (p *PlayerInfo) String() string {
	if p == nil {
		return ""
	}
	return p.Name + "/" + p.Uuid.String()
}

// ClientInfo is what the proxy learned about a client while authenticating it.
// It is created once login completes and is never modified afterward.
type ClientInfo struct {
	ProtocolVersion mcproto.ProtocolVersion
	// RemoteAddr is the client's address, or the source announced by a trusted PROXY protocol header
	RemoteAddr net.Addr
	// IdentifiedKey is the chat signing key presented by 1.19 - 1.19.2 clients
	IdentifiedKey *mcproto.IdentifiedKey
	// SigHolder is the UUID the identified key was issued to
	SigHolder *uuid.UUID
	Profile   mcproto.GameProfile
}

func (c *ClientInfo) PlayerInfo() *PlayerInfo {
	return &PlayerInfo{
		Name: c.Profile.Name,
		Uuid: c.Profile.Id,
	}
}

// ForwardedAddress is the client address as announced to backends, which is the host without port
func (c *ClientInfo) ForwardedAddress() string {
	if c.RemoteAddr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(c.RemoteAddr.String())
	if err != nil {
		return c.RemoteAddr.String()
	}
	return host
}

// forwardedRemoteAddr is the client address announced by an upstream proxy. The announcement has no
// port so the one of conn is kept.
func forwardedRemoteAddr(announced string, conn net.Addr) net.Addr {
	ip := net.ParseIP(announced)
	if ip == nil {
		return conn
	}
	port := 0
	if tcpAddr, ok := conn.(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}
	return &net.TCPAddr{IP: ip, Port: port}
}

// OfflinePlayerUuid derives the name based UUID servers assign to players in offline mode
func OfflinePlayerUuid(name string) uuid.UUID {
	sum := md5.Sum([]byte("OfflinePlayer:" + name))
	sum[6] = (sum[6] & 0x0f) | 0x30
	sum[8] = (sum[8] & 0x3f) | 0x80
	return sum
}
