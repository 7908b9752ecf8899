package server

import (
	"context"
	"net"
)

type ConnectionNotifier interface {
	// NotifyMissingBackend is called when a player is sent to a server id that is not configured.
	NotifyMissingBackend(ctx context.Context,
		clientAddr net.Addr, serverId string, playerInfo *PlayerInfo) error

	// NotifyFailedBackendConnection is called when connecting or logging in to the backend failed.
	NotifyFailedBackendConnection(ctx context.Context,
		clientAddr net.Addr, serverId string, playerInfo *PlayerInfo, backendHostPort string, err error) error

	// NotifyConnected is called when the player was attached to a backend.
	NotifyConnected(ctx context.Context,
		clientAddr net.Addr, serverId string, playerInfo *PlayerInfo, backendHostPort string) error

	// NotifyDisconnected is called when the player left a backend, either by leaving or by switching.
	NotifyDisconnected(ctx context.Context,
		clientAddr net.Addr, serverId string, playerInfo *PlayerInfo, backendHostPort string) error
}
