package server

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// ProxyState is shared by every connection for the lifetime of the process.
// Config must not be modified once the state is created.
type ProxyState struct {
	Config *ProxyConfig

	mu             sync.RWMutex
	currentPlayers int
}

func NewProxyState(config *ProxyConfig) *ProxyState {
	return &ProxyState{Config: config}
}

func (s *ProxyState) CurrentPlayers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentPlayers
}

// TryAddPlayer counts a player in unless a capped players policy is already at its maximum.
// Each successful call must be paired with RemovePlayer.
func (s *ProxyState) TryAddPlayer() bool {
	policy := s.Config.Status.Players

	s.mu.Lock()
	defer s.mu.Unlock()
	if policy.Kind == PlayersCapped && s.currentPlayers >= policy.MaxPlayers {
		return false
	}
	s.currentPlayers++
	return true
}

func (s *ProxyState) RemovePlayer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentPlayers == 0 {
		logrus.Warn("Player removed without a matching add")
		return
	}
	s.currentPlayers--
}
