package worker

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Session is the per-connection state: who is playing and the latest flip
// snapshots. It lives from wallet connect to disconnect.
type Session struct {
	ID          string
	Player      common.Address
	ConnectedAt time.Time

	mu     sync.RWMutex
	recent []FlipRecord
	mine   []FlipRecord
}

func NewSession(player common.Address) *Session {
	return &Session{
		ID:          uuid.New().String(),
		Player:      player,
		ConnectedAt: time.Now(),
	}
}

// UpdateFlips replaces the recent snapshot and re-derives the player's own.
func (s *Session) UpdateFlips(records []FlipRecord) []FlipRecord {
	mine := FilterByPlayer(records, s.Player)
	s.mu.Lock()
	s.recent = records
	s.mine = mine
	s.mu.Unlock()
	return mine
}

func (s *Session) RecentFlips() []FlipRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recent
}

func (s *Session) MyFlips() []FlipRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mine
}
