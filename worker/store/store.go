package store

import (
	"time"

	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("settlement not found")

// Settlement is the journal entry written once a wager is finalised.
type Settlement struct {
	WagerID   string    `json:"wager_id"`
	SessionID string    `json:"session_id"`
	Player    string    `json:"player"`
	TxHash    string    `json:"tx_hash"`
	FlipID    uint64    `json:"flip_id,omitempty"`
	GuessHigh bool      `json:"guess_high"`
	Stake     string    `json:"stake"`
	Amount    string    `json:"amount"`
	Rolled    uint32    `json:"rolled"`
	Won       bool      `json:"won"`
	Jackpot   bool      `json:"jackpot"`
	Forced    bool      `json:"forced"`
	Source    string    `json:"source"`
	SettledAt time.Time `json:"settled_at"`
}

type Store interface {
	Get(string) (*Settlement, error)
	Set(string, *Settlement) error
}
