package worker

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

type WagerState int

const (
	WagerIdle WagerState = iota
	WagerSubmitting
	WagerAwaitingResult
	WagerSettled
	WagerFailed
)

func (s WagerState) String() string {
	switch s {
	case WagerIdle:
		return "idle"
	case WagerSubmitting:
		return "submitting"
	case WagerAwaitingResult:
		return "awaiting_result"
	case WagerSettled:
		return "settled"
	case WagerFailed:
		return "failed"
	}
	return fmt.Sprintf("WagerState(%d)", int(s))
}

// Outstanding reports whether a wager in this state blocks new submissions.
func (s WagerState) Outstanding() bool {
	return s == WagerSubmitting || s == WagerAwaitingResult
}

type Wager struct {
	ID          string
	GuessHigh   bool
	Stake       decimal.Decimal
	SubmittedAt time.Time
	State       WagerState
	TxHash      common.Hash
}

// FlipRecord is a settled flip as reported by getRecentFlips.
type FlipRecord struct {
	ID        uint64
	Player    common.Address
	Wagered   decimal.Decimal
	Payout    decimal.Decimal
	Rolled    uint32
	Won       bool
	Jackpot   bool
	GuessHigh bool
}

type Source int

const (
	SourcePush Source = iota
	SourcePoll
	SourceFallback
)

func (s Source) String() string {
	switch s {
	case SourcePush:
		return "push"
	case SourcePoll:
		return "poll"
	case SourceFallback:
		return "fallback"
	}
	return fmt.Sprintf("Source(%d)", int(s))
}

// ResultCandidate is one delivery from a result channel. Fallback
// candidates carry no record; they only ask the engine to check its deadline.
type ResultCandidate struct {
	Source Source
	Record *FlipRecord
	Key    string
	Block  uint64
}

type PlayerStats struct {
	Player   common.Address
	Flips    uint64
	Wins     uint64
	Jackpots uint64
	Wagered  decimal.Decimal
	PaidOut  decimal.Decimal
}

func (s PlayerStats) NetGain() decimal.Decimal {
	return s.PaidOut.Sub(s.Wagered)
}

// PoolInfo is the contract-wide panel. A zero value with the matching
// Available flag unset means the figure could not be loaded yet.
type PoolInfo struct {
	Jackpot          decimal.Decimal
	Balance          decimal.Decimal
	Fee              decimal.Decimal
	JackpotAvailable bool
	BalanceAvailable bool
	FeeAvailable     bool
}
