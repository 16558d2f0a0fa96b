package worker

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// ChainReader answers the contract's view methods. Call failures are logged
// and absorbed here: every accessor returns the last value it managed to
// load together with ok=false.
type ChainReader struct {
	caller      ContractCaller
	historySize int

	mu      sync.RWMutex
	jackpot *decimal.Decimal
	balance *decimal.Decimal
	fee     *decimal.Decimal
	count   *uint64
	flips   []FlipRecord
	stats   map[common.Address]PlayerStats
}

func NewChainReader(caller ContractCaller, historySize int) *ChainReader {
	return &ChainReader{
		caller:      caller,
		historySize: historySize,
		stats:       make(map[common.Address]PlayerStats),
	}
}

func (r *ChainReader) loadAmount(ctx context.Context, method string, call func(context.Context) (*big.Int, error), slot **decimal.Decimal) (decimal.Decimal, bool) {
	var wei *big.Int
	err := invoke(ctx, method, func(ctx context.Context) error {
		var err error
		wei, err = call(ctx)
		return err
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		if *slot == nil {
			return decimal.Zero, false
		}
		return **slot, false
	}
	v := FromWei(wei)
	*slot = &v
	return v, true
}

func (r *ChainReader) JackpotPool(ctx context.Context) (decimal.Decimal, bool) {
	return r.loadAmount(ctx, "getJackpotPool", r.caller.JackpotPool, &r.jackpot)
}

func (r *ChainReader) Balance(ctx context.Context) (decimal.Decimal, bool) {
	return r.loadAmount(ctx, "getBalance", r.caller.Balance, &r.balance)
}

func (r *ChainReader) CurrentFee(ctx context.Context) (decimal.Decimal, bool) {
	return r.loadAmount(ctx, "getCurrentFee", r.caller.CurrentFee, &r.fee)
}

// Pool loads the jackpot, balance and fee panel in one go.
func (r *ChainReader) Pool(ctx context.Context) PoolInfo {
	var p PoolInfo
	p.Jackpot, p.JackpotAvailable = r.JackpotPool(ctx)
	p.Balance, p.BalanceAvailable = r.Balance(ctx)
	p.Fee, p.FeeAvailable = r.CurrentFee(ctx)
	return p
}

func (r *ChainReader) FlipCount(ctx context.Context) (uint64, bool) {
	var raw *big.Int
	err := invoke(ctx, "flipCount", func(ctx context.Context) error {
		var err error
		raw, err = r.caller.FlipCount(ctx)
		return err
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		if r.count == nil {
			return 0, false
		}
		return *r.count, false
	}
	n := uint64OrMax(raw)
	r.count = &n
	return n, true
}

// RecentFlips returns the newest flips first. ok=false means the returned
// slice is the previous snapshot (possibly nil), not a fresh read.
func (r *ChainReader) RecentFlips(ctx context.Context) ([]FlipRecord, bool) {
	count, ok := r.FlipCount(ctx)
	if !ok {
		return r.lastFlips(), false
	}
	if count == 0 {
		r.mu.Lock()
		r.flips = []FlipRecord{}
		r.mu.Unlock()
		return []FlipRecord{}, true
	}

	n := count
	if n > uint64(r.historySize) {
		n = uint64(r.historySize)
	}

	var raw RecentFlipsResult
	err := invoke(ctx, "getRecentFlips", func(ctx context.Context) error {
		var err error
		raw, err = r.caller.RecentFlips(ctx, new(big.Int).SetUint64(n))
		return err
	})
	if err != nil {
		return r.lastFlips(), false
	}

	records := decodeRecentFlips(raw)
	r.mu.Lock()
	r.flips = records
	r.mu.Unlock()
	return records, true
}

func (r *ChainReader) lastFlips() []FlipRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.flips
}

func (r *ChainReader) PlayerStats(ctx context.Context, player common.Address) (PlayerStats, bool) {
	var raw RawPlayerStats
	err := invoke(ctx, "getMyStats", func(ctx context.Context) error {
		var err error
		raw, err = r.caller.PlayerStats(ctx, player)
		return err
	})

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		prev, seen := r.stats[player]
		if !seen {
			return PlayerStats{Player: player}, false
		}
		return prev, false
	}
	stats := decodePlayerStats(raw)
	stats.Player = player
	r.stats[player] = stats
	return stats, true
}

// FilterByPlayer keeps the records placed by player, preserving order.
func FilterByPlayer(records []FlipRecord, player common.Address) []FlipRecord {
	mine := make([]FlipRecord, 0)
	for _, rec := range records {
		if rec.Player == player {
			mine = append(mine, rec)
		}
	}
	return mine
}
