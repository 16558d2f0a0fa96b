package worker

import (
	"math/big"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// decodeRecentFlips zips the parallel arrays into records, clipping to the
// shortest array when the contract returns them with uneven lengths.
func decodeRecentFlips(raw RecentFlipsResult) []FlipRecord {
	lengths := []int{
		len(raw.IDs),
		len(raw.Players),
		len(raw.Amounts),
		len(raw.Rolled),
		len(raw.Won),
		len(raw.Jackpot),
		len(raw.GuessHigh),
	}

	valid, longest := lengths[0], lengths[0]
	for _, n := range lengths[1:] {
		if n < valid {
			valid = n
		}
		if n > longest {
			longest = n
		}
	}
	if valid != longest {
		log.WithField("lengths", lengths).Warnf("getRecentFlips returned uneven arrays, clipping to %d", valid)
	}

	records := make([]FlipRecord, 0, valid)
	for i := 0; i < valid; i++ {
		wagered := FromWei(raw.Amounts[i])
		records = append(records, FlipRecord{
			ID:        uint64OrMax(raw.IDs[i]),
			Player:    raw.Players[i],
			Wagered:   wagered,
			Payout:    payoutFor(wagered, raw.Won[i]),
			Rolled:    raw.Rolled[i],
			Won:       raw.Won[i],
			Jackpot:   raw.Jackpot[i],
			GuessHigh: raw.GuessHigh[i],
		})
	}
	return records
}

func decodePlayerStats(raw RawPlayerStats) PlayerStats {
	return PlayerStats{
		Flips:    uint64OrMax(raw.TotalFlips),
		Wins:     uint64OrMax(raw.Wins),
		Jackpots: uint64OrMax(raw.Jackpots),
		Wagered:  FromWei(raw.Wagered),
		PaidOut:  FromWei(raw.PaidOut),
	}
}

// decodeFlipResult turns a FlipResult event into a record. Events carry the
// payout, not the stake, and no flip id.
func decodeFlipResult(ev *FlipResultEvent) *FlipRecord {
	rolled := uint64OrMax(ev.RolledNumber)
	if rolled > uint64(^uint32(0)) {
		rolled = uint64(^uint32(0))
	}
	payout := decimal.Zero
	if ev.Won {
		payout = FromWei(ev.Amount)
	}
	return &FlipRecord{
		Player:    ev.Player,
		Payout:    payout,
		Rolled:    uint32(rolled),
		Won:       ev.Won,
		Jackpot:   ev.Jackpot,
		GuessHigh: ev.GuessHigh,
	}
}

// candidateFrom wraps an event delivered by the push or poll channel.
func candidateFrom(src Source, ev *FlipResultEvent) ResultCandidate {
	return ResultCandidate{Source: src, Record: decodeFlipResult(ev), Key: ev.Key(), Block: ev.Raw.BlockNumber}
}

func uint64OrMax(v *big.Int) uint64 {
	switch {
	case v == nil || v.Sign() < 0:
		return 0
	case !v.IsUint64():
		return ^uint64(0)
	}
	return v.Uint64()
}
