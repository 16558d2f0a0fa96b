package worker

import (
	"math/big"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

const (
	// RollMidpoint splits the 0..999 roll domain into low and high halves.
	RollMidpoint = 500

	weiDecimals = 18
)

// payoutMultiplier is 2x minus the 0.8% house edge.
var payoutMultiplier = decimal.NewFromFloat(1.984)

// maxStakeWei is the largest amount the contract's uint88 field can carry.
var maxStakeWei = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 88), big.NewInt(1))

// RecomputeWon applies the contract's win rule locally.
func RecomputeWon(guessHigh bool, rolled uint32) bool {
	return (guessHigh && rolled >= RollMidpoint) || (!guessHigh && rolled < RollMidpoint)
}

// verifyRecord logs records whose won flag disagrees with the local rule.
// The contract's flag stays authoritative either way.
func verifyRecord(rec *FlipRecord) bool {
	calculated := RecomputeWon(rec.GuessHigh, rec.Rolled)
	if calculated != rec.Won {
		log.WithFields(log.Fields{
			"flip_id":    rec.ID,
			"player":     rec.Player.Hex(),
			"rolled":     rec.Rolled,
			"guess_high": rec.GuessHigh,
			"contract":   rec.Won,
			"calculated": calculated,
		}).Warn("won flag mismatch between contract and local rule")
		return false
	}
	return true
}

func payoutFor(wagered decimal.Decimal, won bool) decimal.Decimal {
	if !won {
		return decimal.Zero
	}
	return wagered.Mul(payoutMultiplier)
}

func FromWei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -weiDecimals)
}

func ToWei(amount decimal.Decimal) *big.Int {
	return amount.Shift(weiDecimals).Truncate(0).BigInt()
}
