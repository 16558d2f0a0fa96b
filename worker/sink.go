package worker

import (
	"fmt"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// PresentationSink renders lifecycle output. Implementations must not block
// for long and never fail.
type PresentationSink interface {
	BeginPendingAnimation()
	CancelPendingAnimation()
	RevealOutcome(won bool, amount decimal.Decimal, guessHigh bool)
	RenderHistoryPage(records []FlipRecord, page int)
	RenderStatsPanel(stats PlayerStats)
	RenderPoolPanel(pool PoolInfo)
}

// MultiSink fans every call out to each sink in order.
type MultiSink []PresentationSink

func (m MultiSink) BeginPendingAnimation() {
	for _, s := range m {
		s.BeginPendingAnimation()
	}
}

func (m MultiSink) CancelPendingAnimation() {
	for _, s := range m {
		s.CancelPendingAnimation()
	}
}

func (m MultiSink) RevealOutcome(won bool, amount decimal.Decimal, guessHigh bool) {
	for _, s := range m {
		s.RevealOutcome(won, amount, guessHigh)
	}
}

func (m MultiSink) RenderHistoryPage(records []FlipRecord, page int) {
	for _, s := range m {
		s.RenderHistoryPage(records, page)
	}
}

func (m MultiSink) RenderStatsPanel(stats PlayerStats) {
	for _, s := range m {
		s.RenderStatsPanel(stats)
	}
}

func (m MultiSink) RenderPoolPanel(pool PoolInfo) {
	for _, s := range m {
		s.RenderPoolPanel(pool)
	}
}

// LogSink renders to the process log.
type LogSink struct {
	Currency string
}

func NewLogSink() *LogSink {
	return &LogSink{Currency: "MON"}
}

func (s *LogSink) BeginPendingAnimation() {
	log.Info("flipping...")
}

func (s *LogSink) CancelPendingAnimation() {
	log.Info("flip cancelled")
}

func (s *LogSink) RevealOutcome(won bool, amount decimal.Decimal, guessHigh bool) {
	entry := log.WithFields(log.Fields{"guess": sideName(guessHigh), "won": won})
	if won {
		entry.Infof("WIN +%s %s", amount.StringFixed(3), s.Currency)
		return
	}
	entry.Infof("LOSS -%s %s", amount.StringFixed(3), s.Currency)
}

func (s *LogSink) RenderHistoryPage(records []FlipRecord, page int) {
	if len(records) == 0 {
		log.Info("no flips yet")
		return
	}
	log.Infof("flip history, page %d", page)
	for _, rec := range records {
		log.Info(s.formatRow(rec))
	}
}

func (s *LogSink) formatRow(rec FlipRecord) string {
	amount := "-"
	if rec.Won {
		amount = fmt.Sprintf("+%s %s", rec.Payout.StringFixed(3), s.Currency)
		if rec.Jackpot {
			amount += " JACKPOT"
		}
	}
	return fmt.Sprintf("#%-6d %s  guess=%-4s rolled=%-4s %3d  %s",
		rec.ID, shortenAddress(rec.Player.Hex()), sideName(rec.GuessHigh),
		sideName(rec.Rolled >= RollMidpoint), rec.Rolled, amount)
}

func (s *LogSink) RenderStatsPanel(stats PlayerStats) {
	log.WithFields(log.Fields{
		"player":   stats.Player.Hex(),
		"flips":    stats.Flips,
		"wins":     stats.Wins,
		"jackpots": stats.Jackpots,
		"wagered":  stats.Wagered.StringFixed(4),
		"paid_out": stats.PaidOut.StringFixed(4),
		"net_gain": stats.NetGain().StringFixed(4),
	}).Info("player stats")
}

func (s *LogSink) RenderPoolPanel(pool PoolInfo) {
	log.WithFields(log.Fields{
		"jackpot": availableOr(pool.Jackpot, pool.JackpotAvailable, 6),
		"balance": availableOr(pool.Balance, pool.BalanceAvailable, 2),
		"fee":     availableOr(pool.Fee, pool.FeeAvailable, 3),
	}).Info("contract pool")
}

func availableOr(v decimal.Decimal, ok bool, places int32) string {
	if !ok && v.IsZero() {
		return "unavailable"
	}
	return v.StringFixed(places)
}

func sideName(high bool) string {
	if high {
		return "high"
	}
	return "low"
}

func shortenAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

// Paginate returns the records of the given 1-based page and the page
// actually served, clamped into range.
func Paginate(records []FlipRecord, page, perPage int) ([]FlipRecord, int) {
	if perPage <= 0 {
		perPage = 15
	}
	pages := TotalPages(len(records), perPage)
	if page > pages {
		page = pages
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * perPage
	if start >= len(records) {
		return []FlipRecord{}, page
	}
	end := start + perPage
	if end > len(records) {
		end = len(records)
	}
	return records[start:end], page
}

func TotalPages(total, perPage int) int {
	if perPage <= 0 || total <= 0 {
		return 0
	}
	return (total + perPage - 1) / perPage
}
