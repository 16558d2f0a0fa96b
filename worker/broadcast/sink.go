package broadcast

import (
	"time"

	"github.com/shopspring/decimal"

	"nadflip-web-worker/worker"
)

// HubSink renders the lifecycle to every connected browser.
type HubSink struct {
	hub *Hub
}

func NewHubSink(hub *Hub) *HubSink {
	return &HubSink{hub: hub}
}

func (s *HubSink) send(kind string, payload interface{}) {
	s.hub.Broadcast(ServerMessage{Type: kind, Payload: payload, Timestamp: time.Now()})
}

func (s *HubSink) BeginPendingAnimation() {
	s.send(MessageTypePending, nil)
}

func (s *HubSink) CancelPendingAnimation() {
	s.send(MessageTypeCancel, nil)
}

func (s *HubSink) RevealOutcome(won bool, amount decimal.Decimal, guessHigh bool) {
	s.send(MessageTypeOutcome, OutcomePayload{
		Won:    won,
		Amount: amount.String(),
		Guess:  guessName(guessHigh),
	})
}

func (s *HubSink) RenderHistoryPage(records []worker.FlipRecord, page int) {
	rows := make([]FlipRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, FlipRow{
			ID:      rec.ID,
			Player:  rec.Player.Hex(),
			Wagered: rec.Wagered.String(),
			Payout:  rec.Payout.String(),
			Rolled:  rec.Rolled,
			Won:     rec.Won,
			Jackpot: rec.Jackpot,
			Guess:   guessName(rec.GuessHigh),
		})
	}
	s.send(MessageTypeHistory, HistoryPayload{Page: page, Records: rows})
}

func (s *HubSink) RenderStatsPanel(stats worker.PlayerStats) {
	s.send(MessageTypeStats, StatsPayload{
		Player:   stats.Player.Hex(),
		Flips:    stats.Flips,
		Wins:     stats.Wins,
		Jackpots: stats.Jackpots,
		Wagered:  stats.Wagered.String(),
		PaidOut:  stats.PaidOut.String(),
		NetGain:  stats.NetGain().String(),
	})
}

func (s *HubSink) RenderPoolPanel(pool worker.PoolInfo) {
	var p PoolPayload
	if pool.JackpotAvailable || !pool.Jackpot.IsZero() {
		p.Jackpot = pool.Jackpot.String()
	}
	if pool.BalanceAvailable || !pool.Balance.IsZero() {
		p.Balance = pool.Balance.String()
	}
	if pool.FeeAvailable || !pool.Fee.IsZero() {
		p.Fee = pool.Fee.String()
	}
	s.send(MessageTypePool, p)
}

func guessName(high bool) string {
	if high {
		return "high"
	}
	return "low"
}
