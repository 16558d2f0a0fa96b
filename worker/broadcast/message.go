package broadcast

import "time"

const (
	MessageTypePending = "pending"
	MessageTypeCancel  = "cancel"
	MessageTypeOutcome = "outcome"
	MessageTypeHistory = "history"
	MessageTypeStats   = "stats"
	MessageTypePool    = "pool"
	MessageTypeWelcome = "welcome"
	MessageTypeError   = "error"
	MessageTypePing    = "ping"
	MessageTypePong    = "pong"
)

// ServerMessage is the envelope of everything pushed to browsers.
type ServerMessage struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ClientMessage is what browsers may send; only pings are understood.
type ClientMessage struct {
	Type string `json:"type"`
}

type OutcomePayload struct {
	Won    bool   `json:"won"`
	Amount string `json:"amount"`
	Guess  string `json:"guess"`
}

type FlipRow struct {
	ID      uint64 `json:"id"`
	Player  string `json:"player"`
	Wagered string `json:"wagered"`
	Payout  string `json:"payout"`
	Rolled  uint32 `json:"rolled"`
	Won     bool   `json:"won"`
	Jackpot bool   `json:"jackpot"`
	Guess   string `json:"guess"`
}

type HistoryPayload struct {
	Page    int       `json:"page"`
	Records []FlipRow `json:"records"`
}

type StatsPayload struct {
	Player   string `json:"player"`
	Flips    uint64 `json:"flips"`
	Wins     uint64 `json:"wins"`
	Jackpots uint64 `json:"jackpots"`
	Wagered  string `json:"wagered"`
	PaidOut  string `json:"paid_out"`
	NetGain  string `json:"net_gain"`
}

// PoolPayload leaves a figure empty when it could not be loaded.
type PoolPayload struct {
	Jackpot string `json:"jackpot,omitempty"`
	Balance string `json:"balance,omitempty"`
	Fee     string `json:"fee,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
