package model

import "time"

// TradeOutcome is a single pass/fail result reported by the strategy layer
// after executing with a wallet. Outcomes feed the circuit breaker and the
// outcome journal.
type TradeOutcome struct {
	ID      string    `json:"id"`
	Wallet  string    `json:"wallet"`
	Success bool      `json:"success"`
	At      time.Time `json:"at"`
}
