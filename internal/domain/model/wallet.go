package model

import (
	"crypto/ed25519"
	"time"
)

// Wallet is a durable roster member: an account identity plus its
// exclusively-owned signing credential. Identity is the public key and
// never changes after creation.
type Wallet struct {
	PublicKey  string             // base58 account identity, unique across the roster
	PrivateKey ed25519.PrivateKey // signing credential, never shared between pools
	Name       string
	Seasoned   bool
	Tag        string // opaque personality tag, interpreted only by the strategy layer

	// Usage bookkeeping, owned by the pool manager.
	TradeCount int
	LastUsed   time.Time
}

// FundingStatus describes where a wallet's balance sits relative to the
// operating band. It is derived from an observed balance, never stored.
type FundingStatus string

const (
	FundingStatusUnfunded    FundingStatus = "unfunded"
	FundingStatusUnderfunded FundingStatus = "underfunded"
	FundingStatusFunded      FundingStatus = "funded"
)

// FundingStatusFor classifies an observed balance against the pool floor.
func FundingStatusFor(balance, floor uint64) FundingStatus {
	switch {
	case balance == 0:
		return FundingStatusUnfunded
	case balance < floor:
		return FundingStatusUnderfunded
	default:
		return FundingStatusFunded
	}
}
