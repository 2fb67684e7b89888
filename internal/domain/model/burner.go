package model

import (
	"crypto/ed25519"
	"time"
)

// BurnerState tracks the lifecycle of an ephemeral wallet.
type BurnerState int

const (
	BurnerCreated         BurnerState = iota // keypair generated, not yet funded
	BurnerFunding                            // funding transfer in flight
	BurnerActive                             // funded and eligible for use
	BurnerPendingDisposal                    // lifetime cap reached, sweep scheduled
	BurnerDisposed                           // swept and removed from tracking
)

func (s BurnerState) String() string {
	switch s {
	case BurnerCreated:
		return "created"
	case BurnerFunding:
		return "funding"
	case BurnerActive:
		return "active"
	case BurnerPendingDisposal:
		return "pending_disposal"
	case BurnerDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// BurnerWallet is an ephemeral wallet record. It lives only in memory and
// is bounded to a single run: created, used up to a capped number of
// transactions, then disposed.
type BurnerWallet struct {
	PublicKey  string
	PrivateKey ed25519.PrivateKey
	State      BurnerState
	CreatedAt  time.Time

	TxCount       int // lifetime transaction count
	SeasonTxCount int // transactions counted toward the seasoning requirement
	LastUsed      time.Time

	// DisposeAfter is set when the lifetime cap is reached; the sweep runs
	// only once this time has passed.
	DisposeAfter time.Time
}
