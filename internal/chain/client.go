package chain

import (
	"context"
	"crypto/ed25519"
	"time"
)

// Signer carries an account identity and the credential needed to move its
// funds. Wallets and relayers both reduce to a Signer at the transfer
// boundary.
type Signer struct {
	PublicKey  string
	PrivateKey ed25519.PrivateKey
}

// ConfirmStatus is the outcome of waiting on a submitted transaction.
type ConfirmStatus int

const (
	ConfirmSuccess ConfirmStatus = iota // confirmed or finalized on chain
	ConfirmFailed                       // landed on chain with an error
	ConfirmTimeout                      // not observed within the wait window
)

func (s ConfirmStatus) String() string {
	switch s {
	case ConfirmSuccess:
		return "success"
	case ConfirmFailed:
		return "failed"
	case ConfirmTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

//go:generate mockgen -destination=mocks/client_mock.go -package=mocks github.com/emberlane/walletfleet/internal/chain Client

// Client is the sole capability the pool layer has for reading balances and
// moving funds. It is the single source of truth for funds movement: callers
// never assume a transfer succeeded without either confirmation or balance
// delta verification.
type Client interface {
	// GetBalance returns the current balance of an account in lamports.
	GetBalance(ctx context.Context, pubkey string) (uint64, error)

	// Transfer submits a signed transfer of lamports from the signer to the
	// destination account and returns the transaction signature.
	Transfer(ctx context.Context, from Signer, to string, lamports uint64) (string, error)

	// Confirm waits up to timeout for the transaction to land. ConfirmTimeout
	// is not a failure: the caller resolves it through delta verification.
	Confirm(ctx context.Context, signature string, timeout time.Duration) (ConfirmStatus, error)
}
