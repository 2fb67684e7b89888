package store

import (
	"context"

	"github.com/emberlane/walletfleet/internal/domain/model"
)

// Roster persists the durable wallet roster. The pool manager depends only
// on these two operations; format and location belong to the
// implementation. A Load failure at startup is fatal to the run; the pool
// must never operate on an assumed-empty roster.
type Roster interface {
	// Load returns every persisted wallet record. A missing backing store
	// is not an error: it returns an empty slice so first runs can
	// bootstrap. Corrupt data is an error.
	Load(ctx context.Context) ([]model.Wallet, error)

	// Save persists the full roster, replacing previous contents.
	Save(ctx context.Context, wallets []model.Wallet) error
}
