package pool

import "sync"

// FundingLocks tracks which wallets have a funding flow in flight. A
// wallet holds at most one lock at a time, so two overlapping funding
// passes can never double-spend a top-up into the same account.
type FundingLocks struct {
	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewFundingLocks() *FundingLocks {
	return &FundingLocks{inflight: make(map[string]struct{})}
}

// TryAcquire claims the funding lock for a wallet. It never blocks: a
// false return means another flow already owns the wallet and the caller
// must skip it.
func (l *FundingLocks) TryAcquire(pubkey string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, held := l.inflight[pubkey]; held {
		return false
	}
	l.inflight[pubkey] = struct{}{}
	return true
}

// Release frees the lock. Releasing an unheld lock is a no-op.
func (l *FundingLocks) Release(pubkey string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.inflight, pubkey)
}

// Held reports whether a funding flow currently owns the wallet.
func (l *FundingLocks) Held(pubkey string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, held := l.inflight[pubkey]
	return held
}

// InFlight returns the number of wallets currently being funded.
func (l *FundingLocks) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.inflight)
}
