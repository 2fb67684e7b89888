package solana

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	"github.com/emberlane/walletfleet/internal/chain"
	"github.com/emberlane/walletfleet/internal/chain/solana/rpc"
)

const confirmPollInterval = 2 * time.Second

// Adapter implements chain.Client on top of the Solana JSON-RPC interface.
type Adapter struct {
	client rpc.RPCClient
	logger *slog.Logger
}

func NewAdapter(client rpc.RPCClient, logger *slog.Logger) *Adapter {
	return &Adapter{
		client: client,
		logger: logger.With("component", "solana"),
	}
}

func (a *Adapter) GetBalance(ctx context.Context, pubkey string) (uint64, error) {
	return a.client.GetBalance(ctx, pubkey)
}

// Transfer assembles, signs, and submits a native lamport transfer. The
// returned signature identifies the transaction for confirmation; submission
// alone says nothing about whether the transfer landed.
func (a *Adapter) Transfer(ctx context.Context, from chain.Signer, to string, lamports uint64) (string, error) {
	blockhash, err := a.client.GetLatestBlockhash(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch blockhash: %w", err)
	}

	raw, sig, err := buildTransferTx(from.PrivateKey, from.PublicKey, to, blockhash, lamports)
	if err != nil {
		return "", fmt.Errorf("build transfer: %w", err)
	}

	submitted, err := a.client.SendTransaction(ctx, base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		return "", fmt.Errorf("submit transfer: %w", err)
	}
	if submitted != sig {
		// The cluster echoes the first signature; a mismatch means the
		// transaction we signed is not the one that was accepted.
		a.logger.Warn("submitted signature mismatch", "signed", sig, "submitted", submitted)
	}
	return submitted, nil
}

// Confirm polls signature status until the transaction reaches confirmed
// commitment, fails on chain, or the wait window elapses.
func (a *Adapter) Confirm(ctx context.Context, signature string, timeout time.Duration) (chain.ConfirmStatus, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()

	for {
		statuses, err := a.client.GetSignatureStatuses(ctx, []string{signature})
		if err != nil {
			a.logger.Debug("signature status poll failed", "signature", signature, "error", err)
		} else if len(statuses) == 1 && statuses[0] != nil {
			status := statuses[0]
			if status.Err != nil {
				return chain.ConfirmFailed, nil
			}
			if status.Confirmed() {
				return chain.ConfirmSuccess, nil
			}
		}

		if time.Now().After(deadline) {
			return chain.ConfirmTimeout, nil
		}

		select {
		case <-ctx.Done():
			return chain.ConfirmTimeout, ctx.Err()
		case <-ticker.C:
		}
	}
}
