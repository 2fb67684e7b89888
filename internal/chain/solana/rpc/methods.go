package rpc

import (
	"context"
	"encoding/json"
	"fmt"
)

// GetBalance returns the lamport balance of an account at confirmed
// commitment.
func (c *Client) GetBalance(ctx context.Context, address string) (uint64, error) {
	params := []interface{}{
		address,
		map[string]string{"commitment": "confirmed"},
	}
	result, err := c.call(ctx, "getBalance", params)
	if err != nil {
		return 0, fmt.Errorf("getBalance(%s): %w", address, err)
	}

	var balance BalanceResult
	if err := json.Unmarshal(result, &balance); err != nil {
		return 0, fmt.Errorf("unmarshal balance: %w", err)
	}
	return balance.Value, nil
}

// GetLatestBlockhash returns a recent blockhash usable for transaction
// assembly.
func (c *Client) GetLatestBlockhash(ctx context.Context) (string, error) {
	params := []interface{}{
		map[string]string{"commitment": "confirmed"},
	}
	result, err := c.call(ctx, "getLatestBlockhash", params)
	if err != nil {
		return "", fmt.Errorf("getLatestBlockhash: %w", err)
	}

	var blockhash BlockhashResult
	if err := json.Unmarshal(result, &blockhash); err != nil {
		return "", fmt.Errorf("unmarshal blockhash: %w", err)
	}
	return blockhash.Value.Blockhash, nil
}

// SendTransaction submits a base64-encoded signed transaction and returns
// its signature. Preflight is skipped: the caller resolves ambiguous
// outcomes through confirmation and balance delta verification, and a
// preflight-rejected transaction would surface the same error either way.
func (c *Client) SendTransaction(ctx context.Context, encodedTx string) (string, error) {
	params := []interface{}{
		encodedTx,
		map[string]interface{}{
			"encoding":            "base64",
			"skipPreflight":       true,
			"preflightCommitment": "confirmed",
		},
	}
	result, err := c.call(ctx, "sendTransaction", params)
	if err != nil {
		return "", fmt.Errorf("sendTransaction: %w", err)
	}

	var signature string
	if err := json.Unmarshal(result, &signature); err != nil {
		return "", fmt.Errorf("unmarshal signature: %w", err)
	}
	return signature, nil
}

// GetSignatureStatuses returns confirmation statuses for the given
// signatures; entries are nil when the cluster has no record of the
// signature yet.
func (c *Client) GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error) {
	if len(signatures) == 0 {
		return nil, nil
	}

	params := []interface{}{
		signatures,
		map[string]bool{"searchTransactionHistory": false},
	}
	result, err := c.call(ctx, "getSignatureStatuses", params)
	if err != nil {
		return nil, fmt.Errorf("getSignatureStatuses: %w", err)
	}

	var statuses SignatureStatusesResult
	if err := json.Unmarshal(result, &statuses); err != nil {
		return nil, fmt.Errorf("unmarshal signature statuses: %w", err)
	}
	if len(statuses.Value) != len(signatures) {
		return nil, fmt.Errorf("signature status count mismatch: got %d, want %d", len(statuses.Value), len(signatures))
	}
	return statuses.Value, nil
}
