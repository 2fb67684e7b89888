package funds

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/emberlane/walletfleet/internal/chain"
	"github.com/emberlane/walletfleet/internal/metrics"
	"github.com/emberlane/walletfleet/internal/retry"
)

// VerifyOutcome classifies a balance-delta verification after an ambiguous
// confirmation.
type VerifyOutcome int

const (
	VerifyConfirmed     VerifyOutcome = iota // observed delta matches the transfer within tolerance
	VerifyContradicted                       // destination balance did not move
	VerifyIndeterminate                      // balance moved, but not by the expected amount
)

func (o VerifyOutcome) String() string {
	switch o {
	case VerifyConfirmed:
		return "confirmed"
	case VerifyContradicted:
		return "contradicted"
	case VerifyIndeterminate:
		return "indeterminate"
	default:
		return "unknown"
	}
}

// Options bound a verified send.
type Options struct {
	ConfirmTimeout time.Duration // wait before falling back to delta verification (default: 30s)
	ToleranceBps   int           // delta verification tolerance in basis points (default: 100)
	MaxAttempts    int           // submission attempts before giving up (default: 3)
	BackoffInitial time.Duration // first retry delay (default: 500ms)
	BackoffMax     time.Duration // retry delay cap (default: 8s)
}

func (o Options) withDefaults() Options {
	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = 30 * time.Second
	}
	if o.ToleranceBps <= 0 {
		o.ToleranceBps = 100
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 500 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 8 * time.Second
	}
	return o
}

// Send moves lamports from the signer to the destination and does not
// report success until the transfer is confirmed or verified by balance
// delta. A confirmation timeout is never treated as failure outright: the
// destination balance decides, so a transaction that actually landed is
// not double-sent.
func Send(ctx context.Context, client chain.Client, from chain.Signer, to string, lamports uint64, opts Options, logger *slog.Logger) error {
	opts = opts.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := retry.Sleep(ctx, retry.Delay(opts.BackoffInitial, opts.BackoffMax, attempt-1)); err != nil {
				return err
			}
		}

		before, err := client.GetBalance(ctx, to)
		if err != nil {
			lastErr = fmt.Errorf("read destination balance: %w", err)
			if !retry.Classify(err).IsTransient() {
				return lastErr
			}
			continue
		}

		sig, err := client.Transfer(ctx, from, to, lamports)
		if err != nil {
			lastErr = fmt.Errorf("submit transfer: %w", err)
			decision := retry.Classify(err)
			if !decision.IsTransient() {
				return lastErr
			}
			logger.Warn("transfer submission failed; retrying",
				"to", to,
				"lamports", lamports,
				"attempt", attempt,
				"classification_reason", decision.Reason,
				"error", err,
			)
			continue
		}

		status, err := client.Confirm(ctx, sig, opts.ConfirmTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// The confirmation errored without resolving the outcome. The
			// transaction may still have landed, so the destination balance
			// decides, same as a timeout.
			logger.Warn("confirmation error; falling back to delta verification",
				"signature", sig,
				"error", err,
			)
			status = chain.ConfirmTimeout
		}

		switch status {
		case chain.ConfirmSuccess:
			return nil

		case chain.ConfirmFailed:
			lastErr = fmt.Errorf("transfer %s failed on chain", sig)
			logger.Warn("transfer failed on chain; retrying", "signature", sig, "attempt", attempt)
			continue

		case chain.ConfirmTimeout:
			after, balErr := client.GetBalance(ctx, to)
			if balErr != nil {
				lastErr = fmt.Errorf("verify transfer %s: %w", sig, balErr)
				logger.Warn("delta verification unavailable; retrying", "signature", sig, "error", balErr)
				continue
			}
			outcome := VerifyDelta(before, after, lamports, opts.ToleranceBps)
			metrics.FundingVerificationsTotal.WithLabelValues(outcome.String()).Inc()
			if outcome == VerifyConfirmed {
				logger.Debug("transfer verified by balance delta", "signature", sig, "to", to)
				return nil
			}
			lastErr = fmt.Errorf("transfer %s unverified after timeout: %s", sig, outcome)
			logger.Warn("transfer unverified after confirmation timeout",
				"signature", sig,
				"outcome", outcome.String(),
				"attempt", attempt,
			)
			continue
		}
	}

	return fmt.Errorf("transfer to %s abandoned after %d attempts: %w", to, opts.MaxAttempts, lastErr)
}

// VerifyDelta compares the observed destination balance change against the
// expected transfer amount within a basis-point tolerance band. All
// arithmetic is integer; no floating point is involved at small-balance
// extremes.
func VerifyDelta(before, after, expected uint64, toleranceBps int) VerifyOutcome {
	if after <= before {
		return VerifyContradicted
	}
	delta := after - before

	tolerance := expected / 10_000 * uint64(toleranceBps)
	if expected < 10_000 {
		// Avoid truncating the band to zero on tiny transfers.
		tolerance = expected * uint64(toleranceBps) / 10_000
	}

	if delta >= expected-tolerance && delta <= expected+tolerance {
		return VerifyConfirmed
	}
	return VerifyIndeterminate
}
