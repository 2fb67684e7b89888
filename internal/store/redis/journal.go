package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/emberlane/walletfleet/internal/domain/model"
)

const journalMaxLen = 100_000

// streamAppender is the slice of the redis client the journal writes
// through. *redis.Client satisfies it; tests substitute an in-process fake.
type streamAppender interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// Journal appends trade outcomes and breaker trips to a Redis stream for
// offline analysis. It is advisory: callers log journal failures and move
// on, trading never depends on it.
type Journal struct {
	client streamAppender
	stream string
}

func NewJournal(url, stream string) (*Journal, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &Journal{client: client, stream: stream}, nil
}

func (j *Journal) Close() error {
	return j.client.Close()
}

// RecordOutcome appends one trade outcome entry.
func (j *Journal) RecordOutcome(ctx context.Context, outcome model.TradeOutcome) error {
	if outcome.ID == "" {
		outcome.ID = uuid.NewString()
	}
	if outcome.At.IsZero() {
		outcome.At = time.Now().UTC()
	}

	err := j.client.XAdd(ctx, &redis.XAddArgs{
		Stream: j.stream,
		MaxLen: journalMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"kind":    "outcome",
			"id":      outcome.ID,
			"wallet":  outcome.Wallet,
			"success": outcome.Success,
			"at":      outcome.At.Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("journal outcome: %w", err)
	}
	return nil
}

// RecordTrip appends a circuit breaker trip entry.
func (j *Journal) RecordTrip(ctx context.Context, reason, detail string) error {
	err := j.client.XAdd(ctx, &redis.XAddArgs{
		Stream: j.stream,
		MaxLen: journalMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"kind":   "trip",
			"id":     uuid.NewString(),
			"reason": reason,
			"detail": detail,
			"at":     time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("journal trip: %w", err)
	}
	return nil
}
