package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberlane/walletfleet/internal/domain/model"
)

type fakeAppender struct {
	entries []*redis.XAddArgs
	err     error
}

func (f *fakeAppender) XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd {
	f.entries = append(f.entries, args)
	cmd := redis.NewStringCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal("1-0")
	}
	return cmd
}

func (f *fakeAppender) Close() error { return nil }

func TestNewJournal_RejectsBadURL(t *testing.T) {
	_, err := NewJournal("not-a-redis-url", "fleet:journal")
	assert.Error(t, err)
}

func TestRecordOutcome_FieldMapping(t *testing.T) {
	fake := &fakeAppender{}
	j := &Journal{client: fake, stream: "fleet:journal"}

	at := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	err := j.RecordOutcome(context.Background(), model.TradeOutcome{
		ID:      "outcome-1",
		Wallet:  "wallet-pub",
		Success: true,
		At:      at,
	})
	require.NoError(t, err)

	require.Len(t, fake.entries, 1)
	entry := fake.entries[0]
	assert.Equal(t, "fleet:journal", entry.Stream)
	assert.Equal(t, int64(journalMaxLen), entry.MaxLen)
	assert.True(t, entry.Approx)

	values := entry.Values.(map[string]interface{})
	assert.Equal(t, "outcome", values["kind"])
	assert.Equal(t, "outcome-1", values["id"])
	assert.Equal(t, "wallet-pub", values["wallet"])
	assert.Equal(t, true, values["success"])
	assert.Equal(t, at.Format(time.RFC3339Nano), values["at"])
}

func TestRecordOutcome_FillsIDAndTimestamp(t *testing.T) {
	fake := &fakeAppender{}
	j := &Journal{client: fake, stream: "fleet:journal"}

	err := j.RecordOutcome(context.Background(), model.TradeOutcome{
		Wallet:  "wallet-pub",
		Success: false,
	})
	require.NoError(t, err)

	require.Len(t, fake.entries, 1)
	values := fake.entries[0].Values.(map[string]interface{})
	assert.NotEmpty(t, values["id"])
	assert.NotEmpty(t, values["at"])
	assert.Equal(t, false, values["success"])
}

func TestRecordTrip_FieldMapping(t *testing.T) {
	fake := &fakeAppender{}
	j := &Journal{client: fake, stream: "fleet:journal"}

	err := j.RecordTrip(context.Background(), "drawdown", "relayer lost 21% against baseline")
	require.NoError(t, err)

	require.Len(t, fake.entries, 1)
	values := fake.entries[0].Values.(map[string]interface{})
	assert.Equal(t, "trip", values["kind"])
	assert.Equal(t, "drawdown", values["reason"])
	assert.Equal(t, "relayer lost 21% against baseline", values["detail"])
	assert.NotEmpty(t, values["id"])
	assert.NotEmpty(t, values["at"])
}

func TestJournal_WrapsAppendErrors(t *testing.T) {
	fake := &fakeAppender{err: errors.New("connection lost")}
	j := &Journal{client: fake, stream: "fleet:journal"}

	err := j.RecordOutcome(context.Background(), model.TradeOutcome{Wallet: "w"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "journal outcome")

	err = j.RecordTrip(context.Background(), "failure_rate", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "journal trip")
}
