package funds

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/emberlane/walletfleet/internal/chain"
	"github.com/emberlane/walletfleet/internal/chain/mocks"
	"github.com/emberlane/walletfleet/internal/wallet"
)

func testOptions() Options {
	return Options{
		ConfirmTimeout: time.Second,
		ToleranceBps:   100,
		MaxAttempts:    3,
		BackoffInitial: time.Millisecond,
		BackoffMax:     2 * time.Millisecond,
	}
}

func testSigner(t *testing.T) chain.Signer {
	t.Helper()
	w, err := wallet.Generate("relayer")
	require.NoError(t, err)
	return chain.Signer{PublicKey: w.PublicKey, PrivateKey: w.PrivateKey}
}

func TestSendConfirmedFirstAttempt(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	from := testSigner(t)

	client.EXPECT().GetBalance(gomock.Any(), "dest").Return(uint64(0), nil)
	client.EXPECT().Transfer(gomock.Any(), from, "dest", uint64(1000)).Return("sig1", nil)
	client.EXPECT().Confirm(gomock.Any(), "sig1", time.Second).Return(chain.ConfirmSuccess, nil)

	err := Send(context.Background(), client, from, "dest", 1000, testOptions(), slog.Default())
	assert.NoError(t, err)
}

func TestSendVerifiedByDeltaAfterTimeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	from := testSigner(t)

	gomock.InOrder(
		client.EXPECT().GetBalance(gomock.Any(), "dest").Return(uint64(500), nil),
		client.EXPECT().Transfer(gomock.Any(), from, "dest", uint64(1_000_000)).Return("sig1", nil),
		client.EXPECT().Confirm(gomock.Any(), "sig1", time.Second).Return(chain.ConfirmTimeout, nil),
		client.EXPECT().GetBalance(gomock.Any(), "dest").Return(uint64(1_000_500), nil),
	)

	err := Send(context.Background(), client, from, "dest", 1_000_000, testOptions(), slog.Default())
	assert.NoError(t, err)
}

func TestSendContradictedRetriesThenSucceeds(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	from := testSigner(t)

	gomock.InOrder(
		// Attempt 1: timeout and the balance never moved.
		client.EXPECT().GetBalance(gomock.Any(), "dest").Return(uint64(0), nil),
		client.EXPECT().Transfer(gomock.Any(), from, "dest", uint64(1000)).Return("sig1", nil),
		client.EXPECT().Confirm(gomock.Any(), "sig1", time.Second).Return(chain.ConfirmTimeout, nil),
		client.EXPECT().GetBalance(gomock.Any(), "dest").Return(uint64(0), nil),
		// Attempt 2: clean confirmation.
		client.EXPECT().GetBalance(gomock.Any(), "dest").Return(uint64(0), nil),
		client.EXPECT().Transfer(gomock.Any(), from, "dest", uint64(1000)).Return("sig2", nil),
		client.EXPECT().Confirm(gomock.Any(), "sig2", time.Second).Return(chain.ConfirmSuccess, nil),
	)

	err := Send(context.Background(), client, from, "dest", 1000, testOptions(), slog.Default())
	assert.NoError(t, err)
}

func TestSendConfirmErrorFallsBackToDeltaVerification(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	from := testSigner(t)

	gomock.InOrder(
		// Attempt 1: Confirm errors with a zero-value status and the
		// balance never moved, so the send must not report success.
		client.EXPECT().GetBalance(gomock.Any(), "dest").Return(uint64(0), nil),
		client.EXPECT().Transfer(gomock.Any(), from, "dest", uint64(1000)).Return("sig1", nil),
		client.EXPECT().Confirm(gomock.Any(), "sig1", time.Second).
			Return(chain.ConfirmSuccess, errors.New("status poll failed")),
		client.EXPECT().GetBalance(gomock.Any(), "dest").Return(uint64(0), nil),
		// Attempt 2: clean confirmation.
		client.EXPECT().GetBalance(gomock.Any(), "dest").Return(uint64(0), nil),
		client.EXPECT().Transfer(gomock.Any(), from, "dest", uint64(1000)).Return("sig2", nil),
		client.EXPECT().Confirm(gomock.Any(), "sig2", time.Second).Return(chain.ConfirmSuccess, nil),
	)

	err := Send(context.Background(), client, from, "dest", 1000, testOptions(), slog.Default())
	assert.NoError(t, err)
}

func TestSendTerminalSubmissionErrorStopsRetrying(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	from := testSigner(t)

	client.EXPECT().GetBalance(gomock.Any(), "dest").Return(uint64(0), nil)
	client.EXPECT().Transfer(gomock.Any(), from, "dest", uint64(1000)).
		Return("", errors.New("insufficient lamports for transfer"))

	err := Send(context.Background(), client, from, "dest", 1000, testOptions(), slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "submit transfer")
}

func TestSendExhaustsAttempts(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	from := testSigner(t)

	client.EXPECT().GetBalance(gomock.Any(), "dest").Return(uint64(0), nil).Times(3)
	client.EXPECT().Transfer(gomock.Any(), from, "dest", uint64(1000)).
		Return("", errors.New("connection reset by peer")).Times(3)

	err := Send(context.Background(), client, from, "dest", 1000, testOptions(), slog.Default())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "abandoned after 3 attempts")
}

func TestVerifyDelta(t *testing.T) {
	tests := []struct {
		name     string
		before   uint64
		after    uint64
		expected uint64
		want     VerifyOutcome
	}{
		{"exact match", 0, 1_000_000, 1_000_000, VerifyConfirmed},
		{"within tolerance low", 0, 995_000, 1_000_000, VerifyConfirmed},
		{"within tolerance high", 0, 1_005_000, 1_000_000, VerifyConfirmed},
		{"no movement", 500, 500, 1_000_000, VerifyContradicted},
		{"balance decreased", 1000, 400, 1_000_000, VerifyContradicted},
		{"partial delivery", 0, 400_000, 1_000_000, VerifyIndeterminate},
		{"overshoot beyond tolerance", 0, 2_000_000, 1_000_000, VerifyIndeterminate},
		{"tiny transfer exact", 0, 50, 50, VerifyConfirmed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifyDelta(tt.before, tt.after, tt.expected, 100))
		})
	}
}
