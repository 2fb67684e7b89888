package solana

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberlane/walletfleet/internal/chain"
	"github.com/emberlane/walletfleet/internal/chain/solana/rpc"
)

type fakeRPC struct {
	balance      uint64
	balanceErr   error
	blockhash    string
	blockhashErr error
	sendSig      string
	sendErr      error
	sentTx       string
	statuses     []*rpc.SignatureStatus
	statusErr    error
	statusCalls  int
}

func (f *fakeRPC) GetBalance(ctx context.Context, address string) (uint64, error) {
	return f.balance, f.balanceErr
}

func (f *fakeRPC) GetLatestBlockhash(ctx context.Context) (string, error) {
	return f.blockhash, f.blockhashErr
}

func (f *fakeRPC) SendTransaction(ctx context.Context, encodedTx string) (string, error) {
	f.sentTx = encodedTx
	return f.sendSig, f.sendErr
}

func (f *fakeRPC) GetSignatureStatuses(ctx context.Context, signatures []string) ([]*rpc.SignatureStatus, error) {
	f.statusCalls++
	return f.statuses, f.statusErr
}

func strPtr(s string) *string { return &s }

func TestAdapter_GetBalance(t *testing.T) {
	a := NewAdapter(&fakeRPC{balance: 777}, slog.Default())
	bal, err := a.GetBalance(context.Background(), "addr")
	require.NoError(t, err)
	assert.Equal(t, uint64(777), bal)
}

func TestAdapter_Transfer_SubmitsSignedTx(t *testing.T) {
	fromPub, fromPriv := testKeypair(t)
	toPub, _ := testKeypair(t)

	fake := &fakeRPC{
		blockhash: "11111111111111111111111111111111",
		sendSig:   "sig123",
	}
	a := NewAdapter(fake, slog.Default())

	sig, err := a.Transfer(context.Background(), chain.Signer{PublicKey: fromPub, PrivateKey: fromPriv}, toPub, 500)
	require.NoError(t, err)
	assert.Equal(t, "sig123", sig)
	assert.NotEmpty(t, fake.sentTx, "transaction should have been submitted")
}

func TestAdapter_Transfer_BlockhashError(t *testing.T) {
	fromPub, fromPriv := testKeypair(t)
	toPub, _ := testKeypair(t)

	a := NewAdapter(&fakeRPC{blockhashErr: errors.New("unavailable")}, slog.Default())
	_, err := a.Transfer(context.Background(), chain.Signer{PublicKey: fromPub, PrivateKey: fromPriv}, toPub, 500)
	assert.ErrorContains(t, err, "fetch blockhash")
}

func TestAdapter_Confirm_Success(t *testing.T) {
	fake := &fakeRPC{
		statuses: []*rpc.SignatureStatus{
			{ConfirmationStatus: strPtr("confirmed")},
		},
	}
	a := NewAdapter(fake, slog.Default())

	status, err := a.Confirm(context.Background(), "sig", time.Second)
	require.NoError(t, err)
	assert.Equal(t, chain.ConfirmSuccess, status)
}

func TestAdapter_Confirm_OnChainFailure(t *testing.T) {
	fake := &fakeRPC{
		statuses: []*rpc.SignatureStatus{
			{Err: map[string]any{"InstructionError": []any{}}, ConfirmationStatus: strPtr("confirmed")},
		},
	}
	a := NewAdapter(fake, slog.Default())

	status, err := a.Confirm(context.Background(), "sig", time.Second)
	require.NoError(t, err)
	assert.Equal(t, chain.ConfirmFailed, status)
}

func TestAdapter_Confirm_TimeoutWhenUnknown(t *testing.T) {
	fake := &fakeRPC{
		statuses: []*rpc.SignatureStatus{nil},
	}
	a := NewAdapter(fake, slog.Default())

	start := time.Now()
	status, err := a.Confirm(context.Background(), "sig", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, chain.ConfirmTimeout, status)
	assert.Less(t, time.Since(start), confirmPollInterval+time.Second)
	assert.GreaterOrEqual(t, fake.statusCalls, 1)
}
