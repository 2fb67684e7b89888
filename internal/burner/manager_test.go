package burner

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/emberlane/walletfleet/internal/chain"
	"github.com/emberlane/walletfleet/internal/chain/mocks"
	"github.com/emberlane/walletfleet/internal/domain/model"
	"github.com/emberlane/walletfleet/internal/safety"
	"github.com/emberlane/walletfleet/internal/wallet"
)

const testSink = "SinkSinkSinkSinkSinkSinkSinkSinkSinkSink1"

func testConfig() Config {
	return Config{
		TargetPool:        5,
		MaxCreatePerSweep: 2,
		FundAmount:        1_000_000,
		TxCap:             10,
		Cooldown:          20 * time.Second,
		DisposeDelay:      time.Minute,
		MinRetained:       5_000,
		Dust:              1_000,
		ConfirmTimeout:    time.Second,
		FundMaxAttempts:   1,
		CreatePerSec:      1_000, // keep the limiter out of the way
		CreateBurst:       10,
	}
}

func testRelayers(t *testing.T) []chain.Signer {
	t.Helper()
	w, err := wallet.Generate("relayer")
	require.NoError(t, err)
	return []chain.Signer{{PublicKey: w.PublicKey, PrivateKey: w.PrivateKey}}
}

func newTestManager(t *testing.T, cfg Config, client chain.Client, gate *safety.CreationGate) *Manager {
	t.Helper()
	m, err := New(cfg, client, testRelayers(t), testSink, gate, rand.New(rand.NewSource(1)), nil)
	require.NoError(t, err)
	return m
}

// addActive seeds a burner directly, bypassing creation.
func addActive(t *testing.T, m *Manager, txCount int) *model.BurnerWallet {
	t.Helper()
	b, err := wallet.GenerateBurner()
	require.NoError(t, err)
	b.State = model.BurnerActive
	b.CreatedAt = m.now()
	b.TxCount = txCount
	b.SeasonTxCount = txCount
	m.mu.Lock()
	m.burners[b.PublicKey] = b
	m.mu.Unlock()
	return b
}

func expectFundedCreation(client *mocks.MockClient, times int) {
	client.EXPECT().GetBalance(gomock.Any(), gomock.Any()).Return(uint64(0), nil).Times(times)
	client.EXPECT().Transfer(gomock.Any(), gomock.Any(), gomock.Any(), uint64(1_000_000)).Return("sig", nil).Times(times)
	client.EXPECT().Confirm(gomock.Any(), "sig", time.Second).Return(chain.ConfirmSuccess, nil).Times(times)
}

func TestEnsureMinimumCreatesUpToSweepCap(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	m := newTestManager(t, testConfig(), client, nil)

	// Deficit is 5 but each sweep creates at most 2.
	expectFundedCreation(client, 2)
	require.NoError(t, m.EnsureMinimum(context.Background()))
	assert.Equal(t, 2, m.Stats().Active)

	expectFundedCreation(client, 2)
	require.NoError(t, m.EnsureMinimum(context.Background()))
	assert.Equal(t, 4, m.Stats().Active)
}

func TestEnsureMinimumNoDeficitNoWork(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	cfg := testConfig()
	cfg.TargetPool = 2
	m := newTestManager(t, cfg, client, nil)

	addActive(t, m, 0)
	addActive(t, m, 0)

	require.NoError(t, m.EnsureMinimum(context.Background()))
}

func TestFundingFailureRemovesBurnerAndFeedsGate(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	gate := safety.NewCreationGate(safety.GateConfig{FailureThreshold: 2, PauseFor: time.Hour})
	cfg := testConfig()
	cfg.MaxCreatePerSweep = 3
	m := newTestManager(t, cfg, client, gate)

	// Two terminal funding failures trip the local gate; the third slot is
	// never attempted.
	client.EXPECT().GetBalance(gomock.Any(), gomock.Any()).Return(uint64(0), nil).Times(2)
	client.EXPECT().Transfer(gomock.Any(), gomock.Any(), gomock.Any(), uint64(1_000_000)).
		Return("", errors.New("insufficient lamports for transfer")).Times(2)

	require.NoError(t, m.EnsureMinimum(context.Background()))

	s := m.Stats()
	assert.Equal(t, 0, s.Active, "half-created burners must not survive a funding failure")
	assert.False(t, s.GatePausedUntil.IsZero())

	// Paused gate short-circuits the next sweep entirely.
	require.NoError(t, m.EnsureMinimum(context.Background()))
}

func TestAvailableBurnersRatioCap(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := newTestManager(t, testConfig(), mocks.NewMockClient(ctrl), nil)
	for i := 0; i < 4; i++ {
		addActive(t, m, 0)
	}

	// Default ratio hands out half of a request.
	assert.Len(t, m.AvailableBurners(4, false), 2)
	// Emergency raises the share but never removes the cap.
	assert.Len(t, m.AvailableBurners(4, true), 4)
	// A request for one is never rounded down to zero.
	assert.Len(t, m.AvailableBurners(1, false), 1)
	assert.Empty(t, m.AvailableBurners(0, false))
}

func TestAvailableBurnersFilters(t *testing.T) {
	ctrl := gomock.NewController(t)
	cfg := testConfig()
	cfg.RequireSeasoned = true
	cfg.SeasonMinTx = 3
	m := newTestManager(t, cfg, mocks.NewMockClient(ctrl), nil)

	seasoned := addActive(t, m, 5)
	addActive(t, m, 0) // unseasoned
	capped := addActive(t, m, 10)
	capped.State = model.BurnerActive // at cap but not yet marked

	got := m.AvailableBurners(10, true)
	require.Len(t, got, 1)
	assert.Equal(t, seasoned.PublicKey, got[0].PublicKey)
}

func TestAvailableBurnersCooldown(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := newTestManager(t, testConfig(), mocks.NewMockClient(ctrl), nil)

	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }

	b := addActive(t, m, 0)
	m.MarkUsed(b.PublicKey, 1)

	assert.Empty(t, m.AvailableBurners(1, true), "just-used burner rests")
	current = current.Add(20 * time.Second)
	assert.Len(t, m.AvailableBurners(1, true), 1)
}

func TestMarkUsedCapMovesToPendingDisposal(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := newTestManager(t, testConfig(), mocks.NewMockClient(ctrl), nil)

	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }

	b := addActive(t, m, 8)
	m.MarkUsed(b.PublicKey, 2) // reaches the cap of 10

	m.mu.Lock()
	got := m.burners[b.PublicKey]
	m.mu.Unlock()
	assert.Equal(t, model.BurnerPendingDisposal, got.State)
	assert.Equal(t, current.Add(time.Minute), got.DisposeAfter)
	assert.Empty(t, m.AvailableBurners(10, true), "capped burner is never handed out again")
}

func TestMarkUsedUnknownOrZeroIgnored(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := newTestManager(t, testConfig(), mocks.NewMockClient(ctrl), nil)
	b := addActive(t, m, 0)

	m.MarkUsed("unknown", 3)
	m.MarkUsed(b.PublicKey, 0)

	m.mu.Lock()
	assert.Equal(t, 0, m.burners[b.PublicKey].TxCount)
	m.mu.Unlock()
}

func TestDisposeDueSweepsAfterDelay(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	m := newTestManager(t, testConfig(), client, nil)

	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }

	b := addActive(t, m, 8)
	m.MarkUsed(b.PublicKey, 2)

	assert.Equal(t, 0, m.DisposeDue(context.Background()), "sweep waits out the disposal delay")

	current = current.Add(time.Minute)
	gomock.InOrder(
		client.EXPECT().GetBalance(gomock.Any(), b.PublicKey).Return(uint64(100_000), nil),
		client.EXPECT().GetBalance(gomock.Any(), testSink).Return(uint64(0), nil),
		client.EXPECT().Transfer(gomock.Any(), gomock.Any(), testSink, uint64(95_000)).Return("sweep-sig", nil),
		client.EXPECT().Confirm(gomock.Any(), "sweep-sig", time.Second).Return(chain.ConfirmSuccess, nil),
	)

	assert.Equal(t, 1, m.DisposeDue(context.Background()))
	s := m.Stats()
	assert.Equal(t, 0, s.PendingDisposal)
	assert.Equal(t, 1, s.DisposedTotal)
}

func TestDisposeDueSkipsSweepBelowFloor(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	m := newTestManager(t, testConfig(), client, nil)

	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }

	b := addActive(t, m, 10)
	m.MarkUsed(b.PublicKey, 1)
	current = current.Add(time.Minute)

	// Nothing above the retained floor: no transfer, record still dropped.
	client.EXPECT().GetBalance(gomock.Any(), b.PublicKey).Return(uint64(4_000), nil)

	assert.Equal(t, 1, m.DisposeDue(context.Background()))
	assert.Equal(t, 1, m.Stats().DisposedTotal)
}

func TestSweepFailureStillRemovesBurner(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	m := newTestManager(t, testConfig(), client, nil)

	current := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }

	b := addActive(t, m, 10)
	m.MarkUsed(b.PublicKey, 1)
	current = current.Add(time.Minute)

	client.EXPECT().GetBalance(gomock.Any(), b.PublicKey).Return(uint64(0), errors.New("rpc down"))

	assert.Equal(t, 1, m.DisposeDue(context.Background()))
	assert.Equal(t, 1, m.Stats().DisposedTotal, "a dead account must not pin the pool")
}

func TestEmergencyDisposeAllSweepsEveryState(t *testing.T) {
	ctrl := gomock.NewController(t)
	client := mocks.NewMockClient(ctrl)
	m := newTestManager(t, testConfig(), client, nil)

	b1 := addActive(t, m, 0)
	b2 := addActive(t, m, 0)
	b3 := addActive(t, m, 10)
	m.MarkUsed(b3.PublicKey, 1) // pending disposal, delay not yet elapsed

	for _, b := range []*model.BurnerWallet{b1, b2, b3} {
		client.EXPECT().GetBalance(gomock.Any(), b.PublicKey).Return(uint64(50_000), nil)
	}
	client.EXPECT().GetBalance(gomock.Any(), testSink).Return(uint64(0), nil).Times(3)
	client.EXPECT().Transfer(gomock.Any(), gomock.Any(), testSink, uint64(45_000)).Return("sig", nil).Times(3)
	client.EXPECT().Confirm(gomock.Any(), "sig", time.Second).Return(chain.ConfirmSuccess, nil).Times(3)

	assert.Equal(t, 3, m.EmergencyDisposeAll(context.Background()))

	s := m.Stats()
	assert.Equal(t, 0, s.Active)
	assert.Equal(t, 0, s.PendingDisposal)
	assert.Equal(t, 3, s.DisposedTotal)
}
