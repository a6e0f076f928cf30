package mirror

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvolkov/tradecopier/internal/domain"
	"github.com/pvolkov/tradecopier/internal/platform/binance"
)

type memPositions struct {
	mu    sync.Mutex
	byAcc map[domain.AccountRole][]domain.PositionSnapshot
}

func newMemPositions() *memPositions {
	return &memPositions{byAcc: make(map[domain.AccountRole][]domain.PositionSnapshot)}
}

func (m *memPositions) ReplaceAll(ctx context.Context, account domain.AccountRole, snaps []domain.PositionSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byAcc[account] = snaps
	return nil
}

func (m *memPositions) List(ctx context.Context, account domain.AccountRole) ([]domain.PositionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byAcc[account], nil
}

type fakeRisk struct {
	positions []binance.PositionRisk
	err       error
}

func (f *fakeRisk) PositionRisk(ctx context.Context) ([]binance.PositionRisk, error) {
	return f.positions, f.err
}

func risk(symbol, amt, entry string) binance.PositionRisk {
	return binance.PositionRisk{
		Symbol:      symbol,
		PositionAmt: decimal.RequireFromString(amt),
		EntryPrice:  decimal.RequireFromString(entry),
		MarkPrice:   decimal.RequireFromString(entry),
	}
}

func TestSyncAccountReplacesWholesale(t *testing.T) {
	store := newMemPositions()
	src := &fakeRisk{positions: []binance.PositionRisk{
		risk("BTCUSDT", "0.5", "50000"),
		risk("ETHUSDT", "0", "0"),     // flat, must be dropped
		risk("SOLUSDT", "-10", "150"), // short
	}}
	syncer := NewPositionSyncer(
		map[domain.AccountRole]PositionSource{domain.AccountSource: src},
		store, nil, time.Hour, testLogger(),
	)

	syncer.syncAll(context.Background())

	snaps, err := store.List(context.Background(), domain.AccountSource)
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	bySymbol := map[string]domain.PositionSnapshot{}
	for _, s := range snaps {
		bySymbol[s.Symbol] = s
	}
	long := bySymbol["BTCUSDT"]
	assert.Equal(t, domain.SideBuy, long.Side)
	assert.True(t, long.Size.Equal(decimal.RequireFromString("0.5")))

	short := bySymbol["SOLUSDT"]
	assert.Equal(t, domain.SideSell, short.Side)
	assert.True(t, short.Size.Equal(decimal.RequireFromString("10")), "size is stored unsigned")

	// A later sync with a smaller set drops the closed symbol.
	src.positions = []binance.PositionRisk{risk("BTCUSDT", "0.5", "50000")}
	syncer.syncAll(context.Background())

	snaps, _ = store.List(context.Background(), domain.AccountSource)
	require.Len(t, snaps, 1)
	assert.Equal(t, "BTCUSDT", snaps[0].Symbol)
}

func TestSyncAccountsAreIndependent(t *testing.T) {
	store := newMemPositions()
	srcOK := &fakeRisk{positions: []binance.PositionRisk{risk("BTCUSDT", "1", "50000")}}
	tgtDown := &fakeRisk{err: errors.New("venue down")}

	syncer := NewPositionSyncer(
		map[domain.AccountRole]PositionSource{
			domain.AccountSource: srcOK,
			domain.AccountTarget: tgtDown,
		},
		store, nil, time.Hour, testLogger(),
	)

	syncer.syncAll(context.Background())

	snaps, err := store.List(context.Background(), domain.AccountSource)
	require.NoError(t, err)
	assert.Len(t, snaps, 1, "healthy account still syncs when the other fails")

	tgtSnaps, _ := store.List(context.Background(), domain.AccountTarget)
	assert.Empty(t, tgtSnaps)
}
