package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvolkov/tradecopier/internal/domain"
	"github.com/pvolkov/tradecopier/internal/mirror"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeEngine struct {
	state    mirror.State
	counters mirror.CounterSnapshot
}

func (e *fakeEngine) State() mirror.State              { return e.state }
func (e *fakeEngine) Counters() mirror.CounterSnapshot { return e.counters }

type fakeReplicationStore struct {
	records []domain.ReplicationRecord
	counts  map[domain.ReplicationStatus]int64
	gotOpts domain.ListOpts
	err     error
}

func (s *fakeReplicationStore) Admit(ctx context.Context, ev domain.TradeEvent) (domain.AdmissionResult, error) {
	return domain.Accepted, nil
}

func (s *fakeReplicationStore) Complete(ctx context.Context, id string, out domain.Outcome) error {
	return nil
}

func (s *fakeReplicationStore) Get(ctx context.Context, id string) (domain.ReplicationRecord, error) {
	return domain.ReplicationRecord{}, domain.ErrNotFound
}

func (s *fakeReplicationStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.ReplicationRecord, error) {
	s.gotOpts = opts
	return s.records, s.err
}

func (s *fakeReplicationStore) CountByStatus(ctx context.Context) (map[domain.ReplicationStatus]int64, error) {
	return s.counts, s.err
}

type fakePositionStore struct {
	snaps []domain.PositionSnapshot
}

func (s *fakePositionStore) ReplaceAll(ctx context.Context, account domain.AccountRole, snaps []domain.PositionSnapshot) error {
	return nil
}

func (s *fakePositionStore) List(ctx context.Context, account domain.AccountRole) ([]domain.PositionSnapshot, error) {
	return s.snaps, nil
}

type fakePositionCache struct {
	snaps []domain.PositionSnapshot
	err   error
}

func (c *fakePositionCache) SetAll(ctx context.Context, account domain.AccountRole, snaps []domain.PositionSnapshot) error {
	return nil
}

func (c *fakePositionCache) GetAll(ctx context.Context, account domain.AccountRole) ([]domain.PositionSnapshot, error) {
	return c.snaps, c.err
}

func TestHealthCheckReportsEngineIdentity(t *testing.T) {
	h := NewHealthHandler("poll", &fakeEngine{state: mirror.StateRunning})

	rec := httptest.NewRecorder()
	h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "poll", body["mode"])
	assert.Equal(t, "running", body["state"])
}

func TestGetStatus(t *testing.T) {
	h := NewStatusHandler("mirror", []string{"BTCUSDT"}, &fakeEngine{state: mirror.StateRunning})

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "mirror", body["mode"])
	assert.Equal(t, "running", body["state"])
}

func TestListTrades(t *testing.T) {
	qty := decimal.RequireFromString("0.01")
	store := &fakeReplicationStore{records: []domain.ReplicationRecord{
		{
			SourceTradeID: "42",
			Symbol:        "BTCUSDT",
			Side:          domain.SideBuy,
			Quantity:      qty,
			Status:        domain.ReplicationSuccess,
			CreatedAt:     time.Now(),
		},
	}}
	h := NewTradesHandler(store, testLogger())

	rec := httptest.NewRecorder()
	h.ListTrades(rec, httptest.NewRequest(http.MethodGet, "/api/trades?limit=10&offset=5", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 10, store.gotOpts.Limit)
	assert.Equal(t, 5, store.gotOpts.Offset)

	var body listTradesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Trades, 1)
	assert.Equal(t, "42", body.Trades[0].SourceTradeID)
}

func TestListTradesEmptyIsArray(t *testing.T) {
	h := NewTradesHandler(&fakeReplicationStore{}, testLogger())

	rec := httptest.NewRecorder()
	h.ListTrades(rec, httptest.NewRequest(http.MethodGet, "/api/trades", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"trades":[]}`, rec.Body.String())
}

func TestListTradesStoreError(t *testing.T) {
	h := NewTradesHandler(&fakeReplicationStore{err: errors.New("db down")}, testLogger())

	rec := httptest.NewRecorder()
	h.ListTrades(rec, httptest.NewRequest(http.MethodGet, "/api/trades", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListPositionsRequiresAccount(t *testing.T) {
	h := NewPositionsHandler(nil, &fakePositionStore{}, testLogger())

	rec := httptest.NewRecorder()
	h.ListPositions(rec, httptest.NewRequest(http.MethodGet, "/api/positions", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ListPositions(rec, httptest.NewRequest(http.MethodGet, "/api/positions?account=other", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListPositionsPrefersCache(t *testing.T) {
	cached := []domain.PositionSnapshot{{Account: domain.AccountSource, Symbol: "BTCUSDT", Side: domain.SideBuy}}
	stored := []domain.PositionSnapshot{{Account: domain.AccountSource, Symbol: "ETHUSDT", Side: domain.SideSell}}
	h := NewPositionsHandler(&fakePositionCache{snaps: cached}, &fakePositionStore{snaps: stored}, testLogger())

	rec := httptest.NewRecorder()
	h.ListPositions(rec, httptest.NewRequest(http.MethodGet, "/api/positions?account=source", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body listPositionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Positions, 1)
	assert.Equal(t, "BTCUSDT", body.Positions[0].Symbol)
}

func TestListPositionsFallsBackToStore(t *testing.T) {
	stored := []domain.PositionSnapshot{{Account: domain.AccountTarget, Symbol: "ETHUSDT", Side: domain.SideSell}}
	h := NewPositionsHandler(&fakePositionCache{err: domain.ErrNotFound}, &fakePositionStore{snaps: stored}, testLogger())

	rec := httptest.NewRecorder()
	h.ListPositions(rec, httptest.NewRequest(http.MethodGet, "/api/positions?account=target", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body listPositionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Positions, 1)
	assert.Equal(t, "ETHUSDT", body.Positions[0].Symbol)
}

func TestGetCounters(t *testing.T) {
	engine := &fakeEngine{counters: mirror.CounterSnapshot{EventsSeen: 10, Replicated: 8, Failed: 1}}
	store := &fakeReplicationStore{counts: map[domain.ReplicationStatus]int64{
		domain.ReplicationSuccess: 100,
		domain.ReplicationFailed:  3,
	}}
	h := NewCountersHandler(engine, store, testLogger())

	rec := httptest.NewRecorder()
	h.GetCounters(rec, httptest.NewRequest(http.MethodGet, "/api/counters", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Session mirror.CounterSnapshot `json:"session"`
		Total   map[string]int64       `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(10), body.Session.EventsSeen)
	assert.Equal(t, int64(100), body.Total["success"])
}
