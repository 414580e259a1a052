package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kemiade/salon-stock-engine/internal/api"
	"github.com/kemiade/salon-stock-engine/internal/models"
	"github.com/kemiade/salon-stock-engine/internal/service"
	"github.com/kemiade/salon-stock-engine/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeManager struct {
	subscribed map[string]bool
}

func (m *fakeManager) Listen(branchID string) error {
	if m.subscribed[branchID] {
		return stream.ErrAlreadySubscribed
	}
	m.subscribed[branchID] = true
	return nil
}

func (m *fakeManager) Stop(branchID string) error {
	if !m.subscribed[branchID] {
		return stream.ErrNotSubscribed
	}
	delete(m.subscribed, branchID)
	return nil
}

func (m *fakeManager) StopAll() {
	m.subscribed = map[string]bool{}
}

func (m *fakeManager) Status() []stream.ListenerStatus {
	out := []stream.ListenerStatus{}
	for branch := range m.subscribed {
		out = append(out, stream.ListenerStatus{BranchID: branch})
	}
	return out
}

type fakeReader struct {
	stocks map[string][]models.StockRecord
	txs    map[string]*models.Transaction
}

func (r *fakeReader) ListActiveStockRecords(_ context.Context, branchID string) ([]models.StockRecord, error) {
	return r.stocks[branchID], nil
}

func (r *fakeReader) GetTransaction(_ context.Context, id string) (*models.Transaction, error) {
	tx, ok := r.txs[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return tx, nil
}

type fakeSnapshots struct {
	lastBranch string
	lastWeek   int
	lastActor  string
}

func (s *fakeSnapshots) RecordWeek(_ context.Context, branchID string, week int, actor string) (*service.SnapshotReport, error) {
	s.lastBranch, s.lastWeek, s.lastActor = branchID, week, actor
	return &service.SnapshotReport{BranchID: branchID, Week: week}, nil
}

func (s *fakeSnapshots) RecordCurrentWeek(_ context.Context, branchID, actor string) (*service.SnapshotReport, error) {
	return s.RecordWeek(context.Background(), branchID, 2, actor)
}

type fakeReprocessor struct {
	err    error
	action string
}

func (p *fakeReprocessor) Reprocess(_ context.Context, _ string) (string, error) {
	return p.action, p.err
}

type fixture struct {
	handler   http.Handler
	manager   *fakeManager
	reader    *fakeReader
	snapshots *fakeSnapshots
	processor *fakeReprocessor
}

func newFixture() *fixture {
	f := &fixture{
		manager:   &fakeManager{subscribed: map[string]bool{}},
		reader:    &fakeReader{stocks: map[string][]models.StockRecord{}, txs: map[string]*models.Transaction{}},
		snapshots: &fakeSnapshots{},
		processor: &fakeReprocessor{action: "deduct"},
	}
	router := api.NewRouter(zap.NewNop(), nil, nil, f.reader, f.manager, f.snapshots, f.processor, 1000, "system")
	f.handler = router.Routes()
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestListenerLifecycle(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/v1/listeners/br-1", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/listeners/br-1", nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

	rec = f.do(t, http.MethodGet, "/v1/listeners", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listing struct {
		Listeners []stream.ListenerStatus `json:"listeners"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Listeners, 1)
	assert.Equal(t, "br-1", listing.Listeners[0].BranchID)

	rec = f.do(t, http.MethodDelete, "/v1/listeners/br-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, "/v1/listeners/br-1", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListenerUnsubscribeAll(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/v1/listeners/br-1", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = f.do(t, http.MethodPost, "/v1/listeners/br-2", nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodDelete, "/v1/listeners", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, f.manager.subscribed)
}

func TestSnapshotTrigger(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/v1/branches/br-1/snapshots", map[string]any{"week": 3, "actor": "ops"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "br-1", f.snapshots.lastBranch)
	assert.Equal(t, 3, f.snapshots.lastWeek)
	assert.Equal(t, "ops", f.snapshots.lastActor)

	// No body: current week, default actor.
	rec = f.do(t, http.MethodPost, "/v1/branches/br-2/snapshots", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "br-2", f.snapshots.lastBranch)
	assert.Equal(t, "system", f.snapshots.lastActor)

	rec = f.do(t, http.MethodPost, "/v1/branches/br-1/snapshots", map[string]any{"week": 9})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBranchStocksView(t *testing.T) {
	f := newFixture()
	f.reader.stocks["br-1"] = []models.StockRecord{
		{ID: "rec-1", BranchID: "br-1", ProductID: "prod-1", RealTimeStock: 7},
	}

	rec := f.do(t, http.MethodGet, "/v1/branches/br-1/stocks", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		BranchID string               `json:"branch_id"`
		Stocks   []models.StockRecord `json:"stocks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Stocks, 1)
	assert.Equal(t, 7, resp.Stocks[0].RealTimeStock)
}

func TestGetTransaction(t *testing.T) {
	f := newFixture()
	f.reader.txs["tx-1"] = &models.Transaction{ID: "tx-1", Status: "paid", StockDeducted: true}

	rec := f.do(t, http.MethodGet, "/v1/transactions/tx-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/transactions/tx-missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReprocessEndpoint(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/v1/transactions/tx-1/reprocess", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "deduct", resp["action"])

	f.processor.err = service.ErrNotEligible
	rec = f.do(t, http.MethodPost, "/v1/transactions/tx-1/reprocess", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	f.processor.err = errors.New("boom")
	rec = f.do(t, http.MethodPost, "/v1/transactions/tx-1/reprocess", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthzAndTraceHeader(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodGet, "/healthz/live", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Trace-ID"))
}

func TestOpenAPIDocument(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodGet, "/openapi.yaml", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "Salon Stock Engine Ops API")
}
