package apihttp

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/aggregator"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/audit"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/codec"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/index"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/obs"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema"
	"github.com/CrisisCore-Systems/Autotrader-sub001/internal/schema/schematest"
	"github.com/CrisisCore-Systems/Autotrader-sub001/pkg/conn"
	"github.com/CrisisCore-Systems/Autotrader-sub001/pkg/exception"
)

type fixture struct {
	server *Server
	store  *audit.Store
	agg    *aggregator.Aggregator
	index  *index.Index
}

func newFixture(t *testing.T, withIndex bool) fixture {
	t.Helper()
	metrics := obs.NewMetrics()
	var (
		idx  *index.Index
		opts = []audit.Option{audit.WithMetrics(metrics)}
	)
	if withIndex {
		client, err := conn.New(conn.Option{Path: ":memory:"})
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Close() })
		idx, err = index.New(client.DB())
		require.NoError(t, err)
	}

	store, err := audit.Open(context.Background(), audit.DefaultConfig(t.TempDir()), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	agg, err := aggregator.New(aggregator.DefaultConfig())
	require.NoError(t, err)

	srv, err := NewServer(ServerConfig{
		Store:      store,
		Aggregator: agg,
		Index:      idx,
		Metrics:    metrics,
		Now:        func() time.Time { return schematest.Time(90) },
	})
	require.NoError(t, err)
	return fixture{server: srv, store: store, agg: agg, index: idx}
}

func (f fixture) do(t *testing.T, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (f fixture) seed(t *testing.T) {
	t.Helper()
	for _, p := range schematest.All(schematest.Time(0), "sig-1") {
		stamped := f.store.Record(schema.MustEnvelope(p))
		f.agg.Apply(stamped)
		if f.index != nil {
			require.NoError(t, f.index.Append(context.Background(), stamped))
		}
	}
}

type eventsResponse struct {
	Count  int               `json:"count"`
	Events []json.RawMessage `json:"events"`
}

func decodeEvents(t *testing.T, rec *httptest.ResponseRecorder) []schema.Envelope {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp eventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, resp.Count, len(resp.Events))
	out := make([]schema.Envelope, 0, len(resp.Events))
	for _, raw := range resp.Events {
		env, err := codec.DecodeLine(raw)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

func TestNewServerRequiresDependencies(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.True(t, errors.Is(err, exception.ErrNilInstance))
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, false)
	f.seed(t)
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 9, body["last_seq"])
	assert.EqualValues(t, 9, body["events_in_memory"])
}

func TestIngestFeedsStoreAndAggregator(t *testing.T) {
	f := newFixture(t, false)

	env := schema.MustEnvelope(schematest.PositionUpdate(schematest.Time(1), "BTC/USD", "150"))
	body, err := codec.Marshal(env)
	require.NoError(t, err)

	rec := f.do(t, http.MethodPost, "/api/v1/events", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.EqualValues(t, 1, resp["seq"])
	assert.Len(t, resp["event_id"], 26)
	assert.Equal(t, "position_update", resp["event_type"])

	assert.Equal(t, 1, f.store.Len())
	assert.InDelta(t, 150, f.agg.Snapshot().PnL.Realized, 1e-9)

	rec = f.do(t, http.MethodPost, "/api/v1/events", []byte(`{"event_type":"fill","data":{"fill_id":""}}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/v1/events", []byte(`not json`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 1, f.store.Len())
}

func TestQueryEvents(t *testing.T) {
	f := newFixture(t, true)
	f.seed(t)

	all := decodeEvents(t, f.do(t, http.MethodGet, "/api/v1/events", nil))
	assert.Len(t, all, 9)

	fills := decodeEvents(t, f.do(t, http.MethodGet, "/api/v1/events?event_type=fill&order_id=ord-1", nil))
	require.Len(t, fills, 1)
	assert.Equal(t, schema.EventFill, fills[0].Type())

	limited := decodeEvents(t, f.do(t, http.MethodGet, "/api/v1/events?limit=2", nil))
	assert.Len(t, limited, 2)

	day := decodeEvents(t, f.do(t, http.MethodGet, "/api/v1/events?start=2024-03-15&end=2024-03-15", nil))
	assert.Len(t, day, 9)
	none := decodeEvents(t, f.do(t, http.MethodGet, "/api/v1/events?start=2024-03-16", nil))
	assert.Empty(t, none)

	indexed := decodeEvents(t, f.do(t, http.MethodGet, "/api/v1/events?source=index&signal_id=sig-1", nil))
	disk := decodeEvents(t, f.do(t, http.MethodGet, "/api/v1/events?signal_id=sig-1", nil))
	require.Len(t, indexed, len(disk))
	for i := range disk {
		assert.Equal(t, disk[i].Seq(), indexed[i].Seq())
	}

	for _, target := range []string{
		"/api/v1/events?event_type=bogus",
		"/api/v1/events?start=yesterday",
		"/api/v1/events?limit=-1",
		"/api/v1/events?start=2024-03-16&end=2024-03-15",
		"/api/v1/events?source=cache",
		"/api/v1/events?limit=x",
		"/api/v1/events/recent?count=many",
		"/api/v1/export/fill?start=soon",
		"/api/v1/reports/compliance?start=2024-03-15&end=later",
	} {
		assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, target, nil).Code, target)
	}
}

func TestQueryIndexDisabled(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(t, http.MethodGet, "/api/v1/events?source=index", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRecentEvents(t *testing.T) {
	f := newFixture(t, false)
	f.seed(t)
	recent := decodeEvents(t, f.do(t, http.MethodGet, "/api/v1/events/recent?count=3", nil))
	require.Len(t, recent, 3)
	assert.Equal(t, []uint64{7, 8, 9}, []uint64{recent[0].Seq(), recent[1].Seq(), recent[2].Seq()})

	assert.Len(t, decodeEvents(t, f.do(t, http.MethodGet, "/api/v1/events/recent", nil)), 9)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/events/recent?count=x", nil).Code)
}

func TestTradeHistory(t *testing.T) {
	f := newFixture(t, false)
	f.seed(t)

	rec := f.do(t, http.MethodGet, "/api/v1/trades/sig-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEqual(t, "null", string(body["signal"]))
	var orders []json.RawMessage
	require.NoError(t, json.Unmarshal(body["orders"], &orders))
	assert.Len(t, orders, 1)

	rec = f.do(t, http.MethodGet, "/api/v1/trades/unknown", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "null", string(body["signal"]))
	assert.JSONEq(t, "[]", string(body["fills"]))
}

func TestComplianceReport(t *testing.T) {
	f := newFixture(t, false)
	f.seed(t)

	rec := f.do(t, http.MethodGet, "/api/v1/reports/compliance?start=2024-03-15&end=2024-03-15", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report audit.ComplianceReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 9, report.TotalEvents)
	assert.Equal(t, 1, report.Fills)

	rec = f.do(t, http.MethodGet, "/api/v1/reports/compliance?start=2024-03-15", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportCSV(t *testing.T) {
	f := newFixture(t, false)
	f.seed(t)

	rec := f.do(t, http.MethodGet, "/api/v1/export/order", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "order.csv")

	rows, err := csv.NewReader(strings.NewReader(rec.Body.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"timestamp", "event_type", "seq", "event_id"}, rows[0][:4])
	assert.Contains(t, rows[0], "order_id")

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/export/nope", nil).Code)
}

func TestSnapshotAndSeries(t *testing.T) {
	f := newFixture(t, false)
	f.seed(t)

	rec := f.do(t, http.MethodGet, "/api/v1/snapshot", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var snap aggregator.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, uint64(9), snap.Events)

	rec = f.do(t, http.MethodGet, "/api/v1/series", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var series map[string]float64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &series))
	assert.Equal(t, 9.0, series["events.total"])

	rec = f.do(t, http.MethodGet, "/api/v1/equity", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, false)
	f.seed(t)

	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `autotrader_audit_events_total{event_type="fill"} 1`)
	assert.Contains(t, body, "autotrader_dashboard_events_total 9")
	assert.Contains(t, body, "go_goroutines")
}

func TestCircuitBreakerReset(t *testing.T) {
	f := newFixture(t, false)
	f.agg.Apply(f.store.Record(schema.MustEnvelope(schematest.CircuitBreaker(schematest.Time(0), schema.BreakerHalt))))
	require.True(t, f.agg.CircuitBreakerActive())

	rec := f.do(t, http.MethodPost, "/api/v1/circuit-breaker/reset", []byte(`{"actor":"ops"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, f.agg.CircuitBreakerActive())

	rec = f.do(t, http.MethodPost, "/api/v1/circuit-breaker/reset", []byte(`{"actor":"ops","reason":"limits reviewed"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		WasActive      bool                     `json:"was_active"`
		CircuitBreaker aggregator.BreakerStatus `json:"circuit_breaker"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.WasActive)
	assert.False(t, body.CircuitBreaker.Active)
	require.NotNil(t, body.CircuitBreaker.LastReset)
	assert.Equal(t, "ops", body.CircuitBreaker.LastReset.Actor)
	assert.False(t, f.agg.CircuitBreakerActive())

	recent := f.store.RecentEvents(1)
	require.Len(t, recent, 1)
	sys, ok := recent[0].Payload().(schema.SystemEvent)
	require.True(t, ok)
	assert.Equal(t, "reset", sys.Action)
	assert.Equal(t, "ops", sys.Actor)
	assert.True(t, sys.Timestamp.Equal(schematest.Time(90)))
}

func TestAggregatorReset(t *testing.T) {
	f := newFixture(t, false)
	for _, p := range schematest.All(schematest.Time(0), "sig-1") {
		f.agg.Apply(f.store.Record(schema.MustEnvelope(p)))
	}
	require.Equal(t, uint64(9), f.agg.Snapshot().Events)

	rec := f.do(t, http.MethodPost, "/api/v1/aggregator/reset", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/aggregator/reset", []byte(`{"actor":"ops","reason":"new session"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var snap aggregator.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Zero(t, snap.Events)
	assert.Zero(t, snap.PnL.Realized)

	recent := f.store.RecentEvents(1)
	require.Len(t, recent, 1)
	sys, ok := recent[0].Payload().(schema.SystemEvent)
	require.True(t, ok)
	assert.Equal(t, "aggregator", sys.Component)
	assert.Equal(t, "new session", sys.Message)
}
