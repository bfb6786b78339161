package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	errors "kirana-ledger/errors"
	ledger "kirana-ledger/ledger"
	metrics "kirana-ledger/metrics"
	models "kirana-ledger/models"
	"kirana-ledger/repositories/memory"
	aggregate "kirana-ledger/services/aggregate"
	pipeline "kirana-ledger/services/pipeline"
	risk "kirana-ledger/services/risk"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	server *httptest.Server
	queue  *pipeline.Queue
	ledger *ledger.MemoryLedger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	mem := ledger.NewMemoryLedger()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	client := ledger.NewClient(mem, time.Second, zap.NewNop(), m)

	queue := pipeline.NewQueue(2, 16, zap.NewNop())
	queue.Start(context.Background())
	t.Cleanup(queue.Close)

	updater := aggregate.NewUpdater(store, pipeline.NewSnapshotAnchorer(queue, client), aggregate.Config{}, zap.NewNop(), m)
	orch := pipeline.NewOrchestrator(pipeline.Deps{
		Events:     store,
		Links:      store,
		Ledger:     client,
		Scorer:     risk.NewEvaluator(risk.DefaultPolicy()),
		Queue:      queue,
		Aggregates: updater,
		Logger:     zap.NewNop(),
		Metrics:    m,
	}, pipeline.Config{})

	h := New(orch, updater, zap.NewNop()).
		WithCheck("ledger", client.Status).
		WithMetrics(reg)
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return &fixture{server: srv, queue: queue, ledger: mem}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent && resp.ContentLength != 0 {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func (f *fixture) flush(t *testing.T, shopkeeperID string) {
	t.Helper()
	require.NoError(t, f.queue.Do(context.Background(), shopkeeperID, func(context.Context) error { return nil }))
}

func candidate() models.CandidateEvent {
	return models.CandidateEvent{
		ShopkeeperID: "S1",
		CustomerID:   "C1",
		Kind:         "sale",
		Amount:       150_00,
		OccurredAt:   time.Now().Add(-time.Minute).UTC(),
		SourceRef:    "voice-note-1",
	}
}

func TestIngestAndInspect(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/v1/events", candidate())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	id, _ := body["event_id"].(string)
	require.NotEmpty(t, id)
	assert.Equal(t, false, body["duplicate"])

	resp, body = f.do(t, http.MethodPost, "/v1/events", candidate())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, body["event_id"])
	assert.Equal(t, true, body["duplicate"])

	f.flush(t, "S1")
	resp, body = f.do(t, http.MethodGet, "/v1/events/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ev := body["event"].(map[string]any)
	assert.Equal(t, string(models.StatusConfirmed), ev["status"])
	assert.NotNil(t, body["ledger_link"])

	resp, body = f.do(t, http.MethodGet, "/v1/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	counts := body["counts"].(map[string]any)
	assert.Equal(t, float64(1), counts[string(models.StatusConfirmed)])
	assert.Equal(t, float64(0), counts[string(models.StatusFailed)])

	resp, body = f.do(t, http.MethodGet, "/v1/aggregates/S1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["version"])
	assert.NotContains(t, body, "applied_events")
}

func TestIngest_Invalid(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodPost, "/v1/events", map[string]any{"shopkeeper_id": "S1", "amount": -5})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, errors.Invalid.String(), body["error"])
	assert.NotEmpty(t, body["fields"])

	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/v1/events", bytes.NewBufferString("{"))
	require.NoError(t, err)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestDisputeAndPromote(t *testing.T) {
	f := newFixture(t)
	_, body := f.do(t, http.MethodPost, "/v1/events", candidate())
	id := body["event_id"].(string)
	f.flush(t, "S1")

	resp, _ := f.do(t, http.MethodPost, "/v1/events/"+id+"/dispute", map[string]string{"reason": "customer denies"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/v1/events/"+id+"/dispute", map[string]string{"reason": "again"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = f.do(t, http.MethodPost, "/v1/events/"+id+"/promote", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = f.do(t, http.MethodGet, "/v1/events/unknown", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	resp, body := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	f.ledger.SetDown(true)
	resp, body = f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "degraded", body["status"])

	f.do(t, http.MethodPost, "/v1/events", candidate())
	req, err := http.NewRequest(http.MethodGet, f.server.URL+"/metrics", nil)
	require.NoError(t, err)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusOK, raw.StatusCode)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(raw.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "kirana_events_ingested_total")
}

type stubFailed struct{ limit int64 }

func (s *stubFailed) ListFailed(ctx context.Context, n int64) ([]models.FailedEvent, error) {
	s.limit = n
	return []models.FailedEvent{{Event: models.Event{ID: "e1"}, Reason: "rejected"}}, nil
}

func TestListFailed(t *testing.T) {
	failed := &stubFailed{}
	h := New(nil, nil, zap.NewNop()).WithFailedEvents(failed)
	srv := httptest.NewServer(h.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/failed?limit=5")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out []models.FailedEvent
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out, 1)
	assert.Equal(t, "rejected", out[0].Reason)
	assert.Equal(t, int64(5), failed.limit)

	bad, err := http.Get(srv.URL + "/v1/failed?limit=abc")
	require.NoError(t, err)
	defer bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}
