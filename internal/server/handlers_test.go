package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/recorder"
	"github.com/hyperjump/kioku/internal/search"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type brokenStore struct {
	*storage.MemoryStorage
}

func (b brokenStore) ListByOwner(context.Context, string, int) ([]*models.Record, error) {
	return nil, errors.New("connection refused")
}

func (b brokenStore) VectorSearch(context.Context, string, []float32, models.Slot, int, float64) ([]*storage.ScoredRecord, error) {
	return nil, errors.New("connection refused")
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage.Backend = config.BackendMemory
	cfg.Embedding.Provider = embedding.ProviderMock
	cfg.Embedding.Dimensions = 384
	return cfg
}

func newTestServer(t *testing.T, store storage.Store) http.Handler {
	t.Helper()
	embedder := embedding.NewMockEmbedder(384)
	t.Cleanup(func() { _ = embedder.Close() })
	logger := zap.NewNop()
	engine := search.NewEngine(store, embedder, search.WithLogger(logger))
	rec := recorder.New(store, embedder, recorder.WithLogger(logger))
	return NewServer(engine, rec, store, testConfig(), logger).Routes()
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func remember(t *testing.T, h http.Handler, owner, content string) models.Record {
	t.Helper()
	w := do(t, h, http.MethodPost, "/api/v1/memories", map[string]interface{}{
		"owner_id": owner,
		"platform": "web",
		"content":  content,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var rec models.Record
	require.NoError(t, json.NewDecoder(w.Body).Decode(&rec))
	return rec
}

type resultsBody struct {
	Results []models.SearchResult `json:"results"`
}

func TestHandleHealth(t *testing.T) {
	h := newTestServer(t, storage.NewMemoryStorage())
	w := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestHandleRememberAndGet(t *testing.T) {
	h := newTestServer(t, storage.NewMemoryStorage())
	rec := remember(t, h, "u1", "  coffee   with alice ")
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "coffee with alice", rec.Content)
	assert.Equal(t, models.DefaultImportance, rec.Importance)

	w := do(t, h, http.MethodGet, "/api/v1/memories/"+rec.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got models.Record
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "u1", got.OwnerID)
}

func TestHandleRemember_Invalid(t *testing.T) {
	h := newTestServer(t, storage.NewMemoryStorage())
	w := do(t, h, http.MethodPost, "/api/v1/memories", map[string]string{
		"owner_id": "u1", "platform": "fax", "content": "hi",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	r := httptest.NewRequest(http.MethodPost, "/api/v1/memories", bytes.NewBufferString("{"))
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, r)
	assert.Equal(t, http.StatusBadRequest, rw.Code)
}

func TestHandleGetMemory_NotFound(t *testing.T) {
	h := newTestServer(t, storage.NewMemoryStorage())
	w := do(t, h, http.MethodGet, "/api/v1/memories/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleRetrieve(t *testing.T) {
	h := newTestServer(t, storage.NewMemoryStorage())
	rec := remember(t, h, "u1", "coffee with alice")
	remember(t, h, "u2", "coffee with alice")

	w := do(t, h, http.MethodPost, "/api/v1/retrieve", map[string]interface{}{
		"owner_id": "u1",
		"query":    "coffee with alice",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body resultsBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Len(t, body.Results, 1)
	assert.Equal(t, rec.ID, body.Results[0].Record.ID)
	assert.InDelta(t, 1.0, body.Results[0].Similarity, 1e-5)
}

func TestHandleRetrieve_Cues(t *testing.T) {
	h := newTestServer(t, storage.NewMemoryStorage())
	rec := remember(t, h, "u1", "coffee with alice")

	w := do(t, h, http.MethodPost, "/api/v1/retrieve", map[string]interface{}{
		"owner_id": "u1",
		"cues":     []string{"coffee with alice", "coffee with alice"},
		"weights":  []float64{0.3, 0.7},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body resultsBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.Len(t, body.Results, 1)
	assert.Equal(t, rec.ID, body.Results[0].Record.ID)

	w = do(t, h, http.MethodPost, "/api/v1/retrieve", map[string]interface{}{
		"owner_id": "u1",
		"cues":     []string{"a", "b"},
		"weights":  []float64{1},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleRetrieve_BadRequests(t *testing.T) {
	h := newTestServer(t, storage.NewMemoryStorage())
	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing owner", map[string]interface{}{"query": "x"}},
		{"limit above max", map[string]interface{}{"owner_id": "u1", "limit": 1000}},
		{"negative limit", map[string]interface{}{"owner_id": "u1", "limit": -1}},
		{"threshold out of range", map[string]interface{}{"owner_id": "u1", "threshold": 2}},
		{"unknown platform", map[string]interface{}{"owner_id": "u1", "platforms": []string{"fax"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/v1/retrieve", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestHandleRetrieve_StoreUnavailable(t *testing.T) {
	h := newTestServer(t, brokenStore{storage.NewMemoryStorage()})
	w := do(t, h, http.MethodPost, "/api/v1/retrieve", map[string]interface{}{
		"owner_id": "u1",
		"query":    "anything",
	})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandleRetrieveContext(t *testing.T) {
	h := newTestServer(t, storage.NewMemoryStorage())
	rec := remember(t, h, "u1", "coffee with alice")

	w := do(t, h, http.MethodPost, "/api/v1/retrieve/context", map[string]interface{}{
		"owner_id": "u1",
		"query":    "coffee with alice",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res models.ContextResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	require.Len(t, res.Primary, 1)
	assert.Equal(t, rec.ID, res.Primary[0].Record.ID)
}

func TestHandleSearch(t *testing.T) {
	h := newTestServer(t, storage.NewMemoryStorage())
	rec := remember(t, h, "u1", "coffee with alice")
	remember(t, h, "u1", "dinner with bob")

	w := do(t, h, http.MethodPost, "/api/v1/search", map[string]interface{}{
		"owner_id": "u1",
		"query":    "alice",
		"options":  map[string]interface{}{"owner_id": "u1", "limit": 5},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body resultsBody
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	require.NotEmpty(t, body.Results)
	ids := make([]string, len(body.Results))
	for i, r := range body.Results {
		ids[i] = r.Record.ID
	}
	assert.Contains(t, ids, rec.ID)

	w = do(t, h, http.MethodPost, "/api/v1/search", map[string]interface{}{"query": "alice"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, "/api/v1/search", map[string]interface{}{
		"owner_id": "u1",
		"query":    "alice",
		"options":  map[string]interface{}{"owner_id": "u1", "limit": 101},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleRecent(t *testing.T) {
	h := newTestServer(t, storage.NewMemoryStorage())
	for i := 0; i < 3; i++ {
		remember(t, h, "u1", fmt.Sprintf("note %d", i))
	}

	w := do(t, h, http.MethodGet, "/api/v1/owners/u1/recent?hours=1&limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Memories []models.Record `json:"memories"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Len(t, body.Memories, 2)

	for _, q := range []string{"hours=abc", "hours=-1", "limit=x", "limit=1000"} {
		w := do(t, h, http.MethodGet, "/api/v1/owners/u1/recent?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestHandleStatus(t *testing.T) {
	h := newTestServer(t, storage.NewMemoryStorage())
	remember(t, h, "u1", "one")
	remember(t, h, "u1", "two")

	w := do(t, h, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, float64(2), body["memories"])
	cfg, ok := body["config"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, config.BackendMemory, cfg["storage_backend"])
	assert.NotContains(t, body, "disk_usage_bytes")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", models.ErrInvalidQuery), http.StatusBadRequest},
		{fmt.Errorf("x: %w", models.ErrInvalidRecord), http.StatusBadRequest},
		{fmt.Errorf("x: %w", storage.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w: %w", models.ErrUnavailable, errors.New("down")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
