package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/promozone/api/middleware"
	"github.com/use-agent/promozone/config"
	"github.com/use-agent/promozone/metrics"
	"github.com/use-agent/promozone/models"
	"github.com/use-agent/promozone/runs"
	"github.com/use-agent/promozone/store"
	"github.com/use-agent/promozone/store/memory"
)

const testKey = "k-123"

type stubRunner struct {
	out   runs.Outcome
	block chan struct{}
}

func (s *stubRunner) Run(ctx context.Context, _ runs.Job) (runs.Outcome, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return runs.Outcome{}, ctx.Err()
		}
	}
	return s.out, nil
}

type brokenStore struct{ *memory.Store }

func (brokenStore) Ping(context.Context) error { return errors.New("connection refused") }

func init() { gin.SetMode(gin.TestMode) }

func testCfg() *config.Config {
	return &config.Config{
		Server:    config.ServerConfig{Mode: gin.TestMode},
		Auth:      config.AuthConfig{Enabled: true, APIKeys: []string{testKey}},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
	}
}

func newTestRouter(t *testing.T, runner runs.Runner, st store.Store, rl config.RateLimitConfig) *gin.Engine {
	t.Helper()
	cfg := testCfg()
	if rl.Burst > 0 {
		cfg.RateLimit = rl
	}
	lim := middleware.NewLimiter(cfg.RateLimit)
	t.Cleanup(lim.Close)
	return NewRouter(cfg, Deps{
		Runs:      runs.NewTracker(runner, runs.Options{}),
		Store:     st,
		Metrics:   metrics.New("promozone_test"),
		Limiter:   lim,
		StartTime: time.Now(),
	})
}

func do(r http.Handler, method, path string, body any, key string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestRootAndMetricsArePublic(t *testing.T) {
	r := newTestRouter(t, &stubRunner{}, memory.New(), config.RateLimitConfig{})

	w := do(r, http.MethodGet, "/", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "promozone")

	w = do(r, http.MethodGet, "/metrics", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		r := newTestRouter(t, &stubRunner{}, memory.New(), config.RateLimitConfig{})
		w := do(r, http.MethodGet, "/api/v1/health", nil, "")
		require.Equal(t, http.StatusOK, w.Code)
		h := decode[models.HealthResponse](t, w)
		assert.Equal(t, "healthy", h.Status)
		assert.Equal(t, "healthy", h.Services["warehouse"])
		assert.Equal(t, "healthy", h.Services["crawler"])
	})

	t.Run("warehouse down", func(t *testing.T) {
		r := newTestRouter(t, &stubRunner{}, brokenStore{memory.New()}, config.RateLimitConfig{})
		h := decode[models.HealthResponse](t, do(r, http.MethodGet, "/api/v1/health", nil, ""))
		assert.Equal(t, "degraded", h.Status)
		assert.Equal(t, "degraded: connection refused", h.Services["warehouse"])
	})

	t.Run("no warehouse", func(t *testing.T) {
		r := newTestRouter(t, &stubRunner{}, nil, config.RateLimitConfig{})
		h := decode[models.HealthResponse](t, do(r, http.MethodGet, "/api/v1/health", nil, ""))
		assert.Equal(t, "degraded", h.Status)
		assert.Equal(t, "degraded: not configured", h.Services["warehouse"])
	})
}

func TestCollect_RequiresAPIKey(t *testing.T) {
	r := newTestRouter(t, &stubRunner{}, memory.New(), config.RateLimitConfig{})

	w := do(r, http.MethodPost, "/api/v1/collect", gin.H{"sources": []string{"tv"}}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/api/v1/collect", gin.H{"sources": []string{"tv"}}, "wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, models.ErrCodeUnauthorized, decode[models.ErrorResponse](t, w).Error.Code)
}

func TestCollect_Validation(t *testing.T) {
	r := newTestRouter(t, &stubRunner{}, memory.New(), config.RateLimitConfig{})

	cases := map[string]gin.H{
		"missing sources": {},
		"empty sources":   {"sources": []string{}},
		"limit too high":  {"sources": []string{"tv"}, "limit_per_source": 501},
		"pages too high":  {"sources": []string{"tv"}, "max_pages_per_source": 11},
		"delay too short": {"sources": []string{"tv"}, "delay_between_requests": 0.1},
		"bad webhook":     {"sources": []string{"tv"}, "webhook_url": "not a url"},
		"blank terms":     {"sources": []string{"  "}},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/api/v1/collect", body, testKey)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, models.ErrCodeInvalidInput, decode[models.ErrorResponse](t, w).Error.Code)
		})
	}
}

func TestCollect_Lifecycle(t *testing.T) {
	runner := &stubRunner{
		block: make(chan struct{}),
		out:   runs.Outcome{SourcesProcessed: 2, PagesFetched: 2, TotalCollected: 4},
	}
	r := newTestRouter(t, runner, memory.New(), config.RateLimitConfig{})

	w := do(r, http.MethodPost, "/api/v1/collect", gin.H{
		"sources":              []string{"tv", "fone"},
		"max_pages_per_source": 2,
		"persist":              false,
	}, testKey)
	require.Equal(t, http.StatusAccepted, w.Code)
	sub := decode[models.CollectResponse](t, w)
	assert.Equal(t, models.RunStarted, sub.Status)
	assert.Len(t, sub.CrawlID, 8)
	assert.Equal(t, 2*2*(1.5+2), sub.EstimatedTimeSeconds)

	w = do(r, http.MethodGet, "/api/v1/collect/"+sub.RunID, nil, testKey)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.RunStarted, decode[models.RunState](t, w).Status)

	close(runner.block)
	var final models.RunState
	require.Eventually(t, func() bool {
		final = decode[models.RunState](t, do(r, http.MethodGet, "/api/v1/collect/"+sub.RunID, nil, testKey))
		return final.Status.Terminal()
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, models.RunCompleted, final.Status)
	assert.Equal(t, 4, final.TotalCollected)

	w = do(r, http.MethodDelete, "/api/v1/collect/"+sub.RunID, nil, testKey)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestCollect_CancelAndUnknown(t *testing.T) {
	runner := &stubRunner{block: make(chan struct{})}
	r := newTestRouter(t, runner, memory.New(), config.RateLimitConfig{})

	sub := decode[models.CollectResponse](t, do(r, http.MethodPost, "/api/v1/collect", gin.H{"sources": []string{"tv"}}, testKey))

	w := do(r, http.MethodDelete, "/api/v1/collect/"+sub.RunID, nil, testKey)
	assert.Equal(t, http.StatusAccepted, w.Code)

	require.Eventually(t, func() bool {
		s := decode[models.RunState](t, do(r, http.MethodGet, "/api/v1/collect/"+sub.RunID, nil, testKey))
		return s.Status == models.RunFailed
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/v1/collect/nope", nil, testKey).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodDelete, "/api/v1/collect/nope", nil, testKey).Code)
}

func TestProducts(t *testing.T) {
	st := memory.New()
	now := time.Now().UTC()
	_, err := st.Append(context.Background(), []models.Product{
		models.NewProduct(models.ProductInput{ItemID: "MLB1", Price: decimal.RequireFromString("10"), CollectedAt: now, CrawlID: "aaaa0000"}),
		models.NewProduct(models.ProductInput{
			ItemID: "MLB2", Price: decimal.RequireFromString("20"),
			OriginalPrice: decimal.NewNullDecimal(decimal.RequireFromString("40")),
			CollectedAt:   now.Add(-time.Minute), CrawlID: "aaaa0000",
		}),
		models.NewProduct(models.ProductInput{ItemID: "MLB3", Price: decimal.RequireFromString("30"), CollectedAt: now.Add(-48 * time.Hour), CrawlID: "bbbb0000"}),
	})
	require.NoError(t, err)
	r := newTestRouter(t, &stubRunner{}, st, config.RateLimitConfig{})

	w := do(r, http.MethodGet, "/api/v1/products/recent", nil, testKey)
	require.Equal(t, http.StatusOK, w.Code)
	recent := decode[struct {
		Hours    int `json:"hours"`
		Limit    int `json:"limit"`
		Count    int `json:"count"`
		Products []struct {
			ItemID string `json:"item_id"`
		} `json:"products"`
	}](t, w)
	assert.Equal(t, 24, recent.Hours)
	assert.Equal(t, 100, recent.Limit)
	require.Equal(t, 2, recent.Count)
	assert.Equal(t, "MLB1", recent.Products[0].ItemID)

	w = do(r, http.MethodGet, "/api/v1/products/recent?hours=72&limit=1", nil, testKey)
	assert.Equal(t, 1, decode[struct {
		Count int `json:"count"`
	}](t, w).Count)

	w = do(r, http.MethodGet, "/api/v1/products/recent?hours=0", nil, testKey)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/api/v1/products/stats", nil, testKey)
	require.Equal(t, http.StatusOK, w.Code)
	var stats map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.EqualValues(t, 3, stats["total_products"])
	assert.EqualValues(t, 2, stats["total_executions"])
	assert.EqualValues(t, 1, stats["products_on_sale"])
	assert.Equal(t, "20", stats["avg_price"])
}

func TestProducts_NoWarehouse(t *testing.T) {
	r := newTestRouter(t, &stubRunner{}, nil, config.RateLimitConfig{})
	w := do(r, http.MethodGet, "/api/v1/products/stats", nil, testKey)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, models.ErrCodeStoreUnavailable, decode[models.ErrorResponse](t, w).Error.Code)
}

func TestRateLimit(t *testing.T) {
	r := newTestRouter(t, &stubRunner{}, memory.New(), config.RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1})

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/v1/collect/x", nil, testKey).Code)
	w := do(r, http.MethodGet, "/api/v1/collect/x", nil, testKey)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
}
