package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/promozone/config"
	"github.com/use-agent/promozone/models"
	"github.com/use-agent/promozone/runs"
	"github.com/use-agent/promozone/store"
	"github.com/use-agent/promozone/store/memory"
)

const listing = `<html><body><ol>
<li class="ui-search-layout__item">
  <a class="poly-component__title" href="/MLB-101-fone">Fone Bluetooth</a>
  <div class="poly-price__current"><span class="andes-money-amount__fraction">1.299</span><span class="andes-money-amount__cents">90</span></div>
</li>
<li class="ui-search-layout__item">
  <a class="poly-component__title" href="/MLB-102-fone">Fone com fio</a>
  <s class="andes-money-amount andes-money-amount--previous"><span class="andes-money-amount__fraction">80</span></s>
  <div class="poly-price__current"><span class="andes-money-amount__fraction">59</span></div>
</li>
<li class="ui-search-layout__item">
  <a class="poly-component__title" href="/MLB-103-fone">Fone gamer</a>
  <div class="poly-price__current"><span class="andes-money-amount__fraction">199</span></div>
</li>
</ol></body></html>`

func marketplace(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "_Desde_") {
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, "<html><body></body></html>")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, listing)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(base string) config.CrawlerConfig {
	return config.CrawlerConfig{
		UserAgent:      "promozone-test",
		BaseURL:        base,
		MaxRetries:     1,
		RetryMin:       time.Millisecond,
		RetryMax:       2 * time.Millisecond,
		RequestTimeout: 2 * time.Second,
		PageSize:       50,
		Workers:        1,
	}
}

func newService(t *testing.T, st store.Store) *Service {
	srv := marketplace(t)
	cfg := testConfig(srv.URL)
	var loader *store.Loader
	if st != nil {
		loader = store.NewLoader(st, nil)
	}
	return New(NewEngine(cfg, nil), loader, cfg, nil)
}

func TestExecute_CollectsAndDedupesAcrossRuns(t *testing.T) {
	st := memory.New()
	svc := newService(t, st)
	p := Params{CrawlID: "aaaa1111", Sources: []string{"fone"}, LimitPerSource: 50, MaxPages: 2, Persist: true}

	out, err := svc.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Collection.Stats.SourcesProcessed)
	assert.Equal(t, 3, out.Collection.Stats.TotalCollected)
	require.NotNil(t, out.Insert)
	assert.Equal(t, store.InsertResult{Inserted: 3}, *out.Insert)

	recs := out.Collection.Records()
	require.Len(t, recs, 3)
	assert.Equal(t, "MLB101", recs[0].ItemID)
	assert.Equal(t, "1299.90", recs[0].Price.StringFixed(2))
	assert.Equal(t, "aaaa1111", recs[0].CrawlID)
	assert.True(t, recs[1].HasDiscount())

	p.CrawlID = "bbbb2222"
	again, err := svc.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, store.InsertResult{Duplicates: 3}, *again.Insert)
	assert.Equal(t, 3, st.Len())
}

func TestExecute_WithoutPersistSkipsStore(t *testing.T) {
	st := memory.New()
	svc := newService(t, st)

	out, err := svc.Execute(context.Background(), Params{Sources: []string{"fone"}, LimitPerSource: 10, MaxPages: 1})
	require.NoError(t, err)
	assert.Nil(t, out.Insert)
	assert.Zero(t, st.Len())
}

func TestExecute_PersistWithoutStore(t *testing.T) {
	svc := newService(t, nil)
	_, err := svc.Execute(context.Background(), Params{Sources: []string{"fone"}, Persist: true})

	var apiErr *models.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, models.ErrCodeStoreUnavailable, apiErr.Code)
	assert.ErrorIs(t, err, store.ErrNotConfigured)
}

func TestExecute_AppendFailureIsCounted(t *testing.T) {
	st := memory.New()
	st.FailAppend = errors.New("disk full")
	svc := newService(t, st)

	out, err := svc.Execute(context.Background(), Params{Sources: []string{"fone"}, LimitPerSource: 10, MaxPages: 1, Persist: true})
	require.NoError(t, err)
	assert.Equal(t, store.InsertResult{Errors: 1}, *out.Insert)
}

func TestExecute_CancelledContext(t *testing.T) {
	svc := newService(t, memory.New())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Execute(ctx, Params{Sources: []string{"fone"}, MaxPages: 1, Persist: true})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_MapsOutcome(t *testing.T) {
	svc := newService(t, memory.New())
	req := models.CollectRequest{Sources: []string{"fone"}}
	req.Defaults()

	out, err := svc.Run(context.Background(), runs.Job{RunID: "r", CrawlID: "cccc3333", Request: req})
	require.NoError(t, err)
	assert.Equal(t, 3, out.TotalCollected)
	require.Len(t, out.SourceStats, 1)
	assert.Equal(t, "fone", out.SourceStats[0].Source)
	require.NotNil(t, out.Insert)
	assert.Equal(t, 3, out.Insert.Inserted)
}

func TestFetchURL(t *testing.T) {
	srv := marketplace(t)
	cfg := testConfig(srv.URL)
	svc := New(NewEngine(cfg, nil), nil, cfg, nil)

	recs := svc.FetchURL(context.Background(), "dddd4444", srv.URL+"/fone", "")
	require.Len(t, recs, 3)
	assert.Equal(t, "custom", recs[0].Source)
}
