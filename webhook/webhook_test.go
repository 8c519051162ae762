package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/promozone/models"
)

func TestNotify_SignsAndSendsCompletedEvent(t *testing.T) {
	type delivery struct {
		body []byte
		sig  string
	}
	got := make(chan delivery, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- delivery{body: body, sig: r.Header.Get(SignatureHeader)}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewNotifier()
	n.Notify(models.RunState{RunID: "r1", Status: models.RunCompleted}, srv.URL, "s3cret")
	n.Wait()

	d := <-got
	require.NotEmpty(t, d.body)
	assert.True(t, Verify("s3cret", d.body, d.sig))

	var ev Event
	require.NoError(t, json.Unmarshal(d.body, &ev))
	assert.Equal(t, EventCompleted, ev.Type)
	assert.Equal(t, "r1", ev.RunID)
}

func TestNotify_RetriesFailedDelivery(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier()
	n.delays = []time.Duration{0, time.Millisecond, time.Millisecond}
	n.Notify(models.RunState{RunID: "r2", Status: models.RunFailed}, srv.URL, "")
	n.Wait()

	assert.EqualValues(t, 2, hits.Load())
}

func TestNotify_NoURLIsNoop(t *testing.T) {
	n := NewNotifier()
	n.Notify(models.RunState{RunID: "r3"}, "", "x")
	n.Wait()
}

func TestVerify_RejectsTamperedBody(t *testing.T) {
	sig := Sign("k", []byte(`{"a":1}`))
	assert.False(t, Verify("k", []byte(`{"a":2}`), sig))
	assert.False(t, Verify("other", []byte(`{"a":1}`), sig))
}
