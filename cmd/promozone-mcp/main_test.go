package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientDo_MapsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"run not found"}}`))
	}))
	defer srv.Close()

	c := &client{http: &http.Client{Timeout: time.Second}, apiURL: srv.URL, apiKey: "secret"}
	_, err := c.do(context.Background(), http.MethodGet, "/api/v1/collect/x", nil)
	require.Error(t, err)
	assert.Equal(t, "[NOT_FOUND] run not found", err.Error())
}

func TestGetRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/collect/r1", r.URL.Path)
		_, _ = w.Write([]byte(`{"run_id":"r1","crawl_id":"abcd1234","status":"completed","total_collected":3,"inserted":2,"duplicates":1,"insert_errors":0}`))
	}))
	defer srv.Close()

	c := &client{http: &http.Client{Timeout: time.Second}, apiURL: srv.URL}
	state, err := c.getRun(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, "completed", state.Status)

	out := formatRun(state)
	assert.Contains(t, out, "Run r1 (execution abcd1234): completed")
	assert.Contains(t, out, "Inserted: 2  Duplicates: 1  Insert errors: 0")
}

func TestFormatRun_Failed(t *testing.T) {
	out := formatRun(runState{RunID: "r2", Status: "failed", Error: "run cancelled"})
	assert.Contains(t, out, "Error: run cancelled")
	assert.NotContains(t, out, "Inserted")
}
