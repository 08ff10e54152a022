package tei

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmakarov/persona-chat/internal/infrastructure/resilience"
)

func fastExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		Default: resilience.Policy{
			RetryMaxAttempts:    2,
			RetryInitialBackoff: time.Millisecond,
			RetryMaxBackoff:     2 * time.Millisecond,
			RetryMultiplier:     2.0,
			BreakerEnabled:      false,
		},
	})
}

func TestScoreMapsIndicesToInputOrder(t *testing.T) {
	var gotReq rerankRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rerank" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		// Out of order on purpose.
		_, _ = w.Write([]byte(`[{"index":2,"score":0.9},{"index":0,"score":0.1},{"index":1,"score":0.5}]`))
	}))
	defer server.Close()

	client := New(server.URL, time.Second, nil)
	scores, err := client.Score(context.Background(), "query", []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if !reflect.DeepEqual(scores, []float64{0.1, 0.5, 0.9}) {
		t.Fatalf("expected input-ordered scores, got %v", scores)
	}
	if gotReq.Query != "query" || len(gotReq.Texts) != 3 {
		t.Fatalf("unexpected request %+v", gotReq)
	}
}

func TestScoreEmptyTexts(t *testing.T) {
	client := New("http://localhost:0", time.Second, nil)
	scores, err := client.Score(context.Background(), "query", nil)
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if scores != nil {
		t.Fatalf("expected nil scores, got %v", scores)
	}
}

func TestScoreRejectsOutOfRangeIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"index":5,"score":0.9}]`))
	}))
	defer server.Close()

	client := New(server.URL, time.Second, nil)
	_, err := client.Score(context.Background(), "query", []string{"a"})
	if err == nil {
		t.Fatalf("expected error for out-of-range index")
	}
}

func TestScoreRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "loading model", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[{"index":0,"score":0.7}]`))
	}))
	defer server.Close()

	client := New(server.URL, time.Second, fastExecutor())
	scores, err := client.Score(context.Background(), "query", []string{"a"})
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	if !reflect.DeepEqual(scores, []float64{0.7}) {
		t.Fatalf("expected scores after retry, got %v", scores)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 requests, got %d", calls.Load())
	}
}

func TestScoreDoesNotRetryClientError(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	client := New(server.URL, time.Second, fastExecutor())
	_, err := client.Score(context.Background(), "query", []string{"a"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single request, got %d", calls.Load())
	}
}

func TestAvailableProbesHealth(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	defer healthy.Close()

	if !New(healthy.URL, time.Second, nil).Available(context.Background()) {
		t.Fatalf("expected healthy service to be available")
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "starting up", http.StatusServiceUnavailable)
	}))
	defer down.Close()

	if New(down.URL, time.Second, nil).Available(context.Background()) {
		t.Fatalf("expected unhealthy service to be unavailable")
	}
}
