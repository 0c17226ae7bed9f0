package visionlinesdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestWaitForImageQueryPollsUntilAnswered(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/image-queries/iq-1" {
			http.NotFound(w, r)
			return
		}
		iq := map[string]any{"id": "iq-1", "detector_id": "det-1", "answer": nil, "processed_at": nil}
		if calls.Add(1) >= 3 {
			iq["answer"] = "YES"
			iq["answer_score"] = 0.9
			iq["processed_at"] = time.Now().UTC().Format(time.RFC3339Nano)
		}
		_ = json.NewEncoder(w).Encode(iq)
	}))
	defer srv.Close()

	c := New(srv.URL)
	iq, err := c.WaitForImageQuery(context.Background(), "iq-1", 2*time.Second, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !iq.Complete() || *iq.Answer != "YES" || calls.Load() != 3 {
		t.Fatalf("unexpected result %+v after %d calls", iq, calls.Load())
	}
}

func TestWaitForImageQueryTimesOutPending(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "iq-1", "answer": nil})
	}))
	defer srv.Close()
	start := time.Now()
	iq, err := New(srv.URL).WaitForImageQuery(context.Background(), "iq-1", 100*time.Millisecond, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if iq.Complete() {
		t.Fatalf("expected pending")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("wait overran: %v", elapsed)
	}
}

func TestAPIErrorDecodesEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("missing bearer token, got %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"not_found","message":"not found"}}`))
	}))
	defer srv.Close()
	c := New(srv.URL)
	c.BearerToken = "tok"
	_, err := c.GetImageQuery(context.Background(), "iq-x")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if apiErr := err.(*APIError); apiErr.Code != "not_found" {
		t.Fatalf("unexpected code %q", apiErr.Code)
	}
}

func TestWaitImageQueryEncodesSeconds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/image-queries/iq-1/wait" || r.URL.Query().Get("timeout") != "0" || r.URL.Query().Get("poll") != "0.25" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		_, _ = w.Write([]byte(`{"status":"pending","result":null}`))
	}))
	defer srv.Close()
	timeout, poll := time.Duration(0), 250*time.Millisecond
	res, err := New(srv.URL).WaitImageQuery(context.Background(), "iq-1", &timeout, &poll)
	if err != nil || res.Status != "pending" || res.Result != nil {
		t.Fatalf("unexpected wait result %+v %v", res, err)
	}
}

func TestWaitImageQueryOutlastsRequestTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/wait") {
			time.Sleep(600 * time.Millisecond)
			_, _ = w.Write([]byte(`{"id":"iq-1","answer":null}`))
			return
		}
		secs, err := strconv.ParseFloat(r.URL.Query().Get("timeout"), 64)
		if err != nil {
			t.Errorf("bad timeout %q", r.URL.Query().Get("timeout"))
		}
		time.Sleep(time.Duration(secs * float64(time.Second)))
		_, _ = w.Write([]byte(`{"status":"pending","result":null}`))
	}))
	defer srv.Close()
	c := New(srv.URL)
	c.Timeout = 300 * time.Millisecond
	timeout := 600 * time.Millisecond
	res, err := c.WaitImageQuery(context.Background(), "iq-1", &timeout, nil)
	if err != nil {
		t.Fatalf("long wait should end pending, got error: %v", err)
	}
	if res.Status != "pending" {
		t.Fatalf("unexpected status %q", res.Status)
	}

	// plain requests still honour Timeout
	if _, err := c.GetImageQuery(context.Background(), "iq-1"); err == nil {
		t.Fatalf("expected timeout on slow GET")
	}
}

func TestClientSharedAcrossGoroutines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok","service":"visionline"}`))
	}))
	defer srv.Close()
	c := New(srv.URL)
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Health(context.Background()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("health: %v", err)
	}
}
