package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/relaycore/lunaroute/pkg/internal/retry"
	"github.com/relaycore/lunaroute/pkg/proxyerrors"
)

func TestSend_RetriesOn5xxThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New(Config{
		BaseURL: srv.URL,
		Retry: retry.Config{
			MaxRetries:   5,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2,
			ShouldRetry:  IsRetryableHTTP,
		},
	})

	body, err := c.Send(context.Background(), "/v1/x", []byte("{}"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("unexpected body: %s", body)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestSend_DoesNotRetryOn400(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad"}`))
	}))
	defer srv.Close()

	c := New(Config{
		BaseURL: srv.URL,
		Retry: retry.Config{
			MaxRetries:   3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2,
			ShouldRetry:  IsRetryableHTTP,
		},
	})

	_, err := c.Send(context.Background(), "/v1/x", []byte("{}"), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if proxyerrors.StatusCode(err) != 400 {
		t.Errorf("expected status 400, got %d", proxyerrors.StatusCode(err))
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected exactly 1 call for a non-retryable status, got %d", calls)
	}
}

func TestSend_ExhaustsRetriesAndReturnsProviderError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	c := New(Config{
		BaseURL: srv.URL,
		Retry: retry.Config{
			MaxRetries:   2,
			InitialDelay: time.Millisecond,
			MaxDelay:     2 * time.Millisecond,
			Multiplier:   2,
			ShouldRetry:  IsRetryableHTTP,
		},
	})

	_, err := c.Send(context.Background(), "/v1/x", []byte("{}"), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !proxyerrors.IsProviderError(err) {
		t.Errorf("expected a ProviderError, got %T: %v", err, err)
	}
	if atomic.LoadInt32(&calls) != 3 { // initial attempt + 2 retries
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestStream_NoRetryOnceBodyDelivered(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		w.Write([]byte("data: first\n\n"))
		flusher.Flush()
		// Simulate the connection dying mid-stream; the handler just returns,
		// closing the body without a clean terminator.
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, Retry: retry.DefaultConfig()})
	stream, err := c.Stream(context.Background(), "/v1/x", []byte("{}"), nil)
	if err != nil {
		t.Fatalf("unexpected error obtaining stream: %v", err)
	}
	defer stream.Close()

	buf := make([]byte, 64)
	n, _ := stream.Read(buf)
	if n == 0 {
		t.Fatal("expected some bytes from the stream")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected exactly 1 call to obtain the stream, got %d", calls)
	}
}

func TestIsRetryableHTTP(t *testing.T) {
	if IsRetryableHTTP(nil) {
		t.Error("nil error should not be retryable")
	}
	if !IsRetryableHTTP(&httpStatusError{status: 429}) {
		t.Error("429 should be retryable")
	}
	if !IsRetryableHTTP(&httpStatusError{status: 503}) {
		t.Error("503 should be retryable")
	}
	if IsRetryableHTTP(&httpStatusError{status: 404}) {
		t.Error("404 should not be retryable")
	}
}
