package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}
}

func TestHTTPFetcherRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if r.Header.Get("User-Agent") != DefaultUserAgent {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		if r.Header.Get("Accept") != "text/html,application/xhtml+xml" {
			t.Errorf("unexpected accept %q", r.Header.Get("Accept"))
		}
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPConfig{Retry: fastPolicy()}, zerolog.Nop())
	body, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if string(body) != "<html>ok</html>" {
		t.Fatalf("body = %q", body)
	}
	if calls.Load() != 3 {
		t.Fatalf("calls = %d", calls.Load())
	}
}

func TestHTTPFetcherClientErrorIsPermanent(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPConfig{Retry: fastPolicy()}, zerolog.Nop())
	_, err := f.Fetch(context.Background(), srv.URL)
	if !errors.Is(err, ErrPermanent) {
		t.Fatalf("expected ErrPermanent, got %v", err)
	}
	var fetchErr *Error
	if !errors.As(err, &fetchErr) || fetchErr.Status != http.StatusNotFound || fetchErr.Attempts != 1 {
		t.Fatalf("unexpected error detail %+v", fetchErr)
	}
	if calls.Load() != 1 {
		t.Fatalf("client error retried: %d calls", calls.Load())
	}
}

func TestHTTPFetcherGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPConfig{Retry: fastPolicy()}, zerolog.Nop())
	_, err := f.Fetch(context.Background(), srv.URL)
	var fetchErr *Error
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if fetchErr.Attempts != 3 || fetchErr.Status != http.StatusTooManyRequests || calls.Load() != 3 {
		t.Fatalf("attempts=%d status=%d calls=%d", fetchErr.Attempts, fetchErr.Status, calls.Load())
	}
}

func TestHTTPFetcherRedirectCap(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/again", http.StatusFound)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(HTTPConfig{MaxRedirects: 2, Retry: RetryPolicy{MaxAttempts: 1}}, zerolog.Nop())
	if _, err := f.Fetch(context.Background(), srv.URL); err == nil {
		t.Fatal("expected redirect loop to fail")
	}
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	_, err := Retry(ctx, RetryPolicy{MaxAttempts: 5, Backoff: time.Hour}, nil, "http://example.invalid", func(ctx context.Context) ([]byte, int, error) {
		attempts++
		cancel()
		return nil, 0, errors.New("connection reset")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d", attempts)
	}
}

func TestRetryBackoffDoubles(t *testing.T) {
	var stamps []time.Time
	_, err := Retry(context.Background(), RetryPolicy{MaxAttempts: 3, Backoff: 20 * time.Millisecond}, nil, "u", func(ctx context.Context) ([]byte, int, error) {
		stamps = append(stamps, time.Now())
		return nil, 503, errors.New("unavailable")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if len(stamps) != 3 {
		t.Fatalf("attempts = %d", len(stamps))
	}
	if gap := stamps[2].Sub(stamps[1]); gap < 40*time.Millisecond {
		t.Fatalf("second backoff %v shorter than doubled delay", gap)
	}
}

func TestNewLimiter(t *testing.T) {
	if NewLimiter(0, 1) != nil {
		t.Fatal("zero rate should disable limiting")
	}
	if l := NewLimiter(2, 0); l == nil || l.Burst() != 1 {
		t.Fatal("expected limiter with burst 1")
	}
}
