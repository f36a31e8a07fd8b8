/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

// DefaultUserAgent is a desktop browser string; the calendar site serves
// bots a reduced page.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

const maxBodyBytes = 8 << 20

// HTTPConfig configures the plain HTTP fetcher.
type HTTPConfig struct {
	Timeout      time.Duration
	MaxRedirects int
	UserAgent    string
	Retry        RetryPolicy
	Limiter      *rate.Limiter
}

// HTTPFetcher retrieves pages with net/http.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
	retry     RetryPolicy
	limiter   *rate.Limiter
	logger    zerolog.Logger
}

// NewHTTPFetcher builds a fetcher with tracing on the transport.
func NewHTTPFetcher(cfg HTTPConfig, logger zerolog.Logger) *HTTPFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 5
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}

	maxRedirects := cfg.MaxRedirects
	client := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	return &HTTPFetcher{
		client:    client,
		userAgent: cfg.UserAgent,
		retry:     cfg.Retry,
		limiter:   cfg.Limiter,
		logger:    logger.With().Str("component", "fetch").Str("mode", "http").Logger(),
	}
}

// Fetch returns the page body. 5xx, 429 and transport errors are retried.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	return Retry(ctx, f.retry, f.limiter, url, func(ctx context.Context) ([]byte, int, error) {
		return f.once(ctx, url)
	})
}

func (f *HTTPFetcher) once(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: create request: %v", ErrPermanent, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Debug().Err(err).Str("url", url).Msg("request failed")
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, resp.StatusCode, fmt.Errorf("HTTP %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, resp.StatusCode, fmt.Errorf("%w: HTTP %d", ErrPermanent, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return body, resp.StatusCode, nil
}
