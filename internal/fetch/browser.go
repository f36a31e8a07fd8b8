/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// BrowserConfig configures the headless browser fetcher.
type BrowserConfig struct {
	Bin        string // browser binary; empty lets the launcher find or download one
	ControlURL string // attach to an existing DevTools endpoint instead of launching
	Timeout    time.Duration
	Retry      RetryPolicy
	Limiter    *rate.Limiter
}

// BrowserFetcher renders pages in a headless browser for calendars that
// fill in slots with script.
type BrowserFetcher struct {
	cfg    BrowserConfig
	logger zerolog.Logger

	mu      sync.Mutex
	browser *rod.Browser
}

// NewBrowserFetcher returns a fetcher that launches the browser on first use.
func NewBrowserFetcher(cfg BrowserConfig, logger zerolog.Logger) *BrowserFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	return &BrowserFetcher{
		cfg:    cfg,
		logger: logger.With().Str("component", "fetch").Str("mode", "browser").Logger(),
	}
}

func (b *BrowserFetcher) connect() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.browser != nil {
		return b.browser, nil
	}

	controlURL := b.cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(true)
		if b.cfg.Bin != "" {
			l = l.Bin(b.cfg.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch browser: %w", err)
		}
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	b.logger.Info().Str("control_url", controlURL).Msg("headless browser connected")
	b.browser = browser
	return browser, nil
}

// Fetch loads url in a fresh tab and returns the rendered document.
func (b *BrowserFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	return Retry(ctx, b.cfg.Retry, b.cfg.Limiter, url, func(ctx context.Context) ([]byte, int, error) {
		browser, err := b.connect()
		if err != nil {
			return nil, 0, err
		}

		page, err := browser.Context(ctx).Page(proto.TargetCreateTarget{URL: url})
		if err != nil {
			return nil, 0, fmt.Errorf("open page: %w", err)
		}
		defer page.Close()

		page = page.Timeout(b.cfg.Timeout)
		if err := page.WaitLoad(); err != nil {
			return nil, 0, fmt.Errorf("wait load: %w", err)
		}
		html, err := page.HTML()
		if err != nil {
			return nil, 0, fmt.Errorf("read document: %w", err)
		}
		return []byte(html), 0, nil
	})
}

// Close shuts the browser down if it was started.
func (b *BrowserFetcher) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	b.browser = nil
	return err
}
