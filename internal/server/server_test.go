package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/slotwatch/internal/config"
	"github.com/friendsincode/slotwatch/internal/events"
	"github.com/friendsincode/slotwatch/internal/fetch"
)

func TestSecurityHeadersMiddleware(t *testing.T) {
	h := securityHeadersMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name      string
		forwarded string
		wantHSTS  bool
	}{
		{"plain http", "", false},
		{"behind tls proxy", "https", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/reservations?type=ai", nil)
			if tt.forwarded != "" {
				req.Header.Set("X-Forwarded-Proto", tt.forwarded)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
				t.Fatalf("X-Content-Type-Options=%q", got)
			}
			if got := rr.Header().Get("X-Frame-Options"); got != "DENY" {
				t.Fatalf("X-Frame-Options=%q", got)
			}
			if got := rr.Header().Get("Strict-Transport-Security"); (got != "") != tt.wantHSTS {
				t.Fatalf("Strict-Transport-Security=%q", got)
			}
		})
	}
}

func baseConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		SnapshotBackend:    config.SnapshotFile,
		SnapshotDir:        t.TempDir(),
		SnapshotKey:        "slot_snapshot.json",
		FetchMode:          config.FetchHTTP,
		FetchAttempts:      1,
		FetchRatePerSecond: 0,
	}
}

func TestLoadCatalogTimezoneOverride(t *testing.T) {
	cfg := baseConfig(t)
	cat, err := loadCatalog(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if cat.Timezone != "Asia/Seoul" || len(cat.Categories) != 3 {
		t.Fatalf("default catalog = %+v", cat)
	}

	cfg.Timezone = "UTC"
	cat, err = loadCatalog(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if cat.Timezone != "UTC" {
		t.Fatalf("timezone = %s", cat.Timezone)
	}
}

func TestNewFetcherFollowsMode(t *testing.T) {
	cfg := baseConfig(t)
	if _, ok := newFetcher(cfg, zerolog.Nop()).(*fetch.HTTPFetcher); !ok {
		t.Fatal("http mode should build an HTTPFetcher")
	}
	cfg.FetchMode = config.FetchBrowser
	if _, ok := newFetcher(cfg, zerolog.Nop()).(*fetch.BrowserFetcher); !ok {
		t.Fatal("browser mode should build a BrowserFetcher")
	}
}

func TestNewCoreLoadsPersistedSnapshot(t *testing.T) {
	cfg := baseConfig(t)
	doc := []byte(`{"_date":"2026-03-04","ai-10:10":{"available":6,"total":6,"status":"정원마감"}}`)
	if err := os.WriteFile(filepath.Join(cfg.SnapshotDir, cfg.SnapshotKey), doc, 0o644); err != nil {
		t.Fatal(err)
	}

	core, err := NewCore(context.Background(), cfg, events.NewBus(), zerolog.Nop())
	if err != nil {
		t.Fatalf("new core: %v", err)
	}
	defer core.Close()

	store := core.Engine.Store()
	if store.Date() != "2026-03-04" || store.Len() != 1 {
		t.Fatalf("store date=%q len=%d", store.Date(), store.Len())
	}
	if got := core.Catalog.IDs(); len(got) != 3 {
		t.Fatalf("catalog ids = %v", got)
	}
}

func TestNewCoreRejectsBadTimezone(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Timezone = "Mars/Olympus_Mons"
	if _, err := NewCore(context.Background(), cfg, events.NewBus(), zerolog.Nop()); err == nil {
		t.Fatal("expected timezone error")
	}
}
