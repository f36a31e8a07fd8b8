package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm/logger"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/slotwatch/internal/auth"
	"github.com/friendsincode/slotwatch/internal/catalog"
	"github.com/friendsincode/slotwatch/internal/clock"
	"github.com/friendsincode/slotwatch/internal/config"
	"github.com/friendsincode/slotwatch/internal/db"
	"github.com/friendsincode/slotwatch/internal/engine"
	"github.com/friendsincode/slotwatch/internal/events"
	"github.com/friendsincode/slotwatch/internal/history"
	"github.com/friendsincode/slotwatch/internal/models"
	"github.com/friendsincode/slotwatch/internal/snapshot"
	"github.com/friendsincode/slotwatch/internal/storage"
)

var kst = time.FixedZone("KST", 9*60*60)

// 2026-03-04 is a Wednesday.
func wed(hour, minute int) time.Time {
	return time.Date(2026, 3, 4, hour, minute, 0, 0, kst)
}

type stubFetcher struct {
	mu    sync.Mutex
	pages map[string][]byte
	errs  map[string]error
	calls int
}

func (s *stubFetcher) page(url string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pages == nil {
		s.pages = make(map[string][]byte)
	}
	delete(s.errs, url)
	s.pages[url] = body
}

func (s *stubFetcher) fail(url string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errs == nil {
		s.errs = make(map[string]error)
	}
	s.errs[url] = err
}

func (s *stubFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if err, ok := s.errs[url]; ok {
		return nil, err
	}
	if body, ok := s.pages[url]; ok {
		return body, nil
	}
	return []byte("<html></html>"), nil
}

func calendar(day int, grid ...string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, `<html><body><table><tr><td><span class="day">%d</span>`, day)
	for _, slot := range grid {
		fmt.Fprintf(&b, `<a class="word-wrap">%s</a>`, slot)
	}
	b.WriteString("</td></tr></table></body></html>")
	return []byte(b.String())
}

type fixture struct {
	api     *API
	router  chi.Router
	fetcher *stubFetcher
	clock   *clock.Manual
	catalog *catalog.Catalog
	bus     *events.Bus
	secret  []byte
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	f := &fixture{
		fetcher: &stubFetcher{},
		clock:   clock.NewManual(now),
		catalog: catalog.Default(),
		bus:     events.NewBus(),
		secret:  []byte("api-test-secret"),
	}
	store := snapshot.Open(context.Background(), storage.NewFileStore(t.TempDir()), snapshot.DefaultKey, f.clock, zerolog.Nop())
	eng, err := engine.New(engine.Options{
		Catalog: f.catalog,
		Fetcher: f.fetcher,
		Store:   store,
		Clock:   f.clock,
		Bus:     f.bus,
		Logger:  zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	f.api = New(eng, f.bus, f.secret, zerolog.Nop())
	f.router = chi.NewRouter()
	f.api.Routes(f.router)
	return f
}

func (f *fixture) url(t *testing.T, id string) string {
	t.Helper()
	cat, err := f.catalog.Lookup(id)
	if err != nil {
		t.Fatal(err)
	}
	return cat.URL
}

func (f *fixture) do(method, target string, body []byte, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func (f *fixture) adminToken(t *testing.T) string {
	t.Helper()
	token, err := auth.Issue(f.secret, "ops", []string{auth.RoleAdmin}, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return out
}

func TestRootServesHealthText(t *testing.T) {
	f := newFixture(t, wed(9, 0))
	rr := f.do(http.MethodGet, "/", nil, "")
	if rr.Code != http.StatusOK || rr.Body.String() != HealthText {
		t.Fatalf("GET / = %d %q", rr.Code, rr.Body.String())
	}
}

func TestReservationRejectsInvalidType(t *testing.T) {
	f := newFixture(t, wed(9, 0))
	for _, target := range []string{"/api/reservations", "/api/reservations?type=bowling", "/api/reservations?type=AI"} {
		rr := f.do(http.MethodGet, target, nil, "")
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s status = %d", target, rr.Code)
		}
		if got := decode[map[string]string](t, rr); got["error"] != "invalid type" {
			t.Fatalf("%s body = %v", target, got)
		}
	}
	if f.fetcher.calls != 0 {
		t.Fatal("invalid type reached the fetcher")
	}
}

func TestReservationLivePoll(t *testing.T) {
	f := newFixture(t, wed(9, 30))
	f.fetcher.page(f.url(t, "ai"), calendar(4, "9:00 ~ 9:30/초등 (3/6)", "10:10 ~ 10:40/초등 (4/6)"))

	rr := f.do(http.MethodGet, "/api/reservations?type=ai", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	res := decode[models.Reservation](t, rr)
	if res.Message != engine.MessageOK || res.Stale || len(res.Records) != 2 {
		t.Fatalf("reservation = %+v", res)
	}
	if res.Records[0].Status != models.StatusOpen || res.Records[1].Status != models.StatusOpen {
		t.Fatalf("records = %+v", res.Records)
	}
	if !strings.Contains(rr.Body.String(), `"status":"예약가능"`) {
		t.Fatalf("status literal missing from %s", rr.Body.String())
	}
}

func TestReservationClosedDay(t *testing.T) {
	f := newFixture(t, time.Date(2026, 3, 2, 10, 0, 0, 0, kst))
	rr := f.do(http.MethodGet, "/api/reservations?type=drone", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"message":"월요일 휴관"`) || !strings.Contains(rr.Body.String(), `"data":[]`) {
		t.Fatalf("body = %s", rr.Body.String())
	}
	if f.fetcher.calls != 0 {
		t.Fatal("closed day fetched")
	}
}

func TestReservationDegradesToSnapshot(t *testing.T) {
	f := newFixture(t, wed(8, 0))
	f.fetcher.page(f.url(t, "ai"), calendar(4, "9:00 (3/6)", "13:00 (6/6)"))
	if rr := f.do(http.MethodGet, "/api/reservations?type=ai", nil, ""); rr.Code != http.StatusOK {
		t.Fatalf("warm-up status = %d", rr.Code)
	}

	f.clock.Set(wed(9, 30))
	f.fetcher.fail(f.url(t, "ai"), errors.New("timeout"))
	rr := f.do(http.MethodGet, "/api/reservations?type=ai", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	res := decode[models.Reservation](t, rr)
	if !res.Stale || res.Message != engine.MessageStale || len(res.Records) != 2 {
		t.Fatalf("reservation = %+v", res)
	}
	if res.Records[0].Status != models.StatusTimeClosed || res.Records[1].Status != models.StatusCapacityClosed {
		t.Fatalf("records = %+v", res.Records)
	}
}

func TestAllReservationsInCatalogOrder(t *testing.T) {
	f := newFixture(t, time.Date(2026, 3, 8, 10, 0, 0, 0, kst))
	f.fetcher.page(f.url(t, "ai"), calendar(8, "11:00 (1/6)"))

	rr := f.do(http.MethodGet, "/api/reservations/all", nil, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decode[struct {
		Categories []models.Reservation `json:"categories"`
	}](t, rr)
	if len(body.Categories) != 3 {
		t.Fatalf("categories = %+v", body.Categories)
	}
	want := []string{"ai", "earthquake", "drone"}
	for i, res := range body.Categories {
		if res.Category != want[i] {
			t.Fatalf("order = %+v", body.Categories)
		}
	}
	if body.Categories[1].Message != "일요일 지진 VR 불가" {
		t.Fatalf("earthquake = %+v", body.Categories[1])
	}
	if len(body.Categories[0].Records) != 1 {
		t.Fatalf("ai = %+v", body.Categories[0])
	}
}

func TestHealthReportsLastCycle(t *testing.T) {
	f := newFixture(t, wed(9, 0))
	rr := f.do(http.MethodGet, "/healthz", nil, "")
	body := decode[map[string]any](t, rr)
	if body["status"] != "ok" || body["last_cycle"] != nil {
		t.Fatalf("before poll = %v", body)
	}

	f.do(http.MethodGet, "/api/reservations?type=ai", nil, "")
	body = decode[map[string]any](t, f.do(http.MethodGet, "/healthz", nil, ""))
	cycle, ok := body["last_cycle"].(map[string]any)
	if !ok || cycle["trigger"] != string(engine.TriggerAPI) {
		t.Fatalf("after poll = %v", body)
	}
	if body["snapshot_date"] != "2026-03-04" {
		t.Fatalf("snapshot_date = %v", body["snapshot_date"])
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	f := newFixture(t, wed(9, 0))
	tests := []struct {
		method, target string
	}{
		{http.MethodPost, "/api/admin/poll"},
		{http.MethodDelete, "/api/admin/snapshot"},
	}
	for _, tt := range tests {
		if rr := f.do(tt.method, tt.target, nil, ""); rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s = %d", tt.method, tt.target, rr.Code)
		}
	}
}

func TestAdminPoll(t *testing.T) {
	f := newFixture(t, wed(9, 0))
	token := f.adminToken(t)
	f.fetcher.page(f.url(t, "drone"), calendar(4, "14:00 (2/6)"))

	rr := f.do(http.MethodPost, "/api/admin/poll", []byte(`{"categories":["drone"]}`), token)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
	}
	body := decode[struct {
		Cycle      cycleSummary         `json:"cycle"`
		Categories []models.Reservation `json:"categories"`
	}](t, rr)
	if body.Cycle.Trigger != string(engine.TriggerAdmin) || len(body.Categories) != 1 || len(body.Categories[0].Records) != 1 {
		t.Fatalf("body = %+v", body)
	}

	if rr := f.do(http.MethodPost, "/api/admin/poll", []byte(`{"categories":["bowling"]}`), token); rr.Code != http.StatusBadRequest {
		t.Fatalf("unknown category status = %d", rr.Code)
	}
	if rr := f.do(http.MethodPost, "/api/admin/poll", []byte(`{"categories":[""]}`), token); rr.Code != http.StatusBadRequest {
		t.Fatalf("empty id status = %d", rr.Code)
	}

	rr = f.do(http.MethodPost, "/api/admin/poll", nil, token)
	if rr.Code != http.StatusOK {
		t.Fatalf("full poll status = %d", rr.Code)
	}
	full := decode[struct {
		Categories []models.Reservation `json:"categories"`
	}](t, rr)
	if len(full.Categories) != 3 {
		t.Fatalf("full poll categories = %d", len(full.Categories))
	}
}

func TestAdminClearSnapshot(t *testing.T) {
	f := newFixture(t, wed(9, 0))
	f.fetcher.page(f.url(t, "ai"), calendar(4, "10:10 (6/6)"))
	f.do(http.MethodGet, "/api/reservations?type=ai", nil, "")
	if f.api.engine.Store().Len() == 0 {
		t.Fatal("expected snapshot entries")
	}

	cleared := f.bus.Subscribe(events.EventSnapshotCleared)
	rr := f.do(http.MethodDelete, "/api/admin/snapshot", nil, f.adminToken(t))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if f.api.engine.Store().Len() != 0 {
		t.Fatal("store not cleared")
	}
	select {
	case <-cleared:
	case <-time.After(time.Second):
		t.Fatal("no snapshot.cleared event")
	}
}

func TestHistoryEndpoint(t *testing.T) {
	f := newFixture(t, wed(9, 0))
	if rr := f.do(http.MethodGet, "/api/history?type=ai", nil, ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("disabled status = %d", rr.Code)
	}

	database, err := db.Open(config.DatabaseSQLite, "file:"+t.Name()+"?mode=memory&cache=shared", logger.Silent)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close(database) })
	if err := db.Migrate(database); err != nil {
		t.Fatal(err)
	}
	repo := history.NewRepository(database)
	f.api.SetHistory(repo)

	row := models.SlotTransition{Category: "ai", Date: "2026-03-04", SlotTime: "10:10", Status: models.LiteralCapacityClosed, ObservedAt: wed(8, 55)}
	if err := repo.Insert(context.Background(), &row); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		target string
		want   int
		rows   int
	}{
		{"today by default", "/api/history?type=ai", http.StatusOK, 1},
		{"explicit date", "/api/history?type=ai&date=2026-03-03", http.StatusOK, 0},
		{"bad date", "/api/history?type=ai&date=03/04/2026", http.StatusBadRequest, -1},
		{"missing type", "/api/history", http.StatusBadRequest, -1},
		{"unknown type", "/api/history?type=bowling", http.StatusBadRequest, -1},
		{"bad limit", "/api/history?type=ai&limit=5000", http.StatusBadRequest, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := f.do(http.MethodGet, tt.target, nil, "")
			if rr.Code != tt.want {
				t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
			}
			if tt.rows < 0 {
				return
			}
			body := decode[struct {
				Data []models.SlotTransition `json:"data"`
			}](t, rr)
			if len(body.Data) != tt.rows {
				t.Fatalf("rows = %d", len(body.Data))
			}
		})
	}
}

func TestStreamFiltersByCategory(t *testing.T) {
	f := newFixture(t, wed(9, 0))
	f.api.pingInterval = time.Hour
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := ws.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/reservations/stream?type=ai", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "")

	// The handler subscribes after the handshake; keep publishing until a
	// message arrives.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				f.bus.Publish(events.EventSlotChanged, events.Payload{events.KeyCategory: "drone", events.KeyTime: "14:00"})
				f.bus.Publish(events.EventSlotChanged, events.Payload{events.KeyCategory: "ai", events.KeyTime: "10:10"})
			}
		}
	}()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Type != string(events.EventSlotChanged) || msg.Payload["category"] != "ai" || msg.Payload["time"] != "10:10" {
		t.Fatalf("message = %+v", msg)
	}
}

func TestStreamRejectsUnknownType(t *testing.T) {
	f := newFixture(t, wed(9, 0))
	rr := f.do(http.MethodGet, "/api/reservations/stream?type=bowling", nil, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}
}
