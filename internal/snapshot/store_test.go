package snapshot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/slotwatch/internal/clock"
	"github.com/friendsincode/slotwatch/internal/models"
	"github.com/friendsincode/slotwatch/internal/storage"
)

type memoryObjects struct {
	data   map[string][]byte
	puts   int
	putErr error
}

func newMemoryObjects() *memoryObjects {
	return &memoryObjects{data: make(map[string][]byte)}
}

func (m *memoryObjects) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := m.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return data, nil
}

func (m *memoryObjects) Put(_ context.Context, key string, data []byte) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.puts++
	m.data[key] = append([]byte(nil), data...)
	return nil
}

var kst = time.FixedZone("KST", 9*60*60)

func day(d, hour, minute int) time.Time {
	return time.Date(2026, 3, d, hour, minute, 0, 0, kst)
}

func TestOpenAbsentAndCorrupt(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(day(2, 9, 0))

	objects := newMemoryObjects()
	store := Open(ctx, objects, DefaultKey, clk, zerolog.Nop())
	if store.Len() != 0 || store.Date() != "" {
		t.Fatalf("expected empty untagged store, got %d entries date %q", store.Len(), store.Date())
	}

	objects.data[DefaultKey] = []byte("{not json")
	store = Open(ctx, objects, DefaultKey, clk, zerolog.Nop())
	if store.Len() != 0 {
		t.Fatal("corrupt snapshot should load empty")
	}

	objects.data[DefaultKey] = []byte(`{"_date":"2026-03-02","ai-09:00":{"available":1,"total":6,"status":"unknown"}}`)
	store = Open(ctx, objects, DefaultKey, clk, zerolog.Nop())
	if store.Len() != 0 {
		t.Fatal("snapshot with an unknown status literal should load empty")
	}
}

func TestCommitPersistsAndReloads(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(day(2, 9, 0))
	objects := newMemoryObjects()

	store := Open(ctx, objects, DefaultKey, clk, zerolog.Nop())
	if _, err := store.ResetIfNewDay(ctx, clk.Now()); err != nil {
		t.Fatalf("reset: %v", err)
	}
	store.Put("ai-09:00", models.SlotSnapshot{Available: models.IntPtr(3), Total: models.IntPtr(6), Status: models.StatusOpen})
	store.Put("drone-14:00", models.SlotSnapshot{Available: models.IntPtr(6), Total: models.IntPtr(6), Status: models.StatusCapacityClosed})

	if err := store.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	raw := string(objects.data[DefaultKey])
	for _, want := range []string{`"_date": "2026-03-02"`, `"ai-09:00"`, `"예약가능"`, `"정원마감"`} {
		if !strings.Contains(raw, want) {
			t.Fatalf("persisted document missing %s:\n%s", want, raw)
		}
	}

	reloaded := Open(ctx, objects, DefaultKey, clk, zerolog.Nop())
	if reloaded.Date() != "2026-03-02" {
		t.Fatalf("date = %q", reloaded.Date())
	}
	snap, ok := reloaded.Get("ai-09:00")
	if !ok || *snap.Available != 3 || *snap.Total != 6 || snap.Status != models.StatusOpen {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	entries := reloaded.Entries("drone")
	if len(entries) != 1 || entries["14:00"].Status != models.StatusCapacityClosed {
		t.Fatalf("unexpected drone entries %+v", entries)
	}
}

func TestCommitSkipsCleanStore(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(day(2, 9, 0))
	objects := newMemoryObjects()
	store := Open(ctx, objects, DefaultKey, clk, zerolog.Nop())
	store.ResetIfNewDay(ctx, clk.Now())
	puts := objects.puts

	if err := store.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if objects.puts != puts {
		t.Fatal("clean commit should not write")
	}
}

func TestResetIfNewDayPersistsImmediately(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(day(2, 23, 50))
	objects := newMemoryObjects()
	store := Open(ctx, objects, DefaultKey, clk, zerolog.Nop())
	store.ResetIfNewDay(ctx, clk.Now())
	store.Put("ai-10:10", models.SlotSnapshot{Available: models.IntPtr(6), Total: models.IntPtr(6), Status: models.StatusCapacityClosed})
	if err := store.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}

	reset, err := store.ResetIfNewDay(ctx, clk.Now())
	if err != nil || reset {
		t.Fatalf("same day should not reset: %v %v", reset, err)
	}

	clk.Advance(20 * time.Minute)
	reset, err = store.ResetIfNewDay(ctx, clk.Now())
	if err != nil || !reset {
		t.Fatalf("expected reset: %v %v", reset, err)
	}
	if _, ok := store.Get("ai-10:10"); ok {
		t.Fatal("yesterday's lock survived the reset")
	}

	// Reopen without committing: the reset is already durable.
	reloaded := Open(ctx, objects, DefaultKey, clk, zerolog.Nop())
	if reloaded.Date() != "2026-03-03" || reloaded.Len() != 0 {
		t.Fatalf("reset not persisted: date %q entries %d", reloaded.Date(), reloaded.Len())
	}
}

func TestCommitFailureKeepsChangesPending(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(day(2, 9, 0))
	objects := newMemoryObjects()
	store := Open(ctx, objects, DefaultKey, clk, zerolog.Nop())
	store.ResetIfNewDay(ctx, clk.Now())

	store.Put("ai-09:00", models.SlotSnapshot{Status: models.StatusOpen, Available: models.IntPtr(1), Total: models.IntPtr(6)})
	objects.putErr = errors.New("disk full")
	if err := store.Commit(ctx); err == nil {
		t.Fatal("expected commit error")
	}

	objects.putErr = nil
	if err := store.Commit(ctx); err != nil {
		t.Fatalf("retry commit: %v", err)
	}
	if !strings.Contains(string(objects.data[DefaultKey]), "ai-09:00") {
		t.Fatal("pending change lost after failed commit")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(day(2, 9, 0))
	store := Open(ctx, newMemoryObjects(), DefaultKey, clk, zerolog.Nop())
	store.Put("ai-09:00", models.SlotSnapshot{Available: models.IntPtr(2), Total: models.IntPtr(6)})

	snap, _ := store.Get("ai-09:00")
	*snap.Available = 5

	again, _ := store.Get("ai-09:00")
	if *again.Available != 2 {
		t.Fatal("store entry mutated through returned snapshot")
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewManual(day(2, 9, 0))
	objects := newMemoryObjects()
	store := Open(ctx, objects, DefaultKey, clk, zerolog.Nop())
	store.Put("ai-09:00", models.SlotSnapshot{Status: models.StatusCapacityClosed, Available: models.IntPtr(6), Total: models.IntPtr(6)})

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if store.Len() != 0 || store.Date() != "2026-03-02" {
		t.Fatalf("unexpected state after clear: %d %q", store.Len(), store.Date())
	}
	date, entries, err := Decode(objects.data[DefaultKey])
	if err != nil || date != "2026-03-02" || len(entries) != 0 {
		t.Fatalf("persisted clear = %q %v %v", date, entries, err)
	}
}

func TestDecodeNullCounts(t *testing.T) {
	date, entries, err := Decode([]byte(`{"_date":"2026-03-02","ai-10:10":{"available":null,"total":null,"status":"시간마감"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	snap := entries["ai-10:10"]
	if date != "2026-03-02" || snap.Available != nil || snap.Total != nil || snap.Status != models.StatusTimeClosed {
		t.Fatalf("unexpected decode %q %+v", date, snap)
	}
}
