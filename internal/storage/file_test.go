package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	ctx := context.Background()

	if _, err := store.Get(ctx, "slot_snapshot.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.Put(ctx, "slot_snapshot.json", []byte(`{"_date":"2026-03-02"}`)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, "slot_snapshot.json", []byte(`{"_date":"2026-03-03"}`)); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	data, err := store.Get(ctx, "slot_snapshot.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(data) != `{"_date":"2026-03-03"}` {
		t.Fatalf("unexpected content %s", data)
	}

	if _, err := os.Stat(filepath.Join(dir, "slot_snapshot.json.tmp")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("temporary file left behind")
	}
}

func TestFileStoreNestedKey(t *testing.T) {
	store := NewFileStore(t.TempDir())
	ctx := context.Background()

	if err := store.Put(ctx, "state/slots.json", []byte("{}")); err != nil {
		t.Fatalf("put nested: %v", err)
	}
	if _, err := store.Get(ctx, "state/slots.json"); err != nil {
		t.Fatalf("get nested: %v", err)
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	store := NewFileStore(t.TempDir())
	if err := store.Put(context.Background(), "../escape.json", []byte("{}")); err == nil {
		t.Fatal("expected traversal key to be rejected")
	}
}
