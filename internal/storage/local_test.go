package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLocalStoreSaveAndOpen(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalStore(dir)
	ctx := context.Background()

	key := Key(42, time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC), "round-1.webm")
	if key != "42/2026-03-14/round-1.webm" {
		t.Fatalf("unexpected key %q", key)
	}

	data := []byte("not really audio")
	if err := store.Save(ctx, key, data, "audio/webm"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if !store.Exists(ctx, key) {
		t.Fatal("expected file to exist")
	}
	if p := store.LocalPath(key); p != filepath.Join(dir, key) {
		t.Errorf("LocalPath = %q", p)
	}

	r, err := store.Open(ctx, key)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	got := make([]byte, len(data))
	if _, err := r.Read(got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != string(data) {
		t.Errorf("got %q, want %q", got, data)
	}
}

func TestLocalStoreNoTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalStore(dir)

	if err := store.Save(context.Background(), "7/2026-01-01/a.webm", []byte("x"), ""); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "7", "2026-01-01"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "a.webm" {
		t.Errorf("unexpected directory contents: %v", entries)
	}
}

func TestLocalStoreMissingKey(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	if store.Exists(context.Background(), "nope/2026-01-01/x.webm") {
		t.Error("Exists should be false for missing key")
	}
	if p := store.LocalPath("nope/2026-01-01/x.webm"); p != "" {
		t.Errorf("LocalPath should be empty, got %q", p)
	}
}
