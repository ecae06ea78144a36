package persistence

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileStore_Contract(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	exerciseStoreContract(t, store)
}

func TestFileStore_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "sessions")
	if _, err := NewFileStore(dir); err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("session directory missing: %v", err)
	}
}

func TestFileStore_FingerprintCannotEscapeDirectory(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	fp := "../escape/attempt_1024"
	if err := store.Save(context.Background(), sampleSession(fp)); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one snapshot inside the directory, got %d", len(entries))
	}
	if name := entries[0].Name(); strings.Contains(name, "/") || !strings.HasPrefix(name, "session_") {
		t.Fatalf("unexpected snapshot name %q", name)
	}

	if _, err := store.Load(context.Background(), fp); err != nil {
		t.Fatalf("Load with sanitized fingerprint: %v", err)
	}
}

func TestFileStore_NoTempFileLeftBehind(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if err := store.Save(context.Background(), sampleSession("a.csv_10")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Fatalf("temp file %q left behind after Save", e.Name())
		}
	}
}
