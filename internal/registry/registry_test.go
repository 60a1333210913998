package registry

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeModel(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("fake gguf"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestScan_FindsGGUFFilesOnly(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, "a.gguf")
	writeModel(t, dir, "b.gguf")
	writeModel(t, dir, "README.md")

	reg, err := Scan(dir, "")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	entries := reg.List()
	if len(entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2: %+v", len(entries), entries)
	}
	if entries[0].Name != "a" || entries[1].Name != "b" {
		t.Errorf("entries = %+v, want a, b", entries)
	}
}

func TestScan_DefaultsToFirstAlphabetically(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, "zeta.gguf")
	writeModel(t, dir, "alpha.gguf")

	reg, err := Scan(dir, "")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if reg.DefaultName() != "alpha" {
		t.Errorf("DefaultName() = %q, want alpha", reg.DefaultName())
	}
}

func TestScan_HonorsConfiguredDefault(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, "zeta.gguf")
	writeModel(t, dir, "alpha.gguf")

	reg, err := Scan(dir, "zeta.gguf")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if reg.DefaultName() != "zeta" {
		t.Errorf("DefaultName() = %q, want zeta", reg.DefaultName())
	}
}

func TestScan_UnknownConfiguredDefaultErrors(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, "alpha.gguf")

	if _, err := Scan(dir, "missing.gguf"); err == nil {
		t.Fatal("expected an error for an unknown configured default")
	}
}

func TestRegistry_Get(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, "alpha.gguf")

	reg, err := Scan(dir, "")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if _, ok := reg.Get("alpha"); !ok {
		t.Error("expected alpha to be present")
	}
	if _, ok := reg.Get("missing"); ok {
		t.Error("expected missing to be absent")
	}
}

func TestRegistry_ReloadReflectsDirectoryChanges(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, "a.gguf")
	writeModel(t, dir, "b.gguf")

	reg, err := Scan(dir, "")
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(reg.List()) != 2 {
		t.Fatalf("expected 2 entries before removal")
	}

	if err := os.Remove(filepath.Join(dir, "b.gguf")); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := reg.Reload(""); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	entries := reg.List()
	if len(entries) != 1 || entries[0].Name != "a" {
		t.Errorf("entries after reload = %+v, want only a", entries)
	}
}

func TestWatcher_TriggersReloadOnNewFile(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, dir, "a.gguf")

	w, err := NewWatcher(dir, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.debounceInterval = 10 * time.Millisecond

	reloaded := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go w.Watch(ctx, func() error {
		select {
		case reloaded <- struct{}{}:
		default:
		}
		return nil
	})

	time.Sleep(20 * time.Millisecond) // let the watch loop start
	writeModel(t, dir, "b.gguf")

	select {
	case <-reloaded:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a reload after a new .gguf file appeared")
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
