package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cutting-room-floor/backbone-couch/internal/couch"
)

const designJSON = `{"_id": "_design/custom", "views": {"all": {"map": "function(doc) { emit(doc._id, null); }"}}}`

func TestNewRejectsUnsupportedFiles(t *testing.T) {
	install := func(context.Context, []couch.DesignSource) error { return nil }

	if _, err := New(nil, install); err == nil {
		t.Error("expected error for no files")
	}
	if _, err := New([]string{filepath.Join(t.TempDir(), "design.txt")}, install); err == nil {
		t.Error("expected error for .txt file")
	}
	if _, err := New([]string{filepath.Join(t.TempDir(), "missing", "design.json")}, install); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestWatcherReinstallsChangedFiles(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "custom.json")
	other := filepath.Join(dir, "other.json")
	if err := os.WriteFile(watched, []byte(designJSON), 0o644); err != nil {
		t.Fatalf("failed to write design file: %v", err)
	}

	installed := make(chan []string, 10)
	install := func(_ context.Context, sources []couch.DesignSource) error {
		var names []string
		for _, src := range sources {
			d, err := src.Design()
			if err != nil {
				return err
			}
			names = append(names, d.ID)
		}
		installed <- names
		return nil
	}

	w, err := New([]string{watched}, install, WithDebounce(100*time.Millisecond))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run() error = %v", err)
		}
	}()

	// Unwatched files in the same directory are ignored
	if err := os.WriteFile(other, []byte(designJSON), 0o644); err != nil {
		t.Fatalf("failed to write other file: %v", err)
	}

	// Several writes coalesce into one reinstall
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(watched, []byte(designJSON), 0o644); err != nil {
			t.Fatalf("failed to rewrite design file: %v", err)
		}
	}

	select {
	case names := <-installed:
		if len(names) != 1 || names[0] != "_design/custom" {
			t.Errorf("expected one reinstall of _design/custom, got %v", names)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reinstall")
	}

	select {
	case names := <-installed:
		t.Errorf("unexpected extra reinstall %v", names)
	case <-time.After(400 * time.Millisecond):
	}
}

func TestWatcherStopsOnCancel(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "custom.yaml")

	w, err := New([]string{file}, func(context.Context, []couch.DesignSource) error { return nil })
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
