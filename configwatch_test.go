package procpool

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfigReloadWatcherInjectsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("a = 1\n"), 0o644); err != nil {
		t.Fatalf("failed to seed config file: %v", err)
	}

	h := NewSignalHandler()
	h.signalMappings = map[string][]string{"SIGHUP": {"reload"}}

	watcher, err := NewConfigReloadWatcher(path, "HUP", h, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	watcher.debounce = 20 * time.Millisecond
	go watcher.Run()
	defer watcher.Close()

	if err := os.WriteFile(path, []byte("a = 2\n"), 0o644); err != nil {
		t.Fatalf("failed to rewrite config file: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !h.queueEmpty() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected a reload signal to be injected after the config file changed")
}

func TestConfigReloadWatcherMissingPath(t *testing.T) {
	h := NewSignalHandler()
	if _, err := NewConfigReloadWatcher(filepath.Join(t.TempDir(), "missing.toml"), "HUP", h, nil); err == nil {
		t.Error("expected an error watching a path that does not exist")
	}
}
