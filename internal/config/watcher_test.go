package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/hark/internal/config"
)

const watcherValidYAML = minimalYAML + `
server:
  log_level: info
`

const watcherUpdatedYAML = minimalYAML + `
server:
  log_level: debug
gesture:
  threshold: 900
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// newWatcher writes content to a fresh config file and watches it.
func newWatcher(t *testing.T, content string, onChange func(old, new *config.Config)) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hark.yaml")
	writeFile(t, path, content)
	w, err := config.NewWatcher(path, onChange, config.WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, path
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _ := newWatcher(t, watcherValidYAML, nil)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
	if w.LastError() != nil {
		t.Errorf("LastError: %v", w.LastError())
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var callbackOld, callbackNew *config.Config
	called := make(chan struct{}, 1)

	w, path := newWatcher(t, watcherValidYAML, func(old, new *config.Config) {
		mu.Lock()
		callbackOld, callbackNew = old, new
		mu.Unlock()
		select {
		case called <- struct{}{}:
		default:
		}
	})

	writeFile(t, path, watcherUpdatedYAML)

	select {
	case <-called:
	case <-time.After(3 * time.Second):
		t.Fatal("callback was not invoked within timeout")
	}

	mu.Lock()
	defer mu.Unlock()
	if callbackOld.Server.LogLevel != config.LogInfo {
		t.Errorf("old log_level: got %q", callbackOld.Server.LogLevel)
	}
	if callbackNew.Server.LogLevel != config.LogDebug {
		t.Errorf("new log_level: got %q", callbackNew.Server.LogLevel)
	}

	d := config.Diff(callbackOld, callbackNew)
	if !d.LogLevelChanged || !d.ThresholdChanged || d.NewThreshold != 900 {
		t.Errorf("unexpected diff: %+v", d)
	}
	if w.Current().Server.LogLevel != config.LogDebug {
		t.Errorf("Current() log_level: got %q", w.Current().Server.LogLevel)
	}
}

func TestWatcher_DetectsRenameReplace(t *testing.T) {
	t.Parallel()

	called := make(chan *config.Config, 1)
	_, path := newWatcher(t, watcherValidYAML, func(_, new *config.Config) {
		select {
		case called <- new:
		default:
		}
	})

	tmp := filepath.Join(filepath.Dir(path), ".hark.yaml.swp")
	writeFile(t, tmp, watcherUpdatedYAML)
	if err := os.Rename(tmp, path); err != nil {
		t.Fatalf("rename: %v", err)
	}

	select {
	case cfg := <-called:
		if cfg.Server.LogLevel != config.LogDebug {
			t.Errorf("log_level: got %q", cfg.Server.LogLevel)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("callback was not invoked after atomic replace")
	}
}

func TestWatcher_InvalidFileKeepsOldConfig(t *testing.T) {
	t.Parallel()

	called := make(chan struct{}, 1)
	w, path := newWatcher(t, watcherValidYAML, func(_, _ *config.Config) {
		signal(called)
	})

	writeFile(t, path, watcherInvalidYAML)

	deadline := time.Now().Add(3 * time.Second)
	for w.LastError() == nil {
		if time.Now().After(deadline) {
			t.Fatal("LastError was not set for an invalid file")
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-called:
		t.Fatal("callback invoked for invalid config")
	default:
	}
	if w.Current().Server.LogLevel != config.LogInfo {
		t.Errorf("Current() log_level: got %q, want %q", w.Current().Server.LogLevel, config.LogInfo)
	}

	// Fixing the file clears the error.
	writeFile(t, path, watcherUpdatedYAML)
	select {
	case <-called:
	case <-time.After(3 * time.Second):
		t.Fatal("callback was not invoked after fixing the file")
	}
	if err := w.LastError(); err != nil {
		t.Errorf("LastError after fix: %v", err)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	_, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	w, _ := newWatcher(t, watcherValidYAML, nil)
	w.Stop()
	w.Stop()
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()

	called := make(chan struct{}, 1)
	w, path := newWatcher(t, watcherValidYAML, func(_, _ *config.Config) {
		signal(called)
	})

	writeFile(t, path, watcherValidYAML)

	select {
	case <-called:
		t.Fatal("callback invoked although content is unchanged")
	case <-time.After(200 * time.Millisecond):
	}
	if w.LastError() != nil {
		t.Errorf("LastError: %v", w.LastError())
	}
}
