package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/voxcall/internal/config"
)

const baseYAML = `
server:
  log_level: info
identity:
  user_id: alice
  language_code: en
signaling:
  relay_url: wss://relay.example.com/ws
`

const debugYAML = `
server:
  log_level: debug
identity:
  user_id: alice
  language_code: en
signaling:
  relay_url: wss://relay.example.com/ws
  reconnect_delay: 5s
`

type reload struct{ old, next *config.Config }

// watch writes baseYAML to a temp dir and starts a watcher on it. Reloads are
// forwarded to the returned channel.
func watch(t *testing.T) (string, *config.Watcher, <-chan reload) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voxcall.yaml")
	mustWrite(t, path, baseYAML)

	reloads := make(chan reload, 4)
	w, err := config.NewWatcher(path, func(old, next *config.Config) {
		reloads <- reload{old, next}
	}, config.WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return path, w, reloads
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func waitReload(t *testing.T, reloads <-chan reload) reload {
	t.Helper()
	select {
	case r := <-reloads:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("no reload within 2s")
		return reload{}
	}
}

func expectQuiet(t *testing.T, reloads <-chan reload) {
	t.Helper()
	select {
	case r := <-reloads:
		t.Errorf("unexpected reload to log_level %q", r.next.Server.LogLevel)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher(t *testing.T) {
	t.Parallel()

	t.Run("initial load", func(t *testing.T) {
		t.Parallel()
		_, w, _ := watch(t)
		if got := w.Current().Identity.UserID; got != "alice" {
			t.Errorf("user_id = %q, want alice", got)
		}
	})

	t.Run("write triggers reload", func(t *testing.T) {
		t.Parallel()
		path, w, reloads := watch(t)
		mustWrite(t, path, debugYAML)

		r := waitReload(t, reloads)
		if r.old.Server.LogLevel != config.LogInfo || r.next.Server.LogLevel != config.LogDebug {
			t.Errorf("reload %q -> %q, want info -> debug", r.old.Server.LogLevel, r.next.Server.LogLevel)
		}
		if w.Current() != r.next {
			t.Error("Current() does not return the reloaded config")
		}
	})

	t.Run("atomic rename triggers reload", func(t *testing.T) {
		t.Parallel()
		path, _, reloads := watch(t)
		tmp := path + ".tmp"
		mustWrite(t, tmp, debugYAML)
		if err := os.Rename(tmp, path); err != nil {
			t.Fatalf("rename: %v", err)
		}

		r := waitReload(t, reloads)
		if r.next.Signaling.ReconnectDelay != 5*time.Second {
			t.Errorf("reconnect_delay = %s, want 5s", r.next.Signaling.ReconnectDelay)
		}
	})

	t.Run("invalid file keeps current config", func(t *testing.T) {
		t.Parallel()
		path, w, reloads := watch(t)
		mustWrite(t, path, "server:\n  log_level: loud\n")

		expectQuiet(t, reloads)
		if got := w.Current().Server.LogLevel; got != config.LogInfo {
			t.Errorf("log_level = %q after invalid write, want info", got)
		}
	})

	t.Run("touch without change is ignored", func(t *testing.T) {
		t.Parallel()
		path, _, reloads := watch(t)
		later := time.Now().Add(time.Minute)
		if err := os.Chtimes(path, later, later); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
		mustWrite(t, path, baseYAML)
		expectQuiet(t, reloads)
	})

	t.Run("sibling files are ignored", func(t *testing.T) {
		t.Parallel()
		path, _, reloads := watch(t)
		mustWrite(t, filepath.Join(filepath.Dir(path), "other.yaml"), debugYAML)
		expectQuiet(t, reloads)
	})
}

func TestNewWatcher_MissingFile(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Fatal("NewWatcher on a missing file succeeded")
	}
}

func TestWatcher_StopTwice(t *testing.T) {
	t.Parallel()
	_, w, _ := watch(t)
	w.Stop()
	w.Stop()
}
