package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"pollkit/internal/config"
	"pollkit/internal/poll"
)

type backend struct {
	srv  *httptest.Server
	hits atomic.Int64
}

func newBackend(t *testing.T, status int) *backend {
	t.Helper()
	b := &backend{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.hits.Add(1)
		w.WriteHeader(status)
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pollkit.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func startApp(t *testing.T, cfgBody string) *App {
	t.Helper()
	a, err := NewApp(writeConfig(t, cfgBody))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := a.Start(ctx); err != nil {
		cancel()
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		_ = a.Stop(stopCtx, StopAppStop)
		cancel()
	})
	return a
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func baseConfig(polls ...config.PollConfig) *config.Config {
	return &config.Config{
		Logging: config.LoggingConfig{Level: "error"},
		Storage: &config.StorageConfig{Driver: "memory"},
		Polls:   polls,
	}
}

func pollCfg(name, url, interval string) config.PollConfig {
	return config.PollConfig{Name: name, URL: url, Interval: interval, Timeout: "2s", Sinks: []string{"store"}}
}

func TestAppPollsAndStoresResults(t *testing.T) {
	be := newBackend(t, http.StatusOK)
	a := startApp(t, fmt.Sprintf(`
logging: { level: error }
storage: { driver: memory }
polls:
  - name: api
    url: %s
    interval: 30ms
    timeout: 2s
    sinks: [log, store]
`, be.srv.URL))

	ctx := context.Background()
	waitFor(t, "stored result", func() bool {
		v, ok := a.Poll(ctx, "api")
		return ok && v.Last != nil && v.Last.Seq >= 2
	})
	v, _ := a.Poll(ctx, "api")
	if !v.Last.OK || v.Last.Status != http.StatusOK || v.Last.Poll != "api" {
		t.Fatalf("last = %+v", v.Last)
	}
	if v.URL != be.srv.URL || !v.Info.Enabled || v.Info.Interval != 30*time.Millisecond {
		t.Fatalf("view = %+v", v)
	}
	if !a.Snapshot().Polling {
		t.Fatal("manager not polling after Start")
	}
}

func TestApplyConfigMapsDiffToOperations(t *testing.T) {
	be := newBackend(t, http.StatusOK)
	other := newBackend(t, http.StatusNoContent)
	a := startApp(t, fmt.Sprintf(`
logging: { level: error }
storage: { driver: memory }
polls:
  - { name: keep, url: %[1]s, interval: 30ms, timeout: 2s, sinks: [store] }
  - { name: drop, url: %[1]s, interval: 30ms, timeout: 2s }
  - { name: move, url: %[1]s, interval: 30ms, timeout: 2s, sinks: [store] }
`, be.srv.URL))

	ctx := context.Background()
	old := a.cfgm.Get()
	keep, _ := a.lookup("keep")
	move, _ := a.lookup("move")

	next := baseConfig(
		pollCfg("keep", be.srv.URL, "1h"),
		pollCfg("move", other.srv.URL, "30ms"),
		pollCfg("fresh", be.srv.URL, "30ms"),
	)
	next.Polls[0].Enabled = poll.Ptr(false)
	a.applyConfig(old, next)

	// Removed.
	if _, ok := a.Poll(ctx, "drop"); ok {
		t.Fatal("drop still present")
	}
	// Updated in place: same id, new interval, disabled.
	k, ok := a.Poll(ctx, "keep")
	if !ok || k.Info.ID != keep.id || k.Info.Enabled || k.Info.Interval != time.Hour {
		t.Fatalf("keep = %+v (ok %v)", k, ok)
	}
	// Replaced: same id, new target.
	waitFor(t, "replaced poll hitting new backend", func() bool {
		v, ok := a.Poll(ctx, "move")
		return ok && v.Info.ID == move.id && v.Last != nil && v.Last.Status == http.StatusNoContent
	})
	// Added with a fresh id.
	waitFor(t, "added poll result", func() bool {
		v, ok := a.Poll(ctx, "fresh")
		return ok && v.Last != nil && v.Info.ID > move.id
	})

	views := a.Polls(ctx)
	if len(views) != 3 || views[0].Name != "fresh" || views[1].Name != "keep" || views[2].Name != "move" {
		t.Fatalf("views = %+v", views)
	}
}

func TestApplyConfigReaddsPollRemovedOverAPI(t *testing.T) {
	be := newBackend(t, http.StatusOK)
	a := startApp(t, fmt.Sprintf(`
logging: { level: error }
storage: { driver: memory }
polls:
  - { name: api, url: %s, interval: 30ms, timeout: 2s }
`, be.srv.URL))

	ctx := context.Background()
	if !a.Remove("api") {
		t.Fatal("Remove(api) = false")
	}
	if a.Remove("api") {
		t.Fatal("second Remove reported success")
	}
	if len(a.Polls(ctx)) != 0 {
		t.Fatal("poll still listed after Remove")
	}

	old := a.cfgm.Get()
	next := baseConfig(pollCfg("api", be.srv.URL, "30ms"))
	next.Logging.Level = "warn"
	a.applyConfig(old, next)
	if _, ok := a.Poll(ctx, "api"); !ok {
		t.Fatal("reload did not restore the poll")
	}
}

func TestSetEnabledAndPollingToggle(t *testing.T) {
	be := newBackend(t, http.StatusOK)
	a := startApp(t, fmt.Sprintf(`
logging: { level: error }
polls:
  - { name: api, url: %s, interval: 20ms, timeout: 2s }
`, be.srv.URL))

	ctx := context.Background()
	if a.SetEnabled("missing", false) {
		t.Fatal("SetEnabled on unknown poll reported success")
	}
	if !a.SetEnabled("api", false) {
		t.Fatal("SetEnabled(api) = false")
	}
	if v, _ := a.Poll(ctx, "api"); v.Info.Enabled {
		t.Fatal("poll still enabled")
	}
	if v, _ := a.Poll(ctx, "api"); v.Last != nil {
		t.Fatal("Last set without storage")
	}

	a.StopPolling()
	if a.Snapshot().Polling {
		t.Fatal("still polling after StopPolling")
	}
	a.StartPolling()
	v, _ := a.Poll(ctx, "api")
	if !v.Info.Enabled {
		t.Fatal("StartPolling did not re-enable the poll")
	}
	before := be.hits.Load()
	waitFor(t, "polling to resume", func() bool { return be.hits.Load() > before })
}

func TestRejectedReloadKeepsPolls(t *testing.T) {
	be := newBackend(t, http.StatusOK)
	a := startApp(t, fmt.Sprintf(`
logging: { level: error }
polls:
  - { name: api, url: %s, interval: 1h }
`, be.srv.URL))

	if err := os.WriteFile(a.cfgm.Path(), []byte("polls: []\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	changed, err := a.cfgm.Reload(context.Background())
	if err == nil || changed {
		t.Fatalf("Reload of empty polls = %v, %v", changed, err)
	}
	if _, ok := a.Poll(context.Background(), "api"); !ok {
		t.Fatal("rejected config still removed the poll")
	}
}

func TestResolvePollDefaults(t *testing.T) {
	tests := []struct {
		name        string
		in          config.PollConfig
		wantIv      time.Duration
		wantTimeout time.Duration
		wantMethod  string
	}{
		{"empty interval", config.PollConfig{Name: "a", URL: "http://x"}, poll.DefaultInterval, poll.DefaultInterval, "GET"},
		{"short interval caps timeout", config.PollConfig{Name: "a", URL: "http://x", Interval: "2s"}, 2 * time.Second, 2 * time.Second, "GET"},
		{"long interval", config.PollConfig{Name: "a", URL: "http://x", Interval: "@every 1m", Method: "head"}, time.Minute, 10 * time.Second, "HEAD"},
		{"explicit timeout", config.PollConfig{Name: "a", URL: "http://x", Interval: "00:05", Timeout: "30s"}, 5 * time.Minute, 30 * time.Second, "GET"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rp, err := resolvePoll(tt.in)
			if err != nil {
				t.Fatalf("resolvePoll: %v", err)
			}
			if rp.interval != tt.wantIv || rp.target.Timeout != tt.wantTimeout || rp.target.Method != tt.wantMethod {
				t.Fatalf("resolved = %+v", rp)
			}
		})
	}
	if _, err := resolvePoll(config.PollConfig{Name: "a", Interval: "0 * * * *"}); err == nil {
		t.Fatal("calendar cron accepted")
	}
}

func TestPoolTarget(t *testing.T) {
	cfg := &config.Config{Pool: config.PoolConfig{Workers: 2}}
	if got := poolTarget(cfg, 1); got != 2 {
		t.Fatalf("poolTarget = %d", got)
	}
	if got := poolTarget(cfg, 5); got != 5 {
		t.Fatalf("poolTarget below poll count = %d", got)
	}
}
