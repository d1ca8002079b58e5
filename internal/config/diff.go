package config

import (
	"reflect"
	"strings"

	logx "pollkit/pkg/logx"
)

// PollDiff is the set of poll changes between two configs, keyed by name.
type PollDiff struct {
	Added    []PollConfig
	Removed  []string
	Replaced []PollConfig // target changed: new respondent/callback needed
	Updated  []PollConfig // only interval and/or enabled changed
}

func (d PollDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Replaced) == 0 && len(d.Updated) == 0
}

// DiffPolls compares poll lists by name. Order follows newPolls for
// Added/Replaced/Updated and oldPolls for Removed.
func DiffPolls(oldPolls, newPolls []PollConfig) PollDiff {
	prev := make(map[string]PollConfig, len(oldPolls))
	for _, p := range oldPolls {
		prev[strings.TrimSpace(p.Name)] = p
	}

	var d PollDiff
	next := make(map[string]bool, len(newPolls))
	for _, p := range newPolls {
		name := strings.TrimSpace(p.Name)
		next[name] = true
		o, ok := prev[name]
		switch {
		case !ok:
			d.Added = append(d.Added, p)
		case !o.SameTarget(p):
			d.Replaced = append(d.Replaced, p)
		case strings.TrimSpace(o.Interval) != strings.TrimSpace(p.Interval) || o.IsEnabled() != p.IsEnabled():
			d.Updated = append(d.Updated, p)
		}
	}
	for _, p := range oldPolls {
		if name := strings.TrimSpace(p.Name); !next[name] {
			d.Removed = append(d.Removed, name)
		}
	}
	return d
}

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging. NATS URLs may carry credentials and are
// never logged.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.json", newCfg.Logging.JSON),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if oldCfg.Pool != newCfg.Pool {
		changed = append(changed, "pool")
		attrs = append(attrs, logx.Int("pool.workers", newCfg.Pool.Workers))
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		if newCfg.Storage != nil {
			attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
		}
	}
	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs, logx.Bool("http.enabled", newCfg.HTTP.Enabled), logx.String("http.addr", newCfg.HTTP.Addr))
	}
	if !reflect.DeepEqual(oldCfg.NATS, newCfg.NATS) {
		changed = append(changed, "nats")
		attrs = append(attrs, logx.Bool("nats.url_set", newCfg.NATS != nil && strings.TrimSpace(newCfg.NATS.URL) != ""))
	}
	if d := DiffPolls(oldCfg.Polls, newCfg.Polls); !d.Empty() {
		changed = append(changed, "polls")
		attrs = append(attrs,
			logx.Int("polls.added", len(d.Added)),
			logx.Int("polls.removed", len(d.Removed)),
			logx.Int("polls.replaced", len(d.Replaced)),
			logx.Int("polls.updated", len(d.Updated)),
		)
	}
	return changed, attrs
}
