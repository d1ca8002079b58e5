package config

import "strings"

type Config struct {
	Logging LoggingConfig  `json:"logging"`
	Pool    PoolConfig     `json:"pool,omitempty"`
	Storage *StorageConfig `json:"storage,omitempty"`
	HTTP    HTTPConfig     `json:"http,omitempty"`
	NATS    *NATSConfig    `json:"nats,omitempty"`
	Polls   []PollConfig   `json:"polls"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// PoolConfig sizes the worker pool shared by all polls. Workers <= 0 means
// one per CPU; the pool still grows to at least the number of polls.
type PoolConfig struct {
	Workers int `json:"workers,omitempty"`
}

// StorageConfig controls the optional result store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/pollkit.db", "bucket": "results" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	Bucket      string `json:"bucket,omitempty"`       // default: "results"
}

// HTTPConfig controls the status/metrics endpoint.
//
// Prefer binding to localhost; the control routes are unauthenticated.
type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default: "127.0.0.1:9464"
	Pprof   bool   `json:"pprof,omitempty"` // mount /debug/pprof
}

type NATSConfig struct {
	URL           string `json:"url"`
	SubjectPrefix string `json:"subject_prefix,omitempty"` // default: "pollkit"
}

// PollConfig describes one HTTP poll.
//
// Interval accepts Go durations ("10s"), "HH:MM", "every:5m" and cron-style
// "@every 30s". Enabled is a pointer so an omitted field means true.
type PollConfig struct {
	Name     string   `json:"name"`
	URL      string   `json:"url"`
	Method   string   `json:"method,omitempty"`  // default: GET
	Interval string   `json:"interval"`          // default: 5s
	Timeout  string   `json:"timeout,omitempty"` // default: min(interval, 10s)
	Enabled  *bool    `json:"enabled,omitempty"`
	Sinks    []string `json:"sinks,omitempty"` // log | store | nats; default: [log]
}

func (p PollConfig) IsEnabled() bool { return p.Enabled == nil || *p.Enabled }

// SameTarget reports whether p and o poll the same endpoint the same way.
// Changing it needs a new respondent, not just a new interval.
func (p PollConfig) SameTarget(o PollConfig) bool {
	return strings.TrimSpace(p.URL) == strings.TrimSpace(o.URL) &&
		p.EffectiveMethod() == o.EffectiveMethod() &&
		strings.TrimSpace(p.Timeout) == strings.TrimSpace(o.Timeout) &&
		strings.Join(p.Sinks, ",") == strings.Join(o.Sinks, ",")
}

func (p PollConfig) EffectiveMethod() string {
	m := strings.ToUpper(strings.TrimSpace(p.Method))
	if m == "" {
		return "GET"
	}
	return m
}

// EffectiveSinks returns the normalized sink list.
func (p PollConfig) EffectiveSinks() []string {
	if len(p.Sinks) == 0 {
		return []string{"log"}
	}
	out := make([]string, 0, len(p.Sinks))
	for _, s := range p.Sinks {
		out = append(out, strings.ToLower(strings.TrimSpace(s)))
	}
	return out
}
