package app

import (
	"fmt"
	"strings"
	"time"

	"pollkit/internal/config"
	"pollkit/internal/poll"
	"pollkit/internal/pool"
	"pollkit/internal/probe"
	"pollkit/internal/storage"
	logx "pollkit/pkg/logx"
)

const defaultBucket = "results"

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

// mapStorageConfig returns the store config and bucket name. enabled is
// false when storage is absent or driver is "none".
func mapStorageConfig(cfg *config.Config) (sc storage.Config, bucket string, enabled bool, err error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, "", false, nil
	}
	s := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(s.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, "", false, nil
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", s.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, "", false, err
	}
	bucket = strings.TrimSpace(s.Bucket)
	if bucket == "" {
		bucket = defaultBucket
	}
	return storage.Config{Driver: driver, Path: strings.TrimSpace(s.Path), BusyTimeout: busy}, bucket, true, nil
}

// poolTarget is the configured worker count, never below the number of
// polls so every loop can hold a worker.
func poolTarget(cfg *config.Config, polls int) int {
	n := cfg.Pool.Workers
	if n <= 0 {
		n = pool.DefaultWorkers()
	}
	if polls > n {
		n = polls
	}
	return n
}

// resolvedPoll is a config poll resolved to what the manager and probe need.
type resolvedPoll struct {
	cfg      config.PollConfig
	interval time.Duration
	target   probe.Target
}

func resolvePoll(p config.PollConfig) (resolvedPoll, error) {
	name := strings.TrimSpace(p.Name)
	iv, err := config.ParseInterval(p.Interval)
	if err != nil {
		return resolvedPoll{}, fmt.Errorf("polls[%s].interval: %w", name, err)
	}
	if iv == 0 {
		iv = poll.DefaultInterval
	}
	// A check may not outlive the gap before the next one.
	def := probe.DefaultTimeout
	if iv < def {
		def = iv
	}
	timeout, err := config.ParseDurationOrDefault(fmt.Sprintf("polls[%s].timeout", name), p.Timeout, def)
	if err != nil {
		return resolvedPoll{}, err
	}
	return resolvedPoll{
		cfg:      p,
		interval: iv,
		target: probe.Target{
			Name:    name,
			URL:     strings.TrimSpace(p.URL),
			Method:  p.EffectiveMethod(),
			Timeout: timeout,
		},
	}, nil
}
