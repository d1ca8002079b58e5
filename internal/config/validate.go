package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	logx "pollkit/pkg/logx"
)

var ErrNoPolls = errors.New("config: no polls defined")

var knownSinks = map[string]bool{"log": true, "store": true, "nats": true}

// Validate checks cfg and returns every problem found, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if lvl := strings.TrimSpace(cfg.Logging.Level); lvl != "" {
		if _, ok := logx.ParseLevel(lvl); !ok {
			add("logging.level: unknown level %q", lvl)
		}
	}
	if cfg.Pool.Workers < 0 {
		add("pool.workers: must be >= 0")
	}

	storeOn := false
	if st := cfg.Storage; st != nil {
		switch d := strings.ToLower(strings.TrimSpace(st.Driver)); d {
		case "", "none":
		case "memory", "mem":
			storeOn = true
		case "file", "sqlite", "sqlite3":
			storeOn = true
			if strings.TrimSpace(st.Path) == "" {
				add("storage.path: required for driver %q", d)
			}
		default:
			add("storage.driver: unknown driver %q", st.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", st.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	natsOn := cfg.NATS != nil && strings.TrimSpace(cfg.NATS.URL) != ""

	if cfg.HTTP.Enabled && strings.TrimSpace(cfg.HTTP.Addr) != "" {
		if _, _, err := net.SplitHostPort(cfg.HTTP.Addr); err != nil {
			add("http.addr: %v", err)
		}
	}

	if len(cfg.Polls) == 0 {
		errs = append(errs, ErrNoPolls)
	}
	seen := make(map[string]bool, len(cfg.Polls))
	for i, p := range cfg.Polls {
		at := fmt.Sprintf("polls[%d]", i)
		name := strings.TrimSpace(p.Name)
		if name == "" {
			add("%s.name: required", at)
		} else {
			at = fmt.Sprintf("polls[%s]", name)
			if seen[name] {
				add("%s: duplicate name", at)
			}
			seen[name] = true
		}

		u, err := url.Parse(strings.TrimSpace(p.URL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			add("%s.url: want an absolute http(s) URL, got %q", at, p.URL)
		}
		if _, err := ParseInterval(p.Interval); err != nil {
			add("%s.interval: %v", at, err)
		}
		if _, err := ParseDurationField(at+".timeout", p.Timeout); err != nil {
			errs = append(errs, err)
		}
		for _, s := range p.EffectiveSinks() {
			switch {
			case !knownSinks[s]:
				add("%s.sinks: unknown sink %q", at, s)
			case s == "store" && !storeOn:
				add("%s.sinks: store sink needs storage enabled", at)
			case s == "nats" && !natsOn:
				add("%s.sinks: nats sink needs nats.url", at)
			}
		}
	}
	return errors.Join(errs...)
}
