package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

var reHHMM = regexp.MustCompile(`^(\d{1,3}):(\d{2})$`)

// ParseInterval parses a poll interval. An empty string returns 0, meaning
// "use the manager default".
//
// Supported forms:
//   - Go duration: "500ms", "10s", "2h30m"
//   - HH:MM: "00:05" (5 minutes)
//   - cron constant delay: "@every 30s"
//
// "interval:" and "every:" prefixes are accepted and ignored. Calendar cron
// expressions are rejected: a poll sleeps a fixed delay between iterations.
func ParseInterval(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	low := strings.ToLower(s)
	for _, p := range []string{"interval:", "every:"} {
		if strings.HasPrefix(low, p) {
			s = strings.TrimSpace(s[len(p):])
			if s == "" {
				return 0, fmt.Errorf("interval required after %q", p)
			}
			break
		}
	}
	if s == "" {
		return 0, nil
	}

	var d time.Duration
	switch {
	case strings.HasPrefix(s, "@"):
		sched, err := cron.ParseStandard(s)
		if err != nil {
			return 0, fmt.Errorf("invalid interval %q: %w", raw, err)
		}
		cd, ok := sched.(cron.ConstantDelaySchedule)
		if !ok {
			return 0, fmt.Errorf("invalid interval %q: only @every schedules are supported", raw)
		}
		d = cd.Delay
	case reHHMM.MatchString(s):
		m := reHHMM.FindStringSubmatch(s)
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return 0, fmt.Errorf("invalid minutes in %q", raw)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	default:
		var err error
		d, err = time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid interval %q (use a duration like '30s', HH:MM like '00:05', or '@every 1m')", raw)
		}
	}
	if d <= 0 {
		return 0, fmt.Errorf("interval %q must be > 0", raw)
	}
	return d, nil
}
