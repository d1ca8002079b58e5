package app

import (
	"errors"
	"sort"
	"strings"

	"pollkit/internal/config"
	"pollkit/internal/poll"
	"pollkit/internal/probe"
	"pollkit/internal/sink"
	logx "pollkit/pkg/logx"
)

// applyPolls brings the manager in line with want. The diff base is the set
// the app currently runs, so polls removed over HTTP come back on the next
// reload that still lists them.
func (a *App) applyPolls(want []config.PollConfig) error {
	d := config.DiffPolls(a.currentPolls(), want)
	if d.Empty() {
		return nil
	}
	var errs []error

	for _, name := range d.Removed {
		if a.removeByName(name) {
			a.log.Info("poll removed", logx.String("poll", name))
		}
	}
	for _, p := range d.Added {
		rp, err := resolvePoll(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		id := a.mgr.AddPoll(a.pollConfig(rp))
		a.mu.Lock()
		a.polls[rp.target.Name] = &namedPoll{id: id, rp: rp}
		a.names[id] = rp.target.Name
		a.mu.Unlock()
		a.log.Info("poll added",
			logx.String("poll", rp.target.Name),
			logx.Uint64("id", uint64(id)),
			logx.Duration("interval", rp.interval),
		)
	}
	for _, p := range d.Replaced {
		rp, err := resolvePoll(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		np, ok := a.lookup(rp.target.Name)
		if !ok {
			continue
		}
		a.mgr.ReplacePollConfig(np.id, a.pollConfig(rp))
		a.setResolved(rp)
		a.log.Info("poll replaced", logx.String("poll", rp.target.Name), logx.String("url", rp.target.URL))
	}
	for _, p := range d.Updated {
		rp, err := resolvePoll(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		np, ok := a.lookup(rp.target.Name)
		if !ok {
			continue
		}
		upd := poll.Config[probe.Result]{
			Enabled:  poll.Ptr(rp.cfg.IsEnabled()),
			Interval: poll.Ptr(rp.interval),
		}
		// A derived timeout follows the interval; that needs a fresh respondent.
		if rp.target != np.rp.target {
			upd.Respondent = a.client.Respondent(a.sup.Context(), rp.target)
		}
		a.mgr.UpdatePoll(np.id, upd)
		a.setResolved(rp)
		a.log.Info("poll updated",
			logx.String("poll", rp.target.Name),
			logx.Bool("enabled", rp.cfg.IsEnabled()),
			logx.Duration("interval", rp.interval),
		)
	}
	return errors.Join(errs...)
}

// pollConfig builds a full manager config for rp. Every field is present,
// so it serves both AddPoll and ReplacePollConfig.
func (a *App) pollConfig(rp resolvedPoll) poll.Config[probe.Result] {
	return poll.Config[probe.Result]{
		Enabled:    poll.Ptr(rp.cfg.IsEnabled()),
		Interval:   poll.Ptr(rp.interval),
		Callback:   a.callback(rp.cfg),
		Respondent: a.client.Respondent(a.sup.Context(), rp.target),
	}
}

// callback fans a result out to metrics plus the poll's configured sinks.
// Sinks whose backend is not running are skipped with a warning.
func (a *App) callback(p config.PollConfig) poll.Sink[probe.Result] {
	sinks := []poll.Sink[probe.Result]{a.metrics.ObserveProbe}
	for _, s := range p.EffectiveSinks() {
		switch s {
		case "log":
			sinks = append(sinks, sink.Log(a.pollLog))
		case "store":
			if a.results == nil {
				a.log.Warn("store sink ignored: storage disabled", logx.String("poll", p.Name))
				continue
			}
			sinks = append(sinks, sink.Store(a.results, resultKey, a.pollLog))
		case "nats":
			if a.nc == nil {
				a.log.Warn("nats sink ignored: not connected", logx.String("poll", p.Name))
				continue
			}
			prefix := a.natsPrefix
			sinks = append(sinks, sink.NATS(a.nc, func(r probe.Result) string {
				return sink.Subject(prefix, r.Poll)
			}, a.pollLog))
		}
	}
	return sink.Fanout(sinks...)
}

func resultKey(r probe.Result) string { return r.Poll }

func (a *App) currentPolls() []config.PollConfig {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]config.PollConfig, 0, len(a.polls))
	for _, np := range a.polls {
		out = append(out, np.rp.cfg)
	}
	return out
}

func (a *App) lookup(name string) (namedPoll, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	np, ok := a.polls[strings.TrimSpace(name)]
	if !ok {
		return namedPoll{}, false
	}
	return *np, true
}

func (a *App) setResolved(rp resolvedPoll) {
	a.mu.Lock()
	if np, ok := a.polls[rp.target.Name]; ok {
		np.rp = rp
	}
	a.mu.Unlock()
}

func (a *App) removeByName(name string) bool {
	name = strings.TrimSpace(name)
	a.mu.Lock()
	np, ok := a.polls[name]
	if ok {
		delete(a.polls, name)
		delete(a.names, np.id)
	}
	a.mu.Unlock()
	if !ok {
		return false
	}
	a.mgr.RemovePoll(np.id)
	a.metrics.Forget(name)
	return true
}

func (a *App) nameOf(id poll.ID) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	name, ok := a.names[id]
	return name, ok
}

func (a *App) sortedNames() []string {
	a.mu.RLock()
	names := make([]string, 0, len(a.polls))
	for name := range a.polls {
		names = append(names, name)
	}
	a.mu.RUnlock()
	sort.Strings(names)
	return names
}
