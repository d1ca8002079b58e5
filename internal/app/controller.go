package app

import (
	"context"

	"pollkit/internal/httpapi"
	"pollkit/internal/poll"
	"pollkit/internal/probe"
	logx "pollkit/pkg/logx"
)

var _ httpapi.Controller = (*App)(nil)

func (a *App) Snapshot() poll.Snapshot { return a.mgr.Snapshot() }

func (a *App) Polls(ctx context.Context) []PollView {
	names := a.sortedNames()
	out := make([]PollView, 0, len(names))
	for _, name := range names {
		if v, ok := a.Poll(ctx, name); ok {
			out = append(out, v)
		}
	}
	return out
}

func (a *App) Poll(ctx context.Context, name string) (PollView, bool) {
	np, ok := a.lookup(name)
	if !ok {
		return PollView{}, false
	}
	info, ok := a.mgr.Info(np.id)
	if !ok {
		return PollView{}, false
	}
	v := PollView{Name: np.rp.target.Name, URL: np.rp.target.URL, Info: info}
	if a.results != nil {
		last, found, err := a.results.Get(ctx, np.rp.target.Name)
		if err != nil {
			a.log.Debug("last result lookup failed", logx.String("poll", name), logx.Err(err))
		} else if found {
			v.Last = &last
		}
	}
	return v, true
}

// SetEnabled toggles a poll until the next config change touching it.
func (a *App) SetEnabled(name string, enabled bool) bool {
	np, ok := a.lookup(name)
	if !ok {
		return false
	}
	a.mgr.UpdatePoll(np.id, poll.Config[probe.Result]{Enabled: poll.Ptr(enabled)})
	a.log.Info("poll toggled", logx.String("poll", np.rp.target.Name), logx.Bool("enabled", enabled))
	return true
}

func (a *App) Remove(name string) bool {
	if !a.removeByName(name) {
		return false
	}
	a.log.Info("poll removed", logx.String("poll", name), logx.String("via", "api"))
	return true
}

func (a *App) StartPolling() {
	a.mgr.StartPolling()
	a.log.Info("polling started")
}

func (a *App) StopPolling() {
	a.mgr.StopPolling()
	a.log.Info("polling stopped")
}

type PollView = httpapi.PollView
