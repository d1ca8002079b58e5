package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"pollkit/internal/probe"
	"pollkit/internal/storage"
	logx "pollkit/pkg/logx"
)

func TestFanout(t *testing.T) {
	if Fanout[int]() != nil || Fanout[int](nil, nil) != nil {
		t.Fatal("empty fanout should be nil")
	}
	var got []string
	s := Fanout(
		func(v int) { got = append(got, "a") },
		nil,
		func(v int) { got = append(got, "b") },
	)
	s(1)
	if strings.Join(got, "") != "ab" {
		t.Fatalf("order = %v", got)
	}
}

func TestLogLevels(t *testing.T) {
	var buf bytes.Buffer
	s := Log(logx.NewWriter(&buf, "debug"))

	s(probe.Result{Poll: "up", OK: true, Status: 200})
	s(probe.Result{Poll: "down", Status: 503})
	s(probe.Result{Poll: "err", Err: "dial tcp: refused"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d: %s", len(lines), buf.String())
	}
	want := []struct{ level, poll string }{{"debug", "up"}, {"warn", "down"}, {"warn", "err"}}
	for i, line := range lines {
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("line %d: %v", i, err)
		}
		if m["level"] != want[i].level || m["poll"] != want[i].poll {
			t.Fatalf("line %d = %v", i, m)
		}
	}
}

func TestStoreKeepsLatest(t *testing.T) {
	db, err := storage.Open(storage.Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	tb, _ := storage.OpenTyped[probe.Result](db, "results")

	s := Store(tb, func(r probe.Result) string { return r.Poll }, logx.Nop())
	s(probe.Result{Poll: "a", Seq: 1})
	s(probe.Result{Poll: "a", Seq: 2})
	s(probe.Result{Poll: "b", Seq: 1})

	ctx := context.Background()
	r, ok, err := tb.Get(ctx, "a")
	if err != nil || !ok || r.Seq != 2 {
		t.Fatalf("a = %+v, %v, %v", r, ok, err)
	}
	keys, _ := tb.Keys(ctx)
	if len(keys) != 2 {
		t.Fatalf("keys = %v", keys)
	}
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs map[string][][]byte
	err  error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.msgs == nil {
		f.msgs = map[string][][]byte{}
	}
	f.msgs[subject] = append(f.msgs[subject], data)
	return nil
}

func TestNATSPublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	s := NATS(pub, func(r probe.Result) string { return Subject("pk", r.Poll) }, logx.Nop())
	s(probe.Result{Poll: "api", Status: 200, OK: true})

	msgs := pub.msgs["pk.poll.api"]
	if len(msgs) != 1 {
		t.Fatalf("msgs = %v", pub.msgs)
	}
	var r probe.Result
	if err := json.Unmarshal(msgs[0], &r); err != nil || r.Status != 200 {
		t.Fatalf("payload = %s, %v", msgs[0], err)
	}
}

func TestNATSPublishErrorIsLogged(t *testing.T) {
	var buf bytes.Buffer
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	s := NATS(pub, func(int) string { return "x" }, logx.NewWriter(&buf, "debug"))
	s(1)
	if !strings.Contains(buf.String(), "nats publish failed") {
		t.Fatalf("log = %s", buf.String())
	}
}

func TestSubject(t *testing.T) {
	tests := []struct{ prefix, name, want string }{
		{"pollkit", "api", "pollkit.poll.api"},
		{"", "api", "pollkit.poll.api"},
		{"a.b.", "x.y", "a.b.poll.x_y"},
		{"p", "my poll>*", "p.poll.my_poll__"},
		{"p", "  ", "p.poll._"},
	}
	for _, tt := range tests {
		if got := Subject(tt.prefix, tt.name); got != tt.want {
			t.Fatalf("Subject(%q, %q) = %q, want %q", tt.prefix, tt.name, got, tt.want)
		}
	}
}
