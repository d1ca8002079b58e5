package sink

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"pollkit/internal/poll"
	logx "pollkit/pkg/logx"
)

// Publisher is the part of *nats.Conn the NATS sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// ConnectNATS dials url and keeps reconnecting for the life of the process.
func ConnectNATS(url, name string, log logx.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", logx.Err(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", logx.String("url", c.ConnectedUrlRedacted()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	return nc, nil
}

// Subject returns "<prefix>.poll.<name>" with name reduced to a single
// subject token.
func Subject(prefix, name string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "pollkit"
	}
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
	if token == "" {
		token = "_"
	}
	return prefix + ".poll." + token
}

// NATS publishes each value as JSON to subject(v).
func NATS[T any](pub Publisher, subject func(T) string, log logx.Logger) poll.Sink[T] {
	return func(v T) {
		data, err := json.Marshal(v)
		if err != nil {
			log.Warn("nats encode failed", logx.Err(err))
			return
		}
		subj := subject(v)
		if err := pub.Publish(subj, data); err != nil {
			log.Warn("nats publish failed", logx.String("subject", subj), logx.Err(err))
		}
	}
}
