// Package probe turns HTTP endpoints into poll respondents.
package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"pollkit/internal/poll"
)

const maxBodyBytes = 1 << 20

// DefaultTimeout caps a check when the target sets none.
const DefaultTimeout = 10 * time.Second

// Target is one endpoint to check.
type Target struct {
	Name    string
	URL     string
	Method  string
	Timeout time.Duration
}

// Result is the value a probe respondent produces each iteration.
type Result struct {
	Poll      string        `json:"poll"`
	URL       string        `json:"url"`
	Method    string        `json:"method"`
	Seq       uint64        `json:"seq"`
	Status    int           `json:"status,omitempty"`
	OK        bool          `json:"ok"`
	Bytes     int64         `json:"bytes"`
	Latency   time.Duration `json:"latency"`
	CheckedAt time.Time     `json:"checked_at"`
	Err       string        `json:"err,omitempty"`
}

// Client performs checks. Timeouts are per request via context; the
// underlying http.Client has none.
type Client struct {
	hc *http.Client
}

func NewClient() *Client {
	return &Client{hc: &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			MaxConnsPerHost:     10,
			IdleConnTimeout:     60 * time.Second,
		},
	}}
}

// WithHTTPClient uses hc for requests (tests pass an httptest client).
func WithHTTPClient(hc *http.Client) *Client { return &Client{hc: hc} }

// Check performs one request. Failures are reported in Result.Err; a
// response with a status outside 2xx/3xx is not OK but has no Err.
func (c *Client) Check(ctx context.Context, t Target) Result {
	method := strings.ToUpper(strings.TrimSpace(t.Method))
	if method == "" {
		method = http.MethodGet
	}
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	res := Result{Poll: t.Name, URL: t.URL, Method: method, CheckedAt: time.Now()}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, t.URL, nil)
	if err != nil {
		res.Err = fmt.Sprintf("build request: %v", err)
		return res
	}
	req.Header.Set("User-Agent", "pollkit/1")

	resp, err := c.hc.Do(req)
	if err != nil {
		res.Latency = time.Since(res.CheckedAt)
		res.Err = err.Error()
		return res
	}
	defer func() { _ = resp.Body.Close() }()

	n, err := io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	res.Latency = time.Since(res.CheckedAt)
	res.Status = resp.StatusCode
	res.Bytes = n
	if err != nil {
		res.Err = fmt.Sprintf("read body: %v", err)
		return res
	}
	res.OK = resp.StatusCode >= 200 && resp.StatusCode < 400
	return res
}

// Respondent returns a poll source that checks t each iteration. ctx bounds
// every request, so cancelling it fails in-flight checks fast on shutdown.
func (c *Client) Respondent(ctx context.Context, t Target) poll.Source[Result] {
	var seq atomic.Uint64
	return func() Result {
		r := c.Check(ctx, t)
		r.Seq = seq.Add(1)
		return r
	}
}
