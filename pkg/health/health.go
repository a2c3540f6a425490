package health

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/mudler/xlog"
)

const (
	DefaultURL      = "http://127.0.0.1:3000/api/health"
	DefaultInterval = time.Second
	DefaultAttempts = 30
)

var ErrTimeout = errors.New("backend failed to start within timeout")

// Checker polls an HTTP endpoint until it answers or the attempt budget
// runs out.
type Checker struct {
	Client   *http.Client
	URL      string
	Interval time.Duration
	Attempts int
}

func NewChecker(url string, interval time.Duration, attempts int) *Checker {
	if url == "" {
		url = DefaultURL
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	return &Checker{
		Client:   &http.Client{Timeout: interval},
		URL:      url,
		Interval: interval,
		Attempts: attempts,
	}
}

// Probe sends a single request. 200 and 404 both count as ready since
// older backends do not expose the health route.
func (c *Checker) Probe(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return false, err
	}
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, err
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNotFound, nil
}

// WaitReady waits Interval before each probe and returns the number of the
// attempt that succeeded. Exactly Attempts probes are made before giving up
// with ErrTimeout.
func (c *Checker) WaitReady(ctx context.Context) (int, error) {
	timer := time.NewTimer(c.Interval)
	defer timer.Stop()

	for attempt := 1; attempt <= c.Attempts; attempt++ {
		select {
		case <-ctx.Done():
			return attempt - 1, ctx.Err()
		case <-timer.C:
		}

		ready, err := c.Probe(ctx)
		if ctx.Err() != nil {
			return attempt, ctx.Err()
		}
		if ready {
			return attempt, nil
		}
		xlog.Debug("backend not ready yet", "attempt", attempt, "of", c.Attempts, "error", err)
		timer.Reset(c.Interval)
	}

	return c.Attempts, ErrTimeout
}
