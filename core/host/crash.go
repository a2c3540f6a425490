package host

import (
	"errors"
	"time"

	"github.com/mudler/xlog"

	"github.com/stockroom-pos/desktop/core/config"
	"github.com/stockroom-pos/desktop/core/supervisor"
)

// onBackendExit applies the crash policy to a backend that went away on
// its own after it was ready.
func (c *Controller) onBackendExit(exit supervisor.Exit) {
	if c.isQuitting() {
		return
	}
	b := c.backend()
	xlog.Warn("backend exited unexpectedly", "code", exit.Code, "error", exit.Err, "policy", c.cfg.CrashPolicy)
	c.publisher.BackendStatus(b.Status())

	switch c.cfg.CrashPolicy {
	case config.CrashPolicyQuit:
		go c.fail()
	case config.CrashPolicyNotify:
		c.publisher.BackendExited(exit.Code)
	default:
		go c.restartAfterCrash(exit)
	}
}

func (c *Controller) restartAfterCrash(exit supervisor.Exit) {
	b := c.backend()

	c.mu.Lock()
	now := time.Now()
	if c.lastCrash.IsZero() || now.Sub(c.lastCrash) > crashWindow {
		c.crashes = 0
	}
	c.crashes++
	c.lastCrash = now
	n := c.crashes
	c.mu.Unlock()

	if n > c.cfg.MaxRestarts {
		xlog.Error("backend keeps crashing, giving up", "crashes", n, "code", exit.Code)
		c.publisher.BackendExited(exit.Code)
		c.fail()
		return
	}

	delay := time.Duration(n) * c.cfg.RestartDelay
	xlog.Info("restarting backend", "attempt", n, "delay", delay)
	select {
	case <-time.After(delay):
	case <-c.ctx.Done():
		return
	}

	// a renderer or config restart may have brought it back meanwhile
	if b.Status().Running {
		xlog.Info("backend already running again, skipping restart")
		return
	}
	if err := b.Start(c.ctx); err != nil {
		if errors.Is(err, supervisor.ErrStopped) || errors.Is(err, supervisor.ErrAlreadyRunning) || c.isQuitting() {
			return
		}
		xlog.Error("backend failed to restart", "error", err)
		c.publisher.BackendExited(exit.Code)
		c.fail()
		return
	}
	c.publisher.BackendStatus(b.Status())
}
