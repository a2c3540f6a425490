package supervisor

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mudler/xlog"
)

// ConfigWatcher reports changes to the backend env file. Bursts of events
// from editors writing through temp files collapse into one callback.
type ConfigWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	debounce time.Duration
	onChange func(path string)

	mu      sync.Mutex
	timer   *time.Timer
	closed  bool
	stopped chan struct{}
}

// WatchConfig watches the directory holding path, since the file itself
// may not exist yet or may be replaced rather than written.
func WatchConfig(path string, debounce time.Duration, onChange func(path string)) (*ConfigWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("unable to create a watcher for the backend config: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, fmt.Errorf("unable to establish watch on %s: %w", filepath.Dir(path), err)
	}

	cw := &ConfigWatcher{
		watcher:  w,
		path:     filepath.Clean(path),
		debounce: debounce,
		onChange: onChange,
		stopped:  make(chan struct{}),
	}
	go cw.run()
	return cw, nil
}

func (c *ConfigWatcher) run() {
	defer close(c.stopped)
	for {
		select {
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != c.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				xlog.Debug("backend config changed", "file", event.Name, "op", event.Op.String())
				c.schedule()
			}
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			xlog.Error("backend config watcher error received", "error", err)
		}
	}
}

func (c *ConfigWatcher) schedule() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.debounce, func() {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if !closed {
			c.onChange(c.path)
		}
	})
}

func (c *ConfigWatcher) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
	}
	c.mu.Unlock()

	err := c.watcher.Close()
	<-c.stopped
	return err
}
