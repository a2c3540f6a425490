package host

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/mudler/xlog"

	"github.com/stockroom-pos/desktop/core/bridge"
	"github.com/stockroom-pos/desktop/core/config"
	"github.com/stockroom-pos/desktop/core/supervisor"
	"github.com/stockroom-pos/desktop/core/updater"
	"github.com/stockroom-pos/desktop/core/window"
	"github.com/stockroom-pos/desktop/pkg/instance"
)

var ErrAlreadyLaunched = errors.New("app was already launched")

const (
	crashWindow    = 10 * time.Second
	configDebounce = 500 * time.Millisecond
)

// Controller owns the lifecycle of the desktop app: backend, window,
// updates and teardown.
type Controller struct {
	cfg       *config.ApplicationConfig
	deps      Deps
	windows   *window.Manager
	publisher *bridge.Publisher
	service   *bridge.Service

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	settings      config.Settings
	launched      bool
	windowAllowed bool
	quitting      bool
	exitCode      int
	crashes       int
	lastCrash     time.Time
	unsubscribe   []func()
	watcher       *supervisor.ConfigWatcher

	shutdownOnce sync.Once
}

func NewController(cfg *config.ApplicationConfig, deps Deps) *Controller {
	if deps.Relaunch == nil {
		deps.Relaunch = relaunch
	}
	ctx, cancel := context.WithCancel(cfg.Context)

	c := &Controller{
		cfg:       cfg,
		deps:      deps,
		ctx:       ctx,
		cancel:    cancel,
		publisher: bridge.NewPublisher(deps.Shell),
	}

	c.settings = c.loadSettings()
	spec := window.SpecFromConfig(cfg)
	if w := c.settings.Window.Width; w > 0 {
		spec.Width = max(w, spec.MinWidth)
	}
	if h := c.settings.Window.Height; h > 0 {
		spec.Height = max(h, spec.MinHeight)
	}
	c.windows = window.NewManager(deps.Windows, spec,
		window.WithShowFallback(cfg.Window.ShowFallback),
		window.OnResize(c.rememberWindowSize),
		window.OnAllClosed(c.OnAllWindowsClosed),
	)

	bcfg := bridge.Config{
		Context:      ctx,
		AppPath:      cfg.InstallDir(),
		Print:        deps.Print,
		PrintTimeout: cfg.PrintTimeout,
		Publisher:    c.publisher,
		Quit:         c.Quit,
	}
	if b := c.backend(); b != nil {
		bcfg.Backend = b
	}
	if deps.Updates != nil {
		bcfg.Updates = deps.Updates
	}
	c.service = bridge.NewService(bcfg)
	return c
}

// Bridge is the service bound to the renderer.
func (c *Controller) Bridge() *bridge.Service {
	return c.service
}

// Launch brings the app up: leftovers of earlier updates are removed, the
// backend is started and awaited, then the window is created and update
// checks begin. A backend that fails to start quits the app.
func (c *Controller) Launch(ctx context.Context) error {
	c.mu.Lock()
	if c.launched {
		c.mu.Unlock()
		return ErrAlreadyLaunched
	}
	c.launched = true
	c.mu.Unlock()

	xlog.Info("launching", "app", c.cfg.AppName, "version", c.cfg.Version, "mode", c.cfg.Mode())

	if c.deps.Updates != nil {
		c.deps.Updates.Cleanup()
	}

	if b := c.backend(); b != nil {
		c.track(b.OnExit(c.onBackendExit))
		if err := b.Start(ctx); err != nil {
			if c.isQuitting() {
				return nil
			}
			xlog.Error("backend failed to start", "error", err, "entry", c.cfg.BackendEntryPath())
			c.publisher.BackendStatus(b.Status())
			c.fail()
			return err
		}
		c.publisher.BackendStatus(b.Status())
	} else {
		xlog.Info("development mode, the backend is expected to be running already", "health", c.cfg.BackendHealthURL)
	}

	c.mu.Lock()
	if c.quitting {
		c.mu.Unlock()
		return nil
	}
	c.windowAllowed = true
	c.mu.Unlock()

	if _, err := c.windows.Create(); err != nil {
		xlog.Error("failed to create main window", "error", err)
		c.fail()
		return err
	}

	if u := c.deps.Updates; u != nil {
		c.track(c.publisher.ForwardUpdates(u.Subscribe))
		c.track(u.Subscribe(c.rememberUpdateCheck))
		if err := u.Start(c.ctx); err != nil {
			xlog.Warn("update checks disabled", "error", err)
		}
	}

	c.watchBackendConfig()
	return nil
}

// OnSecondInstance brings the existing window forward when the app is
// launched again.
func (c *Controller) OnSecondInstance(inv instance.Invocation) {
	xlog.Info("second instance launched", "id", inv.ID, "args", inv.Args, "cwd", inv.WorkingDir)
	c.activate()
}

// OnActivate handles the dock icon being clicked.
func (c *Controller) OnActivate() {
	c.activate()
}

// OnAllWindowsClosed quits everywhere but macOS, where apps keep running
// without windows.
func (c *Controller) OnAllWindowsClosed() {
	if c.cfg.GOOS == "darwin" {
		xlog.Debug("last window closed, staying active")
		return
	}
	xlog.Info("last window closed, quitting")
	go c.Quit()
}

// Quit tears the app down and ends the native event loop.
func (c *Controller) Quit() {
	c.Shutdown()
	if c.deps.Shell != nil {
		c.deps.Shell.Quit()
	}
}

// Shutdown releases everything the controller started. Only the first
// call does anything.
func (c *Controller) Shutdown() {
	c.shutdownOnce.Do(c.shutdown)
}

func (c *Controller) ExitCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitCode
}

func (c *Controller) shutdown() {
	c.mu.Lock()
	c.quitting = true
	watcher := c.watcher
	unsubscribe := c.unsubscribe
	c.watcher = nil
	c.unsubscribe = nil
	c.mu.Unlock()

	xlog.Info("shutting down")
	c.cancel()

	if watcher != nil {
		if err := watcher.Close(); err != nil {
			xlog.Warn("failed to stop config watcher", "error", err)
		}
	}
	if c.deps.Updates != nil {
		c.deps.Updates.Stop()
	}
	for _, fn := range unsubscribe {
		fn()
	}
	if b := c.backend(); b != nil {
		if err := b.Stop(); err != nil {
			xlog.Error("failed to stop backend", "error", err)
		}
	}

	c.saveSettings()

	restart := false
	if u := c.deps.Updates; u != nil {
		requested := u.InstallRequested()
		applied, err := u.ApplyPending()
		switch {
		case err != nil:
			xlog.Error("failed to install update", "error", err)
		case applied:
			xlog.Info("update installed")
			restart = requested
		}
	}

	if c.deps.Lock != nil {
		if err := c.deps.Lock.Release(); err != nil {
			xlog.Warn("failed to release instance lock", "error", err)
		}
	}

	if restart {
		xlog.Info("starting the updated version", "path", c.cfg.UpdateTarget)
		if err := c.deps.Relaunch(c.cfg.UpdateTarget, os.Args[1:]); err != nil {
			xlog.Error("failed to start the updated version", "error", err)
		}
	}
	xlog.Info("shutdown complete")
}

// backend is nil unless the app is packaged.
func (c *Controller) backend() Backend {
	if !c.cfg.Packaged {
		return nil
	}
	return c.deps.Backend
}

func (c *Controller) activate() {
	c.mu.Lock()
	allowed := c.windowAllowed && !c.quitting
	c.mu.Unlock()
	if !allowed {
		return
	}
	if err := c.windows.Activate(); err != nil {
		xlog.Error("failed to activate window", "error", err)
	}
}

func (c *Controller) fail() {
	c.mu.Lock()
	c.exitCode = 1
	c.mu.Unlock()
	c.Quit()
}

func (c *Controller) isQuitting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.quitting
}

func (c *Controller) track(unsubscribe func()) {
	c.mu.Lock()
	c.unsubscribe = append(c.unsubscribe, unsubscribe)
	c.mu.Unlock()
}

func (c *Controller) watchBackendConfig() {
	b := c.backend()
	if b == nil || !c.cfg.WatchBackendConfig || b.ConfigPath() == "" {
		return
	}
	w, err := supervisor.WatchConfig(b.ConfigPath(), configDebounce, c.onBackendConfigChanged)
	if err != nil {
		xlog.Warn("not watching backend config", "path", b.ConfigPath(), "error", err)
		return
	}
	c.mu.Lock()
	if c.quitting {
		c.mu.Unlock()
		w.Close()
		return
	}
	c.watcher = w
	c.mu.Unlock()
}

func (c *Controller) onBackendConfigChanged(path string) {
	if c.isQuitting() {
		return
	}
	b := c.backend()
	xlog.Info("backend config changed", "path", path)

	restarted := false
	if c.cfg.RestartOnConfigChange {
		if err := b.Restart(c.ctx); err != nil {
			xlog.Error("failed to restart backend after config change", "error", err)
		} else {
			restarted = true
		}
		c.publisher.BackendStatus(b.Status())
	}
	c.publisher.ConfigChanged(path, restarted)
}

func (c *Controller) rememberWindowSize(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	c.mu.Lock()
	c.settings.Window = config.WindowSettings{Width: width, Height: height}
	c.mu.Unlock()
}

func (c *Controller) rememberUpdateCheck(s updater.Session) {
	if s.Phase != updater.PhaseAvailable && s.Phase != updater.PhaseNotAvailable {
		return
	}
	c.mu.Lock()
	c.settings.LastUpdateCheck = s.At
	if s.Release != nil {
		c.settings.LastVersion = s.Release.Version
	}
	c.mu.Unlock()
}

func (c *Controller) loadSettings() config.Settings {
	s, err := config.LoadSettings(c.cfg.SettingsPath(), config.Settings{})
	if err != nil {
		xlog.Warn("ignoring stored settings", "path", c.cfg.SettingsPath(), "error", err)
	}
	return s
}

func (c *Controller) saveSettings() {
	c.mu.Lock()
	s := c.settings
	c.mu.Unlock()
	if err := config.SaveSettings(c.cfg.SettingsPath(), s); err != nil {
		xlog.Warn("failed to save settings", "error", err)
	}
}
