package updater

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mudler/xlog"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/stockroom-pos/desktop/core/events"
)

var (
	ErrBusy          = errors.New("an update is being downloaded or installed")
	ErrNoUpdate      = errors.New("no update available to download")
	ErrNotDownloaded = errors.New("no downloaded update to install")
)

// Pending is a downloaded and verified update waiting to be applied.
type Pending struct {
	Release *Release
	Path    string
}

// Coordinator runs update sessions. Nothing is downloaded unless Download is
// called and nothing is installed unless RequestInstall was called or the
// app quits with a pending update.
type Coordinator struct {
	source     Source
	current    string
	updatesDir string
	target     string
	interval   time.Duration

	emitter *events.Emitter[Session]
	group   singleflight.Group

	mu               sync.Mutex
	session          Session
	available        *Release
	pending          *Pending
	installRequested bool

	cron *cron.Cron
}

type Option func(*Coordinator)

func WithUpdatesDir(dir string) Option {
	return func(c *Coordinator) {
		c.updatesDir = dir
	}
}

// WithTarget sets the file an update replaces.
func WithTarget(path string) Option {
	return func(c *Coordinator) {
		c.target = path
	}
}

func WithCheckInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		c.interval = d
	}
}

func New(source Source, currentVersion string, opts ...Option) *Coordinator {
	c := &Coordinator{
		source:   source,
		current:  currentVersion,
		interval: 4 * time.Hour,
		emitter:  events.NewEmitter[Session](),
		session:  Session{Phase: PhaseIdle},
	}
	for _, o := range opts {
		o(c)
	}
	if c.updatesDir == "" {
		c.updatesDir = filepath.Join(os.TempDir(), "stockroom-updates")
	}
	return c
}

// Subscribe registers fn for every session transition.
func (c *Coordinator) Subscribe(fn func(Session)) (unsubscribe func()) {
	return c.emitter.Subscribe(fn)
}

func (c *Coordinator) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Coordinator) Pending() *Pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

func (c *Coordinator) InstallRequested() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.installRequested
}

// Check looks for a newer release. Concurrent calls share one request.
func (c *Coordinator) Check(ctx context.Context) (CheckResult, error) {
	v, err, _ := c.group.Do("check", func() (any, error) {
		return c.check(ctx)
	})
	if err != nil {
		return CheckResult{}, err
	}
	return v.(CheckResult), nil
}

func (c *Coordinator) check(ctx context.Context) (CheckResult, error) {
	c.mu.Lock()
	if c.busy() {
		c.mu.Unlock()
		return CheckResult{}, ErrBusy
	}
	c.setLocked(Session{ID: uuid.New().String(), Phase: PhaseChecking})
	c.mu.Unlock()

	xlog.Debug("checking for updates", "current", c.current)
	rel, err := c.source.Latest(ctx)
	if err != nil {
		c.fail(fmt.Errorf("failed to check for updates: %w", err))
		return CheckResult{}, err
	}

	c.mu.Lock()
	if !IsNewer(rel.Version, c.current) {
		xlog.Debug("no update available", "latest", rel.Version, "current", c.current)
		c.setLocked(Session{ID: c.session.ID, Phase: PhaseNotAvailable, Release: infoOf(rel)})
		c.setLocked(Session{ID: c.session.ID, Phase: PhaseIdle})
		c.mu.Unlock()
		return CheckResult{Available: false, Version: rel.Version}, nil
	}

	if c.pending != nil && c.pending.Release.Version == rel.Version {
		c.setLocked(Session{ID: c.session.ID, Phase: PhaseDownloaded, Release: infoOf(rel), Progress: Progress{Percent: 100}})
		c.mu.Unlock()
		return CheckResult{Available: true, Version: rel.Version}, nil
	}

	xlog.Info("update available", "version", rel.Version, "current", c.current)
	c.available = rel
	c.setLocked(Session{ID: c.session.ID, Phase: PhaseAvailable, Release: infoOf(rel)})
	c.mu.Unlock()
	return CheckResult{Available: true, Version: rel.Version}, nil
}

// Download fetches the release found by the last check.
func (c *Coordinator) Download(ctx context.Context) error {
	c.mu.Lock()
	if c.busy() {
		c.mu.Unlock()
		return ErrBusy
	}
	rel := c.available
	if rel == nil {
		c.mu.Unlock()
		return ErrNoUpdate
	}
	id := c.session.ID
	if id == "" {
		id = uuid.New().String()
	}
	c.setLocked(Session{ID: id, Phase: PhaseDownloading, Release: infoOf(rel)})
	c.mu.Unlock()

	xlog.Info("downloading update", "version", rel.Version)
	dir := filepath.Join(c.updatesDir, safeName(rel.Version))
	lastPercent := -1
	path, err := c.source.Download(ctx, rel, dir, func(transferred, total int64) {
		p := NewProgress(transferred, total)
		// one event per whole percent is plenty for a progress bar
		if int(p.Percent) == lastPercent && p.Transferred != p.Total {
			return
		}
		lastPercent = int(p.Percent)
		c.mu.Lock()
		if c.session.Phase == PhaseDownloading {
			c.setLocked(Session{ID: id, Phase: PhaseDownloading, Release: infoOf(rel), Progress: p})
		}
		c.mu.Unlock()
	})
	if err != nil {
		os.RemoveAll(dir)
		c.fail(fmt.Errorf("failed to download update: %w", err))
		return err
	}

	c.mu.Lock()
	if c.pending != nil && filepath.Dir(c.pending.Path) != dir {
		os.RemoveAll(filepath.Dir(c.pending.Path))
	}
	c.pending = &Pending{Release: rel, Path: path}
	c.available = nil
	total := c.session.Progress.Total
	final := Progress{Percent: 100, Transferred: total, Total: total}
	c.setLocked(Session{ID: id, Phase: PhaseDownloaded, Release: infoOf(rel), Progress: final})
	c.mu.Unlock()

	xlog.Info("update downloaded", "version", rel.Version, "path", path)
	return nil
}

// RequestInstall marks the pending update for install on the upcoming quit,
// followed by a relaunch.
func (c *Coordinator) RequestInstall() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return ErrNotDownloaded
	}
	c.installRequested = true
	c.setLocked(Session{ID: c.session.ID, Phase: PhaseInstalling, Release: infoOf(c.pending.Release)})
	return nil
}

// ApplyPending installs the pending update over the target. It reports
// false when there was nothing to apply.
func (c *Coordinator) ApplyPending() (bool, error) {
	c.mu.Lock()
	pending := c.pending
	c.mu.Unlock()
	if pending == nil {
		return false, nil
	}
	if c.target == "" {
		return false, errors.New("no install target configured")
	}

	xlog.Info("applying update", "version", pending.Release.Version, "target", c.target)
	if err := Apply(pending.Path, c.target); err != nil {
		return false, err
	}
	if err := SaveVersionMetadata(filepath.Dir(c.updatesDir), pending.Release.Version, c.target); err != nil {
		xlog.Warn("failed to save version metadata", "error", err)
	}

	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
	os.RemoveAll(filepath.Dir(pending.Path))
	return true, nil
}

// Cleanup removes what an interrupted download or install left behind.
func (c *Coordinator) Cleanup() {
	if c.target != "" {
		CleanupInstall(c.target)
	}
	if err := os.RemoveAll(c.updatesDir); err != nil {
		xlog.Warn("failed to remove stale updates", "dir", c.updatesDir, "error", err)
	}
}

// Start checks right away and then on every interval until Stop.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil {
		return nil
	}

	check := func() {
		if _, err := c.Check(ctx); err != nil && !errors.Is(err, ErrBusy) {
			xlog.Warn("periodic update check failed", "error", err)
		}
	}

	c.cron = cron.New()
	if _, err := c.cron.AddFunc(fmt.Sprintf("@every %s", c.interval), check); err != nil {
		c.cron = nil
		return fmt.Errorf("failed to schedule update checks: %w", err)
	}
	c.cron.Start()
	go check()
	return nil
}

func (c *Coordinator) Stop() {
	c.mu.Lock()
	cr := c.cron
	c.cron = nil
	c.mu.Unlock()
	if cr != nil {
		<-cr.Stop().Done()
	}
}

func (c *Coordinator) fail(err error) {
	xlog.Error("update failed", "error", err)
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.session.ID
	c.setLocked(Session{ID: id, Phase: PhaseError, Err: err.Error(), Release: c.session.Release})
	c.setLocked(Session{ID: id, Phase: PhaseIdle})
}

func (c *Coordinator) busy() bool {
	return c.session.Phase == PhaseDownloading || c.session.Phase == PhaseInstalling
}

// setLocked records and broadcasts a transition. Subscribers run with the
// lock held so they observe transitions in order; they must not call back
// into the coordinator synchronously.
func (c *Coordinator) setLocked(s Session) {
	s.At = time.Now()
	c.session = s
	c.emitter.Emit(s)
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

func safeName(version string) string {
	return unsafeChars.ReplaceAllString(version, "_")
}
