package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emirpasic/gods/v2/queues/circularbuffer"
	"github.com/joho/godotenv"
	"github.com/mudler/xlog"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/stockroom-pos/desktop/core/events"
	"github.com/stockroom-pos/desktop/pkg/health"
)

var (
	ErrEntryMissing   = errors.New("backend entry point not found")
	ErrAlreadyRunning = errors.New("backend is already running")
	ErrStopped        = errors.New("backend was stopped while starting")
)

type State string

const (
	StateStopped     State = "stopped"
	StateStarting    State = "starting"
	StateReady       State = "ready"
	StateExitedClean State = "exited-clean"
	StateExitedError State = "exited-error"
)

// Status is what the UI gets to see about the backend.
type Status struct {
	Running bool `json:"running"`
	PID     *int `json:"pid"`
}

// Exit describes a backend process that went away without Stop being called.
type Exit struct {
	Code       int
	Err        error
	AfterReady bool
}

type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("backend exited with code %d", e.Code)
}

type LogLine struct {
	At     time.Time
	Stderr bool
	Text   string
}

// child is one spawned backend. done is closed once Wait returned and
// code is final.
type child struct {
	cmd      *exec.Cmd
	done     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	ready    atomic.Bool
	code     int
	err      error
}

func (p *child) stopRequested() bool {
	select {
	case <-p.stopCh:
		return true
	default:
		return false
	}
}

func (p *child) requestStop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

type Supervisor struct {
	opts options

	mu    sync.Mutex
	proc  *child
	state State

	logsMu sync.Mutex
	logs   *circularbuffer.Queue[*LogLine]

	exits *events.Emitter[Exit]
}

func New(o ...Option) *Supervisor {
	opts := defaultOptions()
	for _, oo := range o {
		oo(&opts)
	}
	return &Supervisor{
		opts:  opts,
		state: StateStopped,
		logs:  circularbuffer.New[*LogLine](opts.logRetention),
		exits: events.NewEmitter[Exit](),
	}
}

func (s *Supervisor) EntryPath() string {
	return filepath.Join(s.opts.dir, s.opts.entry)
}

func (s *Supervisor) ConfigPath() string {
	if s.opts.configFile == "" {
		return ""
	}
	return filepath.Join(s.opts.dir, s.opts.configFile)
}

// Start spawns the backend and blocks until it answers its health check.
// A non-zero exit while starting fails the start. On timeout the child is
// killed and health.ErrTimeout is returned.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.proc != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}

	entry := s.EntryPath()
	if _, err := os.Stat(entry); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrEntryMissing, entry)
	}
	s.checkConfig()
	s.reapOrphan()

	cmd := exec.Command(s.opts.runtime, entry)
	cmd.Dir = s.opts.dir
	cmd.Env = append(os.Environ(), s.opts.modeEnv+"="+s.opts.mode)

	stdout := &lineWriter{emit: func(line string) { s.record(line, false) }}
	stderr := &lineWriter{emit: func(line string) { s.record(line, true) }}
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// a grandchild holding the output open must not keep Wait from returning
	cmd.WaitDelay = s.opts.stopTimeout

	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to start backend: %w", err)
	}

	p := &child{
		cmd:    cmd,
		done:   make(chan struct{}),
		stopCh: make(chan struct{}),
	}
	s.proc = p
	s.state = StateStarting
	s.writePID(cmd.Process.Pid)
	s.mu.Unlock()

	xlog.Info("backend started", "pid", cmd.Process.Pid, "entry", entry, "mode", s.opts.mode)

	go s.wait(p, stdout, stderr)

	return s.awaitReady(ctx, p)
}

func (s *Supervisor) awaitReady(ctx context.Context, p *child) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	type result struct {
		attempt int
		err     error
	}
	results := make(chan result, 1)
	checker := health.NewChecker(s.opts.healthURL, s.opts.healthInterval, s.opts.healthAttempts)
	go func() {
		attempt, err := checker.WaitReady(ctx)
		results <- result{attempt, err}
	}()

	exited := p.done
	for {
		select {
		case r := <-results:
			switch {
			case r.err == nil:
				s.mu.Lock()
				if s.proc == p {
					s.state = StateReady
				}
				s.mu.Unlock()
				p.ready.Store(true)
				xlog.Info("backend ready", "attempts", r.attempt)
				return nil
			case p.stopRequested():
				return ErrStopped
			default:
				xlog.Error("backend did not become healthy", "attempts", r.attempt, "error", r.err)
				s.Stop()
				return r.err
			}
		case <-exited:
			if p.stopRequested() {
				cancel()
				<-results
				return ErrStopped
			}
			if p.code > 0 {
				cancel()
				<-results
				return &ExitError{Code: p.code}
			}
			// exit 0 or a signal: keep polling, something else may still
			// answer on the health port
			xlog.Warn("backend exited while starting", "code", p.code, "error", p.err)
			exited = nil
		}
	}
}

func (s *Supervisor) wait(p *child, outputs ...*lineWriter) {
	err := p.cmd.Wait()
	for _, w := range outputs {
		w.Flush()
	}
	p.err = err
	p.code = p.cmd.ProcessState.ExitCode()

	s.mu.Lock()
	current := s.proc == p
	if current {
		s.proc = nil
		if p.code == 0 {
			s.state = StateExitedClean
		} else {
			s.state = StateExitedError
		}
	}
	s.mu.Unlock()
	close(p.done)

	if p.stopRequested() {
		return
	}
	if current {
		s.removePID()
	}

	xlog.Warn("backend exited", "code", p.code, "error", err, "ready", p.ready.Load())
	if p.ready.Load() {
		s.exits.Emit(Exit{Code: p.code, Err: err, AfterReady: true})
	}
}

// Stop terminates the tracked backend. It is a no-op when nothing is
// tracked, so every quit path may call it.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	p := s.proc
	if p == nil {
		s.mu.Unlock()
		return nil
	}
	// marked before the lock is dropped so wait never sees it as a crash
	p.requestStop()
	s.proc = nil
	s.state = StateStopped
	s.mu.Unlock()

	defer s.removePID()

	select {
	case <-p.done:
		return nil
	default:
	}

	xlog.Info("stopping backend", "pid", p.cmd.Process.Pid)
	if err := terminate(p.cmd.Process); err != nil && !errors.Is(err, os.ErrProcessDone) {
		xlog.Warn("failed to signal backend, killing it", "error", err)
		_ = p.cmd.Process.Kill()
	}

	select {
	case <-p.done:
	case <-time.After(s.opts.stopTimeout):
		xlog.Warn("backend did not stop in time, killing it", "timeout", s.opts.stopTimeout)
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("failed to kill backend: %w", err)
		}
		<-p.done
	}
	return nil
}

// Restart stops the backend if it runs and starts it again.
func (s *Supervisor) Restart(ctx context.Context) error {
	if err := s.Stop(); err != nil {
		return err
	}
	return s.Start(ctx)
}

func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil || s.proc.cmd.Process == nil {
		return Status{}
	}
	pid := s.proc.cmd.Process.Pid
	return Status{Running: true, PID: &pid}
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnExit registers fn for backends that go away after becoming ready
// without Stop being called.
func (s *Supervisor) OnExit(fn func(Exit)) (unsubscribe func()) {
	return s.exits.Subscribe(fn)
}

// RecentLogs returns up to n of the last forwarded lines, oldest first.
func (s *Supervisor) RecentLogs(n int) []LogLine {
	s.logsMu.Lock()
	ptrs := s.logs.Values()
	s.logsMu.Unlock()

	if n > 0 && len(ptrs) > n {
		ptrs = ptrs[len(ptrs)-n:]
	}
	out := make([]LogLine, 0, len(ptrs))
	for _, l := range ptrs {
		out = append(out, *l)
	}
	return out
}

func (s *Supervisor) record(line string, stderr bool) {
	s.logsMu.Lock()
	s.logs.Enqueue(&LogLine{At: time.Now(), Stderr: stderr, Text: line})
	s.logsMu.Unlock()

	if stderr {
		s.opts.sink.Stderr(line)
	} else {
		s.opts.sink.Stdout(line)
	}
}

func (s *Supervisor) checkConfig() {
	path := s.ConfigPath()
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		xlog.Warn("backend config file not found, continuing without it", "path", path)
		return
	}
	if _, err := godotenv.Read(path); err != nil {
		xlog.Warn("backend config file could not be parsed", "path", path, "error", err)
	}
}

func (s *Supervisor) writePID(pid int) {
	if s.opts.pidFile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.opts.pidFile), 0o755); err != nil {
		xlog.Warn("failed to create pid file directory", "error", err)
		return
	}
	if err := os.WriteFile(s.opts.pidFile, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		xlog.Warn("failed to write backend pid file", "error", err)
	}
}

func (s *Supervisor) removePID() {
	if s.opts.pidFile != "" {
		_ = os.Remove(s.opts.pidFile)
	}
}

// reapOrphan terminates a backend left running by a host that crashed.
// Only a live process whose executable matches the runtime is touched.
func (s *Supervisor) reapOrphan() {
	pid, err := ReadPIDFile(s.opts.pidFile)
	if err != nil || pid == 0 {
		return
	}
	defer s.removePID()

	if pid == os.Getpid() {
		return
	}
	exists, err := process.PidExists(int32(pid))
	if err != nil || !exists {
		return
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return
	}
	name, err := p.Name()
	if err != nil || !strings.Contains(name, strings.TrimSuffix(filepath.Base(s.opts.runtime), ".exe")) {
		return
	}

	xlog.Warn("terminating orphaned backend from a previous run", "pid", pid, "name", name)
	if err := p.Terminate(); err != nil {
		_ = p.Kill()
		return
	}
	deadline := time.Now().Add(s.opts.stopTimeout)
	for time.Now().Before(deadline) {
		if running, err := p.IsRunning(); err != nil || !running {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	_ = p.Kill()
}

// ReadPIDFile returns the pid stored at path, or 0 if there is none.
func ReadPIDFile(path string) (int, error) {
	if path == "" {
		return 0, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}
