package instance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/mudler/xlog"
)

var ErrAlreadyRunning = errors.New("another instance is already running")

// Invocation is what a duplicate launch hands over to the running instance.
type Invocation struct {
	ID         string    `json:"id"`
	Args       []string  `json:"args"`
	WorkingDir string    `json:"working_dir"`
	At         time.Time `json:"at"`
}

func NewInvocation(args []string) Invocation {
	wd, _ := os.Getwd()
	return Invocation{
		ID:         uuid.New().String(),
		Args:       args,
		WorkingDir: wd,
		At:         time.Now(),
	}
}

// Lock is the process wide claim on the application identity. It is held
// from Acquire until Release or process exit.
type Lock struct {
	dir   string
	id    string
	flock *flock.Flock

	mu       sync.Mutex
	listener net.Listener
	released bool
}

func lockPath(dir, id string) string   { return filepath.Join(dir, id+".lock") }
func socketPath(dir, id string) string { return filepath.Join(dir, id+".sock") }
func pidPath(dir, id string) string    { return filepath.Join(dir, id+".pid") }

// Acquire takes the instance lock without blocking. ErrAlreadyRunning means
// another process owns it and the caller should Forward and exit.
func Acquire(dir, id string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create instance directory: %w", err)
	}

	fl := flock.New(lockPath(dir, id))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire instance lock: %w", err)
	}
	if !locked {
		return nil, ErrAlreadyRunning
	}

	if err := os.WriteFile(pidPath(dir, id), []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		xlog.Warn("failed to record instance pid", "error", err)
	}

	return &Lock{dir: dir, id: id, flock: fl}, nil
}

// Serve accepts invocations forwarded by duplicate launches and calls
// handler for each one until ctx is done or the lock is released.
func (l *Lock) Serve(ctx context.Context, handler func(Invocation)) error {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return errors.New("instance lock already released")
	}
	sock := socketPath(l.dir, l.id)
	// a holder that crashed leaves its socket behind, and we own the lock now
	_ = os.Remove(sock)
	ln, err := net.Listen("unix", sock)
	if err != nil {
		l.mu.Unlock()
		return fmt.Errorf("failed to listen for other instances: %w", err)
	}
	l.listener = ln
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("failed to accept invocation: %w", err)
		}
		go func() {
			defer conn.Close()
			_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			var inv Invocation
			if err := json.NewDecoder(conn).Decode(&inv); err != nil {
				xlog.Warn("discarding malformed invocation", "error", err)
				return
			}
			xlog.Debug("second instance launched", "id", inv.ID, "args", strings.Join(inv.Args, " "))
			handler(inv)
		}()
	}
}

// Release stops serving and gives up the lock. It is safe to call more than once.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return nil
	}
	l.released = true
	if l.listener != nil {
		l.listener.Close()
		_ = os.Remove(socketPath(l.dir, l.id))
	}
	_ = os.Remove(pidPath(l.dir, l.id))
	return l.flock.Unlock()
}

// Forward delivers inv to the running instance.
func Forward(dir, id string, inv Invocation) error {
	conn, err := net.DialTimeout("unix", socketPath(dir, id), 2*time.Second)
	if err != nil {
		return fmt.Errorf("failed to reach running instance: %w", err)
	}
	defer conn.Close()
	if err := json.NewEncoder(conn).Encode(inv); err != nil {
		return fmt.Errorf("failed to forward invocation: %w", err)
	}
	return nil
}

// Holder returns the pid of the process holding the lock, or 0 if the lock is free.
func Holder(dir, id string) (int, error) {
	fl := flock.New(lockPath(dir, id))
	locked, err := fl.TryLock()
	if err != nil {
		return 0, err
	}
	if locked {
		fl.Unlock()
		return 0, nil
	}
	data, err := os.ReadFile(pidPath(dir, id))
	if err != nil {
		return 0, fmt.Errorf("lock is held but pid is unknown: %w", err)
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}
