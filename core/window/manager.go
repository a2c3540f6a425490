package window

import (
	"fmt"
	"sync"
	"time"

	"github.com/mudler/xlog"
)

// Manager owns the single main window.
type Manager struct {
	factory  Factory
	spec     Spec
	fallback time.Duration

	onResize    func(width, height int)
	onAllClosed func()

	mu    sync.Mutex
	win   Window
	shown bool
	timer *time.Timer
}

type Option func(*Manager)

// WithShowFallback shows the window after d even if its content never
// reported ready.
func WithShowFallback(d time.Duration) Option {
	return func(m *Manager) {
		m.fallback = d
	}
}

// OnResize registers fn for size changes of the current window.
func OnResize(fn func(width, height int)) Option {
	return func(m *Manager) {
		m.onResize = fn
	}
}

func OnAllClosed(fn func()) Option {
	return func(m *Manager) {
		m.onAllClosed = fn
	}
}

func NewManager(factory Factory, spec Spec, opts ...Option) *Manager {
	m := &Manager{factory: factory, spec: spec}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Create builds the window if there is none and returns it. The window
// stays hidden until its content is ready.
func (m *Manager) Create() (Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.win != nil {
		return m.win, nil
	}

	var w Window
	hooks := Hooks{
		OnReady:   func() { m.reveal(w, "ready") },
		OnResized: func(width, height int) { m.resized(w, width, height) },
		OnClosed:  func() { m.closed(w) },
	}
	w, err := m.factory.NewWindow(m.spec, hooks)
	if err != nil {
		return nil, fmt.Errorf("failed to create window: %w", err)
	}
	m.win = w
	m.shown = false
	xlog.Debug("window created", "url", m.spec.URL, "width", m.spec.Width, "height", m.spec.Height)

	if m.fallback > 0 {
		m.timer = time.AfterFunc(m.fallback, func() { m.reveal(w, "fallback") })
	}
	return w, nil
}

// FocusExisting restores and focuses the window. It reports false when
// there is no window.
func (m *Manager) FocusExisting() bool {
	m.mu.Lock()
	w := m.win
	m.mu.Unlock()
	if w == nil {
		return false
	}
	if w.IsMinimised() {
		w.Restore()
	}
	w.Show()
	w.Focus()
	return true
}

// Activate focuses the window, creating it first when there is none.
func (m *Manager) Activate() error {
	if m.FocusExisting() {
		return nil
	}
	_, err := m.Create()
	return err
}

func (m *Manager) reveal(w Window, reason string) {
	m.mu.Lock()
	if m.win != w || m.shown {
		m.mu.Unlock()
		return
	}
	m.shown = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()

	xlog.Debug("showing window", "reason", reason)
	w.Show()
	w.Focus()
}

func (m *Manager) resized(w Window, width, height int) {
	m.mu.Lock()
	current := m.win == w
	m.mu.Unlock()
	if current && m.onResize != nil {
		m.onResize(width, height)
	}
}

func (m *Manager) closed(w Window) {
	m.mu.Lock()
	if m.win != w {
		m.mu.Unlock()
		return
	}
	m.win = nil
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.mu.Unlock()

	if m.onAllClosed != nil {
		m.onAllClosed()
	}
}
