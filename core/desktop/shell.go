// Package desktop runs the controller inside a Wails application.
package desktop

import (
	"errors"
	"os"
	"sync"

	"github.com/mudler/xlog"
	"github.com/wailsapp/wails/v3/pkg/application"
	"github.com/wailsapp/wails/v3/pkg/events"

	"github.com/stockroom-pos/desktop/core/config"
	"github.com/stockroom-pos/desktop/core/host"
	"github.com/stockroom-pos/desktop/core/window"
)

var errNotRunning = errors.New("desktop application is not running")

// Shell is the native side of the app: it owns the Wails application,
// creates webview windows and delivers renderer events.
type Shell struct {
	cfg *config.ApplicationConfig

	mu  sync.Mutex
	app *application.App
}

func New(cfg *config.ApplicationConfig) *Shell {
	return &Shell{cfg: cfg}
}

// Run builds the Wails application around ctrl and blocks until it quits.
// The controller is launched once the native event loop is up.
func (s *Shell) Run(ctrl *host.Controller) error {
	app := application.New(application.Options{
		Name:        s.cfg.AppName,
		Description: "Stockroom point of sale",
		Services: []application.Service{
			application.NewService(ctrl.Bridge()),
		},
		Assets: application.AssetOptions{
			Handler: application.AssetFileServerFS(os.DirFS(s.cfg.FrontendPath())),
		},
		Mac: application.MacOptions{
			ApplicationShouldTerminateAfterLastWindowClosed: false,
		},
		Windows: application.WindowsOptions{
			DisableQuitOnLastWindowClosed: true,
		},
		Linux: application.LinuxOptions{
			DisableQuitOnLastWindowClosed: true,
			ProgramName:                   "stockroom",
		},
		ShouldQuit: func() bool {
			ctrl.Shutdown()
			return true
		},
		OnShutdown: ctrl.Shutdown,
	})

	s.mu.Lock()
	s.app = app
	s.mu.Unlock()

	app.Event.OnApplicationEvent(events.Common.ApplicationStarted, func(*application.ApplicationEvent) {
		// Launch waits for the backend, the event loop must keep running meanwhile
		go func() {
			if err := ctrl.Launch(s.cfg.Context); err != nil {
				xlog.Error("launch failed", "error", err)
			}
		}()
	})
	app.Event.OnApplicationEvent(events.Mac.ApplicationShouldHandleReopen, func(*application.ApplicationEvent) {
		ctrl.OnActivate()
	})

	xlog.Debug("starting desktop event loop", "frontend", s.cfg.FrontendPath())
	return app.Run()
}

func (s *Shell) Emit(name string, data any) {
	app := s.current()
	if app == nil {
		return
	}
	app.Event.Emit(name, data)
}

func (s *Shell) Quit() {
	if app := s.current(); app != nil {
		app.Quit()
	}
}

// NewWindow creates a webview window. Content reaches the host only
// through the bound bridge service.
func (s *Shell) NewWindow(spec window.Spec, hooks window.Hooks) (window.Window, error) {
	app := s.current()
	if app == nil {
		return nil, errNotRunning
	}

	w := app.Window.NewWithOptions(application.WebviewWindowOptions{
		Name:      spec.Name,
		Title:     spec.Title,
		URL:       spec.URL,
		Width:     spec.Width,
		Height:    spec.Height,
		MinWidth:  spec.MinWidth,
		MinHeight: spec.MinHeight,
		Hidden:    spec.Hidden,
	})

	w.OnWindowEvent(events.Common.WindowRuntimeReady, func(*application.WindowEvent) {
		if hooks.OnReady != nil {
			hooks.OnReady()
		}
	})
	w.RegisterHook(events.Common.WindowDidResize, func(*application.WindowEvent) {
		if hooks.OnResized != nil {
			hooks.OnResized(w.Size())
		}
	})
	w.RegisterHook(events.Common.WindowClosing, func(*application.WindowEvent) {
		if hooks.OnClosed != nil {
			hooks.OnClosed()
		}
	})
	return webviewWindow{w}, nil
}

func (s *Shell) current() *application.App {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.app
}

var (
	_ host.Shell     = (*Shell)(nil)
	_ window.Factory = (*Shell)(nil)
)

type webviewWindow struct {
	w *application.WebviewWindow
}

func (w webviewWindow) Show()             { w.w.Show() }
func (w webviewWindow) Focus()            { w.w.Focus() }
func (w webviewWindow) Restore()          { w.w.Restore() }
func (w webviewWindow) IsMinimised() bool { return w.w.IsMinimised() }
func (w webviewWindow) Close()            { w.w.Close() }
