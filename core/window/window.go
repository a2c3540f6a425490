package window

import (
	"github.com/stockroom-pos/desktop/core/config"
)

// Window is a native window rendering the frontend.
type Window interface {
	Show()
	Focus()
	Restore()
	IsMinimised() bool
	Close()
}

// Spec describes the window to create.
type Spec struct {
	Name      string
	Title     string
	URL       string
	Width     int
	Height    int
	MinWidth  int
	MinHeight int
	// Hidden windows are shown by the manager once their content is ready.
	Hidden bool
}

type Hooks struct {
	OnReady   func()
	OnResized func(width, height int)
	OnClosed  func()
}

// Factory creates native windows. Hooks must not be called before
// NewWindow returned.
type Factory interface {
	NewWindow(Spec, Hooks) (Window, error)
}

// ContentURL is the address the window loads: the dev server while
// developing, the packaged frontend root otherwise.
func ContentURL(cfg *config.ApplicationConfig) string {
	if cfg.Packaged {
		return "/"
	}
	return cfg.DevServerURL
}

func SpecFromConfig(cfg *config.ApplicationConfig) Spec {
	return Spec{
		Name:      "main",
		Title:     cfg.Window.Title,
		URL:       ContentURL(cfg),
		Width:     cfg.Window.Width,
		Height:    cfg.Window.Height,
		MinWidth:  cfg.Window.MinWidth,
		MinHeight: cfg.Window.MinHeight,
		Hidden:    true,
	}
}
