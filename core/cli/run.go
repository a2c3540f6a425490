package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mudler/xlog"

	cliContext "github.com/stockroom-pos/desktop/core/cli/context"
	"github.com/stockroom-pos/desktop/core/config"
	"github.com/stockroom-pos/desktop/core/host"
	"github.com/stockroom-pos/desktop/core/window"
	"github.com/stockroom-pos/desktop/internal"
	"github.com/stockroom-pos/desktop/pkg/instance"
	"github.com/stockroom-pos/desktop/pkg/printer"
	"github.com/stockroom-pos/desktop/pkg/signals"
)

// Shell is the native application hosting the controller.
type Shell interface {
	host.Shell
	window.Factory
	Run(ctrl *host.Controller) error
}

// ShellFactory is bound by main and handed to the run command.
type ShellFactory func(cfg *config.ApplicationConfig) Shell

type RunCMD struct {
	Args []string `arg:"" optional:"" name:"args" help:"Arguments handed to the running app when one is already open"`

	AppFlags     `embed:""`
	BackendFlags `embed:""`
	UpdateFlags  `embed:""`

	DevServerURL       string        `env:"STOCKROOM_DEV_SERVER_URL" default:"http://localhost:5173" help:"Frontend dev server loaded in development mode" group:"development"`
	FrontendDir        string        `env:"STOCKROOM_FRONTEND_DIR" default:"dist" help:"Built frontend, relative to the install directory" group:"window"`
	WindowWidth        int           `env:"STOCKROOM_WINDOW_WIDTH" default:"1280" help:"Initial window width" group:"window"`
	WindowHeight       int           `env:"STOCKROOM_WINDOW_HEIGHT" default:"800" help:"Initial window height" group:"window"`
	WindowShowFallback time.Duration `env:"STOCKROOM_WINDOW_SHOW_FALLBACK" default:"0s" help:"Show the window after this delay even if the frontend never reports ready (0 disables)" group:"window"`

	DisableUpdates      bool          `env:"STOCKROOM_DISABLE_UPDATES" help:"Do not check for updates" group:"updates"`
	ForceUpdates        bool          `env:"STOCKROOM_FORCE_UPDATES" help:"Check for updates in development mode too" group:"updates"`
	UpdateCheckInterval time.Duration `env:"STOCKROOM_UPDATE_CHECK_INTERVAL" default:"4h" help:"Time between background update checks" group:"updates"`

	PrintTimeout time.Duration `env:"STOCKROOM_PRINT_TIMEOUT" default:"30s" help:"Maximum time a silent print may take" group:"printing"`

	Version bool
}

func (r *RunCMD) Run(ctx *cliContext.Context, newShell ShellFactory) error {
	if r.Version {
		fmt.Println(internal.PrintableVersion())
		return nil
	}

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updateOpts, err := r.UpdateFlags.options()
	if err != nil {
		return err
	}

	opts := append(r.AppFlags.options(), r.BackendFlags.options()...)
	opts = append(opts, updateOpts...)
	opts = append(opts,
		config.WithContext(appCtx),
		config.WithDevServerURL(r.DevServerURL),
		config.WithFrontendDir(r.FrontendDir),
		config.WithWindowSize(r.WindowWidth, r.WindowHeight),
		config.WithWindowShowFallback(r.WindowShowFallback),
		config.WithUpdates(r.ForceUpdates || (!r.Dev && !r.DisableUpdates)),
		config.WithUpdateCheckInterval(r.UpdateCheckInterval),
		config.WithPrintTimeout(r.PrintTimeout),
	)
	cfg := config.NewApplicationConfig(opts...)

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	lock, forwarded, err := acquireOrForward(cfg.DataDir, cfg.AppID, r.Args)
	if err != nil {
		return err
	}
	if forwarded {
		return nil
	}

	shell := newShell(cfg)
	deps := host.Deps{
		Shell:   shell,
		Windows: shell,
		Backend: newSupervisor(cfg),
		Lock:    lock,
		Print:   printer.Print,
	}
	if cfg.UpdatesEnabled {
		deps.Updates = newUpdater(cfg)
	}
	ctrl := host.NewController(cfg, deps)

	signals.SetExitCode(ctrl.ExitCode)
	signals.RegisterGracefulTerminationHandler(ctrl.Shutdown)

	go func() {
		if err := lock.Serve(appCtx, ctrl.OnSecondInstance); err != nil {
			xlog.Warn("not accepting launches from other instances", "error", err)
		}
	}()

	runErr := shell.Run(ctrl)
	ctrl.Shutdown()
	if runErr != nil {
		return fmt.Errorf("desktop app failed: %w", runErr)
	}
	if code := ctrl.ExitCode(); code != 0 {
		return fmt.Errorf("app quit after a failure (status %d)", code)
	}
	return nil
}

// acquireOrForward takes the instance lock. When another instance holds it
// the invocation is handed over to that instance and forwarded is true.
func acquireOrForward(dir, id string, args []string) (lock *instance.Lock, forwarded bool, err error) {
	lock, err = instance.Acquire(dir, id)
	if errors.Is(err, instance.ErrAlreadyRunning) {
		xlog.Debug("another instance is running, handing over", "dir", dir)
		if err := instance.Forward(dir, id, instance.NewInvocation(args)); err != nil {
			xlog.Debug("failed to notify the running instance", "error", err)
		}
		return nil, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return lock, false, nil
}
