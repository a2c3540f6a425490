package host

import (
	"context"
	"os"
	"os/exec"

	"github.com/stockroom-pos/desktop/core/bridge"
	"github.com/stockroom-pos/desktop/core/supervisor"
	"github.com/stockroom-pos/desktop/core/updater"
	"github.com/stockroom-pos/desktop/core/window"
)

// Shell is the native application the controller runs inside.
type Shell interface {
	bridge.Emitter
	// Quit ends the native event loop.
	Quit()
}

type Backend interface {
	Start(ctx context.Context) error
	Stop() error
	Restart(ctx context.Context) error
	Status() supervisor.Status
	OnExit(fn func(supervisor.Exit)) (unsubscribe func())
	ConfigPath() string
}

type Updates interface {
	bridge.Updates
	Subscribe(fn func(updater.Session)) (unsubscribe func())
	Cleanup()
	Start(ctx context.Context) error
	Stop()
	ApplyPending() (bool, error)
	InstallRequested() bool
}

type Releaser interface {
	Release() error
}

// Deps are the collaborators of a Controller. Backend is only used when
// the app is packaged; Updates and Lock may be nil.
type Deps struct {
	Shell    Shell
	Windows  window.Factory
	Backend  Backend
	Updates  Updates
	Lock     Releaser
	Print    bridge.PrintFunc
	Relaunch func(path string, args []string) error
}

func relaunch(path string, args []string) error {
	cmd := exec.Command(path, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}
