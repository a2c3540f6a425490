package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/mudler/xlog"
	progressbar "github.com/schollz/progressbar/v3"

	cliContext "github.com/stockroom-pos/desktop/core/cli/context"
	"github.com/stockroom-pos/desktop/core/config"
	"github.com/stockroom-pos/desktop/core/updater"
	"github.com/stockroom-pos/desktop/pkg/instance"
)

var errAppRunning = errors.New("the app is running, close it or install the update from inside it")

// UpdateCMD installs the latest release while the app is closed.
type UpdateCMD struct {
	AppFlags    `embed:""`
	UpdateFlags `embed:""`

	CheckOnly bool `help:"Only report whether an update is available"`
}

func (u *UpdateCMD) Run(ctx *cliContext.Context) error {
	updateOpts, err := u.UpdateFlags.options()
	if err != nil {
		return err
	}
	cfg := config.NewApplicationConfig(append(u.AppFlags.options(), updateOpts...)...)
	coordinator := newUpdater(cfg)

	if u.CheckOnly {
		res, err := coordinator.Check(context.Background())
		if err != nil {
			return err
		}
		reportCheck(cfg.Version, res)
		return nil
	}

	lock, err := instance.Acquire(cfg.DataDir, cfg.AppID)
	if errors.Is(err, instance.ErrAlreadyRunning) {
		return errAppRunning
	}
	if err != nil {
		return err
	}
	defer lock.Release()

	return runUpdate(context.Background(), coordinator, cfg.Version)
}

type cliUpdater interface {
	Check(ctx context.Context) (updater.CheckResult, error)
	Download(ctx context.Context) error
	ApplyPending() (bool, error)
	Subscribe(fn func(updater.Session)) func()
}

func runUpdate(ctx context.Context, u cliUpdater, current string) error {
	res, err := u.Check(ctx)
	if err != nil {
		return err
	}
	reportCheck(current, res)
	if !res.Available {
		return nil
	}

	progressBar := progressbar.NewOptions(
		1000,
		progressbar.OptionSetDescription(fmt.Sprintf("downloading %s", res.Version)),
		progressbar.OptionShowBytes(false),
		progressbar.OptionClearOnFinish(),
	)
	unsubscribe := u.Subscribe(func(s updater.Session) {
		if s.Phase != updater.PhaseDownloading && s.Phase != updater.PhaseDownloaded {
			return
		}
		v := int(s.Progress.Percent * 10)
		if err := progressBar.Set(v); err != nil {
			xlog.Error("error while updating progress bar", "error", err, "value", v)
		}
	})
	err = u.Download(ctx)
	unsubscribe()
	if err != nil {
		return err
	}

	applied, err := u.ApplyPending()
	if err != nil {
		return fmt.Errorf("failed to install %s: %w", res.Version, err)
	}
	if applied {
		fmt.Printf("Installed %s, it will be used the next time the app starts.\n", res.Version)
	}
	return nil
}

func reportCheck(current string, res updater.CheckResult) {
	if res.Available {
		fmt.Printf("Update available: %s (current %s)\n", res.Version, current)
		return
	}
	fmt.Printf("Up to date (%s)\n", current)
}
