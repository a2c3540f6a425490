package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mudler/xlog"

	"github.com/stockroom-pos/desktop/core/supervisor"
	"github.com/stockroom-pos/desktop/core/updater"
	"github.com/stockroom-pos/desktop/pkg/printer"
)

var (
	ErrUpdatesDisabled   = errors.New("updates are not enabled")
	ErrBackendNotManaged = errors.New("backend is not managed by the app in development mode")
	ErrInvalidCopies     = errors.New("copies must be between 1 and 99")
)

type Backend interface {
	Status() supervisor.Status
	Restart(ctx context.Context) error
}

type Updates interface {
	Check(ctx context.Context) (updater.CheckResult, error)
	Download(ctx context.Context) error
	RequestInstall() error
}

type PrintFunc func(ctx context.Context, content string, opts printer.Options) error

type PrintOptions struct {
	Printer string `json:"printer,omitempty"`
	Copies  int    `json:"copies,omitempty"`
}

// Config wires a Service. Backend and Updates are nil when the app does
// not manage them.
type Config struct {
	Context      context.Context
	AppPath      string
	Backend      Backend
	Updates      Updates
	Print        PrintFunc
	PrintTimeout time.Duration
	Publisher    *Publisher
	// Quit is called after an install was requested.
	Quit func()
}

// Service is bound to the renderer. Every exported method is callable from
// the frontend, nothing else of the host is.
type Service struct {
	cfg Config
}

func NewService(cfg Config) *Service {
	if cfg.Context == nil {
		cfg.Context = context.Background()
	}
	if cfg.Print == nil {
		cfg.Print = printer.Print
	}
	if cfg.PrintTimeout <= 0 {
		cfg.PrintTimeout = 30 * time.Second
	}
	return &Service{cfg: cfg}
}

func (s *Service) GetAppPath() string {
	return s.cfg.AppPath
}

func (s *Service) GetBackendStatus() BackendStatus {
	if s.cfg.Backend == nil {
		return BackendStatus{}
	}
	return statusOf(s.cfg.Backend.Status())
}

func (s *Service) CheckForUpdates() (UpdateCheckResult, error) {
	if s.cfg.Updates == nil {
		return UpdateCheckResult{}, ErrUpdatesDisabled
	}
	res, err := s.cfg.Updates.Check(s.cfg.Context)
	if err != nil {
		return UpdateCheckResult{}, err
	}
	return UpdateCheckResult{Available: res.Available, Version: res.Version}, nil
}

func (s *Service) DownloadUpdate() error {
	if s.cfg.Updates == nil {
		return ErrUpdatesDisabled
	}
	return s.cfg.Updates.Download(s.cfg.Context)
}

// InstallUpdate quits the app. The downloaded update is applied on the way
// out and the new version is started.
func (s *Service) InstallUpdate() error {
	if s.cfg.Updates == nil {
		return ErrUpdatesDisabled
	}
	if err := s.cfg.Updates.RequestInstall(); err != nil {
		return err
	}
	xlog.Info("install requested, quitting")
	if s.cfg.Quit != nil {
		go s.cfg.Quit()
	}
	return nil
}

// PrintSilent sends content to the printer without a dialog. It returns as
// soon as the input was validated; the outcome arrives as a print-result
// event.
func (s *Service) PrintSilent(content string, opts PrintOptions) error {
	if content == "" {
		return printer.ErrEmptyContent
	}
	if opts.Copies == 0 {
		opts.Copies = 1
	}
	if opts.Copies < 1 || opts.Copies > 99 {
		return ErrInvalidCopies
	}

	go func() {
		ctx, cancel := context.WithTimeout(s.cfg.Context, s.cfg.PrintTimeout)
		defer cancel()
		err := s.cfg.Print(ctx, content, printer.Options{Printer: opts.Printer, Copies: opts.Copies})
		if err != nil {
			xlog.Error("silent print failed", "printer", opts.Printer, "error", err)
			err = fmt.Errorf("print failed: %w", err)
		}
		s.cfg.Publisher.PrintResult(err)
	}()
	return nil
}

func (s *Service) RestartBackend() error {
	if s.cfg.Backend == nil {
		return ErrBackendNotManaged
	}
	xlog.Info("backend restart requested by the renderer")
	err := s.cfg.Backend.Restart(s.cfg.Context)
	s.cfg.Publisher.BackendStatus(s.cfg.Backend.Status())
	return err
}
