package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mudler/xlog"
	"github.com/shirou/gopsutil/v3/process"

	cliContext "github.com/stockroom-pos/desktop/core/cli/context"
	"github.com/stockroom-pos/desktop/core/config"
	"github.com/stockroom-pos/desktop/core/supervisor"
	"github.com/stockroom-pos/desktop/core/updater"
	"github.com/stockroom-pos/desktop/pkg/instance"
)

type StatusCMD struct {
	AppFlags `embed:""`

	JSON bool `help:"Print the report as JSON"`
}

type ProcessReport struct {
	PID        int       `json:"pid"`
	Name       string    `json:"name,omitempty"`
	MemoryRSS  uint64    `json:"memoryRSS,omitempty"`
	CPUPercent float64   `json:"cpuPercent,omitempty"`
	StartedAt  time.Time `json:"startedAt,omitempty"`
}

type StatusReport struct {
	Version          string         `json:"version"`
	DataDir          string         `json:"dataDir"`
	App              *ProcessReport `json:"app"`
	Backend          *ProcessReport `json:"backend"`
	InstalledVersion string         `json:"installedVersion,omitempty"`
	InstalledAt      time.Time      `json:"installedAt,omitempty"`
	LastUpdateCheck  time.Time      `json:"lastUpdateCheck,omitempty"`
	LatestSeen       string         `json:"latestSeen,omitempty"`
}

func (s *StatusCMD) Run(ctx *cliContext.Context) error {
	cfg := config.NewApplicationConfig(s.AppFlags.options()...)
	report, err := collectStatus(cfg)
	if err != nil {
		return err
	}
	if s.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	printStatus(os.Stdout, report)
	return nil
}

func collectStatus(cfg *config.ApplicationConfig) (*StatusReport, error) {
	report := &StatusReport{Version: cfg.Version, DataDir: cfg.DataDir}

	pid, err := instance.Holder(cfg.DataDir, cfg.AppID)
	if err != nil {
		xlog.Debug("could not read instance lock", "error", err)
	}
	if pid > 0 {
		report.App = inspect(pid)
	}

	bpid, err := supervisor.ReadPIDFile(cfg.BackendPIDPath())
	if err != nil {
		xlog.Debug("could not read backend pid file", "error", err)
	}
	if bpid > 0 {
		if exists, _ := process.PidExists(int32(bpid)); exists {
			report.Backend = inspect(bpid)
		}
	}

	meta, err := updater.LoadVersionMetadata(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if meta != nil {
		report.InstalledVersion = meta.Version
		report.InstalledAt = meta.InstalledAt
	}

	settings, err := config.LoadSettings(cfg.SettingsPath(), config.Settings{})
	if err != nil {
		return nil, err
	}
	report.LastUpdateCheck = settings.LastUpdateCheck
	report.LatestSeen = settings.LastVersion
	return report, nil
}

func inspect(pid int) *ProcessReport {
	r := &ProcessReport{PID: pid}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return r
	}
	if name, err := p.Name(); err == nil {
		r.Name = name
	}
	if mem, err := p.MemoryInfo(); err == nil && mem != nil {
		r.MemoryRSS = mem.RSS
	}
	if cpu, err := p.CPUPercent(); err == nil {
		r.CPUPercent = cpu
	}
	if created, err := p.CreateTime(); err == nil {
		r.StartedAt = time.UnixMilli(created)
	}
	return r
}

func printStatus(w io.Writer, r *StatusReport) {
	fmt.Fprintf(w, "Version:      %s\n", r.Version)
	fmt.Fprintf(w, "Data:         %s\n", r.DataDir)
	fmt.Fprintf(w, "App:          %s\n", describe(r.App))
	fmt.Fprintf(w, "Backend:      %s\n", describe(r.Backend))
	if r.InstalledVersion != "" {
		fmt.Fprintf(w, "Installed:    %s (%s)\n", r.InstalledVersion, r.InstalledAt.Format(time.RFC3339))
	}
	if !r.LastUpdateCheck.IsZero() {
		fmt.Fprintf(w, "Last check:   %s\n", r.LastUpdateCheck.Format(time.RFC3339))
	}
	if r.LatestSeen != "" {
		fmt.Fprintf(w, "Latest seen:  %s\n", r.LatestSeen)
	}
}

func describe(p *ProcessReport) string {
	if p == nil {
		return "not running"
	}
	return fmt.Sprintf("running (pid %d, %s, %.1f MB, %.1f%% cpu)", p.PID, p.Name, float64(p.MemoryRSS)/1024/1024, p.CPUPercent)
}
