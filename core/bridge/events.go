package bridge

import (
	"time"

	"github.com/mudler/xlog"

	"github.com/stockroom-pos/desktop/core/supervisor"
	"github.com/stockroom-pos/desktop/core/updater"
)

// Renderer event names.
const (
	EventUpdateChecking      = "update-checking"
	EventUpdateAvailable     = "update-available"
	EventUpdateNotAvailable  = "update-not-available"
	EventUpdateError         = "update-error"
	EventDownloadProgress    = "download-progress"
	EventUpdateDownloaded    = "update-downloaded"
	EventBackendStatus       = "backend-status"
	EventBackendExited       = "backend-exited"
	EventBackendConfigChange = "backend-config-changed"
	EventPrintResult         = "print-result"
)

// Emitter delivers one-way events to the renderer.
type Emitter interface {
	Emit(name string, data any)
}

type UpdateInfo struct {
	Version      string `json:"version"`
	ReleaseName  string `json:"releaseName"`
	ReleaseNotes string `json:"releaseNotes"`
	ReleaseDate  string `json:"releaseDate"`
}

type VersionInfo struct {
	Version string `json:"version"`
}

type ErrorInfo struct {
	Message string `json:"message"`
}

type DownloadProgress struct {
	Percent     float64 `json:"percent"`
	Transferred int64   `json:"transferred"`
	Total       int64   `json:"total"`
}

type BackendStatus struct {
	Running bool `json:"running"`
	PID     *int `json:"pid"`
}

type BackendExited struct {
	Code int `json:"code"`
}

type ConfigChanged struct {
	Path      string `json:"path"`
	Restarted bool   `json:"restarted"`
}

type PrintResult struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type UpdateCheckResult struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
}

func statusOf(s supervisor.Status) BackendStatus {
	return BackendStatus{Running: s.Running, PID: s.PID}
}

// Publisher turns host state into renderer events.
type Publisher struct {
	emitter Emitter
}

func NewPublisher(e Emitter) *Publisher {
	return &Publisher{emitter: e}
}

func (p *Publisher) emit(name string, data any) {
	if p == nil || p.emitter == nil {
		return
	}
	xlog.Debug("emitting renderer event", "event", name)
	p.emitter.Emit(name, data)
}

func (p *Publisher) BackendStatus(s supervisor.Status) {
	p.emit(EventBackendStatus, statusOf(s))
}

func (p *Publisher) BackendExited(code int) {
	p.emit(EventBackendExited, BackendExited{Code: code})
}

func (p *Publisher) ConfigChanged(path string, restarted bool) {
	p.emit(EventBackendConfigChange, ConfigChanged{Path: path, Restarted: restarted})
}

func (p *Publisher) PrintResult(err error) {
	if err != nil {
		p.emit(EventPrintResult, PrintResult{Success: false, Error: err.Error()})
		return
	}
	p.emit(EventPrintResult, PrintResult{Success: true})
}

// UpdateSession maps one update transition onto its renderer event.
// Idle and installing transitions have none.
func (p *Publisher) UpdateSession(s updater.Session) {
	switch s.Phase {
	case updater.PhaseChecking:
		p.emit(EventUpdateChecking, nil)
	case updater.PhaseAvailable:
		p.emit(EventUpdateAvailable, updateInfo(s.Release))
	case updater.PhaseNotAvailable:
		p.emit(EventUpdateNotAvailable, VersionInfo{Version: versionOf(s.Release)})
	case updater.PhaseError:
		p.emit(EventUpdateError, ErrorInfo{Message: s.Err})
	case updater.PhaseDownloading:
		p.emit(EventDownloadProgress, DownloadProgress{
			Percent:     s.Progress.Percent,
			Transferred: s.Progress.Transferred,
			Total:       s.Progress.Total,
		})
	case updater.PhaseDownloaded:
		p.emit(EventUpdateDownloaded, VersionInfo{Version: versionOf(s.Release)})
	}
}

// ForwardUpdates subscribes to update sessions until the returned function
// is called.
func (p *Publisher) ForwardUpdates(subscribe func(func(updater.Session)) func()) (stop func()) {
	return subscribe(p.UpdateSession)
}

func updateInfo(r *updater.Info) UpdateInfo {
	if r == nil {
		return UpdateInfo{}
	}
	info := UpdateInfo{
		Version:      r.Version,
		ReleaseName:  r.Name,
		ReleaseNotes: r.Notes,
	}
	if !r.PublishedAt.IsZero() {
		info.ReleaseDate = r.PublishedAt.UTC().Format(time.RFC3339)
	}
	return info
}

func versionOf(r *updater.Info) string {
	if r == nil {
		return ""
	}
	return r.Version
}
