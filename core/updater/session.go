package updater

import "time"

type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseChecking     Phase = "checking"
	PhaseAvailable    Phase = "available"
	PhaseNotAvailable Phase = "not-available"
	PhaseDownloading  Phase = "downloading"
	PhaseDownloaded   Phase = "downloaded"
	PhaseInstalling   Phase = "installing"
	PhaseError        Phase = "error"
)

// Info is the part of a release shown to the user.
type Info struct {
	Version     string    `json:"version"`
	Name        string    `json:"releaseName"`
	Notes       string    `json:"releaseNotes"`
	PublishedAt time.Time `json:"releaseDate"`
}

func infoOf(r *Release) *Info {
	if r == nil {
		return nil
	}
	return &Info{
		Version:     r.Version,
		Name:        r.Name,
		Notes:       r.Body,
		PublishedAt: r.PublishedAt,
	}
}

// Progress always satisfies 0 <= Percent <= 100 and Transferred <= Total.
type Progress struct {
	Percent     float64 `json:"percent"`
	Transferred int64   `json:"transferred"`
	Total       int64   `json:"total"`
}

// NewProgress clamps raw counters into a valid Progress. An unknown total
// is reported as the bytes seen so far with a zero percentage.
func NewProgress(transferred, total int64) Progress {
	if transferred < 0 {
		transferred = 0
	}
	if total <= 0 {
		return Progress{Transferred: transferred, Total: transferred}
	}
	if transferred > total {
		total = transferred
	}
	percent := float64(transferred) / float64(total) * 100
	return Progress{
		Percent:     min(max(percent, 0), 100),
		Transferred: transferred,
		Total:       total,
	}
}

// Session is one check/download/install cycle as seen by subscribers.
type Session struct {
	ID       string
	Phase    Phase
	Release  *Info
	Progress Progress
	Err      string
	At       time.Time
}

type CheckResult struct {
	Available bool   `json:"available"`
	Version   string `json:"version,omitempty"`
}
