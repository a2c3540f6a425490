package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/stockroom-pos/desktop/core/config"
	"github.com/stockroom-pos/desktop/core/supervisor"
	"github.com/stockroom-pos/desktop/core/updater"
	"github.com/stockroom-pos/desktop/internal"
)

// AppFlags locate the installation and its state. Every command shares them.
type AppFlags struct {
	DataDir      string `env:"STOCKROOM_DATA_DIR" type:"path" help:"Directory for settings, downloaded updates and runtime state (defaults to the user config directory)" group:"storage"`
	ResourcesDir string `env:"STOCKROOM_RESOURCES_DIR" type:"path" help:"Directory holding the bundled backend (defaults to the platform resources directory)" group:"storage"`
	Dev          bool   `env:"STOCKROOM_DEV" help:"Development mode: load the frontend from the dev server and leave the backend to the developer" group:"development"`
	ProjectRoot  string `env:"STOCKROOM_PROJECT_ROOT" type:"path" default:"${basepath}" help:"Project root used to locate the backend in development mode" group:"development"`
}

func (f *AppFlags) options() []config.AppOption {
	opts := []config.AppOption{
		config.WithVersion(internal.SemanticVersion()),
		config.WithPackaged(!f.Dev),
		config.WithProjectRoot(f.ProjectRoot),
	}
	if f.DataDir != "" {
		opts = append(opts, config.WithDataDir(f.DataDir))
	}
	if f.ResourcesDir != "" {
		opts = append(opts, config.WithResourcesDir(f.ResourcesDir))
	}
	return opts
}

// UpdateFlags select where releases come from.
type UpdateFlags struct {
	UpdateRepository string `env:"STOCKROOM_UPDATE_REPOSITORY" default:"stockroom-pos/desktop" help:"GitHub repository publishing releases, as owner/name" group:"updates"`
	UpdateAPIURL     string `env:"STOCKROOM_UPDATE_API_URL" default:"https://api.github.com" help:"Base URL of the GitHub API" group:"updates"`
}

func (f *UpdateFlags) options() ([]config.AppOption, error) {
	owner, repo, ok := strings.Cut(f.UpdateRepository, "/")
	if !ok || owner == "" || repo == "" {
		return nil, fmt.Errorf("invalid update repository %q, expected owner/name", f.UpdateRepository)
	}
	return []config.AppOption{
		config.WithUpdateRepository(owner, repo),
		config.WithUpdateAPIURL(f.UpdateAPIURL),
	}, nil
}

// BackendFlags describe how the bundled backend is run.
type BackendFlags struct {
	BackendDir            string        `env:"STOCKROOM_BACKEND_DIR" type:"path" help:"Directory of the backend (defaults to <resources>/backend)" group:"backend"`
	BackendEntry          string        `env:"STOCKROOM_BACKEND_ENTRY" default:"server.js" help:"Entry point of the backend, relative to its directory" group:"backend"`
	BackendRuntime        string        `env:"STOCKROOM_BACKEND_RUNTIME" default:"node" help:"Runtime executing the backend entry point" group:"backend"`
	BackendConfigFile     string        `env:"STOCKROOM_BACKEND_CONFIG_FILE" default:".env" help:"Env file of the backend, relative to its directory" group:"backend"`
	BackendHealthURL      string        `env:"STOCKROOM_BACKEND_HEALTH_URL" default:"http://127.0.0.1:3000/api/health" help:"URL polled until the backend answers" group:"backend"`
	HealthInterval        time.Duration `env:"STOCKROOM_HEALTH_INTERVAL" default:"1s" help:"Delay before each health probe" group:"backend"`
	HealthAttempts        int           `env:"STOCKROOM_HEALTH_ATTEMPTS" default:"30" help:"Health probes before giving up on the backend" group:"backend"`
	StopTimeout           time.Duration `env:"STOCKROOM_STOP_TIMEOUT" default:"5s" help:"Grace period before the backend is killed on stop" group:"backend"`
	CrashPolicy           string        `env:"STOCKROOM_CRASH_POLICY" default:"restart" enum:"restart,quit,notify" help:"What to do when the backend exits on its own [${enum}]" group:"backend"`
	MaxRestarts           int           `env:"STOCKROOM_MAX_RESTARTS" default:"5" help:"Quick successive crashes tolerated by the restart policy" group:"backend"`
	RestartDelay          time.Duration `env:"STOCKROOM_RESTART_DELAY" default:"1s" help:"Base delay between restarts, multiplied by the crash count" group:"backend"`
	WatchBackendConfig    bool          `env:"STOCKROOM_WATCH_BACKEND_CONFIG" help:"Tell the frontend when the backend env file changes" group:"backend"`
	RestartOnConfigChange bool          `env:"STOCKROOM_RESTART_ON_CONFIG_CHANGE" help:"Restart the backend when its env file changes" group:"backend"`
}

func (f *BackendFlags) options() []config.AppOption {
	opts := []config.AppOption{
		config.WithBackendEntry(f.BackendEntry),
		config.WithBackendRuntime(f.BackendRuntime),
		config.WithBackendConfigFile(f.BackendConfigFile),
		config.WithBackendHealthURL(f.BackendHealthURL),
		config.WithHealthCheck(f.HealthInterval, f.HealthAttempts),
		config.WithStopTimeout(f.StopTimeout),
		config.WithCrashPolicy(config.CrashPolicy(f.CrashPolicy), f.MaxRestarts, f.RestartDelay),
	}
	if f.BackendDir != "" {
		opts = append(opts, config.WithBackendDir(f.BackendDir))
	}
	if f.WatchBackendConfig {
		opts = append(opts, config.EnableBackendConfigWatch)
	}
	if f.RestartOnConfigChange {
		opts = append(opts, config.EnableRestartOnConfigChange)
	}
	return opts
}

func newSupervisor(cfg *config.ApplicationConfig) *supervisor.Supervisor {
	return supervisor.New(
		supervisor.WithDir(cfg.BackendDir),
		supervisor.WithEntry(cfg.BackendEntry),
		supervisor.WithRuntime(cfg.BackendRuntime),
		supervisor.WithConfigFile(cfg.BackendConfigFile),
		supervisor.WithMode(cfg.BackendModeEnv, cfg.Mode()),
		supervisor.WithHealthURL(cfg.BackendHealthURL),
		supervisor.WithHealthInterval(cfg.HealthInterval),
		supervisor.WithHealthAttempts(cfg.HealthAttempts),
		supervisor.WithStopTimeout(cfg.StopTimeout),
		supervisor.WithPIDFile(cfg.BackendPIDPath()),
		supervisor.WithLogRetention(cfg.BackendLogLines),
	)
}

func newUpdater(cfg *config.ApplicationConfig) *updater.Coordinator {
	source := updater.NewGitHubSource(cfg.UpdateAPIURL, cfg.UpdateOwner, cfg.UpdateRepo)
	return updater.New(source, cfg.Version,
		updater.WithUpdatesDir(cfg.UpdatesPath()),
		updater.WithTarget(cfg.UpdateTarget),
		updater.WithCheckInterval(cfg.UpdateCheckInterval),
	)
}
