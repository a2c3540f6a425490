package config

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

type CrashPolicy string

const (
	CrashPolicyRestart CrashPolicy = "restart"
	CrashPolicyQuit    CrashPolicy = "quit"
	CrashPolicyNotify  CrashPolicy = "notify"
)

type WindowConfig struct {
	Title     string
	Width     int
	Height    int
	MinWidth  int
	MinHeight int
	// ShowFallback shows the window even if the content never reports ready. Zero disables it.
	ShowFallback time.Duration
}

type ApplicationConfig struct {
	Context context.Context

	AppID   string
	AppName string
	Version string

	// Packaged is true when running from an installed bundle. It selects
	// production mode: the host owns the backend and serves built assets.
	Packaged       bool
	GOOS           string
	ExecutablePath string
	ProjectRoot    string
	ResourcesDir   string
	DataDir        string

	BackendDir            string
	BackendEntry          string
	BackendRuntime        string
	BackendConfigFile     string
	BackendModeEnv        string
	BackendHealthURL      string
	HealthInterval        time.Duration
	HealthAttempts        int
	StopTimeout           time.Duration
	CrashPolicy           CrashPolicy
	MaxRestarts           int
	RestartDelay          time.Duration
	WatchBackendConfig    bool
	RestartOnConfigChange bool
	BackendLogLines       int

	DevServerURL string
	FrontendDir  string
	Window       WindowConfig

	UpdatesEnabled      bool
	UpdateOwner         string
	UpdateRepo          string
	UpdateAPIURL        string
	UpdateCheckInterval time.Duration
	// UpdateTarget is the file replaced when a downloaded update is applied.
	UpdateTarget string

	PrintTimeout time.Duration
}

type AppOption func(*ApplicationConfig)

func NewApplicationConfig(o ...AppOption) *ApplicationConfig {
	exe, _ := os.Executable()
	wd, _ := os.Getwd()

	opt := &ApplicationConfig{
		Context:        context.Background(),
		AppID:          "com.stockroom.desktop",
		AppName:        "Stockroom",
		GOOS:           runtime.GOOS,
		ExecutablePath: exe,
		ProjectRoot:    wd,

		BackendEntry:      "server.js",
		BackendRuntime:    "node",
		BackendConfigFile: ".env",
		BackendModeEnv:    "NODE_ENV",
		BackendHealthURL:  "http://127.0.0.1:3000/api/health",
		HealthInterval:    time.Second,
		HealthAttempts:    30,
		StopTimeout:       5 * time.Second,
		CrashPolicy:       CrashPolicyRestart,
		MaxRestarts:       5,
		RestartDelay:      time.Second,
		BackendLogLines:   500,

		DevServerURL: "http://localhost:5173",
		FrontendDir:  "dist",
		Window: WindowConfig{
			Title:     "Stockroom",
			Width:     1280,
			Height:    800,
			MinWidth:  1024,
			MinHeight: 700,
		},

		UpdateOwner:         "stockroom-pos",
		UpdateRepo:          "desktop",
		UpdateAPIURL:        "https://api.github.com",
		UpdateCheckInterval: 4 * time.Hour,

		PrintTimeout: 30 * time.Second,
	}
	for _, oo := range o {
		oo(opt)
	}
	opt.resolvePaths()
	return opt
}

// Mode is the value handed to the backend through BackendModeEnv.
func (o *ApplicationConfig) Mode() string {
	if o.Packaged {
		return "production"
	}
	return "development"
}

// InstallDir is the directory holding the executable.
func (o *ApplicationConfig) InstallDir() string {
	return filepath.Dir(o.ExecutablePath)
}

func (o *ApplicationConfig) BackendEntryPath() string {
	return filepath.Join(o.BackendDir, o.BackendEntry)
}

func (o *ApplicationConfig) BackendConfigPath() string {
	return filepath.Join(o.BackendDir, o.BackendConfigFile)
}

func (o *ApplicationConfig) FrontendPath() string {
	if filepath.IsAbs(o.FrontendDir) {
		return o.FrontendDir
	}
	return filepath.Join(o.InstallDir(), o.FrontendDir)
}

func (o *ApplicationConfig) UpdatesPath() string {
	return filepath.Join(o.DataDir, "updates")
}

func (o *ApplicationConfig) SettingsPath() string {
	return filepath.Join(o.DataDir, "settings.yaml")
}

func (o *ApplicationConfig) BackendPIDPath() string {
	return filepath.Join(o.DataDir, "backend.pid")
}

// resolvePaths fills the directories that were not set explicitly. Packaged
// builds look next to the executable, unpackaged ones under the project root.
func (o *ApplicationConfig) resolvePaths() {
	if o.ResourcesDir == "" {
		o.ResourcesDir = ResourcesDir(o.GOOS, o.ExecutablePath, o.Packaged, o.ProjectRoot)
	}
	if o.BackendDir == "" {
		o.BackendDir = filepath.Join(o.ResourcesDir, "backend")
	}
	if o.DataDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			base = os.TempDir()
		}
		o.DataDir = filepath.Join(base, o.AppName)
	}
	if o.UpdateTarget == "" {
		o.UpdateTarget = o.ExecutablePath
	}
}

// ResourcesDir returns the platform resource directory for a packaged
// build, or the project root otherwise.
func ResourcesDir(goos, executable string, packaged bool, projectRoot string) string {
	if !packaged {
		return projectRoot
	}
	exeDir := filepath.Dir(executable)
	if goos == "darwin" {
		// <App>.app/Contents/MacOS/<exe> -> <App>.app/Contents/Resources
		return filepath.Join(exeDir, "..", "Resources")
	}
	return filepath.Join(exeDir, "resources")
}

func WithContext(ctx context.Context) AppOption {
	return func(o *ApplicationConfig) {
		o.Context = ctx
	}
}

func WithAppID(id string) AppOption {
	return func(o *ApplicationConfig) {
		o.AppID = id
	}
}

func WithAppName(name string) AppOption {
	return func(o *ApplicationConfig) {
		o.AppName = name
	}
}

func WithVersion(v string) AppOption {
	return func(o *ApplicationConfig) {
		o.Version = v
	}
}

func WithPackaged(b bool) AppOption {
	return func(o *ApplicationConfig) {
		o.Packaged = b
	}
}

func WithGOOS(goos string) AppOption {
	return func(o *ApplicationConfig) {
		o.GOOS = goos
	}
}

func WithExecutablePath(path string) AppOption {
	return func(o *ApplicationConfig) {
		o.ExecutablePath = path
	}
}

func WithProjectRoot(path string) AppOption {
	return func(o *ApplicationConfig) {
		o.ProjectRoot = path
	}
}

func WithResourcesDir(path string) AppOption {
	return func(o *ApplicationConfig) {
		o.ResourcesDir = path
	}
}

func WithDataDir(path string) AppOption {
	return func(o *ApplicationConfig) {
		o.DataDir = path
	}
}

func WithBackendDir(path string) AppOption {
	return func(o *ApplicationConfig) {
		o.BackendDir = path
	}
}

func WithBackendEntry(entry string) AppOption {
	return func(o *ApplicationConfig) {
		o.BackendEntry = entry
	}
}

func WithBackendRuntime(runtime string) AppOption {
	return func(o *ApplicationConfig) {
		o.BackendRuntime = runtime
	}
}

func WithBackendConfigFile(name string) AppOption {
	return func(o *ApplicationConfig) {
		o.BackendConfigFile = name
	}
}

func WithBackendHealthURL(url string) AppOption {
	return func(o *ApplicationConfig) {
		o.BackendHealthURL = url
	}
}

func WithHealthCheck(interval time.Duration, attempts int) AppOption {
	return func(o *ApplicationConfig) {
		o.HealthInterval = interval
		o.HealthAttempts = attempts
	}
}

func WithStopTimeout(t time.Duration) AppOption {
	return func(o *ApplicationConfig) {
		o.StopTimeout = t
	}
}

func WithCrashPolicy(p CrashPolicy, maxRestarts int, delay time.Duration) AppOption {
	return func(o *ApplicationConfig) {
		o.CrashPolicy = p
		o.MaxRestarts = maxRestarts
		o.RestartDelay = delay
	}
}

var EnableBackendConfigWatch = func(o *ApplicationConfig) {
	o.WatchBackendConfig = true
}

var EnableRestartOnConfigChange = func(o *ApplicationConfig) {
	o.WatchBackendConfig = true
	o.RestartOnConfigChange = true
}

func WithDevServerURL(url string) AppOption {
	return func(o *ApplicationConfig) {
		o.DevServerURL = url
	}
}

func WithFrontendDir(dir string) AppOption {
	return func(o *ApplicationConfig) {
		o.FrontendDir = dir
	}
}

func WithWindowSize(width, height int) AppOption {
	return func(o *ApplicationConfig) {
		if width > 0 {
			o.Window.Width = max(width, o.Window.MinWidth)
		}
		if height > 0 {
			o.Window.Height = max(height, o.Window.MinHeight)
		}
	}
}

func WithWindowShowFallback(d time.Duration) AppOption {
	return func(o *ApplicationConfig) {
		o.Window.ShowFallback = d
	}
}

func WithUpdates(enabled bool) AppOption {
	return func(o *ApplicationConfig) {
		o.UpdatesEnabled = enabled
	}
}

func WithUpdateRepository(owner, repo string) AppOption {
	return func(o *ApplicationConfig) {
		o.UpdateOwner = owner
		o.UpdateRepo = repo
	}
}

func WithUpdateAPIURL(url string) AppOption {
	return func(o *ApplicationConfig) {
		o.UpdateAPIURL = url
	}
}

func WithUpdateCheckInterval(d time.Duration) AppOption {
	return func(o *ApplicationConfig) {
		o.UpdateCheckInterval = d
	}
}

func WithUpdateTarget(path string) AppOption {
	return func(o *ApplicationConfig) {
		o.UpdateTarget = path
	}
}

func WithPrintTimeout(d time.Duration) AppOption {
	return func(o *ApplicationConfig) {
		o.PrintTimeout = d
	}
}
