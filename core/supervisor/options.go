package supervisor

import (
	"time"

	"github.com/mudler/xlog"

	"github.com/stockroom-pos/desktop/pkg/health"
)

// Sink receives every line the backend writes.
type Sink interface {
	Stdout(line string)
	Stderr(line string)
}

type xlogSink struct{}

func (xlogSink) Stdout(line string) { xlog.Info(FormatLine(line, false)) }
func (xlogSink) Stderr(line string) { xlog.Error(FormatLine(line, true)) }

type options struct {
	dir            string
	entry          string
	runtime        string
	configFile     string
	modeEnv        string
	mode           string
	healthURL      string
	healthInterval time.Duration
	healthAttempts int
	stopTimeout    time.Duration
	pidFile        string
	sink           Sink
	logRetention   int
}

func defaultOptions() options {
	return options{
		entry:          "server.js",
		runtime:        "node",
		configFile:     ".env",
		modeEnv:        "NODE_ENV",
		mode:           "production",
		healthURL:      health.DefaultURL,
		healthInterval: health.DefaultInterval,
		healthAttempts: health.DefaultAttempts,
		stopTimeout:    5 * time.Second,
		sink:           xlogSink{},
		logRetention:   500,
	}
}

type Option func(*options)

// WithDir sets the backend root. The process runs with it as working directory.
func WithDir(dir string) Option {
	return func(o *options) {
		o.dir = dir
	}
}

func WithEntry(entry string) Option {
	return func(o *options) {
		o.entry = entry
	}
}

func WithRuntime(runtime string) Option {
	return func(o *options) {
		o.runtime = runtime
	}
}

// WithConfigFile names the env file the backend reads from its root. An
// empty name skips the check.
func WithConfigFile(name string) Option {
	return func(o *options) {
		o.configFile = name
	}
}

func WithMode(env, mode string) Option {
	return func(o *options) {
		o.modeEnv = env
		o.mode = mode
	}
}

func WithHealthURL(url string) Option {
	return func(o *options) {
		o.healthURL = url
	}
}

func WithHealthInterval(d time.Duration) Option {
	return func(o *options) {
		o.healthInterval = d
	}
}

func WithHealthAttempts(n int) Option {
	return func(o *options) {
		o.healthAttempts = n
	}
}

func WithStopTimeout(d time.Duration) Option {
	return func(o *options) {
		o.stopTimeout = d
	}
}

func WithPIDFile(path string) Option {
	return func(o *options) {
		o.pidFile = path
	}
}

func WithSink(sink Sink) Option {
	return func(o *options) {
		if sink != nil {
			o.sink = sink
		}
	}
}

func WithLogRetention(lines int) Option {
	return func(o *options) {
		if lines > 0 {
			o.logRetention = lines
		}
	}
}
