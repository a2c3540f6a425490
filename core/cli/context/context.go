package cliContext

// Context holds the flags every command shares. Only logging lives here.
type Context struct {
	Debug     bool   `env:"STOCKROOM_DEBUG" help:"Shorthand for --log-level=debug"`
	LogLevel  string `env:"STOCKROOM_LOG_LEVEL" default:"info" enum:"error,warn,info,debug,trace" help:"Level of logs to output [${enum}]"`
	LogFormat string `env:"STOCKROOM_LOG_FORMAT" default:"text" enum:"text,json" help:"Format of logs to output [${enum}]"`
}

// Level is the log level to use; --debug raises the info level to debug.
func (c Context) Level() string {
	if c.Debug && c.LogLevel == "info" {
		return "debug"
	}
	return c.LogLevel
}
