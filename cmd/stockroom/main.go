package main

import (
	"os"
	"path/filepath"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/mudler/xlog"

	"github.com/stockroom-pos/desktop/core/cli"
	"github.com/stockroom-pos/desktop/core/config"
	"github.com/stockroom-pos/desktop/core/desktop"
	"github.com/stockroom-pos/desktop/internal"
)

const description = `  Stockroom desktop runs the Stockroom point of sale: it starts the bundled backend, opens the app window and keeps the installation up to date.

Run "stockroom status" to see whether the app and its backend are running.

Version: ${version}
`

func main() {
	xlog.SetLogger(xlog.NewLogger(xlog.LogLevel("info"), "text"))
	loadEnvFiles()

	ctx := kong.Parse(&cli.CLI,
		kong.Name("stockroom"),
		kong.Description(description),
		kong.UsageOnError(),
		kong.Vars{
			"basepath": kong.ExpandPath("."),
			"version":  internal.PrintableVersion(),
		},
		kong.Bind(cli.ShellFactory(newShell)),
	)

	xlog.SetLogger(xlog.NewLogger(xlog.LogLevel(cli.CLI.Level()), cli.CLI.LogFormat))

	if err := ctx.Run(&cli.CLI.Context); err != nil {
		xlog.Fatal("stockroom failed", "command", ctx.Command(), "error", err)
	}
}

func newShell(cfg *config.ApplicationConfig) cli.Shell {
	return desktop.New(cfg)
}

// loadEnvFiles applies every env file that exists; variables already set win.
func loadEnvFiles() {
	files := []string{".env", "stockroom.env"}
	if home, err := os.UserHomeDir(); err == nil {
		files = append(files, filepath.Join(home, "stockroom.env"), filepath.Join(home, ".config", "stockroom.env"))
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			xlog.Error("skipping env file", "file", f, "error", err)
			continue
		}
		xlog.Debug("loaded env file", "file", f)
	}
}
