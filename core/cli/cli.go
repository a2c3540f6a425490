package cli

import (
	cliContext "github.com/stockroom-pos/desktop/core/cli/context"
)

var CLI struct {
	cliContext.Context `embed:""`

	Run    RunCMD    `cmd:"" help:"Run the Stockroom desktop app, this is the default command if no other command is specified. Run 'stockroom run --help' for more information" default:"withargs"`
	Status StatusCMD `cmd:"" help:"Show whether the app and its backend are running"`
	Update UpdateCMD `cmd:"" help:"Check for, download and install updates without opening the app"`
}
