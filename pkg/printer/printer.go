package printer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/mudler/xlog"
)

var ErrEmptyContent = errors.New("nothing to print")

type Options struct {
	// Printer is the queue name; empty selects the system default.
	Printer string `json:"printer,omitempty"`
	Copies  int    `json:"copies,omitempty"`
}

// Command returns the program and arguments that print stdin without a
// dialog on goos.
func Command(goos string, opts Options) (string, []string) {
	if goos == "windows" {
		out := "Out-Printer"
		if opts.Printer != "" {
			out += " -Name '" + strings.ReplaceAll(opts.Printer, "'", "''") + "'"
		}
		copies := max(opts.Copies, 1)
		script := fmt.Sprintf("$c = @($input); 1..%d | ForEach-Object { $c | %s }", copies, out)
		return "powershell", []string{"-NoProfile", "-NonInteractive", "-Command", script}
	}

	args := []string{"-s"}
	if opts.Printer != "" {
		args = append(args, "-d", opts.Printer)
	}
	if opts.Copies > 1 {
		args = append(args, "-n", strconv.Itoa(opts.Copies))
	}
	return "lp", args
}

// Print sends content to the platform spooler.
func Print(ctx context.Context, content string, opts Options) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}

	name, args := Command(runtime.GOOS, opts)
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = strings.NewReader(content)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("print failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	xlog.Debug("print job submitted", "printer", opts.Printer, "bytes", len(content))
	return nil
}
