package internal

import "fmt"

// Set at build time with -ldflags "-X github.com/stockroom-pos/desktop/internal.Version=..."
var Version = ""
var Commit = ""

func PrintableVersion() string {
	return fmt.Sprintf("%s (%s)", Version, Commit)
}

// SemanticVersion returns the bare release tag used for update comparisons.
func SemanticVersion() string {
	if Version == "" {
		return "v0.0.0-dev"
	}
	return Version
}
