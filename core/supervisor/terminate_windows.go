//go:build windows

package supervisor

import "os"

// windows has no SIGTERM equivalent for console-less children
func terminate(p *os.Process) error {
	return p.Kill()
}
