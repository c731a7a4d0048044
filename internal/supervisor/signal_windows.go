//go:build windows

package supervisor

import (
	"os"
	"syscall"
)

func sysProcAttr() *syscall.SysProcAttr { return nil }

// Windows has no SIGTERM; the kill API is the termination signal.
func terminate(p *os.Process) error { return p.Kill() }

func forceKill(p *os.Process) error { return p.Kill() }
