//go:build !windows

package supervisor

import (
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// Workers lead their own process group so engine helpers die with them.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func terminate(p *os.Process) error {
	if err := unix.Kill(-p.Pid, unix.SIGTERM); err != nil {
		return p.Signal(unix.SIGTERM)
	}
	return nil
}

func forceKill(p *os.Process) error {
	if err := unix.Kill(-p.Pid, unix.SIGKILL); err != nil {
		return p.Kill()
	}
	return nil
}
