//go:build unix

package capture

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setupProcessGroup starts the command as the leader of its own process group
// so helpers spawned by a wrapper shell can be signalled together.
func setupProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalProcessGroup sends sig to every process in the command's group.
func signalProcessGroup(cmd *exec.Cmd, sig unix.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	err := unix.Kill(-cmd.Process.Pid, sig)
	// the group may already be gone
	if err == unix.ESRCH {
		return nil
	}
	return err
}

func terminateProcessGroup(cmd *exec.Cmd) error {
	return signalProcessGroup(cmd, unix.SIGTERM)
}

func killProcessGroup(cmd *exec.Cmd) error {
	return signalProcessGroup(cmd, unix.SIGKILL)
}
