//go:build windows

package daemon

import (
	"os"
	"os/exec"
	"syscall"
)

// detachedProcess is DETACHED_PROCESS; the syscall package does not export it.
const detachedProcess = 0x00000008

// setDaemonSysProcAttr starts the background monitor without a console and in
// its own process group, so closing the launching terminal does not stop it.
func setDaemonSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP | detachedProcess,
		HideWindow:    true,
	}
}

// processExists relies on FindProcess opening a handle, which fails for a pid
// that is no longer running.
func processExists(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}

// signalTerm kills the process; Windows has no SIGTERM to deliver.
func signalTerm(proc *os.Process) error {
	return proc.Kill()
}
