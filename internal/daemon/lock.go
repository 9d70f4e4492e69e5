package daemon

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ErrAlreadyRunning is returned when another daemon holds the home's lock.
var ErrAlreadyRunning = errors.New("teamscope is already running")

func alreadyRunning(pid int) error {
	if pid > 0 {
		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
	}
	return ErrAlreadyRunning
}

// readLockHolder returns the pid recorded in the lock file, or 0.
func readLockHolder(f *os.File) int {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0
	}
	b, err := io.ReadAll(io.LimitReader(f, 32))
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0
	}
	return pid
}

func writeLockHolder(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		return err
	}
	return f.Sync()
}
