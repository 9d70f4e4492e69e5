//go:build windows

package daemon

import (
	"os"
	"path/filepath"
)

// daemonLock is an exclusively created lock file. Windows has no flock, so a
// file left behind by a crashed daemon is detected through its recorded pid.
type daemonLock struct {
	f    *os.File
	path string
}

func acquireLock(lockFile string) (*daemonLock, error) {
	if err := os.MkdirAll(filepath.Dir(lockFile), 0o755); err != nil {
		return nil, err
	}
	for attempt := 0; ; attempt++ {
		f, err := os.OpenFile(lockFile, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
		if err == nil {
			if err := writeLockHolder(f); err != nil {
				_ = f.Close()
				_ = os.Remove(lockFile)
				return nil, err
			}
			return &daemonLock{f: f, path: lockFile}, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}
		holder := 0
		if existing, err := os.Open(lockFile); err == nil {
			holder = readLockHolder(existing)
			_ = existing.Close()
		}
		if attempt > 0 || (holder > 0 && processExists(holder)) {
			return nil, alreadyRunning(holder)
		}
		_ = os.Remove(lockFile)
	}
}

func (l *daemonLock) release() {
	if l == nil || l.f == nil {
		return
	}
	_ = l.f.Close()
	_ = os.Remove(l.path)
}
