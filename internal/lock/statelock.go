// Package lock keeps a single claudegw host per state database.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// HeldError reports that another process holds the lock.
type HeldError struct {
	Path string
	// PID is the holder's pid as written in the lock file, 0 if unreadable.
	PID int
}

func (e *HeldError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("state is locked by pid %d (%s)", e.PID, e.Path)
	}
	return fmt.Sprintf("state is locked by another process (%s)", e.Path)
}

// StateLock is an flock(2) held on "<state path>.lock" for the life of the
// process. The file holds the owner's pid.
type StateLock struct {
	path string
	f    *os.File
}

// PathFor returns the lock file guarding statePath.
func PathFor(statePath string) string {
	return statePath + ".lock"
}

// AcquireState takes the lock for statePath without blocking.
func AcquireState(statePath string) (*StateLock, error) {
	if statePath == "" {
		return nil, errors.New("state path is empty")
	}
	path := PathFor(statePath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, &HeldError{Path: path, PID: readPID(path)}
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	l := &StateLock{path: path, f: f}
	if err := l.writePID(); err != nil {
		_ = l.Release()
		return nil, err
	}
	return l, nil
}

func (l *StateLock) writePID() error {
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := l.f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		return fmt.Errorf("write pid: %w", err)
	}
	return l.f.Sync()
}

func readPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

func (l *StateLock) Path() string { return l.path }

// Release unlocks and closes the lock file. The file itself is left in place.
func (l *StateLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
