package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"
)

// RunLockInfo is the lock file format. It identifies the process holding
// the store so a crashed run's lock can be detected as stale.
type RunLockInfo struct {
	Holder    string    `json:"holder"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
}

// FileLock is a run lock backed by a lock file next to the database.
type FileLock struct {
	path string
	once sync.Once
	err  error
}

// AcquireFileLock creates lockPath exclusively. A lock left by a process that
// no longer exists on this host is taken over; a live holder yields an error
// wrapping ErrRunInProgress.
func AcquireFileLock(lockPath, holder string) (*FileLock, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("failed to get hostname: %w", err)
	}

	info := RunLockInfo{
		Holder:    holder,
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now().UTC(),
	}
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock: %w", err)
	}

	// Two attempts: the second follows removal of a stale lock.
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			_, werr := f.Write(data)
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(lockPath)
				return nil, fmt.Errorf("failed to write run lock: %w", errors.Join(werr, cerr))
			}
			return &FileLock{path: lockPath}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create run lock: %w", err)
		}

		existing, rerr := ReadFileLock(lockPath)
		if rerr == nil && isProcessAlive(existing.PID, existing.Hostname) {
			return nil, fmt.Errorf("%w: held by %s (PID %d on %s, started %s)",
				ErrRunInProgress, existing.Holder, existing.PID, existing.Hostname,
				existing.StartedAt.Format(time.RFC3339))
		}

		// Stale or unreadable lock - remove and retry
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale run lock: %w", err)
		}
	}
	return nil, fmt.Errorf("%w: lock file %s keeps reappearing", ErrRunInProgress, lockPath)
}

// ReadFileLock reads the lock file at lockPath.
func ReadFileLock(lockPath string) (*RunLockInfo, error) {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return nil, err
	}
	var info RunLockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("failed to parse run lock: %w", err)
	}
	return &info, nil
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.path
}

// Release removes the lock file.
func (l *FileLock) Release() error {
	l.once.Do(func() {
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			l.err = fmt.Errorf("failed to remove run lock: %w", err)
		}
	})
	return l.err
}

// isProcessAlive checks if a process with the given PID exists on the given hostname.
// Processes on other hosts cannot be checked and are assumed alive.
func isProcessAlive(pid int, hostname string) bool {
	currentHost, err := os.Hostname()
	if err != nil {
		return true
	}
	if !strings.EqualFold(hostname, currentHost) {
		return true
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Signal 0 checks for existence without delivering anything
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// EPERM: it exists but belongs to someone else
	if errors.Is(err, syscall.EPERM) {
		return true
	}
	return false
}
