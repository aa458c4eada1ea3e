package store

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrLockHeld means another live process holds the lock for this mode.
var ErrLockHeld = errors.New("mode lock held by running process")

// ModeLock is a per-mode exclusive run lock. Each operating mode gets its
// own lock file so a farming instance and a scan instance can coexist while
// two farming instances cannot.
type ModeLock struct {
	path string
	file *os.File
}

// AcquireModeLock takes the lock for mode under root, creating root if
// needed. A lock left behind by a dead process is reclaimed.
func AcquireModeLock(root, mode string) (*ModeLock, error) {
	if root == "" {
		return nil, fmt.Errorf("state dir required")
	}
	if mode == "" {
		return nil, fmt.Errorf("lock mode required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(root, mode+".lock")

	for attempts := 0; attempts < 3; attempts++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			if writeErr := writeLockFile(f, time.Now().UTC()); writeErr != nil {
				_ = f.Close()
				_ = os.Remove(path)
				return nil, writeErr
			}
			return &ModeLock{path: path, file: f}, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}
		reclaim, reason, checkErr := shouldReclaimLock(path)
		if checkErr != nil {
			return nil, fmt.Errorf("lock exists: %s (owner check failed: %v)", path, checkErr)
		}
		if !reclaim {
			return nil, fmt.Errorf("%w: %s (%s)", ErrLockHeld, path, reason)
		}
		if removeErr := os.Remove(path); removeErr != nil && !os.IsNotExist(removeErr) {
			return nil, removeErr
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrLockHeld, path)
}

func writeLockFile(f *os.File, now time.Time) error {
	payload := "pid=" + strconv.Itoa(os.Getpid()) + "\nstarted_at=" + now.Format(time.RFC3339) + "\n"
	if _, err := f.WriteString(payload); err != nil {
		return err
	}
	return f.Sync()
}

type lockMeta struct {
	pid       int
	startedAt time.Time
}

func shouldReclaimLock(path string) (bool, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, "lock_disappeared", nil
		}
		return false, "", err
	}
	meta, err := parseLockMeta(data)
	if err != nil {
		return false, "", err
	}
	if meta.pid <= 0 {
		return false, "missing_lock_owner_info", nil
	}
	alive, err := isProcessAlive(meta.pid)
	if err != nil {
		return false, "", err
	}
	if alive {
		return false, "owner_process_running", nil
	}
	return true, "owner_process_not_running", nil
}

func parseLockMeta(data []byte) (lockMeta, error) {
	meta := lockMeta{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil && pid > 0 {
				meta.pid = pid
			}
		case "started_at":
			if ts, err := time.Parse(time.RFC3339, value); err == nil {
				meta.startedAt = ts.UTC()
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return lockMeta{}, err
	}
	return meta, nil
}

func isProcessAlive(pid int) (bool, error) {
	if pid <= 0 {
		return false, nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false, err
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrProcessDone) {
		return false, nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no such process"),
		strings.Contains(msg, "process already finished"),
		strings.Contains(msg, "not found"):
		return false, nil
	case strings.Contains(msg, "operation not permitted"),
		strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "access is denied"):
		return true, nil
	default:
		return false, nil
	}
}

func (l *ModeLock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

func (l *ModeLock) Release() error {
	if l == nil {
		return nil
	}
	if l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}
	if l.path == "" {
		return nil
	}
	err := os.Remove(l.path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	l.path = ""
	return nil
}
