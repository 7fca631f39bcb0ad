package runstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	stateLockDirName   = ".state.lock"
	stateLockOwnerFile = "owner.json"
)

// StateLock guards a state directory against a second writer process.
type StateLock struct {
	lockDir string
}

type stateLockOwner struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

func AcquireStateLock(stateDir string) (StateLock, error) {
	target := strings.TrimSpace(stateDir)
	if target == "" {
		return StateLock{}, fmt.Errorf("state directory is required")
	}
	if err := Mkdir(target); err != nil {
		return StateLock{}, err
	}

	lockDir := filepath.Join(target, stateLockDirName)
	if err := os.Mkdir(lockDir, 0o755); err != nil {
		if !os.IsExist(err) {
			return StateLock{}, fmt.Errorf("acquire state lock for %s: %w", target, err)
		}
		owner, known := readStateLockOwner(lockDir)
		if !known || !ownerIsGone(owner) {
			return StateLock{}, lockedError(target, owner, known)
		}
		if err := breakStateLock(lockDir, owner); err != nil {
			return StateLock{}, fmt.Errorf("%w (stale owner pid=%d could not be cleared: %v)", lockedError(target, owner, known), owner.PID, err)
		}
		if err := os.Mkdir(lockDir, 0o755); err != nil {
			if os.IsExist(err) {
				return StateLock{}, fmt.Errorf("state directory is locked: %s", target)
			}
			return StateLock{}, fmt.Errorf("acquire state lock for %s: %w", target, err)
		}
	}

	owner := stateLockOwner{
		PID:       os.Getpid(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
	}
	ownerPath := filepath.Join(lockDir, stateLockOwnerFile)
	if err := WriteJSON(ownerPath, owner); err != nil {
		_ = os.Remove(lockDir)
		return StateLock{}, fmt.Errorf("write state lock owner for %s: %w", target, err)
	}

	return StateLock{lockDir: lockDir}, nil
}

func readStateLockOwner(lockDir string) (stateLockOwner, bool) {
	var owner stateLockOwner
	if err := ReadJSON(filepath.Join(lockDir, stateLockOwnerFile), &owner); err != nil {
		return stateLockOwner{}, false
	}
	return owner, owner.PID > 0 && owner.CreatedAt != ""
}

func lockedError(target string, owner stateLockOwner, known bool) error {
	if !known {
		return fmt.Errorf("state directory is locked: %s", target)
	}
	return fmt.Errorf(
		"state directory is locked: %s (pid=%d created_at=%s host=%s)",
		target, owner.PID, owner.CreatedAt, owner.Hostname,
	)
}

// ownerIsGone reports whether the lock was left behind by a process on this
// host that no longer runs. Owners on other hosts are never considered gone.
func ownerIsGone(owner stateLockOwner) bool {
	if owner.Hostname == "" || owner.Hostname != hostnameOrUnknown() {
		return false
	}
	if owner.PID == os.Getpid() {
		return false
	}
	return !processAlive(owner.PID)
}

// breakStateLock moves the stale lock aside before deleting it. A lock that
// another process retook in the meantime is put back.
func breakStateLock(lockDir string, stale stateLockOwner) error {
	tomb := fmt.Sprintf("%s.stale-%d-%d", lockDir, os.Getpid(), time.Now().UnixNano())
	if err := os.Rename(lockDir, tomb); err != nil {
		return err
	}
	moved, _ := readStateLockOwner(tomb)
	if moved != stale {
		if err := os.Rename(tomb, lockDir); err != nil {
			return fmt.Errorf("restore lock taken by pid %d: %w", moved.PID, err)
		}
		return fmt.Errorf("lock was retaken by pid %d", moved.PID)
	}
	return os.RemoveAll(tomb)
}

func (l StateLock) Release() error {
	if strings.TrimSpace(l.lockDir) == "" {
		return nil
	}
	_ = os.Remove(filepath.Join(l.lockDir, stateLockOwnerFile))
	if err := os.Remove(l.lockDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release state lock %s: %w", l.lockDir, err)
	}
	return nil
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}
	return host
}
