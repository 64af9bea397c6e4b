package sandbox

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"cortexos/internal/errs"
	"cortexos/internal/logging"
)

// FileLockManager provides advisory per-file locks for executions that run
// without worktree isolation. A lock is a sentinel directory under
// .cortexos/locks/; os.Mkdir is atomic, so whoever creates it holds the lock.
type FileLockManager struct {
	mu      sync.Mutex
	lockDir string
	held    map[string]string // lock key -> holder task ID
}

// NewFileLockManager creates a lock manager rooted in the workspace.
func NewFileLockManager(workspace string) (*FileLockManager, error) {
	dir := filepath.Join(workspace, ".cortexos", "locks")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "failed to create lock dir")
	}
	return &FileLockManager{lockDir: dir, held: make(map[string]string)}, nil
}

// lockKey derives the lock name from the absolute path: first 12 hex chars
// of its SHA-256.
func lockKey(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:])[:12]
}

// Acquire takes the lock for path on behalf of taskID. Re-acquiring a lock
// already held by the same task succeeds.
func (m *FileLockManager) Acquire(path, taskID string) error {
	key := lockKey(path)

	m.mu.Lock()
	if holder, ok := m.held[key]; ok {
		m.mu.Unlock()
		if holder == taskID {
			return nil
		}
		return errs.New(errs.KindInternal, "file %s is locked by task %s", path, holder)
	}
	m.mu.Unlock()

	if err := os.Mkdir(m.sentinel(key), 0755); err != nil {
		if os.IsExist(err) {
			return errs.New(errs.KindInternal, "file %s is locked", path)
		}
		return errs.Wrap(errs.KindInternal, err, "failed to acquire lock for %s", path)
	}

	m.mu.Lock()
	m.held[key] = taskID
	m.mu.Unlock()
	logging.SandboxDebug("lock %s acquired by %s (%s)", key, taskID, path)
	return nil
}

// Release drops the lock for path. Releasing a lock held by another task is
// an error; releasing an unheld lock is a no-op.
func (m *FileLockManager) Release(path, taskID string) error {
	key := lockKey(path)

	m.mu.Lock()
	holder, ok := m.held[key]
	if ok && holder != taskID {
		m.mu.Unlock()
		return errs.New(errs.KindInternal, "lock for %s is held by task %s, not %s", path, holder, taskID)
	}
	delete(m.held, key)
	m.mu.Unlock()
	if !ok {
		return nil
	}

	if err := os.Remove(m.sentinel(key)); err != nil && !os.IsNotExist(err) {
		return errs.Wrap(errs.KindInternal, err, "failed to release lock for %s", path)
	}
	return nil
}

// IsLocked reports whether path currently has a holder.
func (m *FileLockManager) IsLocked(path string) bool {
	key := lockKey(path)
	m.mu.Lock()
	_, inProcess := m.held[key]
	m.mu.Unlock()
	if inProcess {
		return true
	}
	_, err := os.Stat(m.sentinel(key))
	return err == nil
}

// ReleaseAll drops every lock held by taskID.
func (m *FileLockManager) ReleaseAll(taskID string) {
	m.mu.Lock()
	var keys []string
	for key, holder := range m.held {
		if holder == taskID {
			keys = append(keys, key)
		}
	}
	for _, key := range keys {
		delete(m.held, key)
	}
	m.mu.Unlock()

	for _, key := range keys {
		if err := os.Remove(m.sentinel(key)); err != nil && !os.IsNotExist(err) {
			logging.SandboxWarn("failed to remove lock sentinel %s: %v", key, err)
		}
	}
}

func (m *FileLockManager) sentinel(key string) string {
	return filepath.Join(m.lockDir, fmt.Sprintf("%s.lock", key))
}
