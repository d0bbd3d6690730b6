package download

import (
	"errors"
	"os"
	"sync"
)

// TempTracker remembers temp files created while a job runs so they can be
// removed on completion, cancellation, or process exit.
type TempTracker struct {
	mu    sync.Mutex
	files map[string]struct{}
}

// NewTempTracker builds an empty tracker.
func NewTempTracker() *TempTracker {
	return &TempTracker{files: make(map[string]struct{})}
}

// Register records a temp file for later cleanup.
func (t *TempTracker) Register(path string) {
	t.mu.Lock()
	t.files[path] = struct{}{}
	t.mu.Unlock()
}

// Release forgets a file without deleting it (e.g. after it was promoted to
// an output).
func (t *TempTracker) Release(path string) {
	t.mu.Lock()
	delete(t.files, path)
	t.mu.Unlock()
}

// Cleanup removes every tracked file. Missing files are not errors.
func (t *TempTracker) Cleanup() error {
	t.mu.Lock()
	paths := make([]string, 0, len(t.files))
	for path := range t.files {
		paths = append(paths, path)
	}
	t.files = make(map[string]struct{})
	t.mu.Unlock()

	var errs []error
	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of tracked files.
func (t *TempTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.files)
}
