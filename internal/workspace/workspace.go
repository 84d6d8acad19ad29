// Package workspace manages the per-job directory tree that holds the
// source video, split segments, dubbed audio, and final output.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dubflow/dubflow-api/internal/job"
)

// DefaultRetention is how long a finished job's workspace is kept
// before cleanup.
const DefaultRetention = 24 * time.Hour

// Manager owns the workspace root and the pending cleanup timers.
// Directories are strictly partitioned by job ID, so no cross-job
// locking is needed for file access.
type Manager struct {
	root   string
	logger *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewManager creates a workspace manager rooted at root, creating the
// directory if needed. If root is empty, a subdirectory of the system
// temp dir is used.
func NewManager(root string, logger *slog.Logger) (*Manager, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "dubflow")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &Manager{
		root:   root,
		logger: logger,
		timers: make(map[string]*time.Timer),
	}, nil
}

// Root returns the workspace root directory.
func (m *Manager) Root() string {
	return m.root
}

// JobDir returns the directory for a job without creating it.
func (m *Manager) JobDir(jobID string) string {
	return filepath.Join(m.root, jobID)
}

// CreateJobDirs creates the four per-job directories and returns their
// paths. Layout: <root>/<jobID>/{source,segments,dubbed,output}.
func (m *Manager) CreateJobDirs(jobID string) (job.Paths, error) {
	base := m.JobDir(jobID)
	paths := job.Paths{
		Source:   filepath.Join(base, "source"),
		Segments: filepath.Join(base, "segments"),
		Dubbed:   filepath.Join(base, "dubbed"),
		Output:   filepath.Join(base, "output"),
	}

	for _, dir := range []string{paths.Source, paths.Segments, paths.Dubbed, paths.Output} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return job.Paths{}, fmt.Errorf("create job directory %s: %w", dir, err)
		}
	}

	return paths, nil
}

// Cleanup removes the job's entire directory tree. Idempotent; deletion
// failures are logged, not fatal.
func (m *Manager) Cleanup(jobID string) {
	m.mu.Lock()
	if timer, ok := m.timers[jobID]; ok {
		timer.Stop()
		delete(m.timers, jobID)
	}
	m.mu.Unlock()

	dir := m.JobDir(jobID)
	if err := os.RemoveAll(dir); err != nil {
		m.logger.Warn("workspace cleanup failed",
			slog.String("job_id", jobID),
			slog.String("dir", dir),
			slog.String("error", err.Error()),
		)
		return
	}
	m.logger.Debug("workspace cleaned up",
		slog.String("job_id", jobID),
		slog.String("dir", dir),
	)
}

// ScheduleCleanup arranges for Cleanup to run after the delay.
// Rescheduling replaces any pending timer for the job.
func (m *Manager) ScheduleCleanup(jobID string, delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if timer, ok := m.timers[jobID]; ok {
		timer.Stop()
	}
	m.timers[jobID] = time.AfterFunc(delay, func() {
		m.Cleanup(jobID)
	})
}

// Close stops all pending cleanup timers without deleting anything.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, timer := range m.timers {
		timer.Stop()
		delete(m.timers, id)
	}
}
