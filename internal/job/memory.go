package job

import (
	"context"
	"sort"
	"sync"
)

// Compile-time check that MemoryRepository implements Repository.
var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository is an in-memory implementation of Repository.
// It keeps the canonical Job records in a map guarded by an RWMutex and
// hands out clones so callers never share mutable state. Durability
// across process restarts is out of scope; swap for a document store
// behind the same interface if that is ever needed.
type MemoryRepository struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryRepository creates a new in-memory job repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		jobs: make(map[string]*Job),
	}
}

// Create persists a new job. The stored record is a clone so later
// mutations of the caller's copy do not leak in.
func (r *MemoryRepository) Create(_ context.Context, job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return ErrDuplicateJob
	}
	r.jobs[job.ID] = job.Clone()
	return nil
}

// Get retrieves a job by ID, returning a clone.
func (r *MemoryRepository) Get(_ context.Context, id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j.Clone(), nil
}

// Update applies the mutation to the canonical record under the
// repository lock and returns the updated snapshot.
func (r *MemoryRepository) Update(_ context.Context, id string, mutate func(*Job)) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	mutate(j)
	return j.Clone(), nil
}

// UpdateProgress replaces the job's progress snapshot.
func (r *MemoryRepository) UpdateProgress(ctx context.Context, id string, p Progress) error {
	_, err := r.Update(ctx, id, func(j *Job) {
		j.SetProgress(p)
	})
	return err
}

// UpdateStatus transitions the job's status, validating the state machine.
func (r *MemoryRepository) UpdateStatus(_ context.Context, id string, status Status, jobErr *Error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if status == StatusFailed && jobErr != nil {
		return j.Fail(jobErr)
	}
	return j.TransitionTo(status)
}

// AppendLog appends a diagnostic entry to the job.
func (r *MemoryRepository) AppendLog(ctx context.Context, id string, entry LogEntry) error {
	_, err := r.Update(ctx, id, func(j *Job) {
		j.AppendLog(entry)
	})
	return err
}

// List returns jobs ordered by CreatedAt descending with paging.
func (r *MemoryRepository) List(_ context.Context, filter ListFilter) ([]*Job, bool, error) {
	r.mu.RLock()
	matched := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		if filter.Status != "" && j.GetStatus() != filter.Status {
			continue
		}
		matched = append(matched, j.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(a, b int) bool {
		if matched[a].CreatedAt.Equal(matched[b].CreatedAt) {
			return matched[a].ID > matched[b].ID
		}
		return matched[a].CreatedAt.After(matched[b].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*Job{}, false, nil
		}
		matched = matched[filter.Offset:]
	}

	hasMore := false
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
		hasMore = true
	}

	return matched, hasMore, nil
}

// Delete removes a job, allowed only in terminal states.
func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !j.IsTerminal() {
		return ErrNotTerminal
	}
	delete(r.jobs, id)
	return nil
}
