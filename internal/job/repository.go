package job

import (
	"context"
	"errors"
)

// Static errors for repository operations.
var (
	// ErrNotFound is returned when a job cannot be found by ID.
	ErrNotFound = errors.New("job not found")
	// ErrDuplicateJob is returned when creating a job whose ID already exists.
	ErrDuplicateJob = errors.New("job already exists")
	// ErrNotTerminal is returned when deleting a job that is still running.
	ErrNotTerminal = errors.New("job is not in a terminal state")
)

// ListFilter narrows and pages a List call.
// A zero Status matches all jobs. Limit <= 0 means no limit.
type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}

// Repository defines the interface for job persistence.
// Per-ID operations are linearizable; ordering across IDs is undefined.
// It acts as a port in the hexagonal architecture pattern.
type Repository interface {
	// Create persists a new job. Returns ErrDuplicateJob if the ID exists.
	Create(ctx context.Context, job *Job) error

	// Get retrieves a job snapshot by ID.
	// Returns ErrNotFound if the job does not exist.
	Get(ctx context.Context, id string) (*Job, error)

	// Update applies a mutation to the stored job under the per-ID lock
	// and returns the resulting snapshot. Last write wins.
	Update(ctx context.Context, id string, mutate func(*Job)) (*Job, error)

	// UpdateProgress replaces the job's progress snapshot.
	UpdateProgress(ctx context.Context, id string, p Progress) error

	// UpdateStatus transitions the job's status, validating the state
	// machine. jobErr is recorded when transitioning to Failed.
	// Returns ErrInvalidTransition for disallowed transitions.
	UpdateStatus(ctx context.Context, id string, status Status, jobErr *Error) error

	// AppendLog appends a diagnostic entry to the job.
	AppendLog(ctx context.Context, id string, entry LogEntry) error

	// List returns job snapshots ordered by CreatedAt descending,
	// plus whether more results exist beyond the requested page.
	List(ctx context.Context, filter ListFilter) (jobs []*Job, hasMore bool, err error)

	// Delete removes a job. Returns ErrNotTerminal unless the job is
	// in a terminal state, or ErrNotFound if it does not exist.
	Delete(ctx context.Context, id string) error
}
