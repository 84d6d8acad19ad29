package job

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepository_CreateAndGet(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	j := NewWithID("job-1", "ref", testConfig())
	require.NoError(t, repo.Create(ctx, j))

	got, err := repo.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.ID)
	assert.Equal(t, StatusPending, got.Status)
}

func TestMemoryRepository_CreateDuplicate(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	j := NewWithID("job-1", "ref", testConfig())
	require.NoError(t, repo.Create(ctx, j))

	err := repo.Create(ctx, NewWithID("job-1", "other", testConfig()))
	assert.ErrorIs(t, err, ErrDuplicateJob)
}

func TestMemoryRepository_GetNotFound(t *testing.T) {
	repo := NewMemoryRepository()

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRepository_GetReturnsClone(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, NewWithID("job-1", "ref", testConfig())))

	first, err := repo.Get(ctx, "job-1")
	require.NoError(t, err)
	first.SourceRef = "mutated"

	second, err := repo.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "ref", second.SourceRef)
}

func TestMemoryRepository_UpdateStatus(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, NewWithID("job-1", "ref", testConfig())))

	require.NoError(t, repo.UpdateStatus(ctx, "job-1", StatusDownloading, nil))

	got, err := repo.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusDownloading, got.Status)
}

func TestMemoryRepository_UpdateStatusInvalidTransition(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, NewWithID("job-1", "ref", testConfig())))

	err := repo.UpdateStatus(ctx, "job-1", StatusMerging, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	// The record must be unchanged after a rejected transition.
	got, err := repo.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestMemoryRepository_UpdateStatusFailedRecordsError(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	j := NewWithID("job-1", "ref", testConfig())
	j.Status = StatusDubbing
	require.NoError(t, repo.Create(ctx, j))

	jobErr := &Error{Code: CodeDubbingFailed, Stage: StageDubbing, Recoverable: true, FailedSegmentIndices: []int{1}}
	require.NoError(t, repo.UpdateStatus(ctx, "job-1", StatusFailed, jobErr))

	got, err := repo.Get(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got.Error)
	assert.Equal(t, CodeDubbingFailed, got.Error.Code)
	assert.Equal(t, []int{1}, got.Error.FailedSegmentIndices)
}

func TestMemoryRepository_AppendLog(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, NewWithID("job-1", "ref", testConfig())))

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.AppendLog(ctx, "job-1", LogEntry{
			Stage:   StageDubbing,
			Level:   LevelInfo,
			Message: fmt.Sprintf("entry %d", i),
		}))
	}

	got, err := repo.Get(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, got.Logs, 3)
	assert.Equal(t, "entry 0", got.Logs[0].Message)
	assert.Equal(t, "entry 2", got.Logs[2].Message)
}

func TestMemoryRepository_List(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 5; i++ {
		j := NewWithID(fmt.Sprintf("job-%d", i), "ref", testConfig())
		j.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.Create(ctx, j))
	}

	jobs, hasMore, err := repo.List(ctx, ListFilter{Limit: 2})
	require.NoError(t, err)
	assert.True(t, hasMore)
	require.Len(t, jobs, 2)
	// Newest first
	assert.Equal(t, "job-4", jobs[0].ID)
	assert.Equal(t, "job-3", jobs[1].ID)

	jobs, hasMore, err = repo.List(ctx, ListFilter{Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.False(t, hasMore)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-0", jobs[0].ID)
}

func TestMemoryRepository_ListStatusFilter(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	running := NewWithID("job-running", "ref", testConfig())
	running.Status = StatusDubbing
	done := NewWithID("job-done", "ref", testConfig())
	done.Status = StatusComplete

	require.NoError(t, repo.Create(ctx, running))
	require.NoError(t, repo.Create(ctx, done))

	jobs, _, err := repo.List(ctx, ListFilter{Status: StatusComplete})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-done", jobs[0].ID)
}

func TestMemoryRepository_DeleteOnlyTerminal(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	running := NewWithID("job-running", "ref", testConfig())
	running.Status = StatusDubbing
	require.NoError(t, repo.Create(ctx, running))

	assert.ErrorIs(t, repo.Delete(ctx, "job-running"), ErrNotTerminal)

	done := NewWithID("job-done", "ref", testConfig())
	done.Status = StatusComplete
	require.NoError(t, repo.Create(ctx, done))

	require.NoError(t, repo.Delete(ctx, "job-done"))
	_, err := repo.Get(ctx, "job-done")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryRepository_DeleteNotFound(t *testing.T) {
	repo := NewMemoryRepository()
	assert.ErrorIs(t, repo.Delete(context.Background(), "missing"), ErrNotFound)
}
