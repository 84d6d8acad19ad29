// Package pool runs per-segment dubbing attempts with bounded
// concurrency. It owns retry policy and per-segment bookkeeping; the
// provider transport is behind dubber.Client.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dubflow/dubflow-api/internal/dubber"
	"github.com/dubflow/dubflow-api/internal/media"
)

// Static errors for pool operations.
var (
	// ErrSegmentsFailed is returned by Run when one or more segments
	// exhausted their attempts.
	ErrSegmentsFailed = errors.New("pool: one or more segments failed")
	// ErrCancelled is returned by Run when the pool was cancelled before
	// all segments completed.
	ErrCancelled = errors.New("pool: cancelled")
	// ErrAttemptTimeout marks an attempt that hit the per-attempt ceiling.
	ErrAttemptTimeout = errors.New("pool: attempt timed out")
	// ErrNotRun is returned by RetryFailed before Run has been called.
	ErrNotRun = errors.New("pool: no previous run to retry")
	// ErrNotFailed is returned by RetryFailed for an index that is not
	// in the failed set.
	ErrNotFailed = errors.New("pool: segment is not failed")
)

// RemoteFailureError reports a provider-side task failure.
type RemoteFailureError struct {
	Index   int
	Message string
}

func (e *RemoteFailureError) Error() string {
	return fmt.Sprintf("pool: provider failed segment %d: %s", e.Index, e.Message)
}

// SegmentState is the lifecycle state of one segment inside the pool.
type SegmentState string

// Segment states reported in snapshots.
const (
	SegmentPending     SegmentState = "pending"
	SegmentSubmitting  SegmentState = "submitting"
	SegmentPolling     SegmentState = "polling"
	SegmentDownloading SegmentState = "downloading"
	SegmentRetrying    SegmentState = "retrying"
	SegmentCompleted   SegmentState = "completed"
	SegmentFailed      SegmentState = "failed"
	SegmentCancelled   SegmentState = "cancelled"
)

// Defaults for Config fields left zero.
const (
	DefaultWorkers        = 3
	MaxWorkers            = 5
	DefaultPollInterval   = 5 * time.Second
	MinPollInterval       = time.Second
	DefaultAttemptTimeout = 10 * time.Minute
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 5 * time.Second
)

// Config controls pool concurrency and retry policy.
type Config struct {
	// Workers is the maximum number of segments dubbed concurrently,
	// capped at MaxWorkers.
	Workers int
	// PollInterval is the delay between provider status polls.
	PollInterval time.Duration
	// AttemptTimeout bounds a single submit/poll/download attempt.
	AttemptTimeout time.Duration
	// MaxAttempts is the total attempts per segment, including the first.
	MaxAttempts int
	// InitialBackoff is the delay before the first retry; it doubles on
	// each subsequent retry.
	InitialBackoff time.Duration
	// OnRetry, when set, is called each time a segment attempt is about
	// to be retried. Called from pool goroutines; must not block.
	OnRetry RetryFunc
}

// withDefaults fills zero fields and enforces the worker cap and the
// poll interval floor.
func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.Workers > MaxWorkers {
		c.Workers = MaxWorkers
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.PollInterval < MinPollInterval {
		c.PollInterval = MinPollInterval
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = DefaultAttemptTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	return c
}

// RunOpts carries the per-job dubbing parameters.
type RunOpts struct {
	TargetLanguage string
	Watermark      bool
	VoicePreset    string
}

// SegmentResult is the final outcome of one segment.
type SegmentResult struct {
	Index      int
	DubbedPath string
	Attempts   int
	Err        error
}

// Snapshot is a consistent view of pool state; the four counters
// always sum to Total.
type Snapshot struct {
	Total     int
	Pending   int
	Active    int
	Completed int
	Failed    int
	Segments  map[int]SegmentState
}

// ProgressFunc receives a snapshot after every state change. It is
// called from pool goroutines and must not block.
type ProgressFunc func(Snapshot)

// RetryNotice describes one scheduled retry of a segment attempt.
type RetryNotice struct {
	// Segment is the manifest index of the segment being retried.
	Segment int
	// Attempt is the attempt number that just failed, starting at 1.
	Attempt int
	// Wait is the backoff delay before the next attempt.
	Wait time.Duration
	// Err is the failure that triggered the retry.
	Err error
}

// RetryFunc receives a notice before each retry backoff.
type RetryFunc func(RetryNotice)

// segment is the pool's internal per-segment record.
type segment struct {
	seg      media.Segment
	state    SegmentState
	attempts int
	path     string
	err      error
}

// Pool dubs the segments of one job. It is single-use: New, Run, then
// optionally RetryFailed on the same instance.
type Pool struct {
	client dubber.Client
	logger *slog.Logger
	cfg    Config

	mu        sync.Mutex
	segments  map[int]*segment
	queue     []int
	cancelled bool
	cancelCh  chan struct{}
	started   bool

	dubbedDir  string
	opts       RunOpts
	onProgress ProgressFunc
}

// New creates a pool for one job's segments.
func New(client dubber.Client, logger *slog.Logger, cfg Config) *Pool {
	return &Pool{
		client:   client,
		logger:   logger,
		cfg:      cfg.withDefaults(),
		segments: make(map[int]*segment),
		cancelCh: make(chan struct{}),
	}
}

// Run dubs every segment in the manifest, writing dubbed audio next to
// dubbedDir/<stem>_dubbed.mp3. Segments whose dubbed file already
// exists are counted completed without touching the provider. Run
// blocks until all segments reach a terminal state; it returns the
// per-segment results plus ErrSegmentsFailed or ErrCancelled when the
// run did not fully succeed.
func (p *Pool) Run(ctx context.Context, manifest *media.Manifest, dubbedDir string, opts RunOpts, onProgress ProgressFunc) ([]SegmentResult, error) {
	if manifest == nil || len(manifest.Segments) == 0 {
		return nil, errors.New("pool: manifest has no segments")
	}

	p.mu.Lock()
	p.started = true
	p.dubbedDir = dubbedDir
	p.opts = opts
	p.onProgress = onProgress
	for _, seg := range manifest.Segments {
		rec := &segment{seg: seg, state: SegmentPending}
		dubbedPath := filepath.Join(dubbedDir, media.DubbedFilename(seg.Filename))
		if _, err := os.Stat(dubbedPath); err == nil {
			rec.state = SegmentCompleted
			rec.path = dubbedPath
		} else {
			p.queue = append(p.queue, seg.Index)
		}
		p.segments[seg.Index] = rec
	}
	sort.Ints(p.queue)
	p.mu.Unlock()

	p.notify()
	p.runLoop(ctx)
	p.drainQueue()
	return p.finish(ctx)
}

// RetryFailed resets the attempt counts of the nominated failed
// segments, re-enqueues them, and runs the loop again. Only segments
// currently in the failed set may be nominated; an empty slice retries
// every failed segment.
func (p *Pool) RetryFailed(ctx context.Context, indices []int) ([]SegmentResult, error) {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil, ErrNotRun
	}
	if len(indices) == 0 {
		for idx, rec := range p.segments {
			if rec.state == SegmentFailed || rec.state == SegmentCancelled {
				indices = append(indices, idx)
			}
		}
	}
	for _, idx := range indices {
		rec, ok := p.segments[idx]
		if !ok || (rec.state != SegmentFailed && rec.state != SegmentCancelled) {
			p.mu.Unlock()
			return nil, fmt.Errorf("%w: index %d", ErrNotFailed, idx)
		}
	}
	for _, idx := range indices {
		rec := p.segments[idx]
		rec.state = SegmentPending
		rec.attempts = 0
		rec.err = nil
		p.queue = append(p.queue, idx)
	}
	sort.Ints(p.queue)
	p.cancelled = false
	p.cancelCh = make(chan struct{})
	p.mu.Unlock()

	p.notify()
	p.runLoop(ctx)
	p.drainQueue()
	return p.finish(ctx)
}

// Cancel stops the pool dequeuing further segments. In-flight attempts
// run to completion; queued segments are reported cancelled. Safe to
// call more than once.
func (p *Pool) Cancel() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelled {
		return
	}
	p.cancelled = true
	close(p.cancelCh)
}

// Snapshot returns a consistent view of the pool state.
func (p *Pool) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// runLoop dispatches attempts while slots are free, collecting results
// until the queue drains or cancellation stops new work.
func (p *Pool) runLoop(ctx context.Context) {
	results := make(chan int)
	inFlight := 0

	for {
		for inFlight < p.cfg.Workers {
			idx, ok := p.dequeue(ctx)
			if !ok {
				break
			}
			inFlight++
			go func(idx int) {
				p.runSegment(ctx, idx)
				results <- idx
			}(idx)
		}

		if inFlight == 0 {
			break
		}
		<-results
		inFlight--
	}
}

// dequeue pops the next pending index, or reports no work when the
// queue is empty or the pool has stopped taking new segments.
func (p *Pool) dequeue(ctx context.Context) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancelled || ctx.Err() != nil || len(p.queue) == 0 {
		return 0, false
	}
	idx := p.queue[0]
	p.queue = p.queue[1:]
	return idx, true
}

// drainQueue marks segments that never started as cancelled.
func (p *Pool) drainQueue() {
	p.mu.Lock()
	drained := p.queue
	p.queue = nil
	for _, idx := range drained {
		rec := p.segments[idx]
		rec.state = SegmentCancelled
		rec.err = ErrCancelled
	}
	p.mu.Unlock()
	if len(drained) > 0 {
		p.notify()
	}
}

// runSegment executes attempts for one segment until success, attempt
// exhaustion, a non-retryable failure, or cancellation.
func (p *Pool) runSegment(ctx context.Context, idx int) {
	p.mu.Lock()
	rec := p.segments[idx]
	seg := rec.seg
	p.mu.Unlock()

	backoff := p.cfg.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		p.mu.Lock()
		rec.attempts = attempt
		p.mu.Unlock()

		path, err := p.attempt(ctx, seg)
		if err == nil {
			p.setResult(idx, SegmentCompleted, path, nil)
			return
		}
		lastErr = err

		p.logger.Warn("segment attempt failed",
			"segment", idx,
			"attempt", attempt,
			"error", err,
		)

		if ctx.Err() != nil || p.isCancelled() || !retryable(err) || attempt == p.cfg.MaxAttempts {
			break
		}

		wait := backoff
		if hint := dubber.RetryAfterHint(err); hint > wait {
			wait = hint
		}
		if p.cfg.OnRetry != nil {
			p.cfg.OnRetry(RetryNotice{Segment: idx, Attempt: attempt, Wait: wait, Err: err})
		}
		p.setState(idx, SegmentRetrying)
		if !p.sleep(ctx, wait) {
			break
		}
		backoff *= 2
	}

	state := SegmentFailed
	if errors.Is(lastErr, context.Canceled) {
		state = SegmentCancelled
		lastErr = ErrCancelled
	}
	p.setResult(idx, state, "", lastErr)
}

// attempt is one full submit/poll/download cycle for a segment.
func (p *Pool) attempt(ctx context.Context, seg media.Segment) (string, error) {
	actx, cancel := context.WithTimeout(ctx, p.cfg.AttemptTimeout)
	defer cancel()

	p.setState(seg.Index, SegmentSubmitting)
	remoteID, err := p.client.Submit(actx, seg.Path, p.opts.TargetLanguage, dubber.SubmitOptions{
		Watermark:   p.opts.Watermark,
		VoicePreset: p.opts.VoicePreset,
	})
	if err != nil {
		return "", p.classifyAttemptErr(ctx, actx, err)
	}

	p.setState(seg.Index, SegmentPolling)
	audioURL, err := p.poll(actx, seg.Index, remoteID)
	if err != nil {
		return "", p.classifyAttemptErr(ctx, actx, err)
	}

	p.setState(seg.Index, SegmentDownloading)
	data, err := p.client.Download(actx, audioURL)
	if err != nil {
		return "", p.classifyAttemptErr(ctx, actx, err)
	}

	path := filepath.Join(p.dubbedDir, media.DubbedFilename(seg.Filename))
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("pool: write dubbed audio: %w", err)
	}
	return path, nil
}

// poll waits for the remote task to reach a terminal state and returns
// the dubbed audio URL.
func (p *Pool) poll(ctx context.Context, idx int, remoteID string) (string, error) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		st, err := p.client.Status(ctx, remoteID)
		if err != nil {
			return "", err
		}

		switch st.State {
		case dubber.StateCompleted:
			if st.AudioURL == "" {
				return "", &RemoteFailureError{Index: idx, Message: "completed without audio URL"}
			}
			return st.AudioURL, nil
		case dubber.StateFailed:
			return "", &RemoteFailureError{Index: idx, Message: st.Error}
		}
	}
}

// classifyAttemptErr maps a per-attempt context expiry onto the pool's
// timeout sentinel; the caller's cancellation passes through untouched.
func (p *Pool) classifyAttemptErr(parent, attempt context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if attempt.Err() != nil && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrAttemptTimeout, p.cfg.AttemptTimeout)
	}
	return err
}

// retryable decides whether an attempt failure is worth another try.
// Provider transient and rate-limit errors, remote task failures, and
// attempt timeouts are retried; everything else is final.
func retryable(err error) bool {
	if dubber.IsRetryable(err) {
		return true
	}
	if errors.Is(err, ErrAttemptTimeout) {
		return true
	}
	var remote *RemoteFailureError
	return errors.As(err, &remote)
}

// sleep waits for d, returning false when the wait was interrupted by
// cancellation.
func (p *Pool) sleep(ctx context.Context, d time.Duration) bool {
	p.mu.Lock()
	cancelCh := p.cancelCh
	p.mu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-cancelCh:
		return false
	}
}

func (p *Pool) isCancelled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancelled
}

// setState updates one segment's lifecycle state and notifies.
func (p *Pool) setState(idx int, state SegmentState) {
	p.mu.Lock()
	p.segments[idx].state = state
	p.mu.Unlock()
	p.notify()
}

// setResult records a segment's terminal outcome and notifies.
func (p *Pool) setResult(idx int, state SegmentState, path string, err error) {
	p.mu.Lock()
	rec := p.segments[idx]
	rec.state = state
	rec.path = path
	rec.err = err
	p.mu.Unlock()
	p.notify()
}

// finish assembles the final results once the loop has drained.
func (p *Pool) finish(ctx context.Context) ([]SegmentResult, error) {
	p.mu.Lock()
	results := make([]SegmentResult, 0, len(p.segments))
	var failed, cancelled int
	for idx, rec := range p.segments {
		results = append(results, SegmentResult{
			Index:      idx,
			DubbedPath: rec.path,
			Attempts:   rec.attempts,
			Err:        rec.err,
		})
		switch rec.state {
		case SegmentFailed:
			failed++
		case SegmentCancelled:
			cancelled++
		}
	}
	wasCancelled := p.cancelled
	p.mu.Unlock()

	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })

	if wasCancelled || ctx.Err() != nil || cancelled > 0 {
		return results, ErrCancelled
	}
	if failed > 0 {
		return results, fmt.Errorf("%w: %d of %d", ErrSegmentsFailed, failed, len(results))
	}
	return results, nil
}

// snapshotLocked builds a Snapshot; callers hold p.mu.
func (p *Pool) snapshotLocked() Snapshot {
	snap := Snapshot{
		Total:    len(p.segments),
		Segments: make(map[int]SegmentState, len(p.segments)),
	}
	for idx, rec := range p.segments {
		snap.Segments[idx] = rec.state
		switch rec.state {
		case SegmentPending:
			snap.Pending++
		case SegmentCompleted:
			snap.Completed++
		case SegmentFailed, SegmentCancelled:
			snap.Failed++
		default:
			snap.Active++
		}
	}
	return snap
}

// notify emits a snapshot to the progress callback, if any.
func (p *Pool) notify() {
	p.mu.Lock()
	fn := p.onProgress
	var snap Snapshot
	if fn != nil {
		snap = p.snapshotLocked()
	}
	p.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}
