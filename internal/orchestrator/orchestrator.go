// Package orchestrator drives the five-stage dubbing pipeline for each
// job: download, chunking, dubbing, merging, finalizing. It owns the
// per-job goroutine and cancel registry, writes every state change to
// the job store, and publishes progress to the bus.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/dubflow/dubflow-api/internal/bus"
	"github.com/dubflow/dubflow-api/internal/download"
	"github.com/dubflow/dubflow-api/internal/dubber"
	"github.com/dubflow/dubflow-api/internal/job"
	"github.com/dubflow/dubflow-api/internal/media"
	"github.com/dubflow/dubflow-api/internal/pool"
	"github.com/dubflow/dubflow-api/internal/storage"
	"github.com/dubflow/dubflow-api/internal/workspace"
)

// Static errors for control operations.
var (
	// ErrInvalidState is returned when cancel or retry is requested for
	// a job whose state does not allow it.
	ErrInvalidState = errors.New("orchestrator: operation not allowed in current job state")
	// ErrRetryNotRecoverable is returned when retrying a job that did
	// not fail during dubbing.
	ErrRetryNotRecoverable = errors.New("orchestrator: job failure is not recoverable by retry")
	// ErrManifestMissing is returned when retrying a job whose segment
	// manifest is no longer on disk.
	ErrManifestMissing = errors.New("orchestrator: segment manifest missing, cannot retry")
	// ErrSegmentNotFailed is returned when a retry nominates a segment
	// that is not in the job's failed set.
	ErrSegmentNotFailed = errors.New("orchestrator: segment is not in the failed set")
)

// Stage percent bands: download 0-20, chunking 20-25, dubbing 25-95,
// merging 95-98, finalizing 98-100.
const (
	downloadBase  = 0
	chunkingBase  = 20
	dubbingBase   = 25
	mergingBase   = 95
	finalizeBase  = 98
	downloadSpan  = 20
	chunkingSpan  = 5
	dubbingSpan   = 70
	mergingSpan   = 3
	completeTotal = 100
)

// Config holds pipeline-wide defaults.
type Config struct {
	// SegmentDuration is the default split duration in seconds, used
	// when the job does not specify one.
	SegmentDuration int
	// MaxParallelJobs is the default concurrent segment dubs per job,
	// used when the job does not specify one.
	MaxParallelJobs int
	// PollInterval is the provider status poll interval.
	PollInterval time.Duration
	// AttemptTimeout bounds one submit/poll/download attempt.
	AttemptTimeout time.Duration
	// MaxAttempts is the per-segment attempt budget.
	MaxAttempts int
	// InitialBackoff is the first retry delay.
	InitialBackoff time.Duration
	// Retention is how long job workspaces are kept after a terminal
	// state before cleanup.
	Retention time.Duration
}

// runningJob is the registry entry for an in-flight pipeline.
type runningJob struct {
	cancel context.CancelFunc
	pool   *pool.Pool
}

// Orchestrator coordinates the pipeline across the store, workspace,
// media tools, provider pool, and progress bus.
type Orchestrator struct {
	repo      job.Repository
	bus       *bus.Bus
	ws        *workspace.Manager
	dl        download.Downloader
	splitter  media.Splitter
	merger    media.Merger
	client    dubber.Client
	publisher storage.Publisher // may be nil; outputs then stay in the workspace
	logger    *slog.Logger
	cfg       Config

	mu      sync.Mutex
	running map[string]*runningJob
	// pools keeps the worker pool of a job that failed during dubbing
	// so a retry can resume it instead of starting over.
	pools map[string]*pool.Pool
	wg    sync.WaitGroup
}

// New creates an orchestrator. publisher may be nil.
func New(
	repo job.Repository,
	eventBus *bus.Bus,
	ws *workspace.Manager,
	dl download.Downloader,
	splitter media.Splitter,
	merger media.Merger,
	client dubber.Client,
	publisher storage.Publisher,
	logger *slog.Logger,
	cfg Config,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Retention <= 0 {
		cfg.Retention = workspace.DefaultRetention
	}
	return &Orchestrator{
		repo:      repo,
		bus:       eventBus,
		ws:        ws,
		dl:        dl,
		splitter:  splitter,
		merger:    merger,
		client:    client,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
		running:   make(map[string]*runningJob),
		pools:     make(map[string]*pool.Pool),
	}
}

// StartJob creates the job, provisions its workspace, and launches the
// pipeline goroutine. The returned snapshot is in Pending state; the
// pipeline advances it asynchronously.
func (o *Orchestrator) StartJob(ctx context.Context, sourceRef string, cfg job.Config) (*job.Job, error) {
	if cfg.SegmentDuration <= 0 {
		cfg.SegmentDuration = o.cfg.SegmentDuration
	}
	if cfg.MaxParallelJobs <= 0 {
		cfg.MaxParallelJobs = o.cfg.MaxParallelJobs
	}

	j := job.New(sourceRef, cfg)

	paths, err := o.ws.CreateJobDirs(j.ID)
	if err != nil {
		return nil, fmt.Errorf("provision workspace: %w", err)
	}
	j.SetPaths(paths)

	if err := o.repo.Create(ctx, j); err != nil {
		o.ws.Cleanup(j.ID)
		return nil, err
	}

	o.launch(j.ID, func(runCtx context.Context) {
		o.runPipeline(runCtx, j.ID)
	})

	return j.Clone(), nil
}

// Cancel requests cancellation of a running job. The pipeline goroutine
// performs the terminal transition and publishes the CANCELLED event as
// it unwinds. Cancelling a terminal job returns ErrInvalidState.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	j, err := o.repo.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status.IsTerminal() {
		return fmt.Errorf("%w: job is %s", ErrInvalidState, j.Status)
	}

	o.mu.Lock()
	r := o.running[jobID]
	o.mu.Unlock()

	if r == nil {
		// Not in the registry: the goroutine already unwound. Transition
		// directly so the cancel is not lost.
		return o.finishCancelled(jobID, j.Progress.Stage)
	}

	if r.pool != nil {
		r.pool.Cancel()
	}
	r.cancel()
	return nil
}

// RetryJob resumes a job that failed during dubbing. A non-empty
// segmentIndices nominates a subset of the failed segments; every
// nominated index must be in the failed set. An empty slice retries
// all of them. The pipeline then continues into merging and finalizing.
func (o *Orchestrator) RetryJob(ctx context.Context, jobID string, segmentIndices []int) (*job.Job, error) {
	j, err := o.repo.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Status != job.StatusFailed {
		return nil, fmt.Errorf("%w: job is %s", ErrInvalidState, j.Status)
	}
	if j.Error == nil || !j.Error.Recoverable || j.Error.Stage != job.StageDubbing {
		return nil, ErrRetryNotRecoverable
	}
	if !media.ManifestExists(j.Paths.Segments) {
		return nil, ErrManifestMissing
	}

	failedIndices := append([]int(nil), j.Error.FailedSegmentIndices...)
	if len(segmentIndices) > 0 {
		failedSet := make(map[int]bool, len(failedIndices))
		for _, idx := range failedIndices {
			failedSet[idx] = true
		}
		for _, idx := range segmentIndices {
			if !failedSet[idx] {
				return nil, fmt.Errorf("%w: index %d", ErrSegmentNotFailed, idx)
			}
		}
		failedIndices = append([]int(nil), segmentIndices...)
	}

	if err := o.repo.UpdateStatus(ctx, jobID, job.StatusDubbing, nil); err != nil {
		return nil, err
	}

	o.launch(jobID, func(runCtx context.Context) {
		o.runRetry(runCtx, jobID, failedIndices)
	})

	return o.repo.Get(ctx, jobID)
}

// DeleteJob removes a terminal job, its workspace, and its event topic.
func (o *Orchestrator) DeleteJob(ctx context.Context, jobID string) error {
	if err := o.repo.Delete(ctx, jobID); err != nil {
		return err
	}
	o.bus.CloseJob(jobID)
	o.ws.Cleanup(jobID)

	o.mu.Lock()
	delete(o.pools, jobID)
	o.mu.Unlock()
	return nil
}

// Shutdown cancels all running pipelines and waits for them to unwind,
// bounded by ctx.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	for _, r := range o.running {
		if r.pool != nil {
			r.pool.Cancel()
		}
		r.cancel()
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("orchestrator shutdown: %w", ctx.Err())
	}
}

// launch registers the job and starts its pipeline goroutine. The run
// context is detached from the caller so an HTTP disconnect does not
// abort processing.
func (o *Orchestrator) launch(jobID string, run func(ctx context.Context)) {
	runCtx, cancel := context.WithCancel(context.Background())

	o.mu.Lock()
	o.running[jobID] = &runningJob{cancel: cancel}
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		defer func() {
			o.mu.Lock()
			delete(o.running, jobID)
			o.mu.Unlock()
		}()
		run(runCtx)
	}()
}

// registerPool exposes the job's worker pool to Cancel and retry.
func (o *Orchestrator) registerPool(jobID string, p *pool.Pool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if r, ok := o.running[jobID]; ok {
		r.pool = p
	}
	o.pools[jobID] = p
}

// runPipeline executes all five stages from the beginning.
func (o *Orchestrator) runPipeline(ctx context.Context, jobID string) {
	j, err := o.repo.Get(ctx, jobID)
	if err != nil {
		o.logger.Error("pipeline start: job vanished", "job_id", jobID, "error", err)
		return
	}

	sourcePath, err := o.stageDownload(ctx, j)
	if err != nil {
		o.finishStageError(ctx, jobID, job.StageDownload, job.CodeDownloadFailed, err, false, nil)
		return
	}

	manifest, err := o.stageChunking(ctx, j, sourcePath)
	if err != nil {
		o.finishStageError(ctx, jobID, job.StageChunking, job.CodeChunkingFailed, err, false, nil)
		return
	}

	o.continueFromDubbing(ctx, j, manifest, nil)
}

// runRetry resumes the pipeline at the dubbing stage.
func (o *Orchestrator) runRetry(ctx context.Context, jobID string, failedIndices []int) {
	j, err := o.repo.Get(ctx, jobID)
	if err != nil {
		o.logger.Error("retry start: job vanished", "job_id", jobID, "error", err)
		return
	}

	manifest, err := media.ReadManifest(j.Paths.Segments)
	if err != nil {
		o.finishStageError(ctx, jobID, job.StageDubbing, job.CodeDubbingFailed,
			fmt.Errorf("%w: %w", ErrManifestMissing, err), false, nil)
		return
	}

	o.appendAndPublishLog(ctx, jobID, job.LogEntry{
		Stage:   job.StageDubbing,
		Level:   job.LevelInfo,
		Message: fmt.Sprintf("retrying %d failed segment(s)", len(failedIndices)),
	})

	o.continueFromDubbing(ctx, j, manifest, failedIndices)
}

// continueFromDubbing runs dubbing, merging, and finalizing. A non-nil
// retryIndices resumes an existing pool for just those segments.
func (o *Orchestrator) continueFromDubbing(ctx context.Context, j *job.Job, manifest *media.Manifest, retryIndices []int) {
	jobID := j.ID

	if err := o.stageDubbing(ctx, j, manifest, retryIndices); err != nil {
		var dubErr *dubbingError
		if errors.As(err, &dubErr) {
			o.finishStageError(ctx, jobID, job.StageDubbing, job.CodeDubbingFailed, err, true, dubErr.failedIndices)
			return
		}
		o.finishStageError(ctx, jobID, job.StageDubbing, job.CodeDubbingFailed, err, false, nil)
		return
	}

	finalPath, err := o.stageMerging(ctx, j, manifest)
	if err != nil {
		o.finishStageError(ctx, jobID, job.StageMerging, job.CodeMergingFailed, err, false, nil)
		return
	}

	if err := o.stageFinalize(ctx, j, finalPath); err != nil {
		o.finishStageError(ctx, jobID, job.StageFinalize, job.CodeFinalizeFailed, err, false, nil)
		return
	}
}

// stageDownload fetches the source video into the job workspace.
func (o *Orchestrator) stageDownload(ctx context.Context, j *job.Job) (string, error) {
	if err := o.advance(ctx, j.ID, job.StatusDownloading); err != nil {
		return "", err
	}

	if !j.Config.SegmentStrategy.IsValid() && j.Config.SegmentStrategy != "" {
		// Unknown strategies are rejected at the API; belt and braces.
		o.logger.Warn("unknown segment strategy, using fixed", "job_id", j.ID, "strategy", j.Config.SegmentStrategy)
	}

	destPath := filepath.Join(j.Paths.Source, sourceFilename(j.SourceRef))

	o.publishProgress(ctx, j.ID, job.Progress{
		Stage: job.StageDownload,
		Detail: job.StageDetail{
			Download: &job.DownloadDetail{},
		},
	})

	err := o.dl.Download(ctx, j.SourceRef, destPath, func(p download.Progress) {
		overall := downloadBase
		if p.Percent >= 0 {
			overall = downloadBase + p.Percent*downloadSpan/100
		}
		o.publishProgress(ctx, j.ID, job.Progress{
			Stage:          job.StageDownload,
			OverallPercent: overall,
			Detail: job.StageDetail{
				Download: &job.DownloadDetail{
					BytesReceived: p.BytesReceived,
					TotalBytes:    p.TotalBytes,
					Percent:       p.Percent,
				},
			},
		})
	})
	if err != nil {
		return "", err
	}
	return destPath, nil
}

// stageChunking splits the source into segments and commits the
// manifest. Non-fixed strategies fall back to fixed with a warn log.
func (o *Orchestrator) stageChunking(ctx context.Context, j *job.Job, sourcePath string) (*media.Manifest, error) {
	if err := o.advance(ctx, j.ID, job.StatusChunking); err != nil {
		return nil, err
	}

	if s := j.Config.SegmentStrategy; s == job.StrategyScene || s == job.StrategySilence {
		msg := fmt.Sprintf("segment strategy %q not implemented, falling back to fixed-duration split", s)
		o.logger.Warn("segment strategy fallback", "job_id", j.ID, "strategy", s)
		o.appendAndPublishLog(ctx, j.ID, job.LogEntry{
			Stage:   job.StageChunking,
			Level:   job.LevelWarn,
			Message: msg,
		})
	}

	manifest, err := o.splitter.Split(ctx, sourcePath, j.Paths.Segments, j.ID,
		media.SplitOpts{SegmentDuration: j.Config.SegmentDuration},
		func(p media.SplitProgress) {
			o.publishProgress(ctx, j.ID, job.Progress{
				Stage:          job.StageChunking,
				OverallPercent: chunkingBase + p.Processed*chunkingSpan/max(p.Total, 1),
				Detail: job.StageDetail{
					Chunking: &job.ChunkingDetail{
						Processed:      p.Processed,
						Total:          p.Total,
						CurrentSegment: p.CurrentSegment,
					},
				},
			})
		})
	if err != nil {
		return nil, err
	}
	return manifest, nil
}

// dubbingError carries the failed segment indices out of the stage.
type dubbingError struct {
	failedIndices []int
	err           error
}

func (e *dubbingError) Error() string { return e.err.Error() }
func (e *dubbingError) Unwrap() error { return e.err }

// stageDubbing runs the worker pool over the manifest.
func (o *Orchestrator) stageDubbing(ctx context.Context, j *job.Job, manifest *media.Manifest, retryIndices []int) error {
	if retryIndices == nil {
		if err := o.advance(ctx, j.ID, job.StatusDubbing); err != nil {
			return err
		}
	}

	onSnapshot := func(s pool.Snapshot) {
		segments := make(map[int]string, len(s.Segments))
		for idx, st := range s.Segments {
			segments[idx] = string(st)
		}
		o.publishProgress(ctx, j.ID, job.Progress{
			Stage:          job.StageDubbing,
			OverallPercent: dubbingBase + s.Completed*dubbingSpan/max(s.Total, 1),
			Detail: job.StageDetail{
				Dubbing: &job.DubbingDetail{
					Total:     s.Total,
					Pending:   s.Pending,
					Active:    s.Active,
					Completed: s.Completed,
					Failed:    s.Failed,
					Segments:  segments,
				},
			},
		})
	}

	opts := pool.RunOpts{
		TargetLanguage: j.Config.TargetLanguage,
		Watermark:      j.Config.UseWatermark,
	}

	var results []pool.SegmentResult
	var runErr error
	if retryIndices != nil {
		o.mu.Lock()
		p := o.pools[j.ID]
		o.mu.Unlock()
		if p != nil {
			o.registerPool(j.ID, p)
			results, runErr = p.RetryFailed(ctx, retryIndices)
		} else {
			// Pool state did not survive (e.g. process restart); a fresh
			// run skips segments whose dubbed audio is already on disk.
			p = pool.New(o.client, o.logger, o.poolConfig(j))
			o.registerPool(j.ID, p)
			results, runErr = p.Run(ctx, manifest, j.Paths.Dubbed, opts, onSnapshot)
		}
	} else {
		p := pool.New(o.client, o.logger, o.poolConfig(j))
		o.registerPool(j.ID, p)
		results, runErr = p.Run(ctx, manifest, j.Paths.Dubbed, opts, onSnapshot)
	}

	if runErr == nil {
		return nil
	}
	if errors.Is(runErr, pool.ErrCancelled) {
		return runErr
	}

	var failed []int
	for _, res := range results {
		if res.Err != nil {
			failed = append(failed, res.Index)
		}
	}
	return &dubbingError{failedIndices: failed, err: runErr}
}

// poolConfig derives the worker pool config for one job. Retry notices
// land in the job log and on the event stream as warn entries.
func (o *Orchestrator) poolConfig(j *job.Job) pool.Config {
	jobID := j.ID
	return pool.Config{
		Workers:        j.Config.MaxParallelJobs,
		PollInterval:   o.cfg.PollInterval,
		AttemptTimeout: o.cfg.AttemptTimeout,
		MaxAttempts:    o.cfg.MaxAttempts,
		InitialBackoff: o.cfg.InitialBackoff,
		OnRetry: func(n pool.RetryNotice) {
			o.appendAndPublishLog(context.Background(), jobID, job.LogEntry{
				Stage: job.StageDubbing,
				Level: job.LevelWarn,
				Message: fmt.Sprintf("segment %d attempt %d failed, retrying in %s: %v",
					n.Segment, n.Attempt, n.Wait, n.Err),
			})
		},
	}
}

// stageMerging reassembles the dubbed segments into the final video.
func (o *Orchestrator) stageMerging(ctx context.Context, j *job.Job, manifest *media.Manifest) (string, error) {
	if err := o.advance(ctx, j.ID, job.StatusMerging); err != nil {
		return "", err
	}

	finalPath := filepath.Join(j.Paths.Output, finalFilename(j.Config.OutputFormat))

	err := o.merger.Merge(ctx, manifest, j.Paths.Dubbed, j.Paths.Output, finalPath,
		func(p media.MergeProgress) {
			o.publishProgress(ctx, j.ID, job.Progress{
				Stage:          job.StageMerging,
				OverallPercent: mergingBase + p.Percent*mergingSpan/100,
				Detail: job.StageDetail{
					Merging: &job.MergingDetail{
						Step:    p.Step,
						Percent: p.Percent,
					},
				},
			})
		})
	if err != nil {
		return "", err
	}
	return finalPath, nil
}

// stageFinalize records the output, optionally publishes it, and
// completes the job.
func (o *Orchestrator) stageFinalize(ctx context.Context, j *job.Job, finalPath string) error {
	if err := o.advance(ctx, j.ID, job.StatusFinalizing); err != nil {
		return err
	}

	o.publishProgress(ctx, j.ID, job.Progress{
		Stage:          job.StageFinalize,
		OverallPercent: finalizeBase,
	})

	var outputURL string
	if o.publisher != nil {
		var err error
		outputURL, err = o.publisher.Publish(ctx, j.ID, finalPath)
		if err != nil {
			return fmt.Errorf("publish output: %w", err)
		}
	}

	updated, err := o.repo.Update(ctx, j.ID, func(stored *job.Job) {
		stored.SetOutput(finalPath, outputURL)
		stored.SetProgress(job.Progress{
			Stage:          job.StageFinalize,
			OverallPercent: completeTotal,
		})
	})
	if err != nil {
		return err
	}

	if err := o.repo.UpdateStatus(ctx, j.ID, job.StatusComplete, nil); err != nil {
		return err
	}
	o.bus.Publish(j.ID, bus.NewProgress(updated.Progress))

	elapsed := int64(0)
	if !updated.StartedAt.IsZero() {
		elapsed = time.Since(updated.StartedAt).Milliseconds()
	}
	o.bus.Publish(j.ID, bus.NewComplete(finalPath, outputURL, elapsed))

	o.mu.Lock()
	delete(o.pools, j.ID)
	o.mu.Unlock()

	if !j.Config.KeepIntermediateFiles {
		o.ws.ScheduleCleanup(j.ID, o.cfg.Retention)
	}

	o.logger.Info("job complete", "job_id", j.ID, "output", finalPath, "elapsed_ms", elapsed)
	return nil
}

// advance transitions the job and publishes the stage entry progress.
// A cancelled context surfaces as a cancellation, not a stage failure.
func (o *Orchestrator) advance(ctx context.Context, jobID string, status job.Status) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := o.repo.UpdateStatus(ctx, jobID, status, nil); err != nil {
		return err
	}
	o.logger.Info("job stage", "job_id", jobID, "status", status)
	return nil
}

// finishStageError routes a stage failure to the right terminal state:
// cancellation when the context or pool was cancelled, Failed otherwise.
func (o *Orchestrator) finishStageError(ctx context.Context, jobID string, stage job.Stage, code string, err error, recoverable bool, failedIndices []int) {
	if ctx.Err() != nil || errors.Is(err, pool.ErrCancelled) || errors.Is(err, context.Canceled) {
		if ferr := o.finishCancelled(jobID, stage); ferr != nil {
			o.logger.Error("cancel transition failed", "job_id", jobID, "error", ferr)
		}
		return
	}

	jobErr := &job.Error{
		Code:                 code,
		Message:              err.Error(),
		Stage:                stage,
		Recoverable:          recoverable,
		FailedSegmentIndices: failedIndices,
	}

	// The job record must not lose the failure even if the caller's
	// context is gone.
	if uerr := o.repo.UpdateStatus(context.WithoutCancel(ctx), jobID, job.StatusFailed, jobErr); uerr != nil {
		o.logger.Error("failure transition failed", "job_id", jobID, "error", uerr)
	}
	o.bus.Publish(jobID, bus.NewError(jobErr))
	o.ws.ScheduleCleanup(jobID, o.cfg.Retention)

	if !recoverable {
		o.mu.Lock()
		delete(o.pools, jobID)
		o.mu.Unlock()
	}

	o.logger.Error("job failed", "job_id", jobID, "stage", stage, "code", code, "error", err)
}

// finishCancelled records the cancellation and publishes its event.
func (o *Orchestrator) finishCancelled(jobID string, stage job.Stage) error {
	if err := o.repo.UpdateStatus(context.Background(), jobID, job.StatusCancelled, nil); err != nil {
		return err
	}

	jobErr := &job.Error{
		Code:    job.CodeCancelled,
		Message: "job cancelled",
		Stage:   stage,
	}
	o.bus.Publish(jobID, bus.NewError(jobErr))
	o.ws.ScheduleCleanup(jobID, o.cfg.Retention)

	o.mu.Lock()
	delete(o.pools, jobID)
	o.mu.Unlock()

	o.logger.Info("job cancelled", "job_id", jobID, "stage", stage)
	return nil
}

// publishProgress persists the snapshot (which clamps the percent
// monotone) and fans out the stored value.
func (o *Orchestrator) publishProgress(ctx context.Context, jobID string, p job.Progress) {
	updated, err := o.repo.Update(context.WithoutCancel(ctx), jobID, func(stored *job.Job) {
		stored.SetProgress(p)
	})
	if err != nil {
		o.logger.Warn("progress update failed", "job_id", jobID, "error", err)
		return
	}
	o.bus.Publish(jobID, bus.NewProgress(updated.Progress))
}

// appendAndPublishLog records a diagnostic entry and fans it out.
func (o *Orchestrator) appendAndPublishLog(ctx context.Context, jobID string, entry job.LogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if err := o.repo.AppendLog(context.WithoutCancel(ctx), jobID, entry); err != nil {
		o.logger.Warn("append log failed", "job_id", jobID, "error", err)
		return
	}
	o.bus.Publish(jobID, bus.NewLog(entry))
}

// sourceFilename derives the workspace filename for the source video.
func sourceFilename(sourceRef string) string {
	ext := ".mp4"
	if u, err := url.Parse(sourceRef); err == nil {
		if e := path.Ext(u.Path); e != "" {
			ext = e
		}
	}
	return "source" + ext
}

// finalFilename derives the output filename from the requested format.
func finalFilename(format string) string {
	if format == "" {
		format = "mp4"
	}
	return "final." + format
}
