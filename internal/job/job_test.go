package job

import (
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		SegmentDuration: 60,
		TargetLanguage:  "es",
		MaxParallelJobs: 3,
		SegmentStrategy: StrategyFixed,
	}
}

func TestNew(t *testing.T) {
	j := New("https://example.com/video", testConfig())

	if j.ID == "" {
		t.Error("expected job to have an ID")
	}
	if j.Status != StatusPending {
		t.Errorf("expected status %s, got %s", StatusPending, j.Status)
	}
	if j.SourceRef != "https://example.com/video" {
		t.Errorf("unexpected source ref %q", j.SourceRef)
	}
	if j.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
	if j.Logs == nil {
		t.Error("expected Logs to be initialized")
	}
}

func TestJob_ValidTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr bool
	}{
		// The happy path, stage by stage
		{"PENDING to DOWNLOADING", StatusPending, StatusDownloading, false},
		{"DOWNLOADING to CHUNKING", StatusDownloading, StatusChunking, false},
		{"CHUNKING to DUBBING", StatusChunking, StatusDubbing, false},
		{"DUBBING to MERGING", StatusDubbing, StatusMerging, false},
		{"MERGING to FINALIZING", StatusMerging, StatusFinalizing, false},
		{"FINALIZING to COMPLETE", StatusFinalizing, StatusComplete, false},
		// Every running stage may fail or cancel
		{"DOWNLOADING to FAILED", StatusDownloading, StatusFailed, false},
		{"DUBBING to FAILED", StatusDubbing, StatusFailed, false},
		{"DUBBING to CANCELLED", StatusDubbing, StatusCancelled, false},
		{"MERGING to CANCELLED", StatusMerging, StatusCancelled, false},
		// Retry re-enters dubbing from failed
		{"FAILED to DUBBING", StatusFailed, StatusDubbing, false},
		// Skipping stages is not allowed
		{"PENDING to DUBBING", StatusPending, StatusDubbing, true},
		{"DOWNLOADING to MERGING", StatusDownloading, StatusMerging, true},
		{"CHUNKING to COMPLETE", StatusChunking, StatusComplete, true},
		// Terminal states stay terminal
		{"COMPLETE to DUBBING", StatusComplete, StatusDubbing, true},
		{"COMPLETE to CANCELLED", StatusComplete, StatusCancelled, true},
		{"CANCELLED to DUBBING", StatusCancelled, StatusDubbing, true},
		{"FAILED to MERGING", StatusFailed, StatusMerging, true},
		{"FAILED to CANCELLED", StatusFailed, StatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := NewWithID("test", "ref", testConfig())
			j.Status = tt.from

			err := j.TransitionTo(tt.to)

			if tt.wantErr && err == nil {
				t.Errorf("expected error for transition %s -> %s", tt.from, tt.to)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error for transition %s -> %s: %v", tt.from, tt.to, err)
			}
		})
	}
}

func TestJob_Fail(t *testing.T) {
	j := New("ref", testConfig())
	_ = j.TransitionTo(StatusDownloading)
	_ = j.TransitionTo(StatusChunking)
	_ = j.TransitionTo(StatusDubbing)

	err := j.Fail(&Error{
		Code:                 CodeDubbingFailed,
		Message:              "segment 1 exhausted retries",
		Stage:                StageDubbing,
		Recoverable:          true,
		FailedSegmentIndices: []int{1},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if j.Status != StatusFailed {
		t.Errorf("expected status %s, got %s", StatusFailed, j.Status)
	}
	if j.Error == nil || j.Error.Code != CodeDubbingFailed {
		t.Errorf("expected recorded error with code %s, got %+v", CodeDubbingFailed, j.Error)
	}
	if j.CompletedAt.IsZero() {
		t.Error("expected CompletedAt to be set")
	}
}

func TestJob_RetryClearsError(t *testing.T) {
	j := New("ref", testConfig())
	j.Status = StatusDubbing
	if err := j.Fail(&Error{Code: CodeDubbingFailed, Stage: StageDubbing}); err != nil {
		t.Fatalf("fail: %v", err)
	}

	if err := j.TransitionTo(StatusDubbing); err != nil {
		t.Fatalf("retry transition: %v", err)
	}
	if j.Error != nil {
		t.Errorf("expected error cleared on retry, got %+v", j.Error)
	}
	if !j.CompletedAt.IsZero() {
		t.Error("expected CompletedAt cleared on retry")
	}
}

func TestJob_CancelIdempotence(t *testing.T) {
	j := New("ref", testConfig())
	j.Status = StatusDubbing

	if err := j.Cancel(); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if err := j.Cancel(); err != ErrInvalidTransition {
		t.Errorf("expected ErrInvalidTransition on second cancel, got %v", err)
	}
	if j.Status != StatusCancelled {
		t.Errorf("expected status unchanged, got %s", j.Status)
	}
}

func TestJob_SetProgressMonotonic(t *testing.T) {
	j := New("ref", testConfig())
	j.SetProgress(Progress{Stage: StageDubbing, OverallPercent: 50})
	j.SetProgress(Progress{Stage: StageDubbing, OverallPercent: 40})

	if j.Progress.OverallPercent != 50 {
		t.Errorf("expected percent clamped to 50, got %d", j.Progress.OverallPercent)
	}

	j.SetProgress(Progress{Stage: StageMerging, OverallPercent: 96})
	if j.Progress.OverallPercent != 96 {
		t.Errorf("expected percent 96, got %d", j.Progress.OverallPercent)
	}
}

func TestJob_AppendLogOrdered(t *testing.T) {
	j := New("ref", testConfig())
	for i := 0; i < 5; i++ {
		j.AppendLog(LogEntry{Stage: StageDubbing, Level: LevelInfo, Message: string(rune('a' + i))})
	}

	if len(j.Logs) != 5 {
		t.Fatalf("expected 5 log entries, got %d", len(j.Logs))
	}
	for i, entry := range j.Logs {
		if entry.Message != string(rune('a'+i)) {
			t.Errorf("log entry %d out of order: %q", i, entry.Message)
		}
		if entry.Timestamp.IsZero() {
			t.Errorf("log entry %d missing timestamp", i)
		}
	}
}

func TestJob_Clone(t *testing.T) {
	j := New("ref", testConfig())
	j.AppendLog(LogEntry{Stage: StageDownload, Level: LevelInfo, Message: "start"})
	j.SetProgress(Progress{
		Stage:          StageDubbing,
		OverallPercent: 42,
		Detail: StageDetail{
			Dubbing: &DubbingDetail{Total: 3, Completed: 1, Pending: 2, Segments: map[int]string{0: "complete"}},
		},
	})

	c := j.Clone()

	c.AppendLog(LogEntry{Message: "only on clone"})
	c.Progress.Detail.Dubbing.Segments[1] = "uploading"

	if len(j.Logs) != 1 {
		t.Errorf("clone log append leaked into original: %d entries", len(j.Logs))
	}
	if _, ok := j.Progress.Detail.Dubbing.Segments[1]; ok {
		t.Error("clone segment map mutation leaked into original")
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusPending, false},
		{StatusDownloading, false},
		{StatusChunking, false},
		{StatusDubbing, false},
		{StatusMerging, false},
		{StatusFinalizing, false},
		{StatusComplete, true},
		{StatusFailed, true},
		{StatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Errorf("Status(%q).IsTerminal() = %v, want %v", tt.status, got, tt.terminal)
			}
		})
	}
}

func TestJob_StartedAtSetOnce(t *testing.T) {
	j := New("ref", testConfig())
	if err := j.TransitionTo(StatusDownloading); err != nil {
		t.Fatalf("transition: %v", err)
	}
	started := j.StartedAt
	if started.IsZero() {
		t.Fatal("expected StartedAt to be set")
	}

	time.Sleep(time.Millisecond)
	_ = j.TransitionTo(StatusChunking)
	if !j.StartedAt.Equal(started) {
		t.Error("expected StartedAt unchanged after later transitions")
	}
}
