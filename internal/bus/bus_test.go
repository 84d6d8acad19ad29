package bus

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dubflow/dubflow-api/internal/job"
)

func progressEvent(percent int) Event {
	return NewProgress(job.Progress{Stage: job.StageDubbing, OverallPercent: percent})
}

func TestBus_PublishSubscribe(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe("job-1")

	b.Publish("job-1", progressEvent(10))
	b.Publish("job-1", progressEvent(20))

	ev := <-sub.C
	require.Equal(t, EventProgress, ev.Type)
	assert.Equal(t, 10, ev.Progress.OverallPercent)

	ev = <-sub.C
	assert.Equal(t, 20, ev.Progress.OverallPercent)
}

func TestBus_SubscriberSeesOnlyEventsAfterSubscription(t *testing.T) {
	b := New(nil)

	b.Publish("job-1", progressEvent(10))
	sub := b.Subscribe("job-1")
	b.Publish("job-1", progressEvent(20))

	ev := <-sub.C
	assert.Equal(t, 20, ev.Progress.OverallPercent)
}

func TestBus_SlowSubscriberDropsOldest(t *testing.T) {
	b := New(nil, WithBufferSize(4))
	sub := b.Subscribe("job-1")

	// Publish well past the buffer without consuming.
	for i := 1; i <= 10; i++ {
		b.Publish("job-1", progressEvent(i))
	}

	var got []Event
	for len(sub.C) > 0 {
		got = append(got, <-sub.C)
	}

	dropped := 0
	var percents []int
	for _, ev := range got {
		switch ev.Type {
		case EventDropped:
			dropped += ev.Dropped.Count
		case EventProgress:
			percents = append(percents, ev.Progress.OverallPercent)
		}
	}

	// Every published event is either delivered or accounted for.
	assert.Equal(t, 10, dropped+len(percents))
	assert.Positive(t, dropped)
	// Survivors are the most recent events, still in publish order.
	require.NotEmpty(t, percents)
	assert.Equal(t, 10, percents[len(percents)-1])
	for i := 1; i < len(percents); i++ {
		assert.Greater(t, percents[i], percents[i-1])
	}
}

func TestBus_SlowSubscriberDoesNotAffectOthers(t *testing.T) {
	b := New(nil, WithBufferSize(4))
	slow := b.Subscribe("job-1")
	fast := b.Subscribe("job-1")

	done := make(chan []int)
	go func() {
		var seen []int
		for ev := range fast.C {
			if ev.Type == EventProgress {
				seen = append(seen, ev.Progress.OverallPercent)
			}
			if len(seen) == 20 {
				break
			}
		}
		done <- seen
	}()

	for i := 1; i <= 20; i++ {
		b.Publish("job-1", progressEvent(i))
		time.Sleep(time.Millisecond)
	}

	seen := <-done
	require.Len(t, seen, 20)
	for i, p := range seen {
		assert.Equal(t, i+1, p)
	}
	// The slow subscriber got a prefix gap but not a stalled producer.
	assert.Positive(t, len(slow.C))
}

func TestBus_PublishNeverBlocks(t *testing.T) {
	b := New(nil, WithBufferSize(4))
	_ = b.Subscribe("job-1") // never consumed

	doneCh := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			b.Publish("job-1", progressEvent(i%100))
		}
		close(doneCh)
	}()

	select {
	case <-doneCh:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a stalled subscriber")
	}
}

func TestBus_TerminalEventRetainedForLateSubscriber(t *testing.T) {
	b := New(nil, WithTerminalGrace(time.Second))

	b.Publish("job-1", NewComplete("/out/final.mp4", "", 1234))

	sub := b.Subscribe("job-1")
	select {
	case ev := <-sub.C:
		require.Equal(t, EventComplete, ev.Type)
		assert.Equal(t, "/out/final.mp4", ev.Complete.OutputFile)
	case <-time.After(time.Second):
		t.Fatal("late subscriber did not receive retained terminal event")
	}
}

func TestBus_TopicClosedAfterGrace(t *testing.T) {
	b := New(nil, WithTerminalGrace(20*time.Millisecond))
	sub := b.Subscribe("job-1")

	b.Publish("job-1", NewError(&job.Error{Code: job.CodeCancelled, Stage: job.StageDubbing}))

	ev := <-sub.C
	require.Equal(t, EventError, ev.Type)
	assert.Equal(t, job.CodeCancelled, ev.Error.Code)

	// Channel closes once the grace window lapses.
	select {
	case _, open := <-sub.C:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("subscription was not closed after grace window")
	}
	assert.Equal(t, 0, b.SubscriberCount("job-1"))
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe("job-1")
	require.Equal(t, 1, b.SubscriberCount("job-1"))

	b.Unsubscribe("job-1", sub)
	assert.Equal(t, 0, b.SubscriberCount("job-1"))

	_, open := <-sub.C
	assert.False(t, open)

	// Unsubscribing twice is harmless.
	b.Unsubscribe("job-1", sub)
}

func TestBus_CloseJobIdempotent(t *testing.T) {
	b := New(nil)
	sub := b.Subscribe("job-1")

	b.CloseJob("job-1")
	b.CloseJob("job-1")

	_, open := <-sub.C
	assert.False(t, open)
}

func TestBus_TwoSubscribersSameEvents(t *testing.T) {
	b := New(nil, WithBufferSize(128))
	a := b.Subscribe("job-1")
	c := b.Subscribe("job-1")

	for i := 1; i <= 50; i++ {
		b.Publish("job-1", NewLog(job.LogEntry{
			Stage:   job.StageDubbing,
			Level:   job.LevelInfo,
			Message: fmt.Sprintf("event %d", i),
		}))
	}

	drain := func(s *Subscription) []string {
		var msgs []string
		for len(s.C) > 0 {
			ev := <-s.C
			if ev.Type == EventLog {
				msgs = append(msgs, ev.Log.Message)
			}
		}
		return msgs
	}

	assert.Equal(t, drain(a), drain(c))
}
