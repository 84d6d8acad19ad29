package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultBufferSize is the per-subscriber event buffer depth.
	DefaultBufferSize = 64
	// DefaultTerminalGrace is how long a terminal event is retained for
	// late subscribers before the job's topic is torn down.
	DefaultTerminalGrace = 5 * time.Second
)

// Subscription is one subscriber's delivery stream for a job.
// Events arrive on C in publish order; C is closed when the
// subscription is removed or the job's topic is torn down.
type Subscription struct {
	// ID uniquely identifies this subscription.
	ID string
	// C delivers the events.
	C <-chan Event

	ch chan Event
}

// subscriber tracks per-subscriber delivery state. dropped accrues the
// number of events discarded since the subscriber last kept up; the
// sentinel carrying that count is inserted before the next delivery.
type subscriber struct {
	sub     *Subscription
	dropped int
}

// topic is the per-job subscriber set, independently locked so slow
// jobs do not contend with busy ones.
type topic struct {
	mu         sync.Mutex
	subs       map[string]*subscriber
	terminal   *Event
	graceTimer *time.Timer
	closed     bool
}

// Bus fans out job events to subscribers. Publishing never blocks:
// when a subscriber's buffer is full the oldest buffered event is
// dropped and accounted for with a Dropped sentinel.
type Bus struct {
	mu     sync.RWMutex
	topics map[string]*topic

	bufferSize    int
	terminalGrace time.Duration
	logger        *slog.Logger
}

// Option is a function that configures a Bus.
type Option func(*Bus)

// WithBufferSize sets the per-subscriber buffer depth.
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithTerminalGrace sets how long terminal events are retained.
func WithTerminalGrace(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.terminalGrace = d
		}
	}
}

// New creates a progress bus.
func New(logger *slog.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		topics:        make(map[string]*topic),
		bufferSize:    DefaultBufferSize,
		terminalGrace: DefaultTerminalGrace,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// getOrCreateTopic returns the topic for a job, creating it on first use.
func (b *Bus) getOrCreateTopic(jobID string) *topic {
	b.mu.RLock()
	t, ok := b.topics[jobID]
	b.mu.RUnlock()
	if ok {
		return t
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if t, ok = b.topics[jobID]; ok {
		return t
	}
	t = &topic{subs: make(map[string]*subscriber)}
	b.topics[jobID] = t
	return t
}

// Subscribe returns a new delivery stream for the job. The subscriber
// receives every event published after this call; if the job already
// finished within the terminal grace window, the retained terminal
// event is delivered immediately.
func (b *Bus) Subscribe(jobID string) *Subscription {
	t := b.getOrCreateTopic(jobID)

	ch := make(chan Event, b.bufferSize)
	sub := &Subscription{ID: uuid.NewString(), C: ch, ch: ch}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		close(ch)
		return sub
	}

	t.subs[sub.ID] = &subscriber{sub: sub}
	if t.terminal != nil {
		ch <- *t.terminal
	}
	return sub
}

// Unsubscribe removes a single subscription and closes its channel.
func (b *Bus) Unsubscribe(jobID string, sub *Subscription) {
	b.mu.RLock()
	t, ok := b.topics[jobID]
	b.mu.RUnlock()
	if !ok || sub == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.subs[sub.ID]; ok {
		delete(t.subs, sub.ID)
		close(s.sub.ch)
	}
}

// Publish delivers an event to every subscriber of the job. It never
// blocks on a slow subscriber. Terminal events are retained for the
// grace window, after which the topic is torn down.
func (b *Bus) Publish(jobID string, ev Event) {
	t := b.getOrCreateTopic(jobID)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}

	for _, s := range t.subs {
		t.deliver(s, ev)
	}

	if ev.IsTerminal() {
		retained := ev
		t.terminal = &retained
		if t.graceTimer == nil {
			t.graceTimer = time.AfterFunc(b.terminalGrace, func() {
				b.CloseJob(jobID)
			})
		}
	}
}

// deliver enqueues the event for one subscriber, dropping the oldest
// buffered events when the buffer is full. Called with t.mu held, which
// is what keeps per-subscriber delivery in publish order.
func (t *topic) deliver(s *subscriber, ev Event) {
	// Flush an accrued drop sentinel first so the gap is visible at the
	// position it occurred.
	if s.dropped > 0 {
		select {
		case s.sub.ch <- Event{Type: EventDropped, Dropped: &Dropped{Count: s.dropped}}:
			s.dropped = 0
		default:
		}
	}

	for {
		select {
		case s.sub.ch <- ev:
			return
		default:
		}

		// Buffer full: discard the oldest buffered event. The producer
		// is the only writer, so after one receive a slot is free.
		select {
		case old := <-s.sub.ch:
			if old.Type == EventDropped {
				s.dropped += old.Dropped.Count
			} else {
				s.dropped++
			}
		default:
		}
	}
}

// CloseJob closes every subscription of the job and removes its topic.
// Idempotent; invoked by the grace timer after a terminal event and by
// the orchestrator on job deletion.
func (b *Bus) CloseJob(jobID string) {
	b.mu.Lock()
	t, ok := b.topics[jobID]
	if ok {
		delete(b.topics, jobID)
	}
	b.mu.Unlock()
	if !ok {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	if t.graceTimer != nil {
		t.graceTimer.Stop()
	}
	for id, s := range t.subs {
		delete(t.subs, id)
		close(s.sub.ch)
	}
}

// SubscriberCount returns the number of active subscribers for a job.
func (b *Bus) SubscriberCount(jobID string) int {
	b.mu.RLock()
	t, ok := b.topics[jobID]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}
