// Package events publishes run lifecycle notifications to in-process
// subscribers such as the websocket handler.
//
// Publishing never blocks the executor: a subscriber whose buffer is full
// misses the event and its drop counter is incremented.
package events

import (
	"crypto/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Type 事件类型
type Type string

const (
	StepStarted   Type = "step.started"
	StepCompleted Type = "step.completed"
	RunPaused     Type = "run.paused"
	RunResumed    Type = "run.resumed"
	RunSucceeded  Type = "run.succeeded"
	RunFailed     Type = "run.failed"
	RunAborted    Type = "run.aborted"
)

// Event is one lifecycle notification. IDs are ULIDs and sort by time.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	RunID     string         `json:"run_id"`
	GraphID   string         `json:"graph_id"`
	StepID    string         `json:"step_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Publisher is what the executor depends on.
type Publisher interface {
	Publish(e Event)
}

// DefaultBuffer is the per-subscription buffer used when none is given.
const DefaultBuffer = 64

// Bus fans events out to subscriptions.
type Bus struct {
	mu       sync.RWMutex
	subs     map[uint64]*Subscription
	nextID   uint64
	entropy  *ulid.MonotonicEntropy
	entropyM sync.Mutex
	dropped  atomic.Int64
	done     chan struct{}
	stopOnce sync.Once
	logger   *zap.Logger
}

// NewBus 创建事件总线
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:    make(map[uint64]*Subscription),
		entropy: ulid.Monotonic(rand.Reader, 0),
		done:    make(chan struct{}),
		logger:  logger.With(zap.String("component", "events")),
	}
}

func (b *Bus) newID(t time.Time) string {
	b.entropyM.Lock()
	defer b.entropyM.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), b.entropy).String()
}

// Publish stamps e with an id and timestamp when missing and delivers it to
// every matching subscription without blocking.
func (b *Bus) Publish(e Event) {
	select {
	case <-b.done:
		return
	default:
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.ID == "" {
		e.ID = b.newID(e.Timestamp)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.matches(e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			s.dropped.Add(1)
			b.dropped.Add(1)
			b.logger.Debug("subscriber buffer full, event dropped",
				zap.String("run_id", e.RunID),
				zap.String("type", string(e.Type)),
			)
		}
	}
}

// Subscribe registers a subscription. An empty runID receives events of
// every run; types narrows delivery to the listed event types.
func (b *Bus) Subscribe(runID string, buffer int, types ...Type) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &Subscription{
		bus:   b,
		runID: runID,
		ch:    make(chan Event, buffer),
	}
	if len(types) > 0 {
		s.types = make(map[Type]bool, len(types))
		for _, t := range types {
			s.types[t] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-b.done:
		close(s.ch)
		s.closed = true
		return s
	default:
	}
	b.nextID++
	s.id = b.nextID
	b.subs[s.id] = s
	return s
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.closed {
		return
	}
	delete(b.subs, s.id)
	s.closed = true
	close(s.ch)
}

// Dropped returns the number of events dropped across all subscriptions.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// Subscribers returns the number of open subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Stop closes every subscription. Later publishes are ignored.
func (b *Bus) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		close(b.done)
		for id, s := range b.subs {
			delete(b.subs, id)
			s.closed = true
			close(s.ch)
		}
	})
}

// Subscription is a buffered stream of events.
type Subscription struct {
	bus     *Bus
	id      uint64
	runID   string
	types   map[Type]bool
	ch      chan Event
	closed  bool // guarded by bus.mu
	dropped atomic.Int64
}

func (s *Subscription) matches(e Event) bool {
	if s.runID != "" && s.runID != e.RunID {
		return false
	}
	return s.types == nil || s.types[e.Type]
}

// C returns the event channel. It is closed by Close or Bus.Stop.
func (s *Subscription) C() <-chan Event { return s.ch }

// Dropped returns how many events this subscription missed.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() { s.bus.remove(s) }

// Nop discards events.
type Nop struct{}

func (Nop) Publish(Event) {}
