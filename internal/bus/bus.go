// Package bus is the per-session publish/subscribe fan-out. It
// decouples the session coordinator from the dynamic set of subscriber
// connections: publication never blocks on a slow subscriber, and idle
// subscriptions receive synthetic keepalives.
package bus

import (
	"sync"
	"time"

	"quizlive/internal/domain"
)

const (
	defaultBuffer    = 16
	defaultKeepalive = 30 * time.Second
)

// Options tune buffering and liveness per subscription.
type Options struct {
	// Buffer is the per-subscriber channel capacity.
	Buffer int
	// KeepaliveInterval is how long a subscription may stay idle before
	// a Keepalive event is injected. Zero disables keepalives.
	KeepaliveInterval time.Duration
	// OnDrop is invoked when a lagging subscriber loses an event or is
	// evicted. Optional.
	OnDrop func(quizID string)
	// OnUnsubscribe is invoked once per subscription when it closes,
	// whichever path closes it. Optional.
	OnUnsubscribe func(quizID string)
}

// Bus fans session events out to subscribers, keyed by quiz id.
type Bus struct {
	opts Options

	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
}

// Subscription is one subscriber's handle. Events arrive in publish
// order; the channel is closed exactly once, on unsubscribe.
type Subscription struct {
	bus    *Bus
	quizID string
	ch     chan domain.Event

	mu     sync.Mutex
	closed bool
	timer  *time.Timer
}

func New(opts Options) *Bus {
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	if opts.KeepaliveInterval < 0 {
		opts.KeepaliveInterval = defaultKeepalive
	}
	return &Bus{
		opts: opts,
		subs: make(map[string]map[*Subscription]struct{}),
	}
}

// Subscribe registers a new subscriber and atomically enqueues the
// caller-supplied snapshot events, so a client connecting mid-session
// observes current state before any later diff.
func (b *Bus) Subscribe(quizID string, initial ...domain.Event) *Subscription {
	capacity := b.opts.Buffer
	if len(initial) >= capacity {
		capacity = len(initial) + b.opts.Buffer
	}
	sub := &Subscription{
		bus:    b,
		quizID: quizID,
		ch:     make(chan domain.Event, capacity),
	}
	for _, ev := range initial {
		sub.ch <- ev
	}

	b.mu.Lock()
	if b.subs[quizID] == nil {
		b.subs[quizID] = make(map[*Subscription]struct{})
	}
	b.subs[quizID][sub] = struct{}{}
	b.mu.Unlock()

	sub.armKeepalive(b.opts.KeepaliveInterval)
	return sub
}

// Publish delivers events to every current subscriber of the quiz.
// Delivery is best-effort per subscriber: a full buffer loses its
// oldest event first, and a subscriber that still cannot accept is
// unsubscribed rather than retried.
func (b *Bus) Publish(quizID string, events ...domain.Event) {
	b.mu.RLock()
	targets := make([]*Subscription, 0, len(b.subs[quizID]))
	for sub := range b.subs[quizID] {
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	var evict []*Subscription
	for _, sub := range targets {
		for _, ev := range events {
			if !sub.deliver(ev, b.opts.OnDrop) {
				evict = append(evict, sub)
				break
			}
		}
	}
	for _, sub := range evict {
		if b.opts.OnDrop != nil {
			b.opts.OnDrop(quizID)
		}
		sub.Unsubscribe()
	}
}

// SubscriberCount reports the current number of subscribers for a
// quiz.
func (b *Bus) SubscriberCount(quizID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[quizID])
}

// TotalSubscribers reports the number of live subscriptions across all
// quizzes.
func (b *Bus) TotalSubscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, set := range b.subs {
		n += len(set)
	}
	return n
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	if set, ok := b.subs[sub.quizID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, sub.quizID)
		}
	}
	b.mu.Unlock()
}

// Events is the subscriber's receive channel. It is closed on
// unsubscribe.
func (s *Subscription) Events() <-chan domain.Event {
	return s.ch
}

// Unsubscribe releases the registration, stops the keepalive timer and
// closes the event channel. Safe to call more than once; the
// OnUnsubscribe hook fires only on the first call.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	close(s.ch)
	s.mu.Unlock()

	if s.bus.opts.OnUnsubscribe != nil {
		s.bus.opts.OnUnsubscribe(s.quizID)
	}
}

// deliver attempts a non-blocking send, shedding the oldest buffered
// event once if the subscriber lags. Returns false when the subscriber
// must be evicted.
func (s *Subscription) deliver(ev domain.Event, onDrop func(string)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	select {
	case s.ch <- ev:
		s.resetKeepaliveLocked()
		return true
	default:
	}

	select {
	case <-s.ch:
		if onDrop != nil {
			onDrop(s.quizID)
		}
	default:
	}

	select {
	case s.ch <- ev:
		s.resetKeepaliveLocked()
		return true
	default:
		return false
	}
}

func (s *Subscription) armKeepalive(interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timer = time.AfterFunc(interval, func() { s.keepalive(interval) })
}

func (s *Subscription) keepalive(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- domain.Keepalive{}:
	default:
		// Subscriber has pending events; those already keep it alive.
	}
	s.timer.Reset(interval)
}

func (s *Subscription) resetKeepaliveLocked() {
	if s.timer != nil {
		s.timer.Reset(s.bus.opts.KeepaliveInterval)
	}
}
