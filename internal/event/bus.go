package event

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"filemirror/internal/logging"
	"filemirror/internal/metrics"

	"golang.org/x/time/rate"
)

const (
	defaultSubscriberBufferSize = 128
	defaultDropWarningThreshold = 0.01
	defaultDropWarningInterval  = 30 * time.Second
)

// Typed is implemented by every event carried on a Bus.
type Typed interface {
	Type() string
}

type BusOptions struct {
	Name                 string
	SubscriberBufferSize int
	MaxSubscribers       int
	DropWarningThreshold float64
	DropWarningInterval  time.Duration
	Registry             *metrics.Registry
	Logger               *logging.Logger
}

// Bus fans events out to subscribers without ever blocking the publisher.
// A subscriber that falls behind loses events; the loss is counted.
type Bus[T Typed] struct {
	name      string
	options   BusOptions
	registry  *metrics.Registry
	logger    *logging.Logger
	dropWarn  rate.Sometimes
	published atomic.Int64
	dropped   atomic.Int64

	// mu is held for reading while publishing, so a subscriber channel is
	// never closed during a send.
	mu          sync.RWMutex
	subscribers map[uint64]*subscriber[T]
	nextID      uint64
	closed      bool
}

type subscriber[T Typed] struct {
	ch    chan T
	types map[string]struct{}
	match func(T) bool
}

func (s *subscriber[T]) wants(event T) bool {
	if s.types != nil {
		if _, ok := s.types[event.Type()]; !ok {
			return false
		}
	}
	return s.match == nil || s.match(event)
}

func (s *subscriber[T]) filtered() bool {
	return s.types != nil || s.match != nil
}

// NewBus creates a bus that closes itself when ctx is done.
func NewBus[T Typed](ctx context.Context, opts BusOptions) *Bus[T] {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.SubscriberBufferSize <= 0 {
		opts.SubscriberBufferSize = defaultSubscriberBufferSize
	}
	if opts.DropWarningThreshold <= 0 {
		opts.DropWarningThreshold = defaultDropWarningThreshold
	}
	if opts.DropWarningInterval <= 0 {
		opts.DropWarningInterval = defaultDropWarningInterval
	}
	if opts.Name == "" {
		opts.Name = "event_bus"
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewDiscardLogger()
	}
	registry := opts.Registry
	if registry == nil {
		registry = metrics.Default
	}
	bus := &Bus[T]{
		name:        opts.Name,
		options:     opts,
		registry:    registry,
		logger:      logger.WithComponent("event_bus"),
		dropWarn:    rate.Sometimes{First: 1, Interval: opts.DropWarningInterval},
		subscribers: make(map[uint64]*subscriber[T]),
	}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			bus.Close()
		}()
	}
	return bus
}

func (b *Bus[T]) Subscribe() (<-chan T, func()) {
	return b.subscribe(&subscriber[T]{})
}

// SubscribeFiltered delivers only events accepted by match.
func (b *Bus[T]) SubscribeFiltered(match func(T) bool) (<-chan T, func()) {
	return b.subscribe(&subscriber[T]{match: match})
}

// SubscribeTypes delivers only events whose Type() is one of eventTypes.
// With no usable type the returned channel is already closed.
func (b *Bus[T]) SubscribeTypes(eventTypes ...string) (<-chan T, func()) {
	types := make(map[string]struct{}, len(eventTypes))
	for _, eventType := range eventTypes {
		if eventType != "" {
			types[eventType] = struct{}{}
		}
	}
	if len(types) == 0 {
		return closedChannel[T](), func() {}
	}
	return b.subscribe(&subscriber[T]{types: types})
}

func (b *Bus[T]) subscribe(sub *subscriber[T]) (<-chan T, func()) {
	if b == nil {
		return closedChannel[T](), func() {}
	}
	b.mu.Lock()
	if b.closed || (b.options.MaxSubscribers > 0 && len(b.subscribers) >= b.options.MaxSubscribers) {
		b.mu.Unlock()
		return closedChannel[T](), func() {}
	}
	b.nextID++
	id := b.nextID
	sub.ch = make(chan T, b.options.SubscriberBufferSize)
	b.subscribers[id] = sub
	b.reportSubscribersLocked()
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() { b.unsubscribe(id) })
	}
}

func (b *Bus[T]) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub, ok := b.subscribers[id]
	if !ok {
		return
	}
	delete(b.subscribers, id)
	close(sub.ch)
	b.reportSubscribersLocked()
}

// Publish offers event to every interested subscriber. Full subscribers
// lose the event.
func (b *Bus[T]) Publish(event T) {
	if b == nil {
		return
	}
	eventType := event.Type()
	if eventType == "" {
		eventType = "unknown"
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	b.published.Add(1)
	b.registry.IncEventPublished(b.name, eventType)
	if b.logger.Enabled(logging.LevelDebug) {
		b.logger.Debug("event published", map[string]string{
			"bus":   b.name,
			"event": eventType,
		})
	}
	drops := 0
	for _, sub := range b.subscribers {
		if !sub.wants(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			drops++
		}
	}
	b.mu.RUnlock()

	for i := 0; i < drops; i++ {
		b.dropped.Add(1)
		b.registry.IncEventDropped(b.name, eventType)
	}
	if drops > 0 {
		b.warnDropRate()
	}
}

func (b *Bus[T]) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		delete(b.subscribers, id)
		close(sub.ch)
	}
	b.reportSubscribersLocked()
}

func (b *Bus[T]) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Stats reports how many events were published and dropped since creation.
func (b *Bus[T]) Stats() (published, dropped int64) {
	if b == nil {
		return 0, 0
	}
	return b.published.Load(), b.dropped.Load()
}

func (b *Bus[T]) reportSubscribersLocked() {
	filtered, unfiltered := 0, 0
	for _, sub := range b.subscribers {
		if sub.filtered() {
			filtered++
		} else {
			unfiltered++
		}
	}
	b.registry.SetEventSubscriberCounts(b.name, filtered, unfiltered)
}

// warnDropRate logs at most once per DropWarningInterval while the share of
// dropped deliveries stays above DropWarningThreshold.
func (b *Bus[T]) warnDropRate() {
	published, dropped := b.Stats()
	if published == 0 {
		return
	}
	ratio := float64(dropped) / float64(published)
	if ratio < b.options.DropWarningThreshold {
		return
	}
	b.dropWarn.Do(func() {
		b.logger.Warn("event bus dropping events", map[string]string{
			"bus":       b.name,
			"rate":      strconv.FormatFloat(ratio*100, 'f', 2, 64) + "%",
			"dropped":   strconv.FormatInt(dropped, 10),
			"published": strconv.FormatInt(published, 10),
		})
	})
}

func closedChannel[T any]() chan T {
	ch := make(chan T)
	close(ch)
	return ch
}
