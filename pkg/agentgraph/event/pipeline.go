package event

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Subscriber receives events from a Pipeline.
type Subscriber interface {
	// OnEvent handles one event. Errors are recorded, never propagated.
	OnEvent(ctx context.Context, evt Event) error

	// Close flushes and releases the subscriber.
	Close() error
}

// SubscriberFunc adapts a function to Subscriber. Close is a no-op.
type SubscriberFunc func(ctx context.Context, evt Event) error

// OnEvent implements Subscriber.
func (f SubscriberFunc) OnEvent(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// Close implements Subscriber.
func (f SubscriberFunc) Close() error {
	return nil
}

// Named is implemented by subscribers that report a name in logs and
// dead letters. Unnamed subscribers are identified by their Go type.
type Named interface {
	Name() string
}

// Subscription is a handle to a registered subscriber.
type Subscription interface {
	Unsubscribe()
}

// Pipeline dispatches events to subscribers synchronously, in registration
// order. A nil *Pipeline discards events.
type Pipeline struct {
	mu     sync.RWMutex
	subs   []*subscription
	nextID int
	closed bool

	logger *slog.Logger
	dead   *DeadLetters
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger used to report failed deliveries.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithDeadLetters sets the dead letter list.
func WithDeadLetters(d *DeadLetters) Option {
	return func(p *Pipeline) {
		p.dead = d
	}
}

// NewPipeline creates an empty pipeline.
func NewPipeline(opts ...Option) *Pipeline {
	p := &Pipeline{
		logger: slog.Default(),
		dead:   NewDeadLetters(DefaultDeadLetterCapacity),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type subscription struct {
	id       int
	sub      Subscriber
	name     string
	kinds    map[Kind]bool // nil = all
	pipeline *Pipeline
}

func (s *subscription) accepts(k Kind) bool {
	return s.kinds == nil || s.kinds[k]
}

// Unsubscribe implements Subscription. The subscriber is not closed.
func (s *subscription) Unsubscribe() {
	p := s.pipeline
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subs = slices.DeleteFunc(p.subs, func(o *subscription) bool { return o.id == s.id })
}

// Subscribe registers sub for the given kinds, or for every kind when none
// are given. Subscribing to a closed pipeline returns a no-op handle.
func (p *Pipeline) Subscribe(sub Subscriber, kinds ...Kind) Subscription {
	s := &subscription{sub: sub, name: subscriberName(sub), pipeline: p}
	if len(kinds) > 0 {
		s.kinds = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			s.kinds[k] = true
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return s
	}
	p.nextID++
	s.id = p.nextID
	p.subs = append(p.subs, s)
	return s
}

// Emit delivers evt to every matching subscriber. ID and Timestamp are
// filled in when empty. Delivery failures are isolated per subscriber.
func (p *Pipeline) Emit(ctx context.Context, evt Event) {
	if p == nil {
		return
	}
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return
	}
	subs := make([]*subscription, 0, len(p.subs))
	for _, s := range p.subs {
		if s.accepts(evt.Kind) {
			subs = append(subs, s)
		}
	}
	p.mu.RUnlock()

	for _, s := range subs {
		if derr := deliver(ctx, s, evt); derr != nil {
			p.logger.Warn("event subscriber failed",
				"subscriber", derr.Subscriber,
				"event", evt.Kind.String(),
				"panicked", derr.Panicked,
				"error", derr.Err,
			)
			p.dead.Add(derr)
		}
	}
}

func deliver(ctx context.Context, s *subscription, evt Event) (derr *DeliveryError) {
	defer func() {
		if r := recover(); r != nil {
			derr = &DeliveryError{
				Event:      evt,
				Subscriber: s.name,
				Panicked:   true,
				Err:        fmt.Errorf("panic: %v", r),
			}
		}
	}()

	if err := s.sub.OnEvent(ctx, evt); err != nil {
		return &DeliveryError{Event: evt, Subscriber: s.name, Err: err}
	}
	return nil
}

// Len returns the number of active subscriptions.
func (p *Pipeline) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}

// DeadLetters returns the failed deliveries recorded by this pipeline.
func (p *Pipeline) DeadLetters() *DeadLetters {
	return p.dead
}

// Close closes every subscriber, continuing past failures, and returns
// their errors joined. Further emits are discarded.
func (p *Pipeline) Close() error {
	if p == nil {
		return nil
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()

	var errs []error
	for _, s := range subs {
		if err := closeSafely(s.sub); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

func closeSafely(sub Subscriber) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return sub.Close()
}

func subscriberName(sub Subscriber) string {
	if n, ok := sub.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", sub)
}
