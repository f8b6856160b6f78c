package event

import (
	"sync"
	"time"
)

// DefaultDeadLetterCapacity bounds DeadLetters when no capacity is given.
const DefaultDeadLetterCapacity = 1000

// FailedDelivery records one failed subscriber delivery.
type FailedDelivery struct {
	Event      Event
	Subscriber string
	Error      string
	Panicked   bool
	FailedAt   time.Time
}

// DeadLetters is a bounded in-memory list of failed deliveries.
// When full, the oldest entry is evicted.
type DeadLetters struct {
	mu       sync.RWMutex
	entries  []*FailedDelivery
	capacity int
	dropped  int64

	// OnAdd is called, outside the lock, for each recorded failure.
	OnAdd func(*FailedDelivery)
}

// NewDeadLetters creates a dead letter list holding at most capacity entries.
func NewDeadLetters(capacity int) *DeadLetters {
	if capacity <= 0 {
		capacity = DefaultDeadLetterCapacity
	}
	return &DeadLetters{capacity: capacity}
}

// Add records a failed delivery.
func (d *DeadLetters) Add(derr *DeliveryError) {
	f := &FailedDelivery{
		Event:      derr.Event,
		Subscriber: derr.Subscriber,
		Error:      derr.Error(),
		Panicked:   derr.Panicked,
		FailedAt:   time.Now(),
	}

	d.mu.Lock()
	if len(d.entries) >= d.capacity {
		d.entries = d.entries[1:]
		d.dropped++
	}
	d.entries = append(d.entries, f)
	onAdd := d.OnAdd
	d.mu.Unlock()

	if onAdd != nil {
		onAdd(f)
	}
}

// List returns the recorded failures, oldest first.
func (d *DeadLetters) List() []*FailedDelivery {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*FailedDelivery, len(d.entries))
	copy(out, d.entries)
	return out
}

// Len returns the number of recorded failures.
func (d *DeadLetters) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Dropped returns how many entries were evicted for capacity.
func (d *DeadLetters) Dropped() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dropped
}

// Clear removes all entries.
func (d *DeadLetters) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = nil
}
