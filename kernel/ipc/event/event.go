// Package event implements named event channels with four delivery modes
// (immediate, notification, subscription and group), as described by the
// EventChannel data model: producers Publish an object.Event, and receivers
// attach a Subscription and call Receive.
package event

import (
	"github.com/petitstrawberry/scarlet/kernel"
	"github.com/petitstrawberry/scarlet/kernel/object"
	"github.com/petitstrawberry/scarlet/kernel/sync"
)

// yieldFn is invoked by a blocking Receive while its queue is empty.
//
// TODO: replace with sched.Yield once the scheduler exposes a suspension
// point hook for IPC waits.
var yieldFn = func() {}

// DefaultSubscriptionCapacity bounds a subscription's queue when the caller
// requests a capacity of zero.
const DefaultSubscriptionCapacity = 64

// Channel is a named event distribution point. It implements
// object.KernelObject and object.EventIpcOps.
type Channel struct {
	lock   sync.Spinlock
	name   string
	mode   object.DeliveryMode
	subs   []*Subscription
	closed bool

	// dropped counts events silently discarded under DeliveryNotification
	// (queue full) or DeliveryGroup (no matching subscriber).
	dropped uint64
}

// NewChannel creates a channel with the given name and delivery mode.
func NewChannel(name string, mode object.DeliveryMode) *Channel {
	return &Channel{name: name, mode: mode}
}

// Name returns the channel's name.
func (c *Channel) Name() string { return c.name }

// Dropped returns the number of events this channel has silently discarded
// since creation.
func (c *Channel) Dropped() uint64 {
	c.lock.Acquire()
	defer c.lock.Release()
	return c.dropped
}

// Kind implements object.KernelObject.
func (c *Channel) Kind() object.Kind { return object.KindEventChannel }

// Close detaches every subscription from the channel and marks it closed.
func (c *Channel) Close() *kernel.Error {
	c.lock.Acquire()
	defer c.lock.Release()

	c.closed = true
	c.subs = nil
	return nil
}

// Subscribe attaches a new Subscription to the channel with the given
// filter and queue capacity (DefaultSubscriptionCapacity if capacity <= 0).
func (c *Channel) Subscribe(filter object.Filter, capacity int) (*Subscription, *kernel.Error) {
	if capacity <= 0 {
		capacity = DefaultSubscriptionCapacity
	}

	c.lock.Acquire()
	defer c.lock.Release()

	if c.closed {
		return nil, object.ErrInvalidState
	}

	sub := &Subscription{channel: c, filter: filter, capacity: capacity}
	c.subs = append(c.subs, sub)
	return sub, nil
}

// unsubscribe removes sub from the channel's subscriber list; called from
// Subscription.Close.
func (c *Channel) unsubscribe(sub *Subscription) {
	c.lock.Acquire()
	defer c.lock.Release()

	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers evt according to the channel's DeliveryMode.
func (c *Channel) Publish(evt object.Event) *kernel.Error {
	c.lock.Acquire()
	if c.closed {
		c.lock.Release()
		return object.ErrInvalidState
	}
	subs := make([]*Subscription, len(c.subs))
	copy(subs, c.subs)
	mode := c.mode
	c.lock.Release()

	switch mode {
	case object.DeliveryImmediate:
		for _, s := range subs {
			if !s.filter.Matches(evt) {
				continue
			}
			s.forceEnqueue(evt)
		}
		return nil

	case object.DeliveryNotification:
		for _, s := range subs {
			if !s.filter.Matches(evt) {
				continue
			}
			if err := s.tryEnqueue(evt); err != nil {
				c.lock.Acquire()
				c.dropped++
				c.lock.Release()
			}
		}
		return nil

	case object.DeliverySubscription:
		var lastErr *kernel.Error
		for _, s := range subs {
			if !s.filter.Matches(evt) {
				continue
			}
			if err := s.tryEnqueue(evt); err != nil {
				lastErr = err
			}
		}
		return lastErr

	case object.DeliveryGroup:
		delivered := false
		for _, s := range subs {
			if s.filter.GroupID != evt.GroupID || !s.filter.Matches(evt) {
				continue
			}
			s.forceEnqueue(evt)
			delivered = true
		}
		if !delivered {
			c.lock.Acquire()
			c.dropped++
			c.lock.Release()
		}
		return nil

	default:
		return object.ErrNotSupported
	}
}

// Receive is not supported directly on a Channel; callers must Subscribe
// and Receive on the returned Subscription.
func (c *Channel) Receive(block bool) (object.Event, *kernel.Error) {
	return object.Event{}, object.ErrNotSupported
}

// Subscription is a queued receiver bound to a Channel. It implements
// object.KernelObject and object.EventIpcOps.
type Subscription struct {
	lock     sync.Spinlock
	channel  *Channel
	filter   object.Filter
	queue    []object.Event
	capacity int
	closed   bool
}

// Kind implements object.KernelObject.
func (s *Subscription) Kind() object.Kind { return object.KindEventSubscription }

// Close detaches the subscription from its channel.
func (s *Subscription) Close() *kernel.Error {
	s.lock.Acquire()
	if s.closed {
		s.lock.Release()
		return nil
	}
	s.closed = true
	s.lock.Release()

	s.channel.unsubscribe(s)
	return nil
}

// Publish is not supported directly on a Subscription; events are queued on
// it only through its owning Channel's Publish.
func (s *Subscription) Publish(evt object.Event) *kernel.Error {
	return object.ErrNotSupported
}

// tryEnqueue inserts evt respecting capacity; returns object.ErrChannelFull
// if the queue is already full.
func (s *Subscription) tryEnqueue(evt object.Event) *kernel.Error {
	s.lock.Acquire()
	defer s.lock.Release()

	if len(s.queue) >= s.capacity {
		return object.ErrChannelFull
	}
	s.insertLocked(evt)
	return nil
}

// forceEnqueue inserts evt ignoring capacity, used by DeliveryImmediate and
// DeliveryGroup, both of which must not silently drop a matched delivery.
func (s *Subscription) forceEnqueue(evt object.Event) {
	s.lock.Acquire()
	defer s.lock.Release()
	s.insertLocked(evt)
}

// insertLocked inserts evt into the queue, ordered by descending Priority,
// preserving arrival order among equal priorities. Caller must hold s.lock.
func (s *Subscription) insertLocked(evt object.Event) {
	i := len(s.queue)
	for i > 0 && s.queue[i-1].Priority < evt.Priority {
		i--
	}
	s.queue = append(s.queue, object.Event{})
	copy(s.queue[i+1:], s.queue[i:])
	s.queue[i] = evt
}

// Receive dequeues the highest-priority queued event. If block is true and
// the queue is empty, Receive suspends the caller until an event arrives.
func (s *Subscription) Receive(block bool) (object.Event, *kernel.Error) {
	for {
		s.lock.Acquire()
		if len(s.queue) > 0 {
			evt := s.queue[0]
			s.queue = s.queue[1:]
			s.lock.Release()
			return evt, nil
		}
		closed := s.closed
		s.lock.Release()

		if closed {
			return object.Event{}, object.ErrPeerClosed
		}
		if !block {
			return object.Event{}, object.ErrInvalidState
		}
		yieldFn()
	}
}
