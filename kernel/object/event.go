package object

import "github.com/petitstrawberry/scarlet/kernel"

// DeliveryMode selects how an EventChannel distributes a published Event to
// its subscribers.
type DeliveryMode uint8

const (
	// DeliveryImmediate synchronously force-delivers the event to every
	// current subscriber whose filter matches. Forced delivery ignores
	// each subscription's queue capacity, so a full queue does not make
	// Publish fail in this mode.
	DeliveryImmediate DeliveryMode = iota

	// DeliveryNotification is best-effort: subscribers that cannot accept
	// the event immediately simply miss it, and the channel increments a
	// dropped-event counter instead of failing Publish.
	DeliveryNotification

	// DeliverySubscription queues the event on every subscription,
	// growing each subscription's queue up to its capacity; a
	// subscription whose queue is full causes Publish to report
	// ErrChannelFull for that subscriber (but does not abort delivery to
	// the others).
	DeliverySubscription

	// DeliveryGroup broadcasts the event only to subscriptions whose
	// Filter.GroupID matches the event's GroupID. An event addressed to a
	// group with no current subscribers is silently dropped.
	DeliveryGroup
)

// Event is the typed, prioritized payload exchanged over an EventChannel.
type Event struct {
	// Type is an ABI/application-defined event type tag.
	Type uint32

	// Priority orders delivery within a single subscription's queue;
	// higher values are delivered first.
	Priority uint8

	// GroupID is consulted only for DeliveryGroup channels.
	GroupID uint32

	// Data carries the event's payload. Ownership transfers to the
	// receiver; callers must not mutate Data after Publish returns.
	Data []byte
}

// Filter narrows which events a subscription receives.
type Filter struct {
	// Types, when non-empty, restricts delivery to events whose Type is
	// present in the slice. An empty slice matches every type.
	Types []uint32

	// GroupID is the opaque group tag attached at subscription time; it
	// is consulted only by DeliveryGroup channels.
	GroupID uint32
}

// Matches reports whether evt passes this filter.
func (f Filter) Matches(evt Event) bool {
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == evt.Type {
			return true
		}
	}
	return false
}

var (
	// ErrChannelFull is returned when a subscription queue cannot accept
	// more events (DeliverySubscription channels).
	ErrChannelFull = &kernel.Error{Module: "object", Message: "channel is full"}

	// ErrPeerClosed is returned when the object's peer has gone away: the
	// read end of a pipe has closed, or a subscription has been closed.
	ErrPeerClosed = &kernel.Error{Module: "object", Message: "peer has closed its endpoint"}

	// ErrInvalidState is returned when an operation is attempted against
	// an object in a state that does not permit it (e.g. publishing to a
	// closed channel, or reading from a write-only pipe endpoint).
	ErrInvalidState = &kernel.Error{Module: "object", Message: "object is not in a valid state for this operation"}

	// ErrNotSupported is returned when a capability method is called on
	// an object whose concrete type does not implement the requested
	// behavior.
	ErrNotSupported = &kernel.Error{Module: "object", Message: "operation not supported by this object"}
)
