// Package pipe implements anonymous, in-kernel byte pipes: a bounded ring
// buffer shared between a read endpoint and a write endpoint, each of which
// is a kernel object reachable through a task's handle table.
package pipe

import (
	"github.com/petitstrawberry/scarlet/kernel"
	"github.com/petitstrawberry/scarlet/kernel/object"
	"github.com/petitstrawberry/scarlet/kernel/sync"
)

// yieldFn is invoked by a blocked Read/Write while it waits for the buffer
// to leave the full/empty state. It is swapped out in tests; the real
// kernel wires it to the scheduler's suspend-and-reschedule primitive once
// kernel/sched owns the current task's Blocked transition.
//
// TODO: replace with sched.Yield once the scheduler exposes a suspension
// point hook for IPC waits.
var yieldFn = func() {}

// DefaultCapacity is used by CreatePair when the caller requests a capacity
// of zero.
const DefaultCapacity = 4096

type ring struct {
	lock    sync.Spinlock
	data    []byte
	start   int
	count   int
	readers int32
	writers int32
}

func (r *ring) free() int { return len(r.data) - r.count }

// Endpoint is one end of a pipe. It implements object.KernelObject,
// object.StreamOps and object.CloneOps.
type Endpoint struct {
	buf      *ring
	readable bool
	writable bool
	closed   bool
}

// CreatePair allocates a new pipe with the given ring buffer capacity (in
// bytes) and returns its read and write endpoints. A non-positive capacity
// is replaced with DefaultCapacity.
func CreatePair(capacity int) (*Endpoint, *Endpoint, *kernel.Error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	buf := &ring{
		data:    make([]byte, capacity),
		readers: 1,
		writers: 1,
	}

	return &Endpoint{buf: buf, readable: true},
		&Endpoint{buf: buf, writable: true},
		nil
}

// Kind implements object.KernelObject.
func (e *Endpoint) Kind() object.Kind { return object.KindPipeEndpoint }

// PeerCount returns the number of live endpoints on the opposite side of the
// pipe from e (i.e. the number of writers if e is a read endpoint, or vice
// versa).
func (e *Endpoint) PeerCount() int32 {
	e.buf.lock.Acquire()
	defer e.buf.lock.Release()

	if e.readable {
		return e.buf.writers
	}
	return e.buf.readers
}

// Close releases e's reference to the shared buffer. Close is idempotent:
// calling it more than once on the same Endpoint value has no further
// effect after the first call.
func (e *Endpoint) Close() *kernel.Error {
	if e.closed {
		return nil
	}
	e.closed = true

	e.buf.lock.Acquire()
	if e.readable {
		e.buf.readers--
	}
	if e.writable {
		e.buf.writers--
	}
	e.buf.lock.Release()

	return nil
}

// Clone implements object.CloneOps: the returned Endpoint shares the same
// ring buffer and bumps the appropriate peer count.
func (e *Endpoint) Clone() (object.KernelObject, *kernel.Error) {
	e.buf.lock.Acquire()
	if e.readable {
		e.buf.readers++
	}
	if e.writable {
		e.buf.writers++
	}
	e.buf.lock.Release()

	return &Endpoint{buf: e.buf, readable: e.readable, writable: e.writable}, nil
}

// Read implements object.StreamOps. A zero-length buf returns (0, nil)
// without blocking. Read blocks while the buffer is empty and at least one
// writer remains open; once every writer has closed, Read on an empty
// buffer returns (0, nil) to signal EOF.
func (e *Endpoint) Read(buf []byte) (int, *kernel.Error) {
	if !e.readable {
		return 0, object.ErrInvalidState
	}
	if len(buf) == 0 {
		return 0, nil
	}

	for {
		e.buf.lock.Acquire()
		if e.buf.count > 0 {
			n := e.buf.count
			if n > len(buf) {
				n = len(buf)
			}
			for i := 0; i < n; i++ {
				buf[i] = e.buf.data[(e.buf.start+i)%len(e.buf.data)]
			}
			e.buf.start = (e.buf.start + n) % len(e.buf.data)
			e.buf.count -= n
			e.buf.lock.Release()
			return n, nil
		}

		eof := e.buf.writers == 0
		e.buf.lock.Release()

		if eof {
			return 0, nil
		}
		yieldFn()
	}
}

// Write implements object.StreamOps. Partial writes are permitted: if the
// buffer cannot accept the entire payload in one pass, Write returns as soon
// as it has accepted at least one byte. Write blocks while the buffer is
// full and at least one reader remains open; once every reader has closed,
// Write returns object.ErrPeerClosed.
func (e *Endpoint) Write(buf []byte) (int, *kernel.Error) {
	if !e.writable {
		return 0, object.ErrInvalidState
	}
	if len(buf) == 0 {
		return 0, nil
	}

	for {
		e.buf.lock.Acquire()
		if e.buf.readers == 0 {
			e.buf.lock.Release()
			return 0, object.ErrPeerClosed
		}

		if free := e.buf.free(); free > 0 {
			n := free
			if n > len(buf) {
				n = len(buf)
			}
			writeAt := (e.buf.start + e.buf.count) % len(e.buf.data)
			for i := 0; i < n; i++ {
				e.buf.data[(writeAt+i)%len(e.buf.data)] = buf[i]
			}
			e.buf.count += n
			e.buf.lock.Release()
			return n, nil
		}
		e.buf.lock.Release()
		yieldFn()
	}
}
