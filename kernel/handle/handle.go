// Package handle implements the per-task handle table: the indirection
// layer between a small integer a task's ABI hands out to user code and the
// kernel object it refers to.
package handle

import (
	"github.com/petitstrawberry/scarlet/kernel"
	"github.com/petitstrawberry/scarlet/kernel/object"
	"github.com/petitstrawberry/scarlet/kernel/sync"
)

var (
	// ErrInvalidHandle is returned when a handle number does not
	// currently refer to an object.
	ErrInvalidHandle = &kernel.Error{Module: "handle", Message: "invalid handle"}

	// ErrTableExhausted is returned when a task's handle table cannot
	// grow to accommodate a new handle.
	ErrTableExhausted = &kernel.Error{Module: "handle", Message: "handle table exhausted"}

	// maxHandles bounds how large a single task's handle table may grow.
	// Chosen generously; real exhaustion should come from memory pressure
	// rather than this constant in practice.
	maxHandles = 4096
)

// Metadata carries handle-level attributes that are independent of the
// referenced object (so the same object can be attached to two handles with
// different metadata).
type Metadata struct {
	// CloseOnExec, when set, causes the handle to be dropped by
	// execute_binary instead of carried into the new image. Defaults to
	// false: handles survive exec unless a capability-creating operation
	// explicitly opts in.
	CloseOnExec bool
}

// entry is a single occupied or free slot in a Table.
type entry struct {
	obj      object.KernelObject
	metadata Metadata
	used     bool
}

// Table is a task's handle table: a dense slice of (KernelObject, Metadata)
// pairs indexed by handle number, guarded by a spinlock. The zero value is a
// ready-to-use empty table.
type Table struct {
	lock    sync.Spinlock
	entries []entry
	// freeList holds indices of entries that have been removed and can be
	// reused before growing entries.
	freeList []uint32
}

// Insert stores obj under a newly allocated handle number with default
// metadata and returns that number.
func (t *Table) Insert(obj object.KernelObject) (uint32, *kernel.Error) {
	return t.InsertWithMetadata(obj, Metadata{})
}

// InsertWithMetadata stores obj under a newly allocated handle number with
// the given metadata and returns that number.
func (t *Table) InsertWithMetadata(obj object.KernelObject, meta Metadata) (uint32, *kernel.Error) {
	t.lock.Acquire()
	defer t.lock.Release()

	if n := len(t.freeList); n > 0 {
		idx := t.freeList[n-1]
		t.freeList = t.freeList[:n-1]
		t.entries[idx] = entry{obj: obj, metadata: meta, used: true}
		return idx, nil
	}

	if len(t.entries) >= maxHandles {
		return 0, ErrTableExhausted
	}

	t.entries = append(t.entries, entry{obj: obj, metadata: meta, used: true})
	return uint32(len(t.entries) - 1), nil
}

// Get returns the object and metadata stored under h.
func (t *Table) Get(h uint32) (object.KernelObject, Metadata, *kernel.Error) {
	t.lock.Acquire()
	defer t.lock.Release()

	e, err := t.get(h)
	if err != nil {
		return nil, Metadata{}, err
	}
	return e.obj, e.metadata, nil
}

func (t *Table) get(h uint32) (*entry, *kernel.Error) {
	if int(h) >= len(t.entries) || !t.entries[h].used {
		return nil, ErrInvalidHandle
	}
	return &t.entries[h], nil
}

// UpdateMetadata replaces the metadata stored for h without touching the
// referenced object.
func (t *Table) UpdateMetadata(h uint32, meta Metadata) *kernel.Error {
	t.lock.Acquire()
	defer t.lock.Release()

	e, err := t.get(h)
	if err != nil {
		return err
	}
	e.metadata = meta
	return nil
}

// Info describes a handle's current occupant, as reported by GetObjectInfo.
type Info struct {
	Kind     object.Kind
	Metadata Metadata
}

// GetObjectInfo reports the Kind of the object stored under h and its
// metadata, without exposing the object itself.
func (t *Table) GetObjectInfo(h uint32) (Info, *kernel.Error) {
	t.lock.Acquire()
	defer t.lock.Release()

	e, err := t.get(h)
	if err != nil {
		return Info{}, err
	}
	return Info{Kind: e.obj.Kind(), Metadata: e.metadata}, nil
}

// Duplicate installs a second handle referencing the same logical object as
// h. If the object implements object.CloneOps, Clone is invoked to let the
// object participate (e.g. a pipe endpoint bumping its peer count); objects
// that do not implement CloneOps are shared as-is between both handles.
func (t *Table) Duplicate(h uint32) (uint32, *kernel.Error) {
	t.lock.Acquire()
	src, err := t.get(h)
	if err != nil {
		t.lock.Release()
		return 0, err
	}
	obj, meta := src.obj, src.metadata
	t.lock.Release()

	if cloner, ok := object.AsCloneable(obj); ok {
		cloned, err := cloner.Clone()
		if err != nil {
			return 0, err
		}
		obj = cloned
	}

	return t.InsertWithMetadata(obj, meta)
}

// Remove drops handle h, closing the referenced object. Close is expected to
// be idempotent, since CloneOps-duplicated handles may reference the same
// underlying resource and each Remove call triggers its own Close.
func (t *Table) Remove(h uint32) *kernel.Error {
	t.lock.Acquire()
	e, err := t.get(h)
	if err != nil {
		t.lock.Release()
		return err
	}
	obj := e.obj
	*e = entry{}
	t.freeList = append(t.freeList, h)
	t.lock.Release()

	return obj.Close()
}

// RemoveAll drops every handle in the table, in ascending order, used when a
// task exits or execute_binary performs a close-on-exec sweep.
func (t *Table) RemoveAll() {
	t.lock.Acquire()
	n := len(t.entries)
	t.lock.Release()

	for h := uint32(0); h < uint32(n); h++ {
		_ = t.Remove(h)
	}
}

// Fork builds a new Table containing one handle for every occupied slot in
// t, at the same handle numbers, invoking object.CloneOps on each occupant
// exactly as Duplicate does. It is used by clone_task to give a child task
// its own handle table. If cloning any handle fails, Fork closes every
// handle it had already duplicated into the new table and returns the
// error, leaving t untouched.
func (t *Table) Fork() (*Table, *kernel.Error) {
	t.lock.Acquire()
	snapshot := make([]entry, len(t.entries))
	copy(snapshot, t.entries)
	t.lock.Release()

	child := &Table{entries: make([]entry, len(snapshot))}
	for h, e := range snapshot {
		if !e.used {
			child.freeList = append(child.freeList, uint32(h))
			continue
		}

		obj := e.obj
		if cloner, ok := object.AsCloneable(obj); ok {
			cloned, err := cloner.Clone()
			if err != nil {
				child.RemoveAll()
				return nil, err
			}
			obj = cloned
		}

		child.entries[h] = entry{obj: obj, metadata: e.metadata, used: true}
	}

	return child, nil
}

// RemoveCloseOnExec drops every handle whose metadata marks it
// CloseOnExec, leaving the rest of the table untouched. Used by
// execute_binary when building the post-exec handle table.
func (t *Table) RemoveCloseOnExec() {
	t.lock.Acquire()
	n := len(t.entries)
	t.lock.Release()

	for h := uint32(0); h < uint32(n); h++ {
		t.lock.Acquire()
		e, err := t.get(h)
		closeOnExec := err == nil && e.metadata.CloseOnExec
		t.lock.Release()

		if closeOnExec {
			_ = t.Remove(h)
		}
	}
}
