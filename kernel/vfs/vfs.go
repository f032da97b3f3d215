// Package vfs is the kernel's path resolution glue: it turns an ABI's
// open() call into a handle-table entry backed by an object.FileObject.
// The only backing store wired up so far is an in-memory filesystem
// (nothing in the teacher's retrieved pack brings a block device driver or
// an on-disk format); additional backends register against the same Node
// interface.
package vfs

import (
	"strings"

	"github.com/petitstrawberry/scarlet/kernel"
	"github.com/petitstrawberry/scarlet/kernel/object"
	"github.com/petitstrawberry/scarlet/kernel/sync"
)

var (
	// ErrNotFound is returned when a path does not resolve to an
	// existing node and the open request did not ask for creation.
	ErrNotFound = &kernel.Error{Module: "vfs", Message: "no such file"}

	// ErrIsDirectory is returned when an operation that requires a
	// regular file is attempted against a directory node.
	ErrIsDirectory = &kernel.Error{Module: "vfs", Message: "path refers to a directory"}

	// ErrExists is returned by Create when a node already occupies path.
	ErrExists = &kernel.Error{Module: "vfs", Message: "path already exists"}
)

// Node is a single entry in the filesystem tree.
type Node struct {
	lock    sync.Spinlock
	name    string
	dir     bool
	data    []byte
	entries map[string]*Node
}

// FS is a filesystem namespace rooted at a single Node.
type FS struct {
	root *Node
}

// NewFS creates an empty filesystem with a single root directory.
func NewFS() *FS {
	return &FS{root: &Node{name: "/", dir: true, entries: map[string]*Node{}}}
}

func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (fs *FS) resolve(path string, create bool) (*Node, *kernel.Error) {
	segs := splitPath(path)
	node := fs.root
	for i, seg := range segs {
		node.lock.Acquire()
		child, ok := node.entries[seg]
		if !ok {
			if create && i == len(segs)-1 {
				child = &Node{name: seg}
				node.entries[seg] = child
				ok = true
			}
		}
		node.lock.Release()

		if !ok {
			return nil, ErrNotFound
		}
		node = child
	}
	return node, nil
}

// Mkdir creates an empty directory at path, including any missing parent
// directories.
func (fs *FS) Mkdir(path string) *kernel.Error {
	segs := splitPath(path)
	node := fs.root
	for _, seg := range segs {
		node.lock.Acquire()
		child, ok := node.entries[seg]
		if !ok {
			child = &Node{name: seg, dir: true, entries: map[string]*Node{}}
			node.entries[seg] = child
		}
		node.lock.Release()

		if !child.dir {
			return ErrIsDirectory
		}
		node = child
	}
	return nil
}

// Open resolves path to a File handle. If create is true and no node
// exists at path, an empty regular file is created.
func (fs *FS) Open(path string, create bool) (*File, *kernel.Error) {
	node, err := fs.resolve(path, create)
	if err != nil {
		return nil, err
	}
	if node.dir {
		return nil, ErrIsDirectory
	}
	return &File{node: node}, nil
}

// File is an open, seekable handle onto a Node's byte content. It
// implements object.KernelObject and object.FileObject.
//
// File deliberately does not implement object.CloneOps: handle.Table's
// Duplicate then falls back to sharing the same *File value between both
// handles, which is exactly the POSIX dup() semantics the executor and
// foreign ABIs expect (the duplicated handle observes and advances the same
// read/write cursor as the original).
type File struct {
	node *Node
	pos  int64
}

// Kind implements object.KernelObject.
func (f *File) Kind() object.Kind { return object.KindFile }

// Close implements object.KernelObject. Plain in-memory files hold no
// kernel resources beyond the handle table slot itself.
func (f *File) Close() *kernel.Error { return nil }

// Read implements object.StreamOps.
func (f *File) Read(buf []byte) (int, *kernel.Error) {
	f.node.lock.Acquire()
	defer f.node.lock.Release()

	if f.pos >= int64(len(f.node.data)) {
		return 0, nil
	}
	n := copy(buf, f.node.data[f.pos:])
	f.pos += int64(n)
	return n, nil
}

// Write implements object.StreamOps, growing the backing node as needed.
func (f *File) Write(buf []byte) (int, *kernel.Error) {
	f.node.lock.Acquire()
	defer f.node.lock.Release()

	end := f.pos + int64(len(buf))
	if end > int64(len(f.node.data)) {
		grown := make([]byte, end)
		copy(grown, f.node.data)
		f.node.data = grown
	}
	n := copy(f.node.data[f.pos:end], buf)
	f.pos += int64(n)
	return n, nil
}

// Seek implements object.FileObject.
func (f *File) Seek(offset int64, whence int) (int64, *kernel.Error) {
	f.node.lock.Acquire()
	size := int64(len(f.node.data))
	f.node.lock.Release()

	var newPos int64
	switch whence {
	case 0: // io.SeekStart
		newPos = offset
	case 1: // io.SeekCurrent
		newPos = f.pos + offset
	case 2: // io.SeekEnd
		newPos = size + offset
	}
	if newPos < 0 {
		newPos = 0
	}
	f.pos = newPos
	return f.pos, nil
}

// Size implements object.FileObject.
func (f *File) Size() (int64, *kernel.Error) {
	f.node.lock.Acquire()
	defer f.node.lock.Release()
	return int64(len(f.node.data)), nil
}
